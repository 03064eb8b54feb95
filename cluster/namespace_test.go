package cluster_test

import (
	"testing"

	"github.com/v-nikulichev/mastermind/cluster"
	"github.com/v-nikulichev/mastermind/cmn"
)

func TestValidateSettingsRejectsUnknownKey(t *testing.T) {
	err := cluster.ValidateSettings(map[string]interface{}{"bogus-key": "x"}, nil)
	if !cmn.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}

func TestValidateSettingsSuccessCopiesNum(t *testing.T) {
	if err := cluster.ValidateSettings(map[string]interface{}{"success-copies-num": "quorum"}, nil); err != nil {
		t.Fatalf("expected quorum to be accepted, got %v", err)
	}
	if err := cluster.ValidateSettings(map[string]interface{}{"success-copies-num": "most"}, nil); err == nil {
		t.Fatal("expected an invalid success-copies-num to be rejected")
	}
}

func TestValidateSettingsReservedSpacePercentageRange(t *testing.T) {
	if err := cluster.ValidateSettings(map[string]interface{}{"reserved-space-percentage": 0.1}, nil); err != nil {
		t.Fatalf("expected 0.1 to be accepted, got %v", err)
	}
	if err := cluster.ValidateSettings(map[string]interface{}{"reserved-space-percentage": 1.5}, nil); err == nil {
		t.Fatal("expected an out-of-range reserved-space-percentage to be rejected")
	}
}

func TestValidateSettingsPositiveIntegers(t *testing.T) {
	if err := cluster.ValidateSettings(map[string]interface{}{"groups-count": 3}, nil); err != nil {
		t.Fatalf("expected 3 to be accepted, got %v", err)
	}
	if err := cluster.ValidateSettings(map[string]interface{}{"groups-count": 0}, nil); err == nil {
		t.Fatal("expected groups-count=0 to be rejected")
	}
	if err := cluster.ValidateSettings(map[string]interface{}{"groups-count": -1}, nil); err == nil {
		t.Fatal("expected a negative groups-count to be rejected")
	}
}

func TestValidateSettingsTTLPattern(t *testing.T) {
	if err := cluster.ValidateSettings(map[string]interface{}{"attributes.ttl.minimum": "10s"}, nil); err != nil {
		t.Fatalf("expected 10s to be accepted, got %v", err)
	}
	if err := cluster.ValidateSettings(map[string]interface{}{"attributes.ttl.minimum": "soon"}, nil); err == nil {
		t.Fatal("expected a malformed ttl to be rejected")
	}
	if err := cluster.ValidateSettings(map[string]interface{}{"attributes.ttl.maximum": "0d"}, nil); err == nil {
		t.Fatal("expected a zero-magnitude ttl to be rejected")
	}
}

func TestValidateSettingsSignatureAllOrNone(t *testing.T) {
	complete := map[string]interface{}{
		"signature.token":       "tok",
		"signature.path_prefix": "/prefix",
		"redirect.expire-time":  3600,
	}
	if err := cluster.ValidateSettings(complete, nil); err != nil {
		t.Fatalf("expected all-three to be accepted, got %v", err)
	}
	partial := map[string]interface{}{"signature.token": "tok"}
	if err := cluster.ValidateSettings(partial, nil); err == nil {
		t.Fatal("expected a partial signature group to be rejected")
	}
}

func TestValidateSettingsTTLEnableRequiresCheckForUpdate(t *testing.T) {
	bad := map[string]interface{}{"attributes.ttl.enable": true, "check-for-update": false}
	if err := cluster.ValidateSettings(bad, nil); err == nil {
		t.Fatal("expected ttl.enable with check-for-update=false to be rejected")
	}
	ok := map[string]interface{}{"attributes.ttl.enable": true, "check-for-update": true}
	if err := cluster.ValidateSettings(ok, nil); err != nil {
		t.Fatalf("expected ttl.enable with check-for-update=true to be accepted, got %v", err)
	}
}

func TestValidateSettingsAuthKeysGeneratesSecret(t *testing.T) {
	settings := map[string]interface{}{"auth-keys.read": true}
	if err := cluster.ValidateSettings(settings, nil); err != nil {
		t.Fatalf("ValidateSettings: %v", err)
	}
	secret, _ := settings["auth-keys.read"].(string)
	if secret == "" || secret == "true" {
		t.Fatalf("expected auth-keys.read to be replaced with a generated secret, got %v", settings["auth-keys.read"])
	}
}

func TestValidateSettingsStaticCoupleCallback(t *testing.T) {
	settings := map[string]interface{}{"static-couple": "1001:1002:1003"}
	exists := func(id string) bool { return id == "1001:1002:1003" }
	if err := cluster.ValidateSettings(settings, exists); err != nil {
		t.Fatalf("expected a known static-couple to be accepted, got %v", err)
	}
	if err := cluster.ValidateSettings(settings, func(string) bool { return false }); err == nil {
		t.Fatal("expected an unknown static-couple to be rejected")
	}
}

func TestMergeSettingsDeepMergesUnlessSoftDeleted(t *testing.T) {
	ns := cluster.NewNamespace("img")
	ns.Settings["groups-count"] = 3
	cluster.MergeSettings(ns, map[string]interface{}{"min-units": 1})
	if ns.Settings["groups-count"] != 3 || ns.Settings["min-units"] != 1 {
		t.Fatalf("expected a deep merge, got %+v", ns.Settings)
	}

	ns.SoftDeleted = true
	cluster.MergeSettings(ns, map[string]interface{}{"add-units": 2})
	if ns.SoftDeleted {
		t.Fatal("expected re-creation to clear soft-delete")
	}
	if _, ok := ns.Settings["groups-count"]; ok {
		t.Fatalf("expected re-creation to replace settings wholesale, got %+v", ns.Settings)
	}
	if ns.Settings["add-units"] != 2 {
		t.Fatalf("expected the new settings to be present, got %+v", ns.Settings)
	}
}

func TestMarshalUnmarshalSettingsRoundTrip(t *testing.T) {
	ns := cluster.NewNamespace("img")
	ns.Settings["groups-count"] = float64(3)
	blob, err := cluster.MarshalSettings(ns)
	if err != nil {
		t.Fatalf("MarshalSettings: %v", err)
	}
	out, err := cluster.UnmarshalSettings(blob)
	if err != nil {
		t.Fatalf("UnmarshalSettings: %v", err)
	}
	if out["groups-count"] != float64(3) {
		t.Fatalf("unexpected round trip: %+v", out)
	}

	if _, err := cluster.UnmarshalSettings([]byte("not json")); err == nil {
		t.Fatal("expected malformed JSON to be rejected")
	}
}
