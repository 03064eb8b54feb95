package cluster

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"

	jsoniter "github.com/json-iterator/go"

	"github.com/v-nikulichev/mastermind/cmn"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// Namespace groups couples under one set of storage-policy settings (spec
// §3, §4.E). Settings are a free-form document restricted to a closed key
// whitelist.
type Namespace struct {
	ID          string
	Settings    map[string]interface{}
	SoftDeleted bool

	couples []string // attached couple ids
}

func NewNamespace(id string) *Namespace {
	return &Namespace{ID: id, Settings: map[string]interface{}{}}
}

func (ns *Namespace) HasSettings() bool { return len(ns.Settings) > 0 }

func (ns *Namespace) AttachCouple(coupleID string) {
	for _, c := range ns.couples {
		if c == coupleID {
			return
		}
	}
	ns.couples = append(ns.couples, coupleID)
}

func (ns *Namespace) Couples() []string { return append([]string(nil), ns.couples...) }

// DetachCouple removes coupleID from the namespace's attached-couple list;
// a no-op if it is not present.
func (ns *Namespace) DetachCouple(coupleID string) {
	for i, c := range ns.couples {
		if c == coupleID {
			ns.couples = append(ns.couples[:i], ns.couples[i+1:]...)
			return
		}
	}
}

// settingsWhitelist is the closed key set of spec §4.E.
var settingsWhitelist = map[string]bool{
	"success-copies-num":                             true,
	"groups-count":                                   true,
	"static-couple":                                  true,
	"auth-keys.read":                                 true,
	"auth-keys.write":                                true,
	"signature.token":                                true,
	"signature.path_prefix":                          true,
	"redirect.content-length-threshold":              true,
	"redirect.expire-time":                           true,
	"redirect.query-args":                            true,
	"redirect.add-orig-path-query-arg":                true,
	"min-units":                                      true,
	"add-units":                                       true,
	"features":                                        true,
	"reserved-space-percentage":                       true,
	"check-for-update":                                true,
	"attributes.filename":                             true,
	"attributes.ttl.enable":                           true,
	"attributes.ttl.minimum":                          true,
	"attributes.ttl.maximum":                          true,
	"__service.is_deleted":                            true,
}

var ttlPattern = regexp.MustCompile(`^(\d+)([smhd])$`)

var validSuccessCopies = map[string]bool{"any": true, "quorum": true, "all": true}

// ValidateSettings enforces spec §4.E's full rule set against a flattened
// settings document (dotted keys, e.g. "attributes.ttl.minimum").
//
// staticCoupleExists is a callback resolving whether a named couple exists,
// is fully enumerated, and belongs to a single namespace -- the check
// needs the live cluster state, which this package does not itself own.
func ValidateSettings(settings map[string]interface{}, staticCoupleExists func(coupleID string) bool) error {
	for key := range settings {
		if !settingsWhitelist[key] {
			return cmn.NewValidationError("unknown namespace setting %q", key)
		}
	}

	if v, ok := settings["success-copies-num"]; ok {
		s, _ := v.(string)
		if !validSuccessCopies[s] {
			return cmn.NewValidationError("success-copies-num must be one of any/quorum/all, got %v", v)
		}
	}

	if v, ok := settings["reserved-space-percentage"]; ok {
		f, ok := asFloat(v)
		if !ok || f < 0 || f > 1 {
			return cmn.NewValidationError("reserved-space-percentage must be in [0,1], got %v", v)
		}
	}

	for _, key := range []string{"groups-count", "min-units", "add-units", "redirect.content-length-threshold", "redirect.expire-time"} {
		if v, ok := settings[key]; ok {
			n, ok := asInt(v)
			if !ok || n <= 0 {
				return cmn.NewValidationError("%s must be a positive integer, got %v", key, v)
			}
		}
	}

	for _, key := range []string{"attributes.ttl.minimum", "attributes.ttl.maximum"} {
		if v, ok := settings[key]; ok {
			s, _ := v.(string)
			m := ttlPattern.FindStringSubmatch(s)
			if m == nil {
				return cmn.NewValidationError("%s must match ^\\d+[smhd]$, got %v", key, v)
			}
			if n, _ := asInt(m[1]); n <= 0 {
				return cmn.NewValidationError("%s magnitude must be positive, got %v", key, v)
			}
		}
	}

	_, tokenSet := settings["signature.token"]
	_, prefixSet := settings["signature.path_prefix"]
	_, expireSet := settings["redirect.expire-time"]
	if (tokenSet || prefixSet || expireSet) && !(tokenSet && prefixSet && expireSet) {
		return cmn.NewValidationError("signature.token, signature.path_prefix and redirect.expire-time must be set all-or-none")
	}

	if v, ok := settings["attributes.ttl.enable"]; ok {
		enabled, _ := v.(bool)
		if cfu, ok := settings["check-for-update"]; ok {
			if enabled && cfu == false {
				return cmn.NewValidationError("attributes.ttl.enable is incompatible with check-for-update=false")
			}
		}
	}

	for _, key := range []string{"auth-keys.read", "auth-keys.write"} {
		if v, ok := settings[key]; ok {
			if b, isBool := v.(bool); isBool && b {
				secret, err := randomHexSecret(16)
				if err != nil {
					return cmn.NewValidationError("could not generate auth-keys secret: %v", err)
				}
				settings[key] = secret
			}
		}
	}

	if v, ok := settings["static-couple"]; ok {
		coupleID, _ := v.(string)
		if coupleID == "" || staticCoupleExists == nil || !staticCoupleExists(coupleID) {
			return cmn.NewValidationError("static-couple %q does not name an existing, fully enumerated, single-namespace couple", coupleID)
		}
	}

	return nil
}

func randomHexSecret(nchars int) (string, error) {
	buf := make([]byte, nchars/2)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	}
	return 0, false
}

func asInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int64:
		return n, true
	case int:
		return int64(n), true
	case float64:
		return int64(n), true
	case string:
		var parsed int64
		if _, err := fmt.Sscanf(n, "%d", &parsed); err != nil {
			return 0, false
		}
		return parsed, true
	}
	return 0, false
}

// MergeSettings applies spec §4.E's update semantics: deep merge, except
// when overwriting a soft-deleted namespace (re-creation), where the new
// settings replace the old wholesale rather than merging into them.
func MergeSettings(ns *Namespace, incoming map[string]interface{}) {
	if ns.SoftDeleted {
		ns.Settings = incoming
		ns.SoftDeleted = false
		return
	}
	for k, v := range incoming {
		ns.Settings[k] = v
	}
}

// MarshalSettings encodes a namespace's settings document with jsoniter,
// matching the teacher's faster-than-encoding/json round-tripping of
// free-form config-like documents.
func MarshalSettings(ns *Namespace) ([]byte, error) {
	return jsonAPI.Marshal(ns.Settings)
}

func UnmarshalSettings(data []byte) (map[string]interface{}, error) {
	var out map[string]interface{}
	if err := jsonAPI.Unmarshal(data, &out); err != nil {
		return nil, cmn.NewValidationError("malformed namespace settings document: %v", err)
	}
	return out, nil
}
