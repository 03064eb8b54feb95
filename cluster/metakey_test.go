package cluster_test

import (
	"testing"

	"github.com/tinylib/msgp/msgp"

	"github.com/v-nikulichev/mastermind/cluster"
	"github.com/v-nikulichev/mastermind/cmn"
)

func TestEncodeParseMetakeyRoundTrip(t *testing.T) {
	meta := &cluster.GroupMeta{
		Version:   cmn.MetaVersion,
		Type:      cmn.TypeData,
		Namespace: "img",
		Couple:    []int64{1001, 1002, 1003},
		Frozen:    true,
	}

	blob := cluster.EncodeMetakey(meta)
	got, err := cluster.ParseMetakey(blob)
	if err != nil {
		t.Fatalf("ParseMetakey: %v", err)
	}
	if got.Version != meta.Version || got.Type != meta.Type || got.Namespace != meta.Namespace || got.Frozen != meta.Frozen {
		t.Fatalf("round trip mismatch: got %+v, want %+v", got, meta)
	}
	if len(got.Couple) != 3 || got.Couple[0] != 1001 || got.Couple[2] != 1003 {
		t.Fatalf("unexpected couple: %v", got.Couple)
	}
}

func TestParseMetakeyEmptyIsNil(t *testing.T) {
	got, err := cluster.ParseMetakey(nil)
	if err != nil {
		t.Fatalf("ParseMetakey(nil): %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil meta for empty metakey, got %+v", got)
	}
	got, err = cluster.ParseMetakey([]byte{})
	if err != nil || got != nil {
		t.Fatalf("ParseMetakey([]byte{}): got %+v, err %v", got, err)
	}
}

func TestParseMetakeyLegacyBareTuple(t *testing.T) {
	var raw []byte
	raw = msgp.AppendArrayHeader(raw, 3)
	raw = msgp.AppendInt64(raw, 1003)
	raw = msgp.AppendInt64(raw, 1001)
	raw = msgp.AppendInt64(raw, 1002)

	got, err := cluster.ParseMetakey(raw)
	if err != nil {
		t.Fatalf("ParseMetakey(legacy): %v", err)
	}
	if got.Version != cmn.MetaVersionLegacy {
		t.Fatalf("expected legacy version, got %d", got.Version)
	}
	if got.Namespace != cmn.DefaultNamespace {
		t.Fatalf("expected default namespace, got %q", got.Namespace)
	}
	if len(got.Couple) != 3 || got.Couple[0] != 1001 || got.Couple[1] != 1002 || got.Couple[2] != 1003 {
		t.Fatalf("expected couple ids sorted, got %v", got.Couple)
	}
}

func TestEncodeParseMetakeyWithLRCAndService(t *testing.T) {
	meta := &cluster.GroupMeta{
		Version:   cmn.MetaVersion,
		Type:      cmn.TypeData,
		Namespace: "img",
		Service:   &cluster.ServiceInfo{Status: "MIGRATING", JobID: "job-1"},
		LRC:       &cluster.LRCInfo{Groups: []int64{2000, 2001, 2002}, PartSize: 4 << 20, Scheme: "lrc-8-2-2-v1"},
		LRCGroups: []int64{2000, 2001, 2002, 2003},
	}

	blob := cluster.EncodeMetakey(meta)
	got, err := cluster.ParseMetakey(blob)
	if err != nil {
		t.Fatalf("ParseMetakey: %v", err)
	}
	if got.Service == nil || got.Service.Status != "MIGRATING" || got.Service.JobID != "job-1" {
		t.Fatalf("unexpected service info: %+v", got.Service)
	}
	if got.LRC == nil || got.LRC.Scheme != "lrc-8-2-2-v1" || got.LRC.PartSize != 4<<20 || len(got.LRC.Groups) != 3 {
		t.Fatalf("unexpected lrc info: %+v", got.LRC)
	}
	if len(got.LRCGroups) != 4 {
		t.Fatalf("unexpected lrc groups: %v", got.LRCGroups)
	}
}

func TestParseMetakeyCorruptEnvelope(t *testing.T) {
	blob := cluster.EncodeMetakey(&cluster.GroupMeta{Version: cmn.MetaVersion, Namespace: "img"})
	blob[len(blob)-1] ^= 0xFF // flip a payload byte to break the checksum
	if _, err := cluster.ParseMetakey(blob); err == nil {
		t.Fatal("expected a validation error for a corrupted metakey")
	}
}
