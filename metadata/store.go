// Package metadata provides the persistence surface for everything the
// cluster model itself does not hold in memory: namespace settings,
// group history, couple build records, and the cache-key index (spec §1,
// §4.F, §4.G).
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package metadata

import (
	"context"
	"time"

	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"

	"github.com/v-nikulichev/mastermind/cmn"
)

// Store is the persistence surface the core writes through for anything
// durable across process restarts. The core models its own live state
// in-memory (package cluster); Store is its write-behind/read-through log,
// mirroring the teacher's split between in-memory cluster.Bck/Bprops and
// the BMD persisted separately.
type Store interface {
	PutNamespaceSettings(ctx context.Context, namespaceID string, settings []byte) error
	GetNamespaceSettings(ctx context.Context, namespaceID string) ([]byte, error)

	AppendGroupHistory(ctx context.Context, groupID int64, coupleID, namespace string, at time.Time) error
	GroupHistory(ctx context.Context, groupID int64) ([]HistoryRecord, error)

	PutCoupleRecord(ctx context.Context, coupleID string, rec CoupleRecord) error
	GetCoupleRecord(ctx context.Context, coupleID string) (CoupleRecord, error)
	RemoveCoupleRecord(ctx context.Context, coupleID string) error

	PutCacheIndexEntry(ctx context.Context, cacheKeyID, coupleID string, entry CacheIndexEntry) error
	CacheIndexEntry(ctx context.Context, cacheKeyID, coupleID string) (CacheIndexEntry, bool, error)
}

type HistoryRecord struct {
	CoupleID  string
	Namespace string
	At        time.Time
}

// CoupleRecord is the durable record of a built couple, keyed by id, used
// to recover group membership across a process restart before the
// cluster state is rebuilt from live storage-session stats.
type CoupleRecord struct {
	ID        string
	GroupIDs  []int64
	Namespace string
	BuildID   string // shortid attempt/transaction id, for audit trails
}

// CacheIndexEntry is one row of the periodic `(cache_key_id, couple_id) ->
// {data_groups, cache_groups}` index spec §4.G names.
type CacheIndexEntry struct {
	DataGroups  []int64
	CacheGroups []int64
}

// BuntStore is the default Store, backed by tidwall/buntdb. Unlike
// lock.BuntLock it is opened against a file path so it actually persists
// across restarts; callers needing a pure in-memory instance for tests
// pass ":memory:".
type BuntStore struct {
	db *buntdb.DB
}

func OpenBuntStore(path string) (*BuntStore, error) {
	db, err := buntdb.Open(path)
	if err != nil {
		return nil, err
	}
	return &BuntStore{db: db}, nil
}

func (s *BuntStore) Close() error { return s.db.Close() }

func nsKey(id string) string           { return "ns/" + id }
func historyKey(groupID int64) string  { return "history/" + formatInt64(groupID) }
func coupleKey(id string) string       { return "couple/" + id }
func cacheKey(cacheKeyID, coupleID string) string { return "cache/" + cacheKeyID + "/" + coupleID }

func (s *BuntStore) PutNamespaceSettings(ctx context.Context, namespaceID string, settings []byte) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(nsKey(namespaceID), string(settings), nil)
		return err
	})
}

func (s *BuntStore) GetNamespaceSettings(ctx context.Context, namespaceID string) ([]byte, error) {
	var v string
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(nsKey(namespaceID))
		if err != nil {
			return err
		}
		v = val
		return nil
	})
	if err == buntdb.ErrNotFound {
		return nil, cmn.NewNotFoundError("namespace_settings", namespaceID)
	}
	if err != nil {
		return nil, cmn.NewTransientError("metadata.GetNamespaceSettings", err)
	}
	return []byte(v), nil
}

// AppendGroupHistory appends one history entry, encoded as a
// "|"-delimited line, to the group's history log key -- a write-once
// append-only log is all spec §3's "group history" supplement needs, and
// buntdb has no native list type to reach for instead.
func (s *BuntStore) AppendGroupHistory(ctx context.Context, groupID int64, coupleID, namespace string, at time.Time) error {
	line := coupleID + "|" + namespace + "|" + at.UTC().Format(time.RFC3339Nano) + "\n"
	return s.db.Update(func(tx *buntdb.Tx) error {
		existing, err := tx.Get(historyKey(groupID))
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		_, _, err = tx.Set(historyKey(groupID), existing+line, nil)
		return err
	})
}

func (s *BuntStore) GroupHistory(ctx context.Context, groupID int64) ([]HistoryRecord, error) {
	var blob string
	err := s.db.View(func(tx *buntdb.Tx) error {
		v, err := tx.Get(historyKey(groupID))
		if err != nil && err != buntdb.ErrNotFound {
			return err
		}
		blob = v
		return nil
	})
	if err != nil {
		return nil, cmn.NewTransientError("metadata.GroupHistory", err)
	}
	return parseHistoryLog(blob), nil
}

func parseHistoryLog(blob string) []HistoryRecord {
	var out []HistoryRecord
	start := 0
	for i := 0; i < len(blob); i++ {
		if blob[i] != '\n' {
			continue
		}
		line := blob[start:i]
		start = i + 1
		if rec, ok := parseHistoryLine(line); ok {
			out = append(out, rec)
		}
	}
	return out
}

func parseHistoryLine(line string) (HistoryRecord, bool) {
	var coupleID, namespace, tsStr string
	parts := splitN(line, '|', 3)
	if len(parts) != 3 {
		return HistoryRecord{}, false
	}
	coupleID, namespace, tsStr = parts[0], parts[1], parts[2]
	at, err := time.Parse(time.RFC3339Nano, tsStr)
	if err != nil {
		return HistoryRecord{}, false
	}
	return HistoryRecord{CoupleID: coupleID, Namespace: namespace, At: at}, true
}

func splitN(s string, sep byte, n int) []string {
	out := make([]string, 0, n)
	start := 0
	for i := 0; i < len(s) && len(out) < n-1; i++ {
		if s[i] == sep {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func (s *BuntStore) PutCoupleRecord(ctx context.Context, coupleID string, rec CoupleRecord) error {
	if rec.BuildID == "" {
		id, err := shortid.Generate()
		if err != nil {
			return cmn.NewTransientError("metadata.PutCoupleRecord: generate build id", err)
		}
		rec.BuildID = id
	}
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(coupleKey(coupleID), encodeCoupleRecord(rec), nil)
		return err
	})
}

func (s *BuntStore) GetCoupleRecord(ctx context.Context, coupleID string) (CoupleRecord, error) {
	var v string
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(coupleKey(coupleID))
		if err != nil {
			return err
		}
		v = val
		return nil
	})
	if err == buntdb.ErrNotFound {
		return CoupleRecord{}, cmn.NewNotFoundError("couple_record", coupleID)
	}
	if err != nil {
		return CoupleRecord{}, cmn.NewTransientError("metadata.GetCoupleRecord", err)
	}
	return decodeCoupleRecord(coupleID, v), nil
}

func (s *BuntStore) RemoveCoupleRecord(ctx context.Context, coupleID string) error {
	err := s.db.Update(func(tx *buntdb.Tx) error {
		_, err := tx.Delete(coupleKey(coupleID))
		return err
	})
	if err == buntdb.ErrNotFound {
		return cmn.NewNotFoundError("couple_record", coupleID)
	}
	if err != nil {
		return cmn.NewTransientError("metadata.RemoveCoupleRecord", err)
	}
	return nil
}

func (s *BuntStore) PutCacheIndexEntry(ctx context.Context, cacheKeyID, coupleID string, entry CacheIndexEntry) error {
	return s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(cacheKey(cacheKeyID, coupleID), encodeCacheIndexEntry(entry), nil)
		return err
	})
}

func (s *BuntStore) CacheIndexEntry(ctx context.Context, cacheKeyID, coupleID string) (CacheIndexEntry, bool, error) {
	var v string
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(cacheKey(cacheKeyID, coupleID))
		if err != nil {
			return err
		}
		v = val
		return nil
	})
	if err == buntdb.ErrNotFound {
		return CacheIndexEntry{}, false, nil
	}
	if err != nil {
		return CacheIndexEntry{}, false, cmn.NewTransientError("metadata.CacheIndexEntry", err)
	}
	return decodeCacheIndexEntry(v), true, nil
}

func formatInt64(v int64) string {
	if v == 0 {
		return "0"
	}
	neg := v < 0
	if neg {
		v = -v
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
