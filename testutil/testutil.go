// Package testutil provides in-memory fakes for the collaborators the
// core codes against: an inventory lookup, a storage session, a metadata
// store, and a clock, so package tests don't need a live cluster, an
// elliptics session, or a real persistence backend (spec §1, §6).
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package testutil

import (
	"context"
	"sync"
	"time"

	"github.com/v-nikulichev/mastermind/cluster"
	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/metadata"
)

// FakeInventory is a scriptable cluster.InventoryLookup: addresses are
// registered up front via Set, and any unregistered address errors.
type FakeInventory struct {
	mtx     sync.RWMutex
	names   map[string]string
	parents map[string]cluster.ParentTree
	dcs     map[string]string
}

func NewFakeInventory() *FakeInventory {
	return &FakeInventory{
		names:   make(map[string]string),
		parents: make(map[string]cluster.ParentTree),
		dcs:     make(map[string]string),
	}
}

// Set registers addr's hostname, topology parent tree, and DC in one call,
// the common case in tests that don't care about inventory granularity.
func (f *FakeInventory) Set(addr, hostname string, tree cluster.ParentTree) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.names[addr] = hostname
	f.parents[addr] = tree
	if dc, ok := tree[cluster.DCNodeType]; ok {
		f.dcs[addr] = dc
	}
}

func (f *FakeInventory) Hostname(ctx context.Context, addr string) (string, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	n, ok := f.names[addr]
	if !ok {
		return "", cmn.NewNotFoundError("inventory_hostname", addr)
	}
	return n, nil
}

func (f *FakeInventory) ParentTree(ctx context.Context, addr string) (cluster.ParentTree, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	p, ok := f.parents[addr]
	if !ok {
		return nil, cmn.NewNotFoundError("inventory_parent_tree", addr)
	}
	return p, nil
}

func (f *FakeInventory) DC(ctx context.Context, addr string) (string, error) {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	dc, ok := f.dcs[addr]
	if !ok {
		return "", cmn.NewNotFoundError("inventory_dc", addr)
	}
	return dc, nil
}

// FakeStorage is an in-memory cluster.StorageSession keyed by backend key.
// FailNext lets a test inject exactly one failure on the next call to any
// of the three methods, for exercising retry and rollback paths.
type FakeStorage struct {
	mtx      sync.Mutex
	metakeys map[string][]byte

	failNext error
}

func NewFakeStorage() *FakeStorage {
	return &FakeStorage{metakeys: make(map[string][]byte)}
}

func (f *FakeStorage) FailNext(err error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.failNext = err
}

func (f *FakeStorage) takeFailure() error {
	err := f.failNext
	f.failNext = nil
	return err
}

func (f *FakeStorage) ReadMetakey(ctx context.Context, b *cluster.NodeBackend) ([]byte, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if err := f.takeFailure(); err != nil {
		return nil, err
	}
	blob, ok := f.metakeys[b.Key()]
	if !ok {
		return nil, &cluster.ErrEmptyMetakey{BackendKey: b.Key()}
	}
	return blob, nil
}

func (f *FakeStorage) WriteMetakey(ctx context.Context, b *cluster.NodeBackend, blob []byte) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	cp := append([]byte(nil), blob...)
	f.metakeys[b.Key()] = cp
	return nil
}

func (f *FakeStorage) RemoveMetakey(ctx context.Context, b *cluster.NodeBackend) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if err := f.takeFailure(); err != nil {
		return err
	}
	delete(f.metakeys, b.Key())
	return nil
}

// FakeStore is an in-memory metadata.Store.
type FakeStore struct {
	mtx       sync.Mutex
	nsSettings map[string][]byte
	history    map[int64][]metadata.HistoryRecord
	couples    map[string]metadata.CoupleRecord
	cache      map[string]metadata.CacheIndexEntry
}

func NewFakeStore() *FakeStore {
	return &FakeStore{
		nsSettings: make(map[string][]byte),
		history:    make(map[int64][]metadata.HistoryRecord),
		couples:    make(map[string]metadata.CoupleRecord),
		cache:      make(map[string]metadata.CacheIndexEntry),
	}
}

func (f *FakeStore) PutNamespaceSettings(ctx context.Context, namespaceID string, settings []byte) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.nsSettings[namespaceID] = append([]byte(nil), settings...)
	return nil
}

func (f *FakeStore) GetNamespaceSettings(ctx context.Context, namespaceID string) ([]byte, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	v, ok := f.nsSettings[namespaceID]
	if !ok {
		return nil, cmn.NewNotFoundError("namespace_settings", namespaceID)
	}
	return v, nil
}

func (f *FakeStore) AppendGroupHistory(ctx context.Context, groupID int64, coupleID, namespace string, at time.Time) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.history[groupID] = append(f.history[groupID], metadata.HistoryRecord{CoupleID: coupleID, Namespace: namespace, At: at})
	return nil
}

func (f *FakeStore) GroupHistory(ctx context.Context, groupID int64) ([]metadata.HistoryRecord, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	return append([]metadata.HistoryRecord(nil), f.history[groupID]...), nil
}

func (f *FakeStore) PutCoupleRecord(ctx context.Context, coupleID string, rec metadata.CoupleRecord) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if rec.BuildID == "" {
		rec.BuildID = "fake-build-id"
	}
	f.couples[coupleID] = rec
	return nil
}

func (f *FakeStore) GetCoupleRecord(ctx context.Context, coupleID string) (metadata.CoupleRecord, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	rec, ok := f.couples[coupleID]
	if !ok {
		return metadata.CoupleRecord{}, cmn.NewNotFoundError("couple_record", coupleID)
	}
	return rec, nil
}

func (f *FakeStore) RemoveCoupleRecord(ctx context.Context, coupleID string) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	if _, ok := f.couples[coupleID]; !ok {
		return cmn.NewNotFoundError("couple_record", coupleID)
	}
	delete(f.couples, coupleID)
	return nil
}

func (f *FakeStore) PutCacheIndexEntry(ctx context.Context, cacheKeyID, coupleID string, entry metadata.CacheIndexEntry) error {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.cache[cacheKeyID+"/"+coupleID] = entry
	return nil
}

func (f *FakeStore) CacheIndexEntry(ctx context.Context, cacheKeyID, coupleID string) (metadata.CacheIndexEntry, bool, error) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	e, ok := f.cache[cacheKeyID+"/"+coupleID]
	return e, ok, nil
}

// FakeClock is a settable time source for tests exercising staleness
// windows and status TTLs without sleeping.
type FakeClock struct {
	mtx sync.Mutex
	now time.Time
}

func NewFakeClock(start time.Time) *FakeClock {
	return &FakeClock{now: start}
}

func (c *FakeClock) Now() time.Time {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	return c.now
}

func (c *FakeClock) Advance(d time.Duration) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	c.now = c.now.Add(d)
}
