// Package lock provides the distributed locking primitives the couple
// builder depends on: a cluster-wide lock and per-group locks, both
// acquired non-blockingly (spec §1, §4.F, §6).
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package lock

import (
	"context"
	"time"

	"github.com/teris-io/shortid"
	"github.com/tidwall/buntdb"

	"github.com/v-nikulichev/mastermind/cmn"
)

// Handle is the fencing token returned by a successful TryAcquire,
// mirroring the teacher's NLP (cmn.Bck.NLP: Lock/TryLock/TryRLock/Unlock)
// generalized to a network-visible lock service: the token lets Release
// verify it is releasing the lock it actually holds, not one re-acquired
// by someone else after an expiry.
type Handle struct {
	LockID string
	Token  string
}

// DistributedLock is satisfied by any lock service that can grant a
// persistent, non-blocking, named lock: acquisition either succeeds
// immediately or fails with cmn.ErrLockBusy, never blocks waiting for the
// holder to release (spec §4.F: "acquire the cluster-wide lock
// non-blockingly (fail fast otherwise)").
type DistributedLock interface {
	TryAcquire(ctx context.Context, lockID string) (Handle, error)
	Release(ctx context.Context, h Handle) error
}

// BuntLock is the default DistributedLock, backed by an in-memory
// tidwall/buntdb store. It gives tests and single-process deployments the
// same "persistent until released or expired" semantics spec §4.F
// requires without standing up a real network lock service.
type BuntLock struct {
	db  *buntdb.DB
	ttl time.Duration
}

// NewBuntLock opens an in-memory buntdb-backed lock store. ttl is the
// expiry applied to every granted lock; a lock older than ttl is treated
// as abandoned and can be re-acquired.
func NewBuntLock(ttl time.Duration) (*BuntLock, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	if ttl <= 0 {
		ttl = cmn.DefaultWaitTimeout
	}
	return &BuntLock{db: db, ttl: ttl}, nil
}

func (l *BuntLock) Close() error { return l.db.Close() }

// TryAcquire is a non-blocking Get-then-Set guarded by buntdb's own
// transaction serialization: the whole check-then-set happens inside one
// buntdb.Update, so two concurrent TryAcquire calls for the same lockID
// can never both observe the lock as free.
func (l *BuntLock) TryAcquire(ctx context.Context, lockID string) (Handle, error) {
	token, err := shortid.Generate()
	if err != nil {
		return Handle{}, cmn.NewTransientError("lock.TryAcquire: generate token", err)
	}

	var granted bool
	err = l.db.Update(func(tx *buntdb.Tx) error {
		if _, err := tx.Get(lockID); err == nil {
			return nil // held and unexpired
		} else if err != buntdb.ErrNotFound {
			return err
		}
		opts := &buntdb.SetOptions{Expires: true, TTL: l.ttl}
		if _, _, err := tx.Set(lockID, token, opts); err != nil {
			return err
		}
		granted = true
		return nil
	})
	if err != nil {
		return Handle{}, cmn.NewTransientError("lock.TryAcquire", err)
	}
	if !granted {
		return Handle{}, cmn.NewLockBusyError(lockID)
	}
	return Handle{LockID: lockID, Token: token}, nil
}

// Release removes the lock, but only if it still holds the fencing token
// this handle was granted -- a lock that expired and was re-acquired by
// someone else must not be released out from under them.
func (l *BuntLock) Release(ctx context.Context, h Handle) error {
	err := l.db.Update(func(tx *buntdb.Tx) error {
		v, err := tx.Get(h.LockID)
		if err == buntdb.ErrNotFound {
			return nil // already gone (expired or already released)
		}
		if err != nil {
			return err
		}
		if v != h.Token {
			return nil // re-acquired by someone else; not ours to release
		}
		_, err = tx.Delete(h.LockID)
		return err
	})
	if err != nil {
		return cmn.NewTransientError("lock.Release", err)
	}
	return nil
}

// AcquireMany tries every lockID in order and collects the ids that
// failed; if any failed, it releases every lock it did acquire and
// returns (nil, failed), otherwise (granted, nil) -- the builder's
// retry-by-exclusion relies on this partial-failure shape (spec §4.F:
// "if some acquisitions fail, remove those groups from consideration,
// release the successful ones, and retry").
func AcquireMany(ctx context.Context, l DistributedLock, lockIDs []string) (granted []Handle, failed []string) {
	for _, id := range lockIDs {
		h, err := l.TryAcquire(ctx, id)
		if err != nil {
			failed = append(failed, id)
			continue
		}
		granted = append(granted, h)
	}
	if len(failed) > 0 {
		ReleaseAll(ctx, l, granted)
		return nil, failed
	}
	return granted, nil
}

// ReleaseAll releases every handle, logging (rather than failing on) any
// individual release error -- spec §4.F: "release failure ... is logged
// as a non-fatal inconsistency and surfaces a warning."
func ReleaseAll(ctx context.Context, l DistributedLock, handles []Handle) {
	for _, h := range handles {
		if err := l.Release(ctx, h); err != nil {
			cmn.LogWarningf("lock: failed to release %s: %v", h.LockID, err)
		}
	}
}
