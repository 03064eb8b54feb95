package lock_test

import (
	"context"
	"testing"
	"time"

	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/lock"
)

func TestTryAcquireAndRelease(t *testing.T) {
	l, err := lock.NewBuntLock(time.Minute)
	if err != nil {
		t.Fatalf("NewBuntLock: %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	h, err := l.TryAcquire(ctx, "grp-1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if h.LockID != "grp-1" || h.Token == "" {
		t.Fatalf("unexpected handle: %+v", h)
	}

	if _, err := l.TryAcquire(ctx, "grp-1"); !cmn.IsLockBusy(err) {
		t.Fatalf("expected ErrLockBusy on a held lock, got %v", err)
	}

	if err := l.Release(ctx, h); err != nil {
		t.Fatalf("Release: %v", err)
	}

	if _, err := l.TryAcquire(ctx, "grp-1"); err != nil {
		t.Fatalf("expected re-acquire after release to succeed, got %v", err)
	}
}

func TestReleaseIgnoresStaleToken(t *testing.T) {
	l, err := lock.NewBuntLock(time.Minute)
	if err != nil {
		t.Fatalf("NewBuntLock: %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	h1, err := l.TryAcquire(ctx, "grp-1")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}
	if err := l.Release(ctx, h1); err != nil {
		t.Fatalf("Release: %v", err)
	}
	h2, err := l.TryAcquire(ctx, "grp-1")
	if err != nil {
		t.Fatalf("TryAcquire (second holder): %v", err)
	}

	// h1 is stale now; releasing it must not drop h2's lock.
	if err := l.Release(ctx, h1); err != nil {
		t.Fatalf("stale Release: %v", err)
	}
	if _, err := l.TryAcquire(ctx, "grp-1"); !cmn.IsLockBusy(err) {
		t.Fatalf("expected grp-1 to still be held by h2, got %v", err)
	}

	if err := l.Release(ctx, h2); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

func TestAcquireManyPartialFailureReleasesAll(t *testing.T) {
	l, err := lock.NewBuntLock(time.Minute)
	if err != nil {
		t.Fatalf("NewBuntLock: %v", err)
	}
	defer l.Close()
	ctx := context.Background()

	// Pre-hold one of the three ids so AcquireMany must fail partway through.
	held, err := l.TryAcquire(ctx, "grp-2")
	if err != nil {
		t.Fatalf("TryAcquire: %v", err)
	}

	granted, failed, err := acquireMany(ctx, l, []string{"grp-1", "grp-2", "grp-3"})
	if err == nil {
		t.Fatalf("expected an error when one id is already held")
	}
	if len(granted) != 0 {
		t.Fatalf("expected no handles returned on partial failure, got %d", len(granted))
	}
	if len(failed) != 1 || failed[0] != "grp-2" {
		t.Fatalf("expected only grp-2 to be reported failed, got %v", failed)
	}

	// grp-1 and grp-3 must have been released, not left dangling.
	for _, id := range []string{"grp-1", "grp-3"} {
		h, err := l.TryAcquire(ctx, id)
		if err != nil {
			t.Fatalf("expected %s to be free after rollback, got %v", id, err)
		}
		if err := l.Release(ctx, h); err != nil {
			t.Fatalf("Release: %v", err)
		}
	}

	if err := l.Release(ctx, held); err != nil {
		t.Fatalf("Release: %v", err)
	}
}

// acquireMany adapts lock.AcquireMany's (granted, failed) return to also
// surface whether anything failed, since the package function signals
// failure via a nil granted slice rather than a separate error.
func acquireMany(ctx context.Context, l lock.DistributedLock, ids []string) ([]lock.Handle, []string, error) {
	granted, failed := lock.AcquireMany(ctx, l, ids)
	if len(failed) > 0 {
		return granted, failed, cmn.NewLockBusyError(failed[0])
	}
	return granted, failed, nil
}
