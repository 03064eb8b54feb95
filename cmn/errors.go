// Package cmn provides common constants, types, and utilities shared across
// the mastermind control-plane core.
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package cmn

import (
	"fmt"

	"github.com/pkg/errors"
)

// Error kinds, per spec: NotFound, Validation, LockBusy, Transient,
// Inconsistency, CacheUpstreamError. Each is a distinct type so callers can
// branch with errors.As; none of them are retried automatically except by
// the specific collaborators documented in each package.
type (
	ErrNotFound struct {
		Resource string
		Key      string
	}

	ErrValidation struct {
		Msg string
	}

	ErrLockBusy struct {
		LockID string
	}

	ErrTransient struct {
		Op  string
		Err error
	}

	ErrInconsistency struct {
		Msg         string
		OrphanGroup []int64
	}

	ErrCacheUpstream struct {
		Err error
	}
)

func (e *ErrNotFound) Error() string {
	return fmt.Sprintf("%s %q is not found", e.Resource, e.Key)
}

func (e *ErrValidation) Error() string { return e.Msg }

func (e *ErrLockBusy) Error() string {
	return fmt.Sprintf("lock %q is already acquired", e.LockID)
}

func (e *ErrTransient) Error() string {
	return fmt.Sprintf("%s: transient failure: %v", e.Op, e.Err)
}
func (e *ErrTransient) Unwrap() error { return e.Err }

func (e *ErrInconsistency) Error() string {
	if len(e.OrphanGroup) == 0 {
		return e.Msg
	}
	return fmt.Sprintf("%s (orphan groups: %v)", e.Msg, e.OrphanGroup)
}

func (e *ErrCacheUpstream) Error() string {
	return fmt.Sprintf("inventory lookup failed: %v", e.Err)
}
func (e *ErrCacheUpstream) Unwrap() error { return e.Err }

func NewNotFoundError(resource, key string) error {
	return errors.WithStack(&ErrNotFound{Resource: resource, Key: key})
}

func NewValidationError(format string, a ...interface{}) error {
	return errors.WithStack(&ErrValidation{Msg: fmt.Sprintf(format, a...)})
}

func NewLockBusyError(lockID string) error {
	return errors.WithStack(&ErrLockBusy{LockID: lockID})
}

func NewTransientError(op string, cause error) error {
	return errors.WithStack(&ErrTransient{Op: op, Err: cause})
}

func NewInconsistencyError(orphans []int64, format string, a ...interface{}) error {
	return errors.WithStack(&ErrInconsistency{Msg: fmt.Sprintf(format, a...), OrphanGroup: orphans})
}

func NewCacheUpstreamError(cause error) error {
	return errors.WithStack(&ErrCacheUpstream{Err: cause})
}

func IsNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e *ErrValidation
	return errors.As(err, &e)
}

func IsLockBusy(err error) bool {
	var e *ErrLockBusy
	return errors.As(err, &e)
}

func IsTransient(err error) bool {
	var e *ErrTransient
	return errors.As(err, &e)
}
