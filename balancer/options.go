// Package balancer implements the couple builder (spec §4.F): selecting
// uncoupled groups into new couples (and their companion LRC groupsets),
// locking them, writing a consistent metakey, and committing the result
// into the cluster state.
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package balancer

import "github.com/v-nikulichev/mastermind/cmn"

// InitState is the couple state a freshly built couple is written in:
// COUPLED (normal) or FROZEN (frozen is baked into the metakey at build
// time, per spec §4.F).
type InitState string

const (
	InitCoupled InitState = cmn.StatusCoupled
	InitFrozen  InitState = cmn.StatusFrozen
)

// CompanionGroupset describes one additional groupset (e.g. LRC-8-2-2)
// to build and attach alongside the primary replicas couple (spec §4.F:
// "groupsets (zero or more companion groupsets with type and settings)").
type CompanionGroupset struct {
	Type     string
	Settings map[string]interface{}
}

// BuildOptions are the couple builder's inputs (spec §4.F).
type BuildOptions struct {
	Size int // desired couple size K
	N    int // number of couples to build

	Namespace         string
	MatchGroupSpace   bool
	InitState         InitState
	MandatoryGroups   [][]int64 // per couple, length <= Size
	Groupsets         []CompanionGroupset
	DryRun            bool
}

// Validate enforces the structural preconditions spec §4.F's pre-flight
// step checks before acquiring any lock.
func (o BuildOptions) Validate() error {
	if o.Size <= 0 {
		return cmn.NewValidationError("couple size must be positive, got %d", o.Size)
	}
	if o.N <= 0 {
		return cmn.NewValidationError("number of couples must be positive, got %d", o.N)
	}
	if o.Namespace == "" {
		return cmn.NewValidationError("namespace is required")
	}
	if o.InitState != InitCoupled && o.InitState != InitFrozen {
		return cmn.NewValidationError("init_state must be COUPLED or FROZEN, got %q", o.InitState)
	}
	if len(o.MandatoryGroups) > 0 && len(o.MandatoryGroups) != o.N {
		return cmn.NewValidationError("mandatory_groups must have exactly one entry per couple (N=%d), got %d", o.N, len(o.MandatoryGroups))
	}
	for _, mg := range o.MandatoryGroups {
		if len(mg) > o.Size {
			return cmn.NewValidationError("mandatory_groups entry has %d groups, exceeding couple size %d", len(mg), o.Size)
		}
	}
	return nil
}
