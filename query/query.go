// Package query implements the read-only listings and the mutation
// surface built directly on cluster state: repair, freeze/unfreeze,
// break, and attach-groupset-to-couple (spec §4.G), plus the periodic
// cache-key index rebuild.
/*
 * Copyright (c) 2024, mastermind authors. All rights reserved.
 */
package query

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	cuckoo "github.com/seiflotfy/cuckoofilter"

	"github.com/v-nikulichev/mastermind/cluster"
	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/lock"
	"github.com/v-nikulichev/mastermind/metadata"
)

// Surface bundles the query/mutation operations with their collaborators.
type Surface struct {
	State   *cluster.State
	Storage cluster.StorageSession
	Store   metadata.Store
	Lock    lock.DistributedLock

	Deps cluster.StatusDeps

	RetryAttempts int // metakey-rewrite retry budget; 0 means use a sane default
}

func (s *Surface) retries() int {
	if s.RetryAttempts > 0 {
		return s.RetryAttempts
	}
	return 3
}

// GroupFilter restricts ListGroups (spec §4.G: "filter by state, namespace,
// type, and for groups an in_jobs predicate").
type GroupFilter struct {
	State     string
	Namespace string
	Type      string
	InJobs    map[string]bool // job ids considered "active"; nil disables the predicate
}

func (f GroupFilter) matches(g *cluster.Group) bool {
	if f.State != "" {
		code, _ := g.Status()
		if code != f.State {
			return false
		}
	}
	if f.Namespace != "" {
		meta := g.Meta()
		if meta == nil || meta.Namespace != f.Namespace {
			return false
		}
	}
	if f.Type != "" && g.Type() != f.Type {
		return false
	}
	if f.InJobs != nil {
		if g.ActiveJob == nil || !f.InJobs[g.ActiveJob.JobID] {
			return false
		}
	}
	return true
}

func (s *Surface) ListGroups(filter GroupFilter) []*cluster.Group {
	var out []*cluster.Group
	s.State.Groups.Range(func(_ int64, g *cluster.Group) bool {
		if filter.matches(g) {
			out = append(out, g)
		}
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].GroupID < out[j].GroupID })
	return out
}

// GroupsetFilter restricts ListGroupsets/ListCouples.
type GroupsetFilter struct {
	State     string
	Namespace string
	Type      string // "replicas" or "lrc-8-2-2-v1"; empty means both
}

func (f GroupsetFilter) matches(gs cluster.Groupset) bool {
	if f.Type != "" && gs.Type() != f.Type {
		return false
	}
	if f.State != "" {
		code, _ := gs.Status()
		if code != f.State {
			return false
		}
	}
	if f.Namespace != "" {
		ns := gs.Namespace()
		if ns == nil || ns.ID != f.Namespace {
			return false
		}
	}
	return true
}

func (s *Surface) ListGroupsets(filter GroupsetFilter) []cluster.Groupset {
	var out []cluster.Groupset
	for _, gs := range s.State.Groupsets.Values() {
		if filter.matches(gs) {
			out = append(out, gs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// ListCouples is ListGroupsets restricted to replicas couples.
func (s *Surface) ListCouples(filter GroupsetFilter) []*cluster.ReplicasCouple {
	filter.Type = "replicas"
	var out []*cluster.ReplicasCouple
	for _, gs := range s.ListGroupsets(filter) {
		if c, ok := gs.(*cluster.ReplicasCouple); ok {
			out = append(out, c)
		}
	}
	return out
}

// NamespaceFilter restricts ListNamespaces.
type NamespaceFilter struct {
	IncludeSoftDeleted bool
}

func (s *Surface) ListNamespaces(filter NamespaceFilter) []*cluster.Namespace {
	var out []*cluster.Namespace
	s.State.Namespaces.Range(func(_ string, ns *cluster.Namespace) bool {
		if ns.SoftDeleted && !filter.IncludeSoftDeleted {
			return true
		}
		out = append(out, ns)
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// RepairGroup sets the namespace in gid's meta to forceNamespace (or keeps
// its current namespace when forceNamespace is empty) and rewrites its
// metakey. Only the group's meta changes: the owning groupset's namespace
// and the namespaces' attached-couple lists are left as they are. There is
// no rollback: a failed rewrite leaves the group's in-memory meta
// unchanged while backends written before the failure already hold the
// new metakey, surfaced as a Transient error for the caller to retry
// (spec §4.G).
func (s *Surface) RepairGroup(ctx context.Context, gid int64, forceNamespace string) error {
	g, err := s.State.Groups.Get(gid)
	if err != nil {
		return err
	}
	meta := g.Meta()
	if meta == nil {
		return cmn.NewValidationError("group %d has no meta to repair", gid)
	}
	namespace := meta.Namespace
	if forceNamespace != "" {
		namespace = forceNamespace
	}
	updated := meta.Clone()
	updated.Namespace = namespace

	if err := s.writeMetakeyToGroup(ctx, g, updated); err != nil {
		return cmn.NewTransientError(fmt.Sprintf("RepairGroup(%d)", gid), err)
	}
	g.SetMeta(updated, false)
	g.RecomputeStatusRecursive(ctx, s.Deps)
	return nil
}

// FreezeCouple sets the couple's frozen flag and rewrites every member
// group's metakey, retrying each write (spec §4.G, example 6).
func (s *Surface) FreezeCouple(ctx context.Context, coupleID string) error {
	return s.setFrozen(ctx, coupleID, true)
}

func (s *Surface) UnfreezeCouple(ctx context.Context, coupleID string) error {
	return s.setFrozen(ctx, coupleID, false)
}

func (s *Surface) setFrozen(ctx context.Context, coupleID string, frozen bool) error {
	gs, err := s.State.Groupsets.Get(coupleID)
	if err != nil {
		return err
	}
	couple, ok := gs.(*cluster.ReplicasCouple)
	if !ok {
		return cmn.NewValidationError("%q is not a replicas couple", coupleID)
	}
	couple.Frozen = frozen
	for _, g := range couple.Groups() {
		meta := g.Meta()
		if meta == nil {
			continue
		}
		updated := meta.Clone()
		updated.Frozen = frozen
		if err := s.writeMetakeyWithRetries(ctx, g, updated, s.retries()); err != nil {
			return cmn.NewTransientError(fmt.Sprintf("setFrozen(%s, %v)", coupleID, frozen), err)
		}
		g.SetMeta(updated, false)
	}
	couple.RecomputeStatus(ctx, s.Deps)
	return nil
}

// BreakCouple requires an exact confirmation string of the form
// "Yes, I want to break {good|bad} couple {sorted colon-joined group ids}"
// (spec §4.G, example 5): "good" when the couple's current status is OK,
// "bad" otherwise. It force-refreshes the couple's status before reading
// the qualifier, removes the metakey from every member group with
// retries, resets each group's meta, then destroys the groupset: detaches
// it from its namespace, clears the groupset back-pointer on every member
// group, and re-derives each group's status.
func (s *Surface) BreakCouple(ctx context.Context, gids []int64, confirm string) error {
	sortedIDs := append([]int64(nil), gids...)
	sort.Slice(sortedIDs, func(i, j int) bool { return sortedIDs[i] < sortedIDs[j] })

	coupleID, groups, err := s.resolveCouple(sortedIDs)
	if err != nil {
		return err
	}
	couple := groups[0].Groupset

	couple.RecomputeStatus(ctx, s.Deps)
	qualifier := "bad"
	code, _ := couple.Status()
	if code == cmn.StatusOK {
		qualifier = "good"
	}
	expected := fmt.Sprintf("Yes, I want to break %s couple %s", qualifier, joinIDs(sortedIDs))
	if confirm != expected {
		return cmn.NewValidationError("confirmation string does not match, expected %q", expected)
	}

	for _, g := range groups {
		for _, b := range g.Backends() {
			if err := s.removeMetakeyWithRetries(ctx, b, s.retries()); err != nil {
				return cmn.NewTransientError(fmt.Sprintf("BreakCouple(%s): remove metakey", coupleID), err)
			}
		}
		g.SetMeta(nil, false)
	}
	cluster.DestroyGroupset(couple, s.Deps)
	return s.State.Groupsets.Remove(coupleID)
}

func (s *Surface) resolveCouple(sortedIDs []int64) (string, []*cluster.Group, error) {
	groups := make([]*cluster.Group, len(sortedIDs))
	for i, gid := range sortedIDs {
		g, err := s.State.Groups.Get(gid)
		if err != nil {
			return "", nil, err
		}
		groups[i] = g
	}
	if len(groups) == 0 || groups[0].Groupset == nil {
		return "", nil, cmn.NewValidationError("groups %v do not belong to a couple", sortedIDs)
	}
	return groups[0].Groupset.ID(), groups, nil
}

func joinIDs(ids []int64) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.FormatInt(id, 10)
	}
	return strings.Join(parts, ":")
}

// AttachGroupsetToCouple installs an additional groupset (typically LRC)
// on an existing couple: checks settings, writes the groupset's metakey
// to each of its groups, links each group's Groupset back-pointer, and
// re-derives status. On any failure the metakeys already written for it
// are removed, every member group's meta is restored to its pre-attach
// value, the Groupset back-pointer is cleared on every member group
// (including ones not yet reached, since groupset's constructor links
// them all up front), and each group's status is re-derived (spec §4.G).
func (s *Surface) AttachGroupsetToCouple(ctx context.Context, coupleID string, groupset *cluster.LRCGroupset, settings map[string]interface{}) error {
	gs, err := s.State.Groupsets.Get(coupleID)
	if err != nil {
		cluster.DestroyGroupset(groupset, s.Deps)
		return err
	}
	couple, ok := gs.(*cluster.ReplicasCouple)
	if !ok {
		cluster.DestroyGroupset(groupset, s.Deps)
		return cmn.NewValidationError("%q is not a replicas couple", coupleID)
	}
	if err := cluster.ValidateSettings(settings, nil); err != nil {
		cluster.DestroyGroupset(groupset, s.Deps)
		return err
	}

	schemeIDs := make([]int64, len(groupset.Groups()))
	for i, g := range groupset.Groups() {
		schemeIDs[i] = g.GroupID
	}

	priorMeta := make(map[int64]*cluster.GroupMeta, len(groupset.Groups()))
	for _, g := range groupset.Groups() {
		priorMeta[g.GroupID] = g.Meta()
	}

	var written []*cluster.NodeBackend
	var mutated []*cluster.Group
	for _, g := range groupset.Groups() {
		meta := cluster.ComposeLRCGroupMeta(schemeIDs, groupset.PartSize, groupset.Scheme, couple.Namespace().ID, couple.Frozen)
		blob := cluster.EncodeMetakey(meta)
		for _, b := range g.Backends() {
			if err := s.Storage.WriteMetakey(ctx, b, blob); err != nil {
				for _, w := range written {
					_ = s.Storage.RemoveMetakey(ctx, w)
				}
				for _, mg := range mutated {
					mg.SetMeta(priorMeta[mg.GroupID], false)
				}
				cluster.DestroyGroupset(groupset, s.Deps)
				return cmn.NewTransientError(fmt.Sprintf("AttachGroupsetToCouple(%s): write metakey", coupleID), err)
			}
			written = append(written, b)
		}
		g.SetMeta(meta, false)
		g.Groupset = groupset
		mutated = append(mutated, g)
	}

	s.State.Groupsets.PutLRC(groupset.ID(), groupset)
	couple.LRC = groupset
	groupset.Replicas = couple
	couple.RecomputeStatus(ctx, s.Deps)
	groupset.RecomputeStatus(ctx, s.Deps)
	return nil
}

func (s *Surface) writeMetakeyToGroup(ctx context.Context, g *cluster.Group, meta *cluster.GroupMeta) error {
	return s.writeMetakeyWithRetries(ctx, g, meta, s.retries())
}

func (s *Surface) writeMetakeyWithRetries(ctx context.Context, g *cluster.Group, meta *cluster.GroupMeta, attempts int) error {
	blob := cluster.EncodeMetakey(meta)
	var lastErr error
	for _, b := range g.Backends() {
		lastErr = nil
		for i := 0; i < attempts; i++ {
			if err := s.Storage.WriteMetakey(ctx, b, blob); err != nil {
				lastErr = err
				continue
			}
			lastErr = nil
			break
		}
		if lastErr != nil {
			return lastErr
		}
	}
	return nil
}

func (s *Surface) removeMetakeyWithRetries(ctx context.Context, b *cluster.NodeBackend, attempts int) error {
	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := s.Storage.RemoveMetakey(ctx, b); err != nil {
			lastErr = err
			continue
		}
		return nil
	}
	return lastErr
}

// CacheIndexRebuilder periodically rebuilds the `(cache_key_id,
// couple_id) -> {data_groups, cache_groups}` index from the in-memory
// couples of the cache namespace and writes each entry to the metadata
// store; the store itself is not read during a rebuild. The entries are
// fronted by a cuckoo filter membership sketch so a negative lookup
// short-circuits without touching the store (spec §4.G).
type CacheIndexRebuilder struct {
	State    *cluster.State
	Store    metadata.Store
	Interval time.Duration

	filter *cuckoo.Filter
}

func NewCacheIndexRebuilder(state *cluster.State, store metadata.Store, interval time.Duration) *CacheIndexRebuilder {
	return &CacheIndexRebuilder{
		State:    state,
		Store:    store,
		Interval: interval,
		filter:   cuckoo.NewFilter(1 << 16),
	}
}

// MightHaveCacheEntry is the fast negative-lookup path: false means the
// key definitely has no cached-group entry and the caller can skip the
// metadata.Store round trip entirely.
func (r *CacheIndexRebuilder) MightHaveCacheEntry(cacheKeyID, coupleID string) bool {
	return r.filter.Lookup(cacheIndexFilterKey(cacheKeyID, coupleID))
}

func cacheIndexFilterKey(cacheKeyID, coupleID string) []byte {
	return []byte(cacheKeyID + "/" + coupleID)
}

// Run blocks, rebuilding the index every Interval until ctx is canceled,
// in the teacher's periodic-ticker-goroutine idiom (ec.Manager's
// smap-changed listener, reb's periodic resilver trigger).
func (r *CacheIndexRebuilder) Run(ctx context.Context) {
	ticker := time.NewTicker(r.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.rebuildOnce(ctx)
		}
	}
}

func (r *CacheIndexRebuilder) rebuildOnce(ctx context.Context) {
	for _, gs := range r.State.Groupsets.Values() {
		couple, ok := gs.(*cluster.ReplicasCouple)
		if !ok || couple.Namespace() == nil || couple.Namespace().ID != cmn.CacheNamespace {
			continue
		}
		var dataGroups, cacheGroups []int64
		for _, g := range couple.Groups() {
			if g.Type() == cmn.TypeCache {
				cacheGroups = append(cacheGroups, g.GroupID)
			} else {
				dataGroups = append(dataGroups, g.GroupID)
			}
		}
		cacheKeyID := couple.ID()
		entry := metadata.CacheIndexEntry{DataGroups: dataGroups, CacheGroups: cacheGroups}
		if err := r.Store.PutCacheIndexEntry(ctx, cacheKeyID, couple.ID(), entry); err != nil {
			cmn.LogWarningf("query: cache index rebuild failed for %s: %v", couple.ID(), err)
			continue
		}
		r.filter.InsertUnique(cacheIndexFilterKey(cacheKeyID, couple.ID()))
	}
}
