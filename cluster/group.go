package cluster

import (
	"context"
	"sort"
	"time"

	"github.com/v-nikulichev/mastermind/cmn"
)

// GroupMeta is the parsed form of the group metakey (spec §6). One struct
// covers all three wire shapes (DataGroupMeta, CacheGroupMeta,
// UncoupledLrcMeta); which fields are populated depends on Type.
type GroupMeta struct {
	Version   int
	Type      string
	Namespace string
	Couple    []int64
	Frozen    bool

	Service *ServiceInfo
	LRC     *LRCInfo

	// LRCGroups is populated only for UncoupledLrcMeta (type
	// uncoupled_lrc-8-2-2-v1): the 12-tuple of sibling groups.
	LRCGroups []int64
}

type ServiceInfo struct {
	Status string // "MIGRATING"
	JobID  string
}

type LRCInfo struct {
	Groups   []int64
	PartSize int64
	Scheme   string
}

func (m *GroupMeta) Clone() *GroupMeta {
	if m == nil {
		return nil
	}
	c := *m
	c.Couple = append([]int64(nil), m.Couple...)
	c.LRCGroups = append([]int64(nil), m.LRCGroups...)
	if m.Service != nil {
		svc := *m.Service
		c.Service = &svc
	}
	if m.LRC != nil {
		lrc := *m.LRC
		lrc.Groups = append([]int64(nil), m.LRC.Groups...)
		c.LRC = &lrc
	}
	return &c
}

// EqualIgnoringNegligible reports whether two metas agree on every key
// except the negligible ones named in spec §4.D ("service", "version").
func (m *GroupMeta) EqualIgnoringNegligible(other *GroupMeta) bool {
	if m == nil || other == nil {
		return m == other
	}
	if m.Type != other.Type || m.Namespace != other.Namespace || m.Frozen != other.Frozen {
		return false
	}
	if !int64SliceEqual(m.Couple, other.Couple) {
		return false
	}
	if !int64SliceEqual(m.LRCGroups, other.LRCGroups) {
		return false
	}
	if (m.LRC == nil) != (other.LRC == nil) {
		return false
	}
	if m.LRC != nil {
		if m.LRC.PartSize != other.LRC.PartSize || m.LRC.Scheme != other.LRC.Scheme {
			return false
		}
		if !int64SliceEqual(m.LRC.Groups, other.LRC.Groups) {
			return false
		}
	}
	return true
}

func int64SliceEqual(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func sortedInt64(in []int64) []int64 {
	out := append([]int64(nil), in...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// ComposeGroupMeta builds the DataGroupMeta written to every group of a
// replicas couple at build time (spec §4.F: "compose_group_meta(couple,
// {frozen: ...})").
func ComposeGroupMeta(groupIDs []int64, namespace string, frozen bool) *GroupMeta {
	return &GroupMeta{
		Version:   cmn.MetaVersion,
		Type:      cmn.TypeData,
		Namespace: namespace,
		Couple:    sortedInt64(groupIDs),
		Frozen:    frozen,
	}
}

// ComposeCacheGroupMeta builds a CacheGroupMeta (spec §6).
func ComposeCacheGroupMeta(groupIDs []int64) *GroupMeta {
	return &GroupMeta{
		Version:   cmn.MetaVersion,
		Type:      cmn.TypeCache,
		Namespace: cmn.CacheNamespace,
		Couple:    sortedInt64(groupIDs),
	}
}

// ComposeLRCGroupMeta builds the DataGroupMeta written to each group of an
// LRC-8-2-2 groupset, in scheme order (not sorted -- spec §3 invariant:
// "every LRC group's meta.lrc.groups equals its groupset's group list in
// scheme order").
func ComposeLRCGroupMeta(schemeOrderedGroupIDs []int64, partSize int64, scheme, namespace string, frozen bool) *GroupMeta {
	return &GroupMeta{
		Version:   cmn.MetaVersion,
		Type:      cmn.TypeLRC822,
		Namespace: namespace,
		Frozen:    frozen,
		LRC: &LRCInfo{
			Groups:   append([]int64(nil), schemeOrderedGroupIDs...),
			PartSize: partSize,
			Scheme:   scheme,
		},
	}
}

// ComposeUncoupledLRCGroupMeta builds the UncoupledLrcMeta written to a
// freshly-selected 12-tuple of uncoupled LRC groups (spec §6).
func ComposeUncoupledLRCGroupMeta(lrcGroups []int64) *GroupMeta {
	return &GroupMeta{
		Version:   cmn.MetaVersion,
		Type:      cmn.TypeUncoupledLRC822,
		LRCGroups: append([]int64(nil), lrcGroups...),
	}
}

// DeriveType derives a group's type from its parsed meta plus fallbacks
// (spec §3/§4.C): explicit meta.Type wins; absent meta.Type falls back to
// "data" if a couple tuple is present; absent meta falls back to
// "uncoupled_cache" when the group's storage path carries the configured
// cache-group prefix, else "uncoupled".
func DeriveType(meta *GroupMeta, hasCachePathPrefix bool) string {
	if meta == nil {
		if hasCachePathPrefix {
			return cmn.TypeUncoupledCache
		}
		return cmn.TypeUncoupled
	}
	if meta.Type != "" {
		return meta.Type
	}
	if len(meta.Couple) > 0 {
		return cmn.TypeData
	}
	if hasCachePathPrefix {
		return cmn.TypeUncoupledCache
	}
	return cmn.TypeUncoupled
}

// HistoryEntry records one couple-membership transition for a group (spec
// §3 SUPPLEMENT: original_source's infrastructure.update_group_history).
type HistoryEntry struct {
	CoupleID  string
	Namespace string
	At        time.Time
}

// Group is the atom of replication: an ordered list of node-backends plus
// a parsed meta document and an optional link to one owning groupset (spec
// §3).
type Group struct {
	GroupID int64

	backends []*NodeBackend
	meta     *GroupMeta
	Groupset Groupset // nil when uncoupled

	ActiveJob *JobSummary

	history []HistoryEntry

	typ        string
	status     string
	statusText string
}

// JobSummary is the subset of a long-running job's state the core needs to
// drive status derivation (spec §4.D: "active service job"); the job
// itself is executed by the out-of-scope job processor.
type JobSummary struct {
	JobID  string
	Type   string
	Active bool
}

func NewGroup(id int64) *Group {
	return &Group{GroupID: id, typ: cmn.TypeUncoupled, status: cmn.StatusInit}
}

func (g *Group) Backends() []*NodeBackend { return append([]*NodeBackend(nil), g.backends...) }

func (g *Group) addBackend(b *NodeBackend) {
	for _, existing := range g.backends {
		if existing == b {
			return
		}
	}
	g.backends = append(g.backends, b)
}

func (g *Group) removeBackend(b *NodeBackend) {
	for i, existing := range g.backends {
		if existing == b {
			g.backends = append(g.backends[:i], g.backends[i+1:]...)
			return
		}
	}
}

func (g *Group) Meta() *GroupMeta { return g.meta }

// SetMeta re-parses the group from a new meta document. Setting meta to
// nil resets the group to INIT (spec §3: "Group is re-parsable: setting
// meta to null resets to INIT").
func (g *Group) SetMeta(meta *GroupMeta, hasCachePathPrefix bool) {
	g.meta = meta
	g.typ = DeriveType(meta, hasCachePathPrefix)
	if meta == nil {
		g.status, g.statusText = cmn.StatusInit, ""
	}
}

func (g *Group) Type() string { return g.typ }

func (g *Group) IsData() bool { return g.typ == cmn.TypeData }

func (g *Group) Status() (code, text string) { return g.status, g.statusText }

func (g *Group) setStatus(code, text string) { g.status, g.statusText = code, text }

// RecomputeStatusRecursive re-derives this group's own status, then
// triggers its owning couple's recompute and, if that couple links an LRC
// sibling, the sibling's recompute too (spec §4.C:
// "update_status_recursive").
func (g *Group) RecomputeStatusRecursive(ctx context.Context, deps StatusDeps) {
	recomputeGroupStatus(g, deps)
	if g.Groupset == nil {
		return
	}
	switch gs := g.Groupset.(type) {
	case *ReplicasCouple:
		gs.RecomputeStatus(ctx, deps)
		if gs.LRC != nil {
			gs.LRC.RecomputeStatus(ctx, deps)
		}
	case *LRCGroupset:
		gs.RecomputeStatus(ctx, deps)
		if gs.Replicas != nil {
			gs.Replicas.RecomputeStatus(ctx, deps)
		}
	}
}

// EffectiveSpace sums the effective_space of this group's backends (spec
// §4.C).
func (g *Group) EffectiveSpace(reservedSpace int64) int64 {
	var sum int64
	for _, b := range g.backends {
		sum += b.EffectiveSpace(reservedSpace)
	}
	return sum
}

func (g *Group) EffectiveFreeSpace(reservedSpace int64) int64 {
	var sum int64
	for _, b := range g.backends {
		sum += b.EffectiveFreeSpace(reservedSpace)
	}
	return sum
}

func (g *Group) AppendHistory(coupleID, namespace string, at time.Time) {
	g.history = append(g.history, HistoryEntry{CoupleID: coupleID, Namespace: namespace, At: at})
}

func (g *Group) History() []HistoryEntry { return append([]HistoryEntry(nil), g.history...) }
