package cluster

import "context"

// Groupset is the common contract shared by a replicas Couple and an LRC
// groupset (spec §3/§4.D): an ordered set of groups with one derived
// status and an effective-space view.
type Groupset interface {
	ID() string
	Type() string
	Groups() []*Group
	Namespace() *Namespace
	Status() (code, text string)
	RecomputeStatus(ctx context.Context, deps StatusDeps)
	EffectiveSpace(reservedSpace int64, nsReservedPct float64) int64
}

// floorEffectiveSpace applies the groupset-level reserve: spec §3 invariant
// "groupset.effective_space = floor(groups_effective_space * (1 -
// ns_reserved_pct))".
func floorEffectiveSpace(groupsEffectiveSpace int64, nsReservedPct float64) int64 {
	if nsReservedPct <= 0 {
		return groupsEffectiveSpace
	}
	if nsReservedPct >= 1 {
		return 0
	}
	return int64(float64(groupsEffectiveSpace) * (1 - nsReservedPct))
}

// ReplicasCouple is a couple of N replica groups, the atom the balancer
// builds and the query surface lists (spec §3, §4.D, §4.F).
type ReplicasCouple struct {
	CoupleID string

	groups []*Group
	ns     *Namespace
	Frozen bool

	// LRC is the companion LRC groupset attached to this couple, if any
	// (spec §3: "A Couple may additionally link one LRC groupset").
	LRC *LRCGroupset

	// ActiveJob is the couple-level service job (e.g. a data migration)
	// tracked by the out-of-process job processor; nil when idle (spec
	// §4.D's "active service job" checks).
	ActiveJob *JobSummary

	status     string
	statusText string
}

func NewReplicasCouple(id string, groups []*Group, ns *Namespace) *ReplicasCouple {
	c := &ReplicasCouple{CoupleID: id, groups: append([]*Group(nil), groups...), ns: ns}
	for _, g := range groups {
		g.Groupset = c
	}
	return c
}

func (c *ReplicasCouple) ID() string          { return c.CoupleID }
func (c *ReplicasCouple) Type() string        { return "replicas" }
func (c *ReplicasCouple) Groups() []*Group    { return append([]*Group(nil), c.groups...) }
func (c *ReplicasCouple) Namespace() *Namespace { return c.ns }
func (c *ReplicasCouple) Status() (code, text string) { return c.status, c.statusText }

func (c *ReplicasCouple) setStatus(code, text string) { c.status, c.statusText = code, text }

func (c *ReplicasCouple) EffectiveSpace(reservedSpace int64, nsReservedPct float64) int64 {
	var sum int64
	for _, g := range c.groups {
		sum += g.EffectiveSpace(reservedSpace)
	}
	return floorEffectiveSpace(sum, nsReservedPct)
}

// LRCGroupset is one LRC-8-2-2 groupset: 12 groups in fixed scheme order
// (8 data + 2 local parity + 2 global parity), optionally linked to a
// sibling replicas couple (spec §3, §4.D).
type LRCGroupset struct {
	GroupsetID string

	groups   []*Group // length 12, scheme order
	ns       *Namespace
	PartSize int64
	Scheme   string

	// Replicas is the sibling couple this LRC groupset archives, if any.
	Replicas *ReplicasCouple

	// ActiveJob mirrors ReplicasCouple.ActiveJob for a standalone LRC
	// groupset with no replicas sibling.
	ActiveJob *JobSummary

	status     string
	statusText string
}

func NewLRCGroupset(id string, groups []*Group, partSize int64, scheme string, ns *Namespace) *LRCGroupset {
	l := &LRCGroupset{GroupsetID: id, groups: append([]*Group(nil), groups...), PartSize: partSize, Scheme: scheme, ns: ns}
	for _, g := range groups {
		g.Groupset = l
	}
	return l
}

func (l *LRCGroupset) ID() string            { return l.GroupsetID }
func (l *LRCGroupset) Type() string          { return "lrc-8-2-2-v1" }
func (l *LRCGroupset) Groups() []*Group      { return append([]*Group(nil), l.groups...) }
func (l *LRCGroupset) Namespace() *Namespace { return l.ns }
func (l *LRCGroupset) Status() (code, text string) { return l.status, l.statusText }

func (l *LRCGroupset) setStatus(code, text string) { l.status, l.statusText = code, text }

func (l *LRCGroupset) EffectiveSpace(reservedSpace int64, nsReservedPct float64) int64 {
	var sum int64
	for _, g := range l.groups {
		sum += g.EffectiveSpace(reservedSpace)
	}
	return floorEffectiveSpace(sum, nsReservedPct)
}
