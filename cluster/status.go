package cluster

import (
	"context"
	"fmt"
	"sort"

	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/ec"
)

// StatusDeps carries the policy toggles and collaborators status
// derivation needs but does not own itself (spec §4.D): whether a given
// namespace has settings, whether DC-sharing/unmatched-total-space are
// forbidden, and a staleness window.
type StatusDeps struct {
	ForbidDCSharing           bool
	ForbidUnmatchedTotalSpace bool
	ForbidDHT                 bool

	StaleTimeout int64 // seconds; not read by the cascades in this file -- backend staleness comes from the timeout passed to NodeBackend.RecomputeStatus

	NamespaceHasSettings func(ns *Namespace) bool
}

// statusRule is one predicate in an ordered cascade: the first rule whose
// fn returns matched=true wins (Design Notes: never nested conditionals).
type statusRule struct {
	fn func() (code, text string, matched bool)
}

func runCascade(rules []statusRule) (code, text string) {
	for _, r := range rules {
		if code, text, matched := r.fn(); matched {
			return code, text
		}
	}
	return cmn.StatusOK, ""
}

func rule(fn func() (string, string, bool)) statusRule { return statusRule{fn: fn} }

// escalateBad upgrades a BAD verdict to SERVICE_ACTIVE/SERVICE_STALLED
// when a couple-level service job is in flight (spec §4.D: "BAD (or
// SERVICE_* if an active service job is present)").
func escalateBad(code string, job *JobSummary) string {
	if code != cmn.StatusBad || job == nil {
		return code
	}
	if job.Active {
		return cmn.StatusServiceActive
	}
	return cmn.StatusServiceStalled
}

func anyGroupMissingMeta(groups []*Group) bool {
	for _, g := range groups {
		if g.Meta() == nil {
			return true
		}
	}
	return false
}

func anyGroupStatus(groups []*Group, code string) bool {
	for _, g := range groups {
		if c, _ := g.Status(); c == code {
			return true
		}
	}
	return false
}

func allGroupsStatus(groups []*Group, code string) bool {
	for _, g := range groups {
		if c, _ := g.Status(); c != code {
			return false
		}
	}
	return true
}

func allGroupsInitNoBackends(groups []*Group) bool {
	for _, g := range groups {
		if c, _ := g.Status(); c != cmn.StatusInit {
			return false
		}
		if len(g.Backends()) != 0 {
			return false
		}
	}
	return true
}

func namespaceMismatch(ns *Namespace, groups []*Group) bool {
	if ns == nil {
		return false
	}
	for _, g := range groups {
		if m := g.Meta(); m != nil && m.Namespace != ns.ID {
			return true
		}
	}
	return false
}

func metasDiffer(groups []*Group) bool {
	var first *GroupMeta
	for _, g := range groups {
		m := g.Meta()
		if m == nil {
			continue
		}
		if first == nil {
			first = m
			continue
		}
		if !first.EqualIgnoringNegligible(m) {
			return true
		}
	}
	return false
}

func anyGroupFrozen(groups []*Group) bool {
	for _, g := range groups {
		if m := g.Meta(); m != nil && m.Frozen {
			return true
		}
	}
	return false
}

// groupDC resolves a group's datacenter leniently via the host of its
// first backend; a group with no backends has no DC to share.
func groupDC(ctx context.Context, g *Group) (string, bool) {
	backends := g.Backends()
	if len(backends) == 0 {
		return "", false
	}
	return backends[0].Node.Host.DC(ctx), true
}

func dcsShared(ctx context.Context, groups []*Group) bool {
	seen := make(map[string]bool)
	for _, g := range groups {
		dc, ok := groupDC(ctx, g)
		if !ok {
			continue
		}
		if seen[dc] {
			return true
		}
		seen[dc] = true
	}
	return false
}

func totalSpaceMatches(groups []*Group) bool {
	var want uint64
	set := false
	for _, g := range groups {
		var sum uint64
		for _, b := range g.Backends() {
			sum += b.Stat.TotalSpace
		}
		if !set {
			want, set = sum, true
			continue
		}
		if sum != want {
			return false
		}
	}
	return true
}

func isFull(groups []*Group) bool {
	for _, g := range groups {
		for _, b := range g.Backends() {
			if b.Stat.TotalSpace > 0 && b.Stat.FreeSpace == 0 {
				return true
			}
		}
	}
	return false
}

// RecomputeStatus derives a replicas couple's status via the ordered
// cascade of spec §4.D (literal ordered-rule-slice form, never nested
// conditionals).
func (c *ReplicasCouple) RecomputeStatus(ctx context.Context, deps StatusDeps) {
	groups := c.groups
	hasSettings := deps.NamespaceHasSettings != nil && deps.NamespaceHasSettings(c.ns)

	rules := []statusRule{
		// 1. archived: linked LRC sibling with all replicas groups idle.
		rule(func() (string, string, bool) {
			if c.LRC != nil && allGroupsInitNoBackends(groups) {
				return cmn.StatusArchived, "", true
			}
			return "", "", false
		}),
		// 2. meta checks.
		rule(func() (string, string, bool) {
			if anyGroupMissingMeta(groups) {
				return escalateBad(cmn.StatusBad, c.ActiveJob), "group missing meta", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if namespaceMismatch(c.ns, groups) {
				return cmn.StatusBad, "namespace mismatch between couple and group meta", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if metasDiffer(groups) {
				return cmn.StatusBad, "group metas differ on a non-negligible key", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if anyGroupFrozen(groups) {
				return cmn.StatusFrozen, fmt.Sprintf("Couple %s is frozen", c.CoupleID), true
			}
			return "", "", false
		}),
		// 3. settings checks.
		rule(func() (string, string, bool) {
			if !hasSettings && (c.ns == nil || c.ns.ID != cmn.CacheNamespace) {
				return cmn.StatusBroken, "namespace has no settings", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if deps.ForbidDCSharing && dcsShared(ctx, groups) {
				return cmn.StatusBroken, "two groups share a datacenter", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if anyGroupStatus(groups, cmn.StatusBroken) {
				return cmn.StatusBroken, "a group is broken", true
			}
			return "", "", false
		}),
		// 4. any group BAD.
		rule(func() (string, string, bool) {
			if anyGroupStatus(groups, cmn.StatusBad) {
				return escalateBad(cmn.StatusBad, c.ActiveJob), "a group is bad", true
			}
			return "", "", false
		}),
	}

	if c.LRC != nil {
		rules = append(rules,
			rule(func() (string, string, bool) {
				if anyGroupStatus(groups, cmn.StatusRO) {
					return escalateBad(cmn.StatusBad, c.ActiveJob), "a group is read-only", true
				}
				return "", "", false
			}),
			rule(func() (string, string, bool) {
				if anyGroupStatus(groups, cmn.StatusMigrating) {
					return escalateBad(cmn.StatusBad, c.ActiveJob), "a group is migrating", true
				}
				return "", "", false
			}),
			rule(func() (string, string, bool) {
				if allGroupsStatus(groups, cmn.StatusCoupled) {
					return cmn.StatusArchived, "", true
				}
				return "", "", false
			}),
		)
	} else {
		rules = append(rules,
			rule(func() (string, string, bool) {
				if anyGroupStatus(groups, cmn.StatusRO) {
					return escalateBad(cmn.StatusBad, c.ActiveJob), "a group is read-only", true
				}
				return "", "", false
			}),
			rule(func() (string, string, bool) {
				if anyGroupStatus(groups, cmn.StatusMigrating) {
					return escalateBad(cmn.StatusBad, c.ActiveJob), "a group is migrating", true
				}
				return "", "", false
			}),
			rule(func() (string, string, bool) {
				if anyGroupStatus(groups, cmn.StatusInit) {
					return escalateBad(cmn.StatusBad, c.ActiveJob), "a group is not yet initialized", true
				}
				return "", "", false
			}),
			rule(func() (string, string, bool) {
				if anyGroupStatus(groups, cmn.StatusStalled) {
					return escalateBad(cmn.StatusBad, c.ActiveJob), "a group's stat is stale", true
				}
				return "", "", false
			}),
			rule(func() (string, string, bool) {
				if deps.ForbidUnmatchedTotalSpace && !totalSpaceMatches(groups) {
					return cmn.StatusBroken, "groups advertise unmatched total space", true
				}
				return "", "", false
			}),
			rule(func() (string, string, bool) {
				if isFull(groups) {
					return cmn.StatusFull, "", true
				}
				return "", "", false
			}),
		)
	}

	code, text := runCascade(rules)
	c.setStatus(code, text)
}

// RecomputeStatus derives an LRC-8-2-2 groupset's status via the ordered
// cascade of spec §4.D.
func (l *LRCGroupset) RecomputeStatus(ctx context.Context, deps StatusDeps) {
	groups := l.groups
	hasSettings := deps.NamespaceHasSettings != nil && deps.NamespaceHasSettings(l.ns)

	var unavailable []int
	for i, g := range groups {
		if c, _ := g.Status(); c != cmn.StatusCoupled {
			unavailable = append(unavailable, i)
		}
	}
	sort.Ints(unavailable)

	rules := []statusRule{
		rule(func() (string, string, bool) {
			if ec.IsDataPartiallyUnavailable(unavailable) {
				return cmn.StatusBadDataUnavailable, "", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if shards := ec.UnavailableIndexShardIndices(unavailable); len(shards) > 0 {
				return cmn.StatusBadIndicesUnavailable, "", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if anyGroupMissingMeta(groups) {
				return escalateBad(cmn.StatusBad, l.ActiveJob), "group missing meta", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if namespaceMismatch(l.ns, groups) {
				return cmn.StatusBad, "namespace mismatch between groupset and group meta", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if metasDiffer(groups) {
				return cmn.StatusBad, "group metas differ on a non-negligible key", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if anyGroupFrozen(groups) {
				return cmn.StatusFrozen, "", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			for _, g := range groups {
				m := g.Meta()
				if m == nil || m.LRC == nil {
					continue
				}
				if m.LRC.PartSize != l.PartSize || m.LRC.Scheme != l.Scheme {
					return cmn.StatusBroken, fmt.Sprintf("group %d lrc part_size/scheme mismatch", g.GroupID), true
				}
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if !hasSettings && (l.ns == nil || l.ns.ID != cmn.CacheNamespace) {
				return cmn.StatusBroken, "namespace has no settings", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if anyGroupStatus(groups, cmn.StatusBroken) {
				return cmn.StatusBroken, "a group is broken", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if len(unavailable) > 0 {
				return escalateBad(cmn.StatusBad, l.ActiveJob), "a group is not coupled", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			return cmn.StatusArchived, "", true
		}),
	}

	code, text := runCascade(rules)
	l.setStatus(code, text)
}

func anyBackendStatus(g *Group, code string) bool {
	for _, b := range g.Backends() {
		if c, _ := b.Status(); c == code {
			return true
		}
	}
	return false
}

func allBackendsStatus(g *Group, code string) bool {
	backends := g.Backends()
	if len(backends) == 0 {
		return false
	}
	for _, b := range backends {
		if c, _ := b.Status(); c != code {
			return false
		}
	}
	return true
}

// coupleActiveJobMatches reports whether the group's owning couple has an
// active service job whose id matches the group meta's service.job_id
// (spec §4.D group cascade: RO escalates to MIGRATING "iff ... the couple
// has an active job matching meta.service.job_id").
func coupleActiveJobMatches(g *Group) (*JobSummary, bool) {
	var job *JobSummary
	switch gs := g.Groupset.(type) {
	case *ReplicasCouple:
		job = gs.ActiveJob
	case *LRCGroupset:
		job = gs.ActiveJob
	default:
		return nil, false
	}
	m := g.Meta()
	if job == nil || m == nil || m.Service == nil {
		return nil, false
	}
	return job, job.JobID == m.Service.JobID && job.Active
}

// typeSpecificGroupCheckOK validates the data/LRC invariants of spec §3:
// couple tuple present and groupset built for a data group; group-id
// present in the sibling LRC list for an LRC group.
func typeSpecificGroupCheckOK(g *Group) bool {
	m := g.Meta()
	if m == nil {
		return true
	}
	switch g.Type() {
	case cmn.TypeData:
		return len(m.Couple) > 0 && g.Groupset != nil
	case cmn.TypeLRC822:
		if g.Groupset == nil || m.LRC == nil {
			return false
		}
		for _, sibling := range m.LRC.Groups {
			if sibling == g.GroupID {
				return true
			}
		}
		return false
	default:
		return true
	}
}

// DestroyGroupset detaches gs from its namespace and clears the Groupset
// back-pointer on every one of its member groups, then re-derives each
// group's own status (spec §3: destruction detaches a groupset from its
// namespace, clears the groupset pointer on all its groups, and re-runs
// those groups' status derivation). Callers still own removing gs from
// State.Groupsets.
func DestroyGroupset(gs Groupset, deps StatusDeps) {
	if ns := gs.Namespace(); ns != nil {
		ns.DetachCouple(gs.ID())
	}
	for _, g := range gs.Groups() {
		if g.Groupset == gs {
			g.Groupset = nil
		}
		recomputeGroupStatus(g, deps)
	}
}

// recomputeGroupStatus derives a group's own status via the ordered
// cascade of spec §4.D's "Group" variant.
func recomputeGroupStatus(g *Group, deps StatusDeps) {
	backends := g.Backends()

	rules := []statusRule{
		rule(func() (string, string, bool) {
			if len(backends) == 0 {
				return cmn.StatusInit, "", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if deps.ForbidDHT && len(backends) > 1 {
				return cmn.StatusBroken, "multiple backends on a group with DHT forbidden", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if g.Meta() == nil {
				return cmn.StatusInit, "", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if anyBackendStatus(g, cmn.StatusBroken) {
				return cmn.StatusBroken, "a backend is broken", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if !typeSpecificGroupCheckOK(g) {
				return cmn.StatusBroken, "group does not match its meta's couple/lrc linkage", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if anyBackendStatus(g, cmn.StatusRO) {
				if job, migrating := coupleActiveJobMatches(g); migrating {
					_ = job
					if m := g.Meta(); m != nil && m.Service != nil && m.Service.Status == cmn.StatusMigrating {
						return cmn.StatusMigrating, "", true
					}
				}
				return cmn.StatusRO, "", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			if !allBackendsStatus(g, cmn.StatusOK) {
				return cmn.StatusBad, "not all backends are OK", true
			}
			return "", "", false
		}),
		rule(func() (string, string, bool) {
			return cmn.StatusCoupled, "", true
		}),
	}

	code, text := runCascade(rules)
	g.setStatus(code, text)
}
