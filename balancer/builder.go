package balancer

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teris-io/shortid"

	"github.com/v-nikulichev/mastermind/cluster"
	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/ec"
	"github.com/v-nikulichev/mastermind/lock"
	"github.com/v-nikulichev/mastermind/metadata"
)

// NodeTypes is the topology tree's level order (spec §4.F:
// `NODE_TYPES = ["root", ...inventory-defined node types..., "hdd"]`).
// "dc" is singled out for the forbidden-DC-sharing policy.
var NodeTypes = []string{"root", cluster.DCNodeType, "hdd"}

var dcLevelIdx = indexOf(NodeTypes, cluster.DCNodeType)

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

// Builder implements the couple builder (spec §4.F): it owns no state of
// its own beyond its collaborators, all of which are supplied so tests can
// run it against in-memory fakes.
type Builder struct {
	State   *cluster.State
	Lock    lock.DistributedLock
	Store   metadata.Store
	Storage cluster.StorageSession

	ForbidDCSharing bool
}

// Result is the outcome of one Build call.
type Result struct {
	Couples []*cluster.ReplicasCouple
	Weight  float64
}

// groupUnit is one uncoupled group's position in the topology tree, per
// spec §4.F's `units[gid] = [{node_type: parent_name}]`.
type groupUnit struct {
	Group *cluster.Group
	Chain []string // Chain[i] is the parent name at NodeTypes[i]
}

func buildChain(ctx context.Context, g *cluster.Group) (groupUnit, error) {
	chain := make([]string, len(NodeTypes))
	backends := g.Backends()
	var tree cluster.ParentTree
	if len(backends) > 0 {
		t, err := backends[0].Node.Host.ParentTree(ctx)
		if err != nil {
			return groupUnit{}, err
		}
		tree = t
	}
	for i, nt := range NodeTypes {
		switch nt {
		case "root":
			chain[i] = "root"
		case "hdd":
			chain[i] = strconv.FormatInt(g.GroupID, 10)
		default:
			chain[i] = tree[nt]
		}
	}
	return groupUnit{Group: g, Chain: chain}, nil
}

// accountNsCouples counts, for each node_type and parent, how many
// existing groups of the target namespace already live under it, and the
// average count per level (spec §4.F).
func accountNsCouples(existing []groupUnit) (counts []map[string]int, avgs []float64) {
	counts = make([]map[string]int, len(NodeTypes))
	avgs = make([]float64, len(NodeTypes))
	for i := range NodeTypes {
		counts[i] = make(map[string]int)
		for _, u := range existing {
			counts[i][u.Chain[i]]++
		}
		if len(counts[i]) > 0 {
			var sum int
			for _, c := range counts[i] {
				sum += c
			}
			avgs[i] = float64(sum) / float64(len(counts[i]))
		}
	}
	return counts, avgs
}

// chooseGroups is the recursive weighted combination search of spec
// §4.F item 1: it descends NodeTypes one level at a time, at each level
// grouping candidates by their level-unit, enumerating size-`remaining`
// combinations of a repeated choice list, and picking the least-weight
// combination (ties broken by enumeration order).
func chooseGroups(cands []groupUnit, remaining, levelIdx int, counts []map[string]int, avgs []float64, forbidDC bool, mandatoryDCs map[string]bool) ([]groupUnit, float64, bool) {
	if remaining == 0 {
		return nil, 0, true
	}
	if remaining > len(cands) {
		return nil, 0, false
	}
	if levelIdx >= len(NodeTypes)-1 {
		sort.Slice(cands, func(i, j int) bool { return cands[i].Group.GroupID < cands[j].Group.GroupID })
		return append([]groupUnit(nil), cands[:remaining]...), 0, true
	}

	buckets := make(map[string][]groupUnit)
	for _, c := range cands {
		buckets[c.Chain[levelIdx]] = append(buckets[c.Chain[levelIdx]], c)
	}
	names := make([]string, 0, len(buckets))
	for name := range buckets {
		names = append(names, name)
	}
	sort.Strings(names)

	var choiceList []string
	for _, name := range names {
		cap := remaining
		if len(buckets[name]) < cap {
			cap = len(buckets[name])
		}
		for i := 0; i < cap; i++ {
			choiceList = append(choiceList, name)
		}
	}
	if len(choiceList) < remaining {
		return nil, 0, false
	}

	bestWeight := math.Inf(1)
	var bestCounts map[string]int
	found := false
	for _, combo := range stringCombinations(choiceList, remaining) {
		chosenCounts := tallyStrings(combo)

		if forbidDC && levelIdx == dcLevelIdx {
			rejected := false
			for name, cnt := range chosenCounts {
				if cnt > 1 || mandatoryDCs[name] {
					rejected = true
					break
				}
			}
			if rejected {
				continue
			}
		}

		// Mirrors __weight_combination: start from every existing node's
		// count at this level (not just the chosen buckets), so names left
		// untouched by this combination still contribute their constant
		// (existing-avg)^2 offset to the combination's total weight.
		w := 0.0
		seen := make(map[string]bool, len(chosenCounts))
		for name, existing := range counts[levelIdx] {
			total := float64(existing + chosenCounts[name])
			d := total - avgs[levelIdx]
			w += d * d
			seen[name] = true
		}
		for name, cnt := range chosenCounts {
			if seen[name] {
				continue
			}
			d := float64(cnt) - avgs[levelIdx]
			w += d * d
		}
		if w < bestWeight {
			bestWeight, bestCounts, found = w, chosenCounts, true
		}
	}
	if !found {
		return nil, 0, false
	}

	var result []groupUnit
	total := bestWeight
	for name, cnt := range bestCounts {
		sub, subWeight, ok := chooseGroups(buckets[name], cnt, levelIdx+1, counts, avgs, forbidDC, mandatoryDCs)
		if !ok {
			return nil, 0, false
		}
		result = append(result, sub...)
		total += subWeight
	}
	return result, total, true
}

func tallyStrings(items []string) map[string]int {
	out := make(map[string]int, len(items))
	for _, s := range items {
		out[s]++
	}
	return out
}

// stringCombinations enumerates every size-k combination of list's
// elements by index (itertools.combinations semantics): repeated values
// in list (the choice-list padding of spec §4.F) yield repeated-looking
// combinations, which is intentional -- it is how a bucket contributes
// more than one chosen unit.
func stringCombinations(list []string, k int) [][]string {
	n := len(list)
	if k > n {
		return nil
	}
	var out [][]string
	idx := make([]int, k)
	for i := range idx {
		idx[i] = i
	}
	for {
		combo := make([]string, k)
		for i, ix := range idx {
			combo[i] = list[ix]
		}
		out = append(out, combo)

		i := k - 1
		for i >= 0 && idx[i] == n-k+i {
			i--
		}
		if i < 0 {
			break
		}
		idx[i]++
		for j := i + 1; j < k; j++ {
			idx[j] = idx[j-1] + 1
		}
	}
	return out
}

// uncoupledCandidates returns the groups of type uncoupled, bucketed by
// the sum of their backends' total space (groups_by_total_space).
func uncoupledCandidates(groups []*cluster.Group) map[uint64][]*cluster.Group {
	byTotal := make(map[uint64][]*cluster.Group)
	for _, g := range groups {
		if g.Type() != cmn.TypeUncoupled {
			continue
		}
		var total uint64
		for _, b := range g.Backends() {
			total += b.Stat.TotalSpace
		}
		byTotal[total] = append(byTotal[total], g)
	}
	return byTotal
}

func existingNamespaceUnits(ctx context.Context, state *cluster.State, namespace string) ([]groupUnit, error) {
	var units []groupUnit
	var outerErr error
	state.Groups.Range(func(_ int64, g *cluster.Group) bool {
		if g.Groupset == nil || g.Groupset.Namespace() == nil || g.Groupset.Namespace().ID != namespace {
			return true
		}
		u, err := buildChain(ctx, g)
		if err != nil {
			outerErr = err
			return false
		}
		units = append(units, u)
		return true
	})
	return units, outerErr
}

// Build runs the couple builder end to end (spec §4.F): pre-flight,
// selection, locking with retry-by-exclusion, consistent metakey write,
// and commit.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (Result, error) {
	if err := opts.Validate(); err != nil {
		return Result{}, err
	}

	clusterLock, err := b.Lock.TryAcquire(ctx, cmn.ClusterLockID)
	if err != nil {
		return Result{}, err
	}
	defer func() { lock.ReleaseAll(ctx, b.Lock, []lock.Handle{clusterLock}) }()

	ns := b.State.NamespaceOrCreate(opts.Namespace)
	existingUnits, err := existingNamespaceUnits(ctx, b.State, opts.Namespace)
	if err != nil {
		return Result{}, cmn.NewTransientError("balancer.Build: existingNamespaceUnits", err)
	}
	counts, avgs := accountNsCouples(existingUnits)

	var result Result
	for i := 0; i < opts.N; i++ {
		var mandatory []int64
		if i < len(opts.MandatoryGroups) {
			mandatory = opts.MandatoryGroups[i]
		}
		couple, weight, err := b.buildOne(ctx, opts, ns, mandatory, counts, avgs)
		if err != nil {
			return Result{}, err
		}
		result.Couples = append(result.Couples, couple)
		result.Weight += weight
	}
	return result, nil
}

func (b *Builder) buildOne(ctx context.Context, opts BuildOptions, ns *cluster.Namespace, mandatory []int64, counts []map[string]int, avgs []float64) (*cluster.ReplicasCouple, float64, error) {
	byTotal := uncoupledCandidates(b.State.Groups.Values())

	mandatorySet := make(map[int64]bool, len(mandatory))
	for _, gid := range mandatory {
		mandatorySet[gid] = true
	}

	mandatoryDCs := make(map[string]bool, len(mandatory))
	if b.ForbidDCSharing {
		dcCount := make(map[string]int, len(mandatory))
		for _, gid := range mandatory {
			g, err := b.State.Groups.Get(gid)
			if err != nil {
				return nil, 0, err
			}
			u, err := buildChain(ctx, g)
			if err != nil {
				return nil, 0, err
			}
			dc := u.Chain[dcLevelIdx]
			mandatoryDCs[dc] = true
			dcCount[dc]++
		}
		for dc, cnt := range dcCount {
			if cnt > 1 {
				return nil, 0, cmn.NewValidationError("mandatory groups share datacenter %s: insufficient diversity for namespace %s", dc, opts.Namespace)
			}
		}
	}

	buildID, err := shortid.Generate()
	if err != nil {
		return nil, 0, cmn.NewTransientError("balancer.buildOne: generate build id", err)
	}

	var lastErr error
	for total, bucketGroups := range byTotal {
		if opts.MatchGroupSpace && !bucketContainsAll(bucketGroups, mandatory) {
			continue
		}
		free := excludeMandatory(bucketGroups, mandatorySet)

		remaining := opts.Size - len(mandatory)
		if remaining < 0 || remaining > len(free) {
			continue
		}

		attempted := free
		for {
			units := make([]groupUnit, 0, len(attempted))
			for _, g := range attempted {
				u, err := buildChain(ctx, g)
				if err != nil {
					lastErr = err
					break
				}
				units = append(units, u)
			}
			if len(units) != len(attempted) {
				break
			}

			chosen, weight, ok := chooseGroups(units, remaining, 0, counts, avgs, b.ForbidDCSharing, mandatoryDCs)
			if !ok {
				break
			}

			allGroupIDs := append(append([]int64(nil), mandatory...), groupIDs(chosen)...)
			couple, err := b.tryCommit(ctx, opts, ns, allGroupIDs, buildID)
			if err == nil {
				return couple, weight, nil
			}
			if busy, remove := asLockExclusion(err); busy {
				attempted = removeGroups(attempted, remove)
				if len(attempted) < remaining {
					break
				}
				continue
			}
			lastErr = err
			break
		}
		cmn.LogWarningf("balancer: total-space bucket %d exhausted for namespace %s: %v", total, opts.Namespace, lastErr)
	}
	if lastErr == nil {
		lastErr = cmn.NewValidationError("no candidate combination satisfies couple size %d for namespace %s", opts.Size, opts.Namespace)
	}
	return nil, 0, lastErr
}

func bucketContainsAll(bucket []*cluster.Group, mandatory []int64) bool {
	set := make(map[int64]bool, len(bucket))
	for _, g := range bucket {
		set[g.GroupID] = true
	}
	for _, gid := range mandatory {
		if !set[gid] {
			return false
		}
	}
	return true
}

func excludeMandatory(groups []*cluster.Group, mandatory map[int64]bool) []*cluster.Group {
	out := make([]*cluster.Group, 0, len(groups))
	for _, g := range groups {
		if !mandatory[g.GroupID] {
			out = append(out, g)
		}
	}
	return out
}

func removeGroups(groups []*cluster.Group, remove map[int64]bool) []*cluster.Group {
	out := make([]*cluster.Group, 0, len(groups))
	for _, g := range groups {
		if !remove[g.GroupID] {
			out = append(out, g)
		}
	}
	return out
}

func groupIDs(units []groupUnit) []int64 {
	out := make([]int64, len(units))
	for i, u := range units {
		out[i] = u.Group.GroupID
	}
	return out
}

// lockExclusionError carries the ids of the groups whose locks failed to
// acquire, driving the builder's retry-by-exclusion loop.
type lockExclusionError struct {
	GroupIDs map[int64]bool
}

func (e *lockExclusionError) Error() string { return "some group locks were already held" }

func asLockExclusion(err error) (bool, map[int64]bool) {
	le, ok := err.(*lockExclusionError)
	if !ok {
		return false, nil
	}
	return true, le.GroupIDs
}

// tryCommit acquires per-group locks for every groupID, verifies each has
// an empty metakey, writes a consistent metakey to every group's
// backends, and on full success commits the couple into cluster state
// (spec §4.F's locking, write, and commit steps).
func (b *Builder) tryCommit(ctx context.Context, opts BuildOptions, ns *cluster.Namespace, groupIDs []int64, buildID string) (*cluster.ReplicasCouple, error) {
	lockIDs := make([]string, len(groupIDs))
	for i, gid := range groupIDs {
		lockIDs[i] = cmn.GroupLockID(gid)
	}
	granted, failed := lock.AcquireMany(ctx, b.Lock, lockIDs)
	if len(failed) > 0 {
		excl := make(map[int64]bool, len(failed))
		for _, gid := range groupIDs {
			for _, lockID := range failed {
				if lockID == cmn.GroupLockID(gid) {
					excl[gid] = true
				}
			}
		}
		return nil, &lockExclusionError{GroupIDs: excl}
	}
	defer lock.ReleaseAll(ctx, b.Lock, granted)

	groups := make([]*cluster.Group, len(groupIDs))
	for i, gid := range groupIDs {
		g, err := b.State.Groups.Get(gid)
		if err != nil {
			return nil, err
		}
		groups[i] = g
	}

	if opts.DryRun {
		// Preview only: NewReplicasCouple links each group to it, so undo
		// that link immediately -- a dry run must leave no trace.
		prior := make([]cluster.Groupset, len(groups))
		for i, g := range groups {
			prior[i] = g.Groupset
		}
		couple := cluster.NewReplicasCouple(fmt.Sprintf("dry-%s", buildID), groups, ns)
		for i, g := range groups {
			g.Groupset = prior[i]
		}
		return couple, nil
	}

	if err := b.verifyEmptyMetakeys(ctx, groups); err != nil {
		return nil, err
	}

	gids := make([]int64, len(groups))
	for i, g := range groups {
		gids[i] = g.GroupID
	}
	meta := cluster.ComposeGroupMeta(gids, opts.Namespace, opts.InitState == InitFrozen)
	blob := cluster.EncodeMetakey(meta)

	written, err := b.writeMetakeyToAll(ctx, groups, blob)
	if err != nil {
		b.rollbackMetakeys(ctx, written)
		return nil, err
	}

	coupleID := fmt.Sprintf("couple-%s", buildID)
	for _, g := range groups {
		g.SetMeta(meta, false)
	}
	couple := cluster.NewReplicasCouple(coupleID, groups, ns)
	b.State.Groupsets.PutReplicas(coupleID, couple)
	ns.AttachCouple(coupleID)

	now := time.Now()
	for _, g := range groups {
		g.AppendHistory(coupleID, opts.Namespace, now)
		if b.Store != nil {
			if err := b.Store.AppendGroupHistory(ctx, g.GroupID, coupleID, opts.Namespace, now); err != nil {
				cmn.LogWarningf("balancer: failed to persist group history for %d: %v", g.GroupID, err)
			}
		}
	}
	if b.Store != nil {
		rec := metadata.CoupleRecord{ID: coupleID, GroupIDs: gids, Namespace: opts.Namespace, BuildID: buildID}
		if err := b.Store.PutCoupleRecord(ctx, coupleID, rec); err != nil {
			cmn.LogWarningf("balancer: failed to persist couple record %s: %v", coupleID, err)
		}
	}

	couple.RecomputeStatus(ctx, cluster.StatusDeps{
		ForbidDCSharing:      b.ForbidDCSharing,
		NamespaceHasSettings: func(n *cluster.Namespace) bool { return n != nil && n.HasSettings() },
	})
	return couple, nil
}

func (b *Builder) verifyEmptyMetakeys(ctx context.Context, groups []*cluster.Group) error {
	var g errgroup.Group
	for _, grp := range groups {
		grp := grp
		for _, backend := range grp.Backends() {
			backend := backend
			g.Go(func() error {
				_, err := b.Storage.ReadMetakey(ctx, backend)
				if err == nil {
					return cmn.NewValidationError("group %d backend %s already carries a metakey", grp.GroupID, backend.Key())
				}
				if _, empty := err.(*cluster.ErrEmptyMetakey); empty {
					return nil
				}
				return cmn.NewTransientError("verifyEmptyMetakeys", err)
			})
		}
	}
	return g.Wait()
}

func (b *Builder) writeMetakeyToAll(ctx context.Context, groups []*cluster.Group, blob []byte) ([]*cluster.NodeBackend, error) {
	var written []*cluster.NodeBackend
	for _, grp := range groups {
		for _, backend := range grp.Backends() {
			if err := b.Storage.WriteMetakey(ctx, backend, blob); err != nil {
				return written, cmn.NewTransientError(fmt.Sprintf("writeMetakey %s", backend.Key()), err)
			}
			written = append(written, backend)
		}
	}
	return written, nil
}

func (b *Builder) rollbackMetakeys(ctx context.Context, written []*cluster.NodeBackend) {
	for _, backend := range written {
		if err := b.Storage.RemoveMetakey(ctx, backend); err != nil {
			cmn.LogWarningf("balancer: best-effort metakey rollback failed for %s: %v", backend.Key(), err)
		}
	}
}

// SelectUncoupledLRCGroups forms one 12-tuple (4+4+4 across three
// datacenters) from groups of type uncoupled_lrc-8-2-2-v1, skipping any
// group already chosen (spec §4.F item 2): the four lowest group ids from
// each of the first three datacenters, in name order, that hold at least
// four candidates. Repeated calls with a growing skip set yield disjoint
// tuples.
func SelectUncoupledLRCGroups(ctx context.Context, state *cluster.State, skip map[int64]bool) ([]int64, error) {
	var candidates []groupUnit
	var outerErr error
	state.Groups.Range(func(_ int64, g *cluster.Group) bool {
		if g.Type() != cmn.TypeUncoupledLRC822 || skip[g.GroupID] {
			return true
		}
		u, err := buildChain(ctx, g)
		if err != nil {
			outerErr = err
			return false
		}
		candidates = append(candidates, u)
		return true
	})
	if outerErr != nil {
		return nil, outerErr
	}

	byDC := make(map[string][]groupUnit)
	for _, u := range candidates {
		dc := u.Chain[dcLevelIdx]
		byDC[dc] = append(byDC[dc], u)
	}

	var dcs []string
	for dc, units := range byDC {
		if len(units) >= ec.DataShards/2 {
			dcs = append(dcs, dc)
		}
	}
	sort.Strings(dcs)
	if len(dcs) < 3 {
		return nil, cmn.NewValidationError("not enough datacenters with >= %d uncoupled lrc groups to form a 12-tuple", ec.DataShards/2)
	}

	var out []int64
	for _, dc := range dcs[:3] {
		units := byDC[dc]
		sort.Slice(units, func(i, j int) bool { return units[i].Group.GroupID < units[j].Group.GroupID })
		for _, u := range units[:ec.DataShards/2] {
			out = append(out, u.Group.GroupID)
		}
	}
	return out, nil
}
