package cluster_test

import (
	"context"
	"testing"
	"time"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/v-nikulichev/mastermind/cluster"
	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/testutil"
)

func TestStatus(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "cluster status suite")
}

func newTestState() (*cluster.State, *testutil.FakeInventory) {
	inv := testutil.NewFakeInventory()
	return cluster.NewState(inv), inv
}

// makeGroup builds a single-backend group whose host resolves to the
// given DC via the fake inventory, with a fresh, well-formed meta.
func makeGroup(state *cluster.State, inv *testutil.FakeInventory, gid int64, dc string, totalSpace uint64) *cluster.Group {
	addr := dcAddr(gid, dc)
	inv.Set(addr, addr, cluster.ParentTree{cluster.DCNodeType: dc})
	host := state.HostOrCreate(addr)
	node := state.NodeOrCreate(host, 1025, 4)
	backend := state.BackendOrCreate(node, 0)
	backend.Stat.TotalSpace = totalSpace
	backend.Stat.FreeSpace = totalSpace / 2
	backend.Stat.CollectTS = time.Now()
	backend.RecomputeStatus(time.Now(), time.Hour)

	g := state.GroupOrCreate(gid)
	backend.SetGroup(g)
	return g
}

func dcAddr(gid int64, dc string) string {
	return dc + "-host-" + string(rune('0'+gid%10))
}

var _ = Describe("ReplicasCouple.RecomputeStatus", func() {
	var (
		ctx   context.Context
		state *cluster.State
		inv   *testutil.FakeInventory
		deps  cluster.StatusDeps
	)

	BeforeEach(func() {
		ctx = context.Background()
		state, inv = newTestState()
		deps = cluster.StatusDeps{
			ForbidDCSharing:      true,
			NamespaceHasSettings: func(ns *cluster.Namespace) bool { return ns != nil && ns.HasSettings() },
		}
	})

	newCoupledGroup := func(gid int64, dc, namespace string) *cluster.Group {
		g := makeGroup(state, inv, gid, dc, 100)
		meta := cluster.ComposeGroupMeta([]int64{1001, 1002, 1003}, namespace, false)
		g.SetMeta(meta, false)
		for _, b := range g.Backends() {
			b.RecomputeStatus(time.Now(), time.Hour)
		}
		return g
	}

	It("derives OK for three fully healthy groups across three DCs", func() {
		ns := state.NamespaceOrCreate("img")
		ns.Settings["groups-count"] = 3

		g1 := newCoupledGroup(1001, "A", "img")
		g2 := newCoupledGroup(1002, "B", "img")
		g3 := newCoupledGroup(1003, "C", "img")
		couple := cluster.NewReplicasCouple("1001:1002:1003", []*cluster.Group{g1, g2, g3}, ns)
		for _, g := range []*cluster.Group{g1, g2, g3} {
			cluster.RecomputeGroupStatusForTest(g, deps)
		}
		couple.RecomputeStatus(ctx, deps)

		code, _ := couple.Status()
		Expect(code).To(Equal(cmn.StatusOK))
	})

	It("derives BROKEN when two groups share a datacenter and DC-sharing is forbidden", func() {
		ns := state.NamespaceOrCreate("img")
		ns.Settings["groups-count"] = 3

		g1 := newCoupledGroup(1001, "A", "img")
		g2 := newCoupledGroup(1002, "A", "img")
		g3 := newCoupledGroup(1003, "C", "img")
		couple := cluster.NewReplicasCouple("1001:1002:1003", []*cluster.Group{g1, g2, g3}, ns)
		for _, g := range []*cluster.Group{g1, g2, g3} {
			cluster.RecomputeGroupStatusForTest(g, deps)
		}
		couple.RecomputeStatus(ctx, deps)

		code, text := couple.Status()
		Expect(code).To(Equal(cmn.StatusBroken))
		Expect(text).To(ContainSubstring("datacenter"))
	})

	It("escalates BAD to SERVICE_ACTIVE when an active service job is in flight", func() {
		ns := state.NamespaceOrCreate("img")
		ns.Settings["groups-count"] = 3

		g1 := newCoupledGroup(1001, "A", "img")
		g2 := newCoupledGroup(1002, "B", "img")
		g3 := newCoupledGroup(1003, "C", "img")
		couple := cluster.NewReplicasCouple("1001:1002:1003", []*cluster.Group{g1, g2, g3}, ns)
		couple.ActiveJob = &cluster.JobSummary{JobID: "job-1", Active: true}

		// A read-only backend (not a broken one, which would win earlier in
		// the couple cascade) drives the group to RO, which the couple
		// cascade treats the same as BAD.
		g3.Backends()[0].ReadOnly = true
		g3.Backends()[0].RecomputeStatus(time.Now(), time.Hour)
		for _, g := range []*cluster.Group{g1, g2, g3} {
			cluster.RecomputeGroupStatusForTest(g, deps)
		}
		couple.RecomputeStatus(ctx, deps)

		code, _ := couple.Status()
		Expect(code).To(Equal(cmn.StatusServiceActive))
	})

	It("produces the literal frozen status text on freeze (scenario 6)", func() {
		ns := state.NamespaceOrCreate("img")
		ns.Settings["groups-count"] = 3

		g1 := newCoupledGroup(1001, "A", "img")
		g2 := newCoupledGroup(1002, "B", "img")
		g3 := newCoupledGroup(1003, "C", "img")
		couple := cluster.NewReplicasCouple("1001:1002:1003", []*cluster.Group{g1, g2, g3}, ns)
		for _, g := range []*cluster.Group{g1, g2, g3} {
			cluster.RecomputeGroupStatusForTest(g, deps)
		}
		couple.RecomputeStatus(ctx, deps)
		code, _ := couple.Status()
		Expect(code).To(Equal(cmn.StatusOK))

		for _, g := range []*cluster.Group{g1, g2, g3} {
			meta := g.Meta().Clone()
			meta.Frozen = true
			g.SetMeta(meta, false)
		}
		couple.RecomputeStatus(ctx, deps)
		code, text := couple.Status()
		Expect(code).To(Equal(cmn.StatusFrozen))
		Expect(text).To(Equal("Couple 1001:1002:1003 is frozen"))

		for _, g := range []*cluster.Group{g1, g2, g3} {
			meta := g.Meta().Clone()
			meta.Frozen = false
			g.SetMeta(meta, false)
		}
		couple.RecomputeStatus(ctx, deps)
		code, _ = couple.Status()
		Expect(code).To(Equal(cmn.StatusOK))
	})
})

var _ = Describe("LRCGroupset.RecomputeStatus", func() {
	var (
		ctx   context.Context
		state *cluster.State
		inv   *testutil.FakeInventory
		deps  cluster.StatusDeps
		ns    *cluster.Namespace
	)

	BeforeEach(func() {
		ctx = context.Background()
		state, inv = newTestState()
		deps = cluster.StatusDeps{
			NamespaceHasSettings: func(ns *cluster.Namespace) bool { return ns != nil && ns.HasSettings() },
		}
		ns = state.NamespaceOrCreate("img")
		ns.Settings["groups-count"] = 12
	})

	buildLRC := func(dcs [12]string, notCoupled map[int]bool) *cluster.LRCGroupset {
		ids := make([]int64, 12)
		groups := make([]*cluster.Group, 12)
		for i := 0; i < 12; i++ {
			gid := int64(2000 + i)
			ids[i] = gid
			groups[i] = makeGroup(state, inv, gid, dcs[i], 100)
		}
		for i, g := range groups {
			meta := cluster.ComposeLRCGroupMeta(ids, 4<<20, "lrc-8-2-2-v1", "img", false)
			g.SetMeta(meta, false)
			code := cmn.StatusCoupled
			if notCoupled[i] {
				code = cmn.StatusStalled
			}
			cluster.SetStatusForTest(g, code, "")
		}
		return cluster.NewLRCGroupset("lrc-2000", groups, 4<<20, "lrc-8-2-2-v1", ns)
	}

	dcs := [12]string{"A", "A", "A", "A", "B", "B", "B", "B", "C", "C", "D", "D"}

	It("derives BAD_DATA_UNAVAILABLE when all 4 data parts of a local group are down (scenario 4)", func() {
		lrc := buildLRC(dcs, map[int]bool{0: true, 1: true, 2: true, 3: true})
		lrc.RecomputeStatus(ctx, deps)
		code, _ := lrc.Status()
		Expect(code).To(Equal(cmn.StatusBadDataUnavailable))
	})

	It("falls through to BAD once the pattern breaks but groups remain not-coupled (scenario 4 continued)", func() {
		lrc := buildLRC(dcs, map[int]bool{0: true, 1: true, 2: true})
		lrc.RecomputeStatus(ctx, deps)
		code, _ := lrc.Status()
		Expect(code).To(Equal(cmn.StatusBad))
	})

	It("derives ARCHIVED when every group is COUPLED", func() {
		lrc := buildLRC(dcs, map[int]bool{})
		lrc.RecomputeStatus(ctx, deps)
		code, _ := lrc.Status()
		Expect(code).To(Equal(cmn.StatusArchived))
	})
})
