package query_test

import (
	"context"
	"testing"
	"time"

	"github.com/v-nikulichev/mastermind/cluster"
	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/query"
	"github.com/v-nikulichev/mastermind/testutil"
)

func newTestSurface(t *testing.T) (*query.Surface, *cluster.State, *testutil.FakeInventory, *testutil.FakeStorage) {
	t.Helper()
	inv := testutil.NewFakeInventory()
	state := cluster.NewState(inv)
	storage := testutil.NewFakeStorage()
	s := &query.Surface{
		State:   state,
		Storage: storage,
		Store:   testutil.NewFakeStore(),
		Deps: cluster.StatusDeps{
			ForbidDCSharing:      true,
			NamespaceHasSettings: func(ns *cluster.Namespace) bool { return ns != nil && ns.HasSettings() },
		},
	}
	return s, state, inv, storage
}

func addGroup(state *cluster.State, inv *testutil.FakeInventory, gid int64, dc string) *cluster.Group {
	addr := dc + "-g-" + strconvItoa(gid)
	inv.Set(addr, addr, cluster.ParentTree{cluster.DCNodeType: dc})
	host := state.HostOrCreate(addr)
	node := state.NodeOrCreate(host, 1025, 4)
	backend := state.BackendOrCreate(node, 0)
	backend.Stat.TotalSpace = 1 << 30
	backend.Stat.FreeSpace = 1 << 29
	backend.Stat.CollectTS = time.Now()
	backend.RecomputeStatus(time.Now(), time.Hour)

	g := state.GroupOrCreate(gid)
	backend.SetGroup(g)
	return g
}

func strconvItoa(v int64) string {
	if v == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = byte('0' + v%10)
		v /= 10
	}
	return string(buf[i:])
}

// writeMetaEverywhere mirrors what the balancer does on commit: write the
// metakey to every backend and attach the parsed meta to the group.
func writeMetaEverywhere(t *testing.T, storage *testutil.FakeStorage, g *cluster.Group, meta *cluster.GroupMeta) {
	t.Helper()
	blob := cluster.EncodeMetakey(meta)
	for _, b := range g.Backends() {
		if err := storage.WriteMetakey(context.Background(), b, blob); err != nil {
			t.Fatalf("WriteMetakey: %v", err)
		}
	}
	g.SetMeta(meta, false)
}

func buildCouple(t *testing.T, state *cluster.State, storage *testutil.FakeStorage, inv *testutil.FakeInventory, coupleID string, gids []int64, dcs []string, namespace string) *cluster.ReplicasCouple {
	t.Helper()
	ns := state.NamespaceOrCreate(namespace)
	groups := make([]*cluster.Group, len(gids))
	for i, gid := range gids {
		groups[i] = addGroup(state, inv, gid, dcs[i])
	}
	meta := cluster.ComposeGroupMeta(gids, namespace, false)
	for _, g := range groups {
		writeMetaEverywhere(t, storage, g, meta)
	}
	ns.Settings["groups-count"] = len(gids)
	couple := cluster.NewReplicasCouple(coupleID, groups, ns)
	state.Groupsets.PutReplicas(coupleID, couple)
	ns.AttachCouple(coupleID)
	deps := cluster.StatusDeps{
		ForbidDCSharing:      true,
		NamespaceHasSettings: func(n *cluster.Namespace) bool { return n != nil && n.HasSettings() },
	}
	for _, g := range groups {
		g.RecomputeStatusRecursive(context.Background(), deps)
	}
	couple.RecomputeStatus(context.Background(), deps)
	return couple
}

func TestListGroupsFiltersByNamespaceAndType(t *testing.T) {
	s, state, inv, storage := newTestSurface(t)
	buildCouple(t, state, storage, inv, "1001:1002:1003", []int64{1001, 1002, 1003}, []string{"A", "B", "C"}, "img")
	addGroup(state, inv, 2001, "D") // stays uncoupled

	gotImg := s.ListGroups(query.GroupFilter{Namespace: "img"})
	if len(gotImg) != 3 {
		t.Fatalf("expected 3 groups in namespace img, got %d", len(gotImg))
	}
	gotData := s.ListGroups(query.GroupFilter{Type: cmn.TypeData})
	if len(gotData) != 3 {
		t.Fatalf("expected 3 data-typed groups, got %d", len(gotData))
	}
	gotUncoupled := s.ListGroups(query.GroupFilter{Type: cmn.TypeUncoupled})
	if len(gotUncoupled) != 1 || gotUncoupled[0].GroupID != 2001 {
		t.Fatalf("expected exactly group 2001 uncoupled, got %v", gotUncoupled)
	}
}

func TestListCouplesRestrictsToReplicas(t *testing.T) {
	s, state, inv, storage := newTestSurface(t)
	buildCouple(t, state, storage, inv, "1001:1002:1003", []int64{1001, 1002, 1003}, []string{"A", "B", "C"}, "img")

	couples := s.ListCouples(query.GroupsetFilter{Namespace: "img"})
	if len(couples) != 1 || couples[0].ID() != "1001:1002:1003" {
		t.Fatalf("expected exactly the one couple, got %v", couples)
	}
}

func TestFreezeThenUnfreezeRoundTrip(t *testing.T) {
	s, state, inv, storage := newTestSurface(t)
	couple := buildCouple(t, state, storage, inv, "1001:1002:1003", []int64{1001, 1002, 1003}, []string{"A", "B", "C"}, "img")

	code, _ := couple.Status()
	if code != cmn.StatusOK {
		t.Fatalf("expected OK before freezing, got %s", code)
	}

	if err := s.FreezeCouple(context.Background(), couple.ID()); err != nil {
		t.Fatalf("FreezeCouple: %v", err)
	}
	code, text := couple.Status()
	if code != cmn.StatusFrozen {
		t.Fatalf("expected FROZEN after FreezeCouple, got %s", code)
	}
	if text != "Couple 1001:1002:1003 is frozen" {
		t.Fatalf("unexpected frozen text: %q", text)
	}
	for _, g := range couple.Groups() {
		if !g.Meta().Frozen {
			t.Fatalf("expected group %d meta to be frozen", g.GroupID)
		}
	}

	if err := s.UnfreezeCouple(context.Background(), couple.ID()); err != nil {
		t.Fatalf("UnfreezeCouple: %v", err)
	}
	code, _ = couple.Status()
	if code != cmn.StatusOK {
		t.Fatalf("expected OK after unfreezing, got %s", code)
	}
}

func TestBreakCoupleRequiresExactConfirmation(t *testing.T) {
	s, state, inv, storage := newTestSurface(t)
	couple := buildCouple(t, state, storage, inv, "1001:1002:1003", []int64{1001, 1002, 1003}, []string{"A", "B", "C"}, "img")

	code, _ := couple.Status()
	if code != cmn.StatusOK {
		t.Fatalf("expected OK status before break, got %s", code)
	}

	err := s.BreakCouple(context.Background(), []int64{1003, 1001, 1002}, "Yes, I want to break bad couple 1001:1002:1003")
	if !cmn.IsValidation(err) {
		t.Fatalf("expected a validation error for the wrong qualifier, got %v", err)
	}

	if err := s.BreakCouple(context.Background(), []int64{1003, 1001, 1002}, "Yes, I want to break good couple 1001:1002:1003"); err != nil {
		t.Fatalf("BreakCouple: %v", err)
	}

	if _, err := state.Groupsets.Get("1001:1002:1003"); err == nil {
		t.Fatal("expected the groupset to be removed after BreakCouple")
	}
	for _, gid := range []int64{1001, 1002, 1003} {
		g, err := state.Groups.Get(gid)
		if err != nil {
			t.Fatalf("Groups.Get(%d): %v", gid, err)
		}
		if g.Meta() != nil {
			t.Fatalf("expected group %d meta to be reset, got %+v", gid, g.Meta())
		}
		if g.Groupset != nil {
			t.Fatalf("expected group %d Groupset back-pointer to be cleared, got %v", gid, g.Groupset)
		}
		for _, b := range g.Backends() {
			if _, err := storage.ReadMetakey(context.Background(), b); err == nil {
				t.Fatalf("expected metakey for backend %s to be removed", b.Key())
			}
		}
	}
	ns := state.NamespaceOrCreate("img")
	for _, id := range ns.Couples() {
		if id == "1001:1002:1003" {
			t.Fatal("expected the broken couple id to be detached from its namespace")
		}
	}
}

func TestRepairGroupRewritesNamespace(t *testing.T) {
	s, state, inv, storage := newTestSurface(t)
	buildCouple(t, state, storage, inv, "1001:1002:1003", []int64{1001, 1002, 1003}, []string{"A", "B", "C"}, "img")

	if err := s.RepairGroup(context.Background(), 1001, "archive"); err != nil {
		t.Fatalf("RepairGroup: %v", err)
	}
	g, err := state.Groups.Get(1001)
	if err != nil {
		t.Fatalf("Groups.Get: %v", err)
	}
	if g.Meta().Namespace != "archive" {
		t.Fatalf("expected namespace to be rewritten to archive, got %q", g.Meta().Namespace)
	}

	blob, err := storage.ReadMetakey(context.Background(), g.Backends()[0])
	if err != nil {
		t.Fatalf("ReadMetakey: %v", err)
	}
	parsed, err := cluster.ParseMetakey(blob)
	if err != nil {
		t.Fatalf("ParseMetakey: %v", err)
	}
	if parsed.Namespace != "archive" {
		t.Fatalf("expected the stored metakey to reflect the new namespace, got %q", parsed.Namespace)
	}
}

func TestAttachGroupsetToCoupleValidatesSettingsAndRollsBackOnFailure(t *testing.T) {
	s, state, inv, storage := newTestSurface(t)
	couple := buildCouple(t, state, storage, inv, "1001:1002:1003", []int64{1001, 1002, 1003}, []string{"A", "B", "C"}, "img")

	lrcGroups := make([]*cluster.Group, 12)
	for i := 0; i < 12; i++ {
		lrcGroups[i] = addGroup(state, inv, int64(2000+i), "D")
	}
	ns := state.NamespaceOrCreate("img")
	lrc := cluster.NewLRCGroupset("lrc-2000", lrcGroups, 4<<20, "lrc-8-2-2-v1", ns)

	if err := s.AttachGroupsetToCouple(context.Background(), couple.ID(), lrc, map[string]interface{}{"bogus": true}); !cmn.IsValidation(err) {
		t.Fatalf("expected a validation error for an unknown setting, got %v", err)
	}

	// Inject one failure partway through the backend writes to exercise rollback.
	storage.FailNext(cmn.NewTransientError("query_test: injected failure", nil))
	if err := s.AttachGroupsetToCouple(context.Background(), couple.ID(), lrc, nil); err == nil {
		t.Fatal("expected AttachGroupsetToCouple to surface the injected write failure")
	}
	if _, err := state.Groupsets.Get("lrc-2000"); err == nil {
		t.Fatal("expected the groupset to be rolled back after a write failure")
	}
	// NewLRCGroupset links every member group's Groupset pointer up front,
	// before any metakey is written; the rollback must undo that for all
	// twelve groups, not just the ones whose write actually landed.
	for _, g := range lrcGroups {
		if g.Groupset != nil {
			t.Fatalf("expected group %d Groupset back-pointer to be cleared after rollback, got %v", g.GroupID, g.Groupset)
		}
		if g.Meta() != nil {
			t.Fatalf("expected group %d meta to be restored to nil after rollback, got %+v", g.GroupID, g.Meta())
		}
	}

	if err := s.AttachGroupsetToCouple(context.Background(), couple.ID(), lrc, nil); err != nil {
		t.Fatalf("AttachGroupsetToCouple: %v", err)
	}
	if _, err := state.Groupsets.Get("lrc-2000"); err != nil {
		t.Fatalf("expected the groupset to be committed, got %v", err)
	}
	for _, g := range lrcGroups {
		if g.Groupset != lrc {
			t.Fatalf("expected group %d to be re-linked to the LRC groupset after a retried attach, got %v", g.GroupID, g.Groupset)
		}
	}
	if couple.LRC != lrc || lrc.Replicas != couple {
		t.Fatal("expected the couple and the LRC groupset to be linked both ways")
	}
}
