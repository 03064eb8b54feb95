package cluster

// Exported wrappers around unexported state-derivation internals, for use
// by cluster_test's black-box suites only.

func RecomputeGroupStatusForTest(g *Group, deps StatusDeps) {
	recomputeGroupStatus(g, deps)
}

func SetStatusForTest(g *Group, code, text string) {
	g.setStatus(code, text)
}
