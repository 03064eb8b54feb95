package cluster

import (
	"context"
	"fmt"

	"github.com/OneOfOne/xxhash"
)

// Host is a physical or virtual machine carrying one or more Nodes (spec
// §3). Equality is by address. Topology parents (DC, row, rack, ...) are
// resolved lazily through the inventory cache, mirroring the teacher's
// cluster.Snode which precomputes an identity digest once on first use.
type Host struct {
	Addr string

	nodes []*Node

	cache *inventoryCache
	digest uint64
}

func NewHost(addr string, cache *inventoryCache) *Host {
	return &Host{Addr: addr, cache: cache}
}

func (h *Host) Digest() uint64 {
	if h.digest == 0 {
		h.digest = xxhash.ChecksumString64S(h.Addr, 0)
	}
	return h.digest
}

func (h *Host) Equals(other *Host) bool {
	if h == nil || other == nil {
		return false
	}
	return h.Addr == other.Addr
}

func (h *Host) String() string { return h.Addr }

func (h *Host) Nodes() []*Node { return h.nodes }

func (h *Host) addNode(n *Node) {
	for _, existing := range h.nodes {
		if existing == n {
			return
		}
	}
	h.nodes = append(h.nodes, n)
}

// Hostname resolves this host's DNS hostname via the inventory (strict:
// surfaces CacheUpstreamError on failure).
func (h *Host) Hostname(ctx context.Context) (string, error) {
	return h.cache.hostname(ctx, h.Addr)
}

// DC resolves this host's datacenter, leniently: "unknown" on inventory
// failure rather than propagating an error, since DC is consulted from
// hot status-derivation paths that must not fail just because inventory is
// momentarily down.
func (h *Host) DC(ctx context.Context) string {
	return h.cache.lenientDC(ctx, h.Addr)
}

// ParentTree resolves the host's full topology parent chain (strict).
func (h *Host) ParentTree(ctx context.Context) (ParentTree, error) {
	return h.cache.parentTree(ctx, h.Addr)
}

// Node is a process endpoint (host, port, family) on some Host (spec §3).
type Node struct {
	Host   *Host
	Port   int
	Family int

	Stat NodeStat
}

func NodeKey(addr string, port, family int) string {
	return fmt.Sprintf("%s:%d/%d", addr, port, family)
}

func (n *Node) Key() string { return NodeKey(n.Host.Addr, n.Port, n.Family) }

// NodeStat carries the folded runtime statistics for a Node (spec §3,
// §4.B).
type NodeStat struct {
	CollectTS int64

	LoadAverage float64

	TxBytes, RxBytes   uint64 // cumulative counters as last observed
	TxRateBps, RxRateBps float64 // derived rates

	Cmd CommandStat
}

// CommandStat is the aggregated per-node command-stat structure folded
// from backend-level counters (spec §3).
type CommandStat struct {
	DiskReadTimeMs  float64
	DiskWriteTimeMs float64

	DiskReadBps  float64
	DiskWriteBps float64
	NetReadBps   float64
	NetWriteBps  float64
}

// NewNode registers a node exactly once on its host, per spec §3's
// ownership rule ("Node is inserted exactly once on first observation and
// lives until process restart").
func NewNode(host *Host, port, family int) *Node {
	n := &Node{Host: host, Port: port, Family: family}
	host.addNode(n)
	return n
}
