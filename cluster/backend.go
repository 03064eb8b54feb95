package cluster

import (
	"strconv"
	"time"

	"github.com/v-nikulichev/mastermind/cmn"
)

// NodeBackend is a single data-serving process endpoint on a Node, owning
// one on-disk store (spec §3). It is assigned to at most one FS and at
// most one Group.
type NodeBackend struct {
	Node      *Node
	BackendID int64

	FS    *FS
	Group *Group

	Stat NodeBackendStat

	Disabled bool
	ReadOnly bool

	status     string
	statusText string
}

func BackendKey(nodeAddr string, port, family int, backendID int64) string {
	return NodeKey(nodeAddr, port, family) + "/" + strconv.FormatInt(backendID, 10)
}

func (b *NodeBackend) Key() string {
	return BackendKey(b.Node.Host.Addr, b.Node.Port, b.Node.Family, b.BackendID)
}

// NodeBackendStat carries the folded counters for a NodeBackend (spec §3,
// §4.B).
type NodeBackendStat struct {
	CollectTS time.Time

	TotalSpace, FreeSpace, UsedSpace uint64
	VFSTotalSpace, VFSFreeSpace, VFSUsedSpace uint64

	RecordsTotal, RecordsRemoved uint64
	RecordsRemovedSize           uint64

	Fragmentation float64

	DefragState string
	WantDefrag  int

	BlobSizeLimit uint64
	BlobSizeCur   uint64

	QueueBlocking, QueueNonBlocking int

	BackendStartTS time.Time

	StatCommitErrors int
}

func NewNodeBackend(node *Node, backendID int64) *NodeBackend {
	return &NodeBackend{Node: node, BackendID: backendID, status: cmn.StatusInit}
}

// SetFS moves the backend to fs, removing it from any previous FS, per the
// exclusive-ownership / migration rule in spec §3.
func (b *NodeBackend) SetFS(fs *FS) {
	if b.FS != nil && b.FS != fs {
		b.FS.removeBackend(b.Key())
	}
	b.FS = fs
	if fs != nil {
		fs.addBackend(b)
	}
}

// SetGroup moves the backend to group, removing it from any previous group
// symmetrically (spec §3: "A NodeBackend is owned by at most one Group at
// a time; reassignment is symmetric").
func (b *NodeBackend) SetGroup(g *Group) {
	if b.Group != nil && b.Group != g {
		b.Group.removeBackend(b)
	}
	b.Group = g
	if g != nil {
		g.addBackend(b)
	}
}

// EffectiveSpace is total_space minus the VFS reserve, apportioned to this
// backend by its share of the filesystem's total space (spec §3 invariant):
//
//	effective_space <= total_space - ceil(VFS_RESERVED * total/vfs_total)
func (b *NodeBackend) EffectiveSpace(reservedSpace int64) int64 {
	total := int64(b.Stat.TotalSpace)
	if b.FS == nil || b.FS.Stat.VFSTotal == 0 {
		return total
	}
	vfsTotal := int64(b.FS.Stat.VFSTotal)
	reserve := ceilDiv(reservedSpace*total, vfsTotal)
	eff := total - reserve
	if eff < 0 {
		return 0
	}
	return eff
}

func (b *NodeBackend) EffectiveFreeSpace(reservedSpace int64) int64 {
	free := int64(b.Stat.FreeSpace)
	eff := b.EffectiveSpace(reservedSpace)
	total := int64(b.Stat.TotalSpace)
	if total == 0 {
		return 0
	}
	// scale free space by the same reserve fraction applied to total space.
	scaled := free * eff / total
	if scaled < 0 {
		return 0
	}
	return scaled
}

func ceilDiv(a, b int64) int64 {
	if b == 0 {
		return 0
	}
	if a%b == 0 {
		return a / b
	}
	return a/b + 1
}

// IsStalled reports whether the last stat is older than the staleness
// threshold (spec §4.B).
func (b *NodeBackend) IsStalled(now time.Time, staleTimeout time.Duration) bool {
	if b.Stat.CollectTS.IsZero() {
		return false
	}
	return now.Sub(b.Stat.CollectTS) > staleTimeout
}

// ApplyStatCommitReset resets StatCommitErrors when BackendStartTS advances
// (spec §3): a process restart invalidates accumulated commit-error counts.
func (b *NodeBackend) ApplyStatCommitReset(newStartTS time.Time) {
	if newStartTS.After(b.Stat.BackendStartTS) {
		b.Stat.StatCommitErrors = 0
	}
	b.Stat.BackendStartTS = newStartTS
}

// RecomputeStatus derives {INIT, OK, RO, STALLED, BROKEN} for this backend
// (spec §3). Called after every stat fold or flag change.
func (b *NodeBackend) RecomputeStatus(now time.Time, staleTimeout time.Duration) {
	if b.Stat.CollectTS.IsZero() {
		b.status, b.statusText = cmn.StatusInit, ""
		return
	}
	if b.Disabled {
		b.status, b.statusText = cmn.StatusBroken, "backend disabled"
		return
	}
	if b.IsStalled(now, staleTimeout) {
		b.status, b.statusText = cmn.StatusStalled, "stat is stale"
		return
	}
	if b.ReadOnly {
		b.status, b.statusText = cmn.StatusRO, "backend is read-only"
		return
	}
	b.status, b.statusText = cmn.StatusOK, ""
}

func (b *NodeBackend) Status() (code, text string) { return b.status, b.statusText }
