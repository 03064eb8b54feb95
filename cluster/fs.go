package cluster

import (
	"fmt"
	"sync"

	"github.com/v-nikulichev/mastermind/cmn"
)

// FS is a filesystem (host, fsid) owning a set of NodeBackends (spec §3).
// Status is OK unless the sum of owned backends' advertised total_space
// exceeds the VFS total -- then BROKEN (misconfiguration).
type FS struct {
	Host *Host
	FSID string

	mtx      sync.RWMutex
	backends map[string]*NodeBackend

	Stat FsStat

	status     string
	statusText string
}

func FSKey(hostAddr, fsid string) string { return hostAddr + ":" + fsid }

func (f *FS) Key() string { return FSKey(f.Host.Addr, f.FSID) }

func NewFS(host *Host, fsid string) *FS {
	return &FS{Host: host, FSID: fsid, backends: make(map[string]*NodeBackend), status: cmn.StatusInit}
}

// FsStat carries the folded VFS/dstat counters for a FS (spec §3, §4.B).
type FsStat struct {
	CollectTS int64

	VFSTotal, VFSFree uint64

	// raw dstat counters as last observed, used as the fold's "previous"
	// side of the monotone-counter map.
	IOTicks, ReadTicks, WriteTicks, ReadSectors uint64

	DiskUtilRead, DiskUtilWrite float64 // derived fractions of 1.0

	ReadBps, WriteBps float64 // derived byte rates
}

// addBackend installs backend under this FS. A backend migrates FS by being
// removed from its old FS and added to the new one (spec §3).
func (f *FS) addBackend(b *NodeBackend) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	f.backends[b.Key()] = b
}

func (f *FS) removeBackend(key string) {
	f.mtx.Lock()
	defer f.mtx.Unlock()
	delete(f.backends, key)
}

func (f *FS) Backends() []*NodeBackend {
	f.mtx.RLock()
	defer f.mtx.RUnlock()
	out := make([]*NodeBackend, 0, len(f.backends))
	for _, b := range f.backends {
		out = append(out, b)
	}
	return out
}

// RecomputeStatus applies the FS status rule: BROKEN if owned backends'
// advertised total_space sums past the VFS total, else OK.
func (f *FS) RecomputeStatus() {
	f.mtx.RLock()
	var sum uint64
	for _, b := range f.backends {
		sum += b.Stat.TotalSpace
	}
	f.mtx.RUnlock()

	if f.Stat.VFSTotal > 0 && sum > f.Stat.VFSTotal {
		f.status = cmn.StatusBroken
		f.statusText = fmt.Sprintf("backends advertise %d total bytes, exceeding vfs total %d", sum, f.Stat.VFSTotal)
		return
	}
	f.status = cmn.StatusOK
	f.statusText = ""
}

func (f *FS) Status() (code, text string) { return f.status, f.statusText }
