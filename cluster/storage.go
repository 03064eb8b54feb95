package cluster

import "context"

// ErrEmptyMetakey is the storage-session-level sentinel spec §4.F calls
// "error -2 means suitable": a group whose metakey read fails with this
// error has no metakey written yet and is a valid build candidate.
type ErrEmptyMetakey struct{ BackendKey string }

func (e *ErrEmptyMetakey) Error() string { return "metakey is empty for " + e.BackendKey }

// StorageSession is the data-plane collaborator that actually reads and
// writes the metakey bytes on a NodeBackend (spec §1: out of process, but
// the core still owns the interface its callers code against). `elliptics`
// in spec §6 names the real implementation; tests and single-process runs
// use an in-memory fake (package testutil).
type StorageSession interface {
	ReadMetakey(ctx context.Context, b *NodeBackend) ([]byte, error)
	WriteMetakey(ctx context.Context, b *NodeBackend, blob []byte) error
	RemoveMetakey(ctx context.Context, b *NodeBackend) error
}
