package cluster

import (
	"github.com/v-nikulichev/mastermind/cmn"
	"github.com/v-nikulichev/mastermind/cmn/debug"
)

// MultiRepository composes two sub-repositories (replicas groupsets and LRC
// groupsets) behind one lookup-by-key-membership interface, per spec §4.A.
// Duplicate keys across the sub-repositories are a programmer error and are
// asserted against at insertion time, not silently resolved.
//
// Keys() and Values() are both flat concatenations of the two
// sub-repositories' corresponding iterators -- resolving the open question
// in spec.md §9 about the source's keys()/values() divergence (itevalues
// typo vs itervalues) the same way for both.
type MultiRepository[K comparable, V any] struct {
	Replicas *Repository[K, V]
	LRC      *Repository[K, V]
}

func NewMultiRepository[K comparable, V any](replicasDesc, lrcDesc string) *MultiRepository[K, V] {
	return &MultiRepository[K, V]{
		Replicas: NewRepository[K, V](replicasDesc),
		LRC:      NewRepository[K, V](lrcDesc),
	}
}

func (m *MultiRepository[K, V]) Get(key K) (V, error) {
	if v, err := m.Replicas.Get(key); err == nil {
		return v, nil
	}
	if v, err := m.LRC.Get(key); err == nil {
		return v, nil
	}
	var zero V
	return zero, cmn.NewNotFoundError("groupset", keyString(key))
}

func (m *MultiRepository[K, V]) Contains(key K) bool {
	return m.Replicas.Contains(key) || m.LRC.Contains(key)
}

// PutReplicas installs v under key in the replicas sub-repository. Panics
// (in debug builds, via debug.Assertf) if key already exists in the LRC
// sub-repository -- duplicate keys across sub-repositories are a
// programmer error, not a runtime condition to tolerate silently.
func (m *MultiRepository[K, V]) PutReplicas(key K, v V) {
	debug.Assertf(!m.LRC.Contains(key), "groupset key %s already present in the LRC sub-repository", keyString(key))
	m.Replicas.Put(key, v)
}

func (m *MultiRepository[K, V]) PutLRC(key K, v V) {
	debug.Assertf(!m.Replicas.Contains(key), "groupset key %s already present in the replicas sub-repository", keyString(key))
	m.LRC.Put(key, v)
}

func (m *MultiRepository[K, V]) Remove(key K) error {
	if m.Replicas.Contains(key) {
		return m.Replicas.Remove(key)
	}
	return m.LRC.Remove(key)
}

func (m *MultiRepository[K, V]) Keys() []K {
	out := m.Replicas.Keys()
	out = append(out, m.LRC.Keys()...)
	return out
}

func (m *MultiRepository[K, V]) Values() []V {
	out := m.Replicas.Values()
	out = append(out, m.LRC.Values()...)
	return out
}

func (m *MultiRepository[K, V]) Len() int {
	return m.Replicas.Len() + m.LRC.Len()
}
