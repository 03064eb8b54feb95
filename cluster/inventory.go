package cluster

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/v-nikulichev/mastermind/cmn"
)

// ParentTree is the chain of topology parents for a host, from the
// immediate parent up to "root": e.g. {"dc": "dc1", "row": "row3",
// "rack": "rack12"}. Keys are node-type names (spec §4.F's NODE_TYPES,
// minus "root" and "hdd").
type ParentTree map[string]string

// InventoryLookup is the external collaborator that resolves a host
// address to its hostname and topology parent tree (spec §1, §6). A strict
// lookup surfaces CacheUpstreamError on failure; a lenient lookup returns
// "unknown" instead.
type InventoryLookup interface {
	Hostname(ctx context.Context, addr string) (string, error)
	ParentTree(ctx context.Context, addr string) (ParentTree, error)
	DC(ctx context.Context, addr string) (string, error)
}

// DCNodeType is the node-type name used for forbidden-DC-sharing checks (spec
// §4.D, §4.F).
const DCNodeType = "dc"

// inventoryCache lazily resolves and memoizes inventory-backed attributes,
// generalizing the original's infrastructure_cache module. Concurrent
// lookups for the same address are coalesced with singleflight so a cache
// stampede against the inventory backend during a large topology refresh
// collapses to one upstream call.
type inventoryCache struct {
	lookup InventoryLookup
	group  singleflight.Group

	mtx     sync.RWMutex
	parents map[string]ParentTree
	dcs     map[string]string
	names   map[string]string
}

func newInventoryCache(lookup InventoryLookup) *inventoryCache {
	return &inventoryCache{
		lookup:  lookup,
		parents: make(map[string]ParentTree),
		dcs:     make(map[string]string),
		names:   make(map[string]string),
	}
}

func (c *inventoryCache) hostname(ctx context.Context, addr string) (string, error) {
	c.mtx.RLock()
	if n, ok := c.names[addr]; ok {
		c.mtx.RUnlock()
		return n, nil
	}
	c.mtx.RUnlock()

	v, err, _ := c.group.Do("hostname:"+addr, func() (interface{}, error) {
		n, err := c.lookup.Hostname(ctx, addr)
		if err != nil {
			return "", cmn.NewCacheUpstreamError(err)
		}
		c.mtx.Lock()
		c.names[addr] = n
		c.mtx.Unlock()
		return n, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *inventoryCache) dc(ctx context.Context, addr string) (string, error) {
	c.mtx.RLock()
	if d, ok := c.dcs[addr]; ok {
		c.mtx.RUnlock()
		return d, nil
	}
	c.mtx.RUnlock()

	v, err, _ := c.group.Do("dc:"+addr, func() (interface{}, error) {
		d, err := c.lookup.DC(ctx, addr)
		if err != nil {
			return "", cmn.NewCacheUpstreamError(err)
		}
		c.mtx.Lock()
		c.dcs[addr] = d
		c.mtx.Unlock()
		return d, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (c *inventoryCache) parentTree(ctx context.Context, addr string) (ParentTree, error) {
	c.mtx.RLock()
	if p, ok := c.parents[addr]; ok {
		c.mtx.RUnlock()
		return p, nil
	}
	c.mtx.RUnlock()

	v, err, _ := c.group.Do("parents:"+addr, func() (interface{}, error) {
		p, err := c.lookup.ParentTree(ctx, addr)
		if err != nil {
			return ParentTree(nil), cmn.NewCacheUpstreamError(err)
		}
		c.mtx.Lock()
		c.parents[addr] = p
		c.mtx.Unlock()
		return p, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(ParentTree), nil
}

// lenientDC returns "unknown" instead of propagating a CacheUpstreamError,
// per spec §6's lenient inventory form; used by paths that must not fail
// just because the inventory backend is momentarily unavailable (e.g.
// status derivation read paths).
func (c *inventoryCache) lenientDC(ctx context.Context, addr string) string {
	d, err := c.dc(ctx, addr)
	if err != nil {
		return "unknown"
	}
	return d
}

// invalidate drops all cached values for addr, forcing the next lookup to
// hit the inventory backend again.
func (c *inventoryCache) invalidate(addr string) {
	c.mtx.Lock()
	defer c.mtx.Unlock()
	delete(c.names, addr)
	delete(c.dcs, addr)
	delete(c.parents, addr)
}
