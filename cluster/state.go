package cluster

// State is the root of the cluster state model: every repository named in
// spec §4.A, collected as fields of one value owned by the scheduler
// (Design Notes §9). There is exactly one State per process; the
// cooperative scheduler is the only goroutine that mutates it, so no
// package-level lock guards it as a whole -- individual repositories carry
// their own.
type State struct {
	Hosts     *Repository[string, *Host]
	Nodes     *Repository[string, *Node]
	FSs       *Repository[string, *FS]
	Backends  *Repository[string, *NodeBackend]
	Groups    *Repository[int64, *Group]
	Namespaces *Repository[string, *Namespace]

	// Groupsets composes the replicas and LRC groupset repositories, keyed
	// by groupset id, per spec §4.A's multi-repository.
	Groupsets *MultiRepository[string, Groupset]

	inventory *inventoryCache
}

func NewState(lookup InventoryLookup) *State {
	return &State{
		Hosts:      NewRepository[string, *Host]("hosts"),
		Nodes:      NewRepository[string, *Node]("nodes"),
		FSs:        NewRepository[string, *FS]("fs"),
		Backends:   NewRepository[string, *NodeBackend]("node_backends"),
		Groups:     NewRepository[int64, *Group]("groups"),
		Namespaces: NewRepository[string, *Namespace]("namespaces"),
		Groupsets: NewMultiRepository[string, Groupset]("replicas_groupsets", "lrc_groupsets"),
		inventory: newInventoryCache(lookup),
	}
}

// HostOrCreate looks up or lazily creates the Host for addr, wiring in this
// state's shared inventory cache.
func (s *State) HostOrCreate(addr string) *Host {
	return s.Hosts.AddOrGet(addr, NewHost(addr, s.inventory))
}

func (s *State) NodeOrCreate(host *Host, port, family int) *Node {
	key := NodeKey(host.Addr, port, family)
	return s.Nodes.AddOrGet(key, NewNode(host, port, family))
}

func (s *State) FSOrCreate(host *Host, fsid string) *FS {
	key := FSKey(host.Addr, fsid)
	return s.FSs.AddOrGet(key, NewFS(host, fsid))
}

func (s *State) BackendOrCreate(node *Node, backendID int64) *NodeBackend {
	key := BackendKey(node.Host.Addr, node.Port, node.Family, backendID)
	return s.Backends.AddOrGet(key, NewNodeBackend(node, backendID))
}

func (s *State) GroupOrCreate(id int64) *Group {
	return s.Groups.AddOrGet(id, NewGroup(id))
}

func (s *State) NamespaceOrCreate(id string) *Namespace {
	return s.Namespaces.AddOrGet(id, NewNamespace(id))
}
