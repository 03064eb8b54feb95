package cmn

import (
	"sync"
	"sync/atomic"
	"time"

	jsoniter "github.com/json-iterator/go"
)

// Config holds the recognized options from spec §6. It is loaded once at
// process start and thereafter read through the atomically-swapped owner
// below (mirrors the teacher's cmn.GCO "global config owner").
type Config struct {
	Elliptics struct {
		Nodes []string `json:"nodes"`
	} `json:"elliptics"`

	Metadata struct {
		Nodes  []string `json:"nodes"`
		Groups []int64  `json:"groups"`
		URL    string   `json:"url"`

		Jobs           SubsystemDB `json:"jobs"`
		ExternalStorage SubsystemDB `json:"external_storage"`
		History        SubsystemDB `json:"history"`
		Couples        SubsystemDB `json:"couples"`
		Cache          SubsystemDB `json:"cache"`
	} `json:"metadata"`

	WaitTimeout time.Duration `json:"wait_timeout"`

	ReservedSpace               int64 `json:"reserved_space"`
	NodeBackendStatStaleTimeout time.Duration `json:"node_backend_stat_stale_timeout"`

	ForbiddenDHTGroups                 bool `json:"forbidden_dht_groups"`
	ForbiddenDCSharingAmongGroups      bool `json:"forbidden_dc_sharing_among_groups"`
	ForbiddenNSWithoutSettings         bool `json:"forbidden_ns_without_settings"`
	ForbiddenUnmatchedGroupTotalSpace  bool `json:"forbidden_unmatched_group_total_space"`

	BalancerConfig struct {
		MinUnits int `json:"min_units"`
		AddUnits int `json:"add_units"`
	} `json:"balancer_config"`

	NodesReloadPeriod time.Duration `json:"nodes_reload_period"`
	FallbackHostsPerDC int          `json:"fallback_hosts_per_dc"`

	Cache struct {
		GroupPathPrefix string `json:"group_path_prefix"`
	} `json:"cache"`
}

// SubsystemDB names the collection backing one metadata subsystem. When
// Collection is empty the subsystem is disabled: Enabled reports false and
// parsing does not fail (spec §6). Nothing in this package logs it.
type SubsystemDB struct {
	Collection string `json:"db"`
}

func (s SubsystemDB) Enabled() bool { return s.Collection != "" }

func DefaultConfig() *Config {
	c := &Config{}
	c.WaitTimeout = DefaultWaitTimeout
	c.ReservedSpace = DefaultReservedSpace
	c.NodeBackendStatStaleTimeout = DefaultStaleTimeout
	c.FallbackHostsPerDC = 1
	return c
}

func ParseConfig(data []byte) (*Config, error) {
	c := DefaultConfig()
	if err := jsoniter.ConfigCompatibleWithStandardLibrary.Unmarshal(data, c); err != nil {
		return nil, NewValidationError("failed to parse config: %v", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.WaitTimeout <= 0 {
		return NewValidationError("wait_timeout must be positive")
	}
	if c.ReservedSpace < 0 {
		return NewValidationError("reserved_space must not be negative")
	}
	if c.FallbackHostsPerDC < 0 {
		return NewValidationError("fallback_hosts_per_dc must not be negative")
	}
	return nil
}

// globalConfigOwner is an atomically-swapped pointer to the current Config,
// named after the teacher's cmn.GCO so that "GCO.Get()" reads the same way
// in both codebases.
type globalConfigOwner struct {
	mtx sync.Mutex
	cfg atomic.Value
}

func (o *globalConfigOwner) Get() *Config {
	v := o.cfg.Load()
	if v == nil {
		return DefaultConfig()
	}
	return v.(*Config)
}

func (o *globalConfigOwner) Put(c *Config) {
	o.mtx.Lock()
	defer o.mtx.Unlock()
	o.cfg.Store(c)
}

// GCO is the process-wide config owner, seeded with DefaultConfig at init;
// GCO.Put swaps in a different *Config.
var GCO = &globalConfigOwner{}

func init() {
	GCO.Put(DefaultConfig())
}
