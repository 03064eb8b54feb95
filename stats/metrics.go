package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry exports a small set of cluster-health gauges through
// prometheus/client_golang, the teacher's metrics dependency for anything
// meant to be scraped rather than logged.
type Registry struct {
	reg *prometheus.Registry

	GroupsByStatus    *prometheus.GaugeVec
	CouplesByStatus   *prometheus.GaugeVec
	BackendsByStatus  *prometheus.GaugeVec
	EffectiveSpace    prometheus.Gauge
	EffectiveFreeSpace prometheus.Gauge
}

func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		GroupsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mastermind",
			Subsystem: "cluster",
			Name:      "groups",
			Help:      "Number of groups, partitioned by status.",
		}, []string{"status"}),
		CouplesByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mastermind",
			Subsystem: "cluster",
			Name:      "couples",
			Help:      "Number of replicas couples, partitioned by status.",
		}, []string{"status"}),
		BackendsByStatus: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "mastermind",
			Subsystem: "cluster",
			Name:      "node_backends",
			Help:      "Number of node backends, partitioned by status.",
		}, []string{"status"}),
		EffectiveSpace: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mastermind",
			Subsystem: "cluster",
			Name:      "effective_space_bytes",
			Help:      "Sum of effective_space across all node backends.",
		}),
		EffectiveFreeSpace: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "mastermind",
			Subsystem: "cluster",
			Name:      "effective_free_space_bytes",
			Help:      "Sum of effective_free_space across all node backends.",
		}),
	}

	reg.MustRegister(r.GroupsByStatus, r.CouplesByStatus, r.BackendsByStatus, r.EffectiveSpace, r.EffectiveFreeSpace)
	return r
}

func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }

// SetGroupsByStatus replaces the full group-status gauge vector, keyed by
// status code (spec §3: a fixed, closed set of codes).
func (r *Registry) SetGroupsByStatus(counts map[string]int) {
	r.GroupsByStatus.Reset()
	for status, n := range counts {
		r.GroupsByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (r *Registry) SetCouplesByStatus(counts map[string]int) {
	r.CouplesByStatus.Reset()
	for status, n := range counts {
		r.CouplesByStatus.WithLabelValues(status).Set(float64(n))
	}
}

func (r *Registry) SetBackendsByStatus(counts map[string]int) {
	r.BackendsByStatus.Reset()
	for status, n := range counts {
		r.BackendsByStatus.WithLabelValues(status).Set(float64(n))
	}
}
