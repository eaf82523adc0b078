// Package metrics holds the Prometheus collectors this proxy exposes over
// /metrics: per-shard event counts, upstream latency/status, and client
// lag, registered against a private registry rather than the global
// default one so embedding this module never collides with a host
// process's own metrics.
package metrics

import (
	"math"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the collectors this proxy registers and exposes.
type Registry struct {
	Registry *prometheus.Registry

	ShardEvents  *prometheus.CounterVec
	ShardLatency *prometheus.HistogramVec
	ShardStatus  *prometheus.HistogramVec
	ClientLagged *prometheus.CounterVec
}

// Stage maps an upstream connection stage to the float value
// gateway_shard_status reports for it.
type Stage int

// Known upstream connection stages.
const (
	StageDisconnected Stage = iota
	StageHandshaking
	StageIdentifying
	StageResuming
	StageConnected
)

// Value returns the float gateway_shard_status reports for this stage.
func (s Stage) Value() float64 {
	switch s {
	case StageDisconnected:
		return 0
	case StageHandshaking:
		return 1
	case StageIdentifying:
		return 2
	case StageResuming:
		return 3
	case StageConnected:
		return 4
	default:
		return math.NaN()
	}
}

// New builds and registers the collector set.
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		Registry: reg,
		ShardEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_shard_events",
			Help: "Number of dispatch events received per shard, by event type.",
		}, []string{"shard", "event_type"}),
		ShardLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_shard_latency",
			Help:    "Most recent heartbeat round-trip time per shard, in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"shard"}),
		ShardStatus: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "gateway_shard_status",
			Help:    "Current upstream connection stage per shard (see metrics.Stage).",
			Buckets: []float64{0, 1, 2, 3, 4},
		}, []string{"shard"}),
		ClientLagged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "gateway_client_lagged",
			Help: "Number of broadcast messages dropped for downstream clients terminated for falling behind, per shard.",
		}, []string{"shard"}),
	}

	reg.MustRegister(r.ShardEvents, r.ShardLatency, r.ShardStatus, r.ClientLagged)

	return r
}
