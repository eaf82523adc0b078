// Package supervisor bundles the per-shard handles (cache, upstream
// driver, ready-latch, broadcast bus) and runs the periodic status/latency
// reporter that feeds the metrics registry.
package supervisor

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/boting-devs/gateway-proxy/broadcast"
	"github.com/boting-devs/gateway-proxy/cache"
	"github.com/boting-devs/gateway-proxy/dispatch"
	"github.com/boting-devs/gateway-proxy/downstream"
	"github.com/boting-devs/gateway-proxy/metrics"
	"github.com/boting-devs/gateway-proxy/upstream"
)

// reportInterval is how often a shard's stage and latency are sampled
// into the metrics registry.
const reportInterval = 60 * time.Second

// ShardHandle groups everything one shard needs: its real upstream
// connection, its cache view, the ready-latch gating client replay, and
// the bus clients subscribe to.
type ShardHandle struct {
	ShardID  int
	Upstream *upstream.Shard
	Cache    cache.Cache
	Bus      *broadcast.Bus
	Latch    *dispatch.ReadyLatch
	Metrics  *metrics.Registry
}

// Binding adapts a ShardHandle to the shape downstream.Server consumes.
func (h *ShardHandle) Binding() *downstream.Binding {
	return &downstream.Binding{Cache: h.Cache, Bus: h.Bus, Latch: h.Latch}
}

// label is the string form of ShardID used on every metric this shard
// reports, matching the {shard} label dispatch and downstream already use.
func (h *ShardHandle) label() string {
	return strconv.Itoa(h.ShardID)
}

// Run starts the shard's periodic status/latency reporter and blocks until
// ctx is canceled.
func (h *ShardHandle) Run(ctx context.Context) {
	ticker := time.NewTicker(reportInterval)
	defer ticker.Stop()

	h.report()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.report()
		}
	}
}

func (h *ShardHandle) report() {
	if h.Metrics == nil {
		return
	}

	label := h.label()
	stage := metrics.Stage(h.Upstream.StageNow())
	h.Metrics.ShardStatus.WithLabelValues(label).Observe(stage.Value())

	rtt := math.NaN()
	if latency := h.Upstream.Latency(); latency > 0 {
		rtt = latency.Seconds()
	}
	h.Metrics.ShardLatency.WithLabelValues(label).Observe(rtt)
}
