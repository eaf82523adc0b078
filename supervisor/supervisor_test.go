package supervisor

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/boting-devs/gateway-proxy/broadcast"
	"github.com/boting-devs/gateway-proxy/cache"
	"github.com/boting-devs/gateway-proxy/dispatch"
	"github.com/boting-devs/gateway-proxy/metrics"
	"github.com/boting-devs/gateway-proxy/upstream"
)

func TestBindingExposesCacheBusLatch(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	h := &ShardHandle{
		ShardID:  0,
		Upstream: upstream.NewShard("tok", 0, 1, "wss://example.invalid", upstream.NewIdentifyLimiter(1), nil),
		Cache:    cache.NewRedisCache(client, "test", 0),
		Bus:      broadcast.New(4),
		Latch:    dispatch.NewReadyLatch(),
		Metrics:  metrics.New(),
	}

	b := h.Binding()
	if b.Cache != h.Cache || b.Bus != h.Bus || b.Latch != h.Latch {
		t.Fatalf("Binding() did not carry through the handle's fields")
	}
}

func TestRunReportsStatusUntilCanceled(t *testing.T) {
	h := &ShardHandle{
		ShardID:  3,
		Upstream: upstream.NewShard("tok", 3, 1, "wss://example.invalid", upstream.NewIdentifyLimiter(1), nil),
		Metrics:  metrics.New(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	h.Run(ctx)

	metric, err := h.Metrics.ShardStatus.GetMetricWithLabelValues("3")
	if err != nil {
		t.Fatalf("GetMetricWithLabelValues: %v", err)
	}
	if metric == nil {
		t.Fatalf("expected a status observation for shard 3")
	}
}
