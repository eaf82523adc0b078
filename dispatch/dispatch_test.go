package dispatch

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"

	"github.com/boting-devs/gateway-proxy/broadcast"
	"github.com/boting-devs/gateway-proxy/cache"
	"github.com/boting-devs/gateway-proxy/metrics"
	"github.com/boting-devs/gateway-proxy/upstream"
)

func newTestDispatcher(t *testing.T) (*Dispatcher, *broadcast.Bus, *ReadyLatch) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	c := cache.NewRedisCache(client, "test", 0)
	bus := broadcast.New(16)
	latch := NewReadyLatch()
	reg := metrics.New()

	return New("0", c, bus, latch, reg, nil, DecodeEvent), bus, latch
}

func frame(t *testing.T, op int, seq int64, eventType string, data interface{}) []byte {
	t.Helper()
	d, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	envelope := struct {
		Op int             `json:"op"`
		S  int64           `json:"s"`
		T  string          `json:"t,omitempty"`
		D  json.RawMessage `json:"d"`
	}{Op: op, S: seq, T: eventType, D: d}
	raw, err := json.Marshal(envelope)
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return raw
}

func TestReadyIsInterceptedAndLatched(t *testing.T) {
	d, bus, latch := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan upstream.Event, 1)
	go d.Run(ctx, events)

	sub := bus.Subscribe()
	defer sub.Close()

	events <- upstream.Event{
		Op:   0,
		Type: "READY",
		Raw: frame(t, 0, 1, "READY", map[string]interface{}{
			"session_id": "abc",
			"guilds":     []interface{}{map[string]interface{}{"id": "1", "unavailable": true}},
		}),
	}

	waitCtx, waitCancel := context.WithTimeout(context.Background(), time.Second)
	defer waitCancel()
	template, err := latch.Wait(waitCtx)
	if err != nil {
		t.Fatalf("latch never set: %v", err)
	}

	var body map[string]json.RawMessage
	if err := json.Unmarshal(template, &body); err != nil {
		t.Fatalf("template not valid json: %v", err)
	}
	if string(body["guilds"]) != "[]" {
		t.Fatalf("expected guilds stubbed to [], got %s", body["guilds"])
	}

	done := make(chan struct{})
	recvCtx, recvCancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer recvCancel()
	go func() {
		<-recvCtx.Done()
		close(done)
	}()
	if _, _, ok := sub.Recv(done); ok {
		t.Fatalf("READY must not be broadcast to subscribers")
	}
}

func TestResumedIsNeverBroadcast(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan upstream.Event, 2)
	go d.Run(ctx, events)

	sub := bus.Subscribe()
	defer sub.Close()

	events <- upstream.Event{Op: 0, Type: "RESUMED", Raw: frame(t, 0, 7, "RESUMED", map[string]interface{}{})}
	events <- upstream.Event{Op: 0, Type: "MESSAGE_CREATE", Raw: frame(t, 0, 8, "MESSAGE_CREATE", map[string]interface{}{"id": "1"})}

	done := make(chan struct{})
	msg, err, ok := sub.Recv(done)
	if !ok || err != nil {
		t.Fatalf("expected a delivered message, got ok=%v err=%v", ok, err)
	}
	var envelope struct {
		T string `json:"t"`
	}
	if err := json.Unmarshal(msg.Payload, &envelope); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if envelope.T != "MESSAGE_CREATE" {
		t.Fatalf("RESUMED leaked to a subscriber: got %s", msg.Payload)
	}
}

func TestDispatchPublishesNonReadyEvents(t *testing.T) {
	d, bus, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan upstream.Event, 1)
	go d.Run(ctx, events)

	sub := bus.Subscribe()
	defer sub.Close()

	raw := frame(t, 0, 5, "MESSAGE_CREATE", map[string]interface{}{"id": "123"})
	events <- upstream.Event{Op: 0, Type: "MESSAGE_CREATE", Raw: raw}

	done := make(chan struct{})
	msg, err, ok := sub.Recv(done)
	if !ok || err != nil {
		t.Fatalf("expected a delivered message, got ok=%v err=%v", ok, err)
	}
	if string(msg.Payload) != string(raw) {
		t.Fatalf("payload mismatch: got %s want %s", msg.Payload, raw)
	}
}

func TestGuildCreateIsAppliedToCache(t *testing.T) {
	d, _, _ := newTestDispatcher(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	events := make(chan upstream.Event, 1)
	go d.Run(ctx, events)

	raw := frame(t, 0, 2, "GUILD_CREATE", map[string]interface{}{
		"id":   "42",
		"name": "My Guild",
	})
	events <- upstream.Event{Op: 0, Type: "GUILD_CREATE", Raw: raw}

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		guilds, err := d.Cache.Guilds(context.Background())
		if err == nil && len(guilds) == 1 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("GUILD_CREATE never applied to cache")
}
