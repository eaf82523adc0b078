// Package dispatch drives the single goroutine per shard that consumes
// upstream events, keeps the cache current, intercepts READY/RESUMED, and
// fans everything else out to the broadcast bus and (optionally) the
// analytics relay.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/boting-devs/gateway-proxy/broadcast"
	"github.com/boting-devs/gateway-proxy/cache"
	"github.com/boting-devs/gateway-proxy/deserializer"
	"github.com/boting-devs/gateway-proxy/discord"
	"github.com/boting-devs/gateway-proxy/metrics"
	"github.com/boting-devs/gateway-proxy/upstream"
)

// Relay is the subset of the analytics relay's behavior dispatch needs;
// kept as an interface so dispatch never depends on NATS directly.
type Relay interface {
	Publish(eventType string, raw json.RawMessage)
}

// ReadyLatch is a write-once-per-session cell plus a wake-all notifier: the
// dispatcher sets it once per upstream READY, client sessions wait on it
// before starting their synthetic handshake.
type ReadyLatch struct {
	mu       sync.RWMutex
	template json.RawMessage
	ready    chan struct{}
}

// NewReadyLatch builds an unset latch.
func NewReadyLatch() *ReadyLatch {
	return &ReadyLatch{ready: make(chan struct{})}
}

// Set stores a new ReadyTemplate and wakes every current and future waiter
// up to the next Set. Re-notification on upstream reconnect is intentional:
// clients already past a previous Wait are unaffected since they never
// call Wait again.
func (l *ReadyLatch) Set(template json.RawMessage) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.template = template
	close(l.ready)
	l.ready = make(chan struct{})
}

// Wait blocks until a ReadyTemplate has been set at least once, then
// returns the most recently set template.
func (l *ReadyLatch) Wait(ctx context.Context) (json.RawMessage, error) {
	l.mu.RLock()
	template := l.template
	waitCh := l.ready
	l.mu.RUnlock()

	if template != nil {
		return template, nil
	}

	select {
	case <-waitCh:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.template, nil
}

// Dispatcher consumes one shard's upstream event stream.
type Dispatcher struct {
	ShardID string // label used for metrics

	Cache   cache.Cache
	Bus     *broadcast.Bus
	Latch   *ReadyLatch
	Metrics *metrics.Registry
	Relay   Relay // nil when the analytics relay is disabled

	decode func(eventType string, raw json.RawMessage) (cache.Event, bool)
}

// New builds a Dispatcher. decodeEvent turns a raw dispatch payload into a
// typed cache.Event the cache understands; it returns ok=false for event
// types the cache has no handler for, and such events skip cache.Update.
func New(shardID string, c cache.Cache, bus *broadcast.Bus, latch *ReadyLatch, reg *metrics.Registry, relay Relay, decodeEvent func(string, json.RawMessage) (cache.Event, bool)) *Dispatcher {
	return &Dispatcher{
		ShardID: shardID,
		Cache:   c,
		Bus:     bus,
		Latch:   latch,
		Metrics: reg,
		Relay:   relay,
		decode:  decodeEvent,
	}
}

// Run consumes events until ctx is canceled or the channel is closed,
// closing the Bus on exit so subscribed clients observe end-of-stream.
func (d *Dispatcher) Run(ctx context.Context, events <-chan upstream.Event) {
	defer d.Bus.Close()

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			d.handle(ctx, ev)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, ev upstream.Event) {
	if cacheEvent, ok := d.decode(ev.Type, extractD(ev.Raw)); ok {
		_ = d.Cache.Update(ctx, cacheEvent)
	}

	env, err := deserializer.Parse(ev.Raw)
	if err != nil {
		// MalformedFrame / MissingOp: drop the frame, keep going.
		return
	}

	eventType := ""
	if env.Event != nil {
		eventType = env.Event.Name
	}

	if d.Metrics != nil {
		d.Metrics.ShardEvents.WithLabelValues(d.ShardID, eventType).Inc()
	}

	switch eventType {
	case "READY":
		d.handleReady(ev.Raw)
		return
	case "RESUMED":
		return
	}

	if discord.Op(env.Op) == discord.OpDispatch {
		msg := broadcast.Message{Payload: ev.Raw}
		if env.Sequence != nil {
			msg.SequenceOffset = env.Sequence.Offset
			msg.SequenceLength = env.Sequence.Length
		}
		d.Bus.Publish(msg)

		if d.Relay != nil {
			d.Relay.Publish(eventType, extractD(ev.Raw))
		}
	}
}

func (d *Dispatcher) handleReady(raw json.RawMessage) {
	body := map[string]json.RawMessage{}
	if err := json.Unmarshal(extractD(raw), &body); err != nil {
		return
	}
	// Replay synthesizes its own unavailable-guild stubs from the cache;
	// the real guild list never needs to reach a client.
	body["guilds"] = json.RawMessage("[]")

	template, err := json.Marshal(body)
	if err != nil {
		return
	}
	d.Latch.Set(template)
}

// extractD pulls the d field out of a raw dispatch frame without the
// caller needing its own json.Unmarshal of the whole envelope.
func extractD(raw json.RawMessage) json.RawMessage {
	var envelope struct {
		D json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil
	}
	return envelope.D
}
