// Package relay mirrors dispatched gateway events onto NATS Streaming as
// msgpack envelopes, for analytics consumers that want the raw event
// stream without holding a gateway-shaped WebSocket client open. It is
// optional: disabled configurations never construct a Relay at all.
package relay

import (
	"encoding/json"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/stan.go"
	"github.com/rs/zerolog"
	"github.com/vmihailenco/msgpack"
)

// Envelope is the msgpack-encoded message published for every mirrored
// event.
type Envelope struct {
	Shard string          `msgpack:"shard"`
	Type  string          `msgpack:"type"`
	Data  json.RawMessage `msgpack:"data"`
}

// Relay publishes events onto a single NATS Streaming channel. Publish
// failures are logged and swallowed; they never propagate to the
// dispatcher.
type Relay struct {
	nats    *nats.Conn
	stan    stan.Conn
	channel string
	shard   string
	log     *zerolog.Logger

	blacklist map[string]struct{}
}

// Config carries the connection details needed to build a Relay.
type Config struct {
	NatsAddress string
	ClusterID   string
	ClientID    string
	Channel     string
	Blacklist   []string
}

// Connect dials NATS and NATS Streaming and returns a ready Relay.
func Connect(cfg Config, shardID string, log *zerolog.Logger) (*Relay, error) {
	nc, err := nats.Connect(cfg.NatsAddress)
	if err != nil {
		return nil, err
	}

	sc, err := stan.Connect(cfg.ClusterID, cfg.ClientID, stan.NatsConn(nc))
	if err != nil {
		nc.Close()
		return nil, err
	}

	blacklist := make(map[string]struct{}, len(cfg.Blacklist))
	for _, t := range cfg.Blacklist {
		blacklist[t] = struct{}{}
	}

	return &Relay{
		nats:      nc,
		stan:      sc,
		channel:   cfg.Channel,
		shard:     shardID,
		log:       log,
		blacklist: blacklist,
	}, nil
}

// Publish mirrors one event onto the configured channel. It never blocks
// the caller on a failed connection: errors are logged, not returned,
// matching the dispatcher's requirement that the relay can never stall or
// fail dispatch.
func (r *Relay) Publish(eventType string, raw json.RawMessage) {
	if r == nil {
		return
	}
	if _, blocked := r.blacklist[eventType]; blocked {
		return
	}

	encoded, err := msgpack.Marshal(Envelope{Shard: r.shard, Type: eventType, Data: raw})
	if err != nil {
		if r.log != nil {
			r.log.Warn().Err(err).Str("type", eventType).Msg("failed to marshal relay envelope")
		}
		return
	}

	ack := func(_ string, err error) {
		if err != nil && r.log != nil {
			r.log.Warn().Err(err).Str("type", eventType).Msg("failed to publish relay envelope")
		}
	}
	if _, err := r.stan.PublishAsync(r.channel, encoded, ack); err != nil {
		if r.log != nil {
			r.log.Warn().Err(err).Str("type", eventType).Msg("failed to publish relay envelope")
		}
	}
}

// Close releases the NATS Streaming and NATS connections.
func (r *Relay) Close() error {
	if r == nil {
		return nil
	}
	if err := r.stan.Close(); err != nil {
		return err
	}
	r.nats.Close()
	return nil
}
