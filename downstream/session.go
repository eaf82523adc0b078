// Package downstream terminates client-facing gateway connections: the
// RFC 6455 handshake, the replay-then-live handoff from cached guild state
// to the live broadcast bus, and optional zlib-stream compression.
package downstream

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"net/http"
	"path"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/boting-devs/gateway-proxy/broadcast"
	"github.com/boting-devs/gateway-proxy/cache"
	"github.com/boting-devs/gateway-proxy/discord"
	"github.com/boting-devs/gateway-proxy/dispatch"
	"github.com/boting-devs/gateway-proxy/metrics"
	"github.com/boting-devs/gateway-proxy/replay"
)

// Binding is everything a client session of a single shard needs: the
// cache to replay from, the bus to go live against, and the latch that
// gates the replay until the shard's had at least one upstream READY.
type Binding struct {
	Cache cache.Cache
	Bus   *broadcast.Bus
	Latch *dispatch.ReadyLatch
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:    4096,
	WriteBufferSize:   4096,
	EnableCompression: false, // transport compression is our own zlib-stream, not permessage-deflate
	CheckOrigin:       func(r *http.Request) bool { return true },
}

// Server is the net/http handler clients connect to. One Server serves
// every shard; Bindings is keyed by shard id as it appears in the
// connection path, e.g. "/gateway/0".
type Server struct {
	Bindings map[string]*Binding
	Metrics  *metrics.Registry
	Log      *zerolog.Logger
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	_, ok := validateUpgrade(r)
	if !ok {
		http.Error(w, "bad websocket handshake", http.StatusBadRequest)
		return
	}

	shardID := path.Base(r.URL.Path)
	binding, ok := s.Bindings[shardID]
	if !ok {
		http.Error(w, "unknown shard", http.StatusNotFound)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.Log != nil {
			s.Log.Error().Err(err).Str("addr", r.RemoteAddr).Msg("failed to upgrade client connection")
		}
		return
	}

	sess := &clientSession{
		conn:     conn,
		binding:  binding,
		compress: wantsCompression(r),
		metrics:  s.Metrics,
		shardID:  shardID,
		log:      s.Log,
	}
	go sess.run()
}

// clientSession owns one downstream client's replay-then-live handoff.
type clientSession struct {
	conn     *websocket.Conn
	binding  *Binding
	compress bool
	metrics  *metrics.Registry
	shardID  string
	log      *zerolog.Logger

	// writeMu serializes the replay/live writer with heartbeat acks sent
	// from the inbound-read goroutine; gorilla allows one writer at a time
	// and the zlib stream state must not interleave.
	writeMu sync.Mutex
	zlibBuf bytes.Buffer
	zlibW   *zlib.Writer
}

func (c *clientSession) run() {
	defer c.conn.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan struct{})
	go c.readInbound(done)

	if err := c.replayThenLive(ctx, done); err != nil {
		if c.metrics != nil {
			if lagged, isLagged := err.(broadcast.Lagged); isLagged {
				c.metrics.ClientLagged.WithLabelValues(c.shardID).Add(float64(lagged.N))
			}
		}
	}
}

// readInbound handles frames the client sends: heartbeats are acked
// locally, identify/resume/voice frames are accepted and otherwise
// ignored (the shard already holds the real session), and a read error or
// close frame ends the session.
func (c *clientSession) readInbound(done chan struct{}) {
	defer close(done)
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var envelope struct {
			Op discord.Op `json:"op"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			continue
		}
		if envelope.Op == discord.OpHeartbeat {
			ack := discord.Payload{Op: discord.OpHeartbeatAck}
			if b, err := json.Marshal(ack); err == nil {
				_ = c.send(b)
			}
		}
		// Identify, Resume, PresenceUpdate, VoiceStateUpdate: accepted and
		// dropped, never forwarded upstream.
	}
}

func (c *clientSession) replayThenLive(ctx context.Context, done chan struct{}) error {
	template, err := c.binding.Latch.Wait(ctx)
	if err != nil {
		return err
	}

	var seq uint64

	sub := c.binding.Bus.Subscribe()
	defer sub.Close()

	ready, err := replay.BuildReady(ctx, c.binding.Cache, template, &seq)
	if err != nil {
		return err
	}
	if err := c.sendPayload(ready); err != nil {
		return err
	}

	for result := range replay.GuildPayloads(ctx, c.binding.Cache, &seq) {
		if result.Err != nil {
			return result.Err
		}
		if err := c.sendPayload(result.Payload); err != nil {
			return err
		}
	}

	for {
		msg, err, ok := sub.Recv(done)
		if !ok {
			return nil
		}
		if err != nil {
			return err
		}

		seq++
		framed := spliceSequence(msg.Payload, msg.SequenceOffset, msg.SequenceLength, seq)
		if err := c.send(framed); err != nil {
			return err
		}
	}
}

func (c *clientSession) sendPayload(p discord.Payload) error {
	b, err := json.Marshal(p)
	if err != nil {
		return err
	}
	return c.send(b)
}

// send writes one frame to the client, compressing it into the
// connection's persistent zlib stream when compress was requested at
// handshake time.
func (c *clientSession) send(payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))

	if !c.compress {
		return c.conn.WriteMessage(websocket.TextMessage, payload)
	}

	if c.zlibW == nil {
		c.zlibW = zlib.NewWriter(&c.zlibBuf)
	}
	c.zlibBuf.Reset()
	if _, err := c.zlibW.Write(payload); err != nil {
		return err
	}
	if err := c.zlibW.Flush(); err != nil {
		return err
	}
	return c.conn.WriteMessage(websocket.BinaryMessage, c.zlibBuf.Bytes())
}

// spliceSequence rewrites the "s":<n> byte span the deserializer located
// in payload with newSeq's decimal text, without re-marshaling the rest
// of the frame. When length is zero (no sequence field was present),
// payload is returned unmodified.
func spliceSequence(payload []byte, offset, length int, newSeq uint64) []byte {
	if length == 0 {
		return payload
	}
	replacement := strconv.FormatUint(newSeq, 10)
	out := make([]byte, 0, len(payload)-length+len(replacement))
	out = append(out, payload[:offset]...)
	out = append(out, replacement...)
	out = append(out, payload[offset+length:]...)
	return out
}
