// Package upstream owns the single real Discord gateway WebSocket
// connection per shard: the hello/identify/resume handshake, the
// heartbeat loop, and reconnection with backoff. It republishes every
// decoded dispatch frame to the dispatcher over a Go channel.
package upstream

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/boting-devs/gateway-proxy/discord"
)

// ProxyVersion is reported in the identify properties and REST user agent.
const ProxyVersion = "1.0"

// ErrAlreadyOpen is returned by Open when the shard already has a live
// connection.
var ErrAlreadyOpen = errors.New("upstream: shard already open")

// ErrShardBounds is returned when ShardCount is greater than one and
// ShardID is not less than ShardCount.
var ErrShardBounds = errors.New("upstream: shard id must be less than shard count")

// ErrNotOpen is returned by operations that require a live connection.
var ErrNotOpen = errors.New("upstream: no connection open")

// Stage mirrors metrics.Stage without importing the metrics package, to
// keep upstream free of an observability dependency; supervisor translates.
type Stage int

// Connection stages reported to the supervisor.
const (
	StageDisconnected Stage = iota
	StageHandshaking
	StageIdentifying
	StageResuming
	StageConnected
)

// Event is one decoded dispatch frame, with both the parsed envelope
// fields the driver itself needs and the raw JSON text the dispatcher
// re-scans for byte-accurate sequence splicing.
type Event struct {
	Op       discord.Op
	Sequence int64
	Type     string
	Raw      []byte
}

// Shard drives one upstream Discord gateway connection.
type Shard struct {
	mu sync.RWMutex

	Token      string
	ShardID    int
	ShardCount int
	Gateway    string // wss:// URL, dialed as given; no version or encoding query is appended
	Compress   bool

	Limiter *IdentifyLimiter

	Log *zerolog.Logger

	Events chan Event

	openMu     sync.Mutex // serializes Open calls; distinct from wsMu so Open can call sendIdentify/sendResume, which take wsMu themselves
	conn       *websocket.Conn
	wsMu       sync.Mutex
	sequence   int64
	sessionID  string
	listening  chan struct{}
	stage      Stage
	lastAckAt  time.Time
	lastSentAt time.Time
}

// NewShard builds a Shard ready to Open.
func NewShard(token string, shardID, shardCount int, gateway string, limiter *IdentifyLimiter, log *zerolog.Logger) *Shard {
	return &Shard{
		Token:      token,
		ShardID:    shardID,
		ShardCount: shardCount,
		Gateway:    gateway,
		Compress:   true,
		Limiter:    limiter,
		Log:        log,
		Events:     make(chan Event, 2048),
	}
}

// StageNow returns the shard's current connection stage.
func (s *Shard) StageNow() Stage {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stage
}

// Latency returns the most recent heartbeat round trip time.
func (s *Shard) Latency() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastAckAt.IsZero() || s.lastSentAt.IsZero() {
		return 0
	}
	return s.lastAckAt.Sub(s.lastSentAt)
}

func (s *Shard) setStage(stage Stage) {
	s.mu.Lock()
	s.stage = stage
	s.mu.Unlock()
}

// Open dials the gateway, performs the hello/identify-or-resume handshake,
// and starts the heartbeat and read-loop goroutines. It returns once the
// first frame after identify/resume (normally READY or RESUMED) has been
// read and delivered; that frame's type is not checked.
func (s *Shard) Open(ctx context.Context) (err error) {
	s.openMu.Lock()
	defer s.openMu.Unlock()

	s.wsMu.Lock()
	alreadyOpen := s.conn != nil
	s.wsMu.Unlock()
	if alreadyOpen {
		return ErrAlreadyOpen
	}

	s.setStage(StageHandshaking)

	if err := s.Limiter.Acquire(ctx); err != nil {
		return err
	}
	defer s.Limiter.Release()

	header := http.Header{}
	if s.Compress {
		header.Add("accept-encoding", "zlib")
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, s.Gateway, header)
	if err != nil {
		s.Log.Error().Err(err).Str("gateway", s.Gateway).Msg("error connecting to gateway")
		return err
	}

	defer func() {
		if err != nil {
			conn.Close()
		}
	}()

	mt, raw, err := conn.ReadMessage()
	if err != nil {
		return err
	}
	op, _, d, err := s.decode(mt, raw)
	if err != nil {
		return err
	}
	if op.Op != discord.OpHello {
		return fmt.Errorf("upstream: expected hello, got op %d", op.Op)
	}

	var hello discord.Hello
	if err := json.Unmarshal(d, &hello); err != nil {
		return fmt.Errorf("upstream: decoding hello: %w", err)
	}

	s.wsMu.Lock()
	s.conn = conn
	s.wsMu.Unlock()

	resuming := s.sessionID != "" && atomic.LoadInt64(&s.sequence) != 0
	if resuming {
		s.setStage(StageResuming)
		if err := s.sendResume(conn); err != nil {
			return err
		}
	} else {
		s.setStage(StageIdentifying)
		if err := s.sendIdentify(ctx, conn); err != nil {
			return err
		}
	}

	mt, raw, err = conn.ReadMessage()
	if err != nil {
		return err
	}
	first, _, firstData, err := s.decode(mt, raw)
	if err != nil {
		return err
	}

	if first.Type == "READY" {
		var ready struct {
			SessionID string `json:"session_id"`
		}
		if err := json.Unmarshal(firstData, &ready); err == nil {
			s.mu.Lock()
			s.sessionID = ready.SessionID
			s.mu.Unlock()
		}
	}

	s.setStage(StageConnected)
	s.mu.Lock()
	s.lastAckAt = time.Now().UTC()
	s.listening = make(chan struct{})
	listening := s.listening
	s.mu.Unlock()

	s.deliver(first)

	go s.heartbeat(listening, time.Duration(hello.HeartbeatInterval)*time.Millisecond)
	go s.listen(conn, listening)

	return nil
}

func (s *Shard) listen(conn *websocket.Conn, listening <-chan struct{}) {
	for {
		mt, raw, err := conn.ReadMessage()
		if err != nil {
			s.wsMu.Lock()
			same := s.conn == conn
			s.wsMu.Unlock()
			if same {
				s.Log.Error().Err(err).Int("shard", s.ShardID).Msg("error reading from gateway")
				s.Close(websocket.CloseNormalClosure)
				go s.reconnect()
			}
			return
		}

		select {
		case <-listening:
			return
		default:
		}

		ev, forward, _, err := s.decode(mt, raw)
		if err != nil {
			s.Log.Warn().Err(err).Int("shard", s.ShardID).Msg("error decoding gateway frame")
			continue
		}
		if forward {
			s.deliver(ev)
		}
	}
}

func (s *Shard) deliver(e Event) {
	select {
	case s.Events <- e:
	default:
		s.Log.Warn().Int("shard", s.ShardID).Msg("dispatcher channel full, dropping event")
	}
}

// decode reads one frame (decompressing if binary/zlib), handles the
// opcodes that are the driver's own responsibility (heartbeat ack,
// heartbeat request, reconnect, invalid session, hello), and reports
// whether the caller should forward it to the dispatcher (true only for
// genuine Dispatch frames; the caller for Open's handshake frames ignores
// this and inspects ev directly).
func (s *Shard) decode(messageType int, message []byte) (ev Event, forward bool, payloadRaw []byte, err error) {
	var reader io.Reader = bytes.NewReader(message)

	if messageType == websocket.BinaryMessage {
		zr, zerr := zlib.NewReader(reader)
		if zerr != nil {
			return ev, false, nil, zerr
		}
		defer zr.Close()
		reader = zr
	}

	decoded, err := io.ReadAll(reader)
	if err != nil {
		return ev, false, nil, err
	}

	var envelope struct {
		Op discord.Op      `json:"op"`
		S  *int64          `json:"s"`
		T  string          `json:"t"`
		D  json.RawMessage `json:"d"`
	}
	if err := json.Unmarshal(decoded, &envelope); err != nil {
		return ev, false, nil, err
	}

	// ev.Raw carries the whole decoded frame (not just d), since the
	// dispatcher re-scans it with the deserializer to find the byte span
	// of the s value for in-place splicing per client.
	ev = Event{Op: envelope.Op, Type: envelope.T, Raw: decoded}
	if envelope.S != nil {
		ev.Sequence = *envelope.S
		atomic.StoreInt64(&s.sequence, *envelope.S)
	}

	switch envelope.Op {
	case discord.OpHeartbeat:
		s.sendHeartbeatNow()
		return ev, false, envelope.D, nil
	case discord.OpReconnect:
		s.Log.Debug().Int("shard", s.ShardID).Msg("reconnect requested by gateway")
		s.Close(4000)
		go s.reconnect()
		return ev, false, envelope.D, nil
	case discord.OpInvalidSession:
		s.Log.Debug().Int("shard", s.ShardID).Msg("invalid session, re-identifying")
		if err := s.sendIdentify(context.Background(), s.currentConn()); err != nil {
			s.Log.Warn().Err(err).Msg("error re-identifying")
		}
		return ev, false, envelope.D, nil
	case discord.OpHeartbeatAck:
		s.mu.Lock()
		s.lastAckAt = time.Now().UTC()
		s.mu.Unlock()
		return ev, false, envelope.D, nil
	case discord.OpHello:
		return ev, false, envelope.D, nil
	case discord.OpDispatch:
		return ev, true, envelope.D, nil
	default:
		return ev, false, envelope.D, nil
	}
}

func (s *Shard) currentConn() *websocket.Conn {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return s.conn
}

func (s *Shard) sendHeartbeatNow() {
	conn := s.currentConn()
	if conn == nil {
		return
	}
	s.wsMu.Lock()
	_ = conn.WriteJSON(struct {
		Op int   `json:"op"`
		D  int64 `json:"d"`
	}{int(discord.OpHeartbeat), atomic.LoadInt64(&s.sequence)})
	s.wsMu.Unlock()
}

func (s *Shard) heartbeat(listening <-chan struct{}, interval time.Duration) {
	if interval <= 0 {
		interval = 41250 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		conn := s.currentConn()
		if conn == nil {
			return
		}

		s.mu.Lock()
		s.lastSentAt = time.Now().UTC()
		s.mu.Unlock()

		s.wsMu.Lock()
		err := conn.WriteJSON(struct {
			Op int   `json:"op"`
			D  int64 `json:"d"`
		}{int(discord.OpHeartbeat), atomic.LoadInt64(&s.sequence)})
		s.wsMu.Unlock()

		s.mu.RLock()
		last := s.lastAckAt
		s.mu.RUnlock()

		if err != nil || time.Since(last) > interval*5 {
			if err != nil {
				s.Log.Error().Err(err).Int("shard", s.ShardID).Msg("error sending heartbeat")
			} else {
				s.Log.Error().Int("shard", s.ShardID).Msg("heartbeat ack timeout, reconnecting")
			}
			s.Close(websocket.CloseNormalClosure)
			go s.reconnect()
			return
		}

		select {
		case <-ticker.C:
		case <-listening:
			return
		}
	}
}

func (s *Shard) sendIdentify(ctx context.Context, conn *websocket.Conn) error {
	if conn == nil {
		return ErrNotOpen
	}
	if s.ShardCount > 1 && s.ShardID >= s.ShardCount {
		return ErrShardBounds
	}

	data := discord.IdentifyData{
		Token: s.Token,
		Properties: discord.IdentifyProperties{
			OS:      runtime.GOOS,
			Browser: "gateway-proxy v" + ProxyVersion,
			Device:  "gateway-proxy v" + ProxyVersion,
		},
		LargeThreshold: 250,
		Compress:       false, // transport compression is handled per-frame, not via this flag
	}
	if s.ShardCount > 1 {
		data.Shard = &[2]int{s.ShardID, s.ShardCount}
	}

	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return conn.WriteJSON(struct {
		Op int                  `json:"op"`
		D  discord.IdentifyData `json:"d"`
	}{int(discord.OpIdentify), data})
}

func (s *Shard) sendResume(conn *websocket.Conn) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()
	return conn.WriteJSON(struct {
		Op int                `json:"op"`
		D  discord.ResumeData `json:"d"`
	}{int(discord.OpResume), discord.ResumeData{
		Token:     s.Token,
		SessionID: s.sessionID,
		Sequence:  atomic.LoadInt64(&s.sequence),
	}})
}

// reconnect retries Open with exponential backoff capped at 600 seconds.
func (s *Shard) reconnect() {
	wait := time.Second
	for {
		s.Log.Info().Int("shard", s.ShardID).Msg("reconnecting to gateway")
		err := s.Open(context.Background())
		if err == nil {
			s.Log.Info().Int("shard", s.ShardID).Msg("reconnected to gateway")
			return
		}
		if errors.Is(err, ErrAlreadyOpen) {
			return
		}
		s.Log.Warn().Err(err).Int("shard", s.ShardID).Msg("error reconnecting")

		time.Sleep(wait)
		wait *= 2
		if wait > 600*time.Second {
			wait = 600 * time.Second
		}
	}
}

// Close terminates the connection with the given close code and stops the
// heartbeat/listen goroutines.
func (s *Shard) Close(code int) error {
	s.wsMu.Lock()
	defer s.wsMu.Unlock()

	s.mu.Lock()
	if s.listening != nil {
		close(s.listening)
		s.listening = nil
	}
	s.mu.Unlock()
	s.setStage(StageDisconnected)

	if s.conn == nil {
		return nil
	}

	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(code, ""))
	err := s.conn.Close()
	s.conn = nil
	return err
}
