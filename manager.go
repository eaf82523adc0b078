package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/boting-devs/gateway-proxy/broadcast"
	"github.com/boting-devs/gateway-proxy/cache"
	"github.com/boting-devs/gateway-proxy/client"
	"github.com/boting-devs/gateway-proxy/config"
	"github.com/boting-devs/gateway-proxy/dispatch"
	"github.com/boting-devs/gateway-proxy/downstream"
	"github.com/boting-devs/gateway-proxy/metrics"
	"github.com/boting-devs/gateway-proxy/relay"
	"github.com/boting-devs/gateway-proxy/supervisor"
	"github.com/boting-devs/gateway-proxy/upstream"
)

// Manager owns one shard unit (upstream driver + cache + dispatcher +
// ready-latch + broadcast bus) per shard id and starts/stops them
// together.
type Manager struct {
	Config config.Config
	Log    zerolog.Logger

	Redis   *redis.Client
	Metrics *metrics.Registry
	Relay   *relay.Relay

	handles     []*supervisor.ShardHandle
	dispatchers []*dispatch.Dispatcher

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewLogger builds the console + optional rotated-file zerolog logger.
func NewLogger(cfg config.Logging) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	console := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Stamp}

	if cfg.FilePath == "" {
		return zerolog.New(console).With().Timestamp().Logger()
	}

	rotated := &lumberjack.Logger{
		Filename:   cfg.FilePath,
		MaxSize:    100,
		MaxBackups: 5,
		MaxAge:     28,
	}
	return zerolog.New(zerolog.MultiLevelWriter(console, rotated)).With().Timestamp().Logger()
}

// NewManager resolves the shard count (fetching it from /gateway/bot when
// Autoshard is set), builds one ShardHandle per shard, and wires each to
// its own dispatcher.
func NewManager(cfg config.Config, log zerolog.Logger) (*Manager, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Address,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.Database,
	})

	rest := client.NewClient(cfg.Token)
	rest.UserAgent = fmt.Sprintf("DiscordBot (gateway-proxy, v%s)", upstream.ProxyVersion)

	gatewayURL := "wss://gateway.discord.gg"
	shardCount := cfg.ShardCount

	if cfg.Autoshard {
		bot, err := rest.GatewayBot()
		if err != nil {
			return nil, fmt.Errorf("fetching /gateway/bot: %w", err)
		}
		gatewayURL = bot.URL
		shardCount = bot.Shards
		if cfg.IdentifyConcurrency == 0 {
			cfg.IdentifyConcurrency = bot.SessionLimit.MaxConcurrency
		}
	}
	if cfg.IdentifyConcurrency < 1 {
		cfg.IdentifyConcurrency = 1
	}

	reg := metrics.New()

	var rel *relay.Relay
	var dispatchRelay dispatch.Relay // left nil when disabled, so dispatch skips the call entirely
	if cfg.Relay.Enabled {
		r, err := relay.Connect(relay.Config{
			NatsAddress: cfg.Relay.NatsAddress,
			ClusterID:   cfg.Relay.ClusterID,
			ClientID:    cfg.Relay.ClientID,
			Channel:     cfg.Relay.NatsChannel,
			Blacklist:   cfg.Relay.Blacklist,
		}, "manager", &log)
		if err != nil {
			return nil, fmt.Errorf("connecting relay: %w", err)
		}
		rel = r
		dispatchRelay = r
	}

	limiter := upstream.NewIdentifyLimiter(cfg.IdentifyConcurrency)

	m := &Manager{
		Config:  cfg,
		Log:     log,
		Redis:   rdb,
		Metrics: reg,
		Relay:   rel,
	}

	for shardID := 0; shardID < shardCount; shardID++ {
		shardLog := log.With().Int("shard", shardID).Logger()
		shardCache := cache.NewRedisCache(rdb, cfg.Redis.Prefix, shardID)
		bus := broadcast.New(broadcast.DefaultCapacity)
		latch := dispatch.NewReadyLatch()

		shard := upstream.NewShard(cfg.Token, shardID, shardCount, gatewayURL, limiter, &shardLog)

		d := dispatch.New(fmt.Sprint(shardID), shardCache, bus, latch, reg, dispatchRelay, dispatch.DecodeEvent)

		m.handles = append(m.handles, &supervisor.ShardHandle{
			ShardID:  shardID,
			Upstream: shard,
			Cache:    shardCache,
			Bus:      bus,
			Latch:    latch,
			Metrics:  reg,
		})
		m.dispatchers = append(m.dispatchers, d)
	}

	return m, nil
}

// Open starts every shard's upstream connection, dispatcher, and
// supervisor reporting loop.
func (m *Manager) Open(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	m.cancel = cancel

	for i, handle := range m.handles {
		handle := handle
		d := m.dispatchers[i]

		if err := handle.Upstream.Open(ctx); err != nil {
			return fmt.Errorf("opening shard %d: %w", handle.ShardID, err)
		}

		m.wg.Add(2)
		go func() {
			defer m.wg.Done()
			d.Run(ctx, handle.Upstream.Events)
		}()
		go func() {
			defer m.wg.Done()
			handle.Run(ctx)
		}()
	}

	return nil
}

// Bindings exposes every shard's downstream.Binding, keyed by shard id
// string, for the downstream.Server to route client connections against.
func (m *Manager) Bindings() map[string]*downstream.Binding {
	out := make(map[string]*downstream.Binding, len(m.handles))
	for _, h := range m.handles {
		out[fmt.Sprint(h.ShardID)] = h.Binding()
	}
	return out
}

// Close stops every shard and waits for its goroutines to exit.
func (m *Manager) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
	for _, h := range m.handles {
		_ = h.Upstream.Close(1000)
	}
	if m.Relay != nil {
		_ = m.Relay.Close()
	}
	_ = m.Redis.Close()
}

// MetricsHandler returns the /metrics HTTP handler for this Manager's
// private Prometheus registry.
func (m *Manager) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(m.Metrics.Registry, promhttp.HandlerOpts{})
}
