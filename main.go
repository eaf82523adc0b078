package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/boting-devs/gateway-proxy/config"
	"github.com/boting-devs/gateway-proxy/downstream"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(err)
	}

	log := NewLogger(cfg.Logging)

	manager, err := NewManager(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build manager")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := manager.Open(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to open shards")
	}

	downstreamServer := &downstream.Server{
		Bindings: manager.Bindings(),
		Metrics:  manager.Metrics,
		Log:      &log,
	}

	go func() {
		if err := http.ListenAndServe(cfg.Downstream.ListenAddress, downstreamServer); err != nil {
			log.Error().Err(err).Msg("downstream listener exited")
		}
	}()

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", manager.MetricsHandler())
		if err := http.ListenAndServe(cfg.Metrics.ListenAddress, mux); err != nil {
			log.Error().Err(err).Msg("metrics listener exited")
		}
	}()

	log.Info().
		Str("downstream", cfg.Downstream.ListenAddress).
		Str("metrics", cfg.Metrics.ListenAddress).
		Int("shards", cfg.ShardCount).
		Msg("gateway proxy started")

	sc := make(chan os.Signal, 1)
	signal.Notify(sc, syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	<-sc

	log.Info().Msg("shutting down")
	manager.Close()
}
