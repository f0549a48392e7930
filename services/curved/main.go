package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"launchpad/core/events"
	"launchpad/native/curve"
	"launchpad/observability"
	"launchpad/observability/logging"
	telemetry "launchpad/observability/otel"
	"launchpad/services/curved/config"
	"launchpad/services/curved/index"
	"launchpad/services/curved/server"
	"launchpad/services/curved/stream"
	"launchpad/state"
	"launchpad/storage"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "services/curved/config.yaml", "path to curved configuration file")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("CURVED_ENV"))
	logger := logging.Setup("curved", env)

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.FromEnv("curved", env))
	if err != nil {
		log.Fatalf("curved: init telemetry: %v", err)
	}
	defer func() {
		if shutdownTelemetry != nil {
			_ = shutdownTelemetry(context.Background())
		}
	}()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("curved: load config: %v", err)
	}

	db, err := storage.Open(cfg.State.Backend, cfg.State.Path, false)
	if err != nil {
		log.Fatalf("curved: open state: %v", err)
	}
	ledger := state.NewManager(db)
	defer ledger.Close()

	idx, err := index.Open(cfg.Index.DSN, logger)
	if err != nil {
		log.Fatalf("curved: open index: %v", err)
	}
	defer idx.Close()
	idx.SetArchiveDir(cfg.Export.Dir)

	hub := stream.NewHub(64, 256, logger)

	engine := curve.NewEngine()
	engine.SetState(ledger)
	engine.SetLogger(logger)
	engine.SetEmitter(events.Multi{idx, hub, observability.CurveEvents{}})
	engine.SetNowFunc(func() int64 { return time.Now().Unix() })

	srv, err := server.New(server.Config{
		ListenAddress:   cfg.ListenAddress,
		ShutdownTimeout: cfg.ShutdownTimeout.Duration,
		Engine:          engine,
		Accounts:        ledger,
		Index:           idx,
		Hub:             hub,
		Auth: server.AuthConfig{
			HMACSecret: cfg.Auth.HMACSecret,
			Issuer:     cfg.Auth.Issuer,
			Audience:   cfg.Auth.Audience,
			ClockSkew:  cfg.Auth.ClockSkew.Duration,
		},
		AdminToken: cfg.Admin.BearerToken,
		RateLimit: server.RateLimit{
			RequestsPerMinute: float64(cfg.RateLimit.RequestsPerMinute),
			Burst:             cfg.RateLimit.Burst,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatalf("curved: build server: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("curved starting", "backend", cfg.State.Backend, "environment", cfg.Environment)
	if err := srv.Run(ctx); err != nil {
		log.Fatalf("curved: %v", err)
	}
	logger.Info("curved stopped")
}
