package main

import (
	"context"
	"flag"
	"log"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/flavio-simonelli/proxchat/internal/config"
	"github.com/flavio-simonelli/proxchat/internal/httpapi"
	"github.com/flavio-simonelli/proxchat/internal/logger"
	zapfactory "github.com/flavio-simonelli/proxchat/internal/logger/zap"
	"github.com/flavio-simonelli/proxchat/internal/metrics"
	"github.com/flavio-simonelli/proxchat/internal/model"
	"github.com/flavio-simonelli/proxchat/internal/relay"
	"github.com/flavio-simonelli/proxchat/internal/session"
	"github.com/flavio-simonelli/proxchat/internal/sweeper"
	"github.com/flavio-simonelli/proxchat/internal/telemetry"
	"github.com/flavio-simonelli/proxchat/internal/world"
)

var defaultConfigPath = "config/proxchatd/config.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load configuration from %q: %v", *configPath, err)
	}
	cfg.ApplyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	var lgr logger.Logger
	if cfg.Logger.Active {
		zapLog, err := zapfactory.New(cfg.Logger)
		if err != nil {
			log.Fatalf("failed to initialize logger: %v", err)
		}
		defer func() { _ = zapLog.Sync() }()
		lgr = zapfactory.NewAdapter(zapLog)
	} else {
		lgr = &logger.NopLogger{}
	}
	cfg.LogConfig(lgr)

	lis, err := net.Listen("tcp", cfg.Server.Bind)
	if err != nil {
		lgr.Error("failed to bind listener", logger.F("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = lis.Close() }()
	lgr.Info("listening", logger.F("addr", lis.Addr().String()))

	shutdownTracer, err := telemetry.InitTracer(context.Background(), telemetry.Config{
		Enabled:  cfg.Telemetry.Tracing.Enabled,
		Exporter: cfg.Telemetry.Tracing.Exporter,
		Endpoint: cfg.Telemetry.Tracing.Endpoint,
	}, "proxchatd")
	if err != nil {
		lgr.Error("failed to initialize tracer", logger.F("err", err.Error()))
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(context.Background()) }()

	reg := prometheus.NewRegistry()
	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.New(reg)
	}

	radii := model.NewRadii(cfg.World.IntroductionRadius, cfg.World.DisconnectionRadius)
	w := world.New(radii, lgr.Named("world"))
	if m != nil {
		w = w.WithMetrics(m)
	}

	router := relay.New(w, lgr.Named("relay"), m)

	sessCfg := session.Config{
		SinkCapacity:      cfg.World.SinkCapacity,
		IceCandidateRate:  cfg.World.IceCandidateRate,
		IceCandidateBurst: cfg.World.IceCandidateBurst,
	}

	newID := func() model.ConnID { return model.ConnID(uuid.NewString()) }

	srv := httpapi.New(lis, w, router, sessCfg, newID,
		cfg.Server.WSPath, cfg.Server.HealthzPath, cfg.Metrics.Path, reg,
		httpapi.WithLogger(lgr.Named("httpapi")),
		httpapi.WithMetrics(m),
	)

	serveErr := make(chan error, 1)
	go func() { serveErr <- srv.Start() }()
	lgr.Info("server started")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	sw := sweeper.New(w, lgr.Named("sweeper"), cfg.World.SweepInterval, cfg.World.ClientTimeout)
	go sw.Run(ctx)
	lgr.Debug("sweeper started")

	select {
	case <-ctx.Done():
		lgr.Info("shutdown signal received, stopping server gracefully...")
		stop()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.GracefulStop(shutdownCtx); err != nil {
			lgr.Warn("graceful stop timed out, forcing shutdown", logger.F("err", err.Error()))
			srv.Stop()
		} else {
			lgr.Info("server stopped gracefully")
		}
	case err := <-serveErr:
		lgr.Error("server terminated unexpectedly", logger.F("err", err.Error()))
		stop()
		os.Exit(1)
	}
}
