package main

import (
	"context"
	"flag"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"papertrader-go/internal/api"
	"papertrader-go/internal/config"
	"papertrader-go/internal/exchange"
	"papertrader-go/internal/metrics"
	"papertrader-go/internal/paper"
	"papertrader-go/internal/session"
	"papertrader-go/internal/util"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLoggerWithFormat(cfg.App.LogLevel, cfg.App.LogFormat).
		With().Str("app", cfg.App.Name).Str("env", cfg.App.Env).Logger()

	if cfg.App.MetricsAddr != "" {
		_ = metrics.Serve(cfg.App.MetricsAddr)
		log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")
	}

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	store, closeStore := buildStore(ctx, cfg, log)
	defer closeStore()
	recorder, closeRecorder := buildRecorder(cfg, log)
	defer closeRecorder()

	hub := api.NewHub(log)
	mgr := session.NewManager(session.Deps{
		Log:              log,
		Store:            store,
		SnapshotInterval: cfg.Snapshot.Interval,
		Recorder:         recorder,
		BusOptions:       []exchange.Option{exchange.WithResolution(cfg.Simulation.Resolution)},
		OnTick:           hub.Broadcast,
	})

	srv := api.NewServer(cfg.API.Addr, api.NewHandler(mgr, hub, cfg.Simulation.Feeds, log), log)
	srv.Start()

	if cfg.Simulation.AutoStart {
		autoStart(ctx, mgr, cfg, log)
	}

	log.Info().Msg("paper trader started")
	<-ctx.Done()
	log.Info().Msg("shutting down")

	mgr.Shutdown()
	hub.Close()
	shutdownCtx, stop := context.WithTimeout(context.Background(), shutdownTimeout)
	defer stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown")
	}
}

func autoStart(ctx context.Context, mgr *session.Manager, cfg *config.Config, log zerolog.Logger) {
	params := cfg.SessionParams()
	var (
		s   *session.Session
		err error
	)
	if cfg.Simulation.ResumeID != "" {
		s, err = mgr.Resume(ctx, params, cfg.Simulation.ResumeID)
	} else {
		s, err = mgr.Start(ctx, params)
	}
	if err != nil {
		log.Error().Err(err).Msg("auto-start simulation")
		return
	}
	log.Info().Str("session", s.ID()).Str("strategy", params.StrategyID).Msg("simulation auto-started")
}

func buildStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (session.Store, func()) {
	switch cfg.Snapshot.Backend {
	case "file":
		log.Info().Str("dir", cfg.Snapshot.Dir).Msg("file snapshots enabled")
		return session.NewFileStore(cfg.Snapshot.Dir), func() {}
	case "redis":
		client, err := session.NewRedisClient(ctx, cfg.Snapshot.RedisAddr, cfg.Snapshot.RedisPassword, cfg.Snapshot.RedisDB)
		if err != nil {
			log.Error().Err(err).Str("addr", cfg.Snapshot.RedisAddr).Msg("redis unavailable, snapshots disabled")
			return nil, func() {}
		}
		log.Info().Str("addr", cfg.Snapshot.RedisAddr).Msg("redis snapshots enabled")
		return session.NewRedisStore(client, cfg.Snapshot.RedisPrefix, cfg.Snapshot.TTL), func() { _ = client.Close() }
	}
	return nil, func() {}
}

func buildRecorder(cfg *config.Config, log zerolog.Logger) (paper.TradeRecorder, func()) {
	switch cfg.Recorder.Type {
	case "jsonl":
		rec, err := paper.NewJSONLRecorder(cfg.Paper.FillsPath, log)
		if err != nil {
			log.Error().Err(err).Str("path", cfg.Paper.FillsPath).Msg("open fills file, recording disabled")
			return nil, func() {}
		}
		return rec, func() { _ = rec.Close() }
	case "kafka":
		rec, err := paper.NewKafkaRecorder(cfg.Recorder.Brokers, cfg.Recorder.Topic, log)
		if err != nil {
			log.Error().Err(err).Msg("kafka recorder, recording disabled")
			return nil, func() {}
		}
		return rec, func() { _ = rec.Close() }
	}
	return nil, func() {}
}
