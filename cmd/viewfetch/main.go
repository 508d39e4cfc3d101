package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"viewfetch/internal/config"
	"viewfetch/internal/server"
	"viewfetch/internal/session"
	"viewfetch/internal/viewport"
)

func main() {
	configPath := flag.String("config", "config.json", "path to config file")
	simulate := flag.Bool("simulate", false, "run an in-process scrolling viewport session")
	duration := flag.Duration("duration", 0, "stop after this long (0 runs until signalled)")
	flag.Parse()

	cfg, err := config.LoadWithDefaults(*configPath)
	if err != nil {
		// Basic logger for startup errors
		log := zerolog.New(os.Stderr).With().Timestamp().Logger()
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger := setupLogger(cfg.LogLevel)
	logger.Info().
		Str("config", *configPath).
		Str("addr", cfg.Addr()).
		Int("boxes", cfg.BoxCount).
		Int("debounce", cfg.Debounce).
		Bool("simulate", *simulate).
		Msg("starting viewfetch")

	srv := server.New(cfg, logger)
	if err := srv.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start server")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *simulate {
		sess, err := startSimulation(srv.Manager(), cfg, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to start simulation")
		}
		go reportStats(ctx, sess, logger)
	}

	var timeout <-chan time.Time
	if *duration > 0 {
		timeout = time.After(*duration)
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
	case <-timeout:
		logger.Info().Dur("duration", *duration).Msg("run duration elapsed")
	}
	cancel()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during shutdown")
	}
}

// startSimulation creates a session driven by a scrolling Simulator
func startSimulation(manager *session.Manager, cfg *config.Config, logger zerolog.Logger) (*session.Session, error) {
	simCfg := cfg.GetSimulator()
	sim := viewport.NewSimulator(simCfg.WindowSize, simCfg.Stride, simCfg.GetStepDuration(), logger)

	sess, err := manager.Create(sim)
	if err != nil {
		return nil, err
	}
	sim.SetCallback(func(entries []viewport.Entry) { sess.Entries(entries) })

	if err := sess.Start(); err != nil {
		manager.Remove(sess.ID())
		return nil, err
	}

	logger.Info().
		Str("session", sess.ID()).
		Int("window", simCfg.WindowSize).
		Int("step", simCfg.Step).
		Msg("simulation started")
	return sess, nil
}

// reportStats logs session progress once a second
func reportStats(ctx context.Context, sess *session.Session, logger zerolog.Logger) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats := sess.Stats()
			logger.Info().
				Str("session", stats.ID).
				Int("loaded", stats.Loaded).
				Int("boxes", stats.Boxes).
				Int64("events", stats.Reducer.Events).
				Int64("batches", stats.Fetch.Batches).
				Int64("inFlight", stats.Fetch.InFlight).
				Int64("discarded", stats.Fetch.Discarded).
				Msg("simulation stats")
		}
	}
}

// setupLogger configures the zerolog logger
func setupLogger(level string) zerolog.Logger {
	var logLevel zerolog.Level
	switch level {
	case "debug":
		logLevel = zerolog.DebugLevel
	case "info":
		logLevel = zerolog.InfoLevel
	case "warn":
		logLevel = zerolog.WarnLevel
	case "error":
		logLevel = zerolog.ErrorLevel
	default:
		logLevel = zerolog.InfoLevel
	}

	zerolog.SetGlobalLevel(logLevel)

	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}

	return zerolog.New(output).With().Timestamp().Logger()
}
