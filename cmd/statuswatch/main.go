package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opcsim/simstatus/internal/config"
	"github.com/opcsim/simstatus/internal/connection"
	"github.com/opcsim/simstatus/internal/database"
	"github.com/opcsim/simstatus/internal/history"
	"github.com/opcsim/simstatus/internal/model"
	"github.com/opcsim/simstatus/internal/reconcile"
	"github.com/opcsim/simstatus/internal/version"
)

var errConnectionDead = errors.New("connection permanently failed")

func main() {
	configPath := flag.String("config", "configs/statuswatch.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		return
	}

	// Load configuration
	cfg, err := config.LoadAndValidate(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Set up structured logging
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: parseLevel(cfg.Log.Level),
	}))
	slog.SetDefault(logger)

	logger.Info("starting statuswatch",
		"version", version.Version,
		"commit", version.Commit,
		"config", *configPath,
		"endpoint", cfg.Endpoint.URL,
	)

	// Create context with cancellation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("received shutdown signal", "signal", sig)
		cancel()
	}()

	if err := run(ctx, cfg, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("statuswatch failed", "error", err)
		os.Exit(1)
	}

	logger.Info("statuswatch stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	collection := reconcile.NewCollection()

	// Optional history recorder
	var recorder *history.Recorder
	if cfg.History.Enabled {
		logger.Info("connecting to database",
			"host", cfg.History.Database.Host,
			"port", cfg.History.Database.Port,
			"database", cfg.History.Database.Name,
		)

		pool, err := database.Connect(ctx, cfg.History.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()

		recorder = history.NewRecorder(history.RecorderConfig{
			BatchSize:     cfg.History.BatchSize,
			FlushInterval: cfg.History.FlushInterval,
			BufferSize:    cfg.History.BufferSize,
		}, pool, logger)

		if err := recorder.Start(ctx); err != nil {
			return fmt.Errorf("start history recorder: %w", err)
		}
		defer func() {
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer stopCancel()
			recorder.Stop(stopCtx)
		}()
	}

	supervisor := connection.NewSupervisor(connection.Config{
		URL:          cfg.Endpoint.URL,
		PingInterval: cfg.Heartbeat.Interval,
		PongTimeout:  cfg.Heartbeat.Timeout,
		Backoff: connection.BackoffConfig{
			BaseDelay:   cfg.Reconnect.BaseDelay,
			MaxDelay:    cfg.Reconnect.MaxDelay,
			Multiplier:  cfg.Reconnect.Multiplier,
			MaxAttempts: cfg.Reconnect.MaxAttempts,
		},
	}, logger)

	// Surfaced when the supervisor gives up for good.
	dead := make(chan struct{})

	supervisor.SubscribeUpdates(func(env connection.Envelope) {
		// Full snapshots define membership here; the admin app this stream
		// belongs to fetches the entity list over REST instead.
		var transitions []model.StatusTransition
		if env.Kind == connection.KindInitial {
			transitions = collection.Sync(env.Updates)
		} else {
			transitions = collection.ApplyEnvelope(env)
		}
		for _, tr := range transitions {
			logger.Info("server status changed",
				"server_id", tr.ServerID,
				"old_status", tr.OldStatus,
				"new_status", tr.NewStatus,
			)
		}
		if recorder != nil {
			recorder.Record(transitions)
		}
		if env.Kind == connection.KindInitial {
			logger.Info("status snapshot applied", "servers", collection.Len())
		}
	})

	supervisor.SubscribeErrors(func(ev connection.ErrorEvent) {
		logger.Warn("connection error", "code", int(ev.Code), "reason", ev.Reason)
	})

	supervisor.SubscribeStateChanges(func(old, new connection.State) {
		logger.Info("connection state", "from", old, "to", new)
		if new == connection.StateError {
			close(dead)
		}
	})

	supervisor.Connect()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-dead:
			return errConnectionDead
		}
	})

	err := g.Wait()

	supervisor.Close()
	return err
}

// parseLevel maps a config string to a slog level, defaulting to info.
func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
