// Command taskbusd runs the taskbus engine as a standalone daemon: it
// opens the configured store, wires the engine and HTTP API, and shuts
// down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	goredis "github.com/redis/go-redis/v9"

	"github.com/ledgerline/taskbus"
	"github.com/ledgerline/taskbus/api"
	"github.com/ledgerline/taskbus/engine"
	"github.com/ledgerline/taskbus/event"
	"github.com/ledgerline/taskbus/job"
	"github.com/ledgerline/taskbus/store"
	"github.com/ledgerline/taskbus/store/memory"
	"github.com/ledgerline/taskbus/store/postgres"
	"github.com/ledgerline/taskbus/store/sqlite"
)

type config struct {
	Listen string `env:"TASKBUS_LISTEN" envDefault:":8080"`

	// Store backend: memory, sqlite, or postgres.
	StoreBackend string `env:"TASKBUS_STORE" envDefault:"memory"`
	SQLitePath   string `env:"TASKBUS_SQLITE_PATH" envDefault:"taskbus.db"`
	PostgresURL  string `env:"TASKBUS_POSTGRES_URL"`

	// Bus backend: local or redis.
	BusBackend string `env:"TASKBUS_BUS" envDefault:"local"`
	RedisAddr  string `env:"TASKBUS_REDIS_ADDR" envDefault:"localhost:6379"`

	Concurrency     int           `env:"TASKBUS_CONCURRENCY" envDefault:"4"`
	PollInterval    time.Duration `env:"TASKBUS_POLL_INTERVAL" envDefault:"1s"`
	ShutdownTimeout time.Duration `env:"TASKBUS_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	JobRetention    time.Duration `env:"TASKBUS_JOB_RETENTION" envDefault:"168h"`
	EventRetention  time.Duration `env:"TASKBUS_EVENT_RETENTION" envDefault:"168h"`
	SweepInterval   time.Duration `env:"TASKBUS_SWEEP_INTERVAL" envDefault:"1h"`

	LogLevel slog.Level `env:"TASKBUS_LOG_LEVEL" envDefault:"info"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "taskbusd:", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := env.ParseAs[config]()
	if err != nil {
		return fmt.Errorf("parse config: %w", err)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx := context.Background()

	s, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("open store (%s): %w", cfg.StoreBackend, err)
	}
	defer s.Close()

	bus, err := openBus(cfg, s, logger)
	if err != nil {
		return fmt.Errorf("open bus (%s): %w", cfg.BusBackend, err)
	}

	eng, err := engine.New(s,
		engine.WithLogger(logger),
		engine.WithBus(bus),
		engine.WithConfig(taskbus.Config{
			Concurrency:     cfg.Concurrency,
			PollInterval:    cfg.PollInterval,
			ShutdownTimeout: cfg.ShutdownTimeout,
			JobRetention:    cfg.JobRetention,
			EventRetention:  cfg.EventRetention,
			SweepInterval:   cfg.SweepInterval,
		}),
	)
	if err != nil {
		return fmt.Errorf("build engine: %w", err)
	}

	// Built-in no-op handler for smoke testing a fresh deployment.
	engine.Register(eng, job.NewDefinition("noop",
		func(_ context.Context, _ json.RawMessage, _ job.ProgressFunc) (map[string]bool, error) {
			return map[string]bool{"ok": true}, nil
		}))

	if err := eng.Start(ctx); err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	srv := &http.Server{
		Addr:    cfg.Listen,
		Handler: api.New(eng).Handler(),
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			slog.String("addr", cfg.Listen),
			slog.String("store", cfg.StoreBackend),
			slog.String("bus", cfg.BusBackend),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-stop:
		logger.Info("shutting down", slog.String("signal", sig.String()))
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	if err := eng.Stop(shutdownCtx); err != nil {
		return fmt.Errorf("stop engine: %w", err)
	}

	logger.Info("shutdown complete")
	return nil
}

func openStore(ctx context.Context, cfg config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case "memory":
		return memory.New(), nil
	case "sqlite":
		return sqlite.Open(cfg.SQLitePath, sqlite.WithLogger(logger))
	case "postgres":
		if cfg.PostgresURL == "" {
			return nil, errors.New("TASKBUS_POSTGRES_URL is required for the postgres backend")
		}
		return postgres.New(ctx, cfg.PostgresURL, postgres.WithLogger(logger))
	default:
		return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
	}
}

func openBus(cfg config, s store.Store, logger *slog.Logger) (event.Bus, error) {
	switch cfg.BusBackend {
	case "local":
		return event.NewLocalBus(s, event.WithLocalLogger(logger)), nil
	case "redis":
		client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
		return event.NewRedisBus(client, event.WithRedisLogger(logger)), nil
	default:
		return nil, fmt.Errorf("unknown bus backend %q", cfg.BusBackend)
	}
}
