package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/comigor/triage-go/internal/agent"
	"github.com/comigor/triage-go/internal/config"
	"github.com/comigor/triage-go/internal/events"
	"github.com/comigor/triage-go/internal/history"
	"github.com/comigor/triage-go/internal/logger"
	"github.com/comigor/triage-go/internal/metrics"
	"github.com/comigor/triage-go/internal/server"
	"github.com/comigor/triage-go/internal/specialist"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the event subscriber",
	Long: `Run the triage HTTP API.

Configuration is read from config.yaml (or CONFIG_PATH), .env and TRIAGE_*
environment variables, e.g. TRIAGE_SERVER_PORT=8000 TRIAGE_STORE_DRIVER=memory.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	closeLog := logger.Setup(cfg.Log.Level, cfg.Log.File)
	defer func() {
		if err := closeLog(); err != nil {
			logger.L.Error("failed to close log file", "error", err)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store := openStore(ctx, cfg.Store)
	defer func() {
		if err := store.Close(); err != nil {
			logger.L.Error("failed to close store", "error", err)
		}
	}()

	bus, subscriber := openBus(ctx, cfg.Events)
	if subscriber != nil {
		defer subscriber.Close()
	}

	d := agent.New(agent.Deps{
		Invoker: specialist.NewClient(cfg.Specialist.InvokeURL),
		Store:   store,
		Bus:     bus,
		Metrics: metrics.New(prometheus.DefaultRegisterer),
	}, *cfg)
	srv := server.New(server.Deps{Dispatcher: d, Store: store}, *cfg)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(srv.Listen)
	g.Go(func() error {
		<-gctx.Done()
		logger.L.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	if subscriber != nil && cfg.Events.Subscribe {
		g.Go(func() error {
			// A lost subscription only stops progress updates; the API stays up.
			if err := subscriber.Subscribe(gctx, d.EventHandlers()); err != nil && !errors.Is(err, context.Canceled) {
				logger.L.Error("event subscriber stopped", "error", err)
			}
			return nil
		})
	}

	err = g.Wait()
	d.Wait()
	return err
}

// openStore opens the configured store. A database that cannot be opened is
// not fatal: the service starts with a store that reports ErrUnavailable.
func openStore(ctx context.Context, sc config.StoreConfig) history.Store {
	if sc.Driver == config.DriverMemory {
		logger.L.Info("using in-memory conversation store")
		return history.NewMemoryStore()
	}

	s, err := history.Open(ctx, sc.Driver, sc.DSN, history.PoolOptions{
		MaxOpenConns:    sc.MaxOpenConns,
		MaxIdleConns:    sc.MaxIdleConns,
		ConnMaxLifetime: sc.ConnMaxLifetime,
	})
	if err != nil {
		logger.L.Error("database unavailable, continuing without persistence", "driver", sc.Driver, "error", err)
		return history.Unavailable{Cause: err}
	}
	return history.NewCached(s, sc.ProgressTTL)
}

// openBus returns the publisher and, for redis, the bus to subscribe on.
// An unreachable redis degrades to logging events.
func openBus(ctx context.Context, ec config.EventsConfig) (events.Publisher, *events.RedisBus) {
	switch ec.Backend {
	case config.BackendRedis:
		rb, err := events.NewRedis(ctx, ec.RedisURL)
		if err != nil {
			logger.L.Warn("redis unavailable, events will only be logged", "error", err)
			return events.Log{}, nil
		}
		return rb, rb
	case config.BackendSidecar:
		return events.NewSidecar(ec.SidecarURL, ec.PubSub, nil), nil
	default:
		return events.Log{}, nil
	}
}
