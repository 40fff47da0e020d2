package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/swelljoe/wthr-offline/internal/bgsync"
	"github.com/swelljoe/wthr-offline/internal/cache"
	"github.com/swelljoe/wthr-offline/internal/clients"
	"github.com/swelljoe/wthr-offline/internal/config"
	"github.com/swelljoe/wthr-offline/internal/db"
	"github.com/swelljoe/wthr-offline/internal/fetch"
	"github.com/swelljoe/wthr-offline/internal/handlers"
	"github.com/swelljoe/wthr-offline/internal/logging"
	"github.com/swelljoe/wthr-offline/internal/metrics"
	"github.com/swelljoe/wthr-offline/internal/worker"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := logging.New(logging.Config{
		Level:       cfg.Logging.Level,
		Development: cfg.Logging.Development,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("Exiting", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	storage, err := openStorage(cfg.Cache)
	if err != nil {
		return err
	}
	defer storage.Close()
	logger.Info("Cache store opened", zap.String("driver", cfg.Cache.Driver), zap.String("path", cfg.Cache.Path))

	network, err := fetch.NewClient(cfg.Upstream.Origin, cfg.Upstream.UserAgent, cfg.Upstream.Timeout)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	hub := clients.NewHub(logger)
	registry := bgsync.NewRegistry(logger)

	d, err := worker.New(worker.Deps{
		Storage:  storage,
		Network:  network,
		Clients:  hub,
		Notifier: hub,
		Syncs:    registry,
	}, worker.Options{
		CacheName:         cfg.Cache.Name,
		SyncEndpoint:      cfg.Worker.SyncEndpoint,
		ManualSkipWaiting: !cfg.Worker.SkipWaiting,
		Logger:            logger,
		Metrics:           metrics.New(reg),
	})
	if err != nil {
		return err
	}
	hub.SetHandlers(d.Message, d.NotificationClick)
	registry.Bind(d.Sync)

	if err := d.Install(ctx); err != nil {
		return err
	}

	var pinger handlers.Pinger
	if p, ok := storage.(handlers.Pinger); ok {
		pinger = p
	}
	h := handlers.New(d, network, pinger, logger)
	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           handlers.NewRouter(h, hub, reg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	monitor := bgsync.NewMonitor(logger, network, d, registry, cfg.Worker.ProbeInterval)
	periodic := bgsync.NewPeriodic(logger, worker.PeriodicSyncTag, cfg.Worker.PeriodicSyncInterval, d.PeriodicSync)
	wg.Add(2)
	go func() {
		defer wg.Done()
		monitor.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		periodic.Run(ctx)
	}()

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server starting", zap.String("addr", srv.Addr), zap.String("origin", network.Origin.String()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
	}

	logger.Info("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	hub.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("Server shutdown incomplete", zap.Error(err))
	}
	wg.Wait()
	registry.Close()
	d.Wait()
	return nil
}

// openStorage opens the cache backend selected by cfg.Driver
func openStorage(cfg config.CacheConfig) (cache.Storage, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return cache.NewMemory(), nil
	case config.DriverSQLite:
		path := cfg.Path
		if path == "" {
			path = ":memory:"
		}
		store, err := db.NewDB(path)
		if err != nil {
			return nil, err
		}
		return store, nil
	case config.DriverBadger:
		store, err := db.NewBadger(cfg.Path)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown cache driver %q", cfg.Driver)
	}
}
