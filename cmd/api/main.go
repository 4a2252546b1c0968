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

	"github.com/crucial707/resource-scheduler/internal/config"
	"github.com/crucial707/resource-scheduler/internal/db"
	"github.com/crucial707/resource-scheduler/internal/events"
	"github.com/crucial707/resource-scheduler/internal/heartbeat"
	"github.com/crucial707/resource-scheduler/internal/logging"
	"github.com/crucial707/resource-scheduler/internal/provider"
	"github.com/crucial707/resource-scheduler/internal/provider/aws"
	"github.com/crucial707/resource-scheduler/internal/provider/azure"
	"github.com/crucial707/resource-scheduler/internal/repo"
	"github.com/crucial707/resource-scheduler/internal/scheduler"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Connect to database FIRST
	database, err := db.Connect(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer database.Close()
	logger.Info("connected to database", zap.String("host", cfg.DBHost), zap.String("name", cfg.DBName))

	if err := db.Migrate(cfg.DatabaseURL(), logger); err != nil {
		return err
	}

	registry, err := newRegistry(ctx, cfg, logger)
	if err != nil {
		return err
	}

	opts := scheduler.Options{
		Interval:    cfg.Scheduler.TickInterval,
		Lease:       cfg.Scheduler.LeaseDuration,
		ExecTimeout: cfg.Scheduler.ExecTimeout,
		Workers:     cfg.Scheduler.Workers,
		BatchSize:   cfg.Scheduler.BatchSize,
		InstanceID:  cfg.Scheduler.InstanceID,
	}
	d := deps{Registry: registry, Logger: logger}

	if cfg.NATSURL != "" {
		nc, err := events.Connect(ctx, cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer nc.Drain()
		opts.Publisher = events.NewPublisher(nc)
	}
	if cfg.RedisAddr != "" {
		rdb, err := heartbeat.Connect(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			return err
		}
		defer rdb.Close()
		// A replica is listed as alive for three missed ticks.
		hb := heartbeat.New(rdb, 3*cfg.Scheduler.TickInterval)
		opts.Heartbeat = hb
		d.Heartbeat = hb
	}

	var wg sync.WaitGroup
	if cfg.Scheduler.Enabled {
		sched := scheduler.New(repo.NewScheduleRepo(database), registry, opts, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sched.Run(ctx)
		}()
	} else {
		logger.Info("scheduler disabled; serving API only")
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newRouter(database, cfg, d),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server", zap.String("addr", srv.Addr), zap.Bool("tls", cfg.TLSCertFile != ""))
		var err error
		if cfg.TLSCertFile != "" {
			err = srv.ListenAndServeTLS(cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			stop()
			wg.Wait()
			return err
		}
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown", zap.Error(err))
	}
	// Calls already dispatched run to completion (bounded by the exec timeout) and are
	// recorded; claims not yet dispatched are released for the next tick.
	wg.Wait()
	return nil
}

// newRegistry registers the adapters whose credentials are configured.
func newRegistry(ctx context.Context, cfg config.Config, logger *zap.Logger) (*provider.Registry, error) {
	registry := provider.NewRegistry(cfg.ProviderRPS, cfg.ProviderBurst)
	if cfg.AWSRegion != "" {
		a, err := aws.NewFromEnv(ctx, cfg.AWSRegion)
		if err != nil {
			return nil, err
		}
		registry.Use(a)
	}
	if cfg.AzureEnabled {
		a, err := azure.NewFromEnv()
		if err != nil {
			return nil, err
		}
		registry.Use(a)
	}
	kinds := registry.Kinds()
	if len(kinds) == 0 {
		logger.Warn("no cloud provider configured; every schedule will be rejected")
	}
	logger.Info("providers registered", zap.Strings("kinds", kinds))
	return registry, nil
}
