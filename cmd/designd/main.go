// Package main wires together the design job service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/foldworks/designd/internal/api"
	"github.com/foldworks/designd/internal/clock/system"
	"github.com/foldworks/designd/internal/config"
	"github.com/foldworks/designd/internal/design"
	"github.com/foldworks/designd/internal/id/uuid"
	"github.com/foldworks/designd/internal/logging"
	"github.com/foldworks/designd/internal/manager"
	"github.com/foldworks/designd/internal/metrics"
	fsstore "github.com/foldworks/designd/internal/store/fs"
	memorystore "github.com/foldworks/designd/internal/store/memory"
	postgresstore "github.com/foldworks/designd/internal/store/postgres"
	"github.com/foldworks/designd/internal/supervisor"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := newStore(ctx, cfg)
	if err != nil {
		logger.Error("store init failed", zap.Error(err))
		os.Exit(1)
	}
	defer closeStore()

	tools, err := toolsFromConfig(cfg)
	if err != nil {
		logger.Error("tool config invalid", zap.Error(err))
		os.Exit(1)
	}

	runner := supervisor.New(cfg.GracePeriod(), logger.Named("supervisor"))
	mgr := manager.New(store, runner, system.New(), uuid.New(), manager.Config{
		DataDir:    cfg.Jobs.DataDir,
		MaxRunning: cfg.Jobs.MaxRunning,
		Tools:      tools,
	}, logger.Named("manager"))

	if err := mgr.RecoverOrphans(ctx); err != nil {
		logger.Error("orphan recovery failed", zap.Error(err))
		os.Exit(1)
	}

	apiServer := api.NewServer(mgr, cfg, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	mgr.Shutdown()
	logger.Info("shutdown complete")
}

func newStore(ctx context.Context, cfg config.Config) (design.JobStore, func(), error) {
	switch cfg.Store.Driver {
	case "memory":
		return memorystore.New(), func() {}, nil
	case "fs":
		store, err := fsstore.New(cfg.Jobs.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	case "postgres":
		store, err := postgresstore.New(ctx, postgresstore.Config{
			DSN:      cfg.Store.DSN,
			Table:    cfg.Store.Table,
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			store.Close()
			return nil, nil, err
		}
		return store, store.Close, nil
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func toolsFromConfig(cfg config.Config) (map[design.Kind]design.ToolCommand, error) {
	tools := make(map[design.Kind]design.ToolCommand, len(cfg.Tools))
	for raw := range cfg.Tools {
		kind, err := design.ParseKind(raw)
		if err != nil {
			return nil, err
		}
		tool, err := cfg.ToolFor(kind)
		if err != nil {
			return nil, err
		}
		tools[kind] = tool
	}
	return tools, nil
}
