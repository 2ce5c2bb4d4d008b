package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"path"
	"strconv"
	"sync/atomic"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/ekisa-team/clearbg/internal/backend"
	"github.com/ekisa-team/clearbg/internal/backend/rembg"
	"github.com/ekisa-team/clearbg/internal/backend/withoutbg"
	"github.com/ekisa-team/clearbg/internal/config"
	"github.com/ekisa-team/clearbg/internal/env"
	"github.com/ekisa-team/clearbg/internal/logger"
	"github.com/ekisa-team/clearbg/internal/model"
	"github.com/ekisa-team/clearbg/internal/monitor"
	grpcserver "github.com/ekisa-team/clearbg/internal/server/grpc"
	httpserver "github.com/ekisa-team/clearbg/internal/server/http"
	"github.com/ekisa-team/clearbg/internal/service"
	"github.com/ekisa-team/clearbg/internal/xfs"
)

const version = "1.0.0"

func main() {
	var (
		flagHTTPPort   = flag.Int("http-port", 0, "HTTP port to listen on (overrides config)")
		flagGRPCPort   = flag.Int("grpc-port", 0, "GRPC port to listen on (overrides config)")
		flagConfigPath = flag.String("config", path.Join(config.DefaultConfigPath(), "config.yaml"), "Path to config file")
		flagSchemaPath = flag.String("schema", "", "Path to schema file (bundled schema when empty)")
	)
	flag.Parse()

	_ = godotenv.Load()

	if err := run(*flagConfigPath, *flagSchemaPath, *flagHTTPPort, *flagGRPCPort); err != nil {
		slog.Error("clearbg stopped with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath, schemaPath string, httpPort, grpcPort int) error {
	environment := env.FromEnv()
	level := new(slog.LevelVar)

	var current atomic.Pointer[config.Config]
	snapshot := func() *config.Config { return current.Load() }

	var watcher *config.Watcher
	if xfs.FileExists(configPath) {
		w, err := config.NewWatcher(configPath, schemaPath, func(cfg *config.Config, err error) {
			if err != nil {
				slog.Error("Failed to reload config", "error", err)
				return
			}
			current.Store(cfg)
			applyLevel(level, cfg)
			slog.Info("Config reloaded", "config", configPath)
		})
		if err != nil {
			return err
		}
		watcher = w
		defer watcher.Close()
		current.Store(watcher.Snapshot())
	} else {
		cfg, err := config.FromEnv()
		if err != nil {
			return err
		}
		current.Store(cfg)
	}

	cfg := snapshot()
	applyLevel(level, cfg)
	slog.SetDefault(logger.New(environment,
		logger.WithLevel(level),
		logger.WithLogToFile(cfg.Logging.ToFile),
		logger.WithLogFile(cfg.Logging.File),
	))

	if watcher != nil {
		slog.Info("Config loaded successfully", "config", configPath, "schema", schemaPath)
	} else {
		slog.Warn("Config file not found, using defaults", "config", configPath)
	}

	if httpPort == 0 {
		httpPort = cfg.Server.HTTPPort
	}
	if grpcPort == 0 {
		grpcPort = cfg.Server.GRPCPort
	}

	servers := backend.NewServerManager()
	defer servers.StopAll()

	registry := model.NewRegistry()
	registry.Register(rembg.BackendName, func() (backend.Remover, error) {
		return rembg.NewBackend(snapshot().Models.Rembg), nil
	})
	registry.Register(withoutbg.BackendName, func() (backend.Remover, error) {
		return withoutbg.NewBackend(snapshot().Models.WithoutBG, servers), nil
	})
	defer func() {
		if err := registry.Close(); err != nil {
			slog.Error("Failed to close models", "error", err)
		}
	}()

	slog.Info("Models registered", "models", registry.Names(), "default", cfg.Models.Default)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	svc := service.NewRemover(registry, cfg.Server.ProcessingTimeout)
	httpSrv := httpserver.NewServer(svc, snapshot, version)
	grpcSrv := grpcserver.NewServer(registry.Names())

	httpLis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(httpPort)))
	if err != nil {
		return fmt.Errorf("listen http: %w", err)
	}
	grpcLis, err := net.Listen("tcp", net.JoinHostPort(cfg.Server.Host, strconv.Itoa(grpcPort)))
	if err != nil {
		httpLis.Close()
		return fmt.Errorf("listen grpc: %w", err)
	}

	errCh := make(chan error, 2)
	go func() { errCh <- httpSrv.Serve(httpLis) }()
	go func() { errCh <- grpcSrv.Serve(grpcLis) }()

	// Warmup starts only once the listeners accept connections.
	warmup := model.NewManager(registry, cfg.Models.Warmup)
	warmup.Start(ctx)
	go func() {
		select {
		case <-warmup.Done():
			grpcSrv.Update(registry.Statuses())
		case <-ctx.Done():
		}
	}()

	if cfg.Monitor.Schedule != "" {
		reporter, err := monitor.NewReporter(registry, cfg.Monitor.Schedule, grpcSrv.Update)
		if err != nil {
			slog.Error("Monitor disabled", "error", err)
		} else {
			reporter.Start()
			defer reporter.Stop()
		}
	}

	var serveErr error
	select {
	case <-ctx.Done():
		slog.Info("Shutting down")
	case serveErr = <-errCh:
		slog.Error("Server failed", "error", serveErr)
	}
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := httpSrv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		slog.Error("HTTP shutdown failed", "error", err)
	}
	grpcSrv.Stop(shutdownCtx)

	return serveErr
}

func applyLevel(level *slog.LevelVar, cfg *config.Config) {
	l, err := logger.ParseLevel(cfg.Logging.Level)
	if err != nil {
		slog.Warn("Invalid log level, keeping current", "level", cfg.Logging.Level, "error", err)
		return
	}
	level.Set(l)
}
