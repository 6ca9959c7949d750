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
	"golang.org/x/sync/errgroup"

	"github.com/campuschat/realtime/internal/config"
	"github.com/campuschat/realtime/internal/logger"
	"github.com/campuschat/realtime/internal/realtime"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config file (optional)")
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(cfg, log); err != nil {
		log.Fatal("server exited", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadAndValidate(path)
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := realtime.NewHub(realtime.Options{
		HeartbeatInterval: cfg.Realtime.HeartbeatInterval.Std(),
		SendBuffer:        cfg.Realtime.SendBuffer,
		MaxMessageSize:    cfg.Realtime.MaxMessageSize,
		AllowedOrigins:    cfg.Server.AllowedOrigins,
		RateLimit: realtime.RateLimit{
			Burst:          cfg.Realtime.RateLimit.Burst,
			RefillInterval: cfg.Realtime.RateLimit.RefillInterval.Std(),
		},
	}, log)
	go hub.Run()

	srv := realtime.NewServer(hub, log)
	httpServer := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      srv.Routes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("server listening", zap.String("addr", cfg.Server.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutdown signal received")

		timeout := cfg.Server.ShutdownTimeout.Std()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Warn("http server shutdown", zap.Error(err))
		}
		return hub.Shutdown(timeout)
	})

	return g.Wait()
}
