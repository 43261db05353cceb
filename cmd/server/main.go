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

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/xtrntr/kdex/internal/api"
	"github.com/xtrntr/kdex/internal/app"
	"github.com/xtrntr/kdex/internal/auth"
	"github.com/xtrntr/kdex/internal/config"
	"github.com/xtrntr/kdex/internal/logging"
)

// Main entry point: restores the exchange and serves the HTTP API
func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger, err := logging.New(logging.Options{
		Level:      cfg.Logging.Level,
		File:       cfg.Logging.File,
		MaxSizeMB:  cfg.Logging.MaxSizeMB,
		MaxBackups: cfg.Logging.MaxBackups,
		MaxAgeDays: cfg.Logging.MaxAgeDays,
	})
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("shutdown incomplete", zap.Error(err))
		}
	}()

	var users auth.UserStore = auth.NewMemoryStore()
	var journal api.Journal
	if a.DB != nil {
		users = a.DB
		journal = a.DB
	} else {
		logger.Warn("no database configured; users and history are kept in memory only")
	}
	authService := auth.NewAuthService(users, cfg.Auth.JWTSecret, cfg.Auth.TokenTTL,
		cfg.ExchangeAddress(), cfg.FeeAccountAddress(), cfg.TreasuryAddress())

	hub := api.NewHub(a.Exchange.OpenOrders, cfg.Server.AllowedOrigins, logger.Named("ws"))
	defer hub.Close()
	a.Bus.Subscribe("websocket", hub)

	handler := api.NewHandler(a.Exchange, a.Tokens, authService, journal, hub, logger.Named("api"))

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", api.RequestIDHeader},
		ExposedHeaders:   []string{"Link", api.RequestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	handler.Routes(r)
	if cfg.Server.StaticDir != "" {
		r.Handle("/*", http.FileServer(http.Dir(cfg.Server.StaticDir)))
	}

	go a.RunSnapshots(ctx, cfg.Store.SnapshotInterval)

	// Periodic open-order refresh for websocket clients
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				hub.BroadcastOrders()
			}
		}
	}()

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting server",
			zap.String("addr", cfg.Server.Addr),
			zap.String("exchange", a.Exchange.Address().Hex()),
			zap.Uint64("fee_percent", a.Exchange.FeePercent()))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	// Websocket connections are hijacked and not tracked by Shutdown.
	hub.Close()
	return srv.Shutdown(shutdownCtx)
}
