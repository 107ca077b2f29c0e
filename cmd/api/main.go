// cmd/api/main.go
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"libralend/internal/auth"
	"libralend/internal/catalog"
	"libralend/internal/config"
	"libralend/internal/ledger"
	"libralend/internal/lending"
	"libralend/internal/observability"
	"libralend/internal/sqlstore"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	logger, err := observability.NewLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	if err := run(cfg, logger); err != nil {
		logger.Fatal("lending API stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.SetupTracing(ctx, observability.TracingConfig{
		Endpoint: cfg.OTELEndpoint,
		Insecure: cfg.OTELInsecure,
	})
	if err != nil {
		return fmt.Errorf("setup tracing: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			logger.Warn("tracing shutdown failed", zap.Error(err))
		}
	}()

	engine, ping, closeStore, err := openEngine(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	if len(cfg.Credentials) == 0 {
		logger.Warn("no credentials configured, every lending request will be refused")
	}
	authn := auth.NewAuthenticator(cfg.Credentials, cfg.AuthRateLimit, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(observability.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if err := ping(r.Context()); err != nil {
			status, code = "unavailable", http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": status})
	})
	r.Group(func(r chi.Router) {
		r.Use(authn.Middleware)
		r.Mount("/", lending.NewHandler(engine, logger).Routes())
	})

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("lending API listening",
			zap.String("addr", cfg.Addr),
			zap.String("driver", cfg.DatabaseDriver),
			zap.String("return_policy", cfg.ReturnPolicy.String()))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openEngine wires the engine to the configured store.
func openEngine(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*lending.Engine, func(context.Context) error, func(), error) {
	opts := []lending.Option{
		lending.WithLogger(logger),
		lending.WithReturnPolicy(cfg.ReturnPolicy),
	}

	if cfg.DatabaseDriver == "memory" {
		logger.Warn("using in-memory stores, nothing survives a restart")
		engine := lending.NewEngine(catalog.NewMemoryStore(), ledger.NewMemoryStore(), opts...)
		return engine, func(context.Context) error { return nil }, func() {}, nil
	}

	dsn := cfg.DatabaseURL
	if cfg.DatabaseDriver == sqlstore.DriverSQLite {
		dsn = sqlstore.SQLiteDSN(cfg.DatabaseURL)
	}
	store, err := sqlstore.Open(ctx, cfg.DatabaseDriver, dsn)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}

	opts = append(opts, lending.WithTransactor(store))
	engine := lending.NewEngine(store.Catalog(), store.Ledger(), opts...)
	closeStore := func() {
		if err := store.Close(); err != nil {
			logger.Warn("closing store failed", zap.Error(err))
		}
	}
	return engine, store.Ping, closeStore, nil
}
