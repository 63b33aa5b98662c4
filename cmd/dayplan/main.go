// Command dayplan runs the daily-planning workflow service: the confirmation
// gate HTTP API over the orchestrator, backed by a SQL plan store.
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/fieldops/dayplan/pkg/api"
	"github.com/fieldops/dayplan/pkg/capabilities"
	"github.com/fieldops/dayplan/pkg/config"
	"github.com/fieldops/dayplan/pkg/dispatch"
	"github.com/fieldops/dayplan/pkg/inventory"
	"github.com/fieldops/dayplan/pkg/observability"
	"github.com/fieldops/dayplan/pkg/planner"
	"github.com/fieldops/dayplan/pkg/route"
	"github.com/fieldops/dayplan/pkg/store"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := config.Load()
	setupLogging(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var obs *observability.Provider
	if cfg.OTLPEndpoint != "" {
		obsCfg := observability.DefaultConfig()
		obsCfg.OTLPEndpoint = cfg.OTLPEndpoint
		var err error
		if obs, err = observability.New(ctx, obsCfg); err != nil {
			return fmt.Errorf("init observability: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = obs.Shutdown(shutdownCtx)
		}()
	}

	planStore, closeDB, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	fallbackPrefs := config.DefaultPreferences()
	if profile, err := config.LoadProfile(cfg.ProfilesDir, "default"); err == nil {
		fallbackPrefs = *profile
	} else {
		slog.Info("no default preference profile, using built-in defaults",
			"dir", cfg.ProfilesDir, "error", err)
	}

	sources := capabilities.NewHTTPSources(cfg.BackendURL)
	prefSource := capabilities.NewFallbackPreferences(sources, fallbackPrefs)
	orchestrator := planner.New(
		planStore,
		sources, prefSource, sources,
		dispatch.New(capabilities.NewOpenAIReasoning(cfg.ReasoningURL, cfg.ReasoningAPIKey, cfg.ReasoningModel), 10*time.Second),
		route.New(capabilities.NewHTTPRoutingSolver(cfg.RoutingURL), 60*time.Second),
		inventory.New(capabilities.NewHTTPSupplierLookup(cfg.SupplierURL), 30*time.Second),
		obs,
	)

	mux := http.NewServeMux()
	api.NewGate(orchestrator).Routes(mux)
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("dayplan listening", "addr", cfg.Addr, "driver", cfg.DatabaseDriver)
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func openStore(cfg *config.Config) (store.PlanStore, func(), error) {
	switch strings.ToLower(cfg.DatabaseDriver) {
	case "sqlite":
		db, err := sql.Open("sqlite", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open sqlite: %w", err)
		}
		s, err := store.NewSQLitePlanStore(db)
		if err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("init sqlite plan store: %w", err)
		}
		return s, func() { _ = db.Close() }, nil
	case "postgres":
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("open postgres: %w", err)
		}
		return store.NewPostgresPlanStore(db), func() { _ = db.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToUpper(level) {
	case "DEBUG":
		lvl = slog.LevelDebug
	case "WARN":
		lvl = slog.LevelWarn
	case "ERROR":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})))
}
