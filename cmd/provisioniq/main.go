package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/riandyrn/otelchi"

	"github.com/neomorfeo/provisioniq/internal/adapter/clouddns"
	"github.com/neomorfeo/provisioniq/internal/adapter/fsm"
	"github.com/neomorfeo/provisioniq/internal/adapter/kube"
	riveradapter "github.com/neomorfeo/provisioniq/internal/adapter/river"
	"github.com/neomorfeo/provisioniq/internal/adapter/sqldb"
	"github.com/neomorfeo/provisioniq/internal/adapter/sqlite"
	"github.com/neomorfeo/provisioniq/internal/app"
	"github.com/neomorfeo/provisioniq/internal/config"
	"github.com/neomorfeo/provisioniq/internal/domain"

	handler "github.com/neomorfeo/provisioniq/internal/adapter/http"
	otelAdapter "github.com/neomorfeo/provisioniq/internal/adapter/otel"
)

func main() {
	if err := run(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run() error {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}

	ctx := context.Background()

	// --- Observability ---
	providers, err := otelAdapter.Setup(ctx, otelAdapter.ConfigFromEnv())
	if err != nil {
		return fmt.Errorf("otel setup: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := providers.Shutdown(shutdownCtx); err != nil {
			slog.Error("otel shutdown", "error", err)
		}
	}()

	// --- Registry database ---
	db, err := otelAdapter.OpenDB(cfg.DatabasePath)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	sqliteRepo, err := sqlite.NewFromDB(db)
	if err != nil {
		return fmt.Errorf("repository: %w", err)
	}
	repo := otelAdapter.NewTracingRepository(sqliteRepo)

	// --- Resource managers ---
	// Managers are chosen once at startup; the simulation flag never
	// changes the wiring mid-flight.
	var (
		databases domain.DatabaseProvisioner
		cluster   domain.ClusterManager
		dns       domain.DNSManager
	)
	if !cfg.SimulationMode {
		provisioner, err := sqldb.New(cfg.TenantDBDir)
		if err != nil {
			return fmt.Errorf("database provisioner: %w", err)
		}
		defer provisioner.Close()
		databases = provisioner

		cluster, err = kube.New(cfg.KubeconfigPath, kube.Config{
			AppImage:         cfg.AppImage,
			IngressNamespace: cfg.IngressNamespace,
			IngressService:   cfg.IngressService,
			IngressAddress:   cfg.IngressAddress,
		})
		if err != nil {
			return fmt.Errorf("cluster manager: %w", err)
		}

		dns = clouddns.New(cfg.DNSAPIToken, cfg.DNSZoneID)
	}

	// --- Application ---
	validator := fsm.New()
	orchestrator := app.NewOrchestrator(repo, databases, cluster, dns, validator, app.OrchestratorConfig{
		BaseDomain:      cfg.BaseDomain,
		Simulate:        cfg.SimulationMode,
		AutoRollback:    cfg.AutoRollback,
		PropagationWait: cfg.PropagationWait,
		SSLIssuanceWait: cfg.SSLIssuanceWait,
	})

	// --- Background jobs ---
	riverClient, err := riveradapter.Setup(ctx, db, orchestrator)
	if err != nil {
		return fmt.Errorf("river setup: %w", err)
	}
	if err := riverClient.Start(ctx); err != nil {
		return fmt.Errorf("river start: %w", err)
	}

	enqueuer := otelAdapter.NewTracingEnqueuer(riveradapter.NewEnqueuer(riverClient))
	svc := app.NewInstanceService(repo, enqueuer, validator, orchestrator, cfg.BaseDomain)

	// --- HTTP ---
	router := chi.NewMux()
	router.Use(middleware.Recoverer)
	router.Use(middleware.RequestID)
	router.Use(otelchi.Middleware("provisioniq", otelchi.WithChiRoutes(router)))

	api := humachi.New(router, huma.DefaultConfig("provisioniq", "0.1.0"))
	handler.Register(api, svc)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("provisioniq listening",
			"port", cfg.Port,
			"base_domain", cfg.BaseDomain,
			"simulation", cfg.SimulationMode,
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	select {
	case err := <-serveErr:
		return fmt.Errorf("server: %w", err)
	case <-done:
	}

	slog.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown", "error", err)
	}
	if err := riverClient.Stop(shutdownCtx); err != nil {
		slog.Error("river shutdown", "error", err)
	}

	slog.Info("stopped")
	return nil
}
