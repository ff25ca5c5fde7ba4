package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robalyx/answervote/internal/rest"
	"github.com/robalyx/answervote/internal/rest/handler"
	"github.com/robalyx/answervote/internal/setup"
	"github.com/robalyx/answervote/internal/setup/config"
	"github.com/robalyx/answervote/internal/setup/telemetry"
	"go.uber.org/zap"
)

// RESTLogDir specifies where REST server log files are stored.
const RESTLogDir = "logs/rest_logs"

// ShutdownTimeout bounds the graceful shutdown of in-flight requests.
const ShutdownTimeout = 30 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize application with required dependencies
	app, err := setup.InitializeApp(ctx, telemetry.ServiceAPI, RESTLogDir)
	if err != nil {
		log.Fatalf("Failed to initialize application: %v", err)
	}
	defer app.Cleanup(context.Background())

	serverCfg := &app.Config.Common.API.Server

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", serverCfg.Host, serverCfg.Port),
		Handler:      rest.NewServer(app.Aggregator, healthChecks(app), app.Logger, serverCfg),
		ReadTimeout:  time.Duration(serverCfg.ReadTimeoutMS) * time.Millisecond,
		WriteTimeout: time.Duration(serverCfg.WriteTimeoutMS) * time.Millisecond,
	}

	// Start background reconciliation if enabled
	reconcileDone := make(chan struct{})
	go func() {
		defer close(reconcileDone)
		runReconciler(ctx, app)
	}()

	// Start server in a goroutine
	serveErr := make(chan error, 1)
	go func() {
		app.Logger.Info("REST server started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// Wait for interrupt signal or a listener failure
	select {
	case <-ctx.Done():
	case err := <-serveErr:
		app.Logger.Error("Failed to start server", zap.Error(err))
		stop()
	}

	app.Logger.Info("Shutting down REST server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()

	// Attempt graceful shutdown
	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error("Server forced to shutdown", zap.Error(err))
	}
	<-reconcileDone

	app.Logger.Info("Server gracefully stopped")
}

// healthChecks lists the dependencies reported by /healthz.
func healthChecks(app *setup.App) map[string]handler.Pinger {
	checks := make(map[string]handler.Pinger)
	if app.DB != nil {
		checks["postgres"] = app.DB
	}
	if app.Config.Common.Vote.Locker == config.LockerRedis {
		checks["redis"] = app.RedisManager
	}
	return checks
}

// runReconciler periodically recounts the ledger until ctx is done.
func runReconciler(ctx context.Context, app *setup.App) {
	reconcileCfg := &app.Config.Common.Reconcile
	if reconcileCfg.Interval() <= 0 {
		return
	}

	reconciler := app.Reconciler(reconcileCfg.Repair, 0)
	ticker := time.NewTicker(reconcileCfg.Interval())
	defer ticker.Stop()

	app.Logger.Info("Background reconciliation enabled",
		zap.Duration("interval", reconcileCfg.Interval()),
		zap.Bool("repair", reconcileCfg.Repair))

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := reconciler.Run(ctx)
			if err != nil {
				if ctx.Err() == nil {
					app.Logger.Error("Background reconciliation failed", zap.Error(err))
				}
				continue
			}
			app.Logger.Info("Background reconciliation finished",
				zap.Int("checked", report.Checked),
				zap.Int("drifted", len(report.Mismatches)),
				zap.Int("repaired", report.Repaired),
				zap.Int("orphans", report.Orphans))
		}
	}
}
