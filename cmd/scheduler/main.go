// Command scheduler runs the background action poller of spec §5: after a
// startup catch-up sweep re-drives any event left undispatched by a prior
// crash, it polls the store for due actions and executes them until an
// interrupt or terminate signal asks it to stop.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/sentinelops/remediator/internal/config"
	"github.com/sentinelops/remediator/pkg/app"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("failed to load configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		logrus.WithError(err).Fatal("failed to build application")
	}
	defer func() {
		if err := a.Close(); err != nil {
			logrus.WithError(err).Error("error closing application")
		}
	}()

	if swept, err := a.Ingestion.Sweep(ctx, cfg.Scheduler.BatchSize); err != nil {
		logrus.WithError(err).Error("startup catch-up sweep failed")
	} else if swept > 0 {
		logrus.WithField("count", swept).Info("catch-up sweep re-drove undispatched events")
	}

	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.WithField("addr", metricsServer.Addr).Info("scheduler-metrics listening")
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logrus.WithError(err).Error("scheduler-metrics server failed")
		}
	}()

	logrus.Info("scheduler starting poll loop")
	if err := a.Scheduler.Run(ctx); err != nil && ctx.Err() == nil {
		logrus.WithError(err).Fatal("scheduler poll loop failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = metricsServer.Shutdown(shutdownCtx)
	logrus.Info("scheduler stopped")
}
