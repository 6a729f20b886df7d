// Command gateway runs the HTTP event-submission surface of spec §6: it
// wires pkg/app's object graph to pkg/httpapi and serves it, plus a
// separate metrics listener, until an interrupt or terminate signal asks
// it to drain.
package main

import (
	"context"
	"errors"
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
	"github.com/sentinelops/remediator/pkg/httpapi"
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

	apiServer := httpapi.New(a.Ingestion, a.Log, cfg.Server.AllowedOrigins)
	httpServer := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           apiServer,
		ReadHeaderTimeout: 10 * time.Second,
	}
	metricsServer := &http.Server{
		Addr:              ":" + cfg.Server.MetricsPort,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go runUntilShutdown(ctx, httpServer, "gateway")
	go runUntilShutdown(ctx, metricsServer, "gateway-metrics")

	<-ctx.Done()
	logrus.Info("shutdown signal received, draining")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(shutdownCtx)
	_ = metricsServer.Shutdown(shutdownCtx)
}

func runUntilShutdown(ctx context.Context, srv *http.Server, name string) {
	logrus.WithField("addr", srv.Addr).Infof("%s listening", name)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logrus.WithError(err).Errorf("%s server failed", name)
	}
}
