package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paystrand/hookrelay/internal/config"
	"github.com/paystrand/hookrelay/internal/db"
	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/health"
	"github.com/paystrand/hookrelay/internal/logging"
	"github.com/paystrand/hookrelay/internal/metrics"
	"github.com/paystrand/hookrelay/internal/queue"
	"github.com/paystrand/hookrelay/internal/reconcile"
	"github.com/paystrand/hookrelay/internal/store"
	"github.com/paystrand/hookrelay/internal/tracing"
)

// The reconciler is single-flight by deployment: exactly one instance runs,
// and its loop never overlaps sweeps.
func main() {
	cfg := config.FromEnv()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := logging.New("hookrelay-reconciler")

	shutdown, err := tracing.Init(ctx, "hookrelay-reconciler")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	enqueuer, err := queue.NewNSQEnqueuer(cfg.NSQ.NsqdTCPAddr)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq producer creation failed")
	}
	defer enqueuer.Stop()

	policy := delivery.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		Factor:        cfg.Retry.BackoffFactor,
		MinDelay:      cfg.Retry.BackoffMin,
		MaxDelay:      cfg.Retry.BackoffMax,
		JitterPercent: cfg.Retry.JitterPercent,
	}
	rec := reconcile.New(
		store.NewDeliveryLedger(pool),
		enqueuer,
		cfg.NSQ.DeliveriesTopic,
		policy,
		cfg.Reconciler.Interval,
		cfg.Reconciler.Staleness,
		cfg.Reconciler.BatchSize,
	)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.ReconcilerPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("reconciler HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("reconciler HTTP server failed")
		}
	}()

	go rec.Run(ctx)

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down reconciler service")
	cancel()
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("reconciler service stopped")
}
