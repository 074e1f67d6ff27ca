package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nsqio/go-nsq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paystrand/hookrelay/internal/config"
	"github.com/paystrand/hookrelay/internal/db"
	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/health"
	"github.com/paystrand/hookrelay/internal/logging"
	"github.com/paystrand/hookrelay/internal/metrics"
	"github.com/paystrand/hookrelay/internal/queue"
	"github.com/paystrand/hookrelay/internal/store"
	"github.com/paystrand/hookrelay/internal/tracing"
)

// maxRequeueDelay caps a single NSQ requeue. Delays beyond it are served by
// repeated not-due bounces against next_attempt_at in the ledger.
const maxRequeueDelay = 10 * time.Minute

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookrelay-worker")

	shutdown, err := tracing.Init(ctx, "hookrelay-worker")
	if err != nil {
		logger.Plain().WithError(err).Fatal("failed to initialize tracing")
	}
	defer shutdown()

	pool, err := db.Connect(ctx, cfg.DSN())
	if err != nil {
		logger.Plain().WithError(err).Fatal("db connect failed")
	}
	defer pool.Close()

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	httpSrv := &http.Server{Addr: cfg.WorkerPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("worker HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("worker HTTP server failed")
		}
	}()

	policy := delivery.RetryPolicy{
		MaxAttempts:   cfg.Retry.MaxAttempts,
		Factor:        cfg.Retry.BackoffFactor,
		MinDelay:      cfg.Retry.BackoffMin,
		MaxDelay:      cfg.Retry.BackoffMax,
		JitterPercent: cfg.Retry.JitterPercent,
	}
	worker := delivery.NewWorker(
		store.NewDeliveryLedger(pool),
		store.NewEndpointRegistry(pool),
		store.NewEventStore(pool),
		policy,
		nil,
	)

	conf := nsq.NewConfig()
	conf.MaxInFlight = 1000
	consumer, err := nsq.NewConsumer(cfg.NSQ.DeliveriesTopic, cfg.NSQ.WorkerChannel, conf)
	if err != nil {
		logger.Plain().WithError(err).Fatal("nsq consumer creation failed")
	}

	consumer.AddHandler(nsq.HandlerFunc(func(m *nsq.Message) error {
		m.DisableAutoResponse() // we manually requeue or finish
		defer func() {
			if !m.HasResponded() {
				logger.Plain().Warn("message had no response, finishing")
				m.Finish()
			}
		}()

		var t queue.Task
		if err := json.Unmarshal(m.Body, &t); err != nil {
			logger.Plain().WithError(err).Error("bad task payload")
			m.Finish() // terminal: don't retry bad payloads
			return nil
		}

		ctx := tracing.ExtractCarrier(ctx, t.TraceHeaders)
		result, err := worker.Attempt(ctx, t.DeliveryID)

		var retry *delivery.RetryAfterError
		switch {
		case errors.As(err, &retry):
			delay := retry.Delay
			if delay > maxRequeueDelay {
				delay = maxRequeueDelay
			}
			m.Requeue(delay)
		case err != nil:
			// Fatal: the ledger could not be read or written. Finishing here
			// is safe; anything genuinely pending is the reconciler's job.
			logger.WithContext(ctx).WithDelivery(t.DeliveryID).WithError(err).Error("attempt failed fatally")
			m.Finish()
		default:
			logger.WithContext(ctx).WithDelivery(t.DeliveryID).
				WithField("result", result.String()).Debug("attempt finished")
			m.Finish()
		}
		return nil
	}))

	// Connecting directly to NSQD forces channel creation, instead of the
	// channel being lazily created on first publish
	if err := consumer.ConnectToNSQD(cfg.NSQ.NsqdTCPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to nsqd failed")
	}
	if err := consumer.ConnectToNSQLookupd(cfg.NSQ.LookupHTTPAddr); err != nil {
		logger.Plain().WithError(err).Fatal("connect to lookupd failed")
	}

	logger.Plain().Info("worker service started")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down worker service")
	consumer.Stop()
	<-consumer.StopChan
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("worker service stopped")
}
