package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/paystrand/hookrelay/internal/config"
	"github.com/paystrand/hookrelay/internal/db"
	"github.com/paystrand/hookrelay/internal/dispatch"
	"github.com/paystrand/hookrelay/internal/health"
	"github.com/paystrand/hookrelay/internal/logging"
	"github.com/paystrand/hookrelay/internal/metrics"
	"github.com/paystrand/hookrelay/internal/queue"
	"github.com/paystrand/hookrelay/internal/store"
	"github.com/paystrand/hookrelay/internal/tracing"
)

type dispatchResponse struct {
	EventID     string `json:"event_id"`
	FanoutCount int    `json:"fanout_count"`
}

func main() {
	cfg := config.FromEnv()
	ctx := context.Background()

	logger := logging.New("hookrelay-dispatcher")

	shutdown, err := tracing.Init(ctx, "hookrelay-dispatcher")
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

	dispatcher := dispatch.New(
		store.NewEventStore(pool),
		store.NewEndpointRegistry(pool),
		store.NewDeliveryLedger(pool),
		enqueuer,
		cfg.NSQ.DeliveriesTopic,
	)

	reg := prometheus.NewRegistry()
	metrics.MustRegister(reg)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", health.HTTPHandler(pool))
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("POST /v1/events", func(w http.ResponseWriter, r *http.Request) {
		var in dispatch.Input
		if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
			http.Error(w, "invalid JSON body", http.StatusBadRequest)
			return
		}
		if err := in.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		ev, deliveries, err := dispatcher.Dispatch(r.Context(), in)
		if err != nil {
			logger.WithContext(r.Context()).WithError(err).Error("dispatch failed")
			http.Error(w, "dispatch failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(dispatchResponse{
			EventID:     ev.ID,
			FanoutCount: len(deliveries),
		})
	})

	httpSrv := &http.Server{Addr: cfg.DispatcherPort, Handler: mux}
	go func() {
		logger.Plain().WithField("addr", httpSrv.Addr).Info("dispatcher HTTP server starting")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Plain().WithError(err).Fatal("dispatcher HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGTERM, syscall.SIGINT)
	<-stop

	logger.Plain().Info("shutting down dispatcher service")
	_ = httpSrv.Shutdown(context.Background())
	logger.Plain().Info("dispatcher service stopped")
}
