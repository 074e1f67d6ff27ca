// fake-receiver is a test subscriber endpoint. It implements the documented
// receiver verification contract: recompute the HMAC over "{timestamp}.{body}"
// with the shared secret, compare against X-Webhook-Signature, and reject
// stale timestamps. A FAIL_FIRST_N knob simulates a flaky receiver.
package main

import (
	"fmt"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/paystrand/hookrelay/internal/config"
	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/signer"
)

var (
	failFirstN     = 0
	reqCount       = 0
	endpointSecret = ""
	maxSkew        = 5 * time.Minute
)

func main() {
	cfg := config.FromEnv().FakeReceiver
	failFirstN = cfg.FailFirstN
	endpointSecret = cfg.EndpointSecret
	maxSkew = time.Duration(cfg.SigningLeewaySeconds) * time.Second

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte(`{"ok":true}`)) })
	mux.HandleFunc("/hook", handleHook)

	srv := &http.Server{
		Addr:         cfg.Port,
		Handler:      mux,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}
	log.Printf("fake-receiver listening on %s", cfg.Port)
	log.Fatal(srv.ListenAndServe())
}

func handleHook(w http.ResponseWriter, r *http.Request) {
	reqCount++
	b, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	if endpointSecret != "" {
		ts := r.Header.Get(delivery.HeaderTimestamp)
		sig := r.Header.Get(delivery.HeaderSignature)
		if ok, msg := verify(endpointSecret, b, ts, sig, maxSkew); !ok {
			log.Printf("fake-receiver failed to verify signature: %s", msg)
			http.Error(w, "invalid signature: "+msg, http.StatusUnauthorized)
			return
		}
	}

	// Simulate flakiness: first N requests -> 500
	if reqCount <= failFirstN {
		log.Printf("FAILING (%d/%d) %s id=%s body=%s", reqCount, failFirstN, r.URL.Path,
			r.Header.Get(delivery.HeaderID), truncate(string(b), 160))
		http.Error(w, "temporary failure", http.StatusInternalServerError)
		return
	}

	log.Printf("fake-receiver OK %s id=%s event=%s body=%q", r.URL.Path,
		r.Header.Get(delivery.HeaderID), r.Header.Get(delivery.HeaderEvent), truncate(string(b), 160))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`ok`))
}

func verify(secret string, body []byte, ts, sig string, leeway time.Duration) (bool, string) {
	if ts == "" || sig == "" {
		return false, "missing headers"
	}
	unix, err := strconv.ParseInt(ts, 10, 64)
	if err != nil {
		return false, "invalid timestamp"
	}
	// replay protection: reject if timestamp is too old/new
	now := time.Now().Unix()
	if abs64(now-unix) > int64(leeway.Seconds()) {
		return false, "timestamp too far from now (outside leeway)"
	}
	if !signer.Verify(secret, body, unix, sig) {
		return false, "sig mismatch"
	}
	return true, ""
}

// abs64 returns the absolute value of an int64
func abs64(x int64) int64 {
	if x < 0 {
		return -x
	}
	return x
}

// truncate truncates a string to the specified length and adds an ellipsis if truncated
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
