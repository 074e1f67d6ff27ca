package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type DB struct {
	User string
	Pass string
	Host string
	Port string
	Name string
}

type NSQ struct {
	NsqdTCPAddr     string // e.g. nsqd:4150
	LookupHTTPAddr  string // e.g. http://nsqlookupd:4161
	DeliveriesTopic string // NSQ topic for delivery attempt tasks
	WorkerChannel   string // NSQ channel name for workers
}

type Retry struct {
	MaxAttempts   int           // Attempt cap before a delivery is terminally failed
	BackoffFactor float64       // Multiplicative backoff factor
	BackoffMin    time.Duration // Floor for the computed delay
	BackoffMax    time.Duration // Ceiling for the computed delay
	JitterPercent float64       // Backoff jitter percentage (0.0-1.0)
}

type Reconciler struct {
	Interval  time.Duration // Sweep interval
	Staleness time.Duration // How long a pending delivery must sit untouched to count as stuck
	BatchSize int           // Max candidates per sweep
}

type FakeReceiver struct {
	FailFirstN           int           // Number of requests to fail initially
	EndpointSecret       string        // Secret for webhook signature verification
	SigningLeewaySeconds int           // Allowed timestamp skew in seconds
	Port                 string        // Server listen port
	ReadTimeout          time.Duration // HTTP read timeout
	WriteTimeout         time.Duration // HTTP write timeout
	IdleTimeout          time.Duration // HTTP idle timeout
}

type Config struct {
	AppName        string
	DispatcherPort string // :8080
	WorkerPort     string // :8082
	ReconcilerPort string // :8084
	DB             DB
	NSQ            NSQ
	Retry          Retry
	Reconciler     Reconciler
	FakeReceiver   FakeReceiver
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getenvFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func FromEnv() Config {
	return Config{
		AppName:        getenv("APP_NAME", "hookrelay"),
		DispatcherPort: getenv("DISPATCHER_HTTP_PORT", ":8080"),
		WorkerPort:     getenv("WORKER_HTTP_PORT", ":8082"),
		ReconcilerPort: getenv("RECONCILER_HTTP_PORT", ":8084"),
		DB: DB{
			User: getenv("DB_USER", "postgres"),
			Pass: getenv("DB_PASS", "postgres"),
			Host: getenv("DB_HOST", "postgres"),
			Port: getenv("DB_PORT", "5432"),
			Name: getenv("DB_NAME", "hookrelay"),
		},
		NSQ: NSQ{
			NsqdTCPAddr:     getenv("NSQD_TCP_ADDR", "nsqd:4150"),
			LookupHTTPAddr:  getenv("NSQ_LOOKUP_HTTP_ADDR", "http://nsqlookupd:4161"),
			DeliveriesTopic: getenv("NSQ_DELIVERIES_TOPIC", "deliveries"),
			WorkerChannel:   getenv("NSQ_WORKER_CHANNEL", "workers"),
		},
		Retry: Retry{
			MaxAttempts:   getenvInt("MAX_ATTEMPTS", 10),
			BackoffFactor: getenvFloat("BACKOFF_FACTOR", 1.8),
			BackoffMin:    getenvDuration("BACKOFF_MIN", time.Minute),
			BackoffMax:    getenvDuration("BACKOFF_MAX", 24*time.Hour),
			JitterPercent: getenvFloat("BACKOFF_JITTER_PCT", 0.25),
		},
		Reconciler: Reconciler{
			Interval:  getenvDuration("RECONCILER_INTERVAL", 5*time.Minute),
			Staleness: getenvDuration("RECONCILER_STALENESS", 10*time.Minute),
			BatchSize: getenvInt("RECONCILER_BATCH_SIZE", 50),
		},
		FakeReceiver: FakeReceiver{
			FailFirstN:           getenvInt("FAIL_FIRST_N", 0),
			EndpointSecret:       getenv("ENDPOINT_SECRET", ""),
			SigningLeewaySeconds: getenvInt("SIGNING_LEEWAY_SECONDS", 300),
			Port:                 getenv("FAKE_RECEIVER_PORT", ":8081"),
			ReadTimeout:          getenvDuration("FAKE_RECEIVER_READ_TIMEOUT", 10*time.Second),
			WriteTimeout:         getenvDuration("FAKE_RECEIVER_WRITE_TIMEOUT", 10*time.Second),
			IdleTimeout:          getenvDuration("FAKE_RECEIVER_IDLE_TIMEOUT", 60*time.Second),
		},
	}
}

func (c Config) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable",
		c.DB.User, c.DB.Pass, c.DB.Host, c.DB.Port, c.DB.Name)
}
