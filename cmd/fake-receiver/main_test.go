package main

import (
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/paystrand/hookrelay/internal/delivery"
	"github.com/paystrand/hookrelay/internal/signer"
)

func TestVerify(t *testing.T) {
	secret := "test-secret"
	body := []byte("test payload")
	now := time.Now().Unix()
	leeway := 5 * time.Minute

	validSig := signer.Sign(secret, body, now)

	tests := []struct {
		name        string
		secret      string
		body        []byte
		timestamp   string
		signature   string
		expectValid bool
		expectedMsg string
	}{
		{
			name:        "valid signature",
			secret:      secret,
			body:        body,
			timestamp:   strconv.FormatInt(now, 10),
			signature:   validSig,
			expectValid: true,
			expectedMsg: "",
		},
		{
			name:        "missing timestamp",
			secret:      secret,
			body:        body,
			timestamp:   "",
			signature:   validSig,
			expectValid: false,
			expectedMsg: "missing headers",
		},
		{
			name:        "missing signature",
			secret:      secret,
			body:        body,
			timestamp:   strconv.FormatInt(now, 10),
			signature:   "",
			expectValid: false,
			expectedMsg: "missing headers",
		},
		{
			name:        "invalid timestamp format",
			secret:      secret,
			body:        body,
			timestamp:   "not-a-number",
			signature:   validSig,
			expectValid: false,
			expectedMsg: "invalid timestamp",
		},
		{
			name:        "timestamp too old",
			secret:      secret,
			body:        body,
			timestamp:   strconv.FormatInt(now-int64(leeway.Seconds())-10, 10),
			signature:   validSig,
			expectValid: false,
			expectedMsg: "timestamp too far from now (outside leeway)",
		},
		{
			name:        "timestamp too new",
			secret:      secret,
			body:        body,
			timestamp:   strconv.FormatInt(now+int64(leeway.Seconds())+10, 10),
			signature:   validSig,
			expectValid: false,
			expectedMsg: "timestamp too far from now (outside leeway)",
		},
		{
			name:        "signature mismatch",
			secret:      secret,
			body:        body,
			timestamp:   strconv.FormatInt(now, 10),
			signature:   "deadbeef",
			expectValid: false,
			expectedMsg: "sig mismatch",
		},
		{
			name:        "wrong secret",
			secret:      "wrong-secret",
			body:        body,
			timestamp:   strconv.FormatInt(now, 10),
			signature:   validSig,
			expectValid: false,
			expectedMsg: "sig mismatch",
		},
		{
			name:        "tampered body",
			secret:      secret,
			body:        []byte("tampered payload"),
			timestamp:   strconv.FormatInt(now, 10),
			signature:   validSig,
			expectValid: false,
			expectedMsg: "sig mismatch",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			valid, msg := verify(tt.secret, tt.body, tt.timestamp, tt.signature, leeway)

			if valid != tt.expectValid {
				t.Errorf("verify() valid = %v, want %v", valid, tt.expectValid)
			}
			if msg != tt.expectedMsg {
				t.Errorf("verify() msg = %q, want %q", msg, tt.expectedMsg)
			}
		})
	}
}

func TestAbs64(t *testing.T) {
	tests := []struct {
		name     string
		input    int64
		expected int64
	}{
		{"positive number", 42, 42},
		{"negative number", -42, 42},
		{"zero", 0, 0},
		{"max int64", 9223372036854775807, 9223372036854775807},
		{"min int64 + 1", -9223372036854775807, 9223372036854775807},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := abs64(tt.input)
			if result != tt.expected {
				t.Errorf("abs64(%d) = %d, want %d", tt.input, result, tt.expected)
			}
		})
	}
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		length   int
		expected string
	}{
		{"string shorter than limit", "hello", 10, "hello"},
		{"string equal to limit", "hello", 5, "hello"},
		{"string longer than limit", "hello world", 5, "hello..."},
		{"empty string", "", 5, ""},
		{"zero length limit", "hello", 0, "..."},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := truncate(tt.input, tt.length)
			if result != tt.expected {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.input, tt.length, result, tt.expected)
			}
		})
	}
}

func TestHandleHook(t *testing.T) {
	signedHeaders := func(secret, body string) map[string]string {
		now := time.Now().Unix()
		return map[string]string{
			delivery.HeaderTimestamp: strconv.FormatInt(now, 10),
			delivery.HeaderSignature: signer.Sign(secret, []byte(body), now),
		}
	}

	tests := []struct {
		name                 string
		body                 string
		headers              map[string]string
		failFirstN           int
		secret               string
		expectedStatus       int
		expectedBodyContains string
	}{
		{
			name:                 "successful request without signature checking",
			body:                 "test payload",
			headers:              map[string]string{},
			expectedStatus:       http.StatusOK,
			expectedBodyContains: "ok",
		},
		{
			name:                 "fail first request",
			body:                 "test payload",
			headers:              map[string]string{},
			failFirstN:           1,
			expectedStatus:       http.StatusInternalServerError,
			expectedBodyContains: "temporary failure",
		},
		{
			name: "missing signature with secret configured",
			body: "test payload",
			headers: map[string]string{
				delivery.HeaderTimestamp: strconv.FormatInt(time.Now().Unix(), 10),
			},
			secret:               "test-secret",
			expectedStatus:       http.StatusUnauthorized,
			expectedBodyContains: "invalid signature",
		},
		{
			name:                 "valid signature with secret",
			body:                 "test payload",
			headers:              signedHeaders("test-secret", "test payload"),
			secret:               "test-secret",
			expectedStatus:       http.StatusOK,
			expectedBodyContains: "ok",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reqCount = 0
			failFirstN = tt.failFirstN
			endpointSecret = tt.secret
			maxSkew = 5 * time.Minute

			req := httptest.NewRequest("POST", "/hook", strings.NewReader(tt.body))
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()

			handleHook(w, req)

			if w.Code != tt.expectedStatus {
				t.Errorf("handleHook() status = %d, want %d", w.Code, tt.expectedStatus)
			}
			if !strings.Contains(w.Body.String(), tt.expectedBodyContains) {
				t.Errorf("handleHook() body = %q, want to contain %q", w.Body.String(), tt.expectedBodyContains)
			}
		})
	}
}

func TestHealthzHandler(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	})

	req := httptest.NewRequest("GET", "/healthz", nil)
	w := httptest.NewRecorder()

	mux.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("healthz handler status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.String() != `{"ok":true}` {
		t.Errorf("healthz handler body = %q", w.Body.String())
	}
}
