package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"sesame.dev/internal/obs"
)

func TestRateLimitExceeded(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RequestID(RateLimit(base, 1, time.Minute))

	req := httptest.NewRequest(http.MethodGet, "/limited", nil)
	req.RemoteAddr = "10.0.0.1:1234"

	rr1 := httptest.NewRecorder()
	handler.ServeHTTP(rr1, req.Clone(context.Background()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first call 200, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	handler.ServeHTTP(rr2, req.Clone(context.Background()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rr2.Code)
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatalf("expected Retry-After header")
	}

	var body map[string]any
	if err := json.Unmarshal(rr2.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode rate limit body: %v", err)
	}
	if body["error"] == "" {
		t.Fatalf("expected error message in body")
	}
	if body["request_id"] == "" {
		t.Fatalf("expected request_id in body")
	}

	other := req.Clone(context.Background())
	other.RemoteAddr = "10.0.0.2:1234"
	rr3 := httptest.NewRecorder()
	handler.ServeHTTP(rr3, other)
	if rr3.Code != http.StatusOK {
		t.Fatalf("limit leaked across clients: %d", rr3.Code)
	}
}

func TestRateLimiterRefillsAfterWindow(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	lim := newRateLimiter(2, time.Minute)
	lim.now = func() time.Time { return now }

	if lim.reserve("ip") != 0 || lim.reserve("ip") != 0 {
		t.Fatal("burst should allow two requests")
	}
	if lim.reserve("ip") == 0 {
		t.Fatal("third request should be delayed")
	}
	now = now.Add(30 * time.Second)
	if d := lim.reserve("ip"); d != 0 {
		t.Fatalf("expected refill after half window, delay %s", d)
	}
}

func TestLoggingJSONEmitsStructuredEntry(t *testing.T) {
	logger := obs.Logger()
	origWriter := logger.Writer()
	logger.SetFlags(0)

	var buf bytes.Buffer
	logger.SetOutput(&buf)
	defer logger.SetOutput(origWriter)

	handler := RequestID(LoggingJSON(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("ok"))
	})))

	req := httptest.NewRequest(http.MethodGet, "/log-test", nil)
	req.Header.Set("User-Agent", "middleware-test")
	req.Header.Set(requestIDHeader, "rid-1")
	req.RemoteAddr = "127.0.0.1:1234"

	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req.Clone(context.Background()))

	line := strings.TrimSpace(buf.String())
	if line == "" {
		t.Fatal("expected log line")
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log is not valid JSON: %v", err)
	}
	for _, key := range []string{"ts", "level", "msg", "request_id", "method", "path", "status", "duration_ms"} {
		if _, ok := entry[key]; !ok {
			t.Fatalf("expected key %q in log entry", key)
		}
	}
	if entry["msg"] != "request_complete" {
		t.Fatalf("unexpected msg: %v", entry["msg"])
	}
	if entry["status"] != float64(http.StatusTeapot) {
		t.Fatalf("unexpected status: %v", entry["status"])
	}
	if entry["request_id"] != "rid-1" || rr.Header().Get(requestIDHeader) != "rid-1" {
		t.Fatalf("request id not propagated: %v", entry["request_id"])
	}
}

func TestCORSAllowsConfiguredOrigins(t *testing.T) {
	handler := CORS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), []string{"https://app.example"})

	req := httptest.NewRequest(http.MethodOptions, "/v1/auth/login", nil)
	req.Header.Set("Origin", "https://app.example")
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rr.Code)
	}
	if rr.Header().Get("Access-Control-Allow-Origin") != "https://app.example" {
		t.Fatalf("origin not allowed")
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example")
	rr = httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatalf("unexpected origin allowed")
	}
}

func TestMaxBodyBytesRejectsLargeBodies(t *testing.T) {
	handler := RequestID(MaxBodyBytes(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var v map[string]any
		if err := decodeJSON(r, &v, false); err != nil {
			writeDecodeError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusOK)
	}), 16))

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"padding":"`+strings.Repeat("x", 64)+`"}`))
	rr := httptest.NewRecorder()
	handler.ServeHTTP(rr, req)
	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rr.Code)
	}
}

func TestExtractBearerToken(t *testing.T) {
	cases := map[string]string{
		"":                 "",
		"Bearer abc":       "abc",
		"bearer  abc ":     "abc",
		"Basic dXNlcjpw":   "",
		"Bearer":           "",
		"BEARER token.x.y": "token.x.y",
	}
	for header, want := range cases {
		if got := extractBearerToken(header); got != want {
			t.Fatalf("extractBearerToken(%q)=%q, want %q", header, got, want)
		}
	}
}

func TestRateLimitIgnoresForwardedForFromUntrustedPeer(t *testing.T) {
	base := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	handler := RateLimit(base, 5, 15*time.Minute)

	passed := 0
	for i := 0; i < 50; i++ {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = "203.0.113.7:40000"
		req.Header.Set("X-Forwarded-For", fmt.Sprintf("10.0.0.%d", i))
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		if rr.Code == http.StatusOK {
			passed++
		}
	}
	if passed != 5 {
		t.Fatalf("rotating X-Forwarded-For: %d requests passed, want 5", passed)
	}
}

func TestRateLimitHonoursForwardedForFromTrustedProxy(t *testing.T) {
	proxies, err := parseTrustedProxies([]string{"192.0.2.0/24"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	lim := newRateLimiter(1, time.Minute)
	lim.proxies = proxies
	handler := lim.Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	send := func(client string) int {
		req := httptest.NewRequest(http.MethodPost, "/v1/auth/login", nil)
		req.RemoteAddr = "192.0.2.10:40000"
		req.Header.Set("X-Forwarded-For", client)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)
		return rr.Code
	}
	if code := send("198.51.100.1"); code != http.StatusOK {
		t.Fatalf("first client: %d", code)
	}
	if code := send("198.51.100.1"); code != http.StatusTooManyRequests {
		t.Fatalf("same client again: %d, want 429", code)
	}
	if code := send("198.51.100.2"); code != http.StatusOK {
		t.Fatalf("second client behind the proxy shared a bucket: %d", code)
	}
}

func TestClientIP(t *testing.T) {
	proxies, err := parseTrustedProxies([]string{"192.0.2.10", "10.0.0.0/8"})
	if err != nil {
		t.Fatalf("parse proxies: %v", err)
	}
	cases := []struct {
		name    string
		remote  string
		xff     string
		proxies trustedProxies
		want    string
	}{
		{"no proxies configured", "203.0.113.7:1", "10.9.9.9", nil, "203.0.113.7"},
		{"untrusted peer", "203.0.113.7:1", "10.9.9.9", proxies, "203.0.113.7"},
		{"trusted peer without header", "192.0.2.10:1", "", proxies, "192.0.2.10"},
		{"trusted peer", "192.0.2.10:1", "198.51.100.4", proxies, "198.51.100.4"},
		{"spoofed leftmost hop", "192.0.2.10:1", "1.2.3.4, 198.51.100.4", proxies, "198.51.100.4"},
		{"chained proxies", "192.0.2.10:1", "198.51.100.4, 10.1.2.3", proxies, "198.51.100.4"},
		{"all hops trusted", "192.0.2.10:1", "10.1.2.3, 10.4.5.6", proxies, "10.1.2.3"},
		{"remote without port", "203.0.113.7", "", proxies, "203.0.113.7"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tc.remote
			if tc.xff != "" {
				req.Header.Set("X-Forwarded-For", tc.xff)
			}
			if got := clientIP(req, tc.proxies); got != tc.want {
				t.Fatalf("clientIP = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestParseTrustedProxiesRejectsGarbage(t *testing.T) {
	if _, err := parseTrustedProxies([]string{"10.0.0.0/8", "proxy.internal"}); err == nil {
		t.Fatal("expected error for non-IP entry")
	}
}
