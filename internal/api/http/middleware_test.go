package apihttp

import (
	"bufio"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

// ---------- CORS middleware tests ----------

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestCorsMiddleware_Origins(t *testing.T) {
	tests := []struct {
		name     string
		allowed  []string
		origin   string
		wantACAO string
	}{
		{name: "nil whitelist reflects", allowed: nil, origin: "http://example.com", wantACAO: "http://example.com"},
		{name: "empty whitelist reflects", allowed: []string{}, origin: "http://anything.com", wantACAO: "http://anything.com"},
		{name: "whitelisted", allowed: []string{"http://allowed.com", "http://also-allowed.com"}, origin: "http://allowed.com", wantACAO: "http://allowed.com"},
		{name: "not whitelisted", allowed: []string{"http://allowed.com"}, origin: "http://evil.com", wantACAO: ""},
		{name: "trailing slash trimmed", allowed: []string{"http://example.com/"}, origin: "http://example.com", wantACAO: "http://example.com"},
		{name: "same origin", allowed: []string{"http://allowed.com"}, origin: "", wantACAO: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := corsMiddleware(newOriginPolicy(tt.allowed), okHandler())
			req := httptest.NewRequest(http.MethodGet, "/test", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			if got := rec.Header().Get("Access-Control-Allow-Origin"); got != tt.wantACAO {
				t.Errorf("ACAO = %q, want %q", got, tt.wantACAO)
			}
			// CORS is advisory; the handler always runs.
			if rec.Code != http.StatusOK {
				t.Errorf("expected handler to execute, got %d", rec.Code)
			}
		})
	}
}

func TestCorsMiddleware_ExposesRangeHeaders(t *testing.T) {
	handler := corsMiddleware(nil, okHandler())
	req := httptest.NewRequest(http.MethodGet, "/stream/x/y", nil)
	req.Header.Set("Origin", "http://player.local")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Vary"); got != "Origin" {
		t.Errorf("expected Vary: Origin, got %q", got)
	}
	if got := rec.Header().Get("Access-Control-Expose-Headers"); got != "Content-Range, Accept-Ranges, Content-Length" {
		t.Errorf("unexpected Expose-Headers %q", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, Range" {
		t.Errorf("unexpected Allow-Headers %q", got)
	}
}

func TestCorsMiddleware_PreflightReturns204(t *testing.T) {
	called := false
	handler := corsMiddleware(nil, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodOptions, "/test", nil)
	req.Header.Set("Origin", "http://example.com")
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204 for preflight, got %d", rec.Code)
	}
	if called {
		t.Error("preflight should not call the next handler")
	}
}

// ---------- Rate limit middleware tests ----------

func TestRateLimitMiddleware_AllowsWithinBurst(t *testing.T) {
	handler := rateLimitMiddleware(100, 10, okHandler())

	for i := 0; i < 10; i++ {
		req := httptest.NewRequest(http.MethodGet, "/test", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Errorf("request %d: expected 200, got %d", i, rec.Code)
		}
	}
}

func TestRateLimitMiddleware_Returns429AfterBurst(t *testing.T) {
	handler := rateLimitMiddleware(0.001, 2, okHandler())

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))
	}

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusTooManyRequests {
		t.Errorf("expected 429, got %d", rec.Code)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After: 1, got %q", got)
	}
}

func TestRateLimitMiddleware_SkipsHealthAndMetrics(t *testing.T) {
	for _, path := range []string{"/internal/health", "/metrics"} {
		t.Run(path, func(t *testing.T) {
			handler := rateLimitMiddleware(0.001, 1, okHandler())
			handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/test", nil))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
			if rec.Code != http.StatusOK {
				t.Errorf("expected %s to bypass rate limit, got %d", path, rec.Code)
			}
		})
	}
}

// ---------- Recovery middleware tests ----------

func TestRecoveryMiddleware_CatchesPanic(t *testing.T) {
	for name, value := range map[string]any{
		"string": "test panic",
		"error":  fmt.Errorf("something went wrong"),
	} {
		t.Run(name, func(t *testing.T) {
			handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				panic(value)
			}))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

			if rec.Code != http.StatusInternalServerError {
				t.Errorf("expected 500, got %d", rec.Code)
			}
		})
	}
}

func TestRecoveryMiddleware_NoPanicPassesThrough(t *testing.T) {
	handler := recoveryMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusCreated {
		t.Errorf("expected 201, got %d", rec.Code)
	}
}

// ---------- Logging middleware tests ----------

func TestLoggingMiddleware_PassesBody(t *testing.T) {
	handler := loggingMiddleware(slog.Default(), http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hello"))
	}))
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/test", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "hello" {
		t.Errorf("expected body 'hello', got %q", rec.Body.String())
	}
}

func TestPickRequestLogLevel(t *testing.T) {
	tests := []struct {
		path   string
		status int
		want   slog.Level
	}{
		{"/torrents", 500, slog.LevelError},
		{"/torrents", 404, slog.LevelWarn},
		{"/stream/abc/movie.mp4", 206, slog.LevelDebug},
		{"/torrents/abc/status", 200, slog.LevelDebug},
		{"/internal/health", 200, slog.LevelDebug},
		{"/torrents", 200, slog.LevelInfo},
	}
	for _, tt := range tests {
		if got := pickRequestLogLevel(tt.path, tt.status); got != tt.want {
			t.Errorf("pickRequestLogLevel(%q, %d) = %v, want %v", tt.path, tt.status, got, tt.want)
		}
	}
}

func TestNormalizeRoute(t *testing.T) {
	tests := map[string]string{
		"/torrents":                 "/torrents",
		"/torrents/abc":             "/torrents/:id",
		"/torrents/abc/status":      "/torrents/:id/status",
		"/stream/abc/dir/movie.mp4": "/stream/:id/:file",
		"/metrics":                  "/metrics",
		"/internal/health":          "/internal/health",
		"/ws":                       "/ws",
		"/favicon.ico":              "/other",
	}
	for path, want := range tests {
		if got := normalizeRoute(path); got != want {
			t.Errorf("normalizeRoute(%q) = %q, want %q", path, got, want)
		}
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:4312"
	if got := clientIP(req); got != "10.0.0.5" {
		t.Errorf("clientIP = %q", got)
	}
	req.Header.Set("X-Real-IP", "172.16.0.1")
	if got := clientIP(req); got != "172.16.0.1" {
		t.Errorf("clientIP with X-Real-IP = %q", got)
	}
	req.Header.Set("X-Forwarded-For", "192.168.1.1, 10.0.0.1")
	if got := clientIP(req); got != "192.168.1.1" {
		t.Errorf("clientIP with XFF = %q", got)
	}
}

func TestTruncate(t *testing.T) {
	if got := truncate("abcdefgh", 5); got != "ab..." {
		t.Errorf("truncate = %q", got)
	}
	if got := truncate("abc", 10); got != "abc" {
		t.Errorf("truncate short = %q", got)
	}
	if got := truncate("abcdef", 6); got != "abcdef" {
		t.Errorf("truncate exact = %q", got)
	}
}

// ---------- responseWriter tests ----------

func TestResponseWriter_WriteHeader(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}

func TestResponseWriter_WriteCapturesSize(t *testing.T) {
	rw := &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}

	n, err := rw.Write([]byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if n != 5 || rw.size != 5 {
		t.Errorf("expected 5 bytes, got n=%d size=%d", n, rw.size)
	}

	rw.Write([]byte(" world"))
	if rw.size != 11 {
		t.Errorf("expected cumulative size 11, got %d", rw.size)
	}
}

func TestResponseWriter_FlushReachesRecorder(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("x"))
	rw.Flush()

	if !rec.Flushed {
		t.Error("expected underlying writer to be flushed")
	}
}

type fakeHijacker struct {
	http.ResponseWriter
}

func (f *fakeHijacker) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return nil, nil, nil
}

func TestResponseWriter_Hijack(t *testing.T) {
	rw := &responseWriter{ResponseWriter: &fakeHijacker{ResponseWriter: httptest.NewRecorder()}, status: http.StatusOK}
	if _, _, err := rw.Hijack(); err != nil {
		t.Errorf("expected hijack to succeed, got %v", err)
	}

	rw = &responseWriter{ResponseWriter: httptest.NewRecorder(), status: http.StatusOK}
	if _, _, err := rw.Hijack(); err == nil {
		t.Error("expected hijack to fail without a Hijacker")
	}
}
