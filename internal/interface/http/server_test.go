package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	appAlert "alert-scanner/internal/application/alert"
	"alert-scanner/internal/infra/memory"
	authinfra "alert-scanner/internal/infrastructure/auth"
)

type fakeScanner struct {
	mu      sync.Mutex
	running bool
	ctx     context.Context
}

func (f *fakeScanner) Start(ctx context.Context) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.running {
		return false
	}
	f.running = true
	f.ctx = ctx
	return true
}

func (f *fakeScanner) Stop() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.running {
		return false
	}
	f.running = false
	return true
}

func (f *fakeScanner) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

func (f *fakeScanner) ScanCount() int64 { return 7 }

type fakeReconciler struct {
	res appAlert.RunResult
	err error
}

func (f fakeReconciler) Run(context.Context) (appAlert.RunResult, error) {
	return f.res, f.err
}

type testEnv struct {
	server  *Server
	scanner *fakeScanner
	token   string
}

func newTestEnv(t *testing.T, rec ReconcileTrigger) testEnv {
	t.Helper()
	tokens := authinfra.NewJWTIssuer("test-secret", time.Hour)
	token, _, err := tokens.Issue("ops")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	sc := &fakeScanner{}
	s := NewServer(Deps{
		RunCtx:     context.Background(),
		Alerts:     appAlert.NewService(memory.NewAlertStore()),
		Scanner:    sc,
		Reconciler: rec,
		Tokens:     tokens,
		Metrics:    http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { _, _ = w.Write([]byte("# metrics")) }),
		DBDriver:   "memory",
		Log:        zerolog.Nop(),
	})
	return testEnv{server: s, scanner: sc, token: token}
}

func (e testEnv) do(t *testing.T, method, path string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	w := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(w, req)

	var resp map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestPublicEndpoints(t *testing.T) {
	env := newTestEnv(t, nil)
	env.token = ""

	t.Run("Ping", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/api/ping", nil)
		if w.Code != http.StatusOK || resp["message"] != "pong" {
			t.Fatalf("got %d %v", w.Code, resp)
		}
	})

	t.Run("Health", func(t *testing.T) {
		w, resp := env.do(t, http.MethodGet, "/api/health", nil)
		if w.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", w.Code)
		}
		if resp["health"] != "ok" || resp["db"] != "ok" || resp["db_driver"] != "memory" {
			t.Fatalf("unexpected health: %v", resp)
		}
		scanner, _ := resp["scanner"].(map[string]any)
		if scanner["running"] != false || scanner["scan_count"] != float64(7) {
			t.Fatalf("unexpected scanner state: %v", scanner)
		}
	})

	t.Run("Metrics", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
		w := httptest.NewRecorder()
		env.server.Handler().ServeHTTP(w, req)
		if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "# metrics") {
			t.Fatalf("got %d %q", w.Code, w.Body.String())
		}
	})
}

func TestAlertLifecycle(t *testing.T) {
	env := newTestEnv(t, nil)

	w, resp := env.do(t, http.MethodPost, "/api/alerts", map[string]any{
		"symbol":       "btcusdt",
		"condition":    "price >",
		"target_price": 50000,
		"note":         "breakout",
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("create: %d %v", w.Code, resp)
	}
	data := resp["data"].(map[string]any)
	if data["symbol"] != "BTCUSDT" || data["status"] != "active" {
		t.Fatalf("unexpected alert: %v", data)
	}
	id := int64(data["id"].(float64))

	w, resp = env.do(t, http.MethodGet, "/api/alerts?status=active", nil)
	if w.Code != http.StatusOK || len(resp["data"].([]any)) != 1 {
		t.Fatalf("list: %d %v", w.Code, resp)
	}

	w, resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/alerts/%d/cancel", id), nil)
	if w.Code != http.StatusOK || resp["data"].(map[string]any)["status"] != "canceled" {
		t.Fatalf("cancel: %d %v", w.Code, resp)
	}

	w, resp = env.do(t, http.MethodPost, fmt.Sprintf("/api/alerts/%d/cancel", id), nil)
	if w.Code != http.StatusConflict || resp["error_code"] != errCodeConflict || resp["success"] != false {
		t.Fatalf("second cancel: %d %v", w.Code, resp)
	}

	w, _ = env.do(t, http.MethodDelete, fmt.Sprintf("/api/alerts/%d", id), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete: %d", w.Code)
	}
	w, resp = env.do(t, http.MethodDelete, fmt.Sprintf("/api/alerts/%d", id), nil)
	if w.Code != http.StatusNotFound || resp["error_code"] != errCodeNotFound {
		t.Fatalf("second delete: %d %v", w.Code, resp)
	}
}

func TestAlertValidation(t *testing.T) {
	env := newTestEnv(t, nil)

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"missing target", http.MethodPost, "/api/alerts", map[string]any{"symbol": "BTCUSDT", "condition": "price <"}},
		{"bad condition", http.MethodPost, "/api/alerts", map[string]any{"symbol": "BTCUSDT", "condition": "volume >", "target_price": 1}},
		{"bad status filter", http.MethodGet, "/api/alerts?status=paused", nil},
		{"bad id", http.MethodPost, "/api/alerts/abc/cancel", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, resp := env.do(t, tt.method, tt.path, tt.body)
			if w.Code != http.StatusBadRequest || resp["error_code"] != errCodeBadRequest {
				t.Fatalf("got %d %v", w.Code, resp)
			}
		})
	}
}

func TestScannerControl(t *testing.T) {
	env := newTestEnv(t, nil)

	w, resp := env.do(t, http.MethodPost, "/api/scanner/start", nil)
	if w.Code != http.StatusOK || resp["changed"] != true || resp["running"] != true {
		t.Fatalf("start: %d %v", w.Code, resp)
	}
	if env.scanner.ctx != context.Background() {
		t.Fatalf("scanner should run under the server lifetime context, not the request")
	}
	_, resp = env.do(t, http.MethodPost, "/api/scanner/start", nil)
	if resp["changed"] != false {
		t.Fatalf("second start should be a no-op: %v", resp)
	}
	_, resp = env.do(t, http.MethodPost, "/api/scanner/stop", nil)
	if resp["changed"] != true || resp["running"] != false {
		t.Fatalf("stop: %v", resp)
	}
}

func TestReconcileRun(t *testing.T) {
	t.Run("Skipped", func(t *testing.T) {
		env := newTestEnv(t, fakeReconciler{res: appAlert.RunResult{Skipped: true}})
		w, resp := env.do(t, http.MethodPost, "/api/reconciler/run", nil)
		if w.Code != http.StatusOK || resp["data"].(map[string]any)["skipped"] != true {
			t.Fatalf("got %d %v", w.Code, resp)
		}
	})

	t.Run("Failed", func(t *testing.T) {
		env := newTestEnv(t, fakeReconciler{err: errors.New("db gone")})
		w, resp := env.do(t, http.MethodPost, "/api/reconciler/run", nil)
		if w.Code != http.StatusInternalServerError || resp["error_code"] != errCodeInternal {
			t.Fatalf("got %d %v", w.Code, resp)
		}
	})

	t.Run("NotConfigured", func(t *testing.T) {
		env := newTestEnv(t, nil)
		w, _ := env.do(t, http.MethodPost, "/api/reconciler/run", nil)
		if w.Code != http.StatusNotFound {
			t.Fatalf("got %d", w.Code)
		}
	})
}

func TestNewServer_TypedNilDepsAreUnset(t *testing.T) {
	var sc *fakeScanner
	s := NewServer(Deps{Scanner: sc, Log: zerolog.Nop()})
	if s.scanner != nil {
		t.Fatal("typed nil scanner should be treated as not configured")
	}
}
