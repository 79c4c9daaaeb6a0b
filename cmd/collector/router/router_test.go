package router

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/HatiCode/hawkeye/pkg/actor"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// startActor runs a real storage actor over an in-memory history.
func startActor(t *testing.T, capacity int) *actor.Sender {
	t.Helper()

	h, err := storage.NewMemoryHistory(capacity)
	if err != nil {
		t.Fatalf("NewMemoryHistory() error = %v", err)
	}
	a, sender, err := actor.New(h, 16, discardLogger(), nil)
	if err != nil {
		t.Fatalf("actor.New() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = a.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return sender
}

type stubStore struct {
	storeErr error
	fetchErr error
	block    bool
	samples  []storage.Sample
}

func (s *stubStore) Store(ctx context.Context, _ storage.Sample) error {
	if s.block {
		<-ctx.Done()
		return ctx.Err()
	}
	return s.storeErr
}

func (s *stubStore) Fetch(ctx context.Context, _ string) ([]storage.Sample, error) {
	if s.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return s.samples, s.fetchErr
}

type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func (c *countingRecorder) RecordRequest(protocol, operation, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.counts == nil {
		c.counts = make(map[string]int)
	}
	c.counts[protocol+"/"+operation+"/"+outcome]++
}

func (c *countingRecorder) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func newHandler(store Storage, rec RequestRecorder) http.Handler {
	return SetupRoutes(store, Options{
		QueryTimeout: 200 * time.Millisecond,
		Gatherer:     prometheus.NewRegistry(),
		Recorder:     rec,
		Logger:       discardLogger(),
		Now:          func() time.Time { return time.UnixMilli(1_700_000_000_000) },
	})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != "" {
		rdr = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rdr)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestHealth(t *testing.T) {
	h := newHandler(&stubStore{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/health", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}

	var resp map[string]bool
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if !resp["running"] {
		t.Errorf("running = false, want true")
	}

	w = do(t, h, http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK || w.Body.String() != "OK" {
		t.Errorf("/healthz = %d %q, want 200 OK", w.Code, w.Body.String())
	}
}

func TestOccupation_PushThenFetch(t *testing.T) {
	sender := startActor(t, 2)
	rec := &countingRecorder{}
	h := newHandler(sender, rec)

	for _, body := range []string{
		`{"value": 1.0, "timestamp": 100}`,
		`{"value": 3.0, "timestamp": 300}`,
	} {
		w := do(t, h, http.MethodPost, "/api/v1/occupation/node-a", body)
		if w.Code != http.StatusAccepted {
			t.Fatalf("POST status = %d, want %d: %s", w.Code, http.StatusAccepted, w.Body.String())
		}
	}

	w := do(t, h, http.MethodGet, "/api/v1/occupation/node-a", "")
	if w.Code != http.StatusOK {
		t.Fatalf("GET status = %d, want %d", w.Code, http.StatusOK)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var got []OccupationEntry
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	want := []OccupationEntry{{Timestamp: 100, Value: 1}, {Timestamp: 300, Value: 3}}
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if n := rec.get("http/push/ok"); n != 2 {
		t.Errorf("push ok count = %d, want 2", n)
	}
	if n := rec.get("http/fetch/ok"); n != 1 {
		t.Errorf("fetch ok count = %d, want 1", n)
	}
}

func TestOccupation_DefaultTimestamp(t *testing.T) {
	sender := startActor(t, 4)
	h := newHandler(sender, nil)

	if w := do(t, h, http.MethodPost, "/api/v1/occupation/a", `{"value": 0.5}`); w.Code != http.StatusAccepted {
		t.Fatalf("POST status = %d, want %d", w.Code, http.StatusAccepted)
	}

	w := do(t, h, http.MethodGet, "/api/v1/occupation/a", "")
	var got []OccupationEntry
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if len(got) != 1 || got[0].Timestamp != 1_700_000_000_000 {
		t.Errorf("got %+v, want one entry stamped 1700000000000", got)
	}
}

func TestOccupation_UnknownIdentifierIsEmptyArray(t *testing.T) {
	sender := startActor(t, 4)
	h := newHandler(sender, nil)

	w := do(t, h, http.MethodGet, "/api/v1/occupation/nobody", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if body := strings.TrimSpace(w.Body.String()); body != "[]" {
		t.Errorf("body = %q, want []", body)
	}
}

func TestOccupation_UnencodableSampleIsServerError(t *testing.T) {
	store := &stubStore{samples: []storage.Sample{
		{Identifier: "a", Timestamp: 100, Value: float32(math.Inf(1))},
	}}
	h := newHandler(store, nil)

	w := do(t, h, http.MethodGet, "/api/v1/occupation/a", "")
	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}

	var resp map[string]string
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if resp["error"] == "" {
		t.Error("expected error message in response")
	}
}

func TestOccupation_FetchErrors(t *testing.T) {
	tests := []struct {
		name       string
		store      *stubStore
		path       string
		wantStatus int
	}{
		{
			name:       "invalid identifier",
			store:      &stubStore{},
			path:       "/api/v1/occupation/bad%20id",
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "query timeout",
			store:      &stubStore{block: true},
			path:       "/api/v1/occupation/a",
			wantStatus: http.StatusGatewayTimeout,
		},
		{
			name:       "storage failure",
			store:      &stubStore{fetchErr: &storage.StorageError{Op: "fetch", Backend: "redis", Err: errors.New("boom")}},
			path:       "/api/v1/occupation/a",
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "actor stopped",
			store:      &stubStore{fetchErr: actor.ErrActorStopped},
			path:       "/api/v1/occupation/a",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "sender closed",
			store:      &stubStore{fetchErr: actor.ErrSenderClosed},
			path:       "/api/v1/occupation/a",
			wantStatus: http.StatusServiceUnavailable,
		},
		{
			name:       "unclassified error",
			store:      &stubStore{fetchErr: errors.New("weird")},
			path:       "/api/v1/occupation/a",
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(tt.store, nil)
			w := do(t, h, http.MethodGet, tt.path, "")
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}

			var resp map[string]string
			if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			if resp["error"] == "" {
				t.Error("expected error message in response")
			}
		})
	}
}

func TestOccupation_PushErrors(t *testing.T) {
	tests := []struct {
		name       string
		store      *stubStore
		path       string
		body       string
		wantStatus int
	}{
		{name: "missing value", store: &stubStore{}, path: "/api/v1/occupation/a", body: `{"timestamp": 1}`, wantStatus: http.StatusBadRequest},
		{name: "malformed json", store: &stubStore{}, path: "/api/v1/occupation/a", body: `{"value":`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", store: &stubStore{}, path: "/api/v1/occupation/a", body: `{"value": 1, "extra": true}`, wantStatus: http.StatusBadRequest},
		{name: "negative timestamp", store: &stubStore{}, path: "/api/v1/occupation/a", body: `{"value": 1, "timestamp": -5}`, wantStatus: http.StatusBadRequest},
		{name: "value overflows float32", store: &stubStore{}, path: "/api/v1/occupation/a", body: `{"value": 1e300, "timestamp": 100}`, wantStatus: http.StatusBadRequest},
		{name: "invalid identifier", store: &stubStore{}, path: "/api/v1/occupation/bad%09id", body: `{"value": 1}`, wantStatus: http.StatusBadRequest},
		{name: "mailbox closed", store: &stubStore{storeErr: actor.ErrSenderClosed}, path: "/api/v1/occupation/a", body: `{"value": 1}`, wantStatus: http.StatusServiceUnavailable},
		{name: "mailbox full", store: &stubStore{block: true}, path: "/api/v1/occupation/a", body: `{"value": 1}`, wantStatus: http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHandler(tt.store, nil)
			w := do(t, h, http.MethodPost, tt.path, tt.body)
			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.wantStatus, w.Body.String())
			}
		})
	}
}

func TestOccupation_MethodNotAllowed(t *testing.T) {
	h := newHandler(&stubStore{}, nil)

	w := do(t, h, http.MethodDelete, "/api/v1/occupation/a", "")
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want %d", w.Code, http.StatusMethodNotAllowed)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "hawkeye_router_test_total",
		Help: "Test counter.",
	})
	reg.MustRegister(counter)
	counter.Inc()

	h := SetupRoutes(&stubStore{}, Options{Gatherer: reg, Logger: discardLogger()})

	w := do(t, h, http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if !strings.Contains(w.Body.String(), "hawkeye_router_test_total 1") {
		t.Errorf("metrics output missing test counter:\n%s", w.Body.String())
	}
}

func TestRecoveryMiddleware(t *testing.T) {
	h := newHandler(panicStore{}, nil)

	w := do(t, h, http.MethodGet, "/api/v1/occupation/a", "")
	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
}

type panicStore struct{}

func (panicStore) Store(context.Context, storage.Sample) error { panic("store") }
func (panicStore) Fetch(context.Context, string) ([]storage.Sample, error) {
	panic("fetch")
}
