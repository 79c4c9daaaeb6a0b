// Package router configures the collector's HTTP API.
//
// Routes configured:
//   - GET  /api/v1/health                   - {"running": true}
//   - GET  /api/v1/occupation/{identifier}  - buffered samples of identifier, oldest first
//   - POST /api/v1/occupation/{identifier}  - push one sample: {"value": 0.4, "timestamp": 1700000000000}
//   - GET  /healthz                         - liveness (returns 200 OK)
//   - GET  /metrics                         - Prometheus metrics endpoint
//
// Query failures map to status codes: invalid identifier 400, query timeout
// 504, storage failure 500, storage actor gone 503.
package router

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/HatiCode/hawkeye/pkg/actor"
	"github.com/HatiCode/hawkeye/pkg/httpx"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

const maxPushBody = 4 << 10

// Storage is the actor-facing side of the API. *actor.Sender implements it.
type Storage interface {
	Store(ctx context.Context, s storage.Sample) error
	Fetch(ctx context.Context, identifier string) ([]storage.Sample, error)
}

// RequestRecorder counts requests by operation and outcome.
type RequestRecorder interface {
	RecordRequest(protocol, operation, outcome string)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, string) {}

// Options configures SetupRoutes. Zero values are usable.
type Options struct {
	QueryTimeout time.Duration
	Gatherer     prometheus.Gatherer
	Recorder     RequestRecorder
	Logger       *slog.Logger
	Now          func() time.Time
}

// OccupationEntry is one sample in the occupation response.
type OccupationEntry struct {
	Timestamp uint64  `json:"timestamp"`
	Value     float32 `json:"value"`
}

// PushRequest is the body of POST /api/v1/occupation/{identifier}.
type PushRequest struct {
	Value     *float32 `json:"value"`
	Timestamp *uint64  `json:"timestamp,omitempty"`
}

type api struct {
	store        Storage
	queryTimeout time.Duration
	recorder     RequestRecorder
	logger       *slog.Logger
	now          func() time.Time
}

// SetupRoutes configures HTTP endpoints for the collector.
func SetupRoutes(store Storage, opts Options) http.Handler {
	a := &api{
		store:        store,
		queryTimeout: opts.QueryTimeout,
		recorder:     opts.Recorder,
		logger:       opts.Logger,
		now:          opts.Now,
	}
	if a.queryTimeout <= 0 {
		a.queryTimeout = 2 * time.Second
	}
	if a.recorder == nil {
		a.recorder = nopRecorder{}
	}
	if a.logger == nil {
		a.logger = slog.Default()
	}
	if a.now == nil {
		a.now = time.Now
	}
	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /api/v1/health", a.handleHealth)
	mux.HandleFunc("GET /api/v1/occupation/{identifier}", a.handleGetOccupation)
	mux.HandleFunc("POST /api/v1/occupation/{identifier}", a.handlePushOccupation)

	mux.Handle("/healthz", httpx.HealthHandler())
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	return httpx.RecoveryMiddleware(a.logger)(httpx.LoggingMiddleware(a.logger)(mux))
}

func (a *api) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := httpx.WriteJSON(w, http.StatusOK, map[string]bool{"running": true}); err != nil {
		a.logger.Error("failed to write JSON response", "error", err)
	}
}

func (a *api) handleGetOccupation(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	if err := storage.ValidateIdentifier(identifier); err != nil {
		a.recorder.RecordRequest("http", "fetch", "invalid")
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.queryTimeout)
	defer cancel()

	samples, err := a.store.Fetch(ctx, identifier)
	if err != nil {
		status, msg := a.classify(err)
		a.recorder.RecordRequest("http", "fetch", "error")
		a.logger.Warn("occupation query failed", "identifier", identifier, "status", status, "error", err)
		httpx.WriteErrorMessage(w, status, msg)
		return
	}

	resp := make([]OccupationEntry, 0, len(samples))
	for _, s := range samples {
		resp = append(resp, OccupationEntry{Timestamp: s.Timestamp, Value: s.Value})
	}

	a.recorder.RecordRequest("http", "fetch", "ok")
	if err := httpx.WriteJSON(w, http.StatusOK, resp); err != nil {
		a.logger.Error("failed to write JSON response", "error", err)
	}
}

func (a *api) handlePushOccupation(w http.ResponseWriter, r *http.Request) {
	identifier := r.PathValue("identifier")
	if err := storage.ValidateIdentifier(identifier); err != nil {
		a.recorder.RecordRequest("http", "push", "invalid")
		httpx.WriteError(w, http.StatusBadRequest, err)
		return
	}

	var req PushRequest
	dec := json.NewDecoder(io.LimitReader(r.Body, maxPushBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		a.recorder.RecordRequest("http", "push", "invalid")
		httpx.WriteErrorMessage(w, http.StatusBadRequest, fmt.Sprintf("invalid body: %v", err))
		return
	}
	if req.Value == nil {
		a.recorder.RecordRequest("http", "push", "invalid")
		httpx.WriteErrorMessage(w, http.StatusBadRequest, "value is required")
		return
	}

	sample := storage.Sample{Identifier: identifier, Value: *req.Value}
	if req.Timestamp != nil {
		sample.Timestamp = *req.Timestamp
	} else {
		sample.Timestamp = uint64(a.now().UnixMilli())
	}

	ctx, cancel := context.WithTimeout(r.Context(), a.queryTimeout)
	defer cancel()

	if err := a.store.Store(ctx, sample); err != nil {
		status := http.StatusServiceUnavailable
		msg := "storage unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			msg = "storage busy, mailbox full"
		}
		a.recorder.RecordRequest("http", "push", "error")
		a.logger.Warn("occupation push failed", "identifier", identifier, "error", err)
		httpx.WriteErrorMessage(w, status, msg)
		return
	}

	a.recorder.RecordRequest("http", "push", "ok")
	w.WriteHeader(http.StatusAccepted)
}

func (a *api) classify(err error) (int, string) {
	var serr *storage.StorageError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "query timed out"
	case errors.Is(err, actor.ErrSenderClosed), errors.Is(err, actor.ErrActorStopped):
		return http.StatusServiceUnavailable, "storage unavailable"
	case errors.As(err, &serr):
		return http.StatusInternalServerError, "storage error"
	default:
		return http.StatusInternalServerError, "internal server error"
	}
}
