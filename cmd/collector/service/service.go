// Package service implements the collector's gRPC front end.
//
// It serves two methods of the HawkeyeCollector service:
//
//   - GetOcupation: returns every buffered sample of an identifier, oldest first
//   - PushSample:   enqueues one sample into the storage actor
//
// Errors are mapped onto gRPC status codes:
//
//	invalid identifier or payload  InvalidArgument
//	query deadline exceeded         DeadlineExceeded
//	storage actor gone              Unavailable
//	storage backend failure         Internal
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/HatiCode/hawkeye/pkg/actor"
	"github.com/HatiCode/hawkeye/pkg/api/hawkeye"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

// Storage is the actor-facing side of the service. *actor.Sender implements it.
type Storage interface {
	Store(ctx context.Context, s storage.Sample) error
	Fetch(ctx context.Context, identifier string) ([]storage.Sample, error)
}

// RequestRecorder counts requests by operation and outcome.
type RequestRecorder interface {
	RecordRequest(protocol, operation, outcome string)
}

// Collector implements hawkeye.CollectorServer.
type Collector struct {
	store        Storage
	queryTimeout time.Duration
	logger       *slog.Logger
	recorder     RequestRecorder
	now          func() time.Time
}

var _ hawkeye.CollectorServer = (*Collector)(nil)

// New creates a Collector. queryTimeout bounds every call that reaches the
// actor; the caller's own deadline applies when it is shorter.
func New(store Storage, queryTimeout time.Duration, logger *slog.Logger, recorder RequestRecorder) (*Collector, error) {
	if store == nil {
		return nil, errors.New("storage cannot be nil")
	}
	if queryTimeout <= 0 {
		return nil, errors.New("query timeout must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Collector{
		store:        store,
		queryTimeout: queryTimeout,
		logger:       logger,
		recorder:     recorder,
		now:          time.Now,
	}, nil
}

// GetOccupation returns the buffered samples of the requested identifier.
func (c *Collector) GetOccupation(ctx context.Context, in *wrapperspb.StringValue) (*structpb.ListValue, error) {
	identifier := in.GetValue()
	if err := storage.ValidateIdentifier(identifier); err != nil {
		c.record("fetch", "invalid")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	samples, err := c.store.Fetch(ctx, identifier)
	if err != nil {
		c.record("fetch", "error")
		c.logger.Warn("occupation query failed", "identifier", identifier, "error", err)
		return nil, toStatus(err)
	}

	c.logger.Debug("GetOcupation served", "identifier", identifier, "samples", len(samples))
	c.record("fetch", "ok")
	return hawkeye.EncodeSamples(samples), nil
}

// PushSample enqueues a sample. It returns once the actor has accepted the
// message, not once it is stored.
func (c *Collector) PushSample(ctx context.Context, in *structpb.Struct) (*emptypb.Empty, error) {
	sample, err := hawkeye.DecodePush(in, c.now())
	if err != nil {
		c.record("push", "invalid")
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	if err := c.store.Store(ctx, sample); err != nil {
		c.record("push", "error")
		c.logger.Warn("sample push failed", "identifier", sample.Identifier, "error", err)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, status.Error(codes.Unavailable, "storage busy, mailbox full")
		}
		return nil, toStatus(err)
	}

	c.record("push", "ok")
	return &emptypb.Empty{}, nil
}

func (c *Collector) record(operation, outcome string) {
	c.recorder.RecordRequest("grpc", operation, outcome)
}

type nopRecorder struct{}

func (nopRecorder) RecordRequest(string, string, string) {}

func toStatus(err error) error {
	var serr *storage.StorageError
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "query timed out")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())
	case errors.Is(err, actor.ErrSenderClosed), errors.Is(err, actor.ErrActorStopped):
		return status.Error(codes.Unavailable, "storage unavailable")
	case errors.As(err, &serr):
		return status.Error(codes.Internal, "storage error")
	default:
		return status.Error(codes.Internal, err.Error())
	}
}
