// Package poller drives one adapter on a fixed interval and forwards each
// reading to the storage actor as a sample.
//
// Ticks use a skip policy: a read is never started while another is in
// flight, and ticks that fire during a slow read are dropped instead of being
// replayed back to back. A failed read is logged and counted; the next tick is
// the retry.
package poller

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/HatiCode/hawkeye/pkg/actor"
	"github.com/HatiCode/hawkeye/pkg/adapters"
	"github.com/HatiCode/hawkeye/pkg/storage"
)

// Sink receives samples. *actor.Sender implements it.
type Sink interface {
	Store(ctx context.Context, s storage.Sample) error
}

// Recorder receives poller instrumentation.
type Recorder interface {
	ReadCompleted(peer string, d time.Duration)
	ReadFailed(peer, reason string)
	TickSkipped(peer string)
	LastValue(peer string, v float32)
}

type nopRecorder struct{}

func (nopRecorder) ReadCompleted(string, time.Duration) {}
func (nopRecorder) ReadFailed(string, string)           {}
func (nopRecorder) TickSkipped(string)                  {}
func (nopRecorder) LastValue(string, float32)           {}

// PollError is a failed read from a peer.
type PollError struct {
	Peer string
	Err  error
}

func (e *PollError) Error() string {
	return fmt.Sprintf("poll %s: %v", e.Peer, e.Err)
}

func (e *PollError) Unwrap() error { return e.Err }

// Poller reads one peer.
type Poller struct {
	identifier string
	adapter    adapters.Adapter
	sink       Sink
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
	recorder   Recorder
	now        func() time.Time
}

// New creates a poller for the peer named identifier. A zero timeout means
// the interval.
func New(
	identifier string,
	adapter adapters.Adapter,
	sink Sink,
	interval, timeout time.Duration,
	logger *slog.Logger,
	recorder Recorder,
) (*Poller, error) {
	if err := storage.ValidateIdentifier(identifier); err != nil {
		return nil, err
	}
	if adapter == nil {
		return nil, errors.New("adapter cannot be nil")
	}
	if sink == nil {
		return nil, errors.New("sink cannot be nil")
	}
	if interval <= 0 {
		return nil, errors.New("polling interval must be positive")
	}
	if timeout <= 0 {
		timeout = interval
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	return &Poller{
		identifier: identifier,
		adapter:    adapter,
		sink:       sink,
		interval:   interval,
		timeout:    timeout,
		logger:     logger.With("peer", identifier, "adapter", adapter.Name()),
		recorder:   recorder,
		now:        time.Now,
	}, nil
}

// Identifier returns the peer identifier samples are tagged with.
func (p *Poller) Identifier() string { return p.identifier }

// Run reads the peer immediately and then on every tick until ctx is
// canceled or the sink is gone. It returns ctx.Err() in the first case and
// the sink's error in the second.
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("starting poller", "interval", p.interval, "timeout", p.timeout)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Tick(ctx); err != nil {
			if stop := p.handle(ctx, err); stop != nil {
				return stop
			}
		}
		p.skipMissed(ticker)

		select {
		case <-ctx.Done():
			p.logger.Info("poller stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// handle classifies a tick error and returns non-nil when the loop must end.
func (p *Poller) handle(ctx context.Context, err error) error {
	if errors.Is(err, actor.ErrSenderClosed) || errors.Is(err, actor.ErrActorStopped) {
		p.logger.Info("storage gone, stopping poller", "reason", err)
		return err
	}
	if ctx.Err() != nil {
		p.logger.Info("poller stopped")
		return ctx.Err()
	}
	p.logger.Warn("poll failed", "error", err)
	return nil
}

// skipMissed drops a tick that fired while the last read was running.
func (p *Poller) skipMissed(ticker *time.Ticker) {
	select {
	case <-ticker.C:
		p.recorder.TickSkipped(p.identifier)
		p.logger.Debug("tick skipped, previous read overran the interval")
	default:
	}
}

// Tick performs one read and forwards the result.
// Exported for testing purposes.
func (p *Poller) Tick(ctx context.Context) error {
	readCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	start := time.Now()
	value, err := p.adapter.Read(readCtx)
	elapsed := time.Since(start)
	if err != nil {
		reason := "read_failed"
		if errors.Is(err, context.DeadlineExceeded) {
			reason = "timeout"
		}
		p.recorder.ReadFailed(p.identifier, reason)
		return &PollError{Peer: p.identifier, Err: err}
	}
	p.recorder.ReadCompleted(p.identifier, elapsed)
	p.recorder.LastValue(p.identifier, value)

	sample := storage.Sample{
		Identifier: p.identifier,
		Timestamp:  uint64(p.now().UnixMilli()),
		Value:      value,
	}
	if err := p.sink.Store(ctx, sample); err != nil {
		p.recorder.ReadFailed(p.identifier, "store_failed")
		return fmt.Errorf("store sample: %w", err)
	}

	p.logger.Debug("poll complete", "value", value, "read_ms", elapsed.Milliseconds())
	return nil
}
