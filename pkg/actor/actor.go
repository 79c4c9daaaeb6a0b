// Package actor implements the storage actor: the single goroutine that owns
// the sample history and serializes every read and write against it.
//
// Producers (pollers and front ends) never touch the history. They hold a
// Sender handle and exchange messages with the actor through a bounded
// mailbox:
//
//	Store(sample)      fire-and-forget write
//	Fetch(identifier)  read, answered on a single-use reply channel
//
// Messages are processed strictly in mailbox arrival order, which gives one
// total order over all reads and writes. A full mailbox blocks producers; this
// is the collector's only admission control.
//
// Failure classification:
//   - storage error on Store:   logged, counted, loop continues
//   - storage error on Fetch:   returned to the requester, loop continues
//   - requester gone on Fetch:  logged at debug, counted, loop continues
//   - every Sender closed:      Run returns ErrMailboxClosed (fatal to the actor)
package actor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/HatiCode/hawkeye/pkg/storage"
)

var (
	// ErrMailboxClosed is returned by Run once no Sender handles remain.
	ErrMailboxClosed = errors.New("all senders to storage closed")

	// ErrSenderClosed is returned when a closed handle is used.
	ErrSenderClosed = errors.New("sender handle closed")

	// ErrActorStopped is returned to producers when the actor loop has exited.
	ErrActorStopped = errors.New("storage actor stopped")

	errAlreadyRunning = errors.New("storage actor already running")
)

// Recorder receives actor instrumentation. All methods must be cheap and safe
// for concurrent use.
type Recorder interface {
	MessageProcessed(kind string)
	StoreFailed()
	ReplyAbandoned()
	MailboxDepth(n int)
	HistoryLength(n int)
}

type nopRecorder struct{}

func (nopRecorder) MessageProcessed(string) {}
func (nopRecorder) StoreFailed()            {}
func (nopRecorder) ReplyAbandoned()         {}
func (nopRecorder) MailboxDepth(int)        {}
func (nopRecorder) HistoryLength(int)       {}

// Actor owns one storage.History for its whole lifetime.
type Actor struct {
	history  storage.History
	mb       *mailbox
	logger   *slog.Logger
	recorder Recorder
	running  atomic.Bool
}

// New creates an actor that owns history and returns it together with the
// first Sender handle on its mailbox. The caller must not keep any other
// reference to history.
func New(history storage.History, mailboxSize int, logger *slog.Logger, recorder Recorder) (*Actor, *Sender, error) {
	if history == nil {
		return nil, nil, errors.New("history cannot be nil")
	}
	if mailboxSize <= 0 {
		return nil, nil, errors.New("mailbox size must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}

	mb := &mailbox{
		ch:   make(chan message, mailboxSize),
		done: make(chan struct{}),
		refs: 1,
	}

	a := &Actor{
		history:  history,
		mb:       mb,
		logger:   logger,
		recorder: recorder,
	}
	return a, &Sender{mb: mb}, nil
}

// Run consumes the mailbox until every Sender is closed or ctx is canceled.
// It returns ErrMailboxClosed in the first case and ctx.Err() in the second.
// There is no restart: once Run returns, producers get ErrActorStopped.
func (a *Actor) Run(ctx context.Context) error {
	if !a.running.CompareAndSwap(false, true) {
		return errAlreadyRunning
	}
	defer close(a.mb.done)

	a.logger.Info("storage actor started", "mailbox_capacity", cap(a.mb.ch))

	for {
		select {
		case <-ctx.Done():
			a.logger.Info("storage actor stopped", "reason", ctx.Err())
			return ctx.Err()
		case m, ok := <-a.mb.ch:
			if !ok {
				a.logger.Error("all senders to storage closed")
				return ErrMailboxClosed
			}
			a.handle(ctx, m)
			a.recorder.MailboxDepth(len(a.mb.ch))
		}
	}
}

// recordLength reports the history size for backends that expose it, either
// in memory or through a context-bound query.
func (a *Actor) recordLength(ctx context.Context) {
	switch h := a.history.(type) {
	case interface{ Len() int }:
		a.recorder.HistoryLength(h.Len())
	case interface {
		Len(context.Context) (int, error)
	}:
		n, err := h.Len(ctx)
		if err != nil {
			a.logger.Debug("failed to read history length", "error", err)
			return
		}
		a.recorder.HistoryLength(n)
	}
}

func (a *Actor) handle(ctx context.Context, m message) {
	a.recorder.MessageProcessed(m.kind.String())

	switch m.kind {
	case kindStore:
		// writes run under the actor's context: the producer may already
		// be gone, but the write must still land
		if err := a.history.Store(ctx, m.sample); err != nil {
			a.logger.Error("failed to store sample",
				"identifier", m.sample.Identifier,
				"timestamp", m.sample.Timestamp,
				"error", err,
			)
			a.recorder.StoreFailed()
			return
		}
		a.recordLength(ctx)

	case kindFetch:
		if err := m.ctx.Err(); err != nil {
			a.logger.Debug("fetch requester gone, dropping reply",
				"identifier", m.identifier,
				"reason", err,
			)
			a.recorder.ReplyAbandoned()
			return
		}

		samples, err := a.history.Fetch(m.ctx, m.identifier)
		if err != nil {
			a.logger.Warn("failed to fetch samples", "identifier", m.identifier, "error", err)
		}
		// reply is buffered with room for exactly this result
		m.reply <- fetchResult{samples: samples, err: err}
	}
}
