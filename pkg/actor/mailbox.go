package actor

import (
	"context"
	"sync"

	"github.com/HatiCode/hawkeye/pkg/storage"
)

type kind int

const (
	kindStore kind = iota
	kindFetch
)

func (k kind) String() string {
	switch k {
	case kindStore:
		return "store"
	case kindFetch:
		return "fetch"
	default:
		return "unknown"
	}
}

// message is the unit the actor consumes. Fetch messages carry the
// requester's context so the actor can tell when nobody is waiting anymore.
type message struct {
	kind       kind
	sample     storage.Sample
	identifier string
	ctx        context.Context
	reply      chan fetchResult
}

type fetchResult struct {
	samples []storage.Sample
	err     error
}

// mailbox is the bounded multi-producer, single-consumer queue in front of
// the actor. The channel is closed exactly once, when the last Sender handle
// is released.
type mailbox struct {
	ch   chan message
	done chan struct{} // closed when the actor loop returns

	mu   sync.Mutex
	refs int
}

func (mb *mailbox) acquire() {
	mb.mu.Lock()
	mb.refs++
	mb.mu.Unlock()
}

func (mb *mailbox) release() {
	mb.mu.Lock()
	defer mb.mu.Unlock()

	mb.refs--
	if mb.refs == 0 {
		close(mb.ch)
	}
}

// Sender is a producer handle on the actor's mailbox.
//
// Handles are cheap: call Clone to hand one to each producer and Close when
// the producer is done. Once every handle is closed the actor's Run returns
// ErrMailboxClosed.
type Sender struct {
	mb *mailbox

	// mu is held for reading for the whole duration of a send so that Close
	// can never close the channel underneath an in-flight send.
	mu     sync.RWMutex
	closed bool
}

// Clone returns a new handle on the same mailbox. Cloning a closed handle
// yields a closed handle.
func (s *Sender) Clone() *Sender {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return &Sender{mb: s.mb, closed: true}
	}
	s.mb.acquire()
	return &Sender{mb: s.mb}
}

// Close releases the handle. It blocks until sends already in progress on
// this handle have finished. Calling Close more than once is a no-op.
func (s *Sender) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	s.mb.release()
}

// Store enqueues a write. It blocks while the mailbox is full and returns
// ctx.Err() if ctx ends first. No reply is produced for writes.
func (s *Sender) Store(ctx context.Context, sample storage.Sample) error {
	return s.send(ctx, message{kind: kindStore, sample: sample})
}

// Fetch asks the actor for every buffered sample of identifier and waits for
// the answer. The wait is bounded by ctx; callers that give up are detected
// by the actor and their reply is dropped.
func (s *Sender) Fetch(ctx context.Context, identifier string) ([]storage.Sample, error) {
	reply := make(chan fetchResult, 1)
	m := message{kind: kindFetch, identifier: identifier, ctx: ctx, reply: reply}
	if err := s.send(ctx, m); err != nil {
		return nil, err
	}

	select {
	case res := <-reply:
		return res.samples, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.mb.done:
		// the actor may have answered just before it returned
		select {
		case res := <-reply:
			return res.samples, res.err
		default:
			return nil, ErrActorStopped
		}
	}
}

// Pending returns the number of messages waiting in the mailbox.
func (s *Sender) Pending() int {
	return len(s.mb.ch)
}

func (s *Sender) send(ctx context.Context, m message) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.closed {
		return ErrSenderClosed
	}

	select {
	case <-s.mb.done:
		return ErrActorStopped
	default:
	}

	select {
	case s.mb.ch <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-s.mb.done:
		return ErrActorStopped
	}
}
