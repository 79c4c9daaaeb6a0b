package storage

import (
	"context"
	"errors"
)

// MemoryHistory is a fixed-capacity FIFO history held in a ring buffer.
//
// It is NOT safe for concurrent use. The storage actor is its only owner and
// serializes every call, which is what makes the lack of locking sound.
type MemoryHistory struct {
	data    []Sample
	head    int // index of the oldest sample
	count   int
	evicted uint64
}

// NewMemoryHistory creates an empty history holding at most capacity samples.
func NewMemoryHistory(capacity int) (*MemoryHistory, error) {
	if capacity <= 0 {
		return nil, errors.New("history capacity must be positive")
	}
	return &MemoryHistory{
		data: make([]Sample, capacity),
	}, nil
}

// Store appends s, evicting the oldest sample first when the history is full.
// One eviction per call is enough because samples arrive one at a time.
func (h *MemoryHistory) Store(ctx context.Context, s Sample) error {
	if err := ctx.Err(); err != nil {
		return storeError("memory", err)
	}

	capacity := len(h.data)
	if h.count >= capacity {
		h.data[h.head] = Sample{}
		h.head = (h.head + 1) % capacity
		h.count--
		h.evicted++
	}

	h.data[(h.head+h.count)%capacity] = s
	h.count++
	return nil
}

// Fetch returns the buffered samples for identifier in arrival order.
func (h *MemoryHistory) Fetch(ctx context.Context, identifier string) ([]Sample, error) {
	if err := ctx.Err(); err != nil {
		return nil, fetchError("memory", err)
	}

	out := make([]Sample, 0)
	for i := range h.count {
		s := h.data[(h.head+i)%len(h.data)]
		if s.Identifier == identifier {
			out = append(out, s)
		}
	}
	return out, nil
}

// Snapshot returns a copy of the whole buffer, oldest first.
func (h *MemoryHistory) Snapshot() []Sample {
	out := make([]Sample, h.count)
	for i := range h.count {
		out[i] = h.data[(h.head+i)%len(h.data)]
	}
	return out
}

// Len returns the number of buffered samples.
func (h *MemoryHistory) Len() int { return h.count }

// Cap returns the configured capacity.
func (h *MemoryHistory) Cap() int { return len(h.data) }

// Evicted returns how many samples have been pushed out so far.
func (h *MemoryHistory) Evicted() uint64 { return h.evicted }
