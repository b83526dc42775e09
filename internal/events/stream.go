// Package events implements the single-producer/single-consumer event
// stream that carries AgentEvents from a running agent turn to its one
// reader (a headless driver session or a terminal UI).
package events

import (
	"sync"

	"github.com/anvilrun/anvil/pkg/models"
)

// State is the lifecycle state of a Stream.
type State int

const (
	StateOpen State = iota
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Stream is a bounded, ordered queue of AgentEvents with exactly one
// producer side (push/close/fail) and exactly one consumer side (next).
// Only one call to next may be outstanding at a time; the queue assumes
// this rather than enforcing it with extra bookkeeping.
//
// Pushing to a closed or failed stream is a no-op: once terminal, the
// stream never reopens.
type Stream struct {
	mu    sync.Mutex
	state State
	queue []models.AgentEvent
	err   error

	// parked is non-nil while a consumer is blocked in next() waiting for
	// a push, close, or fail to wake it.
	parked chan struct{}
}

// New creates an open Stream.
func New() *Stream {
	return &Stream{state: StateOpen}
}

// Push enqueues an event. No-op once the stream is closed or failed.
func (s *Stream) Push(event models.AgentEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return
	}
	s.queue = append(s.queue, event)
	s.wakeLocked()
}

// Close transitions the stream to closed. A parked consumer wakes and
// receives (zero, false, nil) once the queue drains. No-op if already
// terminal.
func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return
	}
	s.state = StateClosed
	s.wakeLocked()
}

// Fail transitions the stream to failed with the given cause. A parked
// consumer wakes and receives the error exactly once; subsequent next()
// calls behave as a closed, empty stream. No-op if already terminal.
func (s *Stream) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateOpen {
		return
	}
	s.state = StateFailed
	s.err = err
	s.wakeLocked()
}

// Cancel is the consumer-initiated equivalent of Close: it ends the
// stream from the reader's side (analogous to returning early from an
// async iterator).
func (s *Stream) Cancel() {
	s.Close()
}

// Next returns the next queued event. If the queue is empty and the
// stream is open, it blocks until a push, close, or fail wakes it. The
// second return value is false once the stream is drained and terminal
// (closed, or failed after its single error has been delivered). The
// error return carries the Fail cause exactly once.
func (s *Stream) Next() (models.AgentEvent, bool, error) {
	for {
		s.mu.Lock()
		if len(s.queue) > 0 {
			ev := s.queue[0]
			s.queue = s.queue[1:]
			s.mu.Unlock()
			return ev, true, nil
		}
		switch s.state {
		case StateClosed:
			s.mu.Unlock()
			return models.AgentEvent{}, false, nil
		case StateFailed:
			err := s.err
			s.err = nil
			s.state = StateClosed
			s.mu.Unlock()
			return models.AgentEvent{}, false, err
		}

		wake := make(chan struct{})
		s.parked = wake
		s.mu.Unlock()
		<-wake
	}
}

// wakeLocked signals any parked consumer. Callers must hold s.mu.
func (s *Stream) wakeLocked() {
	if s.parked != nil {
		close(s.parked)
		s.parked = nil
	}
}

// State reports the stream's current lifecycle state.
func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}
