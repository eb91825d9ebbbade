package web_socket

import (
	"context"
	"sync"

	"github.com/fr0ster/turbo-speech/api_errors"
)

// ConnectionStream is the receiving side of a connection. It yields
// EventClosed exactly once and nothing after that.
type ConnectionStream struct {
	h        *ConnectionHandle
	mu       sync.Mutex
	finished bool
}

// Next blocks until an event is available. The second result is false once
// the stream is exhausted. Cancelling ctx yields an EventError and leaves the
// stream usable.
func (s *ConnectionStream) Next(ctx context.Context) (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finished {
		return Event{}, false
	}

	select {
	case ev := <-s.h.events:
		return ev, true
	default:
	}

	select {
	case ev := <-s.h.events:
		return ev, true
	case <-s.h.done:
		select {
		case ev := <-s.h.events:
			return ev, true
		default:
		}
		s.finished = true
		return Event{Type: EventClosed, Err: s.h.CloseReason()}, true
	case <-ctx.Done():
		return Event{Type: EventError, Err: api_errors.Wrap(api_errors.KindCanceled, "waiting for next event", ctx.Err())}, true
	}
}

// Handle returns the sending side of the same connection.
func (s *ConnectionStream) Handle() *ConnectionHandle {
	return s.h
}
