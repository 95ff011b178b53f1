package gqlpipe

import (
	"context"
	"encoding/json"
	"sync"
)

// Result is a GraphQL response as received from a transport.
type Result struct {
	Data       json.RawMessage        `json:"data,omitempty"`
	Errors     []*GraphQLError        `json:"errors,omitempty"`
	Extensions map[string]interface{} `json:"extensions,omitempty"`
}

// Event is one item of a Stream. An event with a non-nil Err is the last
// one delivered.
type Event struct {
	Result *Result
	Err    error
}

// Stream delivers the results of a single operation. Queries and mutations
// produce one event, subscriptions produce one per payload.
type Stream struct {
	events    chan Event
	done      chan struct{}
	closeOnce sync.Once
	cancel    func()
}

func newStream(cancel func()) *Stream {
	return &Stream{
		events: make(chan Event),
		done:   make(chan struct{}),
		cancel: cancel,
	}
}

// send blocks until the consumer takes ev or closes the stream.
func (s *Stream) send(ev Event) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	select {
	case s.events <- ev:
		return true
	case <-s.done:
		return false
	}
}

// complete must be called exactly once by the producer.
func (s *Stream) complete() {
	close(s.events)
}

// Events returns the channel of events. It is closed when the stream
// completes.
func (s *Stream) Events() <-chan Event {
	return s.events
}

// Done is closed once the consumer has closed the stream.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Next waits for the next result. It returns ErrStreamClosed once the
// stream has completed.
func (s *Stream) Next(ctx context.Context) (*Result, error) {
	select {
	case ev, ok := <-s.events:
		if !ok {
			return nil, ErrStreamClosed
		}
		return ev.Result, ev.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close unsubscribes. Other streams sharing the same transport are not
// affected.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		close(s.done)
		if s.cancel != nil {
			s.cancel()
		}
	})
}

// Tap returns a stream that forwards every event of s after passing it to
// fn. Closing the returned stream closes s.
func (s *Stream) Tap(fn func(Event)) *Stream {
	out := newStream(s.Close)
	go func() {
		defer out.complete()
		for ev := range s.events {
			fn(ev)
			if !out.send(ev) {
				s.Close()
				return
			}
		}
	}()
	return out
}

// errorStream returns a stream that delivers err and completes.
func errorStream(err error) *Stream {
	s := newStream(nil)
	go func() {
		defer s.complete()
		s.send(Event{Err: err})
	}()
	return s
}
