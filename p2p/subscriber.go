// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"sync"
)

// subscriber is an ordered list of handlers that are each invoked exactly
// once per subscription.  A handler that returns true from an invocation is
// subscribed again for the next event.
//
// A subscriber starts out stopped.  While stopped, new subscriptions are
// serviced immediately with the stop value instead of being queued.
type subscriber[T any] struct {
	mtx      sync.Mutex
	stopped  bool
	stopVal  T
	handlers []func(T) bool
}

// newSubscriber returns a stopped subscriber that services subscriptions with
// stopVal until started.
func newSubscriber[T any](stopVal T) *subscriber[T] {
	return &subscriber[T]{stopped: true, stopVal: stopVal}
}

// start allows handlers to be queued.
func (s *subscriber[T]) start() {
	s.mtx.Lock()
	s.stopped = false
	s.mtx.Unlock()
}

// subscribe queues the handler for the next event, or invokes it with the
// stop value right away when the subscriber is stopped.
func (s *subscriber[T]) subscribe(handler func(T) bool) {
	s.mtx.Lock()
	if s.stopped {
		stopVal := s.stopVal
		s.mtx.Unlock()
		handler(stopVal)
		return
	}
	s.handlers = append(s.handlers, handler)
	s.mtx.Unlock()
}

// take removes and returns all queued handlers.
func (s *subscriber[T]) take() []func(T) bool {
	s.mtx.Lock()
	handlers := s.handlers
	s.handlers = nil
	s.mtx.Unlock()
	return handlers
}

// invoke delivers the event to every queued handler.  Handlers are invoked
// without holding the lock, so they may subscribe again.
func (s *subscriber[T]) invoke(v T) {
	for _, handler := range s.take() {
		if handler(v) {
			s.subscribe(handler)
		}
	}
}

// stop marks the subscriber stopped and delivers stopVal to every queued
// handler.  It is safe to call multiple times.
func (s *subscriber[T]) stop(stopVal T) {
	s.mtx.Lock()
	s.stopped = true
	s.stopVal = stopVal
	s.mtx.Unlock()

	for _, handler := range s.take() {
		handler(stopVal)
	}
}

// count returns the number of queued handlers.
func (s *subscriber[T]) count() int {
	s.mtx.Lock()
	defer s.mtx.Unlock()
	return len(s.handlers)
}
