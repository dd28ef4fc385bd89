// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"sync"
	"sync/atomic"
)

// pendingSocket is a single in-flight connection attempt.  Canceling its
// context aborts the dial.  The flags record which party canceled it so the
// outcome can be reported accurately.
type pendingSocket struct {
	ctx    context.Context
	cancel context.CancelFunc

	timedOut atomic.Bool
	canceled atomic.Bool
}

// expire cancels the attempt because its deadline fired.
func (s *pendingSocket) expire() {
	s.timedOut.Store(true)
	s.cancel()
}

// abort cancels the attempt because its owner stopped.
func (s *pendingSocket) abort() {
	s.canceled.Store(true)
	s.cancel()
}

// pendingRegistry tracks the in-flight attempts of a connector so they can be
// canceled en masse.  It does not own the attempts.
type pendingRegistry struct {
	mtx     sync.Mutex
	sockets map[*pendingSocket]struct{}
}

// newPendingRegistry returns an empty registry.
func newPendingRegistry() *pendingRegistry {
	return &pendingRegistry{sockets: make(map[*pendingSocket]struct{})}
}

// add creates and tracks a new attempt whose context is derived from parent.
func (r *pendingRegistry) add(parent context.Context) *pendingSocket {
	ctx, cancel := context.WithCancel(parent)
	sock := &pendingSocket{ctx: ctx, cancel: cancel}

	r.mtx.Lock()
	r.sockets[sock] = struct{}{}
	r.mtx.Unlock()
	return sock
}

// remove stops tracking the attempt.  It is a no-op when the attempt is not
// tracked.
func (r *pendingRegistry) remove(sock *pendingSocket) {
	r.mtx.Lock()
	delete(r.sockets, sock)
	r.mtx.Unlock()
}

// clear aborts and stops tracking every attempt.
func (r *pendingRegistry) clear() {
	r.mtx.Lock()
	sockets := r.sockets
	r.sockets = make(map[*pendingSocket]struct{})
	r.mtx.Unlock()

	for sock := range sockets {
		sock.abort()
	}
}

// count returns the number of tracked attempts.
func (r *pendingRegistry) count() int {
	r.mtx.Lock()
	defer r.mtx.Unlock()
	return len(r.sockets)
}
