// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/looplab/fsm"
)

// Session states.
const (
	stateCreated  = "created"
	stateStarting = "starting"
	stateRunning  = "running"
	stateStopping = "stopping"
	stateStopped  = "stopped"
)

// Session events.
const (
	eventStart   = "start"
	eventStarted = "started"
	eventStop    = "stop"
	eventFinish  = "finish"
)

// newSessionFSM returns the state machine shared by all session kinds.
func newSessionFSM() *fsm.FSM {
	return fsm.NewFSM(
		stateCreated,
		fsm.Events{
			{Name: eventStart, Src: []string{stateCreated}, Dst: stateStarting},
			{Name: eventStarted, Src: []string{stateStarting}, Dst: stateRunning},
			{
				Name: eventStop,
				Src:  []string{stateStarting, stateRunning},
				Dst:  stateStopping,
			},
			{Name: eventFinish, Src: []string{stateStopping}, Dst: stateStopped},
		},
		fsm.Callbacks{},
	)
}

// session holds the behavior common to all session kinds: the lifecycle state
// machine, stopping along with the service, and registering new channels.
type session struct {
	kind    string
	svc     *Service
	notify  bool
	machine *fsm.FSM

	ctx    context.Context
	cancel context.CancelFunc

	stopOnce  sync.Once
	closerMtx sync.Mutex
	closers   []func()
}

// newSession returns a session of the provided kind in the created state.
// Channels registered by the session are announced to connection subscribers
// when notify is set.
func newSession(kind string, svc *Service, notify bool) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		kind:    kind,
		svc:     svc,
		notify:  notify,
		machine: newSessionFSM(),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// begin moves the session from created to starting and ties its lifetime to
// the service.  It fails when the session was already started or the service
// is stopped.
func (s *session) begin() error {
	if err := s.machine.Event(context.Background(), eventStart); err != nil {
		str := fmt.Sprintf("%s session cannot start in state %s", s.kind,
			s.machine.Current())
		return makeError(ErrOperationFailed, str)
	}
	prometheusSessions.WithLabelValues(s.kind).Inc()

	s.svc.SubscribeStop(func(error) {
		s.stop()
	})
	if s.stopped() {
		str := fmt.Sprintf("%s session stopped while starting", s.kind)
		return makeError(ErrServiceStopped, str)
	}
	return nil
}

// started moves the session from starting to running.
func (s *session) started() {
	if err := s.machine.Event(context.Background(), eventStarted); err != nil {
		log.Tracef("%s session not marked running: %v", s.kind, err)
		return
	}
	log.Debugf("%s session running", s.kind)
}

// onStop registers a function to run when the session stops.  It runs
// immediately when the session is already stopped.
func (s *session) onStop(fn func()) {
	s.closerMtx.Lock()
	if s.stopped() {
		s.closerMtx.Unlock()
		fn()
		return
	}
	s.closers = append(s.closers, fn)
	s.closerMtx.Unlock()
}

// stop moves the session to stopped and runs the registered stop functions.
// It is safe to call multiple times.
func (s *session) stop() {
	s.stopOnce.Do(func() {
		_ = s.machine.Event(context.Background(), eventStop)

		s.closerMtx.Lock()
		s.cancel()
		closers := s.closers
		s.closers = nil
		s.closerMtx.Unlock()

		for _, fn := range closers {
			fn()
		}

		_ = s.machine.Event(context.Background(), eventFinish)
		if s.machine.Current() == stateStopped {
			prometheusSessions.WithLabelValues(s.kind).Dec()
		}
		log.Debugf("%s session stopped", s.kind)
	})
}

// stopped returns whether the session has been told to stop.
func (s *session) stopped() bool {
	return s.ctx.Err() != nil
}

// State returns the current lifecycle state of the session.
func (s *session) State() string {
	return s.machine.Current()
}

// newConnector returns a connector with the provided dial policy that stops
// along with the session.
func (s *session) newConnector(policy DialPolicy) *Connector {
	c := s.svc.newConnector(s.kind, policy)
	s.onStop(c.Stop)
	return c
}

// register attaches the version role to the channel, stores it in the
// connection pool, and attaches the provided roles.  The channel is stopped
// with the error on any failure.
func (s *session) register(ch *Channel, roles ...Role) error {
	err := s.svc.registerChannel(ch, s.notify, roles)
	if err != nil {
		log.Debugf("%s session failed to register %s: %v", s.kind, ch, err)
		ch.Stop(err)
	}
	return err
}

// joinHostPort returns host and port in host:port form for log messages.
func joinHostPort(host string, port uint16) string {
	return net.JoinHostPort(host, strconv.Itoa(int(port)))
}
