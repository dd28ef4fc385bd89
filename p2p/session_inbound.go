// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"time"

	"github.com/mvsnet/p2pd/netaddr"
)

// acceptRetryDelay is the time the accept loop waits after a failed accept
// that did not close the listener.
const acceptRetryDelay = time.Millisecond * 100

// InboundSession accepts connections from remote peers on the configured
// listeners up to the inbound connection limit.
type InboundSession struct {
	*session
	inbound atomic.Int64
}

// newInboundSession returns an inbound session owned by svc.
func newInboundSession(svc *Service) *InboundSession {
	return &InboundSession{session: newSession("inbound", svc, true)}
}

// Start binds every configured listener and starts accepting connections.
// The handler is invoked once with the result.  The session completes
// immediately when there are no listeners or inbound connections are
// disabled.
func (s *InboundSession) Start(handler func(error)) {
	finish := func(err error) {
		s.svc.pool.Dispatch(func() {
			handler(err)
		})
	}

	if err := s.begin(); err != nil {
		s.stop()
		finish(err)
		return
	}

	cfg := &s.svc.cfg
	if len(cfg.Listeners) == 0 || cfg.InboundConnections == 0 {
		log.Info("Inbound connections are disabled")
		s.started()
		finish(nil)
		return
	}

	listeners := make([]net.Listener, 0, len(cfg.Listeners))
	for _, addr := range cfg.Listeners {
		listener, err := cfg.Listen("tcp", addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			str := fmt.Sprintf("unable to listen on %s: %v", addr, err)
			log.Error(str)
			s.stop()
			finish(makeError(ErrListenFailed, str))
			return
		}
		listeners = append(listeners, listener)
	}

	for _, listener := range listeners {
		s.onStop(func() {
			listener.Close()
		})
		s.svc.pool.Go(func() {
			s.listenHandler(listener)
		})
	}
	s.started()
	finish(nil)
}

// listenHandler accepts connections on the listener until the session stops.
// It must be run as a goroutine.
func (s *InboundSession) listenHandler(listener net.Listener) {
	log.Infof("Listening on %s", listener.Addr())
	for !s.stopped() {
		conn, err := listener.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || s.stopped() {
				break
			}
			log.Errorf("Can't accept connection: %v", err)
			select {
			case <-time.After(acceptRetryDelay):
			case <-s.ctx.Done():
			}
			continue
		}
		s.handleAccept(conn)
	}
	log.Tracef("Listener handler done for %s", listener.Addr())
}

// reserve claims an inbound slot and reports whether the inbound limit still
// allowed it.  The slot must be released by decrementing the count.
func (s *InboundSession) reserve() bool {
	if s.inbound.Add(1) > int64(s.svc.cfg.InboundConnections) {
		s.inbound.Add(-1)
		return false
	}
	return true
}

// handleAccept wraps the accepted connection in a channel and registers it
// unless the inbound limit is reached.
func (s *InboundSession) handleAccept(conn net.Conn) {
	authority, err := netaddr.AuthorityFromNetAddr(conn.RemoteAddr())
	if err != nil {
		log.Debugf("Rejecting connection from %s: %v", conn.RemoteAddr(), err)
		conn.Close()
		return
	}

	if !s.reserve() {
		prometheusInboundRejected.Inc()
		log.Debugf("Rejecting connection from %s: inbound limit of %d "+
			"reached", authority, s.svc.cfg.InboundConnections)
		conn.Close()
		return
	}

	prometheusInboundAccepted.Inc()
	ch := newChannel(conn, authority, true)
	ch.SubscribeStop(func(error) {
		s.inbound.Add(-1)
	})
	s.svc.pool.Dispatch(func() {
		if err := s.register(ch, fullRoles...); err == nil {
			log.Debugf("Accepted inbound channel %s", ch)
		}
	})
}
