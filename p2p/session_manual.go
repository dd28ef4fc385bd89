// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"errors"
	"sync"
	"time"
)

// manualPeer tracks the connection state of a single operator pinned peer.
type manualPeer struct {
	host string
	port uint16

	mtx sync.Mutex

	// handler is invoked with the first outcome and cleared afterwards.
	handler ConnectHandler

	// retries is the number of consecutive rounds that produced no channel.
	retries int

	// outstanding is the number of attempts of the current round that have
	// not completed.  live is the number of registered channels.
	outstanding int
	live        int
}

// ManualSession connects operator pinned peers.  It is retained by the
// service for the life of a run so peers can be added at any time.  Failed
// peers are retried with a linear backoff and dropped peers are reconnected
// while the session runs.
type ManualSession struct {
	*session
	connector *Connector
}

// newManualSession returns a manual session owned by svc.
func newManualSession(svc *Service) *ManualSession {
	m := &ManualSession{session: newSession("manual", svc, true)}
	m.connector = m.newConnector(svc.cfg.DialPolicy)
	return m
}

// Start starts the session.  The handler is invoked once with the result.
func (m *ManualSession) Start(handler func(error)) {
	if err := m.begin(); err != nil {
		m.stop()
		m.svc.pool.Dispatch(func() {
			handler(err)
		})
		return
	}

	m.started()
	m.svc.pool.Dispatch(func() {
		handler(nil)
	})
}

// Connect connects to the peer at host and port and keeps it connected while
// the session runs.  The handler is invoked once with the first outcome:
// either the first registered channel or the error of the first round of
// attempts that produced none.
func (m *ManualSession) Connect(host string, port uint16, handler ConnectHandler) {
	if handler == nil {
		handler = func(error, *Channel) {}
	}
	if m.stopped() {
		m.svc.pool.Dispatch(func() {
			handler(errServiceStopped, nil)
		})
		return
	}

	log.Infof("Connecting to manual peer %s", joinHostPort(host, port))
	m.connect(&manualPeer{host: host, port: port, handler: handler})
}

// connect starts a round of attempts to connect to the peer.
func (m *ManualSession) connect(p *manualPeer) {
	p.mtx.Lock()
	p.outstanding = 1
	p.mtx.Unlock()

	onResolved := func(n int) {
		p.mtx.Lock()
		p.outstanding = n
		p.mtx.Unlock()
	}
	m.connector.connect(p.host, p.port, onResolved, func(err error, ch *Channel) {
		m.handleConnect(p, err, ch)
	})
}

// handleConnect registers a newly connected channel and decides whether the
// peer needs another round once every attempt of the round has completed.
func (m *ManualSession) handleConnect(p *manualPeer, err error, ch *Channel) {
	if err == nil {
		if err = m.register(ch, fullRoles...); err != nil {
			ch = nil
		}
	}

	p.mtx.Lock()
	p.outstanding--
	if err == nil {
		p.live++
		p.retries = 0
	}
	idle := p.outstanding == 0 && p.live == 0
	var handler ConnectHandler
	if err == nil || idle {
		handler, p.handler = p.handler, nil
	}
	if idle && err != nil {
		p.retries++
	}
	retries := p.retries
	p.mtx.Unlock()

	if handler != nil {
		handler(err, ch)
	}

	if ch != nil {
		log.Infof("Connected to manual peer %s", ch)
		ch.SubscribeStop(func(reason error) {
			m.handleStop(p, ch, reason)
		})
		return
	}
	if idle {
		m.retry(p, err, retries)
	}
}

// handleStop reconnects the peer once its last channel has stopped.
func (m *ManualSession) handleStop(p *manualPeer, ch *Channel, reason error) {
	log.Debugf("Manual peer %s disconnected: %v", ch, reason)

	p.mtx.Lock()
	p.live--
	idle := p.outstanding == 0 && p.live == 0
	p.mtx.Unlock()

	if idle {
		m.retry(p, nil, 0)
	}
}

// retry schedules another round for the peer unless the session is stopped,
// the failure is not one that is retried, or the attempt limit is reached.
func (m *ManualSession) retry(p *manualPeer, err error, retries int) {
	addr := joinHostPort(p.host, p.port)
	switch {
	case m.stopped() || m.svc.Stopped():
		return
	case errors.Is(err, ErrServiceStopped):
		return
	case errors.Is(err, ErrAddressInUse):
		log.Debugf("Not retrying manual peer %s: %v", addr, err)
		return
	}

	limit := m.svc.cfg.ManualAttemptLimit
	if limit > 0 && retries >= limit {
		log.Warnf("Giving up on manual peer %s after %d attempts: %v", addr,
			retries, err)
		return
	}

	interval := m.svc.cfg.ManualRetryInterval
	delay := interval
	if retries > 0 {
		delay = time.Duration(retries) * interval
	}
	if delay > maxRetryDuration {
		delay = maxRetryDuration
	}
	if err != nil {
		log.Debugf("Retrying manual peer %s in %v: %v", addr, delay, err)
	} else {
		log.Debugf("Reconnecting manual peer %s in %v", addr, delay)
	}

	m.svc.pool.Go(func() {
		select {
		case <-time.After(delay):
		case <-m.ctx.Done():
			return
		}
		m.connect(p)
	})
}
