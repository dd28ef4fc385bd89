// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/dcrd/container/apbf"
	"github.com/mvsnet/p2pd/netaddr"
	"golang.org/x/time/rate"
)

const (
	// maxFetchAttempts is the number of candidates a slot draws from the
	// host cache before waiting for the cache to change.
	maxFetchAttempts = 8

	// outboundIdleInterval is the time a slot waits when the host cache has
	// no usable candidates.
	outboundIdleInterval = time.Second * 5

	// recentFailures is the approximate number of failed candidates that are
	// remembered and skipped.
	recentFailures = 1000

	// recentFailuresFPRate is the false positive rate of the recent failure
	// filter.
	recentFailuresFPRate = 0.001
)

// OutboundSession maintains a target number of outbound channels to peers
// drawn from the host cache.
type OutboundSession struct {
	*session
	limiter   *rate.Limiter
	connector *Connector

	// failedMtx protects failed, which is not safe for concurrent access.
	failedMtx sync.Mutex
	failed    *apbf.Filter

	pendingMtx sync.Mutex
	pending    map[string]netaddr.Endpoint
}

// newOutboundSession returns an outbound session owned by svc.
func newOutboundSession(svc *Service) *OutboundSession {
	return &OutboundSession{
		session: newSession("outbound", svc, true),
		failed:  apbf.NewFilter(recentFailures, recentFailuresFPRate),
		pending: make(map[string]netaddr.Endpoint),
	}
}

// Start launches one goroutine per outbound slot.  The handler is invoked
// once with the result.
func (s *OutboundSession) Start(handler func(error)) {
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

	slots := s.svc.cfg.OutboundConnections
	if slots == 0 {
		log.Info("Outbound connections are disabled")
		s.started()
		finish(nil)
		return
	}

	s.limiter = rate.NewLimiter(rate.Limit(s.svc.cfg.OutboundRate), slots)
	s.connector = s.newConnector(DialFirst)
	for slot := 0; slot < slots; slot++ {
		s.svc.pool.Go(func() {
			s.maintain(slot)
		})
	}
	log.Infof("Maintaining %d outbound connections", slots)
	s.started()
	finish(nil)
}

// maintain keeps a single outbound slot filled until the session stops.  It
// must be run as a goroutine.
func (s *OutboundSession) maintain(slot int) {
	for !s.stopped() {
		if err := s.limiter.Wait(s.ctx); err != nil {
			break
		}

		ch, err := s.connectNext()
		if err != nil {
			if errors.Is(err, ErrServiceStopped) {
				break
			}
			if errors.Is(err, ErrNotFound) {
				select {
				case <-time.After(outboundIdleInterval):
				case <-s.ctx.Done():
				}
			}
			continue
		}

		log.Debugf("Outbound slot %d filled by %s", slot, ch)
		select {
		case <-ch.Done():
			log.Debugf("Outbound slot %d freed by %s: %v", slot, ch, ch.Err())
		case <-s.ctx.Done():
		}
	}
	log.Tracef("Outbound slot %d done", slot)
}

// exclusions returns the authorities that must not be fetched from the host
// cache: those already connected and those with an attempt in flight.
func (s *OutboundSession) exclusions() []netaddr.Authority {
	exclude := s.svc.AuthorityList()
	s.pendingMtx.Lock()
	for _, ep := range s.pending {
		if auth, ok := ep.Authority(); ok {
			exclude = append(exclude, auth)
		}
	}
	s.pendingMtx.Unlock()
	return exclude
}

// recentlyFailed returns whether a connection to the endpoint failed
// recently.
func (s *OutboundSession) recentlyFailed(ep netaddr.Endpoint) bool {
	s.failedMtx.Lock()
	defer s.failedMtx.Unlock()
	return s.failed.Contains([]byte(ep.String()))
}

// markFailed records a failed connection to the endpoint.
func (s *OutboundSession) markFailed(ep netaddr.Endpoint) {
	s.failedMtx.Lock()
	s.failed.Add([]byte(ep.String()))
	s.failedMtx.Unlock()
}

// candidate draws an address from the host cache that is neither connected,
// in flight, nor recently failed, and marks it in flight.
func (s *OutboundSession) candidate() (netaddr.Endpoint, error) {
	exclude := s.exclusions()
	for i := 0; i < maxFetchAttempts; i++ {
		addr, err := s.svc.FetchAddress(exclude)
		if err != nil {
			return netaddr.Endpoint{}, err
		}

		ep := addr.Endpoint
		key := ep.String()
		auth, isIP := ep.Authority()
		if s.recentlyFailed(ep) {
			if isIP {
				exclude = append(exclude, auth)
			}
			continue
		}

		s.pendingMtx.Lock()
		_, inFlight := s.pending[key]
		if !inFlight {
			s.pending[key] = ep
		}
		s.pendingMtx.Unlock()
		if inFlight {
			if isIP {
				exclude = append(exclude, auth)
			}
			continue
		}
		return ep, nil
	}

	str := fmt.Sprintf("no usable address after %d candidates",
		maxFetchAttempts)
	return netaddr.Endpoint{}, makeError(ErrNotFound, str)
}

// connectNext connects to the next candidate and registers the channel.
func (s *OutboundSession) connectNext() (*Channel, error) {
	ep, err := s.candidate()
	if err != nil {
		return nil, err
	}

	type connectResult struct {
		err error
		ch  *Channel
	}
	result := make(chan connectResult, 1)
	s.connector.ConnectEndpoint(ep, func(err error, ch *Channel) {
		result <- connectResult{err: err, ch: ch}
	})

	// The connector always reports once, including when it is stopped.
	r := <-result
	s.pendingMtx.Lock()
	delete(s.pending, ep.String())
	s.pendingMtx.Unlock()

	if r.err != nil {
		if errors.Is(r.err, ErrConnectFailed) ||
			errors.Is(r.err, ErrChannelTimeout) {

			s.markFailed(ep)
		}
		log.Debugf("Outbound connection to %s failed: %v", ep, r.err)
		return nil, r.err
	}
	if err := s.register(r.ch, fullRoles...); err != nil {
		return nil, err
	}
	return r.ch, nil
}
