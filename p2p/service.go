// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/mvsnet/p2pd/internal/workpool"
	"github.com/mvsnet/p2pd/netaddr"
)

// Service phases.
const (
	phaseStopped int32 = iota
	phaseStarting
	phaseRunning
	phaseStopping
)

// connectEvent is delivered to connection subscribers.
type connectEvent struct {
	err error
	ch  *Channel
}

// ConnectionHandler is invoked with each channel announced by the service, or
// once with ErrServiceStopped and a nil channel when the service stops.
// Returning true keeps the handler subscribed for the next channel.
type ConnectionHandler func(err error, ch *Channel) bool

// Service is the peer to peer network service.  It owns the worker pool, the
// connection pool, and the host cache, and sequences the seed, manual,
// inbound, and outbound sessions.
//
// The lifecycle is Start, then Run, then Stop or Close.  A stopped service may
// be started again once Close has returned.
type Service struct {
	cfg   Config
	pool  *workpool.Pool
	hosts HostCache
	conns *connections

	// lifecycleMtx orders the setup of Start after the workers of a prior
	// run have drained against Stop leaving the starting phase.
	lifecycleMtx sync.Mutex
	phase        atomic.Int32
	stopped      atomic.Bool
	height       atomic.Uint64

	stopSub    *subscriber[error]
	channelSub *subscriber[connectEvent]

	// manual is retained while the service runs so that peers can be added
	// at any time.
	manual atomic.Pointer[ManualSession]
}

// NewService returns a stopped service with the provided configuration.
func NewService(cfg *Config) (*Service, error) {
	s := &Service{cfg: *cfg}
	if err := s.cfg.normalize(); err != nil {
		return nil, err
	}

	initPrometheusMetrics()
	s.pool = workpool.New("p2p")
	s.hosts = s.cfg.HostCache
	s.conns = newConnections()
	s.stopSub = newSubscriber[error](errServiceStopped)
	s.channelSub = newSubscriber(connectEvent{err: errServiceStopped})
	s.stopped.Store(true)
	return s, nil
}

// Start spawns the workers, starts the manual session, loads the host cache,
// and seeds it when empty.  The handler is invoked once with the result.
// ErrOperationFailed is reported when the service is not stopped and
// ErrServiceStopped when Stop is called before the start completes.
//
// A failure to seed the host cache is reported as ErrSeedingFailed while the
// service is left running, since peers may still be added manually or connect
// inbound.  Any other failure stops the service again.
//
// Start must not be called from a handler invoked by the service.
func (s *Service) Start(handler func(error)) {
	if !s.phase.CompareAndSwap(phaseStopped, phaseStarting) {
		str := "unable to start service that is not stopped"
		s.pool.Dispatch(func() {
			handler(makeError(ErrOperationFailed, str))
		})
		return
	}

	log.Info("Starting peer to peer service")

	// Wait for the work of a prior run to drain before spawning new workers.
	s.pool.Join()

	// Abort when the service was stopped while waiting.
	s.lifecycleMtx.Lock()
	if s.phase.Load() != phaseStarting {
		s.lifecycleMtx.Unlock()
		log.Info("Peer to peer service stopped while starting")
		s.pool.Dispatch(func() {
			handler(errServiceStopped)
		})
		return
	}
	s.pool.Spawn(s.cfg.Threads)
	s.stopSub.start()
	s.channelSub.start()
	s.conns.start()
	s.stopped.Store(false)
	s.lifecycleMtx.Unlock()

	manual := newManualSession(s)
	s.manual.Store(manual)
	manual.Start(func(err error) {
		s.handleManualStarted(err, handler)
	})
}

// handleManualStarted loads the host cache and starts the seed session once
// the manual session is running.
func (s *Service) handleManualStarted(err error, handler func(error)) {
	if err != nil {
		s.finishStart(err, handler)
		return
	}
	if s.Stopped() {
		s.finishStart(errServiceStopped, handler)
		return
	}

	if err := s.hosts.Start(); err != nil {
		str := fmt.Sprintf("unable to load host cache: %v", err)
		log.Error(str)
		s.finishStart(makeError(ErrOperationFailed, str), handler)
		return
	}
	log.Infof("Host cache loaded with %d addresses", s.hosts.Count())

	seed := newSeedSession(s)
	seed.Start(func(err error) {
		if err == nil && s.Stopped() {
			err = errServiceStopped
		}
		s.finishStart(err, handler)
	})
}

// finishStart marks the service running and dispatches the start handler.
// The service is stopped again on failure, except for a seeding failure.
func (s *Service) finishStart(err error, handler func(error)) {
	if err == nil || errors.Is(err, ErrSeedingFailed) {
		if !s.phase.CompareAndSwap(phaseStarting, phaseRunning) {
			err = errServiceStopped
		}
	}

	switch {
	case err == nil:
		log.Info("Peer to peer service started")

	case errors.Is(err, ErrSeedingFailed):
		log.Warnf("Peer to peer service started without seeding: %v", err)

	case errors.Is(err, ErrServiceStopped):
		log.Info("Peer to peer service stopped while starting")
		s.Stop()

	default:
		log.Errorf("Peer to peer service failed to start: %v", err)
		s.Stop()
	}
	s.pool.Dispatch(func() {
		handler(err)
	})
}

// Run connects the configured peers and starts the inbound and outbound
// sessions.  The handler is invoked once with the result.
func (s *Service) Run(handler func(error)) {
	if s.Stopped() {
		s.pool.Dispatch(func() {
			handler(errServiceStopped)
		})
		return
	}

	for _, peer := range s.cfg.Peers {
		s.ConnectEndpoint(peer, nil)
	}

	finish := func(err error) {
		s.pool.Dispatch(func() {
			handler(err)
		})
	}
	inbound := newInboundSession(s)
	inbound.Start(func(err error) {
		if err != nil {
			finish(err)
			return
		}
		if s.Stopped() {
			finish(errServiceStopped)
			return
		}

		outbound := newOutboundSession(s)
		outbound.Start(finish)
	})
}

// Stop stops the service.  The host cache is flushed, every subscriber is
// notified with ErrServiceStopped, every channel is stopped, and the workers
// are told to exit once idle.  The returned error is the result of stopping
// the host cache, which is the only step that can fail.  All steps run
// regardless of that result.
//
// Stop is idempotent and safe to call concurrently from any phase.
func (s *Service) Stop() error {
	s.lifecycleMtx.Lock()
	s.phase.Store(phaseStopping)
	s.lifecycleMtx.Unlock()

	err := s.hosts.Stop()
	if err != nil {
		log.Errorf("Unable to stop host cache: %v", err)
	}
	s.stopped.Store(true)
	s.manual.Store(nil)
	s.stopSub.stop(errServiceStopped)
	s.channelSub.stop(connectEvent{err: errServiceStopped})
	s.conns.stop(errServiceStopped)
	s.pool.Shutdown()

	s.phase.Store(phaseStopped)
	return err
}

// Close stops the service and blocks until all outstanding work has drained.
func (s *Service) Close() error {
	err := s.Stop()
	s.pool.Join()
	log.Info("Peer to peer service closed")
	return err
}

// Stopped returns whether the service is stopped.
func (s *Service) Stopped() bool {
	return s.stopped.Load()
}

// Connect connects to the peer at host and port through the manual session,
// which keeps reconnecting it for the life of the service.  The optional
// handler is invoked once with the first outcome.
func (s *Service) Connect(host string, port uint16, handler ConnectHandler) {
	if handler == nil {
		handler = func(error, *Channel) {}
	}
	manual := s.manual.Load()
	if s.Stopped() || manual == nil {
		s.pool.Dispatch(func() {
			handler(errServiceStopped, nil)
		})
		return
	}
	manual.Connect(host, port, handler)
}

// ConnectEndpoint connects to the peer at the endpoint.  See Connect.
func (s *Service) ConnectEndpoint(ep netaddr.Endpoint, handler ConnectHandler) {
	s.Connect(ep.Host, ep.Port, handler)
}

// NewConnector returns a connector that uses the configured dial policy and
// is stopped along with the service.
func (s *Service) NewConnector() *Connector {
	c := s.newConnector("connector", s.cfg.DialPolicy)
	s.SubscribeStop(func(error) {
		c.Stop()
	})
	return c
}

// newConnector returns a connector labeled with name for use by a session.
func (s *Service) newConnector(name string, policy DialPolicy) *Connector {
	return newConnector(name, s.pool, &s.cfg, policy)
}

// registerChannel attaches the version role, stores the channel in the
// connection pool, announces it to connection subscribers when notify is set,
// and attaches the remaining roles.
func (s *Service) registerChannel(ch *Channel, notify bool, roles []Role) error {
	if s.Stopped() {
		return errServiceStopped
	}

	ch.SetNotify(notify)
	if err := ch.Attach(RoleVersion, s.cfg.Protocols); err != nil {
		return err
	}
	if err := s.conns.store(ch); err != nil {
		return err
	}
	if ch.Notify() {
		s.channelSub.invoke(connectEvent{ch: ch})
	}
	for _, role := range roles {
		if err := ch.Attach(role, s.cfg.Protocols); err != nil {
			return err
		}
	}
	log.Debugf("Registered channel %s", ch)
	return nil
}

// SubscribeConnection registers a handler for channels registered with the
// connection pool.  When the service is stopped the handler is invoked
// immediately with ErrServiceStopped.
func (s *Service) SubscribeConnection(handler ConnectionHandler) {
	s.channelSub.subscribe(func(ev connectEvent) bool {
		return handler(ev.err, ev.ch)
	})
}

// SubscribeStop registers a handler that is invoked once when the service
// stops.  When the service is already stopped it is invoked immediately.
func (s *Service) SubscribeStop(handler func(error)) {
	s.stopSub.subscribe(func(err error) bool {
		handler(err)
		return false
	})
}

// Connected returns whether a channel to the authority is registered.
func (s *Service) Connected(authority netaddr.Authority) bool {
	return s.conns.exists(authority)
}

// ConnectedCount returns the number of registered channels.
func (s *Service) ConnectedCount() int {
	return s.conns.count()
}

// AuthorityList returns the authorities of all registered channels.
func (s *Service) AuthorityList() []netaddr.Authority {
	return s.conns.authorities()
}

// AddressCount returns the number of addresses in the host cache.
func (s *Service) AddressCount() int {
	return s.hosts.Count()
}

// AddressList returns a snapshot of the host cache.
func (s *Service) AddressList() []netaddr.Address {
	return s.hosts.Copy()
}

// FetchAddress returns a host cache address whose authority is not in the
// exclusion list.  ErrNotFound is returned when there is none.
func (s *Service) FetchAddress(exclude []netaddr.Authority) (netaddr.Address, error) {
	addr, err := s.hosts.Fetch(exclude)
	if err != nil {
		return netaddr.Address{}, makeError(ErrNotFound, err.Error())
	}
	return addr, nil
}

// acceptable returns whether the address may be stored in the host cache.
// Unless testnet rules are in use, only routable addresses are stored.
func (s *Service) acceptable(addr netaddr.Address) bool {
	return s.cfg.UseTestnetRules || netaddr.IsRoutableEndpoint(addr.Endpoint)
}

// StoreAddress adds the address to the host cache.  Addresses that are not
// routable are silently dropped unless testnet rules are in use.
func (s *Service) StoreAddress(addr netaddr.Address) error {
	if !s.acceptable(addr) {
		log.Tracef("Ignoring unroutable address %s", addr)
		return nil
	}
	return s.hosts.Store(addr)
}

// StoreAddresses adds the addresses to the host cache asynchronously.  The
// optional handler is invoked once with the result.
func (s *Service) StoreAddresses(addrs []netaddr.Address, handler func(error)) {
	accepted := make([]netaddr.Address, 0, len(addrs))
	for _, addr := range addrs {
		if s.acceptable(addr) {
			accepted = append(accepted, addr)
		}
	}

	s.pool.Go(func() {
		done := make(chan error, 1)
		s.hosts.StoreAll(accepted, func(err error) {
			done <- err
		})
		err := <-done
		if handler != nil {
			handler(err)
		}
	})
}

// RemoveAddress removes the address from the host cache.
func (s *Service) RemoveAddress(addr netaddr.Address) error {
	return s.hosts.Remove(addr)
}

// Height returns the best known chain height advertised to peers.
func (s *Service) Height() uint64 {
	return s.height.Load()
}

// SetHeight sets the best known chain height advertised to peers.
func (s *Service) SetHeight(height uint64) {
	s.height.Store(height)
}
