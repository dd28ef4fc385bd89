// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/decred/dcrd/crypto/rand"
	"github.com/mvsnet/p2pd/netaddr"
	"golang.org/x/sync/errgroup"
)

const (
	// secondsIn3Days is the number of seconds in 3 days.
	secondsIn3Days = 24 * 60 * 60 * 3

	// secondsIn4Days is the number of seconds in 4 days.
	secondsIn4Days = 24 * 60 * 60 * 4
)

// SeedSession populates an empty host cache from the configured DNS seeds and
// seed peers.  It is one-shot: it stops itself once seeding completes.
type SeedSession struct {
	*session
}

// newSeedSession returns a seed session owned by svc.
func newSeedSession(svc *Service) *SeedSession {
	return &SeedSession{session: newSession("seed", svc, false)}
}

// Start seeds the host cache when it is empty.  The handler is invoked once
// with the result: nil when the cache already has addresses, no seeds are
// configured, or seeding added addresses, and ErrSeedingFailed otherwise.
func (s *SeedSession) Start(handler func(error)) {
	finish := func(err error) {
		s.stop()
		s.svc.pool.Dispatch(func() {
			handler(err)
		})
	}

	if err := s.begin(); err != nil {
		finish(err)
		return
	}
	s.started()

	cfg := &s.svc.cfg
	before := s.svc.AddressCount()
	if before > 0 {
		log.Debugf("Seeding skipped with %d cached addresses", before)
		finish(nil)
		return
	}
	if len(cfg.DNSSeeds) == 0 && len(cfg.Seeds) == 0 {
		log.Info("Host cache is empty and no seeds are configured")
		finish(nil)
		return
	}

	s.svc.pool.Go(func() {
		s.seed()

		after := s.svc.AddressCount()
		switch {
		case s.stopped() || s.svc.Stopped():
			finish(errServiceStopped)
		case after <= before:
			str := fmt.Sprintf("no addresses obtained from %d DNS seeds and "+
				"%d seed peers", len(cfg.DNSSeeds), len(cfg.Seeds))
			log.Warn(str)
			finish(makeError(ErrSeedingFailed, str))
		default:
			log.Infof("Seeding added %d addresses", after-before)
			finish(nil)
		}
	})
}

// seed queries every DNS seed and seed peer concurrently and returns once all
// of them are done.  Individual failures are logged since the only result of
// interest is whether the host cache grew.
func (s *SeedSession) seed() {
	var g errgroup.Group
	for _, host := range s.svc.cfg.DNSSeeds {
		g.Go(func() error {
			s.queryDNSSeed(s.ctx, host)
			return nil
		})
	}

	connector := s.newConnector(DialFirst)
	for _, ep := range s.svc.cfg.Seeds {
		g.Go(func() error {
			s.seedFromPeer(s.ctx, connector, ep)
			return nil
		})
	}
	g.Wait()
}

// queryDNSSeed resolves the DNS seed and stores the results in the host
// cache.  Each address gets a random timestamp between 3 and 7 days in the
// past so that addresses learned from peers are preferred.
func (s *SeedSession) queryDNSSeed(ctx context.Context, host string) {
	ctx, cancel := context.WithTimeout(ctx, s.svc.cfg.SeedTimeout)
	defer cancel()

	addrs, err := s.svc.cfg.Resolver.LookupHost(ctx, host)
	if err != nil {
		log.Infof("DNS discovery failed on seed %s: %v", host, err)
		return
	}
	if len(addrs) == 0 {
		log.Infof("DNS seed %s returned no addresses", host)
		return
	}

	port := s.svc.cfg.DefaultPort
	var stored int
	for _, addr := range addrs {
		seconds := secondsIn3Days + rand.Int32N(secondsIn4Days)
		ts := time.Now().Add(-time.Second * time.Duration(seconds))
		ep := netaddr.EndpointFromAddr(addr, port)
		if err := s.svc.StoreAddress(netaddr.NewAddress(ep, ts, 0)); err != nil {
			log.Debugf("Unable to store address %s from seed %s: %v", ep,
				host, err)
			continue
		}
		stored++
	}
	log.Infof("%d addresses found from DNS seed %s", stored, host)
}

// seedFromPeer connects to the seed peer and keeps the channel open for the
// seed timeout so the address protocol can populate the host cache.
func (s *SeedSession) seedFromPeer(ctx context.Context, connector *Connector, ep netaddr.Endpoint) {
	result := make(chan *Channel, 1)
	connector.ConnectEndpoint(ep, func(err error, ch *Channel) {
		if err != nil {
			log.Infof("Unable to connect to seed %s: %v", ep, err)
			result <- nil
			return
		}
		if err := s.register(ch, RoleSeed); err != nil {
			log.Infof("Unable to seed from %s: %v", ch, err)
			result <- nil
			return
		}
		result <- ch
	})

	// The connector always reports once, including when it is stopped.
	ch := <-result
	if ch == nil {
		return
	}

	timer := time.NewTimer(s.svc.cfg.SeedTimeout)
	defer timer.Stop()
	select {
	case <-ch.Done():
		if err := ch.Err(); err != nil && !errors.Is(err, ErrChannelStopped) {
			log.Debugf("Seed %s stopped: %v", ch, err)
		}
	case <-timer.C:
		ch.Stop(makeError(ErrChannelStopped, "seeding complete"))
	case <-ctx.Done():
		ch.Stop(errServiceStopped)
	}
}
