// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mvsnet/p2pd/internal/workpool"
	"github.com/mvsnet/p2pd/netaddr"
)

// ConnectHandler is invoked with the outcome of a connection attempt.  The
// channel is nil unless err is nil.
type ConnectHandler func(err error, ch *Channel)

// Connector resolves hostnames and connects to the resulting addresses with
// every attempt bounded by a timeout.  Stopping the connector cancels all
// outstanding resolutions and attempts.
//
// Handlers are never invoked in the goroutine that calls Connect.  Each
// dialed address yields exactly one handler invocation, including after the
// connector is stopped.
type Connector struct {
	name     string
	pool     *workpool.Pool
	resolver Resolver
	dial     DialFunc
	timeout  time.Duration
	policy   DialPolicy
	pending  *pendingRegistry

	// mtx protects stopped and ensures no resolution proceeds to dialing
	// once the connector is stopped.
	mtx     sync.RWMutex
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
}

// newConnector returns a connector that dispatches completions to the
// provided pool.
func newConnector(name string, pool *workpool.Pool, cfg *Config, policy DialPolicy) *Connector {
	initPrometheusMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	return &Connector{
		name:     name,
		pool:     pool,
		resolver: cfg.Resolver,
		dial:     cfg.Dial,
		timeout:  cfg.ConnectTimeout,
		policy:   policy,
		pending:  newPendingRegistry(),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// complete dispatches the handler with the provided outcome.
func (c *Connector) complete(handler ConnectHandler, err error, ch *Channel) {
	prometheusConnectResults.WithLabelValues(errorLabel(err)).Inc()
	c.pool.Dispatch(func() {
		handler(err, ch)
	})
}

// Connect resolves the host and connects to the resolved addresses per the
// connector's dial policy.  The handler is invoked once per dialed address,
// or once with the error when resolution fails or the connector is stopped.
func (c *Connector) Connect(host string, port uint16, handler ConnectHandler) {
	c.connect(host, port, nil, handler)
}

// ConnectEndpoint connects to the provided endpoint.  See Connect.
func (c *Connector) ConnectEndpoint(ep netaddr.Endpoint, handler ConnectHandler) {
	c.connect(ep.Host, ep.Port, nil, handler)
}

// connect is the implementation of Connect.  The optional onResolved function
// is called with the number of addresses that will be dialed before any of
// their handlers can run.  It is not called when no address is dialed.
func (c *Connector) connect(host string, port uint16, onResolved func(int), handler ConnectHandler) {
	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if c.stopped {
		str := fmt.Sprintf("%s: connector stopped", c.name)
		c.complete(handler, makeError(ErrServiceStopped, str), nil)
		return
	}

	ctx := c.ctx
	c.pool.Go(func() {
		c.resolve(ctx, host, port, onResolved, handler)
	})
}

// resolve performs the name resolution for a connect and starts an attempt
// for each address to dial.  It must be run as a goroutine.
func (c *Connector) resolve(ctx context.Context, host string, port uint16, onResolved func(int), handler ConnectHandler) {
	addrs, err := c.resolver.LookupHost(ctx, host)

	c.mtx.RLock()
	defer c.mtx.RUnlock()

	if c.stopped {
		str := fmt.Sprintf("%s: connector stopped while resolving %s",
			c.name, host)
		c.complete(handler, makeError(ErrServiceStopped, str), nil)
		return
	}
	if err != nil || len(addrs) == 0 {
		str := fmt.Sprintf("%s: unable to resolve %s", c.name, host)
		if err != nil {
			str = fmt.Sprintf("%s: %v", str, err)
		}
		log.Debug(str)
		c.complete(handler, makeError(ErrResolveFailed, str), nil)
		return
	}

	if c.policy == DialFirst {
		addrs = addrs[:1]
	}
	if onResolved != nil {
		onResolved(len(addrs))
	}

	for _, addr := range addrs {
		authority := netaddr.NewAuthority(addr, port)
		sock := c.pending.add(ctx)
		timer := newDeadline(c.timeout)
		timer.start(sock.expire)
		c.pool.Go(func() {
			c.attempt(sock, timer, authority, handler)
		})
	}
}

// attempt dials the authority and reports the outcome once both the dial and
// the deadline have reached a terminal state.  It must be run as a goroutine.
func (c *Connector) attempt(sock *pendingSocket, timer *deadline, authority netaddr.Authority, handler ConnectHandler) {
	log.Tracef("%s: connecting to %s", c.name, authority)
	conn, err := c.dial(sock.ctx, "tcp", authority.String())

	// Stopping the deadline waits for a concurrent expiration to finish, so
	// the flags below are final.
	timer.stop()
	c.pending.remove(sock)
	canceled := sock.canceled.Load()
	timedOut := sock.timedOut.Load()
	sock.cancel()

	if err != nil {
		switch {
		case canceled:
			str := fmt.Sprintf("%s: connect to %s canceled: %v", c.name,
				authority, err)
			err = makeError(ErrServiceStopped, str)
		case timedOut:
			str := fmt.Sprintf("%s: connect to %s timed out after %v",
				c.name, authority, c.timeout)
			err = makeError(ErrChannelTimeout, str)
		default:
			err = mapTransportError(err)
		}
		log.Debugf("%s: failed to connect to %s: %v", c.name, authority, err)
		c.complete(handler, err, nil)
		return
	}

	// The dial won the race with a stop, so the connection is discarded.
	if canceled {
		conn.Close()
		str := fmt.Sprintf("%s: connector stopped", c.name)
		c.complete(handler, makeError(ErrServiceStopped, str), nil)
		return
	}

	log.Debugf("%s: connected to %s", c.name, authority)
	c.complete(handler, nil, newChannel(conn, authority, false))
}

// Stop cancels all outstanding resolutions and attempts.  Their handlers are
// invoked with ErrServiceStopped.  Subsequent connects fail immediately.  It
// is safe to call multiple times.
func (c *Connector) Stop() {
	c.mtx.Lock()
	if !c.stopped {
		c.stopped = true
		log.Tracef("%s: stopping connector", c.name)
	}
	c.pending.clear()
	c.cancel()
	c.mtx.Unlock()
}

// Stopped returns whether the connector has been stopped.
func (c *Connector) Stopped() bool {
	c.mtx.RLock()
	defer c.mtx.RUnlock()
	return c.stopped
}
