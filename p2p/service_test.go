// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"context"
	"errors"
	"io"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mvsnet/p2pd/hostcache"
	"github.com/mvsnet/p2pd/netaddr"
)

// newTestService returns a service for the provided configuration with test
// friendly defaults.  The service is closed when the test finishes.
func newTestService(t *testing.T, cfg *Config) *Service {
	t.Helper()
	if cfg.Threads == 0 {
		cfg.Threads = 2
	}
	if cfg.Resolver == nil {
		cfg.Resolver = testResolver{}
	}
	s, err := NewService(cfg)
	if err != nil {
		t.Fatalf("unable to create service: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// waitErr waits for a completion handler result or fails the test.
func waitErr(t *testing.T, errs <-chan error) error {
	t.Helper()
	select {
	case err := <-errs:
		return err
	case <-time.After(time.Second * 10):
		t.Fatal("timeout waiting for completion handler")
	}
	return nil
}

// startService starts the service and fails the test on error.
func startService(t *testing.T, s *Service) {
	t.Helper()
	errs := make(chan error, 1)
	s.Start(func(err error) { errs <- err })
	if err := waitErr(t, errs); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
}

// runService runs the service and fails the test on error.
func runService(t *testing.T, s *Service) {
	t.Helper()
	errs := make(chan error, 1)
	s.Run(func(err error) { errs <- err })
	if err := waitErr(t, errs); err != nil {
		t.Fatalf("unexpected run error: %v", err)
	}
}

// listenLoopback returns a loopback listener that accepts and holds
// connections open until the test finishes.
func listenLoopback(t *testing.T) net.Listener {
	t.Helper()
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}

	var mtx sync.Mutex
	var conns []net.Conn
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			mtx.Lock()
			conns = append(conns, conn)
			mtx.Unlock()
		}
	}()
	t.Cleanup(func() {
		listener.Close()
		mtx.Lock()
		defer mtx.Unlock()
		for _, conn := range conns {
			conn.Close()
		}
	})
	return listener
}

// subscribeChannels returns a channel that receives every channel announced
// by the service until it stops.
func subscribeChannels(s *Service) <-chan *Channel {
	announced := make(chan *Channel, 16)
	s.SubscribeConnection(func(err error, ch *Channel) bool {
		if err != nil {
			return false
		}
		announced <- ch
		return true
	})
	return announced
}

// waitChannel waits for an announced channel or fails the test.
func waitChannel(t *testing.T, announced <-chan *Channel) *Channel {
	t.Helper()
	select {
	case ch := <-announced:
		return ch
	case <-time.After(time.Second * 10):
		t.Fatal("timeout waiting for channel notification")
	}
	return nil
}

// TestServiceLifecycle ensures the service rejects a second start, that stop
// notifies subscribers and empties the pool, and that a closed service can be
// started again.
func TestServiceLifecycle(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &Config{})
	if !s.Stopped() {
		t.Fatal("new service not stopped")
	}
	startService(t, s)
	if s.Stopped() {
		t.Fatal("started service reports stopped")
	}

	errs := make(chan error, 1)
	s.Start(func(err error) { errs <- err })
	if err := waitErr(t, errs); !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("second start -- got %v, want %v", err, ErrOperationFailed)
	}

	runService(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if !s.Stopped() {
		t.Fatal("closed service not stopped")
	}

	s.Run(func(err error) { errs <- err })
	if err := waitErr(t, errs); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("run after stop -- got %v, want %v", err, ErrServiceStopped)
	}

	startService(t, s)
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

// TestServiceSubscribeStopped ensures subscribing to a stopped service
// invokes the handlers immediately with ErrServiceStopped.
func TestServiceSubscribeStopped(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &Config{})
	var stopErr, connErr error
	s.SubscribeStop(func(err error) { stopErr = err })
	s.SubscribeConnection(func(err error, ch *Channel) bool {
		connErr = err
		return true
	})
	if !errors.Is(stopErr, ErrServiceStopped) {
		t.Fatalf("stop subscriber -- got %v, want %v", stopErr,
			ErrServiceStopped)
	}
	if !errors.Is(connErr, ErrServiceStopped) {
		t.Fatalf("connection subscriber -- got %v, want %v", connErr,
			ErrServiceStopped)
	}

	handler, results := collect(1)
	s.Connect("10.0.0.1", 5251, handler)
	if r := waitResult(t, results); !errors.Is(r.err, ErrServiceStopped) {
		t.Fatalf("connect -- got %v, want %v", r.err, ErrServiceStopped)
	}
}

// TestServiceConcurrentStop ensures concurrent stops leave the service
// stopped with an empty connection pool and invoke each subscriber once.
func TestServiceConcurrentStop(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &Config{})
	startService(t, s)

	for i := 0; i < 4; i++ {
		addr := netip.AddrFrom4([4]byte{10, 0, 0, byte(i + 1)})
		ch := newTestChannel(t, netaddr.NewAuthority(addr, 5251))
		if err := s.registerChannel(ch, false, fullRoles); err != nil {
			t.Fatalf("unable to register channel: %v", err)
		}
		if roles := ch.Roles(); len(roles) != len(fullRoles)+1 ||
			roles[0] != RoleVersion {

			t.Fatalf("mismatched roles: %v", roles)
		}
	}
	if n := s.ConnectedCount(); n != 4 {
		t.Fatalf("mismatched connected count -- got %d, want 4", n)
	}

	var stops, conns atomic.Int32
	for i := 0; i < 8; i++ {
		s.SubscribeStop(func(err error) {
			if errors.Is(err, ErrServiceStopped) {
				stops.Add(1)
			}
		})
		s.SubscribeConnection(func(err error, ch *Channel) bool {
			if errors.Is(err, ErrServiceStopped) {
				conns.Add(1)
			}
			return true
		})
	}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Stop(); err != nil {
				t.Errorf("unexpected stop error: %v", err)
			}
		}()
	}
	wg.Wait()

	if !s.Stopped() {
		t.Fatal("service not stopped")
	}
	if n := s.ConnectedCount(); n != 0 {
		t.Fatalf("channels remain after stop: %d", n)
	}
	if n := stops.Load(); n != 8 {
		t.Fatalf("mismatched stop notifications -- got %d, want 8", n)
	}
	if n := conns.Load(); n != 8 {
		t.Fatalf("mismatched connection notifications -- got %d, want 8", n)
	}
}

// TestServiceConnectReachable ensures a configured peer that accepts the
// connection is registered and announced to connection subscribers, and that
// closing the service empties the pool.
func TestServiceConnectReachable(t *testing.T) {
	t.Parallel()

	listener := listenLoopback(t)
	want, err := netaddr.AuthorityFromNetAddr(listener.Addr())
	if err != nil {
		t.Fatalf("unexpected authority error: %v", err)
	}
	s := newTestService(t, &Config{
		Peers:           []netaddr.Endpoint{want.Endpoint()},
		UseTestnetRules: true,
		ConnectTimeout:  time.Second * 5,
	})
	startService(t, s)
	announced := subscribeChannels(s)
	runService(t, s)

	ch := waitChannel(t, announced)
	if ch.Authority() != want {
		t.Fatalf("mismatched authority -- got %s, want %s", ch.Authority(),
			want)
	}
	if n := s.ConnectedCount(); n != 1 {
		t.Fatalf("mismatched connected count -- got %d, want 1", n)
	}
	if !s.Connected(want) {
		t.Fatalf("authority %s not connected", want)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if n := s.ConnectedCount(); n != 0 {
		t.Fatalf("channels remain after close: %d", n)
	}
	if !errors.Is(ch.Err(), ErrServiceStopped) {
		t.Fatalf("mismatched channel stop reason -- got %v, want %v",
			ch.Err(), ErrServiceStopped)
	}
}

// TestServiceConnectUnreachable ensures connecting to a peer that never
// answers reports ErrChannelTimeout and leaves the pool empty.
func TestServiceConnectUnreachable(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &Config{
		Dial:               blackholeDial(nil),
		ConnectTimeout:     time.Millisecond * 20,
		ManualAttemptLimit: 1,
	})
	startService(t, s)
	runService(t, s)

	handler, results := collect(1)
	s.Connect("192.0.2.1", 5251, handler)
	r := waitResult(t, results)
	if !errors.Is(r.err, ErrChannelTimeout) {
		t.Fatalf("mismatched error -- got %v, want %v", r.err,
			ErrChannelTimeout)
	}
	if n := s.ConnectedCount(); n != 0 {
		t.Fatalf("mismatched connected count -- got %d, want 0", n)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

// TestServiceManualRetry ensures a manual peer that fails its first attempt
// is retried and then registered.
func TestServiceManualRetry(t *testing.T) {
	t.Parallel()

	var attempts atomic.Int32
	pipe := pipeDial(t)
	dial := func(ctx context.Context, network, address string) (net.Conn, error) {
		if attempts.Add(1) == 1 {
			return nil, errors.New("connection refused")
		}
		return pipe(ctx, network, address)
	}
	s := newTestService(t, &Config{
		Dial:                dial,
		ManualRetryInterval: time.Millisecond * 10,
	})
	startService(t, s)
	announced := subscribeChannels(s)

	handler, results := collect(1)
	s.Connect("10.0.0.1", 5251, handler)
	if r := waitResult(t, results); !errors.Is(r.err, ErrConnectFailed) {
		t.Fatalf("first outcome -- got %v, want %v", r.err, ErrConnectFailed)
	}

	ch := waitChannel(t, announced)
	want := netaddr.NewAuthority(netip.MustParseAddr("10.0.0.1"), 5251)
	if ch.Authority() != want {
		t.Fatalf("mismatched authority -- got %s, want %s", ch.Authority(),
			want)
	}
	select {
	case r := <-results:
		t.Fatalf("handler invoked again: %v", r.err)
	default:
	}
}

// TestServiceSeedDNS ensures an empty host cache is seeded from DNS seeds and
// that seeding without any result is reported while the service keeps
// running.
func TestServiceSeedDNS(t *testing.T) {
	t.Parallel()

	seeded := []netip.Addr{
		netip.MustParseAddr("8.8.8.8"),
		netip.MustParseAddr("1.1.1.1"),
		netip.MustParseAddr("2001:4860::8888"),
	}
	tests := []struct {
		name  string
		seeds []string
		want  int
		err   error
	}{{
		name:  "seeded",
		seeds: []string{"seed.example"},
		want:  len(seeded),
	}, {
		name:  "no results",
		seeds: []string{"missing.example"},
		err:   ErrSeedingFailed,
	}, {
		name: "no seeds",
	}}

	for _, test := range tests {
		s := newTestService(t, &Config{
			Resolver:    testResolver{"seed.example": seeded},
			DNSSeeds:    test.seeds,
			DefaultPort: 5251,
			HostCache:   hostcache.NewWithCapacity(100, nil, 0),
		})
		errs := make(chan error, 1)
		s.Start(func(err error) { errs <- err })
		err := waitErr(t, errs)
		if !errors.Is(err, test.err) {
			t.Fatalf("%q: mismatched start error -- got %v, want %v",
				test.name, err, test.err)
		}
		if n := s.AddressCount(); n != test.want {
			t.Fatalf("%q: mismatched address count -- got %d, want %d",
				test.name, n, test.want)
		}
		if s.Stopped() || s.phase.Load() != phaseRunning {
			t.Fatalf("%q: service not left running after start", test.name)
		}
		for _, addr := range s.AddressList() {
			age := time.Since(addr.Timestamp)
			if age < time.Hour*24*3 || age > time.Hour*24*7+time.Minute {
				t.Fatalf("%q: seeded address %s has age %v", test.name,
					addr, age)
			}
		}
		s.Close()
	}
}

// TestServiceInbound ensures inbound connections are registered up to the
// inbound limit and that connections past the limit are dropped.
func TestServiceInbound(t *testing.T) {
	t.Parallel()

	listeners := make(chan net.Listener, 1)
	s := newTestService(t, &Config{
		Listeners:          []string{"127.0.0.1:0"},
		InboundConnections: 1,
		Listen: func(network, address string) (net.Listener, error) {
			l, err := net.Listen(network, address)
			if err == nil {
				listeners <- l
			}
			return l, err
		},
	})
	startService(t, s)
	announced := subscribeChannels(s)
	runService(t, s)
	listener := <-listeners

	conn1, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	defer conn1.Close()
	ch := waitChannel(t, announced)
	if !ch.Inbound() {
		t.Fatal("accepted channel not marked inbound")
	}

	conn2, err := net.Dial("tcp", listener.Addr().String())
	if err != nil {
		t.Fatalf("unable to dial: %v", err)
	}
	defer conn2.Close()
	conn2.SetReadDeadline(time.Now().Add(time.Second * 10))
	if _, err := conn2.Read(make([]byte, 1)); !errors.Is(err, io.EOF) {
		t.Fatalf("connection past the limit not dropped: %v", err)
	}
	if n := s.ConnectedCount(); n != 1 {
		t.Fatalf("mismatched connected count -- got %d, want 1", n)
	}

	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
	if _, err := net.Dial("tcp", listener.Addr().String()); err == nil {
		t.Fatal("listener still accepting after close")
	}
}

// TestInboundReserve ensures inbound slots are granted up to the configured
// limit, including limits beyond the range of a 32-bit integer.
func TestInboundReserve(t *testing.T) {
	t.Parallel()

	// Computed at runtime so the test compiles where int is 32 bits.  The
	// limit truncates to one there.
	shift := 32
	wide := int(int64(1)<<shift + 1)

	tests := []struct {
		name  string
		limit int
		held  int64
		want  bool
	}{{
		name:  "disabled",
		limit: 0,
		want:  false,
	}, {
		name:  "below limit",
		limit: 2,
		held:  1,
		want:  true,
	}, {
		name:  "at limit",
		limit: 2,
		held:  2,
		want:  false,
	}, {
		name:  "wide limit",
		limit: wide,
		held:  1 << 31,
		want:  strconv.IntSize == 64,
	}}

	for _, test := range tests {
		svc := &Service{cfg: Config{InboundConnections: test.limit}}
		s := newInboundSession(svc)
		s.inbound.Store(test.held)
		if got := s.reserve(); got != test.want {
			t.Errorf("%q: mismatched reserve -- got %v, want %v", test.name,
				got, test.want)
			continue
		}
		want := test.held
		if test.want {
			want++
		}
		if got := s.inbound.Load(); got != want {
			t.Errorf("%q: mismatched inbound count -- got %d, want %d",
				test.name, got, want)
		}
	}
}

// TestServiceOutbound ensures the outbound session connects to addresses from
// the host cache.
func TestServiceOutbound(t *testing.T) {
	t.Parallel()

	listener := listenLoopback(t)
	want, err := netaddr.AuthorityFromNetAddr(listener.Addr())
	if err != nil {
		t.Fatalf("unexpected authority error: %v", err)
	}
	cache := hostcache.NewWithCapacity(10, nil, 0)
	s := newTestService(t, &Config{
		UseTestnetRules:     true,
		OutboundConnections: 2,
		HostCache:           cache,
	})
	startService(t, s)
	addr := netaddr.NewAddress(want.Endpoint(), time.Now(), 0)
	if err := s.StoreAddress(addr); err != nil {
		t.Fatalf("unable to store address: %v", err)
	}
	announced := subscribeChannels(s)
	runService(t, s)

	ch := waitChannel(t, announced)
	if ch.Authority() != want || ch.Inbound() {
		t.Fatalf("unexpected outbound channel %s", ch)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("unexpected close error: %v", err)
	}
}

// TestServiceStoreAddress ensures unroutable addresses are only stored under
// testnet rules and that fetch honors the exclusion list.
func TestServiceStoreAddress(t *testing.T) {
	t.Parallel()

	routable := netaddr.NewAddress(netaddr.EndpointFromAddr(
		netip.MustParseAddr("8.8.8.8"), 5251), time.Now(), 0)
	local := netaddr.NewAddress(netaddr.EndpointFromAddr(
		netip.MustParseAddr("192.168.1.1"), 5251), time.Now(), 0)

	tests := []struct {
		name    string
		testnet bool
		want    int
	}{
		{name: "mainnet", testnet: false, want: 1},
		{name: "testnet", testnet: true, want: 2},
	}
	for _, test := range tests {
		s := newTestService(t, &Config{
			UseTestnetRules: test.testnet,
			HostCache:       hostcache.NewWithCapacity(10, nil, 0),
		})
		errs := make(chan error, 1)
		s.StoreAddresses([]netaddr.Address{routable, local}, func(err error) {
			errs <- err
		})
		if err := waitErr(t, errs); err != nil {
			t.Fatalf("%q: unexpected store error: %v", test.name, err)
		}
		if n := s.AddressCount(); n != test.want {
			t.Fatalf("%q: mismatched address count -- got %d, want %d",
				test.name, n, test.want)
		}

		exclude := []netaddr.Authority{
			netaddr.NewAuthority(netip.MustParseAddr("8.8.8.8"), 5251),
			netaddr.NewAuthority(netip.MustParseAddr("192.168.1.1"), 5251),
		}
		if _, err := s.FetchAddress(exclude); !errors.Is(err, ErrNotFound) {
			t.Fatalf("%q: fetch with all excluded -- got %v, want %v",
				test.name, err, ErrNotFound)
		}
		if err := s.RemoveAddress(routable); err != nil {
			t.Fatalf("%q: unexpected remove error: %v", test.name, err)
		}
		if n := s.AddressCount(); n != test.want-1 {
			t.Fatalf("%q: mismatched address count after remove -- got "+
				"%d, want %d", test.name, n, test.want-1)
		}
	}
}

// failingStore is a host cache store whose saves always fail.
type failingStore struct{}

func (failingStore) Load() ([]netaddr.Address, error) { return nil, nil }
func (failingStore) Save([]netaddr.Address) error     { return errors.New("disk full") }

// TestServiceStopHostCacheFailure ensures a host cache flush failure is
// reported by Stop while the rest of the shutdown still completes.
func TestServiceStopHostCacheFailure(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &Config{
		UseTestnetRules: true,
		HostCache:       hostcache.NewWithCapacity(10, failingStore{}, 0),
	})
	startService(t, s)
	addr := netaddr.NewAddress(netaddr.EndpointFromAddr(
		netip.MustParseAddr("10.0.0.1"), 5251), time.Now(), 0)
	if err := s.StoreAddress(addr); err != nil {
		t.Fatalf("unable to store address: %v", err)
	}
	auth, _ := addr.Endpoint.Authority()
	ch := newTestChannel(t, auth)
	if err := s.registerChannel(ch, true, nil); err != nil {
		t.Fatalf("unable to register channel: %v", err)
	}

	err := s.Stop()
	if !errors.Is(err, hostcache.ErrFlushFailed) {
		t.Fatalf("mismatched stop error -- got %v, want %v", err,
			hostcache.ErrFlushFailed)
	}
	if !s.Stopped() || s.ConnectedCount() != 0 {
		t.Fatal("shutdown did not complete after host cache failure")
	}
	if err := s.Stop(); err != nil {
		t.Fatalf("second stop -- got %v, want nil", err)
	}
}

// gatedCache is a host cache whose StoreAll blocks until the gate is closed.
type gatedCache struct {
	*hostcache.Cache
	gate chan struct{}
}

func (c *gatedCache) StoreAll(addrs []netaddr.Address, handler func(error)) {
	<-c.gate
	c.Cache.StoreAll(addrs, handler)
}

// waitPhase waits for the service to enter the provided phase.
func waitPhase(t *testing.T, s *Service, phase int32) {
	t.Helper()
	deadline := time.Now().Add(time.Second * 10)
	for s.phase.Load() != phase {
		if time.Now().After(deadline) {
			t.Fatalf("timeout waiting for phase %d -- got %d", phase,
				s.phase.Load())
		}
		time.Sleep(time.Millisecond)
	}
}

// TestServiceStopDuringStart ensures a stop while a start waits on the work
// of a prior run aborts the start, leaves the service stopped, and does not
// prevent a later start.
func TestServiceStopDuringStart(t *testing.T) {
	t.Parallel()

	hosts := &gatedCache{
		Cache: hostcache.NewWithCapacity(10, nil, 0),
		gate:  make(chan struct{}),
	}
	s := newTestService(t, &Config{
		UseTestnetRules: true,
		HostCache:       hosts,
	})
	startService(t, s)
	s.Stop()

	// Leave tracked work outstanding from the prior run.
	addr := netaddr.NewAddress(netaddr.EndpointFromAddr(
		netip.MustParseAddr("10.0.0.1"), 5251), time.Now(), 0)
	s.StoreAddresses([]netaddr.Address{addr}, nil)

	errs := make(chan error, 1)
	go s.Start(func(err error) { errs <- err })
	waitPhase(t, s, phaseStarting)
	s.Stop()
	close(hosts.gate)

	if err := waitErr(t, errs); !errors.Is(err, ErrServiceStopped) {
		t.Fatalf("mismatched start error -- got %v, want %v", err,
			ErrServiceStopped)
	}
	if !s.Stopped() {
		t.Fatal("service not stopped after aborted start")
	}
	if phase := s.phase.Load(); phase != phaseStopped {
		t.Fatalf("mismatched phase -- got %d, want %d", phase, phaseStopped)
	}

	// A later start must complete rather than wedge in the starting phase.
	s.Start(func(err error) { errs <- err })
	err := waitErr(t, errs)
	if err != nil && !errors.Is(err, ErrOperationFailed) {
		t.Fatalf("unexpected restart error: %v", err)
	}
	s.Close()
}

// loadFailStore is a host cache store whose loads always fail.
type loadFailStore struct{}

func (loadFailStore) Load() ([]netaddr.Address, error) { return nil, errors.New("corrupt") }
func (loadFailStore) Save([]netaddr.Address) error     { return nil }

// TestServiceStartFailure ensures a failed start leaves the service stopped
// so that it may be started again.
func TestServiceStartFailure(t *testing.T) {
	t.Parallel()

	s := newTestService(t, &Config{
		UseTestnetRules: true,
		HostCache:       hostcache.NewWithCapacity(10, loadFailStore{}, 0),
	})
	errs := make(chan error, 1)
	for i := 0; i < 2; i++ {
		s.Start(func(err error) { errs <- err })
		err := waitErr(t, errs)
		if !errors.Is(err, ErrOperationFailed) {
			t.Fatalf("start #%d: mismatched error -- got %v, want %v", i,
				err, ErrOperationFailed)
		}
		if !s.Stopped() {
			t.Fatalf("start #%d: service not stopped after failure", i)
		}
		if phase := s.phase.Load(); phase != phaseStopped {
			t.Fatalf("start #%d: mismatched phase -- got %d, want %d", i,
				phase, phaseStopped)
		}
	}
}
