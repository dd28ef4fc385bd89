// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/mvsnet/p2pd/hostcache"
	"github.com/mvsnet/p2pd/netaddr"
)

// newTestConfig returns a config for a node that neither listens nor seeds
// with its host cache in a temporary directory.
func newTestConfig(t *testing.T) *config {
	t.Helper()

	return &config{
		params:         &testNetParams,
		Threads:        2,
		DialTimeout:    time.Second,
		OutboundRate:   defaultOutboundRate,
		SeedTimeout:    time.Second,
		ManualRetry:    time.Second,
		HostCacheSize:  16,
		HostCacheFlush: time.Minute,
		hostCacheDB:    filepath.Join(t.TempDir(), defaultHostCacheDBName),
	}
}

// TestNodeRun ensures a node runs until its context is canceled and persists
// the addresses it learned in the host cache database.
func TestNodeRun(t *testing.T) {
	cfg := newTestConfig(t)
	n, err := newNode(cfg)
	if err != nil {
		t.Fatalf("unable to create node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- n.Run(ctx)
	}()

	// Wait for the service to run before storing an address.
	ep := netaddr.Endpoint{Host: "10.0.0.1", Port: 15251}
	addr := netaddr.NewAddress(ep, time.Unix(1700000000, 0), 1)
	deadline := time.Now().Add(time.Second * 5)
	for {
		if !n.service.Stopped() {
			if err := n.service.StoreAddress(addr); err == nil {
				break
			}
		}
		if time.Now().After(deadline) {
			t.Fatal("timeout waiting for the service to start")
		}
		time.Sleep(time.Millisecond * 10)
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error running node: %v", err)
		}
	case <-time.After(time.Second * 5):
		t.Fatal("timeout waiting for the node to stop")
	}

	// Ensure the stored address was flushed to the database.
	store, err := hostcache.OpenLevelDB(cfg.hostCacheDB)
	if err != nil {
		t.Fatalf("unable to reopen host cache: %v", err)
	}
	defer store.Close()
	addrs, err := store.Load()
	if err != nil {
		t.Fatalf("unable to load host cache: %v", err)
	}
	if len(addrs) != 1 || addrs[0].Endpoint != ep {
		t.Fatalf("unexpected host cache contents: %v", spew.Sdump(addrs))
	}
}

// TestNodeCanceled ensures a node that is canceled before it starts returns
// without error.
func TestNodeCanceled(t *testing.T) {
	cfg := newTestConfig(t)
	cfg.HostCacheSize = 0
	n, err := newNode(cfg)
	if err != nil {
		t.Fatalf("unable to create node: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := n.Run(ctx); err != nil {
		t.Fatalf("unexpected error running canceled node: %v", err)
	}
	if !n.service.Stopped() {
		t.Fatal("service not stopped")
	}
}

// TestListenFunc ensures listeners are bound with the network family of the
// listen address.
func TestListenFunc(t *testing.T) {
	listen := listenFunc()
	l, err := listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("unable to listen: %v", err)
	}
	defer l.Close()

	tcpAddr, ok := l.Addr().(*net.TCPAddr)
	if !ok || tcpAddr.IP.To4() == nil {
		t.Fatalf("unexpected listen address %v", l.Addr())
	}
	if _, err := listen("tcp", "localhost:0"); err == nil {
		t.Fatal("did not receive expected error for hostname")
	}
}
