// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

const (
	// metricsReadHeaderTimeout is the time allowed for a metrics client to
	// send its request headers.
	metricsReadHeaderTimeout = time.Second * 3

	// metricsShutdownTimeout is the time in flight metrics requests are given
	// to complete once the server is shutting down.
	metricsShutdownTimeout = time.Second * 5
)

// portToLocalHostAddr prepends a default host of 127.0.0.1 when the provided
// address is solely a port number.
func portToLocalHostAddr(addr string) string {
	if _, err := strconv.Atoi(addr); err == nil {
		addr = net.JoinHostPort("127.0.0.1", addr)
	}
	return addr
}

// validateMetricsAddr ensures the provided address is of the form "host:port"
// with an unprivileged port.
func validateMetricsAddr(addr string) error {
	_, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return err
	}
	if port, _ := strconv.Atoi(portStr); port < 1024 || port > 65535 {
		str := "address %q: port must be between 1024 and 65535"
		return fmt.Errorf(str, addr)
	}
	return nil
}

// metricsServer serves the registered prometheus metrics over HTTP and, when
// enabled, the runtime profiling endpoints.
type metricsServer struct {
	listeners []net.Listener
	server    *http.Server
}

// newMetricsHandler returns the handler for the metrics endpoint along with
// the profiling endpoints when requested.  The root path redirects to the
// metrics.
func newMetricsHandler(gatherer prometheus.Gatherer, profile bool) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{
		ErrorLog: promLogger{},
	}))
	if profile {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.Handle("/{$}", http.RedirectHandler("/metrics", http.StatusSeeOther))
	return mux
}

// newMetricsServer binds the provided normalized listen addresses and returns
// a server for them.  No listener remains bound when an error is returned.
func newMetricsServer(listenAddrs []string, profile bool) (*metricsServer, error) {
	netAddrs, err := parseListeners(listenAddrs)
	if err != nil {
		return nil, err
	}

	s := metricsServer{
		listeners: make([]net.Listener, 0, len(netAddrs)),
		server: &http.Server{
			Handler:           newMetricsHandler(prometheus.DefaultGatherer, profile),
			ReadHeaderTimeout: metricsReadHeaderTimeout,
		},
	}
	for _, addr := range netAddrs {
		listener, err := net.Listen(addr.Network(), addr.String())
		if err != nil {
			for _, l := range s.listeners {
				l.Close()
			}
			return nil, fmt.Errorf("unable to listen on %s: %w", addr, err)
		}
		s.listeners = append(s.listeners, listener)
	}
	return &s, nil
}

// Addrs returns the addresses the server is bound to.
func (s *metricsServer) Addrs() []net.Addr {
	addrs := make([]net.Addr, 0, len(s.listeners))
	for _, l := range s.listeners {
		addrs = append(addrs, l.Addr())
	}
	return addrs
}

// Run serves requests on all listeners until the context is canceled or one
// of them fails.  In flight requests are given a short time to complete on
// shutdown.
func (s *metricsServer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, listener := range s.listeners {
		p2pdLog.Infof("Metrics server listening on %s", listener.Addr())
		g.Go(func() error {
			err := s.server.Serve(listener)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return fmt.Errorf("metrics server on %s: %w", listener.Addr(), err)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(),
			metricsShutdownTimeout)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	})
	err := g.Wait()
	p2pdLog.Info("Metrics server stopped")
	return err
}

// promLogger routes errors encountered while gathering metrics to the log.
type promLogger struct{}

// Println logs the passed values as an error.
//
// This is part of the promhttp.Logger interface.
func (promLogger) Println(v ...any) {
	p2pdLog.Errorf("Unable to serve metrics: %s", fmt.Sprint(v...))
}
