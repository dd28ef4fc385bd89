// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TestMetricsHandler ensures the metrics endpoint serves the gathered metrics
// and that the profiling endpoints are only served when enabled.
func TestMetricsHandler(t *testing.T) {
	registry := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "p2pd_test_total",
		Help: "Test counter.",
	})
	registry.MustRegister(counter)
	counter.Add(3)

	tests := []struct {
		name    string
		profile bool
		path    string
		status  int
		body    string
	}{{
		name:   "metrics",
		path:   "/metrics",
		status: http.StatusOK,
		body:   "p2pd_test_total 3",
	}, {
		name:   "root redirect",
		path:   "/",
		status: http.StatusSeeOther,
	}, {
		name:   "profiling disabled",
		path:   "/debug/pprof/",
		status: http.StatusNotFound,
	}, {
		name:    "profiling enabled",
		profile: true,
		path:    "/debug/pprof/",
		status:  http.StatusOK,
		body:    "goroutine",
	}, {
		name:   "unknown path",
		path:   "/bogus",
		status: http.StatusNotFound,
	}}

	for _, test := range tests {
		handler := newMetricsHandler(registry, test.profile)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, test.path,
			nil))
		if rec.Code != test.status {
			t.Errorf("%q: mismatched status -- got %d, want %d", test.name,
				rec.Code, test.status)
			continue
		}
		if !strings.Contains(rec.Body.String(), test.body) {
			t.Errorf("%q: body does not contain %q", test.name, test.body)
		}
	}
}

// TestMetricsServerRun ensures the metrics server serves requests until its
// context is canceled.
func TestMetricsServerRun(t *testing.T) {
	s, err := newMetricsServer([]string{"127.0.0.1:0"}, false)
	if err != nil {
		t.Fatalf("unable to create metrics server: %v", err)
	}
	addrs := s.Addrs()
	if len(addrs) != 1 {
		t.Fatalf("mismatched listener count -- got %d, want 1", len(addrs))
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	client := http.Client{Timeout: time.Second * 10}
	resp, err := client.Get("http://" + addrs[0].String() + "/metrics")
	if err != nil {
		cancel()
		t.Fatalf("unable to get metrics: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusOK {
		cancel()
		t.Fatalf("unexpected metrics response %d: %v", resp.StatusCode, err)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Errorf("metrics response missing runtime metrics")
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected run error: %v", err)
		}
	case <-time.After(time.Second * 10):
		t.Fatal("timeout waiting for metrics server to stop")
	}
	if _, err := client.Get("http://" + addrs[0].String() + "/metrics"); err == nil {
		t.Fatal("metrics server still serving after shutdown")
	}
}
