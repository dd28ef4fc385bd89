// Copyright (c) 2025 The p2pd developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package p2p

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	prometheusConnectResults  *prometheus.CounterVec
	prometheusChannels        prometheus.Gauge
	prometheusInboundAccepted prometheus.Counter
	prometheusInboundRejected prometheus.Counter
	prometheusSessions        *prometheus.GaugeVec
)

var prometheusMetricsInitOnce sync.Once

// initPrometheusMetrics registers the package metrics with the default
// registry.  It is called by every constructor and only registers once.
func initPrometheusMetrics() {
	prometheusMetricsInitOnce.Do(func() {
		prometheusConnectResults = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "p2pd",
				Subsystem: "network",
				Name:      "connect_results_total",
				Help:      "Number of completed connection attempts by result",
			},
			[]string{"result"},
		)

		prometheusChannels = promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "p2pd",
				Subsystem: "network",
				Name:      "channels",
				Help:      "Number of channels registered with the connection pool",
			},
		)

		prometheusInboundAccepted = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "p2pd",
				Subsystem: "network",
				Name:      "inbound_accepted_total",
				Help:      "Number of accepted inbound connections",
			},
		)

		prometheusInboundRejected = promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: "p2pd",
				Subsystem: "network",
				Name:      "inbound_rejected_total",
				Help:      "Number of inbound connections dropped due to the inbound limit",
			},
		)

		prometheusSessions = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "p2pd",
				Subsystem: "network",
				Name:      "sessions",
				Help:      "Number of running sessions by kind",
			},
			[]string{"kind"},
		)
	})
}
