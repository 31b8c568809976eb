// Copyright 2026 © The Kairos Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jllopis/kairos-cascade/pkg/resilience"
)

// BreakerSource exposes breaker snapshots. *resilience.BreakerRegistry satisfies it.
type BreakerSource interface {
	Snapshot() []resilience.CircuitBreakerStats
}

// BreakerCollector exports breaker counters as Prometheus metrics on scrape.
type BreakerCollector struct {
	source BreakerSource

	state       *prometheus.Desc
	failures    *prometheus.Desc
	successes   *prometheus.Desc
	timesOpened *prometheus.Desc
}

// NewBreakerCollector builds a collector reading from source at scrape time.
func NewBreakerCollector(source BreakerSource) *BreakerCollector {
	labels := []string{"breaker"}
	return &BreakerCollector{
		source: source,
		state: prometheus.NewDesc(
			"cascade_circuitbreaker_state",
			"Circuit breaker state (0=open, 1=half-open, 2=closed).",
			labels, nil,
		),
		failures: prometheus.NewDesc(
			"cascade_circuitbreaker_consecutive_failures",
			"Consecutive failures recorded since the last success or reset.",
			labels, nil,
		),
		successes: prometheus.NewDesc(
			"cascade_circuitbreaker_successes_total",
			"Successful calls through the breaker.",
			labels, nil,
		),
		timesOpened: prometheus.NewDesc(
			"cascade_circuitbreaker_opened_total",
			"Number of times the breaker transitioned to open.",
			labels, nil,
		),
	}
}

// Describe implements prometheus.Collector.
func (c *BreakerCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.state
	ch <- c.failures
	ch <- c.successes
	ch <- c.timesOpened
}

// Collect implements prometheus.Collector.
func (c *BreakerCollector) Collect(ch chan<- prometheus.Metric) {
	if c.source == nil {
		return
	}
	for _, stats := range c.source.Snapshot() {
		ch <- prometheus.MustNewConstMetric(c.state, prometheus.GaugeValue,
			float64(BreakerStateValue(stats.State)), stats.Name)
		ch <- prometheus.MustNewConstMetric(c.failures, prometheus.GaugeValue,
			float64(stats.Failures), stats.Name)
		ch <- prometheus.MustNewConstMetric(c.successes, prometheus.CounterValue,
			float64(stats.Successes), stats.Name)
		ch <- prometheus.MustNewConstMetric(c.timesOpened, prometheus.CounterValue,
			float64(stats.TimesOpened), stats.Name)
	}
}
