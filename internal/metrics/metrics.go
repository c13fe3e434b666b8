// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics registers the prometheus counters/gauges the Indexer
// Loop (C6) updates every tick (SPEC_FULL.md
// §4.6.4). Registered directly against prometheus/client_golang rather
// than through the teacher's geth-metrics-registry adapter — see
// DESIGN.md for why that adapter doesn't fit here.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the per-process metric handles, labeled by chain.
type Metrics struct {
	TicksTotal          *prometheus.CounterVec
	DecodeErrorsTotal   *prometheus.CounterVec
	SourceFailuresTotal *prometheus.CounterVec
	RollbacksTotal      *prometheus.CounterVec
	WatermarkHeight     *prometheus.GaugeVec
	WindowSize          *prometheus.GaugeVec
}

// New constructs and registers all metrics against reg. Pass
// prometheus.NewRegistry() in tests to avoid collisions with the default
// global registry.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TicksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_ticks_total",
			Help: "Total number of indexer ticks per chain.",
		}, []string{"chain"}),
		DecodeErrorsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_decode_errors_total",
			Help: "Total number of logs that failed to decode per chain.",
		}, []string{"chain"}),
		SourceFailuresTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_source_failures_total",
			Help: "Total number of failed ticks per chain.",
		}, []string{"chain"}),
		RollbacksTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "indexer_rollbacks_total",
			Help: "Total number of reorg rollbacks performed per chain.",
		}, []string{"chain"}),
		WatermarkHeight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_watermark_height",
			Help: "Current watermark height per chain.",
		}, []string{"chain"}),
		WindowSize: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "indexer_window_size",
			Help: "Current number of entries held in the recent window per chain.",
		}, []string{"chain"}),
	}
	reg.MustRegister(m.TicksTotal, m.DecodeErrorsTotal, m.SourceFailuresTotal, m.RollbacksTotal, m.WatermarkHeight, m.WindowSize)
	return m
}
