// Package metrics exposes Prometheus instrumentation for the payment
// engine. Collectors are registered at init via promauto and served on
// /metrics by the API server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// VerificationsTotal counts verification outcomes by reason
	// ("ok", "reverted", "not_found", ...).
	VerificationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_verifications_total",
			Help: "Total number of transfer verifications by outcome",
		},
		[]string{"outcome"},
	)

	// PaymentsRecorded counts ledger writes, split by whether the call
	// created a row or hit an existing one.
	PaymentsRecorded = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_payments_recorded_total",
			Help: "Total number of payment record attempts",
		},
		[]string{"result"},
	)

	// AccessChecks counts access resolutions by decision.
	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_access_checks_total",
			Help: "Total number of access checks",
		},
		[]string{"granted"},
	)

	// ScanChunksTotal counts scanner chunk outcomes.
	ScanChunksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_scan_chunks_total",
			Help: "Total number of scanned block chunks by outcome",
		},
		[]string{"outcome"},
	)

	// ScanCheckpointBlock tracks the last fully scanned block per recipient.
	ScanCheckpointBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "paygate_scan_checkpoint_block",
			Help: "Last fully scanned block number per recipient wallet",
		},
		[]string{"recipient"},
	)

	// RPCLatency tracks chain RPC call latency.
	RPCLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "paygate_rpc_latency_seconds",
			Help:    "Chain RPC call latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method"},
	)

	// RPCErrorsTotal counts chain RPC failures.
	RPCErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "paygate_rpc_errors_total",
			Help: "Total number of chain RPC errors",
		},
		[]string{"method"},
	)
)
