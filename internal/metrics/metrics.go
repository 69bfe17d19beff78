// Package metrics implements Prometheus metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CapturePacketsTotal counts datagrams appended to the capture log
	CapturePacketsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemcap_capture_packets_total",
			Help: "Total number of datagrams recorded",
		},
	)

	// CaptureBytesTotal counts payload bytes appended to the capture log
	CaptureBytesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "telemcap_capture_bytes_total",
			Help: "Total payload bytes recorded",
		},
	)

	// CapturePacketsByID counts recorded datagrams by decoded packet id
	CapturePacketsByID = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemcap_capture_packets_by_id_total",
			Help: "Recorded datagrams by telemetry packet id",
		},
		[]string{"packet_id"},
	)

	// HeaderErrorsTotal counts datagrams whose header could not be decoded
	HeaderErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemcap_capture_header_errors_total",
			Help: "Total number of datagrams with an undecodable header",
		},
		[]string{"reason"},
	)

	// CaptureErrorsTotal counts per-datagram failures in the receive loop
	CaptureErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemcap_capture_errors_total",
			Help: "Total number of receive and append failures",
		},
		[]string{"stage"},
	)

	// LogFlushesTotal counts capture log flushes by outcome
	LogFlushesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemcap_log_flushes_total",
			Help: "Total number of capture log flushes",
		},
		[]string{"result"},
	)

	// LogSyncsTotal counts capture log disk syncs by outcome
	LogSyncsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemcap_log_syncs_total",
			Help: "Total number of capture log disk syncs",
		},
		[]string{"result"},
	)

	// LogPendingBytes tracks bytes buffered but not yet handed to the OS
	LogPendingBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "telemcap_log_pending_bytes",
			Help: "Bytes buffered in memory awaiting a flush",
		},
	)

	// ReplayPacketsTotal counts replayed records by outcome
	ReplayPacketsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemcap_replay_packets_total",
			Help: "Total number of replayed records",
		},
		[]string{"result"},
	)

	// ImportFramesTotal counts pcap frames read by the importer, by outcome
	ImportFramesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "telemcap_import_frames_total",
			Help: "Total number of pcap frames processed on import",
		},
		[]string{"result"},
	)

	// ReplayLagSeconds measures how late each datagram left relative to its deadline
	ReplayLagSeconds = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "telemcap_replay_lag_seconds",
			Help:    "Delay between a record's scheduled and actual send time",
			Buckets: prometheus.ExponentialBuckets(0.00001, 2, 16), // 10µs to ~0.3s
		},
	)
)

// Label values shared by the result-labelled counters.
const (
	ResultOK      = "ok"
	ResultError   = "error"
	ResultSent    = "sent"
	ResultSkipped = "skipped"
	ResultFailed  = "send_error"

	ResultImported = "imported"
	ResultFiltered = "filtered"
	ResultFragment = "fragment"

	StageReceive = "receive"
	StageAppend  = "append"

	ReasonTooShort = "too_short"
	ReasonInvalid  = "invalid"
)
