package main

import "github.com/prometheus/client_golang/prometheus"

// - Opens by entry point (counter): OpenByKey/OpenByHash/OpenByName
// - Open errors by entry point and error kind (counter)
// - Bytes decoded by BLTE chunk mode (counter)
// - Integrity failures by error kind (counter)
// - Index records currently loaded, by bucket (gauge)
// - Open latency (histogram)

func init() {
	prometheus.MustRegister(metrics_opensByKind)
	prometheus.MustRegister(metrics_openErrorsByKind)
	prometheus.MustRegister(metrics_bytesDecodedByMode)
	prometheus.MustRegister(metrics_integrityFailuresByKind)
	prometheus.MustRegister(metrics_indexRecordsLoaded)
	prometheus.MustRegister(metrics_openLatencySeconds)
}

var metrics_opensByKind = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "casc_opens_total",
		Help: "Opens by entry point",
	},
	[]string{"kind"},
)

var metrics_openErrorsByKind = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "casc_open_errors_total",
		Help: "Open errors by entry point and error kind",
	},
	[]string{"kind", "error_kind"},
)

var metrics_bytesDecodedByMode = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "casc_bytes_decoded_total",
		Help: "Bytes decoded by BLTE chunk mode",
	},
	[]string{"mode"},
)

var metrics_integrityFailuresByKind = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "casc_integrity_failures_total",
		Help: "Integrity failures by error kind",
	},
	[]string{"where"},
)

var metrics_indexRecordsLoaded = prometheus.NewGaugeVec(
	prometheus.GaugeOpts{
		Name: "casc_index_records_loaded",
		Help: "Index records currently loaded, by bucket",
	},
	[]string{"bucket"},
)

var metrics_openLatencySeconds = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "casc_open_latency_seconds",
		Help:    "Open call latency",
		Buckets: prometheus.DefBuckets,
	},
	[]string{"kind"},
)
