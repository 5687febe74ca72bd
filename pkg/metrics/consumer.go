package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	RecordsStored = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_records_stored_total",
		Help: "Total number of records appended to segment storage",
	})

	SegmentsFinalized = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_segments_finalized_total",
		Help: "Total number of segments finalized into the offset index",
	})

	ResyncTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_resync_total",
		Help: "Total number of broker-driven RESET/REPLAY cycles started",
	})

	ReplayActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "consumer_replay_active",
		Help: "1 while a full replay is in progress, 0 otherwise",
	})

	LookupLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "consumer_offset_lookup_seconds",
		Help:    "Histogram of offset lookup latency on the query path",
		Buckets: prometheus.DefBuckets,
	})

	ProtocolErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_protocol_errors_total",
		Help: "Total number of out-of-sequence control messages ignored",
	})
)
