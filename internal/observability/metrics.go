package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	DriversOnline = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "taxi_dispatch", Name: "drivers_online", Help: "Number of drivers with a live location"})
	RidesActive   = promauto.NewGauge(prometheus.GaugeOpts{Namespace: "taxi_dispatch", Name: "rides_active", Help: "Rides in a non-terminal state"})

	LocationUpdatesTotal = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "location_updates_total", Help: "Driver location updates accepted"})
	StaleEvictionsTotal  = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "stale_evictions_total", Help: "Driver locations evicted by the staleness sweep"})
	MatchQueriesTotal    = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "match_queries_total", Help: "Proximity queries served"})

	StoreWriteFailures = promauto.NewCounter(prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "store_write_failures_total", Help: "Durable-store writes that failed after retries"})

	WSConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{Namespace: "taxi_dispatch", Name: "ws_connections", Help: "Live WebSocket connections"},
		[]string{"role"},
	)

	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{Namespace: "taxi_dispatch", Name: "http_requests_total", Help: "Total HTTP requests handled"},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "taxi_dispatch",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency distribution",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
