package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	UpstreamRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_upstream_requests_total",
		Help: "Upstream brokerage calls by operation and outcome.",
	}, []string{"op", "status"})

	QuoteChunkFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "gateway_quote_chunk_failures_total",
		Help: "Quote batch chunks that failed and were excluded from results.",
	})

	OrdersChecked = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_orders_checked_total",
		Help: "Order check outcomes.",
	}, []string{"status"})

	OrdersPlaced = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "gateway_orders_placed_total",
		Help: "Order placement outcomes.",
	}, []string{"status"})

	SnapshotDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "gateway_snapshot_duration_seconds",
		Help:    "Wall time of one full index snapshot.",
		Buckets: prometheus.DefBuckets,
	})
)

func Handler() http.Handler {
	return promhttp.Handler()
}
