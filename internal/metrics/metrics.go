// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	VerifyRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipjar_verify_requests_total",
			Help: "Donation verification requests by outcome",
		},
		[]string{"outcome", "path"},
	)

	LedgerVerifyDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "tipjar_ledger_verify_duration_seconds",
		Help:    "Time spent fetching and checking donation transactions",
		Buckets: prometheus.DefBuckets,
	})

	MPCSubmissions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipjar_mpc_submissions_total",
			Help: "Encrypted amount submissions by result (queued or fallback)",
		},
		[]string{"result"},
	)

	ReceiptWrites = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tipjar_receipt_writes_total",
			Help: "On-chain receipt writes by result",
		},
		[]string{"result"},
	)

	RateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "tipjar_rate_limited_requests_total",
		Help: "Requests rejected by the per-client rate limiter",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tipjar_http_request_duration_seconds",
			Help:    "HTTP request latency by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route", "status"},
	)
)

func Handler() http.Handler {
	return promhttp.Handler()
}
