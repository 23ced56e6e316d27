package util

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ConfirmationsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_confirmations_total",
		Help: "Total number of payment confirmation requests",
	})

	ConfirmationsAcceptedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_confirmations_accepted_total",
		Help: "Total number of confirmations that activated an enrollment",
	})

	ConfirmationsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_confirmations_rejected_total",
		Help: "Total number of rejected confirmations",
	}, []string{"reason"})

	ConfirmationReplaysTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "payment_confirmation_replays_total",
		Help: "Total number of duplicate confirmations answered idempotently",
	})

	ReconciliationMismatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_reconciliation_mismatch_total",
		Help: "Total number of amount/currency mismatches against the provider",
	}, []string{"field"})

	EnrollmentsActivatedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "enrollments_activated_total",
		Help: "Total number of course enrollments activated",
	})

	ProviderTokenRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "provider_token_requests_total",
		Help: "Total number of provider token-exchange calls",
	}, []string{"outcome"})

	ProviderVerifyLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "provider_verify_latency_seconds",
		Help:    "Latency of provider order-lookup calls",
		Buckets: prometheus.DefBuckets,
	})

	ResumptionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_resumptions_total",
		Help: "Total number of pending-payment resumption attempts",
	}, []string{"outcome"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
)
