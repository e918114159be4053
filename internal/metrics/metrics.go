// Package metrics holds the process-wide Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is served on /metrics in place of the global default registry.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	AuthLogins = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "auth_logins_total",
		Help: "Login attempts by result.",
	}, []string{"result"})

	OTPIssued = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_issued_total",
		Help: "One-time codes issued by purpose.",
	}, []string{"purpose"})

	OTPVerifications = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "otp_verifications_total",
		Help: "One-time code verifications by purpose and result.",
	}, []string{"purpose", "result"})

	GatekeeperRejections = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "gatekeeper_rejections_total",
		Help: "Requests turned away by the gatekeeper.",
	}, []string{"reason"})

	RateLimited = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "rate_limited_total",
		Help: "Requests rejected by the rate limiter, by route.",
	}, []string{"route"})

	JanitorDeleted = factory.NewCounterVec(prometheus.CounterOpts{
		Name: "janitor_rows_deleted_total",
		Help: "Rows removed by the janitor, by job.",
	}, []string{"job"})

	RequestDuration = factory.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "HTTP request latency.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "status"})
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
}

// Handler serves the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}
