// Package metrics holds the provider's Prometheus instruments.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	RequestTokensIssuedTotal prometheus.Counter
	TokensAuthorizedTotal    prometheus.Counter
	TokensExchangedTotal     prometheus.Counter
	ProtectedRequestsTotal   *prometheus.CounterVec
)

// Register initializes the provider metrics and registers them with reg. Call
// once at startup; a nil registerer leaves the instruments usable but
// unexported.
func Register(reg prometheus.Registerer) {
	RequestTokensIssuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openauth_request_tokens_issued_total",
		Help: "Total number of temporary credentials issued.",
	})
	TokensAuthorizedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openauth_tokens_authorized_total",
		Help: "Total number of request tokens a user authorized.",
	})
	TokensExchangedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "openauth_tokens_exchanged_total",
		Help: "Total number of request tokens exchanged for access tokens.",
	})
	ProtectedRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "openauth_protected_requests_total",
		Help: "Protected-resource requests by validation outcome.",
	}, []string{"outcome"})

	if reg == nil {
		return
	}
	for _, c := range []prometheus.Collector{
		RequestTokensIssuedTotal,
		TokensAuthorizedTotal,
		TokensExchangedTotal,
		ProtectedRequestsTotal,
	} {
		if err := reg.Register(c); err != nil {
			log.Warn().Err(err).Msg("Failed to register metric")
		}
	}
}

// Inc increments the counter when metrics are initialized. Library use of the
// provider without Register stays metric-free.
func Inc(c prometheus.Counter) {
	if c != nil {
		c.Inc()
	}
}

// IncOutcome counts a protected-resource validation outcome.
func IncOutcome(outcome string) {
	if ProtectedRequestsTotal != nil {
		ProtectedRequestsTotal.WithLabelValues(outcome).Inc()
	}
}
