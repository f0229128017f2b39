package distribute

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Outcome labels for the artifacts counter.
const (
	OutcomeAccepted     = "accepted"
	OutcomeInvalid      = "invalid"
	OutcomeBadSignature = "bad_signature"
	OutcomeUntrusted    = "untrusted"
	OutcomeStoreError   = "store_error"
)

type Metrics struct {
	artifacts   *prometheus.CounterVec
	streams     prometheus.Counter
	rateLimited prometheus.Counter
	bytes       prometheus.Counter
}

// NewMetrics registers the peer counters with reg. A nil reg creates
// unregistered counters.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		artifacts: f.NewCounterVec(prometheus.CounterOpts{
			Name: "signkit_peer_artifacts_total",
			Help: "Signed artifacts received by the peer, labelled by outcome",
		}, []string{"outcome"}),
		streams: f.NewCounter(prometheus.CounterOpts{
			Name: "signkit_peer_push_streams_total",
			Help: "Push streams opened against the peer",
		}),
		rateLimited: f.NewCounter(prometheus.CounterOpts{
			Name: "signkit_peer_push_rate_limited_total",
			Help: "Push streams refused by the rate limiter",
		}),
		bytes: f.NewCounter(prometheus.CounterOpts{
			Name: "signkit_peer_artifact_bytes_total",
			Help: "Bytes of accepted artifacts",
		}),
	}
}

func (m *Metrics) outcome(label string) { m.artifacts.WithLabelValues(label).Inc() }
