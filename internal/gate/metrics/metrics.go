// Package metrics provides observability for the gate module.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the gate's instruments. All methods are nil-safe so wiring
// can omit metrics in tests.
type Metrics struct {
	TokensIssued     prometheus.Counter
	TokensConsumed   prometheus.Counter
	Denials          *prometheus.CounterVec
	AuthorizeLatency prometheus.Histogram
	AnomalyScore     prometheus.Gauge
	Quarantines      prometheus.Counter
	CascadeRevoked   prometheus.Counter
}

// New registers all gate metrics on the default registry.
func New() *Metrics {
	return &Metrics{
		TokensIssued: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_tokens_issued_total",
			Help: "Total consent tokens issued",
		}),
		TokensConsumed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_tokens_consumed_total",
			Help: "Total consent tokens successfully consumed",
		}),
		Denials: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "consentgate_denials_total",
			Help: "Total denials by reason code",
		}, []string{"reason"}),
		AuthorizeLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "consentgate_authorize_duration_seconds",
			Help:    "Duration of authorize calls",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025},
		}),
		AnomalyScore: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "consentgate_anomaly_score",
			Help: "Current anomaly score for the protected scope",
		}),
		Quarantines: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_quarantines_total",
			Help: "Total containment quarantine transitions",
		}),
		CascadeRevoked: promauto.NewCounter(prometheus.CounterOpts{
			Name: "consentgate_cascade_revoked_tokens_total",
			Help: "Total tokens revoked by containment cascades",
		}),
	}
}

// RecordIssued counts a successful issuance.
func (m *Metrics) RecordIssued() {
	if m != nil {
		m.TokensIssued.Inc()
	}
}

// RecordConsumed counts a successful consumption.
func (m *Metrics) RecordConsumed() {
	if m != nil {
		m.TokensConsumed.Inc()
	}
}

// RecordDenial counts a deny by reason code.
func (m *Metrics) RecordDenial(reason string) {
	if m != nil {
		m.Denials.WithLabelValues(reason).Inc()
	}
}

// ObserveAuthorizeLatency records the duration of an authorize call.
func (m *Metrics) ObserveAuthorizeLatency(d time.Duration) {
	if m != nil {
		m.AuthorizeLatency.Observe(d.Seconds())
	}
}

// SetAnomalyScore publishes the current risk score.
func (m *Metrics) SetAnomalyScore(score float64) {
	if m != nil {
		m.AnomalyScore.Set(score)
	}
}

// RecordQuarantine counts a containment transition and the tokens it
// cascade-revoked.
func (m *Metrics) RecordQuarantine(revoked int) {
	if m != nil {
		m.Quarantines.Inc()
		m.CascadeRevoked.Add(float64(revoked))
	}
}
