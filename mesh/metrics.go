package mesh

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for registrations run by the service and CLI.
type Metrics struct {
	// Finished registrations by terminal state and distance metric
	Registrations *prometheus.CounterVec

	// Accepted transforms per registration
	Iterations prometheus.Histogram

	// Wall time per registration, including loading
	Duration prometheus.Histogram

	// Non-fatal estimator warnings
	NumericalWarnings prometheus.Counter
}

// NewMetrics registers the registration metrics against reg.
// A nil reg uses the default Prometheus registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		Registrations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "meshalign_registrations_total",
			Help: "Total finished registrations by terminal state and distance metric",
		}, []string{"state", "metric"}), // state: "converged", "exhausted", "failed"

		Iterations: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshalign_registration_iterations",
			Help:    "Accepted transforms per registration",
			Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
		}),

		Duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "meshalign_registration_duration_seconds",
			Help:    "Duration of a registration including input loading",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		NumericalWarnings: factory.NewCounter(prometheus.CounterOpts{
			Name: "meshalign_numerical_warnings_total",
			Help: "Numerical instability warnings raised by the transform estimators",
		}),
	}
}

// ObserveRecord records a finished registration.
func (m *Metrics) ObserveRecord(rec *RegistrationRecord) {
	if m == nil || rec == nil {
		return
	}
	metric := string(rec.Config.DistanceMetric)
	if metric == "" {
		metric = string(PointToPoint)
	}
	m.Registrations.WithLabelValues(string(StatusOf(rec)), metric).Inc()
	m.Duration.Observe((time.Duration(rec.DurationMs) * time.Millisecond).Seconds())
	if rec.Error == "" {
		m.Iterations.Observe(float64(rec.Iterations))
	}
	m.NumericalWarnings.Add(float64(len(rec.Warnings)))
}
