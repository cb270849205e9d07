package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	AdmissionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_admissions_total",
			Help: "Admission activations by terminal outcome",
		},
		[]string{"outcome"}, // ready|failed
	)

	AdmissionWaitDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gate_admission_wait_seconds",
			Help:    "Time from activation to admission",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12),
		},
	)

	QueuePosition = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_queue_position",
			Help: "Latest accepted queue position",
		},
	)

	HandoffOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_handoff_outcomes_total",
			Help: "Popup handoff outcomes",
		},
		[]string{"protocol", "outcome"}, // oauth|payment, success|error|fail|cancelled|blocked
	)

	AckRoundTrip = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "gate_payment_ack_roundtrip_seconds",
			Help:    "Time from publishing a payment outcome to receiving the opener ack",
			Buckets: prometheus.DefBuckets,
		},
	)
)

func init() {
	prometheus.MustRegister(AdmissionsTotal)
	prometheus.MustRegister(AdmissionWaitDuration)
	prometheus.MustRegister(QueuePosition)
	prometheus.MustRegister(HandoffOutcomesTotal)
	prometheus.MustRegister(AckRoundTrip)
}

func Register(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}
