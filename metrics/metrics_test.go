package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_BasicRegistration(t *testing.T) {
	if AdmissionsTotal == nil {
		t.Fatalf("AdmissionsTotal is nil")
	}
	if AdmissionWaitDuration == nil {
		t.Fatalf("AdmissionWaitDuration is nil")
	}
	if QueuePosition == nil {
		t.Fatalf("QueuePosition is nil")
	}
	if HandoffOutcomesTotal == nil {
		t.Fatalf("HandoffOutcomesTotal is nil")
	}
	if AckRoundTrip == nil {
		t.Fatalf("AckRoundTrip is nil")
	}
}

func TestMetrics_AdmissionsTotal(t *testing.T) {
	tests := []struct {
		name  string
		label string
		incN  int
	}{
		{name: "ready label", label: "ready", incN: 1},
		{name: "failed label", label: "failed", incN: 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := testutil.ToFloat64(AdmissionsTotal.WithLabelValues(tt.label))
			for i := 0; i < tt.incN; i++ {
				AdmissionsTotal.WithLabelValues(tt.label).Inc()
			}
			after := testutil.ToFloat64(AdmissionsTotal.WithLabelValues(tt.label))
			diff := after - before
			if diff != float64(tt.incN) {
				t.Fatalf("counter diff mismatch\nexpected: %#v\nactual: %#v", float64(tt.incN), diff)
			}
		})
	}
}

func TestMetrics_HandoffOutcomesTotal(t *testing.T) {
	before := testutil.ToFloat64(HandoffOutcomesTotal.WithLabelValues("payment", "success"))
	HandoffOutcomesTotal.WithLabelValues("payment", "success").Inc()
	after := testutil.ToFloat64(HandoffOutcomesTotal.WithLabelValues("payment", "success"))
	if after-before != 1 {
		t.Fatalf("counter diff mismatch\nexpected: 1\nactual: %#v", after-before)
	}
}

func TestMetrics_QueuePosition(t *testing.T) {
	QueuePosition.Set(42)
	if got := testutil.ToFloat64(QueuePosition); got != 42 {
		t.Fatalf("gauge mismatch\nexpected: 42\nactual: %#v", got)
	}
}

func TestMetrics_Histograms(t *testing.T) {
	tests := []struct {
		name    string
		observe float64
	}{
		{name: "small", observe: 0.1},
		{name: "large", observe: 3.2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			AdmissionWaitDuration.Observe(tt.observe)
			AckRoundTrip.Observe(tt.observe)
			assert.Greater(t, testutil.CollectAndCount(AdmissionWaitDuration), 0)
			assert.Greater(t, testutil.CollectAndCount(AckRoundTrip), 0)
		})
	}
}
