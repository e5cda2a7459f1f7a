package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestDeliveryMetricsExistAndIncrement(t *testing.T) {
	// Use a test label to avoid colliding with other tests
	sink := "test-sink"

	EntriesDelivered.WithLabelValues(sink).Add(3)
	if v := testutil.ToFloat64(EntriesDelivered.WithLabelValues(sink)); v < 3 {
		t.Fatalf("expected EntriesDelivered >= 3, got %v", v)
	}

	FlushErrors.WithLabelValues(sink).Inc()
	if v := testutil.ToFloat64(FlushErrors.WithLabelValues(sink)); v < 1 {
		t.Fatalf("expected FlushErrors >= 1, got %v", v)
	}

	EnqueueRejected.WithLabelValues("queue_full").Inc()
	if v := testutil.ToFloat64(EnqueueRejected.WithLabelValues("queue_full")); v < 1 {
		t.Fatalf("expected EnqueueRejected >= 1, got %v", v)
	}

	EventsCaptured.WithLabelValues("create").Inc()
	if v := testutil.ToFloat64(EventsCaptured.WithLabelValues("create")); v < 1 {
		t.Fatalf("expected EventsCaptured >= 1, got %v", v)
	}
}

func TestQueueLengthGauge(t *testing.T) {
	QueueLength.Set(7)
	if v := testutil.ToFloat64(QueueLength); v != 7 {
		t.Fatalf("expected QueueLength 7, got %v", v)
	}
	QueueLength.Set(0)
}

func TestMetricsHandler(t *testing.T) {
	if MetricsHandler() == nil {
		t.Fatal("expected a non-nil metrics handler")
	}
}
