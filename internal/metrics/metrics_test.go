package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDispatch(t *testing.T) {
	before := testutil.ToFloat64(NotificationsDispatched.WithLabelValues("expo", "failed"))

	RecordDispatch("expo", "failed", 20*time.Millisecond)
	RecordDispatch("expo", "failed", 30*time.Millisecond)

	after := testutil.ToFloat64(NotificationsDispatched.WithLabelValues("expo", "failed"))
	if after-before != 2 {
		t.Errorf("counter delta = %v, want 2", after-before)
	}
}

func TestRecordHTTPRequest(t *testing.T) {
	RecordHTTPRequest("GET", "/api/v1/conversations/:id", 200, 5*time.Millisecond)

	if n := testutil.CollectAndCount(HTTPRequestDuration); n < 1 {
		t.Errorf("expected at least one series, got %d", n)
	}
}
