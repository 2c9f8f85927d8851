package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordRequest(t *testing.T) {
	RecordRequest("GET", "/v1/requests/{id}", 200, 100*time.Millisecond)
	RecordRequest("POST", "/v1/requests", 201, 50*time.Millisecond)
	RecordRequest("GET", "/v1/requests/{id}", 404, 10*time.Millisecond)
}

func TestRecordPushResult(t *testing.T) {
	before := testutil.ToFloat64(pushResults.WithLabelValues("failure", "EndpointDisabled"))

	RecordPushResult(false, "EndpointDisabled")
	RecordPushResult(true, "")

	after := testutil.ToFloat64(pushResults.WithLabelValues("failure", "EndpointDisabled"))
	if after-before != 1 {
		t.Errorf("expected failure counter to grow by 1, grew by %v", after-before)
	}
}

func TestRecordNotificationsRecorded(t *testing.T) {
	before := testutil.ToFloat64(notificationsRecorded)
	RecordNotificationsRecorded(3)
	if got := testutil.ToFloat64(notificationsRecorded) - before; got != 3 {
		t.Errorf("expected 3 records counted, got %v", got)
	}
}

func TestRecordBloodRequest(t *testing.T) {
	RecordBloodRequest("accepted")
	RecordBloodRequest("invalid")
	RecordDonorsMatched(12)
	RecordPushBatch(250 * time.Millisecond)
}

func TestGauges(t *testing.T) {
	SetSQSMessagesInFlight(10)
	SetSQSMessagesInFlight(0)
	SetDBConnections(7)
	SetBreakerState("push", 1)

	if got := testutil.ToFloat64(breakerState.WithLabelValues("push")); got != 1 {
		t.Errorf("expected breaker state 1, got %v", got)
	}
}

func TestRecordTokenHealth(t *testing.T) {
	RecordTokenHealth("cleared")
	RecordTokenHealth("ignored")
	RecordIdempotencyHit()
}

func TestHandler(t *testing.T) {
	handler := Handler()
	if handler == nil {
		t.Error("Handler should not return nil")
	}

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()

	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	if rec.Body.Len() == 0 {
		t.Error("metrics response should not be empty")
	}
}

func TestMiddlewareUsesRoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Get("/v1/requests/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	before := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/requests/{id}", "418"))

	req := httptest.NewRequest("GET", "/v1/requests/abc", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("expected status 418, got %d", rec.Code)
	}

	after := testutil.ToFloat64(httpRequestsTotal.WithLabelValues("GET", "/v1/requests/{id}", "418"))
	if after-before != 1 {
		t.Errorf("expected request counted under route pattern, delta %v", after-before)
	}
}

func TestResponseWriter_DefaultStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.Write([]byte("test"))

	if rw.status != http.StatusOK {
		t.Errorf("expected default status 200, got %d", rw.status)
	}
}

func TestResponseWriter_ExplicitStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rec, status: http.StatusOK}

	rw.WriteHeader(http.StatusNotFound)

	if rw.status != http.StatusNotFound {
		t.Errorf("expected status 404, got %d", rw.status)
	}
}
