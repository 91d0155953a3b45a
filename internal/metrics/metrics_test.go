package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecorders(t *testing.T) {
	before := testutil.ToFloat64(bookingsTotal.WithLabelValues("conflict"))
	RecordBooking("conflict")
	assert.Equal(t, before+1, testutil.ToFloat64(bookingsTotal.WithLabelValues("conflict")))

	before = testutil.ToFloat64(slotTransitionsTotal.WithLabelValues("occupy", "ok"))
	RecordSlotTransition("occupy", "ok")
	assert.Equal(t, before+1, testutil.ToFloat64(slotTransitionsTotal.WithLabelValues("occupy", "ok")))

	before = testutil.ToFloat64(slotsGeneratedTotal)
	RecordSlotsGenerated(8)
	assert.Equal(t, before+8, testutil.ToFloat64(slotsGeneratedTotal))

	RecordHTTPRequest(http.MethodPost, "/appointments", http.StatusCreated, 12*time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(httpRequestsTotal.WithLabelValues("POST", "/appointments", "201")))
}

func TestRegisterIsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	assert.NotPanics(t, func() {
		Register(reg)
		Register(reg)
	})
}

func TestHandlerServes(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
}
