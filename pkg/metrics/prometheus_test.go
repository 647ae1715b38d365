package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestCollector_NilIsSafe(t *testing.T) {
	var m *Collector

	assert.NotPanics(t, func() {
		m.RecordAllocation("priority", ResultSuccess)
		m.RecordReservationConflict()
		m.RecordSettlement("success")
		m.RecordFailover()
		m.ObserveGateway(time.Second, true)
		m.SetAccountBalance(1, 10)
	})
	assert.Nil(t, m.Registry())
}

func TestCollector_Counts(t *testing.T) {
	m := NewCollector()

	m.RecordAllocation("priority", ResultSuccess)
	m.RecordAllocation("priority", ResultSuccess)
	m.RecordAllocation("threshold", ResultNoFunds)
	m.RecordReservationConflict()
	m.SetAccountBalance(7, 123.5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.allocations.WithLabelValues("priority", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.allocations.WithLabelValues("threshold", ResultNoFunds)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reservationConflicts))
	assert.Equal(t, 123.5, testutil.ToFloat64(m.accountBalance.WithLabelValues("7")))
}

func TestCollector_Handler(t *testing.T) {
	m := NewCollector()
	m.RecordSettlement("failed")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), `proxypay_settlements_total{status="failed"} 1`))
}
