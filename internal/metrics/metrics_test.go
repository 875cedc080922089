package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DefaultsNamespaceWhenEmpty(t *testing.T) {
	m := New("")
	m.OrdersSubmittedTotal.WithLabelValues("XYZ", "BUY", "MARKET").Inc()
	assert.Equal(t, float64(1), testutil.ToFloat64(m.OrdersSubmittedTotal.WithLabelValues("XYZ", "BUY", "MARKET")))
}

func TestHTTPMiddleware_RecordsStatusAndCount(t *testing.T) {
	m := New("metrics_test_mw")
	handler := HTTPMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))

	req := httptest.NewRequest(http.MethodPost, "/orders", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodPost, "/orders", "201")))
}

func TestHTTPMiddleware_DefaultsStatusToOKWhenHandlerNeverCallsWriteHeader(t *testing.T) {
	m := New("metrics_test_default_status")
	handler := HTTPMiddleware(m)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, float64(1), testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/health", "200")))
}
