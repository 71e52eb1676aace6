package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCountersAndHandler(t *testing.T) {
	m := New()

	m.LoansIssued.Inc()
	m.LoansIssued.Inc()
	m.Rejections.WithLabelValues("issue", "out_of_stock").Inc()
	m.FinesAssessed.Add(15)
	m.CatalogTitles.Set(4)
	m.ObserveRequest(http.MethodGet, "/books/search", http.StatusOK, 20*time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.LoansIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejections.WithLabelValues("issue", "out_of_stock")))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.FinesAssessed))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "lending_loans_issued_total 2")
	assert.Contains(t, string(body), "lending_catalog_titles 4")
	assert.Contains(t, string(body), "lending_catalog_copies 0")
	assert.Contains(t, string(body), `http_request_duration_seconds_count{method="GET",route="/books/search",status="200"} 1`)
}

func TestNewIsolatedRegistries(t *testing.T) {
	// Each instance owns its registry, so building two must not panic on duplicate registration
	a := New()
	b := New()
	a.LoansReturned.Inc()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.LoansReturned))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.LoansReturned))
}
