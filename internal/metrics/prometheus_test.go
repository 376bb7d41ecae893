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

func TestMetrics_Recording(t *testing.T) {
	m := NewMetrics()

	m.CacheLookup("hit")
	m.CacheLookup("hit")
	m.CacheLookup("miss")
	m.UpstreamFetch("success", 120*time.Millisecond)
	m.StaleDiscarded()
	m.EntriesChanged(4)
	m.SetActiveSessions(2)
	m.IncStreamClients()
	m.IncStreamClients()
	m.DecStreamClients()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.upstreamFetches.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.staleDiscarded))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.cacheEntries))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.activeSessions))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.streamClients))
}

func TestMetrics_InstancesAreIndependent(t *testing.T) {
	a := NewMetrics()
	b := NewMetrics()

	a.StaleDiscarded()

	assert.Equal(t, 1.0, testutil.ToFloat64(a.staleDiscarded))
	assert.Equal(t, 0.0, testutil.ToFloat64(b.staleDiscarded))
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics()
	m.RecordHTTPRequest(http.MethodGet, "/api/sessions/{id}", http.StatusOK, 5*time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	assert.Contains(t, string(body), `gallery_http_requests_total{method="GET",route="/api/sessions/{id}",status="200"} 1`)
	assert.Contains(t, string(body), "go_goroutines")
}
