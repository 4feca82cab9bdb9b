package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistryCounters(t *testing.T) {
	r := New()
	r.Mutation("add_node", "created")
	r.Mutation("add_node", "created")
	r.Mutation("add_node", "exists")

	assert.Equal(t, 2.0, testutil.ToFloat64(r.StoreMutationsTotal.WithLabelValues("add_node", "created")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.StoreMutationsTotal.WithLabelValues("add_node", "exists")))
}

func TestRegistriesAreIndependent(t *testing.T) {
	a, b := New(), New()
	a.Mutation("delete_node", "closed")
	assert.Equal(t, 0.0, testutil.ToFloat64(b.StoreMutationsTotal.WithLabelValues("delete_node", "closed")))
}

func TestHandlerExposesMetrics(t *testing.T) {
	r := New()
	r.ObserveQuery("get_graph", time.Now())

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "landscaper_store_query_duration_seconds"))
}

func TestObserveRequest(t *testing.T) {
	r := New()
	r.ObserveRequest(http.MethodGet, "/graph", http.StatusOK, 5*time.Millisecond)
	r.ObserveRequest(http.MethodGet, "/graph", http.StatusBadRequest, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("GET", "/graph", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.HTTPRequestsTotal.WithLabelValues("GET", "/graph", "400")))
}
