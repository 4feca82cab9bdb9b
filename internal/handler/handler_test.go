package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"landscaper/internal/domain"
	"landscaper/internal/metrics"
	"landscaper/internal/repository/memory"
	"landscaper/internal/service"
	"landscaper/internal/store"
)

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

// newServer seeds a machine with one VM deployed on it from t=100
func newServer(t *testing.T, health Pinger) (http.Handler, *metrics.Registry) {
	t.Helper()
	ctx := context.Background()
	st := store.New(memory.New(), store.WithClock(func() int64 { return 1000 }))

	host, err := st.AddNode(ctx, "node1",
		domain.Attributes{"layer": "physical", "category": "compute", "type": "machine"},
		domain.Attributes{"rack": "r1", "cores": 8}, 100)
	require.NoError(t, err)
	vm, err := st.AddNode(ctx, "vm1",
		domain.Attributes{"layer": "virtual", "category": "compute", "type": "vm"},
		domain.Attributes{"vcpu": 2}, 100)
	require.NoError(t, err)
	_, err = st.AddEdge(ctx, vm, host, 100, domain.LabelDeployedOn)
	require.NoError(t, err)

	logger := zaptest.NewLogger(t)
	m := metrics.New()
	h := NewGraphHandler(service.NewGraphService(st, logger), health, logger)
	return NewRouter(h, m, logger), m
}

func get(t *testing.T, h http.Handler, target string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))
	return rec
}

func TestGetGraph(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := get(t, srv, "/graph?timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var g domain.Graph
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.ElementsMatch(t, []string{"node1", "vm1"}, g.NodeIDs())
	assert.True(t, g.HasEdge("vm1", "node1"))

	rec = get(t, srv, "/graph?timestamp=50")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Empty(t, g.Nodes)
}

func TestGetGraphDefaultsToNow(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := get(t, srv, "/graph")
	require.Equal(t, http.StatusOK, rec.Code)

	var g domain.Graph
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.Len(t, g.Nodes, 2)
}

func TestBadParameters(t *testing.T) {
	srv, _ := newServer(t, nil)

	tests := []struct {
		name   string
		target string
	}{
		{"non numeric timestamp", "/graph?timestamp=yesterday"},
		{"non numeric timeframe", "/graph?timeframe=long"},
		{"negative timestamp", "/graph?timestamp=-1"},
		{"negative timeframe", "/subgraph/vm1?timeframe=-10"},
		{"no properties", "/nodes"},
		{"only window parameters", "/nodes?timestamp=500&timeframe=10"},
		{"unknown export format", "/graph/export?format=xml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, tt.target)
			assert.Equal(t, http.StatusBadRequest, rec.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.NotEmpty(t, resp.Error)
		})
	}
}

func TestGetNode(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := get(t, srv, "/nodes/node1?timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)

	var flat map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flat))
	assert.Equal(t, "node1", flat["id"])
	assert.Equal(t, "machine", flat["type"])
	assert.Equal(t, "r1", flat["rack"])

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/nodes/node1?timestamp=50").Code)
	assert.Equal(t, http.StatusNotFound, get(t, srv, "/nodes/ghost").Code)
}

func TestGetSubgraph(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := get(t, srv, "/subgraph/vm1?timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)

	var g domain.Graph
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &g))
	assert.ElementsMatch(t, []string{"vm1", "node1"}, g.NodeIDs())

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/subgraph/ghost").Code)
}

func TestFindNodes(t *testing.T) {
	srv, _ := newServer(t, nil)

	var nodes []domain.GraphNode
	rec := get(t, srv, "/nodes?rack=r1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "node1", nodes[0].ID)
	assert.Equal(t, domain.LayerPhysical, nodes[0].Layer)

	rec = get(t, srv, "/nodes?vcpu=2")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "vm1", nodes[0].ID)

	rec = get(t, srv, "/nodes?rack=r9")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestFindNodesAtTimestamp(t *testing.T) {
	srv, _ := newServer(t, nil)

	tests := []struct {
		name  string
		query string
		want  []string
	}{
		{"live at timestamp", "/nodes?type=vm&timestamp=500", []string{"vm1"}},
		{"before creation", "/nodes?type=vm&timestamp=50", nil},
		{"window inside lifetime", "/nodes?type=vm&timestamp=100&timeframe=300", []string{"vm1"}},
		{"window starts too early", "/nodes?type=vm&timestamp=50&timeframe=300", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, srv, tt.query)
			require.Equal(t, http.StatusOK, rec.Code)

			var nodes []domain.GraphNode
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &nodes))
			var ids []string
			for _, n := range nodes {
				ids = append(ids, n.ID)
			}
			assert.Equal(t, tt.want, ids)
		})
	}

	rec := get(t, srv, "/nodes?type=vm&timestamp=500")
	var flat []map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &flat))
	require.Len(t, flat, 1)
	assert.Equal(t, "vm", flat[0]["type"])
	assert.EqualValues(t, 2, flat[0]["vcpu"])
	assert.NotContains(t, flat[0], "timestamp")

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/nodes?type=vm&timestamp=soon").Code)
}

func TestNeighbours(t *testing.T) {
	srv, _ := newServer(t, nil)

	var refs []domain.EntityRef
	rec := get(t, srv, "/nodes/node1/predecessors?timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, "vm1", refs[0].ID)

	rec = get(t, srv, "/nodes/vm1/successors?timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &refs))
	require.Len(t, refs, 1)
	assert.Equal(t, "node1", refs[0].ID)

	rec = get(t, srv, "/nodes/vm1/predecessors?timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestExportGraph(t *testing.T) {
	srv, _ := newServer(t, nil)

	rec := get(t, srv, "/graph/export?format=yaml&timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/x-yaml", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "graph.yml")
	assert.Contains(t, rec.Body.String(), "DEPLOYED_ON")

	rec = get(t, srv, "/graph/export?timestamp=150")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.True(t, json.Valid(rec.Body.Bytes()))
}

func TestHealthz(t *testing.T) {
	srv, _ := newServer(t, pinger{})
	assert.Equal(t, http.StatusOK, get(t, srv, "/healthz").Code)

	srv, _ = newServer(t, pinger{err: errors.New("database is locked")})
	rec := get(t, srv, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), "database is locked")
}

func TestMetricsEndpoint(t *testing.T) {
	srv, m := newServer(t, nil)

	get(t, srv, "/graph?timestamp=150")
	get(t, srv, "/nodes/ghost")

	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /graph", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "GET /nodes/{id}", "404")))

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "landscaper_http_requests_total"))
}

func TestRecover(t *testing.T) {
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		panic("boom")
	}), Recover(zaptest.NewLogger(t)))

	rec := get(t, h, "/anything")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestChainOrder(t *testing.T) {
	var order []string
	mark := func(name string) Middleware {
		return func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				order = append(order, name)
				next.ServeHTTP(w, r)
			})
		}
	}
	h := Chain(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
		order = append(order, "handler")
	}), mark("outer"), mark("inner"))

	get(t, h, "/")
	assert.Equal(t, []string{"outer", "inner", "handler"}, order)
}

func TestQueryValue(t *testing.T) {
	assert.Equal(t, 2.0, queryValue("2"))
	assert.Equal(t, true, queryValue("true"))
	assert.Equal(t, "r1", queryValue("r1"))
	assert.Equal(t, `"quoted"`, queryValue(`"quoted"`))
}
