package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/metrics"
	"landscaper/internal/service"
)

// Query parameters shared by the temporal endpoints
const (
	paramTimestamp = "timestamp"
	paramTimeframe = "timeframe"
	paramFormat    = "format"
)

// Pinger reports whether the backing store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

// GraphHandler handles graph API requests
type GraphHandler struct {
	svc    *service.GraphService
	health Pinger
	logger *zap.Logger
}

// NewGraphHandler creates a new graph handler. health may be nil, in which
// case /healthz always reports ok.
func NewGraphHandler(svc *service.GraphService, health Pinger, logger *zap.Logger) *GraphHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphHandler{svc: svc, health: health, logger: logger}
}

// ErrorResponse is the body of every non-2xx reply
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// Routes registers the query API on mux
func (h *GraphHandler) Routes(mux *http.ServeMux) {
	mux.HandleFunc("GET /graph", h.GetGraph)
	mux.HandleFunc("GET /graph/export", h.ExportGraph)
	mux.HandleFunc("GET /subgraph/{id}", h.GetSubgraph)
	mux.HandleFunc("GET /nodes", h.FindNodes)
	mux.HandleFunc("GET /nodes/{id}", h.GetNode)
	mux.HandleFunc("GET /nodes/{id}/predecessors", h.Predecessors)
	mux.HandleFunc("GET /nodes/{id}/successors", h.Successors)
	mux.HandleFunc("GET /healthz", h.Healthz)
}

// GetGraph returns every node and edge live through the requested window
func (h *GraphHandler) GetGraph(w http.ResponseWriter, r *http.Request) {
	ts, window, ok := h.window(w, r)
	if !ok {
		return
	}
	g, err := h.svc.GetGraph(r.Context(), ts, window)
	if err != nil {
		h.fail(w, "Failed to get graph", err)
		return
	}
	h.writeJSON(w, g, http.StatusOK)
}

// ExportGraph streams the graph in the requested format as an attachment
func (h *GraphHandler) ExportGraph(w http.ResponseWriter, r *http.Request) {
	ts, window, ok := h.window(w, r)
	if !ok {
		return
	}
	format := r.URL.Query().Get(paramFormat)

	// Render first so a failure can still produce a JSON error
	var buf bytes.Buffer
	if err := h.svc.Export(r.Context(), &buf, format, ts, window); err != nil {
		h.fail(w, "Failed to export graph", err)
		return
	}

	switch format {
	case "yaml", "yml":
		w.Header().Set("Content-Type", "application/x-yaml")
		w.Header().Set("Content-Disposition", "attachment; filename=graph.yml")
	default:
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Disposition", "attachment; filename=graph.json")
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(buf.Bytes()); err != nil {
		h.logger.Warn("failed to write export", zap.Error(err))
	}
}

// GetSubgraph returns the part of the graph reachable from a node
func (h *GraphHandler) GetSubgraph(w http.ResponseWriter, r *http.Request) {
	ts, window, ok := h.window(w, r)
	if !ok {
		return
	}
	g, err := h.svc.GetSubgraph(r.Context(), r.PathValue("id"), ts, window)
	if err != nil {
		h.fail(w, "Failed to get subgraph", err)
		return
	}
	h.writeJSON(w, g, http.StatusOK)
}

// GetNode returns a single node merged with its state at the timestamp
func (h *GraphHandler) GetNode(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.timestamp(w, r)
	if !ok {
		return
	}
	node, err := h.svc.GetNode(r.Context(), r.PathValue("id"), ts)
	if err != nil {
		h.fail(w, "Failed to get node", err)
		return
	}
	h.writeJSON(w, node, http.StatusOK)
}

// FindNodes returns the nodes live through the window whose identity or
// state matches every other query parameter
func (h *GraphHandler) FindNodes(w http.ResponseWriter, r *http.Request) {
	ts, window, ok := h.window(w, r)
	if !ok {
		return
	}
	props := make(domain.Attributes)
	for key, values := range r.URL.Query() {
		if len(values) == 0 || key == paramTimestamp || key == paramTimeframe {
			continue
		}
		props[key] = queryValue(values[0])
	}
	nodes, err := h.svc.FindNodes(r.Context(), props, ts, window)
	if err != nil {
		h.fail(w, "Failed to find nodes", err)
		return
	}
	h.writeJSON(w, nodes, http.StatusOK)
}

// Predecessors lists the nodes with a relationship into the node
func (h *GraphHandler) Predecessors(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.timestamp(w, r)
	if !ok {
		return
	}
	refs, err := h.svc.Predecessors(r.Context(), r.PathValue("id"), ts)
	if err != nil {
		h.fail(w, "Failed to get predecessors", err)
		return
	}
	h.writeJSON(w, refs, http.StatusOK)
}

// Successors lists the nodes the node has a relationship to
func (h *GraphHandler) Successors(w http.ResponseWriter, r *http.Request) {
	ts, ok := h.timestamp(w, r)
	if !ok {
		return
	}
	refs, err := h.svc.Successors(r.Context(), r.PathValue("id"), ts)
	if err != nil {
		h.fail(w, "Failed to get successors", err)
		return
	}
	h.writeJSON(w, refs, http.StatusOK)
}

// Healthz reports whether the store answers
func (h *GraphHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	if h.health != nil {
		if err := h.health.Ping(r.Context()); err != nil {
			h.writeError(w, "Store unavailable", err.Error(), http.StatusServiceUnavailable)
			return
		}
	}
	h.writeJSON(w, map[string]string{"status": "ok"}, http.StatusOK)
}

// window reads timestamp and timeframe, defaulting to now and zero
func (h *GraphHandler) window(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	ts, ok := h.timestamp(w, r)
	if !ok {
		return 0, 0, false
	}
	window, err := intParam(r, paramTimeframe, 0)
	if err != nil {
		h.writeError(w, "Invalid timeframe", err.Error(), http.StatusBadRequest)
		return 0, 0, false
	}
	return ts, window, true
}

func (h *GraphHandler) timestamp(w http.ResponseWriter, r *http.Request) (int64, bool) {
	ts, err := intParam(r, paramTimestamp, h.svc.Now())
	if err != nil {
		h.writeError(w, "Invalid timestamp", err.Error(), http.StatusBadRequest)
		return 0, false
	}
	return ts, true
}

func intParam(r *http.Request, name string, def int64) (int64, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// queryValue lets numeric and boolean filters match JSON-normalized
// attributes. Anything else is compared as a string.
func queryValue(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err == nil {
		switch v.(type) {
		case float64, bool:
			return v
		}
	}
	return raw
}

// fail maps domain errors onto status codes
func (h *GraphHandler) fail(w http.ResponseWriter, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		h.writeError(w, "Not found", err.Error(), http.StatusNotFound)
	case errors.Is(err, domain.ErrMalformedInput):
		h.writeError(w, msg, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		h.logger.Warn(msg, zap.Error(err))
		h.writeError(w, msg, err.Error(), http.StatusServiceUnavailable)
	default:
		h.logger.Error(msg, zap.Error(err))
		h.writeError(w, msg, err.Error(), http.StatusInternalServerError)
	}
}

func (h *GraphHandler) writeJSON(w http.ResponseWriter, data any, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("failed to encode JSON", zap.Error(err))
	}
}

func (h *GraphHandler) writeError(w http.ResponseWriter, error, details string, statusCode int) {
	h.writeJSON(w, ErrorResponse{Error: error, Details: details}, statusCode)
}

// NewRouter builds the full query API with /metrics and middleware applied.
// m may be nil to serve without metrics.
func NewRouter(h *GraphHandler, m *metrics.Registry, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	h.Routes(mux)

	mws := []Middleware{Recover(logger), Logger(logger)}
	if m != nil {
		mux.Handle("GET /metrics", m.Handler())
		mws = append(mws, Metrics(m))
	}
	return Chain(mux, mws...)
}
