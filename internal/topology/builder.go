package topology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"go.uber.org/zap"

	"landscaper/internal/domain"
)

// Builder converts hwloc documents into host graphs
type Builder struct {
	logger *zap.Logger
	filter []string
}

// BuilderOption configures a Builder
type BuilderOption func(*Builder)

// WithFilter removes nodes of the given types after the walk, reconnecting
// their neighbours.
func WithFilter(types ...string) BuilderOption {
	return func(b *Builder) {
		for _, t := range types {
			if t = Sanitize(t, false); t != "" {
				b.filter = append(b.filter, t)
			}
		}
	}
}

// NewBuilder creates a builder
func NewBuilder(logger *zap.Logger, opts ...BuilderOption) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Builder{logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Build parses an hwloc document for host. cpuinfo is optional; when it is
// nil or cannot be parsed the graph is returned without enrichment.
func (b *Builder) Build(host string, hwloc io.Reader, cpuinfo io.Reader) (*Graph, error) {
	if strings.TrimSpace(host) == "" {
		return nil, fmt.Errorf("%w: empty host name", domain.ErrMalformedInput)
	}
	topo, err := parseHWLoc(hwloc)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", host, err)
	}

	t := newTraversal(host)
	for i := range topo.Objects {
		t.walk(&topo.Objects[i], "")
	}
	g := t.graph

	if cpuinfo != nil {
		procs, err := ParseCPUInfo(cpuinfo)
		if err != nil {
			b.logger.Warn("ignoring cpuinfo", zap.String("host", host), zap.Error(err))
		} else {
			enriched := Enrich(g, procs)
			b.logger.Debug("cpuinfo applied", zap.String("host", host), zap.Int("processing_units", enriched))
		}
	}

	if removed := Filter(g, b.filter...); removed > 0 {
		b.logger.Debug("filtered nodes", zap.String("host", host), zap.Int("removed", removed))
	}
	return g, nil
}

// BuildHost fetches host's documents from src and builds its graph. A
// missing hwloc document fails the build; a missing cpuinfo document only
// skips enrichment.
func (b *Builder) BuildHost(ctx context.Context, src Source, host string) (*Graph, error) {
	hwloc, err := src.HWLoc(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("host %s: %w", host, err)
	}
	defer hwloc.Close()

	var cpuinfo io.Reader
	rc, err := src.CPUInfo(ctx, host)
	switch {
	case err == nil:
		defer rc.Close()
		cpuinfo = rc
	case errors.Is(err, ErrNoDescription):
		b.logger.Info("no cpuinfo for host", zap.String("host", host))
	default:
		b.logger.Warn("failed to fetch cpuinfo", zap.String("host", host), zap.Error(err))
	}

	return b.Build(host, hwloc, cpuinfo)
}

// traversal holds the mutable state of one depth-first walk
type traversal struct {
	host     string
	graph    *Graph
	counters map[string]int
	// corrections maps a cache moved up one level to the cache it was
	// nested under in the document.
	corrections map[string]string
}

func newTraversal(host string) *traversal {
	return &traversal{
		host:        host,
		graph:       NewGraph(),
		counters:    make(map[string]int),
		corrections: make(map[string]string),
	}
}

func (t *traversal) walk(o *hwlocObject, parent string) {
	node := t.newNode(o)
	t.graph.AddNode(node)

	if parent != "" {
		t.graph.AddEdge(parent, node.Name, domain.LabelInternal)
		if apparent, ok := t.corrections[parent]; ok {
			t.graph.AddEdge(apparent, node.Name, domain.LabelInternal)
		}
		t.fixCacheNesting(node, parent)
	}

	for i := range o.Children {
		t.walk(&o.Children[i], node.Name)
	}
}

// fixCacheNesting moves node next to parent when both are caches of the same
// depth.
func (t *traversal) fixCacheNesting(node *Node, parent string) {
	if node.Type != "cache" {
		return
	}
	p, ok := t.graph.Node(parent)
	if !ok || p.Type != "cache" {
		return
	}
	depth, ok := node.Attributes["depth"]
	if !ok || depth != p.Attributes["depth"] {
		return
	}
	preds := t.graph.Predecessors(parent)
	if len(preds) == 0 {
		return
	}

	t.graph.RemoveEdge(parent, node.Name)
	t.corrections[node.Name] = parent
	t.graph.AddEdge(preds[0], node.Name, domain.LabelInternal)
}

func (t *traversal) newNode(o *hwlocObject) *Node {
	rawType, _ := o.attr("type")
	base := Sanitize(rawType, false)
	cat := category(o)

	typ := base
	if base == "osdev" {
		typ = base + "_" + string(cat)
	}

	return &Node{
		Name:       t.uniqueName(base),
		Category:   cat,
		Type:       typ,
		Attributes: t.attributes(o),
	}
}

func (t *traversal) uniqueName(typ string) string {
	if typ == "machine" {
		return t.host
	}
	n := t.counters[typ]
	t.counters[typ] = n + 1
	return fmt.Sprintf("%s_%s_%d", t.host, typ, n)
}

func (t *traversal) attributes(o *hwlocObject) domain.Attributes {
	attrs := make(domain.Attributes, len(o.Attrs)+len(o.Infos)+1)
	for _, a := range o.Attrs {
		key := Sanitize(a.Name.Local, true)
		if key == domain.KeyType {
			continue
		}
		attrs[key] = Sanitize(a.Value, true)
	}
	attrs["allocation"] = t.host
	for _, info := range o.Infos {
		attrs[Sanitize(info.Name, true)] = Sanitize(info.Value, true)
	}
	return attrs
}
