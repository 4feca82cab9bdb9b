// Package codec reads and writes query graphs in text formats.
package codec

import (
	"fmt"
	"io"

	"landscaper/internal/domain"
)

// Importer interface for importing graph data from various formats
type Importer interface {
	Parse(r io.Reader) (*domain.Graph, error)
	Format() string
}

// Exporter interface for exporting graph data to various formats
type Exporter interface {
	Export(g *domain.Graph, w io.Writer) error
	Format() string
}

// ForFormat returns the exporter for a format name
func ForFormat(format string) (Exporter, error) {
	switch format {
	case "", "json":
		return NewJSONCodec(), nil
	case "yaml", "yml":
		return NewYAMLCodec(), nil
	default:
		return nil, fmt.Errorf("%w: unknown format %q", domain.ErrMalformedInput, format)
	}
}

// checkGraph rejects documents that cannot be replayed into a store: nodes
// without id or type, duplicate ids, and edges with a missing endpoint,
// label or an inverted interval.
func checkGraph(g *domain.Graph) error {
	ids := make(map[string]struct{}, len(g.Nodes))
	for i, n := range g.Nodes {
		switch {
		case n.ID == "":
			return fmt.Errorf("%w: node %d has no id", domain.ErrMalformedInput, i)
		case n.Type == "":
			return fmt.Errorf("%w: node %s has no type", domain.ErrMalformedInput, n.ID)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node %s", domain.ErrMalformedInput, n.ID)
		}
		ids[n.ID] = struct{}{}
	}

	for _, e := range g.Edges {
		if e.Source == "" || e.Target == "" || e.Label == "" {
			return fmt.Errorf("%w: incomplete edge %s->%s", domain.ErrMalformedInput, e.Source, e.Target)
		}
		if e.To < e.From {
			return fmt.Errorf("%w: edge %s->%s closes at %d before opening at %d",
				domain.ErrMalformedInput, e.Source, e.Target, e.To, e.From)
		}
	}
	return nil
}
