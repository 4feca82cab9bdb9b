package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"landscaper/internal/domain"
)

// JSONCodec reads and writes the graph shape served by the query API
type JSONCodec struct {
	// Indent is the per-level indentation of exported documents; empty
	// writes compact JSON.
	Indent string
}

// NewJSONCodec returns a codec that indents with two spaces
func NewJSONCodec() *JSONCodec {
	return &JSONCodec{Indent: "  "}
}

// Format implements Exporter
func (c *JSONCodec) Format() string { return "json" }

// Parse implements Importer
func (c *JSONCodec) Parse(r io.Reader) (*domain.Graph, error) {
	g := domain.NewGraph()
	if err := json.NewDecoder(r).Decode(g); err != nil {
		return nil, fmt.Errorf("failed to parse JSON: %w", err)
	}
	if err := checkGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Export implements Exporter
func (c *JSONCodec) Export(g *domain.Graph, w io.Writer) error {
	if g == nil {
		g = domain.NewGraph()
	}
	enc := json.NewEncoder(w)
	if c.Indent != "" {
		enc.SetIndent("", c.Indent)
	}
	if err := enc.Encode(g); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}
