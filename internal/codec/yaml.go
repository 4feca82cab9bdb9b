package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"landscaper/internal/domain"
)

// YAMLCodec handles YAML import/export
type YAMLCodec struct{}

// NewYAMLCodec creates a new YAML codec
func NewYAMLCodec() *YAMLCodec {
	return &YAMLCodec{}
}

// Format returns the codec format identifier
func (c *YAMLCodec) Format() string {
	return "yaml"
}

// yamlGraph keeps nodes flat, matching the JSON shape
type yamlGraph struct {
	Nodes []map[string]any `yaml:"nodes"`
	Edges []yamlEdge       `yaml:"edges"`
}

type yamlEdge struct {
	Source string `yaml:"source"`
	Target string `yaml:"target"`
	Label  string `yaml:"label"`
	From   int64  `yaml:"from"`
	To     int64  `yaml:"to"`
}

// Parse imports graph data from YAML
func (c *YAMLCodec) Parse(r io.Reader) (*domain.Graph, error) {
	var yg yamlGraph
	decoder := yaml.NewDecoder(r)
	if err := decoder.Decode(&yg); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	g := domain.NewGraph()
	for _, flat := range yg.Nodes {
		// reuse the JSON decoding of flat nodes
		data, err := json.Marshal(flat)
		if err != nil {
			return nil, fmt.Errorf("failed to parse YAML node: %w", err)
		}
		var node domain.GraphNode
		if err := json.Unmarshal(data, &node); err != nil {
			return nil, fmt.Errorf("failed to parse YAML node: %w", err)
		}
		g.Nodes = append(g.Nodes, node)
	}

	for _, ye := range yg.Edges {
		g.Edges = append(g.Edges, domain.GraphEdge{
			Source: ye.Source,
			Target: ye.Target,
			Label:  domain.Label(ye.Label),
			From:   ye.From,
			To:     ye.To,
		})
	}

	if err := checkGraph(g); err != nil {
		return nil, err
	}
	return g, nil
}

// Export exports graph data to YAML
func (c *YAMLCodec) Export(g *domain.Graph, w io.Writer) error {
	if g == nil {
		g = domain.NewGraph()
	}
	yg := yamlGraph{
		Nodes: make([]map[string]any, 0, len(g.Nodes)),
		Edges: make([]yamlEdge, 0, len(g.Edges)),
	}

	for _, node := range g.Nodes {
		yg.Nodes = append(yg.Nodes, node.Flat())
	}

	for _, edge := range g.Edges {
		yg.Edges = append(yg.Edges, yamlEdge{
			Source: edge.Source,
			Target: edge.Target,
			Label:  string(edge.Label),
			From:   edge.From,
			To:     edge.To,
		})
	}

	encoder := yaml.NewEncoder(w)
	encoder.SetIndent(2)
	defer encoder.Close()

	if err := encoder.Encode(&yg); err != nil {
		return fmt.Errorf("failed to encode YAML: %w", err)
	}

	return nil
}
