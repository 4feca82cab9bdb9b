package domain

import (
	"encoding/json"
	"fmt"
)

// Graph is the node/edge structure returned by graph and subgraph queries
type Graph struct {
	Nodes []GraphNode `json:"nodes"`
	Edges []GraphEdge `json:"edges"`
}

// GraphNode is an identity merged with one of its state snapshots. It
// serializes as a single flat object.
type GraphNode struct {
	ID         string
	Layer      Layer
	Category   Category
	Type       string
	Attributes Attributes
}

// GraphEdge is a relationship between two nodes of a Graph
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Label  Label  `json:"label"`
	From   int64  `json:"from"`
	To     int64  `json:"to"`
}

// NewGraph returns an empty graph that serializes with empty arrays.
func NewGraph() *Graph {
	return &Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}}
}

// Node returns the node with the given id.
func (g *Graph) Node(id string) (*GraphNode, bool) {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i], true
		}
	}
	return nil, false
}

// HasEdge reports whether an edge src->dst exists, regardless of label.
func (g *Graph) HasEdge(src, dst string) bool {
	for _, e := range g.Edges {
		if e.Source == src && e.Target == dst {
			return true
		}
	}
	return false
}

// NodeIDs lists node ids in graph order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, 0, len(g.Nodes))
	for _, n := range g.Nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

// FlattenEntity merges identity and state attributes into a GraphNode.
// State keys colliding with identity keys are renamed with the entity type as
// prefix.
func FlattenEntity(entity EntityRef, state Attributes) (GraphNode, error) {
	attrs := make(Attributes, len(entity.Attributes)+len(state))
	protected := append([]string{"id"}, ReservedKeys...)
	for k, v := range entity.Attributes {
		protected = append(protected, k)
		switch k {
		case KeyLayer, KeyCategory, KeyType:
			continue
		}
		attrs[k] = v
	}

	namespaced, err := UniqueAttributeNames(protected, state, entity.Type)
	if err != nil {
		return GraphNode{}, fmt.Errorf("failed to flatten %s: %w", entity.ID, err)
	}
	for k, v := range namespaced {
		attrs[k] = v
	}

	return GraphNode{
		ID:         entity.ID,
		Layer:      entity.Layer,
		Category:   entity.Category,
		Type:       entity.Type,
		Attributes: attrs,
	}, nil
}

// Flat returns the node as a single map.
func (n GraphNode) Flat() map[string]any {
	out := make(map[string]any, len(n.Attributes)+4)
	for k, v := range n.Attributes {
		out[k] = v
	}
	out["id"] = n.ID
	out[KeyLayer] = string(n.Layer)
	out[KeyCategory] = string(n.Category)
	out[KeyType] = n.Type
	return out
}

// MarshalJSON implements json.Marshaler
func (n GraphNode) MarshalJSON() ([]byte, error) {
	return json.Marshal(n.Flat())
}

// UnmarshalJSON implements json.Unmarshaler
func (n *GraphNode) UnmarshalJSON(data []byte) error {
	var flat map[string]any
	if err := json.Unmarshal(data, &flat); err != nil {
		return err
	}
	attrs := Attributes(flat)
	n.ID = attrs.String("id")
	n.Layer = Layer(attrs.String(KeyLayer))
	n.Category = Category(attrs.String(KeyCategory))
	n.Type = attrs.String(KeyType)
	for _, k := range []string{"id", KeyLayer, KeyCategory, KeyType} {
		delete(attrs, k)
	}
	n.Attributes = attrs
	return nil
}
