package topology

import (
	"slices"

	"landscaper/internal/domain"
)

// Node is one hardware component of a host graph
type Node struct {
	Name       string
	Category   domain.Category
	Type       string
	Attributes domain.Attributes
}

// Identity returns the identity attributes committed for the node.
func (n *Node) Identity() domain.Attributes {
	return domain.Attributes{
		domain.KeyLayer:    string(domain.LayerPhysical),
		domain.KeyCategory: string(n.Category),
		domain.KeyType:     n.Type,
	}
}

// Edge is a directed edge of a host graph. An empty Label is committed as
// LINKS_TO.
type Edge struct {
	Source string
	Target string
	Label  domain.Label
}

type edgeKey struct{ src, dst string }

// Graph is a small directed graph with at most one edge per ordered pair.
// Nodes, predecessors and successors keep insertion order.
type Graph struct {
	nodes map[string]*Node
	order []string
	edges map[edgeKey]domain.Label
	succ  map[string][]string
	pred  map[string][]string
}

// NewGraph returns an empty graph
func NewGraph() *Graph {
	return &Graph{
		nodes: make(map[string]*Node),
		edges: make(map[edgeKey]domain.Label),
		succ:  make(map[string][]string),
		pred:  make(map[string][]string),
	}
}

// AddNode inserts or replaces a node.
func (g *Graph) AddNode(n *Node) {
	if _, ok := g.nodes[n.Name]; !ok {
		g.order = append(g.order, n.Name)
	}
	g.nodes[n.Name] = n
}

// Node returns the named node
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.nodes[name]
	return n, ok
}

// Nodes returns the nodes in insertion order
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, 0, len(g.order))
	for _, name := range g.order {
		out = append(out, g.nodes[name])
	}
	return out
}

// Len returns the number of nodes
func (g *Graph) Len() int {
	return len(g.order)
}

// AddEdge adds src->dst, replacing the label of an existing edge.
func (g *Graph) AddEdge(src, dst string, label domain.Label) {
	k := edgeKey{src, dst}
	if _, ok := g.edges[k]; !ok {
		g.succ[src] = append(g.succ[src], dst)
		g.pred[dst] = append(g.pred[dst], src)
	}
	g.edges[k] = label
}

// HasEdge reports whether src->dst exists
func (g *Graph) HasEdge(src, dst string) bool {
	_, ok := g.edges[edgeKey{src, dst}]
	return ok
}

// Label returns the label of src->dst
func (g *Graph) Label(src, dst string) (domain.Label, bool) {
	l, ok := g.edges[edgeKey{src, dst}]
	return l, ok
}

// RemoveEdge deletes src->dst if present
func (g *Graph) RemoveEdge(src, dst string) {
	k := edgeKey{src, dst}
	if _, ok := g.edges[k]; !ok {
		return
	}
	delete(g.edges, k)
	g.succ[src] = slices.DeleteFunc(g.succ[src], func(s string) bool { return s == dst })
	g.pred[dst] = slices.DeleteFunc(g.pred[dst], func(s string) bool { return s == src })
}

// RemoveNode deletes a node and every edge touching it
func (g *Graph) RemoveNode(name string) {
	if _, ok := g.nodes[name]; !ok {
		return
	}
	for _, s := range slices.Clone(g.succ[name]) {
		g.RemoveEdge(name, s)
	}
	for _, p := range slices.Clone(g.pred[name]) {
		g.RemoveEdge(p, name)
	}
	delete(g.nodes, name)
	delete(g.succ, name)
	delete(g.pred, name)
	g.order = slices.DeleteFunc(g.order, func(s string) bool { return s == name })
}

// Predecessors returns the sources of edges into name
func (g *Graph) Predecessors(name string) []string {
	return slices.Clone(g.pred[name])
}

// Successors returns the targets of edges out of name
func (g *Graph) Successors(name string) []string {
	return slices.Clone(g.succ[name])
}

// Edges returns every edge, grouped by source in node order
func (g *Graph) Edges() []Edge {
	var out []Edge
	for _, src := range g.order {
		for _, dst := range g.succ[src] {
			out = append(out, Edge{Source: src, Target: dst, Label: g.edges[edgeKey{src, dst}]})
		}
	}
	return out
}

// ToDomain converts the graph into the query representation, with every edge
// open from ts. Used to preview a build without a store.
func (g *Graph) ToDomain(ts int64) (*domain.Graph, error) {
	out := domain.NewGraph()
	for _, n := range g.Nodes() {
		entity := domain.NewEntityRef(n.Name, n.Identity(), ts)
		node, err := domain.FlattenEntity(entity, n.Attributes)
		if err != nil {
			return nil, err
		}
		out.Nodes = append(out.Nodes, node)
	}
	for _, e := range g.Edges() {
		label := e.Label
		if label == "" {
			label = domain.LabelLinksTo
		}
		out.Edges = append(out.Edges, domain.GraphEdge{
			Source: e.Source, Target: e.Target, Label: label, From: ts, To: domain.EOT,
		})
	}
	return out, nil
}
