package topology

// Filter removes every node whose type is listed, connecting each of its
// predecessors to each of its successors first so no reachability is lost.
// A bridging edge keeps the label when the incoming and outgoing labels
// agree and is unlabeled otherwise. It returns the number of nodes removed.
func Filter(g *Graph, types ...string) int {
	removed := 0
	for _, typ := range types {
		for _, n := range g.Nodes() {
			if n.Type != typ {
				continue
			}
			bypass(g, n.Name)
			removed++
		}
	}
	return removed
}

func bypass(g *Graph, name string) {
	succs := g.Successors(name)
	for _, p := range g.Predecessors(name) {
		in, _ := g.Label(p, name)
		for _, s := range succs {
			if p == s {
				continue
			}
			out, _ := g.Label(name, s)
			switch {
			case in != "" && in == out:
				g.AddEdge(p, s, in)
			case !g.HasEdge(p, s):
				g.AddEdge(p, s, "")
			}
		}
	}
	g.RemoveNode(name)
}
