package topology

import (
	"context"
	"fmt"

	"landscaper/internal/domain"
)

// Writer is the part of the store a host graph is committed through
type Writer interface {
	AddNode(ctx context.Context, id string, identity, state domain.Attributes, ts int64) (*domain.EntityRef, error)
	AddEdge(ctx context.Context, src, dst *domain.EntityRef, ts int64, label domain.Label) (*domain.RelRef, error)
}

// Commit adds every node of g, then every edge, all at ts. Unlabeled edges
// are committed as LINKS_TO. Nodes already in the store are left untouched.
func Commit(ctx context.Context, w Writer, g *Graph, ts int64) error {
	refs := make(map[string]*domain.EntityRef, g.Len())
	for _, n := range g.Nodes() {
		ref, err := w.AddNode(ctx, n.Name, n.Identity(), n.Attributes, ts)
		if err != nil {
			return fmt.Errorf("failed to commit node %s: %w", n.Name, err)
		}
		if ref != nil {
			refs[n.Name] = ref
		}
	}

	for _, e := range g.Edges() {
		src, dst := refs[e.Source], refs[e.Target]
		if src == nil || dst == nil {
			continue
		}
		label := e.Label
		if label == "" {
			label = domain.LabelLinksTo
		}
		if _, err := w.AddEdge(ctx, src, dst, ts, label); err != nil {
			return fmt.Errorf("failed to commit edge %s->%s: %w", e.Source, e.Target, err)
		}
	}
	return nil
}
