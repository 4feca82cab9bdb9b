package store

import (
	"context"
	"fmt"
	"reflect"
	"time"

	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/repository"
)

// GetNodeByUUID returns the identity entity regardless of whether it is live.
func (s *Store) GetNodeByUUID(ctx context.Context, id string) (*domain.EntityRef, error) {
	entity, err := s.repo.GetEntity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	return entity, nil
}

// GetNodeByUUIDWeb returns the entity merged with the state open at ts, or
// nil when no state is open at ts.
func (s *Store) GetNodeByUUIDWeb(ctx context.Context, id string, ts int64) (*domain.GraphNode, error) {
	defer s.metrics.ObserveQuery("get_node", time.Now())

	w := domain.Instant(ts)
	snaps, err := s.repo.FindSnapshots(ctx, repository.Filter{Source: id, Window: &w})
	if err != nil {
		return nil, fmt.Errorf("failed to get node %s: %w", id, err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	snap := snaps[len(snaps)-1]
	node, err := domain.FlattenEntity(snap.Entity, snap.State.Attributes)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// GetNodesByProperties returns the live entities whose identity or current
// state attributes equal every given property.
func (s *Store) GetNodesByProperties(ctx context.Context, props domain.Attributes) ([]domain.EntityRef, error) {
	defer s.metrics.ObserveQuery("get_nodes_by_properties", time.Now())

	if len(props) == 0 {
		return nil, nil
	}
	want, err := domain.NormalizeAttributes(props)
	if err != nil {
		return nil, err
	}

	snaps, err := s.repo.FindSnapshots(ctx, repository.Filter{Open: true})
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}

	var (
		out  []domain.EntityRef
		seen = make(map[string]struct{})
	)
	for _, snap := range snaps {
		if _, dup := seen[snap.Entity.ID]; dup {
			continue
		}
		if matchesAll(want, snap.Entity.Attributes, snap.State.Attributes) {
			seen[snap.Entity.ID] = struct{}{}
			out = append(out, snap.Entity)
		}
	}
	return out, nil
}

// GetNodesByPropertiesWeb returns the nodes whose identity or state live
// through [ts, ts+window] equals every given property, flattened with that
// state.
func (s *Store) GetNodesByPropertiesWeb(ctx context.Context, props domain.Attributes, ts, window int64) ([]domain.GraphNode, error) {
	defer s.metrics.ObserveQuery("get_nodes_by_properties_web", time.Now())

	if len(props) == 0 {
		return nil, nil
	}
	want, err := domain.NormalizeAttributes(props)
	if err != nil {
		return nil, err
	}

	w := domain.Window{At: ts, Duration: window}
	snaps, err := s.repo.FindSnapshots(ctx, repository.Filter{Window: &w})
	if err != nil {
		return nil, fmt.Errorf("failed to query nodes: %w", err)
	}

	var (
		out  []domain.GraphNode
		seen = make(map[string]struct{})
	)
	for _, snap := range snaps {
		if _, dup := seen[snap.Entity.ID]; dup {
			continue
		}
		if !matchesAll(want, snap.Entity.Attributes, snap.State.Attributes) {
			continue
		}
		node, err := domain.FlattenEntity(snap.Entity, snap.State.Attributes)
		if err != nil {
			s.logger.Error("dropping node from result", zap.String("id", snap.Entity.ID), zap.Error(err))
			continue
		}
		seen[snap.Entity.ID] = struct{}{}
		out = append(out, node)
	}
	return out, nil
}

func matchesAll(want, identity, state domain.Attributes) bool {
	for k, v := range want {
		if got, ok := state[k]; ok && reflect.DeepEqual(got, v) {
			continue
		}
		if got, ok := identity[k]; ok && reflect.DeepEqual(got, v) {
			continue
		}
		return false
	}
	return true
}

// Predecessors returns the entities with a non-STATE relationship into id
// live at ts.
func (s *Store) Predecessors(ctx context.Context, id string, ts int64) ([]domain.EntityRef, error) {
	return s.neighbours(ctx, repository.Filter{Target: id}, ts, func(r domain.RelRef) string { return r.Source })
}

// Successors returns the entities id has a non-STATE relationship to, live
// at ts.
func (s *Store) Successors(ctx context.Context, id string, ts int64) ([]domain.EntityRef, error) {
	return s.neighbours(ctx, repository.Filter{Source: id}, ts, func(r domain.RelRef) string { return r.Target })
}

func (s *Store) neighbours(ctx context.Context, f repository.Filter, ts int64, other func(domain.RelRef) string) ([]domain.EntityRef, error) {
	w := domain.Instant(ts)
	f.ExcludeLabel = domain.LabelState
	f.Window = &w
	rels, err := s.repo.FindRelationships(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("failed to find neighbours: %w", err)
	}

	var out []domain.EntityRef
	seen := make(map[string]struct{})
	for _, rel := range rels {
		id := other(rel)
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		entity, err := s.repo.GetEntity(ctx, id)
		if err != nil {
			return nil, err
		}
		if entity != nil {
			out = append(out, *entity)
		}
	}
	return out, nil
}

// GetGraph returns every entity live through [ts, ts+window] and the non-STATE
// relationships between them live through the same window.
func (s *Store) GetGraph(ctx context.Context, ts, window int64) (*domain.Graph, error) {
	defer s.metrics.ObserveQuery("get_graph", time.Now())

	w := domain.Window{At: ts, Duration: window}
	snaps, err := s.repo.FindSnapshots(ctx, repository.Filter{Window: &w})
	if err != nil {
		return nil, fmt.Errorf("failed to query graph nodes: %w", err)
	}

	g := domain.NewGraph()
	included := make(map[string]struct{}, len(snaps))
	for _, snap := range snaps {
		if _, dup := included[snap.Entity.ID]; dup {
			continue
		}
		node, err := domain.FlattenEntity(snap.Entity, snap.State.Attributes)
		if err != nil {
			s.logger.Error("dropping node from graph", zap.String("id", snap.Entity.ID), zap.Error(err))
			continue
		}
		included[snap.Entity.ID] = struct{}{}
		g.Nodes = append(g.Nodes, node)
	}

	rels, err := s.repo.FindRelationships(ctx, repository.Filter{ExcludeLabel: domain.LabelState, Window: &w})
	if err != nil {
		return nil, fmt.Errorf("failed to query graph edges: %w", err)
	}
	for _, rel := range rels {
		_, srcOK := included[rel.Source]
		_, dstOK := included[rel.Target]
		if srcOK && dstOK {
			g.Edges = append(g.Edges, toGraphEdge(rel))
		}
	}
	return g, nil
}

// GetSubgraph returns id and everything reachable from it through paths whose
// every relationship is live through [ts, ts+window]. It returns nil when id
// itself is not live through the window.
func (s *Store) GetSubgraph(ctx context.Context, id string, ts, window int64) (*domain.Graph, error) {
	defer s.metrics.ObserveQuery("get_subgraph", time.Now())

	w := domain.Window{At: ts, Duration: window}
	root, err := s.liveNode(ctx, id, w)
	if err != nil {
		return nil, err
	}
	if root == nil {
		return nil, nil
	}

	g := domain.NewGraph()
	g.Nodes = append(g.Nodes, *root)
	visited := map[string]struct{}{id: {}}
	queue := []string{id}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		rels, err := s.repo.FindRelationships(ctx, repository.Filter{
			Source:       current,
			ExcludeLabel: domain.LabelState,
			Window:       &w,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to expand %s: %w", current, err)
		}

		for _, rel := range rels {
			if _, seen := visited[rel.Target]; !seen {
				node, err := s.reachedNode(ctx, rel.Target, w)
				if err != nil {
					return nil, err
				}
				if node == nil {
					continue
				}
				visited[rel.Target] = struct{}{}
				g.Nodes = append(g.Nodes, *node)
				queue = append(queue, rel.Target)
			}
			g.Edges = append(g.Edges, toGraphEdge(rel))
		}
	}
	return g, nil
}

// liveNode flattens id with its state live through w, or returns nil.
func (s *Store) liveNode(ctx context.Context, id string, w domain.Window) (*domain.GraphNode, error) {
	snaps, err := s.repo.FindSnapshots(ctx, repository.Filter{Source: id, Window: &w})
	if err != nil {
		return nil, fmt.Errorf("failed to get state of %s: %w", id, err)
	}
	if len(snaps) == 0 {
		return nil, nil
	}
	snap := snaps[len(snaps)-1]
	node, err := domain.FlattenEntity(snap.Entity, snap.State.Attributes)
	if err != nil {
		return nil, err
	}
	return &node, nil
}

// reachedNode is like liveNode but falls back to the bare identity for
// entities reached through a live relationship while having no live state.
func (s *Store) reachedNode(ctx context.Context, id string, w domain.Window) (*domain.GraphNode, error) {
	node, err := s.liveNode(ctx, id, w)
	if err != nil || node != nil {
		return node, err
	}
	entity, err := s.repo.GetEntity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", id, err)
	}
	if entity == nil {
		return nil, nil
	}
	bare, err := domain.FlattenEntity(*entity, nil)
	if err != nil {
		return nil, err
	}
	return &bare, nil
}

func toGraphEdge(rel domain.RelRef) domain.GraphEdge {
	return domain.GraphEdge{
		Source: rel.Source,
		Target: rel.Target,
		Label:  rel.Label,
		From:   rel.From,
		To:     rel.To,
	}
}
