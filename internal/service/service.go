package service

import (
	"context"
	"fmt"
	"io"

	"go.uber.org/zap"

	"landscaper/internal/codec"
	"landscaper/internal/domain"
	"landscaper/internal/store"
)

// GraphService provides the query side of the landscape
type GraphService struct {
	store  *store.Store
	logger *zap.Logger
}

// NewGraphService creates a new graph service
func NewGraphService(st *store.Store, logger *zap.Logger) *GraphService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GraphService{store: st, logger: logger}
}

// Now returns the store clock
func (s *GraphService) Now() int64 {
	return s.store.Now()
}

// GetGraph returns the graph live through [ts, ts+window]
func (s *GraphService) GetGraph(ctx context.Context, ts, window int64) (*domain.Graph, error) {
	if err := validateWindow(ts, window); err != nil {
		return nil, err
	}
	return s.store.GetGraph(ctx, ts, window)
}

// GetSubgraph returns the part of the graph reachable from id
func (s *GraphService) GetSubgraph(ctx context.Context, id string, ts, window int64) (*domain.Graph, error) {
	if err := validateWindow(ts, window); err != nil {
		return nil, err
	}
	g, err := s.store.GetSubgraph(ctx, id, ts, window)
	if err != nil {
		return nil, err
	}
	if g == nil {
		return nil, fmt.Errorf("node %s at %d: %w", id, ts, domain.ErrNotFound)
	}
	return g, nil
}

// GetNode returns a node as it was at ts
func (s *GraphService) GetNode(ctx context.Context, id string, ts int64) (*domain.GraphNode, error) {
	if err := validateWindow(ts, 0); err != nil {
		return nil, err
	}
	node, err := s.store.GetNodeByUUIDWeb(ctx, id, ts)
	if err != nil {
		return nil, err
	}
	if node == nil {
		return nil, fmt.Errorf("node %s at %d: %w", id, ts, domain.ErrNotFound)
	}
	return node, nil
}

// FindNodes returns the nodes live through [ts, ts+window] matching every
// property, merged with their state
func (s *GraphService) FindNodes(ctx context.Context, props domain.Attributes, ts, window int64) ([]domain.GraphNode, error) {
	if len(props) == 0 {
		return nil, fmt.Errorf("%w: at least one property is required", domain.ErrMalformedInput)
	}
	if err := validateWindow(ts, window); err != nil {
		return nil, err
	}
	nodes, err := s.store.GetNodesByPropertiesWeb(ctx, props, ts, window)
	if err != nil {
		return nil, err
	}
	if nodes == nil {
		nodes = []domain.GraphNode{}
	}
	return nodes, nil
}

// Predecessors returns the nodes with a relationship into id at ts
func (s *GraphService) Predecessors(ctx context.Context, id string, ts int64) ([]domain.EntityRef, error) {
	refs, err := s.store.Predecessors(ctx, id, ts)
	if refs == nil && err == nil {
		refs = []domain.EntityRef{}
	}
	return refs, err
}

// Successors returns the nodes id has a relationship to at ts
func (s *GraphService) Successors(ctx context.Context, id string, ts int64) ([]domain.EntityRef, error) {
	refs, err := s.store.Successors(ctx, id, ts)
	if refs == nil && err == nil {
		refs = []domain.EntityRef{}
	}
	return refs, err
}

// Export writes the graph live through [ts, ts+window] in format
func (s *GraphService) Export(ctx context.Context, w io.Writer, format string, ts, window int64) error {
	exp, err := codec.ForFormat(format)
	if err != nil {
		return err
	}
	g, err := s.GetGraph(ctx, ts, window)
	if err != nil {
		return err
	}
	return exp.Export(g, w)
}

// ImportResult represents the result of an import operation
type ImportResult struct {
	NodesCreated int `json:"nodes_created"`
	EdgesCreated int `json:"edges_created"`
	EdgesClosed  int `json:"edges_closed"`
}

// Import replays an exported graph into the store. Nodes open at ts; edges
// keep their own interval.
func (s *GraphService) Import(ctx context.Context, r io.Reader, format string, ts int64) (*ImportResult, error) {
	exp, err := codec.ForFormat(format)
	if err != nil {
		return nil, err
	}
	imp, ok := exp.(codec.Importer)
	if !ok {
		return nil, fmt.Errorf("format %s cannot be imported", format)
	}
	g, err := imp.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrMalformedInput, err)
	}

	result := &ImportResult{}
	refs := make(map[string]*domain.EntityRef, len(g.Nodes))
	for _, n := range g.Nodes {
		identity := domain.Attributes{
			domain.KeyLayer:    string(n.Layer),
			domain.KeyCategory: string(n.Category),
			domain.KeyType:     n.Type,
		}
		state := n.Attributes.Clone()
		delete(state, domain.KeyName)

		existing, err := s.store.GetNodeByUUID(ctx, n.ID)
		if err != nil {
			return result, err
		}
		ref, err := s.store.AddNode(ctx, n.ID, identity, state, ts)
		if err != nil {
			return result, fmt.Errorf("failed to import node %s: %w", n.ID, err)
		}
		if existing == nil && ref != nil {
			result.NodesCreated++
		}
		refs[n.ID] = ref
	}

	for _, e := range g.Edges {
		src, dst := refs[e.Source], refs[e.Target]
		if src == nil || dst == nil {
			s.logger.Warn("skipping edge with unknown endpoint",
				zap.String("source", e.Source), zap.String("target", e.Target))
			continue
		}
		if _, err := s.store.AddEdge(ctx, src, dst, e.From, e.Label); err != nil {
			return result, fmt.Errorf("failed to import edge %s->%s: %w", e.Source, e.Target, err)
		}
		result.EdgesCreated++
		if e.To != domain.EOT {
			if _, err := s.store.DeleteEdge(ctx, src, dst, e.To, e.Label); err != nil {
				return result, fmt.Errorf("failed to close edge %s->%s: %w", e.Source, e.Target, err)
			}
			result.EdgesClosed++
		}
	}

	s.logger.Info("graph imported",
		zap.Int("nodes", result.NodesCreated),
		zap.Int("edges", result.EdgesCreated))
	return result, nil
}

// validateWindow checks query parameters
func validateWindow(ts, window int64) error {
	if ts < 0 {
		return fmt.Errorf("%w: negative timestamp %d", domain.ErrMalformedInput, ts)
	}
	if window < 0 {
		return fmt.Errorf("%w: negative time frame %d", domain.ErrMalformedInput, window)
	}
	return nil
}
