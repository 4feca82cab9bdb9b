package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/metrics"
	"landscaper/internal/repository"
)

// Store is the temporal graph store
type Store struct {
	repo    repository.Repository
	logger  *zap.Logger
	metrics *metrics.Registry
	newID   func() string
	now     func() int64
}

// Option configures a Store
type Option func(*Store)

// WithLogger sets the logger
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		s.logger = l
	}
}

// WithMetrics sets the metrics registry
func WithMetrics(m *metrics.Registry) Option {
	return func(s *Store) {
		s.metrics = m
	}
}

// WithClock overrides the source of "now" used by queries without an
// explicit timestamp.
func WithClock(now func() int64) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates a store over a repository
func New(repo repository.Repository, opts ...Option) *Store {
	s := &Store{
		repo:   repo,
		logger: zap.NewNop(),
		newID:  uuid.NewString,
		now:    func() int64 { return time.Now().Unix() },
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.New()
	}
	return s
}

// Now returns the store clock in Unix seconds.
func (s *Store) Now() int64 {
	return s.now()
}

// AddNode creates an identity entity with its first state snapshot, opened at
// ts. Adding an id that already exists returns the existing entity unchanged.
func (s *Store) AddNode(ctx context.Context, id string, identity, state domain.Attributes, ts int64) (*domain.EntityRef, error) {
	if id == "" {
		s.logger.Warn("add node called without an id")
		s.metrics.Mutation("add_node", "skipped")
		return nil, nil
	}
	if err := checkTimestamp(ts); err != nil {
		return nil, err
	}

	existing, err := s.repo.GetEntity(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if existing != nil {
		s.logger.Info("node already exists", zap.String("id", id))
		s.metrics.Mutation("add_node", "exists")
		return existing, nil
	}

	identity, err = domain.NormalizeAttributes(identity)
	if err != nil {
		return nil, fmt.Errorf("identity of %s: %w", id, err)
	}
	state, err = domain.NormalizeAttributes(state)
	if err != nil {
		return nil, fmt.Errorf("state of %s: %w", id, err)
	}

	entity := domain.NewEntityRef(id, identity, ts)
	snapshot := domain.State{ID: s.newID(), EntityID: id, Attributes: state}
	rel := domain.NewRelRef(s.newID(), id, snapshot.ID, domain.LabelState, ts)

	created, err := s.repo.CreateEntity(ctx, entity, snapshot, rel)
	if err != nil {
		return nil, fmt.Errorf("failed to create node %s: %w", id, err)
	}
	if !created {
		// lost a race with another writer
		s.metrics.Mutation("add_node", "exists")
		return s.repo.GetEntity(ctx, id)
	}

	s.logger.Debug("node added", zap.String("id", id), zap.Int64("ts", ts))
	s.metrics.Mutation("add_node", "created")
	return &entity, nil
}

// AddEdge opens a relationship src -label-> dst at ts. When an open
// relationship with the same endpoints and label exists it is returned
// unchanged.
func (s *Store) AddEdge(ctx context.Context, src, dst *domain.EntityRef, ts int64, label domain.Label) (*domain.RelRef, error) {
	if src == nil || dst == nil {
		s.logger.Warn("add edge called with a missing endpoint", zap.String("label", string(label)))
		s.metrics.Mutation("add_edge", "skipped")
		return nil, nil
	}
	if err := checkTimestamp(ts); err != nil {
		return nil, err
	}
	if label == "" {
		label = domain.LabelLinksTo
	}

	open, err := s.openRelationship(ctx, src.ID, dst.ID, label)
	if err != nil {
		return nil, err
	}
	if open != nil {
		s.metrics.Mutation("add_edge", "exists")
		return open, nil
	}

	rel := domain.NewRelRef(s.newID(), src.ID, dst.ID, label, ts)
	if err := s.repo.CreateRelationship(ctx, rel); err != nil {
		return nil, fmt.Errorf("failed to add edge %s-%s->%s: %w", src.ID, label, dst.ID, err)
	}
	s.metrics.Mutation("add_edge", "created")
	return &rel, nil
}

// UpdateNode supersedes the open state of id at ts. The new state is state
// (or a copy of the current one when state is empty) overlaid with extra.
func (s *Store) UpdateNode(ctx context.Context, id string, ts int64, state, extra domain.Attributes) (domain.UpdateResult, error) {
	result, err := s.updateNode(ctx, id, ts, state, extra)
	if err != nil {
		return result, err
	}
	s.record("update_node", id, ts, result)
	return result, nil
}

// record counts an UpdateNode or ReviveNode outcome and logs skipped writes.
// No-ops are routine for periodic collectors and stay at debug.
func (s *Store) record(op, id string, ts int64, result domain.UpdateResult) {
	s.metrics.Mutation(op, string(result.Outcome))
	err := result.Err()
	if err == nil {
		return
	}
	log := s.logger.Warn
	if errors.Is(err, domain.ErrNoOp) {
		log = s.logger.Debug
	}
	log("node not updated",
		zap.String("op", op),
		zap.String("id", id),
		zap.Int64("ts", ts),
		zap.String("outcome", string(result.Outcome)),
		zap.Error(err))
}

// ReviveNode opens a new state at ts for an identity whose states have all
// expired, so an entity that disappeared can come back under the same id. A
// live identity is left alone with OutcomeUnchanged.
func (s *Store) ReviveNode(ctx context.Context, id string, ts int64, state domain.Attributes) (domain.UpdateResult, error) {
	result, err := s.reviveNode(ctx, id, ts, state)
	if err != nil {
		return result, err
	}
	s.record("revive_node", id, ts, result)
	return result, nil
}

func (s *Store) reviveNode(ctx context.Context, id string, ts int64, state domain.Attributes) (domain.UpdateResult, error) {
	if err := checkTimestamp(ts); err != nil {
		return domain.UpdateResult{}, err
	}
	entity, err := s.repo.GetEntity(ctx, id)
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if entity == nil {
		return domain.UpdateResult{
			Outcome: domain.OutcomeNotFound,
			Message: fmt.Sprintf("node %s does not exist", id),
		}, nil
	}

	history, err := s.repo.FindRelationships(ctx, repository.Filter{Source: id, Label: domain.LabelState})
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("failed to find state history of %s: %w", id, err)
	}
	var closedAt int64
	for _, rel := range history {
		if rel.Open() {
			return domain.UpdateResult{
				Entity:  entity,
				Outcome: domain.OutcomeUnchanged,
				Message: fmt.Sprintf("node %s is live", id),
			}, nil
		}
		closedAt = max(closedAt, rel.To)
	}
	if ts < closedAt {
		return domain.UpdateResult{
			Entity:  entity,
			Outcome: domain.OutcomeOutOfOrder,
			Message: fmt.Sprintf("revive at %d precedes expiry at %d", ts, closedAt),
		}, nil
	}

	state, err = domain.NormalizeAttributes(state)
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("state of %s: %w", id, err)
	}
	snapshot := domain.State{ID: s.newID(), EntityID: id, Attributes: state}
	rel := domain.NewRelRef(s.newID(), id, snapshot.ID, domain.LabelState, ts)
	if err := s.repo.ReopenState(ctx, snapshot, rel); err != nil {
		if errors.Is(err, domain.ErrStale) {
			return domain.UpdateResult{
				Entity:  entity,
				Outcome: domain.OutcomeUnchanged,
				Message: fmt.Sprintf("node %s was revived concurrently", id),
			}, nil
		}
		return domain.UpdateResult{}, fmt.Errorf("failed to revive %s: %w", id, err)
	}
	return domain.UpdateResult{Entity: entity, Outcome: domain.OutcomeRevived, Message: "state reopened"}, nil
}

func (s *Store) updateNode(ctx context.Context, id string, ts int64, state, extra domain.Attributes) (domain.UpdateResult, error) {
	if err := checkTimestamp(ts); err != nil {
		return domain.UpdateResult{}, err
	}
	entity, err := s.repo.GetEntity(ctx, id)
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("failed to look up %s: %w", id, err)
	}
	if entity == nil {
		return domain.UpdateResult{
			Outcome: domain.OutcomeNotFound,
			Message: fmt.Sprintf("node %s does not exist", id),
		}, nil
	}
	if len(state) == 0 && len(extra) == 0 {
		return domain.UpdateResult{
			Entity:  entity,
			Outcome: domain.OutcomeNoAttributes,
			Message: "no state or extra attributes supplied",
		}, nil
	}

	current, err := s.repo.FindSnapshots(ctx, repository.Filter{Source: id, Open: true})
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("failed to find state of %s: %w", id, err)
	}
	if len(current) == 0 {
		return domain.UpdateResult{
			Entity:  entity,
			Outcome: domain.OutcomeStale,
			Message: fmt.Sprintf("state of %s has already expired", id),
		}, nil
	}
	old := current[len(current)-1]
	if ts < old.Relationship.From {
		return domain.UpdateResult{
			Entity:  entity,
			Outcome: domain.OutcomeOutOfOrder,
			Message: fmt.Sprintf("update at %d precedes current state from %d", ts, old.Relationship.From),
		}, nil
	}

	// an empty state keeps the current snapshot as the base
	merged := state.Clone()
	if len(state) == 0 {
		merged = old.State.Attributes.Clone()
	}
	for k, v := range extra {
		merged[k] = v
	}
	merged, err = domain.NormalizeAttributes(merged)
	if err != nil {
		return domain.UpdateResult{}, fmt.Errorf("state of %s: %w", id, err)
	}
	if merged.Equal(old.State.Attributes) {
		return domain.UpdateResult{
			Entity:  entity,
			Outcome: domain.OutcomeUnchanged,
			Message: "state is identical to the current one",
		}, nil
	}

	snapshot := domain.State{ID: s.newID(), EntityID: id, Attributes: merged}
	rel := domain.NewRelRef(s.newID(), id, snapshot.ID, domain.LabelState, ts)
	if err := s.repo.SupersedeState(ctx, old.Relationship.ID, snapshot, rel); err != nil {
		if errors.Is(err, domain.ErrStale) {
			return domain.UpdateResult{
				Entity:  entity,
				Outcome: domain.OutcomeStale,
				Message: fmt.Sprintf("state of %s was closed concurrently", id),
			}, nil
		}
		return domain.UpdateResult{}, fmt.Errorf("failed to update %s: %w", id, err)
	}

	return domain.UpdateResult{Entity: entity, Outcome: domain.OutcomeUpdated, Message: "state updated"}, nil
}

// UpdateEdge closes the open relationship src -label-> dst, if any, and opens
// a new one at ts.
func (s *Store) UpdateEdge(ctx context.Context, src, dst *domain.EntityRef, ts int64, label domain.Label) (*domain.RelRef, error) {
	if src == nil || dst == nil {
		s.logger.Warn("update edge called with a missing endpoint", zap.String("label", string(label)))
		s.metrics.Mutation("update_edge", "skipped")
		return nil, nil
	}
	if _, err := s.closeRelationship(ctx, src.ID, dst.ID, ts, label); err != nil {
		return nil, err
	}
	return s.AddEdge(ctx, src, dst, ts, label)
}

// DeleteEdge closes the open relationship src -label-> dst at ts. It returns
// nil when no such relationship is open.
func (s *Store) DeleteEdge(ctx context.Context, src, dst *domain.EntityRef, ts int64, label domain.Label) (*domain.RelRef, error) {
	if src == nil || dst == nil {
		s.logger.Warn("delete edge called with a missing endpoint", zap.String("label", string(label)))
		s.metrics.Mutation("delete_edge", "skipped")
		return nil, nil
	}
	rel, err := s.closeRelationship(ctx, src.ID, dst.ID, ts, label)
	if err != nil {
		return nil, err
	}
	if rel == nil {
		s.metrics.Mutation("delete_edge", "not_found")
		return nil, nil
	}
	s.metrics.Mutation("delete_edge", "closed")
	return rel, nil
}

// checkTimestamp rejects mutations at or after EOT, which no interval can
// start or end on.
func checkTimestamp(ts int64) error {
	if ts >= domain.EOT {
		return fmt.Errorf("%w: timestamp %d is not before %d", domain.ErrMalformedInput, ts, domain.EOT)
	}
	return nil
}

func (s *Store) closeRelationship(ctx context.Context, src, dst string, ts int64, label domain.Label) (*domain.RelRef, error) {
	if err := checkTimestamp(ts); err != nil {
		return nil, err
	}
	if label == "" {
		label = domain.LabelLinksTo
	}
	open, err := s.openRelationship(ctx, src, dst, label)
	if err != nil || open == nil {
		return nil, err
	}
	if open.From > ts {
		s.logger.Warn("refusing to close relationship before it opened",
			zap.String("source", src), zap.String("target", dst),
			zap.Int64("from", open.From), zap.Int64("ts", ts))
		return nil, nil
	}
	if err := s.repo.CloseRelationship(ctx, open.ID, ts); err != nil {
		if errors.Is(err, domain.ErrStale) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to close %s-%s->%s: %w", src, label, dst, err)
	}
	open.To = ts
	return open, nil
}

// DeleteNode closes every open relationship touching entity, STATE included,
// at ts. The identity record is kept. It returns the number of relationships
// closed.
func (s *Store) DeleteNode(ctx context.Context, entity *domain.EntityRef, ts int64) (int, error) {
	if entity == nil {
		s.logger.Warn("delete node called without an entity")
		s.metrics.Mutation("delete_node", "skipped")
		return 0, nil
	}
	if err := checkTimestamp(ts); err != nil {
		return 0, err
	}

	outbound, err := s.repo.FindRelationships(ctx, repository.Filter{Source: entity.ID, Open: true})
	if err != nil {
		return 0, fmt.Errorf("failed to find relationships of %s: %w", entity.ID, err)
	}
	inbound, err := s.repo.FindRelationships(ctx, repository.Filter{Target: entity.ID, Open: true})
	if err != nil {
		return 0, fmt.Errorf("failed to find relationships of %s: %w", entity.ID, err)
	}

	closed := 0
	for _, rel := range append(outbound, inbound...) {
		if rel.From > ts {
			s.logger.Warn("relationship opened after delete time, left open",
				zap.String("id", entity.ID), zap.String("relationship", rel.ID))
			continue
		}
		err := s.repo.CloseRelationship(ctx, rel.ID, ts)
		if errors.Is(err, domain.ErrStale) {
			continue
		}
		if err != nil {
			return closed, fmt.Errorf("failed to close relationship %s: %w", rel.ID, err)
		}
		closed++
	}

	s.logger.Debug("node deleted", zap.String("id", entity.ID), zap.Int64("ts", ts), zap.Int("closed", closed))
	s.metrics.Mutation("delete_node", "closed")
	return closed, nil
}

// DeleteAll removes the whole history.
func (s *Store) DeleteAll(ctx context.Context) error {
	if err := s.repo.DeleteAll(ctx); err != nil {
		return fmt.Errorf("failed to flush store: %w", err)
	}
	s.logger.Info("store flushed")
	s.metrics.Mutation("delete_all", "flushed")
	return nil
}

func (s *Store) openRelationship(ctx context.Context, src, dst string, label domain.Label) (*domain.RelRef, error) {
	rels, err := s.repo.FindRelationships(ctx, repository.Filter{
		Source: src,
		Target: dst,
		Label:  label,
		Open:   true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find %s-%s->%s: %w", src, label, dst, err)
	}
	if len(rels) == 0 {
		return nil, nil
	}
	return &rels[0], nil
}
