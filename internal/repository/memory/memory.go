// Package memory implements repository.Repository with in-process maps.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"landscaper/internal/domain"
	"landscaper/internal/repository"
)

// Repository keeps every record in memory. It is safe for concurrent use.
type Repository struct {
	mu       sync.RWMutex
	entities map[string]domain.EntityRef
	states   map[string]domain.State
	rels     map[string]domain.RelRef
	order    []string // relationship ids in insertion order
	closed   bool
}

// New creates an empty in-memory repository
func New() *Repository {
	r := &Repository{}
	r.reset()
	return r
}

func (r *Repository) reset() {
	r.entities = make(map[string]domain.EntityRef)
	r.states = make(map[string]domain.State)
	r.rels = make(map[string]domain.RelRef)
	r.order = nil
}

// Ping implements repository.Repository
func (r *Repository) Ping(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return fmt.Errorf("memory repository is closed")
	}
	return ctx.Err()
}

// GetEntity implements repository.Repository
func (r *Repository) GetEntity(_ context.Context, id string) (*domain.EntityRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entities[id]
	if !ok {
		return nil, nil
	}
	e.Attributes = e.Attributes.Clone()
	return &e, nil
}

// CreateEntity implements repository.Repository
func (r *Repository) CreateEntity(_ context.Context, entity domain.EntityRef, state domain.State, rel domain.RelRef) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entities[entity.ID]; exists {
		return false, nil
	}
	entity.Attributes = entity.Attributes.Clone()
	state.Attributes = state.Attributes.Clone()
	r.entities[entity.ID] = entity
	r.states[state.ID] = state
	r.insertRel(rel)
	return true, nil
}

// GetState implements repository.Repository
func (r *Repository) GetState(_ context.Context, id string) (*domain.State, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.states[id]
	if !ok {
		return nil, nil
	}
	s.Attributes = s.Attributes.Clone()
	return &s, nil
}

// SupersedeState implements repository.Repository
func (r *Repository) SupersedeState(_ context.Context, oldRelID string, state domain.State, rel domain.RelRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	old, ok := r.rels[oldRelID]
	if !ok {
		return fmt.Errorf("relationship %s: %w", oldRelID, domain.ErrNotFound)
	}
	if !old.Open() {
		return fmt.Errorf("relationship %s: %w", oldRelID, domain.ErrStale)
	}
	old.To = rel.From
	r.rels[oldRelID] = old
	state.Attributes = state.Attributes.Clone()
	r.states[state.ID] = state
	r.insertRel(rel)
	return nil
}

// ReopenState implements repository.Repository
func (r *Repository) ReopenState(_ context.Context, state domain.State, rel domain.RelRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.entities[rel.Source]; !ok {
		return fmt.Errorf("entity %s: %w", rel.Source, domain.ErrNotFound)
	}
	for _, existing := range r.rels {
		if existing.Source == rel.Source && existing.Label == domain.LabelState && existing.Open() {
			return fmt.Errorf("entity %s has an open state: %w", rel.Source, domain.ErrStale)
		}
	}
	state.Attributes = state.Attributes.Clone()
	r.states[state.ID] = state
	r.insertRel(rel)
	return nil
}

// CreateRelationship implements repository.Repository
func (r *Repository) CreateRelationship(_ context.Context, rel domain.RelRef) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.rels[rel.ID]; exists {
		return fmt.Errorf("relationship %s already exists", rel.ID)
	}
	r.insertRel(rel)
	return nil
}

func (r *Repository) insertRel(rel domain.RelRef) {
	r.rels[rel.ID] = rel
	r.order = append(r.order, rel.ID)
}

// CloseRelationship implements repository.Repository
func (r *Repository) CloseRelationship(_ context.Context, id string, at int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	rel, ok := r.rels[id]
	if !ok {
		return fmt.Errorf("relationship %s: %w", id, domain.ErrNotFound)
	}
	if !rel.Open() {
		return fmt.Errorf("relationship %s: %w", id, domain.ErrStale)
	}
	rel.To = at
	r.rels[id] = rel
	return nil
}

// FindRelationships implements repository.Repository
func (r *Repository) FindRelationships(_ context.Context, filter repository.Filter) ([]domain.RelRef, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []domain.RelRef
	for _, id := range r.order {
		rel := r.rels[id]
		if filter.Matches(rel) {
			out = append(out, rel)
		}
	}
	return out, nil
}

// FindSnapshots implements repository.Repository
func (r *Repository) FindSnapshots(_ context.Context, filter repository.Filter) ([]repository.Snapshot, error) {
	filter.Label = domain.LabelState
	filter.ExcludeLabel = ""

	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []repository.Snapshot
	for _, id := range r.order {
		rel := r.rels[id]
		if !filter.Matches(rel) {
			continue
		}
		entity, ok := r.entities[rel.Source]
		if !ok {
			continue
		}
		state, ok := r.states[rel.Target]
		if !ok {
			continue
		}
		entity.Attributes = entity.Attributes.Clone()
		state.Attributes = state.Attributes.Clone()
		out = append(out, repository.Snapshot{Entity: entity, State: state, Relationship: rel})
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Entity.ID < out[j].Entity.ID
	})
	return out, nil
}

// DeleteAll implements repository.Repository
func (r *Repository) DeleteAll(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reset()
	return nil
}

// Close implements repository.Repository
func (r *Repository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}
