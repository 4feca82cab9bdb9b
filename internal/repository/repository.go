package repository

import (
	"context"

	"landscaper/internal/domain"
)

// Repository defines the storage primitives the temporal store is built on.
// Lookups of a single record return nil, nil when it does not exist.
type Repository interface {
	// Ping checks that the backend is reachable.
	Ping(ctx context.Context) error

	// Identity entities
	GetEntity(ctx context.Context, id string) (*domain.EntityRef, error)
	// CreateEntity stores the identity, its first state and the open STATE
	// relationship as one unit. It reports false without writing anything
	// when the identity already exists.
	CreateEntity(ctx context.Context, entity domain.EntityRef, state domain.State, rel domain.RelRef) (bool, error)

	// State snapshots
	GetState(ctx context.Context, id string) (*domain.State, error)
	// SupersedeState closes the STATE relationship oldRelID at rel.From and
	// stores state with its new relationship, as one unit. It returns
	// domain.ErrStale when oldRelID is no longer open.
	SupersedeState(ctx context.Context, oldRelID string, state domain.State, rel domain.RelRef) error
	// ReopenState stores state with its STATE relationship for an entity
	// whose states are all closed, as one unit. It returns domain.ErrStale
	// when the entity already has an open state.
	ReopenState(ctx context.Context, state domain.State, rel domain.RelRef) error

	// Relationships
	CreateRelationship(ctx context.Context, rel domain.RelRef) error
	// CloseRelationship sets To on an open relationship. It returns
	// domain.ErrStale when the relationship is already closed.
	CloseRelationship(ctx context.Context, id string, at int64) error
	FindRelationships(ctx context.Context, filter Filter) ([]domain.RelRef, error)

	// FindSnapshots joins STATE relationships matching filter with their
	// entity and state. Label and ExcludeLabel are ignored.
	FindSnapshots(ctx context.Context, filter Filter) ([]Snapshot, error)

	// DeleteAll physically removes every record.
	DeleteAll(ctx context.Context) error

	// Close releases resources
	Close() error
}

// Filter selects relationships. Zero-valued fields do not constrain.
type Filter struct {
	Source       string
	Target       string
	Label        domain.Label
	ExcludeLabel domain.Label
	// Open keeps only relationships with To == EOT.
	Open bool
	// Window keeps only relationships live through the window.
	Window *domain.Window
}

// Matches applies the filter to a relationship in memory.
func (f Filter) Matches(rel domain.RelRef) bool {
	if f.Source != "" && rel.Source != f.Source {
		return false
	}
	if f.Target != "" && rel.Target != f.Target {
		return false
	}
	if f.Label != "" && rel.Label != f.Label {
		return false
	}
	if f.ExcludeLabel != "" && rel.Label == f.ExcludeLabel {
		return false
	}
	if f.Open && !rel.Open() {
		return false
	}
	if f.Window != nil && !rel.LiveThrough(*f.Window) {
		return false
	}
	return true
}

// Snapshot is an entity together with one of its states and the STATE
// relationship binding them.
type Snapshot struct {
	Entity       domain.EntityRef
	State        domain.State
	Relationship domain.RelRef
}
