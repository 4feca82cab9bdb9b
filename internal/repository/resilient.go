package repository

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/retry"
)

// Opener connects to a backend.
type Opener func(ctx context.Context) (Repository, error)

// Resilient wraps a backend with a health check, reconnect and bounded retry
// around every call. It implements Repository.
type Resilient struct {
	open        Opener
	policy      retry.Policy
	logger      *zap.Logger
	checkEvery  time.Duration
	mu          sync.Mutex
	current     Repository
	healthy     bool
	lastChecked time.Time
}

// ResilientOption configures a Resilient repository
type ResilientOption func(*Resilient)

// WithPolicy sets the retry policy
func WithPolicy(p retry.Policy) ResilientOption {
	return func(r *Resilient) {
		r.policy = p
	}
}

// WithHealthCheckInterval sets how long a successful health check is trusted.
// Zero checks before every call.
func WithHealthCheckInterval(d time.Duration) ResilientOption {
	return func(r *Resilient) {
		r.checkEvery = d
	}
}

// WithLogger sets the logger
func WithLogger(l *zap.Logger) ResilientOption {
	return func(r *Resilient) {
		r.logger = l
	}
}

// NewResilient opens the backend, retrying per policy. Failing to connect
// at startup is returned as domain.ErrUpstreamUnavailable.
func NewResilient(ctx context.Context, open Opener, opts ...ResilientOption) (*Resilient, error) {
	r := &Resilient{
		open:       open,
		logger:     zap.NewNop(),
		checkEvery: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}

	_, err := retry.Do(ctx, r.logger, "open repository", r.policy, func() (struct{}, error) {
		r.mu.Lock()
		defer r.mu.Unlock()
		return struct{}{}, r.reconnectLocked(ctx)
	})
	if err != nil {
		return nil, err
	}
	return r, nil
}

// acquire returns a backend that passed a recent health check, reconnecting
// when the check fails.
func (r *Resilient) acquire(ctx context.Context) (Repository, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.healthy && time.Since(r.lastChecked) < r.checkEvery {
		return r.current, nil
	}
	if r.current != nil {
		err := r.current.Ping(ctx)
		if err == nil {
			r.healthy = true
			r.lastChecked = time.Now()
			return r.current, nil
		}
		r.logger.Warn("repository health check failed, reconnecting", zap.Error(err))
	}
	if err := r.reconnectLocked(ctx); err != nil {
		return nil, err
	}
	return r.current, nil
}

func (r *Resilient) reconnectLocked(ctx context.Context) error {
	if r.current != nil {
		if err := r.current.Close(); err != nil {
			r.logger.Debug("closing stale repository", zap.Error(err))
		}
		r.current = nil
	}
	repo, err := r.open(ctx)
	if err != nil {
		r.healthy = false
		return fmt.Errorf("failed to open repository: %w", err)
	}
	r.current = repo
	r.healthy = true
	r.lastChecked = time.Now()
	return nil
}

func (r *Resilient) markUnhealthy() {
	r.mu.Lock()
	r.healthy = false
	r.mu.Unlock()
}

// isPermanent reports errors that a reconnect cannot fix.
func isPermanent(err error) bool {
	return errors.Is(err, domain.ErrNotFound) ||
		errors.Is(err, domain.ErrStale) ||
		errors.Is(err, domain.ErrMalformedInput) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}

func call[T any](ctx context.Context, r *Resilient, name string, fn func(Repository) (T, error)) (T, error) {
	return retry.Do(ctx, r.logger, name, r.policy, func() (T, error) {
		repo, err := r.acquire(ctx)
		if err != nil {
			var zero T
			return zero, err
		}
		res, err := fn(repo)
		if err != nil {
			if isPermanent(err) {
				return res, retry.Permanent(err)
			}
			r.markUnhealthy()
		}
		return res, err
	})
}

func exec(ctx context.Context, r *Resilient, name string, fn func(Repository) error) error {
	_, err := call(ctx, r, name, func(repo Repository) (struct{}, error) {
		return struct{}{}, fn(repo)
	})
	return err
}

// Ping implements Repository
func (r *Resilient) Ping(ctx context.Context) error {
	_, err := r.acquire(ctx)
	return err
}

// GetEntity implements Repository
func (r *Resilient) GetEntity(ctx context.Context, id string) (*domain.EntityRef, error) {
	return call(ctx, r, "get entity", func(repo Repository) (*domain.EntityRef, error) {
		return repo.GetEntity(ctx, id)
	})
}

// CreateEntity implements Repository
func (r *Resilient) CreateEntity(ctx context.Context, entity domain.EntityRef, state domain.State, rel domain.RelRef) (bool, error) {
	return call(ctx, r, "create entity", func(repo Repository) (bool, error) {
		return repo.CreateEntity(ctx, entity, state, rel)
	})
}

// GetState implements Repository
func (r *Resilient) GetState(ctx context.Context, id string) (*domain.State, error) {
	return call(ctx, r, "get state", func(repo Repository) (*domain.State, error) {
		return repo.GetState(ctx, id)
	})
}

// SupersedeState implements Repository
func (r *Resilient) SupersedeState(ctx context.Context, oldRelID string, state domain.State, rel domain.RelRef) error {
	return exec(ctx, r, "supersede state", func(repo Repository) error {
		return repo.SupersedeState(ctx, oldRelID, state, rel)
	})
}

// ReopenState implements Repository
func (r *Resilient) ReopenState(ctx context.Context, state domain.State, rel domain.RelRef) error {
	return exec(ctx, r, "reopen state", func(repo Repository) error {
		return repo.ReopenState(ctx, state, rel)
	})
}

// CreateRelationship implements Repository
func (r *Resilient) CreateRelationship(ctx context.Context, rel domain.RelRef) error {
	return exec(ctx, r, "create relationship", func(repo Repository) error {
		return repo.CreateRelationship(ctx, rel)
	})
}

// CloseRelationship implements Repository
func (r *Resilient) CloseRelationship(ctx context.Context, id string, at int64) error {
	return exec(ctx, r, "close relationship", func(repo Repository) error {
		return repo.CloseRelationship(ctx, id, at)
	})
}

// FindRelationships implements Repository
func (r *Resilient) FindRelationships(ctx context.Context, filter Filter) ([]domain.RelRef, error) {
	return call(ctx, r, "find relationships", func(repo Repository) ([]domain.RelRef, error) {
		return repo.FindRelationships(ctx, filter)
	})
}

// FindSnapshots implements Repository
func (r *Resilient) FindSnapshots(ctx context.Context, filter Filter) ([]Snapshot, error) {
	return call(ctx, r, "find snapshots", func(repo Repository) ([]Snapshot, error) {
		return repo.FindSnapshots(ctx, filter)
	})
}

// DeleteAll implements Repository
func (r *Resilient) DeleteAll(ctx context.Context) error {
	return exec(ctx, r, "delete all", func(repo Repository) error {
		return repo.DeleteAll(ctx)
	})
}

// Close implements Repository
func (r *Resilient) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	r.healthy = false
	return err
}
