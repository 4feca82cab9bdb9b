// Package collector keeps one resource domain of the landscape up to date.
// A collector populates the store once at startup (Init) and then applies
// the events it subscribed to (Update).
package collector

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	"landscaper/internal/config"
	"landscaper/internal/hub"
	"landscaper/internal/metrics"
	"landscaper/internal/store"
)

// Collector maps an external resource domain onto the store
type Collector interface {
	Name() string
	// Events lists the hub events the collector subscribes to.
	Events() []string
	Init(ctx context.Context) error
	Update(ctx context.Context, ev hub.Event) error
}

// Deps are handed to every collector factory
type Deps struct {
	Store   *store.Store
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *metrics.Registry
}

func (d Deps) logger(name string) *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger.Named(name)
}

// Factory builds a collector from its dependencies
type Factory func(Deps) (Collector, error)

// Registry maps configuration names to collector factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry holding every built-in collector
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for name, f := range map[string]Factory{
		PhysicalHostName:    NewPhysicalHost,
		PhysicalNetworkName: NewPhysicalNetwork,
		InstanceName:        NewInstance,
		VolumeName:          NewVolume,
		NetscanName:         NewNetscan,
	} {
		// names are unique in the literal above
		_ = r.Register(name, f)
	}
	return r
}

// Register adds a factory under name
func (r *Registry) Register(name string, f Factory) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("collector %s already registered", name)
	}
	r.factories[name] = f
	return nil
}

// Build constructs the collector registered under name
func (r *Registry) Build(name string, deps Deps) (Collector, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("collector %s not registered", name)
	}
	c, err := f(deps)
	if err != nil {
		return nil, fmt.Errorf("failed to create collector %s: %w", name, err)
	}
	return c, nil
}

// Names lists the registered collector names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// keyedMutex serialises work per key
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	sync.Mutex
	refs int
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*keyedLock)
	}
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
