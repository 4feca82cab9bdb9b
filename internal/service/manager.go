package service

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"landscaper/internal/collector"
	"landscaper/internal/config"
	"landscaper/internal/hub"
	"landscaper/internal/metrics"
	"landscaper/internal/notify"
	"landscaper/internal/store"
	"landscaper/internal/watcher"
)

// ListenerFactory builds a listener that dispatches into out
type ListenerFactory func(cfg *config.Config, out hub.Dispatcher, logger *zap.Logger) (hub.Listener, error)

// DefaultListeners maps listener names to their factories
func DefaultListeners() map[string]ListenerFactory {
	return map[string]ListenerFactory{
		"hwloc_watcher": func(cfg *config.Config, out hub.Dispatcher, logger *zap.Logger) (hub.Listener, error) {
			return watcher.New(cfg.PhysicalLayer.HWLocFolder, out, logger), nil
		},
		"notifications": func(cfg *config.Config, out hub.Dispatcher, logger *zap.Logger) (hub.Listener, error) {
			return notify.New(notify.Config{
				URL:      cfg.NATS.URL,
				Subjects: cfg.NATS.Subjects,
				Queue:    cfg.NATS.Queue,
				Retry:    cfg.NATS.Retry.Policy(),
			}, out, logger), nil
		},
		"netscan_ticker": func(cfg *config.Config, out hub.Dispatcher, _ *zap.Logger) (hub.Listener, error) {
			interval := cfg.Netscan.Interval.Duration()
			if interval <= 0 {
				return nil, fmt.Errorf("netscan interval must be positive")
			}
			return hub.NewTicker("netscan_ticker", collector.EventNetscanTick, interval, out), nil
		},
	}
}

// Manager runs the collectors and listeners of one landscape
type Manager struct {
	cfg        *config.Config
	store      *store.Store
	hub        *hub.Hub
	collectors []collector.Collector
	listeners  []hub.Listener
	logger     *zap.Logger
}

// ManagerOption configures a Manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	registry  *collector.Registry
	listeners map[string]ListenerFactory
	metrics   *metrics.Registry
}

// WithRegistry replaces the built-in collectors
func WithRegistry(r *collector.Registry) ManagerOption {
	return func(o *managerOptions) { o.registry = r }
}

// WithListenerFactories replaces the built-in listeners
func WithListenerFactories(f map[string]ListenerFactory) ManagerOption {
	return func(o *managerOptions) { o.listeners = f }
}

// WithMetrics sets the metrics registry shared with the hub and collectors
func WithMetrics(m *metrics.Registry) ManagerOption {
	return func(o *managerOptions) { o.metrics = m }
}

// NewManager builds the configured collectors and listeners and subscribes
// each collector to the events it handles.
func NewManager(cfg *config.Config, st *store.Store, logger *zap.Logger, opts ...ManagerOption) (*Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	o := managerOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.registry == nil {
		o.registry = collector.DefaultRegistry()
	}
	if o.listeners == nil {
		o.listeners = DefaultListeners()
	}
	if o.metrics == nil {
		o.metrics = metrics.New()
	}

	m := &Manager{
		cfg:    cfg,
		store:  st,
		hub:    hub.New(logger, o.metrics, cfg.General.QueueSize),
		logger: logger.With(zap.String("component", "manager")),
	}

	for _, name := range cfg.General.Listeners {
		factory, ok := o.listeners[name]
		if !ok {
			return nil, fmt.Errorf("listener %s not registered", name)
		}
		l, err := factory(cfg, m.hub, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create listener %s: %w", name, err)
		}
		m.hub.RegisterEvent(l.Events()...)
		m.listeners = append(m.listeners, l)
	}

	deps := collector.Deps{Store: st, Config: cfg, Logger: logger, Metrics: o.metrics}
	for _, name := range cfg.General.Collectors {
		c, err := o.registry.Build(name, deps)
		if err != nil {
			return nil, err
		}
		for _, ev := range c.Events() {
			if err := m.hub.Subscribe(ev, c); err != nil {
				m.logger.Warn("no listener emits event",
					zap.String("collector", c.Name()), zap.String("event", ev))
			}
		}
		m.collectors = append(m.collectors, c)
	}

	return m, nil
}

// Hub returns the event hub
func (m *Manager) Hub() *hub.Hub {
	return m.hub
}

// Initialize flushes the store when configured and populates it through
// every collector, in configuration order. The first failure is returned.
func (m *Manager) Initialize(ctx context.Context) error {
	if m.cfg.General.Flush {
		m.logger.Info("flushing the landscape")
		if err := m.store.DeleteAll(ctx); err != nil {
			return err
		}
	}

	for _, c := range m.collectors {
		m.logger.Info("initialising collector", zap.String("collector", c.Name()))
		if err := c.Init(ctx); err != nil {
			return fmt.Errorf("collector %s: %w", c.Name(), err)
		}
	}
	return nil
}

// Run delivers events and runs the listeners until ctx is cancelled or a
// listener fails.
func (m *Manager) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		m.hub.Run(gctx)
		return nil
	})
	for _, l := range m.listeners {
		g.Go(func() error {
			m.logger.Info("starting listener", zap.String("listener", l.Name()))
			err := l.Listen(gctx)
			if err == nil || errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("listener %s: %w", l.Name(), err)
		})
	}

	return g.Wait()
}
