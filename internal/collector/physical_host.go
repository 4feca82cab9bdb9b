package collector

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/metrics"
	"landscaper/internal/remote"
	"landscaper/internal/store"
	"landscaper/internal/topology"
	"landscaper/internal/watcher"
)

// PhysicalHostName is the configuration name of the physical host collector
const PhysicalHostName = "physical_host"

// PhysicalHost builds each machine's hardware topology into the physical
// layer
type PhysicalHost struct {
	store   *store.Store
	source  topology.Source
	builder *topology.Builder
	limit   int
	hosts   keyedMutex
	logger  *zap.Logger
	metrics *metrics.Registry
}

// NewPhysicalHost reads hwloc documents over SSH when remote collection is
// enabled and from the configured folders otherwise.
func NewPhysicalHost(deps Deps) (Collector, error) {
	cfg := deps.Config.PhysicalLayer
	logger := deps.logger(PhysicalHostName)

	var src topology.Source = topology.DirSource{
		HWLocDir:   cfg.HWLocFolder,
		CPUInfoDir: cfg.CPUInfoFolder,
	}
	if cfg.Remote.Enabled {
		ssh, err := remote.NewSSHSource(remote.Config{
			Hosts:          cfg.Remote.Hosts,
			User:           cfg.Remote.User,
			KeyPath:        cfg.Remote.KeyPath,
			KnownHostsPath: cfg.Remote.KnownHostsPath,
			Port:           cfg.Remote.Port,
			Timeout:        cfg.Remote.Timeout.Duration(),
			Retry:          cfg.Remote.Retry.Policy(),
		}, logger)
		if err != nil {
			return nil, err
		}
		src = ssh
	}

	return newPhysicalHost(deps, src), nil
}

func newPhysicalHost(deps Deps, src topology.Source) *PhysicalHost {
	cfg := deps.Config.PhysicalLayer
	logger := deps.logger(PhysicalHostName)
	limit := cfg.MaxConcurrent
	if limit < 1 {
		limit = 1
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &PhysicalHost{
		store:   deps.Store,
		source:  src,
		builder: topology.NewBuilder(logger, topology.WithFilter(cfg.TypesToFilter...)),
		limit:   limit,
		logger:  logger,
		metrics: m,
	}
}

// Name implements Collector
func (p *PhysicalHost) Name() string { return PhysicalHostName }

// Events implements Collector
func (p *PhysicalHost) Events() []string {
	return []string{watcher.EventHostAdded, watcher.EventHostRemoved}
}

// Init adds every machine the source knows about. Hosts that fail to build
// are logged and skipped.
func (p *PhysicalHost) Init(ctx context.Context) error {
	machines, err := p.source.Machines(ctx)
	if err != nil {
		return fmt.Errorf("failed to list machines: %w", err)
	}
	p.logger.Info("adding physical machines", zap.Int("count", len(machines)))

	ts := p.store.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.limit)
	for _, host := range machines {
		g.Go(func() error {
			if err := p.addHost(gctx, host, ts); err != nil {
				if errors.Is(err, context.Canceled) {
					return err
				}
				p.logger.Error("failed to add machine", zap.String("host", host), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	p.logger.Info("finished adding physical machines")
	return nil
}

// Update adds or removes the machine named by the hwloc file in the event
// body.
func (p *PhysicalHost) Update(ctx context.Context, ev hub.Event) error {
	host, ok := topology.MachineFromPath(string(ev.Body))
	if !ok {
		p.logger.Debug("ignoring non hwloc file", zap.ByteString("path", ev.Body))
		return nil
	}

	switch ev.Name {
	case watcher.EventHostAdded:
		return p.addHost(ctx, host, ev.Timestamp())
	case watcher.EventHostRemoved:
		return p.removeHost(ctx, host, ev.Timestamp())
	default:
		return nil
	}
}

func (p *PhysicalHost) addHost(ctx context.Context, host string, ts int64) error {
	unlock := p.hosts.Lock(host)
	defer unlock()

	existing, err := p.store.GetNodeByUUID(ctx, host)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if existing != nil {
		p.logger.Warn("machine already in the landscape, skipping", zap.String("host", host))
		p.metrics.HostBuildsTotal.WithLabelValues("skipped").Inc()
		return nil
	}

	start := time.Now()
	graph, err := p.builder.BuildHost(ctx, p.source, host)
	if err != nil {
		p.metrics.HostBuildsTotal.WithLabelValues("failed").Inc()
		return err
	}
	if err := topology.Commit(ctx, p.store, graph, ts); err != nil {
		p.metrics.HostBuildsTotal.WithLabelValues("failed").Inc()
		return err
	}
	p.metrics.HostBuildDuration.Observe(time.Since(start).Seconds())
	p.metrics.HostBuildsTotal.WithLabelValues("committed").Inc()

	p.logger.Info("machine added", zap.String("host", host), zap.Int("components", graph.Len()))
	return nil
}

// removeHost expires the machine and every component allocated to it.
func (p *PhysicalHost) removeHost(ctx context.Context, host string, ts int64) error {
	unlock := p.hosts.Lock(host)
	defer unlock()

	machine, err := p.store.GetNodeByUUID(ctx, host)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	if machine == nil {
		p.logger.Error("machine not in the landscape to delete", zap.String("host", host))
		return nil
	}

	components, err := p.store.GetNodesByProperties(ctx, domain.Attributes{"allocation": host})
	if err != nil {
		return fmt.Errorf("failed to find components of %s: %w", host, err)
	}

	targets := []domain.EntityRef{*machine}
	for _, c := range components {
		if c.ID != host {
			targets = append(targets, c)
		}
	}

	closed := 0
	for _, c := range targets {
		n, err := p.store.DeleteNode(ctx, &c, ts)
		if err != nil {
			return err
		}
		closed += n
	}

	p.logger.Info("machine deleted", zap.String("host", host), zap.Int("relationships", closed))
	return nil
}
