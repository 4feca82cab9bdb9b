package service

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"landscaper/internal/collector"
	"landscaper/internal/config"
	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/repository/memory"
	"landscaper/internal/store"
)

var ctx = context.Background()

func newStore(t *testing.T) *store.Store {
	t.Helper()
	return store.New(memory.New(), store.WithLogger(zaptest.NewLogger(t)), store.WithClock(func() int64 { return 1000 }))
}

// recorder is a collector that records what happened to it
type recorder struct {
	name    string
	events  []string
	initErr error
	order   *[]string

	mu      sync.Mutex
	updates []hub.Event
	got     chan struct{}
}

func (r *recorder) Name() string     { return r.name }
func (r *recorder) Events() []string { return r.events }

func (r *recorder) Init(context.Context) error {
	*r.order = append(*r.order, r.name)
	return r.initErr
}

func (r *recorder) Update(_ context.Context, ev hub.Event) error {
	r.mu.Lock()
	r.updates = append(r.updates, ev)
	r.mu.Unlock()
	if r.got != nil {
		r.got <- struct{}{}
	}
	return nil
}

// scripted is a listener that emits its events once and then waits
type scripted struct {
	events []string
	out    hub.Dispatcher
	err    error
}

func (s *scripted) Name() string     { return "scripted" }
func (s *scripted) Events() []string { return s.events }

func (s *scripted) Listen(ctx context.Context) error {
	if s.err != nil {
		return s.err
	}
	for _, name := range s.events {
		if err := s.out.Dispatch(ctx, hub.Event{Name: name, Body: []byte(name)}); err != nil {
			return err
		}
	}
	<-ctx.Done()
	return ctx.Err()
}

func testManager(t *testing.T, st *store.Store, collectors []*recorder, listenErr error) (*Manager, error) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.General.Collectors = nil
	cfg.General.Listeners = []string{"scripted"}

	reg := collector.NewRegistry()
	for _, c := range collectors {
		cfg.General.Collectors = append(cfg.General.Collectors, c.name)
		require.NoError(t, reg.Register(c.name, func(collector.Deps) (collector.Collector, error) { return c, nil }))
	}
	listeners := map[string]ListenerFactory{
		"scripted": func(_ *config.Config, out hub.Dispatcher, _ *zap.Logger) (hub.Listener, error) {
			return &scripted{events: []string{"a.happened", "b.happened"}, out: out, err: listenErr}, nil
		},
	}
	return NewManager(cfg, st, zaptest.NewLogger(t), WithRegistry(reg), WithListenerFactories(listeners))
}

func TestManagerInitialize(t *testing.T) {
	st := newStore(t)
	_, err := st.AddNode(ctx, "stale", domain.Attributes{"type": "vm"}, domain.Attributes{}, 10)
	require.NoError(t, err)

	var order []string
	first := &recorder{name: "first", order: &order}
	second := &recorder{name: "second", order: &order}

	m, err := testManager(t, st, []*recorder{first, second}, nil)
	require.NoError(t, err)
	require.NoError(t, m.Initialize(ctx))

	assert.Equal(t, []string{"first", "second"}, order)

	e, err := st.GetNodeByUUID(ctx, "stale")
	require.NoError(t, err)
	assert.Nil(t, e, "store is flushed before collectors run")
}

func TestManagerInitializeStopsOnFailure(t *testing.T) {
	var order []string
	failing := &recorder{name: "failing", order: &order, initErr: domain.ErrUpstreamUnavailable}
	never := &recorder{name: "never", order: &order}

	m, err := testManager(t, newStore(t), []*recorder{failing, never}, nil)
	require.NoError(t, err)

	err = m.Initialize(ctx)
	assert.ErrorIs(t, err, domain.ErrUpstreamUnavailable)
	assert.Equal(t, []string{"failing"}, order)
}

func TestManagerRunDeliversInOrder(t *testing.T) {
	var order []string
	c := &recorder{
		name:   "c",
		events: []string{"a.happened", "b.happened", "never.emitted"},
		order:  &order,
		got:    make(chan struct{}, 2),
	}
	m, err := testManager(t, newStore(t), []*recorder{c}, nil)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.happened", "b.happened"}, m.Hub().Events())

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- m.Run(runCtx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-c.got:
		case <-time.After(5 * time.Second):
			t.Fatal("event not delivered")
		}
	}
	cancel()
	require.NoError(t, <-done)

	c.mu.Lock()
	defer c.mu.Unlock()
	require.Len(t, c.updates, 2)
	assert.Equal(t, "a.happened", c.updates[0].Name)
	assert.Equal(t, "b.happened", c.updates[1].Name)
}

func TestManagerRunListenerFailure(t *testing.T) {
	m, err := testManager(t, newStore(t), nil, errors.New("broker down"))
	require.NoError(t, err)

	err = m.Run(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broker down")
}

func TestNewManagerUnknownNames(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.General.Listeners = []string{"carrier_pigeon"}
	_, err := NewManager(cfg, newStore(t), zap.NewNop())
	assert.Error(t, err)

	cfg = config.DefaultConfig()
	cfg.General.Listeners = nil
	cfg.General.Collectors = []string{"containers"}
	_, err = NewManager(cfg, newStore(t), zap.NewNop())
	assert.Error(t, err)
}

func TestDefaultListeners(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.General.Listeners = []string{"hwloc_watcher", "notifications", "netscan_ticker"}
	cfg.General.Collectors = []string{"instance", "volume", "netscan"}

	m, err := NewManager(cfg, newStore(t), zaptest.NewLogger(t))
	require.NoError(t, err)

	events := m.Hub().Events()
	assert.Contains(t, events, "host.added")
	assert.Contains(t, events, "compute.instance.create.end")
	assert.Contains(t, events, collector.EventNetscanTick)

	cfg.Netscan.Interval = 0
	_, err = NewManager(cfg, newStore(t), zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestGraphServiceQueries(t *testing.T) {
	st := newStore(t)
	host, err := st.AddNode(ctx, "node1", domain.Attributes{"layer": "physical", "type": "machine"}, domain.Attributes{"rack": "r1"}, 100)
	require.NoError(t, err)
	vm, err := st.AddNode(ctx, "vm1", domain.Attributes{"layer": "virtual", "type": "vm"}, domain.Attributes{"vcpu": 2}, 100)
	require.NoError(t, err)
	_, err = st.AddEdge(ctx, vm, host, 100, domain.LabelDeployedOn)
	require.NoError(t, err)

	svc := NewGraphService(st, zaptest.NewLogger(t))

	node, err := svc.GetNode(ctx, "vm1", 150)
	require.NoError(t, err)
	assert.EqualValues(t, 2, node.Attributes["vcpu"])

	_, err = svc.GetNode(ctx, "vm1", 50)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	_, err = svc.GetGraph(ctx, -1, 0)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	_, err = svc.GetSubgraph(ctx, "vm1", 100, -5)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	_, err = svc.GetSubgraph(ctx, "vm9", 100, 0)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	sub, err := svc.GetSubgraph(ctx, "vm1", 150, 0)
	require.NoError(t, err)
	assert.True(t, sub.HasEdge("vm1", "node1"))

	found, err := svc.FindNodes(ctx, domain.Attributes{"rack": "r1"}, 150, 0)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "node1", found[0].ID)
	assert.Equal(t, "r1", found[0].Attributes["rack"])

	found, err = svc.FindNodes(ctx, domain.Attributes{"rack": "r1"}, 50, 0)
	require.NoError(t, err)
	assert.Empty(t, found)

	found, err = svc.FindNodes(ctx, domain.Attributes{"rack": "r9"}, 150, 0)
	require.NoError(t, err)
	assert.NotNil(t, found)
	assert.Empty(t, found)

	_, err = svc.FindNodes(ctx, nil, 150, 0)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
	_, err = svc.FindNodes(ctx, domain.Attributes{"rack": "r1"}, -1, 0)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	preds, err := svc.Predecessors(ctx, "node1", 150)
	require.NoError(t, err)
	require.Len(t, preds, 1)
	assert.Equal(t, "vm1", preds[0].ID)

	succ, err := svc.Successors(ctx, "node1", 150)
	require.NoError(t, err)
	assert.NotNil(t, succ)
	assert.Empty(t, succ)
}

func TestGraphServiceExportImport(t *testing.T) {
	src := newStore(t)
	host, err := src.AddNode(ctx, "node1", domain.Attributes{"layer": "physical", "category": "compute", "type": "machine"}, domain.Attributes{"rack": "r1"}, 100)
	require.NoError(t, err)
	vm, err := src.AddNode(ctx, "vm1", domain.Attributes{"layer": "virtual", "category": "compute", "type": "vm"}, domain.Attributes{"vcpu": 2}, 100)
	require.NoError(t, err)
	_, err = src.AddEdge(ctx, vm, host, 120, domain.LabelDeployedOn)
	require.NoError(t, err)

	for _, format := range []string{"json", "yaml"} {
		t.Run(format, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, NewGraphService(src, nil).Export(ctx, &buf, format, 150, 0))

			dst := newStore(t)
			svc := NewGraphService(dst, zaptest.NewLogger(t))
			res, err := svc.Import(ctx, &buf, format, 100)
			require.NoError(t, err)
			assert.Equal(t, 2, res.NodesCreated)
			assert.Equal(t, 1, res.EdgesCreated)

			g, err := svc.GetGraph(ctx, 150, 0)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{"node1", "vm1"}, g.NodeIDs())
			require.Len(t, g.Edges, 1)
			assert.Equal(t, int64(120), g.Edges[0].From)
			assert.Equal(t, domain.LabelDeployedOn, g.Edges[0].Label)

			node, err := svc.GetNode(ctx, "vm1", 150)
			require.NoError(t, err)
			assert.Equal(t, domain.LayerVirtual, node.Layer)
			assert.EqualValues(t, 2, node.Attributes["vcpu"])
		})
	}

	_, err = NewGraphService(src, nil).Import(ctx, bytes.NewBufferString("{"), "json", 100)
	assert.ErrorIs(t, err, domain.ErrMalformedInput)

	assert.Error(t, NewGraphService(src, nil).Export(ctx, &bytes.Buffer{}, "dot", 150, 0))
}
