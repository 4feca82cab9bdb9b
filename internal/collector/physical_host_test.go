package collector

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landscaper/internal/domain"
	"landscaper/internal/watcher"
)

var node1Components = []string{
	"node1",
	"node1_package_0",
	"node1_core_0",
	"node1_pu_0",
	"node1_pcidev_0",
	"node1_osdev_0",
}

func newPhysicalHostFixture(t *testing.T) (*PhysicalHost, Deps, string) {
	t.Helper()
	dir := t.TempDir()
	deps := newDeps(t)
	deps.Config.PhysicalLayer.HWLocFolder = dir
	deps.Config.PhysicalLayer.CPUInfoFolder = dir

	c, err := NewPhysicalHost(deps)
	require.NoError(t, err)
	return c.(*PhysicalHost), deps, dir
}

func TestPhysicalHostInit(t *testing.T) {
	c, deps, dir := newPhysicalHostFixture(t)
	writeHost(t, dir, "node1", hostHWLoc)
	writeHost(t, dir, "node2", hostHWLoc)
	writeHost(t, dir, "broken", "<topology><object")

	require.NoError(t, c.Init(ctx))

	g, err := deps.Store.GetGraph(ctx, 1000, 0)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 12)
	for _, id := range node1Components {
		_, ok := g.Node(id)
		assert.True(t, ok, id)
	}
	assert.True(t, g.HasEdge("node1", "node1_package_0"))

	assert.Equal(t, 2.0, testutil.ToFloat64(deps.Metrics.HostBuildsTotal.WithLabelValues("committed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.HostBuildsTotal.WithLabelValues("failed")))
}

func TestPhysicalHostEvents(t *testing.T) {
	c, deps, dir := newPhysicalHostFixture(t)
	assert.Equal(t, []string{watcher.EventHostAdded, watcher.EventHostRemoved}, c.Events())

	path := writeHost(t, dir, "node1", hostHWLoc)
	require.NoError(t, c.Update(ctx, event(watcher.EventHostAdded, path, 1500)))

	g, err := deps.Store.GetGraph(ctx, 1500, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, node1Components, g.NodeIDs())

	// a second add of a known machine is skipped
	require.NoError(t, c.Update(ctx, event(watcher.EventHostAdded, path, 1600)))
	assert.Equal(t, 1.0, testutil.ToFloat64(deps.Metrics.HostBuildsTotal.WithLabelValues("skipped")))

	// files that are not hwloc documents are ignored
	require.NoError(t, c.Update(ctx, event(watcher.EventHostRemoved, dir+"/node1_cpuinfo.txt", 1700)))

	require.NoError(t, c.Update(ctx, event(watcher.EventHostRemoved, path, 2000)))

	g, err = deps.Store.GetGraph(ctx, 2000, 0)
	require.NoError(t, err)
	assert.Empty(t, g.Nodes)

	// history before the removal is intact
	g, err = deps.Store.GetGraph(ctx, 1800, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, node1Components, g.NodeIDs())

	machine, err := deps.Store.GetNodeByUUID(ctx, "node1")
	require.NoError(t, err)
	assert.NotNil(t, machine, "identity records persist")
}

func TestPhysicalHostRemoveKeepsOtherHosts(t *testing.T) {
	c, deps, dir := newPhysicalHostFixture(t)
	path := writeHost(t, dir, "node1", hostHWLoc)
	writeHost(t, dir, "node2", hostHWLoc)
	require.NoError(t, c.Init(ctx))

	require.NoError(t, c.Update(ctx, event(watcher.EventHostRemoved, path, 2000)))

	g, err := deps.Store.GetGraph(ctx, 2000, 0)
	require.NoError(t, err)
	assert.Len(t, g.Nodes, 6)
	_, ok := g.Node("node2_pu_0")
	assert.True(t, ok)

	// removing an unknown machine is not an error
	require.NoError(t, c.Update(ctx, event(watcher.EventHostRemoved, dir+"/node9_hwloc.xml", 2100)))
}

func TestPhysicalHostAddMissingDocument(t *testing.T) {
	c, deps, dir := newPhysicalHostFixture(t)

	err := c.Update(ctx, event(watcher.EventHostAdded, dir+"/ghost_hwloc.xml", 1500))
	assert.Error(t, err)

	e, err := deps.Store.GetNodeByUUID(ctx, "ghost")
	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestPhysicalHostFilter(t *testing.T) {
	dir := t.TempDir()
	deps := newDeps(t)
	deps.Config.PhysicalLayer.HWLocFolder = dir
	deps.Config.PhysicalLayer.TypesToFilter = []string{"Core"}
	writeHost(t, dir, "node1", hostHWLoc)

	c, err := NewPhysicalHost(deps)
	require.NoError(t, err)
	require.NoError(t, c.Init(ctx))

	g, err := deps.Store.GetGraph(ctx, 1000, 0)
	require.NoError(t, err)
	_, ok := g.Node("node1_core_0")
	assert.False(t, ok)
	assert.True(t, g.HasEdge("node1_package_0", "node1_pu_0"))

	pu, err := deps.Store.GetNodeByUUIDWeb(ctx, "node1_pu_0", 1000)
	require.NoError(t, err)
	require.NotNil(t, pu)
	assert.Equal(t, "node1", pu.Attributes["allocation"])
	assert.Equal(t, domain.LayerPhysical, pu.Layer)
}
