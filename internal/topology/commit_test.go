package topology

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"landscaper/internal/domain"
	"landscaper/internal/repository/memory"
	"landscaper/internal/store"
)

func TestCommit(t *testing.T) {
	ctx := context.Background()
	s := store.New(memory.New(), store.WithLogger(zaptest.NewLogger(t)))

	g := NewGraph()
	g.AddNode(&Node{Name: "h", Category: domain.CategoryCompute, Type: "machine", Attributes: domain.Attributes{"allocation": "h"}})
	g.AddNode(&Node{Name: "h_core_0", Category: domain.CategoryCompute, Type: "core", Attributes: domain.Attributes{"allocation": "h"}})
	g.AddNode(&Node{Name: "h_pu_0", Category: domain.CategoryCompute, Type: "pu", Attributes: domain.Attributes{"allocation": "h"}})
	g.AddEdge("h", "h_core_0", domain.LabelInternal)
	g.AddEdge("h_core_0", "h_pu_0", "")

	require.NoError(t, Commit(ctx, s, g, 100))

	out, err := s.GetGraph(ctx, 100, 0)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"h", "h_core_0", "h_pu_0"}, out.NodeIDs())
	require.Len(t, out.Edges, 2)

	labels := map[string]domain.Label{}
	for _, e := range out.Edges {
		labels[e.Source+">"+e.Target] = e.Label
	}
	assert.Equal(t, domain.LabelInternal, labels["h>h_core_0"])
	assert.Equal(t, domain.LabelLinksTo, labels["h_core_0>h_pu_0"])

	// committing again leaves the history untouched
	require.NoError(t, Commit(ctx, s, g, 200))
	out, err = s.GetGraph(ctx, 200, 0)
	require.NoError(t, err)
	assert.Len(t, out.Edges, 2)
	for _, e := range out.Edges {
		assert.Equal(t, int64(100), e.From)
	}
}

func TestDirSource(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node2_hwloc.xml"), []byte(sampleHWLoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node1_hwloc.xml"), []byte(sampleHWLoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "node1_cpuinfo.txt"), []byte(sampleCPUInfo), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	src := DirSource{HWLocDir: dir}
	hosts, err := src.Machines(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"node1", "node2"}, hosts)

	_, err = src.CPUInfo(ctx, "node2")
	assert.ErrorIs(t, err, ErrNoDescription)

	b := NewBuilder(zaptest.NewLogger(t))
	g, err := b.BuildHost(ctx, src, "node1")
	require.NoError(t, err)
	pu, ok := g.Node("node1_pu_0")
	require.True(t, ok)
	assert.Equal(t, "genuineintel", pu.Attributes["vendor_id"])

	g, err = b.BuildHost(ctx, src, "node2")
	require.NoError(t, err)
	assert.Equal(t, 12, g.Len())

	_, err = b.BuildHost(ctx, src, "node3")
	assert.ErrorIs(t, err, ErrNoDescription)
}

func TestMachineFromPath(t *testing.T) {
	host, ok := MachineFromPath("/data/hwloc/compute-1_hwloc.xml")
	assert.True(t, ok)
	assert.Equal(t, "compute-1", host)

	_, ok = MachineFromPath("/data/hwloc/_hwloc.xml")
	assert.False(t, ok)
	_, ok = MachineFromPath(strings.Repeat("x", 3) + ".xml")
	assert.False(t, ok)
}
