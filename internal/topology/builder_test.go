package topology

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"landscaper/internal/domain"
)

const sampleHWLoc = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE topology SYSTEM "hwloc.dtd">
<topology>
  <object type="Machine" os_index="0">
    <info name="DMIProductName" value="PowerEdge R640"/>
    <object type="Package" os_index="0">
      <object type="Cache" depth="2" cache_size="1048576">
        <object type="Cache" depth="1" cache_size="32768" cache_type="1">
          <object type="Cache" depth="1" cache_size="32768" cache_type="2">
            <object type="Core" os_index="0">
              <object type="PU" os_index="0"/>
              <object type="PU" os_index="1"/>
            </object>
          </object>
        </object>
      </object>
    </object>
    <object type="Bridge" os_index="0">
      <object type="PCIDev" pci_busid="0000:3b:00.0">
        <object type="OSDev" name="eth0" osdev_type="2">
          <info name="Address" value="AA:BB:CC:DD:EE:FF"/>
        </object>
        <object type="OSDev" name="sda" osdev_type="0"/>
      </object>
    </object>
  </object>
</topology>`

const sampleCPUInfo = `processor	: 0
vendor_id	: GenuineIntel
model name	: Intel(R) Xeon(R) Gold 6130 CPU @ 2.10GHz
cpu MHz		: 2100.000

processor	: 1
vendor_id	: GenuineIntel
cpu MHz		: 1800.000
`

func build(t *testing.T, opts ...BuilderOption) *Graph {
	t.Helper()
	b := NewBuilder(zaptest.NewLogger(t), opts...)
	g, err := b.Build("node1", strings.NewReader(sampleHWLoc), strings.NewReader(sampleCPUInfo))
	require.NoError(t, err)
	return g
}

func TestBuildNaming(t *testing.T) {
	g := build(t)

	names := make([]string, 0, g.Len())
	for _, n := range g.Nodes() {
		names = append(names, n.Name)
	}
	assert.Equal(t, []string{
		"node1",
		"node1_package_0",
		"node1_cache_0",
		"node1_cache_1",
		"node1_cache_2",
		"node1_core_0",
		"node1_pu_0",
		"node1_pu_1",
		"node1_bridge_0",
		"node1_pcidev_0",
		"node1_osdev_0",
		"node1_osdev_1",
	}, names)
}

func TestBuildAttributes(t *testing.T) {
	g := build(t)

	machine, ok := g.Node("node1")
	require.True(t, ok)
	assert.Equal(t, "machine", machine.Type)
	assert.Equal(t, domain.CategoryCompute, machine.Category)
	assert.Equal(t, "poweredge r640", machine.Attributes["dmiproductname"])
	assert.Equal(t, "node1", machine.Attributes["allocation"])
	assert.NotContains(t, machine.Attributes, "type")

	nic, ok := g.Node("node1_osdev_0")
	require.True(t, ok)
	assert.Equal(t, "osdev_network", nic.Type)
	assert.Equal(t, domain.CategoryNetwork, nic.Category)
	assert.Equal(t, "aa:bb:cc:dd:ee:ff", nic.Attributes["address"])
	assert.Equal(t, "eth0", nic.Attributes["name"])

	disk, ok := g.Node("node1_osdev_1")
	require.True(t, ok)
	assert.Equal(t, "osdev_storage", disk.Type)
	assert.Equal(t, domain.CategoryStorage, disk.Category)

	assert.Equal(t, domain.Attributes{
		domain.KeyLayer:    "physical",
		domain.KeyCategory: "network",
		domain.KeyType:     "osdev_network",
	}, nic.Identity())
}

func TestBuildCacheNesting(t *testing.T) {
	g := build(t)

	// the second L1 cache sits beside the first, under L2
	assert.False(t, g.HasEdge("node1_cache_1", "node1_cache_2"))
	assert.True(t, g.HasEdge("node1_cache_0", "node1_cache_1"))
	assert.True(t, g.HasEdge("node1_cache_0", "node1_cache_2"))

	// the core keeps an edge from both L1 caches
	assert.ElementsMatch(t, []string{"node1_cache_2", "node1_cache_1"}, g.Predecessors("node1_core_0"))

	label, ok := g.Label("node1_cache_0", "node1_cache_2")
	require.True(t, ok)
	assert.Equal(t, domain.LabelInternal, label)
}

func TestBuildCPUInfo(t *testing.T) {
	g := build(t)

	pu0, ok := g.Node("node1_pu_0")
	require.True(t, ok)
	assert.Equal(t, "0", pu0.Attributes["id"])
	assert.Equal(t, "genuineintel", pu0.Attributes["vendor_id"])
	assert.Equal(t, "intel(r) xeon(r) gold 6130 cpu @ 2.10ghz", pu0.Attributes["model name"])

	pu1, ok := g.Node("node1_pu_1")
	require.True(t, ok)
	assert.Equal(t, "1800.000", pu1.Attributes["cpu mhz"])
}

func TestBuildWithoutCPUInfo(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	g, err := b.Build("node1", strings.NewReader(sampleHWLoc), nil)
	require.NoError(t, err)

	pu0, ok := g.Node("node1_pu_0")
	require.True(t, ok)
	assert.NotContains(t, pu0.Attributes, "vendor_id")
}

func TestBuildIgnoresBadCPUInfo(t *testing.T) {
	b := NewBuilder(zaptest.NewLogger(t))
	g, err := b.Build("node1", strings.NewReader(sampleHWLoc), strings.NewReader("processor : zero\n"))
	require.NoError(t, err)
	assert.Equal(t, 12, g.Len())
}

func TestBuildWithFilter(t *testing.T) {
	g := build(t, WithFilter("Bridge", "PCIDev"))

	_, ok := g.Node("node1_bridge_0")
	assert.False(t, ok)
	_, ok = g.Node("node1_pcidev_0")
	assert.False(t, ok)

	label, ok := g.Label("node1", "node1_osdev_0")
	require.True(t, ok)
	assert.Equal(t, domain.LabelInternal, label)
	assert.True(t, g.HasEdge("node1", "node1_osdev_1"))
}

func TestBuildMalformed(t *testing.T) {
	tests := []struct {
		name string
		host string
		doc  string
	}{
		{"not xml", "node1", "this is not xml"},
		{"empty topology", "node1", "<topology></topology>"},
		{"object without type", "node1", `<topology><object type="Machine"><object os_index="0"/></object></topology>`},
		{"empty host", " ", sampleHWLoc},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBuilder(zaptest.NewLogger(t)).Build(tt.host, strings.NewReader(tt.doc), nil)
			assert.ErrorIs(t, err, domain.ErrMalformedInput)
		})
	}
}

func TestSanitize(t *testing.T) {
	assert.Equal(t, "l3_cache", Sanitize("  L3-Cache ", false))
	assert.Equal(t, "model name", Sanitize("Model Name", true))
	assert.Equal(t, "model_name", Sanitize("Model Name", false))
}

func TestToDomain(t *testing.T) {
	g := NewGraph()
	g.AddNode(&Node{Name: "a", Category: domain.CategoryCompute, Type: "machine", Attributes: domain.Attributes{"cores": "4"}})
	g.AddNode(&Node{Name: "b", Category: domain.CategoryCompute, Type: "core", Attributes: domain.Attributes{}})
	g.AddEdge("a", "b", "")

	out, err := g.ToDomain(100)
	require.NoError(t, err)
	require.Len(t, out.Nodes, 2)
	require.Len(t, out.Edges, 1)
	assert.Equal(t, domain.LabelLinksTo, out.Edges[0].Label)
	assert.Equal(t, int64(100), out.Edges[0].From)
	assert.Equal(t, domain.EOT, out.Edges[0].To)
}
