package collector

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landscaper/internal/domain"
)

const networkDescription = `
sw-tor:
  name: tor-1
  bandwidth: 10000
  roles: [tor]
  address: "00:00:5e:00:53:01"
  connected-devices:
    - "AA:BB:CC:DD:EE:FF"
    - "11:11:11:11:11:11"
sw-spine:
  name: spine-1
  bandwidth: 40000
  roles: [spine]
  connected-devices:
    - "00:00:5E:00:53:01"
`

func TestPhysicalNetworkInit(t *testing.T) {
	hosts, deps, dir := newPhysicalHostFixture(t)
	writeHost(t, dir, "node1", hostHWLoc)
	require.NoError(t, hosts.Init(ctx))

	path := filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(networkDescription), 0o644))
	deps.Config.PhysicalNetwork.DescriptionFile = path

	c, err := NewPhysicalNetwork(deps)
	require.NoError(t, err)
	assert.Empty(t, c.Events())
	require.NoError(t, c.Init(ctx))

	tor, err := deps.Store.GetNodeByUUIDWeb(ctx, "sw-tor", 1000)
	require.NoError(t, err)
	require.NotNil(t, tor)
	assert.Equal(t, "switch", tor.Type)
	assert.Equal(t, domain.CategoryNetwork, tor.Category)
	assert.Equal(t, "tor-1", tor.Attributes["switch_name"])
	assert.EqualValues(t, 10000, tor.Attributes["bandwidth"])

	// the NIC's parent device talks to the switch
	succ, err := deps.Store.Successors(ctx, "node1_pcidev_0", 1000)
	require.NoError(t, err)
	assert.Contains(t, neighbourIDs(succ), "sw-tor")

	// switch addresses resolve to the switch itself
	preds, err := deps.Store.Predecessors(ctx, "sw-spine", 1000)
	require.NoError(t, err)
	assert.Equal(t, []string{"sw-tor"}, neighbourIDs(preds))

	g, err := deps.Store.GetGraph(ctx, 1000, 0)
	require.NoError(t, err)
	for _, e := range g.Edges {
		if e.Target == "sw-tor" || e.Target == "sw-spine" {
			assert.Equal(t, domain.LabelCommunicates, e.Label)
		}
	}
}

func TestPhysicalNetworkMissingDescription(t *testing.T) {
	deps := newDeps(t)
	deps.Config.PhysicalNetwork.DescriptionFile = filepath.Join(t.TempDir(), "missing.yaml")

	c, err := NewPhysicalNetwork(deps)
	require.NoError(t, err)
	assert.Error(t, c.Init(ctx))
}
