package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"landscaper/internal/domain"
)

const hwlocDoc = `<?xml version="1.0" encoding="UTF-8"?>
<topology>
  <object type="Machine" os_index="0">
    <object type="Package" os_index="0">
      <object type="Core" os_index="0">
        <object type="PU" os_index="0"/>
      </object>
    </object>
    <object type="PCIDev" pci_busid="0000:3b:00.0">
      <object type="OSDev" name="eth0" osdev_type="2">
        <info name="Address" value="AA:BB:CC:DD:EE:FF"/>
      </object>
    </object>
  </object>
</topology>`

const exported = `{
  "nodes": [
    {"id": "node1", "layer": "physical", "category": "compute", "type": "machine", "rack": "r1"},
    {"id": "vm1", "layer": "virtual", "category": "compute", "type": "vm", "vcpu": 2}
  ],
  "edges": [
    {"source": "vm1", "target": "node1", "label": "DEPLOYED_ON", "from": 100, "to": 1924905600}
  ]
}`

// writeConfig points the store at a fresh sqlite file and silences logs
func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "landscaper.yaml")
	doc := "log: {level: error}\ndatabase: {driver: sqlite, path: " + filepath.Join(dir, "landscape.db") + "}\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd(&app{})
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTopologyCommand(t *testing.T) {
	cfg := writeConfig(t)
	doc := filepath.Join(t.TempDir(), "node1_hwloc.xml")
	require.NoError(t, os.WriteFile(doc, []byte(hwlocDoc), 0o644))

	out, err := run(t, "--config", cfg, "topology", doc)
	require.NoError(t, err)

	var g domain.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Len(t, g.Nodes, 6)
	node, ok := g.Node("node1")
	require.True(t, ok)
	assert.Equal(t, domain.LayerPhysical, node.Layer)
	assert.True(t, g.HasEdge("node1", "node1_package_0"))

	out, err = run(t, "--config", cfg, "topology", doc, "--format", "yaml", "--host", "edge7")
	require.NoError(t, err)
	var raw map[string]any
	require.NoError(t, yaml.Unmarshal([]byte(out), &raw))
	assert.Contains(t, out, "edge7_package_0")
}

func TestTopologyCommandErrors(t *testing.T) {
	cfg := writeConfig(t)

	_, err := run(t, "--config", cfg, "topology", filepath.Join(t.TempDir(), "missing_hwloc.xml"))
	assert.Error(t, err)

	_, err = run(t, "--config", cfg, "topology")
	assert.Error(t, err)

	doc := filepath.Join(t.TempDir(), "node1_hwloc.xml")
	require.NoError(t, os.WriteFile(doc, []byte(hwlocDoc), 0o644))
	_, err = run(t, "--config", cfg, "topology", doc, "--format", "dot")
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestImportThenQuery(t *testing.T) {
	cfg := writeConfig(t)
	file := filepath.Join(t.TempDir(), "graph.json")
	require.NoError(t, os.WriteFile(file, []byte(exported), 0o644))

	out, err := run(t, "--config", cfg, "import", file, "--timestamp", "100")
	require.NoError(t, err)
	assert.Contains(t, out, "2 nodes, 1 edges imported")

	out, err = run(t, "--config", cfg, "query", "--timestamp", "150")
	require.NoError(t, err)
	var g domain.Graph
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.ElementsMatch(t, []string{"node1", "vm1"}, g.NodeIDs())
	assert.True(t, g.HasEdge("vm1", "node1"))

	out, err = run(t, "--config", cfg, "query", "--timestamp", "50")
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &g))
	assert.Empty(t, g.Nodes)

	out, err = run(t, "--config", cfg, "query", "--timestamp", "150", "--node", "node1", "-f", "yaml")
	require.NoError(t, err)
	assert.Contains(t, out, "node1")
	assert.NotContains(t, out, "vm1")

	_, err = run(t, "--config", cfg, "query", "--node", "ghost")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestConfigCommands(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "config", "show")
	require.NoError(t, err)
	assert.Contains(t, out, "level: error")

	target := filepath.Join(t.TempDir(), "etc", "landscaper.yaml")
	out, err = run(t, "--config", cfg, "config", "init", target)
	require.NoError(t, err)
	assert.Equal(t, target, strings.TrimSpace(out))
	assert.FileExists(t, target)

	_, err = run(t, "--config", cfg, "config", "init", target)
	assert.Error(t, err)
	_, err = run(t, "--config", cfg, "config", "init", target, "--force")
	assert.NoError(t, err)
}

func TestUnknownConfigFails(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "config", "show")
	assert.Error(t, err)
}
