package collector

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"landscaper/internal/config"
	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/metrics"
	"landscaper/internal/repository/memory"
	"landscaper/internal/store"
)

var ctx = context.Background()

const hostHWLoc = `<?xml version="1.0" encoding="UTF-8"?>
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

func newDeps(t *testing.T) Deps {
	t.Helper()
	logger := zaptest.NewLogger(t)
	return Deps{
		Store:   store.New(memory.New(), store.WithLogger(logger), store.WithClock(func() int64 { return 1000 })),
		Config:  config.DefaultConfig(),
		Logger:  logger,
		Metrics: metrics.New(),
	}
}

func writeHost(t *testing.T, dir, host, doc string) string {
	t.Helper()
	path := filepath.Join(dir, host+"_hwloc.xml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o644))
	return path
}

func at(ts int64) time.Time { return time.Unix(ts, 0) }

func event(name string, body string, ts int64) hub.Event {
	return hub.Event{Name: name, Body: []byte(body), At: at(ts)}
}

func mustNode(t *testing.T, s *store.Store, id string, identity domain.Attributes, ts int64) *domain.EntityRef {
	t.Helper()
	e, err := s.AddNode(ctx, id, identity, domain.Attributes{}, ts)
	require.NoError(t, err)
	require.NotNil(t, e)
	return e
}

func neighbourIDs(refs []domain.EntityRef) []string {
	ids := make([]string, 0, len(refs))
	for _, r := range refs {
		ids = append(ids, r.ID)
	}
	return ids
}

func TestDefaultRegistry(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"instance", "netscan", "physical_host", "physical_network", "volume"}, r.Names())

	err := r.Register(InstanceName, NewInstance)
	assert.Error(t, err)

	_, err = r.Build("containers", newDeps(t))
	assert.Error(t, err)

	c, err := r.Build(VolumeName, newDeps(t))
	require.NoError(t, err)
	assert.Equal(t, VolumeName, c.Name())
}

func TestRegistryBuildError(t *testing.T) {
	deps := newDeps(t)
	deps.Config.Netscan.Ports = "0-99999"

	_, err := DefaultRegistry().Build(NetscanName, deps)
	assert.Error(t, err)
}

func TestKeyedMutex(t *testing.T) {
	var (
		km       keyedMutex
		wg       sync.WaitGroup
		a, b     int
		counters = map[string]*int{"a": &a, "b": &b}
	)
	for i := 0; i < 50; i++ {
		for key, n := range counters {
			wg.Add(1)
			go func() {
				defer wg.Done()
				unlock := km.Lock(key)
				defer unlock()
				*n++
			}()
		}
	}
	wg.Wait()

	assert.Equal(t, 50, a)
	assert.Equal(t, 50, b)
	assert.Empty(t, km.locks)
}

func TestMachineName(t *testing.T) {
	for in, want := range map[string]string{
		"node1":          "node1",
		"node1@lvm":      "node1",
		"node1@lvm#pool": "node1",
		"node1#pool":     "node1",
		"":               "",
	} {
		assert.Equal(t, want, machineName(in), in)
	}
}
