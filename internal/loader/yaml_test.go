package loader

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"landscaper/internal/domain"
)

const sampleDescription = `
switch-b:
  name: spine
  bandwidth: 40000
  roles: [spine]
switch-a:
  name: tor-1
  bandwidth: 10000
  roles: [tor, management]
  address: 00:11:22:33:44:55
  connected-devices:
    - AA:BB:CC:DD:EE:FF
    - " "
`

func TestParseNetworkDescription(t *testing.T) {
	desc, err := ParseNetworkDescription(strings.NewReader(sampleDescription))
	require.NoError(t, err)

	assert.Equal(t, []string{"switch-a", "switch-b"}, desc.SwitchIDs())

	tor := desc["switch-a"]
	assert.Equal(t, []string{"aa:bb:cc:dd:ee:ff"}, tor.Devices())
	state := tor.State()
	assert.Equal(t, "tor-1", state["switch_name"])
	assert.Equal(t, 10000, state["bandwidth"])
	assert.Equal(t, []string{"tor", "management"}, state["roles"])

	assert.Empty(t, desc["switch-b"].Devices())
}

func TestParseNetworkDescriptionEdgeCases(t *testing.T) {
	desc, err := ParseNetworkDescription(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, desc)

	desc, err = ParseNetworkDescription(strings.NewReader("lonely:\n"))
	require.NoError(t, err)
	assert.Equal(t, []string{}, desc["lonely"].State()["roles"])

	_, err = ParseNetworkDescription(strings.NewReader("- just\n- a list\n"))
	assert.ErrorIs(t, err, domain.ErrMalformedInput)
}

func TestLoadNetworkDescription(t *testing.T) {
	path := filepath.Join(t.TempDir(), "network.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleDescription), 0o644))

	desc, err := LoadNetworkDescription(path)
	require.NoError(t, err)
	assert.Len(t, desc, 2)

	_, err = LoadNetworkDescription(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
