package collector

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ipNet(t *testing.T, cidr string) *net.IPNet {
	t.Helper()
	ip, n, err := net.ParseCIDR(cidr)
	require.NoError(t, err)
	n.IP = ip
	return n
}

func TestPrivateSubnets(t *testing.T) {
	got := privateSubnets([]*net.IPNet{
		ipNet(t, "192.168.1.17/24"),
		ipNet(t, "192.168.1.30/24"),
		ipNet(t, "10.20.30.40/16"),
		ipNet(t, "172.16.5.9/28"),
		ipNet(t, "8.8.8.8/24"),
		ipNet(t, "fd00::1/64"),
	})
	assert.Equal(t, []string{"10.20.30.0/24", "172.16.5.0/28", "192.168.1.0/24"}, got)
}

func TestPrivateSubnetsEmpty(t *testing.T) {
	assert.Empty(t, privateSubnets(nil))
}

func TestSkipInterface(t *testing.T) {
	tests := []struct {
		iface net.Interface
		skip  bool
	}{
		{net.Interface{Name: "eth0", Flags: net.FlagUp}, false},
		{net.Interface{Name: "eth1"}, true},
		{net.Interface{Name: "lo", Flags: net.FlagUp | net.FlagLoopback}, true},
		{net.Interface{Name: "docker0", Flags: net.FlagUp}, true},
		{net.Interface{Name: "veth12ab", Flags: net.FlagUp}, true},
	}
	for _, tt := range tests {
		t.Run(tt.iface.Name, func(t *testing.T) {
			assert.Equal(t, tt.skip, skipInterface(tt.iface))
		})
	}
}
