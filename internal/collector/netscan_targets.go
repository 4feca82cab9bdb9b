package collector

import (
	"fmt"
	"net"
	"sort"
	"strings"
)

// Interfaces carrying container or overlay traffic
var virtualInterfacePrefixes = []string{"veth", "docker", "br-", "cni", "flannel", "virbr"}

// LocalSubnets lists the private IPv4 networks of the host's active physical
// interfaces, as scan targets.
func LocalSubnets() ([]string, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}

	var nets []*net.IPNet
	for _, iface := range ifaces {
		if skipInterface(iface) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			if ipnet, ok := addr.(*net.IPNet); ok {
				nets = append(nets, ipnet)
			}
		}
	}
	return privateSubnets(nets), nil
}

func skipInterface(iface net.Interface) bool {
	if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
		return true
	}
	for _, prefix := range virtualInterfacePrefixes {
		if strings.HasPrefix(iface.Name, prefix) {
			return true
		}
	}
	return false
}

// privateSubnets keeps RFC 1918 IPv4 networks. Anything wider than a /24 is
// narrowed to the /24 around the interface address so a scan stays bounded.
func privateSubnets(nets []*net.IPNet) []string {
	seen := make(map[string]struct{})
	for _, n := range nets {
		ip := n.IP.To4()
		if ip == nil || !ip.IsPrivate() {
			continue
		}
		ones, _ := n.Mask.Size()
		if ones < 24 {
			ones = 24
		}
		mask := net.CIDRMask(ones, 32)
		seen[fmt.Sprintf("%s/%d", ip.Mask(mask), ones)] = struct{}{}
	}

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
