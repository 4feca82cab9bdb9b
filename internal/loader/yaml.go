// Package loader reads static landscape descriptions from YAML files.
package loader

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"landscaper/internal/domain"
)

// NetworkDescription maps switch ids to their description
type NetworkDescription map[string]*SwitchYAML

// SwitchYAML represents a physical switch
type SwitchYAML struct {
	Name      string   `yaml:"name"`
	Bandwidth any      `yaml:"bandwidth,omitempty"`
	Roles     []string `yaml:"roles,omitempty"`
	Address   string   `yaml:"address,omitempty"`
	// ConnectedDevices lists the hardware addresses of attached NICs.
	ConnectedDevices []string `yaml:"connected-devices,omitempty"`
}

// LoadNetworkDescription reads a network description file
func LoadNetworkDescription(path string) (NetworkDescription, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open network description: %w", err)
	}
	defer f.Close()
	return ParseNetworkDescription(f)
}

// ParseNetworkDescription decodes a network description
func ParseNetworkDescription(r io.Reader) (NetworkDescription, error) {
	var desc NetworkDescription
	if err := yaml.NewDecoder(r).Decode(&desc); err != nil {
		if err == io.EOF {
			return NetworkDescription{}, nil
		}
		return nil, fmt.Errorf("%w: network description: %v", domain.ErrMalformedInput, err)
	}
	for id, sw := range desc {
		if strings.TrimSpace(id) == "" {
			return nil, fmt.Errorf("%w: switch without an id", domain.ErrMalformedInput)
		}
		if sw == nil {
			desc[id] = &SwitchYAML{}
		}
	}
	return desc, nil
}

// SwitchIDs returns the switch ids in sorted order
func (d NetworkDescription) SwitchIDs() []string {
	ids := make([]string, 0, len(d))
	for id := range d {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// State returns the state attributes stored for the switch
func (s *SwitchYAML) State() domain.Attributes {
	roles := s.Roles
	if roles == nil {
		roles = []string{}
	}
	return domain.Attributes{
		"switch_name": s.Name,
		"bandwidth":   s.Bandwidth,
		"roles":       roles,
		"address":     s.Address,
	}
}

// Devices returns the connected device addresses, lowercased to match the
// addresses found in hwloc documents.
func (s *SwitchYAML) Devices() []string {
	out := make([]string, 0, len(s.ConnectedDevices))
	for _, d := range s.ConnectedDevices {
		if d = strings.ToLower(strings.TrimSpace(d)); d != "" {
			out = append(out, d)
		}
	}
	return out
}
