package topology

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"landscaper/internal/domain"
)

// Processors maps a processing unit's os index to its /proc/cpuinfo fields
type Processors map[int]domain.Attributes

// ParseCPUInfo reads the output of `cat /proc/cpuinfo`. Every "processor"
// line starts a new record.
func ParseCPUInfo(r io.Reader) (Processors, error) {
	procs := make(Processors)
	current := -1

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		key, value, ok := strings.Cut(scanner.Text(), ":")
		if !ok {
			continue
		}
		key = Sanitize(key, true)
		value = Sanitize(value, true)

		if strings.Contains(key, "processor") {
			id, err := strconv.Atoi(value)
			if err != nil {
				return nil, fmt.Errorf("%w: processor id %q", domain.ErrMalformedInput, value)
			}
			current = id
			procs[id] = domain.Attributes{"id": value}
			continue
		}
		if current >= 0 && value != "" {
			procs[current][key] = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read cpuinfo: %w", err)
	}
	return procs, nil
}

// Enrich merges processor records into the pu nodes with a matching
// os_index. It returns the number of nodes enriched.
func Enrich(g *Graph, procs Processors) int {
	enriched := 0
	for _, n := range g.Nodes() {
		if n.Type != "pu" {
			continue
		}
		idx, err := strconv.Atoi(n.Attributes.String("os_index"))
		if err != nil {
			continue
		}
		proc, ok := procs[idx]
		if !ok {
			continue
		}
		for k, v := range proc {
			n.Attributes[k] = v
		}
		enriched++
	}
	return enriched
}
