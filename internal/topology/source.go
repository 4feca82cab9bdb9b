package topology

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrNoDescription is returned by a Source that has no document for a host.
var ErrNoDescription = errors.New("no description for host")

const (
	hwlocSuffix   = "_hwloc.xml"
	cpuinfoSuffix = "_cpuinfo.txt"
)

// Source supplies per-host hardware descriptions
type Source interface {
	// Machines lists the hosts the source has an hwloc document for.
	Machines(ctx context.Context) ([]string, error)
	HWLoc(ctx context.Context, host string) (io.ReadCloser, error)
	CPUInfo(ctx context.Context, host string) (io.ReadCloser, error)
}

// DirSource reads {host}_hwloc.xml and {host}_cpuinfo.txt files from local
// folders.
type DirSource struct {
	HWLocDir   string
	CPUInfoDir string
}

// Machines implements Source
func (d DirSource) Machines(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(d.HWLocDir)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s: %w", d.HWLocDir, err)
	}
	var hosts []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if host, ok := MachineFromPath(e.Name()); ok {
			hosts = append(hosts, host)
		}
	}
	sort.Strings(hosts)
	return hosts, nil
}

// HWLoc implements Source
func (d DirSource) HWLoc(_ context.Context, host string) (io.ReadCloser, error) {
	return openDescription(filepath.Join(d.HWLocDir, host+hwlocSuffix))
}

// CPUInfo implements Source
func (d DirSource) CPUInfo(_ context.Context, host string) (io.ReadCloser, error) {
	dir := d.CPUInfoDir
	if dir == "" {
		dir = d.HWLocDir
	}
	return openDescription(filepath.Join(dir, host+cpuinfoSuffix))
}

func openDescription(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", path, ErrNoDescription)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	return f, nil
}

// MachineFromPath extracts the host from an hwloc file name.
func MachineFromPath(path string) (string, bool) {
	base := filepath.Base(path)
	host, ok := strings.CutSuffix(base, hwlocSuffix)
	if !ok || host == "" {
		return "", false
	}
	return host, true
}
