package collector

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	nmap "github.com/Ullaakut/nmap/v3"
	"go.uber.org/zap"

	"landscaper/internal/domain"
	"landscaper/internal/hub"
	"landscaper/internal/retry"
	"landscaper/internal/store"
)

// NetscanName is the configuration name of the endpoint discovery collector
const NetscanName = "netscan"

// EventNetscanTick triggers one scan of every target
const EventNetscanTick = "netscan.tick"

var endpointIdentity = domain.Attributes{
	domain.KeyLayer:    string(domain.LayerPhysical),
	domain.KeyCategory: string(domain.CategoryNetwork),
	domain.KeyType:     "endpoint",
}

// Scanner runs one nmap scan of a target
type Scanner interface {
	Scan(ctx context.Context, target string) (*nmap.Run, error)
}

// Netscan discovers network endpoints with nmap. Endpoints are added when
// first seen, updated on every scan and deleted once a scan no longer finds
// them.
type Netscan struct {
	store    *store.Store
	targets  []string
	scanner  Scanner
	ports    string
	services bool
	skipPing bool
	timeout  time.Duration
	policy   retry.Policy
	logger   *zap.Logger
}

// NewNetscan creates the endpoint discovery collector
func NewNetscan(deps Deps) (Collector, error) {
	cfg := deps.Config.Netscan
	opts := []NetscanOption{
		WithServiceDetection(cfg.ServiceDetection),
		WithScanTimeout(cfg.Timeout.Duration()),
		WithScanRetry(cfg.Retry.Policy()),
	}
	if cfg.Ports != "" {
		ports, err := parsePorts(cfg.Ports)
		if err != nil {
			return nil, err
		}
		opts = append(opts, WithPorts(ports))
	}
	targets := cfg.Targets
	if len(targets) == 0 && cfg.DiscoverLocal {
		subnets, err := LocalSubnets()
		if err != nil {
			return nil, fmt.Errorf("failed to discover local subnets: %w", err)
		}
		deps.logger(NetscanName).Info("scanning local subnets", zap.Strings("targets", subnets))
		targets = subnets
	}
	return newNetscan(deps, targets, opts...), nil
}

func newNetscan(deps Deps, targets []string, opts ...NetscanOption) *Netscan {
	n := &Netscan{
		store:    deps.Store,
		targets:  targets,
		ports:    defaultPorts,
		services: true,
		timeout:  2 * time.Minute,
		logger:   deps.logger(NetscanName),
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.scanner == nil {
		n.scanner = &nmapScanner{netscan: n}
	}
	return n
}

// Name implements Collector
func (n *Netscan) Name() string { return NetscanName }

// Events implements Collector
func (n *Netscan) Events() []string { return []string{EventNetscanTick} }

// Init runs the first scan.
func (n *Netscan) Init(ctx context.Context) error {
	return n.scan(ctx, n.store.Now())
}

// Update rescans on every tick.
func (n *Netscan) Update(ctx context.Context, ev hub.Event) error {
	if ev.Name != EventNetscanTick {
		return nil
	}
	return n.scan(ctx, ev.Timestamp())
}

func (n *Netscan) scan(ctx context.Context, ts int64) error {
	if len(n.targets) == 0 {
		n.logger.Info("no scan targets configured")
		return nil
	}

	seen := make(map[string]domain.Attributes)
	complete := true
	for _, target := range n.targets {
		result, err := n.scanner.Scan(ctx, target)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			n.logger.Error("scan failed", zap.String("target", target), zap.Error(err))
			complete = false
			continue
		}
		for id, state := range endpoints(result) {
			seen[id] = state
		}
	}

	for _, id := range sortedKeys(seen) {
		if err := n.observe(ctx, id, seen[id], ts); err != nil {
			return err
		}
	}

	if !complete {
		// a failed target would look like every endpoint on it vanished
		n.logger.Warn("scan incomplete, keeping unseen endpoints")
		return nil
	}
	return n.expire(ctx, seen, ts)
}

func (n *Netscan) observe(ctx context.Context, id string, state domain.Attributes, ts int64) error {
	existing, err := n.store.GetNodeByUUID(ctx, id)
	if err != nil {
		return err
	}
	if existing == nil {
		n.logger.Info("endpoint discovered", zap.String("id", id), zap.String("ip", state.String("ip")))
		_, err := n.store.AddNode(ctx, id, endpointIdentity, state, ts)
		return err
	}
	res, err := n.store.UpdateNode(ctx, id, ts, state, nil)
	if err != nil || res.Outcome != domain.OutcomeStale {
		return err
	}
	n.logger.Info("endpoint back", zap.String("id", id), zap.String("ip", state.String("ip")))
	_, err = n.store.ReviveNode(ctx, id, ts, state)
	return err
}

// expire deletes the live endpoints the scan did not find.
func (n *Netscan) expire(ctx context.Context, seen map[string]domain.Attributes, ts int64) error {
	live, err := n.store.GetNodesByProperties(ctx, domain.Attributes{domain.KeyType: "endpoint"})
	if err != nil {
		return err
	}
	for i := range live {
		if _, ok := seen[live[i].ID]; ok {
			continue
		}
		n.logger.Info("endpoint gone", zap.String("id", live[i].ID))
		if _, err := n.store.DeleteNode(ctx, &live[i], ts); err != nil {
			return err
		}
	}
	return nil
}

// endpoints converts the hosts that are up into endpoint states keyed by
// node id.
func endpoints(result *nmap.Run) map[string]domain.Attributes {
	out := make(map[string]domain.Attributes)
	if result == nil {
		return out
	}

	for _, host := range result.Hosts {
		if len(host.Addresses) == 0 || host.Status.State != "up" {
			continue
		}

		var ip string
		for _, addr := range host.Addresses {
			if addr.AddrType == "ipv4" {
				ip = addr.Addr
				break
			}
		}
		if ip == "" {
			ip = host.Addresses[0].Addr
		}

		state := domain.Attributes{
			"ip":         ip,
			"open_ports": openPorts(host.Ports),
			"services":   services(host.Ports),
		}
		if len(host.Hostnames) > 0 {
			state["hostname"] = host.Hostnames[0].Name
		}
		for _, addr := range host.Addresses {
			if addr.AddrType == "mac" {
				state["mac_address"] = strings.ToLower(addr.Addr)
				if addr.Vendor != "" {
					state["mac_vendor"] = addr.Vendor
				}
			}
		}
		if len(host.OS.Matches) > 0 {
			state["os"] = host.OS.Matches[0].Name
		}

		out[endpointID(ip)] = state
	}
	return out
}

func openPorts(ports []nmap.Port) []int {
	open := []int{}
	for _, p := range ports {
		if p.State.State == "open" {
			open = append(open, int(p.ID))
		}
	}
	return open
}

// services names each open port, falling back to the well known name.
func services(ports []nmap.Port) map[string]string {
	out := map[string]string{}
	for _, p := range ports {
		if p.State.State != "open" {
			continue
		}
		name := p.Service.Name
		if name == "" {
			name = wellKnownPorts[int(p.ID)]
		}
		if name == "" {
			name = fmt.Sprintf("unknown-%d", p.ID)
		}
		if p.Service.Product != "" {
			name += " (" + strings.TrimSpace(p.Service.Product+" "+p.Service.Version) + ")"
		}
		out[fmt.Sprintf("%d/%s", p.ID, p.Protocol)] = name
	}
	return out
}

// endpointID converts an IP address to a node id
func endpointID(ip string) string {
	if parsed := net.ParseIP(ip); parsed != nil {
		ip = parsed.String()
	}
	return "endpoint-" + strings.NewReplacer(".", "-", ":", "-").Replace(ip)
}

func sortedKeys(m map[string]domain.Attributes) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// nmapScanner runs the nmap binary
type nmapScanner struct {
	netscan *Netscan
}

func (s *nmapScanner) Scan(ctx context.Context, target string) (*nmap.Run, error) {
	n := s.netscan
	opts := []nmap.Option{
		nmap.WithTargets(target),
		nmap.WithPorts(n.ports),
	}
	if n.services {
		opts = append(opts, nmap.WithServiceInfo())
	}
	if n.skipPing {
		opts = append(opts, nmap.WithSkipHostDiscovery())
	}

	return retry.Do(ctx, n.logger, "nmap "+target, n.policy, func() (*nmap.Run, error) {
		scanCtx, cancel := context.WithTimeout(ctx, n.timeout)
		defer cancel()

		scanner, err := nmap.NewScanner(scanCtx, opts...)
		if err != nil {
			// binary missing or bad options
			return nil, retry.Permanent(fmt.Errorf("failed to create scanner: %w", err))
		}
		result, warnings, err := scanner.Run()
		if warnings != nil && len(*warnings) > 0 {
			n.logger.Debug("nmap warnings", zap.String("target", target), zap.Strings("warnings", *warnings))
		}
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil, retry.Permanent(err)
			}
			return nil, fmt.Errorf("scan failed: %w", err)
		}
		return result, nil
	})
}
