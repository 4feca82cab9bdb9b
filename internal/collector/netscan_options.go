package collector

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"landscaper/internal/retry"
)

// ports of the services usually found on datacenter hosts
const defaultPorts = "22,53,80,443,623,2379,3306,5432,5672,6443,8080,8443,9090,9100"

var wellKnownPorts = map[int]string{
	22:   "ssh",
	53:   "dns",
	80:   "http",
	443:  "https",
	623:  "ipmi",
	2379: "etcd",
	3306: "mysql",
	5432: "postgres",
	5672: "amqp",
	6443: "k8s-api",
	8080: "http-alt",
	8443: "https-alt",
	9090: "prometheus",
	9100: "node-exporter",
}

// NetscanOption is a functional option for configuring Netscan
type NetscanOption func(*Netscan)

// WithPorts sets the ports to scan
// Format: "80,443,8080" or "1-1000" or "22,80-443,8080"
func WithPorts(ports string) NetscanOption {
	return func(n *Netscan) {
		if validated, err := parsePorts(ports); err == nil {
			n.ports = validated
		}
	}
}

// WithServiceDetection enables or disables service version detection (-sV)
func WithServiceDetection(enabled bool) NetscanOption {
	return func(n *Netscan) {
		n.services = enabled
	}
}

// WithSkipHostDiscovery treats every target as online (-Pn)
func WithSkipHostDiscovery(skip bool) NetscanOption {
	return func(n *Netscan) {
		n.skipPing = skip
	}
}

// WithScanTimeout bounds a single nmap run
func WithScanTimeout(d time.Duration) NetscanOption {
	return func(n *Netscan) {
		if d > 0 {
			n.timeout = d
		}
	}
}

// WithScanRetry sets the retry policy of a failing nmap run
func WithScanRetry(p retry.Policy) NetscanOption {
	return func(n *Netscan) {
		n.policy = p
	}
}

// WithScanner replaces the nmap binary
func WithScanner(s Scanner) NetscanOption {
	return func(n *Netscan) {
		n.scanner = s
	}
}

// parsePorts validates a port list in nmap format
func parsePorts(portRange string) (string, error) {
	if strings.TrimSpace(portRange) == "" {
		return "", fmt.Errorf("empty port list")
	}
	for _, part := range strings.Split(portRange, ",") {
		part = strings.TrimSpace(part)
		if lo, hi, isRange := strings.Cut(part, "-"); isRange {
			start, err := parsePort(lo)
			if err != nil {
				return "", err
			}
			end, err := parsePort(hi)
			if err != nil {
				return "", err
			}
			if end < start {
				return "", fmt.Errorf("invalid port range: %s", part)
			}
			continue
		}
		if _, err := parsePort(part); err != nil {
			return "", err
		}
	}
	return portRange, nil
}

func parsePort(s string) (int, error) {
	port, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || port < 1 || port > 65535 {
		return 0, fmt.Errorf("invalid port number: %s", s)
	}
	return port, nil
}
