// Package remote fetches hardware descriptions from hosts over SSH.
package remote

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"landscaper/internal/retry"
	"landscaper/internal/topology"
)

const (
	// HWLocCommand prints the host topology as hwloc XML on stdout.
	HWLocCommand   = "lstopo --of xml -"
	CPUInfoCommand = "cat /proc/cpuinfo"
)

// Config holds the SSH connection settings
type Config struct {
	Hosts []string
	User  string
	// KeyPath is a private key file; PEM or OpenSSH format.
	KeyPath    string
	Passphrase string
	// KnownHostsPath enables host key verification when set.
	KnownHostsPath string
	Port           int
	Timeout        time.Duration
	Retry          retry.Policy
}

// SSHSource is a topology.Source that runs lstopo and reads /proc/cpuinfo on
// each configured host.
type SSHSource struct {
	hosts   []string
	port    int
	timeout time.Duration
	policy  retry.Policy
	client  *ssh.ClientConfig
	logger  *zap.Logger
}

var _ topology.Source = (*SSHSource)(nil)

// NewSSHSource loads the key material and prepares the client config.
func NewSSHSource(cfg Config, logger *zap.Logger) (*SSHSource, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Port == 0 {
		cfg.Port = 22
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	client, err := buildClientConfig(cfg)
	if err != nil {
		return nil, err
	}
	return &SSHSource{
		hosts:   cfg.Hosts,
		port:    cfg.Port,
		timeout: cfg.Timeout,
		policy:  cfg.Retry,
		client:  client,
		logger:  logger.With(zap.String("component", "ssh_source")),
	}, nil
}

func buildClientConfig(cfg Config) (*ssh.ClientConfig, error) {
	if cfg.User == "" {
		return nil, errors.New("ssh user not configured")
	}
	if cfg.KeyPath == "" {
		return nil, errors.New("ssh key path not configured")
	}
	keyData, err := os.ReadFile(cfg.KeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read private key: %w", err)
	}

	var signer ssh.Signer
	if cfg.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(keyData, []byte(cfg.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(keyData)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsPath != "" {
		hostKeyCallback, err = knownhosts.New(cfg.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known hosts: %w", err)
		}
	}

	return &ssh.ClientConfig{
		User:            cfg.User,
		Auth:            []ssh.AuthMethod{ssh.PublicKeys(signer)},
		HostKeyCallback: hostKeyCallback,
		Timeout:         cfg.Timeout,
	}, nil
}

// Machines returns the configured hosts
func (s *SSHSource) Machines(_ context.Context) ([]string, error) {
	return append([]string(nil), s.hosts...), nil
}

// HWLoc runs lstopo on host
func (s *SSHSource) HWLoc(ctx context.Context, host string) (io.ReadCloser, error) {
	return s.fetch(ctx, host, HWLocCommand)
}

// CPUInfo reads /proc/cpuinfo on host
func (s *SSHSource) CPUInfo(ctx context.Context, host string) (io.ReadCloser, error) {
	return s.fetch(ctx, host, CPUInfoCommand)
}

// fetch runs cmd on host, retrying connection failures. A command that exits
// non-zero means the host cannot describe itself and is not retried.
func (s *SSHSource) fetch(ctx context.Context, host, cmd string) (io.ReadCloser, error) {
	out, err := retry.Do(ctx, s.logger, "ssh "+host, s.policy, func() ([]byte, error) {
		client, err := s.connect(ctx, host)
		if err != nil {
			return nil, err
		}
		defer client.Close()

		out, err := s.run(ctx, client, cmd)
		var exitErr *ssh.ExitError
		if errors.As(err, &exitErr) {
			return nil, retry.Permanent(fmt.Errorf("%s on %s exited %d: %w",
				cmd, host, exitErr.ExitStatus(), topology.ErrNoDescription))
		}
		return out, err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("fetched", zap.String("host", host), zap.String("command", cmd), zap.Int("bytes", len(out)))
	return io.NopCloser(bytes.NewReader(out)), nil
}

func (s *SSHSource) connect(ctx context.Context, host string) (*ssh.Client, error) {
	addr := net.JoinHostPort(host, strconv.Itoa(s.port))
	dialer := &net.Dialer{Timeout: s.timeout}
	conn, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(conn, addr, s.client)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to establish SSH connection to %s: %w", addr, err)
	}
	return ssh.NewClient(sshConn, chans, reqs), nil
}

func (s *SSHSource) run(ctx context.Context, client *ssh.Client, cmd string) ([]byte, error) {
	session, err := client.NewSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}
	defer session.Close()

	type result struct {
		out []byte
		err error
	}
	done := make(chan result, 1)
	go func() {
		out, err := session.Output(cmd)
		done <- result{out, err}
	}()

	timer := time.NewTimer(s.timeout)
	defer timer.Stop()

	select {
	case r := <-done:
		return r.out, r.err
	case <-timer.C:
		session.Signal(ssh.SIGKILL)
		return nil, fmt.Errorf("%s: command timeout", cmd)
	case <-ctx.Done():
		session.Signal(ssh.SIGKILL)
		return nil, ctx.Err()
	}
}
