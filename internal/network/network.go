// Package network brings the wireless link up before anything else runs.
package network

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os/exec"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// ErrAssociationFailed is returned when the link does not come up within the
// configured timeout.
var ErrAssociationFailed = errors.New("network association failed")

var errLinkDown = errors.New("link down")

type Options struct {
	SSID         string
	Password     string
	Interface    string
	PollInterval time.Duration
	// Timeout bounds the wait. Zero waits forever.
	Timeout time.Duration
}

// LinkChecker returns the address of an interface that is ready to carry
// traffic, or an error.
type LinkChecker func(iface string) (net.IP, error)

// Runner runs an external command.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

type Manager struct {
	opts   Options
	logger *slog.Logger
	check  LinkChecker
	run    Runner
}

func NewManager(opts Options, logger *slog.Logger) *Manager {
	return &Manager{
		opts:   opts,
		logger: logger,
		check:  InterfaceAddr,
		run:    runCommand,
	}
}

// WithLinkChecker replaces the interface lookup.
func (m *Manager) WithLinkChecker(c LinkChecker) *Manager {
	m.check = c
	return m
}

// WithRunner replaces the command runner used for association.
func (m *Manager) WithRunner(r Runner) *Manager {
	m.run = r
	return m
}

// Connect asks the network manager to join the configured SSID (if any),
// then polls until the link has an address.
func (m *Manager) Connect(ctx context.Context) (net.IP, error) {
	if m.opts.SSID != "" {
		args := []string{"device", "wifi", "connect", m.opts.SSID}
		if m.opts.Password != "" {
			args = append(args, "password", m.opts.Password)
		}
		if m.opts.Interface != "" {
			args = append(args, "ifname", m.opts.Interface)
		}
		if out, err := m.run(ctx, "nmcli", args...); err != nil {
			// The link may still come up on its own; keep polling.
			m.logger.Warn("wifi association request failed",
				"ssid", m.opts.SSID,
				"error", err,
				"output", string(out),
			)
		}
	}

	m.logger.Info("connecting to network",
		"ssid", m.opts.SSID,
		"interface", m.opts.Interface,
		"timeout", m.opts.Timeout,
	)

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = m.opts.PollInterval
	b.MaxInterval = m.opts.PollInterval
	b.Multiplier = 1
	b.RandomizationFactor = 0
	b.MaxElapsedTime = m.opts.Timeout
	b.Reset()

	var addr net.IP
	attempts := 0
	op := func() error {
		attempts++
		ip, err := m.check(m.opts.Interface)
		if err != nil {
			return err
		}
		addr = ip
		return nil
	}
	notify := func(err error, next time.Duration) {
		m.logger.Debug("waiting for network", "attempt", attempts, "error", err, "next", next)
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(b, ctx), notify); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w after %d attempts: %v", ErrAssociationFailed, attempts, err)
	}

	m.logger.Info("connected", "ip", addr.String(), "attempts", attempts)
	return addr, nil
}

// InterfaceAddr returns the first global unicast IPv4 address of iface, or of
// any non-loopback interface that is up when iface is empty.
func InterfaceAddr(iface string) (net.IP, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, fmt.Errorf("list interfaces: %w", err)
	}
	for _, it := range ifaces {
		if iface != "" && it.Name != iface {
			continue
		}
		if it.Flags&net.FlagUp == 0 || it.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, err := it.Addrs()
		if err != nil {
			continue
		}
		for _, a := range addrs {
			ipNet, ok := a.(*net.IPNet)
			if !ok {
				continue
			}
			if ip4 := ipNet.IP.To4(); ip4 != nil && ip4.IsGlobalUnicast() {
				return ip4, nil
			}
		}
	}
	if iface != "" {
		return nil, fmt.Errorf("%s: %w", iface, errLinkDown)
	}
	return nil, errLinkDown
}

func runCommand(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}
