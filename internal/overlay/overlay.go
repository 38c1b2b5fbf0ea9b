// Package overlay talks to the overlay network CLI to discover the local
// address and verify that remote addresses belong to authenticated peers.
// The CLI is an opaque external collaborator; every invocation uses a fixed
// argument list and a hard timeout, and every failure degrades to
// "not available" or "unknown peer" rather than an error.
package overlay

import (
	"context"
	"net"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	cliName       = "overlay"
	cliTimeout    = 5 * time.Second
	cacheLifetime = 30 * time.Second

	// UnknownPeer is the hostname reported for unverified addresses.
	UnknownPeer = "unknown_peer"
)

// Runner executes the overlay CLI and returns its stdout. Injectable for tests.
type Runner func(ctx context.Context, args ...string) ([]byte, error)

func execRunner(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, cliName, args...)
	return cmd.Output()
}

// Adapter queries the overlay CLI with a process-wide peer cache.
type Adapter struct {
	run Runner

	mu          sync.Mutex
	peers       map[string]string // ip -> hostname
	refreshedAt time.Time
	now         func() time.Time
}

// New returns an adapter backed by the real overlay CLI.
func New() *Adapter {
	return NewWithRunner(execRunner)
}

// NewWithRunner returns an adapter with a custom command runner (for tests).
func NewWithRunner(run Runner) *Adapter {
	return &Adapter{run: run, now: time.Now}
}

// LocalEndpoint returns this host's overlay IPv4 address, or ok=false when
// the CLI is missing, times out, fails, or prints anything but one address.
func (a *Adapter) LocalEndpoint() (string, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	out, err := a.run(ctx, "ip", "--4")
	if err != nil {
		return "", false
	}
	fields := strings.Fields(string(out))
	if len(fields) != 1 {
		return "", false
	}
	ip := net.ParseIP(fields[0])
	if ip == nil || ip.To4() == nil {
		return "", false
	}
	return ip.String(), true
}

// VerifyPeer reports whether ip is an authenticated overlay peer and, if so,
// its hostname. Any subprocess or parse failure yields (false, UnknownPeer).
func (a *Adapter) VerifyPeer(ip string) (bool, string) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.peers == nil || a.now().Sub(a.refreshedAt) >= cacheLifetime {
		if !a.refreshLocked() {
			return false, UnknownPeer
		}
	}
	if name, ok := a.peers[ip]; ok {
		return true, name
	}
	return false, UnknownPeer
}

// refreshLocked rebuilds the whole peer mapping from the overlay status
// listing and reports whether it succeeded. On failure the previous mapping
// is left untouched, so an observer only ever sees a complete map.
func (a *Adapter) refreshLocked() bool {
	ctx, cancel := context.WithTimeout(context.Background(), cliTimeout)
	defer cancel()

	out, err := a.run(ctx, "status")
	if err != nil {
		return false
	}
	fresh := make(map[string]string)
	for _, line := range strings.Split(string(out), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip := net.ParseIP(fields[0])
		if ip == nil || ip.To4() == nil {
			continue
		}
		fresh[ip.String()] = fields[1]
	}
	a.peers = fresh
	a.refreshedAt = a.now()
	return true
}
