// Package probes implements the low-level reachability checks shared by all
// collectors: latency pings and TCP port probes, dialed through a cached
// DNS resolver so repeated polling does not hammer the local resolver.
package probes

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"github.com/rs/dnscache"
	"github.com/rs/zerolog/log"
)

// DefaultPorts is the fixed small port set probed for the Performance
// family: ssh, http, https, and the common admin port.
var DefaultPorts = []int{22, 80, 443, 8080}

// pingPorts are tried in order when measuring connect latency. ICMP echo
// needs raw sockets, so reachability is measured as TCP connect time
// against well-known ports instead; a Pinger implementation with raw
// socket access can be substituted.
var pingPorts = []int{80, 443, 22}

var (
	resolver     *dnscache.Resolver
	resolverOnce sync.Once
)

func cachedResolver() *dnscache.Resolver {
	resolverOnce.Do(func() {
		resolver = &dnscache.Resolver{}
		go func() {
			ticker := time.NewTicker(5 * time.Minute)
			defer ticker.Stop()
			for range ticker.C {
				resolver.Refresh(true)
				log.Debug().Msg("DNS cache refreshed")
			}
		}()
	})
	return resolver
}

// DialContext resolves through the DNS cache and connects to the first
// address that answers.
func DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, err
	}

	ips, err := cachedResolver().LookupHost(ctx, host)
	if err != nil {
		return nil, err
	}

	var dialer net.Dialer
	var lastErr error
	for _, ip := range ips {
		conn, err := dialer.DialContext(ctx, network, net.JoinHostPort(ip, port))
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = fmt.Errorf("no addresses for %s", host)
	}
	return nil, lastErr
}

// Pinger measures round-trip reachability to a host.
type Pinger interface {
	Ping(ctx context.Context, host string) (time.Duration, error)
}

// Prober checks whether a single TCP port accepts connections.
type Prober interface {
	ProbePort(ctx context.Context, host string, port int) (open bool, rtt time.Duration)
}

// NetProber is the production Pinger/Prober over plain TCP connects.
type NetProber struct {
	// Timeout bounds each individual connect attempt.
	Timeout time.Duration
}

// NewNetProber returns a prober with the sub-second default timeout.
func NewNetProber() *NetProber {
	return &NetProber{Timeout: 800 * time.Millisecond}
}

// Ping reports the fastest TCP connect latency across the ping port set.
// All ports refusing or timing out means the host is unreachable.
func (p *NetProber) Ping(ctx context.Context, host string) (time.Duration, error) {
	var lastErr error
	for _, port := range pingPorts {
		attempt, cancel := context.WithTimeout(ctx, p.Timeout)
		start := time.Now()
		conn, err := DialContext(attempt, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
		elapsed := time.Since(start)
		cancel()
		if err == nil {
			conn.Close()
			return elapsed, nil
		}
		// A refused connection still proves the host is up.
		if isRefused(err) {
			return elapsed, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
	}
	return 0, fmt.Errorf("host %s unreachable: %w", host, lastErr)
}

// ProbePort reports whether host:port accepts TCP connections.
func (p *NetProber) ProbePort(ctx context.Context, host string, port int) (bool, time.Duration) {
	attempt, cancel := context.WithTimeout(ctx, p.Timeout)
	defer cancel()

	start := time.Now()
	conn, err := DialContext(attempt, "tcp", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	elapsed := time.Since(start)
	if err != nil {
		return false, elapsed
	}
	conn.Close()
	return true, elapsed
}

func isRefused(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED)
}
