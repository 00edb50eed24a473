// Copyright 2026 The Gatehouse Authors
// SPDX-License-Identifier: Apache-2.0

package scan

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"syscall"
	"time"
)

// ErrDestinationBlocked marks an outbound destination rejected by the
// SSRF guard. Callers match it with errors.Is.
var ErrDestinationBlocked = errors.New("destination address is blocked")

// metadataEndpoint is the well-known cloud instance metadata address.
// It is blocked even in configurations that allow other private
// ranges.
var metadataEndpoint = netip.MustParsePrefix("169.254.169.254/32")

// defaultBlockedPrefixes covers private, loopback, link-local,
// carrier-grade NAT, test, multicast, and reserved space. The guard
// blocks a destination when any resolved address falls inside any of
// these.
var defaultBlockedPrefixes = []netip.Prefix{
	netip.MustParsePrefix("10.0.0.0/8"),
	netip.MustParsePrefix("172.16.0.0/12"),
	netip.MustParsePrefix("192.168.0.0/16"),
	netip.MustParsePrefix("127.0.0.0/8"),
	netip.MustParsePrefix("::1/128"),
	netip.MustParsePrefix("169.254.0.0/16"),
	netip.MustParsePrefix("fe80::/10"),
	netip.MustParsePrefix("0.0.0.0/8"),
	netip.MustParsePrefix("100.64.0.0/10"),
	netip.MustParsePrefix("192.0.0.0/24"),
	netip.MustParsePrefix("192.0.2.0/24"),
	netip.MustParsePrefix("198.18.0.0/15"),
	netip.MustParsePrefix("198.51.100.0/24"),
	netip.MustParsePrefix("203.0.113.0/24"),
	netip.MustParsePrefix("224.0.0.0/4"),
	netip.MustParsePrefix("240.0.0.0/4"),
	netip.MustParsePrefix("255.255.255.255/32"),
	netip.MustParsePrefix("fc00::/7"),
}

// Guard validates outbound request destinations. Validation happens
// twice: once when the URL is submitted ([Guard.ValidateURL], which
// resolves the hostname), and again immediately before each socket
// connects ([Guard.Control]). The second check is what defeats DNS
// rebinding — a name that resolved publicly at validation time cannot
// connect to a private address later.
type Guard struct {
	blocked      []netip.Prefix
	allowPrivate bool
	resolver     *net.Resolver
}

// GuardConfig configures a Guard.
type GuardConfig struct {
	// AllowPrivate permits RFC 1918 and loopback destinations for
	// trusted environments. The metadata endpoint stays blocked
	// regardless.
	AllowPrivate bool

	// BlockedCIDRs adds operator-specified ranges beyond the
	// defaults.
	BlockedCIDRs []string

	// Resolver overrides the DNS resolver (tests). Nil uses the
	// system resolver.
	Resolver *net.Resolver
}

// NewGuard creates a guard from config.
func NewGuard(config GuardConfig) (*Guard, error) {
	guard := &Guard{allowPrivate: config.AllowPrivate, resolver: config.Resolver}
	if guard.resolver == nil {
		guard.resolver = net.DefaultResolver
	}

	if config.AllowPrivate {
		guard.blocked = []netip.Prefix{metadataEndpoint}
	} else {
		guard.blocked = append(guard.blocked, defaultBlockedPrefixes...)
		guard.blocked = append(guard.blocked, metadataEndpoint)
	}
	for _, cidr := range config.BlockedCIDRs {
		prefix, err := netip.ParsePrefix(cidr)
		if err != nil {
			return nil, fmt.Errorf("blocked CIDR %q: %w", cidr, err)
		}
		guard.blocked = append(guard.blocked, prefix)
	}
	return guard, nil
}

// CheckAddr validates a single destination address.
func (g *Guard) CheckAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	for _, prefix := range g.blocked {
		if prefix.Contains(addr) {
			return fmt.Errorf("%s matches blocked range %s: %w", addr, prefix, ErrDestinationBlocked)
		}
	}
	return nil
}

// ValidateURL checks a raw URL: scheme must be http or https, the host
// must be ASCII (rejecting homograph tricks), and every address the
// hostname resolves to must be outside the blocked ranges. An empty
// resolution fails closed.
func (g *Guard) ValidateURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("scheme %q not allowed (http/https only): %w", parsed.Scheme, ErrDestinationBlocked)
	}
	host := parsed.Hostname()
	if host == "" {
		return fmt.Errorf("URL has no host: %w", ErrDestinationBlocked)
	}
	for _, r := range host {
		if r > 127 {
			return fmt.Errorf("host %q contains non-ASCII characters: %w", host, ErrDestinationBlocked)
		}
	}

	// Literal addresses skip resolution.
	if addr, err := netip.ParseAddr(host); err == nil {
		return g.CheckAddr(addr)
	}

	addrs, err := g.resolver.LookupNetIP(ctx, "ip", host)
	if err != nil {
		return fmt.Errorf("resolving %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("%q resolved to no addresses: %w", host, ErrDestinationBlocked)
	}
	for _, addr := range addrs {
		if err := g.CheckAddr(addr); err != nil {
			return fmt.Errorf("host %q: %w", host, err)
		}
	}
	return nil
}

// Control is a net.Dialer control hook that re-validates the concrete
// socket address immediately before connect. By this point the address
// is always a literal, so a rebinding name that now resolves privately
// is caught here no matter what it resolved to earlier.
func (g *Guard) Control(network, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("unparsable dial address %q: %w", address, ErrDestinationBlocked)
	}
	addr, err := netip.ParseAddr(host)
	if err != nil {
		return fmt.Errorf("non-literal dial address %q: %w", address, ErrDestinationBlocked)
	}
	return g.CheckAddr(addr)
}

// Client returns an HTTP client whose every connection passes through
// [Guard.Control], and whose redirects are each re-validated before
// being followed.
func (g *Guard) Client(timeout time.Duration) *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: g.Control,
	}
	transport := &http.Transport{
		DialContext:       dialer.DialContext,
		ForceAttemptHTTP2: true,
		// Connection reuse would bypass the per-connect check only if
		// the pooled connection were to a now-blocked address; the
		// address was validated when the connection was made and
		// sockets do not re-resolve, so reuse is safe.
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= 10 {
				return fmt.Errorf("too many redirects")
			}
			return g.ValidateURL(req.Context(), req.URL.String())
		},
	}
}
