// SPDX-License-Identifier: MIT

// Package guard validates attacker-chosen origin URLs before any outbound
// connection is made. It blocks loopback, link-local, private and carrier-NAT
// ranges, the service's own hosts, and non-http(s) schemes, and re-checks
// resolved addresses at dial time so DNS rebinding between validation and
// connect does not help.
package guard

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"syscall"

	"golang.org/x/net/idna"
)

// ErrForbidden indicates the target failed SSRF validation. The API layer
// maps it to 403.
var ErrForbidden = errors.New("forbidden host")

// blockedNets are ranges never reachable through the proxy, beyond what the
// net.IP predicates already cover.
var blockedNets = mustParseCIDRs(
	"0.0.0.0/8",
	"100.64.0.0/10", // carrier-grade NAT
	"198.18.0.0/15", // benchmarking
)

// Config configures a Guard.
type Config struct {
	// SelfHosts are hostnames or IPs this service answers on (public host,
	// listen address). Requests targeting them are rejected to stop loops.
	SelfHosts []string
	// AllowCIDRs lists explicit exceptions that may override a blocked
	// range, e.g. a trusted internal CDN. Empty in normal deployments.
	AllowCIDRs []string
}

// Guard performs SSRF validation for outbound targets.
type Guard struct {
	selfHosts map[string]struct{}
	allowNets []*net.IPNet
	resolver  *net.Resolver
}

// New builds a Guard from cfg. Invalid allowlist entries and self hosts fail
// construction so misconfigurations surface at startup.
func New(cfg Config) (*Guard, error) {
	g := &Guard{
		selfHosts: make(map[string]struct{}, len(cfg.SelfHosts)),
		resolver:  net.DefaultResolver,
	}

	for _, h := range cfg.SelfHosts {
		h = strings.TrimSpace(h)
		if h == "" {
			continue
		}
		// Listen addresses arrive as host:port.
		if host, _, err := net.SplitHostPort(h); err == nil {
			h = host
		}
		if h == "" || h == "::" {
			continue
		}
		normalized, err := NormalizeHost(h)
		if err != nil {
			return nil, fmt.Errorf("self host %q: %w", h, err)
		}
		g.selfHosts[normalized] = struct{}{}
	}

	for _, entry := range cfg.AllowCIDRs {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		_, ipnet, err := net.ParseCIDR(entry)
		if err != nil {
			return nil, fmt.Errorf("allow CIDR %q: %w", entry, err)
		}
		g.allowNets = append(g.allowNets, ipnet)
	}

	return g, nil
}

// NormalizeHost validates and normalizes a hostname for comparison: brackets,
// zone identifiers and trailing dots are stripped, IDNs become punycode, and
// everything is lowercased.
func NormalizeHost(raw string) (string, error) {
	host := strings.TrimSpace(raw)
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if strings.Contains(host, "://") {
		return "", fmt.Errorf("host must not include scheme: %s", raw)
	}
	if strings.Contains(host, "/") {
		return "", fmt.Errorf("host must not include path: %s", raw)
	}
	if strings.Contains(host, "@") {
		return "", fmt.Errorf("host must not include userinfo: %s", raw)
	}
	if strings.HasPrefix(host, "[") && strings.HasSuffix(host, "]") {
		host = strings.TrimSuffix(strings.TrimPrefix(host, "["), "]")
	}
	if strings.Contains(host, ":") && net.ParseIP(host) == nil {
		return "", fmt.Errorf("host must not include port: %s", raw)
	}
	if strings.Contains(host, "%") {
		return "", fmt.Errorf("host must not include zone: %s", raw)
	}
	host = strings.TrimSuffix(host, ".")
	if host == "" {
		return "", fmt.Errorf("host is empty")
	}
	if ip := net.ParseIP(host); ip != nil {
		return strings.ToLower(ip.String()), nil
	}
	ascii, err := idna.Lookup.ToASCII(host)
	if err != nil {
		return "", fmt.Errorf("invalid host %q: %w", raw, err)
	}
	return strings.ToLower(ascii), nil
}

// ValidateURL checks an origin URL: scheme, hostname, every resolved address,
// and the self-host rule. extraSelf carries per-request self hosts (the Host
// header of the incoming request).
func (g *Guard) ValidateURL(ctx context.Context, u *url.URL, extraSelf ...string) error {
	if u == nil {
		return fmt.Errorf("%w: empty url", ErrForbidden)
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("%w: scheme %q", ErrForbidden, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrForbidden)
	}

	host, err := NormalizeHost(u.Hostname())
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}

	if host == "localhost" || strings.HasSuffix(host, ".localhost") {
		return fmt.Errorf("%w: %s", ErrForbidden, host)
	}
	if g.isSelf(host, extraSelf) {
		return fmt.Errorf("%w: %s targets this service", ErrForbidden, host)
	}

	ips, err := g.resolveHost(ctx, host)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrForbidden, err)
	}
	for _, ip := range ips {
		if err := g.checkIP(ip); err != nil {
			return err
		}
	}
	return nil
}

// ValidateRedirect re-validates a redirect hop. Redirect targets are
// attacker-influenced exactly like the initial URL.
func (g *Guard) ValidateRedirect(ctx context.Context, u *url.URL) error {
	return g.ValidateURL(ctx, u)
}

// DialControl is installed as the net.Dialer Control hook so the address the
// socket actually connects to is checked, independent of any earlier DNS
// answer.
func (g *Guard) DialControl(_, address string, _ syscall.RawConn) error {
	host, _, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("%w: dial address %q", ErrForbidden, address)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return fmt.Errorf("%w: dial address %q is not an IP", ErrForbidden, address)
	}
	return g.checkIP(ip)
}

func (g *Guard) isSelf(host string, extra []string) bool {
	if _, ok := g.selfHosts[host]; ok {
		return true
	}
	for _, e := range extra {
		if e == "" {
			continue
		}
		if h, _, err := net.SplitHostPort(e); err == nil {
			e = h
		}
		if normalized, err := NormalizeHost(e); err == nil && normalized == host {
			return true
		}
	}
	return false
}

func (g *Guard) checkIP(ip net.IP) error {
	if ip == nil {
		return fmt.Errorf("%w: unresolvable address", ErrForbidden)
	}
	if g.ipAllowed(ip) {
		return nil
	}
	if ip.IsLoopback() ||
		ip.IsUnspecified() ||
		ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() ||
		ip.IsMulticast() ||
		ip.IsPrivate() {
		return fmt.Errorf("%w: blocked ip %s", ErrForbidden, ip)
	}
	for _, n := range blockedNets {
		if n.Contains(ip) {
			return fmt.Errorf("%w: blocked ip %s", ErrForbidden, ip)
		}
	}
	return nil
}

func (g *Guard) ipAllowed(ip net.IP) bool {
	for _, n := range g.allowNets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func (g *Guard) resolveHost(ctx context.Context, host string) ([]net.IP, error) {
	if ip := net.ParseIP(host); ip != nil {
		return []net.IP{ip}, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	addrs, err := g.resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("resolve host %q: %v", host, err)
	}
	ips := make([]net.IP, 0, len(addrs))
	for _, addr := range addrs {
		if addr.IP != nil {
			ips = append(ips, addr.IP)
		}
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("resolve host %q: no addresses", host)
	}
	return ips, nil
}

func mustParseCIDRs(entries ...string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(entries))
	for _, e := range entries {
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			panic(err)
		}
		nets = append(nets, n)
	}
	return nets
}
