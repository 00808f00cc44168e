// Package security provides SSRF protection for outbound webhook deliveries.
//
// Webhook targets are caller-supplied URLs, so every delivery dial must be
// prevented from reaching internal infrastructure such as cloud metadata
// services (169.254.169.254), localhost, or private network ranges.
// SafeTransport wraps http.Transport and validates every resolved IP during
// connection establishment; redirects are re-validated hop by hop.
package security

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"
)

// dnsTimeout is the maximum time allowed for DNS resolution.
const dnsTimeout = 500 * time.Millisecond

// ErrBlocked is returned when a delivery targets a blocked IP range.
var ErrBlocked = errors.New("ssrf: request to blocked IP range")

// ErrDNSTimeout is returned when DNS resolution exceeds the timeout.
var ErrDNSTimeout = errors.New("ssrf: DNS resolution timeout")

// ErrTooManyRedirects is returned when the redirect limit is exceeded.
var ErrTooManyRedirects = errors.New("ssrf: too many redirects")

// ErrDNSFailed is returned when DNS resolution fails entirely.
var ErrDNSFailed = errors.New("ssrf: DNS resolution failed")

// blockedCIDRs covers loopback, link-local (including cloud metadata
// endpoints), RFC 1918 private ranges, and their IPv6 equivalents.
var blockedCIDRs = []string{
	"127.0.0.0/8",
	"10.0.0.0/8",
	"172.16.0.0/12",
	"192.168.0.0/16",
	"169.254.0.0/16",
	"0.0.0.0/8",
	"100.64.0.0/10",
	"::1/128",
	"fc00::/7",
	"fe80::/10",
}

var blockedNets = mustParseCIDRs(blockedCIDRs)

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	nets := make([]*net.IPNet, 0, len(cidrs))
	for _, cidr := range cidrs {
		_, ipNet, err := net.ParseCIDR(cidr)
		if err != nil {
			panic(fmt.Sprintf("ssrf: invalid CIDR %q: %v", cidr, err))
		}
		nets = append(nets, ipNet)
	}
	return nets
}

// isBlockedIP checks if the given IP falls within any blocked CIDR range.
func isBlockedIP(ip net.IP) bool {
	for _, ipNet := range blockedNets {
		if ipNet.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolver abstracts DNS resolution for testability.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type netResolver struct {
	r *net.Resolver
}

func (nr *netResolver) LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error) {
	return nr.r.LookupIPAddr(ctx, host)
}

// SafeTransport wraps http.Transport and validates every resolved IP during
// connection establishment, so no delivery can reach a blocked range even
// through DNS tricks.
type SafeTransport struct {
	// Base is the underlying http.Transport used for actual connections.
	Base *http.Transport

	// Resolver is used for DNS lookups. If nil, net.DefaultResolver is used.
	// Exposed for testing.
	Resolver Resolver
}

// NewSafeTransport creates a SafeTransport wrapping the provided base
// transport. If base is nil, a default http.Transport is used.
func NewSafeTransport(base *http.Transport) *SafeTransport {
	if base == nil {
		base = &http.Transport{}
	}

	st := &SafeTransport{Base: base}
	base.DialContext = st.safeDialContext
	return st
}

// RoundTrip implements http.RoundTripper. It delegates to the base transport
// which has its DialContext overridden with SSRF validation.
func (st *SafeTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	return st.Base.RoundTrip(req)
}

// safeDialContext resolves the host to IP addresses, validates each against
// the blocked CIDR list, and only dials if all resolved IPs are safe.
func (st *SafeTransport) safeDialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return nil, fmt.Errorf("ssrf: invalid address %q: %w", addr, err)
	}

	if ip := net.ParseIP(host); ip != nil {
		if isBlockedIP(ip) {
			return nil, fmt.Errorf("%w: %s", ErrBlocked, ip.String())
		}
		dialer := &net.Dialer{}
		return dialer.DialContext(ctx, network, addr)
	}

	resolver := st.getResolver()
	dnsCtx, cancel := context.WithTimeout(ctx, dnsTimeout)
	defer cancel()

	ips, err := resolver.LookupIPAddr(dnsCtx, host)
	if err != nil {
		if dnsCtx.Err() != nil {
			return nil, fmt.Errorf("%w: host %q", ErrDNSTimeout, host)
		}
		return nil, fmt.Errorf("%w: host %q: %v", ErrDNSFailed, host, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("%w: host %q resolved to no addresses", ErrDNSFailed, host)
	}

	// Validate ALL resolved IPs before connecting to any. This prevents
	// DNS rebinding where one safe IP is mixed with a private one.
	for _, ipAddr := range ips {
		if isBlockedIP(ipAddr.IP) {
			return nil, fmt.Errorf("%w: %s (resolved from %s)", ErrBlocked, ipAddr.IP.String(), host)
		}
	}

	target := net.JoinHostPort(ips[0].IP.String(), port)
	dialer := &net.Dialer{}
	return dialer.DialContext(ctx, network, target)
}

func (st *SafeTransport) getResolver() Resolver {
	if st.Resolver != nil {
		return st.Resolver
	}
	return &netResolver{r: net.DefaultResolver}
}

// CheckRedirect returns an http.Client CheckRedirect function that validates
// redirect targets against the blocklist and enforces a maximum redirect
// count. resolver is optional; if nil, net.DefaultResolver is used.
func CheckRedirect(maxRedirects int, resolver Resolver) func(req *http.Request, via []*http.Request) error {
	if resolver == nil {
		resolver = &netResolver{r: net.DefaultResolver}
	}

	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return fmt.Errorf("%w: limit is %d", ErrTooManyRedirects, maxRedirects)
		}

		host := req.URL.Hostname()
		if host == "" {
			return fmt.Errorf("%w: redirect URL has no host", ErrBlocked)
		}

		if ip := net.ParseIP(host); ip != nil {
			if isBlockedIP(ip) {
				return fmt.Errorf("%w: redirect to %s", ErrBlocked, ip.String())
			}
			return nil
		}

		dnsCtx, cancel := context.WithTimeout(req.Context(), dnsTimeout)
		defer cancel()

		ips, err := resolver.LookupIPAddr(dnsCtx, host)
		if err != nil {
			if dnsCtx.Err() != nil {
				return fmt.Errorf("%w: redirect host %q", ErrDNSTimeout, host)
			}
			return fmt.Errorf("%w: redirect host %q: %v", ErrDNSFailed, host, err)
		}

		for _, ipAddr := range ips {
			if isBlockedIP(ipAddr.IP) {
				return fmt.Errorf("%w: redirect to %s (resolved from %s)", ErrBlocked, ipAddr.IP.String(), host)
			}
		}

		return nil
	}
}

// NewSafeHTTPClient creates an http.Client configured with SafeTransport and
// SSRF-aware redirect checking. This is the entry point for the delivery
// engine's webhook client.
func NewSafeHTTPClient(timeout time.Duration, maxRedirects int) *http.Client {
	transport := NewSafeTransport(nil)

	return &http.Client{
		Transport:     transport,
		Timeout:       timeout,
		CheckRedirect: CheckRedirect(maxRedirects, transport.Resolver),
	}
}
