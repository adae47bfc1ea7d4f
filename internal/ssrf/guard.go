// Package ssrf decides whether a capture target may be fetched from this
// network. The check looks at the literal host at submission time and does
// not pin the address the browser later connects to.
package ssrf

import (
	"context"
	"net"
	"net/netip"
	"net/url"
	"strings"

	"github.com/osvaldoandrade/captureq/pkg/domain"
)

const (
	ReasonNoHost     = "Unable to find hostname or IP in the query."
	ReasonUnresolved = "Name or service not known."
	ReasonPrivate    = "Capturing ressources on private IPs is disabled."
	ReasonLocalFile  = "Capturing local files is disabled."
)

// Resolver is satisfied by *net.Resolver.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

type Options struct {
	OnlyGlobalLookups bool
	// TorProxy is forced on .onion targets that come without a proxy.
	TorProxy string
	Resolver Resolver
}

type Guard struct {
	onlyGlobal bool
	torProxy   string
	resolver   Resolver
}

// Decision carries the proxy the capture must use, which may differ from the
// one the job asked for.
type Decision struct {
	Proxy string
}

func NewGuard(opts Options) *Guard {
	r := opts.Resolver
	if r == nil {
		r = net.DefaultResolver
	}
	return &Guard{onlyGlobal: opts.OnlyGlobalLookups, torProxy: opts.TorProxy, resolver: r}
}

// Check validates a normalized target URL. Denials are marked
// domain.ErrPolicyDenied and carry a user-facing reason. Inline documents
// never reach it; a submitted file: URL is treated as a local read.
func (g *Guard) Check(ctx context.Context, target, proxy string) (Decision, error) {
	d := Decision{Proxy: proxy}
	switch Scheme(target) {
	case "data":
		return d, nil
	case "file":
		if g.onlyGlobal {
			return d, domain.Denied(ReasonLocalFile)
		}
		return d, nil
	}

	host := ""
	if u, err := url.Parse(target); err == nil {
		host = u.Hostname()
	}
	if host == "" {
		if g.onlyGlobal {
			return d, domain.Denied(ReasonNoHost)
		}
		return d, nil
	}

	if IsOnion(host) {
		if d.Proxy == "" {
			d.Proxy = g.torProxy
		}
		return d, nil
	}
	if !g.onlyGlobal {
		return d, nil
	}

	var addrs []netip.Addr
	if a, err := netip.ParseAddr(host); err == nil {
		addrs = append(addrs, a)
	} else {
		ips, err := g.resolver.LookupIPAddr(ctx, host)
		if err != nil || len(ips) == 0 {
			return d, domain.Denied(ReasonUnresolved)
		}
		for _, ip := range ips {
			if a, ok := netip.AddrFromSlice(ip.IP); ok {
				addrs = append(addrs, a)
			}
		}
	}
	for _, a := range addrs {
		if !IsGlobal(a) {
			return d, domain.Denied(ReasonPrivate)
		}
	}
	return d, nil
}

// Scheme returns the lower-cased URL scheme of raw, or "" when raw does not
// start with one (RFC 3986: a letter, then letters, digits, "+", "-" or ".",
// then a colon). "example.com:8080" yields "example.com".
func Scheme(raw string) string {
	for i := 0; i < len(raw); i++ {
		c := raw[i]
		switch {
		case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z':
		case i > 0 && ('0' <= c && c <= '9' || c == '+' || c == '-' || c == '.'):
		case i > 0 && c == ':':
			return strings.ToLower(raw[:i])
		default:
			return ""
		}
	}
	return ""
}

// IsOnion reports whether the host's top-level label is "onion".
func IsOnion(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	i := strings.LastIndexByte(host, '.')
	return host[i+1:] == "onion"
}
