package utilities

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"strings"
)

type clientIPKey struct{}

// ProxyResolver derives the client address from forwarding headers, but only
// when the direct peer is one of the trusted proxies.
type ProxyResolver struct {
	trusted []*net.IPNet
}

// NewProxyResolver parses CIDRs or bare addresses. An empty list trusts no
// one and every request is keyed on its RemoteAddr.
func NewProxyResolver(entries []string) (*ProxyResolver, error) {
	p := &ProxyResolver{}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if !strings.Contains(e, "/") {
			ip := net.ParseIP(e)
			if ip == nil {
				return nil, fmt.Errorf("trusted proxy %q: not an address", e)
			}
			bits := 128
			if ip.To4() != nil {
				bits = 32
			}
			e = fmt.Sprintf("%s/%d", e, bits)
		}
		_, n, err := net.ParseCIDR(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		p.trusted = append(p.trusted, n)
	}
	return p, nil
}

func (p *ProxyResolver) isTrusted(addr string) bool {
	ip := net.ParseIP(addr)
	if ip == nil {
		return false
	}
	for _, n := range p.trusted {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

// Resolve returns the right-most X-Forwarded-For hop that is not a trusted
// proxy, or X-Real-IP, when the peer is trusted. Otherwise the peer itself.
func (p *ProxyResolver) Resolve(r *http.Request) string {
	peer := remoteHost(r)
	if p == nil || !p.isTrusted(peer) {
		return peer
	}
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop := strings.TrimSpace(hops[i])
			if hop == "" {
				continue
			}
			if !p.isTrusted(hop) {
				return hop
			}
			peer = hop
		}
		return peer
	}
	if xr := strings.TrimSpace(r.Header.Get("X-Real-IP")); xr != "" {
		return xr
	}
	return peer
}

// Middleware stores the resolved client address in the request context.
func (p *ProxyResolver) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := context.WithValue(r.Context(), clientIPKey{}, p.Resolve(r))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientIP returns the address stored by ProxyResolver.Middleware, or the host
// part of RemoteAddr. Forwarding headers are never read directly.
func ClientIP(r *http.Request) string {
	if ip, ok := r.Context().Value(clientIPKey{}).(string); ok && ip != "" {
		return ip
	}
	return remoteHost(r)
}

func remoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
