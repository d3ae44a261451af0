package metadata

import (
	"fmt"
	"net"
	"net/http"
	"net/netip"
	"strings"

	"github.com/mssola/useragent"

	"faceauth/pkg/requestcontext"
)

// ProxyTrust decides whose forwarding headers are believed. The zero value
// and a nil *ProxyTrust trust nobody, so the socket peer is the client.
type ProxyTrust struct {
	prefixes []netip.Prefix
}

// ParseTrustedProxies accepts single addresses and CIDR ranges.
func ParseTrustedProxies(entries []string) (*ProxyTrust, error) {
	p := &ProxyTrust{}
	for _, raw := range entries {
		entry := strings.TrimSpace(raw)
		if entry == "" {
			continue
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			p.prefixes = append(p.prefixes, prefix.Masked())
			continue
		}
		addr, err := netip.ParseAddr(entry)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: not an address or CIDR", entry)
		}
		addr = addr.Unmap()
		p.prefixes = append(p.prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return p, nil
}

func (p *ProxyTrust) trusts(addr netip.Addr) bool {
	if p == nil || !addr.IsValid() {
		return false
	}
	addr = addr.Unmap()
	for _, prefix := range p.prefixes {
		if prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// ClientIP returns the socket peer unless the peer is a trusted proxy. Behind
// a trusted proxy it walks X-Forwarded-For from the right and returns the
// first hop that is not itself trusted, falling back to X-Real-IP.
func (p *ProxyTrust) ClientIP(r *http.Request) string {
	peer := peerHost(r.RemoteAddr)
	if peer == "" {
		return "unknown"
	}
	peerAddr, err := netip.ParseAddr(peer)
	if err != nil || !p.trusts(peerAddr) {
		return peer
	}

	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		hops := strings.Split(xff, ",")
		for i := len(hops) - 1; i >= 0; i-- {
			hop, err := netip.ParseAddr(strings.TrimSpace(hops[i]))
			if err != nil {
				return peer
			}
			if !p.trusts(hop) || i == 0 {
				return hop.Unmap().String()
			}
		}
	}

	if xri, err := netip.ParseAddr(strings.TrimSpace(r.Header.Get("X-Real-IP"))); err == nil {
		return xri.Unmap().String()
	}
	return peer
}

// Middleware extracts client IP address, User-Agent and a parsed device
// descriptor from the request and adds them to the context. Apply it early in
// the chain.
func (p *ProxyTrust) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua := r.Header.Get("User-Agent")

		ctx := requestcontext.WithClientMetadata(r.Context(), p.ClientIP(r), ua)
		if device := DeviceFromUserAgent(ua); device != "" {
			ctx = requestcontext.WithDevice(ctx, device)
		}

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// ClientMetadata is Middleware with no trusted proxies.
func ClientMetadata(next http.Handler) http.Handler {
	return (*ProxyTrust)(nil).Middleware(next)
}

// ClientIPFromRequest is ClientIP with no trusted proxies: the socket peer.
func ClientIPFromRequest(r *http.Request) string {
	return (*ProxyTrust)(nil).ClientIP(r)
}

func peerHost(addr string) string {
	if addr == "" {
		return ""
	}
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

// DeviceFromUserAgent condenses a User-Agent into "browser/os". Empty input
// yields "".
func DeviceFromUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	browser, _ := ua.Browser()
	if ua.Bot() {
		return "bot/" + browser
	}
	os := ua.OS()
	switch {
	case browser == "" && os == "":
		return ""
	case os == "":
		return browser
	case browser == "":
		return os
	}
	return browser + "/" + os
}
