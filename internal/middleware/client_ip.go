package middleware

import (
	"context"
	"net"
	"net/http"
	"strings"
)

type ctxKey int

const ctxClientIPKey ctxKey = iota + 1

// ClientIPConfig controls trusted-proxy resolution of the caller's address.
type ClientIPConfig struct {
	TrustedProxyIPHeaders []string
	TrustedProxyCIDRs     []string
}

// ClientIPFromContext returns the resolved client IP, if the middleware ran.
func ClientIPFromContext(ctx context.Context) (net.IP, bool) {
	v := ctx.Value(ctxClientIPKey)
	if v == nil {
		return nil, false
	}
	ip, ok := v.(net.IP)
	return ip, ok
}

// ClientIP resolves the true client address, honoring forwarding headers only
// when the immediate peer is a trusted proxy, and attaches it to the request
// context. No I/O.
func ClientIP(cfg ClientIPConfig) func(next http.Handler) http.Handler {
	proxyNets := mustParseCIDRs(cfg.TrustedProxyCIDRs)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r, cfg.TrustedProxyIPHeaders, proxyNets)
			ctx := context.WithValue(r.Context(), ctxClientIPKey, ip)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func clientIP(r *http.Request, hdrs []string, trusted []*net.IPNet) net.IP {
	remoteIP := remoteAddrIP(r.RemoteAddr)

	if len(hdrs) == 0 {
		return remoteIP
	}

	// Trust proxy headers only if the immediate peer is trusted.
	if !ipInCIDRs(remoteIP, trusted) {
		return remoteIP
	}

	for _, h := range hdrs {
		v := strings.TrimSpace(r.Header.Get(h))
		if v == "" {
			continue
		}
		if strings.EqualFold(h, "X-Forwarded-For") {
			// Left-most IP from XFF.
			parts := strings.Split(v, ",")
			for i := range parts {
				ip := net.ParseIP(strings.TrimSpace(parts[i]))
				if ip != nil {
					return ip
				}
			}
		} else {
			ip := net.ParseIP(v)
			if ip != nil {
				return ip
			}
		}
	}
	return remoteIP
}

func remoteAddrIP(remoteAddr string) net.IP {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		if ip := net.ParseIP(remoteAddr); ip != nil {
			return ip
		}
		return net.IPv4zero
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return net.IPv4zero
	}
	return ip
}

func ipInCIDRs(ip net.IP, nets []*net.IPNet) bool {
	if ip == nil || len(nets) == 0 {
		return false
	}
	for _, n := range nets {
		if n.Contains(ip) {
			return true
		}
	}
	return false
}

func mustParseCIDRs(cidrs []string) []*net.IPNet {
	if len(cidrs) == 0 {
		return nil
	}
	out := make([]*net.IPNet, 0, len(cidrs))
	for _, c := range cidrs {
		_, n, err := net.ParseCIDR(strings.TrimSpace(c))
		if err == nil && n != nil {
			out = append(out, n)
		}
	}
	return out
}
