package middleware

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/sentra-io/devicetrust/internal/util/logger"
)

// HeadersConfig holds HTTPS enforcement and security header behavior.
type HeadersConfig struct {
	HSTSMaxAge            int // seconds
	IncludeSubdomains     bool
	Preload               bool
	ContentSecurityPolicy string   // set only on HTTPS
	ExcludedPaths         []string // paths to skip redirect/HSTS (probes)
	ForceRedirect         bool     // redirect HTTP->HTTPS for GET/HEAD
	TrustProxyHeader      bool     // honor X-Forwarded-Proto
}

func DefaultHeadersConfig() HeadersConfig {
	return HeadersConfig{
		HSTSMaxAge:            63072000, // 2 years
		IncludeSubdomains:     true,
		Preload:               true,
		ContentSecurityPolicy: "default-src 'self'; frame-ancestors 'none';",
		ExcludedPaths:         []string{"/healthz"},
		ForceRedirect:         true,
		TrustProxyHeader:      true,
	}
}

// SecureHeaders enforces HTTPS (optional redirect) and sets security headers.
func SecureHeaders(cfg HeadersConfig) func(http.Handler) http.Handler {
	excluded := make(map[string]bool, len(cfg.ExcludedPaths))
	for _, p := range cfg.ExcludedPaths {
		excluded[p] = true
	}

	// Preload requires includeSubDomains and a 1-year minimum max-age.
	if cfg.Preload && cfg.HSTSMaxAge < 31536000 {
		logger.Warn("HSTS preload requires max-age>=31536000; current max-age=%d", cfg.HSTSMaxAge)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if excluded[r.URL.Path] {
				next.ServeHTTP(w, r)
				return
			}

			isHTTPS := false
			if cfg.TrustProxyHeader {
				if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
					isHTTPS = strings.EqualFold(proto, "https")
				}
			}
			if r.TLS != nil {
				isHTTPS = true
			}

			if cfg.ForceRedirect && !isHTTPS && (r.Method == http.MethodGet || r.Method == http.MethodHead) {
				u := *r.URL
				u.Scheme = "https"
				u.Host = stripPortIfValid(r.Host)
				http.Redirect(w, r, u.String(), http.StatusPermanentRedirect)
				return
			}

			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")

			if isHTTPS {
				setHSTS(w, cfg)
				if v := strings.TrimSpace(cfg.ContentSecurityPolicy); v != "" {
					w.Header().Set("Content-Security-Policy", v)
				}
			}

			next.ServeHTTP(w, r)
		})
	}
}

func setHSTS(w http.ResponseWriter, cfg HeadersConfig) {
	maxAge := cfg.HSTSMaxAge
	if maxAge <= 0 {
		maxAge = 31536000
	}
	var b strings.Builder
	b.WriteString("max-age=")
	b.WriteString(strconv.Itoa(maxAge))
	if cfg.IncludeSubdomains {
		b.WriteString("; includeSubDomains")
	}
	if cfg.Preload {
		b.WriteString("; preload")
	}
	w.Header().Set("Strict-Transport-Security", b.String())
}

// stripPortIfValid removes :<port> when valid to avoid https://host:443.
func stripPortIfValid(hostport string) string {
	if i := strings.LastIndex(hostport, ":"); i != -1 {
		port := hostport[i+1:]
		if _, err := net.LookupPort("tcp", port); err == nil {
			return hostport[:i]
		}
	}
	return hostport
}
