package httpserver

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/lilsandesh/NeoShare/internal/config"
)

// normalizeOrigin canonicalizes an Origin header value to
// scheme://host[:port], lowercased, default ports stripped. The second
// result is false for values that are not well-formed origins.
func normalizeOrigin(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.EqualFold(raw, "null") {
		return "", false
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return "", false
	}
	if u.Path != "" || u.RawQuery != "" || u.Fragment != "" || u.User != nil {
		return "", false
	}
	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	switch scheme {
	case "http", "ws":
		host = strings.TrimSuffix(host, ":80")
	case "https", "wss":
		host = strings.TrimSuffix(host, ":443")
	}
	return scheme + "://" + host, true
}

// originAllowed applies the configured allowlist. An empty allowlist admits
// only same-host requests, which keeps a default deployment closed to
// cross-site browser traffic.
func originAllowed(normalized string, requestHost string, allowed []string) bool {
	if len(allowed) == 0 {
		u, err := url.Parse(normalized)
		if err != nil {
			return false
		}
		return strings.EqualFold(u.Host, requestHost) ||
			strings.EqualFold(u.Hostname(), requestHost)
	}
	for _, a := range allowed {
		if normalized == a {
			return true
		}
	}
	return false
}

// CheckOrigin is the upgrade-time origin gate handed to the WebSocket
// upgrader. Requests without an Origin header (non-browser clients) pass.
func CheckOrigin(cfg config.Config) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		raw := r.Header.Get("Origin")
		if raw == "" {
			return true
		}
		normalized, ok := normalizeOrigin(raw)
		if !ok {
			return false
		}
		return originAllowed(normalized, r.Host, cfg.AllowedOrigins)
	}
}

// withOriginPolicy enforces the same gate on REST endpoints and answers
// CORS preflight for allowed origins.
func (s *Server) withOriginPolicy(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		raw := strings.TrimSpace(r.Header.Get("Origin"))
		if raw == "" {
			next(w, r)
			return
		}

		normalized, ok := normalizeOrigin(raw)
		if !ok || !originAllowed(normalized, r.Host, s.cfg.AllowedOrigins) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}

		w.Header().Set("Access-Control-Allow-Origin", normalized)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Expose-Headers", "X-Request-ID")
		w.Header().Add("Vary", "Origin")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			w.Header().Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
			if reqHeaders := strings.TrimSpace(r.Header.Get("Access-Control-Request-Headers")); reqHeaders != "" {
				w.Header().Set("Access-Control-Allow-Headers", reqHeaders)
			}
			w.Header().Set("Access-Control-Max-Age", "600")
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next(w, r)
	}
}
