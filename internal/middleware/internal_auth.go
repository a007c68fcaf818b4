package middleware

import (
	"crypto/subtle"
	"log"
	"net"
	"net/http"
	"strings"
)

const InternalSecretHeader = "X-Internal-Secret"

// IsLoopback reports whether remoteAddr (host:port or bare host) is a loopback address.
func IsLoopback(remoteAddr string) bool {
	host := remoteAddr
	if h, _, err := net.SplitHostPort(remoteAddr); err == nil && h != "" {
		host = h
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return false
	}
	return ip.IsLoopback()
}

// InternalAllowed checks the shared secret header. With no secret configured only loopback
// callers are let through, which keeps local cron/curl usage working.
func InternalAllowed(r *http.Request, secret string) bool {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return IsLoopback(r.RemoteAddr)
	}
	got := strings.TrimSpace(r.Header.Get(InternalSecretHeader))
	if got == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(secret)) == 1
}

// InternalAuth guards internal-only routes (sweep triggers, realtime stream).
func InternalAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !InternalAllowed(r, secret) {
				log.Printf("[InternalAuth] forbidden path=%s remote=%s hasHeader=%v",
					r.URL.Path, r.RemoteAddr, r.Header.Get(InternalSecretHeader) != "")
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusForbidden)
				_, _ = w.Write([]byte(`{"error":"forbidden"}`))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
