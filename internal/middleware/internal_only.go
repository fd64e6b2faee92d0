package middleware

import (
	"crypto/subtle"
	"net"
	"net/http"
)

// InternalOnly пропускает запросы с loopback/приватных адресов или с заголовком X-Internal-Secret == secret.
// Используется для /metrics: снаружи метрики не видны, Prometheus ходит из внутренней сети.
// Адрес берётся из RemoteAddr (его уже выставил chi RealIP).
func InternalOnly(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if secret != "" && subtle.ConstantTimeCompare([]byte(r.Header.Get("X-Internal-Secret")), []byte(secret)) == 1 {
				next.ServeHTTP(w, r)
				return
			}
			if isPrivateIP(remoteHost(r.RemoteAddr)) {
				next.ServeHTTP(w, r)
				return
			}
			writeJSONError(w, http.StatusForbidden, "forbidden")
		})
	}
}

func remoteHost(addr string) string {
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
