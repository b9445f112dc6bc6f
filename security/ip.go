package security

import (
	"net"
	"net/http"
	"strings"
)

// GetClientIP extracts the real client IP address from the request.
// Supports X-Forwarded-For and X-Real-IP headers when behind a proxy.
//
// Only enable trustProxy when behind a trusted reverse proxy.
// trustedProxyCount specifies how many proxies to trust from the right of
// the X-Forwarded-For list, which prevents spoofing in multi-proxy setups.
func GetClientIP(r *http.Request, trustProxy bool, trustedProxyCount int) string {
	if trustProxy {
		if ip := ipFromForwardedFor(r.Header.Get("X-Forwarded-For"), trustedProxyCount); ip != "" {
			return ip
		}
		if ip := r.Header.Get("X-Real-IP"); net.ParseIP(ip) != nil {
			return ip
		}
	}
	return ipFromRemoteAddr(r.RemoteAddr)
}

// ipFromForwardedFor parses the X-Forwarded-For header.
// Format is "client-ip, proxy-n, ..., proxy-1" with the rightmost entries
// appended by the proxies we control, so the client IP sits at
// len(ips) - trustedProxyCount - 1.
func ipFromForwardedFor(xff string, trustedProxyCount int) string {
	if xff == "" {
		return ""
	}

	ips := strings.Split(xff, ",")

	proxyCount := trustedProxyCount
	if proxyCount == 0 {
		proxyCount = 1
	}
	idx := len(ips) - proxyCount - 1
	if idx < 0 {
		idx = 0
	}

	clientIP := strings.TrimSpace(ips[idx])
	if net.ParseIP(clientIP) != nil {
		return clientIP
	}
	return ""
}

// ipFromRemoteAddr extracts the IP of the direct connection.
func ipFromRemoteAddr(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
