package security

import (
	"net/http/httptest"
	"testing"
)

func TestGetClientIP(t *testing.T) {
	tests := []struct {
		name              string
		remoteAddr        string
		forwardedFor      string
		realIP            string
		trustProxy        bool
		trustedProxyCount int
		want              string
	}{
		{
			name:       "direct connection",
			remoteAddr: "203.0.113.5:4567",
			want:       "203.0.113.5",
		},
		{
			name:         "proxy not trusted ignores XFF",
			remoteAddr:   "10.0.0.1:4567",
			forwardedFor: "203.0.113.5",
			want:         "10.0.0.1",
		},
		{
			name:         "trusted proxy uses XFF",
			remoteAddr:   "10.0.0.1:4567",
			forwardedFor: "203.0.113.5",
			trustProxy:   true,
			want:         "203.0.113.5",
		},
		{
			name:              "two trusted proxies skip spoofed entries",
			remoteAddr:        "10.0.0.1:4567",
			forwardedFor:      "203.0.113.5, 198.51.100.7, 10.0.0.2",
			trustProxy:        true,
			trustedProxyCount: 2,
			want:              "203.0.113.5",
		},
		{
			name:       "trusted proxy falls back to X-Real-IP",
			remoteAddr: "10.0.0.1:4567",
			realIP:     "203.0.113.9",
			trustProxy: true,
			want:       "203.0.113.9",
		},
		{
			name:         "invalid XFF entry falls through",
			remoteAddr:   "10.0.0.1:4567",
			forwardedFor: "not-an-ip",
			trustProxy:   true,
			want:         "10.0.0.1",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest("GET", "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.forwardedFor != "" {
				r.Header.Set("X-Forwarded-For", tt.forwardedFor)
			}
			if tt.realIP != "" {
				r.Header.Set("X-Real-IP", tt.realIP)
			}

			if got := GetClientIP(r, tt.trustProxy, tt.trustedProxyCount); got != tt.want {
				t.Errorf("GetClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}
