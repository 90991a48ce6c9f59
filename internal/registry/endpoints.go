package registry

import (
	"net"
	"net/url"
	"strings"
)

const (
	DexScreenerBaseURL = "https://api.dexscreener.com"
)

// IsAllowedRelayURL accepts https relay endpoints and plain http on loopback hosts only,
// so signed transactions are never shipped in clear text to remote hosts.
func IsAllowedRelayURL(endpoint string) bool {
	parsed, err := url.Parse(strings.TrimSpace(endpoint))
	if err != nil {
		return false
	}
	host := strings.TrimSpace(parsed.Hostname())
	if host == "" {
		return false
	}
	switch strings.ToLower(parsed.Scheme) {
	case "https":
		return true
	case "http":
		if strings.EqualFold(host, "localhost") {
			return true
		}
		ip := net.ParseIP(host)
		return ip != nil && ip.IsLoopback()
	default:
		return false
	}
}
