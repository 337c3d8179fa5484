package netutil

import (
	"net"
	"net/netip"
	"strings"
	"unicode/utf8"
)

const MaxUserAgentLength = 512

// NormalizeIP extracts the canonical IP from a bare address or a host:port
// form ("192.0.2.4:1234", "[2001:db8::1]:443"), dropping any IPv6 zone. The
// bool reports whether the input parsed as an IP at all; on failure the raw
// input comes back unchanged so callers can still record something.
func NormalizeIP(raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	if addr, err := netip.ParseAddr(raw); err == nil {
		return addr.WithZone("").String(), true
	}
	if host, _, err := net.SplitHostPort(raw); err == nil {
		if addr, perr := netip.ParseAddr(host); perr == nil {
			return addr.WithZone("").String(), true
		}
	}
	return raw, false
}

// TruncateUserAgent bounds user-agent strings for storage, on rune boundaries
// so multi-byte characters stay intact.
func TruncateUserAgent(ua string) string {
	if utf8.RuneCountInString(ua) <= MaxUserAgentLength {
		return ua
	}
	return string([]rune(ua)[:MaxUserAgentLength])
}
