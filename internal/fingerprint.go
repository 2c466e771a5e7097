package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint derives the stable device fingerprint from the opaque
// client-generated identifier plus the browser/OS signals the transport
// layer observed. Signal order matters; callers pass a fixed order.
func Fingerprint(clientID string, signals ...string) string {
	h := sha256.New()
	h.Write([]byte(strings.TrimSpace(clientID)))
	for _, s := range signals {
		h.Write([]byte{0})
		h.Write([]byte(strings.TrimSpace(s)))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// IPNetworkClass collapses an IP address to a coarse network bucket used
// to approximate geographic movement without a geo database: the /16 for
// IPv4 and the first three groups for IPv6.
func IPNetworkClass(ip string) string {
	ip = strings.TrimSpace(ip)
	if ip == "" {
		return ""
	}

	if strings.Contains(ip, ".") {
		parts := strings.SplitN(ip, ".", 3)
		if len(parts) < 2 {
			return ip
		}
		return parts[0] + "." + parts[1]
	}

	groups := strings.SplitN(ip, ":", 4)
	if len(groups) < 3 {
		return ip
	}
	return strings.Join(groups[:3], ":")
}
