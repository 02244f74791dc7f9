package auth

import "net"

// DeviceFingerprint is the (user_agent, ip) pair recorded at refresh token
// issuance and checked loosely on every subsequent refresh.
type DeviceFingerprint struct {
	UserAgent string
	IP        string
}

// Key returns a stable string identifying the device for the
// (user_id, device fingerprint) uniqueness constraint. It intentionally
// uses the exact user agent plus the IP's containing /24 (IPv4) or /48
// (IPv6) block, so mobility within the same network does not spawn a new
// refresh chain.
func (f DeviceFingerprint) Key() string {
	return f.UserAgent + "|" + loosenIP(f.IP)
}

// LooseMatch reports whether candidate plausibly belongs to the same
// device as the one on file: exact user-agent match, and an IP within the
// same loosened prefix (tolerating mobile carrier address churn).
func (f DeviceFingerprint) LooseMatch(candidate DeviceFingerprint) bool {
	if f.UserAgent != candidate.UserAgent {
		return false
	}
	return loosenIP(f.IP) == loosenIP(candidate.IP)
}

func loosenIP(raw string) string {
	ip := net.ParseIP(raw)
	if ip == nil {
		return raw
	}
	if v4 := ip.To4(); v4 != nil {
		mask := net.CIDRMask(24, 32)
		return v4.Mask(mask).String()
	}
	mask := net.CIDRMask(48, 128)
	return ip.Mask(mask).String()
}
