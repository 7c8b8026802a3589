// ABOUTME: Origin header policy for realtime upgrades
// ABOUTME: Prefix match against the configured allow-list, loopback-only when none is set

package gateway

import "strings"

// defaultLocalOrigins are permitted when no allow-list is configured.
func defaultLocalOrigins() []string {
	return []string{
		"http://localhost",
		"http://127.0.0.1",
		"http://[::1]",
		"https://localhost",
		"https://127.0.0.1",
		"https://[::1]",
	}
}

// originAllowed reports whether origin passes the policy. A configured
// allow-list is a plain prefix match; a missing Origin is rejected. With no
// allow-list only loopback origins pass, and a missing Origin is treated as
// a non-browser local client.
func originAllowed(origin string, allowlist []string) bool {
	if len(allowlist) == 0 {
		if origin == "" {
			return true
		}
		return isLoopbackOrigin(origin)
	}
	if origin == "" {
		return false
	}
	for _, prefix := range allowlist {
		prefix = strings.TrimSpace(prefix)
		if prefix != "" && strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

// isLoopbackOrigin matches a loopback origin exactly or followed by a port,
// so that "http://localhost.evil.com" does not pass.
func isLoopbackOrigin(origin string) bool {
	origin = strings.ToLower(origin)
	for _, base := range defaultLocalOrigins() {
		if origin == base || strings.HasPrefix(origin, base+":") {
			return true
		}
	}
	return false
}
