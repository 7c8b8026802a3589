// Package dedupe provides a TTL-bounded, size-limited set of recently seen
// keys. The auth layer uses it to remember rejected token fingerprints so
// that repeated bad credentials do not reach the identity store.
package dedupe
