// Package registry tracks the live realtime connections of a gateway and
// fans messages out to them.
//
// Registry is the only state shared between connections. Broadcast copies
// the entries under a read lock and sends outside it, so connections may
// join or leave while a broadcast is in flight.
package registry
