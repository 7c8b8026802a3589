// Package executor runs named commands on behalf of realtime clients.
//
// Commands are registered in a Registry under a unique name. Each command
// may require one of a set of roles; the caller's identity is checked
// before the handler runs. The gateway calls Execute off the connection's
// receive path, so handlers may block.
//
// Builtins registers the stock commands:
//
//   - ping: returns "pong"
//   - echo: returns its payload minus the command key
//   - whoami: returns the caller's identity
//   - time: returns the server time in RFC3339
//   - commands: lists the commands the caller may run
package executor
