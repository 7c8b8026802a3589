// Package gateway is the realtime auth gateway: an HTTP server with a
// websocket endpoint that authenticates every connection before relaying
// messages and dispatching commands.
//
// # Connection lifecycle
//
// Each request to /ws moves through
//
//	upgrade -> origin check -> token handshake -> registered -> message loop -> teardown
//
// The upgrade always succeeds so that policy failures can be reported as
// close codes:
//
//   - 1008 (policy violation): origin not allowed, token missing, token rejected
//   - 1011 (internal error): the credential backend failed
//
// The origin check runs before any token is looked at. With no configured
// allow-list only loopback origins (and clients that send no Origin) pass;
// otherwise the Origin header must start with one of the listed prefixes.
//
// The token comes from the token or api_key query parameter, or an
// Authorization: Bearer header, in that order. With auth.require_auth set to
// false the connection is admitted as a guest and the validator is never
// called.
//
// # Messages
//
// Every registered connection owns an auth.Manager. Inbound text is
// handled as follows:
//
//   - A JSON object with a string zKey or cmd field is a command. zKey wins
//     when both are present; the remaining fields are the payload.
//   - Anything else is relayed verbatim to every other connection.
//
// Commands run on a worker goroutine, bounded per connection by
// gateway.max_inflight_commands, so a slow command never stalls the read
// loop. A result is sent to the sender as {"result": ...} and then broadcast
// to the others; an error is sent only to the sender as {"error": "..."}.
// A result whose sender has disconnected is dropped, not broadcast.
//
// Outbound frames go through a per-connection queue of
// gateway.send_queue_size frames drained by a write pump. A peer whose
// queue fills is closed with code 1013 rather than slowing down the
// connection that is relaying to it.
//
// Session commands act on the connection's own Manager and reply only to
// the sender:
//
//	{"cmd":"auth.app","app":"shop","token":"..."}
//	{"cmd":"auth.switch","app":"crm"}
//	{"cmd":"auth.logout","scope":"application","app":"shop"}
//	{"cmd":"auth.context","context":"zsession"}
//	{"cmd":"auth.whoami"}
//
// # HTTP endpoints
//
//	GET  /health             liveness
//	GET  /health/ready       store ping plus connection count
//	GET  /metrics            Prometheus metrics (metrics.path)
//	POST /api/auth/login     {"username","password"} -> {"token","id","username","role"}
//	POST /api/auth/validate  Authorization: Bearer -> {"id","username","role"}
//	GET  /ws                 realtime endpoint
//
// # Lifecycle
//
//	gw, err := gateway.New(cfg, logger)
//	if err != nil { ... }
//	err = gw.Run(ctx) // blocks until ctx is canceled
//
// Shutdown closes live connections with 1001 (going away), waits for their
// goroutines and in-flight commands, then closes the store.
package gateway
