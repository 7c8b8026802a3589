// Package auth owns the authentication state of a session and the
// validators that back it.
//
// # Tiers
//
// A session carries one zSession identity (the platform account) and any
// number of application identities keyed by application name. Manager is
// the only writer of a session.Record:
//
//	m := auth.NewManager(nil, auth.ManagerConfig{Validator: v, Apps: v})
//	m.Login(ctx, auth.LoginRequest{Username: "alice", Password: "pw"})
//	m.AuthenticateApp(ctx, "shop", token, nil)   // context is now dual
//	m.Logout(ctx, auth.LogoutRequest{Scope: auth.ScopeApplication, AppName: "shop"})
//
// Every operation returns an Outcome instead of an error. Outcome.Err wraps
// one of ErrValidation, ErrAuthentication, ErrConnection or ErrConfiguration.
// Every successful mutation regenerates the record's hash.
//
// # Validators
//
// CredentialValidator and AppValidator return a Result with an enumerated
// FailureReason rather than arbitrary errors:
//
//   - StoreValidator: bcrypt passwords and HS256 bearer tokens over the SQLite store
//   - CachingValidator: expiring LRU for accepted tokens, dedupe set for rejections
//   - RemoteValidator: another gateway's /api/auth endpoints
//
// # Token transport
//
// ExtractToken reads ?token=, then ?api_key=, then Authorization: Bearer.
package auth
