// Package store provides persistent storage for the gateway using SQLite.
//
// # Architecture
//
// The store package splits persistence into narrow interfaces:
//
//   - UserStore: zSession accounts (username, bcrypt hash, role, status)
//   - AppStore: application-scoped identities keyed by API key
//   - AuditStore: append-only audit log of auth and connection events
//
// SQLiteStore implements all of them in a single struct, and Store composes
// them. Validators depend only on the lookup they need.
//
// # Application schemas
//
// Application identities live in app_users by default. An AppSchema can
// point lookups at any table with an ID, username, role and token column:
//
//	schema := store.AppSchema{
//		Table: "members", IDField: "member_id", UsernameField: "handle",
//		RoleField: "tier", TokenField: "secret",
//	}
//
// Every identifier must match [A-Za-z_][A-Za-z0-9_]*; values are always
// bound as parameters.
//
// # SQLite Configuration
//
// File databases use WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// NewSQLiteStore(":memory:") opens a single-connection in-memory database.
//
// # Error Handling
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrUsernameExists: Duplicate zSession username
//   - ErrAPIKeyExists: Duplicate application API key
//   - ErrInvalidSchema: AppSchema names an unsafe identifier
//
// All methods accept context.Context for cancellation support.
package store
