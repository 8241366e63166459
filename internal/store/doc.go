// Package store provides persistent storage for passkeyd using SQLite.
//
// # Data Models
//
//   - User: a registered account, created at successful registration
//   - Credential: a passkey public key with its signature counter
//
// Users and credentials are one-to-many. Username and credential id
// uniqueness are enforced by UNIQUE constraints at the storage layer, not
// by check-then-insert, so concurrent registrations cannot race past each
// other.
//
// # SQLite Configuration
//
// The store uses SQLite with WAL mode for concurrent reads:
//
//	PRAGMA journal_mode=WAL;
//	PRAGMA foreign_keys=ON;
//
// Use NewSQLiteStore(":memory:") or a t.TempDir path for tests.
//
// # Error Handling
//
// Common errors:
//
//   - ErrNotFound: Requested entity does not exist
//   - ErrUsernameExists: Username is already registered
//   - ErrCredentialExists: Credential id is already registered
//
// All methods accept context.Context for cancellation support.
package store
