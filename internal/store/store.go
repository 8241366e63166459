// ABOUTME: Store interface and data types for passkeyd persistence
// ABOUTME: Defines User, Credential structs and the Store interface for database operations

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrUsernameExists is returned when trying to create a user with an existing username.
var ErrUsernameExists = errors.New("username already exists")

// ErrCredentialExists is returned when trying to create a credential whose id is already registered.
var ErrCredentialExists = errors.New("credential already exists")

// User represents a registered account. Users are created once, at
// successful registration completion, and never mutated.
type User struct {
	ID        string
	Username  string
	CreatedAt time.Time
}

// Credential represents a passkey credential owned by a user. A user may
// own several credentials; the credential id is unique across all users.
type Credential struct {
	CredentialID []byte
	UserID       string
	PublicKey    []byte
	SignCount    uint32
	CreatedAt    time.Time
}

// Store defines the interface for user and credential persistence
type Store interface {
	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByUsername(ctx context.Context, username string) (*User, error)

	// Credentials
	CreateCredential(ctx context.Context, cred *Credential) error
	ListCredentials(ctx context.Context, userID string) ([]*Credential, error)
	GetCredentialByID(ctx context.Context, credentialID []byte) (*Credential, error)
	UpdateSignCount(ctx context.Context, credentialID []byte, signCount uint32) error

	// CreateUserWithCredential persists a user and their first credential
	// as one unit. A credential without its owning user (or vice versa)
	// must never be observable.
	CreateUserWithCredential(ctx context.Context, user *User, cred *Credential) error

	// Close releases any resources held by the store
	Close() error
}
