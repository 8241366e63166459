// ABOUTME: Adapter exposing stored users and credentials through the webauthn.User interface
// ABOUTME: Lets the go-webauthn library build allow-lists and validate against stored keys

package ceremony

import (
	"github.com/go-webauthn/webauthn/webauthn"

	"github.com/2389/passkeyd/internal/store"
)

// ceremonyUser wraps a user id/username plus stored credentials to
// implement the webauthn.User interface.
type ceremonyUser struct {
	id       string
	username string
	creds    []*store.Credential
}

func (u *ceremonyUser) WebAuthnID() []byte {
	return []byte(u.id)
}

func (u *ceremonyUser) WebAuthnName() string {
	return u.username
}

func (u *ceremonyUser) WebAuthnDisplayName() string {
	return u.username
}

func (u *ceremonyUser) WebAuthnCredentials() []webauthn.Credential {
	creds := make([]webauthn.Credential, len(u.creds))
	for i, c := range u.creds {
		creds[i] = webauthn.Credential{
			ID:        c.CredentialID,
			PublicKey: c.PublicKey,
			Authenticator: webauthn.Authenticator{
				SignCount: c.SignCount,
			},
		}
	}
	return creds
}
