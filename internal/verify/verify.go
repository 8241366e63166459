// ABOUTME: Verification gateway wrapping the go-webauthn library
// ABOUTME: Parses raw client responses and validates them against the issued challenge

package verify

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
)

// ErrMalformedResponse is returned when the client's response cannot be parsed.
var ErrMalformedResponse = errors.New("malformed authenticator response")

// ErrVerificationFailed is returned when a parsed response fails validation
// (signature, challenge, origin, or relying-party mismatch). The underlying
// cause is wrapped for logging; callers must not surface it to clients, so a
// probe can't learn which check failed.
var ErrVerificationFailed = errors.New("verification failed")

// Verifier validates signed authenticator responses against ceremony state.
// The two operations mirror the two ceremonies; tests substitute a
// deterministic fake so no real cryptographic material is needed.
type Verifier interface {
	// VerifyRegistration checks an attestation response and returns the
	// newly minted credential (id, public key, initial sign count).
	VerifyRegistration(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error)

	// VerifyAuthentication checks an assertion response against the user's
	// registered credentials and returns the credential that signed, with
	// its authenticator-reported sign count.
	VerifyAuthentication(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error)
}

// Gateway implements Verifier on top of a configured webauthn.WebAuthn
// instance, which carries the relying-party id and allowed origins.
type Gateway struct {
	wa *webauthn.WebAuthn
}

// Ensure Gateway implements Verifier.
var _ Verifier = (*Gateway)(nil)

// NewGateway wraps a webauthn instance.
func NewGateway(wa *webauthn.WebAuthn) *Gateway {
	return &Gateway{wa: wa}
}

// VerifyRegistration parses and validates an attestation response.
func (g *Gateway) VerifyRegistration(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialCreationResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	cred, err := g.wa.CreateCredential(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	return cred, nil
}

// VerifyAuthentication parses and validates an assertion response.
func (g *Gateway) VerifyAuthentication(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error) {
	parsed, err := protocol.ParseCredentialRequestResponseBody(bytes.NewReader(response))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedResponse, err)
	}

	cred, err := g.wa.ValidateLogin(user, session, parsed)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrVerificationFailed, err)
	}

	return cred, nil
}
