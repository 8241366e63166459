// Package verify is the boundary between ceremony orchestration and the
// cryptographic verification of authenticator responses.
//
// The Verifier interface exposes exactly two operations, one per ceremony.
// The production Gateway delegates to github.com/go-webauthn/webauthn;
// ceremony tests substitute a fake that returns fixed credentials, so the
// state-machine logic is testable without real attestation material.
//
// Verification failures collapse to ErrVerificationFailed regardless of
// which check tripped. The cause stays wrapped for server-side logs only.
package verify
