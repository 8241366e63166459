// Package ceremony implements the two-step challenge/response state
// machines for passkey registration and login.
//
// Each ceremony runs Idle -> ChallengeIssued -> (Completed | Abandoned).
// Start issues a random challenge and binds it, with the pending identity,
// to the caller's session id. Finish pops the binding (exactly once),
// verifies the signed response through the verify gateway, and only then
// touches the credential store. Failed finishes leave stored state
// unchanged.
//
// Replay is blocked twice over: the challenge cache's pop semantics stop a
// challenge from being accepted twice, and the signature counter must
// strictly advance on every login (0/0 tolerated for authenticators that
// never increment).
package ceremony
