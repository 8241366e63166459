// ABOUTME: Tests for registration and login ceremony orchestration
// ABOUTME: Uses a fake verifier so no real attestation material is required

package ceremony

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/passkeyd/internal/store"
	"github.com/2389/passkeyd/internal/verify"
)

// fakeVerifier returns canned results so ceremony logic can be exercised
// without cryptographic material.
type fakeVerifier struct {
	regCred  *webauthn.Credential
	regErr   error
	authCred *webauthn.Credential
	authErr  error
}

func (f *fakeVerifier) VerifyRegistration(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error) {
	if f.regErr != nil {
		return nil, f.regErr
	}
	return f.regCred, nil
}

func (f *fakeVerifier) VerifyAuthentication(user webauthn.User, session webauthn.SessionData, response []byte) (*webauthn.Credential, error) {
	if f.authErr != nil {
		return nil, f.authErr
	}
	return f.authCred, nil
}

func fakeCredential(id string, signCount uint32) *webauthn.Credential {
	return &webauthn.Credential{
		ID:        []byte(id),
		PublicKey: []byte("public-key-material"),
		Authenticator: webauthn.Authenticator{
			SignCount: signCount,
		},
	}
}

func setupService(t *testing.T, fake *fakeVerifier) (*Service, *store.SQLiteStore) {
	t.Helper()

	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	wa, err := webauthn.New(&webauthn.Config{
		RPDisplayName: "passkeyd test",
		RPID:          "localhost",
		RPOrigins:     []string{"http://localhost"},
	})
	require.NoError(t, err)

	svc := NewService(wa, fake, st, time.Minute)
	t.Cleanup(svc.Close)

	return svc, st
}

// register runs a full registration ceremony for username on sessionID.
func register(t *testing.T, svc *Service, sessionID, username string) {
	t.Helper()
	_, err := svc.StartRegistration(context.Background(), sessionID, username)
	require.NoError(t, err)
	confirmed, err := svc.FinishRegistration(context.Background(), sessionID, []byte("{}"))
	require.NoError(t, err)
	require.Equal(t, NormalizeUsername(username), confirmed)
}

func TestNormalizeUsername(t *testing.T) {
	assert.Equal(t, "alice", NormalizeUsername("Alice "))
	assert.Equal(t, "alice", NormalizeUsername("  ALICE"))
	assert.Equal(t, "", NormalizeUsername("   "))
}

func TestStartRegistration_EmptyUsername(t *testing.T) {
	svc, _ := setupService(t, &fakeVerifier{})

	_, err := svc.StartRegistration(context.Background(), "session-1", "   ")
	assert.ErrorIs(t, err, ErrInvalidUsername)
}

func TestStartRegistration_ReturnsOptions(t *testing.T) {
	svc, _ := setupService(t, &fakeVerifier{})

	options, err := svc.StartRegistration(context.Background(), "session-1", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, options.Response.Challenge)
	assert.Equal(t, "localhost", options.Response.RelyingParty.ID)
	assert.Equal(t, protocol.VerificationRequired, options.Response.AuthenticatorSelection.UserVerification)
	assert.Equal(t, protocol.ResidentKeyRequirementPreferred, options.Response.AuthenticatorSelection.ResidentKey)
}

func TestStartRegistration_UsernameTaken(t *testing.T) {
	svc, _ := setupService(t, &fakeVerifier{regCred: fakeCredential("cred-1", 0)})

	register(t, svc, "session-1", "alice")

	_, err := svc.StartRegistration(context.Background(), "session-2", "alice")
	assert.ErrorIs(t, err, ErrUsernameTaken)

	// Normalization applies before the conflict check
	_, err = svc.StartRegistration(context.Background(), "session-2", " Alice ")
	assert.ErrorIs(t, err, ErrUsernameTaken)
}

func TestFinishRegistration_NoPendingCeremony(t *testing.T) {
	svc, _ := setupService(t, &fakeVerifier{})

	_, err := svc.FinishRegistration(context.Background(), "session-1", []byte("{}"))
	assert.ErrorIs(t, err, ErrNoPendingRegistration)
}

func TestFinishRegistration_PersistsUserAndCredential(t *testing.T) {
	svc, st := setupService(t, &fakeVerifier{regCred: fakeCredential("cred-1", 3)})
	ctx := context.Background()

	register(t, svc, "session-1", "Alice ")

	user, err := st.GetUserByUsername(ctx, "alice")
	require.NoError(t, err)

	cred, err := st.GetCredentialByID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, user.ID, cred.UserID)
	assert.Equal(t, uint32(3), cred.SignCount)
}

func TestFinishRegistration_ChallengeIsSingleUse(t *testing.T) {
	svc, _ := setupService(t, &fakeVerifier{regCred: fakeCredential("cred-1", 0)})
	ctx := context.Background()

	register(t, svc, "session-1", "alice")

	// Repeating the finish with the same session must fail
	_, err := svc.FinishRegistration(ctx, "session-1", []byte("{}"))
	assert.ErrorIs(t, err, ErrNoPendingRegistration)
}

func TestFinishRegistration_VerificationFailureWritesNothing(t *testing.T) {
	svc, st := setupService(t, &fakeVerifier{regErr: verify.ErrVerificationFailed})
	ctx := context.Background()

	_, err := svc.StartRegistration(ctx, "session-1", "alice")
	require.NoError(t, err)

	_, err = svc.FinishRegistration(ctx, "session-1", []byte("{}"))
	assert.ErrorIs(t, err, verify.ErrVerificationFailed)

	_, err = st.GetUserByUsername(ctx, "alice")
	assert.ErrorIs(t, err, store.ErrNotFound)

	// The failed ceremony consumed its challenge
	_, err = svc.FinishRegistration(ctx, "session-1", []byte("{}"))
	assert.ErrorIs(t, err, ErrNoPendingRegistration)
}

func TestStartLogin_UnknownUser(t *testing.T) {
	svc, _ := setupService(t, &fakeVerifier{})

	_, err := svc.StartLogin(context.Background(), "session-1", "bob")
	assert.ErrorIs(t, err, ErrUserNotFound)
}

func TestStartLogin_BuildsAllowList(t *testing.T) {
	fake := &fakeVerifier{regCred: fakeCredential("cred-1", 0)}
	svc, _ := setupService(t, fake)

	register(t, svc, "session-1", "alice")

	options, err := svc.StartLogin(context.Background(), "session-2", "alice")
	require.NoError(t, err)
	assert.NotEmpty(t, options.Response.Challenge)
	require.Len(t, options.Response.AllowedCredentials, 1)
	assert.Equal(t, []byte("cred-1"), []byte(options.Response.AllowedCredentials[0].CredentialID))
	assert.Equal(t, protocol.VerificationRequired, options.Response.UserVerification)
}

func TestFinishLogin_NoPendingCeremony(t *testing.T) {
	svc, _ := setupService(t, &fakeVerifier{})

	_, err := svc.FinishLogin(context.Background(), "session-1", []byte("{}"))
	assert.ErrorIs(t, err, ErrNoPendingLogin)
}

func TestFinishLogin_RoundTrip(t *testing.T) {
	fake := &fakeVerifier{
		regCred:  fakeCredential("cred-1", 0),
		authCred: fakeCredential("cred-1", 1),
	}
	svc, st := setupService(t, fake)
	ctx := context.Background()

	register(t, svc, "session-1", "alice")

	_, err := svc.StartLogin(ctx, "session-2", "alice")
	require.NoError(t, err)

	username, err := svc.FinishLogin(ctx, "session-2", []byte("{}"))
	require.NoError(t, err)
	assert.Equal(t, "alice", username)

	cred, err := st.GetCredentialByID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(1), cred.SignCount)
}

func TestFinishLogin_BindsIdentityFromStart(t *testing.T) {
	fake := &fakeVerifier{
		regCred:  fakeCredential("cred-1", 0),
		authCred: fakeCredential("cred-1", 1),
	}
	svc, _ := setupService(t, fake)
	ctx := context.Background()

	register(t, svc, "session-1", "alice")

	_, err := svc.StartLogin(ctx, "session-2", "alice")
	require.NoError(t, err)

	// The confirmed identity is the one bound at start; the response body
	// carries no say in the matter.
	username, err := svc.FinishLogin(ctx, "session-2", []byte(`{"username":"mallory"}`))
	require.NoError(t, err)
	assert.Equal(t, "alice", username)
}

func TestFinishLogin_SignCountMustAdvance(t *testing.T) {
	fake := &fakeVerifier{regCred: fakeCredential("cred-1", 5)}
	svc, st := setupService(t, fake)
	ctx := context.Background()

	register(t, svc, "session-1", "alice")

	cases := []struct {
		name     string
		reported uint32
		wantErr  bool
	}{
		{"equal counter rejected", 5, true},
		{"lower counter rejected", 4, true},
		{"zero counter rejected when stored is nonzero", 0, true},
		{"higher counter accepted", 6, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			fake.authCred = fakeCredential("cred-1", tc.reported)

			_, err := svc.StartLogin(ctx, "session-2", "alice")
			require.NoError(t, err)

			_, err = svc.FinishLogin(ctx, "session-2", []byte("{}"))
			if tc.wantErr {
				require.ErrorIs(t, err, verify.ErrVerificationFailed)

				cred, err := st.GetCredentialByID(ctx, []byte("cred-1"))
				require.NoError(t, err)
				assert.Equal(t, uint32(5), cred.SignCount, "failed login must not move the counter")
			} else {
				require.NoError(t, err)

				cred, err := st.GetCredentialByID(ctx, []byte("cred-1"))
				require.NoError(t, err)
				assert.Equal(t, tc.reported, cred.SignCount)
			}
		})
	}
}

func TestFinishLogin_ZeroCountersTolerated(t *testing.T) {
	fake := &fakeVerifier{
		regCred:  fakeCredential("cred-1", 0),
		authCred: fakeCredential("cred-1", 0),
	}
	svc, _ := setupService(t, fake)
	ctx := context.Background()

	register(t, svc, "session-1", "alice")

	_, err := svc.StartLogin(ctx, "session-2", "alice")
	require.NoError(t, err)

	_, err = svc.FinishLogin(ctx, "session-2", []byte("{}"))
	assert.NoError(t, err, "0/0 counters come from authenticators that never increment")
}

func TestFinishLogin_ConcurrentFinish_ExactlyOneWins(t *testing.T) {
	fake := &fakeVerifier{
		regCred:  fakeCredential("cred-1", 0),
		authCred: fakeCredential("cred-1", 1),
	}
	svc, _ := setupService(t, fake)
	ctx := context.Background()

	register(t, svc, "session-1", "alice")

	_, err := svc.StartLogin(ctx, "session-2", "alice")
	require.NoError(t, err)

	var wg sync.WaitGroup
	results := make(chan error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.FinishLogin(ctx, "session-2", []byte("{}"))
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	var successes, noPending int
	for err := range results {
		switch {
		case err == nil:
			successes++
		case assert.ErrorIs(t, err, ErrNoPendingLogin):
			noPending++
		}
	}
	assert.Equal(t, 1, successes)
	assert.Equal(t, 1, noPending)
}

func TestFinishLogin_VerificationFailureWritesNothing(t *testing.T) {
	fake := &fakeVerifier{regCred: fakeCredential("cred-1", 7)}
	svc, st := setupService(t, fake)
	ctx := context.Background()

	register(t, svc, "session-1", "alice")

	fake.authErr = verify.ErrVerificationFailed
	_, err := svc.StartLogin(ctx, "session-2", "alice")
	require.NoError(t, err)

	_, err = svc.FinishLogin(ctx, "session-2", []byte("{}"))
	assert.ErrorIs(t, err, verify.ErrVerificationFailed)

	cred, err := st.GetCredentialByID(ctx, []byte("cred-1"))
	require.NoError(t, err)
	assert.Equal(t, uint32(7), cred.SignCount)
}
