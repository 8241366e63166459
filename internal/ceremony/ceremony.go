// ABOUTME: Registration and authentication ceremony orchestration
// ABOUTME: Sequences challenge issuance, single-use consumption, verification, and persistence

package ceremony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/protocol/webauthncose"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/google/uuid"

	"github.com/2389/passkeyd/internal/challenge"
	"github.com/2389/passkeyd/internal/store"
	"github.com/2389/passkeyd/internal/verify"
)

// ErrInvalidUsername is returned when the username is empty after normalization.
var ErrInvalidUsername = errors.New("username required")

// ErrUsernameTaken is returned when registering a username that already exists.
var ErrUsernameTaken = errors.New("username already registered")

// ErrUserNotFound is returned when logging in with an unknown username or
// a user that owns no credentials.
var ErrUserNotFound = errors.New("user not found")

// ErrNoPendingRegistration is returned when finishing a registration the
// session never started, or already finished.
var ErrNoPendingRegistration = errors.New("no pending registration")

// ErrNoPendingLogin is returned when finishing a login the session never
// started, or already finished.
var ErrNoPendingLogin = errors.New("no pending login")

// acceptedAlgorithms are the public-key algorithms offered to authenticators.
var acceptedAlgorithms = []protocol.CredentialParameter{
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgES256},
	{Type: protocol.PublicKeyCredentialType, Algorithm: webauthncose.AlgRS256},
}

// Service orchestrates the two-step registration and login ceremonies.
// It is stateless between requests except through the challenge caches
// and the credential store.
type Service struct {
	wa        *webauthn.WebAuthn
	verifier  verify.Verifier
	store     store.Store
	regReqs   *challenge.Cache
	loginReqs *challenge.Cache
	logger    *slog.Logger
}

// NewService creates a ceremony service. Challenge entries expire after
// ttl so abandoned ceremonies can't be completed arbitrarily late.
func NewService(wa *webauthn.WebAuthn, verifier verify.Verifier, st store.Store, ttl time.Duration) *Service {
	return &Service{
		wa:        wa,
		verifier:  verifier,
		store:     st,
		regReqs:   challenge.NewCache(ttl),
		loginReqs: challenge.NewCache(ttl),
		logger:    slog.Default().With("component", "ceremony"),
	}
}

// Close releases the challenge caches.
func (s *Service) Close() {
	s.regReqs.Close()
	s.loginReqs.Close()
}

// NormalizeUsername trims whitespace and case-folds a username so
// "Alice " and "alice" resolve to the same account.
func NormalizeUsername(username string) string {
	return strings.ToLower(strings.TrimSpace(username))
}

// StartRegistration begins enrolling a new credential. It rejects empty
// and already-registered usernames before issuing any challenge, caches
// the challenge plus pending identity under the session id, and returns
// the ceremony options for the client's authenticator.
func (s *Service) StartRegistration(ctx context.Context, sessionID, username string) (*protocol.CredentialCreation, error) {
	username = NormalizeUsername(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}

	_, err := s.store.GetUserByUsername(ctx, username)
	if err == nil {
		return nil, ErrUsernameTaken
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, fmt.Errorf("checking username: %w", err)
	}

	userID := uuid.NewString()
	user := &ceremonyUser{id: userID, username: username}

	options, session, err := s.wa.BeginRegistration(user,
		webauthn.WithAuthenticatorSelection(protocol.AuthenticatorSelection{
			ResidentKey:      protocol.ResidentKeyRequirementPreferred,
			UserVerification: protocol.VerificationRequired,
		}),
		webauthn.WithCredentialParameters(acceptedAlgorithms),
	)
	if err != nil {
		return nil, fmt.Errorf("beginning registration: %w", err)
	}

	s.regReqs.Put(sessionID, &challenge.Entry{
		Session:  session,
		UserID:   userID,
		Username: username,
	})

	s.logger.Info("registration started", "username", username)
	return options, nil
}

// FinishRegistration consumes the session's pending registration, verifies
// the signed response, and persists the user and credential as one unit.
// Nothing is written when verification fails, and a consumed challenge can
// never be presented again.
func (s *Service) FinishRegistration(ctx context.Context, sessionID string, response []byte) (string, error) {
	entry, ok := s.regReqs.Pop(sessionID)
	if !ok {
		return "", ErrNoPendingRegistration
	}

	user := &ceremonyUser{id: entry.UserID, username: entry.Username}
	cred, err := s.verifier.VerifyRegistration(user, *entry.Session, response)
	if err != nil {
		s.logger.Warn("registration verification failed", "username", entry.Username, "error", err)
		return "", err
	}

	now := time.Now()
	err = s.store.CreateUserWithCredential(ctx,
		&store.User{
			ID:        entry.UserID,
			Username:  entry.Username,
			CreatedAt: now,
		},
		&store.Credential{
			CredentialID: cred.ID,
			UserID:       entry.UserID,
			PublicKey:    cred.PublicKey,
			SignCount:    cred.Authenticator.SignCount,
			CreatedAt:    now,
		},
	)
	if err != nil {
		return "", err
	}

	s.logger.Info("registration completed", "username", entry.Username, "user_id", entry.UserID)
	return entry.Username, nil
}

// StartLogin begins an authentication ceremony for a registered user. The
// issued options carry an allow-list of the user's credential ids. Unknown
// usernames fail before any challenge is generated.
func (s *Service) StartLogin(ctx context.Context, sessionID, username string) (*protocol.CredentialAssertion, error) {
	username = NormalizeUsername(username)

	user, err := s.store.GetUserByUsername(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("looking up user: %w", err)
	}

	creds, err := s.store.ListCredentials(ctx, user.ID)
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	if len(creds) == 0 {
		return nil, ErrUserNotFound
	}

	waUser := &ceremonyUser{id: user.ID, username: username, creds: creds}

	options, session, err := s.wa.BeginLogin(waUser,
		webauthn.WithUserVerification(protocol.VerificationRequired),
	)
	if err != nil {
		return nil, fmt.Errorf("beginning login: %w", err)
	}

	s.loginReqs.Put(sessionID, &challenge.Entry{
		Session:  session,
		UserID:   user.ID,
		Username: username,
	})

	s.logger.Info("login started", "username", username)
	return options, nil
}

// FinishLogin consumes the session's pending login and verifies the signed
// response. The identity is the one bound at StartLogin; a client cannot
// complete the ceremony for a different username than the one that started
// it. On success the credential's sign count advances and the confirmed
// username is returned.
func (s *Service) FinishLogin(ctx context.Context, sessionID string, response []byte) (string, error) {
	entry, ok := s.loginReqs.Pop(sessionID)
	if !ok {
		return "", ErrNoPendingLogin
	}

	user, err := s.store.GetUserByUsername(ctx, entry.Username)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrUserNotFound
	}
	if err != nil {
		return "", fmt.Errorf("looking up user: %w", err)
	}

	creds, err := s.store.ListCredentials(ctx, user.ID)
	if err != nil {
		return "", fmt.Errorf("listing credentials: %w", err)
	}
	if len(creds) == 0 {
		return "", ErrUserNotFound
	}

	waUser := &ceremonyUser{id: user.ID, username: entry.Username, creds: creds}

	cred, err := s.verifier.VerifyAuthentication(waUser, *entry.Session, response)
	if err != nil {
		s.logger.Warn("login verification failed", "username", entry.Username, "error", err)
		return "", err
	}

	// Resolve the stored row by the credential id that actually signed,
	// not by an arbitrary credential of the user.
	stored, err := s.store.GetCredentialByID(ctx, cred.ID)
	if err != nil {
		return "", fmt.Errorf("looking up credential: %w", err)
	}
	if stored.UserID != user.ID {
		return "", fmt.Errorf("%w: credential not owned by user", verify.ErrVerificationFailed)
	}

	if err := checkSignCount(stored.SignCount, cred.Authenticator.SignCount); err != nil {
		s.logger.Warn("sign count check failed", "username", entry.Username, "error", err)
		return "", err
	}

	if err := s.store.UpdateSignCount(ctx, stored.CredentialID, cred.Authenticator.SignCount); err != nil {
		return "", fmt.Errorf("updating sign count: %w", err)
	}

	s.logger.Info("login completed", "username", entry.Username, "user_id", user.ID)
	return entry.Username, nil
}

// checkSignCount enforces the replay-counter discipline: the reported
// counter must be strictly greater than the stored one. Authenticators
// that never increment report 0 on both sides, which is tolerated.
func checkSignCount(stored, reported uint32) error {
	if stored == 0 && reported == 0 {
		return nil
	}
	if reported <= stored {
		return fmt.Errorf("%w: signature counter did not advance", verify.ErrVerificationFailed)
	}
	return nil
}
