// ABOUTME: HTTP API for the passkey registration and login ceremonies
// ABOUTME: Owns session cookies, request decoding, and error-to-status mapping

package web

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/2389/passkeyd/internal/ceremony"
	"github.com/2389/passkeyd/internal/session"
	"github.com/2389/passkeyd/internal/store"
	"github.com/2389/passkeyd/internal/verify"
)

// SessionCookieName is the name of the session cookie
const SessionCookieName = "passkeyd_session"

// Server handles the HTTP API and the embedded demo frontend
type Server struct {
	ceremonies *ceremony.Service
	sessions   *session.Binder
	logger     *slog.Logger
}

// New creates a web server over a ceremony service and session binder.
func New(ceremonies *ceremony.Service, sessions *session.Binder) *Server {
	return &Server{
		ceremonies: ceremonies,
		sessions:   sessions,
		logger:     slog.Default().With("component", "web"),
	}
}

// RegisterRoutes registers all API routes on the given mux
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/register/start", s.handleRegisterStart)
	mux.HandleFunc("POST /api/register/finish", s.handleRegisterFinish)
	mux.HandleFunc("POST /api/login/start", s.handleLoginStart)
	mux.HandleFunc("POST /api/login/finish", s.handleLoginFinish)
	mux.HandleFunc("GET /api/me", s.handleMe)
	mux.HandleFunc("POST /api/logout", s.handleLogout)
	mux.Handle("GET /", staticHandler())

	s.logger.Info("routes registered")
}

// resolveSession returns the caller's session id, minting one and setting
// the cookie when the browser doesn't present a usable token.
func (s *Server) resolveSession(w http.ResponseWriter, r *http.Request) (string, error) {
	var incoming string
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		incoming = cookie.Value
	}

	sessionID, created, err := s.sessions.ResolveOrCreate(incoming)
	if err != nil {
		return "", err
	}

	if created {
		http.SetCookie(w, &http.Cookie{
			Name:     SessionCookieName,
			Value:    sessionID,
			Path:     "/",
			HttpOnly: true,
			Secure:   r.TLS != nil,
			SameSite: http.SameSiteStrictMode,
		})
	}

	return sessionID, nil
}

// ceremonyRequest is the body of all four ceremony endpoints. Finish
// calls carry the authenticator's response in Credential; the username
// field is advisory only, the server trusts the session binding.
type ceremonyRequest struct {
	Username   string          `json:"username"`
	Credential json.RawMessage `json:"credential"`
}

func decodeRequest(r *http.Request) (*ceremonyRequest, error) {
	var req ceremonyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return nil, err
	}
	return &req, nil
}

func (s *Server) handleRegisterStart(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.resolveSession(w, r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	options, err := s.ceremonies.StartRegistration(r.Context(), sessionID, req.Username)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"options": options})
}

func (s *Server) handleRegisterFinish(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.resolveSession(w, r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username, err := s.ceremonies.FinishRegistration(r.Context(), sessionID, req.Credential)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "username": username})
}

func (s *Server) handleLoginStart(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.resolveSession(w, r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	options, err := s.ceremonies.StartLogin(r.Context(), sessionID, req.Username)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]any{"options": options})
}

func (s *Server) handleLoginFinish(w http.ResponseWriter, r *http.Request) {
	sessionID, err := s.resolveSession(w, r)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	req, err := decodeRequest(r)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	username, err := s.ceremonies.FinishLogin(r.Context(), sessionID, req.Credential)
	if err != nil {
		s.writeCeremonyError(w, err)
		return
	}

	s.sessions.MarkAuthenticated(sessionID, username)
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "username": username})
}

func (s *Server) handleMe(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	username, ok := s.sessions.AuthenticatedUsername(cookie.Value)
	if !ok {
		s.writeError(w, http.StatusUnauthorized, "not authenticated")
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"username": username})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if cookie, err := r.Cookie(SessionCookieName); err == nil {
		s.sessions.ClearAuthentication(cookie.Value)
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// writeCeremonyError maps ceremony and verification errors to HTTP status
// codes. Verification failures share one generic message so a probe can't
// learn which check tripped.
func (s *Server) writeCeremonyError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ceremony.ErrInvalidUsername):
		s.writeError(w, http.StatusBadRequest, "username required")
	case errors.Is(err, ceremony.ErrUsernameTaken), errors.Is(err, store.ErrUsernameExists):
		s.writeError(w, http.StatusConflict, "username already registered, try logging in instead")
	case errors.Is(err, store.ErrCredentialExists):
		s.writeError(w, http.StatusConflict, "credential already registered")
	case errors.Is(err, ceremony.ErrUserNotFound):
		s.writeError(w, http.StatusNotFound, "user not found, register first")
	case errors.Is(err, ceremony.ErrNoPendingRegistration):
		s.writeError(w, http.StatusBadRequest, "no pending registration, start over")
	case errors.Is(err, ceremony.ErrNoPendingLogin):
		s.writeError(w, http.StatusBadRequest, "no pending login, start over")
	case errors.Is(err, verify.ErrMalformedResponse):
		s.writeError(w, http.StatusBadRequest, "invalid credential response")
	case errors.Is(err, verify.ErrVerificationFailed):
		s.writeError(w, http.StatusBadRequest, "verification failed")
	default:
		s.logger.Error("ceremony failed", "error", err)
		s.writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Debug("failed to encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}
