// Package service exchanges identity-provider credentials for dashboard sessions
// and keeps the session honest against the API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/marcelosanchez/locateme-web/internal/locateapi"
	sessiondomain "github.com/marcelosanchez/locateme-web/internal/session/domain"
	"github.com/marcelosanchez/locateme-web/internal/telemetry"
)

// Sentinel errors for the auth service; the HTTP surface maps them to status codes.
var (
	ErrInvalidCredential = errors.New("credential must be set")
	ErrNotAuthenticated  = errors.New("not authenticated")
	ErrServerUnreachable = errors.New("could not connect to server")
)

// API is the subset of the locateme client the auth service needs.
type API interface {
	Login(ctx context.Context, credential string) (*locateapi.LoginResult, error)
	Me(ctx context.Context) (*sessiondomain.User, error)
	Logout(ctx context.Context, token string) error
}

// Sessions is the session store as seen by the auth service.
type Sessions interface {
	Set(ctx context.Context, user *sessiondomain.User, token string) error
	Clear(ctx context.Context) error
	Token() string
	User() *sessiondomain.User
}

// AuthService implements login, session validation and logout.
type AuthService struct {
	api      API
	sessions Sessions
	emitter  telemetry.EventEmitter
}

// NewAuthService returns an AuthService. emitter may be nil.
func NewAuthService(api API, sessions Sessions, emitter telemetry.EventEmitter) *AuthService {
	return &AuthService{api: api, sessions: sessions, emitter: emitter}
}

// Login exchanges credential for a session and stores it.
func (s *AuthService) Login(ctx context.Context, credential string) (*sessiondomain.User, error) {
	credential = strings.TrimSpace(credential)
	if credential == "" {
		return nil, ErrInvalidCredential
	}
	res, err := s.api.Login(ctx, credential)
	if err != nil {
		var se *locateapi.StatusError
		var ee *locateapi.EnvelopeError
		if errors.As(err, &se) || errors.As(err, &ee) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	// Persist failures keep the in-memory session; Set already logged them.
	_ = s.sessions.Set(ctx, res.User, res.Token)

	ev := telemetry.NewEvent(telemetry.EventSessionEstablished)
	ev.UserEmail = res.User.Email
	telemetry.EmitAsync(s.emitter, ctx, ev)
	return s.sessions.User(), nil
}

// Validate probes the stored token once against /auth/me. A 401/403 clears the
// session (via the request pipeline) and returns ErrSessionExpired; a 200 with an
// email refreshes the stored user. With no token there is nothing to validate.
func (s *AuthService) Validate(ctx context.Context) (*sessiondomain.User, error) {
	token := s.sessions.Token()
	if token == "" {
		return nil, ErrNotAuthenticated
	}
	u, err := s.api.Me(ctx)
	if err != nil {
		if locateapi.IsSessionExpired(err) {
			return nil, err
		}
		var se *locateapi.StatusError
		if errors.As(err, &se) {
			return nil, fmt.Errorf("unknown error (%d)", se.Status)
		}
		log.Printf("identity: session probe failed: %v", err)
		return nil, fmt.Errorf("%w: %v", ErrServerUnreachable, err)
	}
	if u != nil && s.sessions.Token() == token {
		_ = s.sessions.Set(ctx, u, token)
	}
	return s.sessions.User(), nil
}

// Logout tears down the server session best-effort, then clears the local session.
func (s *AuthService) Logout(ctx context.Context) error {
	token := s.sessions.Token()
	user := s.sessions.User()
	if token != "" {
		if err := s.api.Logout(ctx, token); err != nil {
			log.Printf("identity: backend logout failed: %v", err)
		}
	}
	if err := s.sessions.Clear(ctx); err != nil {
		return err
	}
	ev := telemetry.NewEvent(telemetry.EventLogout)
	if user != nil {
		ev.UserEmail = user.Email
	}
	telemetry.EmitAsync(s.emitter, ctx, ev)
	return nil
}
