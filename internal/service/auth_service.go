package service

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/transport"
)

// Sessions is the part of the session store the auth flow drives.
type Sessions interface {
	StartSession(ctx context.Context, token, userID string, role model.Role) error
	EndSession(ctx context.Context) error
}

// AuthService handles login, registration and logout against the backend.
type AuthService struct {
	client   *transport.Client
	sessions Sessions
	log      zerolog.Logger
}

// NewAuthService creates a new AuthService.
func NewAuthService(client *transport.Client, sessions Sessions, log zerolog.Logger) *AuthService {
	return &AuthService{
		client:   client,
		sessions: sessions,
		log:      log.With().Str("component", "auth_service").Logger(),
	}
}

// Login exchanges credentials for a token and starts the session.
// The returned error may wrap session.ErrStorageDegraded while the session is
// nonetheless active; callers should treat that as a warning.
func (s *AuthService) Login(ctx context.Context, req model.LoginRequest) (model.Session, error) {
	if err := validate(&req); err != nil {
		return model.Session{}, err
	}

	var resp model.LoginResponse
	if err := s.client.DoJSON(ctx, http.MethodPost, "/auth/login", &resp,
		transport.WithJSON(req),
		transport.WithoutAuth(),
	); err != nil {
		return model.Session{}, err
	}

	sess := model.Session{Token: resp.Token, UserID: resp.UserID.String(), Role: resp.Role}
	if !sess.Complete() {
		return model.Session{}, fmt.Errorf("%w: login reply lacks token, user_id or a known role", ErrMalformedResponse)
	}

	err := s.sessions.StartSession(ctx, sess.Token, sess.UserID, sess.Role)
	if err != nil && !errors.Is(err, session.ErrStorageDegraded) {
		return model.Session{}, fmt.Errorf("start session: %w", err)
	}
	return sess, err
}

// Register creates an account. It does not sign the user in.
func (s *AuthService) Register(ctx context.Context, req model.RegisterRequest) (model.RegisterResponse, error) {
	if err := validate(&req); err != nil {
		return model.RegisterResponse{}, err
	}

	var resp model.RegisterResponse
	if err := s.client.DoJSON(ctx, http.MethodPost, "/auth/register", &resp,
		transport.WithJSON(req),
		transport.WithoutAuth(),
	); err != nil {
		return model.RegisterResponse{}, err
	}
	return resp, nil
}

// Logout tells the backend and then ends the local session. The local
// session ends even when the backend cannot be reached.
func (s *AuthService) Logout(ctx context.Context) error {
	_, err := s.client.Do(ctx, http.MethodPost, "/auth/logout")
	if err != nil && !errors.Is(err, transport.ErrUnauthorized) {
		s.log.Warn().Err(err).Msg("Backend logout failed, ending local session anyway")
	}
	return s.sessions.EndSession(ctx)
}
