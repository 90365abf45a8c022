package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-client/internal/guard"
	"github.com/stemsi/exstem-client/internal/model"
	"github.com/stemsi/exstem-client/internal/response"
	"github.com/stemsi/exstem-client/internal/service"
	"github.com/stemsi/exstem-client/internal/session"
	"github.com/stemsi/exstem-client/internal/transport"
	"github.com/stemsi/exstem-client/internal/validator"
)

// AuthHandler handles sign-in, registration and sign-out.
type AuthHandler struct {
	authService *service.AuthService
	sessions    guard.SessionReader
	guard       *guard.Guard
	log         zerolog.Logger
}

// NewAuthHandler creates a new AuthHandler.
func NewAuthHandler(authService *service.AuthService, sessions guard.SessionReader, g *guard.Guard, log zerolog.Logger) *AuthHandler {
	return &AuthHandler{
		authService: authService,
		sessions:    sessions,
		guard:       g,
		log:         log.With().Str("component", "auth_handler").Logger(),
	}
}

type sessionView struct {
	Present bool       `json:"present"`
	UserID  string     `json:"user_id,omitempty"`
	Role    model.Role `json:"role,omitempty"`
}

// The token never leaves the process.
func viewOf(sess model.Session, present bool) sessionView {
	if !present {
		return sessionView{}
	}
	return sessionView{Present: true, UserID: sess.UserID, Role: sess.Role}
}

// LoginPage godoc
// GET /login
// Describes how to sign in and where the user will land afterwards.
func (h *AuthHandler) LoginPage(c *gin.Context) {
	response.Success(c, http.StatusOK, gin.H{
		"login_endpoint": "/api/auth/login",
		"next":           h.guard.AfterLogin(c.Query("next")),
	})
}

// Login godoc
// POST /api/auth/login?next=/path
// Exchanges credentials with the grading server and starts the session.
func (h *AuthHandler) Login(c *gin.Context) {
	var req model.LoginRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	sess, err := h.authService.Login(c.Request.Context(), req)
	if err != nil && !errors.Is(err, session.ErrStorageDegraded) {
		if errors.Is(err, transport.ErrUnauthorized) {
			response.FailWithDetail(c, http.StatusUnauthorized, response.ErrInvalidCredentials, transport.Detail(err))
			return
		}
		respondError(c, err)
		return
	}

	data := gin.H{
		"session":  viewOf(sess, true),
		"redirect": h.guard.AfterLogin(c.Query("next")),
	}
	if err != nil {
		h.log.Warn().Err(err).Msg("Session will not survive a restart")
		data["warning"] = "session could not be saved and will end when the portal stops"
	}
	response.Success(c, http.StatusOK, data)
}

// Register godoc
// POST /api/auth/register
// Creates an account on the grading server. The user still has to sign in.
func (h *AuthHandler) Register(c *gin.Context) {
	var req model.RegisterRequest
	if fields := validator.Bind(c, &req); fields != nil {
		response.FailWithFields(c, http.StatusBadRequest, response.ErrValidation, fields)
		return
	}

	resp, err := h.authService.Register(c.Request.Context(), req)
	if err != nil {
		respondError(c, err)
		return
	}

	response.Success(c, http.StatusCreated, gin.H{
		"id":       resp.ID,
		"message":  resp.Message,
		"redirect": h.guard.Paths().Login,
	})
}

// Logout godoc
// POST /api/auth/logout
// Ends the session locally even if the grading server cannot be reached.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.authService.Logout(c.Request.Context()); err != nil {
		h.log.Warn().Err(err).Msg("Session cleared in memory only")
	}
	response.Success(c, http.StatusOK, gin.H{"redirect": h.guard.Paths().Login})
}

// GetSession godoc
// GET /api/auth/session
// Reports whether someone is signed in, without exposing the token.
func (h *AuthHandler) GetSession(c *gin.Context) {
	sess, ok := h.sessions.GetSession()
	response.Success(c, http.StatusOK, viewOf(sess, ok))
}
