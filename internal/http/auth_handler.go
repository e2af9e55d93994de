package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"cocina-api/internal/identity"
	"cocina-api/internal/service"
)

// AuthHandler mantiene dependencias para endpoints de autenticación.
type AuthHandler struct {
	logger       *zap.Logger
	orchestrator *service.SessionOrchestrator
	tokens       *identity.TokenService
	google       *identity.GoogleOAuth
}

// NewAuthHandler crea una instancia de AuthHandler con dependencias necesarias.
func NewAuthHandler(
	logger *zap.Logger,
	orchestrator *service.SessionOrchestrator,
	tokens *identity.TokenService,
	google *identity.GoogleOAuth,
) *AuthHandler {
	return &AuthHandler{
		logger:       logger,
		orchestrator: orchestrator,
		tokens:       tokens,
		google:       google,
	}
}

// SignUp maneja POST /auth/signup.
func (h *AuthHandler) SignUp(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid signup request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	snap, err := h.orchestrator.SignUpWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(c, "signup failed", err)
		return
	}
	c.JSON(http.StatusCreated, snapshotBody(snap))
}

// Login maneja POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required,email"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	snap, err := h.orchestrator.SignInWithPassword(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		h.writeAuthError(c, "login failed", err)
		return
	}
	c.JSON(http.StatusOK, snapshotBody(snap))
}

// Logout maneja POST /auth/logout.
func (h *AuthHandler) Logout(c *gin.Context) {
	if err := h.orchestrator.SignOut(c.Request.Context()); err != nil {
		h.logger.Error("logout failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "could not logout"})
		return
	}
	c.Status(http.StatusNoContent)
}

// RefreshToken maneja POST /auth/refresh.
func (h *AuthHandler) RefreshToken(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid refresh request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	if h.tokens == nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "jwt not configured"})
		return
	}
	pair, err := h.tokens.RefreshPair(req.RefreshToken)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"tokens": pair})
}

// Session maneja GET /auth/session.
func (h *AuthHandler) Session(c *gin.Context) {
	c.JSON(http.StatusOK, snapshotBody(h.orchestrator.Snapshot()))
}

// RequestPasswordReset maneja POST /auth/reset/request.
func (h *AuthHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required,email"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.orchestrator.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		h.writeAuthError(c, "password reset request failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset_sent"})
}

// BeginRecovery maneja POST /auth/recovery. Adopta los tokens del enlace
// de reset sin disparar creación de perfil.
func (h *AuthHandler) BeginRecovery(c *gin.Context) {
	var req struct {
		AccessToken  string `json:"access_token" binding:"required"`
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid recovery request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	snap, err := h.orchestrator.BeginRecovery(c.Request.Context(), req.AccessToken, req.RefreshToken)
	if err != nil {
		h.writeAuthError(c, "recovery failed", err)
		return
	}
	c.JSON(http.StatusOK, snapshotBody(snap))
}

// CancelRecovery maneja POST /auth/recovery/cancel. Abandona el flujo de
// reset sin cambiar la contraseña.
func (h *AuthHandler) CancelRecovery(c *gin.Context) {
	h.orchestrator.ExitRecoveryMode()
	c.JSON(http.StatusOK, snapshotBody(h.orchestrator.Snapshot()))
}

// ConfirmPasswordReset maneja POST /auth/reset/confirm.
func (h *AuthHandler) ConfirmPasswordReset(c *gin.Context) {
	var req struct {
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid reset confirm request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	if err := h.orchestrator.UpdatePassword(c.Request.Context(), req.Password); err != nil {
		h.writeAuthError(c, "password update failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "password_updated"})
}

// GoogleLogin maneja GET /auth/google/login.
func (h *AuthHandler) GoogleLogin(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "google oauth not configured"})
		return
	}
	state := uuid.NewString()
	c.SetCookie("oauth_state", state, 300, "/", "", false, true)
	c.Redirect(http.StatusTemporaryRedirect, h.google.LoginURL(state))
}

// GoogleCallback maneja GET /auth/google/callback.
func (h *AuthHandler) GoogleCallback(c *gin.Context) {
	if h.google == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "google oauth not configured"})
		return
	}

	state := c.Query("state")
	expected, err := c.Cookie("oauth_state")
	if err != nil || state == "" || state != expected {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid oauth state"})
		return
	}

	code := c.Query("code")
	if code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}

	ident, err := h.google.Exchange(c.Request.Context(), code)
	if err != nil {
		h.logger.Error("google exchange failed", zap.Error(err))
		c.JSON(http.StatusUnauthorized, gin.H{"error": "could not verify google identity"})
		return
	}

	snap, err := h.orchestrator.SignInWithOAuth(c.Request.Context(), ident)
	if err != nil {
		h.writeAuthError(c, "oauth login failed", err)
		return
	}
	c.JSON(http.StatusOK, snapshotBody(snap))
}

func (h *AuthHandler) writeAuthError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidEmail),
		errors.Is(err, service.ErrInvalidPassword):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrInvalidCredentials),
		errors.Is(err, service.ErrEmailNotConfirmed):
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrEmailTaken):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrRateLimited):
		c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
	case errors.Is(err, service.ErrNetworkFailure):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "identity provider unavailable"})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}

// snapshotBody serializa un Snapshot del orquestador para la API.
func snapshotBody(snap service.Snapshot) gin.H {
	body := gin.H{
		"state":            snap.State.String(),
		"is_authenticated": snap.IsAuthenticated,
		"is_registered":    snap.IsRegistered,
		"is_recovery_mode": snap.IsRecoveryMode,
		"loading":          snap.Loading,
	}
	if snap.LastError != "" {
		body["error"] = snap.LastError
	}
	if snap.Session != nil {
		body["session"] = gin.H{
			"access_token":  snap.Session.AccessToken,
			"refresh_token": snap.Session.RefreshToken,
			"email":         snap.Session.Email,
			"expires_at":    snap.Session.ExpiresAt,
		}
	}
	if snap.Profile != nil {
		body["profile"] = snap.Profile
	}
	return body
}
