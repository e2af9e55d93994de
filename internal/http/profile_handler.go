package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cocina-api/internal/service"
)

// ProfileHandler expone el perfil del usuario autenticado.
type ProfileHandler struct {
	logger       *zap.Logger
	orchestrator *service.SessionOrchestrator
}

func NewProfileHandler(logger *zap.Logger, orchestrator *service.SessionOrchestrator) *ProfileHandler {
	return &ProfileHandler{logger: logger, orchestrator: orchestrator}
}

// GetProfile maneja GET /profile.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, err := h.orchestrator.GetProfile(c.Request.Context())
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoSession):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
		case errors.Is(err, pgx.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		default:
			h.logger.Error("get profile failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not load profile"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}

// UpdateProfile maneja PUT /profile.
func (h *ProfileHandler) UpdateProfile(c *gin.Context) {
	var req struct {
		Name  string `json:"name" binding:"required"`
		Phone string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid profile update request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}

	profile, err := h.orchestrator.UpdateProfile(c.Request.Context(), req.Name, req.Phone)
	if err != nil {
		switch {
		case errors.Is(err, service.ErrNoSession):
			c.JSON(http.StatusUnauthorized, gin.H{"error": "no active session"})
		case errors.Is(err, pgx.ErrNoRows):
			c.JSON(http.StatusNotFound, gin.H{"error": "profile not found"})
		default:
			h.logger.Error("update profile failed", zap.Error(err))
			c.JSON(http.StatusInternalServerError, gin.H{"error": "could not update profile"})
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"profile": profile})
}
