package http

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"cocina-api/internal/service"
)

// ServiceHandler expone las solicitudes de servicio de chef del usuario.
type ServiceHandler struct {
	logger   *zap.Logger
	bookings *service.BookingService
}

func NewServiceHandler(logger *zap.Logger, bookings *service.BookingService) *ServiceHandler {
	return &ServiceHandler{logger: logger, bookings: bookings}
}

type bookingRequest struct {
	Service     string `json:"service" binding:"required"`
	Occasion    string `json:"occasion"`
	Location    string `json:"location"`
	Persons     string `json:"persons"`
	MealTime    string `json:"meal_time"`
	Cuisine     string `json:"cuisine"`
	EventDate   string `json:"event_date"`
	Description string `json:"description"`
}

func (r bookingRequest) toInput() (service.BookingInput, error) {
	in := service.BookingInput{
		Service:     r.Service,
		Occasion:    r.Occasion,
		Location:    r.Location,
		Persons:     r.Persons,
		MealTime:    r.MealTime,
		Cuisine:     r.Cuisine,
		Description: r.Description,
	}
	if r.EventDate != "" {
		t, err := time.Parse("2006-01-02", r.EventDate)
		if err != nil {
			return service.BookingInput{}, err
		}
		in.EventDate = &t
	}
	return in, nil
}

// CreateRequest maneja POST /services.
func (h *ServiceHandler) CreateRequest(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid service request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	in, err := req.toInput()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_date, expected YYYY-MM-DD"})
		return
	}

	created, err := h.bookings.CreateRequest(c.Request.Context(), claims.Email, in)
	if err != nil {
		h.writeBookingError(c, "create service request failed", err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"request": created})
}

// ListRequests maneja GET /services.
func (h *ServiceHandler) ListRequests(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	requests, err := h.bookings.ListByUser(c.Request.Context(), claims.Email)
	if err != nil {
		h.writeBookingError(c, "list service requests failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"requests": requests})
}

// UpdateRequest maneja PUT /services/:id.
func (h *ServiceHandler) UpdateRequest(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	var req bookingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid service update request", zap.Error(err))
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request"})
		return
	}
	in, err := req.toInput()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid event_date, expected YYYY-MM-DD"})
		return
	}

	updated, err := h.bookings.UpdateRequest(c.Request.Context(), claims.Email, c.Param("id"), in)
	if err != nil {
		h.writeBookingError(c, "update service request failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"request": updated})
}

// DeactivateRequest maneja DELETE /services/:id.
func (h *ServiceHandler) DeactivateRequest(c *gin.Context) {
	claims, ok := GetAuthClaims(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	if err := h.bookings.DeactivateRequest(c.Request.Context(), claims.Email, c.Param("id")); err != nil {
		h.writeBookingError(c, "deactivate service request failed", err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *ServiceHandler) writeBookingError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrRequestNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "service request not found"})
	case errors.Is(err, service.ErrMissingService),
		errors.Is(err, service.ErrInvalidEmail):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error(msg, zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"error": msg})
	}
}
