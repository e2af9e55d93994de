package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cocina-api/internal/domain"
	"cocina-api/internal/repository"
)

var (
	// ErrRequestNotFound se devuelve cuando la solicitud no existe o no
	// pertenece al usuario que la pide.
	ErrRequestNotFound = errors.New("service request not found")

	// ErrMissingService se devuelve cuando la solicitud no indica qué
	// servicio se quiere contratar.
	ErrMissingService = errors.New("service type is required")
)

// BookingInput son los campos editables de una solicitud de servicio.
type BookingInput struct {
	Service     string
	Occasion    string
	Location    string
	Persons     string
	MealTime    string
	Cuisine     string
	EventDate   *time.Time
	Description string
}

// BookingService gestiona las solicitudes de servicio de chef de cada
// usuario. Toda operación está acotada al email del solicitante: nadie
// puede leer ni modificar solicitudes ajenas.
type BookingService struct {
	logger   *zap.Logger
	requests repository.ServiceRepository
}

func NewBookingService(logger *zap.Logger, requests repository.ServiceRepository) *BookingService {
	return &BookingService{logger: logger, requests: requests}
}

// CreateRequest registra una solicitud nueva para el usuario.
func (s *BookingService) CreateRequest(ctx context.Context, userEmail string, in BookingInput) (domain.ServiceRequest, error) {
	userEmail = normalizeEmail(userEmail)
	if !validEmail(userEmail) {
		return domain.ServiceRequest{}, ErrInvalidEmail
	}
	if strings.TrimSpace(in.Service) == "" {
		return domain.ServiceRequest{}, ErrMissingService
	}

	req := domain.ServiceRequest{
		ID:          uuid.NewString(),
		UserEmail:   userEmail,
		Service:     strings.TrimSpace(in.Service),
		Occasion:    strings.TrimSpace(in.Occasion),
		Location:    strings.TrimSpace(in.Location),
		Persons:     strings.TrimSpace(in.Persons),
		MealTime:    strings.TrimSpace(in.MealTime),
		Cuisine:     strings.TrimSpace(in.Cuisine),
		EventDate:   in.EventDate,
		Description: strings.TrimSpace(in.Description),
		Active:      true,
		CreatedAt:   time.Now().UTC(),
	}

	if err := s.requests.Create(ctx, req); err != nil {
		return domain.ServiceRequest{}, fmt.Errorf("create service request: %w", err)
	}

	s.logger.Info("service request created",
		zap.String("request_id", req.ID),
		zap.String("service", req.Service),
	)
	return req, nil
}

// ListByUser devuelve las solicitudes del usuario, más recientes primero.
func (s *BookingService) ListByUser(ctx context.Context, userEmail string) ([]domain.ServiceRequest, error) {
	userEmail = normalizeEmail(userEmail)
	if !validEmail(userEmail) {
		return nil, ErrInvalidEmail
	}
	return s.requests.ListByUserEmail(ctx, userEmail)
}

// UpdateRequest modifica una solicitud existente del usuario.
func (s *BookingService) UpdateRequest(ctx context.Context, userEmail, id string, in BookingInput) (domain.ServiceRequest, error) {
	current, err := s.ownedRequest(ctx, userEmail, id)
	if err != nil {
		return domain.ServiceRequest{}, err
	}
	if strings.TrimSpace(in.Service) == "" {
		return domain.ServiceRequest{}, ErrMissingService
	}

	current.Service = strings.TrimSpace(in.Service)
	current.Occasion = strings.TrimSpace(in.Occasion)
	current.Location = strings.TrimSpace(in.Location)
	current.Persons = strings.TrimSpace(in.Persons)
	current.MealTime = strings.TrimSpace(in.MealTime)
	current.Cuisine = strings.TrimSpace(in.Cuisine)
	current.EventDate = in.EventDate
	current.Description = strings.TrimSpace(in.Description)

	updated, err := s.requests.Update(ctx, current)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ServiceRequest{}, ErrRequestNotFound
		}
		return domain.ServiceRequest{}, fmt.Errorf("update service request: %w", err)
	}
	return updated, nil
}

// DeactivateRequest marca la solicitud como inactiva sin borrarla.
func (s *BookingService) DeactivateRequest(ctx context.Context, userEmail, id string) error {
	if _, err := s.ownedRequest(ctx, userEmail, id); err != nil {
		return err
	}
	if err := s.requests.Deactivate(ctx, id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrRequestNotFound
		}
		return fmt.Errorf("deactivate service request: %w", err)
	}
	return nil
}

// ownedRequest carga la solicitud y verifica que pertenezca al usuario.
// Una solicitud ajena se reporta como inexistente.
func (s *BookingService) ownedRequest(ctx context.Context, userEmail, id string) (domain.ServiceRequest, error) {
	userEmail = normalizeEmail(userEmail)
	if !validEmail(userEmail) {
		return domain.ServiceRequest{}, ErrInvalidEmail
	}
	req, err := s.requests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ServiceRequest{}, ErrRequestNotFound
		}
		return domain.ServiceRequest{}, err
	}
	if req.UserEmail != userEmail {
		return domain.ServiceRequest{}, ErrRequestNotFound
	}
	return req, nil
}
