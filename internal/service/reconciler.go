package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cocina-api/internal/domain"
	"cocina-api/internal/metrics"
	"cocina-api/internal/repository"
)

// ProfileReconciler garantiza que exista a lo sumo un perfil por email,
// creándolo si falta y vinculándolo a la identidad externa si ya existe
// sin vincular. Los intentos concurrentes sobre el mismo email se
// serializan con un registro en memoria de operaciones en curso; el
// constraint único de la base de datos es el respaldo de último recurso
// para procesos distintos.
type ProfileReconciler struct {
	logger   *zap.Logger
	profiles repository.ProfileRepository
	metrics  *metrics.Metrics

	mu       sync.Mutex
	inflight map[string]chan struct{}

	waitAttempts int
	waitInterval time.Duration
}

// ReconcileResult es el desenlace de una reconciliación.
type ReconcileResult struct {
	Profile domain.UserProfile
	Created bool
}

// ReconciliationError etiqueta en qué etapa falló la reconciliación.
type ReconciliationError struct {
	Stage string
	Err   error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("reconcile %s: %v", e.Stage, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

// ErrReconcileTimeout se devuelve cuando otra reconciliación para el mismo
// email sigue en curso al agotarse el presupuesto de espera. Es el único
// fallo del reconciliador que se resuelve reintentando.
var ErrReconcileTimeout = errors.New("user registration is taking too long")

const placeholderPhone = "000-000-0000"

const (
	defaultWaitAttempts = 10
	defaultWaitInterval = 500 * time.Millisecond
)

func NewProfileReconciler(logger *zap.Logger, profiles repository.ProfileRepository, m *metrics.Metrics) *ProfileReconciler {
	return &ProfileReconciler{
		logger:       logger,
		profiles:     profiles,
		metrics:      m,
		inflight:     make(map[string]chan struct{}),
		waitAttempts: defaultWaitAttempts,
		waitInterval: defaultWaitInterval,
	}
}

// SetWaitBudget ajusta el presupuesto de espera sobre un candado ajeno.
// Los valores por defecto (10 × 500ms) no son parte del protocolo.
func (r *ProfileReconciler) SetWaitBudget(attempts int, interval time.Duration) {
	if attempts > 0 {
		r.waitAttempts = attempts
	}
	if interval > 0 {
		r.waitInterval = interval
	}
}

// Reconcile asegura el perfil para el email dado. Si hay otra
// reconciliación en curso para el mismo email espera acotadamente a que
// termine y adopta su resultado; si el presupuesto se agota devuelve
// ErrReconcileTimeout en lugar de avanzar en paralelo.
func (r *ProfileReconciler) Reconcile(ctx context.Context, externalID, emailAddr, fallbackName, source string) (ReconcileResult, error) {
	emailAddr = normalizeEmail(emailAddr)
	if emailAddr == "" {
		return ReconcileResult{}, &ReconciliationError{Stage: "validate", Err: ErrInvalidEmail}
	}

	deadline := time.Now().Add(time.Duration(r.waitAttempts) * r.waitInterval)

	for {
		r.mu.Lock()
		done, busy := r.inflight[emailAddr]
		if !busy {
			owned := make(chan struct{})
			r.inflight[emailAddr] = owned
			r.mu.Unlock()

			// Liberar siempre el candado, incluso si run entra en pánico:
			// una entrada huérfana condenaría a todo llamador posterior
			// del mismo email al timeout.
			defer func() {
				r.mu.Lock()
				delete(r.inflight, emailAddr)
				r.mu.Unlock()
				close(owned)
			}()

			return r.run(ctx, externalID, emailAddr, fallbackName, source)
		}
		r.mu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			r.metrics.ObserveReconcile(metrics.OutcomeLockTimeout)
			return ReconcileResult{}, &ReconciliationError{Stage: "lock-wait", Err: ErrReconcileTimeout}
		}

		timer := time.NewTimer(remaining)
		select {
		case <-done:
			timer.Stop()
			// El titular terminó: si dejó perfil lo adoptamos tal cual.
			profile, err := r.profiles.GetByEmail(ctx, emailAddr)
			if err == nil {
				r.metrics.ObserveReconcile(metrics.OutcomeExisting)
				return ReconcileResult{Profile: profile}, nil
			}
			if !errors.Is(err, pgx.ErrNoRows) {
				return ReconcileResult{}, &ReconciliationError{Stage: "lookup", Err: err}
			}
			// No dejó perfil (falló o era otro flujo); intentamos tomar
			// el candado nosotros.
		case <-timer.C:
			r.metrics.ObserveReconcile(metrics.OutcomeLockTimeout)
			return ReconcileResult{}, &ReconciliationError{Stage: "lock-wait", Err: ErrReconcileTimeout}
		case <-ctx.Done():
			timer.Stop()
			return ReconcileResult{}, &ReconciliationError{Stage: "lock-wait", Err: ctx.Err()}
		}
	}
}

// run ejecuta una reconciliación con el candado ya en poder del llamador.
func (r *ProfileReconciler) run(ctx context.Context, externalID, emailAddr, fallbackName, source string) (ReconcileResult, error) {
	// Primero por identidad externa: un login repetido ya dejó el perfil
	// vinculado y no hace falta tocar nada más.
	if id := strings.TrimSpace(externalID); id != "" {
		profile, err := r.profiles.GetByExternalID(ctx, id)
		switch {
		case err == nil && profile.Email == emailAddr:
			r.metrics.ObserveReconcile(metrics.OutcomeExisting)
			return ReconcileResult{Profile: profile}, nil
		case err != nil && !errors.Is(err, pgx.ErrNoRows):
			r.metrics.ObserveReconcile(metrics.OutcomeError)
			return ReconcileResult{}, &ReconciliationError{Stage: "lookup", Err: err}
		}
		// Sin registro, o con otro email: el email de la sesión manda.
	}

	profile, err := r.profiles.GetByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		return r.adoptExisting(ctx, profile, externalID)
	case !errors.Is(err, pgx.ErrNoRows):
		r.metrics.ObserveReconcile(metrics.OutcomeError)
		return ReconcileResult{}, &ReconciliationError{Stage: "lookup", Err: err}
	}

	// Segunda verificación antes de insertar: entre la lectura anterior y
	// este punto pudo aterrizar un insert concurrente de otro proceso.
	profile, err = r.profiles.GetByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		return r.adoptExisting(ctx, profile, externalID)
	case !errors.Is(err, pgx.ErrNoRows):
		r.metrics.ObserveReconcile(metrics.OutcomeError)
		return ReconcileResult{}, &ReconciliationError{Stage: "lookup", Err: err}
	}

	name := strings.TrimSpace(fallbackName)
	if name == "" {
		name = "Usuario " + source
	}
	fresh := domain.UserProfile{
		ID:         uuid.NewString(),
		ExternalID: strings.TrimSpace(externalID),
		Name:       name,
		Email:      emailAddr,
		Phone:      placeholderPhone,
		Source:     strings.ToLower(strings.TrimSpace(source)),
		CreatedAt:  time.Now().UTC(),
	}

	if err := r.profiles.Create(ctx, fresh); err != nil {
		if errors.Is(err, repository.ErrDuplicateEmail) {
			// Alguien insertó primero: no es un error, adoptamos el registro
			// ganador.
			winner, readErr := r.profiles.GetByEmail(ctx, emailAddr)
			if readErr != nil {
				r.metrics.ObserveReconcile(metrics.OutcomeError)
				return ReconcileResult{}, &ReconciliationError{Stage: "insert", Err: readErr}
			}
			r.metrics.ObserveReconcile(metrics.OutcomeConflictRecovered)
			r.logger.Info("profile insert lost race, adopted winner",
				zap.String("email", emailAddr),
				zap.String("profile_id", winner.ID),
			)
			return ReconcileResult{Profile: winner}, nil
		}
		r.metrics.ObserveReconcile(metrics.OutcomeError)
		return ReconcileResult{}, &ReconciliationError{Stage: "insert", Err: err}
	}

	r.metrics.ObserveReconcile(metrics.OutcomeCreated)
	r.logger.Info("profile created",
		zap.String("email", emailAddr),
		zap.String("profile_id", fresh.ID),
		zap.String("source", fresh.Source),
	)
	return ReconcileResult{Profile: fresh, Created: true}, nil
}

// adoptExisting devuelve un perfil ya existente, vinculando la identidad
// externa si el perfil aún no la tiene.
func (r *ProfileReconciler) adoptExisting(ctx context.Context, profile domain.UserProfile, externalID string) (ReconcileResult, error) {
	externalID = strings.TrimSpace(externalID)
	if profile.Linked() || externalID == "" {
		r.metrics.ObserveReconcile(metrics.OutcomeExisting)
		return ReconcileResult{Profile: profile}, nil
	}

	if err := r.profiles.LinkExternalID(ctx, profile.ID, externalID); err != nil {
		r.metrics.ObserveReconcile(metrics.OutcomeError)
		return ReconcileResult{}, &ReconciliationError{Stage: "link", Err: err}
	}
	profile.ExternalID = externalID
	r.metrics.ObserveReconcile(metrics.OutcomeLinked)
	r.logger.Info("profile linked to external identity",
		zap.String("email", profile.Email),
		zap.String("profile_id", profile.ID),
	)
	return ReconcileResult{Profile: profile}, nil
}
