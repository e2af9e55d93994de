package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"cocina-api/internal/domain"
	"cocina-api/internal/email"
	"cocina-api/internal/identity"
	"cocina-api/internal/metrics"
	"cocina-api/internal/repository"
)

// AuthState es el estado de autenticación/registro del orquestador.
type AuthState int

const (
	StateUnauthenticated AuthState = iota
	StateAuthenticating
	StateAuthenticatedUnregistered
	StateAuthenticatedRegistered
)

func (s AuthState) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateAuthenticatedUnregistered:
		return "authenticated_unregistered"
	case StateAuthenticatedRegistered:
		return "authenticated_registered"
	default:
		return "unauthenticated"
	}
}

// Snapshot es una copia consistente del estado del orquestador.
type Snapshot struct {
	State           AuthState
	Session         *domain.Session
	Profile         *domain.UserProfile
	IsAuthenticated bool
	IsRegistered    bool
	IsRecoveryMode  bool
	Loading         bool
	LastError       string
}

// Etiquetas de origen con que se registra cada perfil creado.
const (
	sourceInitialSession = "sesion_inicial"
	sourceAuthEvent      = "evento_auth"
)

// SessionOrchestrator es la única fuente de verdad del estado de
// autenticación del proceso y el único componente que invoca al proveedor
// de identidad y al reconciliador de perfiles.
//
// Mantiene a lo sumo una sesión activa (el último cambio gana). Un fallo
// de reconciliación nunca degrada al usuario a no-autenticado: la sesión
// externa sigue siendo válida y la UI puede reintentar.
type SessionOrchestrator struct {
	logger       *zap.Logger
	provider     identity.Provider
	reconciler   *ProfileReconciler
	profiles     repository.ProfileRepository
	resetLimiter ResetRateLimiter
	welcome      email.Sender
	metrics      *metrics.Metrics

	recoveryWaitAttempts int
	recoveryWaitInterval time.Duration

	mu               sync.Mutex
	state            AuthState
	session          *domain.Session
	profile          *domain.UserProfile
	recovery         bool
	loading          bool
	lastErr          string
	initialProcessed bool
	unsubscribe      func()
}

const (
	defaultRecoveryWaitAttempts = 20
	defaultRecoveryWaitInterval = 500 * time.Millisecond
)

func NewSessionOrchestrator(
	logger *zap.Logger,
	provider identity.Provider,
	reconciler *ProfileReconciler,
	profiles repository.ProfileRepository,
	resetLimiter ResetRateLimiter,
	welcome email.Sender,
	m *metrics.Metrics,
) *SessionOrchestrator {
	return &SessionOrchestrator{
		logger:               logger,
		provider:             provider,
		reconciler:           reconciler,
		profiles:             profiles,
		resetLimiter:         resetLimiter,
		welcome:              welcome,
		metrics:              m,
		recoveryWaitAttempts: defaultRecoveryWaitAttempts,
		recoveryWaitInterval: defaultRecoveryWaitInterval,
		state:                StateUnauthenticated,
		loading:              true,
	}
}

// SetRecoveryWaitBudget ajusta la espera por la sesión de recuperación.
func (o *SessionOrchestrator) SetRecoveryWaitBudget(attempts int, interval time.Duration) {
	if attempts > 0 {
		o.recoveryWaitAttempts = attempts
	}
	if interval > 0 {
		o.recoveryWaitInterval = interval
	}
}

// Start procesa la sesión inicial (a lo sumo una vez por ciclo de vida) y
// se suscribe a los cambios de estado del proveedor. La sesión inicial y
// la notificación SIGNED_IN del proveedor pueden dispararse ambas para el
// mismo login, en cualquier orden: las dos rutas desembocan en el mismo
// reconciliador, que deduplica por email.
func (o *SessionOrchestrator) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.unsubscribe == nil {
		o.unsubscribe = o.provider.OnAuthStateChange(o.handleAuthEvent)
	}
	o.mu.Unlock()

	sess, err := o.provider.GetCurrentSession(ctx)
	if err != nil {
		o.setError(userMessage(mapProviderError(err)))
		o.setLoading(false)
		return mapProviderError(err)
	}

	if sess != nil {
		o.mu.Lock()
		o.session = sess
		if o.state == StateUnauthenticated || o.state == StateAuthenticating {
			o.state = StateAuthenticatedUnregistered
		}
		already := o.initialProcessed
		rec := o.recovery
		o.mu.Unlock()

		if sess.Email != "" && !already && !rec {
			if err := o.reconcileSession(ctx, sess, sourceInitialSession); err != nil {
				o.logger.Error("initial session reconciliation failed", zap.Error(err))
				o.setError(userMessage(err))
			} else {
				o.mu.Lock()
				o.initialProcessed = true
				o.mu.Unlock()
			}
		}
	}

	o.setLoading(false)
	return nil
}

// Stop cancela la suscripción a eventos del proveedor.
func (o *SessionOrchestrator) Stop() {
	o.mu.Lock()
	unsub := o.unsubscribe
	o.unsubscribe = nil
	o.mu.Unlock()
	if unsub != nil {
		unsub()
	}
}

// handleAuthEvent procesa una notificación asíncrona del proveedor.
// El último evento gana: la sesión recibida reemplaza a la vigente.
func (o *SessionOrchestrator) handleAuthEvent(evt identity.Event) {
	o.metrics.ObserveAuthEvent(string(evt.Kind))

	o.mu.Lock()
	o.session = evt.Session
	if evt.Kind == identity.EventPasswordRecovery {
		o.recovery = true
	}
	switch {
	case evt.Session == nil:
		if evt.Kind == identity.EventSignedOut {
			o.state = StateUnauthenticated
			o.profile = nil
		}
	case o.state == StateUnauthenticated || o.state == StateAuthenticating:
		o.state = StateAuthenticatedUnregistered
	}
	rec := o.recovery
	o.mu.Unlock()

	// En modo recuperación solo se actualizan los campos de sesión: la
	// sesión transitoria del enlace de reset no debe crear perfiles.
	if evt.Kind == identity.EventSignedIn && evt.Session != nil && evt.Session.Email != "" && !rec {
		if err := o.reconcileSession(context.Background(), evt.Session, sourceAuthEvent); err != nil {
			o.logger.Error("reconciliation after auth event failed",
				zap.Error(err),
				zap.String("email", evt.Session.Email),
			)
			o.setError(userMessage(err))
		}
	}

	o.setLoading(false)
}

// reconcileSession delega en el reconciliador y publica el resultado.
// En caso de error el usuario queda autenticado pero sin registrar.
func (o *SessionOrchestrator) reconcileSession(ctx context.Context, sess *domain.Session, source string) error {
	res, err := o.reconciler.Reconcile(ctx, sess.ExternalID, sess.Email, sess.Name, source)
	if err != nil {
		o.mu.Lock()
		if o.state == StateUnauthenticated || o.state == StateAuthenticating {
			o.state = StateAuthenticatedUnregistered
		}
		o.mu.Unlock()
		return err
	}

	o.mu.Lock()
	o.profile = &res.Profile
	o.state = StateAuthenticatedRegistered
	o.lastErr = ""
	o.mu.Unlock()

	if res.Created && o.welcome != nil {
		if err := o.welcome.SendWelcome(ctx, res.Profile.Email, res.Profile.Name); err != nil {
			o.logger.Warn("send welcome email failed",
				zap.Error(err),
				zap.String("email", res.Profile.Email),
			)
		}
	}
	return nil
}

// SignInWithPassword inicia sesión con email y contraseña. El proveedor
// emite SIGNED_IN de forma síncrona, así que al volver la reconciliación
// ya corrió (o falló dejando lastError).
func (o *SessionOrchestrator) SignInWithPassword(ctx context.Context, emailAddr, password string) (Snapshot, error) {
	emailAddr = normalizeEmail(emailAddr)
	if !validEmail(emailAddr) {
		return o.Snapshot(), ErrInvalidEmail
	}
	if password == "" {
		return o.Snapshot(), ErrInvalidCredentials
	}

	o.begin(StateAuthenticating)
	_, err := o.provider.SignInWithPassword(ctx, emailAddr, password)
	if err != nil {
		mapped := mapProviderError(err)
		o.fail(userMessage(mapped), StateUnauthenticated)
		return o.Snapshot(), mapped
	}
	o.setLoading(false)
	return o.Snapshot(), nil
}

// SignUpWithPassword registra una cuenta nueva. Si el email ya tiene
// perfil se rechaza antes de llamar al proveedor.
func (o *SessionOrchestrator) SignUpWithPassword(ctx context.Context, emailAddr, password string) (Snapshot, error) {
	emailAddr = normalizeEmail(emailAddr)
	if !validEmail(emailAddr) {
		return o.Snapshot(), ErrInvalidEmail
	}
	if err := validatePassword(password); err != nil {
		return o.Snapshot(), err
	}

	o.begin(StateAuthenticating)

	_, err := o.profiles.GetByEmail(ctx, emailAddr)
	switch {
	case err == nil:
		o.fail(userMessage(ErrEmailTaken), StateUnauthenticated)
		return o.Snapshot(), ErrEmailTaken
	case !errors.Is(err, pgx.ErrNoRows):
		mapped := mapProviderError(err)
		o.fail(userMessage(mapped), StateUnauthenticated)
		return o.Snapshot(), mapped
	}

	sess, err := o.provider.SignUpWithPassword(ctx, emailAddr, password)
	if err != nil {
		mapped := mapProviderError(err)
		o.fail(userMessage(mapped), StateUnauthenticated)
		return o.Snapshot(), mapped
	}

	if sess == nil {
		// El proveedor exige confirmación por email: aún no hay sesión.
		o.mu.Lock()
		o.state = StateUnauthenticated
		o.mu.Unlock()
	}
	o.setLoading(false)
	return o.Snapshot(), nil
}

// SignInWithOAuth completa un login OAuth ya intercambiado y verificado.
func (o *SessionOrchestrator) SignInWithOAuth(ctx context.Context, ident identity.OAuthIdentity) (Snapshot, error) {
	o.begin(StateAuthenticating)
	_, err := o.provider.SignInWithOAuth(ctx, ident)
	if err != nil {
		mapped := mapProviderError(err)
		o.fail(userMessage(mapped), StateUnauthenticated)
		return o.Snapshot(), mapped
	}
	o.setLoading(false)
	return o.Snapshot(), nil
}

// SignOut cierra la sesión y limpia todo el estado, incluido el marcador
// de sesión inicial: un login posterior se procesa como si fuera nuevo.
func (o *SessionOrchestrator) SignOut(ctx context.Context) error {
	o.setLoading(true)
	err := o.provider.SignOut(ctx)
	if err != nil {
		mapped := mapProviderError(err)
		o.fail(userMessage(mapped), StateUnauthenticated)
		return mapped
	}

	o.mu.Lock()
	o.session = nil
	o.profile = nil
	o.state = StateUnauthenticated
	o.initialProcessed = false
	o.loading = false
	o.mu.Unlock()
	return nil
}

// EnterRecoveryMode activa el modo recuperación. Debe llamarse antes de
// adoptar la sesión del enlace de reset para cerrar la ventana en que un
// SIGNED_IN transitorio dispararía creación de perfil.
func (o *SessionOrchestrator) EnterRecoveryMode() {
	o.mu.Lock()
	o.recovery = true
	o.mu.Unlock()
}

// ExitRecoveryMode desactiva el modo recuperación sin cambiar contraseña
// (por ejemplo al cerrar el modal de reset).
func (o *SessionOrchestrator) ExitRecoveryMode() {
	o.mu.Lock()
	o.recovery = false
	o.mu.Unlock()
}

// BeginRecovery activa el modo recuperación y adopta los tokens que
// llegaron en el enlace de reset. El SIGNED_IN que emite el proveedor al
// adoptarlos no reconcilia porque el modo ya está activo.
func (o *SessionOrchestrator) BeginRecovery(ctx context.Context, accessToken, refreshToken string) (Snapshot, error) {
	o.EnterRecoveryMode()

	if _, err := o.provider.SetSessionFromTokens(ctx, accessToken, refreshToken); err != nil {
		mapped := mapProviderError(err)
		o.setError(userMessage(mapped))
		return o.Snapshot(), mapped
	}

	// La sesión puede tardar en llegar; si no aparece se continúa de
	// todos modos y el formulario de reset decide.
	if ok, err := o.WaitForRecoverySession(ctx); err != nil {
		return o.Snapshot(), err
	} else if !ok {
		o.logger.Warn("recovery session did not arrive in time, proceeding anyway")
	}
	return o.Snapshot(), nil
}

// WaitForRecoverySession espera acotadamente a que la sesión de
// recuperación aparezca. Agotar la espera no es un error: devuelve
// ok=false y el flujo continúa de forma optimista.
func (o *SessionOrchestrator) WaitForRecoverySession(ctx context.Context) (bool, error) {
	if o.hasSession() {
		return true, nil
	}
	ticker := time.NewTicker(o.recoveryWaitInterval)
	defer ticker.Stop()

	for attempt := 0; attempt < o.recoveryWaitAttempts; attempt++ {
		select {
		case <-ticker.C:
			if o.hasSession() {
				return true, nil
			}
		case <-ctx.Done():
			return false, ctx.Err()
		}
	}
	return false, nil
}

// RequestPasswordReset valida el email, aplica el límite de frecuencia y
// delega en el proveedor. No conserva estado local más allá del error.
func (o *SessionOrchestrator) RequestPasswordReset(ctx context.Context, emailAddr string) error {
	emailAddr = normalizeEmail(emailAddr)
	if !validEmail(emailAddr) {
		return ErrInvalidEmail
	}
	if o.resetLimiter != nil && !o.resetLimiter.Allow(emailAddr) {
		return ErrRateLimited
	}

	if err := o.provider.RequestPasswordReset(ctx, emailAddr); err != nil {
		mapped := mapProviderError(err)
		o.setError(userMessage(mapped))
		return mapped
	}
	return nil
}

// UpdatePassword valida y cambia la contraseña; si tiene éxito el modo
// recuperación termina.
func (o *SessionOrchestrator) UpdatePassword(ctx context.Context, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	if err := o.provider.UpdatePassword(ctx, newPassword); err != nil {
		mapped := mapProviderError(err)
		o.setError(userMessage(mapped))
		return mapped
	}

	o.mu.Lock()
	o.recovery = false
	o.lastErr = ""
	o.mu.Unlock()
	return nil
}

// GetProfile lee el perfil del usuario autenticado desde el store y lo
// publica en el estado.
func (o *SessionOrchestrator) GetProfile(ctx context.Context) (domain.UserProfile, error) {
	o.mu.Lock()
	sess := o.session
	o.mu.Unlock()
	if sess == nil || sess.Email == "" {
		return domain.UserProfile{}, ErrNoSession
	}

	profile, err := o.profiles.GetByEmail(ctx, sess.Email)
	if err != nil {
		return domain.UserProfile{}, err
	}

	o.mu.Lock()
	o.profile = &profile
	o.mu.Unlock()
	return profile, nil
}

// UpdateProfile actualiza nombre y teléfono del perfil vigente.
func (o *SessionOrchestrator) UpdateProfile(ctx context.Context, name, phone string) (domain.UserProfile, error) {
	o.mu.Lock()
	current := o.profile
	o.mu.Unlock()

	if current == nil {
		fetched, err := o.GetProfile(ctx)
		if err != nil {
			return domain.UserProfile{}, err
		}
		current = &fetched
	}

	updated, err := o.profiles.UpdateContact(ctx, current.ID, name, phone)
	if err != nil {
		return domain.UserProfile{}, err
	}

	o.mu.Lock()
	o.profile = &updated
	o.mu.Unlock()
	return updated, nil
}

// Snapshot devuelve una copia del estado vigente.
func (o *SessionOrchestrator) Snapshot() Snapshot {
	o.mu.Lock()
	defer o.mu.Unlock()

	snap := Snapshot{
		State:           o.state,
		IsAuthenticated: o.session != nil,
		IsRegistered:    o.state == StateAuthenticatedRegistered,
		IsRecoveryMode:  o.recovery,
		Loading:         o.loading,
		LastError:       o.lastErr,
	}
	if o.session != nil {
		copied := *o.session
		snap.Session = &copied
	}
	if o.profile != nil {
		copied := *o.profile
		snap.Profile = &copied
	}
	return snap
}

func (o *SessionOrchestrator) hasSession() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.session != nil
}

func (o *SessionOrchestrator) begin(state AuthState) {
	o.mu.Lock()
	o.loading = true
	o.lastErr = ""
	o.state = state
	o.mu.Unlock()
}

func (o *SessionOrchestrator) fail(msg string, state AuthState) {
	o.mu.Lock()
	o.loading = false
	o.lastErr = msg
	o.state = state
	o.mu.Unlock()
}

func (o *SessionOrchestrator) setError(msg string) {
	o.mu.Lock()
	o.lastErr = msg
	o.mu.Unlock()
}

func (o *SessionOrchestrator) setLoading(v bool) {
	o.mu.Lock()
	o.loading = v
	o.mu.Unlock()
}
