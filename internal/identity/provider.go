// Package identity encapsula al proveedor de identidad externo: login con
// contraseña, OAuth, recuperación de contraseña y notificaciones de cambio
// de estado de autenticación.
package identity

import (
	"context"

	"cocina-api/internal/domain"
)

// EventKind clasifica las notificaciones asíncronas del proveedor.
type EventKind string

const (
	EventSignedIn         EventKind = "SIGNED_IN"
	EventSignedOut        EventKind = "SIGNED_OUT"
	EventTokenRefreshed   EventKind = "TOKEN_REFRESHED"
	EventPasswordRecovery EventKind = "PASSWORD_RECOVERY"
)

// Event es una notificación de cambio de estado de autenticación.
// La sesión puede ser nil (por ejemplo en SIGNED_OUT).
type Event struct {
	Kind    EventKind
	Session *domain.Session
}

// OAuthIdentity es la identidad verificada que entrega un intercambio OAuth.
type OAuthIdentity struct {
	Provider string
	Subject  string
	Email    string
	Name     string
}

// Provider define el contrato con el proveedor de identidad. No se asume
// ningún orden entre la respuesta de GetCurrentSession y los eventos de
// OnAuthStateChange: ambos pueden dispararse para el mismo login.
//
// Los callbacks registrados se invocan de forma síncrona en la goroutine
// que origina el cambio de estado.
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignUpWithPassword(ctx context.Context, email, password string) (*domain.Session, error)
	SignInWithOAuth(ctx context.Context, ident OAuthIdentity) (*domain.Session, error)
	SignOut(ctx context.Context) error
	GetCurrentSession(ctx context.Context) (*domain.Session, error)
	OnAuthStateChange(fn func(Event)) (unsubscribe func())
	RequestPasswordReset(ctx context.Context, email string) error
	UpdatePassword(ctx context.Context, newPassword string) error
	// SetSessionFromTokens adopta los tokens que llegan en un enlace de
	// recuperación y emite el evento SIGNED_IN correspondiente.
	SetSessionFromTokens(ctx context.Context, accessToken, refreshToken string) (*domain.Session, error)
}

// ProviderError es un error devuelto por el proveedor, con el mensaje
// original para que la capa superior lo clasifique por contenido.
type ProviderError struct {
	Status  int
	Message string
}

func (e *ProviderError) Error() string {
	return e.Message
}
