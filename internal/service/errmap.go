package service

import (
	"context"
	"errors"
	"net"
	"regexp"
	"strings"
	"unicode"
)

// Categorías fijas para los fallos del proveedor de identidad. Los
// mensajes del proveedor se clasifican por contenido; lo que no calza cae
// en la categoría genérica (el error original).
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrEmailNotConfirmed  = errors.New("email not confirmed")
	ErrRateLimited        = errors.New("rate limited")
	ErrNetworkFailure     = errors.New("network failure")
	ErrEmailTaken         = errors.New("email already registered")
	ErrInvalidEmail       = errors.New("invalid email")
	ErrInvalidPassword    = errors.New("invalid password")
	ErrNoSession          = errors.New("no authenticated session")
)

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// mapProviderError clasifica un error del proveedor en una categoría fija.
func mapProviderError(err error) error {
	if err == nil {
		return nil
	}

	var netErr net.Error
	if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
		return ErrNetworkFailure
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "invalid login credentials"),
		strings.Contains(msg, "invalid_grant"),
		strings.Contains(msg, "invalid credentials"):
		return ErrInvalidCredentials
	case strings.Contains(msg, "email not confirmed"),
		strings.Contains(msg, "not confirmed"):
		return ErrEmailNotConfirmed
	case strings.Contains(msg, "rate limit"),
		strings.Contains(msg, "too many requests"):
		return ErrRateLimited
	case strings.Contains(msg, "connection refused"),
		strings.Contains(msg, "no such host"),
		strings.Contains(msg, "timeout"):
		return ErrNetworkFailure
	}
	return err
}

// userMessage produce el texto listo para mostrar que guarda el
// orquestador como lastError.
func userMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrInvalidCredentials):
		return "Email o contraseña incorrectos. Por favor, verifica tus datos."
	case errors.Is(err, ErrEmailNotConfirmed):
		return "Debes confirmar tu email antes de iniciar sesión."
	case errors.Is(err, ErrRateLimited):
		return "Demasiados intentos. Por favor, intenta de nuevo más tarde."
	case errors.Is(err, ErrNetworkFailure):
		return "Error de conexión. Por favor, intenta nuevamente."
	case errors.Is(err, ErrEmailTaken):
		return "El email ya está registrado. Por favor, intenta con otro."
	case errors.Is(err, ErrReconcileTimeout):
		return "El proceso de registro está tardando demasiado. Por favor, intenta nuevamente."
	case errors.Is(err, ErrInvalidEmail):
		return "El formato del email no es válido."
	case errors.Is(err, ErrInvalidPassword):
		return "La contraseña no cumple los requisitos mínimos."
	default:
		return "Ha ocurrido un error. Por favor, intenta nuevamente."
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func validEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// validatePassword aplica las reglas del flujo de cambio de contraseña:
// largo 6..128 y al menos una letra y un dígito.
func validatePassword(password string) error {
	password = strings.TrimSpace(password)
	if password == "" {
		return ErrInvalidPassword
	}
	if len(password) < 6 || len(password) > 128 {
		return ErrInvalidPassword
	}
	var hasLetter, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLetter(r):
			hasLetter = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	if !hasLetter || !hasDigit {
		return ErrInvalidPassword
	}
	return nil
}
