package domain

import "time"

// Session representa el contexto autenticado vigente emitido por el
// proveedor de identidad. Las credenciales son opacas para este servicio:
// solo se retienen en memoria, nunca se persisten.
type Session struct {
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExternalID   string    `json:"external_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}
