package domain

import "time"

// UserProfile es el registro propio del marketplace para un usuario,
// independiente de la cuenta del proveedor de identidad. El email es la
// clave de negocio: nunca existen dos perfiles con el mismo email.
type UserProfile struct {
	ID         string    `json:"id"`
	ExternalID string    `json:"external_id,omitempty"`
	Name       string    `json:"name"`
	Email      string    `json:"email"`
	Phone      string    `json:"phone"`
	Source     string    `json:"source,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Linked indica si el perfil ya quedó vinculado a una identidad externa.
func (p UserProfile) Linked() bool {
	return p.ExternalID != ""
}
