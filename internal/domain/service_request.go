package domain

import "time"

// ServiceRequest es una solicitud de servicio de chef a domicilio creada
// desde el asistente de reserva. Se asocia al usuario por email y se
// desactiva en lugar de borrarse.
type ServiceRequest struct {
	ID          string     `json:"id"`
	UserEmail   string     `json:"user_email"`
	Service     string     `json:"service,omitempty"`
	Occasion    string     `json:"occasion,omitempty"`
	Location    string     `json:"location,omitempty"`
	Persons     string     `json:"persons,omitempty"`
	MealTime    string     `json:"meal_time,omitempty"`
	Cuisine     string     `json:"cuisine,omitempty"`
	EventDate   *time.Time `json:"event_date,omitempty"`
	Description string     `json:"description,omitempty"`
	Active      bool       `json:"active"`
	CreatedAt   time.Time  `json:"created_at"`
}
