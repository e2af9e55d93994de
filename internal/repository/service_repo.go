package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cocina-api/internal/domain"
)

// ServiceRepository define el contrato de persistencia para solicitudes
// de servicio de chef.
type ServiceRepository interface {
	Create(ctx context.Context, req domain.ServiceRequest) error
	GetByID(ctx context.Context, id string) (domain.ServiceRequest, error)
	ListByUserEmail(ctx context.Context, email string) ([]domain.ServiceRequest, error)
	Update(ctx context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error)
	Deactivate(ctx context.Context, id string) error
}

// PgServiceRepository implementa ServiceRepository usando pgxpool.
type PgServiceRepository struct {
	pool *pgxpool.Pool
}

func NewPgServiceRepository(pool *pgxpool.Pool) *PgServiceRepository {
	return &PgServiceRepository{pool: pool}
}

const serviceColumns = `id, user_email, COALESCE(service, ''), COALESCE(occasion, ''),
	COALESCE(location, ''), COALESCE(persons, ''), COALESCE(meal_time, ''),
	COALESCE(cuisine, ''), event_date, COALESCE(description, ''), active, created_at`

func (r *PgServiceRepository) Create(ctx context.Context, req domain.ServiceRequest) error {
	const query = `
		INSERT INTO services (id, user_email, service, occasion, location, persons,
			meal_time, cuisine, event_date, description, active, created_at)
		VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''),
			NULLIF($7, ''), NULLIF($8, ''), $9, NULLIF($10, ''), $11, $12)
	`
	_, err := r.pool.Exec(ctx, query,
		req.ID,
		req.UserEmail,
		req.Service,
		req.Occasion,
		req.Location,
		req.Persons,
		req.MealTime,
		req.Cuisine,
		req.EventDate,
		req.Description,
		req.Active,
		req.CreatedAt,
	)
	return err
}

func (r *PgServiceRepository) GetByID(ctx context.Context, id string) (domain.ServiceRequest, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE id = $1`
	return r.scanOne(r.pool.QueryRow(ctx, query, id))
}

func (r *PgServiceRepository) ListByUserEmail(ctx context.Context, email string) ([]domain.ServiceRequest, error) {
	query := `SELECT ` + serviceColumns + ` FROM services WHERE user_email = $1 ORDER BY created_at DESC`
	rows, err := r.pool.Query(ctx, query, email)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ServiceRequest
	for rows.Next() {
		req, err := r.scanOne(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}

func (r *PgServiceRepository) Update(ctx context.Context, req domain.ServiceRequest) (domain.ServiceRequest, error) {
	query := `
		UPDATE services
		SET service = NULLIF($2, ''),
		    occasion = NULLIF($3, ''),
		    location = NULLIF($4, ''),
		    persons = NULLIF($5, ''),
		    meal_time = NULLIF($6, ''),
		    cuisine = NULLIF($7, ''),
		    event_date = $8,
		    description = NULLIF($9, '')
		WHERE id = $1
		RETURNING ` + serviceColumns
	return r.scanOne(r.pool.QueryRow(ctx, query,
		req.ID,
		req.Service,
		req.Occasion,
		req.Location,
		req.Persons,
		req.MealTime,
		req.Cuisine,
		req.EventDate,
		req.Description,
	))
}

func (r *PgServiceRepository) Deactivate(ctx context.Context, id string) error {
	const query = `
		UPDATE services
		SET active = FALSE
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgServiceRepository) scanOne(row pgx.Row) (domain.ServiceRequest, error) {
	var req domain.ServiceRequest
	err := row.Scan(
		&req.ID,
		&req.UserEmail,
		&req.Service,
		&req.Occasion,
		&req.Location,
		&req.Persons,
		&req.MealTime,
		&req.Cuisine,
		&req.EventDate,
		&req.Description,
		&req.Active,
		&req.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ServiceRequest{}, err
	}
	return req, err
}
