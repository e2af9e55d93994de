package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"cocina-api/internal/domain"
)

// ProfileRepository define el contrato de persistencia para perfiles de
// usuario. Las búsquedas sin resultado devuelven pgx.ErrNoRows.
type ProfileRepository interface {
	GetByEmail(ctx context.Context, email string) (domain.UserProfile, error)
	GetByExternalID(ctx context.Context, externalID string) (domain.UserProfile, error)
	Create(ctx context.Context, profile domain.UserProfile) error
	LinkExternalID(ctx context.Context, id, externalID string) error
	UpdateContact(ctx context.Context, id, name, phone string) (domain.UserProfile, error)
}

// PgProfileRepository implementa ProfileRepository usando pgxpool.
type PgProfileRepository struct {
	pool *pgxpool.Pool
}

func NewPgProfileRepository(pool *pgxpool.Pool) *PgProfileRepository {
	return &PgProfileRepository{pool: pool}
}

func (r *PgProfileRepository) GetByEmail(ctx context.Context, email string) (domain.UserProfile, error) {
	const query = `
		SELECT id, COALESCE(external_id, ''), name, email, phone, COALESCE(source, ''), created_at
		FROM user_profile
		WHERE email = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, email))
}

func (r *PgProfileRepository) GetByExternalID(ctx context.Context, externalID string) (domain.UserProfile, error) {
	const query = `
		SELECT id, COALESCE(external_id, ''), name, email, phone, COALESCE(source, ''), created_at
		FROM user_profile
		WHERE external_id = $1
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, externalID))
}

func (r *PgProfileRepository) Create(ctx context.Context, profile domain.UserProfile) error {
	const query = `
		INSERT INTO user_profile (id, external_id, name, email, phone, source, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4, $5, NULLIF($6, ''), $7)
	`
	_, err := r.pool.Exec(ctx, query,
		profile.ID,
		profile.ExternalID,
		profile.Name,
		profile.Email,
		profile.Phone,
		profile.Source,
		profile.CreatedAt,
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("insert user_profile: %w", ErrDuplicateEmail)
	}
	return err
}

func (r *PgProfileRepository) LinkExternalID(ctx context.Context, id, externalID string) error {
	const query = `
		UPDATE user_profile
		SET external_id = $2
		WHERE id = $1
	`
	tag, err := r.pool.Exec(ctx, query, id, externalID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

func (r *PgProfileRepository) UpdateContact(ctx context.Context, id, name, phone string) (domain.UserProfile, error) {
	const query = `
		UPDATE user_profile
		SET name = COALESCE(NULLIF($2, ''), name),
		    phone = COALESCE(NULLIF($3, ''), phone)
		WHERE id = $1
		RETURNING id, COALESCE(external_id, ''), name, email, phone, COALESCE(source, ''), created_at
	`
	return r.scanOne(r.pool.QueryRow(ctx, query, id, name, phone))
}

func (r *PgProfileRepository) scanOne(row pgx.Row) (domain.UserProfile, error) {
	var p domain.UserProfile
	err := row.Scan(
		&p.ID,
		&p.ExternalID,
		&p.Name,
		&p.Email,
		&p.Phone,
		&p.Source,
		&p.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.UserProfile{}, err
	}
	return p, err
}
