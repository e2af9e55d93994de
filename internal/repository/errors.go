package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateEmail señala una violación del constraint único sobre email.
// El reconciliador la reinterpreta como "otro actor insertó primero".
var ErrDuplicateEmail = errors.New("duplicate email")

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
