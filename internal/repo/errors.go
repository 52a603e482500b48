package repo

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Общие ошибки репозиториев.
var (
	// ErrNotFound — запись не найдена в БД.
	ErrNotFound = errors.New("not found")

	// ErrAlreadyExists — запись уже существует (конфликт уникальности).
	ErrAlreadyExists = errors.New("already exists")

	// ErrNotConfigured — подключение к БД не настроено.
	ErrNotConfigured = errors.New("database not configured")
)

// uniqueViolation — SQLSTATE нарушения уникальности.
const uniqueViolation = "23505"

// isUniqueViolation проверяет, что err — нарушение уникального индекса.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
