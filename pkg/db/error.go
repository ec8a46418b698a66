package db

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const pgUniqueViolation = "23505"

func IsDuplicateKeyErr(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		return true
	}

	msg := strings.ToLower(err.Error())
	// PostgreSQL text form when the driver error was flattened.
	if strings.Contains(msg, "duplicate key value violates unique constraint") {
		return true
	}
	// SQLite
	return strings.Contains(msg, "unique constraint failed")
}
