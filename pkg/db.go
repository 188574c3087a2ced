package pkg

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// https://www.postgresql.org/docs/current/errcodes-appendix.html

// IsUndefinedTableError checks if the error is caused by a missing table or schema
func IsUndefinedTableError(err error) bool {
	var pqErr *pgconn.PgError
	if errors.As(err, &pqErr) {
		return pqErr.Code == "42P01" || pqErr.Code == "3F000"
	}
	return false
}
