package pg

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/samber/oops"

	"studiodesk.app/internal/auth"
)

// mapWriteError translates constraint violations into auth sentinels so
// callers never inspect driver errors.
func mapWriteError(code string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return oops.Code(code).With("constraint", pgErr.ConstraintName).Wrap(errors.Join(auth.ErrAlreadyExists, err))
		case pgerrcode.ForeignKeyViolation:
			return oops.Code(code).With("constraint", pgErr.ConstraintName).Wrap(errors.Join(auth.ErrNotFound, err))
		}
	}
	return oops.Code(code).Wrap(err)
}
