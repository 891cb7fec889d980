package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/steveyegge/pm/internal/apierrors"
)

// Postgres error codes this package cares about. See
// https://www.postgresql.org/docs/current/errcodes-appendix.html.
const (
	pgCodeUniqueViolation     = "23505"
	pgCodeForeignKeyViolation = "23503"
	pgCodeCheckViolation      = "23514"
	pgCodeSerializationFail   = "40001"
)

// wrapDBError maps a raw pgx/pgconn error into the apierrors taxonomy,
// the way the teacher's sqlite layer wraps sql.ErrNoRows into ErrNotFound.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apierrors.Wrap(apierrors.CodeNotFound, fmt.Sprintf("%s: not found", op), err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgCodeUniqueViolation:
			return apierrors.Wrap(apierrors.CodeConflict, fmt.Sprintf("%s: %s", op, pgErr.ConstraintName), err)
		case pgCodeForeignKeyViolation:
			return apierrors.Wrap(apierrors.CodeValidation, fmt.Sprintf("%s: references missing row (%s)", op, pgErr.ConstraintName), err)
		case pgCodeCheckViolation:
			return apierrors.Wrap(apierrors.CodeValidation, fmt.Sprintf("%s: violates %s", op, pgErr.ConstraintName), err)
		case pgCodeSerializationFail:
			return apierrors.Wrap(apierrors.CodeUpstream, fmt.Sprintf("%s: serialization failure, retry", op), err)
		}
	}

	return apierrors.Wrap(apierrors.CodeInternal, op, err)
}

func isNotFound(err error) bool {
	return apierrors.CodeOf(err) == apierrors.CodeNotFound
}

func isConflict(err error) bool {
	return apierrors.CodeOf(err) == apierrors.CodeConflict
}
