package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgx/v5/pgconn"

	"github.com/artifortress/artifortress/pkg/errs"
)

// SQLSTATE codes the store classifies
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
	pgSerializationFail   = "40001"
	pgDeadlockDetected    = "40P01"
	pgRaiseException      = "P0001"
)

// mapError classifies a driver error into the domain taxonomy.
// Unique violations become Conflict, foreign keys NotFound (the referenced
// row is missing), serialization failures Transient, trigger rejections
// Conflict, connection problems DependencyUnavailable.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return errs.NotFound(fmt.Sprintf("%s: not found", op))
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.KindDependencyUnavailable, "dependency_unavailable",
			fmt.Sprintf("%s: deadline exceeded", op), err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return errs.Wrap(errs.KindConflict, "conflict",
				fmt.Sprintf("%s: already exists", op), err)
		case pgForeignKeyViolation:
			return errs.Wrap(errs.KindNotFound, "not_found",
				fmt.Sprintf("%s: referenced row does not exist", op), err)
		case pgCheckViolation:
			return errs.Wrap(errs.KindValidation, "bad_request",
				fmt.Sprintf("%s: constraint violated", op), err)
		case pgSerializationFail, pgDeadlockDetected:
			return errs.Transient(fmt.Sprintf("%s: serialization failure", op), err)
		case pgRaiseException:
			return errs.Wrap(errs.KindConflict, "conflict",
				fmt.Sprintf("%s: %s", op, pgErr.Message), err)
		}
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return errs.Wrap(errs.KindDependencyUnavailable, "dependency_unavailable",
			fmt.Sprintf("%s: database unreachable", op), err)
	}

	return fmt.Errorf("%s: %w", op, err)
}

// isSerializationFailure reports whether err warrants a transaction retry
func isSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgSerializationFail || pgErr.Code == pgDeadlockDetected
	}
	return errs.IsKind(err, errs.KindTransient)
}
