package repository

import (
	"errors"

	"github.com/lib/pq"

	appErrors "github.com/campuslib/journal-loans-api/pkg/errors"
)

// Postgres error codes the loan engine reacts to.
const (
	pqUniqueViolation      = "23505"
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqLockNotAvailable     = "55P03"
)

// mapStorageError translates driver errors into the domain error kinds the
// engine exposes. Unique violations become DUPLICATE_ID; serialization and
// lock contention become TRANSIENT_FAILURE so callers can retry instead of
// treating contention as a business rejection.
func mapStorageError(err error) error {
	if err == nil {
		return nil
	}
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return err
	}
	switch string(pqErr.Code) {
	case pqUniqueViolation:
		return appErrors.Wrap(err, appErrors.ErrDuplicateID.Code, appErrors.ErrDuplicateID.Status, appErrors.ErrDuplicateID.Message)
	case pqSerializationFailure, pqDeadlockDetected, pqLockNotAvailable:
		return appErrors.Wrap(err, appErrors.ErrTransient.Code, appErrors.ErrTransient.Status, appErrors.ErrTransient.Message)
	}
	return err
}
