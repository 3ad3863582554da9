package transaction

import (
	"database/sql/driver"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transient SQLSTATE codes: serialization_failure and deadlock_detected.
// Class 08 (connection exceptions) is matched by prefix.
const (
	sqlstateSerializationFailure = "40001"
	sqlstateDeadlockDetected     = "40P01"
	sqlstateConnectionClassPfx   = "08"
)

// IsTransientDBError reports whether err is a database failure that a fresh
// run of the same transaction may survive: serialization conflicts,
// deadlocks, and connection-level errors.
func IsTransientDBError(err error) bool {
	if err == nil {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == sqlstateSerializationFailure || pgErr.Code == sqlstateDeadlockDetected {
			return true
		}

		return strings.HasPrefix(pgErr.Code, sqlstateConnectionClassPfx)
	}

	if errors.Is(err, driver.ErrBadConn) {
		return true
	}

	var netErr net.Error

	return errors.As(err, &netErr)
}
