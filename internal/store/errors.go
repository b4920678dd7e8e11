package store

import (
	"database/sql/driver"
	"errors"
	"fmt"
	"net"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrRoomNotFound     = errors.New("room does not exist")
	ErrDuplicateRequest = errors.New("pending friend request already exists")

	// ErrUnavailable tags errors caused by the database being
	// unreachable, so callers can tell an outage from a bug without
	// string matching.
	ErrUnavailable = errors.New("relational store unreachable")
)

func isUnavailable(err error) bool {
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgerrcode.IsConnectionException(pgErr.Code) ||
			pgerrcode.IsOperatorIntervention(pgErr.Code)
	}
	return false
}

// wrapErr annotates a driver error with the failed operation, folding
// connection-level failures into ErrUnavailable.
func wrapErr(op string, err error) error {
	if isUnavailable(err) {
		return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
