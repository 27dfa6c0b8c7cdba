package database

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/lib/pq"
)

// sentinel errors returned by the repositories
var (
	ErrNotFound     = errors.New("record not found")
	ErrConstraint   = errors.New("constraint violated")
	ErrNotConnected = errors.New("database not connected")
)

const uniqueViolation = "23505"

// ConstraintError reports which column a unique constraint protects.
type ConstraintError struct {
	Constraint string
	Column     string
}

func (e *ConstraintError) Error() string {
	return fmt.Sprintf("constraint violated: %s", e.Constraint)
}

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraint }

// MapError translates driver errors into the package sentinels. Context
// errors and unknown errors pass through unchanged.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return &ConstraintError{Constraint: pqErr.Constraint, Column: columnFromConstraint(pqErr.Constraint)}
	}
	var netErr net.Error
	if errors.Is(err, driver.ErrBadConn) || errors.Is(err, sql.ErrConnDone) || errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrNotConnected, err)
	}
	return err
}

// columnFromConstraint derives the column from Postgres' default
// "<table>_<column>_key" naming.
func columnFromConstraint(name string) string {
	trimmed := strings.TrimSuffix(name, "_key")
	if i := strings.Index(trimmed, "_"); i >= 0 && i < len(trimmed)-1 {
		return trimmed[i+1:]
	}
	return trimmed
}
