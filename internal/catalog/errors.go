package catalog

import (
	"errors"
	"strings"
)

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("catalog: not found")
	// ErrPromotionConflict is returned when a concurrent promotion won the
	// optimistic check on the major version's promotion counter.
	ErrPromotionConflict = errors.New("catalog: promotion conflict")
	// ErrNoCurrentSnapshot is returned when a major version has no current
	// snapshot yet.
	ErrNoCurrentSnapshot = errors.New("catalog: no current snapshot")
)

// SQLite extended result codes for constraint violations.
const (
	sqliteConstraintCode       = 19
	sqliteConstraintPrimaryKey = 1555
	sqliteConstraintUnique     = 2067
)

// IsUniqueViolation reports whether err is a unique-constraint failure.
// Concurrent creation races treat this as "already created" and retry the
// lookup instead of failing.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	var coder interface{ Code() int }
	if errors.As(err, &coder) {
		switch coder.Code() {
		case sqliteConstraintCode, sqliteConstraintPrimaryKey, sqliteConstraintUnique:
			return true
		}
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
