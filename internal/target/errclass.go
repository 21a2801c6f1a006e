package target

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Class categorizes a write error by how it should be handled.
type Class int

const (
	// ClassTransient covers infrastructure faults. The same write may
	// succeed on retry with backoff.
	ClassTransient Class = iota
	// ClassRetryable covers data-dependent failures that can resolve as
	// the run progresses, such as a missing foreign key row that a later
	// batch will insert.
	ClassRetryable
	// ClassFatal covers rows that will never load without manual
	// correction: constraint violations, bad values, truncation.
	ClassFatal
)

func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassRetryable:
		return "retryable"
	case ClassFatal:
		return "fatal"
	}
	return "unknown"
}

// ParseClass is the inverse of String. Unknown input maps to fatal so
// a corrupt ledger entry is never silently retried forever.
func ParseClass(s string) Class {
	switch s {
	case "transient":
		return ClassTransient
	case "retryable":
		return ClassRetryable
	}
	return ClassFatal
}

// Classify maps a write error to its handling class using the
// PostgreSQL SQLSTATE when one is present.
func Classify(err error) Class {
	if err == nil {
		return ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return ClassTransient
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return ClassTransient
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return classifySQLState(pgErr.Code)
	}

	// Driver-level failures without a SQLSTATE: assume the connection
	// broke and let the retry loop decide.
	msg := err.Error()
	if strings.Contains(msg, "connection") || strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "EOF") {
		return ClassTransient
	}

	return ClassFatal
}

func classifySQLState(code string) Class {
	switch code {
	case "23503": // foreign_key_violation: parent row may arrive later
		return ClassRetryable
	case "40001", "40P01": // serialization_failure, deadlock_detected
		return ClassRetryable
	case "23505": // unique_violation outside the conflict target
		return ClassFatal
	case "23502", "23514": // not_null_violation, check_violation
		return ClassFatal
	case "57014": // query_canceled
		return ClassTransient
	}

	switch {
	case strings.HasPrefix(code, "08"): // connection exceptions
		return ClassTransient
	case strings.HasPrefix(code, "53"): // insufficient resources
		return ClassTransient
	case strings.HasPrefix(code, "57"): // operator intervention
		return ClassTransient
	case strings.HasPrefix(code, "22"): // data exceptions
		return ClassFatal
	case strings.HasPrefix(code, "23"): // other integrity violations
		return ClassFatal
	case strings.HasPrefix(code, "42"): // syntax or access rule
		return ClassFatal
	}

	return ClassTransient
}
