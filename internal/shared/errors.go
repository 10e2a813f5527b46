package shared

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies an engine failure for external callers.
type Kind string

const (
	// KindValidation marks a missing or malformed field, rejected before any write.
	KindValidation Kind = "VALIDATION"
	// KindNotFound marks a missing referenced record.
	KindNotFound Kind = "NOT_FOUND"
	// KindConflict marks duplicate numbers, over-application and
	// committed-document mutation attempts.
	KindConflict Kind = "CONFLICT"
	// KindInternal marks storage or driver failures.
	KindInternal Kind = "INTERNAL"
)

// Error is the typed failure returned across the engine boundary. Kind is
// stable and machine readable; Message is for humans; Err keeps the cause
// for server-side logs.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets errors.Is match on kind sentinels built with the constructors.
func (e *Error) Is(target error) bool {
	var te *Error
	if errors.As(target, &te) {
		return te.Kind == e.Kind && (te.Message == "" || te.Message == e.Message)
	}
	return false
}

// Public returns the message safe to serialize to external callers. Internal
// detail is suppressed in production and retained only in server logs.
func (e *Error) Public(production bool) string {
	if e.Kind == KindInternal && production {
		return "internal error"
	}
	return e.Message
}

// Validationf builds a validation error.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// NotFoundf builds a not-found error.
func NotFoundf(format string, args ...any) *Error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// Conflictf builds a conflict error.
func Conflictf(format string, args ...any) *Error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// Internal wraps a storage failure.
func Internal(msg string, err error) *Error {
	return &Error{Kind: KindInternal, Message: msg, Err: err}
}

// KindOf extracts the kind from any error, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Postgres SQLSTATE codes mapped by MapPgError.
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
)

// MapPgError converts driver failures into the engine taxonomy. Foreign-key
// violations surface as conflicts so the caller sees a stable kind rather
// than a SQLSTATE; no-rows becomes not-found with the given subject.
func MapPgError(err error, subject string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return NotFoundf("%s not found", subject)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s already exists", subject), Err: err}
		case pgForeignKeyViolation:
			return &Error{Kind: KindConflict, Message: fmt.Sprintf("%s references a missing record", subject), Err: err}
		}
	}
	return Internal(fmt.Sprintf("%s: storage failure", subject), err)
}
