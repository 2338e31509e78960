package services

import (
	"errors"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"circulation/internal/models"
)

// Kind is the stable, client-visible category of a domain error.
type Kind string

const (
	KindNotFound    Kind = "NOT_FOUND"
	KindUnavailable Kind = "UNAVAILABLE"
	KindConflict    Kind = "CONFLICT"
	KindForbidden   Kind = "FORBIDDEN"
	KindInvalid     Kind = "INVALID"
)

// Error is a domain failure detected before any state was committed.
type Error struct {
	kind Kind
	msg  string
}

func (e *Error) Error() string { return e.msg }
func (e *Error) Kind() Kind    { return e.kind }

func newError(kind Kind, msg string) *Error {
	return &Error{kind: kind, msg: msg}
}

// KindOf extracts the kind of a domain error, or "" for anything else.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.kind
	}
	return ""
}

// ─── Sentinel Errors ──────────────────────────────────────────────────────────

var (
	// ErrStudentNotFound is returned when the subject does not exist or is not a student.
	ErrStudentNotFound = newError(KindNotFound, "student not found")

	// ErrBookNotFound is returned when the requested book does not exist.
	ErrBookNotFound = newError(KindNotFound, "book not found")

	// ErrBorrowNotFound is returned when the referenced transaction does not exist.
	ErrBorrowNotFound = newError(KindNotFound, "transaction not found")

	// ErrBookUnavailable is returned when every copy of the book is lent out.
	ErrBookUnavailable = newError(KindUnavailable, "book is not available for borrowing")

	// ErrAlreadyBorrowed is returned when the student already holds an active
	// loan of the same book.
	ErrAlreadyBorrowed = newError(KindConflict, "student has already borrowed this book")

	// ErrAlreadyReturned is returned when a return is attempted on a closed record.
	ErrAlreadyReturned = newError(KindConflict, "book has already been returned")

	// ErrDuplicateISBN is returned when a book with the same ISBN exists.
	ErrDuplicateISBN = newError(KindConflict, "book with this ISBN already exists")

	ErrForbidden = newError(KindForbidden, "insufficient role for this operation")

	ErrInvalidBook   = newError(KindInvalid, "title, author and isbn are required")
	ErrInvalidCopies = newError(KindInvalid, "total copies must not be negative")
	ErrInvalidStatus = newError(KindInvalid, "unknown status filter")
)

func requireRole(actor models.Principal, role models.Role) error {
	if actor.Role != role {
		return ErrForbidden
	}
	return nil
}

// isUniqueViolation reports whether a unique index rejected a write. gorm
// translates it when TranslateError is set; the pgconn check covers
// connections opened without it.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}
