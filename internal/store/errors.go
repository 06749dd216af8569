package store

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreNotReady is returned while the database is still opening.
	// Transient: safe to retry after backoff.
	ErrStoreNotReady = errors.New("store: database is loading")

	// ErrStoreUnavailable is returned when opening the database failed.
	// Permanent for the lifetime of the handle.
	ErrStoreUnavailable = errors.New("store: database unavailable")

	// ErrNotFound is returned when the target entity does not exist.
	ErrNotFound = errors.New("store: not found")

	// ErrStorageFault wraps constraint violations and I/O errors raised by SQLite.
	ErrStorageFault = errors.New("store: storage fault")

	// ErrInvalidInput is returned for arguments rejected before touching the database.
	ErrInvalidInput = errors.New("store: invalid input")
)

// faultError carries the underlying SQLite error while matching ErrStorageFault.
type faultError struct {
	op  string
	err error
}

func (e *faultError) Error() string {
	return fmt.Sprintf("%s: %v: %v", e.op, ErrStorageFault, e.err)
}

func (e *faultError) Unwrap() []error {
	return []error{ErrStorageFault, e.err}
}

// fault wraps a driver error as a storage fault. Nil stays nil.
func fault(op string, err error) error {
	if err == nil {
		return nil
	}
	return &faultError{op: op, err: err}
}

func notFound(kind string, id int64) error {
	return fmt.Errorf("%s %d: %w", kind, id, ErrNotFound)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// OrphanedMessageError reports that a message row was written but one of its
// attachments was not. The caller owns compensation (see PurgeMessage).
// Only produced when the store runs without transactions.
type OrphanedMessageError struct {
	MessageID int64
	Err       error
}

func (e *OrphanedMessageError) Error() string {
	return fmt.Sprintf("message %d written without its attachments: %v", e.MessageID, e.Err)
}

func (e *OrphanedMessageError) Unwrap() error {
	return e.Err
}
