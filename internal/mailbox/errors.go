package mailbox

import (
	"context"
	"errors"
	"fmt"
	"strings"

	mysqldriver "github.com/go-sql-driver/mysql"
	"gorm.io/gorm"
)

// MySQL server error numbers.
const (
	mysqlDuplicateEntry = 1062
	mysqlLockWait       = 1205
	mysqlDeadlock       = 1213
)

// Sentinel errors. Match them with errors.Is.
var (
	ErrValidation  = errors.New("validation error")
	ErrDuplicateID = errors.New("duplicate message id")
	ErrNotFound    = errors.New("not found")
)

// StorageError wraps a failure of the underlying database: lock timeouts,
// exhausted disks, corruption, cancelled contexts.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("mailbox: %s: storage error: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Busy reports whether the failure was lock contention that a later retry
// could clear.
func (e *StorageError) Busy() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(e.Err, &myErr) {
		return myErr.Number == mysqlLockWait || myErr.Number == mysqlDeadlock
	}
	msg := e.Err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "Lock wait timeout")
}

// IsStorageError reports whether err is, or wraps, a *StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

func validationf(format string, args ...any) error {
	return fmt.Errorf("mailbox: %w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

func notFoundf(format string, args ...any) error {
	return fmt.Errorf("mailbox: %w: %s", ErrNotFound, fmt.Sprintf(format, args...))
}

func storageErr(op string, err error) error {
	return &StorageError{Op: op, Err: err}
}

// isDuplicateKey detects primary-key collisions from either driver, with or
// without gorm's error translation.
func isDuplicateKey(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var myErr *mysqldriver.MySQLError
	if errors.As(err, &myErr) {
		return myErr.Number == mysqlDuplicateEntry
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "PRIMARY KEY constraint failed") ||
		strings.Contains(msg, "Duplicate entry")
}
