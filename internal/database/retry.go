package database

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"whatslog/internal/constants"
	"whatslog/internal/retry"

	"github.com/mattn/go-sqlite3"
)

// busyRetry waits out SQLite lock contention between the ingest workers and
// the API readers. It is short on purpose: busy_timeout already blocks inside
// the driver before a busy error surfaces.
var busyRetry = retry.NewBackoff(retry.BackoffConfig{
	InitialDelay: 20 * time.Millisecond,
	MaxDelay:     250 * time.Millisecond,
	Multiplier:   2,
	MaxAttempts:  constants.DefaultDatabaseRetryAttempts,
	Jitter:       true,
})

// withBusyRetry runs fn again while it fails with a transient SQLite error.
func withBusyRetry(ctx context.Context, operation string, fn func() error) error {
	err := busyRetry.RetryIf(ctx, fn, isRetryableDBError)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	if isRetryableDBError(err) {
		return fmt.Errorf("%s: database still busy after %d attempts: %w", operation, constants.DefaultDatabaseRetryAttempts, err)
	}
	return fmt.Errorf("%s: %w", operation, err)
}

func isRetryableDBError(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked || sqliteErr.Code == sqlite3.ErrIoErr
	}

	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "disk I/O error")
}

// isUniqueViolation reports whether err is a UNIQUE or PRIMARY KEY constraint
// failure.
func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}
