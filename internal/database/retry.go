// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package database

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gorm.io/gorm"
)

// MaxRetries is the default number of attempts for a busy transaction
const MaxRetries = 3

// RetryDelay is the delay before the first retry
const RetryDelay = 50 * time.Millisecond

// IsBusy reports whether err is a transient lock error from SQLite
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY")
}

// RetryWithBackoff retries fn with exponential backoff while it fails with
// a busy error. Any other error is returned at once.
func RetryWithBackoff(ctx context.Context, maxRetries int, initialDelay time.Duration, fn func() error) error {
	var lastErr error
	delay := initialDelay

	for i := 0; i < maxRetries; i++ {
		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err
		if !IsBusy(err) {
			return err
		}
		if i == maxRetries-1 {
			break
		}
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return fmt.Errorf("retry aborted: %w", lastErr)
		}
		delay *= 2 // Exponential backoff
	}

	return fmt.Errorf("max retries exceeded: %w", lastErr)
}

// Transaction runs fn in a transaction bound to ctx, retrying when the
// database reports it is busy. Each attempt rolls back fully on error.
func Transaction(ctx context.Context, db *gorm.DB, fn func(tx *gorm.DB) error) error {
	return RetryWithBackoff(ctx, MaxRetries, RetryDelay, func() error {
		return db.WithContext(ctx).Transaction(fn)
	})
}
