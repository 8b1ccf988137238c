// Package unique implements the "compute a candidate, attempt the insert,
// retry on a uniqueness violation" loop shared by every collision-prone writer
// (edit versions, invite codes).
package unique

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// DefaultAttempts bounds Retry when callers pass a non-positive attempt count.
const DefaultAttempts = 3

// ErrExhausted is returned when every attempt hit a uniqueness violation.
var ErrExhausted = errors.New("unique: attempts exhausted")

// IsViolation reports whether err is a unique or primary key constraint failure.
// Dialects that translate errors surface gorm.ErrDuplicatedKey; the message
// checks cover drivers that do not.
func IsViolation(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	message := strings.ToLower(err.Error())
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint") ||
		strings.Contains(message, "sqlstate 23505")
}

// Retry calls attempt until it succeeds, fails with anything other than a
// uniqueness violation, or maxAttempts violations have been observed. attempt
// receives the zero-based attempt number and must recompute its candidate.
func Retry(ctx context.Context, maxAttempts int, attempt func(number int) error) error {
	if maxAttempts <= 0 {
		maxAttempts = DefaultAttempts
	}
	var lastErr error
	for number := 0; number < maxAttempts; number++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := attempt(number)
		if err == nil {
			return nil
		}
		if !IsViolation(err) {
			return err
		}
		lastErr = err
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrExhausted, maxAttempts, lastErr)
}
