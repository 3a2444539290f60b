package backup

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
)

type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration
	MaxWait     time.Duration
	Multiplier  float64
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: 1 * time.Second,
		MaxWait:     30 * time.Second,
		Multiplier:  2.0,
	}
}

// WithRetry calls fn until it succeeds, returns an error that retrying
// cannot fix, or MaxAttempts is reached. Waits grow by Multiplier up to
// MaxWait.
func WithRetry[T any](ctx context.Context, cfg RetryConfig, logger *slog.Logger, operation string, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	wait := cfg.InitialWait

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if !isRetryable(err) || attempt == cfg.MaxAttempts {
			break
		}

		logger.Warn("operation failed, retrying",
			"operation", operation,
			"attempt", attempt,
			"max_attempts", cfg.MaxAttempts,
			"error", err,
			"next_wait", wait,
		)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, ctx.Err()
		case <-timer.C:
		}

		wait = time.Duration(float64(wait) * cfg.Multiplier)
		if wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}

	return zero, lastErr
}

// Server error codes that no amount of retrying fixes.
var (
	permanentMySQLErrors = map[uint16]bool{
		1044: true, // ER_DBACCESS_DENIED_ERROR
		1045: true, // ER_ACCESS_DENIED_ERROR
		1049: true, // ER_BAD_DB_ERROR
		1142: true, // ER_TABLEACCESS_DENIED_ERROR
		1227: true, // ER_SPECIFIC_ACCESS_DENIED_ERROR
	}
	permanentPostgresClasses = map[string]bool{
		"28": true, // invalid authorization specification
		"3D": true, // invalid catalog name
		"42": true, // syntax error or access rule violation
	}
)

var permanentMessages = []string{
	"permission denied",
	"access denied",
	"authentication failed",
	"invalid password",
	"database does not exist",
	"unknown database",
	"role does not exist",
	"unsupported database type",
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		return !permanentMySQLErrors[myErr.Number]
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return !permanentPostgresClasses[string(pqErr.Code.Class())]
	}

	msg := strings.ToLower(err.Error())
	for _, s := range permanentMessages {
		if strings.Contains(msg, s) {
			return false
		}
	}
	return true
}
