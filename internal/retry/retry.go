package retry

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/danielkov/hireloop/internal/utils"

	"go.uber.org/zap"
)

const (
	// DefaultAttempts bounds every outbound collaborator call.
	DefaultAttempts = 3
	// DefaultInitialDelay is doubled after each failed attempt.
	DefaultInitialDelay = 1000 * time.Millisecond
)

// Policy controls how Do schedules attempts.
type Policy struct {
	Attempts     int
	InitialDelay time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		Attempts:     DefaultAttempts,
		InitialDelay: DefaultInitialDelay,
	}
}

// retryableError marks an error as worth another attempt.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string { return e.err.Error() }

func (e *retryableError) Unwrap() error { return e.err }

// Retryable wraps err so Do will schedule another attempt for it.
func Retryable(err error) error {
	if err == nil {
		return nil
	}
	return &retryableError{err: err}
}

// IsRetryable reports whether err was classified as transient. Timeouts and
// connection-level failures are transient even without an explicit wrap.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var marked *retryableError
	if errors.As(err, &marked) {
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	var opErr *net.OpError
	return errors.As(err, &opErr)
}

// Do runs fn up to policy.Attempts times, waiting with exponential backoff
// between attempts. Only retryable errors are attempted again; anything else
// is returned to the caller immediately so validation failures surface fast.
func Do(ctx context.Context, logger *zap.Logger, op string, policy Policy, fn func(ctx context.Context) error) error {
	if policy.Attempts <= 0 {
		policy.Attempts = DefaultAttempts
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = DefaultInitialDelay
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	delay := policy.InitialDelay

	var err error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		err = fn(ctx)
		if err == nil {
			return nil
		}

		if !IsRetryable(err) {
			logger.Debug("operation failed with non-retryable error",
				zap.String("operation", op),
				zap.Error(err),
			)
			return err
		}

		if attempt == policy.Attempts {
			break
		}

		logger.Warn("operation failed, retrying",
			zap.String("operation", op),
			zap.Int("attempt", attempt),
			zap.Duration("next_delay", delay),
			zap.Error(err),
		)

		if waitErr := utils.WaitFor(ctx, delay); waitErr != nil {
			return waitErr
		}
		delay *= 2
	}

	logger.Warn("operation failed after all attempts",
		zap.String("operation", op),
		zap.Int("attempts", policy.Attempts),
		zap.Error(err),
	)

	return err
}
