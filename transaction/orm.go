package transaction

import (
	"context"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-eventbus/backoff"
	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	libLog "github.com/LerianStudio/lib-eventbus/log"
	"gorm.io/gorm"
)

// ORMAction is one unit of work inside an ORM batch. The idempotency
// contract is the same as Action's.
type ORMAction func(ctx context.Context, tx *gorm.DB) error

// ResilientORM runs batches of actions through GORM's transaction
// management, re-running the whole batch on transient database errors.
type ResilientORM struct {
	db          *gorm.DB
	maxAttempts int
	baseDelay   time.Duration
	shouldRetry func(error) bool
	wait        func(ctx context.Context, delay time.Duration) error
	logger      libLog.Logger
}

// ORMOption configures a ResilientORM.
type ORMOption func(*ResilientORM)

// WithORMMaxAttempts bounds the number of batch runs.
func WithORMMaxAttempts(maxAttempts int) ORMOption {
	return func(resilient *ResilientORM) {
		if maxAttempts > 0 {
			resilient.maxAttempts = maxAttempts
		}
	}
}

// WithORMBaseDelay sets the first retry delay.
func WithORMBaseDelay(delay time.Duration) ORMOption {
	return func(resilient *ResilientORM) {
		if delay > 0 {
			resilient.baseDelay = delay
		}
	}
}

// WithORMClassifier replaces the transient-error filter.
func WithORMClassifier(shouldRetry func(error) bool) ORMOption {
	return func(resilient *ResilientORM) {
		if shouldRetry != nil {
			resilient.shouldRetry = shouldRetry
		}
	}
}

// WithORMLogger sets a logger for retry warnings.
func WithORMLogger(logger libLog.Logger) ORMOption {
	return func(resilient *ResilientORM) {
		if !nilcheck.Interface(logger) {
			resilient.logger = logger
		}
	}
}

// NewResilientORM creates the execution strategy over db.
func NewResilientORM(db *gorm.DB, opts ...ORMOption) (*ResilientORM, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	resilient := &ResilientORM{
		db:          db,
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		shouldRetry: IsTransientDBError,
		wait:        backoff.WaitContext,
		logger:      libLog.NewNop(),
	}

	for _, opt := range opts {
		if opt != nil {
			opt(resilient)
		}
	}

	return resilient, nil
}

// Execute runs actions in order inside one GORM transaction: an error from
// any action rolls the transaction back, success commits it. Transient
// errors re-run the whole batch until the attempt budget is spent.
func (resilient *ResilientORM) Execute(ctx context.Context, actions ...ORMAction) error {
	if resilient == nil || resilient.db == nil {
		return ErrDBRequired
	}

	if len(actions) == 0 {
		return ErrActionRequired
	}

	if ctx == nil {
		ctx = context.Background()
	}

	var lastErr error

	for attempt := 0; attempt < resilient.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("resilient transaction: %w", err)
		}

		lastErr = resilient.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
			for _, action := range actions {
				if action == nil {
					continue
				}

				if err := action(ctx, tx); err != nil {
					return err
				}
			}

			return nil
		})
		if lastErr == nil {
			return nil
		}

		if !resilient.shouldRetry(lastErr) || attempt == resilient.maxAttempts-1 {
			return lastErr
		}

		delay := backoff.ExponentialWithJitter(resilient.baseDelay, attempt)

		resilient.logger.Log(ctx, libLog.LevelWarn, "transient database failure, re-running transaction batch",
			libLog.Int("attempt", attempt+1),
			libLog.Err(lastErr))

		if waitErr := resilient.wait(ctx, delay); waitErr != nil {
			return fmt.Errorf("resilient transaction wait: %w", lastErr)
		}
	}

	return lastErr
}
