package transaction

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/LerianStudio/lib-eventbus/backoff"
	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	libLog "github.com/LerianStudio/lib-eventbus/log"
)

var (
	ErrDBRequired     = errors.New("database handle is required")
	ErrActionRequired = errors.New("at least one action is required")
)

const (
	// DefaultMaxAttempts bounds how often the whole batch is re-run.
	DefaultMaxAttempts = 6
	// DefaultBaseDelay seeds the jittered exponential backoff between runs.
	DefaultBaseDelay = 100 * time.Millisecond
)

// Action is one unit of work inside the batch. It must be idempotent: the
// execution strategy may re-invoke the entire batch after a transient
// failure, so an action that already ran once can run again.
type Action func(ctx context.Context, tx *sql.Tx) error

// Resilient runs batches of actions in one database/sql transaction,
// retrying the whole batch on transient database errors.
type Resilient struct {
	db          *sql.DB
	maxAttempts int
	baseDelay   time.Duration
	shouldRetry func(error) bool
	wait        func(ctx context.Context, delay time.Duration) error
	logger      libLog.Logger
}

// ResilientOption configures a Resilient.
type ResilientOption func(*Resilient)

// WithMaxAttempts bounds the number of batch runs.
func WithMaxAttempts(maxAttempts int) ResilientOption {
	return func(resilient *Resilient) {
		if maxAttempts > 0 {
			resilient.maxAttempts = maxAttempts
		}
	}
}

// WithBaseDelay sets the first retry delay; later delays grow exponentially
// with full jitter.
func WithBaseDelay(delay time.Duration) ResilientOption {
	return func(resilient *Resilient) {
		if delay > 0 {
			resilient.baseDelay = delay
		}
	}
}

// WithClassifier replaces the transient-error filter.
func WithClassifier(shouldRetry func(error) bool) ResilientOption {
	return func(resilient *Resilient) {
		if shouldRetry != nil {
			resilient.shouldRetry = shouldRetry
		}
	}
}

// WithLogger sets a logger for retry warnings.
func WithLogger(logger libLog.Logger) ResilientOption {
	return func(resilient *Resilient) {
		if !nilcheck.Interface(logger) {
			resilient.logger = logger
		}
	}
}

// withWait replaces the sleep function; tests use it to skip wall-clock time.
func withWait(wait func(ctx context.Context, delay time.Duration) error) ResilientOption {
	return func(resilient *Resilient) {
		if wait != nil {
			resilient.wait = wait
		}
	}
}

// NewResilient creates the execution strategy over db.
func NewResilient(db *sql.DB, opts ...ResilientOption) (*Resilient, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	resilient := &Resilient{
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

// Execute runs actions in order inside one transaction. Any error rolls the
// transaction back; transient errors re-run the whole batch until the
// attempt budget is spent. On success the transaction is committed.
func (resilient *Resilient) Execute(ctx context.Context, actions ...Action) error {
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

		lastErr = resilient.runOnce(ctx, actions)
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

func (resilient *Resilient) runOnce(ctx context.Context, actions []Action) error {
	tx, err := resilient.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	for _, action := range actions {
		if action == nil {
			continue
		}

		if actionErr := action(ctx, tx); actionErr != nil {
			if rollbackErr := tx.Rollback(); rollbackErr != nil && !errors.Is(rollbackErr, sql.ErrTxDone) {
				return errors.Join(actionErr, fmt.Errorf("rollback: %w", rollbackErr))
			}

			return actionErr
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}

	return nil
}
