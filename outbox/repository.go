package outbox

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

// Tx is the transactional handle used by SaveEventWithTx.
//
// It intentionally aliases *sql.Tx to keep the repository contract compatible
// with existing database/sql transaction orchestration: a caller that is
// already inside a transaction (e.g. writing its own domain row alongside
// the outbox entry) hands that same *sql.Tx through, so both writes commit
// or roll back together.
type Tx = *sql.Tx

// OutboxRepository defines persistence operations for outbox entries.
//
// Method names mirror the operations named by the outbox contract directly:
// saveEvent, markInProgress, markPublished, markFailed, retrievePending,
// retrieveFailed. SaveEvent also has a form that runs in the caller's
// transaction, and RetrievePending and RetrieveFailed also have forms scoped
// to one transaction id; the Mark* methods have a single form.
type OutboxRepository interface {
	// SaveEvent persists a new outbox entry in its own transaction.
	SaveEvent(ctx context.Context, entry *OutboxEntry) error
	// SaveEventWithTx persists a new outbox entry inside the caller's transaction.
	SaveEventWithTx(ctx context.Context, tx Tx, entry *OutboxEntry) error

	// GetByID fetches a single entry regardless of state.
	GetByID(ctx context.Context, eventID uuid.UUID) (*OutboxEntry, error)

	// MarkInProgress transitions an entry to InProgress and bumps TimesSent.
	MarkInProgress(ctx context.Context, eventID uuid.UUID) error
	// MarkPublished transitions an entry to Published.
	MarkPublished(ctx context.Context, eventID uuid.UUID) error
	// MarkFailed transitions an entry to PublishedFailed, recording the sanitized error.
	MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string) error

	// RetrievePending lists all NotPublished entries across all transactions.
	RetrievePending(ctx context.Context, limit int) ([]*OutboxEntry, error)
	// RetrievePendingByTransaction lists NotPublished entries for one transaction.
	RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*OutboxEntry, error)
	// RetrieveFailed lists all PublishedFailed entries across all transactions.
	RetrieveFailed(ctx context.Context, limit int) ([]*OutboxEntry, error)
	// RetrieveFailedByTransaction lists PublishedFailed entries for one transaction.
	RetrieveFailedByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*OutboxEntry, error)

	// ResetStuckInProgress reclaims entries left InProgress past processingBefore,
	// returning them to NotPublished so a dispatcher can retry them.
	ResetStuckInProgress(ctx context.Context, limit int, processingBefore time.Time) ([]*OutboxEntry, error)
}
