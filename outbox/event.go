package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/LerianStudio/lib-eventbus/assert"
	"github.com/google/uuid"
)

// DefaultMaxPayloadBytes bounds the stored content of a single outbox entry.
const DefaultMaxPayloadBytes = 1 << 20

// OutboxEntry is a row in the outbox log: one integration event awaiting,
// or having completed, publication to the broker.
type OutboxEntry struct {
	EventID       uuid.UUID
	EventTypeName string
	State         OutboxEventState
	TimesSent     int
	CreationTime  time.Time
	Content       []byte
	TransactionID uuid.UUID
	LastError     string
	UpdatedAt     time.Time
}

// NewOutboxEntry creates a valid outbox entry initialized as NotPublished.
func NewOutboxEntry(
	ctx context.Context,
	eventTypeName string,
	transactionID uuid.UUID,
	content []byte,
) (*OutboxEntry, error) {
	return NewOutboxEntryWithID(ctx, uuid.New(), eventTypeName, transactionID, content)
}

// NewOutboxEntryWithID creates a valid outbox entry using a caller-provided event id.
func NewOutboxEntryWithID(
	ctx context.Context,
	eventID uuid.UUID,
	eventTypeName string,
	transactionID uuid.UUID,
	content []byte,
) (*OutboxEntry, error) {
	asserter := assert.New(ctx, nil, "outbox", "outbox.new_entry")

	if err := asserter.That(ctx, eventID != uuid.Nil, "event id is required"); err != nil {
		return nil, fmt.Errorf("outbox event id: %w", err)
	}

	eventTypeName = strings.TrimSpace(eventTypeName)

	if err := asserter.NotEmpty(ctx, eventTypeName, "event type name is required"); err != nil {
		return nil, fmt.Errorf("outbox event type name: %w", err)
	}

	// transactionID stays uuid.Nil for entries saved outside a caller
	// transaction; the nil UUID is the stored marker for that case.

	if err := asserter.That(ctx, len(content) > 0, "content is required"); err != nil {
		return nil, fmt.Errorf("outbox event content: %w", err)
	}

	if err := asserter.That(ctx, len(content) <= DefaultMaxPayloadBytes, "content exceeds max size"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutboxEventPayloadTooLarge, err)
	}

	if err := asserter.That(ctx, json.Valid(content), "content must be valid JSON"); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrOutboxEventPayloadNotJSON, err)
	}

	now := time.Now().UTC()

	return &OutboxEntry{
		EventID:       eventID,
		EventTypeName: eventTypeName,
		State:         NotPublished,
		TimesSent:     0,
		CreationTime:  now,
		Content:       content,
		TransactionID: transactionID,
		UpdatedAt:     now,
	}, nil
}
