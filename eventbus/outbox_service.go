package eventbus

import (
	"context"
	"fmt"
	"reflect"

	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	libLog "github.com/LerianStudio/lib-eventbus/log"
	"github.com/LerianStudio/lib-eventbus/outbox"
	"github.com/google/uuid"
)

// LoggedEvent is one outbox row paired with its materialized integration
// event. Event is nil when the stored type name's short form is not
// registered locally; the caller decides whether to log and skip or fail.
type LoggedEvent struct {
	Entry *outbox.OutboxEntry
	Event Event
}

// OutboxService is the integration event log: it persists every event the
// application intends to publish, co-committed with the application's own
// writes, and materializes stored rows back into typed events using the
// subscription registry.
type OutboxService struct {
	repo     outbox.OutboxRepository
	registry *SubscriptionRegistry
	logger   libLog.Logger
}

// NewOutboxService creates the log service over repo, resolving stored type
// names against registry.
func NewOutboxService(repo outbox.OutboxRepository, registry *SubscriptionRegistry, logger libLog.Logger) (*OutboxService, error) {
	if nilcheck.Interface(repo) {
		return nil, outbox.ErrOutboxRepositoryRequired
	}

	if registry == nil {
		return nil, ErrRegistryRequired
	}

	if nilcheck.Interface(logger) {
		logger = libLog.NewNop()
	}

	return &OutboxService{repo: repo, registry: registry, logger: logger}, nil
}

// SaveEvent inserts event as NotPublished outside any caller transaction;
// the stored transaction id is the nil UUID.
func (service *OutboxService) SaveEvent(ctx context.Context, event Event) error {
	entry, err := service.buildEntry(ctx, event, uuid.Nil)
	if err != nil {
		return err
	}

	return service.repo.SaveEvent(ctx, entry)
}

// SaveEventWithTx inserts event as NotPublished on the caller's open
// transaction, recording transactionID, so the entry commits or rolls back
// together with the caller's own writes. It never opens its own transaction.
func (service *OutboxService) SaveEventWithTx(ctx context.Context, tx outbox.Tx, event Event, transactionID uuid.UUID) error {
	if tx == nil {
		return fmt.Errorf("%w: transaction handle is nil", outbox.ErrTransactionIDRequired)
	}

	entry, err := service.buildEntry(ctx, event, transactionID)
	if err != nil {
		return err
	}

	return service.repo.SaveEventWithTx(ctx, tx, entry)
}

func (service *OutboxService) buildEntry(ctx context.Context, event Event, transactionID uuid.UUID) (*outbox.OutboxEntry, error) {
	if event == nil {
		return nil, ErrEventRequired
	}

	content, err := Serialize(event, service.registry.JSONOptions())
	if err != nil {
		return nil, err
	}

	return outbox.NewOutboxEntryWithID(ctx, event.EventID(), fullTypeName(event), transactionID, content)
}

// MarkInProgress transitions the entry to InProgress, incrementing TimesSent.
func (service *OutboxService) MarkInProgress(ctx context.Context, eventID uuid.UUID) error {
	return service.repo.MarkInProgress(ctx, eventID)
}

// MarkPublished transitions the entry to Published.
func (service *OutboxService) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	return service.repo.MarkPublished(ctx, eventID)
}

// MarkFailed transitions the entry to PublishedFailed, recording why.
func (service *OutboxService) MarkFailed(ctx context.Context, eventID uuid.UUID, cause error) error {
	message := ""
	if cause != nil {
		message = outbox.SanitizeErrorMessageForStorage(cause.Error())
	}

	return service.repo.MarkFailed(ctx, eventID, message)
}

// RetrievePending lists NotPublished entries oldest first, each with its
// event materialized into the locally registered runtime type.
func (service *OutboxService) RetrievePending(ctx context.Context, limit int) ([]LoggedEvent, error) {
	entries, err := service.repo.RetrievePending(ctx, limit)
	if err != nil {
		return nil, err
	}

	return service.materialize(ctx, entries), nil
}

// RetrievePendingByTransaction is RetrievePending filtered to one transaction.
func (service *OutboxService) RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]LoggedEvent, error) {
	entries, err := service.repo.RetrievePendingByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	return service.materialize(ctx, entries), nil
}

// RetrieveFailed lists PublishedFailed entries oldest first with events
// materialized.
func (service *OutboxService) RetrieveFailed(ctx context.Context, limit int) ([]LoggedEvent, error) {
	entries, err := service.repo.RetrieveFailed(ctx, limit)
	if err != nil {
		return nil, err
	}

	return service.materialize(ctx, entries), nil
}

// RetrieveFailedByTransaction is RetrieveFailed filtered to one transaction.
func (service *OutboxService) RetrieveFailedByTransaction(ctx context.Context, transactionID uuid.UUID) ([]LoggedEvent, error) {
	entries, err := service.repo.RetrieveFailedByTransaction(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	return service.materialize(ctx, entries), nil
}

func (service *OutboxService) materialize(ctx context.Context, entries []*outbox.OutboxEntry) []LoggedEvent {
	logged := make([]LoggedEvent, 0, len(entries))

	for _, entry := range entries {
		if entry == nil {
			continue
		}

		logged = append(logged, LoggedEvent{Entry: entry, Event: service.decodeEntry(ctx, entry)})
	}

	return logged
}

// decodeEntry resolves the stored type name's short form against the
// registry and decodes the content. Unregistered or undecodable rows yield
// a nil event rather than an error, so one bad row cannot block retrieval.
func (service *OutboxService) decodeEntry(ctx context.Context, entry *outbox.OutboxEntry) Event {
	shortName := shortTypeName(entry.EventTypeName)

	eventType, ok := service.registry.EventType(shortName)
	if !ok {
		service.logger.Log(ctx, libLog.LevelWarn, "outbox entry has no registered event type",
			libLog.String("event_id", entry.EventID.String()),
			libLog.String("event_type_name", entry.EventTypeName))

		return nil
	}

	event, err := Deserialize(entry.Content, eventType)
	if err != nil {
		service.logger.Log(ctx, libLog.LevelWarn, "outbox entry content failed to decode",
			libLog.String("event_id", entry.EventID.String()),
			libLog.String("event_type_name", entry.EventTypeName),
			libLog.Err(err))

		return nil
	}

	return event
}

// fullTypeName stores the package-qualified type name; retrieval matches on
// its short form.
func fullTypeName(event Event) string {
	typ := indirectType(reflect.TypeOf(event))

	if typ.PkgPath() == "" {
		return typ.Name()
	}

	return typ.PkgPath() + "." + typ.Name()
}
