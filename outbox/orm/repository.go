package orm

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	libCommons "github.com/LerianStudio/lib-eventbus"
	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	libLog "github.com/LerianStudio/lib-eventbus/log"
	libOpentelemetry "github.com/LerianStudio/lib-eventbus/opentelemetry"
	"github.com/LerianStudio/lib-eventbus/outbox"
	"github.com/google/uuid"
	gormPostgres "gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDBRequired              = errors.New("gorm database handle is required")
	ErrTransactionRequired     = errors.New("caller transaction is required")
	ErrStateTransitionConflict = errors.New("outbox entry state transition conflict")
	ErrLimitMustBePositive     = errors.New("limit must be greater than zero")
	ErrIDRequired              = errors.New("event id is required")
	ErrTransactionIDRequired   = errors.New("transaction id is required")
)

// DefaultTableName is used unless WithTableName overrides it. It matches the
// direct-SQL backing so the two are interchangeable over one table.
const DefaultTableName = "outbox_events"

// outboxRecord maps one outbox row for GORM. Column names follow the
// canonical DDL; the struct is internal so callers only ever see
// *outbox.OutboxEntry.
type outboxRecord struct {
	EventID       uuid.UUID      `gorm:"column:event_id;primaryKey"`
	EventTypeName string         `gorm:"column:event_type_name"`
	State         int            `gorm:"column:state"`
	TimesSent     int            `gorm:"column:times_sent"`
	CreationTime  time.Time      `gorm:"column:creation_time"`
	Content       []byte         `gorm:"column:content"`
	TransactionID uuid.UUID      `gorm:"column:transaction_id"`
	LastError     sql.NullString `gorm:"column:last_error"`
	UpdatedAt     time.Time      `gorm:"column:updated_at"`
}

func recordFromEntry(entry *outbox.OutboxEntry) outboxRecord {
	return outboxRecord{
		EventID:       entry.EventID,
		EventTypeName: entry.EventTypeName,
		State:         int(outbox.NotPublished),
		TimesSent:     0,
		CreationTime:  entry.CreationTime,
		Content:       entry.Content,
		TransactionID: entry.TransactionID,
		UpdatedAt:     entry.UpdatedAt,
	}
}

func (record outboxRecord) toEntry() (*outbox.OutboxEntry, error) {
	state, err := outbox.ParseOutboxEventState(record.State)
	if err != nil {
		return nil, err
	}

	entry := &outbox.OutboxEntry{
		EventID:       record.EventID,
		EventTypeName: record.EventTypeName,
		State:         state,
		TimesSent:     record.TimesSent,
		CreationTime:  record.CreationTime,
		Content:       record.Content,
		TransactionID: record.TransactionID,
		UpdatedAt:     record.UpdatedAt,
	}

	if record.LastError.Valid {
		entry.LastError = record.LastError.String
	}

	return entry, nil
}

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithLogger overrides the repository's logger.
func WithLogger(logger libLog.Logger) Option {
	return func(repo *Repository) {
		if !nilcheck.Interface(logger) {
			repo.logger = logger
		}
	}
}

// WithTableName overrides the outbox table name.
func WithTableName(tableName string) Option {
	return func(repo *Repository) {
		repo.tableName = tableName
	}
}

// Repository is the GORM backing for the outbox contract.
type Repository struct {
	db        *gorm.DB
	logger    libLog.Logger
	tableName string
}

// NewRepository creates a GORM-backed outbox repository over db.
func NewRepository(db *gorm.DB, opts ...Option) (*Repository, error) {
	if db == nil {
		return nil, ErrDBRequired
	}

	repo := &Repository{
		db:        db,
		logger:    libLog.NewNop(),
		tableName: DefaultTableName,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	repo.tableName = strings.TrimSpace(repo.tableName)
	if repo.tableName == "" {
		repo.tableName = DefaultTableName
	}

	return repo, nil
}

func (repo *Repository) table(db *gorm.DB) *gorm.DB {
	return db.Table(repo.tableName)
}

// SaveEvent persists a new outbox entry in its own transaction.
func (repo *Repository) SaveEvent(ctx context.Context, entry *outbox.OutboxEntry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if err := validateSaveEntry(entry); err != nil {
		return err
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "orm.save_outbox_event")
	defer span.End()

	record := recordFromEntry(entry)

	if err := repo.table(repo.db.WithContext(ctx)).Create(&record).Error; err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to save outbox event", err)
		logSanitizedError(logger, ctx, "failed to save outbox event", err)

		return fmt.Errorf("saving outbox event: %w", err)
	}

	return nil
}

// SaveEventWithTx persists a new outbox entry on the caller's open
// database/sql transaction, so the entry commits or rolls back with the
// caller's own writes. The statement runs directly on tx; no nested
// transaction is opened.
func (repo *Repository) SaveEventWithTx(ctx context.Context, tx outbox.Tx, entry *outbox.OutboxEntry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if tx == nil {
		return ErrTransactionRequired
	}

	if err := validateSaveEntry(entry); err != nil {
		return err
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "orm.save_outbox_event_with_tx")
	defer span.End()

	txDB, err := gorm.Open(gormPostgres.New(gormPostgres.Config{Conn: tx}), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to adopt caller transaction", err)

		return fmt.Errorf("adopting caller transaction: %w", err)
	}

	record := recordFromEntry(entry)

	if err := repo.table(txDB.WithContext(ctx)).Create(&record).Error; err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to save outbox event", err)
		logSanitizedError(logger, ctx, "failed to save outbox event", err)

		return fmt.Errorf("saving outbox event: %w", err)
	}

	return nil
}

// GetByID retrieves an outbox entry by id, regardless of its state.
func (repo *Repository) GetByID(ctx context.Context, eventID uuid.UUID) (*outbox.OutboxEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if eventID == uuid.Nil {
		return nil, ErrIDRequired
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "orm.get_outbox_by_id")
	defer span.End()

	var record outboxRecord

	err := repo.table(repo.db.WithContext(ctx)).Where("event_id = ?", eventID).Take(&record).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			libOpentelemetry.HandleSpanError(span, "failed to get outbox event", err)
			logSanitizedError(logger, ctx, "failed to get outbox event", err)
		}

		return nil, fmt.Errorf("getting outbox event: %w", err)
	}

	return record.toEntry()
}

// MarkInProgress transitions an entry to InProgress and bumps TimesSent.
// Valid from NotPublished or PublishedFailed.
func (repo *Repository) MarkInProgress(ctx context.Context, eventID uuid.UUID) error {
	return repo.markState(ctx, "orm.mark_outbox_in_progress", eventID,
		[]outbox.OutboxEventState{outbox.NotPublished, outbox.PublishedFailed},
		map[string]any{
			"state":      int(outbox.InProgress),
			"times_sent": gorm.Expr("times_sent + 1"),
			"updated_at": time.Now().UTC(),
		})
}

// MarkPublished transitions an entry to Published. Valid only from InProgress.
func (repo *Repository) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	return repo.markState(ctx, "orm.mark_outbox_published", eventID,
		[]outbox.OutboxEventState{outbox.InProgress},
		map[string]any{
			"state":      int(outbox.Published),
			"updated_at": time.Now().UTC(),
		})
}

// MarkFailed transitions an entry to PublishedFailed, recording the
// sanitized error. Valid only from InProgress.
func (repo *Repository) MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string) error {
	return repo.markState(ctx, "orm.mark_outbox_failed", eventID,
		[]outbox.OutboxEventState{outbox.InProgress},
		map[string]any{
			"state":      int(outbox.PublishedFailed),
			"last_error": outbox.SanitizeErrorMessageForStorage(errMsg),
			"updated_at": time.Now().UTC(),
		})
}

func (repo *Repository) markState(
	ctx context.Context,
	spanName string,
	eventID uuid.UUID,
	fromStates []outbox.OutboxEventState,
	updates map[string]any,
) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if eventID == uuid.Nil {
		return ErrIDRequired
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	states := make([]int, 0, len(fromStates))
	for _, state := range fromStates {
		states = append(states, int(state))
	}

	result := repo.table(repo.db.WithContext(ctx)).
		Where("event_id = ? AND state IN ?", eventID, states).
		Updates(updates)

	if result.Error != nil {
		libOpentelemetry.HandleSpanError(span, "failed to update outbox state", result.Error)
		logSanitizedError(logger, ctx, "failed to update outbox state", result.Error)

		return fmt.Errorf("updating outbox state: %w", result.Error)
	}

	if result.RowsAffected == 0 {
		return ErrStateTransitionConflict
	}

	return nil
}

// RetrievePending lists NotPublished entries across all transactions.
func (repo *Repository) RetrievePending(ctx context.Context, limit int) ([]*outbox.OutboxEntry, error) {
	return repo.retrieveByState(ctx, "orm.retrieve_outbox_pending", outbox.NotPublished, uuid.Nil, limit)
}

// RetrievePendingByTransaction lists NotPublished entries for one transaction.
func (repo *Repository) RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*outbox.OutboxEntry, error) {
	if transactionID == uuid.Nil {
		return nil, ErrTransactionIDRequired
	}

	return repo.retrieveByState(ctx, "orm.retrieve_outbox_pending_by_tx", outbox.NotPublished, transactionID, 0)
}

// RetrieveFailed lists PublishedFailed entries across all transactions.
func (repo *Repository) RetrieveFailed(ctx context.Context, limit int) ([]*outbox.OutboxEntry, error) {
	return repo.retrieveByState(ctx, "orm.retrieve_outbox_failed", outbox.PublishedFailed, uuid.Nil, limit)
}

// RetrieveFailedByTransaction lists PublishedFailed entries for one transaction.
func (repo *Repository) RetrieveFailedByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*outbox.OutboxEntry, error) {
	if transactionID == uuid.Nil {
		return nil, ErrTransactionIDRequired
	}

	return repo.retrieveByState(ctx, "orm.retrieve_outbox_failed_by_tx", outbox.PublishedFailed, transactionID, 0)
}

func (repo *Repository) retrieveByState(
	ctx context.Context,
	spanName string,
	state outbox.OutboxEventState,
	transactionID uuid.UUID,
	limit int,
) ([]*outbox.OutboxEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if limit < 0 {
		return nil, ErrLimitMustBePositive
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	var entries []*outbox.OutboxEntry

	err := repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		query := repo.table(tx).
			Where("state = ?", int(state)).
			Order("creation_time ASC").
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})

		if transactionID != uuid.Nil {
			query = query.Where("transaction_id = ?", transactionID)
		}

		if limit > 0 {
			query = query.Limit(limit)
		}

		var records []outboxRecord

		if err := query.Find(&records).Error; err != nil {
			return fmt.Errorf("querying outbox entries: %w", err)
		}

		converted, err := recordsToEntries(records)
		if err != nil {
			return err
		}

		entries = converted

		return nil
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to retrieve outbox entries", err)
		logSanitizedError(logger, ctx, "failed to retrieve outbox entries", err)

		return nil, fmt.Errorf("retrieving outbox entries: %w", err)
	}

	return entries, nil
}

// ResetStuckInProgress reclaims entries left InProgress past processingBefore,
// returning them to NotPublished so a dispatcher can retry them.
func (repo *Repository) ResetStuckInProgress(
	ctx context.Context,
	limit int,
	processingBefore time.Time,
) ([]*outbox.OutboxEntry, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "orm.reset_stuck_in_progress")
	defer span.End()

	var entries []*outbox.OutboxEntry

	err := repo.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var records []outboxRecord

		err := repo.table(tx).
			Where("state = ? AND updated_at <= ?", int(outbox.InProgress), processingBefore).
			Order("updated_at ASC").
			Limit(limit).
			Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Find(&records).Error
		if err != nil {
			return fmt.Errorf("querying stuck in-progress entries: %w", err)
		}

		if len(records) == 0 {
			return nil
		}

		ids := make([]uuid.UUID, 0, len(records))
		for _, record := range records {
			ids = append(ids, record.EventID)
		}

		now := time.Now().UTC()

		result := repo.table(tx).
			Where("event_id IN ? AND state = ?", ids, int(outbox.InProgress)).
			Updates(map[string]any{"state": int(outbox.NotPublished), "updated_at": now})

		if result.Error != nil {
			return fmt.Errorf("resetting stuck entries: %w", result.Error)
		}

		if result.RowsAffected != int64(len(ids)) {
			return ErrStateTransitionConflict
		}

		for index := range records {
			records[index].State = int(outbox.NotPublished)
			records[index].UpdatedAt = now
		}

		converted, err := recordsToEntries(records)
		if err != nil {
			return err
		}

		entries = converted

		return nil
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to reset stuck outbox entries", err)
		logSanitizedError(logger, ctx, "failed to reset stuck outbox entries", err)

		return nil, fmt.Errorf("resetting stuck entries: %w", err)
	}

	return entries, nil
}

func recordsToEntries(records []outboxRecord) ([]*outbox.OutboxEntry, error) {
	entries := make([]*outbox.OutboxEntry, 0, len(records))

	for _, record := range records {
		entry, err := record.toEntry()
		if err != nil {
			return nil, fmt.Errorf("converting outbox record: %w", err)
		}

		entries = append(entries, entry)
	}

	return entries, nil
}

func validateSaveEntry(entry *outbox.OutboxEntry) error {
	if entry == nil {
		return outbox.ErrOutboxEventRequired
	}

	if entry.EventID == uuid.Nil {
		return ErrIDRequired
	}

	if strings.TrimSpace(entry.EventTypeName) == "" {
		return outbox.ErrEventTypeRequired
	}

	if len(entry.Content) == 0 {
		return outbox.ErrOutboxEventPayloadRequired
	}

	return nil
}

func logSanitizedError(logger libLog.Logger, ctx context.Context, message string, err error) {
	if nilcheck.Interface(logger) || err == nil {
		return
	}

	logger.Log(ctx, libLog.LevelError, message, libLog.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())))
}

var _ outbox.OutboxRepository = (*Repository)(nil)
