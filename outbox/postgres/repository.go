package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	libCommons "github.com/LerianStudio/lib-eventbus"
	"github.com/LerianStudio/lib-eventbus/internal/nilcheck"
	libLog "github.com/LerianStudio/lib-eventbus/log"
	libOpentelemetry "github.com/LerianStudio/lib-eventbus/opentelemetry"
	"github.com/LerianStudio/lib-eventbus/outbox"
	libPostgres "github.com/LerianStudio/lib-eventbus/postgres"
	"github.com/google/uuid"
)

const maxSQLIdentifierLength = 63

var (
	ErrConnectionRequired       = errors.New("postgres connection is required")
	ErrTransactionRequired      = errors.New("postgres transaction is required")
	ErrStateTransitionConflict  = errors.New("outbox entry state transition conflict")
	ErrRepositoryNotInitialized = errors.New("outbox repository not initialized")
	ErrLimitMustBePositive      = errors.New("limit must be greater than zero")
	ErrIDRequired               = errors.New("event id is required")
	ErrTransactionIDRequired    = errors.New("transaction id is required")
	ErrNoPrimaryDB              = errors.New("no primary database configured for outbox repository")
	ErrInvalidIdentifier        = errors.New("invalid sql identifier")
	identifierPattern           = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)
	defaultTransactionTimeout   = 30 * time.Second
	outboxColumns               = "event_id, event_type_name, state, times_sent, creation_time, content, transaction_id, last_error, updated_at"
)

// Option configures a Repository at construction time.
type Option func(*Repository)

// WithLogger overrides the repository's logger. A nil or typed-nil logger
// falls back to the default no-op logger.
func WithLogger(logger libLog.Logger) Option {
	return func(repo *Repository) {
		if nilcheck.Interface(logger) {
			return
		}

		repo.logger = logger
	}
}

// WithTableName overrides the outbox table name (schema-qualified paths allowed).
func WithTableName(tableName string) Option {
	return func(repo *Repository) {
		repo.tableName = tableName
	}
}

// WithTransactionTimeout bounds how long a repository-managed transaction may run.
func WithTransactionTimeout(timeout time.Duration) Option {
	return func(repo *Repository) {
		if timeout > 0 {
			repo.transactionTimeout = timeout
		}
	}
}

// Repository is the direct-SQL backing for the outbox contract: it persists
// entries in PostgreSQL using database/sql transactions, with no ORM layer
// between the repository and the wire-level queries.
type Repository struct {
	client             *libPostgres.PostgresConnection
	logger             libLog.Logger
	tableName          string
	transactionTimeout time.Duration
}

// NewRepository creates a PostgreSQL-backed outbox repository.
func NewRepository(client *libPostgres.PostgresConnection, opts ...Option) (*Repository, error) {
	if client == nil {
		return nil, ErrConnectionRequired
	}

	repo := &Repository{
		client:             client,
		logger:             libLog.NewNop(),
		tableName:          "outbox_events",
		transactionTimeout: defaultTransactionTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(repo)
		}
	}

	if nilcheck.Interface(repo.logger) {
		repo.logger = libLog.NewNop()
	}

	repo.tableName = strings.TrimSpace(repo.tableName)
	if repo.tableName == "" {
		repo.tableName = "outbox_events"
	}

	if err := validateIdentifierPath(repo.tableName); err != nil {
		return nil, fmt.Errorf("table name: %w", err)
	}

	return repo, nil
}

// SaveEvent persists a new outbox entry in its own transaction.
func (repo *Repository) SaveEvent(ctx context.Context, entry *outbox.OutboxEntry) error {
	return repo.saveEvent(ctx, nil, entry)
}

// SaveEventWithTx persists a new outbox entry inside the caller's transaction.
func (repo *Repository) SaveEventWithTx(ctx context.Context, tx outbox.Tx, entry *outbox.OutboxEntry) error {
	if tx == nil {
		return ErrTransactionRequired
	}

	return repo.saveEvent(ctx, tx, entry)
}

func (repo *Repository) saveEvent(ctx context.Context, tx *sql.Tx, entry *outbox.OutboxEntry) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if err := validateSaveEntry(entry); err != nil {
		return err
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.save_outbox_event")
	defer span.End()

	_, err := withTxOrExisting(repo, ctx, tx, func(execTx *sql.Tx) (struct{}, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "INSERT INTO " + table + " (" + outboxColumns + ") VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)"

		_, execErr := execTx.ExecContext(ctx, query,
			entry.EventID,
			entry.EventTypeName,
			int(outbox.NotPublished),
			0,
			entry.CreationTime,
			entry.Content,
			entry.TransactionID,
			sql.NullString{},
			entry.UpdatedAt,
		)
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing insert: %w", execErr)
		}

		return struct{}{}, nil
	})
	if err != nil {
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

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if eventID == uuid.Nil {
		return nil, ErrIDRequired
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.get_outbox_by_id")
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (*outbox.OutboxEntry, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "SELECT " + outboxColumns + " FROM " + table + " WHERE event_id = $1"

		return scanOutboxEntry(tx.QueryRowContext(ctx, query, eventID))
	})
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			libOpentelemetry.HandleSpanError(span, "failed to get outbox event", err)
			logSanitizedError(logger, ctx, "failed to get outbox event", err)
		}

		return nil, fmt.Errorf("getting outbox event: %w", err)
	}

	return result, nil
}

// MarkInProgress transitions an entry to InProgress and bumps TimesSent.
// Valid from NotPublished or PublishedFailed.
func (repo *Repository) MarkInProgress(ctx context.Context, eventID uuid.UUID) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if eventID == uuid.Nil {
		return ErrIDRequired
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.mark_outbox_in_progress")
	defer span.End()

	_, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (struct{}, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "UPDATE " + table + " SET state = $1, times_sent = times_sent + 1, updated_at = $2 " +
			"WHERE event_id = $3 AND state IN ($4, $5)"

		result, execErr := tx.ExecContext(ctx, query,
			int(outbox.InProgress), time.Now().UTC(), eventID, int(outbox.NotPublished), int(outbox.PublishedFailed))
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		return struct{}{}, ensureRowsAffected(result)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to mark outbox in progress", err)
		logSanitizedError(logger, ctx, "failed to mark outbox in progress", err)

		return fmt.Errorf("marking in progress: %w", err)
	}

	return nil
}

// MarkPublished transitions an entry to Published. Valid only from InProgress.
func (repo *Repository) MarkPublished(ctx context.Context, eventID uuid.UUID) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if eventID == uuid.Nil {
		return ErrIDRequired
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.mark_outbox_published")
	defer span.End()

	_, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (struct{}, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "UPDATE " + table + " SET state = $1, updated_at = $2 WHERE event_id = $3 AND state = $4"

		result, execErr := tx.ExecContext(ctx, query,
			int(outbox.Published), time.Now().UTC(), eventID, int(outbox.InProgress))
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		return struct{}{}, ensureRowsAffected(result)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to mark outbox published", err)
		logSanitizedError(logger, ctx, "failed to mark outbox published", err)

		return fmt.Errorf("marking published: %w", err)
	}

	return nil
}

// MarkFailed transitions an entry to PublishedFailed, recording the sanitized
// error. Valid only from InProgress.
func (repo *Repository) MarkFailed(ctx context.Context, eventID uuid.UUID, errMsg string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	if !repo.initialized() {
		return ErrRepositoryNotInitialized
	}

	if eventID == uuid.Nil {
		return ErrIDRequired
	}

	errMsg = outbox.SanitizeErrorMessageForStorage(errMsg)

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.mark_outbox_failed")
	defer span.End()

	_, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) (struct{}, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "UPDATE " + table + " SET state = $1, last_error = $2, updated_at = $3 " +
			"WHERE event_id = $4 AND state = $5"

		result, execErr := tx.ExecContext(ctx, query,
			int(outbox.PublishedFailed), errMsg, time.Now().UTC(), eventID, int(outbox.InProgress))
		if execErr != nil {
			return struct{}{}, fmt.Errorf("executing update: %w", execErr)
		}

		return struct{}{}, ensureRowsAffected(result)
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to mark outbox failed", err)
		logSanitizedError(logger, ctx, "failed to mark outbox failed", err)

		return fmt.Errorf("marking failed: %w", err)
	}

	return nil
}

// RetrievePending lists NotPublished entries across all transactions.
func (repo *Repository) RetrievePending(ctx context.Context, limit int) ([]*outbox.OutboxEntry, error) {
	return repo.retrieveByState(ctx, "postgres.retrieve_outbox_pending", outbox.NotPublished, uuid.Nil, limit)
}

// RetrievePendingByTransaction lists NotPublished entries for one transaction.
func (repo *Repository) RetrievePendingByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*outbox.OutboxEntry, error) {
	if transactionID == uuid.Nil {
		return nil, ErrTransactionIDRequired
	}

	return repo.retrieveByState(ctx, "postgres.retrieve_outbox_pending_by_tx", outbox.NotPublished, transactionID, 0)
}

// RetrieveFailed lists PublishedFailed entries across all transactions.
func (repo *Repository) RetrieveFailed(ctx context.Context, limit int) ([]*outbox.OutboxEntry, error) {
	return repo.retrieveByState(ctx, "postgres.retrieve_outbox_failed", outbox.PublishedFailed, uuid.Nil, limit)
}

// RetrieveFailedByTransaction lists PublishedFailed entries for one transaction.
func (repo *Repository) RetrieveFailedByTransaction(ctx context.Context, transactionID uuid.UUID) ([]*outbox.OutboxEntry, error) {
	if transactionID == uuid.Nil {
		return nil, ErrTransactionIDRequired
	}

	return repo.retrieveByState(ctx, "postgres.retrieve_outbox_failed_by_tx", outbox.PublishedFailed, transactionID, 0)
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

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit < 0 {
		return nil, ErrLimitMustBePositive
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.OutboxEntry, error) {
		table := quoteIdentifierPath(repo.tableName)
		query := "SELECT " + outboxColumns + " FROM " + table + " WHERE state = $1"
		args := []any{int(state)}

		if transactionID != uuid.Nil {
			query += " AND transaction_id = $2"
			args = append(args, transactionID)
		}

		query += " ORDER BY creation_time ASC"

		if limit > 0 {
			query += fmt.Sprintf(" LIMIT $%d", len(args)+1)
			args = append(args, limit)
		}

		query += " FOR UPDATE SKIP LOCKED"

		return queryOutboxEntries(ctx, tx, query, args, limit, "querying outbox entries")
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to retrieve outbox entries", err)
		logSanitizedError(logger, ctx, "failed to retrieve outbox entries", err)

		return nil, fmt.Errorf("retrieving outbox entries: %w", err)
	}

	return result, nil
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

	if !repo.initialized() {
		return nil, ErrRepositoryNotInitialized
	}

	if limit <= 0 {
		return nil, ErrLimitMustBePositive
	}

	logger, tracer, _, _ := libCommons.NewTrackingFromContext(ctx)

	ctx, span := tracer.Start(ctx, "postgres.reset_stuck_in_progress")
	defer span.End()

	result, err := withTxOrExisting(repo, ctx, nil, func(tx *sql.Tx) ([]*outbox.OutboxEntry, error) {
		table := quoteIdentifierPath(repo.tableName)
		selectQuery := "SELECT " + outboxColumns + " FROM " + table +
			" WHERE state = $1 AND updated_at <= $2 ORDER BY updated_at ASC LIMIT $3 FOR UPDATE SKIP LOCKED"

		entries, err := queryOutboxEntries(
			ctx, tx, selectQuery,
			[]any{int(outbox.InProgress), processingBefore, limit},
			limit,
			"querying stuck in-progress entries",
		)
		if err != nil {
			return nil, err
		}

		if len(entries) == 0 {
			return entries, nil
		}

		ids := collectEventIDs(entries)
		now := time.Now().UTC()

		updateQuery := "UPDATE " + table +
			" SET state = $1, updated_at = $2 WHERE event_id = ANY($3::uuid[]) AND state = $4"

		result, execErr := tx.ExecContext(ctx, updateQuery,
			int(outbox.NotPublished), now, ids, int(outbox.InProgress))
		if execErr != nil {
			return nil, fmt.Errorf("resetting stuck entries: %w", execErr)
		}

		if err := ensureRowsAffectedExact(result, int64(len(ids))); err != nil {
			return nil, fmt.Errorf("resetting stuck entries: %w", err)
		}

		for _, entry := range entries {
			entry.State = outbox.NotPublished
			entry.UpdatedAt = now
		}

		return entries, nil
	})
	if err != nil {
		libOpentelemetry.HandleSpanError(span, "failed to reset stuck outbox entries", err)
		logSanitizedError(logger, ctx, "failed to reset stuck outbox entries", err)

		return nil, fmt.Errorf("resetting stuck entries: %w", err)
	}

	return result, nil
}

func collectEventIDs(entries []*outbox.OutboxEntry) []uuid.UUID {
	ids := make([]uuid.UUID, 0, len(entries))

	for _, entry := range entries {
		if entry == nil || entry.EventID == uuid.Nil {
			continue
		}

		ids = append(ids, entry.EventID)
	}

	return ids
}

func scanOutboxEntry(scanner interface{ Scan(dest ...any) error }) (*outbox.OutboxEntry, error) {
	var entry outbox.OutboxEntry

	var (
		state     int
		lastError sql.NullString
	)

	if err := scanner.Scan(
		&entry.EventID,
		&entry.EventTypeName,
		&state,
		&entry.TimesSent,
		&entry.CreationTime,
		&entry.Content,
		&entry.TransactionID,
		&lastError,
		&entry.UpdatedAt,
	); err != nil {
		return nil, fmt.Errorf("scanning outbox entry: %w", err)
	}

	parsedState, err := outbox.ParseOutboxEventState(state)
	if err != nil {
		return nil, fmt.Errorf("scanning outbox entry: %w", err)
	}

	entry.State = parsedState

	if lastError.Valid {
		entry.LastError = lastError.String
	}

	return &entry, nil
}

func queryOutboxEntries(
	ctx context.Context,
	tx *sql.Tx,
	query string,
	args []any,
	limit int,
	errorPrefix string,
) ([]*outbox.OutboxEntry, error) {
	rows, err := tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", errorPrefix, err)
	}

	defer rows.Close()

	capacity := limit
	if capacity <= 0 {
		capacity = 16
	}

	entries := make([]*outbox.OutboxEntry, 0, capacity)

	for rows.Next() {
		entry, scanErr := scanOutboxEntry(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("scanning outbox entry: %w", scanErr)
		}

		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}

	return entries, nil
}

func withTxOrExisting[T any](
	repo *Repository,
	ctx context.Context,
	tx *sql.Tx,
	fn func(*sql.Tx) (T, error),
) (T, error) {
	var zero T

	if ctx == nil {
		ctx = context.Background()
	}

	if tx != nil {
		return fn(tx)
	}

	primaryDB, err := repo.primaryDB(ctx)
	if err != nil {
		return zero, err
	}

	txCtx := ctx

	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc

		txCtx, cancel = context.WithTimeout(ctx, repo.transactionTimeout)
		defer cancel()
	}

	newTx, err := primaryDB.BeginTx(txCtx, nil)
	if err != nil {
		return zero, fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		_ = newTx.Rollback()
	}()

	result, err := fn(newTx)
	if err != nil {
		return zero, err
	}

	if err := newTx.Commit(); err != nil {
		return zero, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return result, nil
}

func (repo *Repository) initialized() bool {
	return repo != nil && repo.client != nil
}

func (repo *Repository) primaryDB(ctx context.Context) (*sql.DB, error) {
	if repo == nil {
		return nil, ErrConnectionRequired
	}

	return resolvePrimaryDB(ctx, repo.client)
}

func validateIdentifier(identifier string) error {
	if len(identifier) > maxSQLIdentifierLength {
		return ErrInvalidIdentifier
	}

	if !identifierPattern.MatchString(identifier) {
		return ErrInvalidIdentifier
	}

	return nil
}

func validateIdentifierPath(path string) error {
	parts := strings.Split(path, ".")
	if len(parts) == 0 {
		return ErrInvalidIdentifier
	}

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if err := validateIdentifier(trimmed); err != nil {
			return err
		}
	}

	return nil
}

func quoteIdentifierPath(path string) string {
	parts := strings.Split(path, ".")
	quoted := make([]string, 0, len(parts))

	for _, part := range parts {
		quoted = append(quoted, quoteIdentifier(strings.TrimSpace(part)))
	}

	return strings.Join(quoted, ".")
}

func quoteIdentifier(identifier string) string {
	identifier = strings.ReplaceAll(identifier, "\x00", "")

	return "\"" + strings.ReplaceAll(identifier, "\"", "\"\"") + "\""
}

func logSanitizedError(logger libLog.Logger, ctx context.Context, message string, err error) {
	if nilcheck.Interface(logger) || err == nil {
		return
	}

	logger.Log(ctx, libLog.LevelError, message, libLog.String("error", outbox.SanitizeErrorMessageForStorage(err.Error())))
}

func ensureRowsAffected(result sql.Result) error {
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrStateTransitionConflict
	}

	return nil
}

func ensureRowsAffectedExact(result sql.Result, expected int64) error {
	rows, err := rowsAffected(result)
	if err != nil {
		return err
	}

	if rows != expected {
		return ErrStateTransitionConflict
	}

	return nil
}

func rowsAffected(result sql.Result) (int64, error) {
	if result == nil {
		return 0, ErrStateTransitionConflict
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}

	return rows, nil
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

	// A nil TransactionID is the stored marker for entries saved outside a
	// caller transaction.

	if len(entry.Content) == 0 {
		return outbox.ErrOutboxEventPayloadRequired
	}

	if len(entry.Content) > outbox.DefaultMaxPayloadBytes {
		return outbox.ErrOutboxEventPayloadTooLarge
	}

	if !json.Valid(entry.Content) {
		return outbox.ErrOutboxEventPayloadNotJSON
	}

	return nil
}

var _ outbox.OutboxRepository = (*Repository)(nil)
