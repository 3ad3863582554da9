// Package postgres provides the PostgreSQL-backed outbox.OutboxRepository
// implementation: a single table holding outbox entries, written and
// claimed with FOR UPDATE SKIP LOCKED so multiple dispatcher instances can
// share the table without double-publishing.
package postgres
