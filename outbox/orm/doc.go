// Package orm is the managed, ORM-style backing for the outbox contract,
// built on GORM. It satisfies the same repository interface as the direct
// SQL backing in outbox/postgres, trading hand-written queries for GORM's
// statement builder and its built-in transaction handling.
package orm
