// Package transaction bundles batches of database work into a single
// transaction wrapped by a retry execution strategy: the whole batch is
// re-run on transient database failures, so every action must be idempotent
// within the batch.
//
// Two variants cover the module's two storage backings: Resilient runs
// actions over database/sql, ResilientORM over a GORM handle using GORM's
// own transaction management.
package transaction
