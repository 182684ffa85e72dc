// Package postgres implements the store using pgx/v5 with raw SQL.
// Features: SKIP LOCKED single-job claim, embedded SQL migrations, and
// VACUUM-based compaction.
package postgres
