// Package sqlite implements store.Store on database/sql with the
// mattn/go-sqlite3 driver. Suitable for embedded/edge deployments, CLI
// tools, and standalone applications.
//
// Claims use an immediate transaction in place of Postgres' SKIP LOCKED:
// SQLite serializes writers, so a SELECT-then-UPDATE inside one write
// transaction is already exclusive.
//
//	store, _ := sqlite.Open("taskbus.db")
//	defer store.Close()
//	store.Migrate(ctx)
package sqlite
