// Package database owns the SQLite connection for the Latchline
// system of record and the schema migrations that shape it.
//
// The access service's repositories (credentials, tokens, rate
// windows, events) all run on a single DB handle. The pool is pinned
// to one connection because SQLite has one writer anyway; WAL mode
// keeps reads flowing during writes and the busy timeout absorbs the
// brief handover between them.
//
// Opening and migrating:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migrations are .sql files embedded at build time, named
// YYYYMMDD_HHMMSS_description.up.sql with an optional .down.sql
// rollback partner. Migrate applies pending versions in order, one
// transaction each. Keep new schema additive: columns get defaults,
// nothing is dropped or renamed while older binaries may still open
// the file.
//
// The database file is chmod'd to 0600. Everything in it is sensitive:
// credential hashes, token rows (stored as issued, since deleting the
// row is how a token dies), and the audit trail.
package database
