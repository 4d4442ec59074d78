// Package database provides SQLite connectivity for the lanwake controller.
//
// The controller keeps two small namespaces in SQLite: operator settings
// and the device registry. This package owns the connection (WAL mode,
// busy timeout, single writer) and the embedded schema migrations; the
// kvstore package layers namespaced key/value access on top.
//
// Usage:
//
//	db, err := database.Open(ctx, cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with an
// optional matching .down.sql. Each migration is applied in its own
// transaction and recorded in schema_migrations.
package database
