// Package database provides SQLite connectivity for the KLW bridge.
//
// The bridge keeps one small database: the device records rebuilt from the
// bus, so a restart can announce every known device before the gateway has
// reported anything.
//
// This package manages:
//   - Opening the database with WAL mode and a busy timeout
//   - Schema migrations read from an fs.FS (normally the embedded
//     migrations package)
//   - Health checks for the bridge health report
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.FS); err != nil {
//	    return err
//	}
//
// Migration files are named YYYYMMDD_HHMMSS_description.up.sql with a
// matching .down.sql. Each migration runs in its own transaction.
package database
