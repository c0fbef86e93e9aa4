// Package database provides SQLite connectivity for the transfer daemon.
//
// The state database holds zone targets, cycle history and fault history.
// Schema changes ship as embedded YYYYMMDD_HHMMSS_name.{up,down}.sql files
// (see the migrations package) and are applied with Migrate at startup.
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: cfg.Database.Path, WALMode: true})
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source); err != nil {
//	    return err
//	}
package database
