// Package database provides SQLite connectivity for the smart-bulb core.
//
// This package manages:
//   - The database connection with WAL mode for concurrent access
//   - Versioned schema migrations read from any fs.FS
//   - Transaction helpers and health checks
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The database file is restricted to 0600
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx, migrations.Source()); err != nil {
//	    return err
//	}
//
// Migrations are additive: new columns are nullable or carry a default,
// and every .up.sql has a matching .down.sql.
package database
