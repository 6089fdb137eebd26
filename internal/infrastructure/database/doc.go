// Package database provides SQLite database connectivity for PlantNode.
//
// This package manages:
//   - Database connection with WAL mode
//   - Schema migrations embedded into the binary
//   - Connection lifecycle and health checks
//
// The database backs the crash-safe provisioning store
// (internal/configstore). WAL mode matters here: the device can lose power
// mid-write, and WAL guarantees the main database file stays consistent
// until a checkpoint completes.
//
// Security Considerations:
//   - All queries use parameterised statements
//   - Database file permissions are set to 0600 (owner read/write only)
//
// Usage:
//
//	db, err := database.Open(ctx, database.Config{Path: "./data/plantnode.db", WALMode: true})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    log.Fatal(err)
//	}
package database
