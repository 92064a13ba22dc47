package database

import (
	"context"
	"database/sql"

	_ "modernc.org/sqlite"
)

// OpenSQLite opens an on-disk SQLite file. With readOnly set the connection
// refuses writes (PRAGMA query_only) so a pre-built file is never modified.
func OpenSQLite(ctx context.Context, path string, readOnly bool) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// one connection keeps the per-connection pragmas in force
	db.SetMaxOpenConns(1)

	pragmas := []string{"PRAGMA busy_timeout=5000"}
	if readOnly {
		pragmas = append(pragmas, "PRAGMA query_only=ON")
	} else {
		pragmas = append(pragmas, "PRAGMA journal_mode=WAL", "PRAGMA synchronous=NORMAL")
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			db.Close()
			return nil, err
		}
	}
	return db, nil
}
