package lookup

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// SQLiteCache is the pre-built on-disk cache. Rows live in
// codes(cui, code, sab, desc).
type SQLiteCache struct {
	db       *sql.DB
	readOnly bool
}

func NewSQLiteCache(db *sql.DB, readOnly bool) *SQLiteCache {
	return &SQLiteCache{db: db, readOnly: readOnly}
}

func (c *SQLiteCache) EnsureSchema(ctx context.Context) error {
	if c.readOnly {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS codes (cui TEXT NOT NULL, code TEXT NOT NULL, sab TEXT NOT NULL, "desc" TEXT NOT NULL DEFAULT '')`,
		`CREATE INDEX IF NOT EXISTS idx_codes_cui ON codes(cui)`,
	}
	for _, stmt := range stmts {
		if _, err := c.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("sqlite schema: %w", err)
		}
	}
	return nil
}

func (c *SQLiteCache) Get(ctx context.Context, cui string) ([]models.CodeEntry, bool, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT sab, code, "desc" FROM codes WHERE cui = ? ORDER BY sab, code`, cui)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()

	var codes []models.CodeEntry
	for rows.Next() {
		var entry models.CodeEntry
		if err := rows.Scan(&entry.System, &entry.Code, &entry.Description); err != nil {
			return nil, false, err
		}
		codes = append(codes, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, false, err
	}
	return codes, len(codes) > 0, nil
}

// Set replaces every row for cui in one transaction.
func (c *SQLiteCache) Set(ctx context.Context, cui string, codes []models.CodeEntry) error {
	if c.readOnly {
		return ErrReadOnly
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM codes WHERE cui = ?`, cui); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO codes (cui, code, sab, "desc") VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, entry := range codes {
		if _, err := stmt.ExecContext(ctx, cui, entry.Code, entry.System, entry.Description); err != nil {
			return err
		}
	}
	return tx.Commit()
}
