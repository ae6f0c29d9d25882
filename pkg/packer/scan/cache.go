package scan

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // Pure Go SQLite driver.
)

const schema = `
CREATE TABLE IF NOT EXISTS imports (
	hash       TEXT PRIMARY KEY,
	specifiers TEXT NOT NULL
);
CREATE TABLE IF NOT EXISTS resolutions (
	url  TEXT PRIMARY KEY,
	hash TEXT NOT NULL,
	deps TEXT NOT NULL
);
`

// resolution is the resolved import list of one module at one content hash
type resolution struct {
	Hash string
	Deps []string
}

// Cache persists extracted imports and resolved dependencies across runs
type Cache struct {
	db *sql.DB
}

// OpenCache opens (or creates) the cache database at path with WAL mode
// and a 5-second busy timeout.
func OpenCache(path string) (*Cache, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create cache directory: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open cache: %w", err)
	}

	var journalMode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&journalMode); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("check journal mode: %w", err)
	}
	if journalMode != "wal" {
		_ = db.Close()
		return nil, fmt.Errorf("expected WAL journal mode, got %q", journalMode)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate cache: %w", err)
	}
	return &Cache{db: db}, nil
}

// Close closes the underlying database connection.
func (c *Cache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

// Imports returns the specifiers recorded for a content hash
func (c *Cache) Imports(ctx context.Context, hash string) ([]string, bool, error) {
	var raw string
	err := c.db.QueryRowContext(ctx, "SELECT specifiers FROM imports WHERE hash = ?", hash).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("query imports: %w", err)
	}
	var specifiers []string
	if err := json.Unmarshal([]byte(raw), &specifiers); err != nil {
		return nil, false, fmt.Errorf("decode imports: %w", err)
	}
	return specifiers, true, nil
}

// PutImports records the specifiers of a content hash
func (c *Cache) PutImports(ctx context.Context, hash string, specifiers []string) error {
	raw, err := json.Marshal(specifiers)
	if err != nil {
		return err
	}
	_, err = c.db.ExecContext(ctx,
		"INSERT INTO imports (hash, specifiers) VALUES (?, ?) ON CONFLICT(hash) DO UPDATE SET specifiers = excluded.specifiers",
		hash, string(raw))
	if err != nil {
		return fmt.Errorf("store imports: %w", err)
	}
	return nil
}

// Resolutions loads every recorded module resolution
func (c *Cache) Resolutions(ctx context.Context) (map[string]resolution, error) {
	rows, err := c.db.QueryContext(ctx, "SELECT url, hash, deps FROM resolutions")
	if err != nil {
		return nil, fmt.Errorf("query resolutions: %w", err)
	}
	defer rows.Close()

	result := make(map[string]resolution)
	for rows.Next() {
		var url, hash, raw string
		if err := rows.Scan(&url, &hash, &raw); err != nil {
			return nil, fmt.Errorf("scan resolution: %w", err)
		}
		var deps []string
		if err := json.Unmarshal([]byte(raw), &deps); err != nil {
			// A corrupt row only costs a re-resolution.
			continue
		}
		result[url] = resolution{Hash: hash, Deps: deps}
	}
	return result, rows.Err()
}

// ReplaceResolutions swaps the recorded resolutions for records in one transaction
func (c *Cache) ReplaceResolutions(ctx context.Context, records map[string]resolution) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, "DELETE FROM resolutions"); err != nil {
		return fmt.Errorf("clear resolutions: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, "INSERT INTO resolutions (url, hash, deps) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	for url, record := range records {
		raw, err := json.Marshal(record.Deps)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, url, record.Hash, string(raw)); err != nil {
			return fmt.Errorf("store resolution %s: %w", url, err)
		}
	}
	return tx.Commit()
}

// Clear removes every cached entry
func (c *Cache) Clear(ctx context.Context) error {
	if _, err := c.db.ExecContext(ctx, "DELETE FROM imports; DELETE FROM resolutions;"); err != nil {
		return fmt.Errorf("clear cache: %w", err)
	}
	return nil
}
