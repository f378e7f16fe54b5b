package productstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/macrolens/foodfacts/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS products (
    code TEXT PRIMARY KEY,
    data TEXT NOT NULL,
    first_seen TEXT NOT NULL,
    last_updated TEXT NOT NULL,
    update_count INTEGER NOT NULL DEFAULT 1
);

CREATE TABLE IF NOT EXISTS store_meta (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`

const (
	metaVersion     = "version"
	metaLastUpdated = "last_updated"
)

// SQLiteBackend stores one row per product and writes only changed records
type SQLiteBackend struct {
	db     *sql.DB
	logger zerolog.Logger
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// SQLite benefits from a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	return db, nil
}

// NewSQLiteBackend opens (or creates) the database at dbPath
func NewSQLiteBackend(dbPath string, logger zerolog.Logger) (*SQLiteBackend, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	return &SQLiteBackend{
		db:     db,
		logger: logger.With().Str("component", "sqlite_backend").Logger(),
	}, nil
}

// Load reads every product row. Rows that cannot be decoded are skipped.
func (b *SQLiteBackend) Load(ctx context.Context) (*Snapshot, error) {
	snap := NewSnapshot()

	version, err := b.getMeta(ctx, metaVersion)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if err := checkVersion(version); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}

	lastUpdated, err := b.getMeta(ctx, metaLastUpdated)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrPersistenceFailure, err)
	}
	if lastUpdated != "" {
		if t, err := time.Parse(time.RFC3339Nano, lastUpdated); err == nil {
			snap.LastUpdated = t
		}
	}

	rows, err := b.db.QueryContext(ctx, `SELECT code, data FROM products`)
	if err != nil {
		return nil, fmt.Errorf("%w: query products: %v", domain.ErrPersistenceFailure, err)
	}
	defer rows.Close()

	for rows.Next() {
		var code, data string
		if err := rows.Scan(&code, &data); err != nil {
			return nil, fmt.Errorf("%w: scan product: %v", domain.ErrPersistenceFailure, err)
		}

		var stored domain.StoredProduct
		if err := json.Unmarshal([]byte(data), &stored); err != nil {
			b.logger.Warn().Err(err).Str("code", code).Msg("skipping malformed product row")
			continue
		}
		stored.Code = code
		snap.Products[code] = stored
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate products: %v", domain.ErrPersistenceFailure, err)
	}

	return snap, nil
}

// Save upserts the changed records in one transaction
func (b *SQLiteBackend) Save(ctx context.Context, changed []domain.StoredProduct, _ func() *Snapshot) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrPersistenceFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO products (code, data, first_seen, last_updated, update_count)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(code) DO UPDATE SET
			data = excluded.data,
			last_updated = excluded.last_updated,
			update_count = excluded.update_count
	`)
	if err != nil {
		return fmt.Errorf("%w: prepare upsert: %v", domain.ErrPersistenceFailure, err)
	}
	defer stmt.Close()

	var latest time.Time
	for _, stored := range changed {
		data, err := json.Marshal(stored)
		if err != nil {
			return fmt.Errorf("%w: encode %s: %v", domain.ErrPersistenceFailure, stored.Code, err)
		}

		_, err = stmt.ExecContext(ctx,
			stored.Code,
			string(data),
			stored.Meta.FirstSeen.UTC().Format(time.RFC3339Nano),
			stored.Meta.LastUpdated.UTC().Format(time.RFC3339Nano),
			stored.Meta.UpdateCount,
		)
		if err != nil {
			return fmt.Errorf("%w: upsert %s: %v", domain.ErrPersistenceFailure, stored.Code, err)
		}

		if stored.Meta.LastUpdated.After(latest) {
			latest = stored.Meta.LastUpdated
		}
	}

	if err := setMeta(ctx, tx, metaVersion, SnapshotVersion); err != nil {
		return err
	}
	if !latest.IsZero() {
		if err := setMeta(ctx, tx, metaLastUpdated, latest.UTC().Format(time.RFC3339Nano)); err != nil {
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrPersistenceFailure, err)
	}
	return nil
}

// Clear deletes every product row
func (b *SQLiteBackend) Clear(ctx context.Context) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: begin: %v", domain.ErrPersistenceFailure, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM products`); err != nil {
		return fmt.Errorf("%w: delete products: %v", domain.ErrPersistenceFailure, err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM store_meta WHERE key = ?`, metaLastUpdated); err != nil {
		return fmt.Errorf("%w: reset meta: %v", domain.ErrPersistenceFailure, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: commit: %v", domain.ErrPersistenceFailure, err)
	}
	return nil
}

// Size returns the total size of the stored product documents
func (b *SQLiteBackend) Size(ctx context.Context) (int64, error) {
	var size int64
	err := b.db.QueryRowContext(ctx, `SELECT COALESCE(SUM(LENGTH(data)), 0) FROM products`).Scan(&size)
	if err != nil {
		return 0, fmt.Errorf("%w: size: %v", domain.ErrPersistenceFailure, err)
	}
	return size, nil
}

// Close closes the database connection
func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}

func (b *SQLiteBackend) getMeta(ctx context.Context, key string) (string, error) {
	var value string
	err := b.db.QueryRowContext(ctx, `SELECT value FROM store_meta WHERE key = ?`, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read meta %s: %w", key, err)
	}
	return value, nil
}

func setMeta(ctx context.Context, tx *sql.Tx, key, value string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO store_meta (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	if err != nil {
		return fmt.Errorf("%w: write meta %s: %v", domain.ErrPersistenceFailure, key, err)
	}
	return nil
}
