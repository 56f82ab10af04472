package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/lib/pq"
)

type PostgresStore struct {
	DB *sql.DB
}

func NewPostgresStore(databaseURL string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := &PostgresStore{DB: db}
	if err := store.createTables(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (p *PostgresStore) createTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS downloaded_files (
			collection_id TEXT NOT NULL,
			url TEXT NOT NULL,
			recorded_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection_id, url)
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_downloaded_files_collection ON downloaded_files(collection_id)`,
	}

	for _, query := range queries {
		if _, err := p.DB.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %s: %w", query, err)
		}
	}

	return nil
}

func (p *PostgresStore) LoadHistory(ctx context.Context) (map[string][]string, error) {
	rows, err := p.DB.QueryContext(ctx, `
		SELECT collection_id, url
		FROM downloaded_files
		ORDER BY collection_id, recorded_at, url
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query history: %w", err)
	}
	defer rows.Close()

	history := make(map[string][]string)
	for rows.Next() {
		var collectionID, url string
		if err := rows.Scan(&collectionID, &url); err != nil {
			return nil, err
		}
		history[collectionID] = append(history[collectionID], url)
	}

	return history, rows.Err()
}

// SaveHistory inserts every URL not yet stored. Rows are never deleted, so
// a stale in-memory snapshot cannot drop entries written by someone else.
func (p *PostgresStore) SaveHistory(ctx context.Context, history map[string][]string) error {
	tx, err := p.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO downloaded_files (collection_id, url)
		VALUES ($1, $2)
		ON CONFLICT (collection_id, url) DO NOTHING
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for collectionID, urls := range history {
		for _, url := range urls {
			if _, err := stmt.ExecContext(ctx, collectionID, url); err != nil {
				return fmt.Errorf("failed to record %s for %s: %w", url, collectionID, err)
			}
		}
	}

	return tx.Commit()
}

func (p *PostgresStore) LoadPanelEnabled(ctx context.Context) (bool, error) {
	var value string
	err := p.DB.QueryRowContext(ctx, "SELECT value FROM settings WHERE key = $1", KeyPanelEnabled).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	enabled, err := strconv.ParseBool(value)
	if err != nil {
		return false, fmt.Errorf("invalid %s setting %q: %w", KeyPanelEnabled, value, err)
	}
	return enabled, nil
}

func (p *PostgresStore) SavePanelEnabled(ctx context.Context, enabled bool) error {
	_, err := p.DB.ExecContext(ctx, `
		INSERT INTO settings (key, value)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value
	`, KeyPanelEnabled, strconv.FormatBool(enabled))
	return err
}

func (p *PostgresStore) Close() error {
	return p.DB.Close()
}
