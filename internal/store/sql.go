package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// SQLStore keeps every collection in its own table. sqlite3 is the default for
// a single device; postgres serves shared deployments.
type SQLStore struct {
	db *sqlx.DB
}

// ConnectSQL opens the database and runs migrations.
func ConnectSQL(ctx context.Context, driver, dsn string) (*SQLStore, error) {
	if driver == "sqlite3" {
		dsn = sqliteDSN(dsn)
	}
	db, err := sqlx.ConnectContext(ctx, driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", driver, err)
	}
	if driver == "sqlite3" {
		// One writer avoids SQLITE_BUSY under concurrent fire-and-forget writes.
		db.SetMaxOpenConns(1)
	}

	if err := runMigrations(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &SQLStore{db: db}, nil
}

func sqliteDSN(dsn string) string {
	if dsn == "" {
		dsn = "chat-sync.db"
	}
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_busy_timeout=5000&_journal_mode=WAL"
}

func runMigrations(ctx context.Context, db *sqlx.DB) error {
	blob, serial := "BLOB", "INTEGER PRIMARY KEY AUTOINCREMENT"
	if db.DriverName() == "postgres" {
		blob, serial = "BYTEA", "BIGSERIAL PRIMARY KEY"
	}

	var migrations []string
	for _, c := range Collections {
		migrations = append(migrations, fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
            key TEXT PRIMARY KEY,
            value %s NOT NULL,
            updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`, c, blob))
	}
	migrations = append(migrations,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS outbox (
            id %s,
            chat_id TEXT NOT NULL,
            payload %s NOT NULL,
            created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
        );`, serial, blob),
		`CREATE INDEX IF NOT EXISTS idx_outbox_chat ON outbox(chat_id, id);`,
	)

	for _, m := range migrations {
		if _, err := db.ExecContext(ctx, m); err != nil {
			return err
		}
	}
	zap.S().With("method", "runMigrations").Debugw("store migrations applied", "driver", db.DriverName())
	return nil
}

// Get returns the value stored under key.
func (s *SQLStore) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	if err := checkCollection(c); err != nil {
		return nil, err
	}
	var value []byte
	query := s.db.Rebind(fmt.Sprintf(`SELECT value FROM %s WHERE key = ?`, c))
	err := s.db.GetContext(ctx, &value, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return value, err
}

// Put stores value under key, replacing any previous value.
func (s *SQLStore) Put(ctx context.Context, c Collection, key string, value []byte) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	query := s.db.Rebind(fmt.Sprintf(`INSERT INTO %s (key, value, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
        ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`, c))
	_, err := s.db.ExecContext(ctx, query, key, value)
	return err
}

// Delete removes key. Deleting a missing key is not an error.
func (s *SQLStore) Delete(ctx context.Context, c Collection, key string) error {
	if err := checkCollection(c); err != nil {
		return err
	}
	_, err := s.db.ExecContext(ctx, s.db.Rebind(fmt.Sprintf(`DELETE FROM %s WHERE key = ?`, c)), key)
	return err
}

// AppendOutbox inserts an outbox row.
func (s *SQLStore) AppendOutbox(ctx context.Context, chatID string, payload []byte) (int64, error) {
	var id int64
	err := s.db.QueryRowxContext(ctx, s.db.Rebind(`INSERT INTO outbox (chat_id, payload) VALUES (?, ?) RETURNING id`), chatID, payload).
		Scan(&id)
	return id, err
}

// ListOutbox returns the rows of one chat ordered by id.
func (s *SQLStore) ListOutbox(ctx context.Context, chatID string) ([]OutboxRow, error) {
	var rows []OutboxRow
	err := s.db.SelectContext(ctx, &rows, s.db.Rebind(`SELECT id, chat_id, payload FROM outbox WHERE chat_id = ? ORDER BY id ASC`), chatID)
	return rows, err
}

// DeleteOutbox removes one row.
func (s *SQLStore) DeleteOutbox(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM outbox WHERE id = ?`), id)
	return err
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}
