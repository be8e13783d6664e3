package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/identicore/identicore/pkg/cache/storage/migrations"
)

// SQLiteStorage persists blobs in a single-table sqlite database. It is
// the durable backend for hosts that share one cache file across many
// client instances; ReadModifyWrite runs under BEGIN IMMEDIATE on a
// dedicated connection, so the write lock is held from the read onward
// and the contract holds even across processes.
type SQLiteStorage struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dsn and applies any
// pending schema migrations.
func NewSQLite(dsn string) (*SQLiteStorage, error) {
	db, err := sql.Open("sqlite", withBusyTimeout(dsn))
	if err != nil {
		return nil, err
	}

	s := &SQLiteStorage{db: db}
	if err := s.applyMigrations(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// withBusyTimeout puts busy_timeout in the DSN so every pooled connection
// gets it; a PRAGMA executed through the pool only reaches one connection.
// Contending writers then wait for the lock instead of failing with
// SQLITE_BUSY.
func withBusyTimeout(dsn string) string {
	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + "_pragma=busy_timeout(5000)"
}

func (s *SQLiteStorage) applyMigrations() error {
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(migrations.Migrations, ".")
	if err != nil {
		return err
	}
	instance, err := migrate.NewWithInstance("iofs", src, "", driver)
	if err != nil {
		return err
	}
	if err := instance.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLiteStorage) Close() error { return s.db.Close() }

func (s *SQLiteStorage) Read(ctx context.Context, path string) ([]byte, error) {
	var content []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT content FROM blobs WHERE path = ?`, path,
	).Scan(&content)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return content, nil
}

func (s *SQLiteStorage) Write(ctx context.Context, path string, content []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO blobs (path, content, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP
	`, path, content)
	return err
}

// ReadModifyWrite runs read, modify, and write inside one BEGIN IMMEDIATE
// transaction. IMMEDIATE takes the database write lock before the read,
// so the modify function always sees the latest committed content and no
// concurrent writer's update is lost; contenders queue on busy_timeout.
// database/sql's BeginTx cannot issue BEGIN IMMEDIATE, so the transaction
// is driven by hand on a dedicated connection.
func (s *SQLiteStorage) ReadModifyWrite(ctx context.Context, path string, modify func([]byte) ([]byte, error)) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, `BEGIN IMMEDIATE`); err != nil {
		return err
	}
	committed := false
	defer func() {
		if !committed {
			// Rollback must run even when ctx is already cancelled.
			_, _ = conn.ExecContext(context.WithoutCancel(ctx), `ROLLBACK`)
		}
	}()

	var current []byte
	err = conn.QueryRowContext(ctx,
		`SELECT content FROM blobs WHERE path = ?`, path,
	).Scan(&current)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return err
	}

	updated, err := modify(current)
	if err != nil {
		return err
	}

	if _, err := conn.ExecContext(ctx, `
		INSERT INTO blobs (path, content, updated_at) VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(path) DO UPDATE SET content = excluded.content, updated_at = CURRENT_TIMESTAMP
	`, path, updated); err != nil {
		return err
	}
	if _, err := conn.ExecContext(ctx, `COMMIT`); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *SQLiteStorage) Delete(ctx context.Context, path string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM blobs WHERE path = ?`, path)
	return err
}

func (s *SQLiteStorage) List(ctx context.Context, prefix string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT path FROM blobs ORDER BY path`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var key string
		if err := rows.Scan(&key); err != nil {
			return nil, err
		}
		if hasPathPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, rows.Err()
}

func (s *SQLiteStorage) DeleteContent(ctx context.Context, prefix string) error {
	keys, err := s.List(ctx, prefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := s.Delete(ctx, k); err != nil {
			return err
		}
	}
	return nil
}
