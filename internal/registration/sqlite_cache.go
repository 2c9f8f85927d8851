package registration

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrations embed.FS

// SQLiteCache stores the device cache in a single-row SQLite table.
type SQLiteCache struct {
	db *sql.DB
}

// OpenSQLiteCache opens the database at path and applies its migrations.
func OpenSQLiteCache(ctx context.Context, path string) (*SQLiteCache, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open cache db: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping cache db: %w", err)
	}

	fsys, err := fs.Sub(migrations, "migrations")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migrations: %w", err)
	}
	provider, err := goose.NewProvider(goose.DialectSQLite3, db, fsys)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("cache migrations: %w", err)
	}
	if _, err := provider.Up(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("goose up: %w", err)
	}

	return &SQLiteCache{db: db}, nil
}

// Close closes the database.
func (c *SQLiteCache) Close() error {
	return c.db.Close()
}

func (c *SQLiteCache) Load(ctx context.Context) (Cached, error) {
	var (
		out       Cached
		updatedAt string
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT user_id, token, logged_in, updated_at FROM device_cache WHERE id = 1`,
	).Scan(&out.UserID, &out.Token, &out.LoggedIn, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Cached{}, nil
	}
	if err != nil {
		return Cached{}, fmt.Errorf("load device cache: %w", err)
	}

	out.UpdatedAt, err = time.Parse(time.RFC3339Nano, updatedAt)
	if err != nil {
		return Cached{}, fmt.Errorf("load device cache: bad updated_at %q: %w", updatedAt, err)
	}
	return out, nil
}

func (c *SQLiteCache) Save(ctx context.Context, v Cached) error {
	if v.UpdatedAt.IsZero() {
		v.UpdatedAt = time.Now()
	}

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO device_cache (id, user_id, token, logged_in, updated_at)
		VALUES (1, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			user_id = excluded.user_id,
			token = excluded.token,
			logged_in = excluded.logged_in,
			updated_at = excluded.updated_at
	`, v.UserID, v.Token, v.LoggedIn, v.UpdatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return fmt.Errorf("save device cache: %w", err)
	}
	return nil
}
