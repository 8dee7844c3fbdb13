package sqlite

import (
	"context"
	"database/sql"
	"strings"

	"github.com/pkg/errors"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

// NewDB opens a database specified by its database driver name and a
// driver-specific data source name, usually consisting of at least a
// database name and connection information.
func NewDB(profile *profile.Profile) (store.Driver, error) {
	// Ensure a DSN is set before attempting to open the database.
	if profile.DSN == "" {
		return nil, errors.New("dsn required")
	}

	// Connect to the database with some sane settings:
	// - Foreign keys keep chats attached to live threads.
	// - Busy timeout lets concurrent appends wait instead of failing with SQLITE_BUSY.
	// - WAL allows readers (stream relays) while the worker writes.
	sqliteDB, err := sql.Open("sqlite", profile.DSN+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open db with dsn: %s", profile.DSN)
	}
	sqliteDB.SetMaxOpenConns(1)

	driver := DB{db: sqliteDB, profile: profile}
	return &driver, nil
}

func (d *DB) GetDB() *sql.DB {
	return d.db
}

func (d *DB) Close() error {
	return d.db.Close()
}

func (d *DB) Migrate(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS thread (
			id         TEXT    NOT NULL PRIMARY KEY,
			owner_id   TEXT    NOT NULL,
			title      TEXT    NOT NULL DEFAULT 'New Thread',
			closed     INTEGER NOT NULL DEFAULT 0,
			is_default INTEGER NOT NULL DEFAULT 0,
			created_ts BIGINT  NOT NULL,
			updated_ts BIGINT  NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_thread_owner ON thread(owner_id)`,
		`CREATE TABLE IF NOT EXISTS chat (
			id          TEXT    NOT NULL PRIMARY KEY,
			thread_id   TEXT    NOT NULL REFERENCES thread(id) ON DELETE CASCADE,
			previous_id TEXT    REFERENCES chat(id) ON DELETE CASCADE,
			kind        TEXT    NOT NULL,
			state       TEXT    NOT NULL DEFAULT 'pending',
			content     TEXT    NOT NULL DEFAULT '',
			cost        INTEGER NOT NULL DEFAULT 0,
			chat_order  INTEGER NOT NULL,
			sent_ts     BIGINT  NOT NULL,
			CONSTRAINT unique_order_per_thread UNIQUE (thread_id, chat_order)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_chat_previous ON chat(previous_id)`,
	}
	for _, s := range stmts {
		if _, err := d.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		code := sqliteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY ||
			(code&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(sqliteErr.Error(), "UNIQUE"))
	}
	return false
}
