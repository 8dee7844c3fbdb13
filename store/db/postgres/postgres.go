package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/store"
)

type DB struct {
	db      *sql.DB
	profile *profile.Profile
}

func NewDB(profile *profile.Profile) (store.Driver, error) {
	if profile == nil {
		return nil, errors.New("profile is nil")
	}

	// Open the PostgreSQL connection
	db, err := sql.Open("postgres", profile.DSN)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open postgres connection")
	}

	return &DB{
		db:      db,
		profile: profile,
	}, nil
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
			closed     BOOLEAN NOT NULL DEFAULT FALSE,
			is_default BOOLEAN NOT NULL DEFAULT FALSE,
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
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

func placeholder(n int) string {
	return "$" + fmt.Sprint(n)
}

func placeholders(n int) string {
	list := []string{}
	for i := 0; i < n; i++ {
		list = append(list, placeholder(i+1))
	}
	return strings.Join(list, ", ")
}
