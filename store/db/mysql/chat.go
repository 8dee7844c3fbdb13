package mysql

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/store"
)

const threadColumns = "t.`id`, t.`owner_id`, t.`title`, t.`closed`, t.`is_default`, t.`created_ts`, t.`updated_ts`," +
	" (SELECT COUNT(*) FROM `chat` c WHERE c.`thread_id` = t.`id`)," +
	" (SELECT COALESCE(SUM(c.`cost`), 0) FROM `chat` c WHERE c.`thread_id` = t.`id`)"

const chatColumns = "`id`, `thread_id`, COALESCE(`previous_id`, ''), `kind`, `state`, `content`, `cost`, `chat_order`, `sent_ts`"

func (d *DB) CreateThread(ctx context.Context, create *store.Thread) (*store.Thread, error) {
	stmt := "INSERT INTO `thread` (`id`, `owner_id`, `title`, `closed`, `is_default`, `created_ts`, `updated_ts`) VALUES (?, ?, ?, ?, ?, ?, ?)"
	if _, err := d.db.ExecContext(ctx, stmt,
		create.ID, create.OwnerID, create.Title, create.Closed, create.IsDefault, create.CreatedTs, create.UpdatedTs,
	); err != nil {
		return nil, err
	}
	return create, nil
}

func (d *DB) ListThreads(ctx context.Context, find *store.FindThread) ([]*store.Thread, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "t.`id` = ?"), append(args, *v)
	}
	if v := find.OwnerID; v != nil {
		where, args = append(where, "t.`owner_id` = ?"), append(args, *v)
	}
	if v := find.Closed; v != nil {
		where, args = append(where, "t.`closed` = ?"), append(args, *v)
	}
	if v := find.IsDefault; v != nil {
		where, args = append(where, "t.`is_default` = ?"), append(args, *v)
	}
	query := fmt.Sprintf(
		"SELECT %s FROM `thread` t WHERE %s ORDER BY t.`updated_ts` DESC, t.`created_ts` DESC, t.`id` ASC",
		threadColumns, strings.Join(where, " AND "),
	)
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Thread
	for rows.Next() {
		t := &store.Thread{}
		if err := rows.Scan(&t.ID, &t.OwnerID, &t.Title, &t.Closed, &t.IsDefault, &t.CreatedTs, &t.UpdatedTs, &t.ChatCount, &t.Cost); err != nil {
			return nil, err
		}
		list = append(list, t)
	}
	return list, rows.Err()
}

func (d *DB) UpdateThread(ctx context.Context, update *store.UpdateThread) (*store.Thread, error) {
	set, args := []string{"`updated_ts` = ?"}, []any{time.Now().Unix()}
	if v := update.Title; v != nil {
		set, args = append(set, "`title` = ?"), append(args, *v)
	}
	if v := update.Closed; v != nil {
		set, args = append(set, "`closed` = ?"), append(args, *v)
	}
	args = append(args, update.ID)
	stmt := fmt.Sprintf("UPDATE `thread` SET %s WHERE `id` = ?", strings.Join(set, ", "))
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, err
	}
	list, err := d.ListThreads(ctx, &store.FindThread{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Errorf("thread %s not found", update.ID)
	}
	return list[0], nil
}

func (d *DB) DeleteThread(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	// InnoDB caps cascades at 15 levels; detach the chain before deleting it.
	if _, err := tx.ExecContext(ctx, "UPDATE `chat` SET `previous_id` = NULL WHERE `thread_id` = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM `chat` WHERE `thread_id` = ?", id); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM `thread` WHERE `id` = ?", id); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) CreateChats(ctx context.Context, creates []*store.Chat) error {
	if len(creates) == 0 {
		return nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := "INSERT INTO `chat` (`id`, `thread_id`, `previous_id`, `kind`, `state`, `content`, `cost`, `chat_order`, `sent_ts`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)"
	for _, c := range creates {
		if _, err := tx.ExecContext(ctx, stmt,
			c.ID, c.ThreadID, nullable(c.PreviousID), string(c.Kind), string(c.State), c.Content, c.Cost, c.Order, c.SentTs,
		); err != nil {
			if isUniqueViolation(err) {
				return errors.Wrapf(store.ErrChainConflict, "thread %s order %d", c.ThreadID, c.Order)
			}
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, "UPDATE `thread` SET `updated_ts` = ? WHERE `id` = ?", time.Now().Unix(), creates[0].ThreadID); err != nil {
		return err
	}
	return tx.Commit()
}

func (d *DB) ListChats(ctx context.Context, find *store.FindChat) ([]*store.Chat, error) {
	where, args := []string{"1 = 1"}, []any{}
	if v := find.ID; v != nil {
		where, args = append(where, "`id` = ?"), append(args, *v)
	}
	if v := find.ThreadID; v != nil {
		where, args = append(where, "`thread_id` = ?"), append(args, *v)
	}
	if v := find.Kind; v != nil {
		where, args = append(where, "`kind` = ?"), append(args, string(*v))
	}
	if v := find.State; v != nil {
		where, args = append(where, "`state` = ?"), append(args, string(*v))
	}
	query := fmt.Sprintf("SELECT %s FROM `chat` WHERE %s ORDER BY `thread_id`, `chat_order` ASC", chatColumns, strings.Join(where, " AND "))
	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var list []*store.Chat
	for rows.Next() {
		c, err := scanChat(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, c)
	}
	return list, rows.Err()
}

func (d *DB) GetLastChat(ctx context.Context, threadID string) (*store.Chat, error) {
	query := fmt.Sprintf("SELECT %s FROM `chat` c"+
		" WHERE c.`thread_id` = ? AND NOT EXISTS (SELECT 1 FROM `chat` n WHERE n.`previous_id` = c.`id`)"+
		" ORDER BY c.`chat_order` DESC LIMIT 1", chatColumns)
	c, err := scanChat(d.db.QueryRowContext(ctx, query, threadID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (d *DB) SettleChats(ctx context.Context, settles []*store.SettleChat) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt := "UPDATE `chat` SET `content` = ?, `cost` = ?, `state` = ?, `sent_ts` = ? WHERE `id` = ? AND `state` = ?"
	for _, s := range settles {
		result, err := tx.ExecContext(ctx, stmt, s.Content, s.Cost, string(s.State), s.SentTs, s.ID, string(store.ChatPending))
		if err != nil {
			return err
		}
		// MySQL reports matched rows only when they changed; the state
		// transition guarantees a change for every pending row.
		n, err := result.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return errors.Wrapf(store.ErrChatSettled, "chat %s", s.ID)
		}
	}
	return tx.Commit()
}

func (d *DB) DeleteChats(ctx context.Context, delete *store.DeleteChat) error {
	where, args := "`thread_id` = ?", []any{delete.ThreadID}
	if v := delete.FromOrder; v != nil {
		where, args = where+" AND `chat_order` >= ?", append(args, *v)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "UPDATE `chat` SET `previous_id` = NULL WHERE "+where, args...); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM `chat` WHERE "+where, args...); err != nil {
		return err
	}
	return tx.Commit()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanChat(row scanner) (*store.Chat, error) {
	c := &store.Chat{}
	if err := row.Scan(&c.ID, &c.ThreadID, &c.PreviousID, &c.Kind, &c.State, &c.Content, &c.Cost, &c.Order, &c.SentTs); err != nil {
		return nil, err
	}
	return c, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
