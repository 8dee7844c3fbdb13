package store

import (
	"context"
	"database/sql"
)

// Driver is an interface for store driver.
// It contains all methods that store database driver should implement.
type Driver interface {
	GetDB() *sql.DB
	Close() error

	Migrate(ctx context.Context) error

	// Thread model related methods.
	CreateThread(ctx context.Context, create *Thread) (*Thread, error)
	ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error)
	UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error)
	DeleteThread(ctx context.Context, id string) error

	// Chat model related methods.
	// CreateChats inserts all chats in one transaction and reports a
	// (thread_id, chat_order) collision as ErrChainConflict.
	CreateChats(ctx context.Context, creates []*Chat) error
	ListChats(ctx context.Context, find *FindChat) ([]*Chat, error)
	GetLastChat(ctx context.Context, threadID string) (*Chat, error)
	// SettleChats updates pending chats in one transaction and fails with
	// ErrChatSettled if any of them is no longer pending.
	SettleChats(ctx context.Context, settles []*SettleChat) error
	DeleteChats(ctx context.Context, delete *DeleteChat) error
}
