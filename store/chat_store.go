package store

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const defaultThreadTitle = "Default Thread"

// CreateThread creates a new thread.
func (s *Store) CreateThread(ctx context.Context, create *Thread) (*Thread, error) {
	if create.ID == "" {
		create.ID = uuid.NewString()
	}
	now := time.Now().Unix()
	create.CreatedTs, create.UpdatedTs = now, now
	slog.Debug("creating thread", "thread", create.ID, "owner", create.OwnerID, "title", create.Title, "default", create.IsDefault)
	return s.driver.CreateThread(ctx, create)
}

// ListThreads lists threads matching the given filter.
func (s *Store) ListThreads(ctx context.Context, find *FindThread) ([]*Thread, error) {
	return s.driver.ListThreads(ctx, find)
}

// GetThread returns the first thread matching the given filter, or nil.
func (s *Store) GetThread(ctx context.Context, find *FindThread) (*Thread, error) {
	list, err := s.driver.ListThreads(ctx, find)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// GetDefaultThread returns the owner's open default thread, creating it on
// first access.
func (s *Store) GetDefaultThread(ctx context.Context, ownerID string) (*Thread, error) {
	isDefault, closed := true, false
	thread, err := s.GetThread(ctx, &FindThread{OwnerID: &ownerID, IsDefault: &isDefault, Closed: &closed})
	if err != nil {
		return nil, err
	}
	if thread != nil {
		return thread, nil
	}
	return s.CreateThread(ctx, &Thread{OwnerID: ownerID, Title: defaultThreadTitle, IsDefault: true})
}

// UpdateThread updates a thread's mutable fields.
func (s *Store) UpdateThread(ctx context.Context, update *UpdateThread) (*Thread, error) {
	return s.driver.UpdateThread(ctx, update)
}

// CloseThread marks a thread closed. A closed default thread is replaced by a
// fresh one on the next GetDefaultThread.
func (s *Store) CloseThread(ctx context.Context, id string) (*Thread, error) {
	closed := true
	slog.Debug("closing thread", "thread", id)
	return s.driver.UpdateThread(ctx, &UpdateThread{ID: id, Closed: &closed})
}

// DeleteThread deletes a thread and all its chats.
func (s *Store) DeleteThread(ctx context.Context, id string) error {
	return s.driver.DeleteThread(ctx, id)
}

// GetChat returns the chat with the given id, or nil.
func (s *Store) GetChat(ctx context.Context, id string) (*Chat, error) {
	list, err := s.driver.ListChats(ctx, &FindChat{ID: &id})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, nil
	}
	return list[0], nil
}

// ListChats returns chats matching the filter ordered by their position in the chain.
func (s *Store) ListChats(ctx context.Context, find *FindChat) ([]*Chat, error) {
	return s.driver.ListChats(ctx, find)
}

// LastChat returns the head of the thread's chain: the highest-order chat no
// other chat points back to. It is nil for an empty thread.
func (s *Store) LastChat(ctx context.Context, threadID string) (*Chat, error) {
	return s.driver.GetLastChat(ctx, threadID)
}

// AppendChat adds a chat to a thread's chain. See AppendChat for how the
// previous chat is chosen.
func (s *Store) AppendChat(ctx context.Context, create *AppendChat) (*Chat, error) {
	previous, err := s.resolvePrevious(ctx, create.ThreadID, create.PreviousID)
	if err != nil {
		return nil, err
	}
	state := create.State
	if state == "" {
		state = ChatPending
	}
	chat := newChat(create.ThreadID, create.Kind, previous)
	chat.State = state
	chat.Content = create.Content
	chat.Cost = create.Cost
	slog.Debug("adding chat", "kind", chat.Kind, "thread", chat.ThreadID, "order", chat.Order)
	if err := s.driver.CreateChats(ctx, []*Chat{chat}); err != nil {
		return nil, err
	}
	return chat, nil
}

// AppendTurn appends an empty pending query and its empty pending response,
// chained back to back after the current head, in one transaction.
func (s *Store) AppendTurn(ctx context.Context, threadID string) (*Chat, *Chat, error) {
	previous, err := s.driver.GetLastChat(ctx, threadID)
	if err != nil {
		return nil, nil, err
	}
	query := newChat(threadID, ChatQuery, previous)
	response := newChat(threadID, ChatResponse, query)
	slog.Debug("adding turn", "thread", threadID, "query", query.ID, "response", response.ID, "order", query.Order)
	if err := s.driver.CreateChats(ctx, []*Chat{query, response}); err != nil {
		return nil, nil, err
	}
	return query, response, nil
}

// SettleChats fills in pending chats exactly once.
func (s *Store) SettleChats(ctx context.Context, settles ...*SettleChat) error {
	now := time.Now().Unix()
	for _, settle := range settles {
		if settle.SentTs == 0 {
			settle.SentTs = now
		}
	}
	return s.driver.SettleChats(ctx, settles)
}

// DeleteChat deletes a chat together with every chat chained after it.
func (s *Store) DeleteChat(ctx context.Context, chat *Chat) error {
	order := chat.Order
	return s.driver.DeleteChats(ctx, &DeleteChat{ThreadID: chat.ThreadID, FromOrder: &order})
}

// ClearThread removes every chat of the thread but keeps the thread.
func (s *Store) ClearThread(ctx context.Context, threadID string) error {
	slog.Debug("clearing thread", "thread", threadID)
	return s.driver.DeleteChats(ctx, &DeleteChat{ThreadID: threadID})
}

func (s *Store) resolvePrevious(ctx context.Context, threadID string, previousID *string) (*Chat, error) {
	if previousID == nil {
		return s.driver.GetLastChat(ctx, threadID)
	}
	if *previousID == "" {
		return nil, nil
	}
	previous, err := s.GetChat(ctx, *previousID)
	if err != nil {
		return nil, err
	}
	if previous == nil || previous.ThreadID != threadID {
		return nil, errors.Wrapf(ErrInvalidChain, "previous chat %s", *previousID)
	}
	return previous, nil
}

func newChat(threadID string, kind ChatKind, previous *Chat) *Chat {
	chat := &Chat{
		ID:       uuid.NewString(),
		ThreadID: threadID,
		Kind:     kind,
		State:    ChatPending,
		SentTs:   time.Now().Unix(),
	}
	if previous != nil {
		chat.PreviousID = previous.ID
		chat.Order = previous.Order + 1
	}
	return chat
}
