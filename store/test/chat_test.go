package test

import (
	"context"
	"math/rand"
	"sync"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cookgpt/cookgpt/store"
)

func createTestingThread(ctx context.Context, t *testing.T, ts *store.Store) *store.Thread {
	t.Helper()
	thread, err := ts.CreateThread(ctx, &store.Thread{OwnerID: "owner-1", Title: "New Thread"})
	require.NoError(t, err)
	return thread
}

func TestChatStoreAppendScenario(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	query, err := ts.AppendChat(ctx, &store.AppendChat{
		ThreadID: thread.ID,
		Content:  "Hi",
		Kind:     store.ChatQuery,
		State:    store.ChatReady,
	})
	require.NoError(t, err)
	require.Equal(t, 0, query.Order)
	require.Empty(t, query.PreviousID)

	response, err := ts.AppendChat(ctx, &store.AppendChat{
		ThreadID:   thread.ID,
		Kind:       store.ChatResponse,
		PreviousID: &query.ID,
	})
	require.NoError(t, err)
	require.Equal(t, 1, response.Order)
	require.Equal(t, query.ID, response.PreviousID)
	require.Equal(t, store.ChatPending, response.State)

	last, err := ts.LastChat(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, response.ID, last.ID)

	thread, err = ts.GetThread(ctx, &store.FindThread{ID: &thread.ID})
	require.NoError(t, err)
	require.Equal(t, 2, thread.ChatCount)
	require.Equal(t, 0, thread.Cost)
}

func TestChatStoreLastChatEmptyThread(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	last, err := ts.LastChat(ctx, thread.ID)
	require.NoError(t, err)
	require.Nil(t, last)
}

func TestChatStoreRandomAppends(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)
	rng := rand.New(rand.NewSource(7))

	n := 0
	for i := 0; i < 20; i++ {
		if rng.Intn(2) == 0 {
			_, err := ts.AppendChat(ctx, &store.AppendChat{ThreadID: thread.ID, Content: "q", Kind: store.ChatQuery, State: store.ChatReady})
			require.NoError(t, err)
			n++
		} else {
			_, _, err := ts.AppendTurn(ctx, thread.ID)
			require.NoError(t, err)
			n += 2
		}
	}

	chats, err := ts.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID})
	require.NoError(t, err)
	require.Len(t, chats, n)

	byID := map[string]*store.Chat{}
	successors := map[string]int{}
	for i, c := range chats {
		require.Equal(t, i, c.Order)
		byID[c.ID] = c
		if c.PreviousID != "" {
			successors[c.PreviousID]++
		}
	}

	heads := 0
	for _, c := range chats {
		require.LessOrEqual(t, successors[c.ID], 1)
		if successors[c.ID] == 0 {
			heads++
		}
	}
	require.Equal(t, 1, heads)

	// Walking back from every entry reaches the root without revisiting anything.
	for _, c := range chats {
		seen := map[string]bool{}
		for cur := c; cur != nil; cur = byID[cur.PreviousID] {
			require.False(t, seen[cur.ID], "cycle at %s", cur.ID)
			seen[cur.ID] = true
		}
	}

	last, err := ts.LastChat(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, chats[n-1].ID, last.ID)
}

func TestChatStoreConflict(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	root, err := ts.AppendChat(ctx, &store.AppendChat{ThreadID: thread.ID, Kind: store.ChatQuery})
	require.NoError(t, err)
	_, err = ts.AppendChat(ctx, &store.AppendChat{ThreadID: thread.ID, Kind: store.ChatResponse, PreviousID: &root.ID})
	require.NoError(t, err)

	_, err = ts.AppendChat(ctx, &store.AppendChat{ThreadID: thread.ID, Kind: store.ChatResponse, PreviousID: &root.ID})
	require.ErrorIs(t, err, store.ErrChainConflict)

	chats, err := ts.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID})
	require.NoError(t, err)
	require.Len(t, chats, 2)
}

func TestChatStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	const workers = 8
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				_, err := ts.AppendChat(ctx, &store.AppendChat{ThreadID: thread.ID, Kind: store.ChatQuery})
				if errors.Is(err, store.ErrChainConflict) {
					continue
				}
				assert.NoError(t, err)
				return
			}
		}()
	}
	wg.Wait()

	chats, err := ts.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID})
	require.NoError(t, err)
	require.Len(t, chats, workers)
	for i, c := range chats {
		require.Equal(t, i, c.Order)
	}
}

func TestChatStoreInvalidChain(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)
	other := createTestingThread(ctx, t, ts)

	foreign, err := ts.AppendChat(ctx, &store.AppendChat{ThreadID: other.ID, Kind: store.ChatQuery})
	require.NoError(t, err)

	_, err = ts.AppendChat(ctx, &store.AppendChat{ThreadID: thread.ID, Kind: store.ChatResponse, PreviousID: &foreign.ID})
	require.ErrorIs(t, err, store.ErrInvalidChain)

	missing := "missing"
	_, err = ts.AppendChat(ctx, &store.AppendChat{ThreadID: thread.ID, Kind: store.ChatResponse, PreviousID: &missing})
	require.ErrorIs(t, err, store.ErrInvalidChain)

	chats, err := ts.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID})
	require.NoError(t, err)
	require.Empty(t, chats)
}

func TestChatStoreAppendTurn(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	query, response, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, store.ChatQuery, query.Kind)
	require.Equal(t, store.ChatResponse, response.Kind)
	require.Equal(t, query.ID, response.PreviousID)
	require.Equal(t, 0, query.Order)
	require.Equal(t, 1, response.Order)
	require.False(t, response.Settled())

	query2, _, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, response.ID, query2.PreviousID)
	require.Equal(t, 2, query2.Order)
}

func TestChatStoreSettleOnce(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	query, response, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)

	err = ts.SettleChats(ctx,
		&store.SettleChat{ID: query.ID, Content: "How long do I boil an egg?", Cost: 15, State: store.ChatReady},
		&store.SettleChat{ID: response.ID, Content: "Try adding salt.", Cost: 12, State: store.ChatReady},
	)
	require.NoError(t, err)

	settled, err := ts.GetChat(ctx, response.ID)
	require.NoError(t, err)
	require.Equal(t, "Try adding salt.", settled.Content)
	require.Equal(t, 12, settled.Cost)
	require.True(t, settled.Settled())

	err = ts.SettleChats(ctx, &store.SettleChat{ID: response.ID, Content: "again", Cost: 99, State: store.ChatReady})
	require.ErrorIs(t, err, store.ErrChatSettled)

	thread, err = ts.GetThread(ctx, &store.FindThread{ID: &thread.ID})
	require.NoError(t, err)
	require.Equal(t, 27, thread.Cost)
}

func TestChatStoreSettleIsAtomic(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	query, response, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)
	require.NoError(t, ts.SettleChats(ctx, &store.SettleChat{ID: response.ID, State: store.ChatFailed}))

	err = ts.SettleChats(ctx,
		&store.SettleChat{ID: query.ID, Content: "Hi", Cost: 5, State: store.ChatReady},
		&store.SettleChat{ID: response.ID, Content: "Hello", Cost: 5, State: store.ChatReady},
	)
	require.ErrorIs(t, err, store.ErrChatSettled)

	unchanged, err := ts.GetChat(ctx, query.ID)
	require.NoError(t, err)
	require.Equal(t, store.ChatPending, unchanged.State)
	require.Empty(t, unchanged.Content)
}

func TestChatStoreClearThread(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	for i := 0; i < 2; i++ {
		_, _, err := ts.AppendTurn(ctx, thread.ID)
		require.NoError(t, err)
	}
	thread, err := ts.GetThread(ctx, &store.FindThread{ID: &thread.ID})
	require.NoError(t, err)
	require.Equal(t, 4, thread.ChatCount)

	require.NoError(t, ts.ClearThread(ctx, thread.ID))

	thread, err = ts.GetThread(ctx, &store.FindThread{ID: &thread.ID})
	require.NoError(t, err)
	require.NotNil(t, thread)
	require.Equal(t, 0, thread.ChatCount)
	last, err := ts.LastChat(ctx, thread.ID)
	require.NoError(t, err)
	require.Nil(t, last)
}

func TestChatStoreDeleteChatRemovesSuccessors(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	first, _, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)
	second, _, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)

	require.NoError(t, ts.DeleteChat(ctx, second))

	chats, err := ts.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID})
	require.NoError(t, err)
	require.Len(t, chats, 2)
	require.Equal(t, first.ID, chats[0].ID)

	_, response, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)
	require.Equal(t, 3, response.Order)
}

func TestChatStoreListChatsByState(t *testing.T) {
	ctx := context.Background()
	ts := NewTestingStore(ctx, t)
	thread := createTestingThread(ctx, t, ts)

	query, _, err := ts.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)
	require.NoError(t, ts.SettleChats(ctx, &store.SettleChat{ID: query.ID, Content: "Hi", Cost: 5, State: store.ChatReady}))

	ready := store.ChatReady
	chats, err := ts.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID, State: &ready})
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, query.ID, chats[0].ID)

	kind := store.ChatResponse
	chats, err = ts.ListChats(ctx, &store.FindChat{ThreadID: &thread.ID, Kind: &kind})
	require.NoError(t, err)
	require.Len(t, chats, 1)
	require.Equal(t, store.ChatPending, chats[0].State)
}
