package worker

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/cookgpt/cookgpt/internal/chat"
	"github.com/cookgpt/cookgpt/plugin/cache"
	"github.com/cookgpt/cookgpt/plugin/llm"
	"github.com/cookgpt/cookgpt/plugin/taskqueue"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/store"
	teststore "github.com/cookgpt/cookgpt/store/test"
)

type fieldsTokenizer struct{}

func (fieldsTokenizer) CountTokens(_, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

func TestRunnerCompletesQueuedTasks(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	st := teststore.NewTestingStore(ctx, t)
	tr := transport.NewRedis(client, time.Minute)
	w := chat.NewWorker(st, chat.NewLedger(cache.NewRedis(client), fieldsTokenizer{}), chat.NewAssembler(st),
		llm.NewFake("Simmer it low and slow."), tr, 5*time.Second)
	queue := taskqueue.NewRedis(client, time.Minute)

	thread, err := st.CreateThread(ctx, &store.Thread{OwnerID: "owner-1", Title: "New Thread"})
	require.NoError(t, err)
	query, response, err := st.AppendTurn(ctx, thread.ID)
	require.NoError(t, err)
	require.NoError(t, tr.SetStatus(ctx, response.ID, transport.StatusPending))

	payload, err := json.Marshal(&chat.CompletionTask{
		QueryID:    query.ID,
		ResponseID: response.ID,
		ThreadID:   thread.ID,
		Owner:      store.Owner{ID: "owner-1", DisplayName: "Ada", MaxChatCost: 2000},
		Input:      "How do I cook beans?",
		Model:      "gpt-3.5-turbo",
	})
	require.NoError(t, err)
	handle, err := queue.Submit(ctx, payload)
	require.NoError(t, err)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)
	go func() { done <- NewRunner(queue, w, 2).Run(runCtx) }()

	require.Eventually(t, func() bool {
		ready, err := queue.Ready(ctx, handle)
		return err == nil && ready
	}, 5*time.Second, 20*time.Millisecond)
	cancel()
	require.NoError(t, <-done)

	settled, err := st.GetChat(ctx, response.ID)
	require.NoError(t, err)
	require.Equal(t, store.ChatReady, settled.State)
	require.Equal(t, "Simmer it low and slow.", settled.Content)

	status, err := tr.GetStatus(ctx, response.ID)
	require.NoError(t, err)
	require.Equal(t, transport.StatusCompleted, status)

	tokens, err := tr.ReadSince(ctx, response.ID, 0)
	require.NoError(t, err)
	require.Equal(t, "Simmer it low and slow.", strings.Join(tokens, ""))
}
