package v1

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/require"

	"github.com/cookgpt/cookgpt/internal/chat"
	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/plugin/cache"
	"github.com/cookgpt/cookgpt/plugin/llm"
	"github.com/cookgpt/cookgpt/plugin/taskqueue"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/server/auth"
	"github.com/cookgpt/cookgpt/store"
	teststore "github.com/cookgpt/cookgpt/store/test"
)

const testReply = "Try adding salt."

type fieldsTokenizer struct{}

func (fieldsTokenizer) CountTokens(_, text string) (int, error) {
	return len(strings.Fields(text)), nil
}

type testingServer struct {
	e       *echo.Echo
	profile *profile.Profile
	store   *store.Store
}

func newTestingServer(ctx context.Context, t *testing.T) *testingServer {
	t.Helper()
	p := &profile.Profile{
		LLMModel:          "gpt-3.5-turbo",
		JWTSecret:         "test-secret",
		MaxChatCost:       2000,
		CompletionTimeout: 5 * time.Second,
		PollInterval:      10 * time.Millisecond,
		StreamTimeout:     2 * time.Second,
		JobRetention:      time.Minute,
	}
	st := teststore.NewTestingStore(ctx, t)
	tr := transport.NewMemory(p.JobRetention)
	ledger := chat.NewLedger(cache.NewMemory(), fieldsTokenizer{})
	worker := chat.NewWorker(st, ledger, chat.NewAssembler(st), llm.NewFake(testReply), tr, p.CompletionTimeout)
	queue := taskqueue.NewLocal(worker.Handle, 2, p.JobRetention)
	t.Cleanup(func() { _ = queue.Shutdown(context.Background()) })

	service := NewAPIV1Service(p, st,
		chat.NewDispatcher(st, tr, queue, worker, p),
		chat.NewRelay(st, tr, queue, p.PollInterval, p.StreamTimeout),
		tr,
	)
	e := echo.New()
	service.RegisterRoutes(e)
	return &testingServer{e: e, profile: p, store: st}
}

func (ts *testingServer) token(t *testing.T, owner *store.Owner) string {
	t.Helper()
	token, err := auth.GenerateAccessToken(owner, time.Now().Add(time.Hour), []byte(ts.profile.JWTSecret))
	require.NoError(t, err)
	return token
}

func (ts *testingServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	ts.e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestRequiresAuth(t *testing.T) {
	ts := newTestingServer(context.Background(), t)

	rec := ts.do(t, http.MethodGet, "/api/v1/threads", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/chat", "garbage", map[string]string{"query": "Hi"})
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestThreadRoutes(t *testing.T) {
	ts := newTestingServer(context.Background(), t)
	token := ts.token(t, &store.Owner{ID: "owner-1", DisplayName: "Ada"})

	rec := ts.do(t, http.MethodPost, "/api/v1/thread", token, map[string]string{"title": "Soups"})
	require.Equal(t, http.StatusCreated, rec.Code)
	created := decode[threadResponse](t, rec)
	require.Equal(t, "Soups", created.Title)
	require.False(t, created.IsDefault)

	rec = ts.do(t, http.MethodPatch, "/api/v1/thread/"+created.ID, token, map[string]string{"title": "Stews"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "Stews", decode[threadResponse](t, rec).Title)

	rec = ts.do(t, http.MethodGet, "/api/v1/thread/default", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	defaultThread := decode[threadResponse](t, rec)
	require.True(t, defaultThread.IsDefault)
	require.Equal(t, "Default Thread", defaultThread.Title)

	rec = ts.do(t, http.MethodGet, "/api/v1/threads", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[map[string][]threadResponse](t, rec)["threads"], 2)

	rec = ts.do(t, http.MethodPatch, "/api/v1/thread/"+created.ID, token, map[string]bool{"closed": true})
	require.Equal(t, http.StatusOK, rec.Code)
	require.True(t, decode[threadResponse](t, rec).Closed)
	rec = ts.do(t, http.MethodPatch, "/api/v1/thread/"+created.ID, token, map[string]bool{"closed": false})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	// Another owner cannot see the thread.
	stranger := ts.token(t, &store.Owner{ID: "owner-2"})
	rec = ts.do(t, http.MethodGet, "/api/v1/thread/"+created.ID, stranger, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/thread/"+created.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/thread/"+created.ID, token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/threads", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/threads", token, nil)
	require.Empty(t, decode[map[string][]threadResponse](t, rec)["threads"])
}

func TestPostChatSynchronous(t *testing.T) {
	ctx := context.Background()
	ts := newTestingServer(ctx, t)
	token := ts.token(t, &store.Owner{ID: "owner-1", DisplayName: "Ada"})

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "My soup is bland"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[postChatResponse](t, rec)
	require.False(t, resp.Streaming)
	require.Equal(t, testReply, resp.Chat.Content)
	require.Equal(t, "ready", resp.Chat.State)
	require.NotNil(t, resp.Query)
	require.Equal(t, "My soup is bland", resp.Query.Content)
	require.Equal(t, resp.Query.ID, resp.Chat.PreviousID)

	// A thread was created for the query.
	thread, err := ts.store.GetThread(ctx, &store.FindThread{ID: &resp.Chat.ThreadID})
	require.NoError(t, err)
	require.Equal(t, "New Thread", thread.Title)
	require.Equal(t, "owner-1", thread.OwnerID)

	rec = ts.do(t, http.MethodGet, "/api/v1/chats?thread_id="+thread.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chats := decode[map[string][]chatResponse](t, rec)["chats"]
	require.Len(t, chats, 2)
	require.Equal(t, "query", chats[0].Kind)
	require.Equal(t, "response", chats[1].Kind)

	rec = ts.do(t, http.MethodGet, "/api/v1/chat/"+resp.Chat.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, resp.Chat, decode[chatResponse](t, rec))

	// Settled chats replay through the stream endpoint.
	rec = ts.do(t, http.MethodGet, "/api/v1/chat/stream/"+resp.Chat.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, testReply, rec.Body.String())
}

func TestPostChatStreaming(t *testing.T) {
	ctx := context.Background()
	ts := newTestingServer(ctx, t)
	token := ts.token(t, &store.Owner{ID: "owner-1", DisplayName: "Ada"})

	rec := ts.do(t, http.MethodPost, "/api/v1/thread", token, nil)
	require.Equal(t, http.StatusCreated, rec.Code)
	thread := decode[threadResponse](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/v1/chat?stream=true", token, map[string]string{"query": "Pasta tips?", "thread_id": thread.ID})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[postChatResponse](t, rec)
	require.True(t, resp.Streaming)
	require.Equal(t, thread.ID, resp.Chat.ThreadID)

	rec = ts.do(t, http.MethodGet, "/api/v1/chat/stream/"+resp.Chat.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "text/plain; charset=utf-8", rec.Header().Get("Content-Type"))
	require.Equal(t, testReply, rec.Body.String())

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/v1/chat/"+resp.Chat.ID, token, nil)
		return rec.Code == http.StatusOK && decode[chatResponse](t, rec).State == "ready"
	}, time.Second, 10*time.Millisecond)
}

func TestPostChatBudgetDenied(t *testing.T) {
	ts := newTestingServer(context.Background(), t)
	token := ts.token(t, &store.Owner{ID: "owner-1", DisplayName: "Ada", MaxChatCost: 1})

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "Hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[postChatResponse](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "Again", "thread_id": first.Chat.ThreadID})
	require.Equal(t, http.StatusOK, rec.Code)
	denied := decode[postChatResponse](t, rec)
	require.False(t, denied.Streaming)
	require.Nil(t, denied.Query)
	require.Equal(t, "You don't have enough tokens to make this request.", denied.Chat.Content)
	require.Equal(t, first.Chat.ID, denied.Chat.PreviousID)

	rec = ts.do(t, http.MethodGet, "/api/v1/chats?thread_id="+first.Chat.ThreadID, token, nil)
	require.Len(t, decode[map[string][]chatResponse](t, rec)["chats"], 2)
}

func TestPostChatValidation(t *testing.T) {
	ts := newTestingServer(context.Background(), t)
	token := ts.token(t, &store.Owner{ID: "owner-1"})

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "  "})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/chat?stream=maybe", token, map[string]string{"query": "Hi"})
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "Hi", "thread_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/chats", token, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestChatOwnership(t *testing.T) {
	ts := newTestingServer(context.Background(), t)
	token := ts.token(t, &store.Owner{ID: "owner-1"})
	stranger := ts.token(t, &store.Owner{ID: "owner-2"})

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "Hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decode[postChatResponse](t, rec)

	for _, path := range []string{
		"/api/v1/chat/" + resp.Chat.ID,
		"/api/v1/chat/stream/" + resp.Chat.ID,
		"/api/v1/chats?thread_id=" + resp.Chat.ThreadID,
	} {
		rec = ts.do(t, http.MethodGet, path, stranger, nil)
		require.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec = ts.do(t, http.MethodDelete, "/api/v1/chat/"+resp.Chat.ID, stranger, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeleteAndClearChats(t *testing.T) {
	ts := newTestingServer(context.Background(), t)
	token := ts.token(t, &store.Owner{ID: "owner-1"})

	rec := ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "Hi"})
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decode[postChatResponse](t, rec)
	threadID := first.Chat.ThreadID
	rec = ts.do(t, http.MethodPost, "/api/v1/chat", token, map[string]string{"query": "More", "thread_id": threadID})
	require.Equal(t, http.StatusCreated, rec.Code)

	// Deleting the first response drops everything after it.
	rec = ts.do(t, http.MethodDelete, "/api/v1/chat/"+first.Chat.ID, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/chats?thread_id="+threadID, token, nil)
	chats := decode[map[string][]chatResponse](t, rec)["chats"]
	require.Len(t, chats, 1)
	require.Equal(t, first.Query.ID, chats[0].ID)
	rec = ts.do(t, http.MethodGet, "/api/v1/chat/"+first.Chat.ID, token, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/chats", token, map[string]string{"thread_id": threadID})
	require.Equal(t, http.StatusOK, rec.Code)
	rec = ts.do(t, http.MethodGet, "/api/v1/chats?thread_id="+threadID, token, nil)
	require.Empty(t, decode[map[string][]chatResponse](t, rec)["chats"])
}
