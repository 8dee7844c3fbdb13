package chat

import (
	"context"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/plugin/cache"
	"github.com/cookgpt/cookgpt/plugin/llm"
	"github.com/cookgpt/cookgpt/plugin/taskqueue"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/store"
	teststore "github.com/cookgpt/cookgpt/store/test"
)

// wordTokenizer counts whitespace separated words and records every text it
// was asked about.
type wordTokenizer struct {
	mu    sync.Mutex
	calls map[string]int
	delay time.Duration
	err   error
}

func newWordTokenizer() *wordTokenizer {
	return &wordTokenizer{calls: map[string]int{}}
}

func (t *wordTokenizer) CountTokens(_, text string) (int, error) {
	t.mu.Lock()
	t.calls[text]++
	t.mu.Unlock()
	if t.delay > 0 {
		time.Sleep(t.delay)
	}
	if t.err != nil {
		return 0, t.err
	}
	return len(strings.Fields(text)), nil
}

func (t *wordTokenizer) callsFor(text string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.calls[text]
}

// scriptedProvider answers every request with reply.
type scriptedProvider struct {
	reply string
	usage *llm.Response
	err   error
	calls atomic.Int32
	last  *llm.Request
}

func (p *scriptedProvider) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	p.calls.Add(1)
	p.last = req
	if p.err != nil {
		return nil, p.err
	}
	for i, word := range strings.Split(p.reply, " ") {
		if i > 0 {
			if err := req.OnToken(ctx, " "); err != nil {
				return nil, err
			}
		}
		if err := req.OnToken(ctx, word); err != nil {
			return nil, err
		}
	}
	if p.usage != nil {
		return &llm.Response{
			Content:          p.reply,
			PromptTokens:     p.usage.PromptTokens,
			CompletionTokens: p.usage.CompletionTokens,
			UsageReported:    true,
		}, nil
	}
	return &llm.Response{Content: p.reply}, nil
}

type testingService struct {
	profile    *profile.Profile
	store      *store.Store
	cache      *cache.Memory
	tokenizer  *wordTokenizer
	transport  *transport.Memory
	queue      *taskqueue.Local
	ledger     *Ledger
	assembler  *Assembler
	worker     *Worker
	dispatcher *Dispatcher
	relay      *Relay
}

func newTestingService(ctx context.Context, t *testing.T, provider llm.Provider) *testingService {
	t.Helper()
	s := &testingService{
		profile: &profile.Profile{
			LLMModel:          "gpt-3.5-turbo",
			MaxChatCost:       2000,
			CompletionTimeout: 5 * time.Second,
			PollInterval:      10 * time.Millisecond,
			StreamTimeout:     2 * time.Second,
			JobRetention:      time.Minute,
		},
		store:     teststore.NewTestingStore(ctx, t),
		cache:     cache.NewMemory(),
		tokenizer: newWordTokenizer(),
		transport: transport.NewMemory(time.Minute),
	}
	s.ledger = NewLedger(s.cache, s.tokenizer)
	s.assembler = NewAssembler(s.store)
	s.worker = NewWorker(s.store, s.ledger, s.assembler, provider, s.transport, s.profile.CompletionTimeout)
	s.queue = taskqueue.NewLocal(s.worker.Handle, 2, time.Minute)
	s.queue.Dropped = s.worker.Abandon
	t.Cleanup(func() { _ = s.queue.Shutdown(context.Background()) })
	s.dispatcher = NewDispatcher(s.store, s.transport, s.queue, s.worker, s.profile)
	s.relay = NewRelay(s.store, s.transport, s.queue, s.profile.PollInterval, s.profile.StreamTimeout)
	return s
}

func newTestingOwner() *store.Owner {
	return &store.Owner{ID: "owner-1", DisplayName: "Ada", MaxChatCost: 2000}
}

func (s *testingService) createThread(ctx context.Context, t *testing.T, owner *store.Owner) *store.Thread {
	t.Helper()
	thread, err := s.store.CreateThread(ctx, &store.Thread{OwnerID: owner.ID, Title: "New Thread"})
	require.NoError(t, err)
	return thread
}

func (s *testingService) getThread(ctx context.Context, t *testing.T, id string) *store.Thread {
	t.Helper()
	thread, err := s.store.GetThread(ctx, &store.FindThread{ID: &id})
	require.NoError(t, err)
	require.NotNil(t, thread)
	return thread
}

// collect ranges over a stream and returns its tokens and the first error.
func collect(seq func(yield func(string, error) bool)) ([]string, error) {
	var tokens []string
	for token, err := range seq {
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, token)
	}
	return tokens, nil
}
