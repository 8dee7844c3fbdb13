package server

import (
	"context"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/cookgpt/cookgpt/internal/chat"
	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/plugin/cache"
	"github.com/cookgpt/cookgpt/plugin/llm"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/store"
)

// Backend holds the completion services shared by the API server and the
// standalone worker process.
type Backend struct {
	// Redis is nil unless profile.RedisURL is set.
	Redis     *redis.Client
	Cache     cache.Cache
	Transport transport.Transport
	Ledger    *chat.Ledger
	Assembler *chat.Assembler
	Worker    *chat.Worker
}

// NewBackend wires the cost cache, stream transport and completion worker.
// Redis backs the cache and the transport when configured; otherwise both
// live in process memory.
func NewBackend(ctx context.Context, profile *profile.Profile, store *store.Store) (*Backend, error) {
	b := &Backend{}
	if profile.RedisURL != "" {
		options, err := redis.ParseURL(profile.RedisURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to parse redis url")
		}
		b.Redis = redis.NewClient(options)
		if err := b.Redis.Ping(ctx).Err(); err != nil {
			b.Redis.Close()
			return nil, errors.Wrap(err, "failed to connect to redis")
		}
		b.Cache = cache.NewRedis(b.Redis)
		b.Transport = transport.NewRedis(b.Redis, profile.JobRetention)
	} else {
		b.Cache = cache.NewMemory()
		b.Transport = transport.NewMemory(profile.JobRetention)
	}

	provider, err := llm.New(llm.Config{
		Provider: profile.LLMProvider,
		Model:    profile.LLMModel,
		APIKey:   profile.LLMAPIKey,
		BaseURL:  profile.LLMBaseURL,
	})
	if err != nil {
		b.Close()
		return nil, errors.Wrap(err, "failed to create llm provider")
	}

	b.Ledger = chat.NewLedger(b.Cache, llm.NewTiktoken())
	b.Assembler = chat.NewAssembler(store)
	b.Worker = chat.NewWorker(store, b.Ledger, b.Assembler, provider, b.Transport, profile.CompletionTimeout)
	return b, nil
}

func (b *Backend) Close() error {
	if b.Redis != nil {
		return b.Redis.Close()
	}
	return nil
}
