package chat

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/cookgpt/cookgpt/plugin/cache"
	"github.com/cookgpt/cookgpt/plugin/llm"
	"github.com/cookgpt/cookgpt/store"
)

const (
	// Every message is framed as <im_start>{role}\n{content}<im_end>\n.
	messageOverhead = 4
	// Every reply is primed with <im_start>assistant.
	replyPriming = 2
)

func chatCostKey(chatID string) string {
	return fmt.Sprintf("chat:%s:cost", chatID)
}

func preambleCostKey(ownerID string) string {
	return fmt.Sprintf("system_msg:%s:cost", ownerID)
}

// Ledger prices messages in tokens and remembers the price of every message
// it has seen. Cached prices are keyed by chat (or owner) only, not by model.
type Ledger struct {
	cache     cache.Cache
	tokenizer llm.Tokenizer
	group     singleflight.Group
}

func NewLedger(cache cache.Cache, tokenizer llm.Tokenizer) *Ledger {
	return &Ledger{cache: cache, tokenizer: tokenizer}
}

// CostOf returns the token cost of a single message. Messages without an id
// are priced every time.
func (l *Ledger) CostOf(ctx context.Context, m Message, model string) (int, error) {
	if m.ID == "" {
		return l.compute(m.Role, m.Content, model, "unsaved "+m.Role+" message")
	}
	return l.cached(ctx, chatCostKey(m.ID), m.Role, m.Content, model)
}

// PreambleCostOf returns the token cost of owner's system preamble.
func (l *Ledger) PreambleCostOf(ctx context.Context, owner *store.Owner, preamble, model string) (int, error) {
	return l.cached(ctx, preambleCostKey(owner.ID), "system", preamble, model)
}

// PromptCost returns the cost of sending preamble and messages as one prompt.
func (l *Ledger) PromptCost(ctx context.Context, owner *store.Owner, preamble string, messages []Message, model string) (int, error) {
	total, err := l.PreambleCostOf(ctx, owner, preamble, model)
	if err != nil {
		return 0, err
	}
	for _, m := range messages {
		cost, err := l.CostOf(ctx, m, model)
		if err != nil {
			return 0, err
		}
		total += cost
	}
	return total + replyPriming, nil
}

// Remember records the settled cost of a chat so later prompts reuse it.
func (l *Ledger) Remember(ctx context.Context, chatID string, cost int) error {
	return l.cache.Set(ctx, chatCostKey(chatID), cost)
}

// RememberUsage records the cost of a message whose content the provider
// already counted. Provider counts leave out the message framing, which is
// added here so the entry prices like any message the ledger counted itself.
func (l *Ledger) RememberUsage(ctx context.Context, m Message, contentTokens int, model string) error {
	key := chatCostKey(m.ID)
	roleTokens, err := l.tokenizer.CountTokens(model, m.Role)
	if err != nil {
		return &CostComputationError{Key: key, Err: err}
	}
	return l.cache.Set(ctx, key, messageOverhead+roleTokens+contentTokens)
}

func (l *Ledger) cached(ctx context.Context, key, role, content, model string) (int, error) {
	if cost, ok := l.lookup(ctx, key); ok {
		return cost, nil
	}
	v, err, _ := l.group.Do(key, func() (any, error) {
		if cost, ok := l.lookup(ctx, key); ok {
			return cost, nil
		}
		cost, err := l.compute(role, content, model, key)
		if err != nil {
			return 0, err
		}
		slog.Debug("computed message cost", "key", key, "role", role, "cost", cost)
		if err := l.cache.Set(ctx, key, cost); err != nil {
			slog.Warn("failed to cache message cost", "key", key, "error", err)
		}
		return cost, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

func (l *Ledger) lookup(ctx context.Context, key string) (int, bool) {
	cost, ok, err := l.cache.Get(ctx, key)
	if err != nil {
		slog.Warn("failed to read message cost", "key", key, "error", err)
		return 0, false
	}
	return cost, ok
}

func (l *Ledger) compute(role, content, model, key string) (int, error) {
	roleTokens, err := l.tokenizer.CountTokens(model, role)
	if err != nil {
		return 0, &CostComputationError{Key: key, Err: err}
	}
	contentTokens, err := l.tokenizer.CountTokens(model, content)
	if err != nil {
		return 0, &CostComputationError{Key: key, Err: err}
	}
	return messageOverhead + roleTokens + contentTokens, nil
}
