package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/plugin/llm"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/store"
)

// CompletionTask is the unit of work handed to a worker: answer Input and
// settle the pending query/response pair.
type CompletionTask struct {
	QueryID    string      `json:"query_id"`
	ResponseID string      `json:"response_id"`
	ThreadID   string      `json:"thread_id"`
	Owner      store.Owner `json:"owner"`
	Input      string      `json:"input"`
	Model      string      `json:"model"`
}

// Worker runs completions. The same worker serves inline (synchronous)
// requests and tasks popped from the queue.
type Worker struct {
	store     *store.Store
	ledger    *Ledger
	assembler *Assembler
	provider  llm.Provider
	transport transport.Transport
	timeout   time.Duration
}

func NewWorker(store *store.Store, ledger *Ledger, assembler *Assembler, provider llm.Provider, transport transport.Transport, timeout time.Duration) *Worker {
	return &Worker{
		store:     store,
		ledger:    ledger,
		assembler: assembler,
		provider:  provider,
		transport: transport,
		timeout:   timeout,
	}
}

// Handle decodes a queued CompletionTask and runs it under the completion
// timeout.
func (w *Worker) Handle(ctx context.Context, payload []byte) error {
	var task CompletionTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return errors.Wrap(err, "failed to decode completion task")
	}
	ctx, cancel := context.WithTimeout(ctx, w.timeout)
	defer cancel()
	return w.Run(ctx, &task)
}

// Run answers the task once. Only the caller that claims the pending job
// runs it, so a redelivered task never completes a pair twice.
func (w *Worker) Run(ctx context.Context, task *CompletionTask) error {
	jobID := task.ResponseID
	claimed, err := w.transport.Claim(ctx, jobID)
	if err != nil {
		w.fail(context.WithoutCancel(ctx), task, err)
		return err
	}
	if !claimed {
		slog.Info("skipping completion already claimed", "response", jobID)
		return nil
	}
	slog.Info("completion started", "thread", task.ThreadID, "response", jobID, "model", task.Model)

	if err := w.complete(ctx, task); err != nil {
		if errors.Is(err, store.ErrChatSettled) {
			slog.Warn("completion raced with another settle", "response", jobID)
			return w.transport.SetStatus(context.WithoutCancel(ctx), jobID, transport.StatusCompleted)
		}
		w.fail(context.WithoutCancel(ctx), task, err)
		return err
	}
	if err := w.transport.SetStatus(ctx, jobID, transport.StatusCompleted); err != nil {
		return err
	}
	slog.Info("completion finished", "thread", task.ThreadID, "response", jobID)
	return nil
}

// Abandon fails a queued task that will never run. Tasks already claimed by
// a worker are left alone.
func (w *Worker) Abandon(ctx context.Context, payload []byte) error {
	var task CompletionTask
	if err := json.Unmarshal(payload, &task); err != nil {
		return errors.Wrap(err, "failed to decode completion task")
	}
	claimed, err := w.transport.Claim(ctx, task.ResponseID)
	if err != nil {
		return err
	}
	if claimed {
		w.fail(ctx, &task, errors.New("completion task dropped"))
	}
	return nil
}

func (w *Worker) complete(ctx context.Context, task *CompletionTask) error {
	history, err := w.assembler.BuildContext(ctx, task.ThreadID)
	if err != nil {
		return errors.Wrap(err, "failed to build context")
	}
	messages := append(history, Message{ID: task.QueryID, Role: store.ChatQuery.Role(), Content: task.Input})
	preamble := w.assembler.RenderPreamble(&task.Owner)

	request := &llm.Request{
		System:   preamble,
		Messages: make([]llm.Message, 0, len(messages)),
		Model:    task.Model,
		OnToken: func(ctx context.Context, token string) error {
			return w.transport.AppendToken(ctx, task.ResponseID, token)
		},
	}
	for _, m := range messages {
		request.Messages = append(request.Messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	response, err := w.provider.Complete(ctx, request)
	if err != nil {
		return err
	}

	promptCost, completionCost := response.PromptTokens, response.CompletionTokens
	if !response.UsageReported {
		promptCost, err = w.ledger.PromptCost(ctx, &task.Owner, preamble, messages, task.Model)
		if err != nil {
			return err
		}
		completionCost, err = w.ledger.CostOf(ctx, Message{ID: task.ResponseID, Role: store.ChatResponse.Role(), Content: response.Content}, task.Model)
		if err != nil {
			return err
		}
	}

	if err := w.store.SettleChats(ctx,
		&store.SettleChat{ID: task.QueryID, Content: task.Input, Cost: promptCost, State: store.ChatReady},
		&store.SettleChat{ID: task.ResponseID, Content: response.Content, Cost: completionCost, State: store.ChatReady},
	); err != nil {
		return err
	}
	if response.UsageReported {
		err = w.ledger.RememberUsage(ctx, Message{ID: task.ResponseID, Role: store.ChatResponse.Role()}, completionCost, task.Model)
	} else {
		err = w.ledger.Remember(ctx, task.ResponseID, completionCost)
	}
	if err != nil {
		slog.Warn("failed to remember response cost", "response", task.ResponseID, "error", err)
	}
	return nil
}

// fail settles the pair as unanswered and ends the job so relays stop.
func (w *Worker) fail(ctx context.Context, task *CompletionTask, cause error) {
	slog.Error("completion failed", "thread", task.ThreadID, "response", task.ResponseID, "error", cause)
	err := w.store.SettleChats(ctx,
		&store.SettleChat{ID: task.QueryID, State: store.ChatFailed},
		&store.SettleChat{ID: task.ResponseID, State: store.ChatFailed},
	)
	if err != nil && !errors.Is(err, store.ErrChatSettled) {
		slog.Error("failed to settle failed completion", "response", task.ResponseID, "error", err)
	}
	if err := w.transport.SetStatus(ctx, task.ResponseID, transport.StatusFailed); err != nil {
		slog.Error("failed to mark job failed", "response", task.ResponseID, "error", err)
	}
}
