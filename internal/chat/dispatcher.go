package chat

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/internal/profile"
	"github.com/cookgpt/cookgpt/plugin/taskqueue"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/store"
)

const (
	insufficientBudgetReply = "You don't have enough tokens to make this request."
	maxAppendAttempts       = 3
)

type SubmitRequest struct {
	Owner    *store.Owner
	ThreadID string
	Query    string
	// Synchronous runs the completion inline instead of queueing it.
	Synchronous bool
}

type SubmitResult struct {
	Query    *store.Chat
	Response *store.Chat
	// Streaming is set when the completion was queued and the response can
	// be followed with a Relay.
	Streaming bool
	// Denied is set when the owner's budget for the thread is spent. The
	// response is then synthetic and nothing was persisted.
	Denied bool
}

// Dispatcher turns a user query into a completion job.
type Dispatcher struct {
	store     *store.Store
	transport transport.Transport
	queue     taskqueue.Queue
	worker    *Worker
	profile   *profile.Profile
}

func NewDispatcher(store *store.Store, transport transport.Transport, queue taskqueue.Queue, worker *Worker, profile *profile.Profile) *Dispatcher {
	return &Dispatcher{
		store:     store,
		transport: transport,
		queue:     queue,
		worker:    worker,
		profile:   profile,
	}
}

func (d *Dispatcher) Submit(ctx context.Context, req *SubmitRequest) (*SubmitResult, error) {
	thread, err := d.store.GetThread(ctx, &store.FindThread{ID: &req.ThreadID, OwnerID: &req.Owner.ID})
	if err != nil {
		return nil, err
	}
	if thread == nil {
		return nil, errors.Wrapf(ErrThreadNotFound, "thread %s", req.ThreadID)
	}
	if thread.Closed {
		return nil, errors.Wrapf(ErrThreadClosed, "thread %s", req.ThreadID)
	}

	// The budget is checked before anything is appended so a denied request
	// leaves no trace in the thread.
	if thread.Cost >= req.Owner.MaxChatCost {
		slog.Info("chat budget spent", "owner", req.Owner.ID, "thread", thread.ID, "cost", thread.Cost, "max", req.Owner.MaxChatCost)
		response, err := d.deniedResponse(ctx, thread)
		if err != nil {
			return nil, err
		}
		return &SubmitResult{Response: response, Denied: true}, nil
	}

	query, response, err := d.appendTurn(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	task := &CompletionTask{
		QueryID:    query.ID,
		ResponseID: response.ID,
		ThreadID:   thread.ID,
		Owner:      *req.Owner,
		Input:      req.Query,
		Model:      d.profile.LLMModel,
	}
	if err := d.transport.SetStatus(ctx, response.ID, transport.StatusPending); err != nil {
		return nil, d.abandon(ctx, task, err)
	}
	if req.Synchronous {
		return d.runInline(ctx, task)
	}

	payload, err := json.Marshal(task)
	if err != nil {
		return nil, d.abandon(ctx, task, errors.Wrap(err, "failed to marshal completion task"))
	}
	handle, err := d.queue.Submit(ctx, payload)
	if err != nil {
		return nil, d.abandon(ctx, task, errors.Wrap(err, "failed to queue completion task"))
	}
	if err := d.transport.SetTask(ctx, response.ID, handle); err != nil {
		// The queued task still settles the job; relays only lose sight of a
		// crashed worker and fall back to the stall timeout.
		slog.Warn("failed to record completion task", "response", response.ID, "task", handle, "error", err)
	}
	slog.Info("completion queued", "thread", thread.ID, "response", response.ID, "task", handle)
	return &SubmitResult{Query: query, Response: response, Streaming: true}, nil
}

// appendTurn appends the placeholder pair, retrying when a concurrent append
// took the slot first.
func (d *Dispatcher) appendTurn(ctx context.Context, threadID string) (*store.Chat, *store.Chat, error) {
	var err error
	for attempt := 1; attempt <= maxAppendAttempts; attempt++ {
		var query, response *store.Chat
		query, response, err = d.store.AppendTurn(ctx, threadID)
		if err == nil {
			return query, response, nil
		}
		if !errors.Is(err, store.ErrChainConflict) {
			return nil, nil, err
		}
		slog.Debug("append raced, retrying", "thread", threadID, "attempt", attempt)
	}
	return nil, nil, err
}

// runInline runs the completion in the request goroutine. A client that goes
// away does not stop it; only the completion timeout does.
func (d *Dispatcher) runInline(ctx context.Context, task *CompletionTask) (*SubmitResult, error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.profile.CompletionTimeout)
	defer cancel()
	if err := d.transport.SetTask(runCtx, task.ResponseID, ""); err != nil {
		return nil, d.abandon(runCtx, task, err)
	}
	if err := d.worker.Run(runCtx, task); err != nil {
		return nil, err
	}

	query, err := d.store.GetChat(runCtx, task.QueryID)
	if err != nil {
		return nil, err
	}
	response, err := d.store.GetChat(runCtx, task.ResponseID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{Query: query, Response: response}, nil
}

// abandon fails a turn whose completion never got going, so relays and
// later contexts see it finished.
func (d *Dispatcher) abandon(ctx context.Context, task *CompletionTask, cause error) error {
	d.worker.fail(context.WithoutCancel(ctx), task, cause)
	return cause
}

func (d *Dispatcher) deniedResponse(ctx context.Context, thread *store.Thread) (*store.Chat, error) {
	response := &store.Chat{
		ID:       uuid.NewString(),
		ThreadID: thread.ID,
		Kind:     store.ChatResponse,
		State:    store.ChatReady,
		Content:  insufficientBudgetReply,
		SentTs:   time.Now().Unix(),
	}
	head, err := d.store.LastChat(ctx, thread.ID)
	if err != nil {
		return nil, err
	}
	if head != nil {
		response.PreviousID = head.ID
		response.Order = head.Order + 1
	}
	return response, nil
}
