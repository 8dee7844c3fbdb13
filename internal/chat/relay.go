package chat

import (
	"context"
	"iter"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/cookgpt/cookgpt/plugin/taskqueue"
	"github.com/cookgpt/cookgpt/plugin/transport"
	"github.com/cookgpt/cookgpt/store"
)

var errStreamConsumed = errors.New("stream already consumed")

// Relay streams a response to a client, replaying it when it is settled and
// tailing the worker's token log otherwise.
type Relay struct {
	store         *store.Store
	transport     transport.Transport
	queue         taskqueue.Queue
	pollInterval  time.Duration
	streamTimeout time.Duration
}

func NewRelay(store *store.Store, transport transport.Transport, queue taskqueue.Queue, pollInterval, streamTimeout time.Duration) *Relay {
	return &Relay{
		store:         store,
		transport:     transport,
		queue:         queue,
		pollInterval:  pollInterval,
		streamTimeout: streamTimeout,
	}
}

// OpenStream returns the token sequence of a chat. The sequence can be
// ranged over once; it ends early when ctx is done.
func (r *Relay) OpenStream(ctx context.Context, chatID string) (iter.Seq2[string, error], error) {
	chat, err := r.store.GetChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if chat == nil {
		return nil, errors.Wrapf(ErrChatNotFound, "chat %s", chatID)
	}
	if chat.Settled() {
		slog.Debug("replaying settled chat", "chat", chatID)
		return once(replay(chat.Content)), nil
	}

	exists, err := r.transport.Exists(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Wrapf(ErrNotStreaming, "chat %s", chatID)
	}
	slog.Debug("tailing chat", "chat", chatID)
	return once(r.tail(ctx, chatID)), nil
}

// replay splits settled content into words and the single spaces between
// them, the same shape the worker streams.
func replay(content string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		if content == "" {
			return
		}
		for i, word := range strings.Split(content, " ") {
			if i > 0 && !yield(" ", nil) {
				return
			}
			if word != "" && !yield(word, nil) {
				return
			}
		}
	}
}

func (r *Relay) tail(ctx context.Context, jobID string) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		notifier, _ := r.transport.(transport.Notifier)
		offset := 0
		var lastStatus transport.Status
		lastProgress := time.Now()

		// drain yields every token past offset and reports whether the
		// consumer still wants more.
		drain := func() bool {
			tokens, err := r.transport.ReadSince(ctx, jobID, offset)
			if err != nil {
				yield("", err)
				return false
			}
			for _, token := range tokens {
				if !yield(token, nil) {
					return false
				}
			}
			if len(tokens) > 0 {
				offset += len(tokens)
				lastProgress = time.Now()
			}
			return true
		}

		for {
			var changed <-chan struct{}
			if notifier != nil {
				changed = notifier.Changed(jobID)
			}
			if !drain() {
				return
			}

			status, err := r.transport.GetStatus(ctx, jobID)
			if err != nil {
				yield("", err)
				return
			}
			if status == "" || status.Terminal() {
				// Tokens may have landed between the read and the status check.
				drain()
				return
			}
			if status != lastStatus {
				lastStatus, lastProgress = status, time.Now()
			}

			done, err := r.taskDone(ctx, jobID)
			if err != nil {
				yield("", err)
				return
			}
			if done {
				slog.Warn("task ended without finishing its job", "chat", jobID, "status", status)
				drain()
				return
			}

			if time.Since(lastProgress) > r.streamTimeout {
				yield("", errors.Wrapf(ErrStreamStalled, "chat %s", jobID))
				return
			}

			select {
			case <-ctx.Done():
				yield("", ctx.Err())
				return
			case <-changed:
			case <-time.After(r.pollInterval):
			}
		}
	}
}

// taskDone reports whether the queued task behind the job has finished. Jobs
// run inline have no task.
func (r *Relay) taskDone(ctx context.Context, jobID string) (bool, error) {
	handle, err := r.transport.GetTask(ctx, jobID)
	if err != nil || handle == "" {
		return false, err
	}
	return r.queue.Ready(ctx, handle)
}

func once(seq iter.Seq2[string, error]) iter.Seq2[string, error] {
	var used atomic.Bool
	return func(yield func(string, error) bool) {
		if !used.CompareAndSwap(false, true) {
			yield("", errStreamConsumed)
			return
		}
		seq(yield)
	}
}
