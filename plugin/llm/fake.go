package llm

import (
	"context"
	"strings"
	"sync/atomic"
	"time"
)

var cookingReplies = []string{
	"Try adding salt.",
	"What ingredients do you have at hand?",
	"Are there any specific dietary preferences I should consider?",
	"A squeeze of lemon at the end will brighten the whole dish.",
	"Let the pan get properly hot before the onions go in.",
	"Rest the dough for thirty minutes so the gluten can relax.",
	"I'm here to assist with cooking and recipes. How can I help you create a delicious dish today?",
}

// Fake cycles through canned replies and streams them word by word. It lets
// the server run without provider credentials.
type Fake struct {
	replies []string
	next    atomic.Uint64
	// Delay is slept between streamed tokens.
	Delay time.Duration
}

// NewFake returns a Fake answering with replies, or with stock cooking
// replies when none are given.
func NewFake(replies ...string) *Fake {
	if len(replies) == 0 {
		replies = cookingReplies
	}
	return &Fake{replies: replies}
}

func (f *Fake) Complete(ctx context.Context, req *Request) (*Response, error) {
	reply := f.replies[(f.next.Add(1)-1)%uint64(len(f.replies))]
	if req.OnToken != nil {
		for i, word := range strings.Split(reply, " ") {
			if i > 0 {
				if err := req.OnToken(ctx, " "); err != nil {
					return nil, err
				}
			}
			if f.Delay > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(f.Delay):
				}
			}
			if err := req.OnToken(ctx, word); err != nil {
				return nil, err
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &Response{Content: reply}, nil
}
