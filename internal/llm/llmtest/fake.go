// Package llmtest provides a scripted llm.Client for tests.
package llmtest

import (
	"context"
	"sync"

	"github.com/lukasbauer/callguard/internal/llm"
)

// Call records one completion request received by a Fake.
type Call struct {
	Messages []llm.Message
	Params   llm.Params
}

// Reply is a scripted answer for one operation.
type Reply struct {
	Text string
	Err  error
}

// Fake answers completions from a per-operation script. Operations without a
// script fail with llm.ErrNotConfigured.
type Fake struct {
	mu      sync.Mutex
	replies map[string][]Reply
	calls   []Call
}

// New returns an empty Fake.
func New() *Fake {
	return &Fake{replies: make(map[string][]Reply)}
}

// On queues replies for operation. The last queued reply repeats once the queue
// is drained.
func (f *Fake) On(operation string, replies ...Reply) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.replies[operation] = append(f.replies[operation], replies...)
	return f
}

// Complete implements llm.Client.
func (f *Fake) Complete(ctx context.Context, messages []llm.Message, params llm.Params) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, Call{Messages: append([]llm.Message(nil), messages...), Params: params})

	if err := ctx.Err(); err != nil {
		return "", err
	}

	queue := f.replies[params.Operation]
	if len(queue) == 0 {
		return "", llm.ErrNotConfigured
	}
	r := queue[0]
	if len(queue) > 1 {
		f.replies[params.Operation] = queue[1:]
	}
	return r.Text, r.Err
}

// Calls returns every request received so far.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Call(nil), f.calls...)
}

// CallsFor returns the requests received for one operation.
func (f *Fake) CallsFor(operation string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []Call
	for _, c := range f.calls {
		if c.Params.Operation == operation {
			out = append(out, c)
		}
	}
	return out
}

var _ llm.Client = (*Fake)(nil)
