// Package model defines the provider-agnostic chat gateway. Concrete
// providers (pkg/model/anthropic, pkg/model/openai) implement Provider;
// Gateway wraps a Provider with the message-alternation transform, retry
// budget, and streaming contract that every caller in the orchestrator
// relies on regardless of which vendor answers the request.
package model

import (
	"context"
	"fmt"
	"strings"
)

// Role identifies the sender of a Message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation handed to a Provider.
type Message struct {
	Role    Role
	Content string
}

// Params enumerates the recognized generation options (spec.md §4.A).
type Params struct {
	ModelID       string
	MaxTokens     int
	Temperature   float64
	Stop          []string
	TopP          float64
	Timeout       int // seconds; not read by the Gateway or the bundled providers
	AttemptBudget int // max attempts including the first; 0 means 1 (no retry)
}

// Chunk is one partial-text delta yielded by Stream. Done is always the
// last chunk emitted, even on cancellation, with Cancelled set accordingly.
type Chunk struct {
	Delta     string
	Done      bool
	Cancelled bool
	Err       error
}

// Provider is the minimal vendor-specific surface a gateway wraps. It
// receives an already-alternation-correct message list.
type Provider interface {
	Name() string
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
	Stream(ctx context.Context, messages []Message, params Params) (<-chan Chunk, error)
}

// Gateway is the provider-agnostic chat contract every other component
// calls through. It owns the alternation transform and the retry budget;
// Provider implementations never see malformed message sequences.
type Gateway interface {
	Complete(ctx context.Context, messages []Message, params Params) (string, error)
	Stream(ctx context.Context, messages []Message, params Params) (<-chan Chunk, error)
}

type gateway struct {
	provider Provider
	retry    RetryPolicy
}

// New wraps a Provider in a Gateway that enforces the alternation rule and
// the attempt-budget retry policy before ever reaching the provider.
func New(provider Provider, retry RetryPolicy) Gateway {
	return &gateway{provider: provider, retry: retry}
}

func (g *gateway) Complete(ctx context.Context, messages []Message, params Params) (string, error) {
	normalized, err := Normalize(messages)
	if err != nil {
		return "", err
	}
	budget := params.AttemptBudget
	if budget <= 0 {
		budget = 1
	}
	var lastErr error
	for attempt := 0; attempt < budget; attempt++ {
		if attempt > 0 {
			if err := g.retry.Wait(ctx, attempt); err != nil {
				return "", err
			}
		}
		text, err := g.provider.Complete(ctx, normalized, params)
		if err == nil {
			return text, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			return "", NewCancelled(ctx.Err())
		}
		if !IsRetryable(err) {
			return "", NewProtocolError(err)
		}
	}
	return "", NewModelUnavailable(lastErr)
}

func (g *gateway) Stream(ctx context.Context, messages []Message, params Params) (<-chan Chunk, error) {
	normalized, err := Normalize(messages)
	if err != nil {
		return nil, err
	}
	budget := params.AttemptBudget
	if budget <= 0 {
		budget = 1
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		var lastErr error
		for attempt := 0; attempt < budget; attempt++ {
			if attempt > 0 {
				if werr := g.retry.Wait(ctx, attempt); werr != nil {
					out <- Chunk{Done: true, Cancelled: true, Err: werr}
					return
				}
			}

			upstream, err := g.provider.Stream(ctx, normalized, params)
			if err != nil {
				lastErr = err
				if ctx.Err() != nil {
					out <- Chunk{Done: true, Cancelled: true, Err: NewCancelled(ctx.Err())}
					return
				}
				if !IsRetryable(err) {
					out <- Chunk{Done: true, Err: NewProtocolError(err)}
					return
				}
				continue
			}

			ok := relayStream(ctx, upstream, out)
			if ok {
				return
			}
			// Upstream closed without a clean Done (transport drop mid-stream):
			// fall through to retry if budget remains.
			lastErr = fmt.Errorf("stream closed without terminal marker")
		}
		out <- Chunk{Done: true, Err: NewModelUnavailable(lastErr)}
	}()
	return out, nil
}

// relayStream forwards chunks from upstream to out until upstream closes or
// ctx is cancelled. Returns true if a terminal Done chunk was forwarded
// (stream fully handled, caller should not retry).
func relayStream(ctx context.Context, upstream <-chan Chunk, out chan<- Chunk) bool {
	for {
		select {
		case <-ctx.Done():
			out <- Chunk{Done: true, Cancelled: true, Err: NewCancelled(ctx.Err())}
			// Drain upstream without blocking forever so the provider's
			// goroutine can observe cancellation and exit.
			go func() {
				for range upstream {
				}
			}()
			return true
		case c, open := <-upstream:
			if !open {
				return false
			}
			out <- c
			if c.Done {
				return true
			}
		}
	}
}

// Normalize applies the alternation rule (spec.md §4.A): consecutive
// same-role entries are merged by concatenating content with a newline,
// a leading system message is retained as a single head entry, and the
// remainder must strictly alternate user/assistant starting with user.
func Normalize(messages []Message) ([]Message, error) {
	if len(messages) == 0 {
		return nil, NewConsistencyViolation(fmt.Errorf("empty message list"))
	}

	merged := make([]Message, 0, len(messages))
	for _, m := range messages {
		if len(merged) > 0 && merged[len(merged)-1].Role == m.Role {
			last := &merged[len(merged)-1]
			last.Content = last.Content + "\n" + m.Content
			continue
		}
		merged = append(merged, m)
	}

	idx := 0
	var system *Message
	if merged[0].Role == RoleSystem {
		system = &merged[0]
		idx = 1
	}

	rest := merged[idx:]
	if len(rest) == 0 {
		return nil, NewConsistencyViolation(fmt.Errorf("no user/assistant turns after system message"))
	}
	if rest[0].Role != RoleUser {
		return nil, NewConsistencyViolation(fmt.Errorf("first non-system message must have role user, got %q", rest[0].Role))
	}
	for i := 1; i < len(rest); i++ {
		want := RoleAssistant
		if rest[i-1].Role == RoleAssistant {
			want = RoleUser
		}
		if rest[i].Role != want {
			return nil, NewConsistencyViolation(fmt.Errorf("message %d breaks alternation: got role %q, want %q", i, rest[i].Role, want))
		}
	}

	result := make([]Message, 0, len(rest)+1)
	if system != nil {
		result = append(result, *system)
	}
	result = append(result, rest...)
	return result, nil
}

// MergeContent joins fragments the way the alternation transform does,
// exported so Providers composing synthetic multi-part content can match
// the same separator convention.
func MergeContent(parts ...string) string {
	return strings.Join(parts, "\n")
}
