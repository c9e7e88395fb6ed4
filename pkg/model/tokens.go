package model

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenCounter gives the Agent Framework an accurate per-model token count,
// used by the agent's prompt composition (via TruncateHistory) to decide how
// much conversation history fits in a request; the Gateway itself does not
// truncate (spec.md §8: "truncate history from the oldest end until it fits;
// never truncate the current user query").
type TokenCounter struct {
	enc *tiktoken.Tiktoken
	mu  sync.RWMutex
}

var (
	encodingCache = map[string]*tiktoken.Tiktoken{}
	cacheMu       sync.RWMutex
)

// NewTokenCounter returns a counter tuned to modelID, falling back to the
// cl100k_base encoding (GPT-4/3.5-turbo family) for unrecognized ids since
// Anthropic and other providers don't publish a tokenizer of their own and
// this approximation is what the pack's other token-accounting code uses.
func NewTokenCounter(modelID string) (*TokenCounter, error) {
	cacheMu.RLock()
	enc, ok := encodingCache[modelID]
	cacheMu.RUnlock()
	if ok {
		return &TokenCounter{enc: enc}, nil
	}

	enc, err := tiktoken.EncodingForModel(modelID)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("load tokenizer encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[modelID] = enc
	cacheMu.Unlock()
	return &TokenCounter{enc: enc}, nil
}

func (t *TokenCounter) Count(text string) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.enc.Encode(text, nil, nil))
}

func (t *TokenCounter) CountMessages(messages []Message) int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	total := 0
	for _, m := range messages {
		total += 3 // role/turn framing overhead
		total += len(t.enc.Encode(string(m.Role), nil, nil))
		total += len(t.enc.Encode(m.Content, nil, nil))
	}
	return total + 3 // reply priming
}

// TruncateHistory drops messages from the oldest end of history until the
// combined token count of system + history + query fits within maxTokens.
// It returns only the fitted history; the query is never part of the result
// and is never truncated. If the query alone exceeds the budget, the
// returned history is empty and the caller sends the query unchanged (the Gateway call
// will fail downstream with a provider length error, which is preferable to
// silently corrupting the user's question).
func (t *TokenCounter) TruncateHistory(system string, history []Message, query Message, maxTokens int) []Message {
	reserved := 0
	if system != "" {
		reserved = t.Count(system)
	}
	reserved += t.CountMessages([]Message{query})

	fitted := make([]Message, 0, len(history))
	used := 0
	for i := len(history) - 1; i >= 0; i-- {
		cost := t.CountMessages([]Message{history[i]})
		if reserved+used+cost > maxTokens {
			break
		}
		fitted = append([]Message{history[i]}, fitted...)
		used += cost
	}
	return fitted
}
