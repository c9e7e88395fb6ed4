package agent

import (
	"context"
	"fmt"
	"strings"

	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// Agent is the capability contract every specialist implements.
type Agent interface {
	Name() string
	Capabilities() []string
	Process(ctx context.Context, run *RunContext) (*Response, error)
	ProcessStream(ctx context.Context, run *RunContext) (<-chan ResponseChunk, error)
}

// Base composes the system/memory/history/query prompt and invokes the
// Model Gateway; each concrete agent is a Base built by its own
// constructor, which only supplies a name, capability list, and prompt
// template name. Matches spec.md's "concrete
// agents differ only in their template" framing.
type Base struct {
	name             string
	capabilities     []string
	promptTemplate   string
	gateway          model.Gateway
	prompts          *prompt.Store
	params           model.Params
	historyTurns     int
	tokens           *model.TokenCounter
	maxPromptTokens  int
}

// Config constructs a Base. HistoryTurns caps how many user/assistant
// pairs are folded into the prompt (spec.md 4.E.1: "last N user/assistant
// pairs"); MaxPromptTokens additionally bounds the composed prompt by
// token budget, truncating from the oldest turn first (spec.md 4.E.2).
type Config struct {
	Name            string
	Capabilities    []string
	PromptTemplate  string
	Gateway         model.Gateway
	Prompts         *prompt.Store
	Params          model.Params
	HistoryTurns    int
	MaxPromptTokens int
}

func NewBase(cfg Config) (*Base, error) {
	if cfg.Name == "" {
		return nil, fmt.Errorf("agent: name is required")
	}
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("agent: gateway is required")
	}
	if cfg.Prompts == nil {
		return nil, fmt.Errorf("agent: prompt store is required")
	}
	historyTurns := cfg.HistoryTurns
	if historyTurns == 0 {
		historyTurns = 5
	}
	maxPromptTokens := cfg.MaxPromptTokens
	if maxPromptTokens == 0 {
		maxPromptTokens = 6000
	}
	promptTemplate := cfg.PromptTemplate
	if promptTemplate == "" {
		promptTemplate = prompt.AgentSystemKey(cfg.Name)
	}
	tokens, err := model.NewTokenCounter(cfg.Params.ModelID)
	if err != nil {
		return nil, fmt.Errorf("agent %s: build token counter: %w", cfg.Name, err)
	}
	return &Base{
		name:            cfg.Name,
		capabilities:    cfg.Capabilities,
		promptTemplate:  promptTemplate,
		gateway:         cfg.Gateway,
		prompts:         cfg.Prompts,
		params:          cfg.Params,
		historyTurns:    historyTurns,
		tokens:          tokens,
		maxPromptTokens: maxPromptTokens,
	}, nil
}

func (b *Base) Name() string           { return b.name }
func (b *Base) Capabilities() []string { return b.capabilities }

// Process builds the composed prompt and calls the Gateway once, returning
// the specialist's full contribution.
func (b *Base) Process(ctx context.Context, run *RunContext) (*Response, error) {
	messages, err := b.compose(run)
	if err != nil {
		return nil, err
	}

	text, err := b.gateway.Complete(ctx, messages, b.params)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelUnavailable, fmt.Sprintf("agent %s: gateway complete", b.name), err)
	}

	return &Response{Agent: b.name, Content: text, Confidence: b.confidence(run)}, nil
}

// ProcessStream is the streaming counterpart of Process, relaying Gateway
// chunks and emitting a final Response-bearing chunk when the stream ends.
func (b *Base) ProcessStream(ctx context.Context, run *RunContext) (<-chan ResponseChunk, error) {
	messages, err := b.compose(run)
	if err != nil {
		return nil, err
	}

	upstream, err := b.gateway.Stream(ctx, messages, b.params)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelUnavailable, fmt.Sprintf("agent %s: gateway stream", b.name), err)
	}

	out := make(chan ResponseChunk)
	go func() {
		defer close(out)
		var full strings.Builder
		for chunk := range upstream {
			if chunk.Delta != "" {
				full.WriteString(chunk.Delta)
				select {
				case out <- ResponseChunk{Agent: b.name, Delta: chunk.Delta}:
				case <-ctx.Done():
					return
				}
			}
			if chunk.Done {
				if chunk.Err != nil {
					return
				}
				final := &Response{Agent: b.name, Content: full.String(), Confidence: b.confidence(run)}
				select {
				case out <- ResponseChunk{Agent: b.name, Done: true, Final: final}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}

// compose concatenates, in order: the agent's system template, a
// memory-context block, the windowed history, and the current query.
func (b *Base) compose(run *RunContext) ([]model.Message, error) {
	memoryContext := formatMemoryHits(run.MemoryHits)

	system, err := b.prompts.Render(b.promptTemplate, prompt.Vars{"memory_context": memoryContext})
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, fmt.Sprintf("agent %s: render system prompt", b.name), err)
	}

	turns := run.HistoryWindow
	if n := b.historyTurns; n > 0 && len(turns) > n {
		turns = turns[len(turns)-n:]
	}
	var history []model.Message
	for _, t := range turns {
		if t.UserContent != "" {
			history = append(history, model.Message{Role: model.RoleUser, Content: t.UserContent})
		}
		if t.AssistantContent != "" {
			history = append(history, model.Message{Role: model.RoleAssistant, Content: t.AssistantContent})
		}
	}

	query := model.Message{Role: model.RoleUser, Content: run.Query}
	history = b.tokens.TruncateHistory(system, history, query, b.maxPromptTokens)

	messages := append([]model.Message{{Role: model.RoleSystem, Content: system}}, history...)
	messages = append(messages, query)
	return messages, nil
}

// confidence is a placeholder scoring hook; concrete agents may override by
// embedding Base and shadowing Process with their own post-processing.
func (b *Base) confidence(run *RunContext) float64 {
	if len(run.MemoryHits) == 0 {
		return 0.6
	}
	return 0.85
}

func formatMemoryHits(hits []MemoryHit) string {
	if len(hits) == 0 {
		return "No relevant memory found."
	}
	var sb strings.Builder
	for i, h := range hits {
		fmt.Fprintf(&sb, "%d. %s\n", i+1, h.Content)
	}
	return sb.String()
}

var _ Agent = (*Base)(nil)
