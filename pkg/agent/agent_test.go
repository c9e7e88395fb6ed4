package agent

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

type stubProvider struct {
	text   string
	err    error
	chunks []string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, messages []model.Message, params model.Params) (string, error) {
	return s.text, s.err
}

func (s *stubProvider) Stream(ctx context.Context, messages []model.Message, params model.Params) (<-chan model.Chunk, error) {
	if s.err != nil {
		return nil, s.err
	}
	out := make(chan model.Chunk, len(s.chunks)+1)
	for _, c := range s.chunks {
		out <- model.Chunk{Delta: c}
	}
	out <- model.Chunk{Done: true}
	close(out)
	return out, nil
}

func newStore(t *testing.T) *prompt.Store {
	t.Helper()
	store, err := prompt.New(prompt.MemorySource{
		prompt.AgentSystemKey("researcher"): "you are researcher. memory: {memory_context}",
	})
	if err != nil {
		t.Fatalf("new prompt store: %v", err)
	}
	return store
}

func newBase(t *testing.T, text string, err error, opts func(*Config)) *Base {
	t.Helper()
	gw := model.New(&stubProvider{text: text, err: err}, model.RetryPolicy{})
	cfg := Config{
		Name:         "researcher",
		Capabilities: []string{"research"},
		Gateway:      gw,
		Prompts:      newStore(t),
	}
	if opts != nil {
		opts(&cfg)
	}
	b, err := NewBase(cfg)
	if err != nil {
		t.Fatalf("NewBase() error = %v", err)
	}
	return b
}

func TestNewBase_RequiresName(t *testing.T) {
	_, err := NewBase(Config{Gateway: model.New(&stubProvider{}, model.RetryPolicy{}), Prompts: newStore(t)})
	if err == nil {
		t.Fatalf("NewBase() error = nil, want error for missing name")
	}
}

func TestNewBase_RequiresGateway(t *testing.T) {
	_, err := NewBase(Config{Name: "researcher", Prompts: newStore(t)})
	if err == nil {
		t.Fatalf("NewBase() error = nil, want error for missing gateway")
	}
}

func TestNewBase_RequiresPrompts(t *testing.T) {
	_, err := NewBase(Config{Name: "researcher", Gateway: model.New(&stubProvider{}, model.RetryPolicy{})})
	if err == nil {
		t.Fatalf("NewBase() error = nil, want error for missing prompt store")
	}
}

func TestNewBase_AppliesDefaults(t *testing.T) {
	b := newBase(t, "", nil, nil)
	if b.historyTurns != 5 {
		t.Errorf("historyTurns = %d, want default 5", b.historyTurns)
	}
	if b.maxPromptTokens != 6000 {
		t.Errorf("maxPromptTokens = %d, want default 6000", b.maxPromptTokens)
	}
	if b.promptTemplate != prompt.AgentSystemKey("researcher") {
		t.Errorf("promptTemplate = %q, want the default agent system key", b.promptTemplate)
	}
}

func TestProcess_ReturnsGatewayContent(t *testing.T) {
	b := newBase(t, "the answer", nil, nil)
	resp, err := b.Process(context.Background(), &RunContext{Query: "what is it"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Content != "the answer" {
		t.Errorf("Process() content = %q, want %q", resp.Content, "the answer")
	}
	if resp.Agent != "researcher" {
		t.Errorf("Process() agent = %q, want %q", resp.Agent, "researcher")
	}
}

func TestProcess_ConfidenceRisesWithMemoryHits(t *testing.T) {
	b := newBase(t, "x", nil, nil)

	resp, err := b.Process(context.Background(), &RunContext{Query: "q"})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Confidence != 0.6 {
		t.Errorf("Confidence without memory hits = %v, want 0.6", resp.Confidence)
	}

	resp, err = b.Process(context.Background(), &RunContext{Query: "q", MemoryHits: []MemoryHit{{Content: "a fact", Score: 0.9}}})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if resp.Confidence != 0.85 {
		t.Errorf("Confidence with memory hits = %v, want 0.85", resp.Confidence)
	}
}

func TestProcess_GatewayErrorIsWrapped(t *testing.T) {
	b := newBase(t, "", fmt.Errorf("model down"), nil)
	_, err := b.Process(context.Background(), &RunContext{Query: "q"})
	if err == nil {
		t.Fatalf("Process() error = nil, want wrapped gateway error")
	}
}

func TestProcessStream_RelaysDeltasThenFinal(t *testing.T) {
	gw := model.New(&stubProvider{chunks: []string{"hel", "lo"}}, model.RetryPolicy{})
	b, err := NewBase(Config{Name: "researcher", Gateway: gw, Prompts: newStore(t)})
	if err != nil {
		t.Fatalf("NewBase() error = %v", err)
	}

	ch, err := b.ProcessStream(context.Background(), &RunContext{Query: "q"})
	if err != nil {
		t.Fatalf("ProcessStream() error = %v", err)
	}

	var deltas string
	var final *Response
	for c := range ch {
		if c.Done {
			final = c.Final
			continue
		}
		deltas += c.Delta
	}
	if deltas != "hello" {
		t.Errorf("ProcessStream() deltas = %q, want %q", deltas, "hello")
	}
	if final == nil || final.Content != "hello" {
		t.Fatalf("ProcessStream() final = %+v, want content %q", final, "hello")
	}
}

func TestCompose_WindowsHistoryToConfiguredTurns(t *testing.T) {
	b := newBase(t, "x", nil, func(c *Config) { c.HistoryTurns = 1 })

	run := &RunContext{
		Query: "current question",
		HistoryWindow: []HistoryTurn{
			{UserContent: "first user", AssistantContent: "first assistant"},
			{UserContent: "second user", AssistantContent: "second assistant"},
		},
	}
	messages, err := b.compose(run)
	if err != nil {
		t.Fatalf("compose() error = %v", err)
	}

	var joined strings.Builder
	for _, m := range messages {
		joined.WriteString(m.Content)
		joined.WriteString("|")
	}
	text := joined.String()
	if strings.Contains(text, "first user") {
		t.Errorf("compose() kept a turn beyond the configured window: %q", text)
	}
	if !strings.Contains(text, "second user") {
		t.Errorf("compose() dropped the most recent turn: %q", text)
	}
}

func TestCompose_MemoryContextDefaultsWhenEmpty(t *testing.T) {
	b := newBase(t, "x", nil, nil)
	messages, err := b.compose(&RunContext{Query: "q"})
	if err != nil {
		t.Fatalf("compose() error = %v", err)
	}
	if !strings.Contains(messages[0].Content, "No relevant memory found.") {
		t.Errorf("compose() system message = %q, want the no-memory placeholder", messages[0].Content)
	}
}

func TestCompose_TruncatesHistoryToFitTokenBudget(t *testing.T) {
	b := newBase(t, "x", nil, func(c *Config) { c.MaxPromptTokens = 1 })

	run := &RunContext{
		Query: "q",
		HistoryWindow: []HistoryTurn{
			{UserContent: strings.Repeat("word ", 500)},
		},
	}
	messages, err := b.compose(run)
	if err != nil {
		t.Fatalf("compose() error = %v", err)
	}
	// Only the system message and the query should survive; the oversized
	// history turn is dropped entirely by the token budget.
	if len(messages) != 2 {
		t.Fatalf("compose() messages = %d, want 2 (system + query), got %+v", len(messages), messages)
	}
	if messages[1].Content != "q" {
		t.Errorf("compose() query message = %q, want the unmodified query", messages[1].Content)
	}
}

func TestFormatMemoryHits_NumbersEachHit(t *testing.T) {
	got := formatMemoryHits([]MemoryHit{{Content: "first"}, {Content: "second"}})
	if !strings.Contains(got, "1. first") || !strings.Contains(got, "2. second") {
		t.Errorf("formatMemoryHits() = %q", got)
	}
}

func TestNewResearcher_WiresNameAndCapabilities(t *testing.T) {
	gw := model.New(&stubProvider{}, model.RetryPolicy{})
	prompts, err := prompt.New(prompt.MemorySource{prompt.AgentSystemKey("researcher"): "system"})
	if err != nil {
		t.Fatalf("new prompt store: %v", err)
	}
	a, err := NewResearcher(gw, prompts, model.Params{})
	if err != nil {
		t.Fatalf("NewResearcher() error = %v", err)
	}
	if a.Name() != "researcher" {
		t.Errorf("Name() = %q, want %q", a.Name(), "researcher")
	}
	if len(a.Capabilities()) == 0 {
		t.Errorf("Capabilities() is empty")
	}
}

func TestNewEngineer_WiresNameAndCapabilities(t *testing.T) {
	gw := model.New(&stubProvider{}, model.RetryPolicy{})
	prompts, err := prompt.New(prompt.MemorySource{prompt.AgentSystemKey("engineer"): "system"})
	if err != nil {
		t.Fatalf("new prompt store: %v", err)
	}
	a, err := NewEngineer(gw, prompts, model.Params{})
	if err != nil {
		t.Fatalf("NewEngineer() error = %v", err)
	}
	if a.Name() != "engineer" {
		t.Errorf("Name() = %q, want %q", a.Name(), "engineer")
	}
}

func TestNewEthicist_WiresNameAndCapabilities(t *testing.T) {
	gw := model.New(&stubProvider{}, model.RetryPolicy{})
	prompts, err := prompt.New(prompt.MemorySource{prompt.AgentSystemKey("ethicist"): "system"})
	if err != nil {
		t.Fatalf("new prompt store: %v", err)
	}
	a, err := NewEthicist(gw, prompts, model.Params{})
	if err != nil {
		t.Fatalf("NewEthicist() error = %v", err)
	}
	if a.Name() != "ethicist" {
		t.Errorf("Name() = %q, want %q", a.Name(), "ethicist")
	}
}
