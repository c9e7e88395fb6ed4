package orchestrator

import (
	"context"
	"fmt"
	"testing"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/aggregator"
	"github.com/conclave-ai/conclave/pkg/classifier"
	"github.com/conclave-ai/conclave/pkg/decomposer"
	"github.com/conclave-ai/conclave/pkg/executor"
	"github.com/conclave-ai/conclave/pkg/memory"
	"github.com/conclave-ai/conclave/pkg/memory/docstore"
	"github.com/conclave-ai/conclave/pkg/memory/vectorstore"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
	"github.com/conclave-ai/conclave/pkg/session"
)

// stubProvider drives every Gateway-backed component (classifier, decomposer,
// aggregator) with a scripted response, keyed by which prompt it's asked to
// render, so a single stub can stand in for the whole model tier.
type stubProvider struct {
	decision string
	plan     string
	synth    string
}

func (s *stubProvider) Name() string { return "stub" }

func (s *stubProvider) Complete(ctx context.Context, messages []model.Message, params model.Params) (string, error) {
	text := messages[len(messages)-1].Content
	switch {
	case contains(text, "SELECT"):
		return s.decision, nil
	case contains(text, "PLAN"):
		return s.plan, nil
	default:
		return s.synth, nil
	}
}

func contains(s, sub string) bool {
	for i := 0; i+len(sub) <= len(s); i++ {
		if s[i:i+len(sub)] == sub {
			return true
		}
	}
	return false
}

func (s *stubProvider) Stream(ctx context.Context, messages []model.Message, params model.Params) (<-chan model.Chunk, error) {
	text, _ := s.Complete(ctx, messages, params)
	out := make(chan model.Chunk, 1)
	out <- model.Chunk{Delta: text, Done: true}
	close(out)
	return out, nil
}

// fakeAgent is a minimal agent.Agent whose response names the agent and
// echoes the query it received, enough to assert on dispatch/attribution.
type fakeAgent struct {
	name         string
	capabilities []string
}

func (a *fakeAgent) Name() string           { return a.name }
func (a *fakeAgent) Capabilities() []string { return a.capabilities }

func (a *fakeAgent) Process(ctx context.Context, run *agent.RunContext) (*agent.Response, error) {
	return &agent.Response{Agent: a.name, Content: fmt.Sprintf("%s says: %s", a.name, run.Query), Confidence: 0.8}, nil
}

func (a *fakeAgent) ProcessStream(ctx context.Context, run *agent.RunContext) (<-chan agent.ResponseChunk, error) {
	return nil, fmt.Errorf("fakeAgent: streaming not supported")
}

type harness struct {
	orch     *Orchestrator
	sessions session.Store
}

func newHarness(t *testing.T, decision, plan, synth string) *harness {
	t.Helper()

	registry := agent.NewRegistry()
	for _, a := range []*fakeAgent{
		{name: "researcher", capabilities: []string{"research", "facts"}},
		{name: "engineer", capabilities: []string{"code", "implementation"}},
	} {
		if err := registry.Register(a.name, a); err != nil {
			t.Fatalf("register agent: %v", err)
		}
	}

	prompts, err := prompt.New(prompt.MemorySource{
		prompt.ClassifierSelection: "SELECT agents: {agent_catalog} history: {history_summary} query: {query}",
		prompt.DecomposerPlan:      "PLAN agents: {agent_catalog} query: {query}",
		prompt.AggregatorSynthesize: "SYNTH query: {query} contributions: {contributions}",
	})
	if err != nil {
		t.Fatalf("new prompt store: %v", err)
	}

	gw := model.New(&stubProvider{decision: decision, plan: plan, synth: synth}, model.RetryPolicy{})

	vector, err := vectorstore.NewChromemStore(vectorstore.ChromemConfig{})
	if err != nil {
		t.Fatalf("new vector store: %v", err)
	}
	sessions := session.NewMemStore()
	mem, err := memory.New(memory.Config{Vector: vector, Documents: docstore.New(), Sessions: sessions})
	if err != nil {
		t.Fatalf("new memory facade: %v", err)
	}

	orch := New(Config{
		Sessions:   sessions,
		Memory:     mem,
		Agents:     registry,
		Classifier: classifier.New(gw, prompts, registry, classifier.Params{}),
		Decomposer: decomposer.New(gw, prompts, decomposer.Params{}),
		Executor:   executor.New(executor.Config{}),
		Aggregator: aggregator.New(gw, prompts, aggregator.Params{}),
	})

	return &harness{orch: orch, sessions: sessions}
}

func TestAnswer_SingleStrategyBypassesExecutor(t *testing.T) {
	h := newHarness(t, `{"agents":["researcher"],"strategy":"single","rationale":"facts"}`, "", "")

	resp, err := h.orch.Answer(context.Background(), Request{Query: "find me some facts"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Content != "researcher says: find me some facts" {
		t.Errorf("Answer() content = %q", resp.Content)
	}
	if len(resp.Contributors) != 1 || resp.Contributors[0].Agent != "researcher" || !resp.Contributors[0].Used {
		t.Errorf("Answer() contributors = %+v", resp.Contributors)
	}
	if resp.SessionID == "" {
		t.Errorf("Answer() did not assign a session id")
	}
}

func TestAnswer_ParallelStrategyRunsAllAgents(t *testing.T) {
	h := newHarness(t,
		`{"agents":["researcher","engineer"],"strategy":"parallel","rationale":"both"}`,
		"",
		"combined: researcher says: q and engineer says: q",
	)

	resp, err := h.orch.Answer(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(resp.Contributors) != 2 {
		t.Fatalf("Answer() contributors = %+v, want 2", resp.Contributors)
	}
}

func TestAnswer_CollaborativeStrategyFollowsTaskGraph(t *testing.T) {
	plan := `[{"id":"t1","agent":"researcher","input":"find facts","depends_on":[]},{"id":"t2","agent":"engineer","input":"write code","depends_on":["t1"]}]`
	h := newHarness(t,
		`{"agents":["researcher","engineer"],"strategy":"collaborative","rationale":"chain"}`,
		plan,
		"combined result",
	)

	resp, err := h.orch.Answer(context.Background(), Request{Query: "build a thing"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(resp.Contributors) != 2 {
		t.Fatalf("Answer() contributors = %+v, want 2", resp.Contributors)
	}
}

func TestAnswer_CollaborativeFallsBackToSingleOnCycle(t *testing.T) {
	plan := `[{"id":"t1","agent":"researcher","input":"a","depends_on":["t2"]},{"id":"t2","agent":"engineer","input":"b","depends_on":["t1"]}]`
	h := newHarness(t,
		`{"agents":["researcher","engineer"],"strategy":"collaborative","rationale":"chain"}`,
		plan,
		"",
	)

	resp, err := h.orch.Answer(context.Background(), Request{Query: "build a thing"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if len(resp.Contributors) != 1 {
		t.Fatalf("Answer() contributors = %+v, want 1 (fallback to single agent)", resp.Contributors)
	}
}

func TestAnswer_OverrideBypassesClassifier(t *testing.T) {
	h := newHarness(t, `{"agents":["engineer"],"strategy":"single","rationale":"wrong pick"}`, "", "")

	resp, err := h.orch.Answer(context.Background(), Request{
		Query:            "q",
		OverrideAgents:   []string{"researcher"},
		OverrideStrategy: agent.StrategySingle,
	})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.Contributors[0].Agent != "researcher" {
		t.Errorf("Answer() agent = %q, want override to win over the classifier's %q", resp.Contributors[0].Agent, "engineer")
	}
}

func TestAnswer_PersistsUserAndAssistantMessages(t *testing.T) {
	h := newHarness(t, `{"agents":["researcher"],"strategy":"single","rationale":"facts"}`, "", "")

	resp, err := h.orch.Answer(context.Background(), Request{Query: "find me some facts"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	history, err := h.sessions.History(context.Background(), resp.SessionID, session.ViewRaw)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("History() len = %d, want 2 (user + assistant)", len(history))
	}
	if history[0].Role != session.RoleUser || history[1].Role != session.RoleAssistant {
		t.Errorf("History() roles = [%s, %s], want [user, assistant]", history[0].Role, history[1].Role)
	}
}

func TestAnswer_ParallelStrategyPersistsOnePerContributorPlusAggregator(t *testing.T) {
	h := newHarness(t,
		`{"agents":["researcher","engineer"],"strategy":"parallel","rationale":"both"}`,
		"",
		"combined: researcher says: q and engineer says: q",
	)

	resp, err := h.orch.Answer(context.Background(), Request{Query: "q"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}

	history, err := h.sessions.History(context.Background(), resp.SessionID, session.ViewRaw)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 4 {
		t.Fatalf("History() len = %d, want 4 (user, assistant(researcher), assistant(engineer), assistant(aggregator))", len(history))
	}
	if history[1].Agent != "researcher" || history[2].Agent != "engineer" {
		t.Errorf("History() contributor agents = [%s, %s], want [researcher engineer]", history[1].Agent, history[2].Agent)
	}
	if history[3].Agent != session.AggregatorAgent {
		t.Errorf("History() final message agent = %q, want %q", history[3].Agent, session.AggregatorAgent)
	}

	presentation, err := h.sessions.History(context.Background(), resp.SessionID, session.ViewPresentation)
	if err != nil {
		t.Fatalf("History(ViewPresentation) error = %v", err)
	}
	if len(presentation) != 2 {
		t.Fatalf("History(ViewPresentation) len = %d, want 2 (user + aggregator)", len(presentation))
	}
	if presentation[1].Agent != session.AggregatorAgent {
		t.Errorf("History(ViewPresentation) final agent = %q, want %q", presentation[1].Agent, session.AggregatorAgent)
	}
}

func TestToTurns_MergesConsecutiveAssistantMessagesIntoOneTurn(t *testing.T) {
	history := []session.Message{
		{Role: session.RoleUser, Content: "q1"},
		{Role: session.RoleAssistant, Agent: "engineer", Content: "a1"},
		{Role: session.RoleUser, Content: "q2"},
		{Role: session.RoleAssistant, Agent: "researcher", Content: "partial"},
		{Role: session.RoleAssistant, Agent: "engineer", Content: "partial2"},
		{Role: session.RoleAssistant, Agent: session.AggregatorAgent, Content: "final"},
	}

	turns := toTurns(history, 0)
	if len(turns) != 2 {
		t.Fatalf("toTurns() len = %d, want 2", len(turns))
	}
	if turns[0].UserContent != "q1" || turns[0].AssistantContent != "a1" {
		t.Errorf("toTurns()[0] = %+v", turns[0])
	}
	want := model.MergeContent("partial", "partial2", "final")
	if turns[1].UserContent != "q2" || turns[1].AssistantContent != want {
		t.Errorf("toTurns()[1] = %+v, want assistant content %q", turns[1], want)
	}
}

func TestAnswer_ReusesExistingSession(t *testing.T) {
	h := newHarness(t, `{"agents":["researcher"],"strategy":"single","rationale":"facts"}`, "", "")

	id := session.New()
	if _, err := h.sessions.GetOrCreate(context.Background(), id); err != nil {
		t.Fatalf("GetOrCreate() error = %v", err)
	}

	resp, err := h.orch.Answer(context.Background(), Request{SessionID: id, Query: "q"})
	if err != nil {
		t.Fatalf("Answer() error = %v", err)
	}
	if resp.SessionID != id {
		t.Errorf("Answer() session id = %q, want %q", resp.SessionID, id)
	}
}
