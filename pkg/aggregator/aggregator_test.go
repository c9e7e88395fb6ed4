package aggregator

import (
	"context"
	"fmt"
	"testing"

	"github.com/conclave-ai/conclave/pkg/agent"
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
		prompt.AggregatorSynthesize: "query: {query}\n{contributions}",
	})
	if err != nil {
		t.Fatalf("new prompt store: %v", err)
	}
	return store
}

func newAggregator(t *testing.T, text string, err error) *Aggregator {
	t.Helper()
	gw := model.New(&stubProvider{text: text, err: err}, model.RetryPolicy{})
	return New(gw, newStore(t), Params{})
}

func TestSynthesize_SingleResponseBypassesGateway(t *testing.T) {
	a := newAggregator(t, "", fmt.Errorf("should never be called"))
	responses := []*agent.Response{{Agent: "researcher", Content: "the facts", Confidence: 0.8}}

	result, err := a.Synthesize(context.Background(), "q", responses)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.Content != "the facts" {
		t.Errorf("Synthesize() content = %q, want %q", result.Content, "the facts")
	}
	if len(result.Contributors) != 1 || !result.Contributors[0].Used {
		t.Errorf("Synthesize() contributors = %+v, want single Used contributor", result.Contributors)
	}
}

func TestSynthesize_MultipleResponsesCallsGateway(t *testing.T) {
	a := newAggregator(t, "combined answer drawing on the facts and the code", nil)
	responses := []*agent.Response{
		{Agent: "researcher", Content: "the facts about the topic", Confidence: 0.8},
		{Agent: "engineer", Content: "the code that implements it", Confidence: 0.7},
	}

	result, err := a.Synthesize(context.Background(), "q", responses)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.Content != "combined answer drawing on the facts and the code" {
		t.Errorf("Synthesize() content = %q", result.Content)
	}
	if len(result.Contributors) != 2 {
		t.Fatalf("Synthesize() len(contributors) = %d, want 2", len(result.Contributors))
	}
}

func TestSynthesize_NoResponsesIsError(t *testing.T) {
	a := newAggregator(t, "x", nil)
	_, err := a.Synthesize(context.Background(), "q", nil)
	if err == nil {
		t.Fatalf("Synthesize() error = nil, want error for empty response set")
	}
}

func TestSynthesize_NilResponsesAreDropped(t *testing.T) {
	a := newAggregator(t, "", nil)
	responses := []*agent.Response{nil, {Agent: "researcher", Content: "only one left", Confidence: 0.8}, nil}

	result, err := a.Synthesize(context.Background(), "q", responses)
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.Content != "only one left" {
		t.Errorf("Synthesize() content = %q, want %q", result.Content, "only one left")
	}
}

func TestSynthesize_GatewayErrorPropagates(t *testing.T) {
	a := newAggregator(t, "", fmt.Errorf("model down"))
	responses := []*agent.Response{
		{Agent: "researcher", Content: "a", Confidence: 0.8},
		{Agent: "engineer", Content: "b", Confidence: 0.7},
	}
	_, err := a.Synthesize(context.Background(), "q", responses)
	if err == nil {
		t.Fatalf("Synthesize() error = nil, want error when gateway fails")
	}
}

func TestAttribute_MarksOverlappingContributorsUsed(t *testing.T) {
	responses := []*agent.Response{
		{Agent: "researcher", Content: "the quick brown fox jumps over the lazy dog", Confidence: 0.8},
		{Agent: "engineer", Content: "completely unrelated text about nothing here", Confidence: 0.7},
	}
	content := "the quick brown fox jumps over the lazy dog today"

	contributors := attribute(content, responses)
	if len(contributors) != 2 {
		t.Fatalf("attribute() len = %d, want 2", len(contributors))
	}
	if !contributors[0].Used {
		t.Errorf("contributors[0].Used = false, want true for high-overlap content")
	}
	if contributors[1].Used {
		t.Errorf("contributors[1].Used = true, want false for unrelated content")
	}
}

func TestSynthesizeStream_SingleResponseEmitsOneChunk(t *testing.T) {
	a := newAggregator(t, "", nil)
	responses := []*agent.Response{{Agent: "researcher", Content: "the facts", Confidence: 0.8}}

	ch, err := a.SynthesizeStream(context.Background(), "q", responses)
	if err != nil {
		t.Fatalf("SynthesizeStream() error = %v", err)
	}
	var got []Chunk
	for c := range ch {
		got = append(got, c)
	}
	if len(got) != 1 {
		t.Fatalf("SynthesizeStream() emitted %d chunks, want 1", len(got))
	}
	if !got[0].Done || got[0].Result == nil || got[0].Result.Content != "the facts" {
		t.Errorf("SynthesizeStream() chunk = %+v, want a done chunk with the bypassed content", got[0])
	}
}

func TestSynthesizeStream_MultipleResponsesRelaysDeltas(t *testing.T) {
	gw := model.New(&stubProvider{chunks: []string{"hello ", "world"}}, model.RetryPolicy{})
	a := New(gw, newStore(t), Params{})
	responses := []*agent.Response{
		{Agent: "researcher", Content: "hello", Confidence: 0.8},
		{Agent: "engineer", Content: "world", Confidence: 0.7},
	}

	ch, err := a.SynthesizeStream(context.Background(), "q", responses)
	if err != nil {
		t.Fatalf("SynthesizeStream() error = %v", err)
	}
	var deltas string
	var final *Chunk
	for c := range ch {
		if c.Done {
			cp := c
			final = &cp
			continue
		}
		deltas += c.Delta
	}
	if deltas != "hello world" {
		t.Errorf("SynthesizeStream() deltas = %q, want %q", deltas, "hello world")
	}
	if final == nil || final.Result == nil || final.Result.Content != "hello world" {
		t.Fatalf("SynthesizeStream() final chunk = %+v, want Result.Content = %q", final, "hello world")
	}
}

func TestSynthesizeStream_NoResponsesIsError(t *testing.T) {
	a := newAggregator(t, "", nil)
	_, err := a.SynthesizeStream(context.Background(), "q", nil)
	if err == nil {
		t.Fatalf("SynthesizeStream() error = nil, want error for empty response set")
	}
}
