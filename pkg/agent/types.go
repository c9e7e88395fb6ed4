// Package agent defines the specialist contract every participant in a run
// implements, plus the per-request working set (RunContext) that flows
// between the classifier, decomposer, executor, and aggregator. It sits
// below those packages in the dependency graph: they import agent for its
// types, agent never imports any of them.
package agent

import "time"

// Strategy is the routing mode the classifier picks for a query.
type Strategy string

const (
	StrategySingle        Strategy = "single"
	StrategyParallel       Strategy = "parallel"
	StrategyCollaborative Strategy = "collaborative"
)

// Descriptor is the immutable-at-runtime-unless-updated-via-control-surface
// record the classifier and registry expose for each registered agent.
type Descriptor struct {
	Name             string
	Capabilities     []string
	PromptTemplateID string
	Active           bool
}

// RoutingDecision is the classifier's output: which agents to consult and
// how to combine their output.
type RoutingDecision struct {
	Agents    []string `json:"agents"`
	Strategy  Strategy `json:"strategy"`
	Rationale string   `json:"rationale"`
}

// TaskNode is one node of the decomposer's task DAG. A node cannot execute
// until every id in DependsOn has completed; the executor records completed
// responses in RunContext.PartialOutputs and does not set Output.
type TaskNode struct {
	ID         string
	Agent      string
	Input      string
	DependsOn  []string
	Output     *Response
}

// MemoryHit is one ranked memory-layer result surfaced to an agent when it
// composes its prompt.
type MemoryHit struct {
	Content string
	Score   float64
}

// RunContext is the per-request working set threaded through classify ->
// decompose -> execute -> aggregate. Components read the fields they need
// and, where applicable, populate PartialOutputs as task nodes complete.
type RunContext struct {
	Query          string
	SessionID      string
	HistoryWindow  []HistoryTurn
	MemoryHits     []MemoryHit
	Routing        RoutingDecision
	TaskGraph      []TaskNode
	PartialOutputs map[string]*Response
	StartedAt      time.Time
}

// HistoryTurn is one user/assistant pair from the conversation history,
// already windowed to the last N turns before an agent ever sees it.
type HistoryTurn struct {
	UserContent      string
	AssistantContent string
}

// Response is what Process/ProcessStream return: the specialist's
// contribution plus a confidence score the aggregator can weigh.
type Response struct {
	Agent      string
	Content    string
	Confidence float64
}

// ResponseChunk is one partial-text delta from ProcessStream, terminated by
// a chunk with Done set to true.
type ResponseChunk struct {
	Agent   string
	Delta   string
	Done    bool
	Final   *Response
}
