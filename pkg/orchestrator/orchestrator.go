// Package orchestrator exposes the single public entry point: Answer and
// AnswerStream. It wires together the session store, memory facade,
// classifier, decomposer, executor, and aggregator into the request
// pipeline described by the rest of this module's packages, none of which
// know about each other directly.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/aggregator"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/classifier"
	"github.com/conclave-ai/conclave/pkg/decomposer"
	"github.com/conclave-ai/conclave/pkg/executor"
	"github.com/conclave-ai/conclave/pkg/memory"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/session"
)

// State is one point in a request's lifecycle, surfaced for observability
// and as the streaming variant's progress markers.
type State string

const (
	StateReceived  State = "received"
	StateClassified State = "classified"
	StateDecomposed State = "decomposed"
	StateDispatched State = "dispatched"
	StateAgentsRunning State = "agents_running"
	StateAggregating State = "aggregating"
	StatePersisted  State = "persisted"
	StateDone       State = "done"
	StateFailed     State = "failed"
	StateCancelled  State = "cancelled"
)

// Request is one call to Answer/AnswerStream.
type Request struct {
	SessionID string
	Owner     string
	Query     string

	// OverrideAgents and OverrideStrategy bypass the classifier entirely
	// when set, matching spec.md 4.J's "override > classifier > fallback."
	OverrideAgents   []string
	OverrideStrategy agent.Strategy

	HistoryWindow  int
	MemoryTopK     int
	AppendFailureMarker bool
}

// Response is what Answer returns on success.
type Response struct {
	Content      string
	Contributors []aggregator.Contributor
	SessionID    string
	Duration     time.Duration
}

// Config wires every component the orchestrator dispatches to.
type Config struct {
	Sessions    session.Store
	Memory      *memory.Facade
	Agents      *agent.Registry
	Classifier  *classifier.Classifier
	Decomposer  *decomposer.Decomposer
	Executor    *executor.Executor
	Aggregator  *aggregator.Aggregator

	DefaultHistoryWindow int
	DefaultMemoryTopK    int
}

type Orchestrator struct {
	sessions   session.Store
	mem        *memory.Facade
	agents     *agent.Registry
	classifier *classifier.Classifier
	decomposer *decomposer.Decomposer
	executor   *executor.Executor
	aggregator *aggregator.Aggregator

	historyWindow int
	memoryTopK    int
}

func New(cfg Config) *Orchestrator {
	historyWindow := cfg.DefaultHistoryWindow
	if historyWindow == 0 {
		historyWindow = 10
	}
	memoryTopK := cfg.DefaultMemoryTopK
	if memoryTopK == 0 {
		memoryTopK = 5
	}
	return &Orchestrator{
		sessions:      cfg.Sessions,
		mem:           cfg.Memory,
		agents:        cfg.Agents,
		classifier:    cfg.Classifier,
		decomposer:    cfg.Decomposer,
		executor:      cfg.Executor,
		aggregator:    cfg.Aggregator,
		historyWindow: historyWindow,
		memoryTopK:    memoryTopK,
	}
}

// Answer runs the full nine-step pipeline from spec.md 4.J and returns the
// synthesized reply. Cancellation of ctx surfaces as apperr.Cancelled; the
// user message remains persisted, no assistant message is appended.
func (o *Orchestrator) Answer(ctx context.Context, req Request) (*Response, error) {
	start := time.Now()

	sess, err := o.acquireSession(ctx, req)
	if err != nil {
		return nil, err
	}

	if err := o.sessions.Append(ctx, sess.ID, session.Message{
		Role:      session.RoleUser,
		Content:   req.Query,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "orchestrator: append user message", err)
	}

	run, err := o.buildRunContext(ctx, sess.ID, req)
	if err != nil {
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, apperr.Wrap(apperr.Cancelled, "orchestrator: cancelled before classification", err)
	}

	routing, err := o.route(ctx, req, run)
	if err != nil {
		return nil, err
	}
	run.Routing = routing

	selected, err := o.agents.Resolve(routing.Agents)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "orchestrator: resolve routed agents", err)
	}

	if routing.Strategy == agent.StrategyCollaborative {
		graph, fb, err := o.decomposer.Decompose(ctx, req.Query, routing.Agents)
		if err != nil {
			return nil, apperr.Wrap(apperr.BadRequest, "orchestrator: decompose", err)
		}
		if fb != nil {
			run.Routing = *fb
			selected, err = o.agents.Resolve(fb.Agents)
			if err != nil {
				return nil, apperr.Wrap(apperr.BadRequest, "orchestrator: resolve fallback agents", err)
			}
			run.Routing.Strategy = agent.StrategySingle
		} else {
			run.TaskGraph = graph
		}
	}

	responses, err := o.dispatch(ctx, run, selected)
	if err != nil {
		if errors.Is(ctx.Err(), context.Canceled) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, apperr.Wrap(apperr.Cancelled, "orchestrator: dispatch cancelled", err)
		}
		return nil, apperr.Wrap(apperr.ModelUnavailable, "orchestrator: dispatch failed", err)
	}

	result, err := o.aggregator.Synthesize(ctx, req.Query, responses)
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelUnavailable, "orchestrator: aggregate failed", err)
	}

	if err := o.persist(ctx, sess.ID, responses, result); err != nil {
		return nil, err
	}

	return &Response{
		Content:      result.Content,
		Contributors: result.Contributors,
		SessionID:    sess.ID,
		Duration:     time.Since(start),
	}, nil
}

func (o *Orchestrator) acquireSession(ctx context.Context, req Request) (*session.Session, error) {
	if req.SessionID != "" {
		sess, err := o.sessions.GetOrCreate(ctx, req.SessionID)
		if err != nil {
			return nil, apperr.Wrap(apperr.StorageError, "orchestrator: acquire session", err)
		}
		return sess, nil
	}
	sess, err := o.sessions.Create(ctx, req.Owner, "")
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "orchestrator: create session", err)
	}
	return sess, nil
}

func (o *Orchestrator) buildRunContext(ctx context.Context, sessionID string, req Request) (*agent.RunContext, error) {
	window := req.HistoryWindow
	if window == 0 {
		window = o.historyWindow
	}

	history, err := o.sessions.History(ctx, sessionID, session.ViewRaw)
	if err != nil {
		return nil, apperr.Wrap(apperr.StorageError, "orchestrator: load history", err)
	}
	turns := toTurns(history, window)

	var hits []agent.MemoryHit
	if o.mem != nil {
		topK := req.MemoryTopK
		if topK == 0 {
			topK = o.memoryTopK
		}
		results, err := o.mem.Search(ctx, memory.KindVector, req.Query, topK, memory.Filters{})
		if err == nil {
			for _, r := range results {
				hits = append(hits, agent.MemoryHit{Content: r.Content, Score: r.Score})
			}
		}
	}

	return &agent.RunContext{
		Query:         req.Query,
		SessionID:     sessionID,
		HistoryWindow: turns,
		MemoryHits:    hits,
		StartedAt:     time.Now().UTC(),
	}, nil
}

// route resolves the RoutingDecision: an explicit override wins, otherwise
// the classifier decides (which itself falls back internally on model
// failure, so this call never errors in a way that blocks the pipeline).
func (o *Orchestrator) route(ctx context.Context, req Request, run *agent.RunContext) (agent.RoutingDecision, error) {
	if len(req.OverrideAgents) > 0 {
		return o.classifier.Override(req.OverrideAgents, req.OverrideStrategy)
	}
	recent := make([]agent.HistoryTurn, len(run.HistoryWindow))
	copy(recent, run.HistoryWindow)
	return o.classifier.Classify(ctx, req.Query, recent)
}

// dispatch fans out to the executor according to strategy, bypassing it
// entirely for strategy=single (spec.md 4.H's "direct call bypasses the
// executor").
func (o *Orchestrator) dispatch(ctx context.Context, run *agent.RunContext, selected []agent.Agent) ([]*agent.Response, error) {
	switch run.Routing.Strategy {
	case agent.StrategySingle:
		resp, err := selected[0].Process(ctx, run)
		if err != nil {
			return nil, err
		}
		return []*agent.Response{resp}, nil

	case agent.StrategyParallel:
		return o.executor.RunParallel(ctx, run, selected)

	case agent.StrategyCollaborative:
		byName := make(map[string]agent.Agent, len(selected))
		for _, a := range selected {
			byName[a.Name()] = a
		}
		return o.executor.RunGraph(ctx, run, byName)

	default:
		return nil, apperr.New(apperr.ConsistencyViolation, "orchestrator: unknown strategy in routing decision")
	}
}

// persist appends the turn's assistant messages. A single-agent turn
// appends just that agent's message. A multi-agent turn appends one
// message per contributing agent, in dispatch order, followed by the
// synthesized answer tagged AggregatorAgent, so raw history shows the full
// group and presentation view can collapse it back to one answer.
func (o *Orchestrator) persist(ctx context.Context, sessionID string, responses []*agent.Response, result aggregator.Result) error {
	now := time.Now().UTC()

	if len(responses) == 1 {
		return o.sessions.Append(ctx, sessionID, session.Message{
			Role:      session.RoleAssistant,
			Agent:     responses[0].Agent,
			Content:   result.Content,
			CreatedAt: now,
		})
	}

	for _, resp := range responses {
		if resp == nil {
			continue
		}
		if err := o.sessions.Append(ctx, sessionID, session.Message{
			Role:      session.RoleAssistant,
			Agent:     resp.Agent,
			Content:   resp.Content,
			CreatedAt: now,
		}); err != nil {
			return err
		}
	}

	return o.sessions.Append(ctx, sessionID, session.Message{
		Role:      session.RoleAssistant,
		Agent:     session.AggregatorAgent,
		Content:   result.Content,
		CreatedAt: now,
	})
}

// toTurns pairs up raw history into user/assistant turns. A multi-agent
// turn leaves several consecutive assistant messages in raw storage (one
// per contributor plus the aggregator's); these are merged into a single
// AssistantContent the same way the gateway's alternation rule merges
// consecutive same-role messages (spec.md 8.1), so a collaborative turn
// still reads as one assistant reply to the next request's history.
func toTurns(history []session.Message, window int) []agent.HistoryTurn {
	var turns []agent.HistoryTurn
	var pending agent.HistoryTurn
	for _, m := range history {
		switch m.Role {
		case session.RoleUser:
			if pending.UserContent != "" {
				turns = append(turns, pending)
				pending = agent.HistoryTurn{}
			}
			pending.UserContent = m.Content
		case session.RoleAssistant:
			if pending.AssistantContent != "" {
				pending.AssistantContent = model.MergeContent(pending.AssistantContent, m.Content)
				continue
			}
			pending.AssistantContent = m.Content
		}
	}
	if pending.UserContent != "" || pending.AssistantContent != "" {
		turns = append(turns, pending)
	}
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}
	return turns
}
