package orchestrator

import (
	"context"
	"time"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/aggregator"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/session"
)

// Event is one item on the AnswerStream channel: a progress marker (State
// set, Delta/Done unset), a delta of the aggregator's final model call
// (Delta set, State empty), a failure (State StateFailed, Err set), or the
// terminal event (State StateDone, Done and Final set).
type Event struct {
	State State
	Agent string // set on StateAgentsRunning markers, one per completed agent
	Delta string
	Done  bool
	Final *Response
	Err   error
}

// AnswerStream follows the same nine-step outline as Answer but yields
// progress markers (classified, decomposed, dispatched, one agents_running
// marker per completed agent carrying its name, aggregating) before the
// aggregator begins streaming, then relays the aggregator's own deltas,
// then a persisted marker. The channel is closed after a Done or Err event.
func (o *Orchestrator) AnswerStream(ctx context.Context, req Request) (<-chan Event, error) {
	out := make(chan Event)
	go o.runStream(ctx, req, out)
	return out, nil
}

func (o *Orchestrator) runStream(ctx context.Context, req Request, out chan<- Event) {
	defer close(out)
	start := time.Now()

	emit := func(e Event) bool {
		select {
		case out <- e:
			return true
		case <-ctx.Done():
			return false
		}
	}

	sess, err := o.acquireSession(ctx, req)
	if err != nil {
		emit(Event{State: StateFailed, Err: err})
		return
	}

	if err := o.sessions.Append(ctx, sess.ID, session.Message{
		Role:      session.RoleUser,
		Content:   req.Query,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		emit(Event{State: StateFailed, Err: apperr.Wrap(apperr.StorageError, "orchestrator: append user message", err)})
		return
	}

	run, err := o.buildRunContext(ctx, sess.ID, req)
	if err != nil {
		emit(Event{State: StateFailed, Err: err})
		return
	}

	routing, err := o.route(ctx, req, run)
	if err != nil {
		emit(Event{State: StateFailed, Err: err})
		return
	}
	run.Routing = routing
	if !emit(Event{State: StateClassified}) {
		return
	}

	selected, err := o.agents.Resolve(routing.Agents)
	if err != nil {
		emit(Event{State: StateFailed, Err: apperr.Wrap(apperr.BadRequest, "orchestrator: resolve routed agents", err)})
		return
	}

	if routing.Strategy == agent.StrategyCollaborative {
		graph, fb, derr := o.decomposer.Decompose(ctx, req.Query, routing.Agents)
		if derr != nil {
			emit(Event{State: StateFailed, Err: apperr.Wrap(apperr.BadRequest, "orchestrator: decompose", derr)})
			return
		}
		if fb != nil {
			run.Routing = *fb
			selected, err = o.agents.Resolve(fb.Agents)
			if err != nil {
				emit(Event{State: StateFailed, Err: apperr.Wrap(apperr.BadRequest, "orchestrator: resolve fallback agents", err)})
				return
			}
			run.Routing.Strategy = agent.StrategySingle
		} else {
			run.TaskGraph = graph
			if !emit(Event{State: StateDecomposed}) {
				return
			}
		}
	}

	if !emit(Event{State: StateDispatched}) {
		return
	}

	responses, err := o.dispatch(ctx, run, selected)
	if err != nil {
		emit(Event{State: StateFailed, Err: apperr.Wrap(apperr.ModelUnavailable, "orchestrator: dispatch failed", err)})
		return
	}
	for _, r := range responses {
		if r == nil {
			continue
		}
		if !emit(Event{State: StateAgentsRunning, Agent: r.Agent}) {
			return
		}
	}

	if !emit(Event{State: StateAggregating}) {
		return
	}

	chunks, err := o.aggregator.SynthesizeStream(ctx, req.Query, responses)
	if err != nil {
		emit(Event{State: StateFailed, Err: apperr.Wrap(apperr.ModelUnavailable, "orchestrator: aggregate failed", err)})
		return
	}

	var final *aggregator.Result
	for c := range chunks {
		if c.Err != nil {
			emit(Event{State: StateFailed, Err: apperr.Wrap(apperr.ModelUnavailable, "orchestrator: aggregate stream failed", c.Err)})
			return
		}
		if c.Delta != "" {
			if !emit(Event{Delta: c.Delta}) {
				return
			}
		}
		if c.Done {
			final = c.Result
		}
	}
	if final == nil {
		emit(Event{State: StateFailed, Err: apperr.New(apperr.ModelUnavailable, "orchestrator: aggregate stream ended without a result")})
		return
	}

	if err := o.persist(ctx, sess.ID, responses, *final); err != nil {
		emit(Event{State: StateFailed, Err: err})
		return
	}
	if !emit(Event{State: StatePersisted}) {
		return
	}

	emit(Event{
		State: StateDone,
		Done:  true,
		Final: &Response{
			Content:      final.Content,
			Contributors: final.Contributors,
			SessionID:    sess.ID,
			Duration:     time.Since(start),
		},
	})
}
