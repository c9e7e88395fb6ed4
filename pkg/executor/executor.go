// Package executor dispatches a RoutingDecision or task DAG to the
// specialists that must run it. strategy=single bypasses this package
// entirely (the orchestrator calls the agent directly); strategy=parallel
// runs every selected agent concurrently with no dependency resolution;
// strategy=collaborative schedules the decomposer's task DAG in
// topological layers, materializing each layer's outputs into
// RunContext.PartialOutputs before the next layer starts.
package executor

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/apperr"
)

// Config controls concurrency ceiling and per-task timeout. Concurrency
// defaults to the number of agents dispatched in a given call when zero,
// per spec.md 4.H's "default: agent count."
type Config struct {
	Concurrency    int
	PerTaskTimeout time.Duration
}

type Executor struct {
	concurrency    int
	perTaskTimeout time.Duration
}

func New(cfg Config) *Executor {
	return &Executor{concurrency: cfg.Concurrency, perTaskTimeout: cfg.PerTaskTimeout}
}

// RunParallel runs every agent against the same RunContext concurrently,
// bounded by the configured semaphore, with no dependency resolution.
// Per-agent failures are contained: a failed agent's slot gets a synthetic
// low-confidence note instead of aborting the other agents. Only when every
// agent fails does RunParallel itself return an error.
func (e *Executor) RunParallel(ctx context.Context, run *agent.RunContext, agents []agent.Agent) ([]*agent.Response, error) {
	if len(agents) == 0 {
		return nil, apperr.New(apperr.BadRequest, "executor: no agents to run")
	}

	sem := semaphore.NewWeighted(e.weight(len(agents)))
	group, groupCtx := errgroup.WithContext(ctx)
	results := make([]*agent.Response, len(agents))
	var failures int32

	for i, ag := range agents {
		i, ag := i, ag
		group.Go(func() error {
			if err := sem.Acquire(groupCtx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			resp, err := e.runOne(groupCtx, run, ag, run.Query)
			if err != nil {
				atomic.AddInt32(&failures, 1)
				resp = timeoutNote(ag.Name(), err)
			}
			results[i] = resp
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return nil, err
	}
	if int(failures) == len(agents) {
		return nil, apperr.New(apperr.ModelUnavailable, "executor: every agent in the parallel run failed")
	}
	return results, nil
}

// RunGraph schedules run.TaskGraph in topological layers. Within a layer,
// tasks run concurrently via errgroup; between layers, completed outputs
// are written into run.PartialOutputs before the next layer starts, so
// dependents' prompts can reference them.
func (e *Executor) RunGraph(ctx context.Context, run *agent.RunContext, agents map[string]agent.Agent) ([]*agent.Response, error) {
	layers, err := layer(run.TaskGraph)
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "executor: layering task graph", err)
	}

	if run.PartialOutputs == nil {
		run.PartialOutputs = make(map[string]*agent.Response)
	}
	var mu sync.Mutex

	byID := make(map[string]agent.TaskNode, len(run.TaskGraph))
	for _, n := range run.TaskGraph {
		byID[n.ID] = n
	}

	sem := semaphore.NewWeighted(e.weight(len(agents)))

	for _, nodeIDs := range layers {
		group, groupCtx := errgroup.WithContext(ctx)
		layerOut := make(map[string]*agent.Response, len(nodeIDs))
		for _, id := range nodeIDs {
			id := id
			node := byID[id]
			ag, ok := agents[node.Agent]
			if !ok {
				return nil, apperr.New(apperr.BadRequest, fmt.Sprintf("executor: task %s references unresolved agent %q", node.ID, node.Agent))
			}

			group.Go(func() error {
				if err := sem.Acquire(groupCtx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				input := node.Input
				if deps := dependencyContext(node, run.PartialOutputs); deps != "" {
					input = input + "\n\nContext from prior tasks:\n" + deps
				}

				resp, err := e.runOne(groupCtx, run, ag, input)
				if err != nil {
					resp = timeoutNote(node.Agent, err)
				}

				mu.Lock()
				layerOut[node.ID] = resp
				mu.Unlock()
				return nil
			})
		}
		if err := group.Wait(); err != nil {
			return nil, err
		}
		for id, resp := range layerOut {
			run.PartialOutputs[id] = resp
		}
	}

	// Outputs are gathered in the task graph's declared order, not
	// completion order, so the Aggregator sees contributions in the order
	// the classifier/decomposer laid them out (spec.md 4.I's ordering
	// guarantee), independent of which layer task happened to finish first.
	ordered := make([]*agent.Response, 0, len(run.TaskGraph))
	for _, n := range run.TaskGraph {
		ordered = append(ordered, run.PartialOutputs[n.ID])
	}
	return ordered, nil
}

// runOne invokes a single agent against a query derived from run, applying
// the per-task timeout inherited from the enclosing deadline if one is
// configured.
func (e *Executor) runOne(ctx context.Context, run *agent.RunContext, ag agent.Agent, query string) (*agent.Response, error) {
	taskCtx := ctx
	var cancel context.CancelFunc
	if e.perTaskTimeout > 0 {
		taskCtx, cancel = context.WithTimeout(ctx, e.perTaskTimeout)
		defer cancel()
	}

	taskRun := &agent.RunContext{
		Query:          query,
		SessionID:      run.SessionID,
		HistoryWindow:  run.HistoryWindow,
		MemoryHits:     run.MemoryHits,
		Routing:        run.Routing,
		PartialOutputs: run.PartialOutputs,
		StartedAt:      run.StartedAt,
	}

	return ag.Process(taskCtx, taskRun)
}

func (e *Executor) weight(fallback int) int64 {
	if e.concurrency > 0 {
		return int64(e.concurrency)
	}
	if fallback <= 0 {
		fallback = 1
	}
	return int64(fallback)
}

// timeoutNote synthesizes a low-confidence failure response so the
// aggregator can still account for a task that errored or timed out,
// matching spec.md 4.H's "synthetic failure note."
func timeoutNote(agentName string, err error) *agent.Response {
	return &agent.Response{
		Agent:      agentName,
		Content:    fmt.Sprintf("(%s did not produce output: %v)", agentName, err),
		Confidence: 0.1,
	}
}

func dependencyContext(node agent.TaskNode, outputs map[string]*agent.Response) string {
	var out string
	for _, dep := range node.DependsOn {
		resp, ok := outputs[dep]
		if !ok || resp == nil {
			continue
		}
		out += fmt.Sprintf("[%s]: %s\n", resp.Agent, resp.Content)
	}
	return out
}

// layer groups task node ids into topological layers via Kahn's algorithm:
// layer 0 has no dependencies, layer N depends only on nodes in layers
// < N. The decomposer has already validated acyclicity, but layer
// defends independently in case a graph reaches the executor some other
// way (e.g. a future control-surface endpoint that submits a graph
// directly).
func layer(nodes []agent.TaskNode) ([][]string, error) {
	inDegree := make(map[string]int, len(nodes))
	dependents := make(map[string][]string, len(nodes))
	for _, n := range nodes {
		if _, ok := inDegree[n.ID]; !ok {
			inDegree[n.ID] = 0
		}
		for _, dep := range n.DependsOn {
			inDegree[n.ID]++
			dependents[dep] = append(dependents[dep], n.ID)
		}
	}

	var layers [][]string
	remaining := len(nodes)
	for remaining > 0 {
		var frontier []string
		for id, deg := range inDegree {
			if deg == 0 {
				frontier = append(frontier, id)
			}
		}
		if len(frontier) == 0 {
			return nil, fmt.Errorf("executor: task graph contains a cycle")
		}
		for _, id := range frontier {
			delete(inDegree, id)
			remaining--
		}
		for _, id := range frontier {
			for _, dependent := range dependents[id] {
				inDegree[dependent]--
			}
		}
		layers = append(layers, frontier)
	}
	return layers, nil
}

func maxLayerWidth(layers [][]string) int {
	max := 0
	for _, l := range layers {
		if len(l) > max {
			max = len(l)
		}
	}
	return max
}
