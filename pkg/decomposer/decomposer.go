// Package decomposer turns a collaborative query into a task DAG: a
// sequence of agent.TaskNode with explicit dependency edges. Only invoked
// when the classifier picks strategy=collaborative; every other strategy
// bypasses this package entirely.
package decomposer

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// DefaultMaxNodes caps task fanout from a single decomposition; spec.md
// 4.G: "caps node count (default 8) to prevent runaway fanout."
const DefaultMaxNodes = 8

type Params struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
	MaxNodes    int
}

func (p Params) maxNodes() int {
	if p.MaxNodes > 0 {
		return p.MaxNodes
	}
	return DefaultMaxNodes
}

type Decomposer struct {
	gateway model.Gateway
	prompts *prompt.Store
	params  Params
}

func New(gateway model.Gateway, prompts *prompt.Store, params Params) *Decomposer {
	return &Decomposer{gateway: gateway, prompts: prompts, params: params}
}

type planNode struct {
	ID        string   `json:"id"`
	Agent     string   `json:"agent"`
	Input     string   `json:"input"`
	DependsOn []string `json:"depends_on"`
}

// Decompose renders decomposer.plan, asks the Gateway for a task sequence,
// and validates it. On any failure — unparseable output, a cycle, an
// unknown agent reference, or exceeding MaxNodes — it falls back to
// single-agent routing using the first named agent, matching spec.md
// 4.G's "rejects and falls back to single-agent routing on failure."
func (d *Decomposer) Decompose(ctx context.Context, query string, agents []string) ([]agent.TaskNode, *agent.RoutingDecision, error) {
	if len(agents) == 0 {
		return nil, nil, apperr.New(apperr.BadRequest, "decomposer: no agents to decompose across")
	}

	rendered, err := d.prompts.Render(prompt.DecomposerPlan, prompt.Vars{
		"agent_catalog": strings.Join(agents, ", "),
		"query":         query,
	})
	if err != nil {
		return nil, nil, apperr.Wrap(apperr.BadRequest, "decomposer: render plan prompt", err)
	}

	text, err := d.gateway.Complete(ctx, []model.Message{
		{Role: model.RoleUser, Content: rendered},
	}, d.genParams())
	if err != nil {
		return nil, fallback(agents), nil
	}

	nodes, err := parsePlan(text)
	if err != nil {
		return nil, fallback(agents), nil
	}

	if err := validate(nodes, agents, d.params.maxNodes()); err != nil {
		return nil, fallback(agents), nil
	}

	out := make([]agent.TaskNode, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, agent.TaskNode{ID: n.ID, Agent: n.Agent, Input: n.Input, DependsOn: n.DependsOn})
	}
	return out, nil, nil
}

func (d *Decomposer) genParams() model.Params {
	maxTokens := d.params.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	return model.Params{
		ModelID:       d.params.ModelID,
		MaxTokens:     maxTokens,
		Temperature:   d.params.Temperature,
		AttemptBudget: 2,
	}
}

func parsePlan(text string) ([]planNode, error) {
	text = strings.TrimSpace(text)
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}
	var nodes []planNode
	if err := json.Unmarshal([]byte(text), &nodes); err != nil {
		return nil, fmt.Errorf("decomposer: unparseable plan: %w", err)
	}
	return nodes, nil
}

// validate checks the plan references only known agents, stays within
// maxNodes, and forms an acyclic graph (Kahn's algorithm).
func validate(nodes []planNode, agents []string, maxNodes int) error {
	if len(nodes) == 0 {
		return fmt.Errorf("decomposer: plan has no nodes")
	}
	if len(nodes) > maxNodes {
		return fmt.Errorf("decomposer: plan has %d nodes, exceeds cap %d", len(nodes), maxNodes)
	}

	known := make(map[string]bool, len(agents))
	for _, a := range agents {
		known[a] = true
	}

	ids := make(map[string]bool, len(nodes))
	for _, n := range nodes {
		if n.ID == "" {
			return fmt.Errorf("decomposer: node with empty id")
		}
		if ids[n.ID] {
			return fmt.Errorf("decomposer: duplicate node id %q", n.ID)
		}
		ids[n.ID] = true
		if !known[n.Agent] {
			return fmt.Errorf("decomposer: node %q references unknown agent %q", n.ID, n.Agent)
		}
	}
	for _, n := range nodes {
		for _, dep := range n.DependsOn {
			if !ids[dep] {
				return fmt.Errorf("decomposer: node %q depends on unknown node %q", n.ID, dep)
			}
		}
	}

	return checkAcyclic(nodes)
}

// checkAcyclic runs Kahn's algorithm: repeatedly remove nodes with
// in-degree zero; if any node remains once no more can be removed, a cycle
// exists.
func checkAcyclic(nodes []planNode) error {
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

	var queue []string
	for id, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}

	visited := 0
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		visited++
		for _, dependent := range dependents[id] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if visited != len(nodes) {
		return fmt.Errorf("decomposer: plan contains a cycle")
	}
	return nil
}

// fallback drops the task graph entirely and routes to the first named
// agent directly, matching the decomposer's own liveness guarantee.
func fallback(agents []string) *agent.RoutingDecision {
	return &agent.RoutingDecision{
		Agents:    []string{agents[0]},
		Strategy:  agent.StrategySingle,
		Rationale: "decomposition failed validation; falling back to single-agent routing",
	}
}
