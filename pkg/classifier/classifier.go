// Package classifier turns a user query plus conversation context into a
// RoutingDecision: which agents to consult and how to combine their
// output. The primary path renders classifier.selection and asks the Model
// Gateway for a structured object; an unparseable or invalid response
// falls back to a keyword-overlap heuristic so the system stays live even
// when the model is degraded (spec.md 4.F).
package classifier

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/invopop/jsonschema"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// decisionSchema is generated once from agent.RoutingDecision and reused
// for every classification call.
var decisionSchema = reflectSchema()

func reflectSchema() map[string]any {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: false,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(agent.RoutingDecision))
	data, err := json.Marshal(schema)
	if err != nil {
		panic(fmt.Sprintf("classifier: marshal schema: %v", err))
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		panic(fmt.Sprintf("classifier: unmarshal schema: %v", err))
	}
	delete(m, "$schema")
	delete(m, "$id")
	return m
}

// Params controls the Gateway call: spec.md 4.F requires low temperature
// and a small max_tokens for the selection prompt.
type Params struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
}

func defaultParams(p Params) model.Params {
	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = 256
	}
	return model.Params{
		ModelID:       p.ModelID,
		MaxTokens:     maxTokens,
		Temperature:   p.Temperature,
		AttemptBudget: 2,
	}
}

// Classifier produces RoutingDecisions for incoming queries.
type Classifier struct {
	gateway  model.Gateway
	prompts  *prompt.Store
	registry *agent.Registry
	params   Params

	mu       sync.RWMutex
	keywords map[string][]string
}

func New(gateway model.Gateway, prompts *prompt.Store, registry *agent.Registry, params Params) *Classifier {
	return &Classifier{gateway: gateway, prompts: prompts, registry: registry, params: params, keywords: make(map[string][]string)}
}

// SetKeywords records extra keywords the fallback heuristic should credit
// toward agentName, on top of its registered capabilities. Backs
// POST /control/agent/config's config_type=keywords.
func (c *Classifier) SetKeywords(agentName string, keywords []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keywords[agentName] = keywords
}

func (c *Classifier) keywordsFor(agentName string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.keywords[agentName]
}

// Classify renders classifier.selection, calls the Gateway, and validates
// the response against the RoutingDecision schema. On any parse/validation
// failure it falls back to Fallback.
func (c *Classifier) Classify(ctx context.Context, query string, recentConversation []agent.HistoryTurn) (agent.RoutingDecision, error) {
	descriptors := c.registry.Descriptors()
	if len(descriptors) == 0 {
		return agent.RoutingDecision{}, apperr.New(apperr.BadRequest, "classifier: no agents registered")
	}

	catalog := formatCatalog(descriptors)
	historySummary := formatHistory(recentConversation)

	rendered, err := c.prompts.Render(prompt.ClassifierSelection, prompt.Vars{
		"agent_catalog":   catalog,
		"history_summary": historySummary,
		"query":           query,
	})
	if err != nil {
		return agent.RoutingDecision{}, apperr.Wrap(apperr.BadRequest, "classifier: render selection prompt", err)
	}

	text, err := c.gateway.Complete(ctx, []model.Message{
		{Role: model.RoleUser, Content: rendered},
	}, defaultParams(c.params))
	if err != nil {
		return c.fallback(query, descriptors), nil
	}

	decision, err := parseDecision(text)
	if err != nil {
		return c.fallback(query, descriptors), nil
	}
	if err := validateDecision(decision, descriptors); err != nil {
		return c.fallback(query, descriptors), nil
	}
	return decision, nil
}

// Override bypasses classification entirely and constructs a
// RoutingDecision directly from a control-surface request (spec.md 4.F
// last paragraph).
func (c *Classifier) Override(agents []string, strategy agent.Strategy) (agent.RoutingDecision, error) {
	descriptors := c.registry.Descriptors()
	decision := agent.RoutingDecision{Agents: agents, Strategy: strategy, Rationale: "control-surface override"}
	if err := validateDecision(decision, descriptors); err != nil {
		return agent.RoutingDecision{}, apperr.Wrap(apperr.BadRequest, "classifier: invalid override", err)
	}
	return decision, nil
}

func parseDecision(text string) (agent.RoutingDecision, error) {
	text = strings.TrimSpace(text)
	// Models occasionally wrap JSON in a fenced code block despite
	// instructions; strip it before parsing.
	if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```json")
		text = strings.TrimPrefix(text, "```")
		text = strings.TrimSuffix(text, "```")
		text = strings.TrimSpace(text)
	}

	var decision agent.RoutingDecision
	if err := json.Unmarshal([]byte(text), &decision); err != nil {
		return agent.RoutingDecision{}, fmt.Errorf("classifier: unparseable decision: %w", err)
	}
	return decision, nil
}

func validateDecision(d agent.RoutingDecision, descriptors []agent.Descriptor) error {
	if len(d.Agents) == 0 {
		return fmt.Errorf("classifier: decision names no agents")
	}
	known := make(map[string]bool, len(descriptors))
	for _, desc := range descriptors {
		known[desc.Name] = true
	}
	for _, name := range d.Agents {
		if !known[name] {
			return fmt.Errorf("classifier: unknown agent %q", name)
		}
	}
	switch d.Strategy {
	case agent.StrategySingle, agent.StrategyParallel, agent.StrategyCollaborative:
	default:
		return fmt.Errorf("classifier: unknown strategy %q", d.Strategy)
	}
	if d.Strategy == agent.StrategySingle && len(d.Agents) != 1 {
		return fmt.Errorf("classifier: strategy=single requires exactly one agent, got %d", len(d.Agents))
	}
	return nil
}

// fallback scores each agent by keyword overlap with query and returns the
// top-ranked one with strategy=single, guaranteeing liveness when the model
// is unavailable or returns unparseable output.
func (c *Classifier) fallback(query string, descriptors []agent.Descriptor) agent.RoutingDecision {
	queryWords := tokenize(query)

	best := descriptors[0].Name
	bestScore := -1
	for _, d := range descriptors {
		score := overlap(queryWords, d.Capabilities) + overlap(queryWords, c.keywordsFor(d.Name))
		if score > bestScore {
			bestScore = score
			best = d.Name
		}
	}
	return agent.RoutingDecision{
		Agents:    []string{best},
		Strategy:  agent.StrategySingle,
		Rationale: "keyword-overlap fallback: classifier output was unparseable or invalid",
	}
}

func overlap(queryWords map[string]struct{}, capabilities []string) int {
	var score int
	for _, capability := range capabilities {
		for _, word := range tokenizeString(capability) {
			if _, ok := queryWords[word]; ok {
				score++
			}
		}
	}
	return score
}

func tokenize(text string) map[string]struct{} {
	words := make(map[string]struct{})
	for _, w := range tokenizeString(text) {
		words[w] = struct{}{}
	}
	return words
}

func tokenizeString(text string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,!?;:\"'()[]{}-")
		if len(w) > 2 {
			out = append(out, w)
		}
	}
	return out
}

func formatCatalog(descriptors []agent.Descriptor) string {
	var sb strings.Builder
	for _, d := range descriptors {
		fmt.Fprintf(&sb, "- %s: %s\n", d.Name, strings.Join(d.Capabilities, ", "))
	}
	return sb.String()
}

func formatHistory(turns []agent.HistoryTurn) string {
	if len(turns) == 0 {
		return "No prior conversation."
	}
	var sb strings.Builder
	for _, t := range turns {
		if t.UserContent != "" {
			fmt.Fprintf(&sb, "user: %s\n", t.UserContent)
		}
		if t.AssistantContent != "" {
			fmt.Fprintf(&sb, "assistant: %s\n", t.AssistantContent)
		}
	}
	return sb.String()
}

// Schema exposes the generated JSON schema, useful for tests and for a
// control-surface endpoint that documents the expected classifier shape.
func Schema() map[string]any {
	return decisionSchema
}
