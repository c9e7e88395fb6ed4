// Package aggregator turns the ordered set of agent outputs for a request
// into the single reply returned to the user, with per-agent attribution
// metadata describing whether the synthesized text actually drew on each
// contribution.
package aggregator

import (
	"context"
	"fmt"
	"strings"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// usedThreshold is the Jaccard n-gram overlap below which a contribution
// is considered not meaningfully incorporated into the final answer
// (spec.md 4.I: "Jaccard of content n-grams >= 0.15").
const usedThreshold = 0.15

const ngramSize = 3

// Contributor records one agent's attribution in the final answer.
type Contributor struct {
	Agent      string  `json:"agent"`
	Confidence float64 `json:"confidence"`
	Used       bool    `json:"used"`
}

// Result is the aggregator's output: the synthesized reply plus
// attribution for every agent that contributed a Response.
type Result struct {
	Content      string
	Contributors []Contributor
}

type Params struct {
	ModelID     string
	MaxTokens   int
	Temperature float64
}

func defaultParams(p Params) model.Params {
	maxTokens := p.MaxTokens
	if maxTokens == 0 {
		maxTokens = 2048
	}
	return model.Params{
		ModelID:       p.ModelID,
		MaxTokens:     maxTokens,
		Temperature:   p.Temperature,
		AttemptBudget: 2,
	}
}

type Aggregator struct {
	gateway model.Gateway
	prompts *prompt.Store
	params  Params
}

func New(gateway model.Gateway, prompts *prompt.Store, params Params) *Aggregator {
	return &Aggregator{gateway: gateway, prompts: prompts, params: params}
}

// Synthesize combines responses, ordered as declared by the
// classifier/decomposer (spec.md §5's ordering guarantee), into a single
// reply. A lone response bypasses the Gateway call entirely and becomes
// the answer directly.
func (a *Aggregator) Synthesize(ctx context.Context, query string, responses []*agent.Response) (Result, error) {
	responses = dropNil(responses)
	if len(responses) == 0 {
		return Result{}, apperr.New(apperr.BadRequest, "aggregator: no agent responses to synthesize")
	}

	if len(responses) == 1 {
		r := responses[0]
		return Result{
			Content:      r.Content,
			Contributors: []Contributor{{Agent: r.Agent, Confidence: r.Confidence, Used: true}},
		}, nil
	}

	rendered, err := a.prompts.Render(prompt.AggregatorSynthesize, prompt.Vars{
		"query":         query,
		"contributions": formatContributions(responses),
	})
	if err != nil {
		return Result{}, apperr.Wrap(apperr.BadRequest, "aggregator: render synthesize prompt", err)
	}

	content, err := a.gateway.Complete(ctx, []model.Message{
		{Role: model.RoleUser, Content: rendered},
	}, defaultParams(a.params))
	if err != nil {
		return Result{}, apperr.Wrap(apperr.ModelUnavailable, "aggregator: gateway complete", err)
	}

	return Result{
		Content:      content,
		Contributors: attribute(content, responses),
	}, nil
}

func dropNil(responses []*agent.Response) []*agent.Response {
	out := make([]*agent.Response, 0, len(responses))
	for _, r := range responses {
		if r != nil {
			out = append(out, r)
		}
	}
	return out
}

func formatContributions(responses []*agent.Response) string {
	var sb strings.Builder
	for _, r := range responses {
		fmt.Fprintf(&sb, "--- %s (confidence %.2f) ---\n%s\n\n", r.Agent, r.Confidence, r.Content)
	}
	return sb.String()
}

// attribute scores each response's Jaccard n-gram overlap against the
// final synthesized content, marking Used when it clears usedThreshold.
func attribute(content string, responses []*agent.Response) []Contributor {
	finalGrams := ngrams(content, ngramSize)
	out := make([]Contributor, 0, len(responses))
	for _, r := range responses {
		score := jaccard(ngrams(r.Content, ngramSize), finalGrams)
		out = append(out, Contributor{
			Agent:      r.Agent,
			Confidence: r.Confidence,
			Used:       score >= usedThreshold,
		})
	}
	return out
}

func ngrams(text string, n int) map[string]struct{} {
	words := strings.Fields(strings.ToLower(text))
	grams := make(map[string]struct{})
	if len(words) < n {
		if len(words) > 0 {
			grams[strings.Join(words, " ")] = struct{}{}
		}
		return grams
	}
	for i := 0; i+n <= len(words); i++ {
		grams[strings.Join(words[i:i+n], " ")] = struct{}{}
	}
	return grams
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for g := range a {
		if _, ok := b[g]; ok {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	if union == 0 {
		return 0
	}
	return float64(intersection) / float64(union)
}
