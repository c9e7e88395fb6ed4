package aggregator

import (
	"context"
	"strings"

	"github.com/conclave-ai/conclave/pkg/agent"
	"github.com/conclave-ai/conclave/pkg/apperr"
	"github.com/conclave-ai/conclave/pkg/model"
	"github.com/conclave-ai/conclave/pkg/prompt"
)

// Chunk is one delta of the synthesized answer. The final chunk carries
// Done=true and Result populated with attribution.
type Chunk struct {
	Delta  string
	Done   bool
	Result *Result
	Err    error
}

// SynthesizeStream is the streaming counterpart of Synthesize. A lone
// response still bypasses the Gateway: its content is emitted as a single
// chunk rather than streamed token by token, since there is nothing left
// to synthesize.
func (a *Aggregator) SynthesizeStream(ctx context.Context, query string, responses []*agent.Response) (<-chan Chunk, error) {
	responses = dropNil(responses)
	if len(responses) == 0 {
		return nil, apperr.New(apperr.BadRequest, "aggregator: no agent responses to synthesize")
	}

	if len(responses) == 1 {
		r := responses[0]
		out := make(chan Chunk, 1)
		result := &Result{Content: r.Content, Contributors: []Contributor{{Agent: r.Agent, Confidence: r.Confidence, Used: true}}}
		out <- Chunk{Delta: r.Content, Done: true, Result: result}
		close(out)
		return out, nil
	}

	rendered, err := a.prompts.Render(prompt.AggregatorSynthesize, prompt.Vars{
		"query":         query,
		"contributions": formatContributions(responses),
	})
	if err != nil {
		return nil, apperr.Wrap(apperr.BadRequest, "aggregator: render synthesize prompt", err)
	}

	upstream, err := a.gateway.Stream(ctx, []model.Message{
		{Role: model.RoleUser, Content: rendered},
	}, defaultParams(a.params))
	if err != nil {
		return nil, apperr.Wrap(apperr.ModelUnavailable, "aggregator: gateway stream", err)
	}

	out := make(chan Chunk)
	go func() {
		defer close(out)
		var full strings.Builder
		for c := range upstream {
			if c.Delta != "" {
				full.WriteString(c.Delta)
				select {
				case out <- Chunk{Delta: c.Delta}:
				case <-ctx.Done():
					return
				}
			}
			if c.Done {
				if c.Err != nil {
					select {
					case out <- Chunk{Done: true, Err: c.Err}:
					case <-ctx.Done():
					}
					return
				}
				content := full.String()
				result := &Result{Content: content, Contributors: attribute(content, responses)}
				select {
				case out <- Chunk{Done: true, Result: result}:
				case <-ctx.Done():
				}
				return
			}
		}
	}()
	return out, nil
}
