// Package anthropic adapts the Anthropic Claude API to the model.Provider
// contract, converting the gateway's alternation-correct message list into
// anthropic-sdk-go request params and translating SSE events back into
// model.Chunk deltas.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/conclave-ai/conclave/pkg/model"
)

// Provider implements model.Provider against Anthropic's Messages API.
type Provider struct {
	client       anthropic.Client
	defaultModel string
}

// Config holds the settings needed to construct a Provider.
type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("anthropic: API key is required")
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = "claude-sonnet-4-20250514"
	}

	opts := []option.RequestOption{option.WithAPIKey(cfg.APIKey)}
	if strings.TrimSpace(cfg.BaseURL) != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &Provider{
		client:       anthropic.NewClient(opts...),
		defaultModel: defaultModel,
	}, nil
}

func (p *Provider) Name() string { return "anthropic" }

func (p *Provider) Complete(ctx context.Context, messages []model.Message, params model.Params) (string, error) {
	sysMsgs, rest := splitSystem(messages)
	req := p.buildParams(sysMsgs, rest, params)

	resp, err := p.client.Messages.New(ctx, req)
	if err != nil {
		return "", wrapErr(err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if text := block.AsText(); text.Text != "" {
			sb.WriteString(text.Text)
		}
	}
	return sb.String(), nil
}

func (p *Provider) Stream(ctx context.Context, messages []model.Message, params model.Params) (<-chan model.Chunk, error) {
	sysMsgs, rest := splitSystem(messages)
	req := p.buildParams(sysMsgs, rest, params)

	out := make(chan model.Chunk)
	stream := p.client.Messages.NewStreaming(ctx, req)

	go func() {
		defer close(out)
		for stream.Next() {
			event := stream.Current()
			switch event.Type {
			case "content_block_delta":
				delta := event.AsContentBlockDelta().Delta
				if delta.Type == "text_delta" && delta.Text != "" {
					out <- model.Chunk{Delta: delta.Text}
				}
			case "message_stop":
				out <- model.Chunk{Done: true}
				return
			case "error":
				out <- model.Chunk{Done: true, Err: model.Retryable(errors.New("anthropic: stream error"))}
				return
			}
		}
		if err := stream.Err(); err != nil {
			out <- model.Chunk{Done: true, Err: wrapErr(err)}
			return
		}
		out <- model.Chunk{Done: true}
	}()

	return out, nil
}

func (p *Provider) buildParams(system []model.Message, rest []model.Message, params model.Params) anthropic.MessageNewParams {
	modelID := params.ModelID
	if modelID == "" {
		modelID = p.defaultModel
	}
	maxTokens := params.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 4096
	}

	req := anthropic.MessageNewParams{
		Model:     anthropic.Model(modelID),
		Messages:  convertMessages(rest),
		MaxTokens: int64(maxTokens),
	}
	if len(system) > 0 {
		blocks := make([]anthropic.TextBlockParam, 0, len(system))
		for _, m := range system {
			blocks = append(blocks, anthropic.TextBlockParam{Type: "text", Text: m.Content})
		}
		req.System = blocks
	}
	if params.Temperature > 0 {
		req.Temperature = anthropic.Float(params.Temperature)
	}
	if params.TopP > 0 {
		req.TopP = anthropic.Float(params.TopP)
	}
	if len(params.Stop) > 0 {
		req.StopSequences = params.Stop
	}
	return req
}

func convertMessages(messages []model.Message) []anthropic.MessageParam {
	result := make([]anthropic.MessageParam, 0, len(messages))
	for _, m := range messages {
		block := anthropic.NewTextBlock(m.Content)
		if m.Role == model.RoleAssistant {
			result = append(result, anthropic.NewAssistantMessage(block))
		} else {
			result = append(result, anthropic.NewUserMessage(block))
		}
	}
	return result
}

func splitSystem(messages []model.Message) ([]model.Message, []model.Message) {
	if len(messages) > 0 && messages[0].Role == model.RoleSystem {
		return messages[:1], messages[1:]
	}
	return nil, messages
}

// wrapErr classifies Anthropic SDK errors as retryable transport failures
// (rate limits, 5xx, timeouts) or non-retryable protocol errors, mirroring
// the status-code based classification used across the providers this
// package is modeled on.
func wrapErr(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch apiErr.StatusCode {
		case 408, 429, 500, 502, 503, 504:
			return model.Retryable(err)
		default:
			return err
		}
	}
	msg := err.Error()
	if strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded") ||
		strings.Contains(msg, "connection reset") || strings.Contains(msg, "connection refused") {
		return model.Retryable(err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
