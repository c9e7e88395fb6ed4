// Package openai adapts the OpenAI chat completions API to the
// model.Provider contract via sashabaranov/go-openai.
package openai

import (
	"context"
	"errors"
	"io"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/conclave-ai/conclave/pkg/model"
)

// Provider implements model.Provider against OpenAI's chat completions API.
type Provider struct {
	client       *openai.Client
	defaultModel string
}

type Config struct {
	APIKey       string
	BaseURL      string
	DefaultModel string
}

func New(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if strings.TrimSpace(cfg.BaseURL) != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	defaultModel := cfg.DefaultModel
	if defaultModel == "" {
		defaultModel = openai.GPT4o
	}
	return &Provider{
		client:       openai.NewClientWithConfig(clientCfg),
		defaultModel: defaultModel,
	}, nil
}

func (p *Provider) Name() string { return "openai" }

func (p *Provider) Complete(ctx context.Context, messages []model.Message, params model.Params) (string, error) {
	resp, err := p.client.CreateChatCompletion(ctx, p.buildRequest(messages, params, false))
	if err != nil {
		return "", wrapErr(err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("openai: empty choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *Provider) Stream(ctx context.Context, messages []model.Message, params model.Params) (<-chan model.Chunk, error) {
	stream, err := p.client.CreateChatCompletionStream(ctx, p.buildRequest(messages, params, true))
	if err != nil {
		return nil, wrapErr(err)
	}

	out := make(chan model.Chunk)
	go func() {
		defer close(out)
		defer stream.Close()
		for {
			resp, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					out <- model.Chunk{Done: true}
					return
				}
				out <- model.Chunk{Done: true, Err: wrapErr(err)}
				return
			}
			if len(resp.Choices) == 0 {
				continue
			}
			if delta := resp.Choices[0].Delta.Content; delta != "" {
				out <- model.Chunk{Delta: delta}
			}
			if resp.Choices[0].FinishReason != "" {
				out <- model.Chunk{Done: true}
				return
			}
		}
	}()
	return out, nil
}

func (p *Provider) buildRequest(messages []model.Message, params model.Params, stream bool) openai.ChatCompletionRequest {
	modelID := params.ModelID
	if modelID == "" {
		modelID = p.defaultModel
	}

	req := openai.ChatCompletionRequest{
		Model:    modelID,
		Messages: convertMessages(messages),
		Stream:   stream,
	}
	if params.MaxTokens > 0 {
		req.MaxTokens = params.MaxTokens
	}
	if params.Temperature > 0 {
		req.Temperature = float32(params.Temperature)
	}
	if params.TopP > 0 {
		req.TopP = float32(params.TopP)
	}
	if len(params.Stop) > 0 {
		req.Stop = params.Stop
	}
	return req
}

func convertMessages(messages []model.Message) []openai.ChatCompletionMessage {
	result := make([]openai.ChatCompletionMessage, 0, len(messages))
	for _, m := range messages {
		role := openai.ChatMessageRoleUser
		switch m.Role {
		case model.RoleSystem:
			role = openai.ChatMessageRoleSystem
		case model.RoleAssistant:
			role = openai.ChatMessageRoleAssistant
		}
		result = append(result, openai.ChatCompletionMessage{Role: role, Content: m.Content})
	}
	return result
}

// wrapErr classifies go-openai errors as retryable transport failures or
// non-retryable protocol errors using the same rate-limit/5xx/timeout
// substring checks the pack's other providers apply to vendor errors that
// don't carry a structured status code.
func wrapErr(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
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
	return err
}
