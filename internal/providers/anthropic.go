package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const (
	defaultClaudeModel = "claude-sonnet-4-5-20250929"
	defaultMaxTokens   = 2048
)

// AnthropicProvider implements Provider using the Anthropic Messages API.
// The API has no response-format switch, so the schema is appended to the
// system prompt and the JSON object is cut out of the reply.
type AnthropicProvider struct {
	client       anthropic.Client
	defaultModel string
	retryConfig  RetryConfig
}

type AnthropicOption func(*AnthropicProvider)

func WithAnthropicModel(model string) AnthropicOption {
	return func(p *AnthropicProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithAnthropicRetry(cfg RetryConfig) AnthropicOption {
	return func(p *AnthropicProvider) { p.retryConfig = cfg }
}

func NewAnthropicProvider(apiKey string, opts ...AnthropicOption) *AnthropicProvider {
	p := &AnthropicProvider{
		client:       anthropic.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(0)),
		defaultModel: defaultClaudeModel,
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *AnthropicProvider) Name() string         { return "anthropic" }
func (p *AnthropicProvider) DefaultModel() string { return p.defaultModel }

func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	ctx, span := tracer.Start(ctx, "llm.anthropic")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.messages", len(req.Messages)))

	params, err := p.buildParams(model, req)
	if err != nil {
		return "", err
	}
	out, err := RetryDo(ctx, p.retryConfig, func(ctx context.Context) (string, error) {
		msg, err := p.client.Messages.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("anthropic: %w", err)
		}
		var sb strings.Builder
		for _, block := range msg.Content {
			if block.Type == "text" {
				sb.WriteString(block.Text)
			}
		}
		if sb.Len() == 0 {
			return "", ErrEmptyResponse
		}
		return sb.String(), nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (p *AnthropicProvider) buildParams(model string, req Request) (anthropic.MessageNewParams, error) {
	var system []anthropic.TextBlockParam
	var msgs []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{Text: m.Content})
		case "assistant":
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if req.Schema != nil {
		raw, err := json.Marshal(req.Schema.Schema)
		if err != nil {
			return anthropic.MessageNewParams{}, Permanent(fmt.Errorf("anthropic: encode schema: %w", err))
		}
		system = append(system, anthropic.TextBlockParam{
			Text: "Reply with a single JSON object (no prose, no code fences) matching this JSON schema named " +
				req.Schema.Name + ":\n" + string(raw),
		})
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	return anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		System:    system,
		Messages:  msgs,
	}, nil
}
