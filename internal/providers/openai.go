package providers

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultOpenAIModel = "gpt-4.1-mini"

var tracer = otel.Tracer("github.com/gaddyh/tami2-ai-sub000/internal/providers")

// OpenAIProvider implements Provider for OpenAI-compatible chat completion
// APIs using JSON-schema response formats.
type OpenAIProvider struct {
	client       openai.Client
	defaultModel string
	temperature  float64
	retryConfig  RetryConfig
}

type OpenAIOption func(*OpenAIProvider)

func WithOpenAIModel(model string) OpenAIOption {
	return func(p *OpenAIProvider) {
		if model != "" {
			p.defaultModel = model
		}
	}
}

func WithOpenAIRetry(cfg RetryConfig) OpenAIOption {
	return func(p *OpenAIProvider) { p.retryConfig = cfg }
}

func WithOpenAITemperature(t float64) OpenAIOption {
	return func(p *OpenAIProvider) { p.temperature = t }
}

// NewOpenAIProvider creates a provider. apiBase may be empty for the
// public endpoint. Retries are handled by RetryDo, not the SDK.
func NewOpenAIProvider(apiKey, apiBase string, opts ...OpenAIOption) *OpenAIProvider {
	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	if apiBase != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(strings.TrimRight(apiBase, "/")+"/"))
	}
	p := &OpenAIProvider{
		client:       openai.NewClient(clientOpts...),
		defaultModel: defaultOpenAIModel,
		retryConfig:  DefaultRetryConfig(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func (p *OpenAIProvider) Name() string         { return "openai" }
func (p *OpenAIProvider) DefaultModel() string { return p.defaultModel }

func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (string, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}
	ctx, span := tracer.Start(ctx, "llm.openai")
	defer span.End()
	span.SetAttributes(attribute.String("llm.model", model), attribute.Int("llm.messages", len(req.Messages)))

	params := p.buildParams(model, req)
	out, err := RetryDo(ctx, p.retryConfig, func(ctx context.Context) (string, error) {
		resp, err := p.client.Chat.Completions.New(ctx, params)
		if err != nil {
			return "", fmt.Errorf("openai: %w", err)
		}
		if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
			return "", ErrEmptyResponse
		}
		span.SetAttributes(
			attribute.Int64("llm.prompt_tokens", resp.Usage.PromptTokens),
			attribute.Int64("llm.completion_tokens", resp.Usage.CompletionTokens),
		)
		return resp.Choices[0].Message.Content, nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return out, err
}

func (p *OpenAIProvider) buildParams(model string, req Request) openai.ChatCompletionNewParams {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			msgs = append(msgs, openai.SystemMessage(m.Content))
		case "assistant":
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		default:
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if p.temperature > 0 {
		params.Temperature = openai.Float(p.temperature)
	}
	if req.MaxTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Schema != nil {
		params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:   req.Schema.Name,
					Schema: req.Schema.Schema,
					Strict: openai.Bool(false),
				},
			},
		}
	}
	return params
}
