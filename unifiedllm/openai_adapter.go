package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIAdapter implements ProviderAdapter on top of the OpenAI chat
// completions API with native function calling. It also serves any
// OpenAI-compatible endpoint through a custom base URL.
type OpenAIAdapter struct {
	client openai.Client
	model  string
}

// OpenAIOption configures an OpenAIAdapter.
type OpenAIOption func(*openAIConfig)

type openAIConfig struct {
	baseURL string
	model   string
	extra   []option.RequestOption
}

// WithBaseURL points the adapter at an OpenAI-compatible endpoint.
func WithBaseURL(url string) OpenAIOption {
	return func(c *openAIConfig) {
		c.baseURL = url
	}
}

// WithDefaultModel sets the model used when a request leaves Model empty.
func WithDefaultModel(model string) OpenAIOption {
	return func(c *openAIConfig) {
		c.model = model
	}
}

// WithRequestOptions appends raw openai-go request options.
func WithRequestOptions(opts ...option.RequestOption) OpenAIOption {
	return func(c *openAIConfig) {
		c.extra = append(c.extra, opts...)
	}
}

// NewOpenAIAdapter creates an adapter. An empty apiKey lets openai-go fall
// back to OPENAI_API_KEY from the environment.
func NewOpenAIAdapter(apiKey string, opts ...OpenAIOption) *OpenAIAdapter {
	cfg := &openAIConfig{}
	for _, opt := range opts {
		opt(cfg)
	}

	reqOpts := []option.RequestOption{
		option.WithMaxRetries(0), // Retries are applied by RetryMiddleware.
	}
	if apiKey != "" {
		reqOpts = append(reqOpts, option.WithAPIKey(apiKey))
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	reqOpts = append(reqOpts, cfg.extra...)

	model := cfg.model
	if model == "" {
		if info := GetLatestModel("openai"); info != nil {
			model = info.ID
		}
	}

	return &OpenAIAdapter{
		client: openai.NewClient(reqOpts...),
		model:  model,
	}
}

// Name returns the provider identifier.
func (a *OpenAIAdapter) Name() string {
	return "openai"
}

// SupportsToolChoice reports whether the adapter supports a tool choice mode.
func (a *OpenAIAdapter) SupportsToolChoice(mode string) bool {
	switch mode {
	case "auto", "none", "required", "named":
		return true
	default:
		return false
	}
}

// Complete sends the transcript and tool definitions and translates the
// first choice back into a unified Response.
func (a *OpenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	params, err := a.translateRequest(req)
	if err != nil {
		return nil, err
	}

	completion, err := a.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, a.translateError(err)
	}
	if len(completion.Choices) == 0 {
		return nil, &ProviderError{
			SDKError:  SDKError{Message: "response contained no choices"},
			Provider:  a.Name(),
			Retryable: true,
		}
	}
	return a.buildResponse(completion), nil
}

func (a *OpenAIAdapter) translateRequest(req Request) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = a.model
	}
	if model == "" {
		return openai.ChatCompletionNewParams{}, &ConfigurationError{SDKError: SDKError{
			Message: "no model specified for openai request",
		}}
	}

	params := openai.ChatCompletionNewParams{
		Model:    shared.ChatModel(model),
		Messages: translateMessages(req.Messages),
	}

	if len(req.ToolDefs) > 0 {
		params.Tools = translateTools(req.ToolDefs)
		// Tool calls are dispatched one after another, in order.
		params.ParallelToolCalls = openai.Bool(false)
	}
	if req.ToolChoice != nil {
		params.ToolChoice = translateToolChoice(*req.ToolChoice)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	if req.MaxTokens != nil {
		params.MaxCompletionTokens = openai.Int(int64(*req.MaxTokens))
	}
	return params, nil
}

func translateMessages(messages []Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			out = append(out, openai.SystemMessage(msg.TextContent()))
		case RoleUser:
			out = append(out, openai.UserMessage(msg.TextContent()))
		case RoleTool:
			r := msg.ToolResult()
			if r == nil {
				continue
			}
			out = append(out, openai.ToolMessage(r.Content, r.ToolCallID))
		case RoleAssistant:
			calls := msg.ToolCalls()
			if len(calls) == 0 {
				out = append(out, openai.AssistantMessage(msg.TextContent()))
				continue
			}
			toolCalls := make([]openai.ChatCompletionMessageToolCallParam, 0, len(calls))
			for _, tc := range calls {
				args := string(tc.Arguments)
				if strings.TrimSpace(args) == "" {
					args = "{}"
				}
				toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			assistant := openai.ChatCompletionAssistantMessageParam{ToolCalls: toolCalls}
			if text := msg.TextContent(); text != "" {
				assistant.Content = openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(text)}
			}
			out = append(out, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return out
}

func translateTools(defs []ToolDefinition) []openai.ChatCompletionToolParam {
	tools := make([]openai.ChatCompletionToolParam, 0, len(defs))
	for _, def := range defs {
		fn := shared.FunctionDefinitionParam{
			Name: def.Name,
		}
		if def.Description != "" {
			fn.Description = openai.String(def.Description)
		}
		// Tools without arguments advertise no parameter schema at all.
		if def.Parameters != nil {
			fn.Parameters = openai.FunctionParameters(def.Parameters)
		}
		tools = append(tools, openai.ChatCompletionToolParam{Function: fn})
	}
	return tools
}

func translateToolChoice(tc ToolChoice) openai.ChatCompletionToolChoiceOptionUnionParam {
	if tc.Mode == "named" && tc.ToolName != "" {
		return openai.ChatCompletionToolChoiceOptionUnionParam{
			OfChatCompletionNamedToolChoice: &openai.ChatCompletionNamedToolChoiceParam{
				Function: openai.ChatCompletionNamedToolChoiceFunctionParam{Name: tc.ToolName},
			},
		}
	}
	return openai.ChatCompletionToolChoiceOptionUnionParam{OfAuto: openai.String(tc.Mode)}
}

func (a *OpenAIAdapter) buildResponse(completion *openai.ChatCompletion) *Response {
	choice := completion.Choices[0]

	calls := make([]ToolCall, 0, len(choice.Message.ToolCalls))
	for _, tc := range choice.Message.ToolCalls {
		calls = append(calls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}

	var msg Message
	if len(calls) > 0 {
		msg = AssistantToolCallMessage(choice.Message.Content, calls...)
	} else {
		msg = AssistantMessage(choice.Message.Content)
	}

	return &Response{
		ID:           completion.ID,
		Model:        completion.Model,
		Provider:     a.Name(),
		Message:      msg,
		FinishReason: normalizeFinishReason(choice.FinishReason),
		Usage: Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
}

func normalizeFinishReason(raw string) FinishReason {
	switch raw {
	case "stop", "length", "tool_calls", "content_filter":
		return FinishReason{Reason: raw, Raw: raw}
	case "function_call":
		return FinishReason{Reason: "tool_calls", Raw: raw}
	case "":
		return FinishReason{Reason: "stop"}
	default:
		return FinishReason{Reason: "other", Raw: raw}
	}
}

// translateError maps openai-go errors into the unified hierarchy.
func (a *OpenAIAdapter) translateError(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return ErrorFromStatusCode(apierr.StatusCode, apierr.Message, a.Name(), apierr.Code, err, nil)
	}
	if errors.Is(err, context.Canceled) {
		return &AbortError{SDKError: SDKError{Message: "request cancelled", Cause: err}}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return &RequestTimeoutError{SDKError: SDKError{Message: "request timed out", Cause: err}}
	}
	return &NetworkError{SDKError: SDKError{Message: fmt.Sprintf("openai request failed: %v", err), Cause: err}}
}
