package unifiedllm

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

// mockAdapter is a test double for ProviderAdapter.
type mockAdapter struct {
	name     string
	response *Response
	err      error
	requests []Request
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, m.err
	}
	return m.response, nil
}

func newMockAdapter(name, text string) *mockAdapter {
	return &mockAdapter{
		name: name,
		response: &Response{
			ID:           "test_resp",
			Model:        "test-model",
			Provider:     name,
			Message:      AssistantMessage(text),
			FinishReason: FinishReason{Reason: "stop"},
			Usage:        Usage{InputTokens: 10, OutputTokens: 20, TotalTokens: 30},
		},
	}
}

// sequenceAdapter returns errors then responses in sequence.
type sequenceAdapter struct {
	name      string
	errs      []error
	responses []*Response
	calls     int
}

func (s *sequenceAdapter) Name() string { return s.name }

func (s *sequenceAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	s.calls++
	if len(s.errs) > 0 {
		err := s.errs[0]
		s.errs = s.errs[1:]
		return nil, err
	}
	if len(s.responses) == 0 {
		return nil, errors.New("no more responses")
	}
	resp := s.responses[0]
	if len(s.responses) > 1 {
		s.responses = s.responses[1:]
	}
	return resp, nil
}

func TestClientComplete(t *testing.T) {
	mock := newMockAdapter("test-provider", "Hello!")
	client := NewClient(
		WithProvider("test-provider", mock),
		WithDefaultProvider("test-provider"),
	)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Hello!" {
		t.Errorf("expected text %q, got %q", "Hello!", resp.Text())
	}
	if mock.requests[0].Provider != "test-provider" {
		t.Errorf("expected request provider filled in, got %q", mock.requests[0].Provider)
	}
}

func TestClientProviderRouting(t *testing.T) {
	openai := newMockAdapter("openai", "OpenAI response")
	anthropic := newMockAdapter("anthropic", "Anthropic response")

	client := NewClient(
		WithProvider("openai", openai),
		WithProvider("anthropic", anthropic),
		WithDefaultProvider("openai"),
	)

	// Explicit provider.
	resp, err := client.Complete(context.Background(), Request{
		Model:    "claude-sonnet-4-5",
		Messages: []Message{UserMessage("Hi")},
		Provider: "anthropic",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "Anthropic response" {
		t.Errorf("expected Anthropic response, got %q", resp.Text())
	}

	// Default provider.
	resp, err = client.Complete(context.Background(), Request{
		Model:    "gpt-4.1",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "OpenAI response" {
		t.Errorf("expected OpenAI response, got %q", resp.Text())
	}
}

func TestClientInfersProviderFromCatalog(t *testing.T) {
	client := NewClient()
	client.providers["openai"] = newMockAdapter("openai", "from openai")
	client.providers["anthropic"] = newMockAdapter("anthropic", "from anthropic")

	resp, err := client.Complete(context.Background(), Request{
		Model:    "haiku",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "from anthropic" {
		t.Errorf("expected anthropic routing, got %q", resp.Text())
	}
}

func TestClientNoProvider(t *testing.T) {
	client := NewClient()
	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err == nil {
		t.Fatal("expected error for no provider")
	}
	if _, ok := err.(*ConfigurationError); !ok {
		t.Errorf("expected ConfigurationError, got %T", err)
	}
}

// choosyAdapter only accepts the tool choice modes it lists.
type choosyAdapter struct {
	*mockAdapter
	modes map[string]bool
}

func (c *choosyAdapter) SupportsToolChoice(mode string) bool { return c.modes[mode] }

func TestClientChecksToolChoiceSupport(t *testing.T) {
	adapter := &choosyAdapter{
		mockAdapter: newMockAdapter("choosy", "ok"),
		modes:       map[string]bool{"auto": true, "none": true},
	}
	client := NewClient(WithProvider("choosy", adapter), WithDefaultProvider("choosy"))

	_, err := client.Complete(context.Background(), Request{
		Model:      "test-model",
		Messages:   []Message{UserMessage("Hi")},
		ToolChoice: &ToolChoice{Mode: "auto"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	_, err = client.Complete(context.Background(), Request{
		Model:      "test-model",
		Messages:   []Message{UserMessage("Hi")},
		ToolChoice: &ToolChoice{Mode: "named", ToolName: "dst_write_file"},
	})
	var cfgErr *ConfigurationError
	if !errors.As(err, &cfgErr) {
		t.Fatalf("expected ConfigurationError, got %T: %v", err, err)
	}
	if !strings.Contains(err.Error(), "named") {
		t.Errorf("expected the mode in the error, got %q", err.Error())
	}
	if len(adapter.requests) != 1 {
		t.Errorf("expected the unsupported request to stay local, adapter saw %d", len(adapter.requests))
	}

	// Adapters that cannot report support receive every mode.
	plain := newMockAdapter("plain", "ok")
	client = NewClient(WithProvider("plain", plain), WithDefaultProvider("plain"))
	if _, err := client.Complete(context.Background(), Request{
		Model:      "test-model",
		Messages:   []Message{UserMessage("Hi")},
		ToolChoice: &ToolChoice{Mode: "named", ToolName: "x"},
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestClientMiddlewareOrder(t *testing.T) {
	mock := newMockAdapter("test", "response")
	var order []int

	mw1 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 1)
		resp, err := next(ctx, req)
		order = append(order, -1)
		return resp, err
	}
	mw2 := func(ctx context.Context, req Request, next func(context.Context, Request) (*Response, error)) (*Response, error) {
		order = append(order, 2)
		resp, err := next(ctx, req)
		order = append(order, -2)
		return resp, err
	}

	client := NewClient(
		WithProvider("test", mock),
		WithMiddleware(mw1, mw2),
	)

	_, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Onion pattern: first registered runs first for request, reverse for response.
	expected := []int{1, 2, -2, -1}
	if len(order) != len(expected) {
		t.Fatalf("expected %d middleware calls, got %d", len(expected), len(order))
	}
	for i, v := range expected {
		if order[i] != v {
			t.Errorf("position %d: expected %d, got %d", i, v, order[i])
		}
	}
}

func TestClientRegisterProvider(t *testing.T) {
	client := NewClient()
	mock := newMockAdapter("dynamic", "dynamic response")
	client.RegisterProvider("dynamic", mock)

	resp, err := client.Complete(context.Background(), Request{
		Model:    "test-model",
		Messages: []Message{UserMessage("Hi")},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "dynamic response" {
		t.Errorf("expected %q, got %q", "dynamic response", resp.Text())
	}
}

func TestRetryMiddlewareRetriesTransientErrors(t *testing.T) {
	adapter := &sequenceAdapter{
		name: "test",
		errs: []error{
			&ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "boom"}, Retryable: true}},
		},
		responses: []*Response{newMockAdapter("test", "recovered").response},
	}
	policy := RetryPolicy{MaxRetries: 2, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 2}
	client := NewClient(WithProvider("test", adapter), WithMiddleware(RetryMiddleware(policy)))

	resp, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if resp.Text() != "recovered" {
		t.Errorf("expected recovered response, got %q", resp.Text())
	}
	if adapter.calls != 2 {
		t.Errorf("expected 2 calls, got %d", adapter.calls)
	}
}

func TestRetryMiddlewareStopsOnPermanentErrors(t *testing.T) {
	authErr := &AuthenticationError{ProviderError: ProviderError{SDKError: SDKError{Message: "bad key"}}}
	adapter := &sequenceAdapter{name: "test", errs: []error{authErr}}
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 0.001, MaxDelay: 0.01, BackoffMultiplier: 2}
	client := NewClient(WithProvider("test", adapter), WithMiddleware(RetryMiddleware(policy)))

	_, err := client.Complete(context.Background(), Request{Messages: []Message{UserMessage("Hi")}})
	if !errors.Is(err, authErr) {
		t.Fatalf("expected the authentication error, got %v", err)
	}
	if adapter.calls != 1 {
		t.Errorf("expected a single call, got %d", adapter.calls)
	}
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	mock := newMockAdapter("test", "ok")
	client := NewClient(WithProvider("test", mock), WithMiddleware(LoggingMiddleware(logger)))
	if _, err := client.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("Hi")}}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "model request") || !strings.Contains(out, "model response") {
		t.Errorf("expected request and response log lines, got %q", out)
	}

	buf.Reset()
	mock.err = &NetworkError{SDKError: SDKError{Message: "unreachable"}}
	if _, err := client.Complete(context.Background(), Request{Model: "m", Messages: []Message{UserMessage("Hi")}}); err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(buf.String(), "model request failed") {
		t.Errorf("expected failure log line, got %q", buf.String())
	}
}

func TestClientCompleteHonorsCancellation(t *testing.T) {
	adapter := &sequenceAdapter{
		name: "test",
		errs: []error{&ServerError{ProviderError: ProviderError{SDKError: SDKError{Message: "down"}, Retryable: true}}},
	}
	policy := RetryPolicy{MaxRetries: 3, BaseDelay: 5, MaxDelay: 10, BackoffMultiplier: 2}
	client := NewClient(WithProvider("test", adapter), WithMiddleware(RetryMiddleware(policy)))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err := client.Complete(ctx, Request{Messages: []Message{UserMessage("Hi")}})
	var abort *AbortError
	if !errors.As(err, &abort) {
		t.Fatalf("expected AbortError, got %T: %v", err, err)
	}
}
