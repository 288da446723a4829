package agentloop

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/martinemde/codeport/unifiedllm"
)

// scriptedCompleter replies with a fixed sequence of responses and records
// every request it receives.
type scriptedCompleter struct {
	mu        sync.Mutex
	responses []*unifiedllm.Response
	err       error
	requests  []unifiedllm.Request
}

func (c *scriptedCompleter) Complete(_ context.Context, req unifiedllm.Request) (*unifiedllm.Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return nil, c.err
	}
	if len(c.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := c.responses[0]
	c.responses = c.responses[1:]
	return resp, nil
}

func textReply(text string) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message: unifiedllm.AssistantMessage(text),
		Usage:   unifiedllm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

func callReply(calls ...unifiedllm.ToolCall) *unifiedllm.Response {
	return &unifiedllm.Response{
		Message: unifiedllm.AssistantToolCallMessage("", calls...),
		Usage:   unifiedllm.Usage{InputTokens: 10, OutputTokens: 5, TotalTokens: 15},
	}
}

type counterArgs struct {
	By int `json:"by"`
}

type counterResult struct {
	Value int `json:"value"`
}

// counterRegistry exposes "greet" (unit) and "add" (typed) tools. The
// returned pointer counts add invocations.
func counterRegistry(t *testing.T) (*ToolRegistry, *int) {
	t.Helper()
	reg := NewToolRegistry()
	total := 0
	require.NoError(t, Register(reg, "greet", "Say hello.", func(NoArgs) helloResult {
		return helloResult{Message: "Hello"}
	}))
	require.NoError(t, Register(reg, "add", "Add to the counter.", func(args counterArgs) counterResult {
		total += args.By
		return counterResult{Value: total}
	}))
	return reg, &total
}

func collectEvents(s *Session) []SessionEvent {
	s.Close()
	var events []SessionEvent
	for ev := range s.Events() {
		events = append(events, ev)
	}
	return events
}

func eventsOfKind(events []SessionEvent, kind EventKind) []SessionEvent {
	var out []SessionEvent
	for _, ev := range events {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

func TestSendMessageStopsOnReplyWithoutToolCalls(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(call("greet", "{}")),
		textReply("done"),
	}}
	s := NewSession(client, reg, "be helpful", nil)

	require.NoError(t, s.SendMessage(context.Background(), "hi"))
	assert.Equal(t, StateIdle, s.State())

	msgs := s.Transcript()
	require.Len(t, msgs, 5)
	assert.Equal(t, unifiedllm.RoleSystem, msgs[0].Role)
	assert.Equal(t, unifiedllm.RoleUser, msgs[1].Role)
	assert.Equal(t, "hi", msgs[1].TextContent())
	assert.True(t, msgs[2].HasToolCalls())
	assert.Equal(t, unifiedllm.RoleTool, msgs[3].Role)
	assert.Equal(t, "greet", msgs[3].Name)
	assert.Equal(t, `{"message":"Hello"}`, msgs[3].ToolResultContent())
	assert.Equal(t, "done", msgs[4].TextContent())

	require.Len(t, client.requests, 2)
	assert.Len(t, client.requests[0].Messages, 2)
	assert.Len(t, client.requests[1].Messages, 4, "second request carries the tool result")
	assert.Len(t, client.requests[0].ToolDefs, 2)
	assert.Equal(t, "auto", client.requests[0].ToolChoice.Mode)

	assert.Equal(t, 30, s.Usage().TotalTokens)
}

func TestSendMessageWithoutToolCallsMakesOneRequest(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{textReply("nothing to do")}}
	s := NewSession(client, reg, "", nil)

	require.NoError(t, s.SendMessage(context.Background(), "hi"))
	assert.Len(t, client.requests, 1)
	assert.Len(t, s.Transcript(), 2, "no system message when the prompt is empty")
}

func TestSendMessageKeepsDispatchingWhileCallsContinue(t *testing.T) {
	reg, total := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(call("add", `{"by":1}`)),
		callReply(call("add", `{"by":2}`)),
		callReply(call("add", `{"by":3}`), call("greet", "")),
		textReply("counted"),
	}}
	s := NewSession(client, reg, "", nil)

	require.NoError(t, s.SendMessage(context.Background(), "count"))
	assert.Equal(t, 6, *total)
	assert.Len(t, client.requests, 4)
	assert.Equal(t, -1, orphanedToolResult(s.Transcript()))
	assert.Equal(t, "counted", lastMessage(t, s.Transcript()).TextContent())
}

func TestSendMessageUnknownToolIsFatalByDefault(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(call("missing", "{}")),
		textReply("unreachable"),
	}}
	s := NewSession(client, reg, "", nil)

	err := s.SendMessage(context.Background(), "go")
	var notFound *ToolNotFoundError
	require.ErrorAs(t, err, &notFound)
	assert.Equal(t, "missing", notFound.Tool)
	assert.Len(t, client.requests, 1)
	assert.Equal(t, StateIdle, s.State())

	for _, msg := range s.Transcript() {
		assert.NotEqual(t, unifiedllm.RoleTool, msg.Role)
	}
}

func TestSendMessageFeedbackPolicyReturnsErrorToModel(t *testing.T) {
	reg, total := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(call("add", `{"by":"lots"}`)),
		callReply(call("add", `{"by":4}`)),
		textReply("fixed"),
	}}
	cfg := DefaultSessionConfig()
	cfg.DispatchPolicy = DispatchFeedback
	s := NewSession(client, reg, "", &cfg)

	require.NoError(t, s.SendMessage(context.Background(), "go"))
	assert.Equal(t, 4, *total)

	msgs := s.Transcript()
	result := msgs[2].ToolResult()
	require.NotNil(t, result)
	assert.True(t, result.IsError)
	assert.True(t, strings.HasPrefix(result.Content, "Error: "))
	assert.Contains(t, result.Content, "add")
}

func TestSendMessageReturnsModelError(t *testing.T) {
	reg, _ := counterRegistry(t)
	boom := errors.New("connection reset")
	client := &scriptedCompleter{err: boom}
	s := NewSession(client, reg, "", nil)

	err := s.SendMessage(context.Background(), "go")
	require.ErrorIs(t, err, boom)
	assert.Len(t, s.Transcript(), 1)

	events := collectEvents(s)
	require.Len(t, eventsOfKind(events, EventError), 1)
}

func TestSendMessageAssignsMissingCallIDs(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(unifiedllm.ToolCall{Name: "greet"}, unifiedllm.ToolCall{Name: "add", Arguments: json.RawMessage(`{"by":1}`)}),
		textReply("ok"),
	}}
	s := NewSession(client, reg, "", nil)
	require.NoError(t, s.SendMessage(context.Background(), "go"))

	msgs := s.Transcript()
	calls := msgs[1].ToolCalls()
	require.Len(t, calls, 2)
	assert.NotEmpty(t, calls[0].ID)
	assert.NotEqual(t, calls[0].ID, calls[1].ID)
	assert.Equal(t, calls[0].ID, msgs[2].ToolCallID)
	assert.Equal(t, calls[1].ID, msgs[3].ToolCallID)
	assert.Equal(t, -1, orphanedToolResult(msgs))
}

func TestSendMessageMaxToolRounds(t *testing.T) {
	reg, total := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(call("add", `{"by":1}`)),
		callReply(call("add", `{"by":1}`)),
		callReply(call("add", `{"by":1}`)),
	}}
	cfg := DefaultSessionConfig()
	cfg.MaxToolRounds = 2
	s := NewSession(client, reg, "", &cfg)

	require.NoError(t, s.SendMessage(context.Background(), "go"))
	assert.Equal(t, 2, *total)
	assert.Len(t, client.requests, 2)

	assert.Equal(t, unifiedllm.RoleTool, lastMessage(t, s.Transcript()).Role, "no tool call is left unanswered")

	events := collectEvents(s)
	assert.Len(t, eventsOfKind(events, EventToolRoundLimit), 1)
}

func TestSendMessageAfterClose(t *testing.T) {
	reg, _ := counterRegistry(t)
	s := NewSession(&scriptedCompleter{}, reg, "", nil)
	s.Close()
	assert.ErrorIs(t, s.SendMessage(context.Background(), "hi"), ErrSessionClosed)
	assert.Equal(t, StateClosed, s.State())
}

func TestSendMessageHonorsCancelledContext(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{textReply("never")}}
	s := NewSession(client, reg, "", nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, s.SendMessage(ctx, "hi"), context.Canceled)
	assert.Empty(t, client.requests)
}

func TestSessionEmitsLoopDetection(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(call("greet", "{}")),
		callReply(call("greet", "{}")),
		callReply(call("greet", "{}")),
		textReply("stop"),
	}}
	cfg := DefaultSessionConfig()
	cfg.LoopDetectionWindow = 3
	s := NewSession(client, reg, "", &cfg)

	require.NoError(t, s.SendMessage(context.Background(), "go"))
	msgs := s.Transcript()
	events := collectEvents(s)
	assert.Len(t, eventsOfKind(events, EventLoopDetection), 1)
	assert.Len(t, msgs, 8, "loop detection never alters the transcript")
}

func TestSessionWarnsOnceNearContextWindow(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		textReply("a"),
		textReply("b"),
	}}
	cfg := DefaultSessionConfig()
	cfg.ContextWindow = 10
	s := NewSession(client, reg, "", &cfg)

	long := strings.Repeat("x", 400)
	require.NoError(t, s.SendMessage(context.Background(), long))
	require.NoError(t, s.SendMessage(context.Background(), long))

	warnings := eventsOfKind(collectEvents(s), EventWarning)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0].String("message"), "Context usage")
}

func TestSessionEventSequence(t *testing.T) {
	reg, _ := counterRegistry(t)
	client := &scriptedCompleter{responses: []*unifiedllm.Response{
		callReply(call("greet", "{}")),
		textReply("bye"),
	}}
	s := NewSession(client, reg, "system text", nil)
	require.NoError(t, s.SendMessage(context.Background(), "hello"))

	var kinds []EventKind
	for _, ev := range collectEvents(s) {
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []EventKind{
		EventSessionStart,
		EventSystemPrompt,
		EventUserInput,
		EventToolCallStart,
		EventToolCallEnd,
		EventAssistantText,
		EventSessionEnd,
	}, kinds)
}
