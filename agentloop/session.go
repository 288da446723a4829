package agentloop

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/martinemde/codeport/unifiedllm"
)

// Completer sends one request to the model endpoint. *unifiedllm.Client
// satisfies it.
type Completer interface {
	Complete(ctx context.Context, req unifiedllm.Request) (*unifiedllm.Response, error)
}

// SessionState represents the current lifecycle state of a session.
type SessionState string

const (
	StateIdle          SessionState = "idle"
	StateAwaitingModel SessionState = "awaiting_model"
	StateDispatching   SessionState = "dispatching"
	StateClosed        SessionState = "closed"
)

// DispatchPolicy decides what a dispatch failure does to the current turn.
type DispatchPolicy string

const (
	// DispatchFatal returns the dispatch error and halts the turn.
	DispatchFatal DispatchPolicy = "fatal"
	// DispatchFeedback appends the error as an error tool result and lets
	// the model correct itself.
	DispatchFeedback DispatchPolicy = "feedback"
)

// ErrSessionClosed is returned by SendMessage after Close.
var ErrSessionClosed = errors.New("session is closed")

// SessionConfig holds configuration for a session.
type SessionConfig struct {
	Model               string         `json:"model"`
	Provider            string         `json:"provider,omitempty"`
	DispatchPolicy      DispatchPolicy `json:"dispatch_policy"`
	MaxToolRounds       int            `json:"max_tool_rounds"` // per SendMessage; 0 = unlimited
	EnableLoopDetection bool           `json:"enable_loop_detection"`
	LoopDetectionWindow int            `json:"loop_detection_window"`
	ContextWindow       int            `json:"context_window,omitempty"` // tokens; 0 = from the model catalog
}

// DefaultSessionConfig returns the default configuration.
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		DispatchPolicy:      DispatchFatal,
		MaxToolRounds:       0, // unlimited
		EnableLoopDetection: true,
		LoopDetectionWindow: 10,
	}
}

const (
	fallbackContextWindow = 128000
	contextWarnRatio      = 0.8
)

// Session drives one conversation: it owns the transcript, sends it to the
// model with the registry's tool definitions, and dispatches the tool calls
// the model makes until a reply carries none.
type Session struct {
	id            string
	client        Completer
	registry      *ToolRegistry
	transcript    *Transcript
	emitter       *EventEmitter
	config        SessionConfig
	state         SessionState
	usage         unifiedllm.Usage
	contextWarned bool
	logger        *slog.Logger
	mu            sync.Mutex
}

// SessionOption configures a Session.
type SessionOption func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithEventBuffer sets the size of the event channel buffer.
func WithEventBuffer(size int) SessionOption {
	return func(s *Session) {
		s.emitter = NewEventEmitter(s.id, size)
	}
}

// NewSession creates a session. A non-empty systemPrompt becomes the first
// transcript message.
func NewSession(client Completer, registry *ToolRegistry, systemPrompt string, config *SessionConfig, opts ...SessionOption) *Session {
	sessionID := uuid.New().String()

	cfg := DefaultSessionConfig()
	if config != nil {
		cfg = *config
	}
	if cfg.DispatchPolicy == "" {
		cfg.DispatchPolicy = DispatchFatal
	}

	s := &Session{
		id:         sessionID,
		client:     client,
		registry:   registry,
		transcript: NewTranscript(),
		emitter:    NewEventEmitter(sessionID, 256),
		config:     cfg,
		state:      StateIdle,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(slog.String("session", sessionID))

	s.emitter.Emit(EventSessionStart, map[string]interface{}{
		"model": cfg.Model,
		"tools": registry.Names(),
	})
	if systemPrompt != "" {
		s.record(unifiedllm.SystemMessage(systemPrompt))
		s.emitter.Emit(EventSystemPrompt, map[string]interface{}{
			"content": systemPrompt,
		})
	}
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Transcript returns a copy of the conversation so far.
func (s *Session) Transcript() []unifiedllm.Message {
	return s.transcript.Messages()
}

// Usage returns the token usage accumulated over all model calls.
func (s *Session) Usage() unifiedllm.Usage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.usage
}

// Events returns the event channel for the host application.
func (s *Session) Events() <-chan SessionEvent {
	return s.emitter.Events()
}

// DroppedEvents returns how many events were discarded for a slow reader.
func (s *Session) DroppedEvents() int {
	return s.emitter.Dropped()
}

// Close ends the session and closes the event channel.
func (s *Session) Close() {
	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()

	s.emitter.Emit(EventSessionEnd, map[string]interface{}{
		"messages":     s.transcript.Len(),
		"total_tokens": s.Usage().TotalTokens,
	})
	s.emitter.Close()
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateClosed {
		s.state = state
	}
}

// SendMessage appends text as a user message and runs the conversation
// until the model replies without tool calls.
//
// A model request failure is returned as is and ends the turn. A dispatch
// failure ends the turn under DispatchFatal, or is sent back to the model
// as an error tool result under DispatchFeedback.
func (s *Session) SendMessage(ctx context.Context, text string) error {
	if s.State() == StateClosed {
		return ErrSessionClosed
	}

	s.record(unifiedllm.UserMessage(text))
	s.emitter.Emit(EventUserInput, map[string]interface{}{
		"content": text,
	})

	rounds := 0
	for {
		if err := ctx.Err(); err != nil {
			s.setState(StateIdle)
			return err
		}

		if s.config.MaxToolRounds > 0 && rounds >= s.config.MaxToolRounds {
			s.logger.Warn("tool round limit reached", slog.Int("rounds", rounds))
			s.emitter.Emit(EventToolRoundLimit, map[string]interface{}{
				"rounds": rounds,
			})
			s.setState(StateIdle)
			return nil
		}

		reply, err := s.requestReply(ctx)
		if err != nil {
			s.setState(StateIdle)
			s.emitter.Emit(EventError, map[string]interface{}{
				"error": err.Error(),
			})
			return fmt.Errorf("model request: %w", err)
		}

		calls := reply.ToolCalls()
		if len(calls) == 0 {
			s.setState(StateIdle)
			return nil
		}

		rounds++
		s.setState(StateDispatching)
		if err := s.dispatchAll(calls); err != nil {
			s.setState(StateIdle)
			return err
		}
		s.checkLoop()
	}
}

// requestReply sends the full transcript and appends the model's reply.
func (s *Session) requestReply(ctx context.Context) (unifiedllm.Message, error) {
	s.setState(StateAwaitingModel)
	req := unifiedllm.Request{
		Model:    s.config.Model,
		Provider: s.config.Provider,
		Messages: s.transcript.Messages(),
		ToolDefs: s.registry.Definitions(),
	}
	if len(req.ToolDefs) > 0 {
		req.ToolChoice = &unifiedllm.ToolChoice{Mode: "auto"}
	}

	resp, err := s.client.Complete(ctx, req)
	if err != nil {
		return unifiedllm.Message{}, err
	}

	s.mu.Lock()
	s.usage = s.usage.Add(resp.Usage)
	s.mu.Unlock()

	reply := resp.Message
	if reply.Role == "" {
		reply.Role = unifiedllm.RoleAssistant
	}
	assignToolCallIDs(&reply)
	s.record(reply)

	if text := reply.TextContent(); text != "" {
		s.emitter.Emit(EventAssistantText, map[string]interface{}{
			"text": text,
		})
	}
	s.checkContextUsage()
	return reply, nil
}

// assignToolCallIDs gives every tool call without an id a generated one, so
// results can be matched to calls.
func assignToolCallIDs(msg *unifiedllm.Message) {
	for i := range msg.Content {
		tc := msg.Content[i].ToolCall
		if tc != nil && tc.ID == "" {
			copied := *tc
			copied.ID = "call_" + uuid.New().String()[:8]
			msg.Content[i].ToolCall = &copied
		}
	}
}

// dispatchAll runs the calls of one reply in order and appends each result.
func (s *Session) dispatchAll(calls []unifiedllm.ToolCall) error {
	for _, call := range calls {
		s.emitter.Emit(EventToolCallStart, map[string]interface{}{
			"tool_name": call.Name,
			"call_id":   call.ID,
			"arguments": PreviewToolOutput(string(call.Arguments), call.Name),
		})

		result, err := s.registry.Dispatch(call)
		if err != nil {
			s.logger.Warn("tool dispatch failed",
				slog.String("tool", call.Name),
				slog.String("call_id", call.ID),
				slog.String("error", err.Error()),
			)
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"tool_name": call.Name,
				"call_id":   call.ID,
				"error":     err.Error(),
			})
			if s.config.DispatchPolicy != DispatchFeedback {
				s.emitter.Emit(EventError, map[string]interface{}{
					"error": err.Error(),
				})
				return fmt.Errorf("dispatch %s: %w", call.Name, err)
			}
			result = DispatchErrorMessage(call, err)
		} else {
			s.emitter.Emit(EventToolCallEnd, map[string]interface{}{
				"tool_name": call.Name,
				"call_id":   call.ID,
				"output":    PreviewToolOutput(result.ToolResultContent(), call.Name),
			})
		}
		s.record(result)
	}
	return nil
}

// record appends msg to the transcript and logs it.
func (s *Session) record(msg unifiedllm.Message) {
	s.transcript.Append(msg)
	attrs := []any{
		slog.String("role", string(msg.Role)),
		slog.Int("index", s.transcript.Len()-1),
	}
	if text := msg.TextContent(); text != "" {
		attrs = append(attrs, slog.String("text", PreviewToolOutput(text, "")))
	}
	for _, tc := range msg.ToolCalls() {
		attrs = append(attrs, slog.String("tool_call", tc.Name))
	}
	if msg.Role == unifiedllm.RoleTool {
		attrs = append(attrs,
			slog.String("tool", msg.Name),
			slog.String("result", PreviewToolOutput(msg.ToolResultContent(), msg.Name)),
		)
	}
	s.logger.Debug("transcript message", attrs...)
}

// checkLoop warns when recent tool calls repeat. The transcript is left
// untouched.
func (s *Session) checkLoop() {
	if !s.config.EnableLoopDetection {
		return
	}
	window := s.config.LoopDetectionWindow
	if DetectLoop(s.transcript.Messages(), window) {
		msg := fmt.Sprintf("the last %d tool calls follow a repeating pattern", window)
		s.logger.Warn("loop detected", slog.Int("window", window))
		s.emitter.Emit(EventLoopDetection, map[string]interface{}{
			"message": msg,
		})
	}
}

// checkContextUsage emits a warning once the transcript passes 80% of the
// model's context window.
func (s *Session) checkContextUsage() {
	window := s.config.ContextWindow
	if window <= 0 {
		window = unifiedllm.ContextWindow(s.config.Model, fallbackContextWindow)
	}
	approx := s.transcript.ApproxTokens()
	if approx <= int(float64(window)*contextWarnRatio) {
		return
	}

	s.mu.Lock()
	warned := s.contextWarned
	s.contextWarned = true
	s.mu.Unlock()
	if warned {
		return
	}

	pct := approx * 100 / window
	s.logger.Warn("context window nearly full", slog.Int("approx_tokens", approx), slog.Int("context_window", window))
	s.emitter.Emit(EventWarning, map[string]interface{}{
		"message": fmt.Sprintf("Context usage at ~%d%% of context window", pct),
	})
}
