package agentloop

import (
	"sync"

	"github.com/martinemde/codeport/unifiedllm"
)

// Transcript is the ordered, append-only message history of a session.
// Messages are never reordered or pruned.
type Transcript struct {
	messages []unifiedllm.Message
	mu       sync.RWMutex
}

// NewTranscript creates a transcript seeded with the given messages.
func NewTranscript(initial ...unifiedllm.Message) *Transcript {
	t := &Transcript{}
	t.messages = append(t.messages, initial...)
	return t
}

// Append adds messages to the end of the transcript.
func (t *Transcript) Append(msgs ...unifiedllm.Message) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.messages = append(t.messages, msgs...)
}

// Messages returns a copy of the transcript.
func (t *Transcript) Messages() []unifiedllm.Message {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]unifiedllm.Message, len(t.messages))
	copy(out, t.messages)
	return out
}

// Len returns the number of messages.
func (t *Transcript) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.messages)
}

// ApproxTokens estimates the transcript size in tokens at four characters
// per token.
func (t *Transcript) ApproxTokens() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	chars := 0
	for _, msg := range t.messages {
		chars += len(msg.TextContent()) + len(msg.ToolResultContent())
		for _, tc := range msg.ToolCalls() {
			chars += len(tc.Name) + len(tc.Arguments)
		}
	}
	return chars / 4
}
