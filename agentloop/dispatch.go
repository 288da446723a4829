package agentloop

import (
	"fmt"

	"github.com/martinemde/codeport/unifiedllm"
)

// Dispatch runs the tool named by call and wraps its encoded result as a
// tool message attributed to that tool. The dispatcher performs no I/O of
// its own; side effects are those of the host function.
//
// Errors are *ToolNotFoundError, *ArgumentDecodeError, *ResultEncodeError or
// *ToolPanicError. A host function is not invoked when its arguments fail
// to decode.
func (r *ToolRegistry) Dispatch(call unifiedllm.ToolCall) (unifiedllm.Message, error) {
	tool := r.get(call.Name)
	if tool == nil {
		return unifiedllm.Message{}, &ToolNotFoundError{DispatchError{Tool: call.Name, Message: "no such tool"}}
	}

	out, err := tool.invoke(string(call.Arguments))
	if err != nil {
		return unifiedllm.Message{}, err
	}
	return unifiedllm.ToolResultMessage(call.ID, call.Name, out, false), nil
}

func (t *registeredTool) invoke(arguments string) (out string, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = &ToolPanicError{
				DispatchError: DispatchError{Tool: t.definition.Name, Message: fmt.Sprintf("panicked: %v", v)},
				Value:         v,
			}
		}
	}()
	return t.call(arguments)
}

// DispatchErrorMessage renders a dispatch failure as an error tool message
// for call, so the model can read it and correct itself.
func DispatchErrorMessage(call unifiedllm.ToolCall, err error) unifiedllm.Message {
	return unifiedllm.ToolResultMessage(call.ID, call.Name, "Error: "+err.Error(), true)
}
