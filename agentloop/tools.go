package agentloop

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/martinemde/codeport/unifiedllm"
)

// toolFunc is the type-erased form of a host function: raw argument text in,
// raw result text out.
type toolFunc func(arguments string) (string, error)

// registeredTool pairs the advertised definition with its erased callable.
type registeredTool struct {
	definition unifiedllm.ToolDefinition
	call       toolFunc
}

// ToolRegistry maps unique tool names to host functions. It is append-only:
// tools are registered once at startup and never removed.
type ToolRegistry struct {
	tools    map[string]*registeredTool
	order    []string
	validate *validator.Validate
	logger   *slog.Logger
	mu       sync.RWMutex
}

// RegistryOption configures a ToolRegistry.
type RegistryOption func(*ToolRegistry)

// WithRegistryLogger sets the logger used to record registrations.
func WithRegistryLogger(logger *slog.Logger) RegistryOption {
	return func(r *ToolRegistry) {
		r.logger = logger
	}
}

// NewToolRegistry creates an empty ToolRegistry.
func NewToolRegistry(opts ...RegistryOption) *ToolRegistry {
	r := &ToolRegistry{
		tools:    make(map[string]*registeredTool),
		validate: validator.New(validator.WithRequiredStructEnabled()),
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register binds fn under name. The argument schema is derived from A; a
// unit A (see NoArgs) advertises no schema and is never decoded. Payloads
// must carry every key the schema requires and, for closed schemas, no
// other key. Struct arguments are then checked against their `validate`
// tags.
//
// Registration fails if name is taken, empty, or R cannot be encoded.
func Register[A, R any](reg *ToolRegistry, name, description string, fn func(A) R) error {
	if name == "" {
		return &InvalidToolError{Name: name, Reason: "name must not be empty"}
	}
	if fn == nil {
		return &InvalidToolError{Name: name, Reason: "function must not be nil"}
	}

	argType := reflect.TypeOf((*A)(nil)).Elem()
	resultType := reflect.TypeOf((*R)(nil)).Elem()
	if reason := unencodable(resultType, map[reflect.Type]bool{}); reason != "" {
		return &InvalidToolError{Name: name, Reason: "result " + reason}
	}

	schema, err := DeriveSchema(argType)
	if err != nil {
		return &InvalidToolError{Name: name, Reason: err.Error()}
	}
	unit := isUnitType(argType)
	shape := shapeOf(schema)

	call := func(arguments string) (string, error) {
		var args A
		if !unit {
			if strings.TrimSpace(arguments) == "" {
				arguments = "{}"
			}
			if err := json.Unmarshal([]byte(arguments), &args); err != nil {
				return "", &ArgumentDecodeError{DispatchError{Tool: name, Message: "cannot decode arguments", Cause: err}}
			}
			if shape != nil {
				if err := shape.check([]byte(arguments)); err != nil {
					return "", &ArgumentDecodeError{DispatchError{Tool: name, Message: "arguments do not match schema", Cause: err}}
				}
			}
			if err := reg.validateArgs(args); err != nil {
				return "", &ArgumentDecodeError{DispatchError{Tool: name, Message: "invalid arguments", Cause: err}}
			}
		}

		out, err := encodeResult(fn(args))
		if err != nil {
			return "", &ResultEncodeError{DispatchError{Tool: name, Message: "cannot encode result", Cause: err}}
		}
		return out, nil
	}

	return reg.add(&registeredTool{
		definition: unifiedllm.ToolDefinition{
			Name:        name,
			Description: description,
			Parameters:  schema,
		},
		call: call,
	})
}

// MustRegister is like Register but panics on error. It is meant for
// startup code where a failed registration is a programming error.
func MustRegister[A, R any](reg *ToolRegistry, name, description string, fn func(A) R) {
	if err := Register(reg, name, description, fn); err != nil {
		panic(err)
	}
}

func (r *ToolRegistry) add(tool *registeredTool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := tool.definition.Name
	if _, exists := r.tools[name]; exists {
		return &DuplicateToolError{Name: name}
	}
	r.tools[name] = tool
	r.order = append(r.order, name)
	r.logger.Debug("registered tool",
		slog.String("name", name),
		slog.Bool("has_schema", tool.definition.Parameters != nil),
	)
	return nil
}

func (r *ToolRegistry) get(name string) *registeredTool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.tools[name]
}

func (r *ToolRegistry) validateArgs(args interface{}) error {
	v := reflect.ValueOf(args)
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return nil
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct {
		return nil
	}
	return r.validate.Struct(v.Interface())
}

// Has reports whether a tool is registered under name.
func (r *ToolRegistry) Has(name string) bool {
	return r.get(name) != nil
}

// Definitions returns the advertised tool definitions in registration order.
func (r *ToolRegistry) Definitions() []unifiedllm.ToolDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]unifiedllm.ToolDefinition, 0, len(r.order))
	for _, name := range r.order {
		defs = append(defs, r.tools[name].definition)
	}
	return defs
}

// Names returns the registered tool names in registration order.
func (r *ToolRegistry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, len(r.order))
	copy(names, r.order)
	return names
}

// Count returns the number of registered tools.
func (r *ToolRegistry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// encodeResult encodes v as compact JSON without HTML escaping, so source
// code travels to the model as written.
func encodeResult(v interface{}) (string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return "", err
	}
	return strings.TrimSuffix(buf.String(), "\n"), nil
}

// unencodable returns a reason when values of t can never be JSON encoded.
func unencodable(t reflect.Type, seen map[reflect.Type]bool) string {
	if seen[t] {
		return ""
	}
	seen[t] = true

	switch t.Kind() {
	case reflect.Chan, reflect.Func, reflect.Complex64, reflect.Complex128, reflect.UnsafePointer:
		return fmt.Sprintf("type %s cannot be encoded", t)
	case reflect.Pointer, reflect.Slice, reflect.Array:
		return unencodable(t.Elem(), seen)
	case reflect.Map:
		return unencodable(t.Elem(), seen)
	case reflect.Struct:
		if t.Implements(marshalerType) || reflect.PointerTo(t).Implements(marshalerType) {
			return ""
		}
		for i := 0; i < t.NumField(); i++ {
			f := t.Field(i)
			if !f.IsExported() || f.Tag.Get("json") == "-" {
				continue
			}
			if reason := unencodable(f.Type, seen); reason != "" {
				return reason
			}
		}
	}
	return ""
}

var marshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
