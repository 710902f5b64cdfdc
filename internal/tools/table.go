// Package tools maps model-chosen tool names onto typed handlers and
// serializes every outcome into the result envelope.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/eveiljuice/candidate-search-ai-agent/internal/envelope"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/llm"
	"github.com/eveiljuice/candidate-search-ai-agent/internal/observability"

	"go.uber.org/zap"
)

var (
	// ErrMalformedArguments marks arguments that do not fit the declared shape.
	ErrMalformedArguments = errors.New("malformed tool arguments")
	// ErrUnknownTool marks a call to a name the table does not hold.
	ErrUnknownTool = errors.New("unknown tool")
)

// ParamType is a JSON schema primitive.
type ParamType string

const (
	String  ParamType = "string"
	Boolean ParamType = "boolean"
	Integer ParamType = "integer"
	Array   ParamType = "array"
	Object  ParamType = "object"
)

// Param declares one argument field.
type Param struct {
	Name        string
	Type        ParamType
	Description string
	Required    bool
	Enum        []string
	// Items is the element schema for arrays, as raw JSON.
	Items json.RawMessage
}

// Spec declares one tool.
type Spec struct {
	Name        string
	Description string
	Params      []Param
}

// Schema renders the parameters as a JSON schema object.
func (s Spec) Schema() json.RawMessage {
	props := make(map[string]interface{}, len(s.Params))
	required := []string{}
	for _, p := range s.Params {
		prop := map[string]interface{}{"type": p.Type}
		if p.Description != "" {
			prop["description"] = p.Description
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		if len(p.Items) > 0 {
			prop["items"] = p.Items
		}
		props[p.Name] = prop
		if p.Required {
			required = append(required, p.Name)
		}
	}
	out, _ := json.Marshal(map[string]interface{}{
		"type":       "object",
		"properties": props,
		"required":   required,
	})
	return out
}

// Validator is implemented by argument types with checks beyond presence.
type Validator interface {
	Validate() error
}

// Handler runs one tool with decoded arguments.
type Handler[A any] func(ctx context.Context, args A) envelope.Result

type entry struct {
	spec   Spec
	invoke func(ctx context.Context, raw string) envelope.Result
}

// Observer is told about every dispatched call.
type Observer interface {
	ToolCalled(tool string, success bool)
}

// Table is the closed set of tools one loop may call.
type Table struct {
	entries  map[string]entry
	order    []string
	observer Observer
	logger   *zap.Logger
}

func NewTable(logger *zap.Logger) *Table {
	return &Table{
		entries: make(map[string]entry),
		logger:  observability.OrNop(logger).Named("tools"),
	}
}

// SetObserver installs o for every later call.
func (t *Table) SetObserver(o Observer) {
	t.observer = o
}

// Register adds a tool whose arguments decode into A. A second registration
// under the same name replaces the first.
func Register[A any](t *Table, spec Spec, h Handler[A]) {
	if _, exists := t.entries[spec.Name]; !exists {
		t.order = append(t.order, spec.Name)
	}
	t.entries[spec.Name] = entry{
		spec: spec,
		invoke: func(ctx context.Context, raw string) envelope.Result {
			args, err := decode[A](spec, raw)
			if err != nil {
				return envelope.Fail("%s: %v", spec.Name, err)
			}
			return h(ctx, args)
		},
	}
}

// decode parses raw into A. Unparseable JSON counts as an empty object;
// presence of required fields, field types and Validate are then checked.
func decode[A any](spec Spec, raw string) (A, error) {
	var args A

	fields := map[string]json.RawMessage{}
	trimmed := bytes.TrimSpace([]byte(raw))
	if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &fields); err != nil || fields == nil {
			fields = map[string]json.RawMessage{}
			trimmed = nil
		}
	}

	var missing []string
	for _, p := range spec.Params {
		v, ok := fields[p.Name]
		if p.Required && (!ok || string(v) == "null") {
			missing = append(missing, p.Name)
		}
	}
	if len(missing) > 0 {
		return args, fmt.Errorf("%w: missing required %s", ErrMalformedArguments, strings.Join(missing, ", "))
	}

	if len(trimmed) > 0 {
		if err := json.Unmarshal(trimmed, &args); err != nil {
			return args, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
		}
	}
	if v, ok := any(&args).(Validator); ok {
		if err := v.Validate(); err != nil {
			return args, fmt.Errorf("%w: %v", ErrMalformedArguments, err)
		}
	}
	return args, nil
}

// Has reports whether name is registered.
func (t *Table) Has(name string) bool {
	_, ok := t.entries[name]
	return ok
}

// Names lists the registered tools in registration order.
func (t *Table) Names() []string {
	return append([]string(nil), t.order...)
}

// Specs lists the registered tool declarations in registration order.
func (t *Table) Specs() []Spec {
	out := make([]Spec, 0, len(t.order))
	for _, name := range t.order {
		out = append(out, t.entries[name].spec)
	}
	return out
}

// Schemas returns the tool declarations in the form the model client sends.
func (t *Table) Schemas() []llm.ToolSchema {
	out := make([]llm.ToolSchema, 0, len(t.order))
	for _, s := range t.Specs() {
		out = append(out, llm.ToolSchema{Name: s.Name, Description: s.Description, Parameters: s.Schema()})
	}
	return out
}

// Call runs one tool and returns its envelope. Unknown names and handler
// panics become failure envelopes.
func (t *Table) Call(ctx context.Context, name, rawArgs string) (res envelope.Result) {
	e, ok := t.entries[name]
	if !ok {
		known := t.Names()
		sort.Strings(known)
		t.logger.Warn("model called unknown tool, "+observability.AdaptNote, zap.String("tool", name))
		res = envelope.Fail("%v %q; available tools: %s", ErrUnknownTool, name, strings.Join(known, ", "))
		t.notify(name, false)
		return res
	}

	defer func() {
		if r := recover(); r != nil {
			t.logger.Error("tool handler panicked", zap.String("tool", name), zap.Any("panic", r))
			res = envelope.Fail("%s crashed: %v", name, r)
		}
		t.notify(name, res.Success)
	}()

	res = e.invoke(ctx, rawArgs)
	if !res.Success {
		t.logger.Warn("tool failed, "+observability.AdaptNote, zap.String("tool", name), zap.String("error", res.Error))
	}
	return res
}

// Dispatch runs a model tool call and returns the serialized envelope.
func (t *Table) Dispatch(ctx context.Context, call llm.ToolCall) string {
	return t.Call(ctx, call.Name, call.Arguments).JSON()
}

func (t *Table) notify(name string, ok bool) {
	if t.observer != nil {
		t.observer.ToolCalled(name, ok)
	}
}
