package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"reflect"
	"runtime/debug"
	"sort"
	"time"

	"github.com/invopop/jsonschema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("github.com/gaddyh/tami2-ai-sub000/internal/tools")

// Tool is one planner-callable operation.
type Tool interface {
	Name() string
	Description() string
	Schema() *jsonschema.Schema
	Execute(ctx context.Context, args json.RawMessage, sc *Scope) *Result
}

// validator is implemented by argument records with cross-field rules.
type validator interface {
	Validate() *Result
}

type typedTool[A any] struct {
	name   string
	desc   string
	schema *jsonschema.Schema
	fn     func(ctx context.Context, args A, sc *Scope) *Result
}

var reflector = &jsonschema.Reflector{
	DoNotReference:             true,
	ExpandedStruct:             true,
	RequiredFromJSONSchemaTags: true,
}

// NewTool wraps fn with strict argument decoding into A: unknown fields
// fail with validation_error before fn runs.
func NewTool[A any](name, description string, fn func(ctx context.Context, args A, sc *Scope) *Result) Tool {
	var zero A
	return &typedTool[A]{
		name:   name,
		desc:   description,
		schema: reflector.Reflect(zero),
		fn:     fn,
	}
}

func (t *typedTool[A]) Name() string               { return t.name }
func (t *typedTool[A]) Description() string        { return t.desc }
func (t *typedTool[A]) Schema() *jsonschema.Schema { return t.schema }

func (t *typedTool[A]) Execute(ctx context.Context, raw json.RawMessage, sc *Scope) (res *Result) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("tool panic", "tool", t.name, "panic", p, "stack", string(debug.Stack()))
			res = Failure(CodeException, "%s: %v", t.name, p)
		}
	}()

	var args A
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		raw = json.RawMessage("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return Failure(CodeValidation, "%s: invalid args: %v", t.name, err)
	}
	if v, ok := any(&args).(validator); ok {
		if r := v.Validate(); r != nil {
			return r
		}
	}
	return t.fn(ctx, args, sc)
}

// Registry maps tool names to tools and records per-tool call history.
type Registry struct {
	tools map[string]Tool
	order []string
}

func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Tool)}
}

// Register adds t, replacing any tool of the same name.
func (r *Registry) Register(t Tool) {
	if t == nil {
		return
	}
	if v := reflect.ValueOf(t); v.Kind() == reflect.Pointer && v.IsNil() {
		return
	}
	if _, ok := r.tools[t.Name()]; !ok {
		r.order = append(r.order, t.Name())
	}
	r.tools[t.Name()] = t
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns tool names in registration order.
func (r *Registry) Names() []string {
	return append([]string(nil), r.order...)
}

// Subset returns a registry with only the named tools that exist here.
func (r *Registry) Subset(names ...string) *Registry {
	sub := NewRegistry()
	for _, n := range names {
		if t, ok := r.tools[n]; ok {
			sub.Register(t)
		}
	}
	return sub
}

// Execute runs one call and never returns a nil result.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage, sc *Scope) *Result {
	t, ok := r.tools[name]
	if !ok {
		return Failure(CodeValidation, "unknown tool %q", name)
	}
	ctx, span := tracer.Start(ctx, "tool."+name)
	defer span.End()

	start := time.Now()
	res := t.Execute(ctx, args, sc)
	if res == nil {
		res = Failure(CodeInternal, "%s returned no result", name)
	}
	span.SetAttributes(attribute.Bool("tool.ok", res.OK), attribute.String("tool.code", res.Code))
	slog.Debug("tool executed", "tool", name, "ok", res.OK, "code", res.Code, "duration_ms", time.Since(start).Milliseconds())
	return res
}

// Call is one recorded invocation.
type Call struct {
	Tool      string          `json:"tool"`
	Args      json.RawMessage `json:"args"`
	Result    *Result         `json:"result"`
	Error     string          `json:"error,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// ToolHistory is the bounded call log of one tool, newest first.
type ToolHistory struct {
	Latest    *Call  `json:"latest,omitempty"`
	LastError *Call  `json:"last_error,omitempty"`
	Calls     []Call `json:"calls"`
}

// HistoryBook is the per-tool history kept in the agent context.
type HistoryBook map[string]*ToolHistory

// Record prepends c to the tool's history, trims it to max entries and
// updates Latest on success or LastError on failure.
func (h HistoryBook) Record(c Call, max int) {
	th := h[c.Tool]
	if th == nil {
		th = &ToolHistory{}
		h[c.Tool] = th
	}
	th.Calls = append([]Call{c}, th.Calls...)
	if max > 0 && len(th.Calls) > max {
		th.Calls = th.Calls[:max]
	}
	cp := c
	if c.Error == "" {
		th.Latest = &cp
	} else {
		th.LastError = &cp
	}
}

// Last returns the tool's latest successful call, else its last failure.
func (h HistoryBook) Last(tool string) *Call {
	th := h[tool]
	if th == nil {
		return nil
	}
	if th.Latest != nil {
		return th.Latest
	}
	return th.LastError
}

// Since returns the calls of tool made at or after t, oldest first.
func (h HistoryBook) Since(tool string, t time.Time) []Call {
	th := h[tool]
	if th == nil {
		return nil
	}
	var out []Call
	for _, c := range th.Calls {
		if !c.Timestamp.Before(t) {
			out = append(out, c)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out
}

// NewCall builds a history entry from an executed call.
func NewCall(tool string, args json.RawMessage, res *Result, at time.Time) Call {
	c := Call{Tool: tool, Args: args, Result: res, Timestamp: at}
	if res != nil && !res.OK {
		c.Error = res.Error
		if c.Error == "" {
			c.Error = fmt.Sprintf("%s failed", tool)
		}
	}
	return c
}
