// Package tool defines the closed tool interface the execution core
// dispatches against, and the ToolDispatcher that enforces skill scoping,
// argument validation, retries, and selective truncation before a result
// is recorded onto a reasoning chain.
package tool

import (
	"context"
	"time"
)

// ParamKind is the declared type of a single tool parameter.
type ParamKind string

const (
	KindString ParamKind = "string"
	KindInt    ParamKind = "int"
	KindFloat  ParamKind = "float"
	KindBool   ParamKind = "bool"
	KindObject ParamKind = "object"
	KindArray  ParamKind = "array"
)

// Param describes one argument a Tool accepts.
type Param struct {
	Name        string
	Kind        ParamKind
	Required    bool
	Constraints map[string]any // e.g. {"min": 1, "max": 100, "enum": [...]}
}

// ErrorKind classifies a tool-reported failure for the dispatcher's retry
// and error-taxonomy decisions.
type ErrorKind string

const (
	ErrorKindTransient ErrorKind = "ToolTransientError"
	ErrorKindFatal     ErrorKind = "ToolFatalError"
)

// ResultError is the structured error a Tool reports inside a Result.
type ResultError struct {
	Kind      ErrorKind
	Message   string
	Retryable bool
}

// Result is what a Tool's Execute returns. Truncatable fields are named in
// TruncatableFields; the dispatcher truncates those before recording the
// TOOL_RESULT step.
type Result struct {
	Success           bool
	Value             any
	Error             *ResultError
	TokensUsed        int
	CostUSD           float64
	TruncatableFields []string
	// PartialValue is salvaged into the execution state's partial results
	// when a tool produces useful output even though the broader task did
	// not reach a Final Answer.
	PartialValue string
}

// Truncatable is implemented by Result.Value types that carry large lists
// the dispatcher may need to trim to max_items.
type Truncatable interface {
	// TruncateFields returns a copy of the value with the named fields
	// trimmed to maxItems, plus a human-readable note describing what was
	// dropped (e.g. "Showing 10 of 1000 items").
	TruncateFields(fields []string, maxItems int) (value any, note string)
}

// Tool is the closed interface the core requires of any registered tool.
type Tool interface {
	Name() string
	Schema() []Param
	Execute(ctx context.Context, args map[string]any, deadline time.Time) (*Result, error)
}

// StreamChunk is one increment of output from a streaming-capable tool.
// Streaming tools surface chunks as SUMMARY/DETAIL events, never as
// distinct chain steps.
type StreamChunk struct {
	Content string
	Done    bool
}

// StreamingTool is an optional capability a Tool may additionally implement.
type StreamingTool interface {
	Tool
	ExecuteStreaming(ctx context.Context, args map[string]any, deadline time.Time) (<-chan StreamChunk, error)
}

// Registry is a thread-safe, read-mostly map of tool name to Tool,
// mirroring the platform config package's registry pattern (defensive copy
// on read, mutex-guarded writes).
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a registry from the given tools. Duplicate names
// overwrite earlier entries in the order given.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(tools))}
	for _, t := range tools {
		r.tools[t.Name()] = t
	}
	return r
}

// Get returns the tool by name, or (nil, false) if unregistered.
func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Names returns every registered tool name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	return names
}
