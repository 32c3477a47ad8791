package tool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/skillcore/engine/pkg/recovery"
)

// Recorder is the minimal interface the dispatcher needs of a reasoning
// chain, kept abstract so this package never imports pkg/chain.
type Recorder interface {
	// RecordCall appends a TOOL_CALL step and returns its correlation ID.
	RecordCall(toolName string, args map[string]any) string
	// RecordResult appends the matching TOOL_RESULT step.
	RecordResult(correlationID string, result *Result, attempts int)
}

// Masker is the minimal interface the dispatcher needs of a masking
// service, kept abstract for the same reason as Recorder: this package
// must not import pkg/masking directly.
type Masker interface {
	Mask(text string, groupNames []string) string
}

// Scope is one frame of the skill-context stack: the set of allowed-tools
// patterns currently in force, and the skill name they belong to (for error
// messages). The driver pushes a Scope when entering a skill or delegating
// to a sub-agent, and pops it on return, coupling the lifetime of scope
// enforcement to scoped resource acquisition.
type Scope struct {
	SkillName    string
	AllowedTools PatternSet
}

// Dispatcher executes tool calls on behalf of the ReAct driver: it enforces
// the top-of-stack skill scope, validates arguments against the tool's
// schema, retries transient failures with backoff, truncates oversized
// results, and records every attempt onto a Recorder.
type Dispatcher struct {
	registry *Registry
	recorder Recorder

	mu    sync.Mutex
	stack []Scope

	maxItems   int
	masker     Masker
	maskGroups []string
}

// NewDispatcher builds a Dispatcher over the given tool registry. maxItems
// is the default truncation limit; pass 0 to use the default of 10.
func NewDispatcher(registry *Registry, recorder Recorder, maxItems int) *Dispatcher {
	if maxItems <= 0 {
		maxItems = 10
	}
	return &Dispatcher{registry: registry, recorder: recorder, maxItems: maxItems}
}

// WithMasking attaches a masking service and the group names to apply to
// every string-valued tool result before it is recorded. Returns the
// dispatcher for chaining.
func (d *Dispatcher) WithMasking(m Masker, groupNames ...string) *Dispatcher {
	d.masker = m
	d.maskGroups = groupNames
	return d
}

// PushScope enters a new skill context. Callers must pair every PushScope
// with a deferred PopScope, e.g.:
//
//	d.PushScope(scope)
//	defer d.PopScope()
func (d *Dispatcher) PushScope(s Scope) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stack = append(d.stack, s)
}

// PopScope leaves the most recently pushed skill context. A no-op on an
// empty stack, since a driver shutting down mid-call may pop more than it
// pushed during error unwinding.
func (d *Dispatcher) PopScope() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stack) == 0 {
		return
	}
	d.stack = d.stack[:len(d.stack)-1]
}

func (d *Dispatcher) topScope() (Scope, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if len(d.stack) == 0 {
		return Scope{}, false
	}
	return d.stack[len(d.stack)-1], true
}

// Dispatch validates, scope-checks, retries, and truncates a single tool
// call, recording every attempt via the Recorder. firstArgToken is the
// first whitespace-delimited token of the call's primary string argument
// (if any), used to evaluate bash(prefix:*)-style scope patterns.
// maxRetries bounds the total number of attempts (not additional retries
// beyond the first); values <= 0 are treated as 1 attempt.
func (d *Dispatcher) Dispatch(ctx context.Context, toolName string, args map[string]any, firstArgToken string, iterDeadline time.Time, maxRetries int) (*Result, error) {
	if maxRetries <= 0 {
		maxRetries = 1
	}
	scope, hasScope := d.topScope()
	if hasScope && !scope.AllowedTools.Permits(toolName, firstArgToken) {
		err := &ToolNotPermittedError{Tool: toolName, Skill: scope.SkillName}
		return nil, err
	}

	t, ok := d.registry.Get(toolName)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrToolNotRegistered, toolName)
	}

	if err := validateArgs(t.Schema(), args); err != nil {
		return nil, err
	}

	correlationID := d.recorder.RecordCall(toolName, args)

	var (
		result  *Result
		lastErr error
	)
	attempt := 0
	for {
		attempt++
		result, lastErr = t.Execute(ctx, args, iterDeadline)
		if lastErr == nil && (result == nil || result.Success) {
			break
		}

		retryable := lastErr == nil && result != nil && result.Error != nil && result.Error.Retryable
		classifyErr := lastErr
		if classifyErr == nil && result != nil && result.Error != nil {
			classifyErr = fmt.Errorf("%s: %s", result.Error.Kind, result.Error.Message)
		}

		action := recovery.Classify(classifyErr, retryable)
		if action != recovery.ActionRetry {
			break
		}
		if attempt >= maxRetries {
			if lastErr == nil {
				lastErr = classifyErr
			}
			break
		}
		if ctx.Err() != nil {
			break
		}

		select {
		case <-time.After(recovery.Delay(attempt)):
		case <-ctx.Done():
			lastErr = ctx.Err()
		}
		if ctx.Err() != nil {
			break
		}
		if time.Now().After(iterDeadline) {
			if lastErr == nil && result != nil && result.Error != nil && result.Error.Retryable {
				lastErr = fmt.Errorf("%s: %s", result.Error.Kind, result.Error.Message)
			}
			break
		}
	}

	if lastErr != nil {
		d.recorder.RecordResult(correlationID, nil, attempt)
		return nil, &RetriesExhaustedError{Tool: toolName, AttemptCount: attempt, LastErr: lastErr}
	}
	if result != nil && !result.Success && result.Error != nil && !result.Error.Retryable {
		d.recorder.RecordResult(correlationID, result, attempt)
		return result, nil
	}
	if result != nil && len(result.TruncatableFields) > 0 {
		if tv, ok := result.Value.(Truncatable); ok {
			truncated, note := tv.TruncateFields(result.TruncatableFields, d.maxItems)
			result.Value = truncated
			if note != "" {
				result.PartialValue = note
			}
		}
	}

	if result != nil && d.masker != nil {
		if s, ok := result.Value.(string); ok {
			result.Value = d.masker.Mask(s, d.maskGroups)
		}
		if result.PartialValue != "" {
			result.PartialValue = d.masker.Mask(result.PartialValue, d.maskGroups)
		}
	}

	d.recorder.RecordResult(correlationID, result, attempt)
	return result, nil
}

func validateArgs(schema []Param, args map[string]any) error {
	for _, p := range schema {
		v, present := args[p.Name]
		if p.Required && !present {
			return &ArgumentValidationError{Param: p.Name, Err: fmt.Errorf("required argument missing")}
		}
		if !present {
			continue
		}
		if err := validateKind(p, v); err != nil {
			return &ArgumentValidationError{Param: p.Name, Err: err}
		}
	}
	return nil
}

func validateKind(p Param, v any) error {
	switch p.Kind {
	case KindString:
		if _, ok := v.(string); !ok {
			return fmt.Errorf("expected string, got %T", v)
		}
	case KindInt:
		switch v.(type) {
		case int, int32, int64, float64:
		default:
			return fmt.Errorf("expected int, got %T", v)
		}
	case KindFloat:
		switch v.(type) {
		case float32, float64:
		default:
			return fmt.Errorf("expected float, got %T", v)
		}
	case KindBool:
		if _, ok := v.(bool); !ok {
			return fmt.Errorf("expected bool, got %T", v)
		}
	case KindObject:
		if _, ok := v.(map[string]any); !ok {
			return fmt.Errorf("expected object, got %T", v)
		}
	case KindArray:
		if _, ok := v.([]any); !ok {
			return fmt.Errorf("expected array, got %T", v)
		}
	}
	return nil
}
