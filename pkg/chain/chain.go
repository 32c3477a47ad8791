// Package chain implements the append-only ReasoningChain: a dense,
// monotonically numbered log of everything a ReAct iteration does, used
// both to drive the next LLM prompt and to reconstruct a task's full
// history after the fact.
package chain

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/skillcore/engine/pkg/tool"
)

// StepKind discriminates the variants of ReasoningStep.
type StepKind string

const (
	StepThinking   StepKind = "THINKING"
	StepToolCall   StepKind = "TOOL_CALL"
	StepToolResult StepKind = "TOOL_RESULT"
	StepSynthesis  StepKind = "SYNTHESIS"
)

// ReasoningStep is one entry in a chain. Only the fields relevant to Kind
// are populated; the rest are zero. A struct-of-variants (rather than an
// interface-per-kind) keeps append, snapshot, and JSON-free in-memory
// serialization trivial.
type ReasoningStep struct {
	StepNumber    int
	Kind          StepKind
	Timestamp     time.Time
	CorrelationID string

	// THINKING
	Thought string

	// TOOL_CALL
	ToolName string
	ToolArgs map[string]any

	// TOOL_RESULT
	Result   *tool.Result
	Attempts int

	// SYNTHESIS
	FinalAnswer string

	// TokensUsed and CostUSD are populated on THINKING and SYNTHESIS
	// steps from the LLM response that produced them, and on TOOL_RESULT
	// steps from the tool's own reported usage.
	TokensUsed int
	CostUSD    float64
}

// Metrics aggregates cost and usage across every step in a chain, updated
// incrementally on each TOOL_RESULT append so a snapshot never needs to
// re-walk the whole chain.
type Metrics struct {
	TotalSteps      int
	ToolCalls       int
	LLMCalls        int
	TotalTokensUsed int
	TotalCostUSD    float64
}

// Chain is a single task's reasoning history. Safe for concurrent use: the
// errgroup-based parallel-action path in the ReAct driver can append
// TOOL_CALL/TOOL_RESULT pairs from multiple goroutines within one
// iteration, so every mutating method takes the lock regardless of
// whether the caller happens to be single-threaded today.
type Chain struct {
	mu      sync.Mutex
	taskID  string
	steps   []ReasoningStep
	metrics Metrics

	pending map[string]pendingCall
}

type pendingCall struct {
	toolName string
	args     map[string]any
}

// New creates an empty chain for the given task.
func New(taskID string) *Chain {
	return &Chain{taskID: taskID, pending: make(map[string]pendingCall)}
}

func (c *Chain) nextStepNumberLocked() int {
	return len(c.steps) + 1
}

// AddThinking appends a THINKING step, attributing the LLM call's
// reported token usage and cost to it.
func (c *Chain) AddThinking(thought string, tokensUsed int, costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, ReasoningStep{
		StepNumber: c.nextStepNumberLocked(),
		Kind:       StepThinking,
		Timestamp:  time.Now(),
		Thought:    thought,
		TokensUsed: tokensUsed,
		CostUSD:    costUSD,
	})
	c.metrics.TotalSteps++
	c.metrics.LLMCalls++
	c.metrics.TotalTokensUsed += tokensUsed
	c.metrics.TotalCostUSD += costUSD
}

// AddSynthesis appends the terminal SYNTHESIS step, attributing the LLM
// call's reported token usage and cost to it.
func (c *Chain) AddSynthesis(finalAnswer string, tokensUsed int, costUSD float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.steps = append(c.steps, ReasoningStep{
		StepNumber:  c.nextStepNumberLocked(),
		Kind:        StepSynthesis,
		Timestamp:   time.Now(),
		FinalAnswer: finalAnswer,
		TokensUsed:  tokensUsed,
		CostUSD:     costUSD,
	})
	c.metrics.TotalSteps++
	c.metrics.LLMCalls++
	c.metrics.TotalTokensUsed += tokensUsed
	c.metrics.TotalCostUSD += costUSD
}

// RecordCall implements tool.Recorder: appends a TOOL_CALL step and
// returns a correlation ID the matching RecordResult call must supply.
func (c *Chain) RecordCall(toolName string, args map[string]any) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	correlationID := uuid.NewString()
	c.steps = append(c.steps, ReasoningStep{
		StepNumber:    c.nextStepNumberLocked(),
		Kind:          StepToolCall,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		ToolName:      toolName,
		ToolArgs:      args,
	})
	c.metrics.TotalSteps++
	c.metrics.ToolCalls++
	c.pending[correlationID] = pendingCall{toolName: toolName, args: args}
	return correlationID
}

// RecordResult implements tool.Recorder: appends the TOOL_RESULT step
// matching correlationID. A nil result (the dispatcher exhausted retries)
// still produces a step, so the chain always shows what was attempted.
func (c *Chain) RecordResult(correlationID string, result *tool.Result, attempts int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	call, known := c.pending[correlationID]
	toolName := ""
	if known {
		toolName = call.toolName
		delete(c.pending, correlationID)
	}

	c.steps = append(c.steps, ReasoningStep{
		StepNumber:    c.nextStepNumberLocked(),
		Kind:          StepToolResult,
		Timestamp:     time.Now(),
		CorrelationID: correlationID,
		ToolName:      toolName,
		Result:        result,
		Attempts:      attempts,
	})
	c.metrics.TotalSteps++
	if result != nil {
		c.metrics.TotalTokensUsed += result.TokensUsed
		c.metrics.TotalCostUSD += result.CostUSD
	}
}

// LastToolCall returns the most recently appended TOOL_CALL step and true,
// or a zero value and false if the chain has no tool calls yet. Used by
// the driver to detect an LLM repeating an identical call without making
// progress.
func (c *Chain) LastToolCall() (ReasoningStep, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.steps) - 1; i >= 0; i-- {
		if c.steps[i].Kind == StepToolCall {
			return c.steps[i], true
		}
	}
	return ReasoningStep{}, false
}

// Snapshot returns a defensive copy of the chain's steps in order,
// suitable for rendering into the next LLM prompt or returning to a
// caller without risking a data race against concurrent appends.
func (c *Chain) Snapshot() []ReasoningStep {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ReasoningStep, len(c.steps))
	copy(out, c.steps)
	return out
}

// MetricsSnapshot returns the chain's current aggregate metrics.
func (c *Chain) MetricsSnapshot() Metrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.metrics
}

// TaskID returns the task this chain belongs to.
func (c *Chain) TaskID() string { return c.taskID }
