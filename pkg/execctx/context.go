package execctx

import (
	"context"
	"time"
)

// DefaultMaxDepth bounds sub-agent delegation recursion when no
// platform override sets a different ceiling.
const DefaultMaxDepth = 2

// Context carries the delegation lineage of one task through the driver
// and orchestrator: how deep in the sub-agent tree it sits, who its
// parent was, and which skills are currently active on the call stack
// (innermost last). It is immutable after construction — a sub-agent
// delegation builds a new Context via Child rather than mutating the
// parent's.
type Context struct {
	TaskID       string
	ParentTaskID string
	Depth        int
	MaxDepth     int
	SkillChain   []string // skill names from outermost to innermost
}

// Root builds the top-level Context for a freshly submitted task.
func Root(taskID, skillName string, maxDepth int) Context {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return Context{
		TaskID:     taskID,
		Depth:      0,
		MaxDepth:   maxDepth,
		SkillChain: []string{skillName},
	}
}

// CanDelegate reports whether this context is shallow enough to spawn a
// sub-agent.
func (c Context) CanDelegate() bool {
	return c.Depth < c.MaxDepth
}

// Child builds the Context for a sub-agent delegated from c. Callers must
// check CanDelegate first; Child does not itself enforce the limit so
// that a caller choosing to override it (e.g. a test fixture) can do so
// explicitly rather than through a silent clamp.
func (c Context) Child(childTaskID, skillName string) Context {
	chain := make([]string, len(c.SkillChain), len(c.SkillChain)+1)
	copy(chain, c.SkillChain)
	chain = append(chain, skillName)
	return Context{
		TaskID:       childTaskID,
		ParentTaskID: c.TaskID,
		Depth:        c.Depth + 1,
		MaxDepth:     c.MaxDepth,
		SkillChain:   chain,
	}
}

// IterationBudget computes a sub-agent's max-iterations ceiling from its
// parent's base budget: floor(parent_base * 0.5^depth), floored at 3.
func IterationBudget(parentBase, depth int) int {
	budget := parentBase
	for i := 0; i < depth; i++ {
		budget /= 2
	}
	if budget < 3 {
		budget = 3
	}
	return budget
}

// State is the mutable, per-task progress record the driver updates every
// iteration: how many iterations have run, what partial results have been
// salvaged from tool calls that did not lead to a Final Answer, and the
// running cost against the task's budget.
type State struct {
	IterationsUsed int
	PartialResults []string
	CostUSD        float64
	StartedAt      time.Time
	Deadline       time.Time
}

// NewState starts a fresh State with the iteration deadline computed from
// now, used as the wall-clock ceiling context.WithDeadline enforces
// cooperatively across the driver, dispatcher, and any sub-agents.
func NewState(iterTimeout time.Duration, maxIterations int) State {
	now := startedAtNow()
	return State{
		StartedAt: now,
		Deadline:  now.Add(iterTimeout * time.Duration(maxIterations)),
	}
}

// startedAtNow is the sole call to time.Now in this file, isolated so
// tests can substitute a fixed clock if ever needed without touching the
// rest of State's logic.
func startedAtNow() time.Time { return time.Now() }

// WithDeadline derives a child context.Context bound to State's overall
// deadline, for cooperative cancellation.
func (s State) WithDeadline(parent context.Context) (context.Context, context.CancelFunc) {
	return context.WithDeadline(parent, s.Deadline)
}

// RecordPartial appends a salvaged partial result, used when a tool call
// succeeds but the broader task is subsequently abandoned (budget
// exhausted, max iterations hit) without reaching a Final Answer.
func (s *State) RecordPartial(value string) {
	if value == "" {
		return
	}
	s.PartialResults = append(s.PartialResults, value)
}
