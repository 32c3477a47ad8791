// Package orchestrator is the entry point for executing a skill by name:
// it resolves the skill, routes between autonomous and simple execution
// modes, and manages depth-limited sub-agent delegation.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/skillcore/engine/pkg/chain"
	"github.com/skillcore/engine/pkg/event"
	"github.com/skillcore/engine/pkg/execctx"
	"github.com/skillcore/engine/pkg/llm"
	"github.com/skillcore/engine/pkg/masking"
	"github.com/skillcore/engine/pkg/preprocess"
	"github.com/skillcore/engine/pkg/react"
	"github.com/skillcore/engine/pkg/skill"
	"github.com/skillcore/engine/pkg/tool"
)

// ErrSkillNotFound is returned when the loader cannot resolve a skill
// name, surfaced to the caller as ErrorEvent(kind=SkillNotFound).
var ErrSkillNotFound = errors.New("skill not found")

// ErrRecursionLimitExceeded is returned by Delegate when the parent
// context is already at max_depth.
var ErrRecursionLimitExceeded = errors.New("recursion limit exceeded")

// ErrBudgetExhausted is returned when a sub-agent delegation would exceed
// MaxBudget or MaxConcurrentAgents.
var ErrBudgetExhausted = errors.New("sub-agent budget exhausted")

// Loader is the minimal interface the orchestrator needs of a skill
// source.
type Loader interface {
	Get(name string) (skill.Model, bool)
}

// Guardrails bounds concurrently in-flight sub-agents via a TOCTOU-safe
// reservation counter: check-and-increment happens under one lock so two
// concurrent Reserve calls can't both observe spare capacity.
type Guardrails struct {
	MaxConcurrentAgents int
	AgentTimeout        time.Duration
	MaxBudgetUSD        float64

	mu       sync.Mutex
	reserved int
	spentUSD float64
}

// Reserve attempts to reserve one concurrent sub-agent slot and costUSD of
// budget atomically, returning false if either guardrail would be
// exceeded. Callers must call Release when the sub-agent completes,
// whether it succeeded or failed.
func (g *Guardrails) Reserve(estimatedCostUSD float64) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved >= g.MaxConcurrentAgents {
		return false
	}
	if g.MaxBudgetUSD > 0 && g.spentUSD+estimatedCostUSD > g.MaxBudgetUSD {
		return false
	}
	g.reserved++
	g.spentUSD += estimatedCostUSD
	return true
}

// Release frees one reserved sub-agent slot.
func (g *Guardrails) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.reserved > 0 {
		g.reserved--
	}
}

// Orchestrator wires the Preprocessor, ToolDispatcher, and ReActDriver
// together and dispatches by execution mode.
type Orchestrator struct {
	Loader     Loader
	Registry   *tool.Registry
	LLM        llm.Client
	Bus        *event.Bus
	Masking    *masking.Service
	Guardrails *Guardrails
	PlatformConfig execctx.Overlay
	// Limiter enforces max_iterations_per_minute across every execution in
	// the process. Nil when rate limiting is disabled.
	Limiter *rate.Limiter
}

// Request is one execute() invocation's inputs.
type Request struct {
	SkillName    string
	UserRequest  string
	TaskID       string
	SessionID    string
	TenantID     string
	ModeOverride skill.ExecutionMode
	Parent       *execctx.Context // nil for a top-level task
	RuntimeConfig execctx.Overlay
}

// Execute resolves and runs a skill, returning its final react.Result.
// Event emission happens as a side effect via Orchestrator.Bus; callers
// subscribe before calling Execute to observe progress.
func (o *Orchestrator) Execute(ctx context.Context, req Request) (react.Result, error) {
	doc, ok := o.Loader.Get(req.SkillName)
	if !ok {
		o.Bus.Publish(event.Event{TaskID: req.TaskID, Kind: event.KindError, Visibility: event.Summary,
			ErrorKind: "SkillNotFound", Message: fmt.Sprintf("skill %q not found", req.SkillName), Timestamp: time.Now()})
		o.Bus.Publish(event.Event{TaskID: req.TaskID, Kind: event.KindDone, Visibility: event.Summary, FinalState: event.StateFailed, Timestamp: time.Now()})
		return react.Result{}, fmt.Errorf("%w: %s", ErrSkillNotFound, req.SkillName)
	}

	meta := doc.GetMetadata()
	mode := req.ModeOverride
	if mode == "" {
		mode = meta.ExecutionMode
	}
	if mode == "" {
		mode = skill.ModeAutonomous
	}

	skillOverlay := metadataOverlay(meta)
	cfg := execctx.Resolve(o.PlatformConfig, skillOverlay, req.RuntimeConfig)

	execCtx := execctx.Root(req.TaskID, req.SkillName, 0)
	if req.Parent != nil {
		if !req.Parent.CanDelegate() {
			return react.Result{}, ErrRecursionLimitExceeded
		}
		execCtx = req.Parent.Child(req.TaskID, req.SkillName)
		cfg.MaxIterations = execctx.IterationBudget(cfg.MaxIterations, execCtx.Depth)
	}

	loaded := preprocess.Run(ctx, doc.GetBody(), preprocess.Variables{
		Arguments: req.UserRequest,
		SessionID: req.SessionID,
		SkillDir:  doc.GetDirectory(),
	}, preprocess.Options{
		AppendTrailingRequest: true,
		AllowedTools:          tool.ParsePatternSet(meta.AllowedTools),
		TenantID:              req.TenantID,
		SkillName:              req.SkillName,
	})

	c := chain.New(req.TaskID)
	dispatcher := tool.NewDispatcher(o.Registry, c, 10)
	if o.Masking != nil {
		dispatcher.WithMasking(o.Masking, o.Masking.GroupNames()...)
	}

	if mode == skill.ModeSimple {
		return o.runSimple(ctx, req, loaded, cfg, c)
	}
	driver := react.New(dispatcher, o.LLM, o.Bus, nil, meta.EarlyTermination, cfg.EnableErrorRecovery, o.Limiter)
	result := driver.Run(ctx, req.TaskID, loaded, req.UserRequest, meta.AllowedTools, req.SkillName, cfg, c)
	return result, nil
}

// runSimple wraps a single LLM call as a trivial chain with one THINKING
// and one SYNTHESIS step, for skills that ask for a direct answer instead
// of an iterative tool-using loop.
func (o *Orchestrator) runSimple(ctx context.Context, req Request, loaded preprocess.LoadedContext, cfg execctx.Config, c *chain.Chain) (react.Result, error) {
	o.Bus.Publish(event.Event{TaskID: req.TaskID, Kind: event.KindStatus, Visibility: event.Summary, State: event.StateWorking, Timestamp: time.Now()})

	resp, err := o.LLM.Complete(ctx, []llm.Message{
		{Role: "system", Content: loaded.Body},
		{Role: "user", Content: req.UserRequest},
	}, cfg.Model, cfg.Temperature)

	finalState := event.StateCompleted
	result := react.Result{Outcome: react.OutcomeSuccess}
	if err != nil {
		finalState = event.StateFailed
		result = react.Result{Outcome: react.OutcomeFailure, Reason: err.Error()}
	} else {
		c.AddThinking(resp.Text, resp.TokensUsed, resp.CostUSD)
		c.AddSynthesis(resp.Text, 0, 0)
		result.FinalAnswer = resp.Text
		o.Bus.Publish(event.Event{TaskID: req.TaskID, Kind: event.KindMessage, Visibility: event.Summary,
			Parts: []event.MessagePart{{Kind: "text", Content: resp.Text}}, Timestamp: time.Now()})
	}

	o.Bus.Publish(event.Event{TaskID: req.TaskID, Kind: event.KindStatus, Visibility: event.Summary, State: finalState, Timestamp: time.Now()})
	o.Bus.Publish(event.Event{TaskID: req.TaskID, Kind: event.KindDone, Visibility: event.Summary, FinalState: finalState, Timestamp: time.Now()})
	return result, err
}

// DelegateAll fans a batch of sub-agent requests out concurrently,
// bounded by Guardrails, and fans the results back in via errgroup.
// Each request's Parent must already be set to the calling task's
// execctx.Context.
func (o *Orchestrator) DelegateAll(ctx context.Context, reqs []Request) ([]react.Result, error) {
	results := make([]react.Result, len(reqs))
	g, gctx := errgroup.WithContext(ctx)

	for i, r := range reqs {
		i, r := i, r
		if !o.Guardrails.Reserve(0) {
			return nil, ErrBudgetExhausted
		}
		g.Go(func() error {
			defer o.Guardrails.Release()
			agentCtx, cancel := context.WithTimeout(gctx, o.Guardrails.AgentTimeout)
			defer cancel()
			res, err := o.Execute(agentCtx, r)
			results[i] = res
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

func metadataOverlay(meta skill.Metadata) execctx.Overlay {
	o := execctx.Overlay{}
	if meta.MaxIterations > 0 {
		v := meta.MaxIterations
		o.MaxIterations = &v
	}
	if meta.MaxRetriesPerTool > 0 {
		v := meta.MaxRetriesPerTool
		o.MaxRetriesPerTool = &v
	}
	if meta.TimeoutPerIter > 0 {
		v := meta.TimeoutPerIter
		o.TimeoutPerIteration = &v
	}
	if meta.Model != "" {
		v := meta.Model
		o.Model = &v
	}
	v := meta.Temperature
	o.Temperature = &v
	return o
}
