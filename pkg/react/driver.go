package react

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/skillcore/engine/pkg/chain"
	"github.com/skillcore/engine/pkg/event"
	"github.com/skillcore/engine/pkg/execctx"
	"github.com/skillcore/engine/pkg/llm"
	"github.com/skillcore/engine/pkg/preprocess"
	"github.com/skillcore/engine/pkg/tool"
)

// Outcome classifies how a Driver run ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "Success"
	OutcomePartial Outcome = "PartialSuccess"
	OutcomeFailure Outcome = "Failure"
	OutcomeCanceled Outcome = "Canceled"
)

// Result is what Driver.Run returns.
type Result struct {
	Outcome        Outcome
	FinalAnswer    string
	PartialResults []string
	Reason         string
}

// ToolSchema is consulted by the driver to decide whether a batch of
// parsed actions may run concurrently: an action is eligible for the
// errgroup path only when every tool in the batch is tagged
// side-effect-free.
type ToolSchema interface {
	SideEffectFree(toolName string) bool
}

// AlwaysSequential is the conservative default ToolSchema: it reports
// every tool as not side-effect-free, so the driver always falls back to
// sequential action execution.
type AlwaysSequential struct{}

func (AlwaysSequential) SideEffectFree(string) bool { return false }

// Driver runs one skill execution's ReAct loop to completion.
type Driver struct {
	Dispatcher      *tool.Dispatcher
	LLM             llm.Client
	Bus             *event.Bus
	Schema          ToolSchema
	EarlyTermination bool
	EnableErrorRecovery bool
	// Limiter throttles iteration starts to max_iterations_per_minute. Nil
	// means unthrottled.
	Limiter *rate.Limiter
}

// New builds a Driver. A nil schema defaults to AlwaysSequential. A nil
// limiter leaves the iteration loop unthrottled.
func New(dispatcher *tool.Dispatcher, llmClient llm.Client, bus *event.Bus, schema ToolSchema, earlyTermination, enableErrorRecovery bool, limiter *rate.Limiter) *Driver {
	if schema == nil {
		schema = AlwaysSequential{}
	}
	return &Driver{
		Dispatcher:          dispatcher,
		LLM:                 llmClient,
		Bus:                 bus,
		Schema:              schema,
		EarlyTermination:    earlyTermination,
		EnableErrorRecovery: enableErrorRecovery,
		Limiter:             limiter,
	}
}

// Run drives the reason-act-observe loop to completion against an
// already preprocessed skill body.
func (d *Driver) Run(ctx context.Context, taskID string, loaded preprocess.LoadedContext, request string, allowedTools []string, skillName string, cfg execctx.Config, c *chain.Chain) Result {
	d.Dispatcher.PushScope(tool.Scope{SkillName: skillName, AllowedTools: tool.ParsePatternSet(allowedTools)})
	defer d.Dispatcher.PopScope()

	d.Bus.Publish(event.Event{TaskID: taskID, Kind: event.KindStatus, Visibility: event.Summary, State: event.StateWorking, Timestamp: time.Now()})

	conversation := []llm.Message{
		{Role: "system", Content: systemPrompt(loaded, allowedTools)},
		{Role: "user", Content: request},
	}

	state := execctx.NewState(cfg.TimeoutPerIteration, cfg.MaxIterations)
	errorCount := 0

	var finalState event.State
	var result Result

	iterations := 0
	for iterations < cfg.MaxIterations {
		if ctx.Err() != nil {
			result = Result{Outcome: OutcomeCanceled, PartialResults: state.PartialResults, Reason: "canceled"}
			finalState = event.StateCanceled
			break
		}

		if d.Limiter != nil {
			if err := d.Limiter.Wait(ctx); err != nil {
				result = Result{Outcome: OutcomeCanceled, PartialResults: state.PartialResults, Reason: "canceled waiting for iteration rate limit"}
				finalState = event.StateCanceled
				break
			}
		}

		iterDeadline := time.Now().Add(cfg.TimeoutPerIteration)
		iterCtx, cancel := context.WithDeadline(ctx, iterDeadline)

		d.Bus.Publish(event.Event{TaskID: taskID, Kind: event.KindMessage, Visibility: event.Detail,
			Message: fmt.Sprintf("iteration %d starting", iterations+1), Timestamp: time.Now()})

		resp, err := d.LLM.Complete(iterCtx, conversation, cfg.Model, cfg.Temperature)
		cancel()
		if err != nil {
			errorCount++
			if !d.EnableErrorRecovery {
				result = Result{Outcome: OutcomeFailure, PartialResults: state.PartialResults, Reason: "iteration timeout"}
				finalState = event.StateFailed
				break
			}
			iterations++
			continue
		}

		c.AddThinking(resp.Text, resp.TokensUsed, resp.CostUSD)
		parsed := Parse(resp.Text)

		if parsed.Unparseable {
			conversation = append(conversation,
				llm.Message{Role: "assistant", Content: resp.Text},
				llm.Message{Role: "user", Content: FormatErrorFeedback})
			iterations++
			continue
		}

		if parsed.IsFinal {
			c.AddSynthesis(parsed.FinalAnswer, 0, 0)
			d.Bus.Publish(event.Event{TaskID: taskID, Kind: event.KindMessage, Visibility: event.Summary,
				Parts: []event.MessagePart{{Kind: "text", Content: parsed.FinalAnswer}}, Timestamp: time.Now()})
			result = Result{Outcome: OutcomeSuccess, FinalAnswer: parsed.FinalAnswer, PartialResults: state.PartialResults}
			finalState = event.StateCompleted
			if d.EarlyTermination {
				break
			}
		}

		observations, fatalErr := d.executeActions(ctx, parsed.Actions, c, &errorCount, &state, cfg.MaxRetriesPerTool, iterDeadline)
		if fatalErr != nil {
			result = Result{Outcome: OutcomeFailure, PartialResults: state.PartialResults, Reason: fatalErr.Error()}
			finalState = event.StateFailed
			break
		}

		conversation = append(conversation, llm.Message{Role: "assistant", Content: resp.Text})
		for _, obs := range observations {
			conversation = append(conversation, llm.Message{Role: "user", Content: "Observation: " + obs})
		}

		if parsed.IsFinal && d.EarlyTermination {
			break
		}

		state.IterationsUsed = iterations + 1
		iterations++
	}

	if result.Outcome == "" {
		if len(state.PartialResults) > 0 {
			result = Result{Outcome: OutcomePartial, PartialResults: state.PartialResults, Reason: "iteration limit exhausted"}
			finalState = event.StateFailed
		} else {
			result = Result{Outcome: OutcomeFailure, Reason: "iteration limit exhausted"}
			finalState = event.StateFailed
		}
	}

	d.Bus.Publish(event.Event{TaskID: taskID, Kind: event.KindStatus, Visibility: event.Summary, State: finalState, Timestamp: time.Now()})
	d.Bus.Publish(event.Event{TaskID: taskID, Kind: event.KindDone, Visibility: event.Summary, FinalState: finalState, Timestamp: time.Now()})

	return result
}

// executeActions runs the parsed actions either sequentially or, when
// every action's tool is side-effect-free, concurrently via errgroup. It
// returns a fatal error when a RetriesExhaustedError occurs and
// d.EnableErrorRecovery is false, signaling the caller to stop the loop
// instead of feeding the failure back as an observation.
func (d *Driver) executeActions(ctx context.Context, actions []Action, c *chain.Chain, errorCount *int, state *execctx.State, maxRetries int, iterDeadline time.Time) ([]string, error) {
	if len(actions) == 0 {
		return nil, nil
	}

	concurrent := true
	for _, a := range actions {
		if !d.Schema.SideEffectFree(a.Tool) {
			concurrent = false
			break
		}
	}

	observations := make([]string, len(actions))
	fatalErrs := make([]error, len(actions))

	run := func(i int) {
		a := actions[i]
		firstArg := tool.FirstArgToken(fmt.Sprint(a.Args["command"]))
		res, err := d.Dispatcher.Dispatch(ctx, a.Tool, a.Args, firstArg, iterDeadline, maxRetries)
		observations[i], fatalErrs[i] = d.formatObservation(res, err, errorCount, state)
	}

	if concurrent {
		g, _ := errgroup.WithContext(ctx)
		for i := range actions {
			i := i
			g.Go(func() error {
				run(i)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i := range actions {
			run(i)
		}
	}

	for _, fe := range fatalErrs {
		if fe != nil {
			return observations, fe
		}
	}
	return observations, nil
}

// formatObservation renders a dispatch outcome as the text fed back to
// the LLM as an Observation. When a RetriesExhaustedError occurs and
// error recovery is disabled, it returns a non-nil error instead, which
// the caller treats as fatal to the whole run rather than recoverable.
func (d *Driver) formatObservation(res *tool.Result, err error, errorCount *int, state *execctx.State) (string, error) {
	if err != nil {
		*errorCount++
		var notPermitted *tool.ToolNotPermittedError
		var argErr *tool.ArgumentValidationError
		if errors.As(err, &notPermitted) || errors.As(err, &argErr) {
			return err.Error(), nil
		}
		var retriesExhausted *tool.RetriesExhaustedError
		if errors.As(err, &retriesExhausted) {
			if !d.EnableErrorRecovery {
				return "", err
			}
			return err.Error(), nil
		}
		return err.Error(), nil
	}
	if res == nil {
		return "(no result)", nil
	}
	if res.PartialValue != "" {
		state.RecordPartial(res.PartialValue)
	}
	b, marshalErr := json.Marshal(res.Value)
	if marshalErr != nil {
		return fmt.Sprintf("%v", res.Value), nil
	}
	return string(b), nil
}

func systemPrompt(loaded preprocess.LoadedContext, allowedTools []string) string {
	files := ""
	for name := range loaded.AvailableFiles {
		files += "- " + name + "\n"
	}
	return fmt.Sprintf("%s\n\nAvailable supporting files:\n%sAllowed tools: %v", loaded.Body, files, allowedTools)
}
