package react

import (
	"context"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/skillcore/engine/pkg/chain"
	"github.com/skillcore/engine/pkg/event"
	"github.com/skillcore/engine/pkg/execctx"
	"github.com/skillcore/engine/pkg/llm"
	"github.com/skillcore/engine/pkg/preprocess"
	"github.com/skillcore/engine/pkg/tool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestDriver(stub *llm.StubClient, registry *tool.Registry) (*Driver, *chain.Chain, *event.Bus) {
	c := chain.New("task-1")
	dispatcher := tool.NewDispatcher(registry, c, 10)
	bus := event.New()
	d := New(dispatcher, stub, bus, nil, true, true, nil)
	return d, c, bus
}

func TestDriverSucceedsOnFirstIterationFinalAnswer(t *testing.T) {
	stub := llm.NewStubClient(llm.Response{Text: "Final Answer: all good"})
	d, c, bus := newTestDriver(stub, tool.NewRegistry())
	ch := bus.Subscribe("task-1", event.Full)

	cfg := execctx.BuiltinDefaults()
	cfg.MaxIterations = 1

	result := d.Run(context.Background(), "task-1", preprocess.LoadedContext{Body: "do the thing"}, "please go", nil, "demo-skill", cfg, c)

	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "all good", result.FinalAnswer)

	steps := c.Snapshot()
	require.Len(t, steps, 2)
	assert.Equal(t, chain.StepThinking, steps[0].Kind)
	assert.Equal(t, chain.StepSynthesis, steps[1].Kind)

	bus.CloseTask("task-1")
	_, ok := <-ch
	assert.False(t, ok)
}

func TestDriverExhaustsIterationsWithoutFinalAnswer(t *testing.T) {
	stub := llm.NewStubClient(llm.Response{Text: "I am still thinking without an action."})
	d, c, _ := newTestDriver(stub, tool.NewRegistry())

	cfg := execctx.BuiltinDefaults()
	cfg.MaxIterations = 2

	result := d.Run(context.Background(), "task-2", preprocess.LoadedContext{}, "go", nil, "demo-skill", cfg, c)
	assert.Equal(t, OutcomeFailure, result.Outcome)
}

type echoTool struct{}

func (echoTool) Name() string    { return "echo" }
func (echoTool) Schema() []tool.Param { return nil }
func (echoTool) Execute(ctx context.Context, args map[string]any, deadline time.Time) (*tool.Result, error) {
	return &tool.Result{Success: true, Value: "echoed"}, nil
}

func TestDriverExecutesActionThenReachesFinalAnswer(t *testing.T) {
	stub := llm.NewStubClient(
		llm.Response{Text: "Action: echo\nAction Input: {}"},
		llm.Response{Text: "Final Answer: done after tool call"},
	)
	d, c, _ := newTestDriver(stub, tool.NewRegistry(echoTool{}))

	cfg := execctx.BuiltinDefaults()
	cfg.MaxIterations = 5

	result := d.Run(context.Background(), "task-3", preprocess.LoadedContext{}, "go", []string{"echo"}, "demo-skill", cfg, c)
	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "done after tool call", result.FinalAnswer)

	m := c.MetricsSnapshot()
	assert.Equal(t, 1, m.ToolCalls)
}

func TestDriverHonorsIterationLimiter(t *testing.T) {
	stub := llm.NewStubClient(llm.Response{Text: "Final Answer: all good"})
	c := chain.New("task-5")
	dispatcher := tool.NewDispatcher(tool.NewRegistry(), c, 10)
	bus := event.New()
	// Burst of 0 makes every Wait call fail immediately instead of blocking,
	// so the test stays deterministic.
	d := New(dispatcher, stub, bus, nil, true, true, rate.NewLimiter(rate.Limit(1), 0))

	cfg := execctx.BuiltinDefaults()
	cfg.MaxIterations = 1

	result := d.Run(context.Background(), "task-5", preprocess.LoadedContext{}, "go", nil, "demo-skill", cfg, c)
	assert.Equal(t, OutcomeCanceled, result.Outcome)
}

func TestDriverToolNotPermittedBecomesObservation(t *testing.T) {
	stub := llm.NewStubClient(
		llm.Response{Text: "Action: echo\nAction Input: {}"},
		llm.Response{Text: "Final Answer: recovered"},
	)
	d, c, _ := newTestDriver(stub, tool.NewRegistry(echoTool{}))

	cfg := execctx.BuiltinDefaults()
	cfg.MaxIterations = 5

	// allowedTools does not include "echo" -> ToolNotPermitted observation.
	result := d.Run(context.Background(), "task-4", preprocess.LoadedContext{}, "go", []string{"read"}, "demo-skill", cfg, c)
	require.Equal(t, OutcomeSuccess, result.Outcome)
	assert.Equal(t, "recovered", result.FinalAnswer)

	m := c.MetricsSnapshot()
	assert.Equal(t, 0, m.ToolCalls)
}
