package execctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestResolveLowestPrecedenceOnly(t *testing.T) {
	cfg := Resolve(Overlay{}, Overlay{}, Overlay{})
	assert.Equal(t, BuiltinDefaults(), cfg)
}

func TestResolvePlatformOverridesBuiltin(t *testing.T) {
	maxIter := 30
	cfg := Resolve(Overlay{MaxIterations: &maxIter}, Overlay{}, Overlay{})
	assert.Equal(t, 30, cfg.MaxIterations)
}

func TestResolveSkillOverridesPlatform(t *testing.T) {
	platformIter, skillIter := 30, 10
	cfg := Resolve(Overlay{MaxIterations: &platformIter}, Overlay{MaxIterations: &skillIter}, Overlay{})
	assert.Equal(t, 10, cfg.MaxIterations)
}

func TestResolveRuntimeOverridesEverything(t *testing.T) {
	platformIter, skillIter, runtimeIter := 30, 10, 5
	cfg := Resolve(
		Overlay{MaxIterations: &platformIter},
		Overlay{MaxIterations: &skillIter},
		Overlay{MaxIterations: &runtimeIter},
	)
	assert.Equal(t, 5, cfg.MaxIterations)
}

func TestResolveUnsetFieldsFallThrough(t *testing.T) {
	model := "claude-x"
	cfg := Resolve(Overlay{}, Overlay{Model: &model}, Overlay{})
	assert.Equal(t, "claude-x", cfg.Model)
	assert.Equal(t, BuiltinDefaults().MaxIterations, cfg.MaxIterations)
}

func TestResolveEnableErrorRecoveryFromPlatform(t *testing.T) {
	disabled := false
	cfg := Resolve(Overlay{EnableErrorRecovery: &disabled}, Overlay{}, Overlay{})
	assert.False(t, cfg.EnableErrorRecovery)
}

func TestResolveEnableErrorRecoveryDefaultsTrue(t *testing.T) {
	cfg := Resolve(Overlay{}, Overlay{}, Overlay{})
	assert.True(t, cfg.EnableErrorRecovery)
}

func TestRootContext(t *testing.T) {
	c := Root("task-1", "deploy", 0)
	assert.Equal(t, DefaultMaxDepth, c.MaxDepth)
	assert.Equal(t, 0, c.Depth)
	assert.True(t, c.CanDelegate())
	assert.Equal(t, []string{"deploy"}, c.SkillChain)
}

func TestChildContext(t *testing.T) {
	root := Root("task-1", "deploy", 2)
	child := root.Child("task-2", "rollback")

	assert.Equal(t, 1, child.Depth)
	assert.Equal(t, "task-1", child.ParentTaskID)
	assert.Equal(t, []string{"deploy", "rollback"}, child.SkillChain)
	assert.True(t, child.CanDelegate())

	grandchild := child.Child("task-3", "notify")
	assert.False(t, grandchild.CanDelegate())
}

func TestChildDoesNotMutateParentSkillChain(t *testing.T) {
	root := Root("task-1", "deploy", 2)
	_ = root.Child("task-2", "rollback")
	assert.Equal(t, []string{"deploy"}, root.SkillChain)
}

func TestIterationBudgetHalvesAndFloors(t *testing.T) {
	assert.Equal(t, 15, IterationBudget(15, 0))
	assert.Equal(t, 7, IterationBudget(15, 1))
	assert.Equal(t, 3, IterationBudget(15, 2))
	assert.Equal(t, 3, IterationBudget(15, 5))
}

func TestStateRecordPartial(t *testing.T) {
	s := NewState(30*time.Second, 15)
	s.RecordPartial("")
	s.RecordPartial("found 3 matching files")
	assert.Equal(t, []string{"found 3 matching files"}, s.PartialResults)
}

func TestStateWithDeadlineBindsContext(t *testing.T) {
	s := NewState(10*time.Millisecond, 1)
	ctx, cancel := s.WithDeadline(context.Background())
	defer cancel()
	deadline, ok := ctx.Deadline()
	assert.True(t, ok)
	assert.WithinDuration(t, s.Deadline, deadline, time.Millisecond)
}
