// Package execctx implements the four-level execution config merge and the
// per-task Context/State the driver and orchestrator thread through a
// task's lifetime.
package execctx

import "time"

// Config is the resolved set of knobs governing one ReAct execution,
// merged from four precedence levels: runtime override > skill metadata
// > platform defaults > built-in defaults.
type Config struct {
	MaxIterations        int
	MaxRetriesPerTool     int
	TimeoutPerIteration   time.Duration
	Model                 string
	Temperature           float64
	MaxConcurrentAgents   int
	AgentTimeout          time.Duration
	MaxBudgetUSD          float64
	MaxIterationsPerMinute float64
	EnableErrorRecovery   bool
}

// BuiltinDefaults are the lowest-precedence fallback values, used when
// neither a runtime override, skill metadata, nor a platform default
// supplies a value.
func BuiltinDefaults() Config {
	return Config{
		MaxIterations:          15,
		MaxRetriesPerTool:      3,
		TimeoutPerIteration:    30 * time.Second,
		Model:                  "",
		Temperature:            0.0,
		MaxConcurrentAgents:    3,
		AgentTimeout:           5 * time.Minute,
		MaxBudgetUSD:           1.0,
		MaxIterationsPerMinute: 60,
		EnableErrorRecovery:    true,
	}
}

// Overlay is one precedence level's partial configuration. Every field is
// a pointer so "unset" is distinguishable from "explicitly zero" — a zero
// value in a lower-precedence layer must not clobber a nonzero value
// already resolved from a higher one.
type Overlay struct {
	MaxIterations          *int
	MaxRetriesPerTool      *int
	TimeoutPerIteration    *time.Duration
	Model                  *string
	Temperature            *float64
	MaxConcurrentAgents    *int
	AgentTimeout           *time.Duration
	MaxBudgetUSD           *float64
	MaxIterationsPerMinute *float64
	EnableErrorRecovery    *bool
}

// Resolve merges overlays from lowest to highest precedence: builtin <
// platform < skillMetadata < runtimeOverride. Each later, non-nil field
// wins over an earlier one.
func Resolve(platform, skillMetadata, runtimeOverride Overlay) Config {
	cfg := BuiltinDefaults()
	for _, o := range []Overlay{platform, skillMetadata, runtimeOverride} {
		applyOverlay(&cfg, o)
	}
	return cfg
}

func applyOverlay(cfg *Config, o Overlay) {
	if o.MaxIterations != nil {
		cfg.MaxIterations = *o.MaxIterations
	}
	if o.MaxRetriesPerTool != nil {
		cfg.MaxRetriesPerTool = *o.MaxRetriesPerTool
	}
	if o.TimeoutPerIteration != nil {
		cfg.TimeoutPerIteration = *o.TimeoutPerIteration
	}
	if o.Model != nil {
		cfg.Model = *o.Model
	}
	if o.Temperature != nil {
		cfg.Temperature = *o.Temperature
	}
	if o.MaxConcurrentAgents != nil {
		cfg.MaxConcurrentAgents = *o.MaxConcurrentAgents
	}
	if o.AgentTimeout != nil {
		cfg.AgentTimeout = *o.AgentTimeout
	}
	if o.MaxBudgetUSD != nil {
		cfg.MaxBudgetUSD = *o.MaxBudgetUSD
	}
	if o.MaxIterationsPerMinute != nil {
		cfg.MaxIterationsPerMinute = *o.MaxIterationsPerMinute
	}
	if o.EnableErrorRecovery != nil {
		cfg.EnableErrorRecovery = *o.EnableErrorRecovery
	}
}
