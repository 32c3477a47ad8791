// Package config loads the process-level Platform configuration:
// built-in-default overrides, visibility defaults per subscriber role,
// and the optional cost/rate limiting knobs.
package config

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/time/rate"
	"gopkg.in/yaml.v3"

	"github.com/skillcore/engine/pkg/execctx"
)

// VisibilityDefaults maps a subscriber role name (e.g. "operator",
// "end_user") to its default event visibility level, expressed as one of
// "summary", "detail", "full" in the YAML file.
type VisibilityDefaults map[string]string

// Platform is the parsed shape of the platform configuration file.
type Platform struct {
	DefaultMaxIterations         int    `yaml:"default_max_iterations"`
	DefaultMaxRetriesPerTool     int    `yaml:"default_max_retries_per_tool"`
	DefaultTimeoutPerIterationMs int    `yaml:"default_timeout_per_iteration_ms"`
	DefaultModel                 string `yaml:"default_model"`
	// EnableErrorRecovery is a pointer so an absent key in the YAML
	// document falls through to lower-precedence layers instead of
	// clobbering them with the bool zero value.
	EnableErrorRecovery *bool `yaml:"enable_error_recovery"`

	VisibilityDefaults VisibilityDefaults `yaml:"visibility_defaults"`

	CostLimitsEnabled    bool    `yaml:"cost_limits_enabled"`
	MaxCostPerExecutionUSD float64 `yaml:"max_cost_per_execution_usd"`

	RateLimitsEnabled      bool    `yaml:"rate_limits_enabled"`
	MaxIterationsPerMinute float64 `yaml:"max_iterations_per_minute"`
}

// Load reads and validates a Platform config document from path.
func Load(path string) (*Platform, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return nil, &LoadError{File: path, Err: err}
	}

	var p Platform
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, &LoadError{File: path, Err: fmt.Errorf("%w: %v", ErrInvalidYAML, err)}
	}

	if err := p.validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

func (p *Platform) validate() error {
	if p.DefaultMaxIterations < 0 {
		return NewValidationError("platform", "default_max_iterations", "", ErrInvalidValue)
	}
	if p.RateLimitsEnabled && p.MaxIterationsPerMinute <= 0 {
		return NewValidationError("platform", "max_iterations_per_minute", "",
			fmt.Errorf("%w: must be > 0 when rate_limits_enabled", ErrInvalidValue))
	}
	if p.CostLimitsEnabled && p.MaxCostPerExecutionUSD <= 0 {
		return NewValidationError("platform", "max_cost_per_execution_usd", "",
			fmt.Errorf("%w: must be > 0 when cost_limits_enabled", ErrInvalidValue))
	}
	return nil
}

// Overlay converts the parsed Platform document into an execctx.Overlay,
// the platform-precedence layer of the four-level config merge.
func (p *Platform) Overlay() execctx.Overlay {
	o := execctx.Overlay{}
	if p.DefaultMaxIterations > 0 {
		v := p.DefaultMaxIterations
		o.MaxIterations = &v
	}
	if p.DefaultMaxRetriesPerTool > 0 {
		v := p.DefaultMaxRetriesPerTool
		o.MaxRetriesPerTool = &v
	}
	if p.DefaultTimeoutPerIterationMs > 0 {
		v := time.Duration(p.DefaultTimeoutPerIterationMs) * time.Millisecond
		o.TimeoutPerIteration = &v
	}
	if p.DefaultModel != "" {
		v := p.DefaultModel
		o.Model = &v
	}
	if p.RateLimitsEnabled && p.MaxIterationsPerMinute > 0 {
		v := p.MaxIterationsPerMinute
		o.MaxIterationsPerMinute = &v
	}
	if p.CostLimitsEnabled && p.MaxCostPerExecutionUSD > 0 {
		v := p.MaxCostPerExecutionUSD
		o.MaxBudgetUSD = &v
	}
	if p.EnableErrorRecovery != nil {
		v := *p.EnableErrorRecovery
		o.EnableErrorRecovery = &v
	}
	return o
}

// VisibilityFor returns the configured visibility level name for role, or
// defaultLevel if the platform document declares none.
func (v VisibilityDefaults) VisibilityFor(role, defaultLevel string) string {
	if lvl, ok := v[role]; ok {
		return lvl
	}
	return defaultLevel
}

// NewIterationLimiter builds a token-bucket rate.Limiter enforcing
// max_iterations_per_minute, or nil if rate limiting is disabled. The
// limiter is meant to be shared across every execution in the process.
func (p *Platform) NewIterationLimiter() *rate.Limiter {
	if !p.RateLimitsEnabled || p.MaxIterationsPerMinute <= 0 {
		return nil
	}
	perSecond := p.MaxIterationsPerMinute / 60.0
	burst := int(p.MaxIterationsPerMinute)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(perSecond), burst)
}
