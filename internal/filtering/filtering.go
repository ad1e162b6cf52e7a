package filtering

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/jobs"
)

// Filter represents a single screening step applied to every job before the
// run applies to it.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, job *jobs.Job) (Verdict, error)
}

// AppliedChecker answers whether a job was applied to before.
type AppliedChecker interface {
	Applied(ctx context.Context, board, jobID string) (bool, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	History AppliedChecker
	Oracle  ai.Oracle
	Logger  *zap.Logger
	// Applicant is the profile summary given to the suitability check.
	Applicant string
}

// Verdict is the decision of one step about one job.
type Verdict struct {
	Pass   bool
	Reason string
	// Tokens spent by the step, if any.
	Tokens int
}

func pass() Verdict { return Verdict{Pass: true} }

func drop(reason string) Verdict { return Verdict{Reason: reason} }

// Step describes the accumulated result of a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	Companies   []string          `mapstructure:"companies"`
	Keywords    []string          `mapstructure:"keywords"`
	File        string            `mapstructure:"file"`
	Suitability SuitabilityConfig `mapstructure:"suitability"`
}

// SuitabilityConfig tunes the oracle screening of job descriptions.
type SuitabilityConfig struct {
	Enabled         bool `mapstructure:"enabled"`
	AcceptAmbiguous bool `mapstructure:"accept-ambiguous"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// Default returns every filter in the order the run applies them.
func Default() []Filter {
	return []Filter{
		NewAppliedBadge(),
		NewAppliedHistory(false),
		NewExcludeFile(),
		NewCompanies(),
		NewKeywords(),
		NewSuitability(),
	}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Result is the outcome of a chain for one job.
type Result struct {
	Pass bool
	// Filter is the step that dropped the job.
	Filter string
	Reason string
	Tokens int
}

// Chain applies validated filters to jobs one at a time and counts what each
// step dropped.
type Chain struct {
	deps  Deps
	steps []Filter

	mu    sync.Mutex
	stats map[string]*Step
}

// NewChain validates the enabled steps.
func NewChain(cfg *Config, deps Deps, steps []Filter) (*Chain, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Info("filter disabled", zap.String("name", step.Name()))
			}
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}
	return &Chain{deps: deps, steps: steps, stats: make(map[string]*Step)}, nil
}

// Run passes job through the enabled steps and stops at the first drop.
func (c *Chain) Run(ctx context.Context, job *jobs.Job) (Result, error) {
	res := Result{Pass: true}
	for _, step := range c.steps {
		if !step.IsEnabled() {
			continue
		}

		v, err := step.Apply(ctx, c.deps, job)
		res.Tokens += v.Tokens
		if err != nil {
			return res, fmt.Errorf("%s: %w", step.Name(), err)
		}
		c.count(step.Name(), v.Pass)
		if v.Pass {
			continue
		}

		if c.deps.Logger != nil {
			c.deps.Logger.Info("job excluded",
				zap.String("name", step.Name()),
				zap.String("job_id", job.ID),
				zap.String("title", job.Title),
				zap.String("reason", v.Reason),
			)
		}
		res.Pass = false
		res.Filter = step.Name()
		res.Reason = v.Reason
		return res, nil
	}
	return res, nil
}

func (c *Chain) count(name string, passed bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.stats[name]
	if !ok {
		st = &Step{}
		c.stats[name] = st
	}
	st.Initial++
	if passed {
		st.Left++
	} else {
		st.Dropped++
	}
}

// Steps returns the counts per step name.
func (c *Chain) Steps() map[string]Step {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Step, len(c.stats))
	for name, st := range c.stats {
		out[name] = *st
	}
	return out
}

// LogSummary writes one line per step that saw jobs.
func (c *Chain) LogSummary(logger *zap.Logger) {
	stats := c.Steps()
	for _, step := range c.steps {
		st, ok := stats[step.Name()]
		if !ok {
			continue
		}
		logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.Int("initial", st.Initial),
			zap.Int("dropped", st.Dropped),
			zap.Int("left", st.Left),
		)
	}
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

func boolDetail(v bool) string { return strconv.FormatBool(v) }
