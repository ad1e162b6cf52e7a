// Package run orchestrates one automation run across the enabled job boards.
// It owns the application budget and the token tally; the components it drives
// only report completions back to it.
package run

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/boards"
	"github.com/spigell/autoapply/internal/dispatch"
	"github.com/spigell/autoapply/internal/external"
	"github.com/spigell/autoapply/internal/filtering"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/history"
	"github.com/spigell/autoapply/internal/listing"
	"github.com/spigell/autoapply/internal/profile"
)

const (
	// DefaultGlobalLimit is the application allowance of a user.
	DefaultGlobalLimit = 10
	// DefaultMaxJobs caps the applications of one board in one run.
	DefaultMaxJobs = 100
)

// BoardQuota enables a board and bounds its applications.
type BoardQuota struct {
	Enabled bool `mapstructure:"enabled" json:"enabled"`
	Limit   int  `mapstructure:"limit" json:"limit" validate:"gte=0"`
}

// Command starts a run.
type Command struct {
	Profile      *profile.Profile      `validate:"required"`
	Boards       map[string]BoardQuota `validate:"dive"`
	GlobalLimit  int                   `validate:"gte=0"`
	Filters      boards.Filters
	TailorResume bool
}

// State is the status of a board in a run.
type State string

const (
	Started      State = "started"
	Completed    State = "completed"
	RateLimited  State = "rate_limited"
	Failed       State = "error"
	TimeExceeded State = "time_exceeded"
	// Finished closes the event stream of a run.
	Finished State = "finished"
)

// Event is an asynchronous status notification.
type Event struct {
	ID     string    `json:"id"`
	RunID  string    `json:"runId"`
	Board  string    `json:"board,omitempty"`
	State  State     `json:"state"`
	Count  int       `json:"count"`
	Reason string    `json:"reason,omitempty"`
	Tokens int       `json:"tokens"`
	At     time.Time `json:"at"`
}

// Ack is the synchronous answer to Start.
type Ack struct {
	RunID  string
	Boards map[string]int
}

// Config tunes the components of a run.
type Config struct {
	Form     form.Config
	Listing  listing.Config
	Dispatch dispatch.Config
	External external.Config
	Fill     fill.Config
	// Settle is the pause after opening a job or an application.
	Settle time.Duration
	// ApplyWait bounds the wait for the apply button and the form modal.
	ApplyWait time.Duration
	// BoardTimeout ends a board with TimeExceeded when positive.
	BoardTimeout time.Duration
	MaxJobs      int
}

func DefaultConfig() Config {
	return Config{
		Form:      form.Config{MaxPages: form.DefaultMaxPages, Settle: time.Second},
		Listing:   listing.DefaultConfig(),
		Dispatch:  dispatch.DefaultConfig(),
		External:  external.DefaultConfig(),
		Fill:      fill.DefaultConfig(),
		Settle:    2 * time.Second,
		ApplyWait: 10 * time.Second,
		MaxJobs:   DefaultMaxJobs,
	}
}

// Deps are the collaborators of a controller. Oracle and History may be nil.
type Deps struct {
	Opener  dispatch.Opener
	Oracle  ai.Oracle
	History history.Store
	Filters filtering.Config
	// Steps builds a fresh filter list per board. Nil uses filtering.Default.
	Steps func() []filtering.Filter
	// Adapters resolves board names. Nil uses boards.Lookup.
	Adapters func(name string) (*boards.Adapter, error)
	Logger   *zap.Logger
}

// Controller runs commands.
type Controller struct {
	deps Deps
	cfg  Config

	mu     sync.Mutex
	tokens int
}

func New(deps Deps, cfg Config) *Controller {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Steps == nil {
		deps.Steps = filtering.Default
	}
	if deps.Adapters == nil {
		deps.Adapters = boards.Lookup
	}
	if cfg.MaxJobs <= 0 {
		cfg.MaxJobs = DefaultMaxJobs
	}
	if cfg.Form.MaxPages <= 0 {
		cfg.Form.MaxPages = form.DefaultMaxPages
	}
	return &Controller{deps: deps, cfg: cfg}
}

var validate = validator.New()

// Validate checks the budget of cmd and returns the limit of every board that
// will run. Boards enabled with a zero limit are left out.
func Validate(cmd Command) (map[string]int, error) {
	if err := validate.Struct(cmd); err != nil {
		return nil, fmt.Errorf("invalid command: %w", err)
	}

	total, enabledTotal, enabled := 0, 0, 0
	for name, q := range cmd.Boards {
		if !boards.Known(name) {
			return nil, fmt.Errorf("unknown board %q", name)
		}
		total += q.Limit
		if q.Enabled {
			enabled++
			enabledTotal += q.Limit
		}
	}

	switch {
	case enabledTotal > cmd.GlobalLimit:
		return nil, automation.E(automation.KindBudgetExceeded, "validate",
			fmt.Errorf("%w: %d > %d", automation.ErrBudgetExceeded, enabledTotal, cmd.GlobalLimit))
	case total == 0:
		return nil, automation.E(automation.KindNoBudgetSet, "validate", nil)
	case enabled == 0:
		return nil, automation.E(automation.KindNoBoardEnabled, "validate", nil)
	}

	limits := make(map[string]int)
	for name, q := range cmd.Boards {
		if q.Enabled && q.Limit > 0 {
			limits[strings.ToLower(name)] = q.Limit
		}
	}
	if len(limits) == 0 {
		return nil, automation.E(automation.KindNoBoardEnabled, "validate",
			fmt.Errorf("%w: every enabled board has a zero limit", automation.ErrNoBoardEnabled))
	}
	return limits, nil
}

// Start validates cmd and runs it in the background. Validation failures are
// returned before any surface is opened. The event channel is closed after the
// Finished event.
func (c *Controller) Start(ctx context.Context, cmd Command) (Ack, <-chan Event, error) {
	limits, err := Validate(cmd)
	if err != nil {
		return Ack{}, nil, err
	}

	runID := uuid.NewString()
	events := make(chan Event, 2*len(limits)+1)
	logger := c.deps.Logger.With(zap.String("run_id", runID))
	logger.Info("run started", zap.Any("boards", limits), zap.Int("global_limit", cmd.GlobalLimit))

	go func() {
		defer close(events)
		emit := func(e Event) {
			e.ID = uuid.NewString()
			e.RunID = runID
			e.At = time.Now()
			events <- e
		}

		results := c.runBoards(ctx, runID, cmd, limits, emit, logger)

		total := 0
		for _, r := range results {
			total += r.applied
		}
		logger.Info("run finished", zap.Int("applied", total), zap.Int("tokens", c.Tokens()))
		emit(Event{State: Finished, Count: total, Tokens: c.Tokens()})
	}()

	return Ack{RunID: runID, Boards: limits}, events, nil
}

// Tokens is the oracle token usage of every run so far.
func (c *Controller) Tokens() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tokens
}

func (c *Controller) addTokens(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tokens += n
}

func (c *Controller) runBoards(ctx context.Context, runID string, cmd Command, limits map[string]int, emit func(Event), logger *zap.Logger) []boardResult {
	names := make([]string, 0, len(limits))
	for name := range limits {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]boardResult, len(names))
	var g errgroup.Group
	for i, name := range names {
		g.Go(func() error {
			blog := logger.With(zap.String("board", name))
			emit(Event{Board: name, State: Started})

			b := &board{
				ctrl:   c,
				name:   name,
				runID:  runID,
				limit:  min(limits[name], c.cfg.MaxJobs),
				cmd:    cmd,
				logger: blog,
			}
			res := b.run(ctx)
			results[i] = res
			c.addTokens(res.tokens)

			e := Event{Board: name, State: res.state, Count: res.applied, Tokens: res.tokens}
			if res.err != nil {
				e.Reason = res.err.Error()
				blog.Error("board ended with an error", zap.Error(res.err))
			} else {
				blog.Info("board finished", zap.String("state", string(res.state)), zap.Int("applied", res.applied))
			}
			emit(e)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// boardResult is the completion signal of one board.
type boardResult struct {
	state   State
	applied int
	tokens  int
	err     error
}

func stateOf(ctx context.Context, applied, limit int, err error) State {
	switch {
	case applied >= limit:
		return RateLimited
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return TimeExceeded
	case err != nil:
		return Failed
	}
	return Completed
}
