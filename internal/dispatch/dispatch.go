// Package dispatch continues applications in new browser surfaces. A surface
// is opened, given time to load, injected with the helper script and handed a
// start message before the destination handler drives it.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/logger"
	"github.com/spigell/autoapply/internal/retry"
)

// MessageStart asks the destination to begin the application.
const MessageStart = "start_external_apply"

// Message is delivered to a surface once its helper is injected.
type Message struct {
	Type    string            `json:"type"`
	Board   string            `json:"board"`
	JobID   string            `json:"jobId"`
	Payload map[string]string `json:"payload,omitempty"`
}

// Surface is a browser tab opened for one application.
type Surface interface {
	dom.Page
	ID() string
	// Ready reports whether the initial document finished loading.
	Ready(ctx context.Context) (bool, error)
	// Inject installs the helper script that receives messages.
	Inject(ctx context.Context) error
	// Send delivers msg. It fails with dom.ErrNotReady while the helper
	// cannot receive yet.
	Send(ctx context.Context, msg Message) error
	Close(ctx context.Context) error
}

// Opener opens surfaces.
type Opener interface {
	Open(ctx context.Context, url string) (Surface, error)
}

// Status is the terminal state of one dispatched application.
type Status string

const (
	Submitted          Status = "submitted"
	DomainSkipped      Status = "domain_skipped"
	LoadTimeout        Status = "tab_load_timeout"
	DeliveryFailed     Status = "delivery_failed"
	TimeExceeded       Status = "time_exceeded"
	MaxAttemptsReached Status = "max_attempts_reached"
	Failed             Status = "failed"
	Unfinished         Status = "unfinished"
)

// Applied reports whether the status counts against the budget.
func (s Status) Applied() bool { return s == Submitted }

// Outcome is what a destination handler reports.
type Outcome struct {
	Status Status
	Stats  fill.Stats
	Detail string
}

// Handler drives an application inside a ready surface.
type Handler interface {
	Handle(ctx context.Context, s Surface, msg Message) (Outcome, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, s Surface, msg Message) (Outcome, error)

func (f HandlerFunc) Handle(ctx context.Context, s Surface, msg Message) (Outcome, error) {
	return f(ctx, s, msg)
}

// Request is one application to continue elsewhere.
type Request struct {
	Board   string
	JobID   string
	URL     string
	Payload map[string]string
}

// Result is reported once per request.
type Result struct {
	Request
	ID        string
	SurfaceID string
	Location  string
	Domain    string
	Outcome
	Err      error
	Duration time.Duration
}

// DefaultSkipDomains lists destinations that are known not to work.
var DefaultSkipDomains = []string{
	"expertia.ai",
	"elevationhr-talentstack.tal",
	"sparibis.applicantstack",
	"oxbo.io",
	"wellfound",
}

type Config struct {
	LoadTimeout      time.Duration `mapstructure:"load-timeout"`
	LoadPoll         time.Duration `mapstructure:"load-poll"`
	DeliveryAttempts int           `mapstructure:"delivery-attempts" validate:"gte=0"`
	DeliveryDelay    time.Duration `mapstructure:"delivery-delay"`
	WallClock        time.Duration `mapstructure:"wall-clock"`
	MaxConcurrent    int           `mapstructure:"max-concurrent-surfaces" validate:"gte=0"`
	SkipDomains      []string      `mapstructure:"skip-domains"`
}

func DefaultConfig() Config {
	return Config{
		LoadTimeout:      30 * time.Second,
		LoadPoll:         500 * time.Millisecond,
		DeliveryAttempts: 3,
		DeliveryDelay:    2 * time.Second,
		WallClock:        5 * time.Minute,
		MaxConcurrent:    1,
		SkipDomains:      DefaultSkipDomains,
	}
}

// WithDefaults fills the unset fields. A zero delivery delay stays zero.
func (c Config) WithDefaults() Config {
	d := DefaultConfig()
	if c.LoadTimeout <= 0 {
		c.LoadTimeout = d.LoadTimeout
	}
	if c.LoadPoll <= 0 {
		c.LoadPoll = d.LoadPoll
	}
	if c.DeliveryAttempts <= 0 {
		c.DeliveryAttempts = d.DeliveryAttempts
	}
	if c.DeliveryDelay < 0 {
		c.DeliveryDelay = 0
	}
	if c.WallClock <= 0 {
		c.WallClock = d.WallClock
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = d.MaxConcurrent
	}
	if c.SkipDomains == nil {
		c.SkipDomains = d.SkipDomains
	}
	return c
}

// Dispatcher runs requests on new surfaces with a bounded number alive at once.
type Dispatcher struct {
	opener  Opener
	handler Handler
	cfg     Config
	logger  *zap.Logger

	sem     *semaphore.Weighted
	group   errgroup.Group
	results chan Result
	once    sync.Once
}

func New(opener Opener, handler Handler, cfg Config, logger *zap.Logger) *Dispatcher {
	cfg = cfg.WithDefaults()
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		opener:  opener,
		handler: handler,
		cfg:     cfg,
		logger:  logger,
		sem:     semaphore.NewWeighted(int64(cfg.MaxConcurrent)),
		results: make(chan Result, cfg.MaxConcurrent),
	}
}

// Results delivers one Result per dispatched request. It is closed by Wait.
func (d *Dispatcher) Results() <-chan Result {
	return d.results
}

// Dispatch starts req in the background. It blocks while the concurrency
// limit is reached. Once started, the request is no longer cancelled by ctx;
// only its wall clock ends it.
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) error {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return fmt.Errorf("waiting for a free surface: %w", err)
	}

	detached := context.WithoutCancel(ctx)
	d.group.Go(func() error {
		res := d.process(detached, req)
		d.sem.Release(1)
		d.results <- res
		return nil
	})
	return nil
}

// Wait blocks until every dispatched request reported and closes Results.
func (d *Dispatcher) Wait() {
	d.once.Do(func() {
		_ = d.group.Wait()
		close(d.results)
	})
}

// Process runs req in the calling goroutine.
func (d *Dispatcher) Process(ctx context.Context, req Request) Result {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return Result{Request: req, ID: uuid.NewString(), Outcome: Outcome{Status: Failed}, Err: err}
	}
	defer d.sem.Release(1)
	return d.process(ctx, req)
}

func (d *Dispatcher) process(ctx context.Context, req Request) Result {
	start := time.Now()
	res := Result{Request: req, ID: uuid.NewString()}
	log := logger.WithJobFields(d.logger, req.Board, req.JobID).With(zap.String("dispatch_id", res.ID))

	d.run(ctx, req, &res, log)

	res.Duration = time.Since(start)
	fields := []zap.Field{
		zap.String("status", string(res.Status)),
		zap.String("domain", res.Domain),
		zap.Duration("duration", res.Duration),
	}
	if res.Err != nil {
		log.Warn("dispatched application ended", append(fields, zap.Error(res.Err))...)
	} else {
		log.Info("dispatched application ended", fields...)
	}
	return res
}

func (d *Dispatcher) run(ctx context.Context, req Request, res *Result, log *zap.Logger) {
	surface, err := d.opener.Open(ctx, req.URL)
	if err != nil {
		res.Status, res.Err = Failed, fmt.Errorf("open surface: %w", err)
		return
	}
	res.SurfaceID = surface.ID()
	log = log.With(zap.String("surface_id", res.SurfaceID))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := surface.Close(closeCtx); err != nil {
			log.Debug("closing surface failed", zap.Error(err))
		}
	}()

	if err := WaitReady(ctx, surface, d.cfg.LoadTimeout, d.cfg.LoadPoll); err != nil {
		res.Status, res.Err = LoadTimeout, err
		return
	}

	res.Location, _ = surface.Location(ctx)
	if res.Location == "" {
		res.Location = req.URL
	}
	res.Domain = Domain(res.Location)

	if skip := d.skipped(res.Location); skip != "" {
		res.Status, res.Detail = DomainSkipped, skip
		log.Info("destination domain is on the skip list", zap.String("location", res.Location))
		return
	}

	if err := surface.Inject(ctx); err != nil {
		res.Status, res.Err = Failed, fmt.Errorf("inject helper: %w", err)
		return
	}

	msg := Message{Type: MessageStart, Board: req.Board, JobID: req.JobID, Payload: req.Payload}
	if err := d.deliver(ctx, surface, msg); err != nil {
		res.Status, res.Err = DeliveryFailed, err
		return
	}

	wctx, cancel := context.WithTimeout(ctx, d.cfg.WallClock)
	defer cancel()
	out, err := d.handler.Handle(wctx, surface, msg)
	res.Outcome = out
	switch {
	case wctx.Err() != nil && ctx.Err() == nil:
		res.Status = TimeExceeded
		res.Err = nil
	case err != nil && automation.Soft(err):
		if res.Status == "" {
			res.Status = MaxAttemptsReached
		}
		res.Detail = err.Error()
	case err != nil:
		res.Status, res.Err = Failed, err
	case res.Status == "":
		res.Status = Unfinished
	}
}

// WaitReady polls s until its document finished loading. It fails with
// automation.ErrSurfaceLoadTimeout once timeout passed.
func WaitReady(ctx context.Context, s Surface, timeout, poll time.Duration) error {
	lctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	attempts := int(timeout/poll) + 1
	err := retry.Do(lctx, retry.Fixed(attempts, poll), func(ctx context.Context, _ int) error {
		ready, err := s.Ready(ctx)
		if err != nil {
			return err
		}
		if !ready {
			return dom.ErrNotReady
		}
		return nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return automation.E(automation.KindSurfaceLoadTimeout, "wait load", err)
	}
	return nil
}

func (d *Dispatcher) deliver(ctx context.Context, s Surface, msg Message) error {
	err := retry.Do(ctx, retry.Fixed(d.cfg.DeliveryAttempts, d.cfg.DeliveryDelay), func(ctx context.Context, attempt int) error {
		err := s.Send(ctx, msg)
		if err == nil {
			return nil
		}
		if errors.Is(err, dom.ErrNotReady) {
			d.logger.Debug("surface not ready for message",
				zap.String("surface_id", s.ID()),
				zap.Int("attempt", attempt),
			)
			return err
		}
		return retry.Permanent(err)
	})
	if err != nil {
		return automation.E(automation.KindMessageDeliveryExhausted, "deliver", err)
	}
	return nil
}

// skipped returns the skip-list entry contained in location, if any.
func (d *Dispatcher) skipped(location string) string {
	loc := strings.ToLower(location)
	for _, domain := range d.cfg.SkipDomains {
		if domain != "" && strings.Contains(loc, strings.ToLower(domain)) {
			return domain
		}
	}
	return ""
}

// Domain returns the registrable domain of an address, or its host when the
// public suffix list does not know it.
func Domain(address string) string {
	u, err := url.Parse(address)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	host := u.Hostname()
	if domain, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return domain
	}
	return host
}
