// Package form walks a multi-page application form until it is submitted, no
// advance control is left or the page ceiling is reached.
package form

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/sections"
	"github.com/spigell/autoapply/internal/utils"
)

// DefaultMaxPages bounds the pages of one form.
const DefaultMaxPages = 15

// Outcome is how a form walk ended.
type Outcome int

const (
	// Unfinished means no submit or advance control was found.
	Unfinished Outcome = iota
	Submitted
	// ReadyToSubmit is the dry-run outcome at the submit control.
	ReadyToSubmit
	MaxPagesReached
)

func (o Outcome) String() string {
	switch o {
	case Submitted:
		return "submitted"
	case ReadyToSubmit:
		return "ready_to_submit"
	case MaxPagesReached:
		return "max_pages_reached"
	}
	return "unfinished"
}

// Err returns the soft ceiling error for MaxPagesReached and nil otherwise.
func (o Outcome) Err() error {
	if o == MaxPagesReached {
		return automation.E(automation.KindMaxPagesReached, "form", nil)
	}
	return nil
}

// Selectors locate the form landmarks.
type Selectors struct {
	// Scope is the container of the form, empty for the whole document.
	Scope         string
	SectionTitle  []string
	ReviewTitle   string
	ReviewText    string
	FollowCompany string
	Submit        string
	SafetyTitle   string
	SafetyText    string
	SafetyButton  string
	// AdvanceTexts are matched against control texts in priority order.
	AdvanceTexts []string
}

// DefaultSelectors match the easy-apply modal.
var DefaultSelectors = Selectors{
	Scope:         ".jobs-easy-apply-modal",
	SectionTitle:  []string{"h3.t-16.mb2 span.t-bold", "h3.t-16.t-bold"},
	ReviewTitle:   "h3.t-18",
	ReviewText:    "review your application",
	FollowCompany: "#follow-company-checkbox",
	Submit:        `button[aria-label="Submit application"]`,
	SafetyTitle:   "h2#header",
	SafetyText:    "job search safety reminder",
	SafetyButton:  "continue applying",
	AdvanceTexts:  []string{"review", "submit", "continue", "next"},
}

// Config tunes a Driver.
type Config struct {
	MaxPages int
	DryRun   bool
	// Settle is the pause after clicks that change the page.
	Settle time.Duration
}

// PageState is what the driver saw on one page.
type PageState struct {
	Section   string
	Review    bool
	HasResume bool
	HasSubmit bool
	Fields    int
}

// Result reports a finished walk.
type Result struct {
	Outcome  Outcome
	Pages    []PageState
	Stats    fill.Stats
	Sections []sections.Report
}

// Driver walks one form.
type Driver struct {
	auto     *fill.Auto
	sections *sections.Controller
	entries  map[sections.Kind][]sections.Entry
	sel      Selectors
	cfg      Config
	logger   *zap.Logger
	marks    uint64
}

// New returns a Driver. entries are the repeatable-section records per kind.
func New(auto *fill.Auto, ctrl *sections.Controller, entries map[sections.Kind][]sections.Entry, sel Selectors, cfg Config, logger *zap.Logger) *Driver {
	if cfg.MaxPages <= 0 {
		cfg.MaxPages = DefaultMaxPages
	}
	if len(sel.AdvanceTexts) == 0 {
		sel.AdvanceTexts = DefaultSelectors.AdvanceTexts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Driver{auto: auto, sections: ctrl, entries: entries, sel: sel, cfg: cfg, logger: logger}
}

func (d *Driver) page() dom.Page { return d.auto.Extractor().Page() }

// Run walks the form from its current page.
func (d *Driver) Run(ctx context.Context) (Result, error) {
	var res Result
	for n := 1; n <= d.cfg.MaxPages; n++ {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		log := d.logger.With(zap.Int("page", n))

		if err := d.dismissSafetyReminder(ctx); err != nil {
			return res, err
		}

		state, err := d.handlePage(ctx, &res)
		res.Pages = append(res.Pages, state)
		if err != nil {
			return res, fmt.Errorf("page %d: %w", n, err)
		}
		log.Debug("form page handled",
			zap.String("section", state.Section),
			zap.Bool("review", state.Review),
			zap.Int("fields", state.Fields),
		)

		if state.HasSubmit {
			if d.cfg.DryRun {
				log.Info("dry run, submit skipped")
				res.Outcome = ReadyToSubmit
				return res, nil
			}
			if err := d.click(ctx, d.sel.Submit); err != nil {
				return res, fmt.Errorf("submit: %w", err)
			}
			log.Info("application submitted")
			res.Outcome = Submitted
			return res, nil
		}

		advanced, err := d.advance(ctx)
		if err != nil {
			return res, err
		}
		if !advanced {
			log.Info("form completion process finished without submission")
			res.Outcome = Unfinished
			return res, nil
		}
	}

	d.logger.Warn("form page ceiling reached", zap.Int("max_pages", d.cfg.MaxPages))
	res.Outcome = MaxPagesReached
	return res, nil
}

func (d *Driver) handlePage(ctx context.Context, res *Result) (PageState, error) {
	var state PageState
	page := d.page()

	title, err := dom.FirstText(ctx, page, d.sel.SectionTitle...)
	if err != nil && !isNotFound(err) {
		return state, err
	}
	state.Section = strings.TrimSpace(title)

	if state.Review, err = d.textIn(ctx, d.sel.ReviewTitle, d.sel.ReviewText); err != nil {
		return state, err
	}

	visit := fill.NewVisit(d.sel.Scope, state.Section)
	fields, err := d.auto.Extractor().Extract(ctx, d.sel.Scope)
	if err != nil {
		return state, err
	}
	state.Fields = len(fields)

	if resume, ok := fields[pagemodel.ResumeFieldID]; ok {
		state.HasResume = true
		visit.MarkHandled(resume.ID)
		if err := d.auto.Filler().AttachResume(ctx, resume); err != nil {
			d.logger.Warn("resume not attached", zap.Error(err))
		} else {
			visit.Stats.Filled++
		}
	}

	switch kind, repeatable := sections.Detect(state.Section); {
	case state.Review:
		if d.sel.FollowCompany != "" {
			unchecked, err := d.auto.Filler().Uncheck(ctx, d.sel.FollowCompany)
			if err != nil {
				return state, err
			}
			if unchecked {
				d.logger.Debug("follow company unchecked")
			}
		}
	case repeatable && d.sections != nil:
		rep, err := d.sections.Run(ctx, kind, d.sel.Scope, state.Section, d.entries[kind])
		res.Sections = append(res.Sections, rep)
		res.Stats.Add(rep.Stats)
		if err != nil {
			d.logger.Warn("section not completed", zap.Stringer("kind", kind), zap.Error(err))
		}
	default:
		if err := d.auto.FillVisit(ctx, visit); err != nil {
			return state, err
		}
	}
	res.Stats.Add(visit.Stats)

	if state.HasSubmit, err = d.exists(ctx, d.sel.Submit); err != nil {
		return state, err
	}
	return state, nil
}

func (d *Driver) dismissSafetyReminder(ctx context.Context) error {
	shown, err := d.textIn(ctx, d.sel.SafetyTitle, d.sel.SafetyText)
	if err != nil || !shown {
		return err
	}
	ref, err := d.findControl(ctx, "", d.sel.SafetyButton)
	if err != nil {
		return err
	}
	if ref == "" {
		d.logger.Warn("safety reminder without continue control")
		return nil
	}
	d.logger.Info("safety reminder dismissed")
	return d.click(ctx, ref)
}

// advance clicks the first control whose text matches the advance texts in
// priority order.
func (d *Driver) advance(ctx context.Context) (bool, error) {
	for _, text := range d.sel.AdvanceTexts {
		ref, err := d.findControl(ctx, d.sel.Scope, text)
		if err != nil {
			return false, err
		}
		if ref == "" {
			continue
		}
		d.logger.Debug("advancing form", zap.String("control", text))
		return true, d.click(ctx, ref)
	}
	return false, nil
}

func (d *Driver) findControl(ctx context.Context, scope, text string) (string, error) {
	d.marks++
	controls, err := d.page().Controls(ctx, scope, dom.Marker{Namespace: "ctl", Generation: d.marks})
	if err != nil {
		if isNotFound(err) {
			return "", nil
		}
		return "", err
	}
	for _, c := range controls {
		if c.Disabled {
			continue
		}
		label := strings.ToLower(c.Text + " " + c.Label)
		if strings.Contains(label, text) {
			return c.Ref, nil
		}
	}
	return "", nil
}

func (d *Driver) textIn(ctx context.Context, selector, text string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	got, err := d.page().Text(ctx, selector)
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return strings.Contains(strings.ToLower(got), text), nil
}

func (d *Driver) exists(ctx context.Context, selector string) (bool, error) {
	if selector == "" {
		return false, nil
	}
	return d.page().Exists(ctx, selector)
}

func (d *Driver) click(ctx context.Context, selector string) error {
	if err := d.page().Click(ctx, selector); err != nil {
		return err
	}
	return utils.WaitFor(ctx, d.cfg.Settle)
}
