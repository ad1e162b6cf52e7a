// Package fill writes values into live form fields and fires the events the
// hosting page listens for.
package fill

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/utils"
)

var (
	textEvents   = []string{"input", "change", "blur"}
	choiceEvents = []string{"change", "input", "blur"}
)

// ResumeSource materialises the resume document for one attachment.
type ResumeSource interface {
	Materialize(ctx context.Context) (string, func(), error)
}

// Config tunes a Filler.
type Config struct {
	Dates DateSelectors
	// CityDelay is the pause for autocomplete suggestions.
	CityDelay time.Duration
	// DateRetryDelay separates attempts to find the date controls.
	DateRetryDelay time.Duration
}

// DefaultConfig returns the timings used against live pages.
func DefaultConfig() Config {
	return Config{
		Dates:          DefaultDateSelectors,
		CityDelay:      2 * time.Second,
		DateRetryDelay: time.Second,
	}
}

// Filler mutates fields of one page.
type Filler struct {
	page   dom.Page
	resume ResumeSource
	cfg    Config
	logger *zap.Logger
}

// New returns a Filler for page.
func New(page dom.Page, resume ResumeSource, cfg Config, logger *zap.Logger) *Filler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if len(cfg.Dates.CurrentLabels) == 0 {
		cfg.Dates.CurrentLabels = DefaultDateSelectors.CurrentLabels
	}
	return &Filler{page: page, resume: resume, cfg: cfg, logger: logger}
}

// Page returns the page the filler writes to.
func (f *Filler) Page() dom.Page { return f.page }

// Fill writes value into field according to its kind. A stale handle fails
// with dom.ErrStale before the page is touched.
func (f *Filler) Fill(ctx context.Context, field pagemodel.FieldDescriptor, value string) error {
	ref, err := field.Handle.Ref()
	if err != nil {
		return fmt.Errorf("fill %s: %w", field.ID, err)
	}

	switch field.Kind {
	case dom.KindSelect:
		err = f.fillSelect(ctx, ref, field, value)
	case dom.KindRadio:
		err = f.fillRadio(ctx, field, value)
	case dom.KindCheckbox:
		err = f.setChecked(ctx, ref, truthy(value))
	case dom.KindFile:
		err = f.AttachResume(ctx, field)
	default:
		if err = f.page.SetValue(ctx, ref, value); err == nil {
			err = f.page.Fire(ctx, ref, textEvents...)
		}
	}
	return wrap("fill "+field.ID, err)
}

// AttachResume fetches the resume and sets it on a file input.
func (f *Filler) AttachResume(ctx context.Context, field pagemodel.FieldDescriptor) error {
	ref, err := field.Handle.Ref()
	if err != nil {
		return fmt.Errorf("attach resume to %s: %w", field.ID, err)
	}
	if f.resume == nil {
		return errors.New("no resume configured")
	}

	path, cleanup, err := f.resume.Materialize(ctx)
	if err != nil {
		return fmt.Errorf("materialize resume: %w", err)
	}
	defer cleanup()

	if err := f.page.SetFiles(ctx, ref, path); err != nil {
		return wrap("attach resume", err)
	}
	f.logger.Debug("resume attached", zap.String("field", field.ID))
	return wrap("attach resume", f.page.Fire(ctx, ref, "change", "input"))
}

// FillCity types value into an autocomplete input and picks the first
// suggestion.
func (f *Filler) FillCity(ctx context.Context, field pagemodel.FieldDescriptor, value string) error {
	ref, err := field.Handle.Ref()
	if err != nil {
		return fmt.Errorf("fill city %s: %w", field.ID, err)
	}
	if err := f.page.SetValue(ctx, ref, ""); err != nil {
		return wrap("fill city", err)
	}
	if err := f.page.Type(ctx, ref, value); err != nil {
		return wrap("fill city", err)
	}
	if err := f.page.Fire(ctx, ref, "input"); err != nil {
		return wrap("fill city", err)
	}
	if err := utils.WaitFor(ctx, f.cfg.CityDelay); err != nil {
		return err
	}
	if err := f.page.Press(ctx, ref, dom.KeyArrowDown); err != nil {
		return wrap("fill city", err)
	}
	if err := utils.WaitFor(ctx, f.cfg.CityDelay); err != nil {
		return err
	}
	return wrap("fill city", f.page.Press(ctx, ref, dom.KeyEnter))
}

// Uncheck clears a checkbox addressed by selector. A missing checkbox is not
// an error.
func (f *Filler) Uncheck(ctx context.Context, selector string) (bool, error) {
	ok, err := f.page.Exists(ctx, selector)
	if err != nil || !ok {
		return false, err
	}
	return true, f.setChecked(ctx, selector, false)
}

func (f *Filler) fillSelect(ctx context.Context, ref string, field pagemodel.FieldDescriptor, value string) error {
	idx := bestOption(field.Options, value)
	if idx < 0 {
		return fmt.Errorf("select %s has no usable option: %w", field.ID, dom.ErrNotFound)
	}
	if err := f.page.SelectOption(ctx, ref, field.Options[idx].Value); err != nil {
		return err
	}
	return f.page.Fire(ctx, ref, choiceEvents...)
}

func (f *Filler) fillRadio(ctx context.Context, field pagemodel.FieldDescriptor, value string) error {
	idx := matchOption(field.Options, value)
	if idx < 0 {
		idx = 0
	}
	ref, err := field.Handle.OptionRef(idx)
	if err != nil {
		return err
	}
	return f.setChecked(ctx, ref, true)
}

func (f *Filler) setChecked(ctx context.Context, ref string, checked bool) error {
	if err := f.page.SetChecked(ctx, ref, checked); err != nil {
		return err
	}
	return f.page.Fire(ctx, ref, choiceEvents...)
}

// bestOption picks the option for value: exact value, exact label, label
// containing value, then the first non-placeholder option.
func bestOption(options []dom.Option, value string) int {
	if idx := matchOption(options, value); idx >= 0 && !placeholder(options[idx]) {
		return idx
	}
	for i, o := range options {
		if !placeholder(o) {
			return i
		}
	}
	return -1
}

func matchOption(options []dom.Option, value string) int {
	want := strings.ToLower(strings.TrimSpace(value))
	if want == "" {
		return -1
	}
	for i, o := range options {
		if strings.ToLower(strings.TrimSpace(o.Value)) == want {
			return i
		}
	}
	for i, o := range options {
		if strings.ToLower(strings.TrimSpace(o.Label)) == want {
			return i
		}
	}
	for i, o := range options {
		if strings.Contains(strings.ToLower(o.Label), want) {
			return i
		}
	}
	return -1
}

func placeholder(o dom.Option) bool {
	if strings.TrimSpace(o.Value) == "" {
		return true
	}
	l := strings.ToLower(strings.TrimSpace(o.Label))
	return strings.HasPrefix(l, "select an option") || l == "select" || l == "choose"
}

func truthy(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "y", "1", "on", "checked":
		return true
	}
	return false
}

// wrap maps a missing element to automation.ErrElementNotFound and keeps
// staleness visible to callers.
func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, dom.ErrNotFound) {
		return automation.E(automation.KindElementNotFound, op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isNotFound(err error) bool {
	return errors.Is(err, dom.ErrNotFound)
}
