// Package sections fills repeatable form sections such as work experience and
// education. Every section is cleared first and then gets exactly one entry per
// profile record.
package sections

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/classify"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/utils"
)

// Kind is a repeatable section kind.
type Kind int

const (
	WorkExperience Kind = iota
	Education
)

func (k Kind) String() string {
	if k == Education {
		return "education"
	}
	return "work_experience"
}

// Detect maps a section title to a repeatable kind.
func Detect(title string) (Kind, bool) {
	t := strings.ToLower(title)
	switch {
	case strings.Contains(t, "work experience") || strings.Contains(t, "employment history"):
		return WorkExperience, true
	case strings.Contains(t, "education"):
		return Education, true
	}
	return 0, false
}

// Slot is the role of a field inside one entry.
type Slot int

const (
	NoSlot Slot = iota
	SlotTitle
	SlotOrganization
	SlotLocation
	SlotDescription
	SlotDates
)

type slotRule struct {
	slot  Slot
	terms []string
}

// label terms per section, checked in order
var slotMaps = map[Kind][]slotRule{
	WorkExperience: {
		{SlotTitle, []string{"title"}},
		{SlotOrganization, []string{"company"}},
		{SlotLocation, []string{"location", "city"}},
		{SlotDescription, []string{"description"}},
	},
	Education: {
		{SlotOrganization, []string{"school"}},
		{SlotTitle, []string{"degree"}},
		{SlotLocation, []string{"location", "city"}},
		{SlotDescription, []string{"field of study", "major"}},
	},
}

// Entry is one record to write into a section.
type Entry struct {
	Values map[Slot]string
	Dates  fill.DateRange
}

// WorkEntries turns the work history of p into entries.
func WorkEntries(p *profile.Profile) []Entry {
	entries := make([]Entry, 0, len(p.WorkExperiences))
	for _, w := range p.WorkExperiences {
		entries = append(entries, Entry{
			Values: map[Slot]string{
				SlotTitle:        w.Title,
				SlotOrganization: w.Company,
				SlotLocation:     w.City,
				SlotDescription:  w.Description,
			},
			Dates: fill.DateRange{Start: w.StartDate, End: w.End(), Current: w.Current},
		})
	}
	return entries
}

// EducationEntries turns the education history of p into entries.
func EducationEntries(p *profile.Profile) []Entry {
	entries := make([]Entry, 0, len(p.Educations))
	for _, e := range p.Educations {
		entries = append(entries, Entry{
			Values: map[Slot]string{
				SlotTitle:        e.Degree,
				SlotOrganization: e.School,
				SlotLocation:     e.City,
				SlotDescription:  e.Major,
			},
			Dates: fill.DateRange{Start: e.StartDate, End: e.End(), Current: e.Current},
		})
	}
	return entries
}

// Selectors locate the section controls.
type Selectors struct {
	Remove  string
	Confirm string
	Add     string
	Save    string
	// SaveText must appear in the text of the save control.
	SaveText string
}

// DefaultSelectors match the easy-apply repeatable groupings.
var DefaultSelectors = Selectors{
	Remove:   `button[aria-label="Remove the following work experience"]`,
	Confirm:  `button.artdeco-modal__confirm-dialog-btn.artdeco-button--primary`,
	Add:      `button.jobs-easy-apply-repeatable-groupings__add-button`,
	Save:     `button.artdeco-button--secondary`,
	SaveText: "save",
}

// State is a controller state.
type State int

const (
	Clearing State = iota
	AddingEntry
	FillingEntry
	Saving
	Done
)

var stateNames = [...]string{"clearing", "adding_entry", "filling_entry", "saving", "done"}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// Report summarises one run of the controller.
type Report struct {
	Removed int
	Added   int
	Saved   int
	Filled  int
	Stats   fill.Stats
	States  []State
}

// Controller drives one repeatable section.
type Controller struct {
	auto        *fill.Auto
	sel         Selectors
	settle      time.Duration
	maxRemovals int
	logger      *zap.Logger
	marks       uint64
}

// New returns a controller. A zero settle delay skips the pauses after clicks.
func New(auto *fill.Auto, sel Selectors, settle time.Duration, logger *zap.Logger) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sel.SaveText == "" {
		sel.SaveText = DefaultSelectors.SaveText
	}
	return &Controller{auto: auto, sel: sel, settle: settle, maxRemovals: 20, logger: logger}
}

// Run clears the section under scope and writes entries into it.
func (c *Controller) Run(ctx context.Context, kind Kind, scope, section string, entries []Entry) (Report, error) {
	var rep Report
	log := c.logger.With(zap.Stringer("section", kind), zap.Int("entries", len(entries)))
	page := c.auto.Extractor().Page()

	state := Clearing
	i := 0
	var visit *fill.Visit

	for state != Done {
		if err := ctx.Err(); err != nil {
			return rep, err
		}
		rep.States = append(rep.States, state)
		log.Debug("section state", zap.Stringer("state", state), zap.Int("entry", i))

		switch state {
		case Clearing:
			removed, err := c.clear(ctx, page)
			rep.Removed = removed
			if err != nil {
				return rep, err
			}
			state = AddingEntry
			if len(entries) == 0 {
				state = Done
			}

		case AddingEntry:
			add := i > 0
			if !add {
				present, err := c.entryPresent(ctx, kind, scope, section)
				if err != nil {
					return rep, err
				}
				add = !present
			}
			if add {
				if err := c.click(ctx, page, c.sel.Add); err != nil {
					return rep, fmt.Errorf("add entry %d: %w", i+1, err)
				}
				rep.Added++
			}
			visit = fill.NewVisit(scope, section)
			state = FillingEntry

		case FillingEntry:
			filled, err := c.fillEntry(ctx, visit, kind, entries[i])
			rep.Filled += filled
			rep.Stats.Add(visit.Stats)
			if err != nil {
				return rep, fmt.Errorf("fill entry %d: %w", i+1, err)
			}
			state = Saving

		case Saving:
			saved, err := c.save(ctx, page)
			if err != nil {
				return rep, fmt.Errorf("save entry %d: %w", i+1, err)
			}
			if saved {
				rep.Saved++
			} else {
				log.Warn("no save control found", zap.Int("entry", i+1))
			}
			i++
			state = AddingEntry
			if i >= len(entries) {
				state = Done
			}
		}
	}
	rep.States = append(rep.States, Done)

	log.Info("section filled",
		zap.Int("removed", rep.Removed),
		zap.Int("added", rep.Added),
		zap.Int("saved", rep.Saved),
	)
	return rep, nil
}

func (c *Controller) clear(ctx context.Context, page dom.Page) (int, error) {
	removed := 0
	for removed < c.maxRemovals {
		ok, err := page.Exists(ctx, c.sel.Remove)
		if err != nil {
			return removed, err
		}
		if !ok {
			return removed, nil
		}
		if err := c.click(ctx, page, c.sel.Remove); err != nil {
			return removed, err
		}
		if c.sel.Confirm != "" {
			ok, err := page.Exists(ctx, c.sel.Confirm)
			if err != nil {
				return removed, err
			}
			if ok {
				if err := c.click(ctx, page, c.sel.Confirm); err != nil {
					return removed, err
				}
			}
		}
		removed++
	}
	return removed, fmt.Errorf("section still has entries after %d removals", removed)
}

// entryPresent reports whether the form already shows the fields of an entry.
func (c *Controller) entryPresent(ctx context.Context, kind Kind, scope, section string) (bool, error) {
	fields, err := c.auto.Extractor().Extract(ctx, scope)
	if err != nil {
		return false, err
	}
	for _, f := range fields {
		if c.slotOf(kind, f, section) != NoSlot {
			return true, nil
		}
	}
	return false, nil
}

func (c *Controller) fillEntry(ctx context.Context, v *fill.Visit, kind Kind, entry Entry) (int, error) {
	filler := c.auto.Filler()
	fields, err := c.auto.Extractor().Extract(ctx, v.Scope)
	if err != nil {
		return 0, err
	}

	filled := 0
	datesDone := false
	for _, d := range fields.Ordered() {
		field, ok := fields[d.ID]
		if !ok {
			continue
		}
		if filler.IsCurrentCheckbox(field) {
			continue
		}

		slot := c.slotOf(kind, field, v.Section)
		switch slot {
		case NoSlot:
			fields, err = c.auto.FillField(ctx, v, fields, field)
			if err != nil {
				return filled, err
			}
			continue
		case SlotDates:
			if datesDone {
				continue
			}
			datesDone = true
			if _, err := filler.FillDateRange(ctx, fields, entry.Dates); err != nil {
				c.logger.Warn("dates not filled", zap.String("field", field.ID), zap.Error(err))
				continue
			}
		case SlotLocation:
			if entry.Values[slot] == "" {
				continue
			}
			if err := filler.FillCity(ctx, field, entry.Values[slot]); err != nil {
				c.logger.Warn("location not filled", zap.String("field", field.ID), zap.Error(err))
				continue
			}
		default:
			if entry.Values[slot] == "" {
				continue
			}
			if err := filler.Fill(ctx, field, entry.Values[slot]); err != nil {
				c.logger.Warn("entry field not filled", zap.String("field", field.ID), zap.Error(err))
				continue
			}
		}
		filled++
	}
	return filled, nil
}

func (c *Controller) slotOf(kind Kind, field pagemodel.FieldDescriptor, section string) Slot {
	if c.auto.Classifier().Classify(field, section).Category == classify.DateRange {
		return SlotDates
	}
	if field.Kind != dom.KindText && field.Kind != dom.KindTextarea && field.Kind != dom.KindSelect {
		return NoSlot
	}
	label := strings.ToLower(field.Label)
	for _, rule := range slotMaps[kind] {
		for _, term := range rule.terms {
			if strings.Contains(label, term) {
				return rule.slot
			}
		}
	}
	return NoSlot
}

func (c *Controller) save(ctx context.Context, page dom.Page) (bool, error) {
	c.marks++
	refs, err := page.Mark(ctx, c.sel.Save, dom.Marker{Namespace: "save", Generation: c.marks})
	if err != nil {
		return false, err
	}
	for _, ref := range refs {
		text, err := page.Text(ctx, ref)
		if err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(text), c.sel.SaveText) {
			return true, c.click(ctx, page, ref)
		}
	}
	return false, nil
}

func (c *Controller) click(ctx context.Context, page dom.Page, selector string) error {
	if err := page.Click(ctx, selector); err != nil {
		return err
	}
	return utils.WaitFor(ctx, c.settle)
}
