package fill

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/classify"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/pagemodel"
)

// DateSource returns the period to write into a date-range widget under a
// section title.
type DateSource func(section string) (DateRange, bool)

// Stats counts what happened to the fields of one pass.
type Stats struct {
	Filled      int
	Skipped     int
	Unanswered  int
	Failed      int
	OracleCalls int
	Tokens      int
}

// Add accumulates other into s.
func (s *Stats) Add(other Stats) {
	s.Filled += other.Filled
	s.Skipped += other.Skipped
	s.Unanswered += other.Unanswered
	s.Failed += other.Failed
	s.OracleCalls += other.OracleCalls
	s.Tokens += other.Tokens
}

// Visit is one visit of a form page. The oracle is asked about a field at most
// once per visit.
type Visit struct {
	Scope   string
	Section string
	Stats   Stats

	asked     map[string]bool
	answers   map[string]ai.Answer
	handled   map[string]bool
	datesDone bool
}

// NewVisit starts a visit of scope under section.
func NewVisit(scope, section string) *Visit {
	return &Visit{
		Scope:   scope,
		Section: section,
		asked:   make(map[string]bool),
		answers: make(map[string]ai.Answer),
		handled: make(map[string]bool),
	}
}

// MarkHandled excludes a field from later passes of the visit.
func (v *Visit) MarkHandled(id string) {
	v.handled[id] = true
}

// Auto is the generic classify-and-fill path.
type Auto struct {
	extractor  *pagemodel.Extractor
	filler     *Filler
	classifier *classify.Classifier
	oracle     ai.Oracle
	dates      DateSource
	logger     *zap.Logger
}

// NewAuto wires the generic path. oracle and dates may be nil.
func NewAuto(extractor *pagemodel.Extractor, filler *Filler, classifier *classify.Classifier, oracle ai.Oracle, dates DateSource, logger *zap.Logger) *Auto {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Auto{
		extractor:  extractor,
		filler:     filler,
		classifier: classifier,
		oracle:     oracle,
		dates:      dates,
		logger:     logger,
	}
}

// Extractor returns the extractor the path re-reads the page with.
func (a *Auto) Extractor() *pagemodel.Extractor { return a.extractor }

// Filler returns the underlying filler.
func (a *Auto) Filler() *Filler { return a.filler }

// Classifier returns the classifier of the path.
func (a *Auto) Classifier() *classify.Classifier { return a.classifier }

// FillAll extracts scope and fills every field in document order.
func (a *Auto) FillAll(ctx context.Context, scope, section string) (Stats, error) {
	v := NewVisit(scope, section)
	err := a.FillVisit(ctx, v)
	return v.Stats, err
}

// FillVisit fills the fields of the visit's scope that were not handled yet.
func (a *Auto) FillVisit(ctx context.Context, v *Visit) error {
	fields, err := a.extractor.Extract(ctx, v.Scope)
	if err != nil {
		return err
	}
	for _, d := range fields.Ordered() {
		if err := ctx.Err(); err != nil {
			return err
		}
		field, ok := fields[d.ID]
		if !ok || v.handled[d.ID] {
			continue
		}
		fields, err = a.FillField(ctx, v, fields, field)
		if err != nil {
			return err
		}
	}
	return nil
}

// FillField classifies and fills one field. Field-level failures are logged and
// counted. When the field's handle went stale the scope is extracted again and
// the field is retried once under its identifier. A vanished element is
// treated the same way. The returned fields are the
// latest extraction.
func (a *Auto) FillField(ctx context.Context, v *Visit, fields pagemodel.Fields, field pagemodel.FieldDescriptor) (pagemodel.Fields, error) {
	err := a.fillField(ctx, v, fields, field)
	if errors.Is(err, dom.ErrStale) || errors.Is(err, dom.ErrNotFound) {
		fresh, xerr := a.extractor.Extract(ctx, v.Scope)
		if xerr != nil {
			return fields, xerr
		}
		fields = fresh
		if again, ok := fresh[field.ID]; ok {
			err = a.fillField(ctx, v, fresh, again)
		}
	}
	v.handled[field.ID] = true
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fields, ctxErr
		}
		v.Stats.Failed++
		a.logger.Warn("field not filled",
			zap.String("field", field.ID),
			zap.String("label", field.Label),
			zap.Error(err),
		)
	}
	return fields, nil
}

func (a *Auto) fillField(ctx context.Context, v *Visit, fields pagemodel.Fields, field pagemodel.FieldDescriptor) error {
	if field.Kind != dom.KindFile && field.Filled() {
		v.Stats.Skipped++
		return nil
	}
	if a.filler.IsCurrentCheckbox(field) {
		return nil
	}

	res := a.classifier.Classify(field, v.Section)
	log := a.logger.With(zap.String("field", field.ID), zap.Stringer("category", res.Category))

	if res.Skip {
		v.Stats.Skipped++
		log.Debug("field left as rendered")
		return nil
	}

	switch res.Category {
	case classify.ResumeUpload:
		if err := a.filler.AttachResume(ctx, field); err != nil {
			return err
		}
		v.Stats.Filled++
		return nil
	case classify.DateRange:
		return a.fillDates(ctx, v, fields, field)
	case classify.CityLocation:
		if res.Resolved {
			if err := a.filler.FillCity(ctx, field, res.Value); err != nil {
				return err
			}
			v.Stats.Filled++
			return nil
		}
	}

	if res.Resolved {
		if err := a.filler.Fill(ctx, field, res.Value); err != nil {
			return err
		}
		v.Stats.Filled++
		log.Debug("field filled from profile")
		return nil
	}

	if !res.NeedsOracle() {
		v.Stats.Skipped++
		return nil
	}

	answer, ok := a.ask(ctx, v, field, res)
	if !ok {
		return nil
	}

	switch {
	case answer.Skip:
		v.Stats.Skipped++
		return nil
	case answer.Upload:
		if field.Kind != dom.KindFile {
			v.Stats.Skipped++
			return nil
		}
		if err := a.filler.AttachResume(ctx, field); err != nil {
			return err
		}
	case field.Kind == dom.KindFile:
		v.Stats.Skipped++
		return nil
	case field.Kind == dom.KindText && strings.Contains(strings.ToLower(field.Label), "city"):
		if err := a.filler.FillCity(ctx, field, answer.Value); err != nil {
			return err
		}
	default:
		if err := a.filler.Fill(ctx, field, answer.Value); err != nil {
			return err
		}
	}
	v.Stats.Filled++
	return nil
}

// ask queries the oracle once per field and visit. A retried field reuses the
// earlier answer. ok is false when the field must be left untouched.
func (a *Auto) ask(ctx context.Context, v *Visit, field pagemodel.FieldDescriptor, res classify.Result) (ai.Answer, bool) {
	if answer, ok := v.answers[field.ID]; ok {
		return answer, true
	}
	if a.oracle == nil || v.asked[field.ID] {
		v.Stats.Unanswered++
		return ai.Answer{}, false
	}
	v.asked[field.ID] = true
	v.Stats.OracleCalls++

	answer, err := a.oracle.Classify(ctx, ai.Query{Kind: ai.FieldValue, Field: FieldContext(field, res, v.Section)})
	v.Stats.Tokens += answer.Tokens
	if err != nil {
		v.Stats.Unanswered++
		a.logger.Warn("oracle gave no answer, field left unfilled",
			zap.String("field", field.ID),
			zap.String("label", field.Label),
			zap.Bool("required", field.Required),
			zap.Error(err),
		)
		return answer, false
	}
	v.answers[field.ID] = answer
	return answer, true
}

func (a *Auto) fillDates(ctx context.Context, v *Visit, fields pagemodel.Fields, field pagemodel.FieldDescriptor) error {
	if v.datesDone {
		return nil
	}
	v.datesDone = true

	var r DateRange
	ok := false
	if a.dates != nil {
		r, ok = a.dates(v.Section)
	}
	if !ok {
		answer, answered := a.ask(ctx, v, field, classify.Result{Category: classify.DateRange})
		if !answered || answer.Skip || answer.Value == "" {
			return nil
		}
		r = ParseDateRange(answer.Value)
	}

	_, err := a.filler.FillDateRange(ctx, fields, r)
	if errors.Is(err, automation.ErrElementNotFound) && freeText(field.Kind) {
		// no structured widget: the classified input takes the whole range
		err = a.filler.Fill(ctx, field, r.String())
	}
	if err != nil {
		v.datesDone = false
		return fmt.Errorf("dates of %s: %w", field.ID, err)
	}
	v.Stats.Filled++
	return nil
}

func freeText(k dom.Kind) bool {
	return k == dom.KindText || k == dom.KindTextarea || k == dom.KindEditable
}

// FieldContext describes field for an oracle query.
func FieldContext(field pagemodel.FieldDescriptor, res classify.Result, section string) *ai.FieldContext {
	return &ai.FieldContext{
		Category:    res.Category.String(),
		Kind:        string(field.Kind),
		Label:       field.Label,
		Placeholder: field.Placeholder,
		Options:     field.OptionLabels(),
		Required:    field.Required,
		Section:     section,
	}
}
