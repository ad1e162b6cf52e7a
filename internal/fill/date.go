package fill

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/retry"
)

// DateSelectors locate the structured date controls of a date-range widget.
type DateSelectors struct {
	StartMonth string
	StartYear  string
	StartInput string
	EndMonth   string
	EndYear    string
	EndInput   string
	// CurrentLabels are the labels of "currently ..." checkboxes.
	CurrentLabels []string
}

// DefaultDateSelectors match the easy-apply date range widget.
var DefaultDateSelectors = DateSelectors{
	StartMonth: `.fb-date-range__date-select[data-test-date-dropdown="start"] select[name="month"]`,
	StartYear:  `.fb-date-range__date-select[data-test-date-dropdown="start"] select[name="year"]`,
	StartInput: `input[name="dateRange.start"]`,
	EndMonth:   `.fb-date-range__date-select[data-test-date-dropdown="end"] select[name="month"]`,
	EndYear:    `.fb-date-range__date-select[data-test-date-dropdown="end"] select[name="year"]`,
	EndInput:   `input[name="dateRange.end"]`,
	CurrentLabels: []string{
		"I currently work here",
		"I currently attend this institution",
		"I currently volunteer here",
		"This position is currently active",
		"I am currently in this role",
	},
}

const (
	minYear = 1900
	maxYear = 2100
)

var (
	monthNames = []string{"january", "february", "march", "april", "may", "june", "july", "august", "september", "october", "november", "december"}
	yearRe     = regexp.MustCompile(`^\d{4}$`)
	nonAlnum   = regexp.MustCompile(`[^a-zA-Z0-9]+`)
	ongoing    = []string{"present", "current", "ongoing", "now"}
)

// ParseMonthYear extracts a month (1-12) and a year (1900-2100) from s. Missing
// parts are zero.
func ParseMonthYear(s string) (month, year int) {
	for _, part := range strings.Fields(strings.ToLower(nonAlnum.ReplaceAllString(s, " "))) {
		if month == 0 {
			if m := monthOf(part); m > 0 {
				month = m
				continue
			}
		}
		if year == 0 && yearRe.MatchString(part) {
			if y, _ := strconv.Atoi(part); y >= minYear && y <= maxYear {
				year = y
			}
		}
	}
	return month, year
}

func monthOf(part string) int {
	for i, name := range monthNames {
		if part == name || part == name[:3] {
			return i + 1
		}
	}
	if n, err := strconv.Atoi(part); err == nil && n >= 1 && n <= 12 && len(part) <= 2 {
		return n
	}
	return 0
}

// IsOngoing reports whether an end date means the period has not ended.
func IsOngoing(end string) bool {
	end = strings.ToLower(end)
	for _, term := range ongoing {
		if strings.Contains(end, term) {
			return true
		}
	}
	return false
}

// DateRange is the period written into a date-range widget.
type DateRange struct {
	Start   string
	End     string
	Current bool
}

// ParseDateRange splits "MM/YYYY - MM/YYYY" or "MM/YYYY - present".
func ParseDateRange(s string) DateRange {
	start, end, _ := strings.Cut(s, " - ")
	r := DateRange{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)}
	r.Current = IsOngoing(r.End)
	return r
}

// Ongoing reports whether the end of the range must stay empty.
func (r DateRange) Ongoing() bool {
	return r.Current || IsOngoing(r.End)
}

func (r DateRange) String() string {
	end := r.End
	if r.Ongoing() {
		end = "present"
	}
	return r.Start + " - " + end
}

// DateResult reports what FillDateRange changed.
type DateResult struct {
	StartFilled    bool
	EndFilled      bool
	CurrentChecked bool
}

// IsCurrentCheckbox reports whether field is one of the "currently ..."
// checkboxes driven by the date range.
func (f *Filler) IsCurrentCheckbox(field pagemodel.FieldDescriptor) bool {
	if field.Kind != dom.KindCheckbox {
		return false
	}
	label := strings.TrimSpace(field.Label)
	for _, l := range f.cfg.Dates.CurrentLabels {
		if strings.EqualFold(label, l) {
			return true
		}
	}
	return false
}

// FillDateRange writes r into the structured date controls. For an ongoing
// range the "currently ..." checkbox found in fields is ticked and the end
// controls are left untouched. Finding no start control is retried a few
// times before it fails with automation.ErrElementNotFound.
func (f *Filler) FillDateRange(ctx context.Context, fields pagemodel.Fields, r DateRange) (DateResult, error) {
	var res DateResult
	sel := f.cfg.Dates

	err := retry.Do(ctx, retry.Fixed(3, f.cfg.DateRetryDelay), func(ctx context.Context, _ int) error {
		_, err := dom.FirstExisting(ctx, f.page, sel.StartInput, sel.StartMonth, sel.StartYear)
		return err
	})
	if err != nil {
		return res, automation.E(automation.KindElementNotFound, "date range controls", err)
	}

	current := r.Ongoing()
	for _, field := range fields.Ordered() {
		if !f.IsCurrentCheckbox(field) {
			continue
		}
		if field.Checked {
			current = true
			break
		}
		if !current {
			break
		}
		ref, err := field.Handle.Ref()
		if err != nil {
			return res, fmt.Errorf("current checkbox: %w", err)
		}
		if err := f.setChecked(ctx, ref, true); err != nil {
			return res, wrap("current checkbox", err)
		}
		res.CurrentChecked = true
		break
	}

	if r.Start != "" {
		ok, err := f.fillDate(ctx, sel.StartInput, sel.StartMonth, sel.StartYear, r.Start)
		if err != nil {
			return res, err
		}
		res.StartFilled = ok
	}

	if !current && r.End != "" {
		ok, err := f.fillDate(ctx, sel.EndInput, sel.EndMonth, sel.EndYear, r.End)
		if err != nil {
			return res, err
		}
		res.EndFilled = ok
	}

	f.logger.Debug("date range filled",
		zap.String("range", r.String()),
		zap.Bool("start", res.StartFilled),
		zap.Bool("end", res.EndFilled),
		zap.Bool("current_checked", res.CurrentChecked),
	)
	return res, nil
}

func (f *Filler) fillDate(ctx context.Context, input, monthSel, yearSel, value string) (bool, error) {
	if input != "" {
		ok, err := f.page.Exists(ctx, input)
		if err != nil {
			return false, err
		}
		if ok {
			if err := f.page.SetValue(ctx, input, value); err != nil {
				return false, wrap("date input", err)
			}
			return true, wrap("date input", f.page.Fire(ctx, input, "input", "change"))
		}
	}

	month, year := ParseMonthYear(value)
	filled := false
	if month > 0 && monthSel != "" {
		ok, err := f.selectFirst(ctx, monthSel, monthCandidates(month)...)
		if err != nil {
			return false, err
		}
		filled = filled || ok
	}
	if year > 0 && yearSel != "" {
		ok, err := f.selectFirst(ctx, yearSel, strconv.Itoa(year))
		if err != nil {
			return false, err
		}
		filled = filled || ok
	}
	return filled, nil
}

// selectFirst selects the first candidate value the select accepts. A missing
// select is reported as not filled.
func (f *Filler) selectFirst(ctx context.Context, selector string, candidates ...string) (bool, error) {
	ok, err := f.page.Exists(ctx, selector)
	if err != nil || !ok {
		return false, err
	}
	for _, c := range candidates {
		err := f.page.SelectOption(ctx, selector, c)
		if err == nil {
			return true, wrap("date select", f.page.Fire(ctx, selector, "change"))
		}
		if !isNotFound(err) {
			return false, err
		}
	}
	f.logger.Debug("no matching date option", zap.String("selector", selector), zap.Strings("candidates", candidates))
	return false, nil
}

func monthCandidates(m int) []string {
	name := monthNames[m-1]
	return []string{
		strconv.Itoa(m),
		fmt.Sprintf("%02d", m),
		strings.ToUpper(name[:1]) + name[1:],
		strings.ToUpper(name[:1]) + name[1:3],
		name,
	}
}
