// Package listing walks the job cards of a search results view page by page.
package listing

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/utils"
)

// Selectors locate the parts of a results view.
type Selectors struct {
	// Container is the scrollable results list. Empty means the document.
	Container string
	Card      string
	// Pagination is the list of page buttons.
	Pagination string
	// ActivePage is the button of the current page, relative to Pagination.
	ActivePage string
	// PageButton is a format string taking the next page number.
	PageButton string
	// NextPage is a direct next control, tried before numbered buttons.
	NextPage string
	// Dismiss hides a card the run decided to skip.
	Dismiss string
}

// Config tunes scrolling and pagination.
type Config struct {
	StepMin float64
	StepMax float64
	// DelayMin and DelayMax bound the pause after each scroll step.
	DelayMin time.Duration
	DelayMax time.Duration
	// StableProbes is how many unchanged heights mean the list is loaded.
	StableProbes int
	// NearEnd is the distance from the bottom that counts as the end.
	NearEnd float64
	// MaxProbes bounds the scroll steps of one page.
	MaxProbes int
	// PageSettle is the pause after moving to another page.
	PageSettle time.Duration
	// Rand is the jitter source. Nil uses the global one.
	Rand *rand.Rand
}

// DefaultConfig mirrors the pacing of a person scrolling a results list.
func DefaultConfig() Config {
	return Config{
		StepMin:      50,
		StepMax:      1000,
		DelayMin:     200 * time.Millisecond,
		DelayMax:     500 * time.Millisecond,
		StableProbes: 2,
		NearEnd:      10,
		MaxProbes:    200,
		PageSettle:   2 * time.Second,
	}
}

// Card is one job card of a loaded page. Ref stays valid until the page is
// re-marked.
type Card struct {
	Ref   string
	Page  int
	Index int
}

// Decision tells Traverse how to go on after a card.
type Decision int

const (
	Continue Decision = iota
	Stop
)

// Visitor is called once per card.
type Visitor func(ctx context.Context, card Card) (Decision, error)

// LoadResult describes one scroll-to-load pass.
type LoadResult struct {
	Probes int
	Height float64
	// Loaded is false when the probe ceiling ended the pass.
	Loaded bool
}

// Summary reports a finished traversal.
type Summary struct {
	Pages   int
	Visited int
	// Exhausted means no next page was left.
	Exhausted bool
}

// Engine traverses one results view.
type Engine struct {
	page   dom.Page
	sel    Selectors
	cfg    Config
	logger *zap.Logger
	marks  uint64
}

// New returns an Engine. Zero config fields take their defaults.
func New(page dom.Page, sel Selectors, cfg Config, logger *zap.Logger) *Engine {
	def := DefaultConfig()
	if cfg.StepMax <= 0 {
		cfg.StepMin, cfg.StepMax = def.StepMin, def.StepMax
	}
	if cfg.StableProbes <= 0 {
		cfg.StableProbes = def.StableProbes
	}
	if cfg.NearEnd <= 0 {
		cfg.NearEnd = def.NearEnd
	}
	if cfg.MaxProbes <= 0 {
		cfg.MaxProbes = def.MaxProbes
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{page: page, sel: sel, cfg: cfg, logger: logger}
}

// Traverse loads every page of the view and calls visit for each card until
// visit stops, the pages run out or ctx is done. Cards of a finished page are
// never visited again.
func (e *Engine) Traverse(ctx context.Context, visit Visitor) (Summary, error) {
	var sum Summary
	for page := 1; ; page++ {
		sum.Pages = page
		log := e.logger.With(zap.Int("page", page))

		load, err := e.Load(ctx)
		if err != nil {
			return sum, fmt.Errorf("load page %d: %w", page, err)
		}
		log.Debug("results loaded", zap.Int("probes", load.Probes), zap.Bool("stable", load.Loaded))

		count, err := e.countCards(ctx)
		if err != nil {
			return sum, err
		}
		log.Info("job cards found", zap.Int("cards", count))

		for i := 0; i < count; i++ {
			if err := ctx.Err(); err != nil {
				return sum, err
			}
			card, ok, err := e.card(ctx, page, i)
			if err != nil {
				return sum, err
			}
			if !ok {
				// The list shrank under us.
				break
			}
			decision, err := visit(ctx, card)
			sum.Visited++
			if err != nil {
				return sum, err
			}
			if decision == Stop {
				return sum, nil
			}
		}

		advanced, err := e.NextPage(ctx)
		if err != nil {
			return sum, err
		}
		if !advanced {
			log.Info("no more result pages")
			sum.Exhausted = true
			return sum, nil
		}
	}
}

// Load scrolls the results list down in jittered steps until its height stops
// growing near the bottom, then returns to the top.
func (e *Engine) Load(ctx context.Context) (LoadResult, error) {
	var res LoadResult
	sel := e.container()

	state, err := e.page.Scroll(ctx, sel)
	if err != nil {
		return res, err
	}
	last := state.Height
	pos := 0.0
	unchanged := 0

	for res.Probes < e.cfg.MaxProbes {
		res.Probes++
		state, err = e.page.Scroll(ctx, sel)
		if err != nil {
			return res, err
		}
		bottom := state.Height - state.Client
		pos = min(pos+e.step(bottom-pos), bottom)
		if err := e.page.ScrollTo(ctx, sel, pos); err != nil {
			return res, err
		}
		if err := utils.WaitFor(ctx, utils.Between(e.cfg.Rand, e.cfg.DelayMin, e.cfg.DelayMax)); err != nil {
			return res, err
		}

		state, err = e.page.Scroll(ctx, sel)
		if err != nil {
			return res, err
		}
		res.Height = state.Height
		if state.Height != last {
			unchanged = 0
			last = state.Height
			continue
		}
		unchanged++
		if unchanged >= e.cfg.StableProbes && pos >= state.Height-state.Client-e.cfg.NearEnd {
			res.Loaded = true
			break
		}
	}
	if !res.Loaded {
		e.logger.Warn("results did not settle", zap.Int("probes", res.Probes))
	}
	return res, e.page.ScrollTo(ctx, sel, 0)
}

// NextPage moves to the following results page. It reports false when there
// is none.
func (e *Engine) NextPage(ctx context.Context) (bool, error) {
	if e.sel.NextPage != "" {
		ok, err := e.clickEnabled(ctx, e.sel.NextPage)
		if err != nil || ok {
			return ok, err
		}
	}
	if e.sel.Pagination == "" || e.sel.PageButton == "" {
		return false, nil
	}

	active, err := e.page.Text(ctx, e.sel.Pagination+" "+e.sel.ActivePage)
	if err != nil {
		if errors.Is(err, dom.ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	current, err := strconv.Atoi(strings.TrimSpace(active))
	if err != nil {
		e.logger.Debug("active page is not a number", zap.String("text", active))
		return false, nil
	}
	return e.clickEnabled(ctx, e.sel.Pagination+" "+fmt.Sprintf(e.sel.PageButton, current+1))
}

// Dismiss hides a card the run skipped. A card without the control is left as is.
func (e *Engine) Dismiss(ctx context.Context, card Card) (bool, error) {
	if e.sel.Dismiss == "" {
		return false, nil
	}
	ok, err := e.page.Exists(ctx, card.Ref+" "+e.sel.Dismiss)
	if err != nil || !ok {
		return false, err
	}
	return true, e.page.Click(ctx, card.Ref+" "+e.sel.Dismiss)
}

func (e *Engine) clickEnabled(ctx context.Context, selector string) (bool, error) {
	enabled := selector + `:not([disabled]):not([aria-disabled="true"])`
	ok, err := e.page.Exists(ctx, enabled)
	if err != nil || !ok {
		return false, err
	}
	if err := e.page.Click(ctx, enabled); err != nil {
		return false, err
	}
	return true, utils.WaitFor(ctx, e.cfg.PageSettle)
}

func (e *Engine) countCards(ctx context.Context) (int, error) {
	refs, err := e.mark(ctx)
	return len(refs), err
}

// card re-marks the cards so a visit that re-rendered the list still gets a
// live ref.
func (e *Engine) card(ctx context.Context, page, i int) (Card, bool, error) {
	refs, err := e.mark(ctx)
	if err != nil {
		return Card{}, false, err
	}
	if i >= len(refs) {
		return Card{}, false, nil
	}
	return Card{Ref: refs[i], Page: page, Index: i}, true, nil
}

func (e *Engine) mark(ctx context.Context) ([]string, error) {
	e.marks++
	return e.page.Mark(ctx, e.sel.Card, dom.Marker{Namespace: "card", Generation: e.marks, IncludeHidden: true})
}

func (e *Engine) container() string {
	if e.sel.Container == "" {
		return "html"
	}
	return e.sel.Container
}

// step picks a random increment of at most remaining, never below StepMin.
func (e *Engine) step(remaining float64) float64 {
	hi := min(remaining, e.cfg.StepMax)
	lo := e.cfg.StepMin
	if hi <= lo {
		return lo
	}
	span := int64(hi - lo)
	var n int64
	if e.cfg.Rand != nil {
		n = e.cfg.Rand.Int64N(span + 1)
	} else {
		n = rand.Int64N(span + 1)
	}
	return lo + float64(n)
}
