// Package external applies on destination sites reached from a job board. It
// runs inside a dispatched surface and knows nothing about the site except
// what the page and the oracle tell it.
package external

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/dispatch"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/utils"
)

// commonFields are the field names that give away an application form.
var commonFields = []string{"name", "first", "last", "email", "resume", "phone", "address"}

var confirmation = regexp.MustCompile(`(?i)thank you for (applying|your application)|application (has been )?(submitted|received|sent)|successfully applied|we have received your application`)

// Builder wires the generic fill path for a surface. msg is the start message
// the surface received.
type Builder func(page dom.Page, msg dispatch.Message) *fill.Auto

type Config struct {
	MaxAttempts int           `mapstructure:"max-attempts" validate:"gte=0"`
	MaxUploads  int           `mapstructure:"max-uploads" validate:"gte=0"`
	Settle      time.Duration `mapstructure:"settle"`
	// MinCommonFields is how many common field names make a form obvious.
	MinCommonFields int `mapstructure:"min-common-fields" validate:"gte=0"`
}

func DefaultConfig() Config {
	return Config{
		MaxAttempts:     5,
		MaxUploads:      3,
		Settle:          2 * time.Second,
		MinCommonFields: 3,
	}
}

// Session is the dispatch.Handler of out-of-flow applications.
type Session struct {
	build  Builder
	oracle ai.Oracle
	cfg    Config
	logger *zap.Logger
}

var _ dispatch.Handler = (*Session)(nil)

// New returns a session handler. oracle may be nil, then the first matching
// control is used where the oracle would choose.
func New(build Builder, oracle ai.Oracle, cfg Config, logger *zap.Logger) *Session {
	d := DefaultConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = d.MaxAttempts
	}
	if cfg.MaxUploads <= 0 {
		cfg.MaxUploads = d.MaxUploads
	}
	if cfg.MinCommonFields <= 0 {
		cfg.MinCommonFields = d.MinCommonFields
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{build: build, oracle: oracle, cfg: cfg, logger: logger}
}

// state is kept for one application.
type state struct {
	page    dom.Page
	auto    *fill.Auto
	logger  *zap.Logger
	stats   fill.Stats
	uploads map[string]int
	gen     uint64
}

// Handle runs up to MaxAttempts rounds. A round fills the form if one is
// present and tries to submit it, or follows an apply control otherwise.
func (s *Session) Handle(ctx context.Context, surface dispatch.Surface, msg dispatch.Message) (dispatch.Outcome, error) {
	st := &state{
		page:    surface,
		auto:    s.build(surface, msg),
		logger:  s.logger.With(zap.String("surface_id", surface.ID()), zap.String("job_id", msg.JobID)),
		uploads: make(map[string]int),
	}

	for attempt := 1; attempt <= s.cfg.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return dispatch.Outcome{Status: dispatch.Unfinished, Stats: st.stats}, err
		}
		st.logger.Debug("external application round", zap.Int("attempt", attempt))

		done, out, err := s.round(ctx, st)
		if err != nil {
			return dispatch.Outcome{Status: dispatch.Failed, Stats: st.stats}, err
		}
		if done {
			out.Stats = st.stats
			return out, nil
		}
	}

	st.logger.Info("external application gave up", zap.Int("attempts", s.cfg.MaxAttempts))
	return dispatch.Outcome{Status: dispatch.MaxAttemptsReached, Stats: st.stats},
		automation.E(automation.KindMaxAttemptsReached, "external session", nil)
}

func (s *Session) round(ctx context.Context, st *state) (bool, dispatch.Outcome, error) {
	fields, err := st.auto.Extractor().Extract(ctx, "")
	if err != nil {
		return false, dispatch.Outcome{}, fmt.Errorf("extract: %w", err)
	}

	form, err := s.hasForm(ctx, st, fields)
	if err != nil {
		return false, dispatch.Outcome{}, err
	}
	if !form {
		followed, err := s.followApply(ctx, st)
		if err != nil {
			return false, dispatch.Outcome{}, err
		}
		if !followed {
			return true, dispatch.Outcome{Status: dispatch.Failed, Detail: "no apply control"}, nil
		}
		return false, dispatch.Outcome{}, nil
	}

	if err := s.fill(ctx, st, fields); err != nil {
		return false, dispatch.Outcome{}, err
	}

	fields, err = st.auto.Extractor().Extract(ctx, "")
	if err != nil {
		return false, dispatch.Outcome{}, fmt.Errorf("extract: %w", err)
	}
	if missing := missingRequired(fields); len(missing) > 0 {
		st.logger.Info("required fields still empty, not submitting", zap.Strings("fields", missing))
		return false, dispatch.Outcome{}, nil
	}

	submitted, err := s.submit(ctx, st)
	if err != nil || !submitted {
		return false, dispatch.Outcome{}, err
	}
	if s.succeeded(ctx, st) {
		st.logger.Info("external application submitted")
		return true, dispatch.Outcome{Status: dispatch.Submitted}, nil
	}
	return false, dispatch.Outcome{}, nil
}

// hasForm reports whether the page carries an application form. Obvious
// forms are recognised by their field names, the rest is left to the oracle.
func (s *Session) hasForm(ctx context.Context, st *state, fields pagemodel.Fields) (bool, error) {
	if len(fields) == 0 {
		return false, nil
	}
	if CommonFieldCount(fields) >= s.cfg.MinCommonFields {
		return true, nil
	}
	if s.oracle == nil {
		return false, nil
	}

	labels := make([]string, 0, len(fields))
	for _, f := range fields.Ordered() {
		labels = append(labels, fmt.Sprintf("%s (%s)", firstNonEmpty(f.Label, f.Name, f.Placeholder, f.ID), f.Kind))
	}
	answer, err := s.oracle.Classify(ctx, ai.Query{
		Kind:     ai.Decision,
		Question: "Is this page a job application form the applicant should fill in?",
		Context:  "Fields on the page:\n" + strings.Join(labels, "\n"),
	})
	st.stats.OracleCalls++
	st.stats.Tokens += answer.Tokens
	if err != nil {
		if ctx.Err() != nil {
			return false, ctx.Err()
		}
		st.logger.Warn("oracle could not tell whether the page is a form", zap.Error(err))
		return false, nil
	}
	return answer.Verdict == ai.Yes, nil
}

// fill attaches the resume to file inputs within the upload cap and leaves
// everything else to the generic path.
func (s *Session) fill(ctx context.Context, st *state, fields pagemodel.Fields) error {
	v := fill.NewVisit("", "")
	for _, f := range fields.Ordered() {
		if f.Kind != dom.KindFile {
			continue
		}
		v.MarkHandled(f.ID)
		if st.uploads[f.ID] >= s.cfg.MaxUploads {
			continue
		}
		st.uploads[f.ID]++
		if err := st.auto.Filler().AttachResume(ctx, f); err != nil {
			st.stats.Failed++
			st.logger.Warn("resume upload failed", zap.String("field", f.ID), zap.Error(err))
			continue
		}
		st.stats.Filled++
	}

	err := st.auto.FillVisit(ctx, v)
	st.stats.Add(v.Stats)
	return err
}

// submit clicks the control the oracle names as the submit button.
func (s *Session) submit(ctx context.Context, st *state) (bool, error) {
	ref, err := s.choose(ctx, st, isSubmitText, "Which control submits the job application form?")
	if err != nil || ref == "" {
		return false, err
	}
	if err := st.page.Click(ctx, ref); err != nil {
		return false, fmt.Errorf("click submit: %w", err)
	}
	return true, utils.WaitFor(ctx, s.cfg.Settle)
}

// followApply clicks the control that starts the application. It returns false
// when the page has none.
func (s *Session) followApply(ctx context.Context, st *state) (bool, error) {
	ref, err := s.choose(ctx, st, isApplyText, "Which control starts the job application?")
	if err != nil || ref == "" {
		return false, err
	}
	st.logger.Debug("following apply control", zap.String("ref", ref))
	if err := st.page.Click(ctx, ref); err != nil {
		return false, fmt.Errorf("click apply: %w", err)
	}
	return true, utils.WaitFor(ctx, s.cfg.Settle)
}

// choose returns the ref of a visible control picked among those whose text
// matches. Without an oracle the first candidate wins.
func (s *Session) choose(ctx context.Context, st *state, match func(string) bool, question string) (string, error) {
	st.gen++
	controls, err := st.page.Controls(ctx, "", dom.Marker{Namespace: "ext", Generation: st.gen})
	if err != nil {
		return "", fmt.Errorf("controls: %w", err)
	}

	var candidates []dom.Control
	for _, c := range controls {
		if !c.Disabled && match(controlText(c)) {
			candidates = append(candidates, c)
		}
	}
	if len(candidates) == 0 {
		return "", nil
	}
	if s.oracle == nil || len(candidates) == 1 {
		return candidates[0].Ref, nil
	}

	texts := make([]string, len(candidates))
	for i, c := range candidates {
		texts[i] = fmt.Sprintf("<%s> %s", c.Tag, controlText(c))
	}
	answer, err := s.oracle.Classify(ctx, ai.Query{Kind: ai.Choice, Question: question, Candidates: texts})
	st.stats.OracleCalls++
	st.stats.Tokens += answer.Tokens
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		st.logger.Warn("oracle could not choose a control, using the first", zap.Error(err))
		return candidates[0].Ref, nil
	}
	if answer.Index == ai.NoChoice || answer.Index < 0 || answer.Index >= len(candidates) {
		return "", nil
	}
	return candidates[answer.Index].Ref, nil
}

// succeeded looks for a confirmation message or for the form having gone.
func (s *Session) succeeded(ctx context.Context, st *state) bool {
	if text, err := st.page.Text(ctx, "body"); err == nil && confirmation.MatchString(text) {
		return true
	}
	fields, err := st.auto.Extractor().Extract(ctx, "")
	if err != nil {
		return false
	}
	return CommonFieldCount(fields) == 0
}

// CommonFieldCount counts the common application field names found in the
// names, IDs and labels of fields.
func CommonFieldCount(fields pagemodel.Fields) int {
	found := make(map[string]bool)
	for _, f := range fields {
		hay := strings.ToLower(f.Name + " " + f.ID + " " + f.Label)
		for _, term := range commonFields {
			if strings.Contains(hay, term) {
				found[term] = true
			}
		}
	}
	return len(found)
}

func missingRequired(fields pagemodel.Fields) []string {
	var missing []string
	for _, f := range fields.Ordered() {
		if !f.Required || f.Kind == dom.KindFile {
			continue
		}
		if !f.Filled() {
			missing = append(missing, f.ID)
		}
	}
	return missing
}

func controlText(c dom.Control) string {
	return strings.TrimSpace(firstNonEmpty(c.Text, c.Label))
}

func isApplyText(text string) bool {
	return strings.Contains(strings.ToLower(text), "apply")
}

func isSubmitText(text string) bool {
	t := strings.ToLower(text)
	for _, w := range []string{"submit", "apply", "send", "finish", "complete"} {
		if strings.Contains(t, w) {
			return true
		}
	}
	return false
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
