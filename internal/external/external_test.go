package external

import (
	"context"
	"errors"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/classify"
	"github.com/spigell/autoapply/internal/dispatch"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/dom/htmlpage"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/pagemodel"
)

type surface struct {
	*htmlpage.Page
}

func (s surface) ID() string { return "tab-1" }
func (s surface) Ready(context.Context) (bool, error) { return true, nil }
func (s surface) Inject(context.Context) error { return nil }
func (s surface) Send(context.Context, dispatch.Message) error { return nil }
func (s surface) Close(context.Context) error { return nil }

type countingResume struct{ calls int }

func (r *countingResume) Materialize(context.Context) (string, func(), error) {
	r.calls++
	return "/tmp/cv.pdf", func() {}, nil
}

type stubOracle struct {
	decision ai.Verdict
	choice   int
	values   map[string]string
	queries  []ai.Query
}

func (s *stubOracle) Classify(_ context.Context, q ai.Query) (ai.Answer, error) {
	s.queries = append(s.queries, q)
	switch q.Kind {
	case ai.Decision:
		return ai.Answer{Verdict: s.decision, Tokens: 3}, nil
	case ai.Choice:
		return ai.Answer{Index: s.choice, Tokens: 2}, nil
	}
	if v, ok := s.values[q.Field.Label]; ok {
		return ai.Answer{Value: v, Tokens: 4}, nil
	}
	return ai.Answer{}, automation.E(automation.KindOracleUnavailable, "stub", errors.New("no answer"))
}

func builder(resume fill.ResumeSource) Builder {
	return func(page dom.Page, _ dispatch.Message) *fill.Auto {
		cfg := fill.DefaultConfig()
		cfg.CityDelay = 0
		cfg.DateRetryDelay = 0
		return fill.NewAuto(
			pagemodel.New(page, nil),
			fill.New(page, resume, cfg, nil),
			classify.New(classify.Vocabulary{FullName: "Sushen Oli", Email: "sushen@example.com"}),
			nil, nil, nil,
		)
	}
}

func newSession(resume fill.ResumeSource, oracle ai.Oracle) *Session {
	cfg := DefaultConfig()
	cfg.Settle = 0
	return New(builder(resume), oracle, cfg, nil)
}

const landing = `<h1>Platform Engineer</h1>
<a href="/about">About us</a>
<a id="apply" href="#">Apply now</a>`

const applicationForm = `<form>
<label for="fn">First name</label><input id="fn" name="first_name">
<label for="ln">Last name</label><input id="ln" name="last_name">
<label for="em">Email</label><input id="em" name="email" required>
<label for="cv">Resume</label><input type="file" id="cv" name="resume">
<button type="button">Cancel</button>
<button id="submit" type="submit">Submit application</button>
</form>`

func TestHandleFollowsApplyAndSubmits(t *testing.T) {
	p := htmlpage.MustNew(landing)
	p.OnClick("#apply", func(p *htmlpage.Page, _ *goquery.Selection) {
		require.NoError(t, p.Load(applicationForm))
	})
	sent := map[string]string{}
	p.OnClick("#submit", func(p *htmlpage.Page, _ *goquery.Selection) {
		sent["first"] = p.ValueOf("#fn")
		sent["last"] = p.ValueOf("#ln")
		sent["email"] = p.ValueOf("#em")
		sent["files"] = p.Doc().Find("#cv").AttrOr("data-files", "")
		require.NoError(t, p.Load(`<p>Thank you for applying!</p>`))
	})

	resume := &countingResume{}
	out, err := newSession(resume, nil).Handle(context.Background(), surface{p}, dispatch.Message{JobID: "42"})
	require.NoError(t, err)

	assert.Equal(t, dispatch.Submitted, out.Status)
	assert.Equal(t, map[string]string{
		"first": "Sushen",
		"last":  "Oli",
		"email": "sushen@example.com",
		"files": "/tmp/cv.pdf",
	}, sent)
	assert.Equal(t, 4, out.Stats.Filled)
	assert.Equal(t, 1, resume.calls)
}

func TestHandleAsksOracleAboutUnclearForms(t *testing.T) {
	p := htmlpage.MustNew(`<form>
<label for="cl">Cover letter</label><textarea id="cl"></textarea>
<button id="send">Send</button>
<button id="go">Submit now</button>
</form>`)
	p.OnClick("#go", func(p *htmlpage.Page, _ *goquery.Selection) {
		require.NoError(t, p.Load(`<p>Your application has been submitted.</p>`))
	})

	oracle := &stubOracle{decision: ai.Yes, choice: 1, values: map[string]string{"Cover letter": "Dear team"}}
	out, err := newSession(&countingResume{}, oracle).Handle(context.Background(), surface{p}, dispatch.Message{})
	require.NoError(t, err)

	assert.Equal(t, dispatch.Submitted, out.Status)
	require.Len(t, oracle.queries, 3)
	assert.Equal(t, ai.Decision, oracle.queries[0].Kind)
	assert.Contains(t, oracle.queries[0].Context, "Cover letter")
	assert.Equal(t, []string{"<button> Send", "<button> Submit now"}, oracle.queries[2].Candidates)
	assert.Equal(t, 3, out.Stats.OracleCalls)
	assert.Equal(t, 9, out.Stats.Tokens)
}

func TestHandleWithoutApplyControlFails(t *testing.T) {
	p := htmlpage.MustNew(`<h1>Job closed</h1><a href="/">Home</a>`)

	out, err := newSession(&countingResume{}, nil).Handle(context.Background(), surface{p}, dispatch.Message{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Failed, out.Status)
	assert.Equal(t, "no apply control", out.Detail)
}

func TestHandleOracleMayRefuseEveryApplyControl(t *testing.T) {
	p := htmlpage.MustNew(`<a id="a">Apply on company site</a><a id="b">Apply with profile</a>`)
	oracle := &stubOracle{choice: ai.NoChoice}

	out, err := newSession(&countingResume{}, oracle).Handle(context.Background(), surface{p}, dispatch.Message{})
	require.NoError(t, err)
	assert.Equal(t, dispatch.Failed, out.Status)
	assert.Empty(t, p.Clicks())
}

func TestHandleDoesNotSubmitWithEmptyRequiredFields(t *testing.T) {
	p := htmlpage.MustNew(`<form>
<label for="fn">First name</label><input id="fn">
<label for="ln">Last name</label><input id="ln">
<label for="em">Email</label><input id="em">
<label for="sal">Salary expectation *</label><input id="sal">
<button id="submit">Submit</button>
</form>`)

	out, err := newSession(&countingResume{}, nil).Handle(context.Background(), surface{p}, dispatch.Message{})
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrMaxAttemptsReached)
	assert.True(t, automation.Soft(err))
	assert.Equal(t, dispatch.MaxAttemptsReached, out.Status)
	assert.Empty(t, p.Clicks())
	assert.Equal(t, "Sushen", p.ValueOf("#fn"))
}

func TestHandleCapsUploadsPerField(t *testing.T) {
	p := htmlpage.MustNew(applicationForm)

	resume := &countingResume{}
	out, err := newSession(resume, nil).Handle(context.Background(), surface{p}, dispatch.Message{})
	require.Error(t, err)
	assert.Equal(t, dispatch.MaxAttemptsReached, out.Status)
	assert.Equal(t, 3, resume.calls)
	assert.Len(t, p.Clicks(), 5)
}

func TestHandleStopsOnCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	out, err := newSession(&countingResume{}, nil).Handle(ctx, surface{htmlpage.MustNew(landing)}, dispatch.Message{})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, dispatch.Unfinished, out.Status)
}

func TestCommonFieldCount(t *testing.T) {
	fields := pagemodel.Fields{
		"a": {ID: "a", Name: "first_name", Label: "First name"},
		"b": {ID: "b", Label: "E-mail", Name: "email"},
		"c": {ID: "c", Label: "Portfolio"},
	}
	assert.Equal(t, 3, CommonFieldCount(fields))
	assert.Equal(t, 0, CommonFieldCount(pagemodel.Fields{"x": {ID: "x", Label: "Portfolio"}}))
}
