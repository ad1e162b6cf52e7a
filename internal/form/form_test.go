package form

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/classify"
	"github.com/spigell/autoapply/internal/dom/htmlpage"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/sections"
)

const contactPage = `<h3 class="t-16 t-bold">Contact info</h3>
<label for="fn">First name</label><input id="fn">
<label for="em">Email address</label><input id="em">
<input type="file" id="jobs-document-upload-file-input" style="display:none">
<button class="next" aria-label="Continue to next step">Next</button>`

const workPage = `<h3 class="t-16 t-bold">Work experience</h3>
<div id="editor">
  <label for="title">Title</label><input id="title">
  <label for="company">Company</label><input id="company">
</div>
<button class="artdeco-button--secondary" id="save">Save</button>
<button class="next">Next</button>`

const reviewPage = `<h3 class="t-18">Review your application</h3>
<input type="checkbox" id="follow-company-checkbox" checked><label for="follow-company-checkbox">Follow company</label>
<button aria-label="Submit application">Submit application</button>`

const safetyReminder = `<div id="safety"><h2 id="header">Job search safety reminder</h2><button id="go">Continue applying</button></div>`

// newFlow serves pages inside the modal, advancing on every click of .next.
func newFlow(t *testing.T, pages ...string) *htmlpage.Page {
	t.Helper()
	p := htmlpage.MustNew(safetyReminder + `<div class="jobs-easy-apply-modal">` + pages[0] + `</div><div id="sent"></div>`)
	current := 0
	p.OnClick("button.next", func(p *htmlpage.Page, _ *goquery.Selection) {
		if current+1 < len(pages) {
			current++
		}
		p.Doc().Find(".jobs-easy-apply-modal").SetHtml(pages[current])
	})
	p.OnClick("#go", func(p *htmlpage.Page, _ *goquery.Selection) {
		p.Doc().Find("#safety").Remove()
	})
	p.OnClick("#save", func(p *htmlpage.Page, _ *goquery.Selection) {
		p.Doc().Find("#sent").SetAttr("data-title", p.ValueOf("#title"))
		p.Doc().Find("#editor").Empty()
	})
	p.OnClick(`button[aria-label="Submit application"]`, func(p *htmlpage.Page, _ *goquery.Selection) {
		p.Doc().Find(".jobs-easy-apply-modal").SetHtml(`<p>Application sent</p>`)
	})
	return p
}

func newDriver(t *testing.T, p *htmlpage.Page, cfg Config) *Driver {
	t.Helper()
	resume := filepath.Join(t.TempDir(), "cv.pdf")
	require.NoError(t, os.WriteFile(resume, []byte("%PDF"), 0o600))

	fcfg := fill.DefaultConfig()
	fcfg.CityDelay = 0
	fcfg.DateRetryDelay = 0
	auto := fill.NewAuto(
		pagemodel.New(p, nil),
		fill.New(p, profile.NewResume(resume), fcfg, nil),
		classify.New(classify.Vocabulary{FullName: "Sushen Oli", Email: "sushen@example.com"}),
		nil, nil, nil,
	)
	entries := map[sections.Kind][]sections.Entry{
		sections.WorkExperience: {{Values: map[sections.Slot]string{
			sections.SlotTitle:        "Software Engineer",
			sections.SlotOrganization: "Your Journey",
		}}},
	}
	return New(auto, sections.New(auto, sections.DefaultSelectors, 0, nil), entries, DefaultSelectors, cfg, nil)
}

func TestRunWalksToSubmission(t *testing.T) {
	p := newFlow(t, contactPage, workPage, reviewPage)

	res, err := newDriver(t, p, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, Submitted, res.Outcome)
	require.Len(t, res.Pages, 3)
	assert.Equal(t, "Contact info", res.Pages[0].Section)
	assert.True(t, res.Pages[0].HasResume)
	assert.Equal(t, "Work experience", res.Pages[1].Section)
	assert.True(t, res.Pages[2].Review)
	assert.True(t, res.Pages[2].HasSubmit)

	assert.Equal(t, 0, p.Doc().Find("#safety").Length())
	assert.Equal(t, "Software Engineer", p.Doc().Find("#sent").AttrOr("data-title", ""))
	assert.False(t, p.CheckedOf("#follow-company-checkbox"))
	assert.Equal(t, "Application sent", p.Doc().Find(".jobs-easy-apply-modal p").Text())

	require.Len(t, res.Sections, 1)
	assert.Equal(t, 1, res.Sections[0].Saved)
	assert.Equal(t, 3, res.Stats.Filled)
}

func TestRunFillsContactPageBeforeAdvancing(t *testing.T) {
	p := newFlow(t, contactPage)

	res, err := newDriver(t, p, Config{MaxPages: 1}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, MaxPagesReached, res.Outcome)
	assert.Equal(t, "Sushen", p.ValueOf("#fn"))
	assert.Equal(t, "sushen@example.com", p.ValueOf("#em"))
	assert.Contains(t, p.Doc().Find("#jobs-document-upload-file-input").AttrOr("data-files", ""), "cv.pdf")
}

func TestRunStopsAtPageCeiling(t *testing.T) {
	p := newFlow(t, `<h3 class="t-16 t-bold">Questions</h3><button class="next">Next</button>`)

	res, err := newDriver(t, p, Config{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, MaxPagesReached, res.Outcome)
	assert.Len(t, res.Pages, DefaultMaxPages)

	ceiling := res.Outcome.Err()
	require.ErrorIs(t, ceiling, automation.ErrMaxPagesReached)
	assert.True(t, automation.Soft(ceiling))
}

func TestRunWithoutControlsIsUnfinished(t *testing.T) {
	p := newFlow(t, `<h3 class="t-16 t-bold">Questions</h3><p>Nothing to press</p>`)

	res, err := newDriver(t, p, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Unfinished, res.Outcome)
	assert.Len(t, res.Pages, 1)
	assert.NoError(t, res.Outcome.Err())
}

func TestRunDryRunStopsBeforeSubmit(t *testing.T) {
	p := newFlow(t, reviewPage)

	res, err := newDriver(t, p, Config{DryRun: true}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, ReadyToSubmit, res.Outcome)
	assert.NotContains(t, p.Clicks(), DefaultSelectors.Submit)
	assert.Equal(t, 1, p.Doc().Find(`button[aria-label="Submit application"]`).Length())
}

func TestAdvanceSkipsDisabledControls(t *testing.T) {
	p := newFlow(t,
		`<button disabled class="next">Review</button><button class="next" id="n">Next</button>`,
		reviewPage,
	)

	res, err := newDriver(t, p, Config{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, Submitted, res.Outcome)
	assert.Len(t, res.Pages, 2)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "submitted", Submitted.String())
	assert.Equal(t, "unfinished", Unfinished.String())
	assert.Equal(t, "max_pages_reached", MaxPagesReached.String())
	assert.Equal(t, "ready_to_submit", ReadyToSubmit.String())
}
