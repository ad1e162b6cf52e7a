package htmlpage

import (
	"context"
	"errors"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/dom"
)

const formHTML = `<html><body>
<form id="apply">
  <label for="first">First name *</label><input id="first" name="first" type="text">
  <label>Email <input name="email" type="email" required></label>
  <input type="hidden" name="token" value="x">
  <input id="ghost" type="text" style="display: none">
  <div style="opacity:0"><input id="faded" type="text"></div>
  <select id="country" aria-label="Country"><option value="">Select an option</option><option value="np">Nepal</option></select>
  <fieldset><legend>Authorized to work?</legend>
    <input type="radio" name="auth" value="yes" id="auth-yes"><label for="auth-yes">Yes</label>
    <input type="radio" name="auth" value="no" id="auth-no"><label for="auth-no">No</label>
  </fieldset>
  <input type="checkbox" id="terms" aria-required="true"><label for="terms">I agree to the terms</label>
  <button type="button" id="next">Next</button>
</form>
</body></html>`

func TestSnapshotDescribesVisibleFields(t *testing.T) {
	p := MustNew(formHTML)
	nodes, err := p.Snapshot(context.Background(), "#apply", dom.Marker{Namespace: "f", Generation: 1})
	require.NoError(t, err)

	byID := map[string]dom.Node{}
	for _, n := range nodes {
		byID[n.ID+n.Name] = n
	}

	require.Len(t, nodes, 6)
	assert.Equal(t, "First name *", byID["firstfirst"].Label)
	assert.Equal(t, dom.KindText, byID["email"].Kind)
	assert.True(t, byID["email"].Required)
	assert.Contains(t, byID["email"].Label, "Email")
	assert.Equal(t, "Country", byID["country"].Label)
	assert.Len(t, byID["country"].Options, 2)
	assert.True(t, byID["terms"].Required)
	assert.Equal(t, "Authorized to work?", byID["auth-yesauth"].GroupLabel)
	assert.Equal(t, byID["auth-yesauth"].Group, byID["auth-noauth"].Group)
}

func TestSnapshotRestampsGeneration(t *testing.T) {
	ctx := context.Background()
	p := MustNew(formHTML)
	first, err := p.Snapshot(ctx, "", dom.Marker{Namespace: "f", Generation: 1})
	require.NoError(t, err)

	_, err = p.Snapshot(ctx, "", dom.Marker{Namespace: "f", Generation: 2})
	require.NoError(t, err)

	ok, err := p.Exists(ctx, first[0].Ref)
	require.NoError(t, err)
	assert.False(t, ok, "old stamp must not resolve")
}

func TestClickRunsHooksAndTogglesCheckbox(t *testing.T) {
	ctx := context.Background()
	p := MustNew(formHTML)
	clicked := 0
	p.OnClick("#next", func(p *Page, _ *goquery.Selection) {
		clicked++
		_ = p.Load(`<html><body><h3>Review your application</h3></body></html>`)
	})

	require.NoError(t, p.Click(ctx, "#terms"))
	assert.True(t, p.CheckedOf("#terms"))

	require.NoError(t, p.Click(ctx, "#next"))
	assert.Equal(t, 1, clicked)
	text, err := p.Text(ctx, "h3")
	require.NoError(t, err)
	assert.Equal(t, "Review your application", text)
}

func TestSelectOptionAndMissingElements(t *testing.T) {
	ctx := context.Background()
	p := MustNew(formHTML)

	require.NoError(t, p.SelectOption(ctx, "#country", "np"))
	assert.Equal(t, "np", p.ValueOf("#country"))

	err := p.SelectOption(ctx, "#country", "fr")
	assert.True(t, errors.Is(err, dom.ErrNotFound))

	err = p.Click(ctx, "#missing")
	assert.ErrorIs(t, err, dom.ErrNotFound)
}

func TestControlsSkipHidden(t *testing.T) {
	p := MustNew(`<div><button>Submit application</button><a href="#" style="visibility:hidden">Hidden</a><input type="submit" value="Send"></div>`)
	controls, err := p.Controls(context.Background(), "", dom.Marker{Namespace: "c", Generation: 1})
	require.NoError(t, err)

	require.Len(t, controls, 2)
	assert.Equal(t, "Submit application", controls[0].Text)
	assert.Equal(t, "Send", controls[1].Text)
}

func TestScrollToClampsAndRunsHook(t *testing.T) {
	ctx := context.Background()
	p := MustNew(`<div id="list"></div>`)
	p.SetScroll("#list", dom.ScrollState{Height: 1000, Client: 400}, func(_ *Page, s dom.ScrollState) dom.ScrollState {
		s.Height += 100
		return s
	})

	require.NoError(t, p.ScrollTo(ctx, "#list", 5000))
	state, err := p.Scroll(ctx, "#list")
	require.NoError(t, err)
	assert.Equal(t, 600.0, state.Top)
	assert.Equal(t, 1100.0, state.Height)
}
