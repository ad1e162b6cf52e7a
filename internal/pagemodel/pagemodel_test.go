package pagemodel

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/dom/htmlpage"
)

const page = `<html><body><div class="modal">
  <h3>Contact info</h3>
  <label for="fn">First name</label><input id="fn" type="text">
  <label for="ln">Last name</label><input id="ln" type="text" value="Oli">
  <input type="text" name="city" placeholder="City (required)">
  <fieldset><legend>Will you relocate?</legend>
    <label><input type="radio" name="reloc" value="Yes">Yes</label>
    <label><input type="radio" name="reloc" value="No" checked>No</label>
  </fieldset>
  <label for="a">Note</label><input id="a" type="text">
  <label for="b">Note</label><input id="a" type="text">
  <div style="display:none"><input type="file" id="jobs-document-upload-1"></div>
</div></body></html>`

func TestExtractBuildsDescriptors(t *testing.T) {
	p := htmlpage.MustNew(page)
	e := New(p, nil)

	fields, err := e.Extract(context.Background(), ".modal")
	require.NoError(t, err)

	require.Contains(t, fields, "fn")
	assert.Equal(t, "First name", fields["fn"].Label)
	assert.False(t, fields["fn"].Filled())
	assert.True(t, fields["ln"].Filled())

	city := fields["city"]
	assert.True(t, city.Required, "placeholder marks the field as required")

	var radio FieldDescriptor
	for _, f := range fields {
		if f.Kind == dom.KindRadio {
			radio = f
		}
	}
	assert.Equal(t, "Will you relocate?", radio.Label)
	require.Len(t, radio.Options, 2)
	assert.Equal(t, "No", radio.Options[1].Value)
	assert.True(t, radio.Filled())

	assert.Contains(t, fields, "a")
	assert.Contains(t, fields, "a#2", "duplicate ids are made unique")

	resume, ok := fields[ResumeFieldID]
	require.True(t, ok, "hidden resume input is found by the dedicated lookup")
	assert.Equal(t, dom.KindFile, resume.Kind)
}

func TestOrderedFollowsDocument(t *testing.T) {
	p := htmlpage.MustNew(page)
	fields, err := New(p, nil).Extract(context.Background(), "")
	require.NoError(t, err)

	ordered := fields.Ordered()
	require.NotEmpty(t, ordered)
	assert.Equal(t, "fn", ordered[0].ID)
	assert.Equal(t, ResumeFieldID, ordered[len(ordered)-1].ID)
}

func TestReextractionInvalidatesHandles(t *testing.T) {
	ctx := context.Background()
	p := htmlpage.MustNew(page)
	e := New(p, nil)

	first, err := e.Extract(ctx, "")
	require.NoError(t, err)
	old := first["fn"].Handle
	ref, err := old.Ref()
	require.NoError(t, err)

	second, err := e.Extract(ctx, "")
	require.NoError(t, err)

	_, err = old.Ref()
	assert.ErrorIs(t, err, dom.ErrStale)

	ok, err := p.Exists(ctx, ref)
	require.NoError(t, err)
	assert.False(t, ok, "the page no longer resolves the old stamp")

	fresh, err := second["fn"].Handle.Ref()
	require.NoError(t, err)
	ok, err = p.Exists(ctx, fresh)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExtractIsScopedPerNamespace(t *testing.T) {
	ctx := context.Background()
	p := htmlpage.MustNew(page)
	e := New(p, nil)

	doc, err := e.Extract(ctx, "")
	require.NoError(t, err)
	_, err = e.Extract(ctx, ".modal")
	require.NoError(t, err)

	assert.True(t, doc["fn"].Handle.Valid(), "another scope does not invalidate the document scope")
}

func TestSelectPlaceholderIsNotFilled(t *testing.T) {
	d := FieldDescriptor{Kind: dom.KindSelect, Options: []dom.Option{
		{Value: "Select an option", Label: "Select an option", Selected: true},
		{Value: "Yes", Label: "Yes"},
	}}
	assert.False(t, d.Filled())
	assert.Equal(t, []string{"Yes"}, d.OptionLabels())
}

func TestResumeLookupStaysInScope(t *testing.T) {
	ctx := context.Background()
	p := htmlpage.MustNew(`<html><body>
  <div class="profile"><input type="file" id="jobs-document-upload-9"></div>
  <div class="modal"><label for="fn">First name</label><input id="fn"></div>
</body></html>`)
	e := New(p, nil)

	fields, err := e.Extract(ctx, ".modal")
	require.NoError(t, err)
	assert.NotContains(t, fields, ResumeFieldID)
	assert.Contains(t, fields, "fn")

	fields, err = e.Extract(ctx, "")
	require.NoError(t, err)
	assert.Contains(t, fields, ResumeFieldID)
}

func TestWithinPrefixesEveryAlternative(t *testing.T) {
	assert.Equal(t, "input.a, input.b", within("", "input.a, input.b"))
	assert.Equal(t, ".modal input.a, .modal input.b", within(".modal", "input.a,input.b"))
}
