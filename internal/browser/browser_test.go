package browser

import (
	"context"
	"errors"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/dispatch"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/pagemodel"
)

func TestCallExprEncodesArguments(t *testing.T) {
	expr, err := callExpr("mark", `a[href="x"]`, "data-autoapply-card", uint64(3), true)
	require.NoError(t, err)
	assert.Equal(t,
		`(window.__autoapply || (function(){ throw new Error("autoapply:missing") })()).mark("a[href=\"x\"]", "data-autoapply-card", 3, true)`,
		expr)
}

func TestEvalErrorMapsHelperExceptions(t *testing.T) {
	err := evalError("click", errors.New(`exception "Uncaught" (0:12): Error: autoapply:not_found: #submit`))
	assert.ErrorIs(t, err, dom.ErrNotFound)
	assert.Contains(t, err.Error(), "#submit")

	assert.NoError(t, evalError("click", nil))
	assert.ErrorIs(t, evalError("click", context.DeadlineExceeded), context.DeadlineExceeded)
	assert.NotErrorIs(t, evalError("click", errors.New("boom")), dom.ErrNotFound)

	assert.True(t, isHelperMissing(errors.New("Error: autoapply:missing")))
	assert.False(t, isHelperMissing(nil))
}

func TestHelperScriptIsEmbedded(t *testing.T) {
	assert.Contains(t, helperScript, "window.__autoapply = {")
	for _, fn := range []string{"snapshot", "mark", "controls", "receive", "scrollTo", "selectOption"} {
		assert.Contains(t, helperScript, fn+":")
	}
}

func TestEveryKeyIsMapped(t *testing.T) {
	for _, k := range []dom.Key{dom.KeyArrowDown, dom.KeyEnter} {
		assert.NotEmpty(t, keys[k], k)
	}
}

// TestChromeTab drives a real browser and is skipped unless
// AUTOAPPLY_TEST_CHROME is set.
func TestChromeTab(t *testing.T) {
	if os.Getenv("AUTOAPPLY_TEST_CHROME") == "" {
		t.Skip("AUTOAPPLY_TEST_CHROME not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	b, err := Launch(ctx, Options{Headless: true}, zap.NewNop())
	require.NoError(t, err)
	defer b.Close()

	doc := `<form><label for="fn">First name</label><input id="fn" required>` +
		`<select id="c"><option value="">Select</option><option value="de">Germany</option></select>` +
		`<button type="button">Next</button></form>`
	s, err := b.Open(ctx, "data:text/html,"+url.PathEscape(doc))
	require.NoError(t, err)
	defer s.Close(ctx)

	require.Eventually(t, func() bool {
		ready, err := s.Ready(ctx)
		return err == nil && ready
	}, 10*time.Second, 100*time.Millisecond)

	require.NoError(t, s.Send(ctx, dispatch.Message{Type: dispatch.MessageStart}))

	fields, err := pagemodel.New(s, nil).Extract(ctx, "")
	require.NoError(t, err)
	require.Contains(t, fields, "fn")
	assert.True(t, fields["fn"].Required)

	ref, err := fields["fn"].Handle.Ref()
	require.NoError(t, err)
	require.NoError(t, s.SetValue(ctx, ref, "Sushen"))
	require.NoError(t, s.SelectOption(ctx, "#c", "de"))

	controls, err := s.Controls(ctx, "", dom.Marker{Namespace: "ctl", Generation: 1})
	require.NoError(t, err)
	require.Len(t, controls, 1)
	assert.Equal(t, "Next", controls[0].Text)

	_, err = s.Text(ctx, "#missing")
	assert.ErrorIs(t, err, dom.ErrNotFound)
}
