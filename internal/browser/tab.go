package browser

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/chromedp/chromedp"
	"github.com/chromedp/chromedp/kb"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/dispatch"
	"github.com/spigell/autoapply/internal/dom"
)

// Tab is one Chrome target.
type Tab struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *zap.Logger
	id     string
}

var _ dispatch.Surface = (*Tab)(nil)

func newTab(ctx context.Context, cancel context.CancelFunc, logger *zap.Logger) *Tab {
	return &Tab{ctx: ctx, cancel: cancel, logger: logger}
}

// ID is the DevTools target ID once the tab is attached.
func (t *Tab) ID() string {
	if t.id != "" {
		return t.id
	}
	if c := chromedp.FromContext(t.ctx); c != nil && c.Target != nil {
		t.id = string(c.Target.TargetID)
		return t.id
	}
	return "pending-" + uuid.NewString()
}

// run executes actions on the tab, bounded by the caller's context.
func (t *Tab) run(ctx context.Context, actions ...chromedp.Action) error {
	rctx, cancel := context.WithCancel(t.ctx)
	defer cancel()
	if deadline, ok := ctx.Deadline(); ok {
		var cancelDeadline context.CancelFunc
		rctx, cancelDeadline = context.WithDeadline(rctx, deadline)
		defer cancelDeadline()
	}
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	err := chromedp.Run(rctx, actions...)
	if err != nil && ctx.Err() != nil {
		return ctx.Err()
	}
	return err
}

// call invokes a helper function. A document without the helper gets it
// injected once before the call is repeated.
func (t *Tab) call(ctx context.Context, res any, fn string, args ...any) error {
	expr, err := callExpr(fn, args...)
	if err != nil {
		return err
	}
	err = t.run(ctx, chromedp.Evaluate(expr, res))
	if isHelperMissing(err) {
		t.logger.Debug("helper missing, injecting", zap.String("tab", t.ID()))
		if err := t.Inject(ctx); err != nil {
			return err
		}
		err = t.run(ctx, chromedp.Evaluate(expr, res))
	}
	return evalError(fn, err)
}

func callExpr(fn string, args ...any) (string, error) {
	encoded := make([]string, len(args))
	for i, a := range args {
		b, err := json.Marshal(a)
		if err != nil {
			return "", fmt.Errorf("encode argument %d of %s: %w", i, fn, err)
		}
		encoded[i] = string(b)
	}
	return fmt.Sprintf(`(window.__autoapply || (function(){ throw new Error("autoapply:missing") })()).%s(%s)`,
		fn, strings.Join(encoded, ", ")), nil
}

func isHelperMissing(err error) bool {
	return err != nil && strings.Contains(err.Error(), "autoapply:missing")
}

// evalError maps helper exceptions onto the dom errors.
func evalError(fn string, err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if i := strings.Index(msg, "autoapply:not_found: "); i >= 0 {
		return fmt.Errorf("%s %s: %w", fn, strings.TrimSpace(msg[i+len("autoapply:not_found: "):]), dom.ErrNotFound)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return fmt.Errorf("%s: %w", fn, err)
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}

func (t *Tab) Ready(ctx context.Context) (bool, error) {
	var state string
	if err := t.run(ctx, chromedp.Evaluate("document.readyState", &state)); err != nil {
		return false, err
	}
	return state == "complete", nil
}

func (t *Tab) Inject(ctx context.Context) error {
	if err := t.run(ctx, installHelper()); err != nil {
		return fmt.Errorf("inject helper: %w", err)
	}
	return nil
}

func (t *Tab) Send(ctx context.Context, msg dispatch.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	var accepted bool
	expr := fmt.Sprintf("window.__autoapply ? window.__autoapply.receive(%s) : false", b)
	if err := t.run(ctx, chromedp.Evaluate(expr, &accepted)); err != nil {
		return fmt.Errorf("send %s: %w", msg.Type, err)
	}
	if !accepted {
		return fmt.Errorf("send %s: %w", msg.Type, dom.ErrNotReady)
	}
	return nil
}

// Close closes tabs opened by Browser.Open. The main tab stays open.
func (t *Tab) Close(ctx context.Context) error {
	if t.cancel != nil {
		t.cancel()
	}
	return ctx.Err()
}

func (t *Tab) Navigate(ctx context.Context, url string) error {
	if err := t.run(ctx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("navigate %s: %w", url, err)
	}
	return nil
}

func (t *Tab) Location(ctx context.Context) (string, error) {
	var loc string
	err := t.run(ctx, chromedp.Location(&loc))
	return loc, err
}

func (t *Tab) HTML(ctx context.Context) (string, error) {
	var html string
	err := t.run(ctx, chromedp.OuterHTML("html", &html, chromedp.ByQuery))
	return html, err
}

func (t *Tab) Snapshot(ctx context.Context, scope string, m dom.Marker) ([]dom.Node, error) {
	var nodes []dom.Node
	if err := t.call(ctx, &nodes, "snapshot", scope, m.Attr(), m.Generation); err != nil {
		return nil, err
	}
	for i := range nodes {
		nodes[i].Ref = m.Selector(i)
	}
	return nodes, nil
}

func (t *Tab) Mark(ctx context.Context, selector string, m dom.Marker) ([]string, error) {
	var count int
	if err := t.call(ctx, &count, "mark", selector, m.Attr(), m.Generation, m.IncludeHidden); err != nil {
		return nil, err
	}
	refs := make([]string, count)
	for i := range refs {
		refs[i] = m.Selector(i)
	}
	return refs, nil
}

func (t *Tab) Exists(ctx context.Context, selector string) (bool, error) {
	var ok bool
	err := t.call(ctx, &ok, "exists", selector)
	return ok, err
}

func (t *Tab) Text(ctx context.Context, selector string) (string, error) {
	var text string
	err := t.call(ctx, &text, "text", selector)
	return text, err
}

func (t *Tab) Attr(ctx context.Context, selector, name string) (string, error) {
	var value string
	err := t.call(ctx, &value, "attr", selector, name)
	return value, err
}

func (t *Tab) Controls(ctx context.Context, scope string, m dom.Marker) ([]dom.Control, error) {
	var controls []dom.Control
	if err := t.call(ctx, &controls, "controls", scope, m.Attr(), m.Generation); err != nil {
		return nil, err
	}
	for i := range controls {
		controls[i].Ref = m.Selector(i)
	}
	return controls, nil
}

func (t *Tab) Click(ctx context.Context, selector string) error {
	var ok bool
	return t.call(ctx, &ok, "click", selector)
}

func (t *Tab) SetValue(ctx context.Context, selector, value string) error {
	var ok bool
	return t.call(ctx, &ok, "setValue", selector, value)
}

func (t *Tab) SetChecked(ctx context.Context, selector string, checked bool) error {
	var ok bool
	return t.call(ctx, &ok, "setChecked", selector, checked)
}

func (t *Tab) SelectOption(ctx context.Context, selector, value string) error {
	var ok bool
	return t.call(ctx, &ok, "selectOption", selector, value)
}

func (t *Tab) SetFiles(ctx context.Context, selector string, paths ...string) error {
	if err := t.require(ctx, selector); err != nil {
		return err
	}
	return t.run(ctx, chromedp.SetUploadFiles(selector, paths, chromedp.ByQuery))
}

func (t *Tab) Fire(ctx context.Context, selector string, events ...string) error {
	var ok bool
	return t.call(ctx, &ok, "fire", selector, events)
}

func (t *Tab) Type(ctx context.Context, selector, text string) error {
	if err := t.require(ctx, selector); err != nil {
		return err
	}
	return t.run(ctx, chromedp.SendKeys(selector, text, chromedp.ByQuery))
}

var keys = map[dom.Key]string{
	dom.KeyArrowDown: kb.ArrowDown,
	dom.KeyEnter:     kb.Enter,
}

func (t *Tab) Press(ctx context.Context, selector string, key dom.Key) error {
	k, ok := keys[key]
	if !ok {
		return fmt.Errorf("unsupported key %q", key)
	}
	if err := t.require(ctx, selector); err != nil {
		return err
	}
	return t.run(ctx, chromedp.SendKeys(selector, k, chromedp.ByQuery))
}

func (t *Tab) Scroll(ctx context.Context, selector string) (dom.ScrollState, error) {
	var state dom.ScrollState
	err := t.call(ctx, &state, "scroll", selector)
	return state, err
}

func (t *Tab) ScrollTo(ctx context.Context, selector string, top float64) error {
	var ok bool
	return t.call(ctx, &ok, "scrollTo", selector, top)
}

// require fails fast for selectors that chromedp queries would wait on.
func (t *Tab) require(ctx context.Context, selector string) error {
	ok, err := t.Exists(ctx, selector)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%s: %w", selector, dom.ErrNotFound)
	}
	return nil
}
