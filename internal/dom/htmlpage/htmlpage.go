// Package htmlpage implements dom.Page over a static HTML document held in
// memory. Click hooks stand in for the scripts of a live page.
package htmlpage

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"

	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/utils"
)

const (
	interactiveSelector = "input, textarea, select, [contenteditable]"
	controlSelector     = "button, a, [role=button], input[type=submit], input[type=button]"
)

// Hook reacts to a click on an element matching its selector.
type Hook func(p *Page, target *goquery.Selection)

// ScrollHook updates the scroll state after ScrollTo.
type ScrollHook func(p *Page, state dom.ScrollState) dom.ScrollState

// Event is a recorded synthetic event.
type Event struct {
	Selector string
	Name     string
}

type clickHook struct {
	selector string
	fn       Hook
}

// Page is an in-memory dom.Page.
type Page struct {
	mu       sync.Mutex
	doc      *goquery.Document
	url      string
	routes   map[string]string
	hooks    []clickHook
	scrolls  map[string]dom.ScrollState
	onScroll map[string]ScrollHook
	events   []Event
	clicks   []string
	keys     []dom.Key
}

var _ dom.Page = (*Page)(nil)

// New parses html into a page.
func New(html string) (*Page, error) {
	p := &Page{
		routes:   make(map[string]string),
		scrolls:  make(map[string]dom.ScrollState),
		onScroll: make(map[string]ScrollHook),
	}
	if err := p.Load(html); err != nil {
		return nil, err
	}
	return p, nil
}

// MustNew is New for fixtures known to parse.
func MustNew(html string) *Page {
	p, err := New(html)
	if err != nil {
		panic(err)
	}
	return p
}

// Load replaces the document.
func (p *Page) Load(html string) error {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return fmt.Errorf("parse html: %w", err)
	}
	p.doc = doc
	return nil
}

// Doc exposes the document to hooks and tests.
func (p *Page) Doc() *goquery.Document { return p.doc }

// Route registers the document served for url by Navigate.
func (p *Page) Route(url, html string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.routes[url] = html
}

// OnClick registers a hook for clicks on elements matching selector.
func (p *Page) OnClick(selector string, fn Hook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.hooks = append(p.hooks, clickHook{selector: selector, fn: fn})
}

// SetScroll sets the scroll state of a container and the hook run after ScrollTo.
func (p *Page) SetScroll(selector string, state dom.ScrollState, hook ScrollHook) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scrolls[selector] = state
	if hook != nil {
		p.onScroll[selector] = hook
	}
}

// Events returns the synthetic events fired so far.
func (p *Page) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}

// Clicks returns the selectors clicked so far.
func (p *Page) Clicks() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.clicks...)
}

// Keys returns the keys pressed so far.
func (p *Page) Keys() []dom.Key {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]dom.Key(nil), p.keys...)
}

// ValueOf reports the current value of the first element matching selector.
func (p *Page) ValueOf(selector string) string {
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return ""
	}
	return valueOf(sel)
}

// CheckedOf reports whether the first element matching selector is checked.
func (p *Page) CheckedOf(selector string) bool {
	_, ok := p.doc.Find(selector).First().Attr("checked")
	return ok
}

func (p *Page) Navigate(ctx context.Context, url string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	html, ok := p.routes[url]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("navigate %s: %w", url, dom.ErrNotFound)
	}
	if err := p.Load(html); err != nil {
		return err
	}
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()
	return nil
}

// SetLocation changes the reported address without loading a document.
func (p *Page) SetLocation(url string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
}

func (p *Page) Location(ctx context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url, ctx.Err()
}

func (p *Page) HTML(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return goquery.OuterHtml(p.doc.Selection)
}

func (p *Page) Exists(ctx context.Context, selector string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	return p.doc.Find(selector).Length() > 0, nil
}

func (p *Page) Text(ctx context.Context, selector string) (string, error) {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return "", err
	}
	return utils.OneLine(sel.Text()), nil
}

func (p *Page) Attr(ctx context.Context, selector, name string) (string, error) {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return "", err
	}
	v, _ := sel.Attr(name)
	return v, nil
}

func (p *Page) Mark(ctx context.Context, selector string, m dom.Marker) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	p.doc.Find("[" + m.Attr() + "]").RemoveAttr(m.Attr())

	var refs []string
	p.doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
		if !m.IncludeHidden && !visible(s) {
			return
		}
		s.SetAttr(m.Attr(), m.Value(len(refs)))
		refs = append(refs, m.Selector(len(refs)))
	})
	return refs, nil
}

func (p *Page) Controls(ctx context.Context, scope string, m dom.Marker) ([]dom.Control, error) {
	root, err := p.scope(ctx, scope)
	if err != nil {
		return nil, err
	}
	p.doc.Find("[" + m.Attr() + "]").RemoveAttr(m.Attr())

	var controls []dom.Control
	root.Find(controlSelector).Each(func(_ int, s *goquery.Selection) {
		if !visible(s) {
			return
		}
		i := len(controls)
		s.SetAttr(m.Attr(), m.Value(i))
		text := utils.OneLine(s.Text())
		if text == "" {
			text, _ = s.Attr("value")
		}
		label, _ := s.Attr("aria-label")
		_, disabled := s.Attr("disabled")
		controls = append(controls, dom.Control{
			Ref:      m.Selector(i),
			Tag:      goquery.NodeName(s),
			Text:     text,
			Label:    label,
			Disabled: disabled || attrEquals(s, "aria-disabled", "true"),
		})
	})
	return controls, nil
}

func (p *Page) Click(ctx context.Context, selector string) error {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return err
	}

	if goquery.NodeName(sel) == "input" {
		switch strings.ToLower(attr(sel, "type")) {
		case "checkbox":
			toggle(sel)
		case "radio":
			checkRadio(p.doc, sel)
		}
	}

	p.mu.Lock()
	p.clicks = append(p.clicks, selector)
	var matched []Hook
	for _, h := range p.hooks {
		if sel.Is(h.selector) {
			matched = append(matched, h.fn)
		}
	}
	p.mu.Unlock()

	for _, fn := range matched {
		fn(p, sel)
	}
	return nil
}

func (p *Page) SetValue(ctx context.Context, selector, value string) error {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	setValue(sel, value)
	return nil
}

func (p *Page) SetChecked(ctx context.Context, selector string, checked bool) error {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	if checked && strings.EqualFold(attr(sel, "type"), "radio") {
		checkRadio(p.doc, sel)
		return nil
	}
	if checked {
		sel.SetAttr("checked", "checked")
	} else {
		sel.RemoveAttr("checked")
	}
	return nil
}

func (p *Page) SelectOption(ctx context.Context, selector, value string) error {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	var target *goquery.Selection
	sel.Find("option").EachWithBreak(func(_ int, o *goquery.Selection) bool {
		if optionValue(o) == value {
			target = o
			return false
		}
		return true
	})
	if target == nil {
		return fmt.Errorf("option %q in %s: %w", value, selector, dom.ErrNotFound)
	}
	sel.Find("option").RemoveAttr("selected")
	target.SetAttr("selected", "selected")
	return nil
}

func (p *Page) SetFiles(ctx context.Context, selector string, paths ...string) error {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	sel.SetAttr("data-files", strings.Join(paths, ","))
	return nil
}

func (p *Page) Fire(ctx context.Context, selector string, events ...string) error {
	if _, err := p.first(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, name := range events {
		p.events = append(p.events, Event{Selector: selector, Name: name})
	}
	return nil
}

func (p *Page) Type(ctx context.Context, selector, text string) error {
	sel, err := p.first(ctx, selector)
	if err != nil {
		return err
	}
	setValue(sel, valueOf(sel)+text)
	return nil
}

func (p *Page) Press(ctx context.Context, selector string, key dom.Key) error {
	if _, err := p.first(ctx, selector); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.keys = append(p.keys, key)
	return nil
}

func (p *Page) Scroll(ctx context.Context, selector string) (dom.ScrollState, error) {
	if err := ctx.Err(); err != nil {
		return dom.ScrollState{}, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	state, ok := p.scrolls[selector]
	if !ok {
		return dom.ScrollState{}, fmt.Errorf("scroll %s: %w", selector, dom.ErrNotFound)
	}
	return state, nil
}

func (p *Page) ScrollTo(ctx context.Context, selector string, top float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	state, ok := p.scrolls[selector]
	hook := p.onScroll[selector]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("scroll %s: %w", selector, dom.ErrNotFound)
	}

	limit := state.Height - state.Client
	if top > limit {
		top = limit
	}
	if top < 0 {
		top = 0
	}
	state.Top = top
	if hook != nil {
		state = hook(p, state)
	}

	p.mu.Lock()
	p.scrolls[selector] = state
	p.mu.Unlock()
	return nil
}

func (p *Page) first(ctx context.Context, selector string) (*goquery.Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	sel := p.doc.Find(selector).First()
	if sel.Length() == 0 {
		return nil, fmt.Errorf("%s: %w", selector, dom.ErrNotFound)
	}
	return sel, nil
}

func (p *Page) scope(ctx context.Context, scope string) (*goquery.Selection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if scope == "" {
		return p.doc.Selection, nil
	}
	root := p.doc.Find(scope).First()
	if root.Length() == 0 {
		return nil, fmt.Errorf("scope %s: %w", scope, dom.ErrNotFound)
	}
	return root, nil
}
