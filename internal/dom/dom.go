// Package dom describes the operations the automation needs from a live page.
// Elements are addressed by CSS selectors. Snapshots stamp the elements they
// return with a generation marker, so a selector taken from an older snapshot
// stops resolving once the same namespace is stamped again.
package dom

import (
	"context"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a selector matches no element.
	ErrNotFound = errors.New("element not found")
	// ErrStale is returned when a handle belongs to an older snapshot.
	ErrStale = errors.New("element handle is stale")
	// ErrNotReady is returned when the page cannot receive a message yet.
	ErrNotReady = errors.New("page is not ready")
)

// Kind is the interactive element kind.
type Kind string

const (
	KindText     Kind = "text"
	KindTextarea Kind = "textarea"
	KindSelect   Kind = "select"
	KindRadio    Kind = "radio"
	KindCheckbox Kind = "checkbox"
	KindFile     Kind = "file"
	KindEditable Kind = "contenteditable"
)

// Option is one choice of a select element or radio group.
type Option struct {
	Value    string `json:"value"`
	Label    string `json:"label"`
	Selected bool   `json:"selected"`
}

// Node is a raw snapshot of one visible interactive element.
type Node struct {
	Ref         string   `json:"ref"`
	Kind        Kind     `json:"kind"`
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	InputType   string   `json:"inputType"`
	Label       string   `json:"label"`
	Placeholder string   `json:"placeholder"`
	Value       string   `json:"value"`
	Required    bool     `json:"required"`
	Checked     bool     `json:"checked"`
	Options     []Option `json:"options"`
	// Group identifies the radio group (enclosing fieldset or name).
	Group string `json:"group"`
	// GroupLabel is the legend or label of the radio group.
	GroupLabel string `json:"groupLabel"`
}

// Control is a visible clickable element.
type Control struct {
	Ref      string `json:"ref"`
	Tag      string `json:"tag"`
	Text     string `json:"text"`
	Label    string `json:"label"`
	Disabled bool   `json:"disabled"`
}

// ScrollState is the scroll geometry of a container.
type ScrollState struct {
	Top    float64 `json:"top"`
	Height float64 `json:"height"`
	Client float64 `json:"client"`
}

// Key is a keyboard key understood by Press.
type Key string

const (
	KeyArrowDown Key = "ArrowDown"
	KeyEnter     Key = "Enter"
)

// Marker stamps elements found by Snapshot and Mark.
type Marker struct {
	Namespace  string
	Generation uint64
	// IncludeHidden keeps invisible elements in Mark results.
	IncludeHidden bool
}

// Attr is the data attribute that carries the stamp.
func (m Marker) Attr() string {
	return "data-autoapply-" + m.Namespace
}

// Value is the stamp of the i-th element.
func (m Marker) Value(i int) string {
	return fmt.Sprintf("%d-%d", m.Generation, i)
}

// Selector resolves the i-th stamped element.
func (m Marker) Selector(i int) string {
	return fmt.Sprintf(`[%s="%s"]`, m.Attr(), m.Value(i))
}

// Page is one browser surface. Every call observes the current document.
type Page interface {
	Navigate(ctx context.Context, url string) error
	Location(ctx context.Context) (string, error)
	// HTML returns the outer HTML of the document.
	HTML(ctx context.Context) (string, error)

	// Snapshot stamps and describes every visible interactive element below
	// scope (the whole document when scope is empty). Previous stamps of the
	// same namespace are removed first.
	Snapshot(ctx context.Context, scope string, m Marker) ([]Node, error)
	// Mark stamps every element matching selector and returns their refs.
	Mark(ctx context.Context, selector string, m Marker) ([]string, error)

	Exists(ctx context.Context, selector string) (bool, error)
	Text(ctx context.Context, selector string) (string, error)
	Attr(ctx context.Context, selector, name string) (string, error)
	// Controls stamps and describes visible buttons, links and role=button
	// elements below scope.
	Controls(ctx context.Context, scope string, m Marker) ([]Control, error)

	Click(ctx context.Context, selector string) error
	SetValue(ctx context.Context, selector, value string) error
	SetChecked(ctx context.Context, selector string, checked bool) error
	SelectOption(ctx context.Context, selector, value string) error
	SetFiles(ctx context.Context, selector string, paths ...string) error
	Fire(ctx context.Context, selector string, events ...string) error
	Type(ctx context.Context, selector, text string) error
	Press(ctx context.Context, selector string, key Key) error

	Scroll(ctx context.Context, selector string) (ScrollState, error)
	ScrollTo(ctx context.Context, selector string, top float64) error
}

// FirstText returns the text of the first selector that matches.
func FirstText(ctx context.Context, p Page, selectors ...string) (string, error) {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		text, err := p.Text(ctx, sel)
		if err == nil {
			return text, nil
		}
		if !errors.Is(err, ErrNotFound) {
			return "", err
		}
	}
	return "", ErrNotFound
}

// FirstExisting returns the first selector that matches an element.
func FirstExisting(ctx context.Context, p Page, selectors ...string) (string, error) {
	for _, sel := range selectors {
		if sel == "" {
			continue
		}
		ok, err := p.Exists(ctx, sel)
		if err != nil {
			return "", err
		}
		if ok {
			return sel, nil
		}
	}
	return "", ErrNotFound
}
