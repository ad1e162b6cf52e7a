// Package pagemodel turns the interactive elements of a page into field
// descriptors. Each extraction invalidates the descriptors previously returned
// for the same scope.
package pagemodel

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/spigell/autoapply/internal/dom"
)

// ResumeFieldID is the fixed identifier of the resume upload input.
const ResumeFieldID = "resume"

// DefaultResumeSelectors locate the resume upload input when the site adapter
// has none.
var DefaultResumeSelectors = []string{
	`input[type="file"][id*="jobs-document-upload"]`,
	`input[type="file"][name*="resume"]`,
	`input[type="file"][aria-label*="Upload resume"]`,
	`input[type="file"][id*="resume"]`,
}

var requiredMark = regexp.MustCompile(`\*\s*$|\(\s*required\s*\)|\brequired\b`)

// FieldDescriptor describes one interactive field. Radio buttons of a group are
// folded into a single descriptor whose Options list the members.
type FieldDescriptor struct {
	ID          string
	Kind        dom.Kind
	Name        string
	Label       string
	Placeholder string
	Value       string
	Checked     bool
	Required    bool
	Options     []dom.Option
	// Index is the document position of the field within its extraction.
	Index  int
	Handle Handle
}

// Filled reports whether the field already carries an answer.
func (f FieldDescriptor) Filled() bool {
	switch f.Kind {
	case dom.KindCheckbox:
		return f.Checked
	case dom.KindRadio:
		for _, o := range f.Options {
			if o.Selected {
				return true
			}
		}
		return false
	case dom.KindSelect:
		for _, o := range f.Options {
			if o.Selected && strings.TrimSpace(o.Value) != "" {
				return !placeholderOption(o)
			}
		}
		return false
	case dom.KindFile:
		return false
	}
	return strings.TrimSpace(f.Value) != ""
}

// OptionLabels returns the visible labels of the options.
func (f FieldDescriptor) OptionLabels() []string {
	labels := make([]string, 0, len(f.Options))
	for _, o := range f.Options {
		if placeholderOption(o) {
			continue
		}
		labels = append(labels, o.Label)
	}
	return labels
}

func placeholderOption(o dom.Option) bool {
	if strings.TrimSpace(o.Value) == "" {
		return true
	}
	l := strings.ToLower(o.Label)
	return strings.HasPrefix(l, "select an option") || l == "select" || l == "choose"
}

// Fields maps field identifiers to descriptors.
type Fields map[string]FieldDescriptor

// Ordered returns the descriptors in document order.
func (f Fields) Ordered() []FieldDescriptor {
	out := make([]FieldDescriptor, 0, len(f))
	for _, d := range f {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

type scopeState struct {
	mu        sync.Mutex
	namespace string
	gen       uint64
}

func (s *scopeState) current() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

func (s *scopeState) next() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gen++
	return s.gen
}

// Handle is the only way to reach the live element of a descriptor.
type Handle struct {
	scope   *scopeState
	gen     uint64
	ref     string
	options []string
}

// Valid reports whether the handle belongs to the latest extraction of its scope.
func (h Handle) Valid() bool {
	return h.scope != nil && h.scope.current() == h.gen
}

// Ref resolves the element selector or fails with dom.ErrStale.
func (h Handle) Ref() (string, error) {
	if !h.Valid() {
		return "", dom.ErrStale
	}
	return h.ref, nil
}

// OptionRef resolves the selector of the i-th radio option.
func (h Handle) OptionRef(i int) (string, error) {
	if !h.Valid() {
		return "", dom.ErrStale
	}
	if i < 0 || i >= len(h.options) {
		return "", fmt.Errorf("option %d: %w", i, dom.ErrNotFound)
	}
	return h.options[i], nil
}

// Extractor scans pages for fields.
type Extractor struct {
	page            dom.Page
	resumeSelectors []string

	mu     sync.Mutex
	scopes map[string]*scopeState
}

// New returns an extractor for page. Empty resumeSelectors use the defaults.
func New(page dom.Page, resumeSelectors []string) *Extractor {
	if len(resumeSelectors) == 0 {
		resumeSelectors = DefaultResumeSelectors
	}
	return &Extractor{
		page:            page,
		resumeSelectors: resumeSelectors,
		scopes:          make(map[string]*scopeState),
	}
}

// Page returns the page the extractor reads.
func (e *Extractor) Page() dom.Page { return e.page }

func (e *Extractor) state(scope string) *scopeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.scopes[scope]
	if !ok {
		st = &scopeState{namespace: "f" + strconv.Itoa(len(e.scopes))}
		e.scopes[scope] = st
	}
	return st
}

// Extract returns every visible interactive field below scope. An empty scope
// means the whole document.
func (e *Extractor) Extract(ctx context.Context, scope string) (Fields, error) {
	st := e.state(scope)
	gen := st.next()

	nodes, err := e.page.Snapshot(ctx, scope, dom.Marker{Namespace: st.namespace, Generation: gen})
	if err != nil {
		return nil, fmt.Errorf("snapshot %q: %w", scope, err)
	}

	fields := make(Fields, len(nodes)+1)
	groups := make(map[string]string)
	seen := make(map[string]int)

	for i, n := range nodes {
		if n.Kind == dom.KindRadio {
			if id, ok := groups[n.Group]; ok {
				d := fields[id]
				d.Options = append(d.Options, radioOption(n))
				d.Handle.options = append(d.Handle.options, n.Ref)
				d.Required = d.Required || n.Required
				fields[id] = d
				continue
			}
		}

		d := FieldDescriptor{
			Kind:        n.Kind,
			Name:        n.Name,
			Label:       n.Label,
			Placeholder: n.Placeholder,
			Value:       n.Value,
			Checked:     n.Checked,
			Options:     n.Options,
			Index:       i,
			Handle:      Handle{scope: st, gen: gen, ref: n.Ref},
		}

		base := n.ID
		if n.Kind == dom.KindRadio {
			d.Label = n.GroupLabel
			if d.Label == "" {
				d.Label = n.Name
			}
			d.Options = []dom.Option{radioOption(n)}
			d.Handle.options = []string{n.Ref}
			base = "group:" + strings.TrimPrefix(strings.TrimPrefix(n.Group, "fieldset:"), "name:")
		}
		if base == "" {
			base = n.Name
		}
		if base == "" {
			base = fmt.Sprintf("%s-%d", n.Kind, i)
		}
		d.ID = unique(base, seen)
		d.Required = n.Required || requiredByText(d.Label, d.Placeholder)

		if n.Kind == dom.KindRadio {
			groups[n.Group] = d.ID
		}
		fields[d.ID] = d
	}

	resume, err := e.findResume(ctx, scope, st, gen, len(nodes))
	if err != nil {
		return nil, err
	}
	if resume != nil {
		for id, d := range fields {
			if d.Kind == dom.KindFile && resumeLike(d) {
				delete(fields, id)
			}
		}
		fields[ResumeFieldID] = *resume
	}

	return fields, nil
}

func (e *Extractor) findResume(ctx context.Context, scope string, st *scopeState, gen uint64, index int) (*FieldDescriptor, error) {
	marker := dom.Marker{Namespace: st.namespace + "r", Generation: gen, IncludeHidden: true}
	for _, sel := range e.resumeSelectors {
		refs, err := e.page.Mark(ctx, within(scope, sel), marker)
		if err != nil {
			return nil, fmt.Errorf("resume lookup %q: %w", sel, err)
		}
		if len(refs) == 0 {
			continue
		}
		return &FieldDescriptor{
			ID:     ResumeFieldID,
			Kind:   dom.KindFile,
			Label:  "Resume",
			Index:  index,
			Handle: Handle{scope: st, gen: gen, ref: refs[0]},
		}, nil
	}
	return nil, nil
}

// within limits every alternative of sel to descendants of scope.
func within(scope, sel string) string {
	if strings.TrimSpace(scope) == "" {
		return sel
	}
	parts := strings.Split(sel, ",")
	for i, p := range parts {
		parts[i] = scope + " " + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func radioOption(n dom.Node) dom.Option {
	label := n.Label
	if label == "" {
		label = n.Value
	}
	return dom.Option{Value: n.Value, Label: label, Selected: n.Checked}
}

func unique(base string, seen map[string]int) string {
	seen[base]++
	if seen[base] == 1 {
		return base
	}
	return fmt.Sprintf("%s#%d", base, seen[base])
}

func requiredByText(label, placeholder string) bool {
	if requiredMark.MatchString(strings.ToLower(strings.TrimSpace(label))) {
		return true
	}
	return strings.Contains(strings.ToLower(placeholder), "required")
}

func resumeLike(d FieldDescriptor) bool {
	text := strings.ToLower(d.ID + " " + d.Name + " " + d.Label)
	return strings.Contains(text, "resume") || strings.Contains(text, "cv") || strings.Contains(text, "document-upload")
}
