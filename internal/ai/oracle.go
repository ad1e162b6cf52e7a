// Package ai asks a text-completion provider for field values and binary or
// multiple-choice decisions about page elements.
package ai

import (
	"context"
	"strings"
)

// QueryKind selects the prompt and the answer shape.
type QueryKind int

const (
	// FieldValue asks for the value to enter into a form field.
	FieldValue QueryKind = iota
	// Decision asks a yes/no question.
	Decision
	// Choice asks to pick one of the candidates.
	Choice
)

func (k QueryKind) String() string {
	switch k {
	case FieldValue:
		return "field_value"
	case Decision:
		return "decision"
	case Choice:
		return "choice"
	}
	return "unknown"
}

// Verdict is the outcome of a Decision query.
type Verdict int

const (
	Ambiguous Verdict = iota
	Yes
	No
)

func (v Verdict) String() string {
	switch v {
	case Yes:
		return "yes"
	case No:
		return "no"
	}
	return "ambiguous"
}

// FieldContext describes the field a FieldValue query is about.
type FieldContext struct {
	Category    string
	Kind        string
	Label       string
	Placeholder string
	Options     []string
	Required    bool
	Section     string
}

// Query is one question for the oracle.
type Query struct {
	Kind  QueryKind
	Field *FieldContext
	// Question is the Decision or Choice prompt body.
	Question   string
	Candidates []string
	// Context is extra free text such as a job description.
	Context string
}

// NoChoice is the Answer index when no candidate fits.
const NoChoice = -1

// Answer is the cleaned response of the oracle.
type Answer struct {
	Value    string
	Verdict  Verdict
	Index    int
	Skip     bool
	Upload   bool
	Tokens   int
	Raw      string
	Provider string
}

// Oracle answers queries. Errors wrap automation.ErrOracleUnavailable.
type Oracle interface {
	Classify(ctx context.Context, q Query) (Answer, error)
}

// Completion is the raw text returned by a Generator.
type Completion struct {
	Text   string
	Tokens int
}

// Generator sends a single prompt to a provider.
type Generator interface {
	Generate(ctx context.Context, prompt string) (Completion, error)
	Model() string
}

func (f *FieldContext) optionList() string {
	if f == nil || len(f.Options) == 0 {
		return "N/A"
	}
	return strings.Join(f.Options, ", ")
}
