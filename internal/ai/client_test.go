package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/automation"
)

type stubGenerator struct {
	responses []string
	err       error
	prompts   []string
}

func (s *stubGenerator) Generate(_ context.Context, prompt string) (Completion, error) {
	s.prompts = append(s.prompts, prompt)
	if s.err != nil {
		return Completion{}, s.err
	}
	if len(s.responses) == 0 {
		return Completion{}, errors.New("unexpected call")
	}
	text := s.responses[0]
	s.responses = s.responses[1:]
	return Completion{Text: text, Tokens: 10}, nil
}

func (s *stubGenerator) Model() string { return "stub-model" }

func fieldQuery(label string) Query {
	return Query{Kind: FieldValue, Field: &FieldContext{
		Category: "free_text",
		Kind:     "text",
		Label:    label,
		Options:  []string{"Yes", "No"},
		Section:  "Additional questions",
	}}
}

func TestClassifyFieldValueUsesLastLine(t *testing.T) {
	gen := &stubGenerator{responses: []string{"Sure, here is the value:\n\n\"5\"\n```"}}
	c := NewClient(gen, zap.NewNop(), Options{Profile: "{\"fullName\":\"Sushen Oli\"}", ResumeText: "Go developer"})

	answer, err := c.Classify(context.Background(), fieldQuery("Years of Go"))
	require.NoError(t, err)
	assert.Equal(t, "5", answer.Value)
	assert.Equal(t, 10, answer.Tokens)

	prompt := gen.prompts[0]
	assert.Contains(t, prompt, "- Label: Years of Go")
	assert.Contains(t, prompt, "- Options: Yes, No")
	assert.Contains(t, prompt, `Current section: "Additional questions"`)
	assert.Contains(t, prompt, "Sushen Oli")
	assert.NotContains(t, prompt, "{{")
}

func TestClassifyControlTokens(t *testing.T) {
	cases := map[string]func(t *testing.T, a Answer){
		"SKIP":              func(t *testing.T, a Answer) { assert.True(t, a.Skip) },
		"n/a":               func(t *testing.T, a Answer) { assert.True(t, a.Skip) },
		"UPLOAD_RESUME":     func(t *testing.T, a Answer) { assert.True(t, a.Upload) },
		"YES|UPLOAD_RESUME": func(t *testing.T, a Answer) { assert.True(t, a.Upload) },
		"YES|Kathmandu":     func(t *testing.T, a Answer) { assert.Equal(t, "Kathmandu", a.Value) },
	}
	for raw, check := range cases {
		t.Run(raw, func(t *testing.T) {
			c := NewClient(&stubGenerator{responses: []string{raw}}, nil, Options{})
			answer, err := c.Classify(context.Background(), fieldQuery("x"))
			require.NoError(t, err)
			check(t, answer)
		})
	}
}

func TestClassifyDecision(t *testing.T) {
	cases := map[string]Verdict{
		"YES":                     Yes,
		"Reasoning...\nno.":       No,
		"It depends on the role.": Ambiguous,
	}
	for raw, want := range cases {
		c := NewClient(&stubGenerator{responses: []string{raw}}, nil, Options{})
		answer, err := c.Classify(context.Background(), Query{Kind: Decision, Question: "Is this a form?"})
		require.NoError(t, err)
		assert.Equal(t, want, answer.Verdict, raw)
	}
}

func TestClassifyChoice(t *testing.T) {
	q := Query{Kind: Choice, Question: "Which button submits?", Candidates: []string{"Cancel", "Submit", "Back"}}

	gen := &stubGenerator{responses: []string{
		"Option 0 looks like a cancel link, so the submit control is:\n1",
		"NONE",
		"7",
		"2\nOn second thought it is the first one:\n0",
	}}
	c := NewClient(gen, nil, Options{})

	answer, err := c.Classify(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 1, answer.Index)
	assert.Contains(t, gen.prompts[0], "1: Submit")

	answer, err = c.Classify(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, NoChoice, answer.Index)

	answer, err = c.Classify(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, NoChoice, answer.Index)

	answer, err = c.Classify(context.Background(), q)
	require.NoError(t, err)
	assert.Equal(t, 0, answer.Index)
}

func TestParseChoiceReadsFinalLine(t *testing.T) {
	answer, err := parseChoice("Option 1 looks like a cancel link, so the submit control is:\n2", 3)
	require.NoError(t, err)
	assert.Equal(t, 2, answer.Index)

	answer, err = parseChoice("Nothing here submits the form.\nNONE", 3)
	require.NoError(t, err)
	assert.Equal(t, NoChoice, answer.Index)

	_, err = parseChoice("2\nI am not sure.", 3)
	assert.Error(t, err)
}

func TestClassifyFailuresAreOracleUnavailable(t *testing.T) {
	c := NewClient(&stubGenerator{err: errors.New("boom")}, nil, Options{})
	_, err := c.Classify(context.Background(), fieldQuery("x"))
	require.Error(t, err)
	assert.ErrorIs(t, err, automation.ErrOracleUnavailable)

	c = NewClient(&stubGenerator{responses: []string{"  \n```\n"}}, nil, Options{})
	_, err = c.Classify(context.Background(), fieldQuery("x"))
	assert.ErrorIs(t, err, automation.ErrOracleUnavailable)

	var nilClient *Client
	_, err = nilClient.Classify(context.Background(), fieldQuery("x"))
	assert.ErrorIs(t, err, automation.ErrOracleUnavailable)
}

func TestClassifyRejectsIncompleteQueries(t *testing.T) {
	c := NewClient(&stubGenerator{}, nil, Options{})
	_, err := c.Classify(context.Background(), Query{Kind: FieldValue})
	assert.Error(t, err)
	_, err = c.Classify(context.Background(), Query{Kind: Choice})
	assert.Error(t, err)
}

func TestRateLimiterHonoursContext(t *testing.T) {
	gen := &stubGenerator{responses: []string{"a", "b"}}
	c := NewClient(gen, nil, Options{RequestsPerMinute: 1})

	_, err := c.Classify(context.Background(), fieldQuery("x"))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = c.Classify(ctx, fieldQuery("x"))
	assert.ErrorIs(t, err, automation.ErrOracleUnavailable)
	assert.Len(t, gen.prompts, 1)
}

func TestCachedMemoisesFieldValues(t *testing.T) {
	gen := &stubGenerator{responses: []string{"Yes", "YES", "NO"}}
	c := NewCached(NewClient(gen, nil, Options{}), time.Minute)

	first, err := c.Classify(context.Background(), fieldQuery("Authorized?"))
	require.NoError(t, err)
	second, err := c.Classify(context.Background(), fieldQuery("Authorized?"))
	require.NoError(t, err)
	assert.Equal(t, first.Value, second.Value)
	assert.Equal(t, 0, second.Tokens)
	assert.Len(t, gen.prompts, 1)

	for i := 0; i < 2; i++ {
		_, err := c.Classify(context.Background(), Query{Kind: Decision, Question: "Is this a form?"})
		require.NoError(t, err)
	}
	assert.Len(t, gen.prompts, 3)
	assert.True(t, strings.Contains(gen.prompts[2], "Is this a form?"))
}

func TestRenderDoesNotExpandValues(t *testing.T) {
	out := render("{{A}} and {{B}}", map[string]string{"A": "{{B}}", "B": "{{A}}"})
	assert.Equal(t, "{{B}} and {{A}}", out)
}
