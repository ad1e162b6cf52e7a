package ai

import (
	_ "embed"

	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/spigell/autoapply/internal/automation"
	"github.com/spigell/autoapply/internal/utils"
)

//go:embed prompts/field.md
var fieldTemplate string

//go:embed prompts/decision.md
var decisionTemplate string

//go:embed prompts/choice.md
var choiceTemplate string

const defaultMaxLogLength = 200

var errMalformed = errors.New("malformed oracle response")

// Options configure a Client.
type Options struct {
	Provider string
	// Profile is the applicant profile rendered for prompts.
	Profile    string
	ResumeText string
	// RequestsPerMinute throttles the provider. Zero disables throttling.
	RequestsPerMinute int
	MaxLogLength      int
}

// Client is the Oracle backed by a Generator.
type Client struct {
	generator Generator
	limiter   *rate.Limiter
	logger    *zap.Logger
	provider  string
	profile   string
	resume    string
	maxLogLen int
}

// NewClient returns an Oracle that sends one prompt per query to generator.
func NewClient(generator Generator, logger *zap.Logger, opts Options) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.MaxLogLength <= 0 {
		opts.MaxLogLength = defaultMaxLogLength
	}

	limiter := rate.NewLimiter(rate.Inf, 1)
	if opts.RequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RequestsPerMinute)), 1)
	}

	return &Client{
		generator: generator,
		limiter:   limiter,
		logger:    logger,
		provider:  opts.Provider,
		profile:   opts.Profile,
		resume:    opts.ResumeText,
		maxLogLen: opts.MaxLogLength,
	}
}

// Classify renders q into a prompt and parses the provider response. Transport
// failures and responses without a usable line are reported as
// automation.ErrOracleUnavailable.
func (c *Client) Classify(ctx context.Context, q Query) (Answer, error) {
	if c == nil || c.generator == nil {
		return Answer{}, automation.E(automation.KindOracleUnavailable, "oracle", nil)
	}

	prompt, err := c.prompt(q)
	if err != nil {
		return Answer{}, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return Answer{}, automation.E(automation.KindOracleUnavailable, "oracle rate limit", err)
	}

	c.logger.Debug("oracle request",
		zap.Stringer("kind", q.Kind),
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, c.maxLogLen)),
	)

	completion, err := c.generator.Generate(ctx, prompt)
	if err != nil {
		return Answer{}, automation.E(automation.KindOracleUnavailable, "oracle generate", err)
	}

	c.logger.Debug("oracle response",
		zap.Stringer("kind", q.Kind),
		zap.Int("tokens", completion.Tokens),
		zap.String("response_preview", utils.TruncateForLog(completion.Text, c.maxLogLen)),
	)

	answer, err := parse(q, completion.Text)
	answer.Tokens = completion.Tokens
	answer.Raw = completion.Text
	answer.Provider = c.provider
	if err != nil {
		return answer, automation.E(automation.KindOracleUnavailable, "oracle parse", err)
	}
	return answer, nil
}

func (c *Client) prompt(q Query) (string, error) {
	switch q.Kind {
	case FieldValue:
		if q.Field == nil {
			return "", errors.New("field value query without field")
		}
		return render(fieldTemplate, map[string]string{
			"PROFILE":     c.profile,
			"RESUME":      orNone(c.resume),
			"SECTION":     orNone(q.Field.Section),
			"CATEGORY":    q.Field.Category,
			"KIND":        q.Field.Kind,
			"LABEL":       q.Field.Label,
			"PLACEHOLDER": q.Field.Placeholder,
			"REQUIRED":    strconv.FormatBool(q.Field.Required),
			"OPTIONS":     q.Field.optionList(),
			"CONTEXT":     q.Context,
		}), nil
	case Decision:
		if strings.TrimSpace(q.Question) == "" {
			return "", errors.New("decision query without question")
		}
		return render(decisionTemplate, map[string]string{
			"PROFILE":  c.profile,
			"CONTEXT":  q.Context,
			"QUESTION": q.Question,
		}), nil
	case Choice:
		if len(q.Candidates) == 0 {
			return "", errors.New("choice query without candidates")
		}
		var b strings.Builder
		for i, cand := range q.Candidates {
			fmt.Fprintf(&b, "%d: %s\n", i, cand)
		}
		return render(choiceTemplate, map[string]string{
			"CONTEXT":    q.Context,
			"CANDIDATES": strings.TrimRight(b.String(), "\n"),
			"QUESTION":   q.Question,
		}), nil
	}
	return "", fmt.Errorf("unknown query kind %d", q.Kind)
}

// render fills the placeholders of template in one pass, so values are never
// expanded again.
func render(template string, values map[string]string) string {
	pairs := make([]string, 0, 2*len(values))
	for key, value := range values {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(template))
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none"
	}
	return s
}
