// Package gemini provides the Google GenAI text generator behind the field
// oracle.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/retry"
)

const (
	defaultModel      = "gemini-2.5-flash"
	defaultMaxRetries = 3
	// Quota errors asking to wait longer than this are not retried.
	maxQuotaDelay = 30 * time.Second
)

var retryAfter = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*s`)

type contentModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator sends single prompts to Gemini.
type Generator struct {
	models     contentModels
	model      string
	maxRetries int
	retryDelay time.Duration
	logger     *zap.Logger
}

// NewGenerator creates a Generator for the Gemini API backend.
func NewGenerator(ctx context.Context, apiKey, model string, maxRetries int, logger *zap.Logger) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Generator{
		models:     client.Models,
		model:      model,
		maxRetries: maxRetries,
		retryDelay: 2 * time.Second,
		logger:     logger,
	}, nil
}

// Generate returns the joined text parts of the first response and the total
// token count. 429 and 5xx responses are retried with backoff.
func (g *Generator) Generate(ctx context.Context, prompt string) (ai.Completion, error) {
	if g == nil || g.models == nil {
		return ai.Completion{}, errors.New("gemini generator is not initialized")
	}

	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return ai.Completion{}, errors.New("prompt must not be empty")
	}

	var resp *genai.GenerateContentResponse
	policy := retry.Policy{Attempts: g.maxRetries, Delay: g.retryDelay, Backoff: 2, MaxDelay: maxQuotaDelay}
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) error {
		var err error
		resp, err = g.models.GenerateContent(ctx, g.model, genai.Text(prompt), nil)
		if err == nil {
			return nil
		}
		if !temporary(err) {
			return retry.Permanent(err)
		}
		g.logger.Warn("gemini temporary error",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", g.maxRetries),
			zap.Error(err),
		)
		return err
	})
	if err != nil {
		return ai.Completion{}, fmt.Errorf("generate content: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		return ai.Completion{}, errors.New("gemini api returned empty response")
	}

	completion := ai.Completion{Text: text}
	if resp.UsageMetadata != nil {
		completion.Tokens = int(resp.UsageMetadata.TotalTokenCount)
	}
	return completion, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}
	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
		break
	}
	return strings.TrimSpace(builder.String())
}

func temporary(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		return quotaDelay(apiErr.Message) <= maxQuotaDelay
	case apiErr.Code >= http.StatusInternalServerError:
		return true
	}
	return false
}

func quotaDelay(message string) time.Duration {
	m := retryAfter.FindStringSubmatch(message)
	if m == nil {
		return 0
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0
	}
	return time.Duration(seconds * float64(time.Second))
}
