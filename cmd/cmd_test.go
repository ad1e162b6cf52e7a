package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spigell/autoapply/internal/classify"
	"github.com/spigell/autoapply/internal/history"
	"github.com/spigell/autoapply/internal/jobs"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/run"
)

const savedForm = `<html><body>
<form>
  <label for="fn">First name</label><input id="fn" type="text">
  <label for="em">Email</label><input id="em" type="email">
  <label for="why">Why do you want this job?</label><textarea id="why"></textarea>
</form>
</body></html>`

func TestInspectClassifiesSavedForm(t *testing.T) {
	var out bytes.Buffer
	vocab := classify.Vocabulary{FullName: "Sushen Oli", Email: "sushen@example.com"}

	require.NoError(t, inspect(context.Background(), &out, savedForm, "form", "", vocab))

	var fields []inspectedField
	require.NoError(t, json.Unmarshal(out.Bytes(), &fields))
	require.Len(t, fields, 3)

	assert.Equal(t, "person_name", fields[0].Category)
	assert.Equal(t, "Sushen", fields[0].Value)
	assert.Equal(t, "email_address", fields[1].Category)
	assert.Equal(t, "sushen@example.com", fields[1].Value)
	assert.Equal(t, "free_text", fields[2].Category)
	assert.True(t, fields[2].Oracle)
}

func TestInspectMissingScope(t *testing.T) {
	var out bytes.Buffer
	err := inspect(context.Background(), &out, savedForm, "#nope", "", classify.Vocabulary{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "extracting fields")
}

func TestPlanLines(t *testing.T) {
	applicant := &profile.Profile{DesiredJobTitle: "Go developer"}
	lines := planLines(map[string]int{"indeed": 2, "glassdoor": 1}, run.Command{Profile: applicant})

	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "glassdoor (limit 1): "))
	assert.True(t, strings.HasPrefix(lines[1], "indeed (limit 2): https://www.indeed.com/jobs?"), lines[1])
}

func TestRunConfigKeepsDefaultsForZeroValues(t *testing.T) {
	defaults := run.DefaultConfig()

	cfg := runConfig(AutomationConfig{})
	assert.Equal(t, defaults.Form.MaxPages, cfg.Form.MaxPages)
	assert.Equal(t, defaults.Settle, cfg.Settle)
	assert.Equal(t, defaults.Dispatch.DeliveryDelay, cfg.Dispatch.DeliveryDelay)
	assert.Equal(t, defaults.External.Settle, cfg.External.Settle)
	assert.False(t, cfg.Form.DryRun)

	cfg = runConfig(AutomationConfig{DryRun: true, MaxPages: 3, Settle: time.Millisecond, BoardTimeout: time.Minute})
	assert.True(t, cfg.Form.DryRun)
	assert.Equal(t, 3, cfg.Form.MaxPages)
	assert.Equal(t, time.Millisecond, cfg.Settle)
	assert.Equal(t, time.Millisecond, cfg.Form.Settle)
	assert.Equal(t, time.Minute, cfg.BoardTimeout)
}

func TestRedactedHidesInlineKey(t *testing.T) {
	config := &Config{AI: &AIConfig{Enabled: true, Gemini: &GeminiConfig{APIKey: "secret", Model: "m"}}}

	masked := redacted(config)
	assert.Equal(t, "***", masked.AI.Gemini.APIKey)
	assert.Equal(t, "m", masked.AI.Gemini.Model)
	assert.Equal(t, "secret", config.AI.Gemini.APIKey)
}

func TestNewOracleDisabled(t *testing.T) {
	oracle, err := newOracle(context.Background(), nil, nil, nil)
	require.NoError(t, err)
	assert.Nil(t, oracle)

	_, err = newOracle(context.Background(), &AIConfig{Enabled: true, Provider: "openai"}, nil, nil)
	require.Error(t, err)
}

func TestExportHistoryAppendsToExcludeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "exclude.json")
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	entries := []history.Entry{
		{Board: "linkedin", JobID: "101", Company: "Acme", AppliedAt: at},
		{Board: "indeed", JobID: "abc", URL: "https://www.indeed.com/viewjob?jk=abc", AppliedAt: at},
	}
	require.NoError(t, exportHistory(entries, path))
	require.NoError(t, exportHistory(entries[:1], path))

	excluded, err := jobs.LoadExcluded(path)
	require.NoError(t, err)
	require.Len(t, excluded.Items, 3)
	assert.Equal(t, "Acme", excluded.Items[0].Company)
	assert.True(t, excluded.Contains(&jobs.Job{Board: "indeed", ID: "abc"}))

	_, err = os.Stat(path)
	require.NoError(t, err)
}
