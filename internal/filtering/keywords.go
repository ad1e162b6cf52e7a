package filtering

import (
	"context"
	"strings"

	"github.com/spigell/autoapply/internal/jobs"
)

type keywordsFilter struct {
	keywords []string
}

// NewKeywords creates a filter that removes jobs whose title contains one of
// the configured keywords.
func NewKeywords() Filter {
	return &keywordsFilter{}
}

func (f *keywordsFilter) Name() string { return "keywords" }

func (f *keywordsFilter) Disable(string) {}

func (f *keywordsFilter) IsEnabled() bool { return true }

func (f *keywordsFilter) Validate(cfg *Config) error {
	f.keywords = nil
	if cfg != nil {
		for _, k := range cfg.Keywords {
			if k = strings.TrimSpace(k); k != "" {
				f.keywords = append(f.keywords, strings.ToLower(k))
			}
		}
	}
	return nil
}

func (f *keywordsFilter) Apply(_ context.Context, _ Deps, job *jobs.Job) (Verdict, error) {
	title := strings.ToLower(job.Title)
	for _, k := range f.keywords {
		if strings.Contains(title, k) {
			return drop("title contains " + k), nil
		}
	}
	return pass(), nil
}

func (f *keywordsFilter) Status() Status {
	details := map[string]string{}
	if len(f.keywords) > 0 {
		details["keywords"] = strings.Join(f.keywords, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
