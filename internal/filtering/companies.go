package filtering

import (
	"context"
	"strings"

	"github.com/spigell/autoapply/internal/jobs"
)

type companiesFilter struct {
	companies []string
}

// NewCompanies creates a filter that removes jobs of the companies configured
// in the config.
func NewCompanies() Filter {
	return &companiesFilter{}
}

func (f *companiesFilter) Name() string { return "companies" }

func (f *companiesFilter) Disable(string) {}

func (f *companiesFilter) IsEnabled() bool { return true }

func (f *companiesFilter) Validate(cfg *Config) error {
	f.companies = nil
	if cfg != nil {
		for _, c := range cfg.Companies {
			if c = strings.TrimSpace(c); c != "" {
				f.companies = append(f.companies, strings.ToLower(c))
			}
		}
	}
	return nil
}

func (f *companiesFilter) Apply(_ context.Context, _ Deps, job *jobs.Job) (Verdict, error) {
	company := strings.ToLower(strings.TrimSpace(job.Company))
	if company == "" {
		return pass(), nil
	}
	for _, c := range f.companies {
		if company == c {
			return drop("company " + job.Company + " is excluded"), nil
		}
	}
	return pass(), nil
}

func (f *companiesFilter) Status() Status {
	details := map[string]string{}
	if len(f.companies) > 0 {
		details["companies"] = strings.Join(f.companies, ",")
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
