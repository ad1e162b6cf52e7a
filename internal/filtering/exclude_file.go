package filtering

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/autoapply/internal/jobs"
)

type excludeFileFilter struct {
	path     string
	excluded *jobs.Excluded
}

// NewExcludeFile creates a filter that removes jobs listed in the exclude file.
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(string) {}

func (f *excludeFileFilter) IsEnabled() bool { return true }

// Validate reads the file once, so a broken file stops the run before it starts.
func (f *excludeFileFilter) Validate(cfg *Config) error {
	f.path, f.excluded = "", nil
	if cfg != nil {
		f.path = strings.TrimSpace(cfg.File)
	}
	if f.path == "" {
		return nil
	}

	excluded, err := jobs.LoadExcluded(f.path)
	if err != nil {
		return fmt.Errorf("getting excluded jobs from file: %w", err)
	}
	f.excluded = excluded
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, _ Deps, job *jobs.Job) (Verdict, error) {
	if f.excluded == nil || !f.excluded.Contains(job) {
		return pass(), nil
	}
	return drop("listed in " + f.path), nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	if f.excluded != nil {
		details["entries"] = fmt.Sprint(len(f.excluded.Items))
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
