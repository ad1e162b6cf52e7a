package filtering

import (
	"context"

	"github.com/spigell/autoapply/internal/jobs"
)

type appliedBadgeFilter struct{}

// NewAppliedBadge creates a filter that removes jobs the board already marks
// as applied.
func NewAppliedBadge() Filter {
	return &appliedBadgeFilter{}
}

func (f *appliedBadgeFilter) Name() string { return "applied_badge" }

func (f *appliedBadgeFilter) Disable(string) {}

func (f *appliedBadgeFilter) IsEnabled() bool { return true }

func (f *appliedBadgeFilter) Validate(*Config) error { return nil }

func (f *appliedBadgeFilter) Apply(_ context.Context, _ Deps, job *jobs.Job) (Verdict, error) {
	if job.Applied {
		return drop("board marks the job as applied"), nil
	}
	return pass(), nil
}
