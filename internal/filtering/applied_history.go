package filtering

import (
	"context"
	"fmt"

	"github.com/spigell/autoapply/internal/jobs"
)

const forceFlagSetMsg = "force flag is set"

type appliedHistoryFilter struct {
	ignore bool
	reason string
}

// NewAppliedHistory creates a filter that removes jobs found in the applied
// history. ignore keeps them, as the --do-not-exclude-applied flag asks.
func NewAppliedHistory(ignore bool) Filter {
	return &appliedHistoryFilter{ignore: ignore}
}

func (f *appliedHistoryFilter) Name() string { return "applied_history" }

func (f *appliedHistoryFilter) Disable(reason string) {
	f.ignore = true
	f.reason = reason
}

func (f *appliedHistoryFilter) IsEnabled() bool { return true }

func (f *appliedHistoryFilter) Validate(*Config) error { return nil }

func (f *appliedHistoryFilter) Apply(ctx context.Context, deps Deps, job *jobs.Job) (Verdict, error) {
	if f.ignore || deps.History == nil {
		return pass(), nil
	}

	applied, err := deps.History.Applied(ctx, job.Board, job.ID)
	if err != nil {
		return Verdict{}, fmt.Errorf("check applied history: %w", err)
	}
	if applied {
		return drop("already applied in a previous run"), nil
	}
	return pass(), nil
}

func (f *appliedHistoryFilter) Status() Status {
	details := map[string]string{
		"exclude_applied": boolDetail(!f.ignore),
	}
	reason := f.reason
	if f.ignore && reason == "" {
		reason = forceFlagSetMsg
	}
	return Status{Name: f.Name(), Enabled: true, Reason: reason, Details: details}
}
