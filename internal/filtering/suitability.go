package filtering

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/jobs"
)

const suitabilityQuestion = "Does the applicant match the requirements and preferences of this job? Answer Yes or No."

type suitabilityFilter struct {
	disabled        bool
	reason          string
	acceptAmbiguous bool
}

// NewSuitability creates the oracle screening of job descriptions. It is
// disabled until the config enables it.
func NewSuitability() Filter {
	return &suitabilityFilter{}
}

func (f *suitabilityFilter) Name() string { return "suitability" }

func (f *suitabilityFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *suitabilityFilter) IsEnabled() bool { return !f.disabled }

func (f *suitabilityFilter) Validate(cfg *Config) error {
	if cfg == nil || !cfg.Suitability.Enabled {
		f.Disable("not enabled in config")
		return nil
	}
	f.acceptAmbiguous = cfg.Suitability.AcceptAmbiguous
	return nil
}

func (f *suitabilityFilter) Apply(ctx context.Context, deps Deps, job *jobs.Job) (Verdict, error) {
	if f.disabled {
		return pass(), nil
	}
	if deps.Oracle == nil {
		if deps.Logger != nil {
			deps.Logger.Info("oracle is not configured; skipping suitability filter")
		}
		return pass(), nil
	}

	var b strings.Builder
	b.WriteString("Job title: " + job.Title + "\n")
	b.WriteString("Company: " + job.Company + "\n")
	b.WriteString("Job description:\n" + job.Description + "\n\n")
	b.WriteString("Applicant:\n" + deps.Applicant)

	answer, err := deps.Oracle.Classify(ctx, ai.Query{
		Kind:     ai.Decision,
		Question: suitabilityQuestion,
		Context:  b.String(),
	})
	v := Verdict{Tokens: answer.Tokens}
	if err != nil {
		// An unavailable oracle gives no verdict.
		if deps.Logger != nil {
			deps.Logger.Warn("suitability check failed",
				zap.String("job_id", job.ID),
				zap.Error(err),
			)
		}
		answer.Verdict = ai.Ambiguous
	}

	switch answer.Verdict {
	case ai.Yes:
		v.Pass = true
	case ai.No:
		v.Reason = "oracle recommends not to apply"
	default:
		v.Pass = f.acceptAmbiguous
		if !v.Pass {
			v.Reason = "oracle answer is ambiguous"
		}
	}
	return v, nil
}

func (f *suitabilityFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: f.IsEnabled(),
		Reason:  f.reason,
		Details: map[string]string{"accept_ambiguous": boolDetail(f.acceptAmbiguous)},
	}
}
