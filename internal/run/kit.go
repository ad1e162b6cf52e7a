package run

import (
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/autoapply/internal/ai"
	"github.com/spigell/autoapply/internal/classify"
	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/sections"
)

// Kit builds the automation of a surface from the applicant profile.
type Kit struct {
	Profile *profile.Profile
	Oracle  ai.Oracle
	Fill    fill.Config
	Logger  *zap.Logger
}

// Vocabulary is what the classifier may fill without asking the oracle.
func (k *Kit) Vocabulary() classify.Vocabulary {
	return classify.Vocabulary{
		FullName:     k.Profile.FullName,
		Email:        k.Profile.Email,
		Phone:        k.Profile.Phone,
		PhoneCountry: k.Profile.PhoneCountryCode,
		City:         k.Profile.City(),
	}
}

// Auto wires the generic fill path for page.
func (k *Kit) Auto(page dom.Page, resumeSelectors []string) *fill.Auto {
	logger := k.logger()
	return fill.NewAuto(
		pagemodel.New(page, resumeSelectors),
		fill.New(page, profile.NewResume(k.Profile.Resume), k.Fill, logger),
		classify.New(k.Vocabulary()),
		k.Oracle,
		k.Dates,
		logger,
	)
}

// Entries are the repeatable section records of the profile.
func (k *Kit) Entries() map[sections.Kind][]sections.Entry {
	return map[sections.Kind][]sections.Entry{
		sections.WorkExperience: sections.WorkEntries(k.Profile),
		sections.Education:      sections.EducationEntries(k.Profile),
	}
}

// Dates picks the period for a date-range widget outside a repeatable
// section: the latest education under education titles, the latest job
// otherwise.
func (k *Kit) Dates(section string) (fill.DateRange, bool) {
	p := k.Profile
	if strings.Contains(strings.ToLower(section), "education") {
		if len(p.Educations) == 0 {
			return fill.DateRange{}, false
		}
		e := p.Educations[0]
		return fill.DateRange{Start: e.StartDate, End: e.End(), Current: e.Current}, e.StartDate != ""
	}
	if len(p.WorkExperiences) == 0 {
		return fill.DateRange{}, false
	}
	w := p.WorkExperiences[0]
	return fill.DateRange{Start: w.StartDate, End: w.End(), Current: w.Current}, w.StartDate != ""
}

func (k *Kit) logger() *zap.Logger {
	if k.Logger == nil {
		return zap.NewNop()
	}
	return k.Logger
}
