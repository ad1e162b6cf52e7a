package boards

import (
	"net/url"
	"regexp"

	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/listing"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/sections"
)

const linkedinSearch = "https://www.linkedin.com/jobs/search/"

var (
	linkedinExperience = map[string]string{
		"Entry Level":      "2",
		"Associate":        "3",
		"Mid-Senior Level": "4",
		"Director":         "5",
		"Executive":        "6",
	}
	linkedinJobTypes = map[string]string{
		"Full-time":      "F",
		"Part-time":      "P",
		"Contract":       "C",
		"Temporary":      "T",
		"Internship":     "I",
		"Volunteer":      "V",
		"Apprenticeship": "A",
	}
	linkedinDatePosted = map[string]string{
		"Past 24 hours": "r86400",
		"Past week":     "r604800",
		"Past month":    "r2592000",
		"Any time":      "",
	}
	linkedinRemote = map[string]string{
		"On-site": "0",
		"Remote":  "2",
		"Hybrid":  "3",
	}
	linkedinIndustries = map[string]string{
		"Technology":    "4",
		"Healthcare":    "14",
		"Finance":       "43",
		"Education":     "69",
		"Manufacturing": "53",
		"Retail":        "96",
		"Hospitality":   "37",
		"Media":         "94",
		"Government":    "75",
	}
)

var linkedinJobPath = regexp.MustCompile(`/jobs/view/(\d+)`)

type linkedinParams struct {
	Keywords   string   `board:"keywords"`
	Location   string   `board:"location"`
	EasyApply  string   `board:"f_AL"`
	Experience string   `board:"f_E"`
	JobTypes   []string `board:"f_JT"`
	DatePosted string   `board:"f_TPR"`
	Remote     string   `board:"f_WT"`
	Industries []string `board:"f_I"`
}

// LinkedIn applies through the easy-apply modal and hands other jobs to
// external surfaces.
var LinkedIn = &Adapter{
	Name: "linkedin",
	Mode: InPage,
	Listing: listing.Selectors{
		Container:  ".jobs-search-results-list",
		Card:       ".job-card-container",
		Pagination: ".artdeco-pagination__pages",
		ActivePage: "li.active button",
		PageButton: `button[aria-label="Page %d"]`,
		Dismiss:    `button[aria-label="Dismiss"]`,
	},
	Card: CardSelectors{
		Link:      "a.job-card-container__link",
		Title:     ".job-card-list__title",
		Company:   ".job-card-container__primary-description",
		Applied:   ".job-card-container__footer-job-state",
		JobIDAttr: "data-job-id",
	},
	DetailTitle:   ".job-details-jobs-unified-top-card__job-title",
	DetailCompany: ".job-details-jobs-unified-top-card__company-name",
	Description: []DescriptionPart{
		{Selector: ".jobs-description__container", Label: "Job Description"},
		{Selector: ".job-details-segment-attribute-card-job-details", Label: "Job Details"},
		{Selector: ".jobs-details__salary-main-rail-card", Label: "Salary Information"},
		{Selector: ".jobs-company__box", Label: "Company Information"},
		{Selector: ".job-details-company__commitments-container", Label: "Company Commitments"},
	},
	Apply: ApplySelectors{
		Button:   ".jobs-apply-button",
		EasyText: "easy apply",
		Modal:    ".jobs-easy-apply-modal",
		Close:    `button[aria-label="Dismiss"]`,
	},
	Form:     form.DefaultSelectors,
	Sections: sections.DefaultSelectors,
	Dates:    fill.DefaultDateSelectors,
	Resume:   pagemodel.DefaultResumeSelectors,

	listingURL: func(p *profile.Profile, f Filters) string {
		q := encodeParams(linkedinParams{
			Keywords:   p.DesiredJobTitle,
			Location:   p.WorkAddress,
			EasyApply:  "true",
			Experience: linkedinExperience[f.ExperienceLevel],
			JobTypes:   mapValues(linkedinJobTypes, f.JobTypes),
			DatePosted: linkedinDatePosted[f.DatePosted],
			Remote:     linkedinRemote[f.RemotePreference],
			Industries: mapValues(linkedinIndustries, f.Industries),
		})
		return linkedinSearch + "?" + q.Encode()
	},
	jobID: func(href string) string {
		if m := linkedinJobPath.FindStringSubmatch(href); m != nil {
			return m[1]
		}
		if u, err := url.Parse(href); err == nil {
			return u.Query().Get("currentJobId")
		}
		return ""
	},
	viewURL: func(id string) string {
		return "https://www.linkedin.com/jobs/view/" + id + "/"
	},
}
