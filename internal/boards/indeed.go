package boards

import (
	"net/url"
	"strings"

	"github.com/spigell/autoapply/internal/listing"
	"github.com/spigell/autoapply/internal/pagemodel"
	"github.com/spigell/autoapply/internal/profile"
)

const indeedSearch = "https://www.indeed.com/jobs"

var (
	indeedExperience = map[string]string{
		"Entry Level":      "entry",
		"Associate":        "associate",
		"Mid-Senior Level": "mid",
		"Director":         "director",
		"Executive":        "executive",
	}
	indeedJobTypes = map[string]string{
		"Full-time":      "fulltime",
		"Part-time":      "parttime",
		"Contract":       "contract",
		"Temporary":      "temporary",
		"Internship":     "internship",
		"Volunteer":      "volunteer",
		"Apprenticeship": "apprenticeship",
	}
	indeedDatePosted = map[string]string{
		"Past 24 hours": "1",
		"Past week":     "7",
		"Past month":    "30",
		"Any time":      "0",
	}
	indeedRemote = map[string]string{
		"On-site": "0",
		"Remote":  "2",
		"Hybrid":  "1",
	}
)

// indeedDefaultAge is the posting age used when no date filter is set.
const indeedDefaultAge = "1"

type indeedParams struct {
	Query      string   `board:"q"`
	Location   string   `board:"l"`
	Age        string   `board:"fromage"`
	Apply      string   `board:"apply"`
	Experience string   `board:"explvl"`
	JobTypes   []string `board:"jt"`
	Remote     string   `board:"remote"`
	Industries []string `board:"ind"`
}

// Indeed opens every job in its own surface.
var Indeed = &Adapter{
	Name: "indeed",
	Mode: OutOfFlow,
	Listing: listing.Selectors{
		Card:     ".jobsearch-ResultsList > li",
		NextPage: `a[data-testid="pagination-page-next"]`,
	},
	Card: CardSelectors{
		Link:      "a.jcs-JobTitle",
		Title:     "a.jcs-JobTitle",
		Company:   `[data-testid="company-name"]`,
		JobIDAttr: "data-jk",
	},
	DetailTitle: `h2[data-testid="jobsearch-JobInfoHeader-title"]`,
	Description: []DescriptionPart{
		{Selector: "#jobDescriptionText", Label: "Job Description"},
	},
	Apply: ApplySelectors{
		Button: `button[id^="indeedApplyButton"]`,
		Close:  `button[aria-label="Close"]`,
	},
	Resume: pagemodel.DefaultResumeSelectors,

	listingURL: func(p *profile.Profile, f Filters) string {
		age := indeedDefaultAge
		if v, ok := indeedDatePosted[f.DatePosted]; ok {
			age = v
		}
		industries := make([]string, 0, len(f.Industries))
		for _, ind := range f.Industries {
			industries = append(industries, strings.ToLower(ind))
		}
		q := encodeParams(indeedParams{
			Query:      strings.TrimSpace(p.DesiredJobTitle + " indeedapply:1"),
			Location:   p.WorkAddress,
			Age:        age,
			Apply:      "1",
			Experience: indeedExperience[f.ExperienceLevel],
			JobTypes:   mapValues(indeedJobTypes, f.JobTypes),
			Remote:     indeedRemote[f.RemotePreference],
			Industries: industries,
		})
		return indeedSearch + "?" + q.Encode()
	},
	jobID: func(href string) string {
		u, err := url.Parse(href)
		if err != nil {
			return ""
		}
		return u.Query().Get("jk")
	},
	viewURL: func(id string) string {
		return "https://www.indeed.com/viewjob?jk=" + url.QueryEscape(id)
	},
}
