// Package boards holds the site adapters: the selectors and listing URL tables
// of every supported job board.
package boards

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/spigell/autoapply/internal/fill"
	"github.com/spigell/autoapply/internal/form"
	"github.com/spigell/autoapply/internal/listing"
	"github.com/spigell/autoapply/internal/profile"
	"github.com/spigell/autoapply/internal/sections"
)

// ErrNoAdapter is returned for known boards that cannot be automated yet.
var ErrNoAdapter = errors.New("no site adapter")

// Filters narrow the listing. Values use the labels of the configuration
// surface, for example "Mid-Senior Level" or "Past week".
type Filters struct {
	ExperienceLevel  string   `mapstructure:"experience-level" json:"experienceLevel"`
	JobTypes         []string `mapstructure:"job-types" json:"jobType"`
	DatePosted       string   `mapstructure:"date-posted" json:"datePosted"`
	RemotePreference string   `mapstructure:"remote-preference" json:"remotePreference"`
	Industries       []string `mapstructure:"industries" json:"industry"`
}

// CardSelectors read a job card. They are relative to the card.
type CardSelectors struct {
	Link    string
	Title   string
	Company string
	// Applied matches the badge of a job applied to before.
	Applied string
	// JobIDAttr is the card attribute holding the job ID, if any.
	JobIDAttr string
}

// DescriptionPart is one labelled block of the job details pane.
type DescriptionPart struct {
	Selector string
	Label    string
}

// ApplySelectors locate the apply entry points of the details pane.
type ApplySelectors struct {
	Button string
	// EasyText marks an in-page application in the button text.
	EasyText string
	// Modal appears once an in-page application started.
	Modal string
	// Close dismisses the confirmation shown after an in-page application.
	Close string
}

// Mode is where applications of a board run.
type Mode int

const (
	// InPage applications run in the board page; external ones leave it.
	InPage Mode = iota
	// OutOfFlow applications always open a new surface.
	OutOfFlow
)

// Adapter describes one board.
type Adapter struct {
	Name    string
	Mode    Mode
	Listing listing.Selectors
	Card    CardSelectors
	// DetailTitle and DetailCompany read the details pane of the open card.
	DetailTitle   string
	DetailCompany string
	Description   []DescriptionPart
	Apply         ApplySelectors
	Form          form.Selectors
	Sections      sections.Selectors
	Dates         fill.DateSelectors
	Resume        []string

	listingURL func(p *profile.Profile, f Filters) string
	jobID      func(href string) string
	viewURL    func(id string) string
}

// ListingURL is the search results URL for the profile and filters.
func (a *Adapter) ListingURL(p *profile.Profile, f Filters) string {
	return a.listingURL(p, f)
}

// JobID extracts the job ID from a card link. It is empty when the link
// carries none.
func (a *Adapter) JobID(href string) string {
	return a.jobID(href)
}

// ViewURL is the page of a single job.
func (a *Adapter) ViewURL(id string) string {
	return a.viewURL(id)
}

var adapters = map[string]*Adapter{
	LinkedIn.Name: LinkedIn,
	Indeed.Name:   Indeed,
}

// unsupported boards are accepted in the config but have no adapter.
var unsupported = map[string]bool{
	"glassdoor": true,
	"monster":   true,
}

// Lookup returns the adapter of a board.
func Lookup(name string) (*Adapter, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if a, ok := adapters[key]; ok {
		return a, nil
	}
	if unsupported[key] {
		return nil, fmt.Errorf("%s: %w", key, ErrNoAdapter)
	}
	return nil, fmt.Errorf("unknown board %q", name)
}

// Known reports whether name is a board the configuration may mention.
func Known(name string) bool {
	key := strings.ToLower(name)
	return adapters[key] != nil || unsupported[key]
}

// Names lists the boards that have adapters.
func Names() []string {
	names := make([]string, 0, len(adapters))
	for name := range adapters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
