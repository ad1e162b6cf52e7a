// Package profile holds the applicant data a run fills forms with.
package profile

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
)

// Present is how an open-ended end date is rendered.
const Present = "present"

// WorkExperience is one employment record.
type WorkExperience struct {
	Title       string `json:"title" validate:"required"`
	Company     string `json:"company" validate:"required"`
	City        string `json:"city"`
	Description string `json:"description"`
	StartDate   string `json:"startDate"`
	EndDate     string `json:"endDate"`
	Current     bool   `json:"current"`
}

// End returns the end date, or Present for a current position.
func (w WorkExperience) End() string {
	if w.Current {
		return Present
	}
	return w.EndDate
}

// Education is one education record.
type Education struct {
	School    string `json:"school" validate:"required"`
	Degree    string `json:"degree"`
	City      string `json:"city"`
	Major     string `json:"major"`
	StartDate string `json:"startDate"`
	EndDate   string `json:"endDate"`
	Current   bool   `json:"current"`
}

// End returns the end date, or Present while still attending.
func (e Education) End() string {
	if e.Current {
		return Present
	}
	return e.EndDate
}

// Profile is the applicant profile. It is read-only once loaded.
type Profile struct {
	ID                      string           `json:"id"`
	FullName                string           `json:"fullName" validate:"required"`
	Email                   string           `json:"email" validate:"required,email"`
	Phone                   string           `json:"phone" validate:"required"`
	PhoneCountryCode        string           `json:"phoneCountryCode"`
	Address                 string           `json:"address"`
	WorkAddress             string           `json:"workAddress"`
	LinkedIn                string           `json:"linkedIn" validate:"omitempty,url"`
	DesiredJobTitle         string           `json:"desiredJobTitle" validate:"required"`
	JobType                 string           `json:"jobType"`
	WorkLocation            string           `json:"workLocation"`
	WillingToRelocate       bool             `json:"willingToRelocate"`
	SalaryRange             string           `json:"salaryRange"`
	Availability            string           `json:"availability"`
	CurrentEmploymentStatus string           `json:"currentEmploymentStatus"`
	YearsOfExperience       int              `json:"yearsOfExperience" validate:"gte=0"`
	HighestEducation        string           `json:"highestEducation"`
	FieldOfStudy            string           `json:"fieldOfStudy"`
	GraduationYear          int              `json:"graduationYear"`
	PrimarySkills           string           `json:"primarySkills"`
	Languages               string           `json:"languages"`
	Resume                  string           `json:"resume"`
	ResumeText              string           `json:"resumeText"`
	ResumeTextFile          string           `json:"resumeTextFile"`
	CoverLetter             string           `json:"coverLetter"`
	PersonalStatement       string           `json:"personalStatement"`
	HeardAboutUs            string           `json:"heardAboutUs"`
	WorkExperiences         []WorkExperience `json:"workExperiences" validate:"dive"`
	Educations              []Education      `json:"educations" validate:"dive"`
}

var validate = validator.New()

// Load reads a JSON profile, validates it and normalises current records.
func Load(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading profile %q: %w", path, err)
	}
	return Parse(data)
}

// Parse decodes a JSON profile. Numbers written as strings are accepted.
func Parse(data []byte) (*Profile, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse profile: %w", err)
	}

	var p Profile
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           &p,
		TagName:          "json",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}

	if err := validate.Struct(&p); err != nil {
		return nil, fmt.Errorf("invalid profile: %w", err)
	}

	if p.ResumeText == "" && p.ResumeTextFile != "" {
		text, err := os.ReadFile(p.ResumeTextFile)
		if err != nil {
			return nil, fmt.Errorf("reading resume text %q: %w", p.ResumeTextFile, err)
		}
		p.ResumeText = strings.TrimSpace(string(text))
	}

	for i := range p.WorkExperiences {
		if p.WorkExperiences[i].Current {
			p.WorkExperiences[i].EndDate = Present
		}
	}
	for i := range p.Educations {
		if p.Educations[i].Current {
			p.Educations[i].EndDate = Present
		}
	}

	return &p, nil
}

// FirstName is the first space-delimited token of the full name.
func (p *Profile) FirstName() string {
	parts := strings.Fields(p.FullName)
	if len(parts) == 0 {
		return ""
	}
	return parts[0]
}

// LastName is the last token of the full name, empty for a single token.
func (p *Profile) LastName() string {
	parts := strings.Fields(p.FullName)
	if len(parts) < 2 {
		return ""
	}
	return parts[len(parts)-1]
}

// City is the first comma-separated part of the work address, falling back to
// the home address.
func (p *Profile) City() string {
	for _, addr := range []string{p.WorkAddress, p.Address} {
		if addr = strings.TrimSpace(addr); addr != "" {
			return strings.TrimSpace(strings.Split(addr, ",")[0])
		}
	}
	return ""
}

// Summary is the JSON form of the profile without resume text, used as
// context for the field oracle.
func (p *Profile) Summary() string {
	view := *p
	view.ResumeText = ""
	view.ResumeTextFile = ""
	data, err := json.MarshalIndent(view, "", "  ")
	if err != nil {
		return p.FullName
	}
	return string(data)
}
