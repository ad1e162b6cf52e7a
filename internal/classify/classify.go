// Package classify maps field descriptors to semantic categories using a
// fixed priority chain. Fields the chain resolves are never sent to the field
// oracle.
package classify

import (
	"strings"

	"github.com/spigell/autoapply/internal/dom"
	"github.com/spigell/autoapply/internal/pagemodel"
)

// Category is the semantic category of a field.
type Category int

const (
	Unknown Category = iota
	PersonName
	EmailAddress
	PhoneNumber
	PhoneCountryCode
	DateRange
	ResumeUpload
	ConsentCheckbox
	CityLocation
	GenericChoice
	FreeText
)

var categoryNames = map[Category]string{
	Unknown:          "unknown",
	PersonName:       "person_name",
	EmailAddress:     "email_address",
	PhoneNumber:      "phone_number",
	PhoneCountryCode: "phone_country_code",
	DateRange:        "date_range",
	ResumeUpload:     "resume_upload",
	ConsentCheckbox:  "consent_checkbox",
	CityLocation:     "city_location",
	GenericChoice:    "generic_choice",
	FreeText:         "free_text",
}

func (c Category) String() string {
	if name, ok := categoryNames[c]; ok {
		return name
	}
	return "unknown"
}

// NamePart selects which token of the full name a PersonName field takes.
type NamePart int

const (
	NoPart NamePart = iota
	FirstName
	LastName
)

func (p NamePart) String() string {
	switch p {
	case FirstName:
		return "first"
	case LastName:
		return "last"
	}
	return ""
}

// Result is the outcome of classifying one field.
type Result struct {
	Category Category
	Part     NamePart
	// Value is set when Resolved is true.
	Value    string
	Resolved bool
	// Skip means the field must be left as the host rendered it.
	Skip bool
}

// NeedsOracle reports whether the field has to be answered by the oracle.
func (r Result) NeedsOracle() bool {
	if r.Resolved || r.Skip {
		return false
	}
	switch r.Category {
	case GenericChoice, FreeText, Unknown:
		return true
	}
	return false
}

// Vocabulary holds the profile values the chain resolves deterministically.
type Vocabulary struct {
	FullName     string
	Email        string
	Phone        string
	PhoneCountry string
	City         string
}

// ConsentTerms mark a checkbox as an agreement the applicant has to tick.
var ConsentTerms = []string{"acknowledge", "confirm", "privacy policy", "consent", "conditions"}

// ContactSections are section titles under which phone and location fields
// take profile values.
var ContactSections = []string{"contact info", "contact information", "personal info", "personal details", "your details"}

var dateRangeTerms = []string{"dates of employment", "date range", "daterange", "dates attended", "from - to", "period of employment"}

// Classifier runs the priority chain.
type Classifier struct {
	vocab Vocabulary
}

// New returns a classifier over vocab.
func New(vocab Vocabulary) *Classifier {
	return &Classifier{vocab: vocab}
}

// Classify returns exactly one category for field. section is the current
// section title and may be empty.
func (c *Classifier) Classify(field pagemodel.FieldDescriptor, section string) Result {
	label := strings.ToLower(strings.TrimSpace(field.Label))
	text := strings.ToLower(strings.Join([]string{field.Label, field.Name, field.ID, field.Placeholder}, " "))
	sec := strings.ToLower(section)

	for _, rule := range chain {
		if res, ok := rule(c, field, label, text, sec); ok {
			return res
		}
	}

	switch field.Kind {
	case dom.KindSelect, dom.KindRadio, dom.KindCheckbox:
		return Result{Category: GenericChoice}
	case dom.KindText, dom.KindTextarea, dom.KindEditable:
		return Result{Category: FreeText}
	}
	return Result{Category: Unknown}
}

type rule func(c *Classifier, f pagemodel.FieldDescriptor, label, text, section string) (Result, bool)

var chain = []rule{
	resumeRule,
	nameRule,
	consentRule,
	emailRule,
	phoneCountryRule,
	phoneRule,
	cityRule,
	dateRangeRule,
}

func resumeRule(_ *Classifier, f pagemodel.FieldDescriptor, _, text, _ string) (Result, bool) {
	if f.ID == pagemodel.ResumeFieldID {
		return Result{Category: ResumeUpload}, true
	}
	if f.Kind == dom.KindFile && (strings.Contains(text, "resume") || strings.Contains(text, "cv")) {
		return Result{Category: ResumeUpload}, true
	}
	return Result{}, false
}

func nameRule(c *Classifier, f pagemodel.FieldDescriptor, label, _, _ string) (Result, bool) {
	if !textual(f.Kind) {
		return Result{}, false
	}
	tokens := strings.Fields(c.vocab.FullName)
	switch {
	case strings.Contains(label, "first name") || label == "given name":
		res := Result{Category: PersonName, Part: FirstName}
		if len(tokens) > 0 {
			res.Value, res.Resolved = tokens[0], true
		}
		return res, true
	case strings.Contains(label, "last name") || strings.Contains(label, "surname") || label == "family name":
		res := Result{Category: PersonName, Part: LastName}
		if len(tokens) > 1 {
			res.Value, res.Resolved = tokens[len(tokens)-1], true
		}
		return res, true
	}
	return Result{}, false
}

func consentRule(_ *Classifier, f pagemodel.FieldDescriptor, label, _, _ string) (Result, bool) {
	if f.Kind != dom.KindCheckbox {
		return Result{}, false
	}
	if f.Required || containsAny(label, ConsentTerms) {
		return Result{Category: ConsentCheckbox, Value: "true", Resolved: true}, true
	}
	return Result{}, false
}

func emailRule(c *Classifier, f pagemodel.FieldDescriptor, label, _, _ string) (Result, bool) {
	if !strings.Contains(label, "email") && !strings.Contains(label, "e-mail") {
		return Result{}, false
	}
	if f.Kind == dom.KindSelect {
		return Result{Category: EmailAddress, Skip: true}, true
	}
	if !textual(f.Kind) {
		return Result{}, false
	}
	return resolved(EmailAddress, c.vocab.Email), true
}

func phoneCountryRule(c *Classifier, f pagemodel.FieldDescriptor, label, _, _ string) (Result, bool) {
	if f.Kind != dom.KindSelect || !strings.Contains(label, "phone country code") && !strings.Contains(label, "country code") {
		return Result{}, false
	}
	return resolved(PhoneCountryCode, c.vocab.PhoneCountry), true
}

func phoneRule(c *Classifier, f pagemodel.FieldDescriptor, label, _, section string) (Result, bool) {
	if !textual(f.Kind) || !strings.Contains(label, "phone") || !contactSection(section) {
		return Result{}, false
	}
	return resolved(PhoneNumber, c.vocab.Phone), true
}

func cityRule(c *Classifier, f pagemodel.FieldDescriptor, label, _, section string) (Result, bool) {
	if !textual(f.Kind) || !contactSection(section) {
		return Result{}, false
	}
	if !strings.Contains(label, "city") && !strings.HasPrefix(label, "location") {
		return Result{}, false
	}
	return resolved(CityLocation, c.vocab.City), true
}

func dateRangeRule(_ *Classifier, f pagemodel.FieldDescriptor, _, text, _ string) (Result, bool) {
	if f.Kind == dom.KindFile || f.Kind == dom.KindCheckbox {
		return Result{}, false
	}
	if f.Kind == dom.KindSelect && (f.Name == "month" || f.Name == "year") {
		return Result{Category: DateRange}, true
	}
	if containsAny(text, dateRangeTerms) {
		return Result{Category: DateRange}, true
	}
	return Result{}, false
}

func resolved(cat Category, value string) Result {
	if strings.TrimSpace(value) == "" {
		return Result{Category: cat}
	}
	return Result{Category: cat, Value: value, Resolved: true}
}

// contactSection accepts an empty title, since single-page forms carry none.
func contactSection(section string) bool {
	return section == "" || containsAny(section, ContactSections)
}

func textual(k dom.Kind) bool {
	return k == dom.KindText || k == dom.KindTextarea || k == dom.KindEditable
}

func containsAny(s string, terms []string) bool {
	for _, t := range terms {
		if strings.Contains(s, t) {
			return true
		}
	}
	return false
}
