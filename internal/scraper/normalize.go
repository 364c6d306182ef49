package scraper

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"jobmate/matching-service/internal/model"
)

// Defaults for fields a source did not supply.
const (
	UnknownTitle    = "Unknown Title"
	UnknownCompany  = "Unknown Company"
	UnknownLocation = "Unknown Location"
	NotSpecified    = "Not specified"
	SeeDescription  = "See description"

	defaultCurrency = "INR"
)

// Source field aliases, first match wins.
var (
	titleKeys        = []string{"title", "job_title", "position", "name"}
	companyKeys      = []string{"company", "company_name", "employer", "organization"}
	locationKeys     = []string{"location", "city", "area", "job_location"}
	descriptionKeys  = []string{"description", "job_description", "snippet", "summary"}
	requirementsKeys = []string{"requirements", "qualifications"}
	jobTypeKeys      = []string{"job_type", "employment_type", "contract_time", "contract_type", "type"}
	skillsKeys       = []string{"skills", "skills_required", "key_skills"}
	experienceKeys   = []string{"job_level", "experience", "experience_required", "seniority"}
	urlKeys          = []string{"job_url", "url", "redirect_url", "apply_url", "job_url_direct"}
	sourceKeys       = []string{"site", "source"}
	postedKeys       = []string{"date_posted", "posted_at", "created", "published_at", "publication_date"}
	salaryMinKeys    = []string{"min_amount", "salary_min", "min_salary"}
	salaryMaxKeys    = []string{"max_amount", "salary_max", "max_salary"}
	currencyKeys     = []string{"currency", "salary_currency"}
	intervalKeys     = []string{"interval", "salary_interval", "salary_period"}
	salaryTextKeys   = []string{"salary", "salary_range"}
)

// skillVocabulary is scanned for in posting text when the source does not
// list skills itself.
var skillVocabulary = []string{
	"python", "java", "javascript", "react", "node.js", "angular", "vue",
	"sql", "mongodb", "postgresql", "aws", "azure", "gcp", "docker",
	"kubernetes", "machine learning", "deep learning", "tensorflow", "pytorch",
	"scikit-learn", "html", "css", "typescript", "c++", "c#", "go", "rust",
	"ruby", "django", "flask", "fastapi", "spring boot", "express.js", "git",
	"jenkins", "ci/cd", "agile", "scrum", "jira",
}

var skillPatterns = compileSkills(skillVocabulary)

func compileSkills(vocab []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(vocab))
	for i, s := range vocab {
		out[i] = regexp.MustCompile(`(?:^|[^a-z0-9+#])` + regexp.QuoteMeta(s) + `(?:$|[^a-z0-9+#])`)
	}
	return out
}

var (
	internPattern   = regexp.MustCompile(`\bintern(ship)?s?\b`)
	partTimePattern = regexp.MustCompile(`\bpart[\s_-]?time\b`)
	contractPattern = regexp.MustCompile(`\b(contract|contractor|contractual|freelance|freelancer)\b`)
)

var numberPrinter = message.NewPrinter(language.English)

// Normalize maps a raw posting onto the canonical Job shape. now stamps
// ScrapedAt and stands in for a missing or unparsable posting date.
func Normalize(raw model.RawJob, now time.Time) model.Job {
	j := model.Job{
		Title:              orDefault(lookup(raw, titleKeys), UnknownTitle),
		Company:            orDefault(lookup(raw, companyKeys), UnknownCompany),
		Location:           orDefault(lookup(raw, locationKeys), UnknownLocation),
		Description:        lookup(raw, descriptionKeys),
		Requirements:       lookup(raw, requirementsKeys),
		ExperienceRequired: orDefault(lookup(raw, experienceKeys), NotSpecified),
		JobURL:             lookup(raw, urlKeys),
		Source:             orDefault(strings.ToLower(lookup(raw, sourceKeys)), "unknown"),
		ScrapedAt:          now,
		PostedAt:           parsePosted(raw, now),
		IsActive:           true,
		Status:             model.JobStatusActive,
		Raw:                raw,
	}
	j.JobType = InferJobType(lookup(raw, jobTypeKeys), j.Title)
	j.SkillsRequired = lookup(raw, skillsKeys)
	if j.SkillsRequired == "" {
		j.SkillsRequired = ExtractSkills(j.Title + "\n" + j.Description + "\n" + j.Requirements)
	}
	j.SalaryRange = FormatSalary(
		number(raw, salaryMinKeys),
		number(raw, salaryMaxKeys),
		lookup(raw, currencyKeys),
		lookup(raw, intervalKeys),
	)
	if j.SalaryRange == NotSpecified {
		j.SalaryRange = orDefault(lookup(raw, salaryTextKeys), NotSpecified)
	}
	return j
}

// InferJobType classifies a posting from its type field, falling back to
// the title.
func InferJobType(typeText, title string) string {
	text := strings.ToLower(typeText + " " + title)
	switch {
	case internPattern.MatchString(text):
		return model.JobTypeInternship
	case partTimePattern.MatchString(text):
		return model.JobTypePartTime
	case contractPattern.MatchString(text):
		return model.JobTypeContract
	}
	return model.JobTypeFullTime
}

// ExtractSkills returns the vocabulary skills mentioned in text, joined by
// ", " in vocabulary order, or SeeDescription when none match.
func ExtractSkills(text string) string {
	text = strings.ToLower(text)
	var found []string
	for i, re := range skillPatterns {
		if re.MatchString(text) {
			found = append(found, skillVocabulary[i])
		}
	}
	if len(found) == 0 {
		return SeeDescription
	}
	return strings.Join(found, ", ")
}

// FormatSalary renders a salary range such as "INR 50,000 - 80,000 yearly".
// Zero amounts count as absent.
func FormatSalary(minAmount, maxAmount float64, currency, interval string) string {
	currency = orDefault(strings.ToUpper(currency), defaultCurrency)
	var s string
	switch {
	case minAmount > 0 && maxAmount > 0:
		s = fmt.Sprintf("%s %s - %s", currency, amount(minAmount), amount(maxAmount))
	case minAmount > 0:
		s = fmt.Sprintf("%s %s+", currency, amount(minAmount))
	case maxAmount > 0:
		s = fmt.Sprintf("Up to %s %s", currency, amount(maxAmount))
	default:
		return NotSpecified
	}
	if interval = strings.TrimSpace(interval); interval != "" {
		s += " " + interval
	}
	return s
}

func amount(v float64) string { return numberPrinter.Sprintf("%.0f", v) }

// ─── Raw field access ─────────────────────────────────────────────────────────

// lookup returns the first non-empty text value among keys.
func lookup(raw model.RawJob, keys []string) string {
	for _, k := range keys {
		if s := text(raw[k]); s != "" {
			return s
		}
	}
	return ""
}

// text flattens the shapes sources use for a display value.
func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case map[string]any:
		for _, k := range []string{"display_name", "name", "label"} {
			if s := text(t[k]); s != "" {
				return s
			}
		}
		return ""
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := text(item); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, ", ")
	case []string:
		return text(toAny(t))
	case bool:
		return ""
	}
	var s string
	if err := mapstructure.WeakDecode(v, &s); err != nil {
		return ""
	}
	return strings.TrimSpace(s)
}

func toAny(ss []string) []any {
	out := make([]any, len(ss))
	for i, s := range ss {
		out[i] = s
	}
	return out
}

// number returns the first positive numeric value among keys. Strings such
// as "50000" are coerced.
func number(raw model.RawJob, keys []string) float64 {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString {
			v = strings.ReplaceAll(strings.TrimSpace(s), ",", "")
		}
		var f float64
		if err := mapstructure.WeakDecode(v, &f); err != nil {
			continue
		}
		if f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f) {
			return f
		}
	}
	return 0
}

var postedLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

func parsePosted(raw model.RawJob, now time.Time) time.Time {
	for _, k := range postedKeys {
		switch v := raw[k].(type) {
		case time.Time:
			if !v.IsZero() {
				return v.UTC()
			}
		case string:
			v = strings.TrimSpace(v)
			for _, layout := range postedLayouts {
				if t, err := time.Parse(layout, v); err == nil {
					return t.UTC()
				}
			}
		}
	}
	return now
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
