package encoder

import (
	"strings"
	"unicode/utf8"

	"jobmate/matching-service/internal/model"
)

// Fallback phrases keep the model from ever seeing empty input.
const (
	FallbackProfile = "No profile information"
	FallbackJob     = "No job information"
	FallbackQuery   = "search query"
)

const (
	separator         = " | "
	descriptionLimit  = 500
	requirementsLimit = 300
)

// placeholders written by job normalisation mean "absent" to the encoder.
var placeholders = map[string]bool{
	"not specified":   true,
	"see description": true,
}

// Record is one encodable input: a profile or a job.
type Record struct {
	Kind    model.Kind
	Profile *model.Profile
	Job     *model.Job
}

// ProfileRecord wraps a profile for encoding.
func ProfileRecord(p *model.Profile) Record { return Record{Kind: model.KindProfile, Profile: p} }

// JobRecord wraps a job for encoding.
func JobRecord(j *model.Job) Record { return Record{Kind: model.KindJob, Job: j} }

// Thresholds are minimum lengths a field must exceed to be encoded.
type Thresholds struct {
	Narrative  int // experience, projects
	Credential int // certifications
	Category   int // industries, preferred roles
}

// TextBuilder turns records into the pipe-delimited encoder input.
// Identity metadata (name, location, college, company, salary, dates) is
// never read.
type TextBuilder struct {
	th Thresholds
}

// NewTextBuilder returns a builder with the given thresholds.
func NewTextBuilder(th Thresholds) *TextBuilder { return &TextBuilder{th: th} }

// Text returns the encoder input for rec, or the kind's fallback phrase when
// no field survives filtering.
func (b *TextBuilder) Text(rec Record) string {
	if s := b.raw(rec); s != "" {
		return s
	}
	if rec.Kind == model.KindJob {
		return FallbackJob
	}
	return FallbackProfile
}

// Empty reports whether rec has no encodable field.
func (b *TextBuilder) Empty(rec Record) bool { return b.raw(rec) == "" }

func (b *TextBuilder) raw(rec Record) string {
	switch rec.Kind {
	case model.KindProfile:
		if rec.Profile != nil {
			return b.profileText(rec.Profile)
		}
	case model.KindJob:
		if rec.Job != nil {
			return b.jobText(rec.Job)
		}
	}
	return ""
}

func (b *TextBuilder) profileText(p *model.Profile) string {
	var parts parts

	parts.add("Branch", p.Branch, 0)
	parts.add("Domain", p.Branch, 0)
	parts.add("Degree", p.Degree, 0)

	skills := joinList(p.TechnicalSkills)
	parts.add("Skills", skills, 0)
	parts.add("Technical expertise", skills, 0)

	parts.add("Soft skills", joinList(p.SoftSkills), 0)
	parts.add("Languages", joinList(p.Languages), 0)
	parts.add("Experience", p.Experience, b.th.Narrative)
	parts.add("Projects", p.Projects, b.th.Narrative)
	parts.add("Certifications", joinList(p.Certifications), b.th.Credential)
	parts.add("Seeking roles", joinList(p.PreferredRoles), 0)
	parts.add("Industries", joinList(p.PreferredIndustries), b.th.Category)

	return parts.String()
}

func (b *TextBuilder) jobText(j *model.Job) string {
	var parts parts

	parts.add("Job title", j.Title, 0)
	parts.add("Role", j.Title, 0)
	parts.add("Description", cut(j.Description, descriptionLimit), 0)
	parts.add("Requirements", cut(j.Requirements, requirementsLimit), 0)
	parts.add("Skills needed", j.SkillsRequired, 0)
	parts.add("Technologies", j.SkillsRequired, 0)
	parts.add("Type", j.JobType, 0)
	parts.add("Experience", j.ExperienceRequired, 0)

	return parts.String()
}

type parts []string

// add appends "label: value" when value is present, not a placeholder, and
// longer than minLen runes.
func (p *parts) add(label, value string, minLen int) {
	value = strings.TrimSpace(value)
	if value == "" || placeholders[strings.ToLower(value)] {
		return
	}
	if utf8.RuneCountInString(value) <= minLen {
		return
	}
	*p = append(*p, label+": "+value)
}

func (p parts) String() string { return strings.Join(p, separator) }

func joinList(items []string) string {
	kept := make([]string, 0, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			kept = append(kept, it)
		}
	}
	return strings.Join(kept, ", ")
}

func cut(s string, limit int) string {
	s = strings.TrimSpace(s)
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
