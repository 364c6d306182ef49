package encoder_test

import (
	"strings"
	"testing"

	"jobmate/matching-service/internal/encoder"
	"jobmate/matching-service/internal/model"
)

var defaultThresholds = encoder.Thresholds{Narrative: 10, Credential: 5, Category: 3}

// ── Profile text ───────────────────────────────────────────────────────────

func TestProfileText_ExcludesIdentityMetadata(t *testing.T) {
	b := encoder.NewTextBuilder(defaultThresholds)
	p := &model.Profile{
		Branch:          "Computer Science",
		TechnicalSkills: []string{"Python", "React"},
		FullName:        "Ada Lovelace",
		Location:        "Bengaluru",
		College:         "Some Institute",
		Extra:           map[string]any{"phone": "+91 99999"},
	}

	got := b.Text(encoder.ProfileRecord(p))

	for _, want := range []string{"Computer Science", "Python, React"} {
		if !strings.Contains(got, want) {
			t.Errorf("profile text %q missing %q", got, want)
		}
	}
	for _, banned := range []string{"Ada Lovelace", "Bengaluru", "Some Institute", "99999"} {
		if strings.Contains(got, banned) {
			t.Errorf("profile text %q leaked excluded field %q", got, banned)
		}
	}
}

func TestProfileText_FieldOrder(t *testing.T) {
	b := encoder.NewTextBuilder(defaultThresholds)
	p := &model.Profile{
		Branch:              "Mechanical",
		Degree:              "B.Tech",
		TechnicalSkills:     []string{"CAD"},
		PreferredRoles:      []string{"Design Engineer"},
		PreferredIndustries: []string{"Automotive"},
	}

	want := "Branch: Mechanical | Domain: Mechanical | Degree: B.Tech | Skills: CAD | " +
		"Technical expertise: CAD | Seeking roles: Design Engineer | Industries: Automotive"
	if got := b.Text(encoder.ProfileRecord(p)); got != want {
		t.Errorf("Text() =\n  %q\nwant\n  %q", got, want)
	}
}

func TestProfileText_Thresholds(t *testing.T) {
	cases := []struct {
		name    string
		profile model.Profile
		th      encoder.Thresholds
		label   string
		want    bool
	}{
		{"short experience dropped", model.Profile{Branch: "CS", Experience: "intern"}, defaultThresholds, "Experience:", false},
		{"long experience kept", model.Profile{Branch: "CS", Experience: "two summers at a fintech"}, defaultThresholds, "Experience:", true},
		{"exactly threshold dropped", model.Profile{Branch: "CS", Projects: "0123456789"}, defaultThresholds, "Projects:", false},
		{"short certification dropped", model.Profile{Branch: "CS", Certifications: []string{"AWS"}}, defaultThresholds, "Certifications:", false},
		{"tuned narrative threshold", model.Profile{Branch: "CS", Experience: "intern"}, encoder.Thresholds{Narrative: 2}, "Experience:", true},
		{"short industry dropped", model.Profile{Branch: "CS", PreferredIndustries: []string{"IT"}}, defaultThresholds, "Industries:", false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			b := encoder.NewTextBuilder(c.th)
			got := strings.Contains(b.Text(encoder.ProfileRecord(&c.profile)), c.label)
			if got != c.want {
				t.Errorf("contains %q = %v, want %v", c.label, got, c.want)
			}
		})
	}
}

func TestProfileText_Fallback(t *testing.T) {
	b := encoder.NewTextBuilder(defaultThresholds)
	rec := encoder.ProfileRecord(&model.Profile{FullName: "Only A Name", Experience: "short"})

	if got := b.Text(rec); got != encoder.FallbackProfile {
		t.Errorf("Text() = %q, want fallback %q", got, encoder.FallbackProfile)
	}
	if !b.Empty(rec) {
		t.Error("Empty() = false for a profile with no encodable field")
	}
}

// ── Job text ───────────────────────────────────────────────────────────────

func TestJobText_TruncatesAndExcludesMetadata(t *testing.T) {
	b := encoder.NewTextBuilder(defaultThresholds)
	j := &model.Job{
		Title:          "Backend Engineer",
		Company:        "Acme Corp",
		Location:       "Pune",
		SalaryRange:    "INR 10,00,000 yearly",
		Description:    strings.Repeat("d", 800),
		Requirements:   strings.Repeat("r", 400),
		SkillsRequired: "go, docker",
		JobType:        model.JobTypeFullTime,
	}

	got := b.Text(encoder.JobRecord(j))

	if !strings.Contains(got, "Description: "+strings.Repeat("d", 500)+" |") {
		t.Error("description not truncated to 500 characters")
	}
	if strings.Contains(got, strings.Repeat("r", 301)) {
		t.Error("requirements not truncated to 300 characters")
	}
	for _, banned := range []string{"Acme", "Pune", "INR"} {
		if strings.Contains(got, banned) {
			t.Errorf("job text leaked excluded field %q", banned)
		}
	}
	if !strings.HasPrefix(got, "Job title: Backend Engineer | Role: Backend Engineer") {
		t.Errorf("job text = %q, want title first", got)
	}
}

func TestJobText_PlaceholdersSkipped(t *testing.T) {
	b := encoder.NewTextBuilder(defaultThresholds)
	j := &model.Job{Title: "Analyst", SkillsRequired: "See description", ExperienceRequired: "Not specified"}

	got := b.Text(encoder.JobRecord(j))
	if strings.Contains(got, "Skills needed") || strings.Contains(got, "Experience") {
		t.Errorf("placeholder values should be skipped, got %q", got)
	}
}

func TestJobText_Fallback(t *testing.T) {
	b := encoder.NewTextBuilder(defaultThresholds)
	if got := b.Text(encoder.JobRecord(&model.Job{Company: "Acme"})); got != encoder.FallbackJob {
		t.Errorf("Text() = %q, want %q", got, encoder.FallbackJob)
	}
}
