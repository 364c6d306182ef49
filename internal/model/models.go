// Package model defines shared data structures for the matching service.
package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Vector is a fixed-length embedding. A nil Vector means "never computed".
type Vector []float32

// Kind selects which field list the encoder reads from a record.
type Kind string

const (
	KindProfile Kind = "profile"
	KindJob     Kind = "job"
)

// Job status and type values stored on job rows.
const (
	JobStatusActive = "active"

	JobTypeFullTime   = "full_time"
	JobTypePartTime   = "part_time"
	JobTypeInternship = "internship"
	JobTypeContract   = "contract"
)

// List is a string list that also decodes from a comma-separated string,
// the shape older profile documents use.
type List []string

// UnmarshalJSON accepts ["a", "b"], "a, b" or null.
func (l *List) UnmarshalJSON(data []byte) error {
	var items []string
	if err := json.Unmarshal(data, &items); err == nil {
		*l = items
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("list: want a string array or a comma-separated string, got %s", data)
	}
	*l = nil
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			*l = append(*l, part)
		}
	}
	return nil
}

// Profile is the encodable part of a student profile plus the identity
// metadata that is stored alongside it but never encoded.
type Profile struct {
	Branch              string   `json:"branch,omitempty"`
	Degree              string   `json:"degree,omitempty"`
	TechnicalSkills     List     `json:"technical_skills,omitempty"`
	SoftSkills          List     `json:"soft_skills,omitempty"`
	Languages           List     `json:"languages,omitempty"`
	Experience          string   `json:"experience,omitempty"`
	Projects            string   `json:"projects,omitempty"`
	Certifications      List     `json:"certifications,omitempty"`
	PreferredRoles      List     `json:"preferred_roles,omitempty"`
	PreferredIndustries List     `json:"preferred_industries,omitempty"`
	Interests           List     `json:"interests,omitempty"`

	FullName string `json:"full_name,omitempty"`
	Location string `json:"location,omitempty"`
	College  string `json:"college,omitempty"`

	// Extra keeps unknown keys from the stored document so a round trip
	// does not drop them. The encoder never reads it.
	Extra map[string]any `json:"-"`
}

type profileFields Profile

// UnmarshalJSON decodes known fields and collects the rest into Extra.
func (p *Profile) UnmarshalJSON(data []byte) error {
	var known profileFields
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range profileKeys {
		delete(all, k)
	}
	*p = Profile(known)
	if len(all) > 0 {
		p.Extra = all
	}
	return nil
}

// MarshalJSON writes known fields and merges Extra back in.
func (p Profile) MarshalJSON() ([]byte, error) {
	data, err := json.Marshal(profileFields(p))
	if err != nil || len(p.Extra) == 0 {
		return data, err
	}
	merged := make(map[string]any, len(p.Extra)+len(profileKeys))
	for k, v := range p.Extra {
		merged[k] = v
	}
	var known map[string]any
	if err := json.Unmarshal(data, &known); err != nil {
		return nil, err
	}
	for k, v := range known {
		merged[k] = v
	}
	return json.Marshal(merged)
}

var profileKeys = []string{
	"branch", "degree", "technical_skills", "soft_skills", "languages",
	"experience", "projects", "certifications", "preferred_roles",
	"preferred_industries", "interests", "full_name", "location", "college",
}

// Student is a profile owner with its cached profile vector.
type Student struct {
	ID                 string
	Profile            Profile
	ProfileCompleted   bool
	Vector             Vector
	EmbeddingModel     string
	EmbeddingUpdatedAt *time.Time
}

// HasVector reports whether a profile vector has been computed.
func (s *Student) HasVector() bool { return s != nil && len(s.Vector) > 0 }

// RawJob is a scraped record exactly as the source returned it.
// Field names and presence vary by source.
type RawJob map[string]any

// IngestKey is the natural key used to detect duplicate ingestion.
type IngestKey struct {
	Title    string
	Company  string
	Location string
}

// Job is the canonical stored job record.
type Job struct {
	ID                 string
	Title              string
	Company            string
	Location           string
	Description        string
	Requirements       string
	SkillsRequired     string
	JobType            string
	SalaryRange        string
	ExperienceRequired string
	JobURL             string
	Source             string
	PostedAt           time.Time
	ScrapedAt          time.Time
	CreatedAt          time.Time
	IsActive           bool
	Status             string
	IsBookmarked       bool
	Raw                RawJob

	Vector               Vector
	EmbeddingModel       string
	EmbeddingGeneratedAt *time.Time
}

// Key returns the job's natural key.
func (j *Job) Key() IngestKey {
	return IngestKey{Title: j.Title, Company: j.Company, Location: j.Location}
}

// Active reports whether the job is live and open for matching.
func (j *Job) Active() bool { return j.IsActive && j.Status == JobStatusActive }
