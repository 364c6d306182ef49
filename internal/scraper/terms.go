package scraper

import (
	"slices"
	"strings"

	"jobmate/matching-service/internal/model"
)

// DefaultMaxTerms caps the number of search terms derived per cycle.
const DefaultMaxTerms = 30

// DefaultSearchTerms is used when no completed profile yields any term.
var DefaultSearchTerms = []string{
	"software engineer fresher",
	"web developer intern",
	"data analyst fresher",
	"python developer",
	"java developer fresher",
	"frontend developer react",
	"backend developer",
	"full stack developer fresher",
	"mechanical engineer fresher",
	"electrical engineer fresher",
}

var termSkillKeywords = []string{
	"python", "java", "javascript", "react", "angular", "node.js", "nodejs",
	"machine learning", "data science", "web development", "frontend", "backend",
	"full stack", "devops", "cloud", "aws", "azure", "android", "ios", "flutter",
	"react native", "ui/ux", "graphic design", "digital marketing", "content writing",
	"seo", "data analyst", "business analyst", "mechanical", "cad", "autocad",
	"solidworks", "civil", "electrical", "embedded", "iot", "robotics", "automation",
}

var branchRoles = map[string][]string{
	"computer science":       {"software engineer", "web developer", "data analyst"},
	"information technology": {"software engineer", "web developer", "it support"},
	"mechanical":             {"mechanical engineer", "cad designer", "manufacturing engineer"},
	"electrical":             {"electrical engineer", "embedded engineer", "electronics"},
	"civil":                  {"civil engineer", "structural engineer", "site engineer"},
	"electronics":            {"electronics engineer", "embedded developer", "iot engineer"},
}

var entryLevelRoles = []string{"engineer", "developer", "analyst"}

var interestMarkers = []string{"development", "design", "engineering", "analysis"}

// SearchTerms derives scrape search terms from student profiles. Terms are
// grouped by origin (preferred roles, skills, branch, interests), sorted
// within each group, deduplicated, and capped at max. With no terms at all
// DefaultSearchTerms is returned.
func SearchTerms(profiles []model.Profile, max int) []string {
	if max <= 0 {
		max = DefaultMaxTerms
	}
	roles := map[string]struct{}{}
	skills := map[string]struct{}{}
	branches := map[string]struct{}{}
	interests := map[string]struct{}{}

	for i := range profiles {
		p := &profiles[i]

		for _, r := range p.PreferredRoles {
			role := strings.ToLower(strings.TrimSpace(r))
			if len(role) <= 3 {
				continue
			}
			roles[role] = struct{}{}
			for _, marker := range entryLevelRoles {
				if strings.Contains(role, marker) {
					roles[role+" fresher"] = struct{}{}
					roles[role+" intern"] = struct{}{}
					break
				}
			}
		}

		for _, s := range slices.Concat(p.TechnicalSkills, p.SoftSkills) {
			skill := strings.ToLower(strings.TrimSpace(s))
			if len(skill) <= 3 || !slices.Contains(termSkillKeywords, skill) {
				continue
			}
			skills[skill+" developer"] = struct{}{}
			skills[skill+" intern"] = struct{}{}
		}

		if branch := strings.ToLower(p.Branch); branch != "" {
			for key, mapped := range branchRoles {
				if !strings.Contains(branch, key) {
					continue
				}
				for _, t := range mapped {
					branches[t] = struct{}{}
					branches[t+" fresher"] = struct{}{}
				}
			}
		}

		for _, in := range p.Interests {
			interest := strings.ToLower(strings.TrimSpace(in))
			if len(interest) <= 5 {
				continue
			}
			for _, marker := range interestMarkers {
				if strings.Contains(interest, marker) {
					interests[interest] = struct{}{}
					break
				}
			}
		}
	}

	seen := map[string]struct{}{}
	var terms []string
	for _, group := range []map[string]struct{}{roles, skills, branches, interests} {
		keys := make([]string, 0, len(group))
		for k := range group {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			if len(terms) == max {
				return terms
			}
			if _, dup := seen[k]; dup {
				continue
			}
			seen[k] = struct{}{}
			terms = append(terms, k)
		}
	}

	if len(terms) == 0 {
		return slices.Clone(DefaultSearchTerms)
	}
	return terms
}
