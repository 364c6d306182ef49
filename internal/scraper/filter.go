// Package scraper fetches raw job postings, normalises them and ingests them
// with duplicate detection.
package scraper

import "strings"

// ContainsExcludedTerm returns true if any exclusion term appears
// (case-insensitive) in the combined title, company and description.
// Matching postings are dropped before the duplicate check.
func ContainsExcludedTerm(title, company, description string, terms []string) bool {
	if len(terms) == 0 {
		return false
	}
	combined := strings.ToLower(title + " " + company + " " + description)
	for _, term := range terms {
		if term == "" {
			continue
		}
		if strings.Contains(combined, strings.ToLower(term)) {
			return true
		}
	}
	return false
}
