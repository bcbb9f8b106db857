package ingest

import (
	"strings"

	"jobchommie/listing-service/internal/model"
)

// discardReason classifies a candidate that must not reach the dedup check.
type discardReason int

const (
	keep discardReason = iota
	invalid
	excluded
)

// screen decides whether a candidate may be stored. A blank title is invalid
// because title is required. A candidate is excluded when any exclusion term
// appears (case-insensitive) in its title, company or description.
func screen(c model.Candidate, excludeTerms []string) discardReason {
	if strings.TrimSpace(c.Title) == "" {
		return invalid
	}
	if containsExcludedTerm(c.Title, c.Company, c.Description, excludeTerms) {
		return excluded
	}
	return keep
}

func containsExcludedTerm(title, company, description string, terms []string) bool {
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
