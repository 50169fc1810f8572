// Package filter implements the cheap keyword gate that runs before any
// classifier call. Scoring is the only paid operation in the pipeline, so
// content that cannot plausibly match is rejected here.
package filter

import "strings"

// Cluster is a named group of related keywords.
type Cluster struct {
	Name  string
	Terms []string
}

// Matcher answers whether a piece of text hits any configured keyword.
// Matching is case-insensitive substring containment.
type Matcher struct {
	terms []string
}

// NewMatcher flattens the clusters into a lowercase term list.
func NewMatcher(clusters []Cluster) *Matcher {
	var terms []string
	for _, cluster := range clusters {
		for _, term := range cluster.Terms {
			term = strings.ToLower(strings.TrimSpace(term))
			if term != "" {
				terms = append(terms, term)
			}
		}
	}
	return &Matcher{terms: terms}
}

// Matches reports whether the text contains at least one keyword. A
// matcher with no terms matches nothing.
func (m *Matcher) Matches(text string) bool {
	if len(m.terms) == 0 {
		return false
	}
	lower := strings.ToLower(text)
	for _, term := range m.terms {
		if strings.Contains(lower, term) {
			return true
		}
	}
	return false
}

// TermCount returns how many terms the matcher holds.
func (m *Matcher) TermCount() int {
	return len(m.terms)
}
