package ingest

import (
	"strings"

	models "evsales-dashboard/database/models_pkg"
	"evsales-dashboard/rules"
)

// MatchKind records which resolution step produced a match.
type MatchKind string

const (
	MatchNone     MatchKind = "NONE"
	MatchExact    MatchKind = "EXACT"
	MatchAlias    MatchKind = "ALIAS"
	MatchContains MatchKind = "CONTAINS"
)

// Resolver maps free-text manufacturer names to canonical companies.
//
// Steps, in order, first hit wins:
//  1. exact name equality
//  2. alias rules in table order: the source name contains one of the rule's patterns
//  3. containment either way between source and canonical name, in company order
//
// Step 3 can pick the wrong company when one canonical name contains another;
// callers get the MatchKind so coverage reports can single those out.
type Resolver struct {
	companies []models.Company
	byName    map[string]int
	aliases   []aliasEntry
}

type aliasEntry struct {
	company  int
	patterns []string
}

// NewResolver builds a resolver over companies (iteration order is preserved).
// Alias rules naming an unknown company are ignored.
func NewResolver(companies []models.Company, aliases []rules.AliasRule) *Resolver {
	r := &Resolver{
		companies: companies,
		byName:    make(map[string]int, len(companies)),
	}
	for i, c := range companies {
		if _, dup := r.byName[c.Name]; !dup {
			r.byName[c.Name] = i
		}
	}
	for _, a := range aliases {
		idx, ok := r.byName[a.Company]
		if !ok {
			continue
		}
		r.aliases = append(r.aliases, aliasEntry{company: idx, patterns: a.Match})
	}
	return r
}

// Resolve returns the matching company, or nil and MatchNone.
func (r *Resolver) Resolve(name string) (*models.Company, MatchKind) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, MatchNone
	}

	if idx, ok := r.byName[name]; ok {
		return &r.companies[idx], MatchExact
	}

	for _, a := range r.aliases {
		for _, p := range a.patterns {
			if strings.Contains(name, p) {
				return &r.companies[a.company], MatchAlias
			}
		}
	}

	for i := range r.companies {
		canonical := r.companies[i].Name
		if canonical == "" {
			continue
		}
		if strings.Contains(name, canonical) || strings.Contains(canonical, name) {
			return &r.companies[i], MatchContains
		}
	}
	return nil, MatchNone
}
