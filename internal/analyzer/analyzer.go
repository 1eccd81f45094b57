// Package analyzer classifies generated code text against configured pattern
// groups without executing anything. Each group carries a category label
// (e.g. "write", "read") and an ordered list of regular expressions; the
// analyzer reports every match from every group, not just the first.
//
// The analyzer itself is fail-open: a category with no configured group is
// simply never matched. Whether that requires approval is the gate's call.
package analyzer

import (
	"fmt"
	"regexp"
	"strings"
)

// PatternGroup is one named classification with its detection patterns.
type PatternGroup struct {
	// Category is the classification label, e.g. "write" or "read".
	Category string `koanf:"category"`

	// Patterns are the regular expressions that indicate this category.
	Patterns []string `koanf:"patterns"`
}

// compiledGroup pairs a category with its compiled expressions.
type compiledGroup struct {
	category string
	patterns []*regexp.Regexp
}

// Analyzer scans code text against a fixed set of compiled pattern groups.
// It holds no mutable state and is safe for concurrent use.
type Analyzer struct {
	groups []compiledGroup
}

// New compiles the configured pattern groups. A group without a category or
// with an invalid expression is a configuration error, reported eagerly so
// the daemon fails fast at startup rather than mid-pipeline.
func New(groups []PatternGroup) (*Analyzer, error) {
	a := &Analyzer{groups: make([]compiledGroup, 0, len(groups))}

	for _, g := range groups {
		if g.Category == "" {
			return nil, fmt.Errorf("pattern group missing category")
		}
		cg := compiledGroup{category: g.Category, patterns: make([]*regexp.Regexp, 0, len(g.Patterns))}
		for _, p := range g.Patterns {
			re, err := regexp.Compile(p)
			if err != nil {
				return nil, fmt.Errorf("pattern group %q: invalid pattern %q: %w", g.Category, p, err)
			}
			cg.patterns = append(cg.patterns, re)
		}
		a.groups = append(a.groups, cg)
	}

	return a, nil
}

// MustNew compiles the groups, panicking on error.
func MustNew(groups []PatternGroup) *Analyzer {
	a, err := New(groups)
	if err != nil {
		panic(err)
	}
	return a
}

// Analyze scans code text and returns every match. It is deterministic,
// performs no I/O, and may be called concurrently.
func (a *Analyzer) Analyze(code string) *Result {
	result := &Result{
		ByCategory: make(map[string]int),
		Matches:    make([]Match, 0),
	}

	for _, g := range a.groups {
		for _, re := range g.patterns {
			for _, idx := range re.FindAllStringIndex(code, -1) {
				result.Matches = append(result.Matches, Match{
					Category: g.category,
					Pattern:  re.String(),
					Start:    idx[0],
					End:      idx[1],
					Line:     strings.Count(code[:idx[0]], "\n") + 1,
					Text:     code[idx[0]:idx[1]],
				})
				result.ByCategory[g.category]++
			}
		}
	}

	return result
}
