package filter

import (
	"os"
	"path/filepath"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
	"gopkg.in/yaml.v3"
)

// Rules configures the category filter. Zero values fall back to defaults
// only through DefaultRules; an explicit empty whitelist keeps nothing.
type Rules struct {
	Categories    []string `yaml:"categories"`
	Denylist      []string `yaml:"denylist"`
	ShortAllowed  []string `yaml:"short_allowed"`
	MinTermLength int      `yaml:"min_term_length"`
}

func DefaultRules() Rules {
	return Rules{
		Categories: []string{
			"T047", "T184", "T048", "T046", "T060", "T061", "T121", "T125",
			"T126", "T129", "T130", "T037", "T033", "T034", "T074", "T167",
			"T168", "T169", "T170", "T171", "T190", "T191",
		},
		Denylist: []string{
			"jan", "feb", "mar", "apr", "may", "jun", "jul", "aug", "sep", "sept",
			"oct", "nov", "dec", "january", "february", "march", "april", "june",
			"july", "august", "september", "october", "november", "december",
			"mon", "tue", "wed", "thu", "fri", "sat", "sun", "monday", "tuesday",
			"wednesday", "thursday", "friday", "saturday", "sunday",
			"cold", "hot", "new", "old", "big", "small", "high", "low",
		},
		ShortAllowed:  []string{"bp", "hr", "rr", "o2", "co2", "ht"},
		MinTermLength: 3,
	}
}

func LoadRules(path string) (Rules, error) {
	if path == "" {
		return DefaultRules(), nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return Rules{}, err
	}
	rules := DefaultRules()
	if err := yaml.Unmarshal(content, &rules); err != nil {
		return Rules{}, err
	}
	return rules, nil
}

// Filter narrows candidates to clinically meaningful categories. It holds no
// mutable state and is safe for concurrent use.
type Filter struct {
	categories map[string]struct{}
	denylist   map[string]struct{}
	short      map[string]struct{}
	minLength  int
}

func New(rules Rules) *Filter {
	f := &Filter{
		categories: toSet(rules.Categories, false),
		denylist:   toSet(rules.Denylist, true),
		short:      toSet(rules.ShortAllowed, true),
		minLength:  rules.MinTermLength,
	}
	return f
}

func toSet(items []string, normalize bool) map[string]struct{} {
	set := make(map[string]struct{}, len(items))
	for _, item := range items {
		if normalize {
			item = textutil.Normalize(item)
		}
		set[item] = struct{}{}
	}
	return set
}

// Apply keeps candidates that pass every rule and whose base match score is
// at least threshold. Input order is preserved.
func (f *Filter) Apply(candidates []models.CandidateMatch, threshold float64) []models.CandidateMatch {
	out := make([]models.CandidateMatch, 0, len(candidates))
	for _, c := range candidates {
		if c.MatchScore < threshold {
			continue
		}
		if !f.Keep(c) {
			continue
		}
		out = append(out, c)
	}
	return out
}

// Keep reports whether a single candidate survives the category and lexical
// rules.
func (f *Filter) Keep(c models.CandidateMatch) bool {
	if !f.hasCategory(c.Categories) {
		return false
	}
	surface := textutil.Normalize(c.Span.Text)
	if surface == "" || !textutil.HasAlnum(surface) || textutil.IsNumericOnly(surface) {
		return false
	}
	if _, denied := f.denylist[surface]; denied {
		return false
	}
	if len([]rune(surface)) < f.minLength {
		if _, ok := f.short[surface]; !ok {
			return false
		}
	}
	return true
}

func (f *Filter) hasCategory(categories []string) bool {
	for _, c := range categories {
		if _, ok := f.categories[c]; ok {
			return true
		}
	}
	return false
}
