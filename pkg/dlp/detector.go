package dlp

import (
	"regexp"
	"sort"
	"unicode/utf8"
)

type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// Finding is one PHI match in a text.
type Finding struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Type  string `json:"type"`
}

type Detector struct {
	rules []compiledRule
}

func NewDetector(cfg RulesConfig) (*Detector, error) {
	var compiled []compiledRule
	for _, rule := range cfg.Rules {
		if !rule.Enabled {
			continue
		}
		re, err := regexp.Compile(rule.Pattern)
		if err != nil {
			return nil, err
		}
		compiled = append(compiled, compiledRule{rule: rule, re: re})
	}
	return &Detector{rules: compiled}, nil
}

// Detect lists findings ordered by position.
func (d *Detector) Detect(text string) []Finding {
	if d == nil {
		return nil
	}
	var findings []Finding
	for _, rule := range d.rules {
		for _, m := range rule.re.FindAllStringIndex(text, -1) {
			findings = append(findings, Finding{Start: m[0], End: m[1], Type: rule.rule.Type})
		}
	}
	sort.SliceStable(findings, func(i, j int) bool { return findings[i].Start < findings[j].Start })
	return findings
}

// Redact replaces every match with its rule mask, applying rules in order.
func (d *Detector) Redact(text string) string {
	if d == nil {
		return text
	}
	for _, rule := range d.rules {
		text = rule.re.ReplaceAllString(text, rule.rule.Mask)
	}
	return text
}

// Excerpt redacts text and truncates it to at most limit bytes on a rune
// boundary.
func (d *Detector) Excerpt(text string, limit int) string {
	redacted := d.Redact(text)
	if limit <= 0 || len(redacted) <= limit {
		return redacted
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(redacted[cut]) {
		cut--
	}
	return redacted[:cut]
}
