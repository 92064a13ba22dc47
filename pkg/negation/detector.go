package negation

import (
	"fmt"
	"sort"
	"strings"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
)

type compiledRule struct {
	phrase string
	tokens []string
	action Action
}

// event is a rule occurrence in the text.
type event struct {
	start  int
	end    int
	action Action
	cue    string
}

// Detector flags candidates that fall inside a negation scope. Scope never
// crosses a sentence boundary. Nested and double negation are not handled.
type Detector struct {
	segmenter textutil.Segmenter
	byFirst   map[string][]compiledRule
}

func NewDetector(cfg RulesConfig, segmenter textutil.Segmenter) (*Detector, error) {
	if segmenter == nil {
		segmenter = textutil.NewRuleSegmenter()
	}
	d := &Detector{segmenter: segmenter, byFirst: make(map[string][]compiledRule)}
	for i, r := range cfg.Rules {
		if !r.Action.valid() {
			return nil, fmt.Errorf("negation rule %d (%q): unknown action %q", i, r.Phrase, r.Action)
		}
		tokens := textutil.Words(r.Phrase)
		if len(tokens) == 0 {
			return nil, fmt.Errorf("negation rule %d: empty phrase", i)
		}
		for j := range tokens {
			tokens[j] = foldApostrophe(tokens[j])
		}
		d.byFirst[tokens[0]] = append(d.byFirst[tokens[0]], compiledRule{
			phrase: strings.Join(tokens, " "),
			tokens: tokens,
			action: r.Action,
		})
	}
	for first := range d.byFirst {
		rules := d.byFirst[first]
		// longest phrase first so the first hit at a position is the winner
		sort.SliceStable(rules, func(a, b int) bool { return len(rules[a].tokens) > len(rules[b].tokens) })
	}
	return d, nil
}

// Detect returns copies of candidates with Negated and NegationCue set. A
// candidate takes the status of the nearest preceding negate or terminate
// event within its sentence.
func (d *Detector) Detect(text string, candidates []models.CandidateMatch) []models.CandidateMatch {
	out := make([]models.CandidateMatch, len(candidates))
	copy(out, candidates)
	if len(candidates) == 0 {
		return out
	}

	sentences := d.segmenter.Segment(text)
	events := d.scan(text, sentences)

	for i := range out {
		out[i].Negated = false
		out[i].NegationCue = ""
		sentence, ok := textutil.SentenceFor(sentences, out[i].Span.Start)
		if !ok {
			continue
		}
		var governing *event
		for j := range events {
			ev := &events[j]
			if ev.start < sentence.Start || ev.end > out[i].Span.Start {
				continue
			}
			if ev.action == ActionPseudo {
				continue
			}
			governing = ev
		}
		if governing != nil && governing.action == ActionNegate {
			out[i].Negated = true
			out[i].NegationCue = governing.cue
		}
	}
	return out
}

// scan finds rule events in text order, taking the longest phrase at each
// position and never matching across a sentence boundary.
func (d *Detector) scan(text string, sentences []models.Span) []event {
	tokens := textutil.Tokenize(text)
	var events []event

	for i := 0; i < len(tokens); {
		sentence, _ := textutil.SentenceFor(sentences, tokens[i].Start)
		matched := false
		for _, first := range stems(foldApostrophe(tokens[i].Norm)) {
			for _, rule := range d.byFirst[first] {
				n := len(rule.tokens)
				if i+n > len(tokens) || tokens[i+n-1].End > sentence.End {
					continue
				}
				if !matchTokens(rule.tokens, tokens[i:i+n]) {
					continue
				}
				events = append(events, event{
					start:  tokens[i].Start,
					end:    tokens[i+n-1].End,
					action: rule.action,
					cue:    rule.phrase,
				})
				i += n
				matched = true
				break
			}
			if matched {
				break
			}
		}
		if !matched {
			i++
		}
	}
	return events
}

func matchTokens(rule []string, tokens []textutil.Token) bool {
	for k, want := range rule {
		if !pluralEqual(want, foldApostrophe(tokens[k].Norm)) {
			return false
		}
	}
	return true
}

// pluralEqual treats a trailing "s" or "es" on the text token as optional.
// Short rule tokens must match exactly so that "notes" never reads as "not".
func pluralEqual(rule, tok string) bool {
	if tok == rule {
		return true
	}
	if len(rule) < minFoldLength {
		return false
	}
	return tok == rule+"s" || tok == rule+"es"
}

const minFoldLength = 4

func stems(tok string) []string {
	out := []string{tok}
	if t := strings.TrimSuffix(tok, "es"); t != tok && t != "" {
		out = append(out, t)
	}
	if t := strings.TrimSuffix(tok, "s"); t != tok && t != "" {
		out = append(out, t)
	}
	return out
}

func foldApostrophe(s string) string {
	return strings.ReplaceAll(s, "’", "'")
}

// Partition splits candidates into affirmed and negated, keeping order.
func Partition(candidates []models.CandidateMatch) (affirmed, negated []models.CandidateMatch) {
	for _, c := range candidates {
		if c.Negated {
			negated = append(negated, c)
		} else {
			affirmed = append(affirmed, c)
		}
	}
	return affirmed, negated
}
