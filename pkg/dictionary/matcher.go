package dictionary

import (
	"context"
	"sort"
	"strings"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/terminology"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
)

type Options struct {
	MaxWindow int
	MinLength int
	Threshold float64
	Stopwords []string

	// ShortAllowed lists abbreviations ("bp", "o2") matched even though
	// they are shorter than MinLength.
	ShortAllowed []string
}

func DefaultOptions() Options {
	return Options{
		MaxWindow: 5,
		MinLength: 3,
		Threshold: 0.7,
		Stopwords: defaultStopwords,
	}
}

var defaultStopwords = []string{
	"a", "an", "and", "are", "as", "at", "be", "by", "for", "from", "has", "had",
	"have", "he", "her", "his", "in", "is", "it", "no", "not", "of", "on", "or",
	"she", "that", "the", "their", "there", "they", "this", "to", "was", "were",
	"with",
}

type conceptRef struct {
	cui        string
	term       string
	categories []string
}

type entry struct {
	key      string
	grams    int
	concepts []int
}

// Matcher is an in-memory approximate dictionary over catalog terms. It is
// immutable after construction and safe for concurrent use.
type Matcher struct {
	opts      Options
	stopwords map[string]struct{}
	short     map[string]struct{}
	concepts  []conceptRef
	entries   []entry
	exact     map[string]int
	postings  map[string][]int
}

func NewMatcher(concepts []terminology.Concept, opts Options) *Matcher {
	if opts.MaxWindow <= 0 {
		opts.MaxWindow = 5
	}
	if opts.MinLength <= 0 {
		opts.MinLength = 3
	}
	if opts.Threshold <= 0 || opts.Threshold > 1 {
		opts.Threshold = 0.7
	}

	m := &Matcher{
		opts:      opts,
		stopwords: make(map[string]struct{}, len(opts.Stopwords)),
		short:     make(map[string]struct{}, len(opts.ShortAllowed)),
		exact:     make(map[string]int),
		postings:  make(map[string][]int),
	}
	for _, w := range opts.Stopwords {
		m.stopwords[textutil.Normalize(w)] = struct{}{}
	}
	for _, w := range opts.ShortAllowed {
		m.short[textutil.Normalize(w)] = struct{}{}
	}

	for _, c := range concepts {
		idx := len(m.concepts)
		m.concepts = append(m.concepts, conceptRef{cui: c.CUI, term: c.Term, categories: c.Categories})
		for _, s := range c.Strings() {
			key := strings.Join(textutil.Words(s), " ")
			if key == "" {
				continue
			}
			m.add(key, idx)
		}
	}
	return m
}

func (m *Matcher) add(key string, concept int) {
	if pos, ok := m.exact[key]; ok {
		e := &m.entries[pos]
		for _, c := range e.concepts {
			if c == concept {
				return
			}
		}
		e.concepts = append(e.concepts, concept)
		return
	}
	grams := trigrams(key)
	pos := len(m.entries)
	m.entries = append(m.entries, entry{key: key, grams: len(grams), concepts: []int{concept}})
	m.exact[key] = pos
	for g := range grams {
		m.postings[g] = append(m.postings[g], pos)
	}
}

// Size is the number of distinct dictionary strings.
func (m *Matcher) Size() int {
	return len(m.entries)
}

type hit struct {
	span     models.Span
	score    float64
	concepts []int
}

func (m *Matcher) Match(ctx context.Context, text string) ([]models.CandidateMatch, error) {
	if len(m.entries) == 0 {
		return nil, ErrUnavailable
	}
	tokens := textutil.Tokenize(text)

	var hits []hit
	for i := range tokens {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if m.isStopword(tokens[i].Norm) {
			continue
		}
		for j := i; j < len(tokens) && j-i < m.opts.MaxWindow; j++ {
			if m.isStopword(tokens[j].Norm) {
				continue
			}
			start, end := tokens[i].Start, tokens[j].End
			key := joinNorms(tokens[i : j+1])
			if end-start < m.opts.MinLength {
				if _, ok := m.short[key]; !ok {
					continue
				}
			}
			score, concepts := m.lookup(key)
			if len(concepts) == 0 {
				continue
			}
			hits = append(hits, hit{
				span:     models.Span{Start: start, End: end, Text: text[start:end]},
				score:    score,
				concepts: concepts,
			})
		}
	}

	selected := resolveOverlaps(hits)

	var out []models.CandidateMatch
	for _, h := range selected {
		for _, ci := range h.concepts {
			c := m.concepts[ci]
			out = append(out, models.CandidateMatch{
				Span:       h.span,
				ConceptID:  c.cui,
				Term:       c.term,
				MatchScore: h.score,
				Score:      h.score,
				Categories: append([]string(nil), c.categories...),
			})
		}
	}
	sort.SliceStable(out, func(a, b int) bool {
		if out[a].Span.Start != out[b].Span.Start {
			return out[a].Span.Start < out[b].Span.Start
		}
		return out[a].ConceptID < out[b].ConceptID
	})
	return out, nil
}

func (m *Matcher) isStopword(norm string) bool {
	_, ok := m.stopwords[norm]
	return ok
}

// lookup returns the best score for key and every concept reaching it.
func (m *Matcher) lookup(key string) (float64, []int) {
	if pos, ok := m.exact[key]; ok {
		return 1.0, append([]int(nil), m.entries[pos].concepts...)
	}

	grams := trigrams(key)
	shared := make(map[int]int)
	for g := range grams {
		for _, pos := range m.postings[g] {
			shared[pos]++
		}
	}

	best := 0.0
	var concepts []int
	seen := make(map[int]struct{})
	for pos, n := range shared {
		e := m.entries[pos]
		sim := float64(n) / float64(len(grams)+e.grams-n)
		if sim < m.opts.Threshold {
			continue
		}
		switch {
		case sim > best:
			best = sim
			concepts = concepts[:0]
			seen = make(map[int]struct{})
			fallthrough
		case sim == best:
			for _, c := range e.concepts {
				if _, dup := seen[c]; !dup {
					seen[c] = struct{}{}
					concepts = append(concepts, c)
				}
			}
		}
	}
	sort.Ints(concepts)
	return best, concepts
}

// resolveOverlaps keeps non-overlapping hits, preferring higher scores, then
// longer spans, then earlier starts.
func resolveOverlaps(hits []hit) []hit {
	sort.SliceStable(hits, func(a, b int) bool {
		if hits[a].score != hits[b].score {
			return hits[a].score > hits[b].score
		}
		la, lb := hits[a].span.Len(), hits[b].span.Len()
		if la != lb {
			return la > lb
		}
		return hits[a].span.Start < hits[b].span.Start
	})

	var kept []hit
	for _, h := range hits {
		clash := false
		for _, k := range kept {
			if k.span.Overlaps(h.span) {
				clash = true
				break
			}
		}
		if !clash {
			kept = append(kept, h)
		}
	}
	return kept
}

func joinNorms(tokens []textutil.Token) string {
	var b strings.Builder
	for i, t := range tokens {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(t.Norm)
	}
	return b.String()
}

func trigrams(s string) map[string]struct{} {
	padded := []rune(" " + s + " ")
	out := make(map[string]struct{}, len(padded))
	for i := 0; i+3 <= len(padded); i++ {
		out[string(padded[i:i+3])] = struct{}{}
	}
	return out
}
