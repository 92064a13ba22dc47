package models

import (
	"sort"
	"time"
)

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // note, coded
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

// Span is a contiguous region of the source text. Offsets are byte offsets,
// End is exclusive.
type Span struct {
	Start int    `json:"start"`
	End   int    `json:"end"`
	Text  string `json:"text"`
}

func (s Span) Len() int {
	return s.End - s.Start
}

// Contains reports whether o lies entirely inside s.
func (s Span) Contains(o Span) bool {
	return o.Start >= s.Start && o.End <= s.End
}

func (s Span) Overlaps(o Span) bool {
	return s.Start < o.End && o.Start < s.End
}

// CandidateMatch is one dictionary hit. One span may produce several
// candidates with different concept ids.
type CandidateMatch struct {
	Span          Span     `json:"span"`
	ConceptID     string   `json:"concept_id"`
	OriginalID    string   `json:"original_concept_id,omitempty"`
	Term          string   `json:"term"`
	MatchScore    float64  `json:"match_score"`
	Score         float64  `json:"score"`
	Categories    []string `json:"categories"`
	Negated       bool     `json:"negated"`
	NegationCue   string   `json:"negation_cue,omitempty"`
	ContextWindow string   `json:"context_window,omitempty"`
}

// CodeEntry is a single coding-system code attached to a concept.
type CodeEntry struct {
	System      string `json:"system"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (c CodeEntry) Key() string {
	return c.System + "|" + c.Code
}

// SortCodes orders codes by the position of their system in systems, unknown
// systems last, then by system name and code.
func SortCodes(codes []CodeEntry, systems []string) {
	rank := make(map[string]int, len(systems))
	for i, sys := range systems {
		if _, dup := rank[sys]; !dup {
			rank[sys] = i
		}
	}
	pos := func(sys string) int {
		if r, ok := rank[sys]; ok {
			return r
		}
		return len(systems)
	}
	sort.SliceStable(codes, func(i, j int) bool {
		pi, pj := pos(codes[i].System), pos(codes[j].System)
		if pi != pj {
			return pi < pj
		}
		if codes[i].System != codes[j].System {
			return codes[i].System < codes[j].System
		}
		return codes[i].Code < codes[j].Code
	})
}

type ResolvedConcept struct {
	ConceptID    string      `json:"concept_id"`
	Term         string      `json:"term"`
	BestScore    float64     `json:"best_score"`
	Categories   []string    `json:"categories"`
	Codes        []CodeEntry `json:"codes"`
	MentionCount int         `json:"mention_count"`
	Negated      bool        `json:"negated"`
	ConceptIDs   []string    `json:"all_cuis_seen"`
	Spans        []Span      `json:"spans,omitempty"`
}

// PrimaryCode returns the first code by coding-system order.
func (r ResolvedConcept) PrimaryCode() (CodeEntry, bool) {
	if len(r.Codes) == 0 {
		return CodeEntry{}, false
	}
	return r.Codes[0], true
}

// GroupedRow is the presentation unit: one or more resolved concepts sharing
// a primary code.
type GroupedRow struct {
	PrimaryCode  CodeEntry              `json:"primary_code"`
	Terms        []string               `json:"terms"`
	ConceptIDs   []string               `json:"concept_ids"`
	Codes        map[string][]CodeEntry `json:"codes"`
	Score        float64                `json:"score"`
	Categories   []string               `json:"categories"`
	Negated      bool                   `json:"negated"`
	MentionCount int                    `json:"mention_count"`
}

type SuppressedRecord struct {
	Term      string `json:"term"`
	ConceptID string `json:"concept_id"`
	Negated   bool   `json:"negated"`
	Cue       string `json:"cue,omitempty"`
	Span      Span   `json:"span"`
}

type ExtractionResult struct {
	ID         string             `json:"id"`
	Codes      []GroupedRow       `json:"codes"`
	Suppressed []SuppressedRecord `json:"suppressed"`
	Dropped    []string           `json:"dropped,omitempty"` // concept ids with no codes
	Scorer     string             `json:"scorer"`
	CreatedAt  time.Time          `json:"created_at"`
}

// ExtractRequest is the inbound payload for a single note.
type ExtractRequest struct {
	NoteID              string   `json:"note_id,omitempty"`
	ClinicalText        string   `json:"clinical_text"`
	SimilarityThreshold *float64 `json:"similarity_threshold,omitempty"`
	MaxResults          *int     `json:"max_results,omitempty"`
	KeepNegated         *bool    `json:"keep_negated,omitempty"`
}
