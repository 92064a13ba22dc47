package grouping

import (
	"sort"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// FromCandidate turns one resolved mention into a single-mention concept.
func FromCandidate(c models.CandidateMatch, codes []models.CodeEntry) models.ResolvedConcept {
	ids := []string{c.ConceptID}
	if c.OriginalID != "" && c.OriginalID != c.ConceptID {
		ids = append(ids, c.OriginalID)
	}
	sort.Strings(ids)
	return models.ResolvedConcept{
		ConceptID:    c.ConceptID,
		Term:         c.Term,
		BestScore:    c.Score,
		Categories:   sortedUnique(c.Categories),
		Codes:        append([]models.CodeEntry(nil), codes...),
		MentionCount: 1,
		Negated:      c.Negated,
		ConceptIDs:   ids,
		Spans:        []models.Span{c.Span},
	}
}

// Merge collapses concepts sharing a concept id. The output is sorted by
// concept id and does not depend on input order, so Merge(Merge(x)) equals
// Merge(x).
func Merge(concepts []models.ResolvedConcept, systems []string) []models.ResolvedConcept {
	byID := make(map[string]*models.ResolvedConcept, len(concepts))
	var order []string

	for _, c := range concepts {
		acc, ok := byID[c.ConceptID]
		if !ok {
			merged := models.ResolvedConcept{
				ConceptID:    c.ConceptID,
				Term:         c.Term,
				BestScore:    c.BestScore,
				Categories:   append([]string(nil), c.Categories...),
				Codes:        append([]models.CodeEntry(nil), c.Codes...),
				MentionCount: c.MentionCount,
				Negated:      c.Negated,
				ConceptIDs:   append([]string{c.ConceptID}, c.ConceptIDs...),
				Spans:        append([]models.Span(nil), c.Spans...),
			}
			byID[c.ConceptID] = &merged
			order = append(order, c.ConceptID)
			continue
		}

		if c.BestScore > acc.BestScore || (c.BestScore == acc.BestScore && c.Term < acc.Term) {
			acc.Term = c.Term
		}
		if c.BestScore > acc.BestScore {
			acc.BestScore = c.BestScore
		}
		acc.MentionCount += c.MentionCount
		acc.Negated = acc.Negated && c.Negated
		acc.Categories = append(acc.Categories, c.Categories...)
		acc.Codes = append(acc.Codes, c.Codes...)
		acc.ConceptIDs = append(acc.ConceptIDs, c.ConceptIDs...)
		acc.Spans = append(acc.Spans, c.Spans...)
	}

	sort.Strings(order)
	out := make([]models.ResolvedConcept, 0, len(order))
	for _, id := range order {
		c := byID[id]
		if c.MentionCount < 1 {
			c.MentionCount = 1
		}
		c.Categories = sortedUnique(c.Categories)
		c.Codes = uniqueCodes(c.Codes)
		models.SortCodes(c.Codes, systems)
		c.ConceptIDs = sortedUnique(c.ConceptIDs)
		c.Spans = uniqueSpans(c.Spans)
		out = append(out, *c)
	}
	return out
}

type Options struct {
	MaxResults     int
	RequiredSystem string
}

// Group builds presentation rows keyed by each concept's primary code, ranks
// them by score (ties by lowest concept id) and applies the required system
// and result limit. Concepts without codes are skipped.
func Group(concepts []models.ResolvedConcept, opts Options) []models.GroupedRow {
	members := make(map[string][]models.ResolvedConcept)
	var keys []string
	for _, c := range concepts {
		primary, ok := c.PrimaryCode()
		if !ok {
			continue
		}
		key := primary.Key()
		if _, seen := members[key]; !seen {
			keys = append(keys, key)
		}
		members[key] = append(members[key], c)
	}

	rows := make([]models.GroupedRow, 0, len(keys))
	for _, key := range keys {
		row := buildRow(members[key])
		if opts.RequiredSystem != "" && len(row.Codes[opts.RequiredSystem]) == 0 {
			continue
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Score != rows[j].Score {
			return rows[i].Score > rows[j].Score
		}
		if rows[i].ConceptIDs[0] != rows[j].ConceptIDs[0] {
			return rows[i].ConceptIDs[0] < rows[j].ConceptIDs[0]
		}
		return rows[i].PrimaryCode.Key() < rows[j].PrimaryCode.Key()
	})

	if opts.MaxResults > 0 && len(rows) > opts.MaxResults {
		rows = rows[:opts.MaxResults]
	}
	return rows
}

func buildRow(members []models.ResolvedConcept) models.GroupedRow {
	sort.SliceStable(members, func(i, j int) bool {
		if members[i].BestScore != members[j].BestScore {
			return members[i].BestScore > members[j].BestScore
		}
		return members[i].ConceptID < members[j].ConceptID
	})

	primary, _ := members[0].PrimaryCode()
	row := models.GroupedRow{
		PrimaryCode: primary,
		Codes:       make(map[string][]models.CodeEntry),
		Score:       members[0].BestScore,
		Negated:     true,
	}

	var ids, categories []string
	var codes []models.CodeEntry
	seenTerm := make(map[string]struct{})
	for _, m := range members {
		if _, dup := seenTerm[m.Term]; !dup {
			seenTerm[m.Term] = struct{}{}
			row.Terms = append(row.Terms, m.Term)
		}
		ids = append(ids, m.ConceptID)
		ids = append(ids, m.ConceptIDs...)
		categories = append(categories, m.Categories...)
		codes = append(codes, m.Codes...)
		row.MentionCount += m.MentionCount
		row.Negated = row.Negated && m.Negated
	}
	row.ConceptIDs = sortedUnique(ids)
	row.Categories = sortedUnique(categories)
	for _, c := range uniqueCodes(codes) {
		row.Codes[c.System] = append(row.Codes[c.System], c)
	}
	for system := range row.Codes {
		entries := row.Codes[system]
		sort.Slice(entries, func(i, j int) bool { return entries[i].Code < entries[j].Code })
	}
	return row
}

func sortedUnique(items []string) []string {
	if len(items) == 0 {
		return []string{}
	}
	set := make(map[string]struct{}, len(items))
	out := make([]string, 0, len(items))
	for _, item := range items {
		if item == "" {
			continue
		}
		if _, dup := set[item]; dup {
			continue
		}
		set[item] = struct{}{}
		out = append(out, item)
	}
	sort.Strings(out)
	return out
}

// uniqueCodes keeps the first entry per system+code.
func uniqueCodes(codes []models.CodeEntry) []models.CodeEntry {
	seen := make(map[string]struct{}, len(codes))
	out := make([]models.CodeEntry, 0, len(codes))
	for _, c := range codes {
		if _, dup := seen[c.Key()]; dup {
			continue
		}
		seen[c.Key()] = struct{}{}
		out = append(out, c)
	}
	return out
}

func uniqueSpans(spans []models.Span) []models.Span {
	seen := make(map[[2]int]struct{}, len(spans))
	out := make([]models.Span, 0, len(spans))
	for _, s := range spans {
		key := [2]int{s.Start, s.End}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Start != out[j].Start {
			return out[i].Start < out[j].Start
		}
		return out[i].End < out[j].End
	})
	return out
}
