package scoring

import (
	"context"
	"math"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
)

const (
	NameBase         = "base"
	NameContextAware = "context_aware"

	saturationFloor = 0.999
	maxLengthTokens = 5
)

// Result carries scored copies of the input candidates. Scorer names the
// variant that produced the final scores, which differs from the configured
// one after a fallback.
type Result struct {
	Candidates []models.CandidateMatch
	Scorer     string
	Fallback   bool
}

// Scorer assigns the final Score of each candidate. Implementations never
// mutate their input.
type Scorer interface {
	Name() string
	Score(ctx context.Context, candidates []models.CandidateMatch) (Result, error)
}

// BaseScorer uses the dictionary match score, replacing it with a blended
// score when the whole batch is saturated at the ceiling.
type BaseScorer struct {
	ceiling float64
}

func NewBaseScorer(ceiling float64) *BaseScorer {
	if ceiling <= 0 || ceiling > 1 || math.IsNaN(ceiling) {
		ceiling = 0.98
	}
	return &BaseScorer{ceiling: ceiling}
}

func (s *BaseScorer) Name() string {
	return NameBase
}

func (s *BaseScorer) Score(_ context.Context, candidates []models.CandidateMatch) (Result, error) {
	out := make([]models.CandidateMatch, len(candidates))
	copy(out, candidates)

	saturated := Saturated(candidates)
	for i := range out {
		if saturated {
			out[i].Score = s.blend(out[i].Span.Text, out[i].Term)
		} else {
			out[i].Score = clamp01(out[i].MatchScore)
		}
	}
	return Result{Candidates: out, Scorer: NameBase}, nil
}

// Saturated reports whether every candidate sits at the match-score ceiling.
func Saturated(candidates []models.CandidateMatch) bool {
	if len(candidates) == 0 {
		return false
	}
	for _, c := range candidates {
		if c.MatchScore < saturationFloor {
			return false
		}
	}
	return true
}

func (s *BaseScorer) blend(surface, term string) float64 {
	overlap := tokenOverlap(surface, term)
	similarity := jaroWinkler(textutil.Normalize(surface), textutil.Normalize(term))
	length := float64(min(len(textutil.Words(term)), maxLengthTokens)) / maxLengthTokens

	score := 0.4*overlap + 0.3*similarity + 0.3*length
	return math.Min(round3(clamp01(score)), s.ceiling)
}
