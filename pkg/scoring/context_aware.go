package scoring

import (
	"context"
	"fmt"
	"time"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/observability/metrics"
	"golang.org/x/sync/errgroup"
)

// ContextAwareScorer blends the base score with the similarity between the
// mention's context window and the concept term. Any failure inside the time
// budget yields the base scores instead of an error.
type ContextAwareScorer struct {
	base     *BaseScorer
	embedder Embedder
	weight   float64
	budget   time.Duration
	workers  int
}

func NewContextAwareScorer(base *BaseScorer, embedder Embedder, weight float64, budget time.Duration, workers int) *ContextAwareScorer {
	if workers <= 0 {
		workers = 4
	}
	if budget <= 0 {
		budget = 2 * time.Second
	}
	return &ContextAwareScorer{
		base:     base,
		embedder: embedder,
		weight:   clamp01(weight),
		budget:   budget,
		workers:  workers,
	}
}

func (s *ContextAwareScorer) Name() string {
	return NameContextAware
}

func (s *ContextAwareScorer) Score(ctx context.Context, candidates []models.CandidateMatch) (Result, error) {
	baseResult, err := s.base.Score(ctx, candidates)
	if err != nil {
		return Result{}, err
	}
	if len(candidates) == 0 {
		return Result{Candidates: baseResult.Candidates, Scorer: NameContextAware}, nil
	}

	reranked, err := s.rerank(ctx, baseResult.Candidates)
	if err != nil {
		metrics.IncRerankFallbacks()
		logger.Log.WithError(err).WithField("candidates", len(candidates)).
			Warn("context rerank unavailable, using base scores")
		baseResult.Fallback = true
		return baseResult, nil
	}
	return Result{Candidates: reranked, Scorer: NameContextAware}, nil
}

func (s *ContextAwareScorer) rerank(ctx context.Context, scored []models.CandidateMatch) ([]models.CandidateMatch, error) {
	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	out := make([]models.CandidateMatch, len(scored))
	copy(out, scored)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i := range out {
		i := i
		g.Go(func() error {
			window := out[i].ContextWindow
			if window == "" {
				window = out[i].Span.Text
			}
			vectors, err := s.embedder.Embed(gctx, []string{window, out[i].Term})
			if err != nil {
				return fmt.Errorf("embed candidate %s: %w", out[i].ConceptID, err)
			}
			if len(vectors) != 2 {
				return fmt.Errorf("embed candidate %s: expected 2 vectors, got %d", out[i].ConceptID, len(vectors))
			}
			contextScore := clamp01(cosine(vectors[0], vectors[1]))

			out[i].Score = round3(clamp01((1-s.weight)*out[i].Score + s.weight*contextScore))
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
