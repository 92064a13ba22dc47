package scoring

import (
	"context"
	"time"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
)

type Options struct {
	Rerank   bool
	Embedder Embedder
	Weight   float64
	Ceiling  float64
	Budget   time.Duration
	Workers  int
}

// Select picks the scorer variant once. Reranking is used only when it is
// enabled, an embedder is configured and the embedder answers a ping within
// the budget.
func Select(ctx context.Context, opts Options) Scorer {
	base := NewBaseScorer(opts.Ceiling)
	if !opts.Rerank {
		return base
	}
	if opts.Embedder == nil {
		logger.Log.Warn("context rerank enabled without an embedding service, using base scorer")
		return base
	}

	budget := opts.Budget
	if budget <= 0 {
		budget = 2 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, budget)
	defer cancel()
	if err := opts.Embedder.Ping(pingCtx); err != nil {
		logger.Log.WithError(err).Warn("embedding service unreachable, using base scorer")
		return base
	}
	return NewContextAwareScorer(base, opts.Embedder, opts.Weight, budget, opts.Workers)
}
