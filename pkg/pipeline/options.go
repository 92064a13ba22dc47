package pipeline

import (
	"fmt"
	"math"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/config"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// Options are fixed when the Orchestrator is built. Threshold, result limit
// and keep-negated may be overridden per request.
type Options struct {
	SimilarityThreshold float64
	MaxResults          int
	KeepNegated         bool
	ContextWindow       int
	RequiredSystem      string
	Systems             []string
	// OnTransition, when set, observes every state change.
	OnTransition func(from, to State)
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SimilarityThreshold: cfg.SimilarityThreshold,
		MaxResults:          cfg.MaxResults,
		KeepNegated:         cfg.KeepNegated,
		ContextWindow:       cfg.ContextWindow,
		RequiredSystem:      cfg.RequiredCodingSystem,
		Systems:             cfg.CodingSystems,
	}
}

func (o Options) Validate() error {
	if math.IsNaN(o.SimilarityThreshold) || o.SimilarityThreshold < 0 || o.SimilarityThreshold > 1 {
		return fmt.Errorf("%w: similarity_threshold %v outside [0,1]", ErrInvalidConfig, o.SimilarityThreshold)
	}
	if o.MaxResults < 0 {
		return fmt.Errorf("%w: max_results %d is negative", ErrInvalidConfig, o.MaxResults)
	}
	if o.ContextWindow < 0 {
		return fmt.Errorf("%w: context_window %d is negative", ErrInvalidConfig, o.ContextWindow)
	}
	if o.RequiredSystem != "" && len(o.Systems) > 0 && !contains(o.Systems, o.RequiredSystem) {
		return fmt.Errorf("%w: required system %s is not a configured coding system", ErrInvalidConfig, o.RequiredSystem)
	}
	return nil
}

// With applies the request overrides and validates the result.
func (o Options) With(req models.ExtractRequest) (Options, error) {
	if req.SimilarityThreshold != nil {
		o.SimilarityThreshold = *req.SimilarityThreshold
	}
	if req.MaxResults != nil {
		o.MaxResults = *req.MaxResults
	}
	if req.KeepNegated != nil {
		o.KeepNegated = *req.KeepNegated
	}
	return o, o.Validate()
}

func contains(items []string, want string) bool {
	for _, item := range items {
		if item == want {
			return true
		}
	}
	return false
}
