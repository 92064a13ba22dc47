package pipeline

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/dictionary"
	"github.com/synaptica-ai/clinicalcoder/pkg/filter"
	"github.com/synaptica-ai/clinicalcoder/pkg/grouping"
	"github.com/synaptica-ai/clinicalcoder/pkg/lookup"
	"github.com/synaptica-ai/clinicalcoder/pkg/negation"
	"github.com/synaptica-ai/clinicalcoder/pkg/observability/metrics"
	"github.com/synaptica-ai/clinicalcoder/pkg/scoring"
	"github.com/synaptica-ai/clinicalcoder/pkg/terminology"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
)

// CodeResolver resolves a batch of concept ids. *lookup.Store satisfies it.
type CodeResolver interface {
	ResolveAll(ctx context.Context, cuis []string) (lookup.Resolution, error)
}

type Deps struct {
	Dictionary dictionary.Index
	Filter     *filter.Filter
	Negation   *negation.Detector
	Codes      CodeResolver
	Scorer     scoring.Scorer
	// Normalizer is optional; without it concept ids pass through unchanged.
	Normalizer *terminology.Normalizer
}

// Orchestrator runs one extraction per call. It is safe for concurrent use;
// every run owns its intermediate values.
type Orchestrator struct {
	deps Deps
	opts Options
}

func New(deps Deps, opts Options) (*Orchestrator, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	switch {
	case deps.Dictionary == nil:
		return nil, fmt.Errorf("%w: dictionary is required", ErrInvalidConfig)
	case deps.Filter == nil:
		return nil, fmt.Errorf("%w: filter is required", ErrInvalidConfig)
	case deps.Negation == nil:
		return nil, fmt.Errorf("%w: negation detector is required", ErrInvalidConfig)
	case deps.Codes == nil:
		return nil, fmt.Errorf("%w: code resolver is required", ErrInvalidConfig)
	case deps.Scorer == nil:
		return nil, fmt.Errorf("%w: scorer is required", ErrInvalidConfig)
	}
	return &Orchestrator{deps: deps, opts: opts}, nil
}

// ScorerName reports the scorer variant chosen at construction.
func (o *Orchestrator) ScorerName() string {
	return o.deps.Scorer.Name()
}

type run struct {
	id    string
	state State
	opts  Options
	log   *logrus.Entry
}

func (r *run) advance(to State) {
	from := r.state
	r.state = to
	r.log.WithFields(logrus.Fields{"from": from, "to": to}).Debug("pipeline transition")
	if r.opts.OnTransition != nil {
		r.opts.OnTransition(from, to)
	}
}

func (r *run) fail(step State, err error) error {
	r.advance(StateFailed)
	metrics.IncExtractionsFailed()
	r.log.WithError(err).WithField("step", step).Error("extraction failed")
	return &StepError{Step: step, Err: err}
}

// Extract runs the full pipeline over req.ClinicalText. Only malformed
// options (ErrInvalidConfig) and *StepError are returned as errors.
func (o *Orchestrator) Extract(ctx context.Context, req models.ExtractRequest) (*models.ExtractionResult, error) {
	opts, err := o.opts.With(req)
	if err != nil {
		return nil, err
	}

	r := &run{id: ulid.Make().String(), state: StateReceived, opts: opts}
	r.log = logger.WithFields(logrus.Fields{"extraction_id": r.id, "note_id": req.NoteID})
	if opts.OnTransition != nil {
		opts.OnTransition("", StateReceived)
	}
	text := req.ClinicalText

	candidates, err := o.deps.Dictionary.Match(ctx, text)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, r.fail(StateMatched, ctxErr)
		}
		r.log.WithError(err).Warn("concept dictionary unavailable, returning empty result")
		candidates = nil
	}
	metrics.AddCandidatesMatched(len(candidates))
	r.advance(StateMatched)

	filtered := o.deps.Filter.Apply(candidates, opts.SimilarityThreshold)
	metrics.AddCandidatesFiltered(len(candidates) - len(filtered))
	for i := range filtered {
		filtered[i].ContextWindow = textutil.ContextWindow(text, filtered[i].Span, opts.ContextWindow)
	}
	r.advance(StateFiltered)

	checked := o.deps.Negation.Detect(text, filtered)
	affirmed, negated := negation.Partition(checked)
	active := affirmed
	suppressed := make([]models.SuppressedRecord, 0, len(negated))
	if opts.KeepNegated {
		active = checked
	} else {
		for _, c := range negated {
			suppressed = append(suppressed, models.SuppressedRecord{
				Term:      c.Term,
				ConceptID: c.ConceptID,
				Negated:   true,
				Cue:       c.NegationCue,
				Span:      c.Span,
			})
		}
		metrics.AddNegationsSuppressed(len(negated))
	}
	r.advance(StateNegationChecked)

	resolved, dropped, err := o.resolve(ctx, r, active)
	if err != nil {
		return nil, r.fail(StateCodeResolved, err)
	}
	r.advance(StateCodeResolved)

	scored, err := o.deps.Scorer.Score(ctx, resolved.candidates)
	if err != nil {
		return nil, r.fail(StateScored, err)
	}
	r.advance(StateScored)

	mentions := make([]models.ResolvedConcept, 0, len(scored.Candidates))
	for _, c := range scored.Candidates {
		mentions = append(mentions, grouping.FromCandidate(c, resolved.codes[c.ConceptID]))
	}
	rows := grouping.Group(grouping.Merge(mentions, opts.Systems), grouping.Options{
		MaxResults:     opts.MaxResults,
		RequiredSystem: opts.RequiredSystem,
	})
	r.advance(StateGrouped)

	sort.SliceStable(suppressed, func(i, j int) bool {
		if suppressed[i].Span.Start != suppressed[j].Span.Start {
			return suppressed[i].Span.Start < suppressed[j].Span.Start
		}
		return suppressed[i].ConceptID < suppressed[j].ConceptID
	})

	result := &models.ExtractionResult{
		ID:         r.id,
		Codes:      rows,
		Suppressed: suppressed,
		Dropped:    dropped,
		Scorer:     scored.Scorer,
		CreatedAt:  time.Now().UTC(),
	}
	r.advance(StateDone)
	metrics.IncExtractions()
	r.log.WithFields(logrus.Fields{
		"rows":       len(rows),
		"suppressed": len(suppressed),
		"dropped":    len(dropped),
		"scorer":     scored.Scorer,
	}).Info("extraction complete")
	return result, nil
}

type resolution struct {
	candidates []models.CandidateMatch
	codes      map[string][]models.CodeEntry
}

// resolve canonicalises concept ids, looks up codes and drops candidates
// whose concept has none.
func (o *Orchestrator) resolve(ctx context.Context, r *run, candidates []models.CandidateMatch) (resolution, []string, error) {
	normalized := make([]models.CandidateMatch, len(candidates))
	ids := make([]string, 0, len(candidates))
	for i, c := range candidates {
		if canonical := o.deps.Normalizer.Canonical(c.ConceptID); canonical != c.ConceptID {
			c.OriginalID = c.ConceptID
			c.ConceptID = canonical
		}
		normalized[i] = c
		ids = append(ids, c.ConceptID)
	}

	res, err := o.deps.Codes.ResolveAll(ctx, ids)
	if err != nil {
		return resolution{}, nil, err
	}
	if err := ctx.Err(); err != nil {
		return resolution{}, nil, err
	}

	for _, miss := range res.Misses {
		metrics.IncLookupMisses()
		r.log.WithField("cui", miss).Warn("no codes for concept, dropping")
	}

	kept := make([]models.CandidateMatch, 0, len(normalized))
	for _, c := range normalized {
		if len(res.Codes[c.ConceptID]) > 0 {
			kept = append(kept, c)
		}
	}
	dropped := res.Misses
	if dropped == nil {
		dropped = []string{}
	}
	return resolution{candidates: kept, codes: res.Codes}, dropped, nil
}
