package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/logger"
	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/dictionary"
	"github.com/synaptica-ai/clinicalcoder/pkg/filter"
	"github.com/synaptica-ai/clinicalcoder/pkg/lookup"
	"github.com/synaptica-ai/clinicalcoder/pkg/negation"
	"github.com/synaptica-ai/clinicalcoder/pkg/scoring"
	"github.com/synaptica-ai/clinicalcoder/pkg/terminology"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
)

var systems = []string{"ICD10CM", "SNOMEDCT_US", "ICD10PCS", "CPT", "HCPCS", "RXNORM"}

func init() {
	logger.Silence()
}

type fakeIndex struct {
	candidates []models.CandidateMatch
	err        error
	calls      atomic.Int32
}

func (f *fakeIndex) Match(context.Context, string) ([]models.CandidateMatch, error) {
	f.calls.Add(1)
	return f.candidates, f.err
}

type mapSource map[string][]models.CodeEntry

func (m mapSource) Codes(_ context.Context, cui string) ([]models.CodeEntry, error) {
	return m[cui], nil
}

type failingResolver struct{}

func (failingResolver) ResolveAll(context.Context, []string) (lookup.Resolution, error) {
	return lookup.Resolution{}, errors.New("connection reset")
}

type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, scoring.ErrEmbedderUnavailable
}

func (failingEmbedder) Ping(context.Context) error { return nil }

func newOrchestrator(t *testing.T, opts Options, mutate func(*Deps)) *Orchestrator {
	t.Helper()
	cat := terminology.DefaultCatalog()
	detector, err := negation.NewDetector(negation.DefaultRules(), textutil.NewRuleSegmenter())
	if err != nil {
		t.Fatalf("negation detector: %v", err)
	}
	deps := Deps{
		Dictionary: dictionary.NewMatcher(cat.Concepts, dictionary.DefaultOptions()),
		Filter:     filter.New(filter.DefaultRules()),
		Negation:   detector,
		Codes:      lookup.NewStore(lookup.NewMemoryCache(), lookup.NewCatalogSource(cat), lookup.Options{Systems: systems}),
		Scorer:     scoring.NewBaseScorer(0.98),
		Normalizer: terminology.NewNormalizer(cat.Aliases),
	}
	if mutate != nil {
		mutate(&deps)
	}
	if opts.Systems == nil {
		opts.Systems = systems
	}
	if opts.ContextWindow == 0 {
		opts.ContextWindow = 50
	}
	o, err := New(deps, opts)
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return o
}

func extract(t *testing.T, o *Orchestrator, text string) *models.ExtractionResult {
	t.Helper()
	res, err := o.Extract(context.Background(), models.ExtractRequest{ClinicalText: text})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	return res
}

func rowWith(res *models.ExtractionResult, cui string) *models.GroupedRow {
	for i := range res.Codes {
		for _, id := range res.Codes[i].ConceptIDs {
			if id == cui {
				return &res.Codes[i]
			}
		}
	}
	return nil
}

func suppressedWith(res *models.ExtractionResult, cui string) *models.SuppressedRecord {
	for i := range res.Suppressed {
		if res.Suppressed[i].ConceptID == cui {
			return &res.Suppressed[i]
		}
	}
	return nil
}

func TestNegatedConceptIsSuppressed(t *testing.T) {
	res := extract(t, newOrchestrator(t, Options{}, nil), "No history of diabetes.")
	if rowWith(res, "C0011849") != nil {
		t.Fatalf("negated diabetes should not be coded: %+v", res.Codes)
	}
	rec := suppressedWith(res, "C0011849")
	if rec == nil || !rec.Negated || rec.Cue != "no" {
		t.Fatalf("expected suppressed diabetes with cue, got %+v", res.Suppressed)
	}
}

func TestKeepNegatedFlagsInMainOutput(t *testing.T) {
	o := newOrchestrator(t, Options{}, nil)
	keep := true
	res, err := o.Extract(context.Background(), models.ExtractRequest{ClinicalText: "No history of diabetes.", KeepNegated: &keep})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	row := rowWith(res, "C0011849")
	if row == nil || !row.Negated {
		t.Fatalf("expected negated diabetes row, got %+v", res.Codes)
	}
	if row.PrimaryCode.System != "ICD10CM" {
		t.Fatalf("expected ICD-10 primary code, got %+v", row.PrimaryCode)
	}
	if len(res.Suppressed) != 0 {
		t.Fatalf("nothing should be suppressed, got %+v", res.Suppressed)
	}
}

func TestScopeBreakerAffirmsLaterConcept(t *testing.T) {
	res := extract(t, newOrchestrator(t, Options{}, nil), "No fever, but cough present.")
	cough := rowWith(res, "C0010200")
	if cough == nil || cough.Negated {
		t.Fatalf("cough should be affirmed, got %+v", res.Codes)
	}
	if rowWith(res, "C0015967") != nil {
		t.Fatal("fever should not be coded")
	}
	if rec := suppressedWith(res, "C0015967"); rec == nil || rec.Cue != "no" {
		t.Fatalf("expected suppressed fever, got %+v", res.Suppressed)
	}
}

func TestDeniesAcrossSentences(t *testing.T) {
	o := newOrchestrator(t, Options{}, nil)

	res := extract(t, o, "Patient denies chest pain but reports fever.")
	if suppressedWith(res, "C0008031") == nil || rowWith(res, "C0015967") == nil {
		t.Fatalf("unexpected result %+v", res)
	}
	if rowWith(res, "C0030705") != nil {
		t.Fatal("non-clinical category should be filtered")
	}

	res = extract(t, o, "No evidence of pneumonia. Patient has fever.")
	if rec := suppressedWith(res, "C0032285"); rec == nil || rec.Cue != "no evidence of" {
		t.Fatalf("expected suppressed pneumonia, got %+v", res.Suppressed)
	}
	if rowWith(res, "C0015967") == nil {
		t.Fatal("fever in the next sentence should be affirmed")
	}
}

func TestSharedCodeGroupsConcepts(t *testing.T) {
	res := extract(t, newOrchestrator(t, Options{}, nil), "Essential hypertension, long history of hypertension.")
	if len(res.Codes) != 1 {
		t.Fatalf("expected a single I10 row, got %+v", res.Codes)
	}
	row := res.Codes[0]
	if row.PrimaryCode.Code != "I10" {
		t.Fatalf("expected I10, got %+v", row.PrimaryCode)
	}
	if len(row.ConceptIDs) != 2 || row.ConceptIDs[0] != "C0020538" || row.ConceptIDs[1] != "C0085580" {
		t.Fatalf("expected both concept ids, got %v", row.ConceptIDs)
	}
	if row.MentionCount != 2 {
		t.Fatalf("expected two mentions, got %d", row.MentionCount)
	}
}

func TestAliasNormalizedBeforeLookup(t *testing.T) {
	res := extract(t, newOrchestrator(t, Options{}, nil), "Family history of NIDDM 2.")
	row := rowWith(res, "C0011860")
	if row == nil {
		t.Fatalf("expected canonical concept row, got %+v", res.Codes)
	}
	if row.PrimaryCode.Code != "E11.9" {
		t.Fatalf("expected E11.9, got %+v", row.PrimaryCode)
	}
	if rowWith(res, "C1832387") != row {
		t.Fatalf("original id should be retained on the row, got %v", row.ConceptIDs)
	}
}

func TestLookupMissDropsConcept(t *testing.T) {
	res := extract(t, newOrchestrator(t, Options{}, nil), "Reports lightheadedness today.")
	if len(res.Codes) != 0 {
		t.Fatalf("expected no rows, got %+v", res.Codes)
	}
	if len(res.Dropped) != 1 || res.Dropped[0] != "C0220870" {
		t.Fatalf("expected dropped concept, got %v", res.Dropped)
	}
}

func TestInvalidConfigFailsBeforeMatching(t *testing.T) {
	index := &fakeIndex{}
	o := newOrchestrator(t, Options{}, func(d *Deps) { d.Dictionary = index })

	bad := 1.5
	_, err := o.Extract(context.Background(), models.ExtractRequest{ClinicalText: "fever", SimilarityThreshold: &bad})
	if !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
	if index.calls.Load() != 0 {
		t.Fatal("dictionary must not be consulted with invalid options")
	}

	negative := -1
	if _, err := o.Extract(context.Background(), models.ExtractRequest{ClinicalText: "fever", MaxResults: &negative}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig for negative max_results, got %v", err)
	}

	if _, err := New(Deps{}, Options{SimilarityThreshold: -0.1}); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected construction to fail, got %v", err)
	}
}

func TestDictionaryUnavailableYieldsEmptyResult(t *testing.T) {
	var states []State
	o := newOrchestrator(t, Options{OnTransition: func(_, to State) { states = append(states, to) }}, func(d *Deps) {
		d.Dictionary = &fakeIndex{err: dictionary.ErrUnavailable}
	})
	res := extract(t, o, "fever")
	if len(res.Codes) != 0 || len(res.Suppressed) != 0 {
		t.Fatalf("expected empty result, got %+v", res)
	}
	if states[len(states)-1] != StateDone {
		t.Fatalf("expected DONE, got %v", states)
	}
}

func TestTransitionsAreSequential(t *testing.T) {
	var states []State
	o := newOrchestrator(t, Options{OnTransition: func(_, to State) { states = append(states, to) }}, nil)
	extract(t, o, "Fever and cough.")

	want := []State{StateReceived, StateMatched, StateFiltered, StateNegationChecked, StateCodeResolved, StateScored, StateGrouped, StateDone}
	if len(states) != len(want) {
		t.Fatalf("expected %v, got %v", want, states)
	}
	for i := range want {
		if states[i] != want[i] {
			t.Fatalf("transition %d: expected %s, got %s", i, want[i], states[i])
		}
	}
}

func TestLookupErrorFailsWithStep(t *testing.T) {
	var last State
	o := newOrchestrator(t, Options{OnTransition: func(_, to State) { last = to }}, func(d *Deps) {
		d.Codes = failingResolver{}
	})
	res, err := o.Extract(context.Background(), models.ExtractRequest{ClinicalText: "Fever."})
	if res != nil {
		t.Fatalf("failed run must not return partial output: %+v", res)
	}
	var stepErr *StepError
	if !errors.As(err, &stepErr) || stepErr.Step != StateCodeResolved {
		t.Fatalf("expected StepError at CODE_RESOLVED, got %v", err)
	}
	if last != StateFailed {
		t.Fatalf("expected FAILED, got %s", last)
	}
}

func TestRoundTripIsByteIdentical(t *testing.T) {
	o := newOrchestrator(t, Options{}, nil)
	text := "65 yo with type 2 diabetes and essential hypertension. Denies chest pain. " +
		"Reports cough and fever; no vomiting. Takes metformin and aspirin. Hypertension stable."

	encode := func(res *models.ExtractionResult) []byte {
		body, err := json.Marshal(struct {
			Codes      []models.GroupedRow       `json:"codes"`
			Suppressed []models.SuppressedRecord `json:"suppressed"`
		}{res.Codes, res.Suppressed})
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return body
	}

	first := encode(extract(t, o, text))
	second := encode(extract(t, o, text))
	if !bytes.Equal(first, second) {
		t.Fatalf("outputs differ:\n%s\n%s", first, second)
	}
	if !strings.Contains(string(first), "E11.9") {
		t.Fatalf("expected diabetes code in output: %s", first)
	}
}

func TestScoresWithinBounds(t *testing.T) {
	res := extract(t, newOrchestrator(t, Options{}, nil),
		"Asthma, COPD and heart failure. Nausea with emesis, tachycardia, dehydration. Prior cholecystectomy.")
	if len(res.Codes) == 0 {
		t.Fatal("expected rows")
	}
	for _, row := range res.Codes {
		if row.Score < 0 || row.Score > 1 {
			t.Fatalf("score out of bounds: %+v", row)
		}
		if row.MentionCount < 1 {
			t.Fatalf("mention count below one: %+v", row)
		}
	}
}

func TestMaxResultsKeepsTopScores(t *testing.T) {
	var (
		text       strings.Builder
		candidates []models.CandidateMatch
		codes      = mapSource{}
	)
	for i := 0; i < 20; i++ {
		word := fmt.Sprintf("finding%02d", i)
		start := text.Len()
		text.WriteString(word + " ")
		cui := fmt.Sprintf("C%07d", i)
		candidates = append(candidates, models.CandidateMatch{
			Span:       models.Span{Start: start, End: start + len(word), Text: word},
			ConceptID:  cui,
			Term:       word,
			MatchScore: 0.5 + 0.02*float64(i),
			Score:      0.5 + 0.02*float64(i),
			Categories: []string{"T047"},
		})
		codes[cui] = []models.CodeEntry{{System: "ICD10CM", Code: fmt.Sprintf("X%02d", i)}}
	}

	o := newOrchestrator(t, Options{MaxResults: 5}, func(d *Deps) {
		d.Dictionary = &fakeIndex{candidates: candidates}
		d.Codes = lookup.NewStore(nil, codes, lookup.Options{Systems: systems})
	})
	res := extract(t, o, text.String())
	if len(res.Codes) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(res.Codes))
	}
	for i, row := range res.Codes {
		want := fmt.Sprintf("C%07d", 19-i)
		if row.ConceptIDs[0] != want {
			t.Fatalf("row %d: expected %s, got %s", i, want, row.ConceptIDs[0])
		}
	}

	three := 3
	limited, err := o.Extract(context.Background(), models.ExtractRequest{ClinicalText: text.String(), MaxResults: &three})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if len(limited.Codes) != 3 {
		t.Fatalf("expected request override of 3, got %d", len(limited.Codes))
	}
}

func TestThresholdAppliesToMatchScore(t *testing.T) {
	o := newOrchestrator(t, Options{SimilarityThreshold: 0.9}, nil)
	if res := extract(t, o, "longstanding hypertensions"); len(res.Codes) != 0 {
		t.Fatalf("approximate match below threshold should be filtered, got %+v", res.Codes)
	}

	lower := 0.7
	res, err := o.Extract(context.Background(), models.ExtractRequest{ClinicalText: "longstanding hypertensions", SimilarityThreshold: &lower})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if rowWith(res, "C0020538") == nil {
		t.Fatalf("expected hypertension with lowered threshold, got %+v", res.Codes)
	}
}

func TestRerankFallbackKeepsExtractionAlive(t *testing.T) {
	o := newOrchestrator(t, Options{}, func(d *Deps) {
		d.Scorer = scoring.NewContextAwareScorer(scoring.NewBaseScorer(0.98), failingEmbedder{}, 0.3, time.Second, 2)
	})
	res := extract(t, o, "Fever and cough.")
	if res.Scorer != scoring.NameBase {
		t.Fatalf("expected base scorer after fallback, got %s", res.Scorer)
	}
	if len(res.Codes) != 2 {
		t.Fatalf("expected two rows, got %+v", res.Codes)
	}
}
