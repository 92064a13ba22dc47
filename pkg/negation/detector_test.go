package negation

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
)

func mention(t *testing.T, text, surface, cui string) models.CandidateMatch {
	t.Helper()
	start := strings.Index(text, surface)
	if start < 0 {
		t.Fatalf("%q not found in %q", surface, text)
	}
	return models.CandidateMatch{
		Span:      models.Span{Start: start, End: start + len(surface), Text: surface},
		ConceptID: cui,
	}
}

func newDetector(t *testing.T) *Detector {
	t.Helper()
	d, err := NewDetector(DefaultRules(), textutil.NewRuleSegmenter())
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	return d
}

func TestDetect(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		surface string
		negated bool
		cue     string
	}{
		{"cue before mention", "Patient denies chest pain but reports fever.", "chest pain", true, "denies"},
		{"breaker ends scope", "Patient denies chest pain but reports fever.", "fever", false, ""},
		{"multi word cue", "No evidence of pneumonia. Patient has fever.", "pneumonia", true, "no evidence of"},
		{"scope stops at sentence end", "No evidence of pneumonia. Patient has fever.", "fever", false, ""},
		{"comma does not end scope", "No fever, but cough present", "fever", true, "no"},
		{"but affirms", "No fever, but cough present", "cough", false, ""},
		{"history phrasing", "No history of diabetes", "diabetes", true, "no"},
		{"pseudo cue", "No change in cough since last visit.", "cough", false, ""},
		{"curly apostrophe", "He doesn’t have asthma.", "asthma", true, "doesn't"},
		{"short cue not folded", "Clinical notes mention fever.", "fever", false, ""},
		{"cue after mention", "Fever is not present.", "Fever", false, ""},
		{"nearest cue governs", "No cough however denies fever", "fever", true, "denies"},
		{"newline splits sentence", "Denies nausea\ncough persists", "cough", false, ""},
	}

	d := newDetector(t)
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			c := mention(t, tc.text, tc.surface, "C1")
			got := d.Detect(tc.text, []models.CandidateMatch{c})
			if len(got) != 1 {
				t.Fatalf("expected one result, got %d", len(got))
			}
			if got[0].Negated != tc.negated {
				t.Fatalf("negated: expected %v, got %v", tc.negated, got[0].Negated)
			}
			if got[0].NegationCue != tc.cue {
				t.Fatalf("cue: expected %q, got %q", tc.cue, got[0].NegationCue)
			}
		})
	}
}

func TestDetectDoesNotMutateInput(t *testing.T) {
	text := "Denies fever."
	input := []models.CandidateMatch{mention(t, text, "fever", "C1")}
	out := newDetector(t).Detect(text, input)
	if !out[0].Negated {
		t.Fatal("expected negated copy")
	}
	if input[0].Negated {
		t.Fatal("input should be left untouched")
	}
}

func TestPluralFolding(t *testing.T) {
	if !pluralEqual("negative", "negatives") {
		t.Fatal("expected plural fold on long token")
	}
	if pluralEqual("not", "notes") {
		t.Fatal("short tokens must not fold")
	}

	d, err := NewDetector(RulesConfig{Rules: []Rule{{Phrase: "negative for", Action: ActionNegate}}}, nil)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	text := "Cultures negatives for pneumonia"
	got := d.Detect(text, []models.CandidateMatch{mention(t, text, "pneumonia", "C1")})
	if !got[0].Negated {
		t.Fatal("expected plural cue to negate")
	}
}

func TestNewDetectorRejectsUnknownAction(t *testing.T) {
	_, err := NewDetector(RulesConfig{Rules: []Rule{{Phrase: "no", Action: "maybe"}}}, nil)
	if err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestLoadRules(t *testing.T) {
	path := filepath.Join(t.TempDir(), "negation.yaml")
	content := "rules:\n  - phrase: absent\n    action: negate\n  - phrase: still\n    action: terminate\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	cfg, err := LoadRules(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	d, err := NewDetector(cfg, nil)
	if err != nil {
		t.Fatalf("new detector: %v", err)
	}
	text := "Absent wheeze, still cough"
	got := d.Detect(text, []models.CandidateMatch{
		mention(t, text, "wheeze", "C1"),
		mention(t, text, "cough", "C2"),
	})
	if !got[0].Negated || got[1].Negated {
		t.Fatalf("unexpected statuses: %+v", got)
	}
}

func TestPartition(t *testing.T) {
	affirmed, negated := Partition([]models.CandidateMatch{
		{ConceptID: "C1"},
		{ConceptID: "C2", Negated: true},
		{ConceptID: "C3"},
	})
	if len(affirmed) != 2 || affirmed[1].ConceptID != "C3" {
		t.Fatalf("unexpected affirmed: %+v", affirmed)
	}
	if len(negated) != 1 || negated[0].ConceptID != "C2" {
		t.Fatalf("unexpected negated: %+v", negated)
	}
}
