package textutil

import (
	"testing"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

func TestTokenizeKeepsOffsets(t *testing.T) {
	text := "Pt hasn't had COVID-19, denies Fever."
	toks := Tokenize(text)

	want := []string{"pt", "hasn't", "had", "covid-19", "denies", "fever"}
	if len(toks) != len(want) {
		t.Fatalf("expected %d tokens, got %d: %+v", len(want), len(toks), toks)
	}
	for i, tok := range toks {
		if tok.Norm != want[i] {
			t.Errorf("token %d: expected %q, got %q", i, want[i], tok.Norm)
		}
		if text[tok.Start:tok.End] != tok.Text {
			t.Errorf("token %d offsets do not match text: %q vs %q", i, text[tok.Start:tok.End], tok.Text)
		}
	}
}

func TestTokenizeDropsTrailingHyphen(t *testing.T) {
	toks := Tokenize("well- known")
	if len(toks) != 2 || toks[0].Norm != "well" {
		t.Fatalf("unexpected tokens %+v", toks)
	}
}

func TestNormalizeFoldsWidthAndCase(t *testing.T) {
	if got := Normalize("  Ｄｉａｂｅｔｅｓ   Mellitus "); got != "diabetes mellitus" {
		t.Fatalf("unexpected normalization %q", got)
	}
}

func TestRuleSegmenter(t *testing.T) {
	text := "No fever. Temp 38.5 today; cough present\nDenies pain"
	spans := NewRuleSegmenter().Segment(text)

	want := []string{"No fever.", "Temp 38.5 today;", "cough present", "Denies pain"}
	if len(spans) != len(want) {
		t.Fatalf("expected %d sentences, got %d: %+v", len(want), len(spans), spans)
	}
	for i, s := range spans {
		if s.Text != want[i] {
			t.Errorf("sentence %d: expected %q, got %q", i, want[i], s.Text)
		}
		if text[s.Start:s.End] != s.Text {
			t.Errorf("sentence %d offsets mismatch", i)
		}
	}
}

func TestSentenceFor(t *testing.T) {
	spans := []models.Span{{Start: 0, End: 5}, {Start: 6, End: 12}}
	s, ok := SentenceFor(spans, 7)
	if !ok || s.Start != 6 {
		t.Fatalf("expected second sentence, got %+v %v", s, ok)
	}
	if _, ok := SentenceFor(spans, 20); ok {
		t.Fatal("expected no sentence for out of range offset")
	}
}

func TestContextWindow(t *testing.T) {
	text := "The patient reports severe chest pain radiating to the left arm."
	span := models.Span{Start: 27, End: 37, Text: "chest pain"}
	got := ContextWindow(text, span, 20)
	if got != "ts severe chest pain radiating" {
		t.Fatalf("unexpected window %q", got)
	}
	if ContextWindow(text, span, 0) != "chest pain" {
		t.Fatal("expected span text for zero window")
	}
}

func TestIsNumericOnly(t *testing.T) {
	cases := map[string]bool{"120": true, "12-3": true, "b12": false, "-": false}
	for in, want := range cases {
		if got := IsNumericOnly(in); got != want {
			t.Errorf("IsNumericOnly(%q)=%v, want %v", in, got, want)
		}
	}
}
