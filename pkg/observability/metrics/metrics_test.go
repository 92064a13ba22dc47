package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
)

func TestWritePrometheus(t *testing.T) {
	Init()
	IncExtractions()
	AddCandidatesMatched(3)

	rec := httptest.NewRecorder()
	WritePrometheus(rec)

	body := rec.Body.String()
	if !strings.Contains(body, "clinicalcoder_extractions_total 1\n") {
		t.Fatalf("missing extraction counter:\n%s", body)
	}
	if !strings.Contains(body, "clinicalcoder_candidates_matched_total 3\n") {
		t.Fatalf("missing candidate counter:\n%s", body)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/plain") {
		t.Fatalf("unexpected content type %q", ct)
	}
	if Snapshot()["clinicalcoder_extractions_total"] != 1 {
		t.Fatalf("unexpected snapshot %v", Snapshot())
	}
}
