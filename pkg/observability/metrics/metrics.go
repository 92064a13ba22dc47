package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

var (
	extractions       atomic.Int64
	extractionsFailed atomic.Int64
	candidatesMatched atomic.Int64
	candidatesDropped atomic.Int64
	negationsSuppress atomic.Int64
	lookupMisses      atomic.Int64
	cacheHits         atomic.Int64
	cacheMisses       atomic.Int64
	cacheWriteFailed  atomic.Int64
	rerankFallbacks   atomic.Int64
	resultsPublished  atomic.Int64
)

type counter struct {
	name  string
	help  string
	value *atomic.Int64
}

var counters = []counter{
	{"clinicalcoder_extractions_total", "Extractions completed.", &extractions},
	{"clinicalcoder_extractions_failed_total", "Extractions that ended in the FAILED state.", &extractionsFailed},
	{"clinicalcoder_candidates_matched_total", "Candidate matches returned by the concept dictionary.", &candidatesMatched},
	{"clinicalcoder_candidates_filtered_total", "Candidates removed by the category filter.", &candidatesDropped},
	{"clinicalcoder_negations_suppressed_total", "Negated candidates moved to the suppressed list.", &negationsSuppress},
	{"clinicalcoder_lookup_misses_total", "Concepts dropped because no codes were found.", &lookupMisses},
	{"clinicalcoder_code_cache_hits_total", "Code cache hits.", &cacheHits},
	{"clinicalcoder_code_cache_misses_total", "Code cache misses.", &cacheMisses},
	{"clinicalcoder_code_cache_write_failures_total", "Failed code cache write-backs.", &cacheWriteFailed},
	{"clinicalcoder_rerank_fallbacks_total", "Extractions that fell back to base scores.", &rerankFallbacks},
	{"clinicalcoder_results_published_total", "Coded results published to the event bus.", &resultsPublished},
}

func Init() {
	for _, c := range counters {
		c.value.Store(0)
	}
}

func IncExtractions() { extractions.Add(1) }
func IncExtractionsFailed() { extractionsFailed.Add(1) }
func AddCandidatesMatched(n int) { candidatesMatched.Add(int64(n)) }
func AddCandidatesFiltered(n int) { candidatesDropped.Add(int64(n)) }
func AddNegationsSuppressed(n int) { negationsSuppress.Add(int64(n)) }
func IncLookupMisses() { lookupMisses.Add(1) }
func IncCacheHits() { cacheHits.Add(1) }
func IncCacheMisses() { cacheMisses.Add(1) }
func IncCacheWriteFailures() { cacheWriteFailed.Add(1) }
func IncRerankFallbacks() { rerankFallbacks.Add(1) }
func IncResultsPublished() { resultsPublished.Add(1) }

// Snapshot returns current counter values keyed by metric name.
func Snapshot() map[string]int64 {
	out := make(map[string]int64, len(counters))
	for _, c := range counters {
		out[c.name] = c.value.Load()
	}
	return out
}

func WritePrometheus(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")
	for _, c := range counters {
		fmt.Fprintf(w, "# HELP %s %s\n", c.name, c.help)
		fmt.Fprintf(w, "# TYPE %s counter\n", c.name)
		fmt.Fprintf(w, "%s %d\n", c.name, c.value.Load())
	}
}
