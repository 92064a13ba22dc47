package scoring

import (
	"math"

	"github.com/synaptica-ai/clinicalcoder/pkg/textutil"
)

// tokenOverlap is the share of term words present in the surface text.
func tokenOverlap(surface, term string) float64 {
	termWords := textutil.Words(term)
	if len(termWords) == 0 {
		return 0
	}
	present := make(map[string]struct{})
	for _, w := range textutil.Words(surface) {
		present[w] = struct{}{}
	}
	hits := 0
	for _, w := range termWords {
		if _, ok := present[w]; ok {
			hits++
		}
	}
	return float64(hits) / float64(len(termWords))
}

func jaroWinkler(s1, s2 string) float64 {
	if s1 == s2 {
		return 1.0
	}
	if s1 == "" || s2 == "" {
		return 0
	}

	matchDistance := max(len(s1), len(s2))/2 - 1
	if matchDistance < 0 {
		matchDistance = 0
	}

	s1Matches := make([]bool, len(s1))
	s2Matches := make([]bool, len(s2))

	matches := 0
	for i := range s1 {
		start := max(0, i-matchDistance)
		end := min(i+matchDistance+1, len(s2))
		for j := start; j < end; j++ {
			if s2Matches[j] || s1[i] != s2[j] {
				continue
			}
			s1Matches[i] = true
			s2Matches[j] = true
			matches++
			break
		}
	}
	if matches == 0 {
		return 0
	}

	transpositions := 0
	k := 0
	for i := range s1 {
		if !s1Matches[i] {
			continue
		}
		for !s2Matches[k] {
			k++
		}
		if s1[i] != s2[k] {
			transpositions++
		}
		k++
	}
	transpositions /= 2

	m := float64(matches)
	jaro := (m/float64(len(s1)) + m/float64(len(s2)) + (m-float64(transpositions))/m) / 3

	prefix := 0
	for i := 0; i < min(4, min(len(s1), len(s2))); i++ {
		if s1[i] != s2[i] {
			break
		}
		prefix++
	}
	return jaro + float64(prefix)*0.1*(1-jaro)
}

func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		af, bf := float64(a[i]), float64(b[i])
		dot += af * bf
		na += af * af
		nb += bf * bf
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) || x < 0 {
		return 0
	}
	if x > 1 {
		return 1
	}
	return x
}

func round3(x float64) float64 {
	return math.Round(x*1000) / 1000
}
