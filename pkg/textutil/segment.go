package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// Segmenter yields sentence spans covering the text.
type Segmenter interface {
	Segment(text string) []models.Span
}

// RuleSegmenter splits on terminal punctuation followed by whitespace or end
// of text, on semicolons and on line breaks. Decimal points ("38.5") do not
// split because they are not followed by whitespace.
type RuleSegmenter struct{}

func NewRuleSegmenter() *RuleSegmenter {
	return &RuleSegmenter{}
}

func (RuleSegmenter) Segment(text string) []models.Span {
	var spans []models.Span
	start := 0

	emit := func(end int) {
		raw := text[start:end]
		trimmedLeft := strings.TrimLeftFunc(raw, unicode.IsSpace)
		s := start + (len(raw) - len(trimmedLeft))
		e := s + len(strings.TrimRightFunc(trimmedLeft, unicode.IsSpace))
		if e > s {
			spans = append(spans, models.Span{Start: s, End: e, Text: text[s:e]})
		}
		start = end
	}

	for i, r := range text {
		switch r {
		case '\n', '\r', ';':
			emit(i + utf8.RuneLen(r))
		case '.', '!', '?':
			next := i + utf8.RuneLen(r)
			if next >= len(text) {
				continue
			}
			nr, _ := utf8.DecodeRuneInString(text[next:])
			if unicode.IsSpace(nr) {
				emit(next)
			}
		}
	}
	if start < len(text) {
		emit(len(text))
	}
	return spans
}

// SentenceFor returns the sentence containing offset, or false.
func SentenceFor(sentences []models.Span, offset int) (models.Span, bool) {
	for _, s := range sentences {
		if offset >= s.Start && offset < s.End {
			return s, true
		}
	}
	return models.Span{}, false
}
