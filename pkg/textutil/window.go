package textutil

import (
	"strings"
	"unicode/utf8"

	"github.com/synaptica-ai/clinicalcoder/pkg/common/models"
)

// ContextWindow returns the text around span, size/2 bytes on each side,
// widened to rune boundaries.
func ContextWindow(text string, span models.Span, size int) string {
	if size <= 0 || span.Start < 0 || span.End > len(text) || span.Start > span.End {
		return span.Text
	}
	half := size / 2
	start := span.Start - half
	if start < 0 {
		start = 0
	}
	end := span.End + half
	if end > len(text) {
		end = len(text)
	}
	for start > 0 && !utf8.RuneStart(text[start]) {
		start--
	}
	for end < len(text) && !utf8.RuneStart(text[end]) {
		end++
	}
	return strings.TrimSpace(text[start:end])
}
