package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Token is a word with byte offsets into the original text. Norm is the
// folded form used for dictionary keys and rule matching.
type Token struct {
	Start int
	End   int
	Text  string
	Norm  string
}

// Normalize applies NFKC and case folding and collapses whitespace.
func Normalize(s string) string {
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s) // a Caser is stateful, never share one
	return strings.Join(strings.Fields(s), " ")
}

// Tokenize splits text into word tokens. Letters and digits form words;
// apostrophes and hyphens are kept when they sit between two word runes
// ("hasn't", "covid-19").
func Tokenize(text string) []Token {
	var tokens []Token
	start := -1

	flush := func(end int) {
		if start < 0 {
			return
		}
		word := text[start:end]
		tokens = append(tokens, Token{Start: start, End: end, Text: word, Norm: Normalize(word)})
		start = -1
	}

	for i, r := range text {
		if isWordRune(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if (r == '\'' || r == '’' || r == '-') && start >= 0 {
			next, _ := utf8.DecodeRuneInString(text[i+utf8.RuneLen(r):])
			if isWordRune(next) {
				continue
			}
		}
		flush(i)
	}
	flush(len(text))

	return tokens
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsNumber(r)
}

// Words returns only the folded forms.
func Words(text string) []string {
	toks := Tokenize(text)
	out := make([]string, len(toks))
	for i, t := range toks {
		out[i] = t.Norm
	}
	return out
}

// IsNumericOnly reports whether s has no letters.
func IsNumericOnly(s string) bool {
	seen := false
	for _, r := range s {
		if unicode.IsLetter(r) {
			return false
		}
		if unicode.IsDigit(r) {
			seen = true
		}
	}
	return seen
}

// HasAlnum reports whether s has at least one letter or digit.
func HasAlnum(s string) bool {
	for _, r := range s {
		if isWordRune(r) {
			return true
		}
	}
	return false
}
