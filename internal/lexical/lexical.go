// Package lexical scores queries against chunk text using whole-word and
// phrase matching. Scoring is language-aware: normalization keeps every
// non-ASCII letter, so diacritics survive and "đệ quy" matches exactly.
package lexical

import (
	"regexp"
	"strings"
	"unicode"
)

var (
	tokenRe      = regexp.MustCompile(`[\p{L}\p{N}_]+`)
	whitespaceRe = regexp.MustCompile(`\s+`)
)

// Normalize lowercases and collapses whitespace. Non-ASCII letters are
// preserved as-is.
func Normalize(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return whitespaceRe.ReplaceAllString(s, " ")
}

// Tokenize splits normalized text on Unicode word boundaries. Tokens are
// runs of letters, digits and underscore.
func Tokenize(s string) []string {
	return tokenRe.FindAllString(Normalize(s), -1)
}

// DistinctTokens returns the unique tokens of a query in first-seen order.
func DistinctTokens(s string) []string {
	tokens := Tokenize(s)
	seen := make(map[string]struct{}, len(tokens))
	distinct := tokens[:0]
	for _, tok := range tokens {
		if _, ok := seen[tok]; ok {
			continue
		}
		seen[tok] = struct{}{}
		distinct = append(distinct, tok)
	}
	return distinct
}

// Score rates text against query in [0,1].
//
// A single-token query scores binary: 1.0 when the token occurs as a whole
// word, else 0.0. A multi-token query blends whole-phrase presence with the
// fraction of distinct query tokens present as whole words: phrase hit
// yields min(1, 0.75 + 0.25*fraction), otherwise 0.9*fraction.
func Score(query, text string) float64 {
	qNorm := Normalize(query)
	qTokens := DistinctTokens(qNorm)
	if len(qTokens) == 0 {
		return 0
	}

	tNorm := Normalize(text)
	tSet := make(map[string]struct{})
	for _, tok := range tokenRe.FindAllString(tNorm, -1) {
		tSet[tok] = struct{}{}
	}

	if len(qTokens) == 1 {
		if _, ok := tSet[qTokens[0]]; ok {
			return 1.0
		}
		return 0.0
	}

	matched := 0
	for _, tok := range qTokens {
		if _, ok := tSet[tok]; ok {
			matched++
		}
	}
	fraction := float64(matched) / float64(len(qTokens))

	if containsPhrase(tNorm, qNorm) {
		score := 0.75 + 0.25*fraction
		if score > 1 {
			score = 1
		}
		return score
	}
	return 0.9 * fraction
}

// containsPhrase reports whether phrase occurs in text respecting word
// boundaries: the characters adjacent to the match must not be word runes.
func containsPhrase(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for start := 0; ; {
		idx := strings.Index(text[start:], phrase)
		if idx < 0 {
			return false
		}
		idx += start
		if boundaryBefore(text, idx) && boundaryAfter(text, idx+len(phrase)) {
			return true
		}
		start = idx + 1
		if start >= len(text) {
			return false
		}
	}
}

func boundaryBefore(text string, idx int) bool {
	if idx == 0 {
		return true
	}
	r, _ := lastRune(text[:idx])
	return !isWordRune(r)
}

func boundaryAfter(text string, idx int) bool {
	if idx >= len(text) {
		return true
	}
	r := firstRune(text[idx:])
	return !isWordRune(r)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

func firstRune(s string) rune {
	for _, r := range s {
		return r
	}
	return 0
}

func lastRune(s string) (rune, int) {
	var last rune
	var size int
	for i, r := range s {
		last = r
		size = len(s) - i
	}
	return last, size
}
