package lexical

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"lowercases", "Hello World", "hello world"},
		{"collapses whitespace", "a  b\t c\n d", "a b c d"},
		{"trims", "  padded  ", "padded"},
		{"preserves diacritics", "Đệ Quy", "đệ quy"},
		{"empty", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Normalize(tt.input))
		})
	}
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected []string
	}{
		{"splits on punctuation", "foo, bar.baz!", []string{"foo", "bar", "baz"}},
		{"keeps underscores", "snake_case name", []string{"snake_case", "name"}},
		{"keeps digits", "http2 server", []string{"http2", "server"}},
		{"unicode letters", "đệ quy là gì", []string{"đệ", "quy", "là", "gì"}},
		{"empty", "  ", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Tokenize(tt.input))
		})
	}
}

func TestDistinctTokens(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, DistinctTokens("a b a c b"))
	assert.Equal(t, []string{"go"}, DistinctTokens("Go go GO"))
}

func TestScoreSingleToken(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		text     string
		expected float64
	}{
		{"whole word hit", "cache", "the cache layer stores embeddings", 1.0},
		{"no hit", "cache", "the storage layer", 0.0},
		{"substring is not a word", "cat", "concatenate the strings", 0.0},
		{"case insensitive", "CACHE", "Cache invalidation is hard", 1.0},
		{"diacritic token", "quy", "thuật toán đệ quy", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Score(tt.query, tt.text), 1e-9)
		})
	}
}

func TestScoreMultiToken(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		text     string
		expected float64
	}{
		{
			name:     "exact phrase, all tokens",
			query:    "leader election",
			text:     "raft leader election explained",
			expected: 1.0, // 0.75 + 0.25*1.0
		},
		{
			name:     "all tokens, no phrase",
			query:    "election leader",
			text:     "the leader runs an election",
			expected: 0.9, // 0.9 * 1.0
		},
		{
			name:     "half the tokens, no phrase",
			query:    "leader election",
			text:     "the leader was reelected",
			expected: 0.45, // 0.9 * 0.5
		},
		{
			name:     "no tokens",
			query:    "leader election",
			text:     "consensus requires quorum",
			expected: 0.0,
		},
		{
			name:     "phrase with diacritics",
			query:    "đệ quy",
			text:     "hàm đệ quy gọi chính nó",
			expected: 1.0,
		},
		{
			// "island" must not count as the phrase "is land"; only the
			// standalone "is" token matches.
			name:     "phrase respects word boundaries",
			query:    "is land",
			text:     "the island is remote",
			expected: 0.45, // 0.9 * 0.5
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, Score(tt.query, tt.text), 1e-9)
		})
	}
}

func TestScoreEmptyQuery(t *testing.T) {
	assert.Equal(t, 0.0, Score("", "some text"))
	assert.Equal(t, 0.0, Score("...", "some text"))
}

func TestScorePhraseBeatsScatteredTokens(t *testing.T) {
	query := "đệ quy"
	phraseHit := Score(query, "giải thích đệ quy bằng ví dụ")
	scattered := Score(query, "quy tắc đệ trình hồ sơ")

	assert.Greater(t, phraseHit, scattered)
}

func TestContainsPhrase(t *testing.T) {
	assert.True(t, containsPhrase("raft leader election notes", "leader election"))
	assert.False(t, containsPhrase("misleader elections", "leader election"))
	assert.True(t, containsPhrase("leader election", "leader election"))
	assert.False(t, containsPhrase("text", ""))
	// A rejected first occurrence must not mask a later valid one.
	assert.True(t, containsPhrase("xleader election, leader election", "leader election"))
}
