package corrective

import (
	"strings"

	"github.com/tmcfar/evidence-mcp/internal/lexical"
)

// maxRewriteTokens bounds the content-bearing tokens kept by the heuristic.
const maxRewriteTokens = 10

// fillerWords are stripped before rebuilding the query. The list skews
// toward question phrasing since queries arrive as natural language.
var fillerWords = map[string]struct{}{
	"a": {}, "an": {}, "the": {}, "of": {}, "in": {}, "on": {}, "at": {},
	"to": {}, "for": {}, "with": {}, "about": {}, "and": {}, "or": {},
	"is": {}, "are": {}, "was": {}, "were": {}, "be": {}, "been": {},
	"do": {}, "does": {}, "did": {}, "can": {}, "could": {}, "would": {},
	"should": {}, "what": {}, "when": {}, "where": {}, "which": {},
	"who": {}, "whom": {}, "why": {}, "how": {}, "me": {}, "my": {},
	"i": {}, "you": {}, "your": {}, "we": {}, "our": {}, "it": {},
	"its": {}, "this": {}, "that": {}, "these": {}, "those": {},
	"please": {}, "tell": {}, "explain": {}, "show": {},
}

// qualifierTerms broaden a rewritten query toward definitional material.
var qualifierTerms = []string{"definition", "concept"}

// HeuristicRewrite is the deterministic fallback rewrite: strip filler
// words, keep the leading content tokens, optionally anchor with a topic
// label, and append generic qualifier terms.
//
// Applying it to its own output reproduces the same token set, so the
// loop's identical-rewrite guard terminates repeated heuristic rewrites.
func HeuristicRewrite(query, topic string) string {
	tokens := lexical.DistinctTokens(query)

	kept := make([]string, 0, len(tokens))
	for _, tok := range tokens {
		if _, filler := fillerWords[tok]; filler {
			continue
		}
		kept = append(kept, tok)
	}
	if len(kept) == 0 {
		kept = tokens
	}
	if len(kept) > maxRewriteTokens {
		kept = kept[:maxRewriteTokens]
	}

	parts := make([]string, 0, len(kept)+3)
	if topic != "" {
		topicNorm := lexical.Normalize(topic)
		if !contains(kept, topicNorm) {
			parts = append(parts, topicNorm)
		}
	}
	parts = append(parts, kept...)
	for _, q := range qualifierTerms {
		if !contains(parts, q) {
			parts = append(parts, q)
		}
	}

	return strings.Join(parts, " ")
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
