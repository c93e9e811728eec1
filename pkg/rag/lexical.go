package rag

import (
	"math"
	"strings"
	"unicode"
)

// stopWords are excluded from lexical scoring. A query of only stop-words
// matches nothing.
var stopWords = map[string]bool{
	"a": true, "an": true, "and": true, "are": true, "as": true, "at": true,
	"be": true, "by": true, "for": true, "from": true, "in": true, "is": true,
	"it": true, "of": true, "on": true, "or": true, "the": true, "to": true,
	"was": true, "what": true, "when": true, "where": true, "which": true,
	"with": true,
}

// tokenize lowercases and splits on non-alphanumeric runes, dropping
// stop-words.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	tokens := fields[:0]
	for _, f := range fields {
		if !stopWords[f] {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// lexicalSearch scores candidates by query-token overlap weighted by inverse
// document frequency computed over the filtered subset. Zero-score chunks are
// excluded, so an all-stop-word query returns an empty list.
func lexicalSearch(snap *snapshot, candidates []int, query string, k int) []Result {
	queryTokens := tokenize(query)
	if len(queryTokens) == 0 {
		return nil
	}
	querySet := make(map[string]bool, len(queryTokens))
	for _, tok := range queryTokens {
		querySet[tok] = true
	}

	// Document frequency per token, over the filtered subset only.
	df := make(map[string]int)
	chunkTokens := make([]map[string]bool, len(candidates))
	for ci, i := range candidates {
		seen := make(map[string]bool)
		for _, tok := range tokenize(snap.chunks[i].Text) {
			if !seen[tok] {
				seen[tok] = true
				if querySet[tok] {
					df[tok]++
				}
			}
		}
		chunkTokens[ci] = seen
	}

	n := float64(len(candidates))
	var results []Result
	for ci, i := range candidates {
		var score float64
		for tok := range querySet {
			if chunkTokens[ci][tok] {
				score += math.Log(1 + n/float64(1+df[tok]))
			}
		}
		if score > 0 {
			results = append(results, Result{
				Chunk:   *snap.chunks[i],
				Score:   score,
				Lexical: true,
			})
		}
	}
	return rank(results, k)
}
