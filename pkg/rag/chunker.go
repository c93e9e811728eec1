// Package rag provides the retrieval index over the regulatory corpus:
// document chunking, embedding storage, exact k-nearest-neighbor search with
// metadata filtering, and a lexical fallback for when embeddings are
// unavailable.
package rag

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// sentenceEnders mark the boundaries the chunker prefers to break on.
var sentenceEnders = []string{". ", ".\n", "! ", "? "}

// chunkText splits text into windows of at most size characters with overlap
// characters shared between consecutive windows, breaking on the last
// sentence boundary inside the window when one falls in the final overlap
// region; otherwise the break is hard. Ordering is preserved.
func chunkText(text string, size, overlap int) []string {
	runes := []rune(text)
	if len(runes) <= size {
		trimmed := strings.TrimSpace(text)
		if trimmed == "" {
			return nil
		}
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			end = len(runes)
		} else {
			window := string(runes[start:end])
			if cut := lastSentenceEnd(window); cut > size-overlap {
				end = start + cut
			}
		}

		chunk := strings.TrimSpace(string(runes[start:end]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		if end >= len(runes) {
			break
		}
		start = end - overlap
	}
	return chunks
}

// lastSentenceEnd returns the rune index just past the final sentence ender
// in window, or -1 when none occurs.
func lastSentenceEnd(window string) int {
	best := -1
	for _, ender := range sentenceEnders {
		if idx := strings.LastIndex(window, ender); idx >= 0 {
			// Convert byte index to rune index, keeping the period.
			pos := len([]rune(window[:idx])) + 1
			if pos > best {
				best = pos
			}
		}
	}
	return best
}

// chunkID derives a stable identifier from the document, content, and
// position, so re-ingesting identical content yields identical ids.
func chunkID(documentID, text string, ordinal int) string {
	sum := sha256.Sum256([]byte(text))
	return fmt.Sprintf("%s:%s:%d", documentID, hex.EncodeToString(sum[:4]), ordinal)
}
