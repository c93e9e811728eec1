package rag

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/nfrguard/nfrguard/pkg/model"
)

// Search returns the top-k chunks for the query by cosine similarity over the
// filtered subset, ties broken by ascending (document_id, ordinal). When the
// embedder is unavailable after its retry budget, scoring degrades to lexical
// token overlap and every result is flagged Lexical.
//
// Search is read-only and a pure function of the current snapshot and the
// query. An empty corpus yields an empty result, not an error.
func (ix *Index) Search(ctx context.Context, query string, k int, filter Filter) ([]Result, error) {
	if k <= 0 {
		k = ix.cfg.TopK
	}
	snap := ix.snap.Load()

	var candidates []int
	for i, c := range snap.chunks {
		if filter.matches(c) {
			candidates = append(candidates, i)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	queryVec, err := ix.embedder.Embed(ctx, query)
	if err != nil {
		if errors.Is(err, model.ErrModelUnavailable) {
			slog.Warn("Embeddings unavailable, falling back to lexical scoring", "error", err)
			return lexicalSearch(snap, candidates, query, k), nil
		}
		return nil, fmt.Errorf("embed query: %w", err)
	}

	return cosineSearch(snap, candidates, queryVec, k), nil
}

// cosineSearch is exact brute-force k-NN over the candidate set. Exactness is
// required below the configured corpus ceiling so results are reproducible.
func cosineSearch(snap *snapshot, candidates []int, queryVec []float32, k int) []Result {
	qn := norm(queryVec)
	if qn == 0 {
		return nil
	}

	results := make([]Result, 0, len(candidates))
	for _, i := range candidates {
		c := snap.chunks[i]
		if snap.norms[i] == 0 || len(c.Embedding) != len(queryVec) {
			continue
		}
		var dot float64
		for j := range queryVec {
			dot += float64(queryVec[j]) * float64(c.Embedding[j])
		}
		results = append(results, Result{
			Chunk: *c,
			Score: dot / (qn * snap.norms[i]),
		})
	}
	return rank(results, k)
}

// rank sorts by descending score with deterministic tie-breaking and
// truncates to k.
func rank(results []Result, k int) []Result {
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		if results[i].Chunk.DocumentID != results[j].Chunk.DocumentID {
			return results[i].Chunk.DocumentID < results[j].Chunk.DocumentID
		}
		return results[i].Chunk.Ordinal < results[j].Chunk.Ordinal
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}
