package rag

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/nfrguard/nfrguard/pkg/config"
)

// Metadata describes a chunk's provenance. Filters match against these
// fields.
type Metadata struct {
	Regulator  string   `json:"regulator"`
	DocType    string   `json:"doc_type"`
	Sections   []string `json:"sections,omitempty"`
	AgentFocus []string `json:"agent_focus,omitempty"`
}

// Chunk is the unit of retrieval. Chunks are owned by the index; callers
// receive copies.
type Chunk struct {
	ChunkID    string
	DocumentID string
	Ordinal    int
	Text       string
	Embedding  []float32
	Metadata   Metadata
}

// Filter restricts search to chunks matching all non-empty fields.
// Regulators and DocTypes are set-membership; AgentFocus matches chunks
// whose focus list contains the value.
type Filter struct {
	Regulators []string
	DocTypes   []string
	AgentFocus string
}

func (f Filter) matches(c *Chunk) bool {
	if len(f.Regulators) > 0 && !contains(f.Regulators, c.Metadata.Regulator) {
		return false
	}
	if len(f.DocTypes) > 0 && !contains(f.DocTypes, c.Metadata.DocType) {
		return false
	}
	if f.AgentFocus != "" && !contains(c.Metadata.AgentFocus, f.AgentFocus) {
		return false
	}
	return true
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// Result is one ranked search hit. Lexical marks fallback scoring so callers
// can downgrade confidence.
type Result struct {
	Chunk   Chunk
	Score   float64
	Lexical bool
}

// Document is an ingestion input: normalized text plus metadata.
type Document struct {
	DocumentID string
	Content    string
	Metadata   Metadata
}

// ChunkError records a single chunk that failed during ingestion.
type ChunkError struct {
	ChunkID string
	Ordinal int
	Err     error
}

// IngestReport summarizes one document ingestion. The index remains usable
// with the successfully stored chunks even when some failed.
type IngestReport struct {
	DocumentID  string
	ChunksTotal int
	ChunksStored int
	Errors      []ChunkError
}

// Embedder produces fixed-dimension embeddings. Satisfied by *model.Client.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// snapshot is an immutable view of the corpus. Reads always see a complete
// snapshot; ingestion builds a new one and swaps the pointer in one step.
type snapshot struct {
	chunks []*Chunk         // sorted by (DocumentID, Ordinal)
	norms  []float64        // precomputed embedding norms, parallel to chunks
	byDoc  map[string][]int // DocumentID -> indexes into chunks
}

// Index is the retrieval engine. Reads are served concurrently from the
// current snapshot; ingestion swaps are serialized.
type Index struct {
	cfg      *config.RetrievalConfig
	embedder Embedder

	writeMu sync.Mutex // serializes ingestion swaps
	snap    atomic.Pointer[snapshot]
}

// NewIndex creates an empty index.
func NewIndex(cfg *config.RetrievalConfig, embedder Embedder) *Index {
	ix := &Index{cfg: cfg, embedder: embedder}
	ix.snap.Store(&snapshot{byDoc: make(map[string][]int)})
	return ix
}

// Len returns the number of stored chunks.
func (ix *Index) Len() int {
	return len(ix.snap.Load().chunks)
}

// IngestDocument chunks, embeds, and stores one document. Re-ingesting a
// previously seen DocumentID replaces all of its chunks atomically: readers
// see the old set until the swap, never a mix.
func (ix *Index) IngestDocument(ctx context.Context, doc Document) (*IngestReport, error) {
	if doc.DocumentID == "" {
		return nil, fmt.Errorf("document_id is required")
	}

	pieces := chunkText(doc.Content, ix.cfg.ChunkSize, ix.cfg.ChunkOverlap)
	report := &IngestReport{DocumentID: doc.DocumentID, ChunksTotal: len(pieces)}

	chunks := make([]*Chunk, 0, len(pieces))
	for i, text := range pieces {
		id := chunkID(doc.DocumentID, text, i)
		embedding, err := ix.embedder.Embed(ctx, text)
		if err != nil {
			report.Errors = append(report.Errors, ChunkError{ChunkID: id, Ordinal: i, Err: err})
			continue
		}
		chunks = append(chunks, &Chunk{
			ChunkID:    id,
			DocumentID: doc.DocumentID,
			Ordinal:    i,
			Text:       text,
			Embedding:  embedding,
			Metadata:   doc.Metadata,
		})
	}
	report.ChunksStored = len(chunks)

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	old := ix.snap.Load()
	next := &snapshot{byDoc: make(map[string][]int)}
	for _, c := range old.chunks {
		if c.DocumentID == doc.DocumentID {
			continue // replaced wholesale
		}
		next.append(c)
	}
	for _, c := range chunks {
		next.append(c)
	}
	next.sortAndIndex()

	// Single observable step: readers were on the old snapshot until here.
	ix.snap.Store(next)

	if len(report.Errors) > 0 {
		slog.Warn("Document ingested with chunk failures",
			"document_id", doc.DocumentID,
			"stored", report.ChunksStored, "failed", len(report.Errors))
	} else {
		slog.Info("Document ingested",
			"document_id", doc.DocumentID, "chunks", report.ChunksStored)
	}
	return report, nil
}

func (s *snapshot) append(c *Chunk) {
	s.chunks = append(s.chunks, c)
}

func (s *snapshot) sortAndIndex() {
	sort.Slice(s.chunks, func(i, j int) bool {
		if s.chunks[i].DocumentID != s.chunks[j].DocumentID {
			return s.chunks[i].DocumentID < s.chunks[j].DocumentID
		}
		return s.chunks[i].Ordinal < s.chunks[j].Ordinal
	})
	s.norms = make([]float64, len(s.chunks))
	for i, c := range s.chunks {
		s.norms[i] = norm(c.Embedding)
		s.byDoc[c.DocumentID] = append(s.byDoc[c.DocumentID], i)
	}
}

func norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// DocumentChunkCount returns how many chunks are stored for a document.
func (ix *Index) DocumentChunkCount(documentID string) int {
	return len(ix.snap.Load().byDoc[documentID])
}
