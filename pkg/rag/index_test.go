package rag

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nfrguard/nfrguard/pkg/config"
	"github.com/nfrguard/nfrguard/pkg/model"
)

// keywordEmbedder embeds text as occurrence counts of fixed keywords, so
// cosine similarity is predictable in tests.
type keywordEmbedder struct {
	keywords []string
	failWith error // when set, every Embed call fails
	failText string // when set, embedding this exact text fails
}

func (e *keywordEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if e.failWith != nil {
		return nil, e.failWith
	}
	if e.failText != "" && strings.Contains(text, e.failText) {
		return nil, errors.New("embed refused")
	}
	vec := make([]float32, len(e.keywords))
	lower := strings.ToLower(text)
	for i, kw := range e.keywords {
		vec[i] = float32(strings.Count(lower, kw))
	}
	return vec, nil
}

func newTestIndex(t *testing.T, embedder Embedder) *Index {
	t.Helper()
	cfg := config.Default().Retrieval
	cfg.ChunkSize = 80
	cfg.ChunkOverlap = 20
	return NewIndex(cfg, embedder)
}

func testEmbedder() *keywordEmbedder {
	return &keywordEmbedder{keywords: []string{"fraud", "privacy", "liquidity"}}
}

func TestSearch_EmptyCorpus(t *testing.T) {
	ix := newTestIndex(t, testEmbedder())

	results, err := ix.Search(context.Background(), "fraud monitoring rules", 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIngestAndSearch_RanksBySimilarity(t *testing.T) {
	ix := newTestIndex(t, testEmbedder())

	_, err := ix.IngestDocument(context.Background(), Document{
		DocumentID: "austrac-guide",
		Content:    "Report suspicious fraud and fraud again promptly.",
		Metadata:   Metadata{Regulator: "AUSTRAC", DocType: "guidance"},
	})
	require.NoError(t, err)
	_, err = ix.IngestDocument(context.Background(), Document{
		DocumentID: "oaic-guide",
		Content:    "Privacy obligations apply to customer data.",
		Metadata:   Metadata{Regulator: "OAIC", DocType: "guidance"},
	})
	require.NoError(t, err)

	results, err := ix.Search(context.Background(), "fraud", 2, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "austrac-guide", results[0].Chunk.DocumentID)
	assert.False(t, results[0].Lexical)
	assert.Greater(t, results[0].Score, 0.9)
	assert.Equal(t, "oaic-guide", results[1].Chunk.DocumentID)
	assert.Less(t, results[1].Score, 0.1)
}

func TestSearch_DeterministicTieOrder(t *testing.T) {
	// Identical content in two documents gives identical scores; ties break
	// by ascending (document_id, ordinal).
	ix := newTestIndex(t, testEmbedder())
	for _, id := range []string{"doc-b", "doc-a"} {
		_, err := ix.IngestDocument(context.Background(), Document{
			DocumentID: id,
			Content:    "fraud controls for transaction monitoring",
		})
		require.NoError(t, err)
	}

	results, err := ix.Search(context.Background(), "fraud controls", 10, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "doc-a", results[0].Chunk.DocumentID)
	assert.Equal(t, "doc-b", results[1].Chunk.DocumentID)
}

func TestSearch_TruncatesToK(t *testing.T) {
	ix := newTestIndex(t, testEmbedder())
	for i := 0; i < 5; i++ {
		_, err := ix.IngestDocument(context.Background(), Document{
			DocumentID: fmt.Sprintf("doc-%d", i),
			Content:    "fraud risk indicators",
		})
		require.NoError(t, err)
	}

	results, err := ix.Search(context.Background(), "fraud", 3, Filter{})
	require.NoError(t, err)
	assert.Len(t, results, 3)
}

func TestSearch_FilterExcludesNonMatching(t *testing.T) {
	ix := newTestIndex(t, testEmbedder())
	docs := []Document{
		{DocumentID: "d1", Content: "fraud reporting duty", Metadata: Metadata{Regulator: "AUSTRAC", DocType: "guidance", AgentFocus: []string{"transaction_risk"}}},
		{DocumentID: "d2", Content: "fraud disclosure rule", Metadata: Metadata{Regulator: "OAIC", DocType: "act", AgentFocus: []string{"data_privacy"}}},
	}
	for _, d := range docs {
		_, err := ix.IngestDocument(context.Background(), d)
		require.NoError(t, err)
	}

	results, err := ix.Search(context.Background(), "fraud", 10, Filter{Regulators: []string{"AUSTRAC"}})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d1", results[0].Chunk.DocumentID)

	results, err = ix.Search(context.Background(), "fraud", 10, Filter{AgentFocus: "data_privacy"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "d2", results[0].Chunk.DocumentID)

	results, err = ix.Search(context.Background(), "fraud", 10, Filter{DocTypes: []string{"standard"}})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestIngestDocument_ReplaceIsAtomic(t *testing.T) {
	ix := newTestIndex(t, testEmbedder())

	long := strings.Repeat("fraud typologies include layering and structuring. ", 10)
	_, err := ix.IngestDocument(context.Background(), Document{DocumentID: "doc", Content: long})
	require.NoError(t, err)
	firstCount := ix.DocumentChunkCount("doc")
	require.Greater(t, firstCount, 1)

	report, err := ix.IngestDocument(context.Background(), Document{DocumentID: "doc", Content: "fraud summary."})
	require.NoError(t, err)
	assert.Equal(t, 1, report.ChunksStored)
	assert.Equal(t, 1, ix.DocumentChunkCount("doc"))
	assert.Equal(t, 1, ix.Len())
}

func TestIngestDocument_PartialChunkFailure(t *testing.T) {
	emb := testEmbedder()
	emb.failText = "liquidity"
	ix := newTestIndex(t, emb)

	content := strings.Repeat("fraud controls apply broadly here today. ", 3) +
		"liquidity coverage is measured separately over the quarter. " +
		strings.Repeat("privacy principles govern collection of data. ", 3)
	report, err := ix.IngestDocument(context.Background(), Document{DocumentID: "mixed", Content: content})
	require.NoError(t, err)

	assert.Greater(t, report.ChunksStored, 0)
	require.NotEmpty(t, report.Errors)
	assert.Equal(t, report.ChunksTotal, report.ChunksStored+len(report.Errors))
	assert.Equal(t, report.ChunksStored, ix.DocumentChunkCount("mixed"))
}

func TestIngestDocument_RequiresDocumentID(t *testing.T) {
	ix := newTestIndex(t, testEmbedder())
	_, err := ix.IngestDocument(context.Background(), Document{Content: "text"})
	assert.Error(t, err)
}

func TestSearch_LexicalFallbackWhenEmbedderUnavailable(t *testing.T) {
	emb := testEmbedder()
	ix := newTestIndex(t, emb)

	_, err := ix.IngestDocument(context.Background(), Document{
		DocumentID: "d1", Content: "suspicious matter reports must be lodged with the regulator.",
	})
	require.NoError(t, err)
	_, err = ix.IngestDocument(context.Background(), Document{
		DocumentID: "d2", Content: "capital adequacy ratios are reviewed quarterly.",
	})
	require.NoError(t, err)

	emb.failWith = fmt.Errorf("endpoint down: %w", model.ErrModelUnavailable)

	results, err := ix.Search(context.Background(), "suspicious matter reports", 5, Filter{})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Lexical)
	assert.Equal(t, "d1", results[0].Chunk.DocumentID)
}

func TestSearch_LexicalAllStopWordsQuery(t *testing.T) {
	emb := testEmbedder()
	ix := newTestIndex(t, emb)
	_, err := ix.IngestDocument(context.Background(), Document{DocumentID: "d1", Content: "some indexed content"})
	require.NoError(t, err)

	emb.failWith = model.ErrModelUnavailable

	results, err := ix.Search(context.Background(), "what is the", 5, Filter{})
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearch_NonRetryableEmbedErrorSurfaces(t *testing.T) {
	emb := testEmbedder()
	ix := newTestIndex(t, emb)
	_, err := ix.IngestDocument(context.Background(), Document{DocumentID: "d1", Content: "indexed content about fraud"})
	require.NoError(t, err)

	emb.failWith = model.ErrModelRejected

	_, err = ix.Search(context.Background(), "fraud", 5, Filter{})
	assert.ErrorIs(t, err, model.ErrModelRejected)
}

func TestLoadCorpus(t *testing.T) {
	dir := t.TempDir()
	writeDoc := func(name, content string) {
		doc := fmt.Sprintf(`{
			"title": "Doc",
			"regulator": "AUSTRAC",
			"document_type": "guidance",
			"agent_focus": ["transaction_risk"],
			"sections": ["reporting"],
			"content": %q
		}`, content)
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(doc), 0o644))
	}
	writeDoc("aml-guide.json", "fraud reporting obligations apply to all reporting entities.")
	writeDoc("ctf-guide.json", "customer due diligence supports fraud prevention.")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{not json"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	ix := newTestIndex(t, testEmbedder())
	loaded, err := ix.LoadCorpus(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded)
	assert.Equal(t, 1, ix.DocumentChunkCount("aml-guide"))

	results, err := ix.Search(context.Background(), "fraud", 10, Filter{Regulators: []string{"AUSTRAC"}})
	require.NoError(t, err)
	assert.Len(t, results, 2)
}
