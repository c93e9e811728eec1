package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// corpusDocument is the on-disk form of a regulatory document: one JSON file
// per document with its text and retrieval metadata.
type corpusDocument struct {
	Title      string   `json:"title"`
	Regulator  string   `json:"regulator"`
	DocType    string   `json:"document_type"`
	Sections   []string `json:"sections"`
	AgentFocus []string `json:"agent_focus"`
	Content    string   `json:"content"`
}

// LoadCorpus ingests every *.json document under dir. Individual document
// failures are logged and skipped; the returned count is the number of
// documents successfully ingested.
func (ix *Index) LoadCorpus(ctx context.Context, dir string) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, fmt.Errorf("read corpus dir: %w", err)
	}

	loaded := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		path := filepath.Join(dir, entry.Name())
		data, err := os.ReadFile(path)
		if err != nil {
			slog.Warn("Failed to read corpus document", "path", path, "error", err)
			continue
		}
		var doc corpusDocument
		if err := json.Unmarshal(data, &doc); err != nil {
			slog.Warn("Failed to parse corpus document", "path", path, "error", err)
			continue
		}

		report, err := ix.IngestDocument(ctx, Document{
			DocumentID: strings.TrimSuffix(entry.Name(), ".json"),
			Content:    doc.Content,
			Metadata: Metadata{
				Regulator:  doc.Regulator,
				DocType:    doc.DocType,
				Sections:   doc.Sections,
				AgentFocus: doc.AgentFocus,
			},
		})
		if err != nil {
			slog.Warn("Failed to ingest corpus document", "path", path, "error", err)
			continue
		}
		if report.ChunksStored > 0 {
			loaded++
		}
	}

	slog.Info("Corpus loaded", "dir", dir, "documents", loaded, "chunks", ix.Len())
	return loaded, nil
}
