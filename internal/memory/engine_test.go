package memory

import (
	"context"
	"path/filepath"
	"testing"
)

// stubEmbedder maps known texts to fixed vectors so similarity scores
// are deterministic.
type stubEmbedder struct {
	vectors map[string][]float32
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := NewEngine(filepath.Join(t.TempDir(), "aster.db"))
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	t.Cleanup(func() { _ = e.Close() })
	return e
}

func TestNewEngine(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "aster.db")

	e, err := NewEngine(dbPath)
	if err != nil {
		t.Fatalf("NewEngine error: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}

	// Idempotent reopen against the same path.
	e2, err := NewEngine(dbPath)
	if err != nil {
		t.Fatalf("NewEngine reopen error: %v", err)
	}
	defer e2.Close()
}

func TestKVRoundTrip(t *testing.T) {
	e := newTestEngine(t)

	got, err := e.Get("user:alice")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "" {
		t.Fatalf("missing key = %q, want empty", got)
	}

	if err := e.Put("user:alice", "- Curious"); err != nil {
		t.Fatalf("Put error: %v", err)
	}
	if err := e.Put("user:alice", "- Curious\n- Bilingual"); err != nil {
		t.Fatalf("Put overwrite error: %v", err)
	}

	got, err = e.Get("user:alice")
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got != "- Curious\n- Bilingual" {
		t.Fatalf("Get = %q, want overwritten value", got)
	}
}

func TestSearchRanksAndFilters(t *testing.T) {
	e := newTestEngine(t)
	e.SetEmbedder(&stubEmbedder{vectors: map[string][]float32{
		"query":       {1, 0, 0},
		"exact match": {1, 0, 0},
		"close match": {0.9, 0.4, 0},
		"unrelated":   {0, 0, 1},
	}})

	ctx := context.Background()
	for _, doc := range []string{"exact match", "close match", "unrelated"} {
		if err := e.AddDocument(ctx, doc); err != nil {
			t.Fatalf("AddDocument(%q) error: %v", doc, err)
		}
	}

	matches, err := e.Search(ctx, "query", 0.6)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("matches = %d, want 2 (unrelated filtered out)", len(matches))
	}
	if matches[0].Content != "exact match" || matches[1].Content != "close match" {
		t.Fatalf("wrong ranking: %+v", matches)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Fatal("matches not sorted descending by similarity")
	}
	for _, m := range matches {
		if m.Similarity < 0.6 {
			t.Fatalf("match %q below similarity floor: %v", m.Content, m.Similarity)
		}
	}
}

func TestSearchWithoutEmbedder(t *testing.T) {
	e := newTestEngine(t)

	matches, err := e.Search(context.Background(), "anything", 0.6)
	if err != nil {
		t.Fatalf("Search error: %v", err)
	}
	if matches != nil {
		t.Fatalf("expected no matches without an embedder, got %+v", matches)
	}
}

func TestAddDocumentEmptyContent(t *testing.T) {
	e := newTestEngine(t)
	if err := e.AddDocument(context.Background(), "  "); err == nil {
		t.Fatal("expected error for empty document")
	}
}

func TestCompactPrunesExpiredDocuments(t *testing.T) {
	e := newTestEngine(t)

	if err := e.AddDocument(context.Background(), "fresh"); err != nil {
		t.Fatalf("AddDocument error: %v", err)
	}
	if _, err := e.db.Exec(
		`INSERT INTO documents (content, created_at) VALUES ('stale', datetime('now', '-120 days'))`,
	); err != nil {
		t.Fatalf("insert stale document: %v", err)
	}

	if err := e.Compact(90); err != nil {
		t.Fatalf("Compact error: %v", err)
	}

	n, err := e.DocumentCount()
	if err != nil {
		t.Fatalf("DocumentCount error: %v", err)
	}
	if n != 1 {
		t.Fatalf("documents after compact = %d, want 1", n)
	}
}
