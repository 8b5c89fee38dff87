// Package memory is the durable store behind the agent: a SQLite
// database holding per-key scalar state (user models, the rolling
// conversation summary) and embedded documents for similarity
// retrieval.
package memory

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	_ "modernc.org/sqlite"

	"github.com/lunalinkco/aster/internal/soul"
)

type Engine struct {
	db       *sql.DB
	mu       sync.Mutex
	embedder Embedder
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS kv (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE TABLE IF NOT EXISTS documents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			content TEXT NOT NULL,
			embedding BLOB,
			created_at TEXT NOT NULL DEFAULT (datetime('now'))
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_created ON documents(created_at)`,
	}
	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// SetEmbedder enables vector indexing of new documents and similarity
// search. Without one, Search returns nothing and documents are stored
// unindexed.
func (e *Engine) SetEmbedder(embedder Embedder) {
	e.embedder = embedder
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

// Get returns the stored value for key, or "" when absent.
func (e *Engine) Get(key string) (string, error) {
	var value string
	err := e.db.QueryRow(`SELECT value FROM kv WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get %q: %w", key, err)
	}
	return value, nil
}

// Put stores value under key, replacing any previous value.
func (e *Engine) Put(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, err := e.db.Exec(`
		INSERT INTO kv (key, value, updated_at) VALUES (?, ?, datetime('now'))
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = datetime('now')
	`, key, value)
	if err != nil {
		return fmt.Errorf("put %q: %w", key, err)
	}
	return nil
}

// AddDocument stores a piece of content for later retrieval. Embedding
// failures degrade to storing the document unindexed.
func (e *Engine) AddDocument(ctx context.Context, content string) error {
	content = strings.TrimSpace(content)
	if content == "" {
		return fmt.Errorf("add document: empty content")
	}

	var blob []byte
	if e.embedder != nil {
		vector, err := e.embedder.Embed(ctx, content)
		if err != nil {
			log.Printf("[memory] embed document warning: %v", err)
		} else if blob, err = EncodeVector(vector); err != nil {
			log.Printf("[memory] encode document vector warning: %v", err)
			blob = nil
		}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, err := e.db.Exec(`INSERT INTO documents (content, embedding) VALUES (?, ?)`, content, blob); err != nil {
		return fmt.Errorf("add document: %w", err)
	}
	return nil
}

// Search embeds the query and ranks indexed documents by cosine
// similarity, descending. minSimilarity is a floor: anything less
// similar is excluded from the result.
func (e *Engine) Search(ctx context.Context, query string, minSimilarity float64) ([]soul.Match, error) {
	if e.embedder == nil {
		return nil, nil
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	queryVec, err := e.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}

	rows, err := e.db.Query(`SELECT content, embedding FROM documents WHERE embedding IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("query documents: %w", err)
	}
	defer rows.Close()

	var matches []soul.Match
	for rows.Next() {
		var content string
		var blob []byte
		if err := rows.Scan(&content, &blob); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		vector, err := DecodeVector(blob)
		if err != nil {
			log.Printf("[memory] skipping document with bad vector: %v", err)
			continue
		}
		score, err := CosineSimilarity(queryVec, vector)
		if err != nil {
			log.Printf("[memory] skipping document: %v", err)
			continue
		}
		if score >= minSimilarity {
			matches = append(matches, soul.Match{Content: content, Similarity: score})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate documents: %w", err)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	return matches, nil
}

// Compact prunes documents older than the retention window and
// reclaims file space. Key/value state is never pruned.
func (e *Engine) Compact(retentionDays int) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if retentionDays > 0 {
		res, err := e.db.Exec(
			`DELETE FROM documents WHERE created_at < datetime('now', ?)`,
			fmt.Sprintf("-%d days", retentionDays),
		)
		if err != nil {
			return fmt.Errorf("prune documents: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Printf("[memory] pruned %d expired documents", n)
		}
	}

	if _, err := e.db.Exec(`VACUUM`); err != nil {
		return fmt.Errorf("vacuum: %w", err)
	}
	return nil
}

// DocumentCount reports how many documents are stored.
func (e *Engine) DocumentCount() (int, error) {
	var n int
	if err := e.db.QueryRow(`SELECT COUNT(*) FROM documents`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count documents: %w", err)
	}
	return n, nil
}
