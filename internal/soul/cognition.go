package soul

import (
	"context"

	"github.com/lunalinkco/aster/internal/bus"
)

// Cognition is the contract with the inference runtime. The pipeline
// treats generation and classification as black-box capabilities so it
// never depends on a specific provider.
type Cognition interface {
	// Classify makes a deterministic single choice among the given
	// ordered option labels.
	Classify(ctx context.Context, mem []Turn, instruction string, options []string) (string, error)

	// Reply produces outward dialog as a lazy text stream. With
	// streaming enabled the stream yields incrementally; otherwise it
	// carries the full text in one chunk. Either way the stream may be
	// consumed exactly once.
	Reply(ctx context.Context, mem []Turn, instruction string, streaming bool) (*bus.TextStream, error)

	// Reflect produces internal monologue or brainstorm text.
	Reflect(ctx context.Context, mem []Turn, instruction string) (string, error)
}

// Match is one retrieval result.
type Match struct {
	Content    string
	Similarity float64
}

// Searcher is the retrieval backend: similarity search over a document
// store. minSimilarity is a floor, not a distance ceiling; results less
// similar than it must not be returned.
type Searcher interface {
	Search(ctx context.Context, query string, minSimilarity float64) ([]Match, error)
}

// Store is durable per-key scalar state (user notes, last-sent
// message, conversation summary). Get returns "" for absent keys.
type Store interface {
	Get(key string) (string, error)
	Put(key, value string) error
}
