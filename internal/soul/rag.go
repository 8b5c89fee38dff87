package soul

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/lunalinkco/aster/internal/bus"
)

// augment enriches working memory with relevant prior content before
// the reply is composed. A failed or empty search degrades to
// proceeding without real snippets rather than aborting the turn.
func (s *Soul) augment(ctx context.Context, wm *WorkingMemory, p bus.Perception) *WorkingMemory {
	if s.search == nil {
		return wm
	}

	matches, err := s.search.Search(ctx, p.Content, s.retrievalFloor)
	if err != nil {
		log.Printf("[soul] retrieval warning: %v", err)
		return wm
	}

	// The floor is a minimum similarity; drop anything less similar
	// even if the backend was sloppier than asked.
	kept := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Similarity >= s.retrievalFloor {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Similarity > kept[j].Similarity
	})
	if len(kept) > s.retrievalLimit {
		kept = kept[:s.retrievalLimit]
	}

	var lines []string
	for _, m := range kept {
		lines = append(lines, "- "+m.Content)
	}
	log.Printf("[soul] retrieval found %d documents, using best %d", len(matches), len(kept))

	content := fmt.Sprintf("%s remembers:\n%s", s.name, strings.Join(lines, "\n"))
	return wm.Append(RegionDefault, Turn{Role: RoleAssistant, Content: content})
}
