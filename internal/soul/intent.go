package soul

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunalinkco/aster/internal/bus"
)

// wantsPainting decides whether the most recent message asks for an
// image to be created. "Not Sure" counts as no: a missed painting is
// cheaper than a spurious one.
func (s *Soul) wantsPainting(ctx context.Context, wm *WorkingMemory, p bus.Perception) (bool, error) {
	if strings.TrimSpace(p.Content) == "" {
		return false, nil
	}

	instruction := fmt.Sprintf(
		"was a painting, drawing, or other art requested to be created or made by %s in the most recent message from %s?",
		s.name, p.AuthorName,
	)
	selected, err := s.cog.Classify(ctx, wm.Flatten(), instruction, []string{"Yes", "Not Sure", "No"})
	if err != nil {
		return false, fmt.Errorf("paint intent classification: %w", err)
	}
	return selected == "Yes", nil
}
