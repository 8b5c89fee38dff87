package soul

import (
	"context"
	"fmt"
	"strings"

	"github.com/lunalinkco/aster/internal/bus"
)

// isAddressedToAgent decides whether the agent should treat itself as
// the addressee of the perception. Direct conversations and explicit
// mentions are unambiguous and skip inference; otherwise a
// classification guesses who the message is directed at, and only the
// two name-leading tiers count as addressed.
func (s *Soul) isAddressedToAgent(ctx context.Context, wm *WorkingMemory, p bus.Perception) (bool, error) {
	if direct, ok := p.Meta.Extra["direct"].(bool); ok && direct {
		return true, nil
	}
	if token := s.mentionToken(p.Meta.Channel); token != "" && strings.Contains(p.Content, token) {
		return true, nil
	}

	options := []string{
		s.name + ", for sure",
		s.name + ", possibly",
		"someone else",
		"not sure",
	}
	instruction := fmt.Sprintf(
		"%s is the moderator of this channel. Participants sometimes talk to %s, and sometimes between themselves. In this last message sent by %s, guess which person they are probably speaking with.",
		s.name, s.name, p.AuthorName,
	)

	selected, err := s.cog.Classify(ctx, wm.Flatten(), instruction, options)
	if err != nil {
		return false, fmt.Errorf("addressee classification: %w", err)
	}
	return strings.HasPrefix(selected, s.name), nil
}
