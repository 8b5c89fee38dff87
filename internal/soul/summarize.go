package soul

import (
	"context"
	"fmt"
	"log"
	"strings"
)

const keyConversationSummary = "conversation:summary"

func (s *Soul) initialSummary() string {
	return fmt.Sprintf(
		"%s met a new user for the first time. They are just getting to know each other and %s is trying to learn as much as they can about the user.",
		s.name, s.name,
	)
}

// summarize compresses old turns into the rolling summary once the
// memory grows past the trigger. The core region is never touched and
// exactly one live summary paragraph exists afterwards.
func (s *Soul) summarize(ctx context.Context, wm *WorkingMemory) *WorkingMemory {
	if wm.Len() <= s.summaryTrigger {
		return wm
	}
	log.Printf("[soul] updating conversation notes")

	reflection, err := s.cog.Reflect(ctx, wm.Flatten(), "What have I learned in this conversation.")
	if err != nil {
		log.Printf("[soul] summary reflection warning: %v", err)
		return wm
	}
	noted := wm.Append(RegionDefault, Turn{
		Role:    RoleAssistant,
		Content: fmt.Sprintf("%s noted: %q", s.name, reflection),
	})

	existing, err := s.store.Get(keyConversationSummary)
	if err != nil {
		log.Printf("[soul] load conversation summary warning: %v", err)
	}
	if strings.TrimSpace(existing) == "" {
		existing = s.initialSummary()
	}

	instruction := fmt.Sprintf(`## Existing notes
%s

## Description
Write an updated and clear paragraph describing the conversation so far.
Make sure to keep details that %s would want to remember.

## Rules
* Keep descriptions as a paragraph
* Keep relevant information from before
* Use abbreviated language to keep the notes short
* Make sure to detail the motivation of %s (what are they trying to accomplish, what have they done so far).

Please reply with the updated notes on the conversation:`, existing, s.name, s.name)

	notes, err := s.cog.Reflect(ctx, noted.Flatten(), instruction)
	if err != nil {
		log.Printf("[soul] summary rewrite warning: %v", err)
		return wm
	}

	if err := s.store.Put(keyConversationSummary, notes); err != nil {
		log.Printf("[soul] store conversation summary warning: %v", err)
	}

	summaryTurn := Turn{
		Role:    RoleAssistant,
		Content: "## Conversational Scene\n" + notes,
	}
	return wm.ReplaceRegion(RegionSummary, summaryTurn).TrimDefault(s.summaryKeep)
}
