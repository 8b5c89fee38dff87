package soul

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lunalinkco/aster/internal/bus"
)

const maxKeyLen = 62

// normalizeUser builds a stable store key fragment from a platform
// user name.
func normalizeUser(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == "" {
		name = "anonymous"
	}
	var sb strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			sb.WriteRune(r)
		default:
			sb.WriteByte('_')
		}
	}
	key := sb.String()
	if len(key) > maxKeyLen {
		key = key[:maxKeyLen]
	}
	return key
}

func userNotesKey(name string) string {
	return "user:" + normalizeUser(name)
}

func userLastMessageKey(name string) string {
	return "user:" + normalizeUser(name) + ":last-message"
}

// rememberUser injects what the agent already knows about the author:
// the stored user model and the last message the agent sent them.
// First contact seeds the model with the author's display name.
func (s *Soul) rememberUser(wm *WorkingMemory, p bus.Perception) *WorkingMemory {
	notes, err := s.store.Get(userNotesKey(p.AuthorName))
	if err != nil {
		log.Printf("[soul] load user model warning: %v", err)
	}
	if strings.TrimSpace(notes) == "" {
		notes = fmt.Sprintf("- Display name: %q", p.Meta.UserDisplayName)
		if err := s.store.Put(userNotesKey(p.AuthorName), notes); err != nil {
			log.Printf("[soul] seed user model warning: %v", err)
		}
	}

	lastMessage, err := s.store.Get(userLastMessageKey(p.AuthorName))
	if err != nil {
		log.Printf("[soul] load last message warning: %v", err)
	}

	remembered := notes
	if strings.TrimSpace(lastMessage) != "" {
		remembered += fmt.Sprintf("\n\nThe last message %s sent to %s was:\n- %s", s.name, p.AuthorName, lastMessage)
	}
	remembered = strings.TrimSpace(remembered)
	if remembered == "" {
		return wm
	}

	content := fmt.Sprintf("%s remembers this about %s:\n%s", s.name, p.AuthorName, remembered)
	return wm.Append(RegionDefault, Turn{Role: RoleAssistant, Content: content})
}

// learnAboutUser rewrites the stored user model when the conversation
// taught the agent something new. Runs after the reply is dispatched;
// failures only cost the update.
func (s *Soul) learnAboutUser(ctx context.Context, wm *WorkingMemory, p bus.Perception) {
	instruction := fmt.Sprintf("%s has learned something new and they need to update the mental model of %s.", s.name, p.AuthorName)
	selected, err := s.cog.Classify(ctx, wm.Flatten(), instruction, []string{"Yes", "No"})
	if err != nil {
		log.Printf("[soul] user model query warning: %v", err)
		return
	}
	if selected != "Yes" {
		return
	}

	learnings, err := s.cog.Reflect(ctx, wm.Flatten(),
		fmt.Sprintf("What has %s learned specifically about their chat companion from the last few messages?", s.name))
	if err != nil {
		log.Printf("[soul] user model learnings warning: %v", err)
		return
	}

	existing, err := s.store.Get(userNotesKey(p.AuthorName))
	if err != nil {
		log.Printf("[soul] load user model warning: %v", err)
	}

	rewrite := fmt.Sprintf(`## Existing notes on %s
%s

## New learnings
%s

## Description
Write an updated and clear set of notes on %s that %s would want to remember.

## Rules
* Keep descriptions as bullet points
* Keep relevant bullet points from before
* Use abbreviated language to keep the notes short
* Analyze the interlocutor's emotions.
* Do not write any notes about %s

Please reply with the updated notes on %s:`,
		p.AuthorName, existing, learnings, p.AuthorName, s.name, s.name, p.AuthorName)

	notes, err := s.cog.Reflect(ctx, wm.Flatten(), rewrite)
	if err != nil {
		log.Printf("[soul] user model rewrite warning: %v", err)
		return
	}
	if err := s.store.Put(userNotesKey(p.AuthorName), notes); err != nil {
		log.Printf("[soul] store user model warning: %v", err)
	}
}
