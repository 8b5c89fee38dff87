package soul

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/lunalinkco/aster/internal/bus"
)

// PendingFunc returns a snapshot of the perceptions still queued for
// processing. The pipeline consults it at entry and again before the
// final composition, because the inference and retrieval calls in
// between are long-latency suspension points during which new messages
// may arrive.
type PendingFunc func() []bus.Perception

// Process runs one perception through the full pipeline:
// gated -> addressee-checked -> [intent-checked -> paint-dispatched] ->
// retrieval-augmented -> composed -> dispatched. It returns the updated
// working memory, or the input memory untouched when the perception is
// rejected. Process never returns an error; failures are logged and
// degrade per step.
func (s *Soul) Process(ctx context.Context, p bus.Perception, pending PendingFunc, wm *WorkingMemory) *WorkingMemory {
	if pending == nil {
		pending = func() []bus.Perception { return nil }
	}

	switch s.gate.Check(p, pending()) {
	case RejectBacklog:
		log.Printf("[soul] pending perceptions limit reached, skipping perception from %s", p.AuthorName)
		return wm
	case RejectBurst:
		log.Printf("[soul] skipping perception from %s: part of a message burst", p.AuthorName)
		return wm
	}

	cur := wm.Append(RegionDefault, perceptionTurn(p))

	// Join events and the agent's own perceptions only become context.
	if p.Kind == bus.PerceptionJoined || p.Internal {
		return cur
	}

	cur = s.rememberUser(cur, p)

	addressed, err := s.isAddressedToAgent(ctx, cur, p)
	if err != nil {
		log.Printf("[soul] addressee warning: %v", err)
		return wm
	}
	if !addressed {
		log.Printf("[soul] ignoring message from %s: not talking to %s", p.AuthorName, s.name)
		return wm
	}

	if s.gate.Recheck(p, pending()) != Proceed {
		log.Printf("[soul] aborting response to %s: they sent more messages in the meantime", p.AuthorName)
		return wm
	}

	if s.paintEnabled {
		wants, err := s.wantsPainting(ctx, cur, p)
		if err != nil {
			log.Printf("[soul] paint intent warning: %v", err)
		}
		if wants {
			log.Printf("[soul] %s is asking for a painting", p.AuthorName)
			cur = s.requestPainting(ctx, cur, p)
		}
	}

	cur = s.augment(ctx, cur, p)

	// Re-check just before composing: the steps above are suspend
	// points and a newer message from the same author supersedes this
	// one.
	if s.gate.Recheck(p, pending()) != Proceed {
		log.Printf("[soul] aborting response to %s before composing: newer messages pending", p.AuthorName)
		return wm
	}

	log.Printf("[soul] answering message from %s", p.AuthorName)
	cur, ok := s.composeReply(ctx, cur, p)
	if !ok {
		return wm
	}

	cur = s.summarize(ctx, cur)
	s.learnAboutUser(ctx, cur, p)
	return cur
}

// requestPainting emits the excitement acknowledgment into memory,
// derives an image prompt from it, and dispatches the paint action.
// Runs before the main reply and independently of its outcome.
func (s *Soul) requestPainting(ctx context.Context, wm *WorkingMemory, p bus.Perception) *WorkingMemory {
	ackStream, err := s.cog.Reply(ctx, wm.Flatten(),
		fmt.Sprintf("tell %s how excited you are to paint their request and riff on the subject", p.AuthorName), false)
	if err != nil {
		log.Printf("[soul] paint acknowledgment warning: %v", err)
		return wm
	}
	ack, err := ackStream.Realize(ctx)
	if err != nil {
		log.Printf("[soul] paint acknowledgment warning: %v", err)
		return wm
	}
	wm = wm.Append(RegionDefault, Turn{
		Role:    RoleAssistant,
		Speaker: s.name,
		Content: fmt.Sprintf("%s said: %q", s.name, ack),
	})

	prompt, err := s.cog.Reflect(ctx, wm.Flatten(),
		"now that you're excited to paint, riff on the subject you just spoke about and come up with an image prompt to paint based on the conversation messages. think of just the image prompt.")
	if err != nil {
		log.Printf("[soul] image prompt warning: %v", err)
		return wm
	}

	meta := p.Meta
	meta.Prompt = prompt
	if !meta.Valid() {
		log.Printf("[soul] delivery metadata missing, unable to dispatch paint request for %s", p.AuthorName)
		return wm
	}
	s.dispatch(bus.NewAction(bus.ActionPaint, nil, meta))
	return wm
}

// composeReply streams the primary reply. The says action is
// dispatched as soon as the stream opens so the adapter can deliver
// incrementally; the realized text is folded back into memory and
// recorded as the last message sent to this user. A mid-stream failure
// surfaces to the adapter through the stream's terminal error.
func (s *Soul) composeReply(ctx context.Context, wm *WorkingMemory, p bus.Perception) (*WorkingMemory, bool) {
	if !p.Meta.Valid() {
		log.Printf("[soul] delivery metadata missing, unable to dispatch reply to %s", p.AuthorName)
		return wm, false
	}

	instruction := fmt.Sprintf(
		"%s answers %s's message. Talk to %s trying to gain trust and learn about the user's inner world.",
		s.name, p.AuthorName, p.AuthorName,
	)

	src, err := s.cog.Reply(ctx, wm.Flatten(), instruction, true)
	if err != nil {
		log.Printf("[soul] reply error: %v", err)
		failed, _, done := bus.NewTextStream()
		done(err)
		s.dispatch(bus.NewAction(bus.ActionSays, failed, p.Meta))
		return wm, false
	}

	out, push, done := bus.NewTextStream()
	s.dispatch(bus.NewAction(bus.ActionSays, out, p.Meta))

	chunks, err := src.Chunks()
	if err != nil {
		done(err)
		return wm, false
	}
	var sb strings.Builder
	for chunk := range chunks {
		sb.WriteString(chunk)
		push(chunk)
	}
	done(src.Err())

	text := strings.TrimSpace(sb.String())
	if srcErr := src.Err(); srcErr != nil {
		log.Printf("[soul] reply stream error: %v", srcErr)
		return wm, false
	}

	wm = wm.Append(RegionDefault, Turn{
		Role:    RoleAssistant,
		Speaker: s.name,
		Content: fmt.Sprintf("%s said: %q", s.name, text),
	})
	if err := s.store.Put(userLastMessageKey(p.AuthorName), text); err != nil {
		log.Printf("[soul] store last message warning: %v", err)
	}
	return wm, true
}

func perceptionTurn(p bus.Perception) Turn {
	kind := string(p.Kind)
	if kind == "" {
		kind = string(bus.PerceptionChatted)
	}
	role := RoleUser
	if p.Internal {
		role = RoleAssistant
	}
	return Turn{
		Role:    role,
		Speaker: p.AuthorName,
		Content: fmt.Sprintf("%s %s: %q", p.AuthorName, kind, p.Content),
		Meta: map[string]any{
			"channelId": p.Meta.ChannelID,
			"messageId": p.Meta.MessageID,
			"timestamp": p.Meta.Timestamp,
		},
	}
}
