package soul

import "github.com/lunalinkco/aster/internal/bus"

// Verdict is the gate's decision for one perception.
type Verdict int

const (
	Proceed Verdict = iota
	// RejectBacklog means the pending queue exceeded the ceiling; the
	// system is falling behind and must not pile on more inference work.
	RejectBacklog
	// RejectBurst means a newer message from the same author is already
	// queued, so responding to this one would address outdated context.
	RejectBurst
)

// Gate suppresses perceptions that are stale relative to a burst of
// newer ones from the same author, and enforces a backlog ceiling.
// Rejection is a deliberate no-op, not an error.
type Gate struct {
	BacklogLimit int
}

// Check applies the gate rules in order against the perceptions still
// pending processing. It is called once on entry and re-checked before
// final composition, because new messages may arrive while the
// asynchronous classification and retrieval steps run.
func (g Gate) Check(invoking bus.Perception, pending []bus.Perception) Verdict {
	limit := g.BacklogLimit
	if limit <= 0 {
		limit = 10
	}
	if len(pending) > limit {
		return RejectBacklog
	}
	if burstPending(invoking, pending) {
		return RejectBurst
	}
	return Proceed
}

// Recheck applies only the burst rule. Used at the late checkpoints
// where the backlog ceiling no longer matters.
func (g Gate) Recheck(invoking bus.Perception, pending []bus.Perception) Verdict {
	if burstPending(invoking, pending) {
		return RejectBurst
	}
	return Proceed
}

func burstPending(invoking bus.Perception, pending []bus.Perception) bool {
	for _, p := range pending {
		if p.ArrivalOrder == invoking.ArrivalOrder {
			continue
		}
		if p.AuthorName == invoking.AuthorName {
			return true
		}
	}
	return false
}
