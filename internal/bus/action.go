package bus

import "github.com/google/uuid"

// ActionKind names an outbound side effect.
type ActionKind string

const (
	ActionSays  ActionKind = "says"
	ActionPaint ActionKind = "paint"
)

// Action is one outbound side effect produced by the soul pipeline.
// It is created by the composer, consumed exactly once by the channel
// adapter named in Meta.Channel, and discarded after delivery.
type Action struct {
	ID      string
	Kind    ActionKind
	Content *TextStream // nil for paint actions; the prompt rides in Meta.Prompt
	Meta    Delivery
}

// NewAction builds an action with a fresh identifier.
func NewAction(kind ActionKind, content *TextStream, meta Delivery) Action {
	return Action{
		ID:      uuid.NewString(),
		Kind:    kind,
		Content: content,
		Meta:    meta,
	}
}

// Discard releases the action's content stream without consuming it.
// Anything that drops an action instead of delivering it must call
// this, or the producing side stays blocked on the unread stream.
func (a Action) Discard() {
	if a.Content != nil {
		a.Content.Discard()
	}
}
