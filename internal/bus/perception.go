package bus

import (
	"sync/atomic"
	"time"
)

// PerceptionKind mirrors the event types a channel adapter can emit.
type PerceptionKind string

const (
	PerceptionChatted PerceptionKind = "chatted"
	PerceptionJoined  PerceptionKind = "joined"
)

// Delivery carries everything needed to route a response back to the
// message that caused it, even when the send happens much later than
// the receipt.
type Delivery struct {
	Channel         string         `json:"channel"`
	ChannelID       string         `json:"channelId"`
	MessageID       string         `json:"messageId"`
	UserID          string         `json:"userId"`
	UserName        string         `json:"userName"`
	UserDisplayName string         `json:"userDisplayName"`
	Timestamp       int64          `json:"timestamp"` // epoch millis of the original message
	IsBot           bool           `json:"isBot"`
	RepliedToUserID string         `json:"repliedToUserId,omitempty"`
	Prompt          string         `json:"prompt,omitempty"` // set on paint actions
	Extra           map[string]any `json:"extra,omitempty"`
}

// MaxResponseDelay is how long a response may lag behind the original
// message and still be sent as a direct reply. Beyond this the original
// may have scrolled out of relevance or the reference may no longer
// resolve, so the response goes out as a freestanding message instead.
const MaxResponseDelay = 60 * time.Second

// Valid reports whether the delivery metadata is complete enough to
// route an action. Actions without a channel and message context are
// dropped (there is no recovery path without the original context).
func (d Delivery) Valid() bool {
	return d.Channel != "" && d.ChannelID != "" && d.MessageID != ""
}

// Delayed reports whether a response sent at now must go out as a new
// message rather than a reply. The boundary itself still replies.
func (d Delivery) Delayed(now time.Time) bool {
	return now.UnixMilli()-d.Timestamp > MaxResponseDelay.Milliseconds()
}

// Perception is one normalized inbound chat event.
type Perception struct {
	Kind         PerceptionKind
	Content      string
	AuthorName   string
	Internal     bool // agent-originated rather than external
	Meta         Delivery
	ArrivalOrder uint64
}

var arrivalCounter atomic.Uint64

// NextArrivalOrder returns a strictly increasing sequence number used
// to order perceptions within the process without relying on wall-clock
// precision.
func NextArrivalOrder() uint64 {
	return arrivalCounter.Add(1)
}
