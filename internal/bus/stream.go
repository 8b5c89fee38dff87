package bus

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// ErrStreamConsumed is returned when a TextStream is consumed twice.
// A stream carries its content exactly once; re-consuming after
// exhaustion is a programming error on the consumer side.
var ErrStreamConsumed = errors.New("text stream already consumed")

// TextStream is a lazy, single-consumption text producer. The composer
// creates one per reply; the delivering adapter realizes it (or drains
// chunks incrementally) exactly once. A consumer that gives up on the
// stream must Discard it so the producing side never blocks on a
// reader that went away.
type TextStream struct {
	mu       sync.Mutex
	ch       chan string
	quit     chan struct{}
	quitOnce sync.Once
	err      error
	consumed bool
}

// NewTextStream returns a stream plus a push function and a close
// function for the producing side. Push reports whether the chunk was
// accepted; it returns false once the stream has been discarded, at
// which point the producer may stop early. Close records a terminal
// error, if any, and must be called exactly once after the last push.
func NewTextStream() (s *TextStream, push func(string) bool, done func(error)) {
	s = &TextStream{ch: make(chan string, 16), quit: make(chan struct{})}
	push = func(chunk string) bool {
		if chunk == "" {
			return true
		}
		select {
		case s.ch <- chunk:
			return true
		case <-s.quit:
			return false
		}
	}
	done = func(err error) {
		s.mu.Lock()
		s.err = err
		s.mu.Unlock()
		close(s.ch)
	}
	return s, push, done
}

// StaticText wraps already-realized text in a stream.
func StaticText(text string) *TextStream {
	s, push, done := NewTextStream()
	push(text)
	done(nil)
	return s
}

// Discard abandons the stream: buffered and future pushes are dropped
// and the producing side unblocks. Safe to call more than once, and
// safe on an already-consumed stream. Every path that drops an action
// without realizing its content must discard the stream, or the
// producer wedges on a full buffer.
func (s *TextStream) Discard() {
	s.quitOnce.Do(func() { close(s.quit) })
}

// Chunks marks the stream consumed and hands back the chunk channel.
// The channel is closed after the final chunk; check Err afterwards.
func (s *TextStream) Chunks() (<-chan string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.consumed {
		return nil, ErrStreamConsumed
	}
	s.consumed = true
	return s.ch, nil
}

// Realize blocks until the full text is available and returns it.
// Returning early on context cancellation discards the stream so the
// producer is released.
func (s *TextStream) Realize(ctx context.Context) (string, error) {
	ch, err := s.Chunks()
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	for {
		select {
		case chunk, ok := <-ch:
			if !ok {
				return sb.String(), s.Err()
			}
			sb.WriteString(chunk)
		case <-ctx.Done():
			s.Discard()
			return sb.String(), ctx.Err()
		}
	}
}

// Err returns the terminal error recorded by the producer, if any.
// Only meaningful after the chunk channel has been closed.
func (s *TextStream) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
