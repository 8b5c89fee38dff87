package channel

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"testing"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed_NoFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if !ch.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}
}

func TestBaseChannel_IsAllowed_WithFilter(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, []string{"user1", "user2"})

	if !ch.IsAllowed("user1") {
		t.Error("should allow user1")
	}
	if ch.IsAllowed("user3") {
		t.Error("should reject user3")
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	_, err := NewTelegramChannel(config.TelegramConfig{}, b, nil)
	if err == nil {
		t.Error("expected error for empty token")
	}
}

// mockBot records sent chattables and feeds scripted updates.
type mockBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	updates  chan tgbotapi.Update
	self     tgbotapi.User
}

func newMockBot() *mockBot {
	return &mockBot{
		updates: make(chan tgbotapi.Update, 10),
		self:    tgbotapi.User{UserName: "aster_bot"},
	}
}

func (m *mockBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updates
}

func (m *mockBot) StopReceivingUpdates() {}

func (m *mockBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	m.sent = append(m.sent, c)
	return tgbotapi.Message{}, nil
}

func (m *mockBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (m *mockBot) GetSelf() tgbotapi.User {
	return m.self
}

func (m *mockBot) sentMessages(t *testing.T) []tgbotapi.MessageConfig {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []tgbotapi.MessageConfig
	for _, c := range m.sent {
		if msg, ok := c.(tgbotapi.MessageConfig); ok {
			out = append(out, msg)
		}
	}
	return out
}

func newTestChannel(t *testing.T, painter Painter) (*TelegramChannel, *mockBot, *bus.MessageBus) {
	t.Helper()
	b := bus.NewMessageBus(10)
	mock := newMockBot()
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return mock, nil
	}
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, painter, factory)
	if err != nil {
		t.Fatalf("NewTelegramChannelWithFactory error: %v", err)
	}
	return ch, mock, b
}

func TestTelegramStartReportsMention(t *testing.T) {
	ch, _, _ := newTestChannel(t, nil)

	var gotMention string
	ch.OnSelf = func(mention string) { gotMention = mention }

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer ch.Stop()

	if gotMention != "@aster_bot" {
		t.Errorf("mention = %q, want @aster_bot", gotMention)
	}
}

func TestTelegramInboundPerception(t *testing.T) {
	ch, mock, b := newTestChannel(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer ch.Stop()

	sentAt := time.Now().Add(-2 * time.Second)
	mock.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 42,
		From:      &tgbotapi.User{ID: 7, UserName: "alice", FirstName: "Alice", LastName: "Liddell"},
		Chat:      &tgbotapi.Chat{ID: 1001},
		Date:      int(sentAt.Unix()),
		Text:      "hello there",
	}}

	select {
	case p := <-b.Inbound:
		if p.Kind != bus.PerceptionChatted {
			t.Errorf("kind = %s, want chatted", p.Kind)
		}
		if p.Content != "hello there" || p.AuthorName != "alice" {
			t.Errorf("perception = %+v", p)
		}
		if p.Meta.ChannelID != "1001" || p.Meta.MessageID != "42" || p.Meta.UserID != "7" {
			t.Errorf("delivery = %+v", p.Meta)
		}
		if p.Meta.UserDisplayName != "Alice Liddell" {
			t.Errorf("display name = %q", p.Meta.UserDisplayName)
		}
		if p.Meta.Timestamp != sentAt.Unix()*1000 {
			t.Errorf("timestamp = %d, want epoch millis", p.Meta.Timestamp)
		}
		if !p.Meta.Valid() {
			t.Error("delivery metadata incomplete")
		}
	case <-time.After(time.Second):
		t.Fatal("no perception received")
	}
}

func TestTelegramPrivateChatMarkedDirect(t *testing.T) {
	ch, mock, b := newTestChannel(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer ch.Stop()

	mock.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 44,
		From:      &tgbotapi.User{ID: 7, UserName: "alice", FirstName: "Alice"},
		Chat:      &tgbotapi.Chat{ID: 7, Type: "private"},
		Date:      int(time.Now().Unix()),
		Text:      "just us here",
	}}

	select {
	case p := <-b.Inbound:
		if direct, _ := p.Meta.Extra["direct"].(bool); !direct {
			t.Errorf("private chat delivery not marked direct: %+v", p.Meta)
		}
	case <-time.After(time.Second):
		t.Fatal("no perception received")
	}
}

func TestTelegramJoinPerception(t *testing.T) {
	ch, mock, b := newTestChannel(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer ch.Stop()

	mock.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID:      43,
		From:           &tgbotapi.User{ID: 7, UserName: "alice"},
		Chat:           &tgbotapi.Chat{ID: 1001},
		Date:           int(time.Now().Unix()),
		NewChatMembers: []tgbotapi.User{{ID: 8, UserName: "bob", FirstName: "Bob"}},
	}}

	select {
	case p := <-b.Inbound:
		if p.Kind != bus.PerceptionJoined {
			t.Errorf("kind = %s, want joined", p.Kind)
		}
		if p.AuthorName != "bob" {
			t.Errorf("author = %q, want bob", p.AuthorName)
		}
	case <-time.After(time.Second):
		t.Fatal("no perception received")
	}
}

func TestTelegramIgnoresBots(t *testing.T) {
	ch, mock, b := newTestChannel(t, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}
	defer ch.Stop()

	mock.updates <- tgbotapi.Update{Message: &tgbotapi.Message{
		MessageID: 44,
		From:      &tgbotapi.User{ID: 9, UserName: "otherbot", IsBot: true},
		Chat:      &tgbotapi.Chat{ID: 1001},
		Text:      "beep",
	}}

	select {
	case p := <-b.Inbound:
		t.Fatalf("bot message produced perception: %+v", p)
	case <-time.After(100 * time.Millisecond):
	}
}

func freshDelivery() bus.Delivery {
	return bus.Delivery{
		Channel:         "telegram",
		ChannelID:       "1001",
		MessageID:       "42",
		UserID:          "7",
		UserName:        "alice",
		UserDisplayName: "Alice Liddell",
		Timestamp:       time.Now().UnixMilli(),
	}
}

func TestDeliverSaysRepliesWhenFresh(t *testing.T) {
	ch, mock, _ := newTestChannel(t, nil)
	ch.SetBot(mock)

	action := bus.NewAction(bus.ActionSays, bus.StaticText("hi alice"), freshDelivery())
	if err := ch.Deliver(action); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	msgs := mock.sentMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].ReplyToMessageID != 42 {
		t.Errorf("ReplyToMessageID = %d, want 42", msgs[0].ReplyToMessageID)
	}
	if msgs[0].Text != "hi alice" {
		t.Errorf("text = %q", msgs[0].Text)
	}
	if len(mock.requests) == 0 {
		t.Error("no typing indicator sent")
	}
}

func TestDeliverSaysDelayed(t *testing.T) {
	ch, mock, _ := newTestChannel(t, nil)
	ch.SetBot(mock)

	meta := freshDelivery()
	meta.Timestamp = time.Now().Add(-2 * time.Minute).UnixMilli()

	action := bus.NewAction(bus.ActionSays, bus.StaticText("sorry, late"), meta)
	if err := ch.Deliver(action); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	msgs := mock.sentMessages(t)
	if len(msgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(msgs))
	}
	if msgs[0].ReplyToMessageID != 0 {
		t.Error("delayed response must not reply to the original message")
	}
	want := "[Delayed response to a message from Alice Liddell]\nsorry, late"
	if msgs[0].Text != want {
		t.Errorf("text = %q, want %q", msgs[0].Text, want)
	}
}

func TestDeliverSaysBoundaryStillReplies(t *testing.T) {
	ch, mock, _ := newTestChannel(t, nil)
	ch.SetBot(mock)

	// Just inside the delay window: still a reply. The exact boundary
	// is covered by the Delivery.Delayed tests.
	meta := freshDelivery()
	meta.Timestamp = time.Now().UnixMilli() - bus.MaxResponseDelay.Milliseconds() + 2000

	action := bus.NewAction(bus.ActionSays, bus.StaticText("just in time"), meta)
	if err := ch.Deliver(action); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	msgs := mock.sentMessages(t)
	if len(msgs) != 1 || msgs[0].ReplyToMessageID != 42 {
		t.Fatalf("boundary response did not reply: %+v", msgs)
	}
}

type stubPainter struct {
	url     string
	err     error
	prompts []string
}

func (s *stubPainter) Generate(ctx context.Context, prompt string) (string, error) {
	s.prompts = append(s.prompts, prompt)
	return s.url, s.err
}

func TestDeliverPaintSendsPhoto(t *testing.T) {
	painter := &stubPainter{url: "https://img.example.com/cat.png"}
	ch, mock, _ := newTestChannel(t, painter)
	ch.SetBot(mock)

	meta := freshDelivery()
	meta.Prompt = "a cat in space"

	if err := ch.Deliver(bus.NewAction(bus.ActionPaint, nil, meta)); err != nil {
		t.Fatalf("Deliver error: %v", err)
	}

	if len(painter.prompts) != 1 || painter.prompts[0] != "a cat in space" {
		t.Fatalf("painter prompts = %v", painter.prompts)
	}

	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.sent) != 1 {
		t.Fatalf("sent %d chattables, want 1 photo", len(mock.sent))
	}
	photo, ok := mock.sent[0].(tgbotapi.PhotoConfig)
	if !ok {
		t.Fatalf("sent %T, want PhotoConfig", mock.sent[0])
	}
	if photo.ReplyToMessageID != 42 {
		t.Errorf("ReplyToMessageID = %d, want 42", photo.ReplyToMessageID)
	}
}

func TestDeliverPaintError(t *testing.T) {
	painter := &stubPainter{err: fmt.Errorf("service down")}
	ch, mock, _ := newTestChannel(t, painter)
	ch.SetBot(mock)

	meta := freshDelivery()
	meta.Prompt = "anything"

	if err := ch.Deliver(bus.NewAction(bus.ActionPaint, nil, meta)); err == nil {
		t.Fatal("expected error when painting fails")
	}
	mock.mu.Lock()
	defer mock.mu.Unlock()
	if len(mock.sent) != 0 {
		t.Errorf("failed paint still sent %d chattables", len(mock.sent))
	}
}

func TestSendTextChunksLongMessages(t *testing.T) {
	ch, mock, _ := newTestChannel(t, nil)
	ch.SetBot(mock)

	long := ""
	for i := 0; i < 500; i++ {
		long += "0123456789\n"
	}
	if err := ch.sendText(1001, 42, long); err != nil {
		t.Fatalf("sendText error: %v", err)
	}

	msgs := mock.sentMessages(t)
	if len(msgs) < 2 {
		t.Fatalf("long message not chunked: %d sends", len(msgs))
	}
	if msgs[0].ReplyToMessageID != 42 {
		t.Error("first chunk must carry the reply reference")
	}
	if msgs[1].ReplyToMessageID != 0 {
		t.Error("later chunks must not repeat the reply reference")
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"hello", "hello"},
		{"**bold**", "<b>bold</b>"},
		{"`code`", "<code>code</code>"},
		{"a & b", "a &amp; b"},
		{"<tag>", "&lt;tag&gt;"},
	}
	for _, tt := range tests {
		if got := toTelegramHTML(tt.input); got != tt.want {
			t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b, nil, nil)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
}

func TestChannelManager_TelegramRegistered(t *testing.T) {
	b := bus.NewMessageBus(10)
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true, Token: "fake-token"}}
	m, err := NewChannelManager(cfg, b, nil, nil)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	names := m.EnabledChannels()
	if len(names) != 1 || names[0] != "telegram" {
		t.Errorf("enabled channels = %v, want [telegram]", names)
	}
}

func TestChannelManager_FailedDeliveryReleasesStream(t *testing.T) {
	b := bus.NewMessageBus(10)
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true, Token: "fake-token"}}
	if _, err := NewChannelManager(cfg, b, nil, nil); err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	// The bot was never started, so Deliver fails before realizing the
	// stream; the manager must release the producer.
	s, push, done := bus.NewTextStream()
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		for i := 0; i < 50; i++ {
			push("chunk ")
		}
		done(nil)
	}()
	b.Dispatch(bus.NewAction(bus.ActionSays, s, bus.Delivery{Channel: "telegram", ChannelID: "1", MessageID: "2"}))

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("producer still blocked after delivery failed")
	}
}
