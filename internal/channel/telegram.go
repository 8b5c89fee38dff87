package channel

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/lunalinkco/aster/internal/bus"
	"github.com/lunalinkco/aster/internal/config"
)

const telegramChannelName = "telegram"

// deliverTimeout bounds how long one action delivery may take,
// including realizing a streamed reply and waiting on the paint
// service.
const deliverTimeout = 3 * time.Minute

// TelegramBot interface for mocking telegram bot API
type TelegramBot interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetSelf() tgbotapi.User
}

// tgBotWrapper wraps tgbotapi.BotAPI to implement TelegramBot interface
type tgBotWrapper struct {
	bot *tgbotapi.BotAPI
}

func (w *tgBotWrapper) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return w.bot.GetUpdatesChan(config)
}

func (w *tgBotWrapper) StopReceivingUpdates() {
	w.bot.StopReceivingUpdates()
}

func (w *tgBotWrapper) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	return w.bot.Send(c)
}

func (w *tgBotWrapper) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	return w.bot.Request(c)
}

func (w *tgBotWrapper) GetSelf() tgbotapi.User {
	return w.bot.Self
}

// BotFactory creates TelegramBot instances (allows mocking)
type BotFactory func(token, apiEndpoint string, client *http.Client) (TelegramBot, error)

// defaultBotFactory creates real telegram bot
var defaultBotFactory BotFactory = func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
	bot, err := tgbotapi.NewBotAPIWithClient(token, apiEndpoint, client)
	if err != nil {
		return nil, err
	}
	return &tgBotWrapper{bot: bot}, nil
}

type TelegramChannel struct {
	BaseChannel
	token      string
	bot        TelegramBot
	proxy      string
	painter    Painter
	cancel     context.CancelFunc
	botFactory BotFactory

	// OnSelf is invoked once the bot identity is known, with the
	// mention token ("@username") other users address the agent by.
	OnSelf func(mention string)
}

func NewTelegramChannel(cfg config.TelegramConfig, b *bus.MessageBus, painter Painter) (*TelegramChannel, error) {
	return NewTelegramChannelWithFactory(cfg, b, painter, defaultBotFactory)
}

// NewTelegramChannelWithFactory creates a TelegramChannel with custom bot factory (for testing)
func NewTelegramChannelWithFactory(cfg config.TelegramConfig, b *bus.MessageBus, painter Painter, factory BotFactory) (*TelegramChannel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}

	ch := &TelegramChannel{
		BaseChannel: NewBaseChannel(telegramChannelName, b, cfg.AllowFrom),
		token:       cfg.Token,
		proxy:       cfg.Proxy,
		painter:     painter,
		botFactory:  factory,
	}
	return ch, nil
}

func (t *TelegramChannel) initBot() error {
	client := http.DefaultClient
	if t.proxy != "" {
		proxyURL, err := url.Parse(t.proxy)
		if err != nil {
			return fmt.Errorf("parse proxy url: %w", err)
		}
		client = &http.Client{
			Transport: &http.Transport{Proxy: http.ProxyURL(proxyURL)},
		}
	}

	bot, err := t.botFactory(t.token, tgbotapi.APIEndpoint, client)
	if err != nil {
		return fmt.Errorf("create telegram bot: %w", err)
	}
	t.bot = bot
	log.Printf("[telegram] authorized as @%s", bot.GetSelf().UserName)

	if t.OnSelf != nil {
		t.OnSelf("@" + bot.GetSelf().UserName)
	}
	return nil
}

func (t *TelegramChannel) Start(ctx context.Context) error {
	if err := t.initBot(); err != nil {
		return err
	}

	ctx, t.cancel = context.WithCancel(ctx)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := t.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case update := <-updates:
				if update.Message == nil {
					continue
				}
				t.handleMessage(update.Message)
			case <-ctx.Done():
				return
			}
		}
	}()

	log.Printf("[telegram] polling started")
	return nil
}

func (t *TelegramChannel) handleMessage(msg *tgbotapi.Message) {
	if msg.From == nil || msg.From.IsBot {
		return
	}

	senderID := strconv.FormatInt(msg.From.ID, 10)
	if !t.IsAllowed(senderID) {
		log.Printf("[telegram] rejected message from %s (%s)", senderID, msg.From.UserName)
		return
	}

	// Membership changes become join perceptions: context the agent
	// observes without replying to.
	for _, member := range msg.NewChatMembers {
		t.bus.Inbound <- bus.Perception{
			Kind:         bus.PerceptionJoined,
			Content:      fmt.Sprintf("%s joined the chat", displayName(&member)),
			AuthorName:   userName(&member),
			Meta:         t.delivery(msg, &member),
			ArrivalOrder: bus.NextArrivalOrder(),
		}
	}

	content := msg.Text
	if content == "" && msg.Caption != "" {
		content = msg.Caption
	}
	if content == "" {
		return
	}

	t.bus.Inbound <- bus.Perception{
		Kind:         bus.PerceptionChatted,
		Content:      content,
		AuthorName:   userName(msg.From),
		Meta:         t.delivery(msg, msg.From),
		ArrivalOrder: bus.NextArrivalOrder(),
	}
}

func (t *TelegramChannel) delivery(msg *tgbotapi.Message, from *tgbotapi.User) bus.Delivery {
	d := bus.Delivery{
		Channel:         telegramChannelName,
		ChannelID:       strconv.FormatInt(msg.Chat.ID, 10),
		MessageID:       strconv.Itoa(msg.MessageID),
		UserID:          strconv.FormatInt(from.ID, 10),
		UserName:        userName(from),
		UserDisplayName: displayName(from),
		Timestamp:       int64(msg.Date) * 1000,
		IsBot:           from.IsBot,
	}
	if msg.ReplyToMessage != nil && msg.ReplyToMessage.From != nil {
		d.RepliedToUserID = strconv.FormatInt(msg.ReplyToMessage.From.ID, 10)
	}
	if msg.Chat.IsPrivate() {
		d.Extra = map[string]any{"direct": true}
	}
	return d
}

func userName(u *tgbotapi.User) string {
	if u.UserName != "" {
		return u.UserName
	}
	return u.FirstName
}

func displayName(u *tgbotapi.User) string {
	name := strings.TrimSpace(u.FirstName + " " + u.LastName)
	if name == "" {
		name = u.UserName
	}
	return name
}

func (t *TelegramChannel) Stop() error {
	if t.cancel != nil {
		t.cancel()
	}
	if t.bot != nil {
		t.bot.StopReceivingUpdates()
	}
	log.Printf("[telegram] stopped")
	return nil
}

// SetBot sets the bot (for testing)
func (t *TelegramChannel) SetBot(bot TelegramBot) {
	t.bot = bot
}

// Deliver executes one outbound action: says actions send text, paint
// actions call the image service and send the result. Either way the
// response replies to the original message, unless it comes too late,
// in which case it goes out as a freestanding message marked as
// delayed.
func (t *TelegramChannel) Deliver(action bus.Action) error {
	if t.bot == nil {
		return fmt.Errorf("telegram bot not initialized")
	}

	chatID, err := strconv.ParseInt(action.Meta.ChannelID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat id %q: %w", action.Meta.ChannelID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()

	switch action.Kind {
	case bus.ActionSays:
		return t.deliverSays(ctx, chatID, action)
	case bus.ActionPaint:
		return t.deliverPaint(ctx, chatID, action)
	default:
		return fmt.Errorf("unsupported action kind %q", action.Kind)
	}
}

func (t *TelegramChannel) deliverSays(ctx context.Context, chatID int64, action bus.Action) error {
	if action.Content == nil {
		return fmt.Errorf("says action without content")
	}

	// Typing shows while the stream is still being realized.
	if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)); err != nil {
		log.Printf("[telegram] typing indicator warning: %v", err)
	}

	text, err := action.Content.Realize(ctx)
	if err != nil {
		return fmt.Errorf("realize reply: %w", err)
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	replyTo := 0
	if action.Meta.Delayed(time.Now()) {
		text = fmt.Sprintf("[Delayed response to a message from %s]\n%s", action.Meta.UserDisplayName, text)
	} else if id, err := strconv.Atoi(action.Meta.MessageID); err == nil {
		replyTo = id
	}

	return t.sendText(chatID, replyTo, text)
}

func (t *TelegramChannel) deliverPaint(ctx context.Context, chatID int64, action bus.Action) error {
	if t.painter == nil {
		return fmt.Errorf("paint action without a painter")
	}

	if _, err := t.bot.Request(tgbotapi.NewChatAction(chatID, tgbotapi.ChatUploadPhoto)); err != nil {
		log.Printf("[telegram] upload indicator warning: %v", err)
	}

	imageURL, err := t.painter.Generate(ctx, action.Meta.Prompt)
	if err != nil {
		return fmt.Errorf("generate painting: %w", err)
	}

	photo := tgbotapi.NewPhoto(chatID, tgbotapi.FileURL(imageURL))
	if !action.Meta.Delayed(time.Now()) {
		if id, err := strconv.Atoi(action.Meta.MessageID); err == nil {
			photo.ReplyToMessageID = id
		}
	}
	if _, err := t.bot.Send(photo); err != nil {
		// The URL still reaches the user even if Telegram refuses to
		// fetch the image.
		log.Printf("[telegram] send photo warning, falling back to link: %v", err)
		return t.sendText(chatID, photo.ReplyToMessageID, imageURL)
	}
	return nil
}

func (t *TelegramChannel) sendText(chatID int64, replyTo int, content string) error {
	content = toTelegramHTML(content)

	// Telegram has a 4096 char limit per message
	const maxLen = 4000
	for len(content) > 0 {
		chunk := content
		if len(chunk) > maxLen {
			// Try to split at last newline before maxLen
			idx := strings.LastIndex(chunk[:maxLen], "\n")
			if idx > 0 {
				chunk = chunk[:idx]
			} else {
				chunk = chunk[:maxLen]
			}
		}
		content = content[len(chunk):]

		tgMsg := tgbotapi.NewMessage(chatID, chunk)
		tgMsg.ParseMode = tgbotapi.ModeHTML
		tgMsg.ReplyToMessageID = replyTo
		if _, err := t.bot.Send(tgMsg); err != nil {
			// Retry without HTML parse mode
			tgMsg.ParseMode = ""
			if _, err2 := t.bot.Send(tgMsg); err2 != nil {
				return fmt.Errorf("send telegram message: %w", err2)
			}
		}
		replyTo = 0
	}
	return nil
}

// toTelegramHTML converts basic markdown to Telegram HTML.
func toTelegramHTML(s string) string {
	// Escape HTML entities first
	s = strings.ReplaceAll(s, "&", "&amp;")
	s = strings.ReplaceAll(s, "<", "&lt;")
	s = strings.ReplaceAll(s, ">", "&gt;")

	// Code blocks: ```...``` -> <pre>...</pre>
	for {
		start := strings.Index(s, "```")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+3:], "```")
		if end == -1 {
			break
		}
		end += start + 3
		code := s[start+3 : end]
		// Strip optional language tag on first line
		if nl := strings.Index(code, "\n"); nl >= 0 {
			firstLine := strings.TrimSpace(code[:nl])
			if len(firstLine) > 0 && !strings.Contains(firstLine, " ") {
				code = code[nl+1:]
			}
		}
		s = s[:start] + "<pre>" + code + "</pre>" + s[end+3:]
	}

	// Inline code: `...` -> <code>...</code>
	for {
		start := strings.Index(s, "`")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+1:], "`")
		if end == -1 {
			break
		}
		end += start + 1
		s = s[:start] + "<code>" + s[start+1:end] + "</code>" + s[end+1:]
	}

	// Bold: **...** -> <b>...</b>
	for {
		start := strings.Index(s, "**")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+2:], "**")
		if end == -1 {
			break
		}
		end += start + 2
		s = s[:start] + "<b>" + s[start+2:end] + "</b>" + s[end+2:]
	}

	// Italic: *...* -> <i>...</i> (after bold to avoid conflicts)
	for {
		start := strings.Index(s, "*")
		if start == -1 {
			break
		}
		end := strings.Index(s[start+1:], "*")
		if end == -1 {
			break
		}
		end += start + 1
		s = s[:start] + "<i>" + s[start+1:end] + "</i>" + s[end+1:]
	}

	return s
}
