package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// TelegramConfig configures TelegramAdapter.
type TelegramConfig struct {
	Token string
}

// TelegramAdapter bridges Telegram chats to the message bus via long polling.
//
// Grounded on internal/channels/telegram/adapter.go's handleMessage/Send
// pair, trimmed of attachments, inline keyboards, and streaming edits.
type TelegramAdapter struct {
	token    string
	bot      *bot.Bot
	messages chan *models.InboundMessage

	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
}

// NewTelegramAdapter creates an adapter backed by go-telegram/bot.
func NewTelegramAdapter(config TelegramConfig) (*TelegramAdapter, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("channels: telegram: token is required")
	}
	a := &TelegramAdapter{token: config.Token, messages: make(chan *models.InboundMessage, 100)}

	b, err := bot.New(config.Token)
	if err != nil {
		return nil, fmt.Errorf("channels: telegram: create bot: %w", err)
	}
	a.bot = b
	return a, nil
}

func (a *TelegramAdapter) Type() string { return "telegram" }

func (a *TelegramAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return fmt.Errorf("channels: telegram: already started")
	}
	a.bot.RegisterHandler(bot.HandlerTypeMessageText, "", bot.MatchTypePrefix, a.handleUpdate)

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.connected = true
	go a.bot.Start(runCtx)
	return nil
}

func (a *TelegramAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	a.cancel()
	a.connected = false
	close(a.messages)
	return nil
}

func (a *TelegramAdapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	chatID, err := strconv.ParseInt(msg.SessionID, 10, 64)
	if err != nil {
		return fmt.Errorf("channels: telegram: invalid chat id %q: %w", msg.SessionID, err)
	}
	_, err = a.bot.SendMessage(ctx, &bot.SendMessageParams{ChatID: chatID, Text: msg.Text})
	if err != nil {
		return fmt.Errorf("channels: telegram: send: %w", err)
	}
	return nil
}

func (a *TelegramAdapter) Messages() <-chan *models.InboundMessage { return a.messages }

func (a *TelegramAdapter) handleUpdate(ctx context.Context, b *bot.Bot, update *tgmodels.Update) {
	if update.Message == nil || update.Message.Text == "" {
		return
	}
	msg := &models.InboundMessage{
		ID:        strconv.Itoa(update.Message.ID),
		Channel:   "telegram",
		SessionID: strconv.FormatInt(update.Message.Chat.ID, 10),
		Text:      update.Message.Text,
		Sender:    strconv.FormatInt(update.Message.From.ID, 10),
		Timestamp: time.Now(),
	}
	select {
	case a.messages <- msg:
	case <-ctx.Done():
	default:
	}
}
