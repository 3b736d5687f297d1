package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// discordSession is the subset of *discordgo.Session this adapter uses,
// narrowed so tests can supply a fake.
//
// Grounded on internal/channels/discord/adapter.go's discordSession seam.
type discordSession interface {
	Open() error
	Close() error
	ChannelMessageSend(channelID, content string, options ...discordgo.RequestOption) (*discordgo.Message, error)
	AddHandler(handler any) func()
}

// DiscordConfig configures DiscordAdapter.
type DiscordConfig struct {
	Token string
}

// DiscordAdapter bridges Discord guild channels to the message bus.
//
// Grounded on internal/channels/discord/adapter.go's Adapter, trimmed of
// slash commands, reactions, and streaming edits — transport-specific
// command surfaces are out of scope; only inbound/outbound text matters
// here.
type DiscordAdapter struct {
	session  discordSession
	messages chan *models.InboundMessage

	mu        sync.RWMutex
	connected bool
}

// NewDiscordAdapter creates an adapter backed by a *discordgo.Session that
// it builds from config.Token.
func NewDiscordAdapter(config DiscordConfig) (*DiscordAdapter, error) {
	if config.Token == "" {
		return nil, fmt.Errorf("channels: discord: token is required")
	}
	dg, err := discordgo.New("Bot " + config.Token)
	if err != nil {
		return nil, fmt.Errorf("channels: discord: create session: %w", err)
	}
	return &DiscordAdapter{session: dg, messages: make(chan *models.InboundMessage, 100)}, nil
}

// newDiscordAdapterWithSession is the test seam, bypassing discordgo.New.
func newDiscordAdapterWithSession(session discordSession) *DiscordAdapter {
	return &DiscordAdapter{session: session, messages: make(chan *models.InboundMessage, 100)}
}

func (a *DiscordAdapter) Type() string { return "discord" }

func (a *DiscordAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return fmt.Errorf("channels: discord: already started")
	}
	a.session.AddHandler(a.handleMessageCreate)
	if err := a.session.Open(); err != nil {
		return fmt.Errorf("channels: discord: open session: %w", err)
	}
	a.connected = true
	return nil
}

func (a *DiscordAdapter) Stop(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.connected {
		return nil
	}
	if err := a.session.Close(); err != nil {
		return fmt.Errorf("channels: discord: close session: %w", err)
	}
	a.connected = false
	close(a.messages)
	return nil
}

func (a *DiscordAdapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	if msg.SessionID == "" {
		return fmt.Errorf("channels: discord: missing channel id")
	}
	if _, err := a.session.ChannelMessageSend(msg.SessionID, msg.Text); err != nil {
		return fmt.Errorf("channels: discord: send: %w", err)
	}
	return nil
}

func (a *DiscordAdapter) Messages() <-chan *models.InboundMessage { return a.messages }

func (a *DiscordAdapter) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot {
		return
	}
	msg := &models.InboundMessage{
		ID:        m.ID,
		Channel:   "discord",
		SessionID: m.ChannelID,
		Text:      m.Content,
		Sender:    m.Author.ID,
		Timestamp: time.Now(),
	}
	select {
	case a.messages <- msg:
	default:
	}
}
