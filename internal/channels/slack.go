package channels

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"

	"github.com/nexuscore/agentruntime/pkg/models"
)

// SlackConfig configures SlackAdapter.
type SlackConfig struct {
	BotToken string // xoxb-
	AppToken string // xapp-, required for Socket Mode
}

// SlackAdapter bridges Slack channels to the message bus via Socket Mode.
//
// Grounded on internal/channels/slack/adapter.go's Adapter, trimmed of
// mention/DM filtering and Block Kit rendering — every event-API message
// not posted by a bot is forwarded and replies are sent as plain text.
type SlackAdapter struct {
	client       *slack.Client
	socketClient *socketmode.Client
	messages     chan *models.InboundMessage

	mu        sync.RWMutex
	connected bool
	cancel    context.CancelFunc
}

// NewSlackAdapter creates an adapter backed by slack-go's Socket Mode client.
func NewSlackAdapter(config SlackConfig) (*SlackAdapter, error) {
	if config.BotToken == "" || config.AppToken == "" {
		return nil, fmt.Errorf("channels: slack: bot token and app token are required")
	}
	client := slack.New(config.BotToken, slack.OptionAppLevelToken(config.AppToken))
	socketClient := socketmode.New(client)
	return &SlackAdapter{
		client:       client,
		socketClient: socketClient,
		messages:     make(chan *models.InboundMessage, 100),
	}, nil
}

func (a *SlackAdapter) Type() string { return "slack" }

func (a *SlackAdapter) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.connected {
		return fmt.Errorf("channels: slack: already started")
	}
	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.connected = true

	go a.handleEvents(runCtx)
	go func() {
		_ = a.socketClient.Run()
	}()
	return nil
}

func (a *SlackAdapter) Stop(ctx context.Context) error {
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

func (a *SlackAdapter) Send(ctx context.Context, msg *models.OutboundMessage) error {
	_, _, err := a.client.PostMessageContext(ctx, msg.SessionID, slack.MsgOptionText(msg.Text, false))
	if err != nil {
		return fmt.Errorf("channels: slack: send: %w", err)
	}
	return nil
}

func (a *SlackAdapter) Messages() <-chan *models.InboundMessage { return a.messages }

func (a *SlackAdapter) handleEvents(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-a.socketClient.Events:
			if !ok {
				return
			}
			if evt.Type != socketmode.EventTypeEventsAPI {
				continue
			}
			a.socketClient.Ack(*evt.Request)

			eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
			if !ok || eventsAPIEvent.Type != slackevents.CallbackEvent {
				continue
			}
			msgEvent, ok := eventsAPIEvent.InnerEvent.Data.(*slackevents.MessageEvent)
			if !ok || msgEvent.BotID != "" {
				continue
			}

			msg := &models.InboundMessage{
				ID:        msgEvent.TimeStamp,
				Channel:   "slack",
				SessionID: msgEvent.Channel,
				Text:      msgEvent.Text,
				Sender:    msgEvent.User,
				Timestamp: time.Now(),
			}
			select {
			case a.messages <- msg:
			case <-ctx.Done():
				return
			default:
			}
		}
	}
}
