package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bridgebot/internal/domain"

	"github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
)

// Slack implements domain.Channel for Slack using Socket Mode.
type Slack struct {
	botToken string
	appToken string
	client   *slack.Client
	socket   *socketmode.Client
	bus      domain.MessageBus
	logger   *slog.Logger
	botUID   string // the bot's own user ID
}

// SlackConfig configures the Slack channel.
type SlackConfig struct {
	BotToken string
	AppToken string
	Logger   *slog.Logger
}

// NewSlack creates a new Slack channel handler.
func NewSlack(cfg SlackConfig) *Slack {
	return &Slack{
		botToken: cfg.BotToken,
		appToken: cfg.AppToken,
		logger:   cfg.Logger,
	}
}

func (s *Slack) Name() string { return "slack" }

// Start connects to Slack via Socket Mode and begins listening for events.
func (s *Slack) Start(ctx context.Context, bus domain.MessageBus) error {
	s.bus = bus

	api := slack.New(
		s.botToken,
		slack.OptionAppLevelToken(s.appToken),
	)
	s.client = api

	// Get bot user ID.
	authResp, err := api.AuthTest()
	if err != nil {
		return fmt.Errorf("slack auth: %w", err)
	}
	s.botUID = authResp.UserID
	s.logger.Info("slack bot connected", "user", authResp.User, "user_id", authResp.UserID)

	socketClient := socketmode.New(api)
	s.socket = socketClient

	// Register outbound handler. Slack has no persistent typing indicator
	// over the Web API, so typing signals are dropped.
	bus.OnOutbound("slack", func(msg domain.OutboundMessage) {
		if msg.Typing || msg.Content == "" {
			return
		}
		s.sendMessage(msg.ChatID, msg.Content, msg.ReplyTo)
	})

	// Event handling goroutine.
	go func() {
		for evt := range socketClient.Events {
			switch evt.Type {
			case socketmode.EventTypeEventsAPI:
				eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
				if !ok {
					continue
				}
				socketClient.Ack(*evt.Request)
				s.handleEventsAPI(eventsAPIEvent)

			default:
				// Acknowledge unknown events to prevent Socket Mode disconnection.
				if evt.Request != nil {
					socketClient.Ack(*evt.Request)
				}
			}
		}
	}()

	// Run Socket Mode client (blocks until context is done).
	errCh := make(chan error, 1)
	go func() {
		errCh <- socketClient.RunContext(ctx)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("slack bot disconnecting")
		return nil
	case err := <-errCh:
		return fmt.Errorf("slack socket mode: %w", err)
	}
}

// Stop is a no-op. The socket mode client stops when Start's context is cancelled.
func (s *Slack) Stop() error { return nil }

// Send posts a plain message to a Slack channel.
func (s *Slack) Send(ctx context.Context, chatID, content string) error {
	if s.client == nil {
		return fmt.Errorf("slack: client not started")
	}
	_, _, err := s.client.PostMessageContext(ctx, chatID, slack.MsgOptionText(content, false))
	return err
}

func (s *Slack) handleEventsAPI(event slackevents.EventsAPIEvent) {
	switch event.Type {
	case slackevents.CallbackEvent:
		innerEvent := event.InnerEvent
		switch ev := innerEvent.Data.(type) {
		case *slackevents.MessageEvent:
			// message_changed and other subtypes carry no new user text.
			if ev.User == "" || ev.SubType != "" {
				return
			}

			s.logger.Info("slack message received",
				"user", ev.User,
				"channel", ev.Channel,
				"content_len", len(ev.Text),
			)

			s.bus.Publish(domain.InboundMessage{
				Channel:   "slack",
				ChatID:    ev.Channel,
				MessageID: ev.TimeStamp,
				SenderID:  ev.User,
				FromSelf:  ev.User == s.botUID,
				FromBot:   ev.BotID != "",
				Content:   ev.Text,
				Timestamp: time.Now(),
			})

		case *slackevents.AppMentionEvent:
			s.logger.Info("slack mention received",
				"user", ev.User,
				"channel", ev.Channel,
			)

			// Strip the mention prefix.
			content := ev.Text
			if idx := strings.Index(content, ">"); idx >= 0 {
				content = strings.TrimSpace(content[idx+1:])
			}

			s.bus.Publish(domain.InboundMessage{
				Channel:   "slack",
				ChatID:    ev.Channel,
				MessageID: ev.TimeStamp,
				SenderID:  ev.User,
				FromSelf:  ev.User == s.botUID,
				Content:   content,
				Timestamp: time.Now(),
			})
		}
	}
}

func (s *Slack) sendMessage(channelID, content, replyTo string) {
	opts := []slack.MsgOption{slack.MsgOptionText(content, false)}
	if replyTo != "" {
		// Replies go into the thread rooted at the original message.
		opts = append(opts, slack.MsgOptionTS(replyTo))
	}
	if _, _, err := s.client.PostMessage(channelID, opts...); err != nil {
		s.logger.Error("slack send failed", "channel", channelID, "err", err)
	}
}
