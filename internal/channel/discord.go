package channel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"bridgebot/internal/domain"

	"github.com/bwmarrin/discordgo"
)

// Discord implements domain.Channel for Discord.
type Discord struct {
	token   string
	guildID string
	session *discordgo.Session
	bus     domain.MessageBus
	logger  *slog.Logger
}

// DiscordConfig configures the Discord channel.
type DiscordConfig struct {
	Token   string
	GuildID string
	Logger  *slog.Logger
}

// NewDiscord creates a new Discord channel handler.
func NewDiscord(cfg DiscordConfig) *Discord {
	return &Discord{
		token:   cfg.Token,
		guildID: cfg.GuildID,
		logger:  cfg.Logger,
	}
}

func (d *Discord) Name() string { return "discord" }

// Start connects to Discord using a bot token and begins listening.
func (d *Discord) Start(ctx context.Context, bus domain.MessageBus) error {
	d.bus = bus

	session, err := discordgo.New("Bot " + d.token)
	if err != nil {
		return fmt.Errorf("discord session: %w", err)
	}

	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentsMessageContent

	d.session = session

	// Register outbound handler. Chunking happens upstream, so each
	// outbound message already fits Discord's length limit.
	bus.OnOutbound("discord", func(msg domain.OutboundMessage) {
		if msg.Typing {
			if err := session.ChannelTyping(msg.ChatID); err != nil {
				d.logger.Debug("discord typing failed", "channel", msg.ChatID, "err", err)
			}
			return
		}
		if msg.Content == "" {
			return
		}
		d.sendMessage(msg)
	})

	// Register message handler.
	session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		// If guildID is set, filter messages.
		if d.guildID != "" && m.GuildID != "" && m.GuildID != d.guildID {
			return
		}

		d.logger.Info("discord message received",
			"author", m.Author.Username,
			"channel_id", m.ChannelID,
			"content_len", len(m.Content),
		)

		bus.Publish(domain.InboundMessage{
			Channel:    "discord",
			ChatID:     m.ChannelID,
			MessageID:  m.ID,
			SenderID:   m.Author.ID,
			SenderName: m.Author.Username,
			FromSelf:   m.Author.ID == s.State.User.ID,
			FromBot:    m.Author.Bot,
			Content:    m.Content,
			Timestamp:  time.Now(),
		})
	})

	if err := session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}

	d.logger.Info("discord bot connected", "user", session.State.User.Username)

	// Wait for context cancellation.
	<-ctx.Done()
	d.logger.Info("discord bot disconnecting")
	return session.Close()
}

// Stop closes the Discord gateway session.
func (d *Discord) Stop() error {
	if d.session == nil {
		return nil
	}
	return d.session.Close()
}

// Send posts a plain message to a Discord channel.
func (d *Discord) Send(ctx context.Context, chatID, content string) error {
	if d.session == nil {
		return fmt.Errorf("discord: session not started")
	}
	_, err := d.session.ChannelMessageSend(chatID, content)
	return err
}

func (d *Discord) sendMessage(msg domain.OutboundMessage) {
	var err error
	if msg.ReplyTo != "" {
		_, err = d.session.ChannelMessageSendReply(msg.ChatID, msg.Content, &discordgo.MessageReference{
			MessageID: msg.ReplyTo,
			ChannelID: msg.ChatID,
		})
	} else {
		_, err = d.session.ChannelMessageSend(msg.ChatID, msg.Content)
	}
	if err != nil {
		d.logger.Error("discord send failed", "channel", msg.ChatID, "err", err)
	}
}
