package relay

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"bridgebot/internal/backend"
	"bridgebot/internal/bus"
	"bridgebot/internal/domain"
)

const (
	defaultChunkLimit  = 2000 // transport hard limit per outbound message
	defaultConcurrency = 3
	logPreviewLen      = 100
	errReplyLen        = 500
)

// Dispatcher is the relay engine: it consumes inbound chat messages from the
// bus, filters them, intercepts control commands, forwards everything else to
// the backend with the conversation's context token, and delivers the chunked
// reply back through the bus.
type Dispatcher struct {
	backend     domain.Backend
	contexts    *ContextStore
	commands    *Commands
	bus         domain.MessageBus
	events      *bus.EventBus
	logger      *slog.Logger
	allowed     map[string]struct{}
	chunkLimit  int
	concurrency int
}

// DispatcherConfig holds the dispatcher's dependencies and tuning knobs.
type DispatcherConfig struct {
	Backend      domain.Backend
	Contexts     *ContextStore
	Commands     *Commands
	Bus          domain.MessageBus
	Events       *bus.EventBus
	Logger       *slog.Logger
	AllowedChats []string // chat IDs the relay answers in; empty = all
	ChunkLimit   int      // max outbound message size (default 2000)
	Concurrency  int      // max messages in flight (default 3)
}

func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.ChunkLimit <= 0 {
		cfg.ChunkLimit = defaultChunkLimit
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = defaultConcurrency
	}
	allowed := make(map[string]struct{}, len(cfg.AllowedChats))
	for _, id := range cfg.AllowedChats {
		if id = strings.TrimSpace(id); id != "" {
			allowed[id] = struct{}{}
		}
	}
	return &Dispatcher{
		backend:     cfg.Backend,
		contexts:    cfg.Contexts,
		commands:    cfg.Commands,
		bus:         cfg.Bus,
		events:      cfg.Events,
		logger:      cfg.Logger,
		allowed:     allowed,
		chunkLimit:  cfg.ChunkLimit,
		concurrency: cfg.Concurrency,
	}
}

// Run consumes inbound messages until ctx is cancelled or the bus closes.
// Handlers run in goroutines behind a semaphore; the context store keeps
// individual get/set atomic, but two messages racing on the same chat both
// read the pre-call token and the later store write wins.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("relay dispatcher started", "concurrency", d.concurrency)

	sem := make(chan struct{}, d.concurrency)
	inbound := d.bus.Subscribe()

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("relay dispatcher stopping")
			return
		case msg, ok := <-inbound:
			if !ok {
				d.logger.Info("inbound channel closed, relay dispatcher stopping")
				return
			}
			sem <- struct{}{}
			go func(m domain.InboundMessage) {
				defer func() { <-sem }()
				d.processMessage(ctx, m)
			}(msg)
		}
	}
}

// processMessage runs one inbound message to completion: filter, intercept,
// relay, deliver. Backend failures are converted into a single user-visible
// reply and never escape this message's handling.
func (d *Dispatcher) processMessage(ctx context.Context, msg domain.InboundMessage) {
	if msg.FromSelf || msg.FromBot {
		return
	}
	if len(d.allowed) > 0 {
		if _, ok := d.allowed[msg.ChatID]; !ok {
			d.emit(bus.EventMessageFiltered, msg, map[string]any{"reason": "chat_not_allowed"})
			return
		}
	}

	content := strings.TrimSpace(msg.Content)
	if content == "" {
		return
	}

	d.emit(bus.EventMessageReceived, msg, nil)

	convKey := msg.Channel + ":" + msg.ChatID

	if res := d.commands.Intercept(content, convKey); res != nil {
		d.logger.Info("command handled", "command", res.Name, "chat_id", msg.ChatID)
		d.emit(bus.EventCommandHandled, msg, map[string]any{"command": res.Name})
		if res.Name == "reset" {
			d.emit(bus.EventContextReset, msg, nil)
		}
		d.reply(msg, res.Reply)
		return
	}

	token := d.contexts.Get(convKey)

	d.logger.Info("relaying message",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"preview", truncate(content, logPreviewLen),
		"has_context", token != "",
	)

	// Typing indicator while the backend call is in flight.
	d.bus.SendOutbound(domain.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Typing: true})

	started := time.Now()
	resp, err := d.backend.Relay(ctx, domain.RelayRequest{Message: content, ContextID: token})
	elapsed := time.Since(started)
	if err != nil {
		d.handleRelayError(msg, err, elapsed)
		return
	}

	d.contexts.Set(convKey, resp.ContextID)

	d.logger.Info("backend replied",
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"preview", truncate(resp.Reply, logPreviewLen),
	)

	chunks, err := Split(resp.Reply, d.chunkLimit)
	if err != nil {
		d.logger.Error("reply chunking failed", "err", err)
		d.reply(msg, "Error: could not deliver the backend reply.")
		return
	}

	// First chunk threads onto the triggering message, the rest follow as
	// plain sends, in order.
	first := true
	sent := 0
	for _, chunk := range chunks {
		if chunk == "" {
			continue
		}
		out := domain.OutboundMessage{Channel: msg.Channel, ChatID: msg.ChatID, Content: chunk}
		if first {
			out.ReplyTo = msg.MessageID
			first = false
		}
		d.bus.SendOutbound(out)
		sent++
	}

	d.emit(bus.EventRelaySucceeded, msg, map[string]any{
		"chunks":    sent,
		"reply_len": len(resp.Reply),
		"message":   content,
		"reply":     resp.Reply,
		"elapsed":   elapsed.Seconds(),
		"context":   resp.ContextID,
	})
}

// handleRelayError maps a backend failure kind to the user-visible reply.
// No retries: each user message triggers exactly one backend call attempt.
func (d *Dispatcher) handleRelayError(msg domain.InboundMessage, err error, elapsed time.Duration) {
	kind := backend.KindOf(err)

	d.logger.Error("relay failed",
		"kind", string(kind),
		"channel", msg.Channel,
		"sender", msg.SenderID,
		"preview", truncate(msg.Content, logPreviewLen),
		"err", err,
	)
	d.emit(bus.EventRelayFailed, msg, map[string]any{
		"kind":    string(kind),
		"message": strings.TrimSpace(msg.Content),
		"elapsed": elapsed.Seconds(),
	})

	switch kind {
	case backend.KindTimeout:
		d.reply(msg, fmt.Sprintf(
			"The backend took too long to respond (timeout: %s). Try again or use %sreset to start fresh.",
			d.commands.Timeout(), d.commands.Prefix(),
		))
	case backend.KindUnreachable:
		d.reply(msg, fmt.Sprintf(
			"Cannot connect to the backend. Is it running?\nTarget: %s",
			d.backend.URL(),
		))
	default:
		d.reply(msg, "Error: "+truncate(err.Error(), errReplyLen))
	}
}

// reply sends a single message threaded onto the triggering one.
func (d *Dispatcher) reply(msg domain.InboundMessage, content string) {
	d.bus.SendOutbound(domain.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		ReplyTo: msg.MessageID,
	})
}

func (d *Dispatcher) emit(eventType string, msg domain.InboundMessage, extra map[string]any) {
	if d.events == nil {
		return
	}
	payload := map[string]any{
		"channel": msg.Channel,
		"chat_id": msg.ChatID,
		"sender":  msg.SenderID,
	}
	for k, v := range extra {
		payload[k] = v
	}
	d.events.Emit(bus.Event{Type: eventType, Source: "dispatcher", Payload: payload})
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
