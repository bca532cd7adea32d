package relay

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"bridgebot/internal/backend"
	"bridgebot/internal/domain"
)

func testDispatcherLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeBus records outbound messages; inbound delivery is exercised by
// calling processMessage directly.
type fakeBus struct {
	mu   sync.Mutex
	sent []domain.OutboundMessage
}

func (f *fakeBus) Publish(msg domain.InboundMessage)       {}
func (f *fakeBus) Subscribe() <-chan domain.InboundMessage { return nil }
func (f *fakeBus) SendOutbound(msg domain.OutboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, msg)
}
func (f *fakeBus) OnOutbound(string, func(domain.OutboundMessage)) {}
func (f *fakeBus) Close()                                          {}

// replies returns sent messages that carry content (typing signals excluded).
func (f *fakeBus) replies() []domain.OutboundMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []domain.OutboundMessage
	for _, m := range f.sent {
		if !m.Typing {
			out = append(out, m)
		}
	}
	return out
}

type fakeBackend struct {
	mu    sync.Mutex
	resp  *domain.RelayResponse
	err   error
	calls []domain.RelayRequest
}

func (f *fakeBackend) Relay(ctx context.Context, req domain.RelayRequest) (*domain.RelayResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.resp, nil
}

func (f *fakeBackend) URL() string                       { return "http://127.0.0.1:80/api_message" }
func (f *fakeBackend) Healthy(ctx context.Context) error { return nil }
func (f *fakeBackend) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func newTestDispatcher(be domain.Backend, allowed []string) (*Dispatcher, *fakeBus, *ContextStore) {
	fb := &fakeBus{}
	contexts := NewContextStore()
	d := NewDispatcher(DispatcherConfig{
		Backend:      be,
		Contexts:     contexts,
		Commands:     NewCommands("!", contexts, "http://127.0.0.1:80/api_message", 300*time.Second),
		Bus:          fb,
		Logger:       testDispatcherLogger(),
		AllowedChats: allowed,
	})
	return d, fb, contexts
}

func inbound(chatID, content string) domain.InboundMessage {
	return domain.InboundMessage{
		Channel:   "discord",
		ChatID:    chatID,
		MessageID: "msg-1",
		SenderID:  "user-1",
		Content:   content,
		Timestamp: time.Now(),
	}
}

func TestDispatcher_FirstMessageStoresContext(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "hi", ContextID: "ctx-1"}}
	d, fb, contexts := newTestDispatcher(be, nil)

	d.processMessage(context.Background(), inbound("42", "hello"))

	if be.callCount() != 1 {
		t.Fatalf("expected 1 backend call, got %d", be.callCount())
	}
	if be.calls[0].ContextID != "" {
		t.Errorf("first message should relay with empty context, got %q", be.calls[0].ContextID)
	}
	if got := contexts.Get("discord:42"); got != "ctx-1" {
		t.Errorf("returned token should be stored, got %q", got)
	}

	replies := fb.replies()
	if len(replies) != 1 || replies[0].Content != "hi" {
		t.Fatalf("expected one reply 'hi', got %+v", replies)
	}
	if replies[0].ReplyTo != "msg-1" {
		t.Error("reply should thread onto the triggering message")
	}
}

func TestDispatcher_ExistingContextPassedAlong(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "again", ContextID: "ctx-2"}}
	d, _, contexts := newTestDispatcher(be, nil)
	contexts.Set("discord:42", "ctx-1")

	d.processMessage(context.Background(), inbound("42", "follow up"))

	if be.calls[0].ContextID != "ctx-1" {
		t.Errorf("expected stored token on the request, got %q", be.calls[0].ContextID)
	}
	if got := contexts.Get("discord:42"); got != "ctx-2" {
		t.Errorf("newer token should replace the old one, got %q", got)
	}
}

func TestDispatcher_EmptyTokenKeepsOld(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "ok", ContextID: ""}}
	d, _, contexts := newTestDispatcher(be, nil)
	contexts.Set("discord:42", "ctx-1")

	d.processMessage(context.Background(), inbound("42", "hello"))

	if got := contexts.Get("discord:42"); got != "ctx-1" {
		t.Errorf("empty returned token must not overwrite, got %q", got)
	}
}

func TestDispatcher_ResetShortCircuits(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "unused"}}
	d, fb, contexts := newTestDispatcher(be, nil)
	contexts.Set("discord:42", "ctx-1")

	d.processMessage(context.Background(), inbound("42", "!reset"))

	if be.callCount() != 0 {
		t.Error("reset must not call the backend")
	}
	if contexts.Get("discord:42") != "" {
		t.Error("reset should clear the context")
	}
	replies := fb.replies()
	if len(replies) != 1 || !strings.Contains(replies[0].Content, "reset") {
		t.Fatalf("expected a confirmation reply, got %+v", replies)
	}
}

func TestDispatcher_TimeoutReply(t *testing.T) {
	be := &fakeBackend{err: &backend.Error{Kind: backend.KindTimeout, Err: context.DeadlineExceeded}}
	d, fb, contexts := newTestDispatcher(be, nil)
	contexts.Set("discord:42", "ctx-1")

	d.processMessage(context.Background(), inbound("42", "slow question"))

	replies := fb.replies()
	if len(replies) != 1 {
		t.Fatalf("expected exactly one timeout reply, got %d", len(replies))
	}
	if !strings.Contains(replies[0].Content, "!reset") {
		t.Errorf("timeout reply should suggest the reset command, got %q", replies[0].Content)
	}
	if contexts.Get("discord:42") != "ctx-1" {
		t.Error("context must be unchanged after a timeout")
	}
}

func TestDispatcher_UnreachableReplyNamesEndpoint(t *testing.T) {
	be := &fakeBackend{err: &backend.Error{Kind: backend.KindUnreachable}}
	d, fb, _ := newTestDispatcher(be, nil)

	d.processMessage(context.Background(), inbound("42", "hello"))

	replies := fb.replies()
	if len(replies) != 1 || !strings.Contains(replies[0].Content, "http://127.0.0.1:80/api_message") {
		t.Fatalf("expected the endpoint in the reply, got %+v", replies)
	}
}

func TestDispatcher_StatusErrorGenericReply(t *testing.T) {
	be := &fakeBackend{err: &backend.Error{Kind: backend.KindStatus, Status: 500, Body: "boom"}}
	d, fb, _ := newTestDispatcher(be, nil)

	d.processMessage(context.Background(), inbound("42", "hello"))

	replies := fb.replies()
	if len(replies) != 1 || !strings.HasPrefix(replies[0].Content, "Error:") {
		t.Fatalf("expected a generic error reply, got %+v", replies)
	}
}

func TestDispatcher_SelfMessageIgnored(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "unused"}}
	d, fb, _ := newTestDispatcher(be, nil)

	msg := inbound("42", "!help")
	msg.FromSelf = true
	d.processMessage(context.Background(), msg)

	if be.callCount() != 0 || len(fb.sent) != 0 {
		t.Error("own messages must be dropped without any reply")
	}
}

func TestDispatcher_BotMessageIgnored(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "unused"}}
	d, fb, _ := newTestDispatcher(be, nil)

	msg := inbound("42", "hello")
	msg.FromBot = true
	d.processMessage(context.Background(), msg)

	if be.callCount() != 0 || len(fb.sent) != 0 {
		t.Error("bot messages must be dropped without any reply")
	}
}

func TestDispatcher_AllowList(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "hi"}}
	d, fb, _ := newTestDispatcher(be, []string{"42", "99"})

	d.processMessage(context.Background(), inbound("7", "hello"))
	if be.callCount() != 0 || len(fb.sent) != 0 {
		t.Error("chats outside the allow-list must be dropped")
	}

	d.processMessage(context.Background(), inbound("42", "hello"))
	if be.callCount() != 1 {
		t.Error("allowed chat should be relayed")
	}
}

func TestDispatcher_EmptyContentIgnored(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "unused"}}
	d, fb, _ := newTestDispatcher(be, nil)

	d.processMessage(context.Background(), inbound("42", "   \n  "))
	if be.callCount() != 0 || len(fb.sent) != 0 {
		t.Error("whitespace-only messages must be dropped")
	}
}

func TestDispatcher_LongReplyChunked(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: strings.Repeat("a", 4500), ContextID: "ctx-1"}}
	d, fb, _ := newTestDispatcher(be, nil)

	d.processMessage(context.Background(), inbound("42", "long answer please"))

	replies := fb.replies()
	if len(replies) != 3 {
		t.Fatalf("expected 3 chunks, got %d", len(replies))
	}
	if replies[0].ReplyTo != "msg-1" {
		t.Error("first chunk should be a threaded reply")
	}
	for i, r := range replies[1:] {
		if r.ReplyTo != "" {
			t.Errorf("chunk %d should be a plain send", i+1)
		}
	}
	if len(replies[0].Content) != 2000 || len(replies[1].Content) != 2000 || len(replies[2].Content) != 500 {
		t.Errorf("unexpected chunk lengths: %d, %d, %d",
			len(replies[0].Content), len(replies[1].Content), len(replies[2].Content))
	}
}

func TestDispatcher_TypingSignalBeforeRelay(t *testing.T) {
	be := &fakeBackend{resp: &domain.RelayResponse{Reply: "hi"}}
	d, fb, _ := newTestDispatcher(be, nil)

	d.processMessage(context.Background(), inbound("42", "hello"))

	fb.mu.Lock()
	defer fb.mu.Unlock()
	if len(fb.sent) < 2 || !fb.sent[0].Typing {
		t.Fatalf("expected a typing signal before the reply, got %+v", fb.sent)
	}
}
