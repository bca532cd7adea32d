package channel

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"bridgebot/internal/domain"
)

func testWebhookLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// stubBus records published messages for handler tests.
type stubBus struct {
	published []domain.InboundMessage
}

func (b *stubBus) Publish(msg domain.InboundMessage) { b.published = append(b.published, msg) }
func (b *stubBus) Subscribe() <-chan domain.InboundMessage {
	return nil
}
func (b *stubBus) SendOutbound(msg domain.OutboundMessage)                    {}
func (b *stubBus) OnOutbound(ch string, handler func(domain.OutboundMessage)) {}
func (b *stubBus) Close()                                                     {}

func TestVerifyHMAC_Valid(t *testing.T) {
	secret := "test-secret"
	body := []byte(`{"content":"hello"}`)

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	sig := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !verifyHMAC(body, secret, sig) {
		t.Error("valid HMAC should verify")
	}
}

func TestVerifyHMAC_Invalid(t *testing.T) {
	if verifyHMAC([]byte("body"), "secret", "sha256=invalid") {
		t.Error("invalid HMAC should not verify")
	}
}

func TestVerifyHMAC_Empty(t *testing.T) {
	if verifyHMAC([]byte("body"), "secret", "") {
		t.Error("empty signature should not verify")
	}
}

func TestWebhookHandler_MethodNotAllowed(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testWebhookLogger()})
	req := httptest.NewRequest("GET", "/webhook", nil)
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("expected 405, got %d", rr.Code)
	}
}

func TestWebhookHandler_EmptyContent(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testWebhookLogger()})
	body := `{"content":""}`
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_InvalidJSON(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testWebhookLogger()})
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString("not json"))
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}

func TestWebhookHandler_MissingSignature(t *testing.T) {
	w := NewWebhook(WebhookConfig{Secret: "my-secret", Logger: testWebhookLogger()})
	body := `{"content":"hello"}`
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rr.Code)
	}
}

func TestWebhookHandler_InvalidSignature(t *testing.T) {
	w := NewWebhook(WebhookConfig{Secret: "my-secret", Logger: testWebhookLogger()})
	body := `{"content":"hello"}`
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	req.Header.Set("X-Signature-256", "sha256=invalid")
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusForbidden {
		t.Errorf("expected 403, got %d", rr.Code)
	}
}

func TestWebhookHandler_PublishesInbound(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testWebhookLogger()})
	bus := &stubBus{}
	w.bus = bus

	body := `{"chat_id":"chat1","user_id":"user1","content":"hello"}`
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if rr.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rr.Code)
	}
	if len(bus.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bus.published))
	}
	msg := bus.published[0]
	if msg.Channel != "webhook" || msg.ChatID != "chat1" || msg.Content != "hello" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if msg.MessageID == "" {
		t.Error("message ID should be assigned")
	}
}

func TestWebhookHandler_DefaultChatID(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testWebhookLogger()})
	bus := &stubBus{}
	w.bus = bus

	body := `{"user_id":"alice","content":"hi"}`
	req := httptest.NewRequest("POST", "/webhook", bytes.NewBufferString(body))
	rr := httptest.NewRecorder()

	w.handleWebhook(rr, req)
	if len(bus.published) != 1 {
		t.Fatalf("expected 1 published message, got %d", len(bus.published))
	}
	if got := bus.published[0].ChatID; got != "webhook-alice" {
		t.Errorf("ChatID = %q, want webhook-alice", got)
	}
}

func TestWebhookReplies_DrainQueue(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testWebhookLogger()})
	w.Send(context.Background(), "chat1", "first")
	w.Send(context.Background(), "chat1", "second")

	req := httptest.NewRequest("GET", "/webhook/replies?chat_id=chat1", nil)
	rr := httptest.NewRecorder()
	w.handleReplies(rr, req)

	var resp struct {
		ChatID  string   `json:"chat_id"`
		Replies []string `json:"replies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Replies) != 2 || resp.Replies[0] != "first" {
		t.Fatalf("unexpected replies: %v", resp.Replies)
	}

	// Second poll is empty, the queue was drained.
	rr = httptest.NewRecorder()
	w.handleReplies(rr, req)
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Replies) != 0 {
		t.Fatalf("expected drained queue, got %v", resp.Replies)
	}
}

func TestWebhookReplies_MissingChatID(t *testing.T) {
	w := NewWebhook(WebhookConfig{Logger: testWebhookLogger()})
	req := httptest.NewRequest("GET", "/webhook/replies", nil)
	rr := httptest.NewRecorder()
	w.handleReplies(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rr.Code)
	}
}
