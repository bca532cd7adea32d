package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"bridgebot/internal/domain"

	"github.com/google/uuid"
)

// WebhookConfig configures the webhook channel.
type WebhookConfig struct {
	Port   int
	Path   string // webhook URL path (default: /webhook)
	Secret string // HMAC secret for verifying webhook signatures
	Logger *slog.Logger
}

// Webhook implements a channel that accepts HTTP POST requests and queues
// the relay's replies for polling. The backend can take minutes to answer,
// so the POST is acknowledged immediately and replies are fetched later
// from the /replies endpoint.
type Webhook struct {
	port   int
	path   string
	secret string
	bus    domain.MessageBus
	logger *slog.Logger
	server *http.Server

	mu      sync.Mutex
	replies map[string][]string // chatID -> pending reply texts
}

// WebhookPayload is the expected JSON body for webhook requests.
type WebhookPayload struct {
	ChatID  string `json:"chat_id"` // conversation ID, defaults per sender
	UserID  string `json:"user_id"` // sender identifier
	Content string `json:"content"` // message content
}

// NewWebhook creates a new webhook channel handler.
func NewWebhook(cfg WebhookConfig) *Webhook {
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	if cfg.Port == 0 {
		cfg.Port = 9090
	}
	return &Webhook{
		port:    cfg.Port,
		path:    cfg.Path,
		secret:  cfg.Secret,
		logger:  cfg.Logger,
		replies: make(map[string][]string),
	}
}

func (w *Webhook) Name() string { return "webhook" }

// Start begins the webhook HTTP server.
func (w *Webhook) Start(ctx context.Context, bus domain.MessageBus) error {
	w.bus = bus

	mux := http.NewServeMux()
	mux.HandleFunc(w.path, w.handleWebhook)
	mux.HandleFunc(w.path+"/replies", w.handleReplies)

	w.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", w.port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	bus.OnOutbound("webhook", func(msg domain.OutboundMessage) {
		if msg.Typing || msg.Content == "" {
			return
		}
		w.mu.Lock()
		w.replies[msg.ChatID] = append(w.replies[msg.ChatID], msg.Content)
		w.mu.Unlock()
	})

	w.logger.Info("webhook server starting", "port", w.port, "path", w.path)

	errCh := make(chan error, 1)
	go func() {
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		w.logger.Info("webhook server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return w.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("webhook server: %w", err)
	}
}

// Stop shuts down the HTTP server.
func (w *Webhook) Stop() error {
	if w.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return w.server.Shutdown(ctx)
}

// Send queues a reply for polling, same as an outbound bus message.
func (w *Webhook) Send(ctx context.Context, chatID, content string) error {
	w.mu.Lock()
	w.replies[chatID] = append(w.replies[chatID], content)
	w.mu.Unlock()
	return nil
}

func (w *Webhook) handleWebhook(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1MB max
	if err != nil {
		http.Error(rw, "Bad Request", http.StatusBadRequest)
		return
	}
	defer r.Body.Close()

	// Verify HMAC signature if secret is configured.
	if w.secret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			http.Error(rw, "Missing signature", http.StatusUnauthorized)
			return
		}
		if !verifyHMAC(body, w.secret, sig) {
			http.Error(rw, "Invalid signature", http.StatusForbidden)
			return
		}
	}

	var payload WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(rw, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if payload.Content == "" {
		http.Error(rw, "Content is required", http.StatusBadRequest)
		return
	}

	if payload.UserID == "" {
		payload.UserID = "webhook"
	}
	if payload.ChatID == "" {
		payload.ChatID = "webhook-" + payload.UserID
	}

	w.logger.Info("webhook received",
		"chat_id", payload.ChatID,
		"user_id", payload.UserID,
		"content_len", len(payload.Content),
	)

	w.bus.Publish(domain.InboundMessage{
		Channel:   "webhook",
		ChatID:    payload.ChatID,
		MessageID: uuid.NewString(),
		SenderID:  payload.UserID,
		Content:   payload.Content,
		Timestamp: time.Now(),
	})

	rw.WriteHeader(http.StatusAccepted)
	json.NewEncoder(rw).Encode(map[string]string{
		"status":  "accepted",
		"chat_id": payload.ChatID,
	})
}

// handleReplies drains and returns queued replies for a conversation.
func (w *Webhook) handleReplies(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(rw, "Method Not Allowed", http.StatusMethodNotAllowed)
		return
	}

	chatID := r.URL.Query().Get("chat_id")
	if chatID == "" {
		http.Error(rw, "chat_id is required", http.StatusBadRequest)
		return
	}

	w.mu.Lock()
	pending := w.replies[chatID]
	delete(w.replies, chatID)
	w.mu.Unlock()

	if pending == nil {
		pending = []string{}
	}
	rw.Header().Set("Content-Type", "application/json")
	json.NewEncoder(rw).Encode(map[string]any{
		"chat_id": chatID,
		"replies": pending,
	})
}

// verifyHMAC verifies the HMAC-SHA256 signature of the body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
