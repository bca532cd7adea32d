package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"bridgebot/internal/domain"

	"github.com/google/uuid"
)

const (
	defaultTimeout = 300 * time.Second
	maxErrBody     = 500 // bytes of a non-2xx body surfaced in the error

	// emptyReplySentinel stands in for a 200 response whose reply text is
	// missing; an empty backend answer is not an error.
	emptyReplySentinel = "(backend returned an empty response)"
)

// Client implements domain.Backend against the conversational HTTP endpoint.
// One call per user message: POST {"message","context_id"} and parse the
// reply text plus updated context token.
type Client struct {
	url     string
	apiKey  string
	timeout time.Duration
	http    *http.Client
	logger  *slog.Logger
}

type Config struct {
	URL     string
	APIKey  string
	Timeout time.Duration
	Logger  *slog.Logger

	// HTTPClient overrides the pooled default, used by tests.
	HTTPClient *http.Client
}

func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = sharedHTTPClient(cfg.Timeout)
	}
	return &Client{
		url:     cfg.URL,
		apiKey:  cfg.APIKey,
		timeout: cfg.Timeout,
		http:    hc,
		logger:  cfg.Logger,
	}
}

func (c *Client) URL() string            { return c.url }
func (c *Client) Timeout() time.Duration { return c.timeout }

// Healthy reports whether the client is usable at all. It does not probe the
// endpoint; every probe would start a backend conversation.
func (c *Client) Healthy(ctx context.Context) error {
	if c.apiKey == "" {
		return fmt.Errorf("backend: no API key configured")
	}
	if c.url == "" {
		return fmt.Errorf("backend: no URL configured")
	}
	return nil
}

type relayPayload struct {
	Message   string `json:"message"`
	ContextID string `json:"context_id"`
}

type relayReply struct {
	Response  string `json:"response"`
	ContextID string `json:"context_id"`
}

// Relay forwards one message to the backend and returns its reply. Failures
// come back as *Error tagged with the failure kind.
func (c *Client) Relay(ctx context.Context, req domain.RelayRequest) (*domain.RelayResponse, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(relayPayload{
		Message:   req.Message,
		ContextID: req.ContextID,
	})
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("marshal: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("new request: %w", err)}
	}
	requestID := uuid.NewString()
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-API-KEY", c.apiKey)
	httpReq.Header.Set("X-Request-ID", requestID)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, &Error{Kind: classifyTransport(err), Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return nil, &Error{Kind: KindStatus, Status: resp.StatusCode, Body: string(excerpt)}
	}

	var reply relayReply
	if err := json.NewDecoder(resp.Body).Decode(&reply); err != nil {
		return nil, &Error{Kind: KindUnknown, Err: fmt.Errorf("decode: %w", err)}
	}

	if reply.Response == "" {
		reply.Response = emptyReplySentinel
	}

	c.logger.Debug("relay call completed",
		"request_id", requestID,
		"latency_ms", time.Since(start).Milliseconds(),
		"reply_len", len(reply.Response),
	)

	return &domain.RelayResponse{
		Reply:     reply.Response,
		ContextID: reply.ContextID,
	}, nil
}
