package domain

import "context"

// RelayRequest is one message forwarded to the conversational backend.
// ContextID is empty for the first message of a conversation.
type RelayRequest struct {
	Message   string
	ContextID string
}

// RelayResponse is the backend's reply. ContextID, when non-empty, replaces
// the stored token for the originating conversation.
type RelayResponse struct {
	Reply     string
	ContextID string
}

// Backend forwards a single user message to the conversational endpoint.
type Backend interface {
	Relay(ctx context.Context, req RelayRequest) (*RelayResponse, error)
	URL() string
	Healthy(ctx context.Context) error
}
