package relay

import (
	"fmt"
	"strings"
	"time"
)

// Commands intercepts the relay's control commands before a message reaches
// the backend. Only exact (case-insensitive) matches are handled; everything
// else passes through as a normal relay message.
type Commands struct {
	prefix     string
	contexts   *ContextStore
	backendURL string
	timeout    time.Duration
}

// CommandResult is the reply produced by an intercepted command.
type CommandResult struct {
	Name  string // "reset" | "status" | "help"
	Reply string
}

func NewCommands(prefix string, contexts *ContextStore, backendURL string, timeout time.Duration) *Commands {
	if prefix == "" {
		prefix = "!"
	}
	return &Commands{
		prefix:     prefix,
		contexts:   contexts,
		backendURL: backendURL,
		timeout:    timeout,
	}
}

func (c *Commands) Prefix() string         { return c.prefix }
func (c *Commands) Timeout() time.Duration { return c.timeout }

// Intercept checks raw against the command set for the conversation convKey.
// Returns nil when the text is not a command, so the caller relays it.
func (c *Commands) Intercept(raw, convKey string) *CommandResult {
	text := strings.ToLower(strings.TrimSpace(raw))

	switch text {
	case c.prefix + "reset":
		c.contexts.Clear(convKey)
		return &CommandResult{Name: "reset", Reply: "Conversation reset. Starting fresh."}

	case c.prefix + "status":
		token := c.contexts.Get(convKey)
		if token == "" {
			token = "(none)"
		}
		return &CommandResult{Name: "status", Reply: fmt.Sprintf(
			"Relay status\nBackend: %s\nContext: %s\nTimeout: %s",
			c.backendURL, token, c.timeout,
		)}

	case c.prefix + "help":
		return &CommandResult{Name: "help", Reply: fmt.Sprintf(
			"Send any message to chat with the backend agent.\n\n"+
				"Commands:\n"+
				"%[1]sreset - start a new conversation\n"+
				"%[1]sstatus - show connection status\n"+
				"%[1]shelp - show this message",
			c.prefix,
		)}
	}

	return nil
}
