package domain

import "time"

type InboundMessage struct {
	Channel    string // adapter name ("discord", "telegram", ...)
	ChatID     string // platform channel/chat identifier
	MessageID  string // platform message ID, used for threaded replies
	SenderID   string
	SenderName string
	FromSelf   bool // authored by the relay's own account
	FromBot    bool // authored by any automated account
	Content    string
	Timestamp  time.Time
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string // message ID to reply to; empty = plain channel send
	Typing  bool   // typing indicator signal, no content
}
