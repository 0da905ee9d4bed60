package schema

import "time"

// FeedCommandType enumerates the commands consumed by feed tasks.
type FeedCommandType string

const (
	// FeedCommandConnect dials the carried websocket URL.
	FeedCommandConnect FeedCommandType = "Connect"
	// FeedCommandSend writes the carried payload on the live connection.
	FeedCommandSend FeedCommandType = "Send"
	// FeedCommandShutdown closes the connection and stops the task.
	FeedCommandShutdown FeedCommandType = "Shutdown"
)

// AckKind identifies which command an acknowledgement answers.
type AckKind string

const (
	// AckConnect acknowledges a Connect command.
	AckConnect AckKind = "Connect"
	// AckSend acknowledges a Send command.
	AckSend AckKind = "Send"
)

// FeedCommand mutates the state of one feed task. Payload carries the
// websocket URL for Connect, the outbound frame for Send, and the close
// reason for Shutdown.
type FeedCommand struct {
	Type    FeedCommandType `json:"type"`
	Payload string          `json:"payload"`
}

// Acknowledgement answers a single feed command.
type Acknowledgement struct {
	Kind      AckKind   `json:"kind"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}
