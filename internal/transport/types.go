// Package transport defines the outbound messaging surface.
//
// pacer never reads messages; transports only deliver status reports and
// alerts produced by the notifier and the log service.
package transport

import "context"

// Target identifies a destination chat. ThreadID is optional (forum topics).
type Target struct {
	ChatID   int64
	ThreadID int
}

type SendOptions struct {
	// ParseMode is transport-specific ("HTML", "MarkdownV2", ...).
	// Empty means plain text.
	ParseMode      string
	DisablePreview bool
}

// Sender delivers a text message to a target chat.
//
// Implementations must be safe for concurrent use and should split
// over-long messages rather than fail.
type Sender interface {
	SendText(ctx context.Context, to Target, text string, opt *SendOptions) error
	Stop(ctx context.Context) error
}
