// Package platform is the boundary between the enforcement core and the
// chat platform.
package platform

import (
	"context"
	"errors"
)

var (
	ErrForbidden = errors.New("forbidden by platform")
	ErrNotFound  = errors.New("not found on platform")
)

// Operation names, used as metric and health labels.
const (
	OpApplyMute      = "apply_mute"
	OpRemoveMute     = "remove_mute"
	OpApplyBan       = "apply_ban"
	OpRemoveBan      = "remove_ban"
	OpKick           = "kick"
	OpDeleteMessages = "delete_messages"
	OpNotifySubject  = "notify_subject"
)

// ActionExecutor performs moderation side effects on the chat platform.
// Every method may fail with ErrForbidden or ErrNotFound.
type ActionExecutor interface {
	ApplyMute(ctx context.Context, guildID, subjectID, reason string) error
	RemoveMute(ctx context.Context, guildID, subjectID, reason string) error
	ApplyBan(ctx context.Context, guildID, subjectID, reason string, pruneDays int) error
	RemoveBan(ctx context.Context, guildID, subjectID, reason string) error
	Kick(ctx context.Context, guildID, subjectID, reason string) error
	DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error
	NotifySubject(ctx context.Context, subjectID, text string) error
}

// Ignorable reports whether err is a platform refusal the engine treats as
// non-fatal.
func Ignorable(err error) bool {
	return errors.Is(err, ErrForbidden) || errors.Is(err, ErrNotFound)
}
