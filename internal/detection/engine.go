// Package detection runs the auto-moderation pipeline over inbound
// messages.
package detection

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rainbot/rainbot/internal/metrics"
	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/permissions"
	"github.com/rainbot/rainbot/internal/platform"
)

// Message is the platform-neutral view of an inbound guild message.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	Author    permissions.Actor
	Content   string
	Mentions  []Mention
	At        time.Time
}

// Verdict is the outcome of one evaluation. A zero Detector means no
// violation.
type Verdict struct {
	Detector  string
	Reason    string
	DeleteIDs []string
}

func (v Verdict) Violation() bool { return v.Detector != "" }

// InviteResolver looks up the guild an invite code points at.
type InviteResolver interface {
	InviteGuild(ctx context.Context, code string) (string, error)
}

type Engine struct {
	windows WindowStore
	invites InviteResolver
	levels  *permissions.Resolver
	logger  *zap.SugaredLogger
}

func NewEngine(windows WindowStore, invites InviteResolver, levels *permissions.Resolver, logger *zap.SugaredLogger) *Engine {
	return &Engine{
		windows: windows,
		invites: invites,
		levels:  levels,
		logger:  logger,
	}
}

// Evaluate runs the pipeline. Stateless detectors run in order and the first
// hit wins; the spam and repetitive windows are always updated and only
// judged when nothing earlier fired.
func (e *Engine) Evaluate(ctx context.Context, msg Message, cfg *models.GuildConfig) Verdict {
	if msg.Author.IsBot || msg.Author.IsSystem {
		return Verdict{}
	}
	if e.levels.Resolve(msg.Author, cfg) >= permissions.ElevatedLevel {
		return Verdict{}
	}

	det := cfg.Detections
	active := func(name string) bool { return !cfg.ChannelIgnored(name, msg.ChannelID) }
	self := []string{msg.ID}

	var v Verdict
	if det.MentionLimit > 0 && active(models.DetectorMentionLimit) {
		if n := DistinctMentions(msg.Author.UserID, msg.Mentions); n >= det.MentionLimit {
			v = Verdict{models.DetectorMentionLimit, fmt.Sprintf("Mass mentions (%d)", n), self}
		}
	}
	if !v.Violation() && len(det.Filters) > 0 && active(models.DetectorFilter) {
		if word, ok := MatchFilter(msg.Content, det.Filters); ok {
			v = Verdict{models.DetectorFilter, fmt.Sprintf("Filtered word (%s)", word), self}
		}
	}
	if !v.Violation() && det.BlockInvite && active(models.DetectorBlockInvite) {
		if code, ok := e.foreignInvite(ctx, msg, cfg); ok {
			v = Verdict{models.DetectorBlockInvite, fmt.Sprintf("Advertising discord server (discord.gg/%s)", code), self}
		}
	}
	if !v.Violation() && det.EnglishOnly && active(models.DetectorEnglishOnly) {
		if residue := NonEnglishResidue(msg.Content); residue != "" {
			v = Verdict{models.DetectorEnglishOnly, "Non-English content", self}
		}
	}

	if det.SpamDetection > 0 && active(models.DetectorSpamDetection) {
		key := spamKey(msg.GuildID, msg.Author.UserID)
		window := det.SpamWindow()
		live, err := e.windows.Add(ctx, key, msg.ID, msg.At, window)
		if err != nil {
			e.logger.Warnf("Spam window update failed for %s: %v", key, err)
		} else if !v.Violation() && len(live) >= det.SpamDetection {
			v = Verdict{
				models.DetectorSpamDetection,
				fmt.Sprintf("Exceeding spam detection (%d messages/%s)", det.SpamDetection, window),
				live,
			}
			e.clear(ctx, key)
		}
	}

	if det.RepetitiveMessage > 0 && active(models.DetectorRepetitiveMessage) && strings.TrimSpace(msg.Content) != "" {
		key := repetitiveKey(msg.GuildID, msg.Author.UserID, msg.Content)
		live, err := e.windows.Add(ctx, key, msg.ID, msg.At, det.RepetitiveWindow())
		if err != nil {
			e.logger.Warnf("Repetitive window update failed for %s: %v", key, err)
		} else if !v.Violation() && len(live) >= det.RepetitiveMessage {
			v = Verdict{
				models.DetectorRepetitiveMessage,
				fmt.Sprintf("Repetitive message (%d times)", len(live)),
				live,
			}
			e.clear(ctx, key)
		}
	}

	if v.Violation() {
		metrics.DetectorViolations.WithLabelValues(v.Detector).Inc()
	}
	return v
}

// foreignInvite returns the first invite pointing at a guild that is
// neither this one nor whitelisted. Unresolvable invites are skipped.
func (e *Engine) foreignInvite(ctx context.Context, msg Message, cfg *models.GuildConfig) (string, bool) {
	if e.invites == nil {
		return "", false
	}
	for _, code := range InviteCodes(msg.Content) {
		target, err := e.invites.InviteGuild(ctx, code)
		if err != nil {
			if !errors.Is(err, platform.ErrNotFound) {
				e.logger.Debugf("Invite %s could not be resolved: %v", code, err)
			}
			continue
		}
		if target == msg.GuildID || cfg.GuildWhitelisted(target) {
			continue
		}
		return code, true
	}
	return "", false
}

func (e *Engine) clear(ctx context.Context, key string) {
	if err := e.windows.Clear(ctx, key); err != nil {
		e.logger.Warnf("Window clear failed for %s: %v", key, err)
	}
}

func spamKey(guildID, subjectID string) string {
	return "spam/" + guildID + "/" + subjectID
}

func repetitiveKey(guildID, subjectID, content string) string {
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(strings.TrimSpace(content))))
	return fmt.Sprintf("repeat/%s/%s/%x", guildID, subjectID, h.Sum64())
}
