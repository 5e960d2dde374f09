package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/time/rate"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/platform"
	"github.com/rainbot/rainbot/internal/store"
)

const mutedRoleName = "Muted"

// Executor performs moderation actions through the Discord REST API.
type Executor struct {
	session *discordgo.Session
	store   store.ConfigStore
	dms     *rate.Limiter
}

func NewExecutor(s *discordgo.Session, st store.ConfigStore, dmsPerSecond float64) *Executor {
	return &Executor{
		session: s,
		store:   st,
		dms:     rate.NewLimiter(rate.Limit(dmsPerSecond), 1),
	}
}

// translate maps REST failures onto the platform error kinds.
func translate(err error) error {
	if err == nil {
		return nil
	}
	var rest *discordgo.RESTError
	if errors.As(err, &rest) && rest.Response != nil {
		switch rest.Response.StatusCode {
		case http.StatusForbidden:
			return fmt.Errorf("%w: %v", platform.ErrForbidden, err)
		case http.StatusNotFound:
			return fmt.Errorf("%w: %v", platform.ErrNotFound, err)
		}
	}
	return err
}

func reasonOpts(ctx context.Context, reason string) []discordgo.RequestOption {
	opts := []discordgo.RequestOption{discordgo.WithContext(ctx)}
	if reason != "" {
		opts = append(opts, discordgo.WithAuditLogReason(reason))
	}
	return opts
}

func (e *Executor) ApplyMute(ctx context.Context, guildID, subjectID, reason string) error {
	roleID, err := e.muteRole(ctx, guildID)
	if err != nil {
		return err
	}
	return translate(e.session.GuildMemberRoleAdd(guildID, subjectID, roleID, reasonOpts(ctx, reason)...))
}

func (e *Executor) RemoveMute(ctx context.Context, guildID, subjectID, reason string) error {
	cfg, err := e.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	if cfg.MuteRoleID == "" {
		return fmt.Errorf("%w: guild %s has no mute role", platform.ErrNotFound, guildID)
	}
	return translate(e.session.GuildMemberRoleRemove(guildID, subjectID, cfg.MuteRoleID, reasonOpts(ctx, reason)...))
}

func (e *Executor) ApplyBan(ctx context.Context, guildID, subjectID, reason string, pruneDays int) error {
	return translate(e.session.GuildBanCreateWithReason(guildID, subjectID, reason, pruneDays, discordgo.WithContext(ctx)))
}

func (e *Executor) RemoveBan(ctx context.Context, guildID, subjectID, reason string) error {
	return translate(e.session.GuildBanDelete(guildID, subjectID, reasonOpts(ctx, reason)...))
}

func (e *Executor) Kick(ctx context.Context, guildID, subjectID, reason string) error {
	return translate(e.session.GuildMemberDeleteWithReason(guildID, subjectID, reason, discordgo.WithContext(ctx)))
}

// DeleteMessages bulk-deletes in chunks of 100; a single id uses the plain
// delete endpoint since bulk delete needs at least two.
func (e *Executor) DeleteMessages(ctx context.Context, channelID string, messageIDs []string) error {
	var firstErr error
	for start := 0; start < len(messageIDs); start += 100 {
		end := min(start+100, len(messageIDs))
		chunk := messageIDs[start:end]
		var err error
		if len(chunk) == 1 {
			err = e.session.ChannelMessageDelete(channelID, chunk[0], discordgo.WithContext(ctx))
		} else {
			err = e.session.ChannelMessagesBulkDelete(channelID, chunk, discordgo.WithContext(ctx))
		}
		if err != nil && firstErr == nil {
			firstErr = translate(err)
		}
	}
	return firstErr
}

func (e *Executor) NotifySubject(ctx context.Context, subjectID, text string) error {
	if err := e.dms.Wait(ctx); err != nil {
		return err
	}
	channel, err := e.session.UserChannelCreate(subjectID, discordgo.WithContext(ctx))
	if err != nil {
		return translate(err)
	}
	_, err = e.session.ChannelMessageSend(channel.ID, text, discordgo.WithContext(ctx))
	return translate(err)
}

// muteRole returns the guild's mute role, creating a "Muted" role that is
// denied sending in every text channel when none is configured or the
// configured one was deleted.
func (e *Executor) muteRole(ctx context.Context, guildID string) (string, error) {
	cfg, err := e.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return "", err
	}
	if cfg.MuteRoleID != "" {
		if _, err := e.session.State.Role(guildID, cfg.MuteRoleID); err == nil {
			return cfg.MuteRoleID, nil
		}
	}

	noPerms := int64(0)
	role, err := e.session.GuildRoleCreate(guildID, &discordgo.RoleParams{
		Name:        mutedRoleName,
		Permissions: &noPerms,
	}, reasonOpts(ctx, "Creating mute role")...)
	if err != nil {
		return "", translate(err)
	}

	if channels, err := e.session.GuildChannels(guildID, discordgo.WithContext(ctx)); err == nil {
		deny := int64(discordgo.PermissionSendMessages | discordgo.PermissionAddReactions | discordgo.PermissionVoiceSpeak)
		for _, ch := range channels {
			if ch.Type != discordgo.ChannelTypeGuildText && ch.Type != discordgo.ChannelTypeGuildVoice && ch.Type != discordgo.ChannelTypeGuildCategory {
				continue
			}
			if err := e.session.ChannelPermissionSet(ch.ID, role.ID, discordgo.PermissionOverwriteTypeRole, 0, deny, discordgo.WithContext(ctx)); err != nil {
				log.Printf("Could not deny muted role in channel %s of %s: %v", ch.ID, guildID, err)
			}
		}
	}

	if _, err := e.store.UpdateGuildConfig(ctx, guildID, store.Set(models.FieldMuteRole, role.ID)); err != nil {
		return "", err
	}
	log.Printf("Created mute role %s in guild %s", role.ID, guildID)
	return role.ID, nil
}

// Invites resolves invite codes to the guild they point at.
type Invites struct {
	session *discordgo.Session
}

func (r Invites) InviteGuild(ctx context.Context, code string) (string, error) {
	inv, err := r.session.Invite(code, discordgo.WithContext(ctx))
	if err != nil {
		return "", translate(err)
	}
	if inv.Guild == nil {
		return "", fmt.Errorf("%w: invite %s has no guild", platform.ErrNotFound, code)
	}
	return inv.Guild.ID, nil
}
