package bot

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/rainbot/rainbot/internal/detection"
	"github.com/rainbot/rainbot/internal/permissions"
)

// rolePermissions ORs the @everyone role and the member's roles.
func rolePermissions(guildID string, roles []*discordgo.Role, memberRoles []string) int64 {
	held := make(map[string]bool, len(memberRoles)+1)
	held[guildID] = true
	for _, id := range memberRoles {
		held[id] = true
	}
	var perms int64
	for _, r := range roles {
		if held[r.ID] {
			perms |= r.Permissions
		}
	}
	return perms
}

// actorFor flattens a Discord user and member into an Actor. perms is the
// member's computed guild permissions, if known.
func actorFor(guild *discordgo.Guild, user *discordgo.User, member *discordgo.Member, perms int64) permissions.Actor {
	a := permissions.Actor{UserID: user.ID, IsBot: user.Bot, IsSystem: user.System}
	if member != nil {
		a.RoleIDs = member.Roles
	}
	if guild != nil {
		a.GuildOwner = guild.OwnerID == user.ID
		perms |= rolePermissions(guild.ID, guild.Roles, a.RoleIDs)
	}
	a.Administrator = perms&discordgo.PermissionAdministrator != 0
	a.ManageGuild = perms&discordgo.PermissionManageGuild != 0
	return a
}

func (b *Bot) stateGuild(guildID string) *discordgo.Guild {
	g, err := b.Session.State.Guild(guildID)
	if err != nil {
		return nil
	}
	return g
}

func (b *Bot) guildName(guildID string) string {
	if g := b.stateGuild(guildID); g != nil {
		return g.Name
	}
	return ""
}

func toDetectionMessage(m *discordgo.Message, author permissions.Actor) detection.Message {
	mentions := make([]detection.Mention, 0, len(m.Mentions))
	for _, u := range m.Mentions {
		mentions = append(mentions, detection.Mention{UserID: u.ID, Bot: u.Bot})
	}
	at := m.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	return detection.Message{
		ID:        m.ID,
		GuildID:   m.GuildID,
		ChannelID: m.ChannelID,
		Author:    author,
		Content:   m.Content,
		Mentions:  mentions,
		At:        at,
	}
}

// parseDuration accepts Go durations plus a day suffix, e.g. "7d" or
// "1d12h".
func parseDuration(s string) (time.Duration, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	var total time.Duration
	if i := strings.IndexByte(s, 'd'); i >= 0 {
		days, err := strconv.Atoi(s[:i])
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		total = time.Duration(days) * 24 * time.Hour
		s = s[i+1:]
	}
	if s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		total += d
	}
	if total <= 0 {
		return 0, fmt.Errorf("duration must be positive")
	}
	return total, nil
}
