package bot

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"github.com/dustin/go-humanize"

	"github.com/rainbot/rainbot/internal/enforce"
	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/permissions"
	"github.com/rainbot/rainbot/internal/scheduler"
)

const handlerTimeout = 30 * time.Second

func (b *Bot) ready(s *discordgo.Session, event *discordgo.Ready) {
	log.Printf("Bot is ready as %s in %d guilds", event.User.Username, len(event.Guilds))
	b.Enforcer.BotID = event.User.ID

	// a reconnect sends Ready again; only the first successful pass rehydrates
	if !b.Scheduler.Ready() {
		ids := make([]string, 0, len(event.Guilds))
		for _, g := range event.Guilds {
			ids = append(ids, g.ID)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		pending, err := b.Scheduler.Recover(ctx, ids)
		cancel()
		var loadErr *scheduler.LoadError
		switch {
		case errors.As(err, &loadErr):
			b.Logger.Warnf("Rehydrated %d pending punishments; %d guilds will be retried", len(pending), len(loadErr.Errs))
		case errors.Is(err, scheduler.ErrAlreadyRehydrated):
		case err != nil:
			b.Logger.Errorf("Rehydrating pending punishments: %v", err)
		default:
			b.Logger.Infof("Rehydrated %d pending punishments across %d guilds", len(pending), len(ids))
		}
	}

	b.registerCommands()
	b.updateBotStatus()
}

func (b *Bot) messageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.GuildID == "" || m.Author == nil {
		return
	}
	guild := b.stateGuild(m.GuildID)
	var perms int64
	if p, err := s.State.UserChannelPermissions(m.Author.ID, m.ChannelID); err == nil {
		perms = p
	}
	author := actorFor(guild, m.Author, m.Member, perms)

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()
	if _, err := b.Enforcer.HandleMessage(ctx, toDetectionMessage(m.Message, author)); err != nil {
		b.Logger.Warnf("Handling message %s in %s: %v", m.ID, m.GuildID, err)
	}
}

// qualifiedName is the command name used for level checks, e.g.
// "warn add". Subcommands without their own entry fall back to the root.
func (b *Bot) qualifiedName(data discordgo.ApplicationCommandInteractionData) (string, []*discordgo.ApplicationCommandInteractionDataOption) {
	opts := data.Options
	if len(opts) == 1 && opts[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		name := data.Name + " " + opts[0].Name
		sub := opts[0].Options
		if _, ok := b.Enforcer.Commands.Lookup(name); ok {
			return name, sub
		}
		return data.Name, sub
	}
	return data.Name, opts
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, o := range opts {
		m[o.Name] = o
	}
	return m
}

func (b *Bot) interactionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	if i.GuildID == "" || i.Member == nil || i.Member.User == nil {
		b.respondToInteraction(s, i, "Moderation commands only work inside a server.", true)
		return
	}

	data := i.ApplicationCommandData()
	name, opts := b.qualifiedName(data)
	actor := actorFor(b.stateGuild(i.GuildID), i.Member.User, i.Member, i.Member.Permissions)

	ctx, cancel := context.WithTimeout(context.Background(), handlerTimeout)
	defer cancel()

	if err := b.Enforcer.Authorize(ctx, i.GuildID, actor, name); err != nil {
		b.respondToInteraction(s, i, describeError(err), true)
		log.Printf("Permission denied for %s on %q: %v", i.Member.User.Username, name, err)
		return
	}

	c := &call{s: s, i: i, data: data, opts: optionMap(opts), actor: actor}
	var reply string
	var err error
	switch name {
	case enforce.CmdWarnAdd:
		reply, err = b.handleWarn(ctx, c)
	case enforce.CmdWarnRemove:
		reply, err = b.handleRemoveCase(ctx, c, models.ListWarns)
	case enforce.CmdWarnClear:
		reply, err = b.handleClearWarns(ctx, c)
	case enforce.CmdWarnList:
		reply, err = b.handleModlogs(ctx, c, models.ListWarns)
	case enforce.CmdNoteAdd:
		reply, err = b.handleNote(ctx, c)
	case enforce.CmdMute:
		reply, err = b.handleMute(ctx, c)
	case enforce.CmdUnmute:
		reply, err = b.handleUnmute(ctx, c)
	case enforce.CmdKick:
		reply, err = b.handleKick(ctx, c)
	case enforce.CmdBan:
		reply, err = b.handleBan(ctx, c)
	case enforce.CmdUnban:
		reply, err = b.handleUnban(ctx, c)
	case enforce.CmdModlogs:
		reply, err = b.handleModlogs(ctx, c, models.CaseLists...)
	case enforce.CmdModlogsRemove:
		reply, err = b.handleRemoveCase(ctx, c, models.CaseList(c.str("list")))
	case enforce.CmdSetLevel:
		reply, err = b.handleSetLevel(ctx, c)
	case enforce.CmdSetCommandLevel:
		reply, err = b.handleSetCommandLevel(ctx, c)
	case enforce.CmdSetDetection:
		reply, err = b.handleSetDetection(ctx, c)
	case enforce.CmdSetDetectionPunishment:
		reply, err = b.handleSetDetectionPunishment(ctx, c)
	case enforce.CmdSetWarnPunishment:
		reply, err = b.handleSetWarnPunishment(ctx, c)
	case enforce.CmdIgnoreChannel:
		reply, err = b.handleIgnoreChannel(ctx, c)
	case enforce.CmdSetGuildWhitelist:
		reply, err = b.handleSetGuildWhitelist(ctx, c)
	case enforce.CmdSetOffset:
		reply, err = b.handleSetOffset(ctx, c)
	case enforce.CmdFilterAdd, enforce.CmdFilterRemove, enforce.CmdFilterList:
		reply, err = b.handleFilter(ctx, c, name)
	default:
		reply = "Unknown command."
	}
	if err != nil {
		b.Logger.Infof("Command %q in %s by %s failed: %v", name, i.GuildID, actor.UserID, err)
		b.respondToInteraction(s, i, describeError(err), true)
		return
	}
	b.respondToInteraction(s, i, reply, false)
}

// call is one parsed command invocation.
type call struct {
	s     *discordgo.Session
	i     *discordgo.InteractionCreate
	data  discordgo.ApplicationCommandInteractionData
	opts  map[string]*discordgo.ApplicationCommandInteractionDataOption
	actor permissions.Actor
}

func (c *call) str(name string) string {
	if o, ok := c.opts[name]; ok {
		return o.StringValue()
	}
	return ""
}

func (c *call) integer(name string) (int, bool) {
	if o, ok := c.opts[name]; ok {
		return int(o.IntValue()), true
	}
	return 0, false
}

func (c *call) boolean(name string, fallback bool) bool {
	if o, ok := c.opts[name]; ok {
		return o.BoolValue()
	}
	return fallback
}

// id reads a user, role or channel option, which all carry a snowflake.
func (c *call) id(name string) string {
	if o, ok := c.opts[name]; ok {
		id, _ := o.Value.(string)
		return id
	}
	return ""
}

func (c *call) reason() string {
	if r := strings.TrimSpace(c.str("reason")); r != "" {
		return r
	}
	return "No reason provided"
}

func (c *call) duration() (*time.Duration, error) {
	raw := c.str("duration")
	if raw == "" {
		return nil, nil
	}
	d, err := parseDuration(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// subject resolves the "user" option into an Actor using the interaction's
// resolved data.
func (b *Bot) subject(c *call) (permissions.Actor, error) {
	o, ok := c.opts["user"]
	if !ok {
		return permissions.Actor{}, fmt.Errorf("missing user")
	}
	id, _ := o.Value.(string)
	user := &discordgo.User{ID: id}
	var member *discordgo.Member
	var perms int64
	if r := c.data.Resolved; r != nil {
		if u, ok := r.Users[id]; ok {
			user = u
		}
		if m, ok := r.Members[id]; ok {
			member = m
			perms = m.Permissions
		}
	}
	return actorFor(b.stateGuild(c.i.GuildID), user, member, perms), nil
}

func (b *Bot) handleWarn(ctx context.Context, c *call) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	res, err := b.Enforcer.Warn(ctx, c.i.GuildID, c.actor, subject, c.reason())
	if err != nil {
		return "", err
	}
	msg := fmt.Sprintf("Warned <@%s> (case #%d, warning %d).", subject.UserID, res.Case.CaseNumber, res.Count)
	if spec := res.Decision.PunishNow; spec != nil {
		msg += fmt.Sprintf(" Warn limit reached: %s applied.", spec.Action)
	}
	return msg, nil
}

func (b *Bot) handleNote(ctx context.Context, c *call) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	rec, err := b.Enforcer.Note(ctx, c.i.GuildID, c.actor, subject.UserID, c.str("note"))
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Noted on <@%s> (case #%d).", subject.UserID, rec.CaseNumber), nil
}

func (b *Bot) handleMute(ctx context.Context, c *call) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	d, err := c.duration()
	if err != nil {
		return "", err
	}
	rec, err := b.Enforcer.Mute(ctx, c.i.GuildID, c.actor, subject, d, c.reason())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Muted <@%s>%s (case #%d).", subject.UserID, forDuration(d), rec.CaseNumber), nil
}

func (b *Bot) handleUnmute(ctx context.Context, c *call) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	if err := b.Enforcer.Unmute(ctx, c.i.GuildID, subject.UserID, c.reason()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Unmuted <@%s>.", subject.UserID), nil
}

func (b *Bot) handleKick(ctx context.Context, c *call) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	rec, err := b.Enforcer.Kick(ctx, c.i.GuildID, c.actor, subject, c.reason())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Kicked <@%s> (case #%d).", subject.UserID, rec.CaseNumber), nil
}

func (b *Bot) handleBan(ctx context.Context, c *call) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	d, err := c.duration()
	if err != nil {
		return "", err
	}
	prune, _ := c.integer("prune_days")
	rec, err := b.Enforcer.Ban(ctx, c.i.GuildID, c.actor, subject, d, prune, c.reason())
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Banned <@%s>%s (case #%d).", subject.UserID, forDuration(d), rec.CaseNumber), nil
}

func (b *Bot) handleUnban(ctx context.Context, c *call) (string, error) {
	id := strings.Trim(strings.TrimSpace(c.str("user_id")), "<@!>")
	if err := b.Enforcer.Unban(ctx, c.i.GuildID, id, c.reason()); err != nil {
		return "", err
	}
	return fmt.Sprintf("Unbanned <@%s>.", id), nil
}

func (b *Bot) handleRemoveCase(ctx context.Context, c *call, list models.CaseList) (string, error) {
	n, _ := c.integer("case")
	rec, err := b.Enforcer.RemoveCase(ctx, c.i.GuildID, list, n)
	return removedReply(list, n, rec, err)
}

// removedReply words the outcome of a case removal. A case that is already
// gone was resolved by someone else and is not a failure.
func removedReply(list models.CaseList, n int, rec models.CaseRecord, err error) (string, error) {
	if errors.Is(err, models.ErrStaleReference) {
		return fmt.Sprintf("%s case #%d was already resolved.", list, n), nil
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Removed %s case #%d against <@%s>.", list, rec.CaseNumber, rec.SubjectID), nil
}

func (b *Bot) handleClearWarns(ctx context.Context, c *call) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	n, err := b.Enforcer.ClearWarns(ctx, c.i.GuildID, subject.UserID)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("Cleared %d warnings of <@%s>.", n, subject.UserID), nil
}

func (b *Bot) handleModlogs(ctx context.Context, c *call, lists ...models.CaseList) (string, error) {
	subject, err := b.subject(c)
	if err != nil {
		return "", err
	}
	cfg, err := b.Store.GetGuildConfig(ctx, c.i.GuildID)
	if err != nil {
		return "", err
	}
	return formatModlogs(cfg, subject.UserID, lists, time.Now()), nil
}

func (b *Bot) handleSetLevel(ctx context.Context, c *call) (string, error) {
	role := c.opts["role"].RoleValue(c.s, c.i.GuildID)
	level, _ := c.integer("level")
	if err := b.Enforcer.SetRoleLevel(ctx, c.i.GuildID, role.ID, level); err != nil {
		return "", err
	}
	return fmt.Sprintf("Role <@&%s> is now level %d.", role.ID, level), nil
}

func (b *Bot) handleSetCommandLevel(ctx context.Context, c *call) (string, error) {
	command := c.str("command")
	level, _ := c.integer("level")
	if err := b.Enforcer.SetCommandLevel(ctx, c.i.GuildID, command, level); err != nil {
		return "", err
	}
	return fmt.Sprintf("`%s` now requires level %d.", strings.ToLower(strings.TrimSpace(command)), level), nil
}

func (b *Bot) handleSetDetection(ctx context.Context, c *call) (string, error) {
	setting := c.str("setting")
	value, _ := c.integer("value")
	if err := b.Enforcer.SetDetection(ctx, c.i.GuildID, setting, value); err != nil {
		return "", err
	}
	return fmt.Sprintf("`%s` set to %d.", setting, value), nil
}

func (b *Bot) handleSetDetectionPunishment(ctx context.Context, c *call) (string, error) {
	detector := c.str("detector")
	action := models.PunishmentAction(c.str("action"))
	d, err := c.duration()
	if err != nil {
		return "", err
	}
	if err := b.Enforcer.SetDetectionPunishment(ctx, c.i.GuildID, detector, action, d); err != nil {
		return "", err
	}
	return fmt.Sprintf("`%s` now leads to %s%s.", detector, action, forDuration(d)), nil
}

func (b *Bot) handleSetWarnPunishment(ctx context.Context, c *call) (string, error) {
	warns, _ := c.integer("warns")
	action := models.PunishmentAction(c.str("action"))
	d, err := c.duration()
	if err != nil {
		return "", err
	}
	if err := b.Enforcer.SetWarnPunishment(ctx, c.i.GuildID, warns, action, d); err != nil {
		return "", err
	}
	if action == models.ActionNone {
		return fmt.Sprintf("Nothing happens at warning %d any more.", warns), nil
	}
	return fmt.Sprintf("Warning %d now means %s%s.", warns, action, forDuration(d)), nil
}

func (b *Bot) handleIgnoreChannel(ctx context.Context, c *call) (string, error) {
	detector := c.str("detector")
	channelID := c.id("channel")
	ignore := c.boolean("ignore", true)
	if err := b.Enforcer.IgnoreChannel(ctx, c.i.GuildID, detector, channelID, ignore); err != nil {
		return "", err
	}
	if ignore {
		return fmt.Sprintf("`%s` now ignores <#%s>.", detector, channelID), nil
	}
	return fmt.Sprintf("`%s` watches <#%s> again.", detector, channelID), nil
}

func (b *Bot) handleSetGuildWhitelist(ctx context.Context, c *call) (string, error) {
	other := strings.TrimSpace(c.str("guild_id"))
	allow := c.boolean("allow", true)
	if err := b.Enforcer.WhitelistGuild(ctx, c.i.GuildID, other, allow); err != nil {
		return "", err
	}
	if allow {
		return fmt.Sprintf("Invites to server %s are allowed.", other), nil
	}
	return fmt.Sprintf("Invites to server %s are no longer allowed.", other), nil
}

func (b *Bot) handleSetOffset(ctx context.Context, c *call) (string, error) {
	hours, _ := c.integer("hours")
	if err := b.Enforcer.SetTimeOffset(ctx, c.i.GuildID, hours); err != nil {
		return "", err
	}
	return fmt.Sprintf("Times are now shown as UTC%+d.", hours), nil
}

func (b *Bot) handleFilter(ctx context.Context, c *call, name string) (string, error) {
	switch name {
	case enforce.CmdFilterAdd:
		word, err := b.Enforcer.AddFilter(ctx, c.i.GuildID, c.str("word"))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Blocked `%s`.", word), nil
	case enforce.CmdFilterRemove:
		word, err := b.Enforcer.RemoveFilter(ctx, c.i.GuildID, c.str("word"))
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("Unblocked `%s`.", word), nil
	}
	words, err := b.Enforcer.Filters(ctx, c.i.GuildID)
	if err != nil {
		return "", err
	}
	return formatFilters(words), nil
}

func formatFilters(words []string) string {
	if len(words) == 0 {
		return "No words are blocked."
	}
	quoted := make([]string, len(words))
	for i, w := range words {
		quoted[i] = "`" + w + "`"
	}
	return "Filters: " + strings.Join(quoted, ", ")
}

func forDuration(d *time.Duration) string {
	if d == nil {
		return ""
	}
	return " for " + d.String()
}

// formatModlogs renders a subject's cases across lists, newest first, with
// dates in the guild's local time.
func formatModlogs(cfg *models.GuildConfig, subjectID string, lists []models.CaseList, now time.Time) string {
	type entry struct {
		list models.CaseList
		rec  models.CaseRecord
	}
	var entries []entry
	for _, list := range lists {
		for _, rec := range cfg.Cases(list) {
			if rec.SubjectID == subjectID {
				entries = append(entries, entry{list, rec})
			}
		}
	}
	if len(entries) == 0 {
		return fmt.Sprintf("<@%s> has a clean record.", subjectID)
	}
	sort.SliceStable(entries, func(a, b int) bool { return entries[a].rec.Date > entries[b].rec.Date })

	var sb strings.Builder
	fmt.Fprintf(&sb, "Moderation history of <@%s>:\n", subjectID)
	for _, e := range entries {
		at := time.Unix(e.rec.Date, 0)
		fmt.Fprintf(&sb, "`%s #%d` %s (%s) by <@%s>: %s",
			e.list, e.rec.CaseNumber,
			cfg.LocalTime(at).Format("2006-01-02 15:04"), humanize.RelTime(at, now, "ago", "from now"),
			e.rec.ActorID, e.rec.Reason)
		if e.rec.HasExpiry() {
			fmt.Fprintf(&sb, " (ends %s)", humanize.RelTime(time.Unix(e.rec.ExpiresAt, 0), now, "ago", "from now"))
		}
		sb.WriteByte('\n')
	}
	return sb.String()
}

// describeError turns an enforcement error into a reply for the invoker.
func describeError(err error) string {
	var under *models.UnderleveledError
	var notModerable *models.NotModerableError
	switch {
	case errors.As(err, &under):
		return "Insufficient permissions: " + under.Error() + "."
	case errors.As(err, &notModerable):
		return "You can't do that: " + notModerable.Reason + "."
	case errors.Is(err, models.ErrActionForbidden):
		return "I don't have permission to do that here."
	case errors.Is(err, models.ErrInvalidPunishment):
		return "That punishment doesn't work: " + err.Error() + "."
	case errors.Is(err, scheduler.ErrNotReady):
		return "Still starting up, try again in a moment."
	}
	return "Something went wrong: " + err.Error()
}

// truncate shortens s to at most limit characters, never splitting one.
func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	r := []rune(s)
	return string(r[:limit-3]) + "..."
}

func (b *Bot) respondToInteraction(s *discordgo.Session, i *discordgo.InteractionCreate, content string, ephemeral bool) {
	flags := discordgo.MessageFlags(0)
	if ephemeral {
		flags = discordgo.MessageFlagsEphemeral
	}
	content = truncate(content, 2000)

	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content:         content,
			Flags:           flags,
			AllowedMentions: &discordgo.MessageAllowedMentions{},
		},
	})
	if err != nil {
		log.Printf("Error responding to interaction: %v", err)
	}
}
