// Package enforce is the moderation API used by message handlers and
// commands: it gates actors, records cases, escalates warns and routes
// punishments to the scheduler or the platform.
package enforce

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rainbot/rainbot/internal/cases"
	"github.com/rainbot/rainbot/internal/clock"
	"github.com/rainbot/rainbot/internal/detection"
	"github.com/rainbot/rainbot/internal/escalation"
	"github.com/rainbot/rainbot/internal/metrics"
	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/permissions"
	"github.com/rainbot/rainbot/internal/platform"
	"github.com/rainbot/rainbot/internal/scheduler"
	"github.com/rainbot/rainbot/internal/store"
)

type Enforcer struct {
	Store     store.ConfigStore
	Ledger    *cases.Ledger
	Scheduler *scheduler.Scheduler
	Exec      platform.ActionExecutor
	Levels    *permissions.Resolver
	Commands  *permissions.Registry
	Detector  *detection.Engine
	Clock     clock.Clock
	Logger    *zap.SugaredLogger

	// BotID is the actor recorded for automatic actions.
	BotID string
	// GuildName renders a guild in subject notifications; optional.
	GuildName func(guildID string) string
}

// WarnResult is what a warn produced.
type WarnResult struct {
	Case     models.CaseRecord
	Count    int
	Decision escalation.Decision
}

// Authorize checks the actor against the command's effective level.
func (e *Enforcer) Authorize(ctx context.Context, guildID string, actor permissions.Actor, command string) error {
	cfg, err := e.Store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	return e.Commands.CheckLevel(e.Levels.Resolve(actor, cfg), command, cfg)
}

// HandleMessage evaluates one message and enforces a violation. A panic is
// contained to this message.
func (e *Enforcer) HandleMessage(ctx context.Context, msg detection.Message) (v detection.Verdict, err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.DetectionPanics.Inc()
			e.Logger.Errorf("Message %s in %s panicked during evaluation: %v", msg.ID, msg.GuildID, r)
			err = fmt.Errorf("evaluation panicked: %v", r)
		}
	}()

	cfg, err := e.Store.GetGuildConfig(ctx, msg.GuildID)
	if err != nil {
		return detection.Verdict{}, err
	}
	v = e.Detector.Evaluate(ctx, msg, cfg)
	if !v.Violation() {
		return v, nil
	}

	log := e.Logger.With("guild", msg.GuildID, "subject", msg.Author.UserID, "detector", v.Detector)
	log.Infof("Detection fired: %s", v.Reason)

	if err := e.Exec.DeleteMessages(ctx, msg.ChannelID, v.DeleteIDs); err != nil {
		e.nonFatal(log, "delete offending messages", err)
	}

	spec := cfg.PunishmentFor(v.Detector)
	if err := e.punish(ctx, cfg, e.BotID, msg.Author.UserID, spec, v.Reason, "detection"); err != nil {
		log.Warnf("Punishment %s failed: %v", spec.Action, err)
		return v, err
	}
	return v, nil
}

// punish carries out a PunishmentSpec without any actor checks. A spec that
// fails validation, such as a mute without a duration, is refused.
func (e *Enforcer) punish(ctx context.Context, cfg *models.GuildConfig, actorID, subjectID string, spec models.PunishmentSpec, reason, source string) error {
	if spec.Action == "" {
		return nil
	}
	if err := spec.Validate(); err != nil {
		return err
	}
	switch spec.Action {
	case models.ActionWarn:
		_, err := e.warn(ctx, cfg.GuildID, actorID, subjectID, reason)
		return err
	case models.ActionMute:
		_, err := e.Scheduler.Schedule(ctx, scheduler.Request{
			GuildID: cfg.GuildID, SubjectID: subjectID, ActorID: actorID,
			Reason: reason, Kind: scheduler.KindMute, Duration: spec.Duration(),
		})
		if err != nil {
			return err
		}
		e.notify(ctx, cfg.GuildID, subjectID, "muted", reason, spec.Duration())
		return nil
	case models.ActionBan:
		e.notify(ctx, cfg.GuildID, subjectID, "banned", reason, spec.Duration())
		_, err := e.Scheduler.Schedule(ctx, scheduler.Request{
			GuildID: cfg.GuildID, SubjectID: subjectID, ActorID: actorID,
			Reason: reason, Kind: scheduler.KindBan, Duration: spec.Duration(),
		})
		return err
	case models.ActionKick:
		e.notify(ctx, cfg.GuildID, subjectID, "kicked", reason, nil)
		_, err := e.kick(ctx, cfg.GuildID, actorID, subjectID, reason, source)
		return err
	}
	return nil
}

// Warn records a warning, tells the subject what comes next and applies
// the escalation step the new warn count reaches.
func (e *Enforcer) Warn(ctx context.Context, guildID string, actor, subject permissions.Actor, reason string) (WarnResult, error) {
	if err := e.checkModerable(ctx, guildID, actor, subject); err != nil {
		return WarnResult{}, err
	}
	return e.warn(ctx, guildID, actor.UserID, subject.UserID, reason)
}

func (e *Enforcer) warn(ctx context.Context, guildID, actorID, subjectID, reason string) (WarnResult, error) {
	rec, cfg, err := e.Ledger.Record(ctx, guildID, models.ListWarns, e.newCase(subjectID, actorID, reason))
	if err != nil {
		return WarnResult{}, err
	}
	res := WarnResult{Case: rec, Count: cfg.WarnCount(subjectID)}
	res.Decision = escalation.Decide(res.Count, cfg.WarnPunishments)

	text := e.alert(guildID, "warned", reason, nil) + fmt.Sprintf("\nThis is warning #%d.", res.Count)
	if up := res.Decision.Upcoming; up != nil {
		text += "\n" + up.Describe()
	}
	if err := e.Exec.NotifySubject(ctx, subjectID, text); err != nil {
		e.nonFatal(e.Logger, "notify warned subject", err)
	}

	// a warn step would only feed back into the counter
	if spec := res.Decision.PunishNow; spec != nil && spec.Action != models.ActionWarn {
		why := fmt.Sprintf("Hit warn limit %d", *spec.WarnThreshold)
		if err := e.punish(ctx, cfg, actorID, subjectID, *spec, why, "escalation"); err != nil {
			return res, fmt.Errorf("escalation after warn #%d: %w", rec.CaseNumber, err)
		}
	}
	return res, nil
}

func (e *Enforcer) Note(ctx context.Context, guildID string, actor permissions.Actor, subjectID, note string) (models.CaseRecord, error) {
	rec, _, err := e.Ledger.Record(ctx, guildID, models.ListNotes, e.newCase(subjectID, actor.UserID, note))
	return rec, err
}

// Mute mutes the subject; a nil duration mutes until lifted by hand.
func (e *Enforcer) Mute(ctx context.Context, guildID string, actor, subject permissions.Actor, duration *time.Duration, reason string) (models.CaseRecord, error) {
	if err := e.checkModerable(ctx, guildID, actor, subject); err != nil {
		return models.CaseRecord{}, err
	}
	rec, err := e.Scheduler.Schedule(ctx, scheduler.Request{
		GuildID: guildID, SubjectID: subject.UserID, ActorID: actor.UserID,
		Reason: reason, Kind: scheduler.KindMute, Duration: duration,
	})
	if err != nil {
		return rec, err
	}
	e.notify(ctx, guildID, subject.UserID, "muted", reason, duration)
	return rec, nil
}

func (e *Enforcer) Unmute(ctx context.Context, guildID, subjectID, reason string) error {
	return e.Scheduler.ReverseNow(ctx, guildID, subjectID, scheduler.KindMute, reason)
}

// Ban bans the subject, pruning pruneDays of their messages. The subject is
// told first since a DM can't reach them once they share no guild.
func (e *Enforcer) Ban(ctx context.Context, guildID string, actor, subject permissions.Actor, duration *time.Duration, pruneDays int, reason string) (models.CaseRecord, error) {
	if err := e.checkModerable(ctx, guildID, actor, subject); err != nil {
		return models.CaseRecord{}, err
	}
	e.notify(ctx, guildID, subject.UserID, "banned", reason, duration)
	return e.Scheduler.Schedule(ctx, scheduler.Request{
		GuildID: guildID, SubjectID: subject.UserID, ActorID: actor.UserID,
		Reason: reason, Kind: scheduler.KindBan, Duration: duration, PruneDays: pruneDays,
	})
}

func (e *Enforcer) Unban(ctx context.Context, guildID, subjectID, reason string) error {
	return e.Scheduler.ReverseNow(ctx, guildID, subjectID, scheduler.KindBan, reason)
}

func (e *Enforcer) Kick(ctx context.Context, guildID string, actor, subject permissions.Actor, reason string) (models.CaseRecord, error) {
	if err := e.checkModerable(ctx, guildID, actor, subject); err != nil {
		return models.CaseRecord{}, err
	}
	e.notify(ctx, guildID, subject.UserID, "kicked", reason, nil)
	return e.kick(ctx, guildID, actor.UserID, subject.UserID, reason, "manual")
}

func (e *Enforcer) kick(ctx context.Context, guildID, actorID, subjectID, reason, source string) (models.CaseRecord, error) {
	if err := e.Exec.Kick(ctx, guildID, subjectID, reason); err != nil {
		if errors.Is(err, platform.ErrForbidden) {
			return models.CaseRecord{}, fmt.Errorf("%w: %v", models.ErrActionForbidden, err)
		}
		if !errors.Is(err, platform.ErrNotFound) {
			return models.CaseRecord{}, err
		}
		e.Logger.Warnf("Kicking %s in %s: %v", subjectID, guildID, err)
	}
	rec, _, err := e.Ledger.Record(ctx, guildID, models.ListKicks, e.newCase(subjectID, actorID, reason))
	if err != nil {
		return rec, err
	}
	metrics.PunishmentsApplied.WithLabelValues("kick", source).Inc()
	return rec, nil
}

// RemoveCase deletes a record from a history list. Pending mutes and
// tempbans are lifted with Unmute/Unban instead so their reversal is not
// orphaned. A case that no longer exists yields models.ErrStaleReference.
func (e *Enforcer) RemoveCase(ctx context.Context, guildID string, list models.CaseList, caseNumber int) (models.CaseRecord, error) {
	if list == models.ListMutes || list == models.ListTempbans {
		return models.CaseRecord{}, fmt.Errorf("%s cases are lifted with unmute or unban", list)
	}
	return e.Ledger.Remove(ctx, guildID, list, caseNumber)
}

func (e *Enforcer) ClearWarns(ctx context.Context, guildID, subjectID string) (int, error) {
	return e.Ledger.ClearSubject(ctx, guildID, models.ListWarns, subjectID)
}

// Cases lists a subject's records in list; an empty subject lists all.
func (e *Enforcer) Cases(ctx context.Context, guildID string, list models.CaseList, subjectID string) ([]models.CaseRecord, error) {
	cfg, err := e.Store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	if subjectID == "" {
		return cfg.Cases(list), nil
	}
	return cases.BySubject(cfg.Cases(list), subjectID), nil
}

// SetRoleLevel assigns a permission level to a role; level 0 removes it.
func (e *Enforcer) SetRoleLevel(ctx context.Context, guildID, roleID string, level int) error {
	unlock := e.Ledger.Lock(guildID)
	defer unlock()

	cfg, err := e.Store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	levels := make([]models.PermLevel, 0, len(cfg.PermLevels)+1)
	for _, pl := range cfg.PermLevels {
		if pl.RoleID != roleID {
			levels = append(levels, pl)
		}
	}
	if level != 0 {
		levels = append(levels, models.PermLevel{RoleID: roleID, Level: level})
	}
	_, err = e.Store.UpdateGuildConfig(ctx, guildID, store.Set(models.FieldPermLevels, levels))
	return err
}

// SetCommandLevel overrides the level of a qualified command in one guild.
func (e *Enforcer) SetCommandLevel(ctx context.Context, guildID, command string, level int) error {
	command = strings.ToLower(strings.TrimSpace(command))
	if _, ok := e.Commands.Lookup(command); !ok {
		return fmt.Errorf("unknown command %q", command)
	}
	_, err := e.Store.UpdateGuildConfig(ctx, guildID, store.Set(models.FieldCommandLevels+"."+command, level))
	return err
}

func (e *Enforcer) checkModerable(ctx context.Context, guildID string, actor, subject permissions.Actor) error {
	cfg, err := e.Store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	return e.Levels.CheckModerable(actor, subject, cfg)
}

func (e *Enforcer) newCase(subjectID, actorID, reason string) models.CaseRecord {
	return models.CaseRecord{
		Date:      e.Clock.Now().Unix(),
		SubjectID: subjectID,
		ActorID:   actorID,
		Reason:    reason,
	}
}

func (e *Enforcer) alert(guildID, verb, reason string, duration *time.Duration) string {
	where := "a server"
	if e.GuildName != nil {
		if name := e.GuildName(guildID); name != "" {
			where = "**" + name + "**"
		}
	}
	msg := fmt.Sprintf("You have been %s in %s.", verb, where)
	if reason != "" {
		msg += "\nReason: " + reason
	}
	if duration != nil {
		msg += "\nDuration: " + duration.String()
	}
	return msg
}

func (e *Enforcer) notify(ctx context.Context, guildID, subjectID, verb, reason string, duration *time.Duration) {
	if err := e.Exec.NotifySubject(ctx, subjectID, e.alert(guildID, verb, reason, duration)); err != nil {
		e.nonFatal(e.Logger, "notify subject", err)
	}
}

func (e *Enforcer) nonFatal(log *zap.SugaredLogger, what string, err error) {
	if platform.Ignorable(err) {
		log.Debugf("Could not %s: %v", what, err)
		return
	}
	log.Warnf("Could not %s: %v", what, err)
}
