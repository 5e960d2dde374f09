package enforce

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/store"
)

// SetDetection changes one detection setting. Toggles take 0 or 1; counts
// take 0 to switch the detector off.
func (e *Enforcer) SetDetection(ctx context.Context, guildID, setting string, value int) error {
	v, err := models.DetectionSettingValue(setting, value)
	if err != nil {
		return err
	}
	_, err = e.Store.UpdateGuildConfig(ctx, guildID, store.Set(models.FieldDetections+"."+setting, v))
	return err
}

// AddFilter adds a word to the blocked-word filter. Words are matched
// case-insensitively and stored lowercased.
func (e *Enforcer) AddFilter(ctx context.Context, guildID, word string) (string, error) {
	word, err := filterWord(word)
	if err != nil {
		return "", err
	}
	_, err = e.Store.UpdateGuildConfig(ctx, guildID, store.AddToSet(models.FieldDetections+".filters", word))
	return word, err
}

func (e *Enforcer) RemoveFilter(ctx context.Context, guildID, word string) (string, error) {
	word, err := filterWord(word)
	if err != nil {
		return "", err
	}
	_, err = e.Store.UpdateGuildConfig(ctx, guildID, store.RemoveFromSet(models.FieldDetections+".filters", word))
	return word, err
}

func (e *Enforcer) Filters(ctx context.Context, guildID string) ([]string, error) {
	cfg, err := e.Store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return nil, err
	}
	return cfg.Detections.Filters, nil
}

func filterWord(word string) (string, error) {
	word = strings.ToLower(strings.TrimSpace(word))
	if word == "" {
		return "", fmt.Errorf("filter word cannot be empty")
	}
	return word, nil
}

// WhitelistGuild lets invites to other through the invite filter, or stops
// letting them through when allow is false. The guild itself is always
// allowed.
func (e *Enforcer) WhitelistGuild(ctx context.Context, guildID, other string, allow bool) error {
	other = strings.TrimSpace(other)
	if other == "" {
		return fmt.Errorf("guild id cannot be empty")
	}
	op := store.AddToSet(models.FieldWhitelistedGuilds, other)
	if !allow {
		op = store.RemoveFromSet(models.FieldWhitelistedGuilds, other)
	}
	_, err := e.Store.UpdateGuildConfig(ctx, guildID, op)
	return err
}

// IgnoreChannel exempts a channel from one detector, or stops exempting it.
func (e *Enforcer) IgnoreChannel(ctx context.Context, guildID, detector, channelID string, ignore bool) error {
	if !isDetector(detector) {
		return fmt.Errorf("unknown detector %q", detector)
	}
	field := models.FieldIgnoredChannels + "." + detector
	op := store.AddToSet(field, channelID)
	if !ignore {
		op = store.RemoveFromSet(field, channelID)
	}
	_, err := e.Store.UpdateGuildConfig(ctx, guildID, op)
	return err
}

// SetDetectionPunishment sets what a detector hit turns into. A mute needs a
// duration.
func (e *Enforcer) SetDetectionPunishment(ctx context.Context, guildID, detector string, action models.PunishmentAction, duration *time.Duration) error {
	spec := models.PunishmentSpec{Action: action, DurationSeconds: seconds(duration)}
	_, err := e.Store.UpdateGuildConfig(ctx, guildID, store.Set(models.FieldDetectionPunishments+"."+detector, spec))
	return err
}

// SetWarnPunishment sets the step applied when a subject reaches warnNumber
// warns. ActionNone removes the step.
func (e *Enforcer) SetWarnPunishment(ctx context.Context, guildID string, warnNumber int, action models.PunishmentAction, duration *time.Duration) error {
	if warnNumber <= 0 {
		return fmt.Errorf("%w: warn number must be positive", models.ErrInvalidPunishment)
	}
	unlock := e.Ledger.Lock(guildID)
	defer unlock()

	cfg, err := e.Store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}
	steps := make([]models.WarnPunishment, 0, len(cfg.WarnPunishments)+1)
	for _, wp := range cfg.WarnPunishments {
		if wp.WarnNumber != warnNumber {
			steps = append(steps, wp)
		}
	}
	if action != models.ActionNone {
		steps = append(steps, models.WarnPunishment{WarnNumber: warnNumber, Punishment: action, DurationSeconds: seconds(duration)})
	}
	sort.Slice(steps, func(i, j int) bool { return steps[i].WarnNumber < steps[j].WarnNumber })
	_, err = e.Store.UpdateGuildConfig(ctx, guildID, store.Set(models.FieldWarnPunishments, steps))
	return err
}

// SetTimeOffset sets the guild's offset from UTC used in rendered dates.
func (e *Enforcer) SetTimeOffset(ctx context.Context, guildID string, hours int) error {
	_, err := e.Store.UpdateGuildConfig(ctx, guildID, store.Set(models.FieldTimeOffset, hours))
	return err
}

func isDetector(name string) bool {
	for _, d := range models.DetectorNames {
		if d == name {
			return true
		}
	}
	return false
}

func seconds(d *time.Duration) *int64 {
	if d == nil {
		return nil
	}
	s := int64(*d / time.Second)
	return &s
}
