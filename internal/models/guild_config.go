package models

import (
	"fmt"
	"time"
)

type PunishmentAction string

const (
	ActionNone   PunishmentAction = "none"
	ActionWarn   PunishmentAction = "warn"
	ActionMute   PunishmentAction = "mute"
	ActionKick   PunishmentAction = "kick"
	ActionBan    PunishmentAction = "ban"
	ActionDelete PunishmentAction = "delete"
)

// Detector names double as keys in DetectionPunishments and IgnoredChannels.
const (
	DetectorMentionLimit      = "mention_limit"
	DetectorFilter            = "filter"
	DetectorBlockInvite       = "block_invite"
	DetectorEnglishOnly       = "english_only"
	DetectorSpamDetection     = "spam_detection"
	DetectorRepetitiveMessage = "repetitive_message"
)

var DetectorNames = []string{
	DetectorMentionLimit,
	DetectorFilter,
	DetectorBlockInvite,
	DetectorEnglishOnly,
	DetectorSpamDetection,
	DetectorRepetitiveMessage,
}

// CaseList names one of the per-guild moderation record lists.
type CaseList string

const (
	ListWarns    CaseList = "warns"
	ListNotes    CaseList = "notes"
	ListMutes    CaseList = "mutes"
	ListTempbans CaseList = "tempbans"
	ListKicks    CaseList = "kicks"
	ListBans     CaseList = "bans"
)

var CaseLists = []CaseList{ListWarns, ListNotes, ListMutes, ListTempbans, ListKicks, ListBans}

// Settable document fields.
const (
	FieldPrefix               = "prefix"
	FieldTimeOffset           = "time_offset"
	FieldMuteRole             = "mute_role"
	FieldPermLevels           = "perm_levels"
	FieldCommandLevels        = "command_levels"
	FieldDetections           = "detections"
	FieldDetectionPunishments = "detection_punishments"
	FieldWarnPunishments      = "warn_punishments"
	FieldIgnoredChannels      = "ignored_channels"
	FieldWhitelistedGuilds    = "whitelisted_guilds"
)

type PermLevel struct {
	RoleID string `json:"role_id" bson:"role_id"`
	Level  int    `json:"level" bson:"level"`
}

// PunishmentSpec is what a detector hit turns into.
type PunishmentSpec struct {
	WarnThreshold   *int             `json:"warn_threshold,omitempty" bson:"warn_threshold,omitempty"`
	Action          PunishmentAction `json:"action" bson:"action"`
	DurationSeconds *int64           `json:"duration_seconds,omitempty" bson:"duration_seconds,omitempty"`
}

func (p PunishmentSpec) Duration() *time.Duration {
	if p.DurationSeconds == nil {
		return nil
	}
	d := time.Duration(*p.DurationSeconds) * time.Second
	return &d
}

// Validate rejects actions it does not know, mutes without a duration and
// non-positive durations. Errors wrap ErrInvalidPunishment.
func (p PunishmentSpec) Validate() error {
	switch p.Action {
	case ActionMute:
		if p.DurationSeconds == nil {
			return fmt.Errorf("%w: mute requires a duration", ErrInvalidPunishment)
		}
	case ActionNone, ActionWarn, ActionKick, ActionBan, ActionDelete:
	default:
		return fmt.Errorf("%w: unknown action %q", ErrInvalidPunishment, p.Action)
	}
	if p.DurationSeconds != nil && *p.DurationSeconds <= 0 {
		return fmt.Errorf("%w: duration must be positive", ErrInvalidPunishment)
	}
	if p.WarnThreshold != nil && *p.WarnThreshold <= 0 {
		return fmt.Errorf("%w: warn threshold must be positive", ErrInvalidPunishment)
	}
	return nil
}

// WarnPunishment fires when a subject's warn count reaches WarnNumber.
type WarnPunishment struct {
	WarnNumber      int              `json:"warn_number" bson:"warn_number"`
	Punishment      PunishmentAction `json:"punishment" bson:"punishment"`
	DurationSeconds *int64           `json:"duration_seconds,omitempty" bson:"duration_seconds,omitempty"`
}

func (w WarnPunishment) Spec() PunishmentSpec {
	n := w.WarnNumber
	return PunishmentSpec{WarnThreshold: &n, Action: w.Punishment, DurationSeconds: w.DurationSeconds}
}

type DetectionConfig struct {
	Filters                 []string `json:"filters" bson:"filters"`
	BlockInvite             bool     `json:"block_invite" bson:"block_invite"`
	EnglishOnly             bool     `json:"english_only" bson:"english_only"`
	MentionLimit            int      `json:"mention_limit" bson:"mention_limit"`
	SpamDetection           int      `json:"spam_detection" bson:"spam_detection"`
	SpamWindowSeconds       int      `json:"spam_window_seconds,omitempty" bson:"spam_window_seconds,omitempty"`
	RepetitiveMessage       int      `json:"repetitive_message" bson:"repetitive_message"`
	RepetitiveWindowSeconds int      `json:"repetitive_window_seconds,omitempty" bson:"repetitive_window_seconds,omitempty"`
}

const (
	DefaultSpamWindow       = 5 * time.Second
	DefaultRepetitiveWindow = 60 * time.Second
)

// Detection settings addressable as "detections.<setting>". Toggles hold a
// bool; the rest are counts where 0 turns the detector off or, for windows,
// restores the default.
const (
	SettingSpamWindow       = "spam_window_seconds"
	SettingRepetitiveWindow = "repetitive_window_seconds"
)

var DetectionSettings = []string{
	DetectorMentionLimit,
	DetectorBlockInvite,
	DetectorEnglishOnly,
	DetectorSpamDetection,
	SettingSpamWindow,
	DetectorRepetitiveMessage,
	SettingRepetitiveWindow,
}

func detectionToggle(setting string) bool {
	return setting == DetectorBlockInvite || setting == DetectorEnglishOnly
}

// DetectionSettingValue converts n into the value stored for setting: a bool
// for toggles (any non-zero n is on), the count otherwise.
func DetectionSettingValue(setting string, n int) (any, error) {
	known := false
	for _, s := range DetectionSettings {
		known = known || s == setting
	}
	switch {
	case !known:
		return nil, fmt.Errorf("unknown detection setting %q", setting)
	case n < 0:
		return nil, fmt.Errorf("%s cannot be negative", setting)
	case detectionToggle(setting):
		return n != 0, nil
	}
	return n, nil
}

// Set assigns one setting. value must have the type DetectionSettingValue
// returns for it.
func (d *DetectionConfig) Set(setting string, value any) error {
	if detectionToggle(setting) {
		v, ok := value.(bool)
		if !ok {
			return fmt.Errorf("%s takes a bool, got %T", setting, value)
		}
		if setting == DetectorBlockInvite {
			d.BlockInvite = v
		} else {
			d.EnglishOnly = v
		}
		return nil
	}
	v, ok := value.(int)
	if !ok {
		return fmt.Errorf("%s takes an int, got %T", setting, value)
	}
	if v < 0 {
		return fmt.Errorf("%s cannot be negative", setting)
	}
	switch setting {
	case DetectorMentionLimit:
		d.MentionLimit = v
	case DetectorSpamDetection:
		d.SpamDetection = v
	case SettingSpamWindow:
		d.SpamWindowSeconds = v
	case DetectorRepetitiveMessage:
		d.RepetitiveMessage = v
	case SettingRepetitiveWindow:
		d.RepetitiveWindowSeconds = v
	default:
		return fmt.Errorf("unknown detection setting %q", setting)
	}
	return nil
}

func (d DetectionConfig) SpamWindow() time.Duration {
	if d.SpamWindowSeconds > 0 {
		return time.Duration(d.SpamWindowSeconds) * time.Second
	}
	return DefaultSpamWindow
}

func (d DetectionConfig) RepetitiveWindow() time.Duration {
	if d.RepetitiveWindowSeconds > 0 {
		return time.Duration(d.RepetitiveWindowSeconds) * time.Second
	}
	return DefaultRepetitiveWindow
}

// CaseRecord is one numbered moderation event. ExpiresAt is only set on
// time-bounded mutes and tempbans.
type CaseRecord struct {
	CaseNumber int    `json:"case_number" bson:"case_number"`
	Date       int64  `json:"date" bson:"date"`
	SubjectID  string `json:"member_id" bson:"member_id"`
	ActorID    string `json:"moderator_id" bson:"moderator_id"`
	Reason     string `json:"reason" bson:"reason"`
	ExpiresAt  int64  `json:"time,omitempty" bson:"time,omitempty"`
}

func (r CaseRecord) HasExpiry() bool { return r.ExpiresAt > 0 }

// GuildConfig is the per-guild document. Callers treat it as a snapshot.
type GuildConfig struct {
	GuildID              string                    `json:"guild_id" bson:"guild_id"`
	Prefix               string                    `json:"prefix" bson:"prefix"`
	TimeOffsetHours      int                       `json:"time_offset" bson:"time_offset"`
	MuteRoleID           string                    `json:"mute_role" bson:"mute_role"`
	PermLevels           []PermLevel               `json:"perm_levels" bson:"perm_levels"`
	CommandLevels        map[string]int            `json:"command_levels" bson:"command_levels"`
	Detections           DetectionConfig           `json:"detections" bson:"detections"`
	DetectionPunishments map[string]PunishmentSpec `json:"detection_punishments" bson:"detection_punishments"`
	WarnPunishments      []WarnPunishment          `json:"warn_punishments" bson:"warn_punishments"`
	IgnoredChannels      map[string][]string       `json:"ignored_channels" bson:"ignored_channels"`
	WhitelistedGuilds    []string                  `json:"whitelisted_guilds" bson:"whitelisted_guilds"`

	Warns    []CaseRecord `json:"warns" bson:"warns"`
	Notes    []CaseRecord `json:"notes" bson:"notes"`
	Mutes    []CaseRecord `json:"mutes" bson:"mutes"`
	Tempbans []CaseRecord `json:"tempbans" bson:"tempbans"`
	Kicks    []CaseRecord `json:"kicks" bson:"kicks"`
	Bans     []CaseRecord `json:"bans" bson:"bans"`
}

func int64Ptr(v int64) *int64 { return &v }

// DefaultDetectionPunishments applies when a guild has not configured a
// punishment for a detector.
func DefaultDetectionPunishments() map[string]PunishmentSpec {
	tenMinutes := int64Ptr(600)
	return map[string]PunishmentSpec{
		DetectorMentionLimit:      {Action: ActionMute, DurationSeconds: tenMinutes},
		DetectorFilter:            {Action: ActionDelete},
		DetectorBlockInvite:       {Action: ActionMute, DurationSeconds: tenMinutes},
		DetectorEnglishOnly:       {Action: ActionDelete},
		DetectorSpamDetection:     {Action: ActionMute, DurationSeconds: tenMinutes},
		DetectorRepetitiveMessage: {Action: ActionWarn},
	}
}

// DefaultGuildConfig is the document materialised on first access.
func DefaultGuildConfig(guildID string) *GuildConfig {
	ignored := make(map[string][]string, len(DetectorNames))
	for _, name := range DetectorNames {
		ignored[name] = []string{}
	}
	return &GuildConfig{
		GuildID:              guildID,
		Prefix:               "!!",
		PermLevels:           []PermLevel{},
		CommandLevels:        map[string]int{},
		Detections:           DetectionConfig{Filters: []string{}},
		DetectionPunishments: map[string]PunishmentSpec{},
		WarnPunishments:      []WarnPunishment{},
		IgnoredChannels:      ignored,
		WhitelistedGuilds:    []string{},
		Warns:                []CaseRecord{},
		Notes:                []CaseRecord{},
		Mutes:                []CaseRecord{},
		Tempbans:             []CaseRecord{},
		Kicks:                []CaseRecord{},
		Bans:                 []CaseRecord{},
	}
}

// Cases returns the named list. Unknown names yield nil.
func (c *GuildConfig) Cases(list CaseList) []CaseRecord {
	switch list {
	case ListWarns:
		return c.Warns
	case ListNotes:
		return c.Notes
	case ListMutes:
		return c.Mutes
	case ListTempbans:
		return c.Tempbans
	case ListKicks:
		return c.Kicks
	case ListBans:
		return c.Bans
	}
	return nil
}

// SetCases replaces the named list; used by store backends.
func (c *GuildConfig) SetCases(list CaseList, records []CaseRecord) {
	switch list {
	case ListWarns:
		c.Warns = records
	case ListNotes:
		c.Notes = records
	case ListMutes:
		c.Mutes = records
	case ListTempbans:
		c.Tempbans = records
	case ListKicks:
		c.Kicks = records
	case ListBans:
		c.Bans = records
	}
}

// PunishmentFor returns the configured punishment for a detector, falling
// back to the built-in default.
func (c *GuildConfig) PunishmentFor(detector string) PunishmentSpec {
	if p, ok := c.DetectionPunishments[detector]; ok {
		return p
	}
	return DefaultDetectionPunishments()[detector]
}

func (c *GuildConfig) ChannelIgnored(detector, channelID string) bool {
	for _, id := range c.IgnoredChannels[detector] {
		if id == channelID {
			return true
		}
	}
	return false
}

func (c *GuildConfig) GuildWhitelisted(guildID string) bool {
	for _, id := range c.WhitelistedGuilds {
		if id == guildID {
			return true
		}
	}
	return false
}

// WarnCount counts the warns recorded against a subject.
func (c *GuildConfig) WarnCount(subjectID string) int {
	n := 0
	for _, w := range c.Warns {
		if w.SubjectID == subjectID {
			n++
		}
	}
	return n
}

// UTC offsets a guild can choose, in hours.
const (
	MinTimeOffset = -12
	MaxTimeOffset = 14
)

// LocalTime applies the guild's configured hour offset.
func (c *GuildConfig) LocalTime(t time.Time) time.Time {
	return t.UTC().Add(time.Duration(c.TimeOffsetHours) * time.Hour)
}
