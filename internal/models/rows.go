package models

import "time"

// GuildSettings is the relational row holding the scalar and settings parts
// of a GuildConfig. Case lists live in ModCase.
type GuildSettings struct {
	GuildID              string                    `gorm:"primaryKey;column:guild_id"`
	Prefix               string                    `gorm:"column:prefix"`
	TimeOffset           int                       `gorm:"column:time_offset"`
	MuteRole             string                    `gorm:"column:mute_role"`
	PermLevels           []PermLevel               `gorm:"column:perm_levels;serializer:json"`
	CommandLevels        map[string]int            `gorm:"column:command_levels;serializer:json"`
	Detections           DetectionConfig           `gorm:"column:detections;serializer:json"`
	DetectionPunishments map[string]PunishmentSpec `gorm:"column:detection_punishments;serializer:json"`
	WarnPunishments      []WarnPunishment          `gorm:"column:warn_punishments;serializer:json"`
	IgnoredChannels      map[string][]string       `gorm:"column:ignored_channels;serializer:json"`
	WhitelistedGuilds    []string                  `gorm:"column:whitelisted_guilds;serializer:json"`
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

func (GuildSettings) TableName() string {
	return "guild_settings"
}

type ModCase struct {
	ID         uint     `gorm:"primaryKey"`
	GuildID    string   `gorm:"column:guild_id;not null;uniqueIndex:idx_mod_cases_number,priority:1;index:idx_mod_cases_subject,priority:1"`
	List       CaseList `gorm:"column:list;not null;uniqueIndex:idx_mod_cases_number,priority:2;index:idx_mod_cases_subject,priority:2"`
	CaseNumber int      `gorm:"column:case_number;not null;uniqueIndex:idx_mod_cases_number,priority:3"`
	SubjectID  string   `gorm:"column:subject_id;index:idx_mod_cases_subject,priority:3"`
	ActorID    string   `gorm:"column:actor_id"`
	Reason     string   `gorm:"column:reason"`
	Date       int64    `gorm:"column:date"`
	ExpiresAt  int64    `gorm:"column:expires_at;index"`
}

func (ModCase) TableName() string {
	return "mod_cases"
}

func (c ModCase) Record() CaseRecord {
	return CaseRecord{
		CaseNumber: c.CaseNumber,
		Date:       c.Date,
		SubjectID:  c.SubjectID,
		ActorID:    c.ActorID,
		Reason:     c.Reason,
		ExpiresAt:  c.ExpiresAt,
	}
}

func NewModCase(guildID string, list CaseList, r CaseRecord) ModCase {
	return ModCase{
		GuildID:    guildID,
		List:       list,
		CaseNumber: r.CaseNumber,
		SubjectID:  r.SubjectID,
		ActorID:    r.ActorID,
		Reason:     r.Reason,
		Date:       r.Date,
		ExpiresAt:  r.ExpiresAt,
	}
}

// Settings splits the non-list part of a config into its row form.
func (c *GuildConfig) Settings() GuildSettings {
	return GuildSettings{
		GuildID:              c.GuildID,
		Prefix:               c.Prefix,
		TimeOffset:           c.TimeOffsetHours,
		MuteRole:             c.MuteRoleID,
		PermLevels:           c.PermLevels,
		CommandLevels:        c.CommandLevels,
		Detections:           c.Detections,
		DetectionPunishments: c.DetectionPunishments,
		WarnPunishments:      c.WarnPunishments,
		IgnoredChannels:      c.IgnoredChannels,
		WhitelistedGuilds:    c.WhitelistedGuilds,
	}
}

// Config rebuilds a GuildConfig from a settings row and its cases.
func (s GuildSettings) Config(cases []ModCase) *GuildConfig {
	cfg := DefaultGuildConfig(s.GuildID)
	cfg.Prefix = s.Prefix
	cfg.TimeOffsetHours = s.TimeOffset
	cfg.MuteRoleID = s.MuteRole
	if s.PermLevels != nil {
		cfg.PermLevels = s.PermLevels
	}
	if s.CommandLevels != nil {
		cfg.CommandLevels = s.CommandLevels
	}
	cfg.Detections = s.Detections
	if cfg.Detections.Filters == nil {
		cfg.Detections.Filters = []string{}
	}
	if s.DetectionPunishments != nil {
		cfg.DetectionPunishments = s.DetectionPunishments
	}
	if s.WarnPunishments != nil {
		cfg.WarnPunishments = s.WarnPunishments
	}
	for k, v := range s.IgnoredChannels {
		cfg.IgnoredChannels[k] = v
	}
	if s.WhitelistedGuilds != nil {
		cfg.WhitelistedGuilds = s.WhitelistedGuilds
	}
	for _, c := range cases {
		cfg.SetCases(c.List, append(cfg.Cases(c.List), c.Record()))
	}
	return cfg
}
