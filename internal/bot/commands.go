package bot

import (
	"log"

	"github.com/bwmarrin/discordgo"

	"github.com/rainbot/rainbot/internal/models"
)

func userOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionUser,
		Name:        "user",
		Description: description,
		Required:    true,
	}
}

func reasonOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "reason",
		Description: "Reason, shown to the member and in the mod logs",
		Required:    required,
	}
}

func durationOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "duration",
		Description: "How long, e.g. 10m, 2h or 7d (permanent if omitted)",
		Required:    false,
	}
}

func caseOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "case",
		Description: "Case number",
		Required:    true,
		MinValue:    ptr(1.0),
	}
}

func levelOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionInteger,
		Name:        "level",
		Description: "Permission level (0-100)",
		Required:    true,
		MinValue:    ptr(0.0),
		MaxValue:    100,
	}
}

func ptr[T any](v T) *T { return &v }

func historyChoices() []*discordgo.ApplicationCommandOptionChoice {
	var choices []*discordgo.ApplicationCommandOptionChoice
	for _, list := range []models.CaseList{models.ListWarns, models.ListNotes, models.ListKicks, models.ListBans} {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: string(list), Value: string(list)})
	}
	return choices
}

func nameChoices(names []string) []*discordgo.ApplicationCommandOptionChoice {
	choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(names))
	for _, n := range names {
		choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: n, Value: n})
	}
	return choices
}

func detectorOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "detector",
		Description: "Which detector",
		Required:    true,
		Choices:     nameChoices(models.DetectorNames),
	}
}

func actionOption(actions ...models.PunishmentAction) *discordgo.ApplicationCommandOption {
	names := make([]string, len(actions))
	for i, a := range actions {
		names[i] = string(a)
	}
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "action",
		Description: "What happens",
		Required:    true,
		Choices:     nameChoices(names),
	}
}

func punishmentDurationOption() *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "duration",
		Description: "How long, e.g. 10m or 1d (required for mute, permanent ban if omitted)",
	}
}

func wordOption(description string) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        "word",
		Description: description,
		Required:    true,
	}
}

func subcommand(name, description string, options ...*discordgo.ApplicationCommandOption) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionSubCommand,
		Name:        name,
		Description: description,
		Options:     options,
	}
}

func applicationCommands() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{
		{
			Name:        "warn",
			Description: "Manage member warnings",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Warn a member", userOption("Member to warn"), reasonOption(true)),
				subcommand("remove", "Remove a warning by case number", caseOption()),
				subcommand("clear", "Remove every warning of a member", userOption("Member whose warnings to clear")),
				subcommand("list", "List a member's warnings", userOption("Member to look up")),
			},
		},
		{
			Name:        "note",
			Description: "Moderator notes",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Attach a note to a member", userOption("Member to note"), &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "note",
					Description: "The note",
					Required:    true,
				}),
			},
		},
		{
			Name:        "mute",
			Description: "Mute a member",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to mute"), durationOption(), reasonOption(false)},
		},
		{
			Name:        "unmute",
			Description: "Lift a member's mute",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to unmute"), reasonOption(false)},
		},
		{
			Name:        "kick",
			Description: "Kick a member",
			Options:     []*discordgo.ApplicationCommandOption{userOption("Member to kick"), reasonOption(false)},
		},
		{
			Name:        "ban",
			Description: "Ban a member",
			Options: []*discordgo.ApplicationCommandOption{
				userOption("Member to ban"),
				durationOption(),
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "prune_days",
					Description: "Days of their messages to delete (0-7)",
					MinValue:    ptr(0.0),
					MaxValue:    7,
				},
				reasonOption(false),
			},
		},
		{
			Name:        "unban",
			Description: "Lift a ban",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "user_id",
					Description: "ID of the banned user",
					Required:    true,
				},
				reasonOption(false),
			},
		},
		{
			Name:        "modlogs",
			Description: "Moderation history",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("view", "Show a member's moderation history", userOption("Member to look up")),
				subcommand("remove", "Remove a case from the history", &discordgo.ApplicationCommandOption{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "list",
					Description: "Which history",
					Required:    true,
					Choices:     historyChoices(),
				}, caseOption()),
			},
		},
		{
			Name:        "setlevel",
			Description: "Give a role a permission level",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionRole,
					Name:        "role",
					Description: "The role",
					Required:    true,
				},
				levelOption(),
			},
		},
		{
			Name:        "setcommandlevel",
			Description: "Override the level a command requires",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "command",
					Description: "Command name, e.g. \"warn add\" or \"ban\"",
					Required:    true,
				},
				levelOption(),
			},
		},
		{
			Name:        "setdetection",
			Description: "Tune an automatic detection",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "setting",
					Description: "Detection setting",
					Required:    true,
					Choices:     nameChoices(models.DetectionSettings),
				},
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "value",
					Description: "Threshold or window in seconds (0 turns it off); 1 or 0 for block_invite and english_only",
					Required:    true,
					MinValue:    ptr(0.0),
				},
			},
		},
		{
			Name:        "setdetectionpunishment",
			Description: "Choose what a detection does to the sender",
			Options: []*discordgo.ApplicationCommandOption{
				detectorOption(),
				actionOption(models.ActionDelete, models.ActionWarn, models.ActionMute, models.ActionKick, models.ActionBan),
				punishmentDurationOption(),
			},
		},
		{
			Name:        "setwarnpunishment",
			Description: "Choose what happens when a member reaches a number of warnings",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "warns",
					Description: "Warning count that triggers it",
					Required:    true,
					MinValue:    ptr(1.0),
				},
				actionOption(models.ActionNone, models.ActionMute, models.ActionKick, models.ActionBan),
				punishmentDurationOption(),
			},
		},
		{
			Name:        "ignorechannel",
			Description: "Exempt a channel from a detection",
			Options: []*discordgo.ApplicationCommandOption{
				detectorOption(),
				{
					Type:        discordgo.ApplicationCommandOptionChannel,
					Name:        "channel",
					Description: "The channel",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "ignore",
					Description: "False to stop ignoring it (default true)",
				},
			},
		},
		{
			Name:        "setguildwhitelist",
			Description: "Allow invites to another server",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "guild_id",
					Description: "ID of the server",
					Required:    true,
				},
				{
					Type:        discordgo.ApplicationCommandOptionBoolean,
					Name:        "allow",
					Description: "False to remove it from the whitelist (default true)",
				},
			},
		},
		{
			Name:        "setoffset",
			Description: "Set the server's UTC offset used in mod logs",
			Options: []*discordgo.ApplicationCommandOption{
				{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "hours",
					Description: "Offset from UTC in hours",
					Required:    true,
					MinValue:    ptr(float64(models.MinTimeOffset)),
					MaxValue:    float64(models.MaxTimeOffset),
				},
			},
		},
		{
			Name:        "filter",
			Description: "Blocked-word filter",
			Options: []*discordgo.ApplicationCommandOption{
				subcommand("add", "Block a word", wordOption("Word to block")),
				subcommand("remove", "Unblock a word", wordOption("Word to unblock")),
				subcommand("list", "Show blocked words"),
			},
		},
	}
}

func (b *Bot) registerCommands() {
	_, err := b.Session.ApplicationCommandBulkOverwrite(b.Session.State.User.ID, "", applicationCommands())
	if err != nil {
		log.Printf("Error registering commands: %v", err)
	}
}
