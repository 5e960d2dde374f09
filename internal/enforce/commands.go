package enforce

import "github.com/rainbot/rainbot/internal/permissions"

// Qualified command names.
const (
	CmdWarn            = "warn"
	CmdWarnAdd         = "warn add"
	CmdWarnRemove      = "warn remove"
	CmdWarnClear       = "warn clear"
	CmdWarnList        = "warn list"
	CmdNote            = "note"
	CmdNoteAdd         = "note add"
	CmdMute            = "mute"
	CmdUnmute          = "unmute"
	CmdKick            = "kick"
	CmdBan             = "ban"
	CmdUnban           = "unban"
	CmdModlogs         = "modlogs"
	CmdModlogsRemove   = "modlogs remove"
	CmdSetLevel        = "setlevel"
	CmdSetCommandLevel = "setcommandlevel"

	CmdSetDetection           = "setdetection"
	CmdSetDetectionPunishment = "setdetectionpunishment"
	CmdSetWarnPunishment      = "setwarnpunishment"
	CmdIgnoreChannel          = "ignorechannel"
	CmdSetGuildWhitelist      = "setguildwhitelist"
	CmdSetOffset              = "setoffset"
	CmdFilter                 = "filter"
	CmdFilterAdd              = "filter add"
	CmdFilterRemove           = "filter remove"
	CmdFilterList             = "filter list"
)

// Commands is the gated command tree with its static levels.
func Commands() *permissions.Registry {
	return permissions.NewRegistry(
		&permissions.Command{Name: CmdWarn, Level: 6, Subcommands: []*permissions.Command{
			{Name: CmdWarnAdd, Level: 6},
			{Name: CmdWarnRemove, Level: 6},
			{Name: CmdWarnClear, Level: 6},
			{Name: CmdWarnList, Level: 6},
		}},
		&permissions.Command{Name: CmdNote, Level: 6, Subcommands: []*permissions.Command{
			{Name: CmdNoteAdd, Level: 6},
		}},
		&permissions.Command{Name: CmdMute, Level: 6},
		&permissions.Command{Name: CmdUnmute, Level: 6},
		&permissions.Command{Name: CmdKick, Level: 6},
		&permissions.Command{Name: CmdBan, Level: 7},
		&permissions.Command{Name: CmdUnban, Level: 7},
		&permissions.Command{Name: CmdModlogs, Level: 6, Subcommands: []*permissions.Command{
			{Name: CmdModlogsRemove, Level: 6},
		}},
		&permissions.Command{Name: CmdSetLevel, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdSetCommandLevel, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdSetDetection, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdSetDetectionPunishment, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdSetWarnPunishment, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdIgnoreChannel, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdSetGuildWhitelist, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdSetOffset, Level: permissions.ManageGuildLevel},
		&permissions.Command{Name: CmdFilter, Level: 8, Subcommands: []*permissions.Command{
			{Name: CmdFilterAdd, Level: 8},
			{Name: CmdFilterRemove, Level: 8},
			{Name: CmdFilterList, Level: 7},
		}},
	)
}
