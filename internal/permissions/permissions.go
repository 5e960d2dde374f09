// Package permissions resolves an actor's privilege level in a guild and
// gates commands on it.
package permissions

import (
	"github.com/rainbot/rainbot/internal/models"
)

const (
	MaxLevel           = 100
	GuildOwnerLevel    = MaxLevel - 1
	AdministratorLevel = 15
	ManageGuildLevel   = 10

	// ElevatedLevel and above bypass automatic detection.
	ElevatedLevel = 5
)

// Actor is who is acting in a guild, flattened from platform member state.
type Actor struct {
	UserID        string
	IsBot         bool
	IsSystem      bool
	GuildOwner    bool
	Administrator bool
	ManageGuild   bool
	RoleIDs       []string
}

type Resolver struct {
	owners map[string]bool
}

func NewResolver(botOwnerIDs []string) *Resolver {
	owners := make(map[string]bool, len(botOwnerIDs))
	for _, id := range botOwnerIDs {
		owners[id] = true
	}
	return &Resolver{owners: owners}
}

func (r *Resolver) IsBotOwner(userID string) bool {
	return r.owners[userID]
}

// Resolve returns the actor's level. First match wins.
func (r *Resolver) Resolve(actor Actor, cfg *models.GuildConfig) int {
	switch {
	case r.owners[actor.UserID]:
		return MaxLevel
	case actor.GuildOwner:
		return GuildOwnerLevel
	case actor.Administrator:
		return AdministratorLevel
	case actor.ManageGuild:
		return ManageGuildLevel
	}

	level := 0
	if cfg == nil {
		return level
	}
	held := make(map[string]bool, len(actor.RoleIDs))
	for _, id := range actor.RoleIDs {
		held[id] = true
	}
	for _, pl := range cfg.PermLevels {
		if held[pl.RoleID] && pl.Level > level {
			level = pl.Level
		}
	}
	return level
}

// CheckModerable fails when the actor may not act on the subject: acting on
// oneself, on the guild owner, or on someone at or above the actor's level.
func (r *Resolver) CheckModerable(actor, subject Actor, cfg *models.GuildConfig) error {
	if actor.UserID == subject.UserID {
		return &models.NotModerableError{SubjectID: subject.UserID, Reason: "cannot act on yourself"}
	}
	if subject.GuildOwner {
		return &models.NotModerableError{SubjectID: subject.UserID, Reason: "the guild owner cannot be moderated"}
	}
	if r.Resolve(subject, cfg) >= r.Resolve(actor, cfg) {
		return &models.NotModerableError{SubjectID: subject.UserID, Reason: "their level is not below yours"}
	}
	return nil
}
