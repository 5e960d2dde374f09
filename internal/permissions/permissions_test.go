package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbot/rainbot/internal/models"
)

func TestResolvePrecedence(t *testing.T) {
	assert := assert.New(t)
	r := NewResolver([]string{"owner"})
	cfg := models.DefaultGuildConfig("g")
	cfg.PermLevels = []models.PermLevel{{RoleID: "mods", Level: 4}, {RoleID: "helpers", Level: 2}}

	assert.Equal(MaxLevel, r.Resolve(Actor{UserID: "owner"}, cfg))
	assert.Equal(GuildOwnerLevel, r.Resolve(Actor{UserID: "u", GuildOwner: true, Administrator: true}, cfg))
	assert.Equal(AdministratorLevel, r.Resolve(Actor{UserID: "u", Administrator: true, RoleIDs: []string{"mods"}}, cfg))
	assert.Equal(ManageGuildLevel, r.Resolve(Actor{UserID: "u", ManageGuild: true}, cfg))
	assert.Equal(4, r.Resolve(Actor{UserID: "u", RoleIDs: []string{"helpers", "mods"}}, cfg))
	assert.Equal(0, r.Resolve(Actor{UserID: "u", RoleIDs: []string{"other"}}, cfg))
}

func TestBotOwnerAlwaysMax(t *testing.T) {
	r := NewResolver([]string{"owner"})
	for _, levels := range [][]models.PermLevel{
		nil,
		{{RoleID: "r", Level: 1000}},
		{{RoleID: "r", Level: -5}},
	} {
		cfg := models.DefaultGuildConfig("g")
		cfg.PermLevels = levels
		assert.Equal(t, MaxLevel, r.Resolve(Actor{UserID: "owner", RoleIDs: []string{"r"}}, cfg))
	}
}

func testRegistry() *Registry {
	return NewRegistry(
		&Command{Name: "warn", Level: 1, Subcommands: []*Command{
			{Name: "warn add", Level: 1},
			{Name: "warn remove", Level: 3},
			{Name: "warn clear", Level: 3},
		}},
		&Command{Name: "ban", Level: 6},
	)
}

func TestCheckLevelOverride(t *testing.T) {
	assert := assert.New(t)
	reg := testRegistry()
	cfg := models.DefaultGuildConfig("g")

	assert.NoError(reg.CheckLevel(6, "ban", cfg))
	err := reg.CheckLevel(5, "ban", cfg)
	require.Error(t, err)
	assert.ErrorIs(err, models.ErrUnderleveled)
	var ue *models.UnderleveledError
	require.ErrorAs(t, err, &ue)
	assert.Equal(6, ue.Need)
	assert.Equal(5, ue.Have)

	cfg.CommandLevels["ban"] = 2
	assert.NoError(reg.CheckLevel(2, "ban", cfg))

	_, err = reg.EffectiveLevel("nope", cfg)
	assert.Error(err)
}

func TestGroupTakesLowestOverriddenSubcommand(t *testing.T) {
	assert := assert.New(t)
	reg := testRegistry()
	cfg := models.DefaultGuildConfig("g")
	cfg.CommandLevels["warn"] = 4

	lvl, err := reg.EffectiveLevel("warn", cfg)
	require.NoError(t, err)
	assert.Equal(4, lvl)

	cfg.CommandLevels["warn remove"] = 2
	cfg.CommandLevels["warn clear"] = 0
	lvl, err = reg.EffectiveLevel("warn", cfg)
	require.NoError(t, err)
	assert.Equal(0, lvl)

	lvl, err = reg.EffectiveLevel("warn remove", cfg)
	require.NoError(t, err)
	assert.Equal(2, lvl)

	// non-overridden subcommands never pull the group down
	lvl, err = reg.EffectiveLevel("warn add", cfg)
	require.NoError(t, err)
	assert.Equal(1, lvl)
}

func TestCheckModerable(t *testing.T) {
	assert := assert.New(t)
	r := NewResolver(nil)
	cfg := models.DefaultGuildConfig("g")
	cfg.PermLevels = []models.PermLevel{{RoleID: "mods", Level: 4}}

	mod := Actor{UserID: "m", RoleIDs: []string{"mods"}}
	assert.ErrorIs(r.CheckModerable(mod, mod, cfg), models.ErrTargetNotModerable)
	assert.ErrorIs(r.CheckModerable(mod, Actor{UserID: "o", GuildOwner: true}, cfg), models.ErrTargetNotModerable)
	assert.ErrorIs(r.CheckModerable(mod, Actor{UserID: "m2", RoleIDs: []string{"mods"}}, cfg), models.ErrTargetNotModerable)
	assert.NoError(r.CheckModerable(mod, Actor{UserID: "u"}, cfg))
}
