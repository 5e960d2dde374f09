package database

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/store"
)

func testRepo(t *testing.T) *Repository {
	t.Helper()
	db, err := Open("sqlite", ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqldb, err := db.DB(); err == nil {
			sqldb.Close()
		}
	})
	return NewRepositoryWithDB(db)
}

func TestRepositoryDefaultDocument(t *testing.T) {
	assert := assert.New(t)
	r := testRepo(t)
	ctx := context.Background()

	cfg, err := r.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal("!!", cfg.Prefix)
	assert.Empty(cfg.Warns)
	assert.Equal(models.DefaultDetectionPunishments(), cfg.DetectionPunishments)

	// second access sees the persisted row, not a second insert
	_, err = r.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	all, err := r.AllGuildConfigs(ctx)
	require.NoError(t, err)
	assert.Len(all, 1)
}

func TestRepositorySettingsOps(t *testing.T) {
	assert := assert.New(t)
	r := testRepo(t)
	ctx := context.Background()

	_, err := r.UpdateGuildConfig(ctx, "g1",
		store.Set(models.FieldMuteRole, "role-1"),
		store.Set(models.FieldCommandLevels+".warn add", 4),
		store.AddToSet(models.FieldWhitelistedGuilds, "g9"),
	)
	require.NoError(t, err)

	cfg, err := r.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal("role-1", cfg.MuteRoleID)
	assert.Equal(4, cfg.CommandLevels["warn add"])
	assert.True(cfg.GuildWhitelisted("g9"))
	assert.Equal("!!", cfg.Prefix)
}

func TestRepositoryCases(t *testing.T) {
	assert := assert.New(t)
	r := testRepo(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		_, err := r.UpdateGuildConfig(ctx, "g1", store.Push(models.ListWarns, models.CaseRecord{
			CaseNumber: i,
			SubjectID:  "u1",
			ActorID:    "m1",
			Reason:     "spam",
		}))
		require.NoError(t, err)
	}

	_, err := r.UpdateGuildConfig(ctx, "g1", store.Push(models.ListWarns, models.CaseRecord{CaseNumber: 2, SubjectID: "u2"}))
	assert.ErrorIs(err, models.ErrDuplicateCase)

	// a case number may repeat across lists
	_, err = r.UpdateGuildConfig(ctx, "g1", store.Push(models.ListNotes, models.CaseRecord{CaseNumber: 1, SubjectID: "u1"}))
	require.NoError(t, err)

	cfg, err := r.UpdateGuildConfig(ctx, "g1", store.Pull(models.ListWarns, store.CaseMatch{CaseNumber: 2}))
	require.NoError(t, err)
	assert.Len(cfg.Warns, 2)

	cfg, err = r.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	require.Len(t, cfg.Warns, 2)
	assert.Equal(1, cfg.Warns[0].CaseNumber)
	assert.Equal(3, cfg.Warns[1].CaseNumber)
	assert.Len(cfg.Notes, 1)
	assert.Equal(2, cfg.WarnCount("u1"))
}

func TestRepositoryHealthStats(t *testing.T) {
	assert := assert.New(t)
	r := testRepo(t)

	require.NoError(t, r.UpdateAPIHealthBulk("apply_mute", 3, 2))
	require.NoError(t, r.UpdateAPIHealthBulk("apply_mute", 1, 1))
	require.NoError(t, r.UpdateAPIHealthBulk("kick", 0, 0))

	stats, err := r.GetAPIHealthStats()
	require.NoError(t, err)
	require.Len(t, stats, 1)
	assert.Equal(uint64(4), stats[0].TotalRequests)
	assert.Equal(uint64(3), stats[0].SuccessfulRequests)

	require.NoError(t, r.UpsertServiceStatus(&models.ServiceStatus{ServiceName: "bot", Status: "running"}))
	require.NoError(t, r.UpsertServiceStatus(&models.ServiceStatus{ServiceName: "bot", Status: "stopped"}))
}
