package mongostore

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/store"
)

func testStore(t *testing.T) *Store {
	uri := os.Getenv("MONGO_TEST_URI")
	if uri == "" {
		t.Skip("MONGO_TEST_URI not set")
	}
	ctx := context.Background()
	s, err := Open(ctx, uri, fmt.Sprintf("rainbot_test_%d", time.Now().UnixNano()))
	require.NoError(t, err)
	t.Cleanup(func() {
		s.db.Drop(ctx)
		s.Close(ctx)
	})
	return s
}

func TestMongoStoreCases(t *testing.T) {
	assert := assert.New(t)
	s := testStore(t)
	ctx := context.Background()

	cfg, err := s.GetGuildConfig(ctx, "g1")
	require.NoError(t, err)
	assert.Equal("!!", cfg.Prefix)

	_, err = s.UpdateGuildConfig(ctx, "g1",
		store.Push(models.ListMutes, models.CaseRecord{CaseNumber: 1, SubjectID: "u1", ExpiresAt: 100}),
		store.Push(models.ListMutes, models.CaseRecord{CaseNumber: 2, SubjectID: "u2", ExpiresAt: 200}),
		store.Set(models.FieldMuteRole, "r1"),
	)
	require.NoError(t, err)

	_, err = s.UpdateGuildConfig(ctx, "g1", store.Push(models.ListMutes, models.CaseRecord{CaseNumber: 1, SubjectID: "u3"}))
	assert.ErrorIs(err, models.ErrDuplicateCase)

	cfg, err = s.UpdateGuildConfig(ctx, "g1", store.Pull(models.ListMutes, store.CaseMatch{SubjectID: "u1", ExpiresAt: 100}))
	require.NoError(t, err)
	require.Len(t, cfg.Mutes, 1)
	assert.Equal("u2", cfg.Mutes[0].SubjectID)
	assert.Equal("r1", cfg.MuteRoleID)
}

func TestMongoStoreSetMembership(t *testing.T) {
	assert := assert.New(t)
	s := testStore(t)
	ctx := context.Background()

	cfg, err := s.UpdateGuildConfig(ctx, "g1",
		store.AddToSet(models.FieldWhitelistedGuilds, "g2"),
		store.AddToSet(models.FieldIgnoredChannels+"."+models.DetectorFilter, "c1"),
		store.Set(models.FieldCommandLevels+".warn add", 2),
	)
	require.NoError(t, err)
	assert.True(cfg.GuildWhitelisted("g2"))
	assert.True(cfg.ChannelIgnored(models.DetectorFilter, "c1"))
	assert.Equal(2, cfg.CommandLevels["warn add"])

	cfg, err = s.UpdateGuildConfig(ctx, "g1", store.RemoveFromSet(models.FieldWhitelistedGuilds, "g2"))
	require.NoError(t, err)
	assert.False(cfg.GuildWhitelisted("g2"))

	_, err = s.UpdateGuildConfig(ctx, "g1", store.Set(models.FieldPrefix, 5))
	assert.Error(err)
}
