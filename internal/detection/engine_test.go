package detection

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/permissions"
	"github.com/rainbot/rainbot/internal/platform"
)

type fakeInvites map[string]string

func (f fakeInvites) InviteGuild(ctx context.Context, code string) (string, error) {
	g, ok := f[code]
	if !ok {
		return "", platform.ErrNotFound
	}
	return g, nil
}

var epoch = time.Unix(1_700_000_000, 0)

func testEngine() *Engine {
	invites := fakeInvites{"home": "g1", "friend": "g2", "other": "g3"}
	return NewEngine(NewMemWindowStore(), invites, permissions.NewResolver([]string{"owner"}), zap.NewNop().Sugar())
}

func msgAt(id string, offset time.Duration, content string) Message {
	return Message{
		ID:        id,
		GuildID:   "g1",
		ChannelID: "c1",
		Author:    permissions.Actor{UserID: "u1"},
		Content:   content,
		At:        epoch.Add(offset),
	}
}

func TestSpamFiresOnceAtThreshold(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.SpamDetection = 5

	var violations []Verdict
	for i := 0; i < 6; i++ {
		v := e.Evaluate(ctx, msgAt(fmt.Sprint(i), time.Duration(i)*800*time.Millisecond, fmt.Sprint("message ", i)), cfg)
		if v.Violation() {
			violations = append(violations, v)
		}
	}
	require.Len(t, violations, 1)
	assert.Equal(models.DetectorSpamDetection, violations[0].Detector)
	assert.Equal([]string{"0", "1", "2", "3", "4"}, violations[0].DeleteIDs)
}

func TestSpamBelowThresholdAndDecay(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.SpamDetection = 3

	// two messages, then a pause longer than the window, then two more
	offsets := []time.Duration{0, time.Second, 10 * time.Second, 11 * time.Second}
	for i, off := range offsets {
		v := e.Evaluate(ctx, msgAt(fmt.Sprint(i), off, "hey"), cfg)
		assert.False(t, v.Violation(), "message %d", i)
	}
}

func TestRepetitiveMessages(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.RepetitiveMessage = 3

	assert.False(e.Evaluate(ctx, msgAt("1", 0, "buy now"), cfg).Violation())
	assert.False(e.Evaluate(ctx, msgAt("2", 10*time.Second, "something else"), cfg).Violation())
	assert.False(e.Evaluate(ctx, msgAt("3", 20*time.Second, "BUY NOW "), cfg).Violation())
	v := e.Evaluate(ctx, msgAt("4", 30*time.Second, "buy now"), cfg)
	require.True(t, v.Violation())
	assert.Equal(models.DetectorRepetitiveMessage, v.Detector)
	assert.Equal([]string{"1", "3", "4"}, v.DeleteIDs)

	// outside the 60s window the count starts over
	assert.False(e.Evaluate(ctx, msgAt("5", 200*time.Second, "buy now"), cfg).Violation())
}

func TestPipelineOrderAndCountersStillUpdate(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.Filters = []string{"bad"}
	cfg.Detections.MentionLimit = 2
	cfg.Detections.SpamDetection = 3

	m := msgAt("1", 0, "bad bad")
	m.Mentions = []Mention{{UserID: "a"}, {UserID: "b"}}
	v := e.Evaluate(ctx, m, cfg)
	assert.Equal(models.DetectorMentionLimit, v.Detector)
	assert.Equal([]string{"1"}, v.DeleteIDs)

	v = e.Evaluate(ctx, msgAt("2", time.Second, "bad"), cfg)
	assert.Equal(models.DetectorFilter, v.Detector)

	// the two earlier messages were counted even though other rules fired
	v = e.Evaluate(ctx, msgAt("3", 2*time.Second, "ok"), cfg)
	assert.Equal(models.DetectorSpamDetection, v.Detector)
	assert.Equal([]string{"1", "2", "3"}, v.DeleteIDs)
}

func TestInviteFilter(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.BlockInvite = true
	cfg.WhitelistedGuilds = []string{"g2"}

	assert.False(e.Evaluate(ctx, msgAt("1", 0, "discord.gg/home"), cfg).Violation())
	assert.False(e.Evaluate(ctx, msgAt("2", 0, "discord.gg/friend"), cfg).Violation())
	assert.False(e.Evaluate(ctx, msgAt("3", 0, "discord.gg/expired"), cfg).Violation())
	v := e.Evaluate(ctx, msgAt("4", 0, "discord.gg/expired discord.gg/other"), cfg)
	assert.Equal(models.DetectorBlockInvite, v.Detector)
}

func TestEnglishOnly(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.EnglishOnly = true

	assert.False(t, e.Evaluate(ctx, msgAt("1", 0, "hello 👋"), cfg).Violation())
	assert.Equal(t, models.DetectorEnglishOnly, e.Evaluate(ctx, msgAt("2", 0, "hola señor"), cfg).Detector)
}

func TestSkips(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.Filters = []string{"bad"}
	cfg.PermLevels = []models.PermLevel{{RoleID: "staff", Level: permissions.ElevatedLevel}}

	m := msgAt("1", 0, "bad")
	m.Author.IsBot = true
	assert.False(e.Evaluate(ctx, m, cfg).Violation())

	m = msgAt("2", 0, "bad")
	m.Author.RoleIDs = []string{"staff"}
	assert.False(e.Evaluate(ctx, m, cfg).Violation())

	m = msgAt("3", 0, "bad")
	m.Author.UserID = "owner"
	assert.False(e.Evaluate(ctx, m, cfg).Violation())

	cfg.IgnoredChannels[models.DetectorFilter] = []string{"c1"}
	assert.False(e.Evaluate(ctx, msgAt("4", 0, "bad"), cfg).Violation())
}

func TestIgnoredChannelSkipsRecording(t *testing.T) {
	ctx := context.Background()
	e := testEngine()
	cfg := models.DefaultGuildConfig("g1")
	cfg.Detections.SpamDetection = 2
	cfg.IgnoredChannels[models.DetectorSpamDetection] = []string{"c1"}

	assert.False(t, e.Evaluate(ctx, msgAt("1", 0, "a"), cfg).Violation())
	other := msgAt("2", time.Second, "b")
	other.ChannelID = "c2"
	assert.False(t, e.Evaluate(ctx, other, cfg).Violation())
}
