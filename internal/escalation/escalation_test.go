package escalation

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbot/rainbot/internal/models"
)

func hour() *int64 {
	v := int64(3600)
	return &v
}

var thresholds = []models.WarnPunishment{
	{WarnNumber: 5, Punishment: models.ActionBan},
	{WarnNumber: 3, Punishment: models.ActionMute, DurationSeconds: hour()},
}

func TestDecideExactMatch(t *testing.T) {
	assert := assert.New(t)

	d := Decide(3, thresholds)
	require.NotNil(t, d.PunishNow)
	assert.Nil(d.Upcoming)
	assert.Equal(models.ActionMute, d.PunishNow.Action)
	require.NotNil(t, d.PunishNow.Duration())
	assert.Equal(time.Hour, *d.PunishNow.Duration())
	assert.Equal(3, *d.PunishNow.WarnThreshold)

	d = Decide(5, thresholds)
	require.NotNil(t, d.PunishNow)
	assert.Equal(models.ActionBan, d.PunishNow.Action)
	assert.Nil(d.PunishNow.Duration())
}

func TestDecideUpcoming(t *testing.T) {
	assert := assert.New(t)

	d := Decide(4, thresholds)
	assert.Nil(d.PunishNow)
	require.NotNil(t, d.Upcoming)
	assert.Equal(5, d.Upcoming.AtCount)
	assert.Equal(models.ActionBan, d.Upcoming.Action)

	d = Decide(1, thresholds)
	require.NotNil(t, d.Upcoming)
	assert.Equal(3, d.Upcoming.AtCount)
	assert.Equal("On warning 3 you will receive a mute for 1h0m0s.", d.Upcoming.Describe())

	d = Decide(6, thresholds)
	assert.Nil(d.PunishNow)
	assert.Nil(d.Upcoming)
}

func TestDecideDuplicateThresholds(t *testing.T) {
	specs := []models.WarnPunishment{
		{WarnNumber: 2, Punishment: models.ActionKick},
		{WarnNumber: 2, Punishment: models.ActionBan},
	}
	d := Decide(2, specs)
	require.NotNil(t, d.PunishNow)
	assert.Equal(t, models.ActionKick, d.PunishNow.Action)
	assert.Equal(t, Decision{}, Decide(3, nil))
}
