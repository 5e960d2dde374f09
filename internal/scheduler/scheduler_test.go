package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/rainbot/rainbot/internal/cases"
	"github.com/rainbot/rainbot/internal/clock"
	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/platform"
	"github.com/rainbot/rainbot/internal/store"
)

type fixture struct {
	store *store.MemStore
	exec  *platform.Recorder
	clock *clock.Manual
}

func newFixture() *fixture {
	return &fixture{
		store: store.NewMemStore(),
		exec:  platform.NewRecorder(),
		clock: clock.NewManual(time.Unix(1_700_000_000, 0)),
	}
}

func (f *fixture) scheduler(t *testing.T) *Scheduler {
	t.Helper()
	s := New(f.store, f.exec, f.clock, cases.NewLedger(f.store), zap.NewNop().Sugar())
	t.Cleanup(s.Stop)
	return s
}

// ready returns a scheduler that has rehydrated from whatever is persisted.
func (f *fixture) ready(t *testing.T) (*Scheduler, []Pending) {
	t.Helper()
	s := f.scheduler(t)
	configs, err := LoadAll(context.Background(), f.store, nil)
	require.NoError(t, err)
	pending, err := s.Rehydrate(context.Background(), configs)
	require.NoError(t, err)
	return s, pending
}

func dur(d time.Duration) *time.Duration { return &d }

// flakyStore fails reads of broken guilds, and every push while rejectPush
// is set.
type flakyStore struct {
	*store.MemStore

	mu         sync.Mutex
	broken     map[string]bool
	rejectPush bool
}

func (f *flakyStore) GetGuildConfig(ctx context.Context, guildID string) (*models.GuildConfig, error) {
	f.mu.Lock()
	broken := f.broken[guildID]
	f.mu.Unlock()
	if broken {
		return nil, errors.New("corrupt document")
	}
	return f.MemStore.GetGuildConfig(ctx, guildID)
}

func (f *flakyStore) UpdateGuildConfig(ctx context.Context, guildID string, ops ...store.Op) (*models.GuildConfig, error) {
	f.mu.Lock()
	reject := f.rejectPush
	f.mu.Unlock()
	for _, op := range ops {
		if reject && op.Kind == store.OpPush {
			return nil, errors.New("write rejected")
		}
	}
	return f.MemStore.UpdateGuildConfig(ctx, guildID, ops...)
}

func (f *flakyStore) repair(guildID string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.broken, guildID)
}

func (f *fixture) schedulerOn(t *testing.T, st store.ConfigStore) *Scheduler {
	t.Helper()
	s := New(st, f.exec, f.clock, cases.NewLedger(st), zap.NewNop().Sugar())
	t.Cleanup(s.Stop)
	return s
}

func TestScheduleRequiresRehydrate(t *testing.T) {
	f := newFixture()
	s := f.scheduler(t)
	_, err := s.Schedule(context.Background(), Request{GuildID: "g", SubjectID: "u", Kind: KindMute, Duration: dur(time.Minute)})
	assert.ErrorIs(t, err, ErrNotReady)

	_, err = s.Rehydrate(context.Background(), nil)
	require.NoError(t, err)
	_, err = s.Rehydrate(context.Background(), nil)
	assert.ErrorIs(t, err, ErrAlreadyRehydrated)
}

func TestScheduleAndFire(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	s, _ := f.ready(t)

	rec, err := s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", ActorID: "m", Reason: "spam", Kind: KindMute, Duration: dur(time.Hour)})
	require.NoError(t, err)
	assert.Equal(1, rec.CaseNumber)
	assert.Equal(f.clock.Now().Add(time.Hour).Unix(), rec.ExpiresAt)
	assert.Len(f.exec.CallsTo(platform.OpApplyMute), 1)
	assert.Equal(1, s.Pending())

	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Len(cfg.Mutes, 1)

	f.clock.Advance(59 * time.Minute)
	assert.Empty(f.exec.CallsTo(platform.OpRemoveMute))

	f.clock.Advance(time.Minute)
	assert.Len(f.exec.CallsTo(platform.OpRemoveMute), 1)
	assert.Equal(0, s.Pending())

	cfg, err = f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Empty(cfg.Mutes)
}

func TestRestartRoundTrip(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	first, _ := f.ready(t)

	_, err := first.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindMute, Duration: dur(3600 * time.Second)})
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	first.Stop()

	second, pending := f.ready(t)
	require.Len(t, pending, 1)
	assert.Equal("u", pending[0].SubjectID)
	assert.Equal(KindMute, pending[0].Kind)
	assert.LessOrEqual(pending[0].Remaining, 3600*time.Second)
	assert.Greater(pending[0].Remaining, time.Duration(0))
	assert.Equal(1, second.Pending())

	f.clock.Advance(3600 * time.Second)
	assert.Len(f.exec.CallsTo(platform.OpRemoveMute), 1)

	f.clock.Advance(24 * time.Hour)
	assert.Len(f.exec.CallsTo(platform.OpRemoveMute), 1)
}

func TestRehydrateOverdueFiresImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	past := f.clock.Now().Add(-time.Hour).Unix()
	_, err := f.store.UpdateGuildConfig(ctx, "g",
		store.Push(models.ListTempbans, models.CaseRecord{CaseNumber: 4, SubjectID: "u", ExpiresAt: past}),
		store.Push(models.ListMutes, models.CaseRecord{CaseNumber: 1, SubjectID: "perm"}),
	)
	require.NoError(t, err)

	s, pending := f.ready(t)
	require.Len(t, pending, 1)
	assert.Equal(t, time.Duration(0), pending[0].Remaining)
	assert.Equal(t, KindBan, pending[0].Kind)

	f.clock.Advance(0)
	require.Len(t, f.exec.CallsTo(platform.OpRemoveBan), 1)
	assert.Equal(t, "u", f.exec.CallsTo(platform.OpRemoveBan)[0].SubjectID)
	assert.Equal(t, 0, s.Pending())

	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, cfg.Tempbans)
	assert.Len(t, cfg.Mutes, 1)
}

func TestReverseNowIsIdempotent(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	s, _ := f.ready(t)

	_, err := s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindMute, Duration: dur(time.Hour)})
	require.NoError(t, err)

	assert.NoError(s.ReverseNow(ctx, "g", "u", KindMute, "appeal"))
	assert.NoError(s.ReverseNow(ctx, "g", "u", KindMute, "appeal"))
	assert.Equal(0, s.Pending())

	f.clock.Advance(2 * time.Hour)
	// two manual reversals, nothing from the disarmed timer
	assert.Len(f.exec.CallsTo(platform.OpRemoveMute), 2)

	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Empty(cfg.Mutes)
}

func TestStaleReversalIsNoop(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s, _ := f.ready(t)

	_, err := s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindBan, Duration: dur(time.Hour)})
	require.NoError(t, err)

	// entry removed behind the scheduler's back, e.g. by another process
	_, err = f.store.UpdateGuildConfig(ctx, "g", store.Pull(models.ListTempbans, store.CaseMatch{SubjectID: "u"}))
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Empty(t, f.exec.CallsTo(platform.OpRemoveBan))
}

func TestLaterMuteKeepsSubjectMuted(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	s, _ := f.ready(t)

	_, err := s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindMute, Duration: dur(time.Hour)})
	require.NoError(t, err)
	_, err = s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindMute, Duration: dur(3 * time.Hour)})
	require.NoError(t, err)

	f.clock.Advance(time.Hour)
	assert.Empty(f.exec.CallsTo(platform.OpRemoveMute))
	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Len(cfg.Mutes, 1)

	f.clock.Advance(2 * time.Hour)
	assert.Len(f.exec.CallsTo(platform.OpRemoveMute), 1)
}

func TestForbiddenPersistsNothing(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s, _ := f.ready(t)
	f.exec.FailWith(platform.OpApplyBan, platform.ErrForbidden)

	_, err := s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindBan, Duration: dur(time.Hour)})
	assert.ErrorIs(t, err, models.ErrActionForbidden)
	assert.Equal(t, 0, s.Pending())

	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, cfg.Tempbans)
}

func TestNotFoundStillRecordsAndReversalIgnoresNotFound(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	s, _ := f.ready(t)
	f.exec.FailWith(platform.OpApplyMute, platform.ErrNotFound)
	f.exec.FailWith(platform.OpRemoveMute, platform.ErrNotFound)

	_, err := s.Schedule(ctx, Request{GuildID: "g", SubjectID: "gone", Kind: KindMute, Duration: dur(time.Minute)})
	require.NoError(t, err)

	f.clock.Advance(time.Minute)
	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Empty(t, cfg.Mutes)
	assert.Equal(t, 0, s.Pending())
}

func TestPermanentPunishmentsAreNotArmed(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	s, _ := f.ready(t)

	_, err := s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindBan, PruneDays: 1})
	require.NoError(t, err)
	_, err = s.Schedule(ctx, Request{GuildID: "g", SubjectID: "v", Kind: KindMute})
	require.NoError(t, err)
	assert.Equal(0, s.Pending())
	assert.Equal(1, f.exec.CallsTo(platform.OpApplyBan)[0].PruneDays)

	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Len(cfg.Bans, 1)
	assert.Len(cfg.Mutes, 1)
	assert.False(cfg.Mutes[0].HasExpiry())

	require.NoError(t, s.ReverseNow(ctx, "g", "u", KindBan, "appeal"))
	cfg, err = f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Empty(cfg.Bans)
}

func TestLoadAllByIDs(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	configs, err := LoadAll(ctx, f.store, []string{"a", "b", "c"})
	require.NoError(t, err)
	require.Len(t, configs, 3)
	assert.Equal(t, "b", configs[1].GuildID)
}

func TestLoadAllSkipsBrokenGuilds(t *testing.T) {
	ctx := context.Background()
	f := newFixture()
	fs := &flakyStore{MemStore: f.store, broken: map[string]bool{"b": true}}

	configs, err := LoadAll(ctx, fs, []string{"a", "b", "c"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal(t, []string{"b"}, loadErr.GuildIDs())
	require.Len(t, configs, 2)
	assert.Equal(t, "a", configs[0].GuildID)
	assert.Equal(t, "c", configs[1].GuildID)
}

func TestRecoverIsolatesBrokenGuild(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()

	first, _ := f.ready(t)
	_, err := first.Schedule(ctx, Request{GuildID: "good", SubjectID: "u", Kind: KindMute, Duration: dur(time.Hour)})
	require.NoError(t, err)
	_, err = first.Schedule(ctx, Request{GuildID: "bad", SubjectID: "v", Kind: KindMute, Duration: dur(3 * time.Hour)})
	require.NoError(t, err)
	first.Stop()

	fs := &flakyStore{MemStore: f.store, broken: map[string]bool{"bad": true}}
	s := f.schedulerOn(t, fs)

	pending, err := s.Recover(ctx, []string{"good", "bad"})
	var loadErr *LoadError
	require.ErrorAs(t, err, &loadErr)
	assert.Equal([]string{"bad"}, loadErr.GuildIDs())
	require.Len(t, pending, 1)
	assert.Equal("good", pending[0].GuildID)

	assert.True(s.Ready())
	_, err = s.Schedule(ctx, Request{GuildID: "good", SubjectID: "w", Kind: KindBan})
	require.NoError(t, err)

	// the first retry still fails and schedules another
	f.clock.Advance(retryDelay)
	assert.Equal(1, s.Pending())

	fs.repair("bad")
	f.clock.Advance(retryDelay)
	assert.Equal(2, s.Pending())

	f.clock.Advance(3 * time.Hour)
	assert.Len(f.exec.CallsTo(platform.OpRemoveMute), 2)
	assert.Equal(0, s.Pending())
}

func TestScheduleRollsBackWhenRecordFails(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	f := newFixture()
	fs := &flakyStore{MemStore: f.store, rejectPush: true}
	s := f.schedulerOn(t, fs)
	_, err := s.Rehydrate(ctx, nil)
	require.NoError(t, err)

	_, err = s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Reason: "spam", Kind: KindMute, Duration: dur(time.Hour)})
	require.Error(t, err)
	assert.Len(f.exec.CallsTo(platform.OpApplyMute), 1)
	assert.Len(f.exec.CallsTo(platform.OpRemoveMute), 1)
	assert.Equal(0, s.Pending())

	_, err = s.Schedule(ctx, Request{GuildID: "g", SubjectID: "u", Kind: KindBan})
	require.Error(t, err)
	assert.Len(f.exec.CallsTo(platform.OpRemoveBan), 1)

	cfg, err := f.store.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	assert.Empty(cfg.Mutes)
	assert.Empty(cfg.Bans)
}
