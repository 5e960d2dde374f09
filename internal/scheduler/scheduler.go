// Package scheduler applies time-bounded punishments and reverses them when
// they expire, including after a restart.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rainbot/rainbot/internal/cases"
	"github.com/rainbot/rainbot/internal/clock"
	"github.com/rainbot/rainbot/internal/metrics"
	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/platform"
	"github.com/rainbot/rainbot/internal/store"
)

var (
	ErrNotReady          = errors.New("scheduler has not rehydrated yet")
	ErrAlreadyRehydrated = errors.New("scheduler already rehydrated")
)

const (
	reversalTimeout = 30 * time.Second
	retryDelay      = time.Minute
	loadConcurrency = 8
)

type Kind string

const (
	KindMute Kind = "mute"
	KindBan  Kind = "ban"
)

// List is where a time-bounded punishment of this kind is persisted.
func (k Kind) List() models.CaseList {
	if k == KindBan {
		return models.ListTempbans
	}
	return models.ListMutes
}

// PermanentList is where an open-ended punishment of this kind is recorded.
func (k Kind) PermanentList() models.CaseList {
	if k == KindBan {
		return models.ListBans
	}
	return models.ListMutes
}

func kindOf(list models.CaseList) Kind {
	if list == models.ListTempbans || list == models.ListBans {
		return KindBan
	}
	return KindMute
}

type Request struct {
	GuildID   string
	SubjectID string
	ActorID   string
	Reason    string
	Kind      Kind
	// Duration nil means permanent.
	Duration  *time.Duration
	PruneDays int
}

// Pending is an armed or persisted reversal.
type Pending struct {
	GuildID    string
	SubjectID  string
	Kind       Kind
	CaseNumber int
	ExpiresAt  time.Time
	Remaining  time.Duration
}

type timerKey struct {
	guildID    string
	list       models.CaseList
	caseNumber int
}

type armed struct {
	timer clock.Timer
}

type Scheduler struct {
	store  store.ConfigStore
	exec   platform.ActionExecutor
	clock  clock.Clock
	ledger *cases.Ledger
	logger *zap.SugaredLogger

	mu      sync.Mutex
	timers  map[timerKey]*armed
	ready   bool
	stopped bool
}

func New(st store.ConfigStore, exec platform.ActionExecutor, clk clock.Clock, ledger *cases.Ledger, logger *zap.SugaredLogger) *Scheduler {
	return &Scheduler{
		store:  st,
		exec:   exec,
		clock:  clk,
		ledger: ledger,
		logger: logger,
		timers: make(map[timerKey]*armed),
	}
}

// Schedule applies the punishment, records the case and arms its reversal
// when Duration is set. A platform refusal persists nothing; a subject that
// is already gone still gets its case recorded. If the case cannot be
// recorded the punishment is lifted again.
func (s *Scheduler) Schedule(ctx context.Context, req Request) (models.CaseRecord, error) {
	if !s.isReady() {
		return models.CaseRecord{}, ErrNotReady
	}
	if req.Duration != nil && *req.Duration <= 0 {
		return models.CaseRecord{}, fmt.Errorf("punishment duration must be positive")
	}

	if err := s.apply(ctx, req); err != nil {
		return models.CaseRecord{}, err
	}

	now := s.clock.Now()
	rec := models.CaseRecord{
		Date:      now.Unix(),
		SubjectID: req.SubjectID,
		ActorID:   req.ActorID,
		Reason:    req.Reason,
	}
	list := req.Kind.PermanentList()
	if req.Duration != nil {
		list = req.Kind.List()
		rec.ExpiresAt = now.Add(*req.Duration).Unix()
	}

	rec, _, err := s.ledger.Record(ctx, req.GuildID, list, rec)
	if err != nil {
		// with no case on file nothing would ever lift it
		if rerr := s.remove(ctx, req.GuildID, req.SubjectID, req.Kind, "Rolled back: "+req.Reason); rerr != nil && !platform.Ignorable(rerr) {
			s.logger.Errorf("Rolling back %s of %s in %s: %v", req.Kind, req.SubjectID, req.GuildID, rerr)
		}
		return models.CaseRecord{}, fmt.Errorf("record %s: %w", req.Kind, err)
	}
	metrics.PunishmentsApplied.WithLabelValues(string(req.Kind), "scheduler").Inc()

	if req.Duration != nil {
		s.arm(req.GuildID, list, rec, *req.Duration)
	}
	return rec, nil
}

func (s *Scheduler) apply(ctx context.Context, req Request) error {
	var err error
	switch req.Kind {
	case KindMute:
		err = s.exec.ApplyMute(ctx, req.GuildID, req.SubjectID, req.Reason)
	case KindBan:
		err = s.exec.ApplyBan(ctx, req.GuildID, req.SubjectID, req.Reason, req.PruneDays)
	default:
		return fmt.Errorf("unknown punishment kind %q", req.Kind)
	}
	switch {
	case err == nil:
		return nil
	case errors.Is(err, platform.ErrForbidden):
		return fmt.Errorf("%w: %v", models.ErrActionForbidden, err)
	case errors.Is(err, platform.ErrNotFound):
		s.logger.Warnf("Applying %s to %s in %s: %v", req.Kind, req.SubjectID, req.GuildID, err)
		return nil
	}
	return err
}

func (s *Scheduler) remove(ctx context.Context, guildID, subjectID string, kind Kind, reason string) error {
	if kind == KindBan {
		return s.exec.RemoveBan(ctx, guildID, subjectID, reason)
	}
	return s.exec.RemoveMute(ctx, guildID, subjectID, reason)
}

// ReverseNow lifts a punishment early: it drops every persisted entry of
// the subject for kind, disarms their reversals and removes the mute role
// or ban. Calling it when nothing is pending still succeeds.
func (s *Scheduler) ReverseNow(ctx context.Context, guildID, subjectID string, kind Kind, reason string) error {
	unlock := s.ledger.Lock(guildID)
	defer unlock()

	cfg, err := s.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return err
	}

	lists := []models.CaseList{kind.List()}
	if kind.PermanentList() != kind.List() {
		lists = append(lists, kind.PermanentList())
	}
	var ops []store.Op
	for _, list := range lists {
		for _, rec := range cases.BySubject(cfg.Cases(list), subjectID) {
			s.disarm(timerKey{guildID, list, rec.CaseNumber})
		}
		ops = append(ops, store.Pull(list, store.CaseMatch{SubjectID: subjectID}))
	}
	if _, err := s.store.UpdateGuildConfig(ctx, guildID, ops...); err != nil {
		return err
	}

	if err := s.remove(ctx, guildID, subjectID, kind, reason); err != nil {
		if !platform.Ignorable(err) {
			return err
		}
		s.logger.Infof("Reversing %s of %s in %s: %v", kind, subjectID, guildID, err)
		if errors.Is(err, platform.ErrForbidden) {
			return fmt.Errorf("%w: %v", models.ErrActionForbidden, err)
		}
	}
	return nil
}

// LoadError lists the guilds LoadAll could not load.
type LoadError struct {
	Errs map[string]error
}

func (e *LoadError) Error() string {
	ids := e.GuildIDs()
	return fmt.Sprintf("could not load %d guilds, first %s: %v", len(ids), ids[0], e.Errs[ids[0]])
}

func (e *LoadError) GuildIDs() []string {
	ids := make([]string, 0, len(e.Errs))
	for id := range e.Errs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// LoadAll fetches guild configs for rehydration. With no ids it loads every
// stored guild. A guild that fails to load is left out and reported in a
// *LoadError; the others are still returned.
func LoadAll(ctx context.Context, st store.ConfigStore, guildIDs []string) ([]*models.GuildConfig, error) {
	if len(guildIDs) == 0 {
		return st.AllGuildConfigs(ctx)
	}
	loaded := make([]*models.GuildConfig, len(guildIDs))
	var (
		mu     sync.Mutex
		failed = map[string]error{}
	)
	var g errgroup.Group
	g.SetLimit(loadConcurrency)
	for i, id := range guildIDs {
		i, id := i, id
		g.Go(func() error {
			cfg, err := st.GetGuildConfig(ctx, id)
			if err != nil {
				mu.Lock()
				failed[id] = err
				mu.Unlock()
				return nil
			}
			loaded[i] = cfg
			return nil
		})
	}
	g.Wait()

	out := make([]*models.GuildConfig, 0, len(loaded))
	for _, cfg := range loaded {
		if cfg != nil {
			out = append(out, cfg)
		}
	}
	if len(failed) > 0 {
		return out, &LoadError{Errs: failed}
	}
	return out, nil
}

// PendingEntries lists every time-bounded entry in configs, soonest first.
func PendingEntries(configs []*models.GuildConfig, now time.Time) []Pending {
	var out []Pending
	for _, cfg := range configs {
		for _, list := range []models.CaseList{models.ListMutes, models.ListTempbans} {
			for _, rec := range cfg.Cases(list) {
				if !rec.HasExpiry() {
					continue
				}
				expires := time.Unix(rec.ExpiresAt, 0)
				remaining := expires.Sub(now)
				if remaining < 0 {
					remaining = 0
				}
				out = append(out, Pending{
					GuildID:    cfg.GuildID,
					SubjectID:  rec.SubjectID,
					Kind:       kindOf(list),
					CaseNumber: rec.CaseNumber,
					ExpiresAt:  expires,
					Remaining:  remaining,
				})
			}
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].ExpiresAt.Before(out[j].ExpiresAt) })
	return out
}

// Rehydrate arms a reversal for every persisted time-bounded entry. Entries
// already past their expiry fire on the next clock tick. It runs once;
// Schedule is refused until it has.
func (s *Scheduler) Rehydrate(ctx context.Context, configs []*models.GuildConfig) ([]Pending, error) {
	s.mu.Lock()
	if s.ready {
		s.mu.Unlock()
		return nil, ErrAlreadyRehydrated
	}
	s.ready = true
	s.mu.Unlock()

	pending := s.adopt(configs)
	s.logger.Infof("Rehydrated %d pending punishments across %d guilds", len(pending), len(configs))
	return pending, nil
}

// Recover loads guildIDs and rehydrates from them. Guilds that fail to load
// do not hold up the rest: the scheduler becomes ready without them and
// keeps retrying them every retryDelay until they load or it is stopped.
// The returned error is a *LoadError in that case.
func (s *Scheduler) Recover(ctx context.Context, guildIDs []string) ([]Pending, error) {
	configs, err := LoadAll(ctx, s.store, guildIDs)
	var loadErr *LoadError
	if err != nil && !errors.As(err, &loadErr) {
		return nil, err
	}
	pending, rerr := s.Rehydrate(ctx, configs)
	if rerr != nil {
		return nil, rerr
	}
	if loadErr != nil {
		s.logger.Errorf("Rehydrating without %d guilds, retrying in %s: %v", len(loadErr.Errs), retryDelay, loadErr)
		s.retryLoad(loadErr.GuildIDs())
		return pending, loadErr
	}
	return pending, nil
}

// Ready reports whether Rehydrate has run and Stop has not.
func (s *Scheduler) Ready() bool {
	return s.isReady()
}

// adopt arms the pending entries of configs. Arming is keyed by case, so
// adopting a guild twice only re-arms its timers.
func (s *Scheduler) adopt(configs []*models.GuildConfig) []Pending {
	pending := PendingEntries(configs, s.clock.Now())
	for _, p := range pending {
		rec := models.CaseRecord{CaseNumber: p.CaseNumber, SubjectID: p.SubjectID, ExpiresAt: p.ExpiresAt.Unix()}
		s.arm(p.GuildID, p.Kind.List(), rec, p.Remaining)
		metrics.RehydratedEntries.Inc()
	}
	return pending
}

func (s *Scheduler) retryLoad(guildIDs []string) {
	s.clock.AfterFunc(retryDelay, func() {
		if !s.isReady() {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), reversalTimeout)
		defer cancel()

		configs, err := LoadAll(ctx, s.store, guildIDs)
		if pending := s.adopt(configs); len(configs) > 0 {
			s.logger.Infof("Rehydrated %d pending punishments across %d late guilds", len(pending), len(configs))
		}
		var loadErr *LoadError
		if errors.As(err, &loadErr) {
			s.logger.Warnf("Still cannot load %d guilds: %v", len(loadErr.Errs), loadErr)
			s.retryLoad(loadErr.GuildIDs())
		}
	})
}

// Pending lists the reversals currently armed.
func (s *Scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.timers)
}

// Stop disarms every reversal. Persisted entries are picked up again by the
// next Rehydrate.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopped = true
	for k, a := range s.timers {
		a.timer.Stop()
		delete(s.timers, k)
	}
	metrics.PendingReversals.Set(0)
}

func (s *Scheduler) isReady() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ready && !s.stopped
}

func (s *Scheduler) arm(guildID string, list models.CaseList, rec models.CaseRecord, delay time.Duration) {
	key := timerKey{guildID, list, rec.CaseNumber}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	if old, ok := s.timers[key]; ok {
		old.timer.Stop()
	}
	a := &armed{}
	a.timer = s.clock.AfterFunc(delay, func() { s.fire(a, guildID, list, rec) })
	s.timers[key] = a
	metrics.PendingReversals.Set(float64(len(s.timers)))
}

func (s *Scheduler) disarm(key timerKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.timers[key]; ok {
		a.timer.Stop()
		delete(s.timers, key)
		metrics.PendingReversals.Set(float64(len(s.timers)))
	}
}

// fire is the deferred reversal. It only lifts the punishment if the entry
// is still persisted and no other entry keeps the subject punished; the
// entry is then pulled, which is a no-op when it is already gone.
func (s *Scheduler) fire(a *armed, guildID string, list models.CaseList, rec models.CaseRecord) {
	key := timerKey{guildID, list, rec.CaseNumber}
	kind := kindOf(list)
	defer func() {
		if r := recover(); r != nil {
			s.logger.Errorf("Reversal of %s case %d in %s panicked: %v", list, rec.CaseNumber, guildID, r)
		}
	}()

	s.mu.Lock()
	if s.timers[key] == a {
		delete(s.timers, key)
	}
	metrics.PendingReversals.Set(float64(len(s.timers)))
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), reversalTimeout)
	defer cancel()

	unlock := s.ledger.Lock(guildID)
	defer unlock()

	cfg, err := s.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		s.logger.Errorf("Loading %s for reversal of %s case %d: %v", guildID, list, rec.CaseNumber, err)
		s.retry(guildID, list, rec)
		return
	}

	current, ok := cases.Find(cfg.Cases(list), rec.CaseNumber)
	if !ok || current.SubjectID != rec.SubjectID || current.ExpiresAt != rec.ExpiresAt {
		metrics.ReversalsFired.WithLabelValues(string(kind), "stale").Inc()
		s.logger.Debugf("%s case %d in %s already resolved", list, rec.CaseNumber, guildID)
		return
	}

	if stillPunished(cfg, kind, current) {
		metrics.ReversalsFired.WithLabelValues(string(kind), "superseded").Inc()
	} else if err := s.remove(ctx, guildID, rec.SubjectID, kind, "Auto"); err != nil {
		if !platform.Ignorable(err) {
			s.logger.Errorf("Reversing %s of %s in %s: %v", kind, rec.SubjectID, guildID, err)
			s.retry(guildID, list, rec)
			return
		}
		s.logger.Infof("Reversing %s of %s in %s: %v", kind, rec.SubjectID, guildID, err)
		metrics.ReversalsFired.WithLabelValues(string(kind), "gone").Inc()
	} else {
		metrics.ReversalsFired.WithLabelValues(string(kind), "reversed").Inc()
	}

	if _, err := s.store.UpdateGuildConfig(ctx, guildID, store.Pull(list, store.CaseMatch{CaseNumber: rec.CaseNumber})); err != nil {
		s.logger.Errorf("Dropping %s case %d in %s: %v", list, rec.CaseNumber, guildID, err)
	}
}

// stillPunished reports whether another entry keeps the subject punished
// after rec expires: a permanent one, or one that expires later.
func stillPunished(cfg *models.GuildConfig, kind Kind, rec models.CaseRecord) bool {
	lists := []models.CaseList{kind.List()}
	if kind.PermanentList() != kind.List() {
		lists = append(lists, kind.PermanentList())
	}
	for _, list := range lists {
		for _, other := range cases.BySubject(cfg.Cases(list), rec.SubjectID) {
			if list == kind.List() && other.CaseNumber == rec.CaseNumber {
				continue
			}
			if !other.HasExpiry() || other.ExpiresAt > rec.ExpiresAt {
				return true
			}
		}
	}
	return false
}

func (s *Scheduler) retry(guildID string, list models.CaseList, rec models.CaseRecord) {
	s.arm(guildID, list, rec, retryDelay)
}
