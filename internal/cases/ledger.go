// Package cases numbers and records moderation cases.
package cases

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/store"
)

const maxRecordAttempts = 5

// NextCaseNumber is 1 for an empty list, else one past the largest number.
func NextCaseNumber(list []models.CaseRecord) int {
	highest := 0
	for _, r := range list {
		if r.CaseNumber > highest {
			highest = r.CaseNumber
		}
	}
	return highest + 1
}

// Ledger appends case records. Read-modify-write sequences on one guild
// are serialized within the process; across processes the store's
// uniqueness check turns a collision into a retry.
type Ledger struct {
	store store.ConfigStore
	locks *xsync.MapOf[string, *sync.Mutex]
}

func NewLedger(s store.ConfigStore) *Ledger {
	return &Ledger{
		store: s,
		locks: xsync.NewMapOf[string, *sync.Mutex](),
	}
}

// Lock takes the guild's mutex and returns its unlock.
func (l *Ledger) Lock(guildID string) func() {
	mu, _ := l.locks.LoadOrCompute(guildID, func() *sync.Mutex { return &sync.Mutex{} })
	mu.Lock()
	return mu.Unlock
}

// Record assigns the next case number in list and appends rec, along with
// any extra ops in the same update. The caller must not hold the guild
// lock.
func (l *Ledger) Record(ctx context.Context, guildID string, list models.CaseList, rec models.CaseRecord, extra ...store.Op) (models.CaseRecord, *models.GuildConfig, error) {
	unlock := l.Lock(guildID)
	defer unlock()
	return l.RecordLocked(ctx, guildID, list, rec, extra...)
}

// RecordLocked is Record for callers already holding the guild lock.
func (l *Ledger) RecordLocked(ctx context.Context, guildID string, list models.CaseList, rec models.CaseRecord, extra ...store.Op) (models.CaseRecord, *models.GuildConfig, error) {
	for attempt := 0; attempt < maxRecordAttempts; attempt++ {
		cfg, err := l.store.GetGuildConfig(ctx, guildID)
		if err != nil {
			return rec, nil, err
		}
		rec.CaseNumber = NextCaseNumber(cfg.Cases(list))
		ops := append([]store.Op{store.Push(list, rec)}, extra...)
		updated, err := l.store.UpdateGuildConfig(ctx, guildID, ops...)
		if errors.Is(err, models.ErrDuplicateCase) {
			continue
		}
		if err != nil {
			return rec, nil, err
		}
		return rec, updated, nil
	}
	return rec, nil, fmt.Errorf("record %s case in %s: %w", list, guildID, models.ErrDuplicateCase)
}

// Remove deletes one case by number. A case that is already gone yields
// models.ErrStaleReference.
func (l *Ledger) Remove(ctx context.Context, guildID string, list models.CaseList, caseNumber int) (models.CaseRecord, error) {
	unlock := l.Lock(guildID)
	defer unlock()

	cfg, err := l.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return models.CaseRecord{}, err
	}
	rec, ok := Find(cfg.Cases(list), caseNumber)
	if !ok {
		return models.CaseRecord{}, models.ErrStaleReference
	}
	_, err = l.store.UpdateGuildConfig(ctx, guildID, store.Pull(list, store.CaseMatch{CaseNumber: caseNumber}))
	return rec, err
}

// ClearSubject removes every case of a subject from list and returns how
// many there were.
func (l *Ledger) ClearSubject(ctx context.Context, guildID string, list models.CaseList, subjectID string) (int, error) {
	unlock := l.Lock(guildID)
	defer unlock()

	cfg, err := l.store.GetGuildConfig(ctx, guildID)
	if err != nil {
		return 0, err
	}
	n := len(BySubject(cfg.Cases(list), subjectID))
	if n == 0 {
		return 0, nil
	}
	_, err = l.store.UpdateGuildConfig(ctx, guildID, store.Pull(list, store.CaseMatch{SubjectID: subjectID}))
	return n, err
}

func Find(list []models.CaseRecord, caseNumber int) (models.CaseRecord, bool) {
	for _, r := range list {
		if r.CaseNumber == caseNumber {
			return r, true
		}
	}
	return models.CaseRecord{}, false
}

func BySubject(list []models.CaseRecord, subjectID string) []models.CaseRecord {
	var out []models.CaseRecord
	for _, r := range list {
		if r.SubjectID == subjectID {
			out = append(out, r)
		}
	}
	return out
}
