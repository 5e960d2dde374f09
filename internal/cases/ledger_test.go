package cases

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rainbot/rainbot/internal/models"
	"github.com/rainbot/rainbot/internal/store"
)

func TestNextCaseNumber(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(1, NextCaseNumber(nil))
	assert.Equal(8, NextCaseNumber([]models.CaseRecord{{CaseNumber: 3}, {CaseNumber: 7}, {CaseNumber: 5}}))
}

func TestRecordIsIncreasingPerList(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	for i := 1; i <= 3; i++ {
		rec, _, err := l.Record(ctx, "g", models.ListWarns, models.CaseRecord{SubjectID: "u"})
		require.NoError(t, err)
		assert.Equal(i, rec.CaseNumber)
	}
	rec, _, err := l.Record(ctx, "g", models.ListNotes, models.CaseRecord{SubjectID: "u"})
	require.NoError(t, err)
	assert.Equal(1, rec.CaseNumber)

	rec, _, err = l.Record(ctx, "other", models.ListWarns, models.CaseRecord{SubjectID: "u"})
	require.NoError(t, err)
	assert.Equal(1, rec.CaseNumber)
}

func TestConcurrentRecordsGetDistinctNumbers(t *testing.T) {
	ctx := context.Background()
	s := store.NewMemStore()
	l := NewLedger(s)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, err := l.Record(ctx, "g", models.ListWarns, models.CaseRecord{SubjectID: fmt.Sprint(i)})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	cfg, err := s.GetGuildConfig(ctx, "g")
	require.NoError(t, err)
	require.Len(t, cfg.Warns, 20)
	for i, r := range cfg.Warns {
		assert.Equal(t, i+1, r.CaseNumber)
	}
}

func TestRemoveAndStaleReference(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	for i := 0; i < 3; i++ {
		_, _, err := l.Record(ctx, "g", models.ListWarns, models.CaseRecord{SubjectID: "u"})
		require.NoError(t, err)
	}
	rec, err := l.Remove(ctx, "g", models.ListWarns, 3)
	require.NoError(t, err)
	assert.Equal(3, rec.CaseNumber)

	_, err = l.Remove(ctx, "g", models.ListWarns, 3)
	assert.ErrorIs(err, models.ErrStaleReference)

	// numbering continues from the largest remaining case
	next, _, err := l.Record(ctx, "g", models.ListWarns, models.CaseRecord{SubjectID: "u"})
	require.NoError(t, err)
	assert.Equal(3, next.CaseNumber)
}

func TestClearSubject(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	l := NewLedger(store.NewMemStore())

	for _, subject := range []string{"a", "b", "a"} {
		_, _, err := l.Record(ctx, "g", models.ListWarns, models.CaseRecord{SubjectID: subject})
		require.NoError(t, err)
	}
	n, err := l.ClearSubject(ctx, "g", models.ListWarns, "a")
	require.NoError(t, err)
	assert.Equal(2, n)

	n, err = l.ClearSubject(ctx, "g", models.ListWarns, "a")
	require.NoError(t, err)
	assert.Equal(0, n)
}
