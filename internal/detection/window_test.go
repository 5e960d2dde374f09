package detection

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testWindowStoreBasics(t *testing.T, s WindowStore) {
	assert := assert.New(t)
	ctx := context.Background()
	start := time.Unix(1_700_000_000, 0)
	window := 5 * time.Second

	live, err := s.Add(ctx, "k", "1", start, window)
	require.NoError(t, err)
	assert.Equal([]string{"1"}, live)

	live, err = s.Add(ctx, "k", "2", start.Add(2*time.Second), window)
	require.NoError(t, err)
	assert.Equal([]string{"1", "2"}, live)

	// exactly one window after the first entry, it has aged out
	live, err = s.Add(ctx, "k", "3", start.Add(5*time.Second), window)
	require.NoError(t, err)
	assert.Equal([]string{"2", "3"}, live)

	live, err = s.Add(ctx, "k", "4", start.Add(20*time.Second), window)
	require.NoError(t, err)
	assert.Equal([]string{"4"}, live)

	_, err = s.Add(ctx, "k", "5", start.Add(21*time.Second), window)
	require.NoError(t, err)
	require.NoError(t, s.Clear(ctx, "k"))
	live, err = s.Add(ctx, "k", "6", start.Add(21*time.Second), window)
	require.NoError(t, err)
	assert.Equal([]string{"6"}, live)
}

func TestMemWindowStoreBasics(t *testing.T) {
	testWindowStoreBasics(t, NewMemWindowStore())
}

func TestMemWindowStoreDropsEmptyKeys(t *testing.T) {
	assert := assert.New(t)
	ctx := context.Background()
	s := NewMemWindowStore()
	start := time.Unix(0, 0)

	for i := 0; i < 10; i++ {
		_, err := s.Add(ctx, fmt.Sprintf("user-%d", i), "m", start.Add(time.Duration(i)*time.Second), 5*time.Second)
		require.NoError(t, err)
	}
	assert.Equal(10, s.Len())

	s.Sweep(start.Add(7 * time.Second))
	// entries added at 0,1,2 have expired
	assert.Equal(7, s.Len())

	s.Sweep(start.Add(time.Minute))
	assert.Equal(0, s.Len())
}

func TestMemWindowStoreKeepsLongerWindows(t *testing.T) {
	ctx := context.Background()
	s := NewMemWindowStore()
	start := time.Unix(0, 0)

	_, err := s.Add(ctx, "long", "a", start, time.Minute)
	require.NoError(t, err)
	_, err = s.Add(ctx, "short", "b", start, time.Second)
	require.NoError(t, err)

	s.Sweep(start.Add(10 * time.Second))
	assert.Equal(t, 1, s.Len())
	live, err := s.Add(ctx, "long", "c", start.Add(10*time.Second), time.Minute)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, live)
}

func TestRedisWindowStoreBasics(t *testing.T) {
	url := os.Getenv("REDIS_TEST_URL")
	if url == "" {
		t.Skip("REDIS_TEST_URL not set")
	}
	s, err := NewRedisWindowStore(url)
	require.NoError(t, err)
	redisWindowPrefix = fmt.Sprintf("test-window/%d/", time.Now().UnixNano())
	testWindowStoreBasics(t, s)
}
