package usage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_TrackAggregatesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "usage.json")
	tracker := NewTracker(path)

	tracker.Track(Call{Model: "gemini-2.5-flash", Provider: "gemini", InputTokens: 10, OutputTokens: 5, Category: "OVERLAY_BLOCKING"})
	tracker.Track(Call{Model: "gemini-2.5-flash", Provider: "gemini", InputTokens: 2, OutputTokens: 3, Category: "OVERLAY_BLOCKING"})
	tracker.Track(Call{Model: "gemini-2.5-pro", Provider: "gemini", InputTokens: 7, Failed: true})

	stats := tracker.Stats()
	assert.Equal(t, TokenCounts{Calls: 3, Failures: 1, Input: 19, Output: 8, Total: 27}, stats.Total)
	assert.Equal(t, int64(20), stats.ByModel["gemini-2.5-flash"].Total)
	assert.Equal(t, int64(2), stats.ByCategory["OVERLAY_BLOCKING"].Calls)
	assert.Equal(t, int64(1), stats.ByCategory["FAILED"].Failures)
	assert.Equal(t, int64(3), stats.ByProvider["gemini"].Calls)

	require.NoError(t, tracker.Save())
	reloaded := NewTracker(path)
	assert.Equal(t, stats, reloaded.Stats())
}

func TestTracker_SaveSkipsWhenClean(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	tracker := NewTracker(path)
	require.NoError(t, tracker.Save())
	_, err := os.Stat(path)
	assert.True(t, os.IsNotExist(err), "clean tracker wrote %s", path)
}

func TestTracker_CorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usage.json")
	require.NoError(t, os.WriteFile(path, []byte("{oops"), 0o644))

	tracker := NewTracker(path)
	assert.Zero(t, tracker.Stats().Total.Calls)
	tracker.Track(Call{Model: "m", InputTokens: 1})
	require.NoError(t, tracker.Save())
	assert.Equal(t, int64(1), NewTracker(path).Stats().Total.Calls)
}

func TestTracker_ConcurrentTrack(t *testing.T) {
	tracker := NewTracker(filepath.Join(t.TempDir(), "usage.json"))
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tracker.Track(Call{Model: "m", InputTokens: 1, OutputTokens: 1})
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(32), tracker.Stats().Total.Total)
}

func TestTracker_NilIsNoop(t *testing.T) {
	var tracker *Tracker
	assert.NotPanics(t, func() { tracker.Track(Call{Model: "m"}) })
}
