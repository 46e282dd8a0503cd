package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dbvault/internal/schedule"
)

func newSchedule(name string) *schedule.Schedule {
	s := schedule.New(name, "primary", "shop")
	s.OutputDirectory = "/backups"
	s.Weekdays = []time.Weekday{time.Monday, time.Friday}
	next := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	s.NextRun = &next
	// JSON drops the monotonic reading; keep the fixture comparable after a round-trip
	s.CreatedAt = s.CreatedAt.Round(0)
	s.UpdatedAt = s.UpdatedAt.Round(0)
	return s
}

func TestStore_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := New(path)

	input := []*schedule.Schedule{newSchedule("nightly"), newSchedule("weekly")}
	require.NoError(t, st.SaveSchedules(input))

	loaded, err := st.LoadSchedules()
	require.NoError(t, err)
	assert.Equal(t, input, loaded)

	// a fresh store reads the same data from disk
	reloaded, err := New(path).LoadSchedules()
	require.NoError(t, err)
	require.Len(t, reloaded, 2)
	for i := range input {
		assert.Equal(t, input[i].ID, reloaded[i].ID)
		assert.Equal(t, input[i].Weekdays, reloaded[i].Weekdays)
		assert.True(t, input[i].NextRun.Equal(*reloaded[i].NextRun))
	}

	var raw map[string]interface{}
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.EqualValues(t, CurrentVersion, raw["version"])
}

func TestStore_ReturnedCopiesAreIsolated(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state.json"))
	input := []*schedule.Schedule{newSchedule("nightly")}
	require.NoError(t, st.SaveSchedules(input))

	// mutating the caller's slice after save does not leak into the cache
	input[0].Name = "mutated input"

	first, err := st.LoadSchedules()
	require.NoError(t, err)
	first[0].Name = "mutated copy"
	first[0].Weekdays[0] = time.Sunday
	*first[0].NextRun = time.Time{}

	second, err := st.LoadSchedules()
	require.NoError(t, err)
	assert.Equal(t, "nightly", second[0].Name)
	assert.Equal(t, time.Monday, second[0].Weekdays[0])
	assert.False(t, second[0].NextRun.IsZero())
}

func TestStore_MissingFileIsEmpty(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "none", "state.json"))
	schedules, err := st.LoadSchedules()
	require.NoError(t, err)
	assert.Empty(t, schedules)

	history, err := st.History("", 0)
	require.NoError(t, err)
	assert.Empty(t, history)
}

func TestStore_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))

	_, err := New(path).LoadSchedules()
	assert.Error(t, err)
}

func TestStore_UpsertGetDelete(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state.json"))
	sc := newSchedule("nightly")
	require.NoError(t, st.UpsertSchedule(sc))

	byID, err := st.GetSchedule(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, "nightly", byID.Name)

	byName, err := st.GetSchedule("nightly")
	require.NoError(t, err)
	assert.Equal(t, sc.ID, byName.ID)

	sc.RetentionCount = 3
	require.NoError(t, st.UpsertSchedule(sc))
	all, err := st.LoadSchedules()
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, 3, all[0].RetentionCount)

	invalid := sc.Clone()
	invalid.Name = ""
	assert.Error(t, st.UpsertSchedule(invalid))

	require.NoError(t, st.DeleteSchedule(sc.ID))
	_, err = st.GetSchedule(sc.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, st.DeleteSchedule(sc.ID), ErrNotFound)
}

func TestStore_UpdateRunTimesKeepsOtherEdits(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state.json"))
	sc := newSchedule("nightly")
	require.NoError(t, st.UpsertSchedule(sc))

	// an edit lands while a run is in flight
	edited := sc.Clone()
	edited.RetentionCount = 2
	require.NoError(t, st.UpsertSchedule(edited))

	last := time.Date(2024, 3, 1, 2, 5, 0, 0, time.UTC)
	next := last.Add(24 * time.Hour)
	require.NoError(t, st.UpdateRunTimes(sc.ID, &last, &next))

	got, err := st.GetSchedule(sc.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, got.RetentionCount)
	assert.Equal(t, last, *got.LastRun)
	assert.Equal(t, next, *got.NextRun)

	// disabled schedules never carry a next run
	edited.Enabled = false
	require.NoError(t, st.UpsertSchedule(edited))
	require.NoError(t, st.UpdateRunTimes(sc.ID, &last, &next))
	got, err = st.GetSchedule(sc.ID)
	require.NoError(t, err)
	assert.Nil(t, got.NextRun)

	assert.ErrorIs(t, st.UpdateRunTimes("missing", &last, nil), ErrNotFound)
}

func TestStore_HistoryCap(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state.json"))
	sc := newSchedule("nightly")
	other := newSchedule("weekly")
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < MaxHistory+5; i++ {
		owner := sc
		if i%2 == 1 {
			owner = other
		}
		h := schedule.NewHistoryEntry(owner, schedule.OriginScheduled, base.Add(time.Duration(i)*time.Minute))
		h.Message = fmt.Sprintf("run %d", i)
		require.NoError(t, st.AppendHistory(h))
	}

	all, err := st.History("", 0)
	require.NoError(t, err)
	require.Len(t, all, MaxHistory)
	assert.Equal(t, fmt.Sprintf("run %d", MaxHistory+4), all[0].Message)
	assert.Equal(t, "run 5", all[len(all)-1].Message)

	limited, err := st.History(sc.ID, 3)
	require.NoError(t, err)
	require.Len(t, limited, 3)
	for _, h := range limited {
		assert.Equal(t, sc.ID, h.ScheduleID)
	}
}

func TestStore_SeesWritesFromOtherStores(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	st := New(path)
	require.NoError(t, st.SaveSchedules([]*schedule.Schedule{newSchedule("nightly")}))

	// another process rewrites the file
	require.NoError(t, New(path).SaveSchedules(nil))

	fresh, err := st.LoadSchedules()
	require.NoError(t, err)
	assert.Empty(t, fresh)

	st.Invalidate()
	fresh, err = st.LoadSchedules()
	require.NoError(t, err)
	assert.Empty(t, fresh)
}

func TestStore_StaleCacheDoesNotDropOtherWriters(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	daemon := New(path)
	cli := New(path)

	nightly := newSchedule("nightly")
	require.NoError(t, daemon.SaveSchedules([]*schedule.Schedule{nightly}))
	_, err := daemon.History("", 0)
	require.NoError(t, err)

	weekly := newSchedule("weekly")
	require.NoError(t, cli.UpsertSchedule(weekly))
	require.NoError(t, cli.AppendHistory(schedule.NewHistoryEntry(weekly, schedule.OriginManual, time.Now())))

	// the daemon still holds the document from before the cli's writes
	require.NoError(t, daemon.AppendHistory(schedule.NewHistoryEntry(nightly, schedule.OriginScheduled, time.Now())))
	last := time.Date(2024, 3, 1, 2, 0, 0, 0, time.UTC)
	require.NoError(t, daemon.UpdateRunTimes(nightly.ID, &last, nil))

	onDisk := New(path)
	schedules, err := onDisk.LoadSchedules()
	require.NoError(t, err)
	assert.Len(t, schedules, 2)
	history, err := onDisk.History("", 0)
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestStore_ConcurrentStoresOnOneFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.json")
	sc := newSchedule("nightly")
	const writers, perWriter = 4, 10

	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			st := New(path)
			for i := 0; i < perWriter; i++ {
				h := schedule.NewHistoryEntry(sc, schedule.OriginScheduled, time.Now())
				h.Message = fmt.Sprintf("writer %d run %d", w, i)
				errs <- st.AppendHistory(h)
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	history, err := New(path).History("", 0)
	require.NoError(t, err)
	assert.Len(t, history, writers*perWriter)
}

func TestStore_EnabledSchedules(t *testing.T) {
	st := New(filepath.Join(t.TempDir(), "state.json"))
	on := newSchedule("on")
	off := newSchedule("off")
	off.Enabled = false
	require.NoError(t, st.SaveSchedules([]*schedule.Schedule{on, off}))

	enabled, err := st.EnabledSchedules()
	require.NoError(t, err)
	require.Len(t, enabled, 1)
	assert.Equal(t, "on", enabled[0].Name)
}

func TestStore_NoTempFilesLeft(t *testing.T) {
	dir := t.TempDir()
	st := New(filepath.Join(dir, "state.json"))
	for i := 0; i < 3; i++ {
		require.NoError(t, st.SaveSchedules([]*schedule.Schedule{newSchedule("nightly")}))
	}
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name())
	}
	assert.ElementsMatch(t, []string{"state.json", "state.json.lock"}, names)
}

func TestSortByNextRun(t *testing.T) {
	a, b, c := newSchedule("a"), newSchedule("b"), newSchedule("c")
	later := a.NextRun.Add(time.Hour)
	a.NextRun = &later
	c.NextRun = nil

	list := []*schedule.Schedule{c, a, b}
	SortByNextRun(list)
	assert.Equal(t, []string{"b", "a", "c"}, []string{list[0].Name, list[1].Name, list[2].Name})
}
