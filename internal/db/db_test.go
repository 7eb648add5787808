package db

import (
	"compress/gzip"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/occupancy.report/internal/counting"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := NewDB(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create database: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db := newTestDB(t)

	latest, err := LatestMigrationVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), latest)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.False(t, dirty)
	assert.Equal(t, latest, version)

	capacity, err := db.MaxCapacity()
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxCapacity, capacity)
}

func TestMigrateDownAndUp(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	// Without the settings table the default capacity is not readable.
	_, err = db.MaxCapacity()
	assert.Error(t, err)

	require.NoError(t, db.MigrateUp())
	version, _, err = db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	require.NoError(t, db.SetMaxCapacity(42))
	require.NoError(t, db.Close())

	db, err = NewDB(path)
	require.NoError(t, err)
	defer db.Close()
	capacity, err := db.MaxCapacity()
	require.NoError(t, err)
	assert.Equal(t, 42, capacity)
}

func TestSetMaxCapacity(t *testing.T) {
	db := newTestDB(t)

	require.NoError(t, db.SetMaxCapacity(250))
	capacity, err := db.MaxCapacity()
	require.NoError(t, err)
	assert.Equal(t, 250, capacity)

	err = db.SetMaxCapacity(0)
	assert.True(t, errors.Is(err, ErrInvalidCapacity))

	capacity, err = db.MaxCapacity()
	require.NoError(t, err)
	assert.Equal(t, 250, capacity)
}

func TestRecordCountEvent(t *testing.T) {
	db := newTestDB(t)
	base := time.Date(2026, 3, 14, 9, 15, 0, 0, time.UTC)

	line, err := db.RecordCountEvent(counting.Event{Type: counting.EventEntry, VehicleID: 3, Count: 1}, base)
	require.NoError(t, err)
	assert.Len(t, line.EventID, 36)
	assert.Nil(t, line.Size)

	persp, err := db.RecordCountEvent(counting.Event{
		Type: counting.EventExit, VehicleID: 4, Count: 0, Size: 1500, SizeChangePct: -75,
	}, base.Add(time.Minute))
	require.NoError(t, err)
	assert.NotEqual(t, line.EventID, persp.EventID)

	events, err := db.RecentCountEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, persp, events[0])
	assert.Equal(t, line, events[1])
	require.NotNil(t, events[0].Size)
	assert.Equal(t, 1500, *events[0].Size)
	assert.Equal(t, -75.0, *events[0].SizeChangePct)
	assert.Equal(t, base.Add(time.Minute), events[0].Time())

	events, err = db.RecentCountEvents(1)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestRecentCountEvents_Empty(t *testing.T) {
	db := newTestDB(t)
	events, err := db.RecentCountEvents(100)
	require.NoError(t, err)
	assert.NotNil(t, events)
	assert.Empty(t, events)
}

func seedEvents(t *testing.T, db *DB, base time.Time) {
	t.Helper()
	seq := []struct {
		offset time.Duration
		typ    counting.EventType
		count  int
	}{
		{-2 * time.Hour, counting.EventEntry, 1}, // previous day
		{10 * time.Minute, counting.EventEntry, 2},
		{20 * time.Minute, counting.EventEntry, 3},
		{70 * time.Minute, counting.EventExit, 2},
		{80 * time.Minute, counting.EventEntry, 3},
		{3 * time.Hour, counting.EventExit, 2},
	}
	for i, s := range seq {
		_, err := db.RecordCountEvent(counting.Event{Type: s.typ, VehicleID: i, Count: s.count}, base.Add(s.offset))
		require.NoError(t, err)
	}
}

func TestCountsForDay(t *testing.T) {
	db := newTestDB(t)
	midnight := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	seedEvents(t, db, midnight)

	counts, err := db.CountsForDay(midnight.Add(12 * time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DayCounts{Entries: 3, Exits: 2}, counts)

	counts, err = db.CountsForDay(midnight.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, DayCounts{Entries: 1, Exits: 0}, counts)

	counts, err = db.CountsForDay(midnight.AddDate(0, 0, 5))
	require.NoError(t, err)
	assert.Equal(t, DayCounts{}, counts)
}

func TestHourlyCounts(t *testing.T) {
	db := newTestDB(t)
	midnight := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	seedEvents(t, db, midnight)

	hours, err := db.HourlyCounts(midnight)
	require.NoError(t, err)
	assert.Equal(t, []HourlyCount{
		{Hour: midnight.Unix(), Entries: 2, Exits: 0},
		{Hour: midnight.Add(time.Hour).Unix(), Entries: 1, Exits: 1},
		{Hour: midnight.Add(3 * time.Hour).Unix(), Entries: 0, Exits: 1},
	}, hours)
}

func TestOccupancySeries(t *testing.T) {
	db := newTestDB(t)
	midnight := time.Date(2026, 3, 14, 0, 0, 0, 0, time.UTC)
	seedEvents(t, db, midnight)

	points, err := db.OccupancySeries(midnight)
	require.NoError(t, err)
	require.Len(t, points, 5)
	var counts []int
	for _, p := range points {
		counts = append(counts, p.CurrentCount)
	}
	assert.Equal(t, []int{2, 3, 2, 3, 2}, counts)
	assert.Equal(t, midnight.Add(10*time.Minute).Unix(), points[0].CreatedAt)
}

func TestBackupHandler(t *testing.T) {
	db := newTestDB(t)
	_, err := db.RecordCountEvent(counting.Event{Type: counting.EventEntry, Count: 1}, time.Now())
	require.NoError(t, err)

	dir := t.TempDir()
	rec := httptest.NewRecorder()
	db.backupHandler(dir).ServeHTTP(rec, httptest.NewRequest("GET", "/debug/backup", nil))

	require.Equal(t, 200, rec.Code)
	assert.Equal(t, "gzip", rec.Header().Get("Content-Encoding"))

	zr, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Equal(t, "SQLite format 3\x00", string(data[:16]))

	leftovers, err := filepath.Glob(filepath.Join(dir, "backup-*.db"))
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBackupHandler_NameIsSanitised(t *testing.T) {
	db := newTestDB(t)
	dir := t.TempDir()

	rec := httptest.NewRecorder()
	db.backupHandler(dir).ServeHTTP(rec, httptest.NewRequest("GET", "/debug/backup?name=../../etc/passwd", nil))

	require.Equal(t, 200, rec.Code)
	disposition := rec.Header().Get("Content-Disposition")
	assert.Contains(t, disposition, "backup-etc_passwd-")
	assert.NotContains(t, disposition, "/")
}
