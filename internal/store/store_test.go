package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"kepler-linecount-go/internal/geometry"
	"kepler-linecount-go/internal/models"
)

func openTestStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "linecount.db")
	s, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s, path
}

func crossing(camera string, dir models.Direction, counted bool, at time.Time) models.CrossingEvent {
	return models.CrossingEvent{
		ID:        uuid.NewString(),
		CameraID:  camera,
		TrackID:   1,
		Label:     "person",
		Direction: dir,
		Counted:   counted,
		From:      geometry.Pt(100, 170),
		To:        geometry.Pt(100, 190),
		Occurred:  at,
	}
}

func TestOpenMigrates(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	version, dirty, err := s.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)
	assert.False(t, dirty)
	require.NoError(t, s.Ping(context.Background()))
}

func TestLoadCountersAggregatesEvents(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	events := []models.CrossingEvent{
		crossing("door", models.DirectionIn, true, base),
		crossing("door", models.DirectionIn, true, base.Add(time.Second)),
		crossing("door", models.DirectionOut, true, base.Add(2*time.Second)),
		crossing("door", models.DirectionOut, true, base.Add(3*time.Second)),
		crossing("door", models.DirectionOut, false, base.Add(4*time.Second)),
		crossing("dock", models.DirectionIn, true, base),
	}
	for _, ev := range events {
		require.NoError(t, s.HandleCrossing(ev))
	}

	got, err := s.LoadCounters(ctx, "door")
	require.NoError(t, err)
	assert.Equal(t, models.Counters{CountIn: 2, CountOut: 2, ActualCountOut: 3}, got)

	empty, err := s.LoadCounters(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, models.Counters{}, empty)
}

func TestRecordCrossingIsIdempotent(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()

	ev := crossing("door", models.DirectionIn, true, time.Now())
	require.NoError(t, s.RecordCrossing(ctx, ev))
	require.NoError(t, s.RecordCrossing(ctx, ev))

	got, err := s.LoadCounters(ctx, "door")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.CountIn)
}

func TestRecentCrossings(t *testing.T) {
	t.Parallel()

	s, _ := openTestStore(t)
	ctx := context.Background()
	base := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)

	first := crossing("door", models.DirectionIn, true, base)
	first.Counters = models.Counters{CountIn: 1}
	first.Occupancy = 1
	second := crossing("door", models.DirectionOut, true, base.Add(time.Minute))
	second.Counters = models.Counters{CountIn: 1, CountOut: 1, ActualCountOut: 1}

	require.NoError(t, s.RecordCrossing(ctx, first))
	require.NoError(t, s.RecordCrossing(ctx, second))

	got, err := s.RecentCrossings(ctx, "door", 10)
	require.NoError(t, err)
	if diff := cmp.Diff([]models.CrossingEvent{second, first}, got); diff != "" {
		t.Errorf("RecentCrossings mismatch (-want +got):\n%s", diff)
	}

	limited, err := s.RecentCrossings(ctx, "door", 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, second.ID, limited[0].ID)
}

func TestCountersSurviveReopen(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "reopen.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.HandleCrossing(crossing("door", models.DirectionIn, true, time.Now())))
	require.NoError(t, s.Close())

	reopened, err := Open(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LoadCounters(context.Background(), "door")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.CountIn)
}
