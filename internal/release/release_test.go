package release

import (
	"context"
	"errors"
	"testing"
	"time"

	"incarceration-bot/internal/models"
	"incarceration-bot/internal/reconcile"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var (
	now    = time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)
	marion = models.Jail{ID: "marion", Name: "Marion County Jail"}
	cutoff = time.Date(2025, 6, 9, 0, 0, 0, 0, time.UTC)
)

func TestInferMonitorReleases_AbsentMonitorReleased(t *testing.T) {
	seen := now.Add(-4 * time.Hour)
	monitors := []models.MonitorRecord{
		{ID: 1, DisplayName: "JOHN SMITH", LastArrestDate: "2025-06-01", ArrestReason: "THEFT", LastSeenIncarcerated: &seen, LastSeenJailID: "marion"},
		{ID: 2, DisplayName: "JANE DOE", LastSeenIncarcerated: &seen, LastSeenJailID: "marion"},
		{ID: 3, DisplayName: "NEVER SEEN"},
		{ID: 4, DisplayName: "ALREADY OUT", LastSeenIncarcerated: &seen, LastSeenJailID: "marion", ReleaseDate: "2025-05-01"},
	}

	changed, events := InferMonitorReleases(monitors, map[string]bool{"JANE DOE": true}, marion, now)

	require.Len(t, changed, 1)
	assert.Equal(t, int64(1), changed[0].ID)
	assert.Equal(t, "2025-06-10", changed[0].ReleaseDate)

	require.Len(t, events, 1)
	e := events[0]
	assert.Equal(t, models.EventReleased, e.Type)
	assert.True(t, e.Notifies())
	assert.Equal(t, "JOHN SMITH", e.Inmate.Name)
	assert.Equal(t, "marion", e.Inmate.JailID)
	assert.Equal(t, "THEFT", e.Inmate.BookingCharges)
	assert.Equal(t, "2025-06-10", e.Inmate.ReleaseDate)
	assert.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), e.Inmate.ArrestDate)

	// input untouched
	assert.Empty(t, monitors[0].ReleaseDate)
}

func TestInferMonitorReleases_SecondRunIsQuiet(t *testing.T) {
	seen := now.Add(-4 * time.Hour)
	monitors := []models.MonitorRecord{{ID: 1, DisplayName: "JOHN SMITH", LastSeenIncarcerated: &seen, LastSeenJailID: "marion"}}

	changed, _ := InferMonitorReleases(monitors, nil, marion, now)
	require.Len(t, changed, 1)

	again, events := InferMonitorReleases(changed, nil, marion, now.Add(24*time.Hour))
	assert.Empty(t, again)
	assert.Empty(t, events)
}

func TestInferMonitorReleases_OnlyAtJailLastSeen(t *testing.T) {
	seen := now.Add(-4 * time.Hour)
	monitors := []models.MonitorRecord{
		{ID: 1, DisplayName: "JANE DOE", LastSeenIncarcerated: &seen, LastSeenJailID: "marion"},
		{ID: 2, DisplayName: "JOHN ROE", LastSeenIncarcerated: &seen},
	}

	// another jail's empty roster says nothing about people held at marion
	changed, events := InferMonitorReleases(monitors, nil, models.Jail{ID: "benton", Name: "Benton County Jail"}, now)
	assert.Empty(t, changed)
	assert.Empty(t, events)

	changed, _ = InferMonitorReleases(monitors, nil, marion, now)
	require.Len(t, changed, 1)
	assert.Equal(t, int64(1), changed[0].ID)
}

func episode(id int64, lastSeen *time.Time) models.InmateRecord {
	return models.InmateRecord{
		ID:         id,
		JailID:     "X",
		Name:       "PERSON",
		ArrestDate: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:   lastSeen,
	}
}

func TestCandidates(t *testing.T) {
	twoDaysAgo := time.Date(2025, 6, 8, 22, 30, 0, 0, time.UTC)
	yesterdayMorning := time.Date(2025, 6, 9, 8, 0, 0, 0, time.UTC)
	closed := episode(4, &twoDaysAgo)
	closed.ReleaseDate = "2025-06-08"

	got := Candidates([]models.InmateRecord{
		episode(1, &twoDaysAgo),
		episode(2, &yesterdayMorning),
		episode(3, nil),
		closed,
	}, now)

	require.Len(t, got, 2)
	assert.Equal(t, int64(1), got[0].ID)
	assert.Equal(t, "2025-06-08", got[0].ReleaseDate)
	assert.Equal(t, reconcile.ReasonAbsent, got[0].Reason)
	assert.Equal(t, cutoff, got[0].SeenBefore)
	assert.Equal(t, int64(3), got[1].ID)
	assert.Equal(t, "2025-06-09", got[1].ReleaseDate)
}

const closeSQL = `UPDATE inmates SET release_date = \$2 WHERE id = \$1 AND release_date = '' AND \(last_seen IS NULL OR last_seen < \$3\)`

func TestReleaser_ProcessInSmallTransactions(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := NewReleaser(db, Options{BatchSize: 2}, nil, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(closeSQL).WithArgs(int64(1), "2025-06-08", cutoff).WillReturnResult(sqlmock.NewResult(0, 1))
	// seen again after the job was queued
	mock.ExpectExec(closeSQL).WithArgs(int64(2), "2025-06-08", cutoff).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()
	mock.ExpectBegin()
	mock.ExpectExec(closeSQL).WithArgs(int64(3), "2025-06-09", cutoff).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	closed, err := r.Process(context.Background(), Job{JailID: "X", Closures: []reconcile.Closure{
		{ID: 1, ReleaseDate: "2025-06-08", SeenBefore: cutoff},
		{ID: 2, ReleaseDate: "2025-06-08", SeenBefore: cutoff},
		{ID: 3, ReleaseDate: "2025-06-09", SeenBefore: cutoff},
	}})
	require.NoError(t, err)
	assert.Equal(t, 2, closed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaser_FailedBatchRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := NewReleaser(db, Options{BatchSize: 5}, nil, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(closeSQL).WillReturnError(errors.New("lock timeout"))
	mock.ExpectRollback()

	closed, err := r.Process(context.Background(), Job{JailID: "X", Closures: []reconcile.Closure{{ID: 1, ReleaseDate: "2025-06-08"}}})
	assert.Error(t, err)
	assert.Zero(t, closed)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestReleaser_EnqueueDropsWhenFull(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := NewReleaser(db, Options{QueueSize: 1}, nil, zap.NewNop())
	job := Job{JailID: "X", Closures: []reconcile.Closure{{ID: 1}}}

	assert.True(t, r.Enqueue(job))
	assert.False(t, r.Enqueue(job))
	assert.True(t, r.Enqueue(Job{JailID: "X"}))
}

func TestReleaser_StartDrainsQueue(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	r := NewReleaser(db, Options{BatchSize: 5}, nil, zap.NewNop())

	mock.ExpectBegin()
	mock.ExpectExec(closeSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ctx, cancel := context.WithCancel(context.Background())
	r.Start(ctx)
	require.True(t, r.Enqueue(Job{JailID: "X", Closures: []reconcile.Closure{{ID: 1, ReleaseDate: "2025-06-08"}}}))

	assert.Eventually(t, func() bool {
		return mock.ExpectationsWereMet() == nil
	}, time.Second, 10*time.Millisecond)

	cancel()
	r.Wait()
}
