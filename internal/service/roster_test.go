package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"incarceration-bot/internal/config"
	"incarceration-bot/internal/models"
	"incarceration-bot/internal/normalizer"
	"incarceration-bot/internal/reconcile"
	"incarceration-bot/internal/release"
	"incarceration-bot/internal/repository"
	"incarceration-bot/internal/scraper"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// MockJailRegistry 是 JailRegistry 的 mock 实现
type MockJailRegistry struct {
	mock.Mock
}

func (m *MockJailRegistry) ListActive(ctx context.Context) ([]models.Jail, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Jail), args.Error(1)
}

func (m *MockJailRegistry) MarkScraped(ctx context.Context, jailID string, at time.Time) error {
	args := m.Called(ctx, jailID, at)
	return args.Error(0)
}

type MockScraper struct {
	mock.Mock
}

func (m *MockScraper) Scrape(ctx context.Context, jail models.Jail, cache *normalizer.MugshotCache) ([]models.RawInmate, error) {
	args := m.Called(ctx, jail, cache)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.RawInmate), args.Error(1)
}

type MockReleaseQueue struct {
	mock.Mock
}

func (m *MockReleaseQueue) Enqueue(job release.Job) bool {
	return m.Called(job).Bool(0)
}

// memStore is an in-memory stand-in for the inmates and monitors tables.
// log records the order of writes and notifications.
type memStore struct {
	mu        sync.Mutex
	episodes  []models.InmateRecord
	monitors  []models.MonitorRecord
	nextID    int64
	nextMonID int64
	applyErr  error
	log       []string
}

func (s *memStore) WithSession(ctx context.Context, fn func(Session) error) error {
	return fn(&memSession{s: s})
}

func (s *memStore) record(entry string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.log = append(s.log, entry)
}

func (s *memStore) monitor(id int64) models.MonitorRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range s.monitors {
		if m.ID == id {
			return m
		}
	}
	return models.MonitorRecord{}
}

type memSession struct {
	s *memStore
}

func (m *memSession) LoadOpenEpisodes(ctx context.Context, jailID string) ([]models.InmateRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.InmateRecord
	for _, e := range m.s.episodes {
		if e.JailID == jailID && e.IsOpen() {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memSession) Apply(ctx context.Context, plan *reconcile.Plan) (*repository.PersistenceResult, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	if m.s.applyErr != nil {
		return nil, m.s.applyErr
	}
	m.s.log = append(m.s.log, "apply:"+plan.JailID)

	res := &repository.PersistenceResult{}
	for _, rec := range plan.Inserts {
		m.s.nextID++
		rec.ID = m.s.nextID
		m.s.episodes = append(m.s.episodes, rec)
		res.InsertedCount++
	}
	for _, u := range plan.Updates {
		for i := range m.s.episodes {
			if m.s.episodes[i].ID == u.Record.ID {
				m.s.episodes[i] = u.Record
				res.UpdatedCount++
			}
		}
	}
	for _, c := range plan.Closures {
		for i := range m.s.episodes {
			if m.s.episodes[i].ID == c.ID && m.s.episodes[i].IsOpen() {
				m.s.episodes[i].ReleaseDate = c.ReleaseDate
				res.ClosedCount++
			}
		}
	}
	return res, nil
}

func (m *memSession) ListMonitors(ctx context.Context, jailName string) ([]models.MonitorRecord, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	var out []models.MonitorRecord
	for _, mon := range m.s.monitors {
		if strings.Contains(strings.ToLower(jailName), strings.ToLower(mon.JailName)) {
			out = append(out, mon)
		}
	}
	return out, nil
}

func (m *memSession) UpdateMonitor(ctx context.Context, mon models.MonitorRecord) error {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	for i := range m.s.monitors {
		if m.s.monitors[i].ID == mon.ID {
			m.s.monitors[i] = mon
			return nil
		}
	}
	return errors.New("monitor not found")
}

func (m *memSession) CreateMonitor(ctx context.Context, mon models.MonitorRecord) (int64, error) {
	m.s.mu.Lock()
	defer m.s.mu.Unlock()
	m.s.nextMonID++
	mon.ID = m.s.nextMonID
	m.s.monitors = append(m.s.monitors, mon)
	return mon.ID, nil
}

// recordingDispatcher captures events and logs the dispatch in the store
type recordingDispatcher struct {
	mu      sync.Mutex
	store   *memStore
	batches [][]models.MatchEvent
}

func (d *recordingDispatcher) Dispatch(ctx context.Context, events []models.MatchEvent) int {
	d.store.record("dispatch")
	d.mu.Lock()
	defer d.mu.Unlock()
	d.batches = append(d.batches, events)
	n := 0
	for _, e := range events {
		if e.Notifies() {
			n++
		}
	}
	return n
}

func (d *recordingDispatcher) notifying() []models.MatchEvent {
	d.mu.Lock()
	defer d.mu.Unlock()
	var out []models.MatchEvent
	for _, b := range d.batches {
		for _, e := range b {
			if e.Notifies() {
				out = append(out, e)
			}
		}
	}
	return out
}

type fixture struct {
	svc        *RosterService
	jails      *MockJailRegistry
	scraper    *MockScraper
	releases   *MockReleaseQueue
	store      *memStore
	dispatcher *recordingDispatcher
	clock      time.Time
}

func newFixture(t *testing.T) *fixture {
	cfg := &config.Config{}
	cfg.Roster.StaleThreshold = time.Hour
	cfg.Roster.FuzzyMinSharedTokens = 2
	cfg.Scheduler.JailWorkers = 2
	cfg.Scraper.MugshotCacheSize = 16

	f := &fixture{
		jails:    &MockJailRegistry{},
		scraper:  &MockScraper{},
		releases: &MockReleaseQueue{},
		store:    &memStore{},
	}
	f.dispatcher = &recordingDispatcher{store: f.store}

	registry := scraper.NewRegistry()
	registry.Register("test", f.scraper)

	f.svc = NewRosterServiceWith(cfg, Dependencies{
		Jails:      f.jails,
		Sessions:   f.store,
		Scrapers:   registry,
		Dispatcher: f.dispatcher,
		Releases:   f.releases,
		Now:        func() time.Time { return f.clock },
	}, zap.NewNop())
	return f
}

var marion = models.Jail{ID: "marion", Name: "Marion County Jail", Kind: "test", Active: true}

func janeDoe() models.MonitorRecord {
	return models.MonitorRecord{
		ID:           1,
		DisplayName:  "JANE DOE",
		JailName:     "Marion",
		Notification: models.NotificationConfig{Method: models.NotifyMethodPush, Address: "u1", Enabled: true},
		OwnerUserID:  7,
	}
}

func TestRunOnce_ArrestThenRelease(t *testing.T) {
	f := newFixture(t)
	f.store.monitors = []models.MonitorRecord{janeDoe()}
	f.store.nextMonID = 1

	f.jails.On("ListActive", mock.Anything).Return([]models.Jail{marion}, nil)
	f.jails.On("MarkScraped", mock.Anything, "marion", mock.Anything).Return(nil)

	jane := models.RawInmate{
		Name:          "JANE  DOE",
		Race:          "W",
		Sex:           "F",
		DateOfBirth:   "1990",
		ArrestDate:    "05/30/2025",
		Charges:       []string{"THEFT"},
		HeldForAgency: "SHERIFF",
	}
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).Return([]models.RawInmate{jane}, nil).Once()
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).Return([]models.RawInmate{}, nil)

	// run 1: booked
	f.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.FailedJails)
	assert.Equal(t, 1, summary.Inserted)
	require.Len(t, f.store.episodes, 1)
	assert.Equal(t, "JANE DOE", f.store.episodes[0].Name)

	events := f.dispatcher.notifying()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventArrested, events[0].Type)
	assert.Equal(t, "2025-05-30", events[0].Monitor.LastArrestDate)

	stored := f.store.monitor(1)
	assert.Equal(t, "2025-05-30", stored.LastArrestDate)
	assert.Equal(t, "THEFT", stored.ArrestReason)
	require.NotNil(t, stored.LastSeenIncarcerated)
	assert.Equal(t, f.clock, *stored.LastSeenIncarcerated)

	// notification only after the episode was written
	assert.Equal(t, []string{"apply:marion", "dispatch"}, f.store.log)

	// run 2: gone from the roster the next day
	f.clock = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	_, err = f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	events = f.dispatcher.notifying()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventReleased, events[1].Type)
	assert.Equal(t, "2025-06-02", f.store.monitor(1).ReleaseDate)
	// last seen yesterday: not a background candidate yet
	f.releases.AssertNotCalled(t, "Enqueue", mock.Anything)

	// run 3: still gone, the episode is handed to the background pass
	f.releases.On("Enqueue", mock.MatchedBy(func(job release.Job) bool {
		return job.JailID == "marion" &&
			len(job.Closures) == 1 &&
			job.Closures[0].ID == 1 &&
			job.Closures[0].ReleaseDate == "2025-06-01" &&
			job.Closures[0].Reason == reconcile.ReasonAbsent
	})).Return(true).Once()

	f.clock = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	summary, err = f.svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Jails, 1)
	assert.Equal(t, 1, summary.Jails[0].ReleaseQueued)
	// no second release notification
	assert.Len(t, f.dispatcher.notifying(), 2)

	f.jails.AssertExpectations(t)
	f.scraper.AssertExpectations(t)
	f.releases.AssertExpectations(t)
}

func TestRunOnce_CustodyGapClosesOldEpisode(t *testing.T) {
	f := newFixture(t)
	seen := time.Date(2025, 5, 31, 12, 0, 0, 0, time.UTC)
	f.store.episodes = []models.InmateRecord{{
		ID:         1,
		JailID:     "marion",
		Name:       "JOHN ROE",
		ArrestDate: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:   &seen,
	}}
	f.store.nextID = 1

	f.jails.On("ListActive", mock.Anything).Return([]models.Jail{marion}, nil)
	f.jails.On("MarkScraped", mock.Anything, "marion", mock.Anything).Return(nil)
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).
		Return([]models.RawInmate{{Name: "JOHN ROE", ArrestDate: "2025-06-01"}}, nil)

	f.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Inserted)
	assert.Equal(t, 1, summary.Closed)
	require.Len(t, f.store.episodes, 2)
	assert.Equal(t, "2025-05-31", f.store.episodes[0].ReleaseDate)
	assert.True(t, f.store.episodes[1].IsOpen())
	f.releases.AssertNotCalled(t, "Enqueue", mock.Anything)
}

func TestRunOnce_JailFailureIsolated(t *testing.T) {
	f := newFixture(t)
	broken := models.Jail{ID: "broken", Name: "Broken County", Kind: "test", Active: true}

	f.jails.On("ListActive", mock.Anything).Return([]models.Jail{broken, marion}, nil)
	f.jails.On("MarkScraped", mock.Anything, "marion", mock.Anything).Return(nil)
	f.scraper.On("Scrape", mock.Anything, broken, mock.Anything).
		Return(nil, &models.JailUnreachableError{JailID: "broken", Err: errors.New("connection refused")})
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).
		Return([]models.RawInmate{{Name: "MARY ROE", ArrestDate: "2025-06-01"}}, nil)

	f.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	require.Contains(t, summary.FailedJails, "broken")
	var unreachable *models.JailUnreachableError
	assert.ErrorAs(t, summary.FailedJails["broken"], &unreachable)
	assert.Equal(t, 1, summary.Inserted)
	require.Len(t, summary.Jails, 1)
	assert.Equal(t, "marion", summary.Jails[0].JailID)

	f.jails.AssertNotCalled(t, "MarkScraped", mock.Anything, "broken", mock.Anything)
	f.jails.AssertExpectations(t)
}

func TestRunOnce_PersistFailureSuppressesNotifications(t *testing.T) {
	f := newFixture(t)
	f.store.monitors = []models.MonitorRecord{janeDoe()}
	f.store.applyErr = errors.New("disk full")

	f.jails.On("ListActive", mock.Anything).Return([]models.Jail{marion}, nil)
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).
		Return([]models.RawInmate{{Name: "JANE DOE", ArrestDate: "2025-06-01"}}, nil)

	f.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Contains(t, summary.FailedJails, "marion")
	assert.Empty(t, f.dispatcher.batches)
	assert.Empty(t, f.store.monitor(1).LastArrestDate)
	f.jails.AssertNotCalled(t, "MarkScraped", mock.Anything, mock.Anything, mock.Anything)
}

func TestRunOnce_PartialMatchStoresClone(t *testing.T) {
	f := newFixture(t)
	original := models.MonitorRecord{
		ID:             1,
		DisplayName:    "JOHN SMITH",
		JailName:       "Marion",
		LastArrestDate: "2025-01-01",
		Notification:   models.NotificationConfig{Method: models.NotifyMethodPush, Address: "u1", Enabled: true},
		OwnerUserID:    7,
	}
	f.store.monitors = []models.MonitorRecord{original}
	f.store.nextMonID = 1

	f.jails.On("ListActive", mock.Anything).Return([]models.Jail{marion}, nil)
	f.jails.On("MarkScraped", mock.Anything, "marion", mock.Anything).Return(nil)
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).
		Return([]models.RawInmate{{Name: "JOHN ALLEN SMITH", ArrestDate: "2025-05-30"}}, nil)

	f.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)
	require.Len(t, summary.Jails, 1)
	assert.Equal(t, 1, summary.Jails[0].MonitorsCreated)

	require.Len(t, f.store.monitors, 2)
	clone := f.store.monitors[1]
	assert.Equal(t, int64(2), clone.ID)
	assert.Equal(t, "JOHN ALLEN SMITH", clone.DisplayName)
	assert.Equal(t, int64(7), clone.OwnerUserID)

	events := f.dispatcher.notifying()
	require.Len(t, events, 1)
	assert.True(t, events[0].Partial)
	assert.Equal(t, int64(2), events[0].Monitor.ID)

	// the original keeps its arrest date but is confirmed present
	stored := f.store.monitor(1)
	assert.Equal(t, "2025-01-01", stored.LastArrestDate)
	assert.NotNil(t, stored.LastSeenIncarcerated)
}

func TestRunOnce_ListJailsError(t *testing.T) {
	f := newFixture(t)
	f.jails.On("ListActive", mock.Anything).Return(nil, errors.New("connection reset"))

	_, err := f.svc.RunOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list jails")
}

var benton = models.Jail{ID: "benton", Name: "Benton County Jail", Kind: "test", Active: true}

func TestRunOnce_OtherJailDoesNotReleaseMonitor(t *testing.T) {
	f := newFixture(t)
	f.svc.config.Scheduler.JailWorkers = 1
	anywhere := janeDoe()
	anywhere.JailName = ""
	f.store.monitors = []models.MonitorRecord{anywhere}
	f.store.nextMonID = 1

	jane := models.RawInmate{Name: "JANE DOE", ArrestDate: "2025-05-30"}
	f.jails.On("ListActive", mock.Anything).Return([]models.Jail{marion, benton}, nil)
	f.jails.On("MarkScraped", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).Return([]models.RawInmate{jane}, nil).Twice()
	f.scraper.On("Scrape", mock.Anything, marion, mock.Anything).Return([]models.RawInmate{}, nil)
	f.scraper.On("Scrape", mock.Anything, benton, mock.Anything).Return([]models.RawInmate{}, nil)

	// day 1: booked at marion, benton's roster is empty
	f.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	_, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	events := f.dispatcher.notifying()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventArrested, events[0].Type)
	stored := f.store.monitor(1)
	assert.Empty(t, stored.ReleaseDate)
	assert.Equal(t, "marion", stored.LastSeenJailID)

	// a release date left behind by an earlier run is undone while marion
	// still lists her
	f.store.mu.Lock()
	f.store.monitors[0].ReleaseDate = "2025-06-01"
	f.store.mu.Unlock()

	// day 2: still at marion
	f.clock = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	_, err = f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	assert.Len(t, f.dispatcher.notifying(), 1)
	assert.Empty(t, f.store.monitor(1).ReleaseDate)

	// day 3: gone from marion, released exactly once
	f.clock = time.Date(2025, 6, 3, 12, 0, 0, 0, time.UTC)
	_, err = f.svc.RunOnce(context.Background())
	require.NoError(t, err)

	events = f.dispatcher.notifying()
	require.Len(t, events, 2)
	assert.Equal(t, models.EventReleased, events[1].Type)
	assert.Equal(t, "marion", events[1].Inmate.JailID)
	assert.Equal(t, "2025-06-03", f.store.monitor(1).ReleaseDate)

	f.scraper.AssertExpectations(t)
}

func TestRunOnce_ParallelJailsShareMonitorSafely(t *testing.T) {
	f := newFixture(t)
	f.svc.config.Scheduler.JailWorkers = 2
	anywhere := janeDoe()
	anywhere.JailName = ""
	f.store.monitors = []models.MonitorRecord{anywhere}
	f.store.nextMonID = 1

	jane := models.RawInmate{Name: "JANE DOE", ArrestDate: "2025-05-30"}
	f.jails.On("ListActive", mock.Anything).Return([]models.Jail{marion, benton}, nil)
	f.jails.On("MarkScraped", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	f.scraper.On("Scrape", mock.Anything, mock.Anything, mock.Anything).Return([]models.RawInmate{jane}, nil)

	f.clock = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	summary, err := f.svc.RunOnce(context.Background())
	require.NoError(t, err)
	assert.Empty(t, summary.FailedJails)

	// the second jail sees the first jail's write, not a stale copy
	events := f.dispatcher.notifying()
	require.Len(t, events, 1)
	assert.Equal(t, models.EventArrested, events[0].Type)

	stored := f.store.monitor(1)
	assert.Equal(t, "2025-05-30", stored.LastArrestDate)
	assert.Empty(t, stored.ReleaseDate)
	require.NotNil(t, stored.LastSeenIncarcerated)
	assert.Contains(t, []string{"marion", "benton"}, stored.LastSeenJailID)
}
