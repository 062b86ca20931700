package service

import (
	"context"
	"fmt"
	"time"

	"incarceration-bot/internal/models"
	"incarceration-bot/internal/normalizer"
	"incarceration-bot/internal/reconcile"
	"incarceration-bot/internal/release"
	"incarceration-bot/internal/repository"

	"go.uber.org/zap"
)

// JailReport outcome of one jail's cycle
type JailReport struct {
	JailID          string
	Scraped         int
	Skipped         int
	Unchanged       int
	Persistence     repository.PersistenceResult
	Unseen          int
	MonitorsCreated int
	Events          int
	Notified        int
	ReleaseQueued   int
	Duration        time.Duration
}

// processJail runs scrape, normalize, reconcile, persist, match, release
// inference and notification for one jail. Notifications go out only after
// the state they describe was written.
func (s *RosterService) processJail(ctx context.Context, jail models.Jail, cache *normalizer.MugshotCache) (*JailReport, error) {
	started := s.now()
	report := &JailReport{JailID: jail.ID}
	logger := s.logger.With(zap.String("jail_id", jail.ID))

	sc, err := s.scrapers.For(jail)
	if err != nil {
		return report, err
	}
	raws, err := sc.Scrape(ctx, jail, cache)
	if err != nil {
		return report, err
	}

	now := s.now()
	snapshot, skipped := normalizer.NormalizeSnapshot(raws, jail.ID, now, logger)
	report.Scraped = len(raws)
	report.Skipped = len(skipped)
	s.metrics.SetRosterSize(jail.ID, len(snapshot))

	var plan *reconcile.Plan
	var events []models.MatchEvent

	err = s.sessions.WithSession(ctx, func(sess Session) error {
		prior, err := sess.LoadOpenEpisodes(ctx, jail.ID)
		if err != nil {
			return err
		}

		plan, err = reconcile.Reconcile(prior, snapshot, jail, reconcile.Options{
			Now:            now,
			StaleThreshold: s.config.Roster.StaleThreshold,
		})
		if err != nil {
			return err
		}
		report.Unchanged = plan.Unchanged
		report.Unseen = len(plan.Unseen)

		result, err := sess.Apply(ctx, plan)
		if err != nil {
			return fmt.Errorf("failed to apply plan: %w", err)
		}
		report.Persistence = *result

		events, err = s.updateMonitors(ctx, sess, jail, snapshot, now, report, logger)
		return err
	})
	if err != nil {
		return report, err
	}

	s.metrics.AddRows(jail.ID, "inserted", report.Persistence.InsertedCount)
	s.metrics.AddRows(jail.ID, "updated", report.Persistence.UpdatedCount)
	s.metrics.AddRows(jail.ID, "closed", report.Persistence.ClosedCount)
	s.metrics.AddRows(jail.ID, "failed", len(report.Persistence.FailedIDs))

	report.Events = len(events)
	report.Notified = s.dispatcher.Dispatch(ctx, events)

	if candidates := release.Candidates(plan.Unseen, now); len(candidates) > 0 {
		if s.releases.Enqueue(release.Job{JailID: jail.ID, Closures: candidates}) {
			report.ReleaseQueued = len(candidates)
		}
	}

	if err := s.jails.MarkScraped(ctx, jail.ID, now); err != nil {
		logger.Warn("Failed to record scrape time", zap.Error(err))
	}

	report.Duration = s.now().Sub(started)
	return report, nil
}

// updateMonitors matches the snapshot against the jail's watch list, stores
// the monitor changes and runs monitor release inference. Monitor write
// failures are logged; they never fail the jail.
func (s *RosterService) updateMonitors(
	ctx context.Context,
	sess Session,
	jail models.Jail,
	snapshot []models.InmateRecord,
	now time.Time,
	report *JailReport,
	logger *zap.Logger,
) ([]models.MatchEvent, error) {
	// a monitor can apply to several jails; its read-modify-write must not
	// interleave with another jail worker's
	s.monitorMu.Lock()
	defer s.monitorMu.Unlock()

	monitors, err := sess.ListMonitors(ctx, jail.Name)
	if err != nil {
		return nil, err
	}
	if len(monitors) == 0 {
		return nil, nil
	}

	res := s.matcher.Match(snapshot, monitors, now)
	events := res.Events

	for _, m := range res.Created {
		id, err := sess.CreateMonitor(ctx, m)
		if err != nil {
			logger.Error("Failed to create monitor", zap.String("name", m.DisplayName), zap.Error(err))
			continue
		}
		report.MonitorsCreated++
		for i := range events {
			mon := &events[i].Monitor
			if mon.ID == 0 && mon.DisplayName == m.DisplayName && mon.OwnerUserID == m.OwnerUserID {
				mon.ID = id
			}
		}
	}

	current := make([]models.MonitorRecord, len(monitors))
	copy(current, monitors)
	updated := make(map[int64]models.MonitorRecord, len(res.Updated))
	for _, m := range res.Updated {
		updated[m.ID] = m
	}
	for i := range current {
		if m, ok := updated[current[i].ID]; ok {
			current[i] = m
		}
	}

	released, releaseEvents := release.InferMonitorReleases(current, res.MatchedNames, jail, now)
	for _, m := range released {
		updated[m.ID] = m
	}
	events = append(events, releaseEvents...)

	for _, m := range current {
		changed, ok := updated[m.ID]
		if !ok {
			continue
		}
		if err := sess.UpdateMonitor(ctx, changed); err != nil {
			logger.Error("Failed to update monitor", zap.Int64("monitor_id", m.ID), zap.Error(err))
		}
	}

	return events, nil
}
