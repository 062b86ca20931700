package service

import (
	"context"
	"time"

	"incarceration-bot/internal/models"
	"incarceration-bot/internal/reconcile"
	"incarceration-bot/internal/release"
	"incarceration-bot/internal/repository"
	"incarceration-bot/internal/scraper"
)

// JailRegistry lists the jails to process
type JailRegistry interface {
	ListActive(ctx context.Context) ([]models.Jail, error)
	MarkScraped(ctx context.Context, jailID string, at time.Time) error
}

// Session is the storage surface of one jail's batch. Every call of one
// session runs on the same database connection.
type Session interface {
	LoadOpenEpisodes(ctx context.Context, jailID string) ([]models.InmateRecord, error)
	Apply(ctx context.Context, plan *reconcile.Plan) (*repository.PersistenceResult, error)
	ListMonitors(ctx context.Context, jailName string) ([]models.MonitorRecord, error)
	UpdateMonitor(ctx context.Context, m models.MonitorRecord) error
	CreateMonitor(ctx context.Context, m models.MonitorRecord) (int64, error)
}

// SessionFactory opens a session for the duration of fn
type SessionFactory interface {
	WithSession(ctx context.Context, fn func(Session) error) error
}

// ScraperResolver picks the scraper of a jail
type ScraperResolver interface {
	For(jail models.Jail) (scraper.Scraper, error)
}

// EventDispatcher delivers match events; never fails
type EventDispatcher interface {
	Dispatch(ctx context.Context, events []models.MatchEvent) int
}

// ReleaseQueue accepts background release work
type ReleaseQueue interface {
	Enqueue(job release.Job) bool
}
