package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"incarceration-bot/common/database"
	"incarceration-bot/common/mqtt"
	rediscommon "incarceration-bot/common/redis"
	"incarceration-bot/internal/config"
	"incarceration-bot/internal/matcher"
	"incarceration-bot/internal/metrics"
	"incarceration-bot/internal/models"
	"incarceration-bot/internal/normalizer"
	"incarceration-bot/internal/notify"
	"incarceration-bot/internal/release"
	"incarceration-bot/internal/repository"
	"incarceration-bot/internal/scraper"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// RosterService schedules scrape-and-reconcile cycles over every active jail
type RosterService struct {
	config *config.Config
	logger *zap.Logger

	jails      JailRegistry
	sessions   SessionFactory
	scrapers   ScraperResolver
	matcher    *matcher.Matcher
	dispatcher EventDispatcher
	releases   ReleaseQueue
	metrics    *metrics.Metrics
	now        func() time.Time

	// owned infrastructure, nil when injected
	db            *sql.DB
	redisClient   *redis.Client
	mqttClient    *mqtt.Client
	releaser      *release.Releaser
	metricsServer *metrics.Server
	runMu         sync.Mutex
	monitorMu     sync.Mutex
}

// Dependencies collaborators of a RosterService built outside NewRosterService
type Dependencies struct {
	Jails      JailRegistry
	Sessions   SessionFactory
	Scrapers   ScraperResolver
	Dispatcher EventDispatcher
	Releases   ReleaseQueue
	Metrics    *metrics.Metrics
	Now        func() time.Time
}

// NewRosterServiceWith assembles a service from explicit collaborators
func NewRosterServiceWith(cfg *config.Config, deps Dependencies, logger *zap.Logger) *RosterService {
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	return &RosterService{
		config:     cfg,
		logger:     logger,
		jails:      deps.Jails,
		sessions:   deps.Sessions,
		scrapers:   deps.Scrapers,
		matcher:    matcher.New(cfg.Roster.FuzzyMinSharedTokens),
		dispatcher: deps.Dispatcher,
		releases:   deps.Releases,
		metrics:    deps.Metrics,
		now:        now,
	}
}

// NewRosterService connects to Postgres, Redis and MQTT as configured and
// wires the production pipeline
func NewRosterService(cfg *config.Config, logger *zap.Logger) (*RosterService, error) {
	db, err := database.NewPostgresDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if cfg.AutoMigrate {
		if err := repository.EnsureSchema(context.Background(), db); err != nil {
			_ = database.Close(db)
			return nil, err
		}
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	notifiers := map[string]notify.Notifier{}
	if cfg.Notify.PushBaseURL != "" {
		notifiers[models.NotifyMethodPush] = notify.NewPushNotifier(
			cfg.Notify.PushBaseURL, cfg.Notify.PushAPIToken, cfg.Scraper.FetchTimeout, logger)
	}

	var mqttClient *mqtt.Client
	if cfg.Notify.MQTTEnabled {
		mqttClient, err = mqtt.NewClient(&cfg.MQTT, logger)
		if err != nil {
			_ = database.Close(db)
			return nil, err
		}
		notifiers[models.NotifyMethodMQTT] = notify.NewMQTTNotifier(
			mqttClient, cfg.Notify.MQTTTopicPrefix, cfg.Scraper.FetchTimeout)
	}

	var redisClient *redis.Client
	var sink notify.EventSink
	if cfg.Notify.EventStreamEnabled {
		redisClient, err = rediscommon.Connect(context.Background(), &cfg.Redis)
		if err != nil {
			// the event log is optional; notifications still go out
			logger.Warn("Redis unavailable, match events will not be recorded", zap.Error(err))
		} else {
			sink = notify.NewStreamPublisher(redisClient, cfg.Notify.EventStream, cfg.Notify.EventStreamMaxLen)
		}
	}

	registry := scraper.NewRegistry()
	registry.Register(scraper.KindZuercher, scraper.NewZuercherScraper(scraper.Options{
		FetchTimeout:      cfg.Scraper.FetchTimeout,
		RPS:               cfg.Scraper.RPS,
		DetailConcurrency: cfg.Scraper.DetailConcurrency,
		PageSize:          cfg.Scraper.PageSize,
		UserAgent:         cfg.Scraper.UserAgent,
	}, logger))

	releaser := release.NewReleaser(db, release.Options{
		BatchSize: cfg.Release.BatchSize,
		RowDelay:  cfg.Release.RowDelay,
		QueueSize: cfg.Release.QueueSize,
	}, m, logger)

	writerOpts := repository.DefaultWriterOptions()
	writerOpts.InsertBatchSize = cfg.Roster.InsertBatchSize
	writerOpts.UpdateBatchSize = cfg.Roster.UpdateBatchSize
	writerOpts.LargeTableThreshold = cfg.Roster.LargeTableThreshold
	writerOpts.StaleThreshold = cfg.Roster.StaleThreshold
	writerOpts.MaxRetries = cfg.Roster.MaxRetries

	svc := NewRosterServiceWith(cfg, Dependencies{
		Jails:      repository.NewJailRepository(db, logger),
		Sessions:   NewPostgresSessions(db, writerOpts, logger),
		Scrapers:   registry,
		Dispatcher: notify.NewDispatcher(notifiers, sink, m, logger),
		Releases:   releaser,
		Metrics:    m,
	}, logger)

	svc.db = db
	svc.redisClient = redisClient
	svc.mqttClient = mqttClient
	svc.releaser = releaser
	if cfg.MetricsAddr != "" {
		svc.metricsServer = metrics.NewServer(cfg.MetricsAddr, reg, logger)
	}
	return svc, nil
}

// Start runs a cycle immediately and then every poll interval until ctx is
// cancelled
func (s *RosterService) Start(ctx context.Context) error {
	s.logger.Info("Starting roster service",
		zap.Duration("poll_interval", s.config.Scheduler.PollInterval),
		zap.Int("jail_workers", s.config.Scheduler.JailWorkers),
	)

	if s.releaser != nil {
		s.releaser.Start(ctx)
	}
	if s.metricsServer != nil {
		s.metricsServer.Start()
	}

	ticker := time.NewTicker(s.config.Scheduler.PollInterval)
	defer ticker.Stop()

	successCount, errorCount := 0, 0
	run := func() {
		if _, err := s.RunOnce(ctx); err != nil {
			errorCount++
			s.logger.Error("Roster run failed", zap.Error(err), zap.Int("error_count", errorCount))
			return
		}
		successCount++
	}

	run()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Roster loop stopped",
				zap.Int("success_count", successCount),
				zap.Int("error_count", errorCount),
			)
			return nil
		case <-ticker.C:
			run()
		}
	}
}

// Stop releases owned infrastructure. The background releaser exits with the
// context passed to Start.
func (s *RosterService) Stop(ctx context.Context) error {
	var errs []error

	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.metricsServer.Stop(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop metrics server: %w", err))
		}
	}
	if s.releaser != nil {
		s.releaser.Wait()
	}
	if s.mqttClient != nil {
		s.mqttClient.Disconnect()
	}
	if s.redisClient != nil {
		if err := rediscommon.Close(s.redisClient); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
	}
	if err := database.Close(s.db); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	}

	return errors.Join(errs...)
}

// RunSummary outcome of one run over every active jail
type RunSummary struct {
	RunID       string
	Jails       []*JailReport
	FailedJails map[string]error
	Inserted    int
	Updated     int
	Closed      int
	FailedRows  int
	Events      int
	Duration    time.Duration
}

// RunOnce processes every active jail once. A failing jail is logged and
// reported in the summary; it never stops the others.
func (s *RosterService) RunOnce(ctx context.Context) (*RunSummary, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	started := s.now()
	summary := &RunSummary{RunID: uuid.New().String(), FailedJails: make(map[string]error)}
	logger := s.logger.With(zap.String("run_id", summary.RunID))

	jails, err := s.jails.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list jails: %w", err)
	}

	cache, err := normalizer.NewMugshotCache(s.config.Scraper.MugshotCacheSize)
	if err != nil {
		return nil, err
	}

	workers := s.config.Scheduler.JailWorkers
	if workers < 1 {
		workers = 1
	}

	reports := make([]*JailReport, len(jails))
	errs := make([]error, len(jails))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, jail := range jails {
		i, jail := i, jail
		g.Go(func() error {
			jailStart := s.now()
			report, err := s.processJail(ctx, jail, cache)
			outcome := "ok"
			if err != nil {
				outcome = "error"
				errs[i] = err
			}
			reports[i] = report
			s.metrics.ObserveCycle(jail.ID, outcome, s.now().Sub(jailStart))
			return nil
		})
	}
	_ = g.Wait()

	for i, jail := range jails {
		if errs[i] != nil {
			summary.FailedJails[jail.ID] = errs[i]
			var unreachable *models.JailUnreachableError
			if errors.As(errs[i], &unreachable) {
				logger.Warn("Jail unreachable, retrying next run", zap.String("jail_id", jail.ID), zap.Error(errs[i]))
			} else {
				logger.Error("Jail cycle failed", zap.String("jail_id", jail.ID), zap.Error(errs[i]))
			}
			continue
		}

		r := reports[i]
		summary.Jails = append(summary.Jails, r)
		summary.Inserted += r.Persistence.InsertedCount
		summary.Updated += r.Persistence.UpdatedCount
		summary.Closed += r.Persistence.ClosedCount
		summary.FailedRows += len(r.Persistence.FailedIDs)
		summary.Events += r.Events

		logger.Info("Jail processed",
			zap.String("jail_id", jail.ID),
			zap.Int("scraped", r.Scraped),
			zap.Int("skipped", r.Skipped),
			zap.Int("inserted", r.Persistence.InsertedCount),
			zap.Int("updated", r.Persistence.UpdatedCount),
			zap.Int("closed", r.Persistence.ClosedCount),
			zap.Int("unchanged", r.Unchanged),
			zap.Int("failed_rows", len(r.Persistence.FailedIDs)),
			zap.Int("events", r.Events),
			zap.Int("notified", r.Notified),
			zap.Int("release_queued", r.ReleaseQueued),
			zap.Duration("duration", r.Duration),
		)
	}

	summary.Duration = s.now().Sub(started)
	logger.Info("Roster run finished",
		zap.Int("jails", len(jails)),
		zap.Int("failed_jails", len(summary.FailedJails)),
		zap.Int("inserted", summary.Inserted),
		zap.Int("updated", summary.Updated),
		zap.Int("closed", summary.Closed),
		zap.Int("events", summary.Events),
		zap.Duration("duration", summary.Duration),
	)
	return summary, nil
}
