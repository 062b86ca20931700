package release

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"incarceration-bot/internal/metrics"
	"incarceration-bot/internal/reconcile"
	"incarceration-bot/internal/repository"

	"go.uber.org/zap"
)

// TxBeginner opens transactions; *sql.DB implements it
type TxBeginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// Job closures for one jail, computed after that jail's writes were applied
type Job struct {
	JailID   string
	Closures []reconcile.Closure
}

// Options background release pass tuning
type Options struct {
	BatchSize int
	RowDelay  time.Duration
	QueueSize int
}

// Releaser closes absent inmate episodes in the background. It writes a few
// rows per READ COMMITTED transaction with a pause between rows so it never
// competes with the scrape path for locks.
type Releaser struct {
	db      TxBeginner
	opts    Options
	metrics *metrics.Metrics
	logger  *zap.Logger

	queue chan Job
	wg    sync.WaitGroup
}

// NewReleaser creates a releaser; call Start to run it
func NewReleaser(db TxBeginner, opts Options, m *metrics.Metrics, logger *zap.Logger) *Releaser {
	if opts.BatchSize < 1 {
		opts.BatchSize = 5
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 64
	}
	return &Releaser{
		db:      db,
		opts:    opts,
		metrics: m,
		logger:  logger,
		queue:   make(chan Job, opts.QueueSize),
	}
}

// Enqueue hands a job to the worker without blocking. A full queue drops the
// job; the episodes stay open and are offered again after the next scrape.
func (r *Releaser) Enqueue(job Job) bool {
	if len(job.Closures) == 0 {
		return true
	}
	select {
	case r.queue <- job:
		return true
	default:
		r.metrics.IncQueueDrop()
		r.logger.Warn("Release queue full, dropping job",
			zap.String("jail_id", job.JailID),
			zap.Int("closures", len(job.Closures)),
		)
		return false
	}
}

// Start runs the worker until ctx is cancelled
func (r *Releaser) Start(ctx context.Context) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case job := <-r.queue:
				closed, err := r.Process(ctx, job)
				if err != nil {
					r.logger.Error("Background release pass failed",
						zap.String("jail_id", job.JailID),
						zap.Int("closed", closed),
						zap.Error(err),
					)
				}
			}
		}
	}()
}

// Wait blocks until the worker exits
func (r *Releaser) Wait() {
	r.wg.Wait()
}

// Process applies one job and returns the number of episodes closed
func (r *Releaser) Process(ctx context.Context, job Job) (int, error) {
	total := 0
	for start := 0; start < len(job.Closures); start += r.opts.BatchSize {
		batch := job.Closures[start:min(start+r.opts.BatchSize, len(job.Closures))]
		closed, err := r.processBatch(ctx, batch)
		total += closed
		r.metrics.AddBackgroundClosed(job.JailID, closed)
		if err != nil {
			return total, err
		}
	}

	r.logger.Info("Background release pass finished",
		zap.String("jail_id", job.JailID),
		zap.Int("candidates", len(job.Closures)),
		zap.Int("closed", total),
	)
	return total, nil
}

func (r *Releaser) processBatch(ctx context.Context, batch []reconcile.Closure) (int, error) {
	tx, err := r.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("failed to begin release transaction: %w", err)
	}
	defer tx.Rollback()

	repo := repository.NewInmateRepository(tx, r.logger)
	closed := 0
	for i, c := range batch {
		if i > 0 && r.opts.RowDelay > 0 {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(r.opts.RowDelay):
			}
		}

		ok, err := repo.CloseEpisode(ctx, c.ID, c.ReleaseDate, c.SeenBefore)
		if err != nil {
			return 0, err
		}
		if ok {
			closed++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit release transaction: %w", err)
	}
	return closed, nil
}
