package service

import (
	"context"
	"database/sql"

	"incarceration-bot/common/database"
	"incarceration-bot/internal/models"
	"incarceration-bot/internal/repository"

	"go.uber.org/zap"
)

// PostgresSessions opens one pooled connection per jail batch
type PostgresSessions struct {
	db         *sql.DB
	writerOpts repository.WriterOptions
	logger     *zap.Logger
}

// NewPostgresSessions creates a session factory over db
func NewPostgresSessions(db *sql.DB, writerOpts repository.WriterOptions, logger *zap.Logger) *PostgresSessions {
	return &PostgresSessions{db: db, writerOpts: writerOpts, logger: logger}
}

// WithSession implements SessionFactory
func (p *PostgresSessions) WithSession(ctx context.Context, fn func(Session) error) error {
	return database.WithConn(ctx, p.db, func(conn *sql.Conn) error {
		return fn(&postgresSession{
			InmateRepository:  repository.NewInmateRepository(conn, p.logger),
			BatchWriter:       repository.NewBatchWriter(conn, p.writerOpts, p.logger),
			MonitorRepository: repository.NewMonitorRepository(conn, p.logger),
		})
	})
}

type postgresSession struct {
	*repository.InmateRepository
	*repository.BatchWriter
	*repository.MonitorRepository
}

func (s *postgresSession) ListMonitors(ctx context.Context, jailName string) ([]models.MonitorRecord, error) {
	return s.MonitorRepository.ListForJail(ctx, jailName)
}

func (s *postgresSession) UpdateMonitor(ctx context.Context, m models.MonitorRecord) error {
	return s.MonitorRepository.Update(ctx, m)
}

func (s *postgresSession) CreateMonitor(ctx context.Context, m models.MonitorRecord) (int64, error) {
	return s.MonitorRepository.Create(ctx, m)
}
