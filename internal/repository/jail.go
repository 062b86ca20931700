package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"incarceration-bot/internal/models"

	"go.uber.org/zap"
)

// JailRepository jail registry
type JailRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewJailRepository creates a new jail repository
func NewJailRepository(db DBTX, logger *zap.Logger) *JailRepository {
	return &JailRepository{
		db:     db,
		logger: logger,
	}
}

// ListActive returns the jails to scrape, in jail_id order
func (r *JailRepository) ListActive(ctx context.Context) ([]models.Jail, error) {
	query := `
		SELECT jail_id, jail_name, kind, scrape_url, active, last_successful_scrape
		FROM jails
		WHERE active = TRUE
		ORDER BY jail_id`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query jails: %w", err)
	}
	defer rows.Close()

	var jails []models.Jail
	for rows.Next() {
		var j models.Jail
		var last sql.NullTime
		if err := rows.Scan(&j.ID, &j.Name, &j.Kind, &j.ScrapeURL, &j.Active, &last); err != nil {
			return nil, fmt.Errorf("failed to scan jail: %w", err)
		}
		j.LastSuccessfulScrape = timePtr(last)
		jails = append(jails, j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate jails: %w", err)
	}

	return jails, nil
}

// MarkScraped records a successful scrape
func (r *JailRepository) MarkScraped(ctx context.Context, jailID string, at time.Time) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE jails SET last_successful_scrape = $2 WHERE jail_id = $1`, jailID, at)
	if err != nil {
		return fmt.Errorf("failed to mark jail %s scraped: %w", jailID, err)
	}
	return nil
}
