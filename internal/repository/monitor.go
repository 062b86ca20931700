package repository

import (
	"context"
	"database/sql"
	"fmt"

	"incarceration-bot/internal/models"

	"go.uber.org/zap"
)

const monitorColumns = `id, name, jail, last_arrest_date, release_date, arrest_reason, arresting_agency,
	mugshot, last_seen_incarcerated, last_seen_jail_id, notify_method, notify_address, enable_notifications, user_id`

// MonitorRepository watch-list repository
type MonitorRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewMonitorRepository creates a new monitor repository
func NewMonitorRepository(db DBTX, logger *zap.Logger) *MonitorRepository {
	return &MonitorRepository{
		db:     db,
		logger: logger,
	}
}

// ListForJail loads the monitors that apply to a jail. A monitor's jail is
// free text entered by a user ("Marion", "marion county"), so it matches when
// the jail name contains it; an empty value matches every jail.
func (r *MonitorRepository) ListForJail(ctx context.Context, jailName string) ([]models.MonitorRecord, error) {
	query := `SELECT ` + monitorColumns + `
		FROM monitors
		WHERE $1 ILIKE '%' || jail || '%'
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, jailName)
	if err != nil {
		return nil, fmt.Errorf("failed to query monitors: %w", err)
	}
	defer rows.Close()

	var monitors []models.MonitorRecord
	for rows.Next() {
		var m models.MonitorRecord
		var lastSeen sql.NullTime
		if err := rows.Scan(
			&m.ID, &m.DisplayName, &m.JailName, &m.LastArrestDate, &m.ReleaseDate,
			&m.ArrestReason, &m.ArrestingAgency, &m.Mugshot, &lastSeen, &m.LastSeenJailID,
			&m.Notification.Method, &m.Notification.Address, &m.Notification.Enabled, &m.OwnerUserID,
		); err != nil {
			return nil, fmt.Errorf("failed to scan monitor: %w", err)
		}
		m.LastSeenIncarcerated = timePtr(lastSeen)
		monitors = append(monitors, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate monitors: %w", err)
	}

	return monitors, nil
}

// Update writes the state fields the matcher and release inference own
func (r *MonitorRepository) Update(ctx context.Context, m models.MonitorRecord) error {
	query := `
		UPDATE monitors SET
			last_arrest_date = $2,
			release_date = $3,
			arrest_reason = $4,
			arresting_agency = $5,
			mugshot = $6,
			last_seen_incarcerated = $7,
			last_seen_jail_id = $8
		WHERE id = $1`

	_, err := r.db.ExecContext(ctx, query, m.ID, m.LastArrestDate, m.ReleaseDate, m.ArrestReason,
		m.ArrestingAgency, m.Mugshot, nullTime(m.LastSeenIncarcerated), m.LastSeenJailID)
	if err != nil {
		return fmt.Errorf("failed to update monitor %d: %w", m.ID, err)
	}
	return nil
}

// Create inserts a monitor and returns its id
func (r *MonitorRepository) Create(ctx context.Context, m models.MonitorRecord) (int64, error) {
	query := `
		INSERT INTO monitors (name, jail, last_arrest_date, release_date, arrest_reason, arresting_agency,
			mugshot, last_seen_incarcerated, last_seen_jail_id, notify_method, notify_address,
			enable_notifications, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id`

	var id int64
	err := r.db.QueryRowContext(ctx, query,
		m.DisplayName, m.JailName, m.LastArrestDate, m.ReleaseDate, m.ArrestReason, m.ArrestingAgency,
		m.Mugshot, nullTime(m.LastSeenIncarcerated), m.LastSeenJailID, m.Notification.Method, m.Notification.Address,
		m.Notification.Enabled, m.OwnerUserID,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to create monitor %q: %w", m.DisplayName, err)
	}
	return id, nil
}
