package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"incarceration-bot/internal/models"

	"go.uber.org/zap"
)

const inmateColumns = `id, jail_id, name, race, sex, dob, cell_block, arrest_date, held_for_agency,
	booking_charges, is_juvenile, release_date, in_custody_date, last_seen, hidden, mugshot`

// InmateRepository inmate episode repository
type InmateRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewInmateRepository creates a new inmate repository
func NewInmateRepository(db DBTX, logger *zap.Logger) *InmateRepository {
	return &InmateRepository{
		db:     db,
		logger: logger,
	}
}

// ExistingEpisode what the large-table path needs to know about a stored identity
type ExistingEpisode struct {
	ID          int64
	LastSeen    *time.Time
	ReleaseDate string
}

// LoadOpenEpisodes loads every open episode of a jail
func (r *InmateRepository) LoadOpenEpisodes(ctx context.Context, jailID string) ([]models.InmateRecord, error) {
	query := `SELECT ` + inmateColumns + `
		FROM inmates
		WHERE jail_id = $1 AND release_date = ''
		ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, jailID)
	if err != nil {
		return nil, fmt.Errorf("failed to query open episodes: %w", err)
	}
	defer rows.Close()

	var records []models.InmateRecord
	for rows.Next() {
		var rec models.InmateRecord
		var lastSeen sql.NullTime
		if err := rows.Scan(
			&rec.ID, &rec.JailID, &rec.Name, &rec.Race, &rec.Sex, &rec.DateOfBirth,
			&rec.CellBlock, &rec.ArrestDate, &rec.HeldForAgency, &rec.BookingCharges,
			&rec.IsJuvenile, &rec.ReleaseDate, &rec.InCustodyDate, &lastSeen,
			&rec.Hidden, &rec.Mugshot,
		); err != nil {
			return nil, fmt.Errorf("failed to scan episode: %w", err)
		}
		rec.ArrestDate = rec.ArrestDate.UTC()
		rec.LastSeen = timePtr(lastSeen)
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate episodes: %w", err)
	}

	return records, nil
}

// CountForJail counts stored episodes (open and closed) of a jail
func (r *InmateRepository) CountForJail(ctx context.Context, jailID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM inmates WHERE jail_id = $1`, jailID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count inmates: %w", err)
	}
	return n, nil
}

// LoadExistingKeys loads the identity keys stored for a jail whose arrest date
// falls inside [from, to]. Bounding the range keeps the pre-filter read small
// for jails with long histories.
func (r *InmateRepository) LoadExistingKeys(ctx context.Context, jailID string, from, to time.Time) (map[models.IdentityKey]ExistingEpisode, error) {
	query := `
		SELECT id, arrest_date, name, dob, sex, race, last_seen, release_date
		FROM inmates
		WHERE jail_id = $1 AND arrest_date BETWEEN $2 AND $3`

	rows, err := r.db.QueryContext(ctx, query, jailID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to query identity keys: %w", err)
	}
	defer rows.Close()

	keys := make(map[models.IdentityKey]ExistingEpisode)
	for rows.Next() {
		var (
			ep         ExistingEpisode
			arrestDate time.Time
			key        = models.IdentityKey{JailID: jailID}
			lastSeen   sql.NullTime
		)
		if err := rows.Scan(&ep.ID, &arrestDate, &key.Name, &key.DateOfBirth, &key.Sex, &key.Race,
			&lastSeen, &ep.ReleaseDate); err != nil {
			return nil, fmt.Errorf("failed to scan identity key: %w", err)
		}
		key.ArrestDate = models.FormatDate(arrestDate.UTC())
		ep.LastSeen = timePtr(lastSeen)
		keys[key] = ep
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate identity keys: %w", err)
	}

	return keys, nil
}

// CloseEpisode sets release_date on an open episode that has not been seen
// since seenBefore. Returns false when the episode was already closed or a
// later scrape confirmed it.
func (r *InmateRepository) CloseEpisode(ctx context.Context, id int64, releaseDate string, seenBefore time.Time) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		`UPDATE inmates SET release_date = $2
		WHERE id = $1 AND release_date = '' AND (last_seen IS NULL OR last_seen < $3)`,
		id, releaseDate, seenBefore)
	if err != nil {
		return false, fmt.Errorf("failed to close episode %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return n > 0, nil
}
