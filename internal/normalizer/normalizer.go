package normalizer

import (
	"errors"
	"strings"
	"time"

	"incarceration-bot/internal/models"

	"go.uber.org/zap"
)

// Normalize turns one scraped row into an InmateRecord observed at now.
// A missing or unparseable arrest date is a *models.NormalizationError; every
// other malformed value degrades to empty.
func Normalize(raw models.RawInmate, jailID string, now time.Time) (models.InmateRecord, error) {
	name := CleanText(raw.Name)
	if name == "" {
		return models.InmateRecord{}, &models.NormalizationError{Field: "name", Reason: "empty", Value: raw.Name}
	}

	arrestDate, ok := ParseDate(raw.ArrestDate)
	if !ok {
		return models.InmateRecord{}, &models.NormalizationError{Field: "arrest_date", Reason: "missing or unparseable", Value: raw.ArrestDate}
	}

	var releaseDate string
	if d, ok := ParseDate(raw.ReleaseDate); ok {
		releaseDate = d.Format(models.DateLayout)
	}

	dob := CleanText(raw.DateOfBirth)
	if IsSentinel(dob) {
		dob = ""
	}

	seen := now
	return models.InmateRecord{
		JailID:         jailID,
		Name:           name,
		Race:           CleanText(raw.Race),
		Sex:            CleanText(raw.Sex),
		DateOfBirth:    dob,
		CellBlock:      CleanText(raw.CellBlock),
		ArrestDate:     arrestDate,
		HeldForAgency:  CleanText(raw.HeldForAgency),
		BookingCharges: CleanCharges(raw.Charges),
		IsJuvenile:     ParseBool(raw.IsJuvenile),
		ReleaseDate:    releaseDate,
		InCustodyDate:  models.DateOnly(now),
		LastSeen:       &seen,
		Mugshot:        strings.TrimSpace(raw.Mugshot),
	}, nil
}

// NormalizeSnapshot normalizes a whole scrape. Bad rows are logged and skipped
// so one malformed record never drops a jail's roster.
func NormalizeSnapshot(raws []models.RawInmate, jailID string, now time.Time, logger *zap.Logger) ([]models.InmateRecord, []error) {
	records := make([]models.InmateRecord, 0, len(raws))
	var errs []error

	for i, raw := range raws {
		rec, err := Normalize(raw, jailID, now)
		if err != nil {
			var nerr *models.NormalizationError
			if errors.As(err, &nerr) {
				logger.Warn("Skipping roster row",
					zap.String("jail_id", jailID),
					zap.Int("row", i),
					zap.String("field", nerr.Field),
					zap.String("reason", nerr.Reason),
				)
			}
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}

	return records, errs
}
