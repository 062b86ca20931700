package release

import (
	"time"

	"incarceration-bot/internal/models"
)

// InferMonitorReleases marks monitors released when they were last confirmed
// in custody at jail but their name is missing from its snapshot. Monitors
// last seen at another jail are left to that jail's run. It returns the
// changed monitors and one Released event per monitor; the event inmate is
// rebuilt from the monitor's stored fields since the roster no longer lists
// the person.
func InferMonitorReleases(monitors []models.MonitorRecord, matchedNames map[string]bool, jail models.Jail, today time.Time) ([]models.MonitorRecord, []models.MatchEvent) {
	releaseDate := models.FormatDate(today)

	var changed []models.MonitorRecord
	var events []models.MatchEvent
	for _, m := range monitors {
		if m.LastSeenIncarcerated == nil || m.ReleaseDate != "" || matchedNames[m.DisplayName] {
			continue
		}
		if m.LastSeenJailID != jail.ID {
			continue
		}

		m.ReleaseDate = releaseDate
		changed = append(changed, m)
		events = append(events, models.MatchEvent{
			Type:    models.EventReleased,
			Monitor: m,
			Inmate:  synthesizeInmate(m),
		})
	}
	return changed, events
}

func synthesizeInmate(m models.MonitorRecord) models.InmateRecord {
	rec := models.InmateRecord{
		JailID:         m.LastSeenJailID,
		Name:           m.DisplayName,
		HeldForAgency:  m.ArrestingAgency,
		BookingCharges: m.ArrestReason,
		ReleaseDate:    m.ReleaseDate,
		Mugshot:        m.Mugshot,
		LastSeen:       m.LastSeenIncarcerated,
	}
	if d, err := time.Parse(models.DateLayout, m.LastArrestDate); err == nil {
		rec.ArrestDate = d
	}
	return rec
}
