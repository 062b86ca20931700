package release

import (
	"time"

	"incarceration-bot/internal/models"
	"incarceration-bot/internal/reconcile"
)

// Candidates picks the unseen open episodes the background pass should close:
// those not confirmed since before yesterday. The release date is the day the
// episode was last seen, or yesterday when it never was.
func Candidates(unseen []models.InmateRecord, now time.Time) []reconcile.Closure {
	yesterday := models.DateOnly(now).AddDate(0, 0, -1)

	var closures []reconcile.Closure
	for i := range unseen {
		rec := &unseen[i]
		if !rec.IsOpen() {
			continue
		}

		releaseDate := models.FormatDate(yesterday)
		if rec.LastSeen != nil {
			if !rec.LastSeen.Before(yesterday) {
				continue
			}
			releaseDate = models.FormatDate(models.DateOnly(rec.LastSeen.In(now.Location())))
		}

		closures = append(closures, reconcile.Closure{
			ID:          rec.ID,
			Key:         rec.Key(),
			ReleaseDate: releaseDate,
			Reason:      reconcile.ReasonAbsent,
			SeenBefore:  yesterday,
		})
	}
	return closures
}
