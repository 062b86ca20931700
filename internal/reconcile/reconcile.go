package reconcile

import (
	"fmt"
	"sort"
	"time"

	"incarceration-bot/internal/models"
)

// Options reconciliation parameters
type Options struct {
	Now            time.Time
	StaleThreshold time.Duration
}

// Reconcile compares a jail's open episodes with a fresh snapshot.
//
// prior must hold every open episode of the jail, loaded once per batch.
// snapshot must already be normalized. The returned plan does not depend on
// the order of either slice.
func Reconcile(prior []models.InmateRecord, snapshot []models.InmateRecord, jail models.Jail, opts Options) (*Plan, error) {
	if jail.ID == "" {
		return nil, fmt.Errorf("reconcile: %w: empty jail id", models.ErrJailMismatch)
	}

	priorByKey := make(map[models.IdentityKey]*models.InmateRecord, len(prior))
	priorByName := make(map[string][]*models.InmateRecord)
	for i := range prior {
		p := &prior[i]
		if p.JailID != jail.ID {
			return nil, fmt.Errorf("reconcile: %w: prior episode %d belongs to %q, processing %q",
				models.ErrJailMismatch, p.ID, p.JailID, jail.ID)
		}
		if !p.IsOpen() {
			continue
		}
		priorByKey[p.Key()] = p
		priorByName[p.Name] = append(priorByName[p.Name], p)
	}

	// collapse duplicate identities inside the snapshot, later rows win
	current := make(map[models.IdentityKey]models.InmateRecord, len(snapshot))
	for _, s := range snapshot {
		if s.JailID != jail.ID {
			return nil, fmt.Errorf("reconcile: %w: snapshot row %s belongs to %q",
				models.ErrJailMismatch, s.Key(), s.JailID)
		}
		current[s.Key()] = s
	}

	plan := &Plan{JailID: jail.ID}
	seen := make(map[int64]bool, len(current))
	closures := make(map[int64]Closure)

	// pass 1: exact identity matches
	var fresh []models.InmateRecord
	for key, s := range current {
		p, ok := priorByKey[key]
		if !ok {
			fresh = append(fresh, s)
			continue
		}
		seen[p.ID] = true

		if s.ReleaseDate != "" {
			closures[p.ID] = Closure{ID: p.ID, Key: key, ReleaseDate: s.ReleaseDate, Reason: ReasonSourceRelease}
		}

		if u, ok := refresh(p, &s, opts); ok {
			plan.Updates = append(plan.Updates, u)
		} else {
			plan.Unchanged++
		}
	}

	// pass 2: new identities. A visible arrest_date change for a name that
	// still has an older open episode means that stay ended the day before.
	for _, s := range fresh {
		for _, p := range priorByName[s.Name] {
			if seen[p.ID] || !p.ArrestDate.Before(s.ArrestDate) {
				continue
			}
			releaseDate := models.FormatDate(s.ArrestDate.AddDate(0, 0, -1))
			if existing, ok := closures[p.ID]; ok && existing.ReleaseDate <= releaseDate {
				continue
			}
			closures[p.ID] = Closure{ID: p.ID, Key: p.Key(), ReleaseDate: releaseDate, Reason: ReasonCustodyGap}
		}
		plan.Inserts = append(plan.Inserts, s)
	}

	for _, c := range closures {
		plan.Closures = append(plan.Closures, c)
	}

	for i := range prior {
		p := &prior[i]
		if !p.IsOpen() || seen[p.ID] {
			continue
		}
		if _, closing := closures[p.ID]; closing {
			continue
		}
		plan.Unseen = append(plan.Unseen, *p)
	}

	sortPlan(plan)
	return plan, nil
}

// refresh decides whether a re-observed episode needs a write. Display fields
// are always taken from the snapshot, except that a scrape without a mugshot
// never blanks a stored one.
func refresh(p, s *models.InmateRecord, opts Options) (Update, bool) {
	rec := *p
	rec.CellBlock = s.CellBlock
	rec.HeldForAgency = s.HeldForAgency
	rec.BookingCharges = s.BookingCharges
	rec.IsJuvenile = s.IsJuvenile
	if s.Mugshot != "" {
		rec.Mugshot = s.Mugshot
	}

	changed := !p.SameDisplay(&rec)
	stale := p.LastSeen == nil || opts.Now.Sub(*p.LastSeen) > opts.StaleThreshold
	if !stale && !changed {
		return Update{}, false
	}
	if stale {
		now := opts.Now
		rec.LastSeen = &now
	}
	return Update{Record: rec, TouchLastSeen: stale, DisplayChanged: changed}, true
}

func sortPlan(plan *Plan) {
	sort.Slice(plan.Inserts, func(i, j int) bool {
		return plan.Inserts[i].Key().String() < plan.Inserts[j].Key().String()
	})
	sort.Slice(plan.Updates, func(i, j int) bool {
		return plan.Updates[i].Record.ID < plan.Updates[j].Record.ID
	})
	sort.Slice(plan.Closures, func(i, j int) bool {
		return plan.Closures[i].ID < plan.Closures[j].ID
	})
	sort.Slice(plan.Unseen, func(i, j int) bool {
		return plan.Unseen[i].ID < plan.Unseen[j].ID
	})
}
