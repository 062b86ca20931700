package matcher

import (
	"time"

	"incarceration-bot/internal/models"
)

// Result of matching one jail snapshot against its monitors
type Result struct {
	Events []models.MatchEvent
	// monitors whose state changed, including last_seen_incarcerated refreshes
	Updated []models.MonitorRecord
	// monitors cloned from partial matches; ID is zero until stored
	Created []models.MonitorRecord
	// display names present in the snapshot, exactly or partially
	MatchedNames map[string]bool
}

// Matcher matches roster snapshots against the watch list
type Matcher struct {
	minSharedTokens int
}

// New creates a matcher. minSharedTokens below 1 falls back to 2.
func New(minSharedTokens int) *Matcher {
	if minSharedTokens < 1 {
		minSharedTokens = 2
	}
	return &Matcher{minSharedTokens: minSharedTokens}
}

type candidate struct {
	inmate  *models.InmateRecord
	partial bool
}

// better prefers exact over partial matches, then the most recent arrest
func (c candidate) better(o candidate) bool {
	if c.partial != o.partial {
		return !c.partial
	}
	if !c.inmate.ArrestDate.Equal(o.inmate.ArrestDate) {
		return c.inmate.ArrestDate.After(o.inmate.ArrestDate)
	}
	return c.inmate.Key().String() < o.inmate.Key().String()
}

// Match evaluates every monitor against the snapshot. Exact display-name
// matches fan out to all monitors carrying the name; token containment is
// only tried for inmate names nobody monitors exactly.
func (m *Matcher) Match(snapshot []models.InmateRecord, monitors []models.MonitorRecord, now time.Time) *Result {
	res := &Result{MatchedNames: make(map[string]bool)}
	if len(monitors) == 0 {
		return res
	}

	byName := make(map[string][]int)
	tokens := make([]tokenSet, len(monitors))
	for i := range monitors {
		byName[monitors[i].DisplayName] = append(byName[monitors[i].DisplayName], i)
		tokens[i] = newTokenSet(monitors[i].DisplayName)
	}

	best := make(map[int]candidate)
	// monitor index -> jail the monitor was seen at
	present := make(map[int]string)
	offer := func(i int, c candidate) {
		present[i] = c.inmate.JailID
		if cur, ok := best[i]; !ok || c.better(cur) {
			best[i] = c
		}
	}

	for k := range snapshot {
		inmate := &snapshot[k]
		if exact := byName[inmate.Name]; len(exact) > 0 {
			for _, i := range exact {
				offer(i, candidate{inmate: inmate})
			}
			// shadowed partial matches still count as presence
			m.markPartial(inmate, tokens, present)
			continue
		}

		inmateTokens := newTokenSet(inmate.Name)
		for i := range monitors {
			if partial(tokens[i], inmateTokens, m.minSharedTokens) {
				offer(i, candidate{inmate: inmate, partial: true})
			}
		}
	}

	cloned := make(map[cloneKey]bool)
	for i := range monitors {
		jailID, ok := present[i]
		if !ok {
			continue
		}
		mon := monitors[i]
		seen := now
		mon.LastSeenIncarcerated = &seen
		mon.LastSeenJailID = jailID
		res.MatchedNames[mon.DisplayName] = true

		if c, ok := best[i]; ok {
			if c.partial && models.FormatDate(c.inmate.ArrestDate) != mon.LastArrestDate {
				key := cloneKey{owner: mon.OwnerUserID, name: c.inmate.Name}
				if !cloned[key] {
					cloned[key] = true
					clone := cloneMonitor(mon, c.inmate, now)
					res.Events = append(res.Events, transitions(&clone, c.inmate, true)...)
					res.Created = append(res.Created, clone)
					res.MatchedNames[clone.DisplayName] = true
				}
			} else {
				res.Events = append(res.Events, transitions(&mon, c.inmate, c.partial)...)
			}
		}

		res.Updated = append(res.Updated, mon)
	}

	return res
}

func (m *Matcher) markPartial(inmate *models.InmateRecord, tokens []tokenSet, present map[int]string) {
	inmateTokens := newTokenSet(inmate.Name)
	for i := range tokens {
		if _, ok := present[i]; ok {
			continue
		}
		if partial(tokens[i], inmateTokens, m.minSharedTokens) {
			present[i] = inmate.JailID
		}
	}
}

type cloneKey struct {
	owner int64
	name  string
}

// cloneMonitor binds a new monitor to the exact scraped name, keeping the
// owner and notification settings of the monitor that matched partially
func cloneMonitor(src models.MonitorRecord, inmate *models.InmateRecord, now time.Time) models.MonitorRecord {
	seen := now
	return models.MonitorRecord{
		DisplayName:          inmate.Name,
		JailName:             src.JailName,
		LastSeenIncarcerated: &seen,
		LastSeenJailID:       inmate.JailID,
		Notification:         src.Notification,
		OwnerUserID:          src.OwnerUserID,
	}
}

// transitions applies the inmate's state to mon and returns the events the
// change produces
func transitions(mon *models.MonitorRecord, inmate *models.InmateRecord, isPartial bool) []models.MatchEvent {
	arrestDate := models.FormatDate(inmate.ArrestDate)
	var events []models.MatchEvent

	if arrestDate != mon.LastArrestDate {
		mon.LastArrestDate = arrestDate
		mon.ArrestReason = inmate.BookingCharges
		mon.ArrestingAgency = inmate.HeldForAgency
		mon.ReleaseDate = ""
		if inmate.Mugshot != "" {
			mon.Mugshot = inmate.Mugshot
		}
		events = append(events, models.MatchEvent{Type: models.EventArrested, Monitor: *mon, Inmate: *inmate, Partial: isPartial})
	}

	switch {
	case inmate.ReleaseDate != "" && inmate.ReleaseDate != mon.ReleaseDate:
		mon.ReleaseDate = inmate.ReleaseDate
		events = append(events, models.MatchEvent{Type: models.EventReleased, Monitor: *mon, Inmate: *inmate, Partial: isPartial})
	case inmate.ReleaseDate == "" && mon.ReleaseDate != "":
		// listed as in custody on the same arrest: an earlier release was wrong
		mon.ReleaseDate = ""
	}

	if len(events) == 0 {
		if inmate.Mugshot != "" {
			mon.Mugshot = inmate.Mugshot
		}
		events = append(events, models.MatchEvent{Type: models.EventStillIncarcerated, Monitor: *mon, Inmate: *inmate, Partial: isPartial})
	}
	return events
}
