package reconcile

import (
	"time"

	"incarceration-bot/internal/models"
)

// Closure reasons
const (
	ReasonCustodyGap    = "custody_gap"
	ReasonSourceRelease = "source_release"
	ReasonAbsent        = "absent"
)

// Update a re-observed episode whose stored row needs rewriting.
// Record carries the stored ID and the refreshed display fields.
type Update struct {
	Record         models.InmateRecord
	TouchLastSeen  bool // previous last_seen was NULL or older than the threshold
	DisplayChanged bool
}

// Closure an open episode to close with ReleaseDate
type Closure struct {
	ID          int64
	Key         models.IdentityKey
	ReleaseDate string
	Reason      string
	// background closures only apply while last_seen is NULL or before this
	SeenBefore  time.Time
}

// Plan the writes one snapshot implies for one jail
type Plan struct {
	JailID    string
	Inserts   []models.InmateRecord
	Updates   []Update
	Closures  []Closure
	// open episodes absent from the snapshot; release candidates for the background pass
	Unseen    []models.InmateRecord
	// re-observed episodes needing no write
	Unchanged int
}

// Empty reports whether the plan carries no writes
func (p *Plan) Empty() bool {
	return len(p.Inserts) == 0 && len(p.Updates) == 0 && len(p.Closures) == 0
}
