package models

import "time"

// Notification methods understood by notify.Dispatcher
const (
	NotifyMethodPush = "push"
	NotifyMethodMQTT = "mqtt"
)

// NotificationConfig where a monitor's alerts are delivered
type NotificationConfig struct {
	Method  string
	Address string
	Enabled bool
}

// MonitorRecord a person a user wants alerted about
type MonitorRecord struct {
	ID                   int64
	DisplayName          string
	JailName             string
	LastArrestDate       string
	ReleaseDate          string
	ArrestReason         string
	ArrestingAgency      string
	Mugshot              string
	LastSeenIncarcerated *time.Time
	// jail whose roster last set LastSeenIncarcerated
	LastSeenJailID       string
	Notification         NotificationConfig
	OwnerUserID          int64
}

// MatchEventType kind of watch-list transition
type MatchEventType string

const (
	EventArrested          MatchEventType = "arrested"
	EventReleased          MatchEventType = "released"
	EventStillIncarcerated MatchEventType = "still_incarcerated"
)

// MatchEvent one monitor/inmate transition. Arrested and Released notify;
// StillIncarcerated only refreshes state.
type MatchEvent struct {
	Type    MatchEventType
	Monitor MonitorRecord
	Inmate  InmateRecord
	Partial bool // matched by token containment, not exact name
}

// Notifies reports whether the event produces a notification
func (e MatchEvent) Notifies() bool {
	return e.Type == EventArrested || e.Type == EventReleased
}

// Notification payload handed to the delivery collaborator
type Notification struct {
	Title            string
	Body             string
	RecipientAddress string
	RecipientMethod  string
	Attachment       string // base64 image, optional
}
