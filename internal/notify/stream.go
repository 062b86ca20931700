package notify

import (
	"context"
	"time"

	rediscommon "incarceration-bot/common/redis"
	"incarceration-bot/internal/models"

	"github.com/google/uuid"
)

// StreamPublisher appends match events to a Redis stream
type StreamPublisher struct {
	client rediscommon.StreamAdder
	stream string
	maxLen int64
}

// NewStreamPublisher creates a stream publisher capped at roughly maxLen entries
func NewStreamPublisher(client rediscommon.StreamAdder, stream string, maxLen int64) *StreamPublisher {
	return &StreamPublisher{client: client, stream: stream, maxLen: maxLen}
}

type streamEvent struct {
	EventID     string `json:"event_id"`
	Type        string `json:"type"`
	MonitorID   int64  `json:"monitor_id"`
	OwnerUserID int64  `json:"owner_user_id"`
	Name        string `json:"name"`
	JailID      string `json:"jail_id,omitempty"`
	ArrestDate  string `json:"arrest_date,omitempty"`
	ReleaseDate string `json:"release_date,omitempty"`
	Partial     bool   `json:"partial"`
	OccurredAt  string `json:"occurred_at"`
}

// Publish implements EventSink
func (p *StreamPublisher) Publish(ctx context.Context, e models.MatchEvent) error {
	_, err := rediscommon.PublishJSONToStream(ctx, p.client, p.stream, p.maxLen, streamEvent{
		EventID:     uuid.New().String(),
		Type:        string(e.Type),
		MonitorID:   e.Monitor.ID,
		OwnerUserID: e.Monitor.OwnerUserID,
		Name:        e.Inmate.Name,
		JailID:      e.Inmate.JailID,
		ArrestDate:  models.FormatDate(e.Inmate.ArrestDate),
		ReleaseDate: e.Inmate.ReleaseDate,
		Partial:     e.Partial,
		OccurredAt:  time.Now().UTC().Format(time.RFC3339),
	})
	return err
}
