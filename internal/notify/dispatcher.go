package notify

import (
	"context"
	"errors"

	"incarceration-bot/internal/metrics"
	"incarceration-bot/internal/models"

	"go.uber.org/zap"
)

// Notifier delivers one notification
type Notifier interface {
	Send(ctx context.Context, n models.Notification) error
}

// EventSink records match events for other consumers (the web API)
type EventSink interface {
	Publish(ctx context.Context, e models.MatchEvent) error
}

// Dispatcher routes events to the notifier of each monitor's method. Delivery
// is best effort: every failure is logged and dropped.
type Dispatcher struct {
	notifiers map[string]Notifier
	sink      EventSink
	metrics   *metrics.Metrics
	logger    *zap.Logger
}

// NewDispatcher creates a dispatcher. sink may be nil.
func NewDispatcher(notifiers map[string]Notifier, sink EventSink, m *metrics.Metrics, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		notifiers: notifiers,
		sink:      sink,
		metrics:   m,
		logger:    logger,
	}
}

// Dispatch delivers the notifying events and returns how many were delivered
func (d *Dispatcher) Dispatch(ctx context.Context, events []models.MatchEvent) int {
	delivered := 0
	for _, e := range events {
		d.metrics.IncMatchEvent(string(e.Type))
		if !e.Notifies() {
			continue
		}

		if d.sink != nil {
			if err := d.sink.Publish(ctx, e); err != nil {
				d.logger.Warn("Failed to record match event",
					zap.String("type", string(e.Type)),
					zap.Int64("monitor_id", e.Monitor.ID),
					zap.Error(err),
				)
			}
		}

		if !e.Monitor.Notification.Enabled {
			continue
		}
		if err := d.send(ctx, BuildNotification(e)); err != nil {
			var derr *models.NotificationDeliveryError
			if errors.As(err, &derr) {
				d.logger.Warn("Notification not delivered",
					zap.String("method", derr.Method),
					zap.Int64("monitor_id", e.Monitor.ID),
					zap.String("type", string(e.Type)),
					zap.Error(derr.Err),
				)
			}
			continue
		}
		delivered++
	}
	return delivered
}

func (d *Dispatcher) send(ctx context.Context, n models.Notification) error {
	notifier, ok := d.notifiers[n.RecipientMethod]
	if !ok {
		return &models.NotificationDeliveryError{Method: n.RecipientMethod, Err: errors.New("no notifier configured")}
	}

	err := notifier.Send(ctx, n)
	d.metrics.IncNotification(n.RecipientMethod, err)
	if err != nil {
		return &models.NotificationDeliveryError{Method: n.RecipientMethod, Err: err}
	}
	return nil
}
