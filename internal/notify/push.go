package notify

import (
	"context"
	"fmt"
	"time"

	"incarceration-bot/internal/models"

	"github.com/go-resty/resty/v2"
	"github.com/sony/gobreaker"
	"go.uber.org/zap"
)

// PushNotifier posts notifications to the web app's push endpoint. A circuit
// breaker stops calls for a while after repeated failures.
type PushNotifier struct {
	httpClient *resty.Client
	breaker    *gobreaker.CircuitBreaker
	logger     *zap.Logger
}

type pushRequest struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Recipient  string `json:"recipient"`
	Attachment string `json:"attachment,omitempty"`
}

// NewPushNotifier creates a push notifier for baseURL
func NewPushNotifier(baseURL, apiToken string, timeout time.Duration, logger *zap.Logger) *PushNotifier {
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if apiToken != "" {
		client.SetAuthToken(apiToken)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "push-notifier",
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Info("Circuit breaker state changed",
				zap.String("name", name),
				zap.String("from", from.String()),
				zap.String("to", to.String()))
		},
	})

	return &PushNotifier{
		httpClient: client,
		breaker:    breaker,
		logger:     logger,
	}
}

// Send posts n to /api/notifications
func (p *PushNotifier) Send(ctx context.Context, n models.Notification) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		resp, err := p.httpClient.R().
			SetContext(ctx).
			SetBody(pushRequest{
				Title:      n.Title,
				Body:       n.Body,
				Recipient:  n.RecipientAddress,
				Attachment: n.Attachment,
			}).
			Post("/api/notifications")
		if err != nil {
			return nil, fmt.Errorf("failed to call push endpoint: %w", err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("push endpoint returned %d", resp.StatusCode())
		}
		return nil, nil
	})
	return err
}
