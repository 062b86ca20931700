package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"incarceration-bot/internal/models"
)

// Publisher is the publish surface of common/mqtt.Client
type Publisher interface {
	Publish(topic string, retained bool, payload []byte, timeout time.Duration) error
}

// MQTTNotifier publishes notifications to <prefix>/<recipient address>
type MQTTNotifier struct {
	publisher   Publisher
	topicPrefix string
	timeout     time.Duration
}

// NewMQTTNotifier creates an MQTT notifier
func NewMQTTNotifier(publisher Publisher, topicPrefix string, timeout time.Duration) *MQTTNotifier {
	return &MQTTNotifier{
		publisher:   publisher,
		topicPrefix: strings.TrimSuffix(topicPrefix, "/"),
		timeout:     timeout,
	}
}

type mqttPayload struct {
	Title      string `json:"title"`
	Body       string `json:"body"`
	Attachment string `json:"attachment,omitempty"`
	SentAt     int64  `json:"sent_at"`
}

// Send publishes n; the deadline of ctx shortens the broker wait
func (m *MQTTNotifier) Send(ctx context.Context, n models.Notification) error {
	if n.RecipientAddress == "" {
		return fmt.Errorf("empty MQTT recipient")
	}

	payload, err := json.Marshal(mqttPayload{
		Title:      n.Title,
		Body:       n.Body,
		Attachment: n.Attachment,
		SentAt:     time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}

	timeout := m.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if left := time.Until(deadline); left < timeout {
			timeout = left
		}
	}

	return m.publisher.Publish(m.topicPrefix+"/"+n.RecipientAddress, false, payload, timeout)
}
