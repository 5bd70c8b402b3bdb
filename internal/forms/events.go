package forms

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/google/uuid"
)

// Event types published to the queue.
const (
	EventResponseSubmitted = "response.submitted"
	EventResponseDecided   = "response.decided"
)

// EventPublisher publishes engine events; *mq.Producer satisfies it.
type EventPublisher interface {
	Publish(ctx context.Context, key string, value []byte, headers map[string]string) error
}

// ResponseEvent is the envelope for submission and decision events. EventID
// uniquely identifies one emission so consumers can deduplicate redeliveries.
type ResponseEvent struct {
	EventID    string    `json:"eventId"`
	Type       string    `json:"type"`
	FormID     int64     `json:"formId"`
	ResponseID int64     `json:"responseId"`
	GuildID    int64     `json:"guildId"`
	Status     string    `json:"status,omitempty"`
	InviteCode string    `json:"inviteCode,omitempty"`
	OccurredAt time.Time `json:"occurredAt"`
}

// publishEvent fires an event without blocking the caller's outcome: a
// publish failure is logged, never surfaced.
func publishEvent(ctx context.Context, publisher EventPublisher, key string, event ResponseEvent) {
	if publisher == nil {
		return
	}

	event.EventID = uuid.NewString()
	payload, err := json.Marshal(event)
	if err != nil {
		log.Printf("forms: marshal %s event: %v", event.Type, err)
		return
	}

	if err := publisher.Publish(ctx, key, payload, map[string]string{
		"event_type": event.Type,
		"event_id":   event.EventID,
	}); err != nil {
		log.Printf("forms: publish %s event for response %d: %v", event.Type, event.ResponseID, err)
	}
}
