package order

import (
	"context"

	"school-meals/internal/logger"
	"school-meals/internal/metrics"
	"school-meals/internal/models"
)

// EventPublisher delivers committed changes to subscribers
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.MealEvent) error
}

// Publish hands a committed event to events; a nil publisher drops it.
// Failures are logged and counted, the committed workflow stands.
func Publish(ctx context.Context, events EventPublisher, log *logger.Logger, event models.MealEvent) {
	if events == nil {
		return
	}
	err := events.PublishEvent(context.WithoutCancel(ctx), event)
	metrics.RecordEventPublished(string(event.Type), err)
	if err != nil {
		log.Error("event_publish_failed", "Failed to publish meal event", event.RequestID, err, map[string]interface{}{
			"event_type": string(event.Type),
		})
	}
}
