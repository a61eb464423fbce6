package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"

	"school-meals/internal/logger"
	"school-meals/internal/messaging"
	"school-meals/internal/models"
)

// EventSource delivers raw message bodies to a handler until ctx ends
type EventSource interface {
	StartConsuming(ctx context.Context, handler messaging.MessageHandler) error
	Close() error
}

// Subscriber prints meal event notifications
type Subscriber struct {
	source EventSource
	logger *logger.Logger
	out    io.Writer
}

// NewSubscriber creates a new notification subscriber
func NewSubscriber(source EventSource, log *logger.Logger) *Subscriber {
	return &Subscriber{
		source: source,
		logger: log,
		out:    os.Stdout,
	}
}

// Start consumes events until ctx is cancelled, then closes the source
func (s *Subscriber) Start(ctx context.Context) error {
	requestID := logger.GenerateRequestID()
	s.logger.Info("service_started", "Notification subscriber started", requestID, nil)

	err := s.source.StartConsuming(ctx, s.handleEvent)

	s.logger.Info("graceful_shutdown", "Stopping notification subscriber", requestID, nil)
	if closeErr := s.source.Close(); closeErr != nil {
		s.logger.Error("graceful_shutdown", "Failed to close consumer", requestID, closeErr, nil)
	}

	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	s.logger.Info("graceful_shutdown", "Graceful shutdown completed", requestID, nil)
	return nil
}

func (s *Subscriber) handleEvent(ctx context.Context, body []byte) error {
	var event models.MealEvent
	if err := json.Unmarshal(body, &event); err != nil {
		s.logger.Error("message_parsing_failed", "Failed to parse meal event", "", err, nil)
		return fmt.Errorf("failed to parse meal event: %w: %w", messaging.ErrPermanent, err)
	}
	if event.Type == "" {
		return fmt.Errorf("meal event without type: %w", messaging.ErrPermanent)
	}

	fmt.Fprintf(s.out, "[%s] %s\n", event.Timestamp.Format("2006-01-02 15:04:05"), event.Describe())

	s.logger.Info("notification_displayed", "Notification displayed", event.RequestID, map[string]interface{}{
		"event_type": string(event.Type),
		"user_id":    event.UserID,
		"order_id":   event.OrderID,
		"count":      event.Count,
	})
	return nil
}
