package models

import (
	"fmt"
	"time"
)

// EventType names a meal event; it doubles as the routing key
type EventType string

const (
	EventOrderPlaced        EventType = "order.placed"
	EventOrderCancelled     EventType = "order.cancelled"
	EventMealDateDeleted    EventType = "meal_date.deleted"
	EventClassOrdersDeleted EventType = "class_orders.deleted"
	EventMealDatesCreated   EventType = "meal_dates.created"
)

// MealEvent is published after a committed change to the calendar or the ledger
type MealEvent struct {
	Type      EventType        `json:"type"`
	RequestID string           `json:"request_id,omitempty"`
	UserID    int64            `json:"user_id,omitempty"`
	OrderID   int64            `json:"order_id,omitempty"`
	ClassID   int64            `json:"class_id,omitempty"`
	Dates     []Date           `json:"dates,omitempty"`
	Amount    *Money           `json:"amount,omitempty"`
	Count     int              `json:"count,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// NewMealEvent stamps an event of the given type with the current time
func NewMealEvent(t EventType, requestID string) MealEvent {
	return MealEvent{Type: t, RequestID: requestID, Timestamp: time.Now().UTC()}
}

// RoutingKey returns the topic routing key used for the event
func (e MealEvent) RoutingKey() string {
	return string(e.Type)
}

// Describe renders the event as a human readable notification
func (e MealEvent) Describe() string {
	day := ""
	if len(e.Dates) > 0 {
		day = e.Dates[0].String()
	}
	switch e.Type {
	case EventOrderPlaced:
		return fmt.Sprintf("User %d ordered a meal for %s (order %d)", e.UserID, day, e.OrderID)
	case EventOrderCancelled:
		return fmt.Sprintf("User %d cancelled the meal for %s (order %d)", e.UserID, day, e.OrderID)
	case EventMealDateDeleted:
		return fmt.Sprintf("Meal on %s was removed, %d orders refunded", day, e.Count)
	case EventClassOrdersDeleted:
		return fmt.Sprintf("%d orders of class %d were removed and refunded", e.Count, e.ClassID)
	case EventMealDatesCreated:
		return fmt.Sprintf("%d new meal dates starting %s", len(e.Dates), day)
	default:
		return fmt.Sprintf("Unknown event %s", e.Type)
	}
}
