// Package calendar manages the days on which meals are offered.
package calendar

import (
	"context"
	"errors"
	"strings"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/metrics"
	"school-meals/internal/models"
	"school-meals/internal/services/order"
	"school-meals/internal/storage"
)

type Service struct {
	store  storage.Store
	window *order.Window
	events order.EventPublisher
	logger *logger.Logger
}

func NewService(store storage.Store, window *order.Window, events order.EventPublisher, log *logger.Logger) *Service {
	return &Service{store: store, window: window, events: events, logger: log}
}

// RangeRequest is an inclusive range of days
type RangeRequest struct {
	StartDate models.Date `json:"startDate"`
	EndDate   models.Date `json:"endDate"`
}

// CreateRange adds a meal date for every weekday in the range. The batch is
// rejected as a whole when any of the days is already on the calendar.
func (s *Service) CreateRange(ctx context.Context, req RangeRequest) ([]models.MealDate, error) {
	if err := order.ValidateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	days := models.Weekdays(req.StartDate, req.EndDate)
	if len(days) == 0 {
		return nil, apperr.Invalid("endDate", "range contains only weekend days")
	}

	var created []models.MealDate
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		existing, err := tx.FindMealDates(ctx, days)
		if err != nil {
			return err
		}
		if len(existing) > 0 {
			return apperr.Conflict("meal dates already exist: %s", joinDates(existing))
		}

		created, err = tx.InsertMealDates(ctx, days)
		if errors.Is(err, storage.ErrDuplicate) {
			return apperr.Conflict("meal dates were added concurrently, retry")
		}
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("create meal dates", err)
	}

	metrics.RecordMealDatesCreated(len(created))
	s.logger.Info("meal_dates_created", "Meal dates created", logger.RequestID(ctx), map[string]interface{}{
		"start": req.StartDate.String(),
		"end":   req.EndDate.String(),
		"count": len(created),
	})

	event := models.NewMealEvent(models.EventMealDatesCreated, logger.RequestID(ctx))
	for _, md := range created {
		event.Dates = append(event.Dates, md.Date)
	}
	order.Publish(ctx, s.events, s.logger, event)
	return created, nil
}

// List returns meal dates in [from, to]; from defaults to today and a nil to is open ended
func (s *Service) List(ctx context.Context, from, to *models.Date) ([]models.MealDate, error) {
	start := s.window.Today()
	if from != nil {
		start = *from
	}
	if to != nil && start.After(*to) {
		return nil, apperr.Invalid("from", "must not be after to")
	}

	var out []models.MealDate
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		out, err = tx.ListMealDates(ctx, start, to)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("list meal dates", err)
	}
	if out == nil {
		out = []models.MealDate{}
	}
	return out, nil
}

// Available returns the meal dates that can still be ordered within the horizon
func (s *Service) Available(ctx context.Context) ([]models.MealDate, error) {
	end := s.window.HorizonEnd()
	all, err := s.List(ctx, nil, &end)
	if err != nil {
		return nil, err
	}
	open := make([]models.MealDate, 0, len(all))
	for _, md := range all {
		if s.window.Open(md.Date) {
			open = append(open, md)
		}
	}
	return open, nil
}

func joinDates(mds []models.MealDate) string {
	parts := make([]string, 0, len(mds))
	for _, md := range mds {
		parts = append(parts, md.Date.String())
	}
	return strings.Join(parts, ", ")
}
