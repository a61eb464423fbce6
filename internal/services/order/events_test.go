package order

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/models"
)

func TestPublish(t *testing.T) {
	ctx := context.Background()
	event := models.NewMealEvent(models.EventMealDatesCreated, "req-1")

	assert.NotPanics(t, func() { Publish(ctx, nil, logger.Nop(), event) })

	p := &recordingPublisher{}
	Publish(ctx, p, logger.Nop(), event)
	assert.Equal(t, []models.EventType{models.EventMealDatesCreated}, p.types())

	failing := &recordingPublisher{err: errors.New("broker down")}
	assert.NotPanics(t, func() { Publish(ctx, failing, logger.Nop(), event) })
	assert.Len(t, failing.types(), 1)
}

func TestValidateRange(t *testing.T) {
	tests := []struct {
		name       string
		start, end models.Date
		field      string
	}{
		{name: "missing start", end: thursday, field: "startDate"},
		{name: "missing end", start: thursday, field: "endDate"},
		{name: "reversed", start: friday, end: thursday, field: "startDate"},
		{name: "longer than a year", start: thursday, end: thursday.AddDays(366), field: "endDate"},
		{name: "single day", start: thursday, end: thursday},
		{name: "full year", start: thursday, end: thursday.AddDays(365)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateRange(tt.start, tt.end)
			if tt.field == "" {
				assert.NoError(t, err)
				return
			}
			assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}
