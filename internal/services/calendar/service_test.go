package calendar

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-meals/internal/apperr"
	"school-meals/internal/config"
	"school-meals/internal/logger"
	"school-meals/internal/models"
	"school-meals/internal/services/order"
	"school-meals/internal/storage/memory"
	"school-meals/internal/web"
)

func newService(t *testing.T, now time.Time) *Service {
	t.Helper()
	w, err := order.NewWindow(config.OrderingConfig{
		Cutoff: "08:30", Timezone: "UTC", HorizonDays: 14, EnforceWindow: true,
	}, func() time.Time { return now })
	require.NoError(t, err)
	return NewService(memory.New(), w, nil, logger.Nop())
}

func day(d int) models.Date {
	return models.NewDate(2026, time.October, d)
}

func dates(mds []models.MealDate) []string {
	out := make([]string, 0, len(mds))
	for _, md := range mds {
		out = append(out, md.Date.String())
	}
	return out
}

func TestCreateRangeSkipsWeekends(t *testing.T) {
	s := newService(t, time.Date(2026, time.October, 14, 7, 0, 0, 0, time.UTC))

	created, err := s.CreateRange(context.Background(), RangeRequest{StartDate: day(15), EndDate: day(20)})
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-15", "2026-10-16", "2026-10-19", "2026-10-20"}, dates(created))
}

type eventLog []models.MealEvent

func (l *eventLog) PublishEvent(_ context.Context, event models.MealEvent) error {
	*l = append(*l, event)
	return nil
}

func TestCreateRangePublishesCreatedDates(t *testing.T) {
	w, err := order.NewWindow(config.OrderingConfig{
		Cutoff: "08:30", Timezone: "UTC", HorizonDays: 14, EnforceWindow: true,
	}, func() time.Time { return time.Date(2026, time.October, 14, 7, 0, 0, 0, time.UTC) })
	require.NoError(t, err)
	events := &eventLog{}
	s := NewService(memory.New(), w, events, logger.Nop())

	_, err = s.CreateRange(context.Background(), RangeRequest{StartDate: day(16), EndDate: day(19)})
	require.NoError(t, err)

	require.Len(t, *events, 1)
	e := (*events)[0]
	assert.Equal(t, models.EventMealDatesCreated, e.Type)
	assert.Equal(t, []models.Date{day(16), day(19)}, e.Dates)
}

func TestCreateRangeRejectsOverlapAsAWhole(t *testing.T) {
	ctx := context.Background()
	s := newService(t, time.Date(2026, time.October, 14, 7, 0, 0, 0, time.UTC))

	_, err := s.CreateRange(ctx, RangeRequest{StartDate: day(16), EndDate: day(16)})
	require.NoError(t, err)

	_, err = s.CreateRange(ctx, RangeRequest{StartDate: day(15), EndDate: day(21)})
	require.Error(t, err)
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))
	assert.Contains(t, err.Error(), "2026-10-16")

	all, err := s.List(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"2026-10-16"}, dates(all))
}

func TestCreateRangeValidation(t *testing.T) {
	s := newService(t, time.Date(2026, time.October, 14, 7, 0, 0, 0, time.UTC))

	tests := []struct {
		name string
		req  RangeRequest
	}{
		{name: "missing start", req: RangeRequest{EndDate: day(15)}},
		{name: "missing end", req: RangeRequest{StartDate: day(15)}},
		{name: "reversed", req: RangeRequest{StartDate: day(20), EndDate: day(15)}},
		{name: "weekend only", req: RangeRequest{StartDate: day(17), EndDate: day(18)}},
		{name: "too long", req: RangeRequest{StartDate: day(1), EndDate: day(1).AddDays(366)}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.CreateRange(context.Background(), tt.req)
			assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
		})
	}
}

func TestAvailableHonorsCutoffAndHorizon(t *testing.T) {
	ctx := context.Background()
	// After today's cutoff.
	s := newService(t, time.Date(2026, time.October, 14, 9, 0, 0, 0, time.UTC))

	_, err := s.CreateRange(ctx, RangeRequest{StartDate: day(13), EndDate: day(30)})
	require.NoError(t, err)

	avail, err := s.Available(ctx)
	require.NoError(t, err)
	got := dates(avail)
	assert.NotContains(t, got, "2026-10-13")
	assert.NotContains(t, got, "2026-10-14")
	assert.Contains(t, got, "2026-10-15")
	assert.Contains(t, got, "2026-10-28")
	assert.NotContains(t, got, "2026-10-29")

	from := day(13)
	all, err := s.List(ctx, &from, nil)
	require.NoError(t, err)
	assert.Len(t, all, 14)
}

func TestHandlerCreateRange(t *testing.T) {
	s := newService(t, time.Date(2026, time.October, 14, 7, 0, 0, 0, time.UTC))
	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	NewHandler(s, logger.Nop()).RegisterRoutes(web.Routes{Public: api, User: api, Admin: api})

	post := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/meal-dates", strings.NewReader(`{"startDate":"2026-10-19","endDate":"2026-10-23"}`))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post()
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"count":5`)
	assert.Equal(t, http.StatusConflict, post().Code)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/meal-dates?from=bad", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
