package order

import (
	"time"

	"school-meals/internal/apperr"
	"school-meals/internal/config"
	"school-meals/internal/models"
)

// Window decides whether a meal date can still be ordered or cancelled.
// A day stays open until its cutoff time in the school time zone.
type Window struct {
	hour    int
	minute  int
	loc     *time.Location
	enforce bool
	horizon int
	now     func() time.Time
}

// NewWindow builds the policy from configuration; a nil now uses time.Now.
func NewWindow(cfg config.OrderingConfig, now func() time.Time) (*Window, error) {
	hour, minute, err := cfg.CutoffClock()
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}
	if now == nil {
		now = time.Now
	}
	return &Window{
		hour:    hour,
		minute:  minute,
		loc:     loc,
		enforce: cfg.EnforceWindow,
		horizon: cfg.HorizonDays,
		now:     now,
	}, nil
}

// Today is the current calendar day in the school time zone
func (w *Window) Today() models.Date {
	return models.DateOf(w.now().In(w.loc))
}

// Cutoff is the last instant at which day can be changed
func (w *Window) Cutoff(day models.Date) time.Time {
	return day.At(w.hour, w.minute, w.loc)
}

// Open reports whether day has not passed its cutoff
func (w *Window) Open(day models.Date) bool {
	return !w.now().After(w.Cutoff(day))
}

// Check returns a Forbidden error when the window for day is closed and the
// policy is enforced
func (w *Window) Check(day models.Date) error {
	if w.enforce && !w.Open(day) {
		return apperr.Forbidden("ordering window closed for %s", day)
	}
	return nil
}

// Boundary is the first day that still counts as upcoming: today until the
// cutoff passes, tomorrow afterwards.
func (w *Window) Boundary() models.Date {
	today := w.Today()
	if w.Open(today) {
		return today
	}
	return today.AddDays(1)
}

// HorizonEnd is the last day offered for self-service ordering
func (w *Window) HorizonEnd() models.Date {
	return w.Today().AddDays(w.horizon)
}
