package calendar

import (
	"net/http"

	"school-meals/internal/logger"
	"school-meals/internal/web"
)

type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

func (h *Handler) RegisterRoutes(routes web.Routes) {
	routes.User.HandleFunc("/meal-dates", h.List).Methods(http.MethodGet)
	routes.User.HandleFunc("/meal-dates/available", h.Available).Methods(http.MethodGet)
	routes.Admin.HandleFunc("/meal-dates", h.CreateRange).Methods(http.MethodPost)
}

// CreateRange handles POST /api/meal-dates
func (h *Handler) CreateRange(w http.ResponseWriter, r *http.Request) {
	var req RangeRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	created, err := h.service.CreateRange(r.Context(), req)
	if err != nil {
		web.WriteError(w, r, h.logger, "meal_dates_create_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"mealDates": created,
		"count":     len(created),
	})
}

// List handles GET /api/meal-dates?from=&to=
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	from, err := web.QueryDate(r, "from")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	to, err := web.QueryDate(r, "to")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	mds, err := h.service.List(r.Context(), from, to)
	if err != nil {
		web.WriteError(w, r, h.logger, "meal_dates_list_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]interface{}{"mealDates": mds})
}

// Available handles GET /api/meal-dates/available
func (h *Handler) Available(w http.ResponseWriter, r *http.Request) {
	mds, err := h.service.Available(r.Context())
	if err != nil {
		web.WriteError(w, r, h.logger, "meal_dates_list_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]interface{}{"mealDates": mds})
}
