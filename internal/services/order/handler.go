package order

import (
	"net/http"
	"strconv"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/web"
)

// Handler handles HTTP requests for the order workflows
type Handler struct {
	service *Service
	logger  *logger.Logger
}

// NewHandler creates a new order handler
func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  log,
	}
}

// RegisterRoutes mounts the order endpoints
func (h *Handler) RegisterRoutes(routes web.Routes) {
	routes.User.HandleFunc("/orders", h.PlaceOrder).Methods(http.MethodPost)
	routes.User.HandleFunc("/orders/range", h.PlaceOrdersInRange).Methods(http.MethodPost)
	routes.User.HandleFunc("/orders/{id}", h.CancelOrder).Methods(http.MethodDelete)
	routes.User.HandleFunc("/orders", h.SearchOrders).Methods(http.MethodGet)
	routes.User.HandleFunc("/users/{id}/orders", h.UserOrders).Methods(http.MethodGet)

	routes.Admin.HandleFunc("/meal-dates", h.DeleteMealDate).Methods(http.MethodDelete)
	routes.Admin.HandleFunc("/meal-dates/{id}", h.DeleteMealDateByID).Methods(http.MethodDelete)
	routes.Admin.HandleFunc("/class-orders", h.DeleteMealsForClass).Methods(http.MethodDelete)
}

// PlaceOrder handles POST /api/orders
func (h *Handler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())

	var req PlaceRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	placement, err := h.service.PlaceOrder(r.Context(), actor, req)
	if err != nil {
		web.WriteError(w, r, h.logger, "order_placement_failed", err)
		return
	}

	h.logger.Debug("order_placed", "Order placed", logger.RequestID(r.Context()), map[string]interface{}{
		"order_id":     placement.Order.ID,
		"user_id":      placement.Order.UserID,
		"meal_date_id": placement.Order.MealDateID,
	})
	web.WriteJSON(w, http.StatusOK, placement)
}

// PlaceOrdersInRange handles POST /api/orders/range
func (h *Handler) PlaceOrdersInRange(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())

	var req RangeRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	result, err := h.service.PlaceOrdersInRange(r.Context(), actor, req)
	if err != nil {
		web.WriteError(w, r, h.logger, "order_placement_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, result)
}

// CancelOrder handles DELETE /api/orders/{id}
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())

	id, err := web.PathID(r, "id")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	result, err := h.service.CancelOrder(r.Context(), actor, id)
	if err != nil {
		web.WriteError(w, r, h.logger, "order_cancel_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, result)
}

// SearchOrders handles GET /api/orders
func (h *Handler) SearchOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())

	params, err := parseSearchParams(r)
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	result, err := h.service.SearchOrders(r.Context(), actor, params)
	if err != nil {
		web.WriteError(w, r, h.logger, "order_search_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, result)
}

func parseSearchParams(r *http.Request) (SearchParams, error) {
	var (
		p   SearchParams
		err error
	)
	p.Filter = r.URL.Query().Get("filter")
	if p.From, err = web.QueryDate(r, "startDate"); err != nil {
		return p, err
	}
	if p.To, err = web.QueryDate(r, "endDate"); err != nil {
		return p, err
	}
	if p.UserID, err = web.QueryInt64(r, "userId"); err != nil {
		return p, err
	}
	if p.ClassID, err = web.QueryInt64(r, "classId"); err != nil {
		return p, err
	}
	if p.Page, err = queryInt(r, "page"); err != nil {
		return p, err
	}
	if p.Limit, err = queryInt(r, "limit"); err != nil {
		return p, err
	}
	return p, nil
}

func queryInt(r *http.Request, name string) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperr.Invalid(name, "must be an integer")
	}
	return v, nil
}

// UserOrders handles GET /api/users/{id}/orders
func (h *Handler) UserOrders(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())

	id, err := web.PathID(r, "id")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	orders, err := h.service.UserOrders(r.Context(), actor, id)
	if err != nil {
		web.WriteError(w, r, h.logger, "user_orders_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]interface{}{"orders": orders})
}

// DeleteMealDate handles DELETE /api/meal-dates with a {date | id} body
func (h *Handler) DeleteMealDate(w http.ResponseWriter, r *http.Request) {
	var sel MealDateSelector
	if err := web.DecodeJSON(r, &sel); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	h.deleteMealDate(w, r, sel)
}

// DeleteMealDateByID handles DELETE /api/meal-dates/{id}
func (h *Handler) DeleteMealDateByID(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	h.deleteMealDate(w, r, MealDateSelector{ID: &id})
}

func (h *Handler) deleteMealDate(w http.ResponseWriter, r *http.Request, sel MealDateSelector) {
	result, err := h.service.DeleteMealDate(r.Context(), sel)
	if err != nil {
		web.WriteError(w, r, h.logger, "meal_date_delete_failed", err)
		return
	}

	h.logger.Info("meal_date_deleted", "Meal date deleted", logger.RequestID(r.Context()), map[string]interface{}{
		"meal_date":      result.MealDate.Date.String(),
		"removed_orders": result.RemovedOrders,
		"refunded":       result.RefundedAmount.StringFixed(2),
	})
	web.WriteJSON(w, http.StatusOK, result)
}

// DeleteMealsForClass handles DELETE /api/class-orders
func (h *Handler) DeleteMealsForClass(w http.ResponseWriter, r *http.Request) {
	var req ClassRangeRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	result, err := h.service.DeleteMealsForClass(r.Context(), req)
	if err != nil {
		web.WriteError(w, r, h.logger, "class_orders_delete_failed", err)
		return
	}

	h.logger.Info("class_orders_deleted", "Class orders deleted", logger.RequestID(r.Context()), map[string]interface{}{
		"class_id":       req.ClassID,
		"removed_orders": result.RemovedOrders,
	})
	web.WriteJSON(w, http.StatusOK, result)
}
