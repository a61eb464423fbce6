package pricing

import (
	"net/http"

	"github.com/shopspring/decimal"

	"school-meals/internal/logger"
	"school-meals/internal/web"
)

// Handler serves GET and PUT /api/price
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

type priceBody struct {
	Price decimal.Decimal `json:"price"`
}

func (h *Handler) RegisterRoutes(routes web.Routes) {
	routes.User.HandleFunc("/price", h.get).Methods(http.MethodGet)
	routes.Admin.HandleFunc("/price", h.set).Methods(http.MethodPut)
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	price, err := h.service.Get(r.Context())
	if err != nil {
		web.WriteError(w, r, h.logger, "get_price_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"price": price.StringFixed(2)})
}

func (h *Handler) set(w http.ResponseWriter, r *http.Request) {
	var body priceBody
	if err := web.DecodeJSON(r, &body); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	if err := h.service.Set(r.Context(), body.Price); err != nil {
		web.WriteError(w, r, h.logger, "set_price_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]string{"price": body.Price.StringFixed(2)})
}
