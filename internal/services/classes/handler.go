package classes

import (
	"net/http"

	"school-meals/internal/logger"
	"school-meals/internal/web"
)

// Handler serves the class endpoints
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// RegisterRoutes mounts the class endpoints
func (h *Handler) RegisterRoutes(routes web.Routes) {
	routes.Public.HandleFunc("/classes", h.list).Methods(http.MethodGet)
	routes.Admin.HandleFunc("/classes", h.create).Methods(http.MethodPost)
	routes.Admin.HandleFunc("/classes/{id}", h.delete).Methods(http.MethodDelete)
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	classes, err := h.service.List(r.Context())
	if err != nil {
		web.WriteError(w, r, h.logger, "list_classes_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, classes)
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	c, err := h.service.Create(r.Context(), req.Name)
	if err != nil {
		web.WriteError(w, r, h.logger, "create_class_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusCreated, c)
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	if err := h.service.Delete(r.Context(), id); err != nil {
		web.WriteError(w, r, h.logger, "delete_class_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]int64{"deleted": id})
}
