package report

import (
	"net/http"
	"strconv"

	"school-meals/internal/logger"
	"school-meals/internal/web"
)

// Handler streams reports over HTTP
type Handler struct {
	service *Service
	logger  *logger.Logger
}

func NewHandler(service *Service, log *logger.Logger) *Handler {
	return &Handler{service: service, logger: log}
}

// RegisterRoutes mounts POST /api/reports for administrators
func (h *Handler) RegisterRoutes(routes web.Routes) {
	routes.Admin.HandleFunc("/reports", h.generate).Methods(http.MethodPost)
}

func (h *Handler) generate(w http.ResponseWriter, r *http.Request) {
	var req Request
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	buf, err := h.service.Generate(r.Context(), req)
	if err != nil {
		web.WriteError(w, r, h.logger, "report_failed", err)
		return
	}

	w.Header().Set("Content-Type", ContentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+FileName)
	w.Header().Set("Content-Length", strconv.Itoa(buf.Len()))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		h.logger.Warn("report_write_failed", "Failed to stream report", logger.RequestID(r.Context()), map[string]interface{}{
			"error": err.Error(),
		})
	}
}
