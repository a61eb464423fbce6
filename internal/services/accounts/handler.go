package accounts

import (
	"net/http"

	"school-meals/internal/logger"
	"school-meals/internal/models"
	"school-meals/internal/web"
)

type Handler struct {
	service *Service
	logger  *logger.Logger
	limiter func(http.Handler) http.Handler
}

// NewHandler creates the accounts handler; limiter guards the credential
// endpoints and may be nil
func NewHandler(service *Service, log *logger.Logger, limiter func(http.Handler) http.Handler) *Handler {
	if limiter == nil {
		limiter = func(next http.Handler) http.Handler { return next }
	}
	return &Handler{service: service, logger: log, limiter: limiter}
}

func (h *Handler) RegisterRoutes(routes web.Routes) {
	routes.Public.Handle("/login", h.limiter(http.HandlerFunc(h.Login))).Methods(http.MethodPost)
	routes.Public.Handle("/register", h.limiter(http.HandlerFunc(h.Register))).Methods(http.MethodPost)
	routes.Public.Handle("/check-login", h.limiter(http.HandlerFunc(h.CheckLogin))).Methods(http.MethodPost)
	routes.Public.HandleFunc("/roles", h.Roles).Methods(http.MethodGet)
	routes.Public.HandleFunc("/statuses", h.Statuses).Methods(http.MethodGet)

	routes.User.HandleFunc("/users/{id}/balance", h.Balance).Methods(http.MethodGet)
	routes.User.HandleFunc("/me/class", h.UpdateClass).Methods(http.MethodPut)

	routes.Admin.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	routes.Admin.HandleFunc("/users", h.AddUser).Methods(http.MethodPost)
	routes.Admin.HandleFunc("/users/{id}", h.UpdateUser).Methods(http.MethodPut)
	routes.Admin.HandleFunc("/users/{id}", h.DeleteUser).Methods(http.MethodDelete)
	routes.Admin.HandleFunc("/end-of-year", h.EndOfYear).Methods(http.MethodPut)
}

// Login handles POST /api/login
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	session, err := h.service.Login(r.Context(), req)
	if err != nil {
		web.WriteError(w, r, h.logger, "login_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, session)
}

// Register handles POST /api/register
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	user, err := h.service.Register(r.Context(), req)
	if err != nil {
		web.WriteError(w, r, h.logger, "registration_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusCreated, user)
}

// CheckLogin handles POST /api/check-login
func (h *Handler) CheckLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Login string `json:"login"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	exists, err := h.service.LoginExists(r.Context(), req.Login)
	if err != nil {
		web.WriteError(w, r, h.logger, "check_login_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]bool{"exists": exists})
}

func (h *Handler) Roles(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, models.Roles())
}

func (h *Handler) Statuses(w http.ResponseWriter, r *http.Request) {
	web.WriteJSON(w, http.StatusOK, models.Statuses())
}

// Balance handles GET /api/users/{id}/balance
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())
	id, err := web.PathID(r, "id")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	acct, err := h.service.Balance(r.Context(), actor, id)
	if err != nil {
		web.WriteError(w, r, h.logger, "balance_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, acct)
}

// UpdateClass handles PUT /api/me/class
func (h *Handler) UpdateClass(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())
	var req struct {
		ClassID int64 `json:"classId"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	user, err := h.service.UpdateClass(r.Context(), actor, req.ClassID)
	if err != nil {
		web.WriteError(w, r, h.logger, "class_update_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, user)
}

// ListUsers handles GET /api/users?search=&classId=&roleId=&statusId=
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	q := models.UserQuery{Search: r.URL.Query().Get("search")}

	classID, err := web.QueryInt64(r, "classId")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	q.ClassID = classID

	role, err := web.QueryInt64(r, "roleId")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	if role != nil {
		v := models.Role(*role)
		q.Role = &v
	}

	status, err := web.QueryInt64(r, "statusId")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	if status != nil {
		v := models.AccountStatus(*status)
		q.Status = &v
	}

	users, err := h.service.ListUsers(r.Context(), q)
	if err != nil {
		web.WriteError(w, r, h.logger, "list_users_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]interface{}{"users": users})
}

// AddUser handles POST /api/users
func (h *Handler) AddUser(w http.ResponseWriter, r *http.Request) {
	var req NewUserRequest
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	user, err := h.service.AddUser(r.Context(), req)
	if err != nil {
		web.WriteError(w, r, h.logger, "add_user_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusCreated, user)
}

// UpdateUser handles PUT /api/users/{id}
func (h *Handler) UpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := web.PathID(r, "id")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}
	var patch models.UserPatch
	if err := web.DecodeJSON(r, &patch); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	user, err := h.service.UpdateUser(r.Context(), id, patch)
	if err != nil {
		web.WriteError(w, r, h.logger, "update_user_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, user)
}

// DeleteUser handles DELETE /api/users/{id}
func (h *Handler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	actor, _ := web.ActorFrom(r.Context())
	id, err := web.PathID(r, "id")
	if err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	if err := h.service.DeleteUser(r.Context(), actor, id); err != nil {
		web.WriteError(w, r, h.logger, "delete_user_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]interface{}{"deleted": id})
}

// EndOfYear handles PUT /api/end-of-year
func (h *Handler) EndOfYear(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Status models.AccountStatus `json:"statusId"`
	}
	if err := web.DecodeJSON(r, &req); err != nil {
		web.WriteError(w, r, h.logger, "validation_failed", err)
		return
	}

	n, err := h.service.EndOfYear(r.Context(), req.Status)
	if err != nil {
		web.WriteError(w, r, h.logger, "end_of_year_failed", err)
		return
	}
	web.WriteJSON(w, http.StatusOK, map[string]int64{"affected": n})
}
