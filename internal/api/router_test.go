package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-meals/internal/config"
	"school-meals/internal/logger"
	"school-meals/internal/models"
	"school-meals/internal/services/accounts"
	"school-meals/internal/storage/memory"
)

type server struct {
	t       *testing.T
	handler http.Handler
}

func newServer(t *testing.T) *server {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "router-test-secret"
	cfg.Ordering.Timezone = "UTC"

	store := memory.New()
	users := accounts.NewService(store, nil, logger.Nop())
	for _, u := range []accounts.NewUserRequest{
		{RegisterRequest: accounts.RegisterRequest{Login: "admin", Password: "secret1", FirstName: "Ada", LastName: "Admin"}, Role: models.RoleAdmin},
		{RegisterRequest: accounts.RegisterRequest{Login: "anna", Password: "secret1", FirstName: "Anna", LastName: "Nowak"}},
	} {
		_, err := users.AddUser(context.Background(), u)
		require.NoError(t, err)
	}

	// Wednesday before the cutoff
	now := time.Date(2026, time.October, 14, 7, 0, 0, 0, time.UTC)
	h, err := NewRouter(Dependencies{
		Config: cfg,
		Store:  store,
		Logger: logger.Nop(),
		Now:    func() time.Time { return now },
	})
	require.NoError(t, err)
	return &server{t: t, handler: h}
}

func (s *server) do(method, path, token, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) login(login string) string {
	s.t.Helper()
	rec := s.do(http.MethodPost, "/api/login", "", `{"login":"`+login+`","password":"secret1"}`)
	require.Equal(s.t, http.StatusOK, rec.Code, rec.Body.String())

	var session accounts.Session
	require.NoError(s.t, json.Unmarshal(rec.Body.Bytes(), &session))
	require.NotEmpty(s.t, session.Token)
	return session.Token
}

func TestRouterAccessControl(t *testing.T) {
	s := newServer(t)

	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/health", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/classes", "", "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/roles", "", "").Code)

	rec := s.do(http.MethodGet, "/api/meal-dates", "", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/meal-dates", "garbage", "").Code)

	user := s.login("anna")
	admin := s.login("admin")

	rangeBody := `{"startDate":"2026-10-15","endDate":"2026-10-16"}`
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodPost, "/api/meal-dates", user, rangeBody).Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/users", user, "").Code)
	assert.Equal(t, http.StatusOK, s.do(http.MethodGet, "/api/users", admin, "").Code)

	rec = s.do(http.MethodPost, "/api/meal-dates", admin, rangeBody)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/meal-dates", admin, rangeBody).Code)

	rec = s.do(http.MethodGet, "/api/meal-dates", user, "")
	require.Equal(t, http.StatusOK, rec.Code)
	var listed struct {
		MealDates []models.MealDate `json:"mealDates"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &listed))
	require.Len(t, listed.MealDates, 2)

	body := `{"mealDateId":` + strconv.FormatInt(listed.MealDates[0].ID, 10) + `}`
	assert.Equal(t, http.StatusOK, s.do(http.MethodPost, "/api/orders", user, body).Code)
	assert.Equal(t, http.StatusConflict, s.do(http.MethodPost, "/api/orders", user, body).Code)
}

func TestRouterFallbacks(t *testing.T) {
	s := newServer(t)
	admin := s.login("admin")

	rec := s.do(http.MethodGet, "/api/nope", admin, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Contains(t, rec.Body.String(), `"error"`)

	assert.Equal(t, http.StatusMethodNotAllowed, s.do(http.MethodPatch, "/api/price", admin, "").Code)

	rec = s.do(http.MethodGet, "/metrics", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "school_meals_http_requests_total")
}

func TestRouterCORSPreflight(t *testing.T) {
	s := newServer(t)

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
}
