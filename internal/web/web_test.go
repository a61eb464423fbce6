package web

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/models"
)

type fakeVerifier map[string]models.Actor

func (f fakeVerifier) Verify(token string) (models.Actor, error) {
	actor, ok := f[token]
	if !ok {
		return models.Actor{}, errors.New("bad token")
	}
	return actor, nil
}

func okHandler(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWriteErrorMapsKinds(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{name: "not found", err: apperr.NotFound("meal date not found"), status: http.StatusNotFound, message: "meal date not found"},
		{name: "conflict", err: apperr.Conflict("order already exists"), status: http.StatusConflict, message: "order already exists"},
		{name: "invalid", err: apperr.Invalid("startDate", "is required"), status: http.StatusBadRequest, message: "is required"},
		{name: "forbidden", err: apperr.Forbidden("window closed"), status: http.StatusForbidden, message: "window closed"},
		{name: "storage", err: errors.New("pq: deadlock detected"), status: http.StatusInternalServerError, message: "internal server error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			WriteError(rec, req, logger.Nop(), "test", tt.err)

			assert.Equal(t, tt.status, rec.Code)
			body := decodeBody(t, rec)
			assert.Equal(t, tt.message, body["error"])
			assert.Contains(t, body, "timestamp")
			assert.Contains(t, body, "request_id")
		})
	}
}

func TestDecodeJSON(t *testing.T) {
	var dst struct {
		MealDateID int64 `json:"mealDateId"`
	}

	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mealDateId": 4}`))
	req.Header.Set("Content-Type", "application/json; charset=utf-8")
	require.NoError(t, DecodeJSON(req, &dst))
	assert.Equal(t, int64(4), dst.MealDateID)

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"mealDateId": 4, "price": 1}`))
	assert.True(t, apperr.Is(DecodeJSON(req, &dst), apperr.KindInvalidInput), "unknown fields rejected")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "text/plain")
	assert.True(t, apperr.Is(DecodeJSON(req, &dst), apperr.KindInvalidInput), "content type checked")

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader(``))
	assert.True(t, apperr.Is(DecodeJSON(req, &dst), apperr.KindInvalidInput), "empty body rejected")
}

func TestRequestLoggingPropagatesRequestID(t *testing.T) {
	var seen string
	h := RequestLogging(logger.Nop())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logger.RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, "abc-123", seen)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Len(t, rec.Header().Get(RequestIDHeader), 36)
}

func TestCORS(t *testing.T) {
	h := NewCORS([]string{"http://localhost:3000"}).Handler(http.HandlerFunc(okHandler))

	req := httptest.NewRequest(http.MethodOptions, "/api/orders", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))

	req = httptest.NewRequest(http.MethodGet, "/api/orders", nil)
	req.Header.Set("Origin", "http://evil.example")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestRateLimiter(t *testing.T) {
	h := NewRateLimiter(1, 2, logger.Nop()).Handler(http.HandlerFunc(okHandler))

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)

	req := httptest.NewRequest(http.MethodPost, "/api/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, "other clients unaffected")
}

func TestAuthenticatorAndRequireRole(t *testing.T) {
	log := logger.Nop()
	verifier := fakeVerifier{
		"user-token":  {UserID: 1, Login: "anna", Role: models.RoleUser},
		"admin-token": {UserID: 2, Login: "root", Role: models.RoleAdmin},
	}

	r := mux.NewRouter()
	admin := r.PathPrefix("/admin").Subrouter()
	admin.Use(NewAuthenticator(verifier, log).Handler, RequireRole(log, models.RoleAdmin))
	admin.HandleFunc("/ping", func(w http.ResponseWriter, r *http.Request) {
		actor, ok := ActorFrom(r.Context())
		require.True(t, ok)
		WriteJSON(w, http.StatusOK, map[string]string{"login": actor.Login})
	})

	tests := []struct {
		name   string
		header string
		status int
	}{
		{name: "missing header", header: "", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "bad token", header: "Bearer nope", status: http.StatusUnauthorized},
		{name: "regular user", header: "Bearer user-token", status: http.StatusForbidden},
		{name: "admin", header: "Bearer admin-token", status: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/admin/ping", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			r.ServeHTTP(rec, req)
			assert.Equal(t, tt.status, rec.Code)
		})
	}
}

func TestPathIDAndQueryHelpers(t *testing.T) {
	r := mux.NewRouter()
	var id int64
	var idErr error
	r.HandleFunc("/orders/{id}", func(w http.ResponseWriter, req *http.Request) {
		id, idErr = PathID(req, "id")
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/42", nil))
	require.NoError(t, idErr)
	assert.Equal(t, int64(42), id)

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/orders/-1", nil))
	assert.Error(t, idErr)

	req := httptest.NewRequest(http.MethodGet, "/?classId=3&start=2026-10-14&bad=x", nil)
	classID, err := QueryInt64(req, "classId")
	require.NoError(t, err)
	assert.Equal(t, int64(3), *classID)

	missing, err := QueryInt64(req, "userId")
	require.NoError(t, err)
	assert.Nil(t, missing)

	_, err = QueryInt64(req, "bad")
	assert.Error(t, err)

	start, err := QueryDate(req, "start")
	require.NoError(t, err)
	assert.Equal(t, "2026-10-14", start.String())
}
