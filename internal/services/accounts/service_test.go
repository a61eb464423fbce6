package accounts

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"school-meals/internal/apperr"
	"school-meals/internal/auth"
	"school-meals/internal/logger"
	"school-meals/internal/models"
	"school-meals/internal/storage"
	"school-meals/internal/storage/memory"
	"school-meals/internal/web"
)

var admin = models.Actor{UserID: 9000, Login: "admin", Role: models.RoleAdmin}

func newService(t *testing.T) (*Service, *memory.Store, *auth.TokenIssuer) {
	t.Helper()
	store := memory.New()
	tokens := auth.NewTokenIssuer("test-secret", time.Hour)
	return NewService(store, tokens, logger.Nop()), store, tokens
}

func addClass(t *testing.T, store *memory.Store, name string) int64 {
	t.Helper()
	var id int64
	err := store.Update(context.Background(), func(tx storage.Tx) error {
		c, err := tx.CreateClass(context.Background(), name)
		id = c.ID
		return err
	})
	require.NoError(t, err)
	return id
}

func newUser(login string, status models.AccountStatus) NewUserRequest {
	return NewUserRequest{
		RegisterRequest: RegisterRequest{Login: login, Password: "secret1", FirstName: "Jan", LastName: "Nowak"},
		Status:          status,
	}
}

func TestRegisterCreatesInactiveAccount(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	user, err := s.Register(ctx, RegisterRequest{Login: " anna ", Password: "secret1", FirstName: "Anna", LastName: "Kowalska"})
	require.NoError(t, err)
	assert.Equal(t, "anna", user.Login)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Equal(t, models.StatusInactive, user.Status)
	assert.NotEqual(t, "secret1", user.PasswordHash)

	acct, err := s.Balance(ctx, admin, user.ID)
	require.NoError(t, err)
	assert.True(t, acct.Balance.IsZero())

	_, err = s.Register(ctx, RegisterRequest{Login: "anna", Password: "secret2", FirstName: "A", LastName: "B"})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	exists, err := s.LoginExists(ctx, "anna")
	require.NoError(t, err)
	assert.True(t, exists)
	exists, err = s.LoginExists(ctx, "bob")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRegisterUnknownClass(t *testing.T) {
	s, _, _ := newService(t)
	class := int64(42)
	_, err := s.Register(context.Background(), RegisterRequest{Login: "anna", Password: "secret1", FirstName: "A", LastName: "B", ClassID: &class})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestLoginStatusGating(t *testing.T) {
	ctx := context.Background()
	s, _, tokens := newService(t)

	tests := []struct {
		status    models.AccountStatus
		kind      *apperr.Kind
		needClass bool
	}{
		{status: models.StatusInactive, kind: kindPtr(apperr.KindForbidden)},
		{status: models.StatusActive},
		{status: models.StatusOnBreak, needClass: true},
		{status: models.StatusBlocked, kind: kindPtr(apperr.KindForbidden)},
	}

	for _, tt := range tests {
		t.Run(tt.status.String(), func(t *testing.T) {
			login := "user_" + tt.status.String()
			_, err := s.AddUser(ctx, newUser(login, tt.status))
			require.NoError(t, err)

			session, err := s.Login(ctx, LoginRequest{Login: login, Password: "secret1"})
			if tt.kind != nil {
				require.Error(t, err)
				assert.Equal(t, *tt.kind, apperr.KindOf(err))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.needClass, session.NeedClassUpdate)
			assert.Equal(t, int64(3600), session.ExpiresIn)

			actor, err := tokens.Verify(session.Token)
			require.NoError(t, err)
			assert.Equal(t, session.ID, actor.UserID)
			assert.Equal(t, models.RoleUser, actor.Role)
		})
	}
}

func kindPtr(k apperr.Kind) *apperr.Kind { return &k }

func TestLoginRejectsBadCredentials(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)
	_, err := s.AddUser(ctx, newUser("anna", models.StatusActive))
	require.NoError(t, err)

	_, err = s.Login(ctx, LoginRequest{Login: "anna", Password: "wrong-password"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = s.Login(ctx, LoginRequest{Login: "nobody", Password: "secret1"})
	assert.Equal(t, apperr.KindUnauthorized, apperr.KindOf(err))

	_, err = s.Login(ctx, LoginRequest{Login: "anna"})
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestUpdateClassEndsBreak(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newService(t)
	class := addClass(t, store, "2B")

	onBreak, err := s.AddUser(ctx, newUser("anna", models.StatusOnBreak))
	require.NoError(t, err)
	blocked, err := s.AddUser(ctx, newUser("bob", models.StatusBlocked))
	require.NoError(t, err)

	updated, err := s.UpdateClass(ctx, models.Actor{UserID: onBreak.ID, Role: models.RoleUser}, class)
	require.NoError(t, err)
	assert.Equal(t, models.StatusActive, updated.Status)
	require.NotNil(t, updated.ClassID)
	assert.Equal(t, class, *updated.ClassID)

	updated, err = s.UpdateClass(ctx, models.Actor{UserID: blocked.ID, Role: models.RoleUser}, class)
	require.NoError(t, err)
	assert.Equal(t, models.StatusBlocked, updated.Status)

	_, err = s.UpdateClass(ctx, models.Actor{UserID: onBreak.ID, Role: models.RoleUser}, 999)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestEndOfYearTouchesRegularUsersOnly(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)

	for _, login := range []string{"anna", "bob"} {
		_, err := s.AddUser(ctx, newUser(login, models.StatusActive))
		require.NoError(t, err)
	}
	staff := newUser("cook", models.StatusActive)
	staff.Role = models.RoleStaff
	cook, err := s.AddUser(ctx, staff)
	require.NoError(t, err)

	n, err := s.EndOfYear(ctx, models.StatusOnBreak)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	status := models.StatusOnBreak
	users, err := s.ListUsers(ctx, models.UserQuery{Status: &status})
	require.NoError(t, err)
	assert.Len(t, users, 2)
	for _, u := range users {
		assert.NotEqual(t, cook.ID, u.ID)
	}

	_, err = s.EndOfYear(ctx, models.AccountStatus(9))
	assert.Equal(t, apperr.KindInvalidInput, apperr.KindOf(err))
}

func TestUpdateUserPatch(t *testing.T) {
	ctx := context.Background()
	s, store, _ := newService(t)
	class := addClass(t, store, "3C")

	anna, err := s.AddUser(ctx, newUser("anna", models.StatusActive))
	require.NoError(t, err)
	_, err = s.AddUser(ctx, newUser("bob", models.StatusActive))
	require.NoError(t, err)

	last := "Kowalska"
	password := "new-secret"
	balance := decimal.RequireFromString("20.00")
	note := "paid in cash"
	updated, err := s.UpdateUser(ctx, anna.ID, models.UserPatch{
		LastName: &last, Password: &password, ClassID: &class, Balance: &balance, Note: &note,
	})
	require.NoError(t, err)
	assert.Equal(t, "Kowalska", updated.LastName)
	assert.Equal(t, "Jan", updated.FirstName)

	_, err = s.Login(ctx, LoginRequest{Login: "anna", Password: "new-secret"})
	require.NoError(t, err)

	acct, err := s.Balance(ctx, admin, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", acct.Balance.StringFixed(2))
	require.NotNil(t, acct.Note)
	assert.Equal(t, "paid in cash", *acct.Note)

	// A note alone keeps the balance
	other := "checked"
	_, err = s.UpdateUser(ctx, anna.ID, models.UserPatch{Note: &other})
	require.NoError(t, err)
	acct, err = s.Balance(ctx, admin, anna.ID)
	require.NoError(t, err)
	assert.Equal(t, "20.00", acct.Balance.StringFixed(2))

	taken := "bob"
	_, err = s.UpdateUser(ctx, anna.ID, models.UserPatch{Login: &taken})
	assert.Equal(t, apperr.KindConflict, apperr.KindOf(err))

	_, err = s.UpdateUser(ctx, 4242, models.UserPatch{LastName: &last})
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestDeleteUserAndBalanceAccess(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)
	anna, err := s.AddUser(ctx, newUser("anna", models.StatusActive))
	require.NoError(t, err)
	bob, err := s.AddUser(ctx, newUser("bob", models.StatusActive))
	require.NoError(t, err)

	_, err = s.Balance(ctx, models.Actor{UserID: bob.ID, Role: models.RoleUser}, anna.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	err = s.DeleteUser(ctx, models.Actor{UserID: anna.ID, Role: models.RoleAdmin}, anna.ID)
	assert.Equal(t, apperr.KindForbidden, apperr.KindOf(err))

	require.NoError(t, s.DeleteUser(ctx, admin, anna.ID))
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(s.DeleteUser(ctx, admin, anna.ID)))

	_, err = s.Balance(ctx, admin, anna.ID)
	assert.Equal(t, apperr.KindNotFound, apperr.KindOf(err))
}

func TestHandlerLoginFlow(t *testing.T) {
	ctx := context.Background()
	s, _, _ := newService(t)
	_, err := s.AddUser(ctx, newUser("anna", models.StatusActive))
	require.NoError(t, err)

	r := mux.NewRouter()
	api := r.PathPrefix("/api").Subrouter()
	NewHandler(s, logger.Nop(), nil).RegisterRoutes(web.Routes{Public: api, User: api, Admin: api})

	post := func(path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, req)
		return rec
	}

	rec := post("/api/login", `{"login":"anna","password":"secret1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"token"`)
	assert.Contains(t, rec.Body.String(), `"needClassUpdate":false`)

	assert.Equal(t, http.StatusUnauthorized, post("/api/login", `{"login":"anna","password":"nope123"}`).Code)
	assert.Equal(t, http.StatusCreated, post("/api/register", `{"login":"bob","password":"secret1","firstName":"Bob","lastName":"Nowak"}`).Code)
	assert.Equal(t, http.StatusForbidden, post("/api/login", `{"login":"bob","password":"secret1"}`).Code)
	assert.Contains(t, post("/api/check-login", `{"login":"bob"}`).Body.String(), `"exists":true`)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/statuses", nil))
	assert.Contains(t, rec.Body.String(), `"on_break"`)
}
