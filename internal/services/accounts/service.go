// Package accounts covers registration, login, the account status
// lifecycle and administrative user management.
package accounts

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"school-meals/internal/apperr"
	"school-meals/internal/auth"
	"school-meals/internal/logger"
	"school-meals/internal/models"
	"school-meals/internal/storage"
)

const classUpdateMessage = "A new school year has started, choose your new class"

// TokenIssuer signs session tokens
type TokenIssuer interface {
	Issue(actor models.Actor) (string, error)
	TTL() time.Duration
}

type Service struct {
	store  storage.Store
	tokens TokenIssuer
	logger *logger.Logger
}

func NewService(store storage.Store, tokens TokenIssuer, log *logger.Logger) *Service {
	return &Service{store: store, tokens: tokens, logger: log}
}

type RegisterRequest struct {
	Login     string `json:"login"`
	Password  string `json:"password"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
	ClassID   *int64 `json:"classId,omitempty"`
}

// NewUserRequest is an administrative account creation; zero role and
// status default to user and active
type NewUserRequest struct {
	RegisterRequest
	Role   models.Role          `json:"roleId"`
	Status models.AccountStatus `json:"statusId"`
}

// Register creates an inactive regular account with a zero balance
func (s *Service) Register(ctx context.Context, req RegisterRequest) (models.User, error) {
	if err := ValidateRegistration(&req); err != nil {
		return models.User{}, err
	}
	return s.create(ctx, req, models.RoleUser, models.StatusInactive)
}

// AddUser creates an account with the requested role and status
func (s *Service) AddUser(ctx context.Context, req NewUserRequest) (models.User, error) {
	if err := ValidateRegistration(&req.RegisterRequest); err != nil {
		return models.User{}, err
	}
	if req.Role == 0 {
		req.Role = models.RoleUser
	}
	if req.Status == 0 {
		req.Status = models.StatusActive
	}
	if err := validateRole(req.Role); err != nil {
		return models.User{}, err
	}
	if err := validateStatus(req.Status); err != nil {
		return models.User{}, err
	}
	return s.create(ctx, req.RegisterRequest, req.Role, req.Status)
}

func (s *Service) create(ctx context.Context, req RegisterRequest, role models.Role, status models.AccountStatus) (models.User, error) {
	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return models.User{}, apperr.Storage("hash password", err)
	}

	var user models.User
	err = s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		user, err = tx.CreateUser(ctx, models.User{
			Login:        req.Login,
			PasswordHash: hash,
			FirstName:    req.FirstName,
			LastName:     req.LastName,
			ClassID:      req.ClassID,
			Role:         role,
			Status:       status,
		})
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return apperr.Conflict("login %q is already taken", req.Login)
		case errors.Is(err, storage.ErrForeignKey):
			return apperr.NotFound("class %d not found", *req.ClassID)
		case err != nil:
			return err
		}
		return tx.CreateBalance(ctx, user.ID)
	})
	if err != nil {
		return models.User{}, apperr.Wrap("create user", err)
	}

	s.logger.Info("user_created", "User account created", logger.RequestID(ctx), map[string]interface{}{
		"user_id": user.ID,
		"role":    role.String(),
		"status":  status.String(),
	})
	return user, nil
}

// LoginExists reports whether the login is taken
func (s *Service) LoginExists(ctx context.Context, login string) (bool, error) {
	login = strings.TrimSpace(login)
	if login == "" {
		return false, apperr.Invalid("login", "login is required")
	}

	exists := false
	err := s.store.View(ctx, func(tx storage.Tx) error {
		_, err := tx.GetUserByLogin(ctx, login)
		if errors.Is(err, storage.ErrNotFound) {
			return nil
		}
		if err == nil {
			exists = true
		}
		return err
	})
	if err != nil {
		return false, apperr.Wrap("check login", err)
	}
	return exists, nil
}

type LoginRequest struct {
	Login    string `json:"login"`
	Password string `json:"password"`
}

// Session is returned by a successful login
type Session struct {
	Token           string      `json:"token"`
	ExpiresIn       int64       `json:"expiresIn"`
	ID              int64       `json:"id"`
	Login           string      `json:"login"`
	Role            models.Role `json:"roleId"`
	NeedClassUpdate bool        `json:"needClassUpdate"`
	Message         string      `json:"message,omitempty"`
}

// Login checks the credentials and the account status and issues a token
func (s *Service) Login(ctx context.Context, req LoginRequest) (*Session, error) {
	if req.Login == "" || req.Password == "" {
		return nil, apperr.Invalid("login", "login and password are required")
	}

	var user models.User
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		user, err = tx.GetUserByLogin(ctx, strings.TrimSpace(req.Login))
		return err
	})
	if errors.Is(err, storage.ErrNotFound) {
		return nil, apperr.Unauthorized("invalid login or password")
	}
	if err != nil {
		return nil, apperr.Wrap("load user", err)
	}

	ok, err := auth.CheckPassword(user.PasswordHash, req.Password)
	if err != nil {
		return nil, apperr.Storage("check password", err)
	}
	if !ok {
		return nil, apperr.Unauthorized("invalid login or password")
	}

	switch user.Status {
	case models.StatusInactive:
		return nil, apperr.Forbidden("Your account is inactive, visit the accounting office to activate it")
	case models.StatusBlocked:
		return nil, apperr.Forbidden("Your account is blocked, visit the accounting office for more information")
	}
	if !user.Status.CanLogin() {
		return nil, apperr.Storage("login", errors.New("unknown account status"))
	}

	token, err := s.tokens.Issue(models.Actor{UserID: user.ID, Login: user.Login, Role: user.Role})
	if err != nil {
		return nil, apperr.Storage("issue token", err)
	}

	session := &Session{
		Token:           token,
		ExpiresIn:       int64(s.tokens.TTL().Seconds()),
		ID:              user.ID,
		Login:           user.Login,
		Role:            user.Role,
		NeedClassUpdate: user.Status.NeedsClassUpdate(),
	}
	if session.NeedClassUpdate {
		session.Message = classUpdateMessage
	}

	s.logger.Info("user_logged_in", "User logged in", logger.RequestID(ctx), map[string]interface{}{
		"user_id":           user.ID,
		"need_class_update": session.NeedClassUpdate,
	})
	return session, nil
}

// UpdateClass moves the actor to another class; an on-break account becomes active
func (s *Service) UpdateClass(ctx context.Context, actor models.Actor, classID int64) (models.User, error) {
	if classID <= 0 {
		return models.User{}, apperr.Invalid("classId", "must be a positive integer")
	}

	var user models.User
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, actor.UserID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("user %d not found", actor.UserID)
		}
		if err != nil {
			return err
		}

		user.ClassID = &classID
		user.Status = user.Status.AfterClassUpdate()
		err = tx.UpdateUser(ctx, user)
		if errors.Is(err, storage.ErrForeignKey) {
			return apperr.NotFound("class %d not found", classID)
		}
		return err
	})
	if err != nil {
		return models.User{}, apperr.Wrap("update class", err)
	}
	return user, nil
}

// EndOfYear moves every regular user to status and returns how many changed
func (s *Service) EndOfYear(ctx context.Context, status models.AccountStatus) (int64, error) {
	if err := validateStatus(status); err != nil {
		return 0, err
	}

	var n int64
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		n, err = tx.SetStatusForRole(ctx, models.RoleUser, status)
		return err
	})
	if err != nil {
		return 0, apperr.Wrap("end of year", err)
	}

	s.logger.Info("end_of_year", "Regular users moved to a new status", logger.RequestID(ctx), map[string]interface{}{
		"status":   status.String(),
		"affected": n,
	})
	return n, nil
}

// UpdateUser applies an administrative patch in one transaction
func (s *Service) UpdateUser(ctx context.Context, id int64, patch models.UserPatch) (models.User, error) {
	if err := ValidatePatch(&patch); err != nil {
		return models.User{}, err
	}

	var hash string
	if patch.Password != nil {
		var err error
		if hash, err = auth.HashPassword(*patch.Password); err != nil {
			return models.User{}, apperr.Storage("hash password", err)
		}
	}

	var user models.User
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var err error
		user, err = tx.GetUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("user %d not found", id)
		}
		if err != nil {
			return err
		}

		applyPatch(&user, patch, hash)
		err = tx.UpdateUser(ctx, user)
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return apperr.Conflict("login %q is already taken", user.Login)
		case errors.Is(err, storage.ErrForeignKey):
			return apperr.NotFound("class %d not found", *user.ClassID)
		case err != nil:
			return err
		}

		if !patch.TouchesBalance() {
			return nil
		}
		amount := decimal.Zero
		if patch.Balance != nil {
			amount = *patch.Balance
		} else {
			acct, err := tx.GetBalance(ctx, id)
			if err != nil {
				return err
			}
			amount = acct.Balance.Decimal
		}
		return tx.SetBalance(ctx, id, amount, patch.Note)
	})
	if err != nil {
		return models.User{}, apperr.Wrap("update user", err)
	}
	return user, nil
}

func applyPatch(u *models.User, p models.UserPatch, passwordHash string) {
	if p.FirstName != nil {
		u.FirstName = strings.TrimSpace(*p.FirstName)
	}
	if p.LastName != nil {
		u.LastName = strings.TrimSpace(*p.LastName)
	}
	if p.Login != nil {
		u.Login = *p.Login
	}
	if passwordHash != "" {
		u.PasswordHash = passwordHash
	}
	if p.ClassID != nil {
		u.ClassID = p.ClassID
	}
	if p.Role != nil {
		u.Role = *p.Role
	}
	if p.Status != nil {
		u.Status = *p.Status
	}
}

// DeleteUser removes the account together with its orders and balance
func (s *Service) DeleteUser(ctx context.Context, actor models.Actor, id int64) error {
	if actor.UserID == id {
		return apperr.Forbidden("cannot delete your own account")
	}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		err := tx.DeleteUser(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("user %d not found", id)
		}
		return err
	})
	if err != nil {
		return apperr.Wrap("delete user", err)
	}

	s.logger.Info("user_deleted", "User account deleted", logger.RequestID(ctx), map[string]interface{}{
		"user_id": id,
	})
	return nil
}

func (s *Service) ListUsers(ctx context.Context, q models.UserQuery) ([]models.UserSummary, error) {
	var users []models.UserSummary
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		users, err = tx.ListUsers(ctx, q)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("list users", err)
	}
	if users == nil {
		users = []models.UserSummary{}
	}
	return users, nil
}

// Balance returns the balance account of a user the actor may see
func (s *Service) Balance(ctx context.Context, actor models.Actor, userID int64) (models.BalanceAccount, error) {
	if !actor.CanActFor(userID) {
		return models.BalanceAccount{}, apperr.Forbidden("cannot view the balance of another user")
	}

	var acct models.BalanceAccount
	err := s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		acct, err = tx.GetBalance(ctx, userID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("balance for user %d not found", userID)
		}
		return err
	})
	if err != nil {
		return models.BalanceAccount{}, apperr.Wrap("get balance", err)
	}
	return acct, nil
}
