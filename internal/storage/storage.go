// Package storage declares the persistence contract shared by the
// in-memory and PostgreSQL backends.
//
// All reads and writes happen inside a transaction scope obtained from
// Store.View or Store.Update. Update commits when the callback returns nil
// and rolls back every write otherwise.
package storage

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"school-meals/internal/models"
)

var (
	// ErrNotFound is returned when the addressed row does not exist.
	ErrNotFound = errors.New("storage: not found")
	// ErrDuplicate is returned when a unique constraint rejects a write.
	ErrDuplicate = errors.New("storage: duplicate")
	// ErrForeignKey is returned when a write references a missing row or a
	// delete would orphan dependent rows.
	ErrForeignKey = errors.New("storage: foreign key violation")
	// ErrReadOnly is returned when a write is attempted inside View.
	ErrReadOnly = errors.New("storage: read-only transaction")
)

// Store opens transaction scopes.
type Store interface {
	View(ctx context.Context, fn func(Tx) error) error
	Update(ctx context.Context, fn func(Tx) error) error
	Ping(ctx context.Context) error
}

// Tx is the set of operations available inside one transaction.
type Tx interface {
	PriceStore
	CalendarStore
	LedgerStore
	BalanceStore
	UserStore
	ClassStore
}

type PriceStore interface {
	GetPrice(ctx context.Context) (decimal.Decimal, error)
	SetPrice(ctx context.Context, amount decimal.Decimal) error
}

type CalendarStore interface {
	InsertMealDates(ctx context.Context, days []models.Date) ([]models.MealDate, error)
	// FindMealDates returns the subset of days that already have a meal date.
	FindMealDates(ctx context.Context, days []models.Date) ([]models.MealDate, error)
	GetMealDate(ctx context.Context, id int64) (models.MealDate, error)
	GetMealDateByDay(ctx context.Context, day models.Date) (models.MealDate, error)
	// ListMealDates returns meal dates in [from, to] ordered by day; a nil to is open ended.
	ListMealDates(ctx context.Context, from models.Date, to *models.Date) ([]models.MealDate, error)
	DeleteMealDate(ctx context.Context, id int64) error
}

type LedgerStore interface {
	InsertOrder(ctx context.Context, userID, mealDateID int64) (models.Order, error)
	GetOrder(ctx context.Context, id int64) (models.Order, error)
	ListOrdersByMealDate(ctx context.Context, mealDateID int64) ([]models.Order, error)
	ListOrdersForUsers(ctx context.Context, userIDs []int64, from, to models.Date) ([]models.Order, error)
	DeleteOrders(ctx context.Context, ids []int64) (int64, error)
	ListUserOrders(ctx context.Context, userID int64) ([]models.OrderedMeal, error)
	SearchOrders(ctx context.Context, q models.OrderQuery) ([]models.OrderRow, int, error)
	ReportRows(ctx context.Context, from, to models.Date) ([]models.ReportRow, error)
}

type BalanceStore interface {
	CreateBalance(ctx context.Context, userID int64) error
	GetBalance(ctx context.Context, userID int64) (models.BalanceAccount, error)
	// AdjustBalance adds delta to the balance and returns the new value.
	AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID int64, amount decimal.Decimal, note *string) error
}

type UserStore interface {
	CreateUser(ctx context.Context, u models.User) (models.User, error)
	GetUser(ctx context.Context, id int64) (models.User, error)
	GetUserByLogin(ctx context.Context, login string) (models.User, error)
	UpdateUser(ctx context.Context, u models.User) error
	DeleteUser(ctx context.Context, id int64) error
	ListUsers(ctx context.Context, q models.UserQuery) ([]models.UserSummary, error)
	UserIDsByClass(ctx context.Context, classID int64) ([]int64, error)
	// SetStatusForRole moves every user with the role to status and returns the count.
	SetStatusForRole(ctx context.Context, role models.Role, status models.AccountStatus) (int64, error)
}

type ClassStore interface {
	ListClasses(ctx context.Context) ([]models.Class, error)
	GetClass(ctx context.Context, id int64) (models.Class, error)
	CreateClass(ctx context.Context, name string) (models.Class, error)
	DeleteClass(ctx context.Context, id int64) error
}
