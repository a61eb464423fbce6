package models

import "time"

// MealDate is a calendar day on which a meal can be ordered
type MealDate struct {
	ID   int64 `json:"id"`
	Date Date  `json:"date"`
}

// Order is one user's reservation of one meal date
type Order struct {
	ID         int64     `json:"id"`
	UserID     int64     `json:"userId"`
	MealDateID int64     `json:"mealDateId"`
	CreatedAt  time.Time `json:"createdAt"`
}

// OrderedMeal is an order joined with its meal date
type OrderedMeal struct {
	OrderID    int64 `json:"orderId"`
	MealDateID int64 `json:"mealDateId"`
	Date       Date  `json:"date"`
}

// OrderRow is an order joined with its owner for listings
type OrderRow struct {
	OrderID    int64  `json:"orderId"`
	UserID     int64  `json:"userId"`
	MealDateID int64  `json:"mealDateId"`
	Date       Date   `json:"date"`
	FirstName  string `json:"firstName"`
	LastName   string `json:"lastName"`
	ClassID    *int64 `json:"classId,omitempty"`
	ClassName  string `json:"className,omitempty"`
}

// OrderQuery is the storage-level filter for order listings.
// OnOrAfter and Before bound the meal date; both are optional.
type OrderQuery struct {
	UserID    *int64
	ClassID   *int64
	OnOrAfter *Date
	Before    *Date
	Ascending bool
	Limit     int
	Offset    int
}

// ReportRow is one line of the orders report
type ReportRow struct {
	Date      Date
	LastName  string
	FirstName string
	ClassName string
}

// BalanceAccount is the running balance of one user
type BalanceAccount struct {
	UserID    int64           `json:"userId"`
	Balance   Money           `json:"balance"`
	Note      *string         `json:"note,omitempty"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// Class is a school class users belong to
type Class struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}
