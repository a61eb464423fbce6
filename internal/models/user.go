package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Role is the access level of an account
type Role int

const (
	RoleUser  Role = 1
	RoleStaff Role = 2
	RoleAdmin Role = 3
)

func (r Role) Valid() bool {
	return r >= RoleUser && r <= RoleAdmin
}

func (r Role) String() string {
	switch r {
	case RoleUser:
		return "user"
	case RoleStaff:
		return "staff"
	case RoleAdmin:
		return "admin"
	default:
		return "unknown"
	}
}

// AccountStatus is the lifecycle state of an account
type AccountStatus int

const (
	StatusInactive AccountStatus = 1
	StatusActive   AccountStatus = 2
	StatusOnBreak  AccountStatus = 3
	StatusBlocked  AccountStatus = 4
)

func (s AccountStatus) Valid() bool {
	return s >= StatusInactive && s <= StatusBlocked
}

func (s AccountStatus) String() string {
	switch s {
	case StatusInactive:
		return "inactive"
	case StatusActive:
		return "active"
	case StatusOnBreak:
		return "on_break"
	case StatusBlocked:
		return "blocked"
	default:
		return "unknown"
	}
}

// CanLogin reports whether an account in this state may open a session
func (s AccountStatus) CanLogin() bool {
	return s == StatusActive || s == StatusOnBreak
}

// NeedsClassUpdate reports whether the user must pick a class after login
func (s AccountStatus) NeedsClassUpdate() bool {
	return s == StatusOnBreak
}

// AfterClassUpdate returns the status that follows a successful class change
func (s AccountStatus) AfterClassUpdate() AccountStatus {
	if s == StatusOnBreak {
		return StatusActive
	}
	return s
}

// User is a stored account
type User struct {
	ID           int64         `json:"id"`
	Login        string        `json:"login"`
	PasswordHash string        `json:"-"`
	FirstName    string        `json:"firstName"`
	LastName     string        `json:"lastName"`
	ClassID      *int64        `json:"classId,omitempty"`
	Role         Role          `json:"roleId"`
	Status       AccountStatus `json:"statusId"`
	CreatedAt    time.Time     `json:"createdAt"`
}

// UserSummary is a user joined with its class name and balance
type UserSummary struct {
	User
	ClassName string          `json:"className,omitempty"`
	Balance   Money           `json:"balance"`
	Note      *string         `json:"note,omitempty"`
}

// UserPatch carries the fields of an administrative user update; nil fields stay unchanged
type UserPatch struct {
	FirstName *string          `json:"firstName,omitempty"`
	LastName  *string          `json:"lastName,omitempty"`
	Login     *string          `json:"login,omitempty"`
	Password  *string          `json:"password,omitempty"`
	ClassID   *int64           `json:"classId,omitempty"`
	Role      *Role            `json:"roleId,omitempty"`
	Status    *AccountStatus   `json:"statusId,omitempty"`
	Balance   *decimal.Decimal `json:"balance,omitempty"`
	Note      *string          `json:"note,omitempty"`
}

// Empty reports whether the patch changes nothing
func (p UserPatch) Empty() bool {
	return p.FirstName == nil && p.LastName == nil && p.Login == nil && p.Password == nil &&
		p.ClassID == nil && p.Role == nil && p.Status == nil && p.Balance == nil && p.Note == nil
}

// TouchesBalance reports whether the patch changes the balance account
func (p UserPatch) TouchesBalance() bool {
	return p.Balance != nil || p.Note != nil
}

// UserQuery filters the administrative user listing
type UserQuery struct {
	Search  string
	ClassID *int64
	Role    *Role
	Status  *AccountStatus
}

// Actor is the verified identity behind a request
type Actor struct {
	UserID int64
	Login  string
	Role   Role
}

func (a Actor) IsAdmin() bool {
	return a.Role == RoleAdmin
}

// CanActFor reports whether the actor may operate on the given user's data
func (a Actor) CanActFor(userID int64) bool {
	return a.IsAdmin() || a.UserID == userID
}

// CatalogEntry is an id/name pair for static lookup lists
type CatalogEntry struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

func Roles() []CatalogEntry {
	return []CatalogEntry{
		{ID: int(RoleUser), Name: RoleUser.String()},
		{ID: int(RoleStaff), Name: RoleStaff.String()},
		{ID: int(RoleAdmin), Name: RoleAdmin.String()},
	}
}

func Statuses() []CatalogEntry {
	return []CatalogEntry{
		{ID: int(StatusInactive), Name: StatusInactive.String()},
		{ID: int(StatusActive), Name: StatusActive.String()},
		{ID: int(StatusOnBreak), Name: StatusOnBreak.String()},
		{ID: int(StatusBlocked), Name: StatusBlocked.String()},
	}
}
