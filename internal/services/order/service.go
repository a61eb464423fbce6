// Package order implements the order workflows: placing and cancelling
// orders, removing meal dates and class orders with refunds, and order
// listings. Every workflow runs in one storage transaction; events are
// published after commit.
package order

import (
	"context"
	"errors"
	"math"
	"sort"

	"github.com/shopspring/decimal"

	"school-meals/internal/apperr"
	"school-meals/internal/logger"
	"school-meals/internal/metrics"
	"school-meals/internal/models"
	"school-meals/internal/storage"
)

const (
	defaultPageSize = 10
	maxPageSize     = 100
	maxRangeDays    = 366
)

// Reasons reported for days skipped by a range placement.
const (
	SkipNoMeal         = "no meal offered"
	SkipAlreadyOrdered = "already ordered"
	SkipWindowClosed   = "ordering window closed"
)

// Search filters relative to the ordering window boundary.
const (
	FilterUpcoming = "upcoming"
	FilterPast     = "past"
)

type Service struct {
	store  storage.Store
	window *Window
	events EventPublisher
	logger *logger.Logger
}

// NewService wires the workflows; events may be nil when messaging is disabled.
func NewService(store storage.Store, window *Window, events EventPublisher, log *logger.Logger) *Service {
	return &Service{
		store:  store,
		window: window,
		events: events,
		logger: log,
	}
}

// PlaceRequest asks for one meal for one user
type PlaceRequest struct {
	UserID     int64 `json:"userId"`
	MealDateID int64 `json:"mealDateId"`
}

// Placement is the result of a successful placement
type Placement struct {
	Order   models.Order    `json:"order"`
	Date    models.Date     `json:"date"`
	Price   models.Money `json:"price"`
	Balance models.Money `json:"balance"`
}

// PlaceOrder creates the order and debits the owner's balance by the current price
func (s *Service) PlaceOrder(ctx context.Context, actor models.Actor, req PlaceRequest) (*Placement, error) {
	if req.UserID == 0 {
		req.UserID = actor.UserID
	}
	if req.MealDateID <= 0 {
		return nil, apperr.Invalid("mealDateId", "must be a positive integer")
	}
	if !actor.CanActFor(req.UserID) {
		return nil, apperr.Forbidden("cannot order for another user")
	}

	var result Placement
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		md, err := tx.GetMealDate(ctx, req.MealDateID)
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("meal date %d not found", req.MealDateID)
		}
		if err != nil {
			return err
		}

		if err := s.loadOrderingUser(ctx, tx, actor, req.UserID); err != nil {
			return err
		}
		if !actor.IsAdmin() {
			if err := s.window.Check(md.Date); err != nil {
				return err
			}
		}

		price, err := tx.GetPrice(ctx)
		if err != nil {
			return err
		}

		order, err := tx.InsertOrder(ctx, req.UserID, md.ID)
		switch {
		case errors.Is(err, storage.ErrDuplicate):
			return apperr.Conflict("order already exists for this date")
		case errors.Is(err, storage.ErrForeignKey):
			return apperr.NotFound("meal date %d not found", req.MealDateID)
		case err != nil:
			return err
		}

		balance, err := tx.AdjustBalance(ctx, req.UserID, price.Neg())
		if err != nil {
			return err
		}

		result = Placement{Order: order, Date: md.Date, Price: models.MoneyOf(price), Balance: models.MoneyOf(balance)}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap("place order", err)
	}

	metrics.RecordOrdersPlaced(source(actor), 1)

	event := models.NewMealEvent(models.EventOrderPlaced, logger.RequestID(ctx))
	event.UserID = req.UserID
	event.OrderID = result.Order.ID
	event.Dates = []models.Date{result.Date}
	event.Amount = &result.Price
	s.publish(ctx, event)

	return &result, nil
}

// loadOrderingUser checks the target user exists and, for self-service, may order
func (s *Service) loadOrderingUser(ctx context.Context, tx storage.Tx, actor models.Actor, userID int64) error {
	user, err := tx.GetUser(ctx, userID)
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.NotFound("user %d not found", userID)
	}
	if err != nil {
		return err
	}
	if !actor.IsAdmin() && user.Status != models.StatusActive {
		return apperr.Forbidden("account is %s, ordering is not allowed", user.Status)
	}
	return nil
}

// RangeRequest asks for a meal on every weekday of [StartDate, EndDate]
type RangeRequest struct {
	UserID    int64       `json:"userId"`
	StartDate models.Date `json:"startDate"`
	EndDate   models.Date `json:"endDate"`
}

type PlacedOrder struct {
	OrderID    int64       `json:"orderId"`
	MealDateID int64       `json:"mealDateId"`
	Date       models.Date `json:"date"`
}

type SkippedDay struct {
	Date   models.Date `json:"date"`
	Reason string      `json:"reason"`
}

// RangePlacement lists what a range placement did
type RangePlacement struct {
	Placed  []PlacedOrder   `json:"placed"`
	Skipped []SkippedDay    `json:"skipped"`
	Price   models.Money  `json:"price"`
	Charged models.Money  `json:"charged"`
	Balance models.Money  `json:"balance"`
}

// PlaceOrdersInRange orders every offered weekday in the range that is not
// ordered yet. All placements share one transaction and one price.
func (s *Service) PlaceOrdersInRange(ctx context.Context, actor models.Actor, req RangeRequest) (*RangePlacement, error) {
	if req.UserID == 0 {
		req.UserID = actor.UserID
	}
	if err := ValidateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}
	if !actor.CanActFor(req.UserID) {
		return nil, apperr.Forbidden("cannot order for another user")
	}

	result := RangePlacement{Placed: []PlacedOrder{}, Skipped: []SkippedDay{}}
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		if err := s.loadOrderingUser(ctx, tx, actor, req.UserID); err != nil {
			return err
		}

		days := models.Weekdays(req.StartDate, req.EndDate)
		offered, err := tx.FindMealDates(ctx, days)
		if err != nil {
			return err
		}
		byDay := make(map[string]models.MealDate, len(offered))
		for _, md := range offered {
			byDay[md.Date.String()] = md
		}

		existing, err := tx.ListOrdersForUsers(ctx, []int64{req.UserID}, req.StartDate, req.EndDate)
		if err != nil {
			return err
		}
		ordered := make(map[int64]bool, len(existing))
		for _, o := range existing {
			ordered[o.MealDateID] = true
		}

		for _, day := range days {
			md, ok := byDay[day.String()]
			switch {
			case !ok:
				result.Skipped = append(result.Skipped, SkippedDay{Date: day, Reason: SkipNoMeal})
				continue
			case ordered[md.ID]:
				result.Skipped = append(result.Skipped, SkippedDay{Date: day, Reason: SkipAlreadyOrdered})
				continue
			case !actor.IsAdmin() && s.window.Check(day) != nil:
				result.Skipped = append(result.Skipped, SkippedDay{Date: day, Reason: SkipWindowClosed})
				continue
			}

			order, err := tx.InsertOrder(ctx, req.UserID, md.ID)
			if errors.Is(err, storage.ErrDuplicate) {
				return apperr.Conflict("order for %s was placed concurrently, retry", day)
			}
			if err != nil {
				return err
			}
			result.Placed = append(result.Placed, PlacedOrder{OrderID: order.ID, MealDateID: md.ID, Date: day})
		}

		price, err := tx.GetPrice(ctx)
		if err != nil {
			return err
		}
		charged := price.Mul(decimal.NewFromInt(int64(len(result.Placed))))
		result.Price, result.Charged = models.MoneyOf(price), models.MoneyOf(charged)

		if len(result.Placed) == 0 {
			account, err := tx.GetBalance(ctx, req.UserID)
			if err != nil {
				return err
			}
			result.Balance = account.Balance
			return nil
		}
		balance, err := tx.AdjustBalance(ctx, req.UserID, charged.Neg())
		result.Balance = models.MoneyOf(balance)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("place orders in range", err)
	}

	metrics.RecordOrdersPlaced(source(actor), len(result.Placed))
	for _, p := range result.Placed {
		event := models.NewMealEvent(models.EventOrderPlaced, logger.RequestID(ctx))
		event.UserID = req.UserID
		event.OrderID = p.OrderID
		event.Dates = []models.Date{p.Date}
		event.Amount = &result.Price
		s.publish(ctx, event)
	}

	return &result, nil
}

// Cancellation is the result of a cancelled order
type Cancellation struct {
	OrderID  int64           `json:"orderId"`
	UserID   int64           `json:"userId"`
	Date     models.Date     `json:"date"`
	Refunded models.Money `json:"refunded"`
	Balance  models.Money `json:"balance"`
}

// CancelOrder removes the order and credits its owner by the current price.
// Orders of other users are reported as missing unless the actor is an admin.
func (s *Service) CancelOrder(ctx context.Context, actor models.Actor, orderID int64) (*Cancellation, error) {
	var result Cancellation
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		order, err := tx.GetOrder(ctx, orderID)
		if errors.Is(err, storage.ErrNotFound) || (err == nil && !actor.CanActFor(order.UserID)) {
			return apperr.NotFound("order %d not found", orderID)
		}
		if err != nil {
			return err
		}

		md, err := tx.GetMealDate(ctx, order.MealDateID)
		if err != nil {
			return err
		}
		if !actor.IsAdmin() {
			if err := s.window.Check(md.Date); err != nil {
				return err
			}
		}

		price, err := tx.GetPrice(ctx)
		if err != nil {
			return err
		}

		removed, err := tx.DeleteOrders(ctx, []int64{order.ID})
		if err != nil {
			return err
		}
		if removed == 0 {
			return apperr.NotFound("order %d not found", orderID)
		}

		balance, err := tx.AdjustBalance(ctx, order.UserID, price)
		if err != nil {
			return err
		}

		result = Cancellation{OrderID: order.ID, UserID: order.UserID, Date: md.Date, Refunded: models.MoneyOf(price), Balance: models.MoneyOf(balance)}
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap("cancel order", err)
	}

	metrics.RecordOrdersRemoved("cancelled", 1)

	event := models.NewMealEvent(models.EventOrderCancelled, logger.RequestID(ctx))
	event.UserID = result.UserID
	event.OrderID = result.OrderID
	event.Dates = []models.Date{result.Date}
	event.Amount = &result.Refunded
	s.publish(ctx, event)

	return &result, nil
}

// MealDateSelector addresses one meal date by id or by day
type MealDateSelector struct {
	ID   *int64       `json:"id,omitempty"`
	Date *models.Date `json:"date,omitempty"`
}

// Removal summarizes refunded removals
type Removal struct {
	MealDate       *models.MealDate `json:"mealDate,omitempty"`
	ClassID        int64            `json:"classId,omitempty"`
	RemovedOrders  int              `json:"removedOrders"`
	RefundedUsers  int              `json:"refundedUsers"`
	RefundedAmount models.Money     `json:"refundedAmount"`
}

// DeleteMealDate refunds every order on the meal date, removes the orders
// and then the meal date itself
func (s *Service) DeleteMealDate(ctx context.Context, sel MealDateSelector) (*Removal, error) {
	if (sel.ID == nil) == (sel.Date == nil) {
		return nil, apperr.Invalid("date", "exactly one of date or id is required")
	}

	var result Removal
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		var (
			md  models.MealDate
			err error
		)
		if sel.ID != nil {
			md, err = tx.GetMealDate(ctx, *sel.ID)
		} else {
			md, err = tx.GetMealDateByDay(ctx, *sel.Date)
		}
		if errors.Is(err, storage.ErrNotFound) {
			return apperr.NotFound("meal date not found")
		}
		if err != nil {
			return err
		}

		orders, err := tx.ListOrdersByMealDate(ctx, md.ID)
		if err != nil {
			return err
		}
		removal, err := refundAndRemove(ctx, tx, orders)
		if err != nil {
			return err
		}

		err = tx.DeleteMealDate(ctx, md.ID)
		switch {
		case errors.Is(err, storage.ErrForeignKey):
			return apperr.Conflict("meal date %s received new orders during deletion, retry", md.Date)
		case errors.Is(err, storage.ErrNotFound):
			return apperr.NotFound("meal date not found")
		case err != nil:
			return err
		}

		result = removal
		result.MealDate = &md
		return nil
	})
	if err != nil {
		return nil, apperr.Wrap("delete meal date", err)
	}

	metrics.RecordOrdersRemoved("meal_date_deleted", result.RemovedOrders)

	event := models.NewMealEvent(models.EventMealDateDeleted, logger.RequestID(ctx))
	event.Dates = []models.Date{result.MealDate.Date}
	event.Count = result.RemovedOrders
	event.Amount = &result.RefundedAmount
	s.publish(ctx, event)

	return &result, nil
}

// ClassRangeRequest addresses the orders of one class within a date range
type ClassRangeRequest struct {
	ClassID   int64       `json:"classId"`
	StartDate models.Date `json:"startDate"`
	EndDate   models.Date `json:"endDate"`
}

// DeleteMealsForClass refunds and removes the orders of every user in the
// class on meal dates within the range. Meal dates are kept.
func (s *Service) DeleteMealsForClass(ctx context.Context, req ClassRangeRequest) (*Removal, error) {
	if req.ClassID <= 0 {
		return nil, apperr.Invalid("classId", "must be a positive integer")
	}
	if err := ValidateRange(req.StartDate, req.EndDate); err != nil {
		return nil, err
	}

	var result Removal
	err := s.store.Update(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetClass(ctx, req.ClassID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.NotFound("class %d not found", req.ClassID)
			}
			return err
		}

		userIDs, err := tx.UserIDsByClass(ctx, req.ClassID)
		if err != nil {
			return err
		}
		if len(userIDs) == 0 {
			return apperr.NotFound("class %d has no users", req.ClassID)
		}

		orders, err := tx.ListOrdersForUsers(ctx, userIDs, req.StartDate, req.EndDate)
		if err != nil {
			return err
		}
		if len(orders) == 0 {
			return apperr.NotFound("no orders found for class %d between %s and %s", req.ClassID, req.StartDate, req.EndDate)
		}

		result, err = refundAndRemove(ctx, tx, orders)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("delete class orders", err)
	}
	result.ClassID = req.ClassID

	metrics.RecordOrdersRemoved("class_orders_deleted", result.RemovedOrders)

	event := models.NewMealEvent(models.EventClassOrdersDeleted, logger.RequestID(ctx))
	event.ClassID = req.ClassID
	event.Dates = []models.Date{req.StartDate, req.EndDate}
	event.Count = result.RemovedOrders
	event.Amount = &result.RefundedAmount
	s.publish(ctx, event)

	return &result, nil
}

// refundAndRemove credits each owner once per order at the current price,
// in ascending user id order, then deletes the orders
func refundAndRemove(ctx context.Context, tx storage.Tx, orders []models.Order) (Removal, error) {
	removal := Removal{RefundedAmount: models.MoneyOf(decimal.Zero)}
	if len(orders) == 0 {
		return removal, nil
	}

	price, err := tx.GetPrice(ctx)
	if err != nil {
		return removal, err
	}

	perUser := make(map[int64]int64)
	ids := make([]int64, 0, len(orders))
	for _, o := range orders {
		perUser[o.UserID]++
		ids = append(ids, o.ID)
	}

	users := make([]int64, 0, len(perUser))
	for id := range perUser {
		users = append(users, id)
	}
	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })

	for _, userID := range users {
		credit := price.Mul(decimal.NewFromInt(perUser[userID]))
		if _, err := tx.AdjustBalance(ctx, userID, credit); err != nil {
			return removal, err
		}
		removal.RefundedAmount = models.MoneyOf(removal.RefundedAmount.Add(credit))
	}

	removed, err := tx.DeleteOrders(ctx, ids)
	if err != nil {
		return removal, err
	}
	if removed != int64(len(ids)) {
		return removal, apperr.Conflict("orders changed during removal, retry")
	}

	removal.RemovedOrders = len(ids)
	removal.RefundedUsers = len(users)
	return removal, nil
}

// UserOrders lists every order of one user with its meal date
func (s *Service) UserOrders(ctx context.Context, actor models.Actor, userID int64) ([]models.OrderedMeal, error) {
	if !actor.CanActFor(userID) {
		return nil, apperr.Forbidden("cannot view orders of another user")
	}

	var orders []models.OrderedMeal
	err := s.store.View(ctx, func(tx storage.Tx) error {
		if _, err := tx.GetUser(ctx, userID); err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return apperr.NotFound("user %d not found", userID)
			}
			return err
		}
		var err error
		orders, err = tx.ListUserOrders(ctx, userID)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("list user orders", err)
	}
	if orders == nil {
		orders = []models.OrderedMeal{}
	}
	return orders, nil
}

// SearchParams filters the paged order listing
type SearchParams struct {
	Filter  string
	From    *models.Date
	To      *models.Date
	UserID  *int64
	ClassID *int64
	Page    int
	Limit   int
}

type SearchResult struct {
	Orders     []models.OrderRow `json:"orders"`
	TotalCount int               `json:"totalCount"`
	Page       int               `json:"page"`
	Limit      int               `json:"limit"`
}

// SearchOrders lists orders page by page, newest meal date first unless the
// filter is upcoming. Regular users only see their own.
func (s *Service) SearchOrders(ctx context.Context, actor models.Actor, p SearchParams) (*SearchResult, error) {
	q, err := s.buildQuery(actor, &p)
	if err != nil {
		return nil, err
	}

	result := SearchResult{Page: p.Page, Limit: p.Limit}
	err = s.store.View(ctx, func(tx storage.Tx) error {
		var err error
		result.Orders, result.TotalCount, err = tx.SearchOrders(ctx, q)
		return err
	})
	if err != nil {
		return nil, apperr.Wrap("search orders", err)
	}
	if result.Orders == nil {
		result.Orders = []models.OrderRow{}
	}
	return &result, nil
}

func (s *Service) buildQuery(actor models.Actor, p *SearchParams) (models.OrderQuery, error) {
	if p.Limit == 0 {
		p.Limit = defaultPageSize
	}
	if p.Limit < 0 || p.Limit > maxPageSize {
		return models.OrderQuery{}, apperr.Invalid("limit", "must be between 1 and 100")
	}
	if p.Page == 0 {
		p.Page = 1
	}
	if p.Page < 0 {
		return models.OrderQuery{}, apperr.Invalid("page", "must be positive")
	}
	if p.Page > math.MaxInt/p.Limit {
		return models.OrderQuery{}, apperr.Invalid("page", "is out of range")
	}
	if p.From != nil && p.To != nil && p.From.After(*p.To) {
		return models.OrderQuery{}, apperr.Invalid("startDate", "must not be after endDate")
	}

	q := models.OrderQuery{
		UserID:    p.UserID,
		ClassID:   p.ClassID,
		OnOrAfter: p.From,
		Limit:     p.Limit,
		Offset:    (p.Page - 1) * p.Limit,
	}
	if !actor.IsAdmin() {
		own := actor.UserID
		q.UserID = &own
		q.ClassID = nil
	}
	if p.To != nil {
		next := p.To.AddDays(1)
		q.Before = &next
	}

	boundary := s.window.Boundary()
	switch p.Filter {
	case "":
	case FilterUpcoming:
		if q.OnOrAfter == nil || q.OnOrAfter.Before(boundary) {
			q.OnOrAfter = &boundary
		}
		q.Ascending = true
	case FilterPast:
		if q.Before == nil || q.Before.After(boundary) {
			q.Before = &boundary
		}
	default:
		return models.OrderQuery{}, apperr.Invalid("filter", "must be upcoming or past")
	}
	return q, nil
}

// ValidateRange checks an inclusive day range of at most 366 days
func ValidateRange(start, end models.Date) error {
	if start.IsZero() {
		return apperr.Invalid("startDate", "is required")
	}
	if end.IsZero() {
		return apperr.Invalid("endDate", "is required")
	}
	if start.After(end) {
		return apperr.Invalid("startDate", "must not be after endDate")
	}
	if end.Sub(start.Time).Hours()/24 >= maxRangeDays {
		return apperr.Invalid("endDate", "range must not exceed 366 days")
	}
	return nil
}

func source(actor models.Actor) string {
	if actor.IsAdmin() {
		return "admin"
	}
	return "self"
}

func (s *Service) publish(ctx context.Context, event models.MealEvent) {
	Publish(ctx, s.events, s.logger, event)
}
