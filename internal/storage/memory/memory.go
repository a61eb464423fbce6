// Package memory is an in-process implementation of storage.Store. Update
// works on a copy of the data and swaps it in on success, so a failed
// callback leaves no trace. Service and HTTP tests run against it.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"school-meals/internal/models"
	"school-meals/internal/storage"
)

type orderKey struct {
	userID     int64
	mealDateID int64
}

type state struct {
	nextID    int64
	price     decimal.Decimal
	users     map[int64]models.User
	logins    map[string]int64
	balances  map[int64]models.BalanceAccount
	classes   map[int64]models.Class
	mealDates map[int64]models.MealDate
	days      map[string]int64
	orders    map[int64]models.Order
	orderKeys map[orderKey]int64
}

func newState() *state {
	return &state{
		nextID:    1,
		price:     decimal.Zero,
		users:     make(map[int64]models.User),
		logins:    make(map[string]int64),
		balances:  make(map[int64]models.BalanceAccount),
		classes:   make(map[int64]models.Class),
		mealDates: make(map[int64]models.MealDate),
		days:      make(map[string]int64),
		orders:    make(map[int64]models.Order),
		orderKeys: make(map[orderKey]int64),
	}
}

func (s *state) clone() *state {
	return &state{
		nextID:    s.nextID,
		price:     s.price,
		users:     maps.Clone(s.users),
		logins:    maps.Clone(s.logins),
		balances:  maps.Clone(s.balances),
		classes:   maps.Clone(s.classes),
		mealDates: maps.Clone(s.mealDates),
		days:      maps.Clone(s.days),
		orders:    maps.Clone(s.orders),
		orderKeys: maps.Clone(s.orderKeys),
	}
}

// Store is safe for concurrent use. Update calls are serialized.
type Store struct {
	mu  sync.RWMutex
	now func() time.Time
	st  *state
}

var _ storage.Store = (*Store)(nil)

// New creates an empty store with a zero price.
func New() *Store {
	return &Store{st: newState(), now: time.Now}
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return fn(&tx{st: s.st, readOnly: true, now: s.now})
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	work := s.st.clone()
	if err := fn(&tx{st: work, now: s.now}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.st = work
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return ctx.Err()
}

type tx struct {
	st       *state
	readOnly bool
	now      func() time.Time
}

var _ storage.Tx = (*tx)(nil)

func (t *tx) writable() error {
	if t.readOnly {
		return storage.ErrReadOnly
	}
	return nil
}

func (t *tx) id() int64 {
	id := t.st.nextID
	t.st.nextID++
	return id
}

// Price -------------------------------------------------------------------

func (t *tx) GetPrice(_ context.Context) (decimal.Decimal, error) {
	return t.st.price, nil
}

func (t *tx) SetPrice(_ context.Context, amount decimal.Decimal) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.price = amount
	return nil
}

// Calendar ----------------------------------------------------------------

func (t *tx) InsertMealDates(_ context.Context, days []models.Date) ([]models.MealDate, error) {
	if err := t.writable(); err != nil {
		return nil, err
	}
	out := make([]models.MealDate, 0, len(days))
	for _, day := range days {
		key := day.String()
		if _, exists := t.st.days[key]; exists {
			return nil, storage.ErrDuplicate
		}
		md := models.MealDate{ID: t.id(), Date: day}
		t.st.mealDates[md.ID] = md
		t.st.days[key] = md.ID
		out = append(out, md)
	}
	return out, nil
}

func (t *tx) FindMealDates(_ context.Context, days []models.Date) ([]models.MealDate, error) {
	var out []models.MealDate
	for _, day := range days {
		if id, ok := t.st.days[day.String()]; ok {
			out = append(out, t.st.mealDates[id])
		}
	}
	sortMealDates(out)
	return out, nil
}

func (t *tx) GetMealDate(_ context.Context, id int64) (models.MealDate, error) {
	md, ok := t.st.mealDates[id]
	if !ok {
		return models.MealDate{}, storage.ErrNotFound
	}
	return md, nil
}

func (t *tx) GetMealDateByDay(_ context.Context, day models.Date) (models.MealDate, error) {
	id, ok := t.st.days[day.String()]
	if !ok {
		return models.MealDate{}, storage.ErrNotFound
	}
	return t.st.mealDates[id], nil
}

func (t *tx) ListMealDates(_ context.Context, from models.Date, to *models.Date) ([]models.MealDate, error) {
	var out []models.MealDate
	for _, md := range t.st.mealDates {
		if md.Date.Before(from) {
			continue
		}
		if to != nil && md.Date.After(*to) {
			continue
		}
		out = append(out, md)
	}
	sortMealDates(out)
	return out, nil
}

func (t *tx) DeleteMealDate(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	md, ok := t.st.mealDates[id]
	if !ok {
		return storage.ErrNotFound
	}
	for _, o := range t.st.orders {
		if o.MealDateID == id {
			return storage.ErrForeignKey
		}
	}
	delete(t.st.mealDates, id)
	delete(t.st.days, md.Date.String())
	return nil
}

func sortMealDates(mds []models.MealDate) {
	sort.Slice(mds, func(i, j int) bool { return mds[i].Date.Before(mds[j].Date) })
}

// Ledger ------------------------------------------------------------------

func (t *tx) InsertOrder(_ context.Context, userID, mealDateID int64) (models.Order, error) {
	if err := t.writable(); err != nil {
		return models.Order{}, err
	}
	if _, ok := t.st.users[userID]; !ok {
		return models.Order{}, storage.ErrForeignKey
	}
	if _, ok := t.st.mealDates[mealDateID]; !ok {
		return models.Order{}, storage.ErrForeignKey
	}
	key := orderKey{userID: userID, mealDateID: mealDateID}
	if _, exists := t.st.orderKeys[key]; exists {
		return models.Order{}, storage.ErrDuplicate
	}
	o := models.Order{ID: t.id(), UserID: userID, MealDateID: mealDateID, CreatedAt: t.now().UTC()}
	t.st.orders[o.ID] = o
	t.st.orderKeys[key] = o.ID
	return o, nil
}

func (t *tx) GetOrder(_ context.Context, id int64) (models.Order, error) {
	o, ok := t.st.orders[id]
	if !ok {
		return models.Order{}, storage.ErrNotFound
	}
	return o, nil
}

func (t *tx) ListOrdersByMealDate(_ context.Context, mealDateID int64) ([]models.Order, error) {
	var out []models.Order
	for _, o := range t.st.orders {
		if o.MealDateID == mealDateID {
			out = append(out, o)
		}
	}
	sortOrders(out)
	return out, nil
}

func (t *tx) ListOrdersForUsers(_ context.Context, userIDs []int64, from, to models.Date) ([]models.Order, error) {
	wanted := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		wanted[id] = true
	}
	var out []models.Order
	for _, o := range t.st.orders {
		if !wanted[o.UserID] {
			continue
		}
		day := t.st.mealDates[o.MealDateID].Date
		if day.Before(from) || day.After(to) {
			continue
		}
		out = append(out, o)
	}
	sortOrders(out)
	return out, nil
}

func (t *tx) DeleteOrders(_ context.Context, ids []int64) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	var n int64
	for _, id := range ids {
		o, ok := t.st.orders[id]
		if !ok {
			continue
		}
		delete(t.st.orders, id)
		delete(t.st.orderKeys, orderKey{userID: o.UserID, mealDateID: o.MealDateID})
		n++
	}
	return n, nil
}

func (t *tx) ListUserOrders(_ context.Context, userID int64) ([]models.OrderedMeal, error) {
	var out []models.OrderedMeal
	for _, o := range t.st.orders {
		if o.UserID != userID {
			continue
		}
		out = append(out, models.OrderedMeal{
			OrderID:    o.ID,
			MealDateID: o.MealDateID,
			Date:       t.st.mealDates[o.MealDateID].Date,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

func (t *tx) SearchOrders(_ context.Context, q models.OrderQuery) ([]models.OrderRow, int, error) {
	var rows []models.OrderRow
	for _, o := range t.st.orders {
		u := t.st.users[o.UserID]
		day := t.st.mealDates[o.MealDateID].Date
		if q.UserID != nil && o.UserID != *q.UserID {
			continue
		}
		if q.ClassID != nil && (u.ClassID == nil || *u.ClassID != *q.ClassID) {
			continue
		}
		if q.OnOrAfter != nil && day.Before(*q.OnOrAfter) {
			continue
		}
		if q.Before != nil && !day.Before(*q.Before) {
			continue
		}
		row := models.OrderRow{
			OrderID:    o.ID,
			UserID:     o.UserID,
			MealDateID: o.MealDateID,
			Date:       day,
			FirstName:  u.FirstName,
			LastName:   u.LastName,
			ClassID:    u.ClassID,
		}
		if u.ClassID != nil {
			row.ClassName = t.st.classes[*u.ClassID].Name
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool {
		if !rows[i].Date.Equal(rows[j].Date) {
			if q.Ascending {
				return rows[i].Date.Before(rows[j].Date)
			}
			return rows[i].Date.After(rows[j].Date)
		}
		return rows[i].OrderID < rows[j].OrderID
	})

	if q.Offset < 0 {
		return nil, 0, fmt.Errorf("memory: negative offset %d", q.Offset)
	}
	total := len(rows)
	if q.Offset >= len(rows) {
		return []models.OrderRow{}, total, nil
	}
	rows = rows[q.Offset:]
	if q.Limit > 0 && len(rows) > q.Limit {
		rows = rows[:q.Limit]
	}
	return rows, total, nil
}

func (t *tx) ReportRows(_ context.Context, from, to models.Date) ([]models.ReportRow, error) {
	var out []models.ReportRow
	for _, o := range t.st.orders {
		day := t.st.mealDates[o.MealDateID].Date
		if day.Before(from) || day.After(to) {
			continue
		}
		u := t.st.users[o.UserID]
		row := models.ReportRow{Date: day, LastName: u.LastName, FirstName: u.FirstName}
		if u.ClassID != nil {
			row.ClassName = t.st.classes[*u.ClassID].Name
		}
		out = append(out, row)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if !a.Date.Equal(b.Date) {
			return a.Date.Before(b.Date)
		}
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		return a.FirstName < b.FirstName
	})
	return out, nil
}

func sortOrders(orders []models.Order) {
	sort.Slice(orders, func(i, j int) bool { return orders[i].ID < orders[j].ID })
}

// Balances ----------------------------------------------------------------

func (t *tx) CreateBalance(_ context.Context, userID int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.users[userID]; !ok {
		return storage.ErrForeignKey
	}
	if _, exists := t.st.balances[userID]; exists {
		return storage.ErrDuplicate
	}
	t.st.balances[userID] = models.BalanceAccount{UserID: userID, Balance: models.MoneyOf(decimal.Zero), UpdatedAt: t.now().UTC()}
	return nil
}

func (t *tx) GetBalance(_ context.Context, userID int64) (models.BalanceAccount, error) {
	acct, ok := t.st.balances[userID]
	if !ok {
		return models.BalanceAccount{}, storage.ErrNotFound
	}
	return acct, nil
}

func (t *tx) AdjustBalance(_ context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	if err := t.writable(); err != nil {
		return decimal.Zero, err
	}
	acct, ok := t.st.balances[userID]
	if !ok {
		return decimal.Zero, storage.ErrNotFound
	}
	acct.Balance = models.MoneyOf(acct.Balance.Add(delta))
	acct.UpdatedAt = t.now().UTC()
	t.st.balances[userID] = acct
	return acct.Balance.Decimal, nil
}

func (t *tx) SetBalance(_ context.Context, userID int64, amount decimal.Decimal, note *string) error {
	if err := t.writable(); err != nil {
		return err
	}
	acct, ok := t.st.balances[userID]
	if !ok {
		return storage.ErrNotFound
	}
	acct.Balance = models.MoneyOf(amount)
	if note != nil {
		n := *note
		acct.Note = &n
	}
	acct.UpdatedAt = t.now().UTC()
	t.st.balances[userID] = acct
	return nil
}

// Users -------------------------------------------------------------------

func (t *tx) classExists(id *int64) bool {
	if id == nil {
		return true
	}
	_, ok := t.st.classes[*id]
	return ok
}

func (t *tx) CreateUser(_ context.Context, u models.User) (models.User, error) {
	if err := t.writable(); err != nil {
		return models.User{}, err
	}
	if _, exists := t.st.logins[u.Login]; exists {
		return models.User{}, storage.ErrDuplicate
	}
	if !t.classExists(u.ClassID) {
		return models.User{}, storage.ErrForeignKey
	}
	u.ID = t.id()
	u.CreatedAt = t.now().UTC()
	t.st.users[u.ID] = u
	t.st.logins[u.Login] = u.ID
	return u, nil
}

func (t *tx) GetUser(_ context.Context, id int64) (models.User, error) {
	u, ok := t.st.users[id]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return u, nil
}

func (t *tx) GetUserByLogin(_ context.Context, login string) (models.User, error) {
	id, ok := t.st.logins[login]
	if !ok {
		return models.User{}, storage.ErrNotFound
	}
	return t.st.users[id], nil
}

func (t *tx) UpdateUser(_ context.Context, u models.User) error {
	if err := t.writable(); err != nil {
		return err
	}
	old, ok := t.st.users[u.ID]
	if !ok {
		return storage.ErrNotFound
	}
	if owner, exists := t.st.logins[u.Login]; exists && owner != u.ID {
		return storage.ErrDuplicate
	}
	if !t.classExists(u.ClassID) {
		return storage.ErrForeignKey
	}
	delete(t.st.logins, old.Login)
	u.CreatedAt = old.CreatedAt
	t.st.users[u.ID] = u
	t.st.logins[u.Login] = u.ID
	return nil
}

func (t *tx) DeleteUser(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	u, ok := t.st.users[id]
	if !ok {
		return storage.ErrNotFound
	}
	for oid, o := range t.st.orders {
		if o.UserID == id {
			delete(t.st.orders, oid)
			delete(t.st.orderKeys, orderKey{userID: o.UserID, mealDateID: o.MealDateID})
		}
	}
	delete(t.st.balances, id)
	delete(t.st.logins, u.Login)
	delete(t.st.users, id)
	return nil
}

func (t *tx) ListUsers(_ context.Context, q models.UserQuery) ([]models.UserSummary, error) {
	search := strings.ToLower(strings.TrimSpace(q.Search))
	var out []models.UserSummary
	for _, u := range t.st.users {
		if search != "" &&
			!strings.Contains(strings.ToLower(u.Login), search) &&
			!strings.Contains(strings.ToLower(u.FirstName), search) &&
			!strings.Contains(strings.ToLower(u.LastName), search) {
			continue
		}
		if q.ClassID != nil && (u.ClassID == nil || *u.ClassID != *q.ClassID) {
			continue
		}
		if q.Role != nil && u.Role != *q.Role {
			continue
		}
		if q.Status != nil && u.Status != *q.Status {
			continue
		}
		sum := models.UserSummary{User: u, Balance: models.MoneyOf(decimal.Zero)}
		if u.ClassID != nil {
			sum.ClassName = t.st.classes[*u.ClassID].Name
		}
		if acct, ok := t.st.balances[u.ID]; ok {
			sum.Balance = acct.Balance
			sum.Note = acct.Note
		}
		out = append(out, sum)
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.LastName != b.LastName {
			return a.LastName < b.LastName
		}
		if a.FirstName != b.FirstName {
			return a.FirstName < b.FirstName
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (t *tx) UserIDsByClass(_ context.Context, classID int64) ([]int64, error) {
	var ids []int64
	for _, u := range t.st.users {
		if u.ClassID != nil && *u.ClassID == classID {
			ids = append(ids, u.ID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

func (t *tx) SetStatusForRole(_ context.Context, role models.Role, status models.AccountStatus) (int64, error) {
	if err := t.writable(); err != nil {
		return 0, err
	}
	var n int64
	for id, u := range t.st.users {
		if u.Role != role {
			continue
		}
		u.Status = status
		t.st.users[id] = u
		n++
	}
	return n, nil
}

// Classes -----------------------------------------------------------------

func (t *tx) ListClasses(_ context.Context) ([]models.Class, error) {
	out := make([]models.Class, 0, len(t.st.classes))
	for _, c := range t.st.classes {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (t *tx) GetClass(_ context.Context, id int64) (models.Class, error) {
	c, ok := t.st.classes[id]
	if !ok {
		return models.Class{}, storage.ErrNotFound
	}
	return c, nil
}

func (t *tx) CreateClass(_ context.Context, name string) (models.Class, error) {
	if err := t.writable(); err != nil {
		return models.Class{}, err
	}
	for _, c := range t.st.classes {
		if c.Name == name {
			return models.Class{}, storage.ErrDuplicate
		}
	}
	c := models.Class{ID: t.id(), Name: name}
	t.st.classes[c.ID] = c
	return c, nil
}

func (t *tx) DeleteClass(_ context.Context, id int64) error {
	if err := t.writable(); err != nil {
		return err
	}
	if _, ok := t.st.classes[id]; !ok {
		return storage.ErrNotFound
	}
	for _, u := range t.st.users {
		if u.ClassID != nil && *u.ClassID == id {
			return storage.ErrForeignKey
		}
	}
	delete(t.st.classes, id)
	return nil
}
