// Package postgres implements storage.Store on PostgreSQL through
// database/sql. Every Store.Update runs in one database transaction.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"school-meals/internal/models"
	"school-meals/internal/storage"
)

const (
	uniqueViolation     = "23505"
	foreignKeyViolation = "23503"
)

type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// Store is backed by a *sql.DB, normally stdlib.OpenDBFromPool over the pgx pool.
type Store struct {
	db *sql.DB
}

var _ storage.Store = (*Store)(nil)

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) View(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, &sql.TxOptions{ReadOnly: true}, fn)
}

func (s *Store) Update(ctx context.Context, fn func(storage.Tx) error) error {
	return s.run(ctx, nil, fn)
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) run(ctx context.Context, opts *sql.TxOptions, fn func(storage.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&txStore{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", mapError(err))
	}
	return nil
}

// mapError translates driver errors into storage sentinels.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case uniqueViolation:
			return fmt.Errorf("%w: %s", storage.ErrDuplicate, pgErr.ConstraintName)
		case foreignKeyViolation:
			return fmt.Errorf("%w: %s", storage.ErrForeignKey, pgErr.ConstraintName)
		}
	}
	return err
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

type txStore struct {
	q querier
}

var _ storage.Tx = (*txStore)(nil)

// Price -------------------------------------------------------------------

func (t *txStore) GetPrice(ctx context.Context) (decimal.Decimal, error) {
	var amount decimal.Decimal
	if err := t.q.QueryRowContext(ctx, getPriceSQL).Scan(&amount); err != nil {
		return decimal.Zero, mapError(err)
	}
	return amount, nil
}

func (t *txStore) SetPrice(ctx context.Context, amount decimal.Decimal) error {
	_, err := t.q.ExecContext(ctx, setPriceSQL, amount)
	return mapError(err)
}

// Calendar ----------------------------------------------------------------

func (t *txStore) InsertMealDates(ctx context.Context, days []models.Date) ([]models.MealDate, error) {
	out := make([]models.MealDate, 0, len(days))
	for _, day := range days {
		md := models.MealDate{Date: day}
		if err := t.q.QueryRowContext(ctx, insertMealDateSQL, day).Scan(&md.ID); err != nil {
			return nil, mapError(err)
		}
		out = append(out, md)
	}
	return out, nil
}

func dayArgs(days []models.Date) []time.Time {
	out := make([]time.Time, len(days))
	for i, d := range days {
		out[i] = d.Time
	}
	return out
}

func (t *txStore) FindMealDates(ctx context.Context, days []models.Date) ([]models.MealDate, error) {
	return t.queryMealDates(ctx, findMealDatesSQL, dayArgs(days))
}

func (t *txStore) GetMealDate(ctx context.Context, id int64) (models.MealDate, error) {
	var md models.MealDate
	if err := t.q.QueryRowContext(ctx, getMealDateSQL, id).Scan(&md.ID, &md.Date); err != nil {
		return models.MealDate{}, mapError(err)
	}
	return md, nil
}

func (t *txStore) GetMealDateByDay(ctx context.Context, day models.Date) (models.MealDate, error) {
	var md models.MealDate
	if err := t.q.QueryRowContext(ctx, getMealDateByDaySQL, day).Scan(&md.ID, &md.Date); err != nil {
		return models.MealDate{}, mapError(err)
	}
	return md, nil
}

func (t *txStore) ListMealDates(ctx context.Context, from models.Date, to *models.Date) ([]models.MealDate, error) {
	if to == nil {
		return t.queryMealDates(ctx, listMealDatesFromSQL, from)
	}
	return t.queryMealDates(ctx, listMealDatesBetweenSQL, from, *to)
}

func (t *txStore) queryMealDates(ctx context.Context, query string, args ...interface{}) ([]models.MealDate, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []models.MealDate
	for rows.Next() {
		var md models.MealDate
		if err := rows.Scan(&md.ID, &md.Date); err != nil {
			return nil, err
		}
		out = append(out, md)
	}
	return out, rows.Err()
}

func (t *txStore) DeleteMealDate(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, deleteMealDateSQL, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// Ledger ------------------------------------------------------------------

func (t *txStore) InsertOrder(ctx context.Context, userID, mealDateID int64) (models.Order, error) {
	o := models.Order{UserID: userID, MealDateID: mealDateID}
	if err := t.q.QueryRowContext(ctx, insertOrderSQL, userID, mealDateID).Scan(&o.ID, &o.CreatedAt); err != nil {
		return models.Order{}, mapError(err)
	}
	return o, nil
}

func (t *txStore) GetOrder(ctx context.Context, id int64) (models.Order, error) {
	var o models.Order
	if err := t.q.QueryRowContext(ctx, getOrderSQL, id).Scan(&o.ID, &o.UserID, &o.MealDateID, &o.CreatedAt); err != nil {
		return models.Order{}, mapError(err)
	}
	return o, nil
}

func (t *txStore) ListOrdersByMealDate(ctx context.Context, mealDateID int64) ([]models.Order, error) {
	return t.queryOrders(ctx, listOrdersByMealDateSQL, mealDateID)
}

func (t *txStore) ListOrdersForUsers(ctx context.Context, userIDs []int64, from, to models.Date) ([]models.Order, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	return t.queryOrders(ctx, listOrdersForUsersSQL, userIDs, from, to)
}

func (t *txStore) queryOrders(ctx context.Context, query string, args ...interface{}) ([]models.Order, error) {
	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		var o models.Order
		if err := rows.Scan(&o.ID, &o.UserID, &o.MealDateID, &o.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (t *txStore) DeleteOrders(ctx context.Context, ids []int64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res, err := t.q.ExecContext(ctx, deleteOrdersSQL, ids)
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

func (t *txStore) ListUserOrders(ctx context.Context, userID int64) ([]models.OrderedMeal, error) {
	rows, err := t.q.QueryContext(ctx, listUserOrdersSQL, userID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []models.OrderedMeal
	for rows.Next() {
		var m models.OrderedMeal
		if err := rows.Scan(&m.OrderID, &m.MealDateID, &m.Date); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// filter accumulates WHERE fragments with numbered placeholders.
type filter struct {
	conds []string
	args  []interface{}
}

func (f *filter) add(cond string, arg interface{}) {
	f.args = append(f.args, arg)
	f.conds = append(f.conds, strings.ReplaceAll(cond, "?", fmt.Sprintf("$%d", len(f.args))))
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

func (f *filter) next() string {
	return fmt.Sprintf("$%d", len(f.args)+1)
}

func (t *txStore) SearchOrders(ctx context.Context, q models.OrderQuery) ([]models.OrderRow, int, error) {
	var f filter
	if q.UserID != nil {
		f.add("o.user_id = ?", *q.UserID)
	}
	if q.ClassID != nil {
		f.add("u.class_id = ?", *q.ClassID)
	}
	if q.OnOrAfter != nil {
		f.add("m.meal_date >= ?", *q.OnOrAfter)
	}
	if q.Before != nil {
		f.add("m.meal_date < ?", *q.Before)
	}

	var total int
	countSQL := "SELECT COUNT(*) " + searchOrdersFromSQL + f.where()
	if err := t.q.QueryRowContext(ctx, countSQL, f.args...).Scan(&total); err != nil {
		return nil, 0, mapError(err)
	}

	direction := "DESC"
	if q.Ascending {
		direction = "ASC"
	}
	listSQL := searchOrdersColumnsSQL + searchOrdersFromSQL + f.where() +
		" ORDER BY m.meal_date " + direction + ", o.id"
	if q.Limit > 0 {
		listSQL += " LIMIT " + f.next()
		f.args = append(f.args, q.Limit)
		listSQL += " OFFSET " + f.next()
		f.args = append(f.args, q.Offset)
	}

	rows, err := t.q.QueryContext(ctx, listSQL, f.args...)
	if err != nil {
		return nil, 0, mapError(err)
	}
	defer rows.Close()

	out := []models.OrderRow{}
	for rows.Next() {
		var r models.OrderRow
		var classID sql.NullInt64
		if err := rows.Scan(&r.OrderID, &r.UserID, &r.MealDateID, &r.Date,
			&r.FirstName, &r.LastName, &classID, &r.ClassName); err != nil {
			return nil, 0, err
		}
		r.ClassID = nullableID(classID)
		out = append(out, r)
	}
	return out, total, rows.Err()
}

func (t *txStore) ReportRows(ctx context.Context, from, to models.Date) ([]models.ReportRow, error) {
	rows, err := t.q.QueryContext(ctx, reportRowsSQL, from, to)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var out []models.ReportRow
	for rows.Next() {
		var r models.ReportRow
		if err := rows.Scan(&r.Date, &r.LastName, &r.FirstName, &r.ClassName); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Balances ----------------------------------------------------------------

func (t *txStore) CreateBalance(ctx context.Context, userID int64) error {
	_, err := t.q.ExecContext(ctx, createBalanceSQL, userID)
	return mapError(err)
}

func (t *txStore) GetBalance(ctx context.Context, userID int64) (models.BalanceAccount, error) {
	var acct models.BalanceAccount
	var note sql.NullString
	err := t.q.QueryRowContext(ctx, getBalanceSQL, userID).Scan(&acct.UserID, &acct.Balance, &note, &acct.UpdatedAt)
	if err != nil {
		return models.BalanceAccount{}, mapError(err)
	}
	acct.Note = nullableString(note)
	return acct, nil
}

func (t *txStore) AdjustBalance(ctx context.Context, userID int64, delta decimal.Decimal) (decimal.Decimal, error) {
	var balance decimal.Decimal
	if err := t.q.QueryRowContext(ctx, adjustBalanceSQL, userID, delta).Scan(&balance); err != nil {
		return decimal.Zero, mapError(err)
	}
	return balance, nil
}

func (t *txStore) SetBalance(ctx context.Context, userID int64, amount decimal.Decimal, note *string) error {
	var noteArg interface{}
	if note != nil {
		noteArg = *note
	}
	res, err := t.q.ExecContext(ctx, setBalanceSQL, userID, amount, noteArg)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

// Users -------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanUser(row rowScanner) (models.User, error) {
	var u models.User
	var classID sql.NullInt64
	err := row.Scan(&u.ID, &u.Login, &u.PasswordHash, &u.FirstName, &u.LastName,
		&classID, &u.Role, &u.Status, &u.CreatedAt)
	if err != nil {
		return models.User{}, mapError(err)
	}
	u.ClassID = nullableID(classID)
	return u, nil
}

func classArg(id *int64) interface{} {
	if id == nil {
		return nil
	}
	return *id
}

func (t *txStore) CreateUser(ctx context.Context, u models.User) (models.User, error) {
	err := t.q.QueryRowContext(ctx, insertUserSQL,
		u.Login, u.PasswordHash, u.FirstName, u.LastName, classArg(u.ClassID), int(u.Role), int(u.Status),
	).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		return models.User{}, mapError(err)
	}
	return u, nil
}

func (t *txStore) GetUser(ctx context.Context, id int64) (models.User, error) {
	return scanUser(t.q.QueryRowContext(ctx, getUserSQL, id))
}

func (t *txStore) GetUserByLogin(ctx context.Context, login string) (models.User, error) {
	return scanUser(t.q.QueryRowContext(ctx, getUserByLoginSQL, login))
}

func (t *txStore) UpdateUser(ctx context.Context, u models.User) error {
	res, err := t.q.ExecContext(ctx, updateUserSQL,
		u.ID, u.Login, u.PasswordHash, u.FirstName, u.LastName, classArg(u.ClassID), int(u.Role), int(u.Status))
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func (t *txStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, deleteUserSQL, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func (t *txStore) ListUsers(ctx context.Context, q models.UserQuery) ([]models.UserSummary, error) {
	var f filter
	if s := strings.TrimSpace(q.Search); s != "" {
		f.add("(u.login ILIKE ? OR u.first_name ILIKE ? OR u.last_name ILIKE ?)", "%"+likeEscaper.Replace(s)+"%")
	}
	if q.ClassID != nil {
		f.add("u.class_id = ?", *q.ClassID)
	}
	if q.Role != nil {
		f.add("u.role_id = ?", int(*q.Role))
	}
	if q.Status != nil {
		f.add("u.status_id = ?", int(*q.Status))
	}

	rows, err := t.q.QueryContext(ctx, listUsersSQL+f.where()+" ORDER BY u.last_name, u.first_name, u.id", f.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []models.UserSummary{}
	for rows.Next() {
		var s models.UserSummary
		var classID sql.NullInt64
		var note sql.NullString
		if err := rows.Scan(&s.ID, &s.Login, &s.FirstName, &s.LastName, &classID, &s.Role, &s.Status,
			&s.CreatedAt, &s.ClassName, &s.Balance, &note); err != nil {
			return nil, err
		}
		s.ClassID = nullableID(classID)
		s.Note = nullableString(note)
		out = append(out, s)
	}
	return out, rows.Err()
}

func (t *txStore) UserIDsByClass(ctx context.Context, classID int64) ([]int64, error) {
	rows, err := t.q.QueryContext(ctx, userIDsByClassSQL, classID)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (t *txStore) SetStatusForRole(ctx context.Context, role models.Role, status models.AccountStatus) (int64, error) {
	res, err := t.q.ExecContext(ctx, setStatusForRoleSQL, int(status), int(role))
	if err != nil {
		return 0, mapError(err)
	}
	return res.RowsAffected()
}

// Classes -----------------------------------------------------------------

func (t *txStore) ListClasses(ctx context.Context) ([]models.Class, error) {
	rows, err := t.q.QueryContext(ctx, listClassesSQL)
	if err != nil {
		return nil, mapError(err)
	}
	defer rows.Close()

	out := []models.Class{}
	for rows.Next() {
		var c models.Class
		if err := rows.Scan(&c.ID, &c.Name); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (t *txStore) GetClass(ctx context.Context, id int64) (models.Class, error) {
	var c models.Class
	if err := t.q.QueryRowContext(ctx, getClassSQL, id).Scan(&c.ID, &c.Name); err != nil {
		return models.Class{}, mapError(err)
	}
	return c, nil
}

func (t *txStore) CreateClass(ctx context.Context, name string) (models.Class, error) {
	c := models.Class{Name: name}
	if err := t.q.QueryRowContext(ctx, insertClassSQL, name).Scan(&c.ID); err != nil {
		return models.Class{}, mapError(err)
	}
	return c, nil
}

func (t *txStore) DeleteClass(ctx context.Context, id int64) error {
	res, err := t.q.ExecContext(ctx, deleteClassSQL, id)
	if err != nil {
		return mapError(err)
	}
	return requireRow(res)
}

func nullableID(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	id := v.Int64
	return &id
}

func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
