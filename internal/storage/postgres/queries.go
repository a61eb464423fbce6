package postgres

// Price queries
const (
	getPriceSQL = `SELECT amount FROM price WHERE id = 1`

	setPriceSQL = `
		INSERT INTO price (id, amount) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET amount = EXCLUDED.amount`
)

// Calendar queries
const (
	insertMealDateSQL = `INSERT INTO meal_dates (meal_date) VALUES ($1) RETURNING id`

	findMealDatesSQL = `
		SELECT id, meal_date FROM meal_dates
		WHERE meal_date = ANY($1)
		ORDER BY meal_date`

	getMealDateSQL = `SELECT id, meal_date FROM meal_dates WHERE id = $1`

	getMealDateByDaySQL = `SELECT id, meal_date FROM meal_dates WHERE meal_date = $1`

	listMealDatesFromSQL = `
		SELECT id, meal_date FROM meal_dates
		WHERE meal_date >= $1
		ORDER BY meal_date`

	listMealDatesBetweenSQL = `
		SELECT id, meal_date FROM meal_dates
		WHERE meal_date BETWEEN $1 AND $2
		ORDER BY meal_date`

	deleteMealDateSQL = `DELETE FROM meal_dates WHERE id = $1`
)

// Ledger queries
const (
	insertOrderSQL = `
		INSERT INTO orders (user_id, meal_date_id) VALUES ($1, $2)
		RETURNING id, created_at`

	getOrderSQL = `SELECT id, user_id, meal_date_id, created_at FROM orders WHERE id = $1`

	listOrdersByMealDateSQL = `
		SELECT id, user_id, meal_date_id, created_at FROM orders
		WHERE meal_date_id = $1
		ORDER BY id`

	listOrdersForUsersSQL = `
		SELECT o.id, o.user_id, o.meal_date_id, o.created_at
		FROM orders o
		JOIN meal_dates m ON m.id = o.meal_date_id
		WHERE o.user_id = ANY($1) AND m.meal_date BETWEEN $2 AND $3
		ORDER BY o.id`

	deleteOrdersSQL = `DELETE FROM orders WHERE id = ANY($1)`

	listUserOrdersSQL = `
		SELECT o.id, o.meal_date_id, m.meal_date
		FROM orders o
		JOIN meal_dates m ON m.id = o.meal_date_id
		WHERE o.user_id = $1
		ORDER BY m.meal_date`

	searchOrdersFromSQL = `
		FROM orders o
		JOIN meal_dates m ON m.id = o.meal_date_id
		JOIN users u ON u.id = o.user_id
		LEFT JOIN classes c ON c.id = u.class_id`

	searchOrdersColumnsSQL = `
		SELECT o.id, o.user_id, o.meal_date_id, m.meal_date,
			   u.first_name, u.last_name, u.class_id, COALESCE(c.name, '')`

	reportRowsSQL = `
		SELECT m.meal_date, u.last_name, u.first_name, COALESCE(c.name, '')
		FROM orders o
		JOIN meal_dates m ON m.id = o.meal_date_id
		JOIN users u ON u.id = o.user_id
		LEFT JOIN classes c ON c.id = u.class_id
		WHERE m.meal_date BETWEEN $1 AND $2
		ORDER BY m.meal_date, u.last_name, u.first_name`
)

// Balance queries
const (
	createBalanceSQL = `INSERT INTO user_balances (user_id, balance) VALUES ($1, 0.00)`

	getBalanceSQL = `SELECT user_id, balance, note, updated_at FROM user_balances WHERE user_id = $1`

	adjustBalanceSQL = `
		UPDATE user_balances SET balance = balance + $2, updated_at = NOW()
		WHERE user_id = $1
		RETURNING balance`

	setBalanceSQL = `
		UPDATE user_balances SET balance = $2, note = COALESCE($3, note), updated_at = NOW()
		WHERE user_id = $1`
)

// User queries
const (
	userColumnsSQL = `id, login, password_hash, first_name, last_name, class_id, role_id, status_id, created_at`

	insertUserSQL = `
		INSERT INTO users (login, password_hash, first_name, last_name, class_id, role_id, status_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id, created_at`

	getUserSQL = `SELECT ` + userColumnsSQL + ` FROM users WHERE id = $1`

	getUserByLoginSQL = `SELECT ` + userColumnsSQL + ` FROM users WHERE login = $1`

	updateUserSQL = `
		UPDATE users SET login = $2, password_hash = $3, first_name = $4, last_name = $5,
			class_id = $6, role_id = $7, status_id = $8
		WHERE id = $1`

	deleteUserSQL = `DELETE FROM users WHERE id = $1`

	listUsersSQL = `
		SELECT u.id, u.login, u.first_name, u.last_name, u.class_id, u.role_id, u.status_id, u.created_at,
			   COALESCE(c.name, ''), COALESCE(b.balance, 0), b.note
		FROM users u
		LEFT JOIN classes c ON c.id = u.class_id
		LEFT JOIN user_balances b ON b.user_id = u.id`

	userIDsByClassSQL = `SELECT id FROM users WHERE class_id = $1 ORDER BY id`

	setStatusForRoleSQL = `UPDATE users SET status_id = $1 WHERE role_id = $2`
)

// Class queries
const (
	listClassesSQL = `SELECT id, name FROM classes ORDER BY name`

	getClassSQL = `SELECT id, name FROM classes WHERE id = $1`

	insertClassSQL = `INSERT INTO classes (name) VALUES ($1) RETURNING id`

	deleteClassSQL = `DELETE FROM classes WHERE id = $1`
)
