package repository

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/shopspring/decimal"

	"github.com/mmeshcher/shopbot/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const orderColumns = `id, user_id, username, telephone, payment, delivery, address,
	delivery_cost::text, total_price::text, promocode, discount, loyalty_discount,
	status, courier_id, bot_messages, created_at`

// PostgresRepository предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository создаёт новый репозиторий и инициализирует схему БД через миграции.
func NewPostgresRepository(dsn string) (*PostgresRepository, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	r := &PostgresRepository{pool: pool}

	if err := r.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return r, nil
}

func (r *PostgresRepository) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(r.pool)
	defer db.Close()

	goose.SetBaseFS(migrationsFS)

	if err := goose.SetDialect("postgres"); err != nil {
		return fmt.Errorf("set dialect: %w", err)
	}

	if err := goose.UpContext(ctx, db, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	return nil
}

var retryDelays = []time.Duration{100 * time.Millisecond, 500 * time.Millisecond, 1 * time.Second}

func (r *PostgresRepository) withRetry(ctx context.Context, fn func() error) error {
	var err error

	for i := 0; i <= len(retryDelays); i++ {
		err = fn()
		if err == nil || i == len(retryDelays) || !isRetryable(err) {
			return err
		}

		timer := time.NewTimer(retryDelays[i])
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return err
}

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
	}

	return isConnectionError(err)
}

func isConnectionError(err error) bool {
	// Упрощенная проверка на ошибки соединения
	return strings.Contains(err.Error(), "connection refused") ||
		strings.Contains(err.Error(), "broken pipe") ||
		strings.Contains(err.Error(), "connection reset by peer")
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// Close закрывает пул соединений с БД.
func (r *PostgresRepository) Close() error {
	r.pool.Close()
	return nil
}

// InTx выполняет fn в транзакции. При ошибке fn транзакция откатывается целиком.
// Конфликты сериализации и дедлоки повторяются.
func (r *PostgresRepository) InTx(ctx context.Context, fn func(tx Tx) error) error {
	return r.withRetry(ctx, func() error {
		tx, err := r.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback(ctx)

		if err := fn(&pgTx{tx: tx}); err != nil {
			return err
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("commit tx: %w", err)
		}
		return nil
	})
}

// UpsertUser регистрирует пользователя или обновляет его имя.
func (r *PostgresRepository) UpsertUser(ctx context.Context, id int64, username string) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO users (id, username, loyalty_level) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username)
		 RETURNING id, username, stamps, loyalty_level, total_items_purchased, is_banned, created_at`,
		id, username, string(model.LoyaltyWhite),
	)
	u, err := scanUser(row)
	if err != nil {
		return nil, fmt.Errorf("upsert user: %w", err)
	}
	return u, nil
}

// GetUser возвращает пользователя по идентификатору.
func (r *PostgresRepository) GetUser(ctx context.Context, id int64) (*model.User, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, username, stamps, loyalty_level, total_items_purchased, is_banned, created_at
		 FROM users WHERE id = $1`,
		id,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	return u, nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var (
		u     model.User
		level string
	)
	if err := row.Scan(&u.ID, &u.Username, &u.Stamps, &level, &u.TotalItemsPurchased, &u.IsBanned, &u.CreatedAt); err != nil {
		return nil, err
	}
	u.LoyaltyLevel = model.LoyaltyLevel(level)
	return &u, nil
}

// SetUserBanned блокирует или разблокирует пользователя.
func (r *PostgresRepository) SetUserBanned(ctx context.Context, id int64, banned bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE users SET is_banned = $2 WHERE id = $1`, id, banned)
	if err != nil {
		return fmt.Errorf("update user ban: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", id, model.ErrNotFound)
	}
	return nil
}

// UpdateUserLoyalty перезаписывает профиль лояльности пользователя.
func (r *PostgresRepository) UpdateUserLoyalty(ctx context.Context, u model.User) error {
	return r.InTx(ctx, func(tx Tx) error {
		if _, err := tx.LockUser(ctx, u.ID); err != nil {
			return err
		}
		return tx.UpdateUserLoyalty(ctx, u)
	})
}

// HasRole сообщает, есть ли у пользователя роль.
func (r *PostgresRepository) HasRole(ctx context.Context, userID int64, role model.Role) (bool, error) {
	var ok bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM roles WHERE user_id = $1 AND role = $2)`,
		userID, string(role),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("select role: %w", err)
	}
	return ok, nil
}

// GrantRole выдаёт роль пользователю.
func (r *PostgresRepository) GrantRole(ctx context.Context, userID int64, role model.Role) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO roles (user_id, role) VALUES ($1, $2) ON CONFLICT DO NOTHING`,
		userID, string(role),
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
		}
		return fmt.Errorf("grant role: %w", err)
	}
	return nil
}

// RevokeRole отзывает роль у пользователя.
func (r *PostgresRepository) RevokeRole(ctx context.Context, userID int64, role model.Role) error {
	if _, err := r.pool.Exec(ctx, `DELETE FROM roles WHERE user_id = $1 AND role = $2`, userID, string(role)); err != nil {
		return fmt.Errorf("revoke role: %w", err)
	}
	return nil
}

// UsersWithRole возвращает идентификаторы пользователей с ролью.
func (r *PostgresRepository) UsersWithRole(ctx context.Context, role model.Role) ([]int64, error) {
	rows, err := r.pool.Query(ctx, `SELECT user_id FROM roles WHERE role = $1 ORDER BY user_id`, string(role))
	if err != nil {
		return nil, fmt.Errorf("select roles: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[int64])
	if err != nil {
		return nil, fmt.Errorf("collect roles: %w", err)
	}
	return ids, nil
}

// CreateItem добавляет товар в каталог.
func (r *PostgresRepository) CreateItem(ctx context.Context, item model.Item) (*model.Item, error) {
	if item.Tastes == nil {
		item.Tastes = []string{}
	}
	err := r.pool.QueryRow(ctx,
		`INSERT INTO items (name, description, price, tastes) VALUES ($1, $2, $3, $4) RETURNING id`,
		item.Name, item.Description, item.Price, item.Tastes,
	).Scan(&item.ID)
	if err != nil {
		return nil, fmt.Errorf("insert item: %w", err)
	}
	return &item, nil
}

// GetItem возвращает товар по идентификатору.
func (r *PostgresRepository) GetItem(ctx context.Context, id int64) (*model.Item, error) {
	return getItem(ctx, r.pool, id)
}

// ListItems возвращает каталог, упорядоченный по идентификатору.
func (r *PostgresRepository) ListItems(ctx context.Context) ([]model.Item, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, price::text, tastes FROM items ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select items: %w", err)
	}
	defer rows.Close()

	var items []model.Item
	for rows.Next() {
		var it model.Item
		if err := rows.Scan(&it.ID, &it.Name, &it.Description, &it.Price, &it.Tastes); err != nil {
			return nil, fmt.Errorf("scan item: %w", err)
		}
		items = append(items, it)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return items, nil
}

// CreatePromocode добавляет промокод. Имя должно быть уникальным.
func (r *PostgresRepository) CreatePromocode(ctx context.Context, p model.Promocode) (*model.Promocode, error) {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO promocodes (name, percentage, is_active) VALUES ($1, $2, $3) RETURNING id`,
		p.Name, p.Percentage, p.IsActive,
	).Scan(&p.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("promocode %s: %w", p.Name, model.ErrAlreadyExists)
		}
		return nil, fmt.Errorf("insert promocode: %w", err)
	}
	return &p, nil
}

// ListPromocodes возвращает все промокоды.
func (r *PostgresRepository) ListPromocodes(ctx context.Context) ([]model.Promocode, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, percentage, is_active FROM promocodes ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select promocodes: %w", err)
	}
	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Promocode, error) {
		var p model.Promocode
		err := row.Scan(&p.ID, &p.Name, &p.Percentage, &p.IsActive)
		return p, err
	})
	if err != nil {
		return nil, fmt.Errorf("collect promocodes: %w", err)
	}
	return res, nil
}

const courierColumns = `id, user_id, username, phone, car_model, is_active, created_at`

func scanCourier(row pgx.Row) (*model.Courier, error) {
	var c model.Courier
	if err := row.Scan(&c.ID, &c.UserID, &c.Username, &c.Phone, &c.CarModel, &c.IsActive, &c.CreatedAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// UpsertCourier регистрирует курьера или обновляет его данные.
func (r *PostgresRepository) UpsertCourier(ctx context.Context, c model.Courier) (*model.Courier, error) {
	row := r.pool.QueryRow(ctx,
		`INSERT INTO couriers (user_id, username, phone, car_model, is_active) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO UPDATE SET username = EXCLUDED.username, phone = EXCLUDED.phone,
		     car_model = EXCLUDED.car_model, is_active = EXCLUDED.is_active
		 RETURNING `+courierColumns,
		c.UserID, c.Username, c.Phone, c.CarModel, c.IsActive,
	)
	res, err := scanCourier(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("user %d: %w", c.UserID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("upsert courier: %w", err)
	}
	return res, nil
}

// CourierByUser возвращает курьера по идентификатору пользователя.
func (r *PostgresRepository) CourierByUser(ctx context.Context, userID int64) (*model.Courier, error) {
	c, err := scanCourier(r.pool.QueryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE user_id = $1`, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("courier for user %d: %w", userID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get courier: %w", err)
	}
	return c, nil
}

// GetCourier возвращает курьера по идентификатору.
func (r *PostgresRepository) GetCourier(ctx context.Context, id int64) (*model.Courier, error) {
	c, err := scanCourier(r.pool.QueryRow(ctx, `SELECT `+courierColumns+` FROM couriers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("courier %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get courier: %w", err)
	}
	return c, nil
}

// SetCourierActive включает или отключает курьера.
func (r *PostgresRepository) SetCourierActive(ctx context.Context, userID int64, active bool) error {
	tag, err := r.pool.Exec(ctx, `UPDATE couriers SET is_active = $2 WHERE user_id = $1`, userID, active)
	if err != nil {
		return fmt.Errorf("update courier: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("courier for user %d: %w", userID, model.ErrNotFound)
	}
	return nil
}

// ActiveCouriers возвращает активных курьеров.
func (r *PostgresRepository) ActiveCouriers(ctx context.Context) ([]model.Courier, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+courierColumns+` FROM couriers WHERE is_active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("select couriers: %w", err)
	}
	res, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Courier, error) {
		c, err := scanCourier(row)
		if err != nil {
			return model.Courier{}, err
		}
		return *c, nil
	})
	if err != nil {
		return nil, fmt.Errorf("collect couriers: %w", err)
	}
	return res, nil
}

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o      model.Order
		status string
	)
	err := row.Scan(&o.ID, &o.UserID, &o.Username, &o.Telephone, &o.Payment, &o.Delivery, &o.Address,
		&o.DeliveryCost, &o.TotalPrice, &o.Promocode, &o.Discount, &o.LoyaltyDiscount,
		&status, &o.CourierID, &o.BotMessages, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrder возвращает заказ с позициями.
func (r *PostgresRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	o, err := scanOrder(r.pool.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	orders := []model.Order{*o}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// OrdersByUser возвращает заказы пользователя, новые первыми.
func (r *PostgresRepository) OrdersByUser(ctx context.Context, userID int64) ([]model.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY id DESC`, userID)
}

// OrdersByStatus возвращает заказы в статусе.
func (r *PostgresRepository) OrdersByStatus(ctx context.Context, status model.OrderStatus) ([]model.Order, error) {
	return r.queryOrders(ctx, `SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY id DESC`, string(status))
}

// OrdersByCourier возвращает незавершённые заказы курьера.
func (r *PostgresRepository) OrdersByCourier(ctx context.Context, courierID int64) ([]model.Order, error) {
	return r.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE courier_id = $1 AND status NOT IN ($2, $3) ORDER BY id DESC`,
		courierID, string(model.OrderCompleted), string(model.OrderCanceled),
	)
}

func (r *PostgresRepository) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return orders, nil
}

func (r *PostgresRepository) attachLines(ctx context.Context, orders []model.Order) error {
	if len(orders) == 0 {
		return nil
	}

	ids := make([]int64, len(orders))
	index := make(map[int64]int, len(orders))
	for i, o := range orders {
		ids[i] = o.ID
		index[o.ID] = i
	}

	rows, err := r.pool.Query(ctx,
		`SELECT id, order_id, item_id, name, quantity, discounted_quantity,
		        price_per_item::text, total_price::text, selected_taste
		 FROM order_lines WHERE order_id = ANY($1) ORDER BY id`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("select order lines: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var l model.OrderLine
		if err := rows.Scan(&l.ID, &l.OrderID, &l.ItemID, &l.Name, &l.Quantity, &l.DiscountedQuantity,
			&l.PricePerItem, &l.TotalPrice, &l.SelectedTaste); err != nil {
			return fmt.Errorf("scan order line: %w", err)
		}
		i := index[l.OrderID]
		orders[i].Lines = append(orders[i].Lines, l)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("rows error: %w", err)
	}
	return nil
}

// ClaimOrder назначает курьера на заказ одним условным UPDATE.
// Из конкурирующих вызовов успешен ровно один.
func (r *PostgresRepository) ClaimOrder(ctx context.Context, orderID, courierID int64) (*model.Order, error) {
	var claimed *model.Order
	err := r.withRetry(ctx, func() error {
		o, err := scanOrder(r.pool.QueryRow(ctx,
			`UPDATE orders SET status = $3, courier_id = $2
			 WHERE id = $1 AND status = $4 AND courier_id IS NULL
			 RETURNING `+orderColumns,
			orderID, courierID, string(model.OrderInDelivery), string(model.OrderWaitingForCourier),
		))
		claimed = o
		return err
	})
	if err == nil {
		return r.withLines(ctx, claimed)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("claim order: %w", err)
	}

	current, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return nil, claimConflict(*current)
}

// UpdateOrderStatus меняет статус, только если заказ всё ещё в состоянии (from, courierID).
func (r *PostgresRepository) UpdateOrderStatus(ctx context.Context, orderID int64, from model.OrderStatus, courierID *int64, to model.OrderStatus) (*model.Order, error) {
	var updated *model.Order
	err := r.withRetry(ctx, func() error {
		o, err := scanOrder(r.pool.QueryRow(ctx,
			`UPDATE orders SET status = $2
			 WHERE id = $1 AND status = $3 AND courier_id IS NOT DISTINCT FROM $4
			 RETURNING `+orderColumns,
			orderID, string(to), string(from), courierID,
		))
		updated = o
		return err
	})
	if err == nil {
		return r.withLines(ctx, updated)
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	current, err := r.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	return nil, &model.TransitionError{OrderID: orderID, Current: current.Status, Target: to}
}

func (r *PostgresRepository) withLines(ctx context.Context, o *model.Order) (*model.Order, error) {
	orders := []model.Order{*o}
	if err := r.attachLines(ctx, orders); err != nil {
		return nil, err
	}
	return &orders[0], nil
}

// AppendBotMessages добавляет сообщения бота к заказу.
func (r *PostgresRepository) AppendBotMessages(ctx context.Context, orderID int64, msgs []model.BotMessage) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE orders SET bot_messages = bot_messages || $2::jsonb WHERE id = $1`,
		orderID, msgs,
	)
	if err != nil {
		return fmt.Errorf("append bot messages: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", orderID, model.ErrNotFound)
	}
	return nil
}

// TakeBotMessages возвращает сообщения бота заказа и очищает список.
func (r *PostgresRepository) TakeBotMessages(ctx context.Context, orderID int64) ([]model.BotMessage, error) {
	var msgs []model.BotMessage
	err := r.pool.QueryRow(ctx,
		`WITH old AS (SELECT bot_messages FROM orders WHERE id = $1 FOR UPDATE)
		 UPDATE orders SET bot_messages = '[]'::jsonb FROM old
		 WHERE orders.id = $1
		 RETURNING old.bot_messages`,
		orderID,
	).Scan(&msgs)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("order %d: %w", orderID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("take bot messages: %w", err)
	}
	return msgs, nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func getItem(ctx context.Context, q querier, id int64) (*model.Item, error) {
	var it model.Item
	err := q.QueryRow(ctx,
		`SELECT id, name, description, price::text, tastes FROM items WHERE id = $1`,
		id,
	).Scan(&it.ID, &it.Name, &it.Description, &it.Price, &it.Tastes)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("item %d: %w", id, model.ErrNotFound)
		}
		return nil, fmt.Errorf("get item: %w", err)
	}
	return &it, nil
}

type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) LockUser(ctx context.Context, userID int64) (*model.User, error) {
	row := t.tx.QueryRow(ctx,
		`SELECT id, username, stamps, loyalty_level, total_items_purchased, is_banned, created_at
		 FROM users WHERE id = $1 FOR UPDATE`,
		userID,
	)
	u, err := scanUser(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("lock user for update: %w", err)
	}
	return u, nil
}

func (t *pgTx) UpdateUserLoyalty(ctx context.Context, u model.User) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE users SET stamps = $2, loyalty_level = $3, total_items_purchased = $4 WHERE id = $1`,
		u.ID, u.Stamps, string(u.LoyaltyLevel), u.TotalItemsPurchased,
	)
	if err != nil {
		return fmt.Errorf("update user loyalty: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("user %d: %w", u.ID, model.ErrNotFound)
	}
	return nil
}

func (t *pgTx) LockBasket(ctx context.Context, userID int64) (*model.Basket, error) {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO baskets (user_id) VALUES ($1) ON CONFLICT (user_id) DO NOTHING`,
		userID,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.ForeignKeyViolation {
			return nil, fmt.Errorf("user %d: %w", userID, model.ErrNotFound)
		}
		return nil, fmt.Errorf("create basket: %w", err)
	}

	var b model.Basket
	err = t.tx.QueryRow(ctx,
		`SELECT id, user_id, total_price::text FROM baskets WHERE user_id = $1 FOR UPDATE`,
		userID,
	).Scan(&b.ID, &b.UserID, &b.TotalPrice)
	if err != nil {
		return nil, fmt.Errorf("lock basket: %w", err)
	}
	return &b, nil
}

func (t *pgTx) BasketLines(ctx context.Context, basketID int64) ([]model.BasketLine, error) {
	rows, err := t.tx.Query(ctx,
		`SELECT bl.id, bl.basket_id, bl.item_id, i.name, bl.quantity, bl.price::text, bl.selected_taste
		 FROM basket_lines bl JOIN items i ON i.id = bl.item_id
		 WHERE bl.basket_id = $1 ORDER BY bl.id`,
		basketID,
	)
	if err != nil {
		return nil, fmt.Errorf("select basket lines: %w", err)
	}
	defer rows.Close()

	var lines []model.BasketLine
	for rows.Next() {
		var l model.BasketLine
		if err := rows.Scan(&l.ID, &l.BasketID, &l.ItemID, &l.Name, &l.Quantity, &l.Price, &l.SelectedTaste); err != nil {
			return nil, fmt.Errorf("scan basket line: %w", err)
		}
		lines = append(lines, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}
	return lines, nil
}

func (t *pgTx) AddBasketLine(ctx context.Context, line model.BasketLine) error {
	_, err := t.tx.Exec(ctx,
		`INSERT INTO basket_lines (basket_id, item_id, quantity, price, selected_taste)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (basket_id, item_id, selected_taste)
		 DO UPDATE SET quantity = basket_lines.quantity + EXCLUDED.quantity`,
		line.BasketID, line.ItemID, line.Quantity, line.Price, line.SelectedTaste,
	)
	if err != nil {
		return fmt.Errorf("upsert basket line: %w", err)
	}
	return nil
}

func (t *pgTx) RemoveBasketItem(ctx context.Context, basketID, itemID int64) (int64, error) {
	tag, err := t.tx.Exec(ctx, `DELETE FROM basket_lines WHERE basket_id = $1 AND item_id = $2`, basketID, itemID)
	if err != nil {
		return 0, fmt.Errorf("delete basket lines: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (t *pgTx) SetBasketTotal(ctx context.Context, basketID int64, total decimal.Decimal) error {
	if _, err := t.tx.Exec(ctx, `UPDATE baskets SET total_price = $2 WHERE id = $1`, basketID, total); err != nil {
		return fmt.Errorf("update basket total: %w", err)
	}
	return nil
}

func (t *pgTx) ClearBasket(ctx context.Context, basketID int64) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM basket_lines WHERE basket_id = $1`, basketID); err != nil {
		return fmt.Errorf("clear basket: %w", err)
	}
	return t.SetBasketTotal(ctx, basketID, decimal.Zero)
}

func (t *pgTx) GetItem(ctx context.Context, itemID int64) (*model.Item, error) {
	return getItem(ctx, t.tx, itemID)
}

func (t *pgTx) ActivePromocode(ctx context.Context, name string) (*model.Promocode, error) {
	var p model.Promocode
	err := t.tx.QueryRow(ctx,
		`SELECT id, name, percentage, is_active FROM promocodes WHERE lower(name) = lower($1) AND is_active`,
		name,
	).Scan(&p.ID, &p.Name, &p.Percentage, &p.IsActive)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("get promocode: %w", err)
	}
	return &p, nil
}

func (t *pgTx) InsertOrder(ctx context.Context, o *model.Order) error {
	if o.BotMessages == nil {
		o.BotMessages = []model.BotMessage{}
	}
	err := t.tx.QueryRow(ctx,
		`INSERT INTO orders (user_id, username, telephone, payment, delivery, address, delivery_cost,
		                     total_price, promocode, discount, loyalty_discount, status, bot_messages)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		 RETURNING id, created_at`,
		o.UserID, o.Username, o.Telephone, o.Payment, o.Delivery, o.Address, o.DeliveryCost,
		o.TotalPrice, o.Promocode, o.Discount, o.LoyaltyDiscount, string(o.Status), o.BotMessages,
	).Scan(&o.ID, &o.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	batch := &pgx.Batch{}
	for _, l := range o.Lines {
		batch.Queue(
			`INSERT INTO order_lines (order_id, item_id, name, quantity, discounted_quantity,
			                          price_per_item, total_price, selected_taste)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
			o.ID, l.ItemID, l.Name, l.Quantity, l.DiscountedQuantity, l.PricePerItem, l.TotalPrice, l.SelectedTaste,
		)
	}

	br := t.tx.SendBatch(ctx, batch)
	for i := range o.Lines {
		if err := br.QueryRow().Scan(&o.Lines[i].ID); err != nil {
			br.Close()
			return fmt.Errorf("insert order line: %w", err)
		}
		o.Lines[i].OrderID = o.ID
	}
	if err := br.Close(); err != nil {
		return fmt.Errorf("close batch: %w", err)
	}
	return nil
}
