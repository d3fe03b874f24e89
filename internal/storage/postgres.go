package storage

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/mmeshcher/barpay-system/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// PostgresStore предоставляет доступ к хранилищу данных в PostgreSQL.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore создаёт новое хранилище и инициализирует схему БД через миграции.
func NewPostgresStore(dsn string) (*PostgresStore, error) {
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

	s := &PostgresStore{pool: pool}

	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return s, nil
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDBFromPool(s.pool)
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

// Close закрывает пул соединений с БД.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// CreateUser сохраняет нового пользователя с версией 1.
func (s *PostgresStore) CreateUser(ctx context.Context, u *model.User) error {
	err := s.pool.QueryRow(ctx,
		`INSERT INTO users (id, name, email, password_hash, balance, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6)
		 RETURNING version`,
		u.ID, u.Name, u.Email, u.PasswordHash, u.BalanceCents, u.CreatedAt,
	).Scan(&u.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrEmailExists, u.Email)
		}
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func scanUser(row pgx.Row) (*model.User, error) {
	var u model.User
	err := row.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.BalanceCents, &u.Version, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan user: %w", err)
	}
	return &u, nil
}

const userColumns = `id, name, email, password_hash, balance, version, created_at`

// GetUser возвращает пользователя по идентификатору.
func (s *PostgresStore) GetUser(ctx context.Context, id string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetUserByEmail возвращает пользователя по email.
func (s *PostgresStore) GetUserByEmail(ctx context.Context, email string) (*model.User, error) {
	return scanUser(s.pool.QueryRow(ctx,
		`SELECT `+userColumns+` FROM users WHERE email = $1`, email))
}

// ListUsers возвращает всех пользователей, отсортированных по дате создания.
func (s *PostgresStore) ListUsers(ctx context.Context) ([]model.User, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+userColumns+` FROM users ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("select users: %w", err)
	}
	defer rows.Close()

	var res []model.User
	for rows.Next() {
		var u model.User
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.PasswordHash, &u.BalanceCents, &u.Version, &u.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		res = append(res, u)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// UpdateUser перезаписывает изменяемые поля пользователя при совпадении версии.
func (s *PostgresStore) UpdateUser(ctx context.Context, u *model.User, expectedVersion int64) (*model.User, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE users
		 SET name = $2, email = $3, password_hash = $4, balance = $5, version = version + 1
		 WHERE id = $1 AND version = $6
		 RETURNING `+userColumns,
		u.ID, u.Name, u.Email, u.PasswordHash, u.BalanceCents, expectedVersion,
	)

	updated, err := scanUser(row)
	if err == nil {
		return updated, nil
	}
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("%w: %s", ErrEmailExists, u.Email)
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update user: %w", err)
	}

	// Ни одна строка не обновлена: либо пользователя нет, либо версия устарела.
	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM users WHERE id = $1)`, u.ID,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check user exists: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrVersionConflict
}

// CreateOrder сохраняет новый заказ с версией 1.
func (s *PostgresStore) CreateOrder(ctx context.Context, o *model.Order) error {
	items, err := json.Marshal(o.Items)
	if err != nil {
		return fmt.Errorf("marshal items: %w", err)
	}

	err = s.pool.QueryRow(ctx,
		`INSERT INTO orders (id, code, user_id, bar_id, items, total, payment_method, status, version, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9)
		 RETURNING version`,
		o.ID, o.Code, o.UserID, o.BarID, items, o.TotalCents, string(o.Payment), string(o.Status), o.CreatedAt,
	).Scan(&o.Version)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrCodeExists, o.Code)
		}
		return fmt.Errorf("create order: %w", err)
	}
	return nil
}

const orderColumns = `id, code, user_id, bar_id, items, total, payment_method, status, version, created_at`

func scanOrder(row pgx.Row) (*model.Order, error) {
	var (
		o       model.Order
		items   []byte
		payment string
		status  string
	)
	err := row.Scan(&o.ID, &o.Code, &o.UserID, &o.BarID, &items, &o.TotalCents, &payment, &status, &o.Version, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan order: %w", err)
	}

	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, fmt.Errorf("unmarshal items: %w", err)
	}
	o.Payment = model.PaymentMethod(payment)
	o.Status = model.OrderStatus(status)
	return &o, nil
}

// GetOrder возвращает заказ по внутреннему идентификатору.
func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
}

// GetOrderByCode возвращает заказ по публичному коду выдачи.
func (s *PostgresStore) GetOrderByCode(ctx context.Context, code string) (*model.Order, error) {
	return scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE code = $1`, code))
}

func (s *PostgresStore) queryOrders(ctx context.Context, query string, args ...any) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("select orders: %w", err)
	}
	defer rows.Close()

	var res []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, *o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return res, nil
}

// ListOrders возвращает все заказы.
func (s *PostgresStore) ListOrders(ctx context.Context) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders ORDER BY created_at`)
}

// ListOrdersByUser возвращает заказы пользователя.
func (s *PostgresStore) ListOrdersByUser(ctx context.Context, userID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE user_id = $1 ORDER BY created_at`, userID)
}

// ListOrdersByBar возвращает заказы бара.
func (s *PostgresStore) ListOrdersByBar(ctx context.Context, barID string) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE bar_id = $1 ORDER BY created_at`, barID)
}

// ListPendingExternal возвращает заказы, ожидающие подтверждения платёжного шлюза.
func (s *PostgresStore) ListPendingExternal(ctx context.Context, limit int) ([]model.Order, error) {
	return s.queryOrders(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND payment_method IN ($2, $3)
		 ORDER BY created_at
		 LIMIT $4`,
		string(model.OrderStatusPending), string(model.PaymentPix), string(model.PaymentCard), limit)
}

// UpdateOrderStatus изменяет статус заказа при совпадении версии.
func (s *PostgresStore) UpdateOrderStatus(ctx context.Context, id string, status model.OrderStatus, expectedVersion int64) (*model.Order, error) {
	row := s.pool.QueryRow(ctx,
		`UPDATE orders
		 SET status = $2, version = version + 1
		 WHERE id = $1 AND version = $3
		 RETURNING `+orderColumns,
		id, string(status), expectedVersion,
	)

	updated, err := scanOrder(row)
	if err == nil {
		return updated, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("update order status: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, id,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check order exists: %w", err)
	}
	if !exists {
		return nil, ErrNotFound
	}
	return nil, ErrVersionConflict
}
