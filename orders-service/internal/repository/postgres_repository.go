package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fjod/go_fulfillment/orders-service/internal/domain"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/outbox"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/lib/pq"
)

const orderColumns = `id, user_id, total_amount, shipping_address, billing_address, payment_method, status, items, created_at, updated_at`

type Repository struct {
	db *sql.DB
}

func NewRepository(cred *Credentials) (*Repository, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(100)
	db.SetMaxIdleConns(10)
	return &Repository{db: db}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(r.db, &postgres.Config{
		MigrationsTable: "orders_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	sqlTx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}

	if err := fn(ctx, &postgresTx{tx: sqlTx}); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type postgresTx struct {
	tx *sql.Tx
}

func (t *postgresTx) InsertOrder(ctx context.Context, order *domain.Order) error {
	itemsJSON, err := json.Marshal(order.Items)
	if err != nil {
		return fmt.Errorf("failed to marshal order items: %w", err)
	}

	query := `INSERT INTO orders (user_id, total_amount, shipping_address, billing_address, payment_method, status, items, created_at, updated_at)
	          VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	          RETURNING id, created_at, updated_at`

	err = t.tx.QueryRowContext(ctx, query,
		order.UserID,
		order.TotalAmount,
		order.ShippingAddress,
		order.BillingAddress,
		order.PaymentMethod,
		order.Status,
		itemsJSON,
	).Scan(&order.ID, &order.CreatedAt, &order.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	return nil
}

func (t *postgresTx) LockOrder(ctx context.Context, id int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1 FOR UPDATE`
	order, err := scanOrder(t.tx.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock order: %w", err)
	}
	return order, nil
}

func (t *postgresTx) UpdateOrderStatus(ctx context.Context, id int64, status domain.OrderStatus, updatedAt time.Time) error {
	res, err := t.tx.ExecContext(ctx, `UPDATE orders SET status = $1, updated_at = $2 WHERE id = $3`, status, updatedAt, id)
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order status: %w", err)
	}
	if n == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (t *postgresTx) InsertIntents(ctx context.Context, intents []*domain.StockIntent) error {
	query := `INSERT INTO stock_intents (order_id, product_id, quantity, kind, status)
	          VALUES ($1, $2, $3, $4, $5)
	          RETURNING id, created_at, updated_at`
	for _, in := range intents {
		err := t.tx.QueryRowContext(ctx, query, in.OrderID, in.ProductID, in.Quantity, in.Kind, in.Status).
			Scan(&in.ID, &in.CreatedAt, &in.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert stock intent: %w", err)
		}
	}
	return nil
}

func (t *postgresTx) Enqueue(ctx context.Context, env events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	_, err = t.tx.ExecContext(ctx, `INSERT INTO outbox_events (event_type, payload) VALUES ($1, $2)`, string(env.Type()), payload)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetOrderByID(ctx context.Context, id int64) (*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	order, err := scanOrder(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query order by id: %w", err)
	}
	return order, nil
}

func (r *Repository) ListOrdersByUserID(ctx context.Context, userID int64) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE user_id = $1 ORDER BY created_at DESC, id DESC`
	return r.listOrders(ctx, query, userID)
}

func (r *Repository) ListOrdersByStatus(ctx context.Context, status domain.OrderStatus) ([]*domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE status = $1 ORDER BY created_at DESC, id DESC`
	return r.listOrders(ctx, query, status)
}

func (r *Repository) listOrders(ctx context.Context, query string, arg interface{}) ([]*domain.Order, error) {
	rows, err := r.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query orders: %w", err)
	}
	defer rows.Close()

	var orders []*domain.Order
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order row: %w", err)
		}
		orders = append(orders, order)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}

	return orders, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanOrder(row rowScanner) (*domain.Order, error) {
	var order domain.Order
	var itemsJSON []byte
	err := row.Scan(
		&order.ID,
		&order.UserID,
		&order.TotalAmount,
		&order.ShippingAddress,
		&order.BillingAddress,
		&order.PaymentMethod,
		&order.Status,
		&itemsJSON,
		&order.CreatedAt,
		&order.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(itemsJSON, &order.Items); err != nil {
		return nil, fmt.Errorf("unmarshal order items: %w", err)
	}
	return &order, nil
}

const intentColumns = `id, order_id, product_id, quantity, kind, status, attempts, last_error, created_at, updated_at`

func (r *Repository) ClaimIntent(ctx context.Context, id int64, lease time.Duration) (bool, error) {
	res, err := r.db.ExecContext(ctx,
		`UPDATE stock_intents SET leased_until = NOW() + make_interval(secs => $1), updated_at = NOW()
		 WHERE id = $2 AND status = $3 AND (leased_until IS NULL OR leased_until < NOW())`,
		lease.Seconds(), id, domain.IntentPending)
	if err != nil {
		return false, fmt.Errorf("claim stock intent %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim stock intent %d: %w", id, err)
	}
	return n == 1, nil
}

// ClaimPendingIntents skips rows another replica is claiming right now.
func (r *Repository) ClaimPendingIntents(ctx context.Context, limit int, lease time.Duration) ([]*domain.StockIntent, error) {
	query := `WITH claimed AS (
	              UPDATE stock_intents SET leased_until = NOW() + make_interval(secs => $1), updated_at = NOW()
	              WHERE id IN (
	                  SELECT id FROM stock_intents
	                  WHERE status = $2 AND (leased_until IS NULL OR leased_until < NOW())
	                  ORDER BY id LIMIT $3
	                  FOR UPDATE SKIP LOCKED)
	              RETURNING ` + intentColumns + `)
	          SELECT ` + intentColumns + ` FROM claimed ORDER BY id`

	rows, err := r.db.QueryContext(ctx, query, lease.Seconds(), domain.IntentPending, limit)
	if err != nil {
		return nil, fmt.Errorf("claim pending intents: %w", err)
	}
	defer rows.Close()

	var intents []*domain.StockIntent
	for rows.Next() {
		var in domain.StockIntent
		if err := rows.Scan(&in.ID, &in.OrderID, &in.ProductID, &in.Quantity, &in.Kind, &in.Status,
			&in.Attempts, &in.LastError, &in.CreatedAt, &in.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan intent row: %w", err)
		}
		intents = append(intents, &in)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return intents, nil
}

// UpdateIntent leaves finished intents untouched.
func (r *Repository) UpdateIntent(ctx context.Context, in *domain.StockIntent) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE stock_intents SET status = $1, attempts = $2, last_error = $3, leased_until = NULL, updated_at = NOW()
		 WHERE id = $4 AND status = $5`,
		in.Status, in.Attempts, in.LastError, in.ID, domain.IntentPending)
	if err != nil {
		return fmt.Errorf("update stock intent %d: %w", in.ID, err)
	}
	return nil
}

func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]*outbox.Message, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, payload, created_at FROM outbox_events WHERE published_at IS NULL ORDER BY id LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	var msgs []*outbox.Message
	for rows.Next() {
		var m outbox.Message
		var payload []byte
		if err := rows.Scan(&m.ID, &payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox row: %w", err)
		}
		if m.Envelope, err = events.Decode(payload); err != nil {
			return nil, fmt.Errorf("decode outbox row %d: %w", m.ID, err)
		}
		msgs = append(msgs, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return msgs, nil
}

func (r *Repository) MarkPublished(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx, `UPDATE outbox_events SET published_at = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	return nil
}

func (r *Repository) Close() error {
	return r.db.Close()
}

// IsUniqueViolation reports a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
