package repository

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/fjod/go_fulfillment/payment-service/internal/domain"
	"github.com/fjod/go_fulfillment/pkg/events"
	"github.com/fjod/go_fulfillment/pkg/outbox"
	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const paymentColumns = `id, order_id, user_id, amount, payment_method, status, payment_reference, failure_reason, created_at, updated_at`

type Repository struct {
	pool *pgxpool.Pool
}

func dsn(scheme string, cred *Credentials) string {
	u := url.URL{
		Scheme:   scheme,
		User:     url.UserPassword(cred.User, cred.Password),
		Host:     fmt.Sprintf("%s:%d", cred.Host, cred.Port),
		Path:     cred.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func NewRepository(ctx context.Context, cred *Credentials) (*Repository, error) {
	cfg, err := pgxpool.ParseConfig(dsn("postgres", cred))
	if err != nil {
		return nil, fmt.Errorf("failed to parse database config: %w", err)
	}
	cfg.MaxConns = 50

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Repository{pool: pool}, nil
}

func (r *Repository) RunMigrations(cred *Credentials) error {
	m, err := migrate.New(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		dsn("pgx5", cred)+"&x-migrations-table=payments_schema_migrations",
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}
	defer m.Close()

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}
	return nil
}

func (r *Repository) CreatePayment(ctx context.Context, p *domain.Payment) error {
	query := `INSERT INTO payments (order_id, user_id, amount, payment_method, status, payment_reference, failure_reason)
	          VALUES ($1, $2, $3, $4, $5, $6, $7)
	          RETURNING id, created_at, updated_at`

	err := r.pool.QueryRow(ctx, query,
		p.OrderID, p.UserID, p.Amount, p.PaymentMethod, string(p.Status), p.PaymentReference, p.FailureReason,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: order %d", ErrDuplicatePayment, p.OrderID)
	}
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func (r *Repository) InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &pgxTx{tx: tx})
	})
}

type pgxTx struct {
	tx pgx.Tx
}

func (t *pgxTx) LockPayment(ctx context.Context, id int64) (*domain.Payment, error) {
	p, err := scanPayment(t.tx.QueryRow(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lock payment: %w", err)
	}
	return p, nil
}

func (t *pgxTx) UpdatePayment(ctx context.Context, p *domain.Payment) error {
	err := t.tx.QueryRow(ctx,
		`UPDATE payments SET status = $1, payment_reference = $2, failure_reason = $3, updated_at = NOW()
		 WHERE id = $4 RETURNING updated_at`,
		string(p.Status), p.PaymentReference, p.FailureReason, p.ID,
	).Scan(&p.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrPaymentNotFound
	}
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return nil
}

func (t *pgxTx) Enqueue(ctx context.Context, env events.Envelope) error {
	payload, err := env.Encode()
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	if _, err := t.tx.Exec(ctx, `INSERT INTO outbox_events (event_type, payload) VALUES ($1, $2)`, string(env.Type()), payload); err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}
	return nil
}

func (r *Repository) GetPaymentByID(ctx context.Context, id int64) (*domain.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE id = $1`, id)
}

func (r *Repository) GetPaymentByOrderID(ctx context.Context, orderID int64) (*domain.Payment, error) {
	return r.getPayment(ctx, `SELECT `+paymentColumns+` FROM payments WHERE order_id = $1`, orderID)
}

func (r *Repository) getPayment(ctx context.Context, query string, arg int64) (*domain.Payment, error) {
	p, err := scanPayment(r.pool.QueryRow(ctx, query, arg))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query payment: %w", err)
	}
	return p, nil
}

func (r *Repository) ListPaymentsByUserID(ctx context.Context, userID int64) ([]*domain.Payment, error) {
	return r.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE user_id = $1 ORDER BY created_at DESC, id DESC`, userID)
}

func (r *Repository) ListPaymentsByStatus(ctx context.Context, status domain.PaymentStatus) ([]*domain.Payment, error) {
	return r.listPayments(ctx, `SELECT `+paymentColumns+` FROM payments WHERE status = $1 ORDER BY created_at DESC, id DESC`, string(status))
}

func (r *Repository) listPayments(ctx context.Context, query string, arg any) ([]*domain.Payment, error) {
	rows, err := r.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("query payments: %w", err)
	}
	defer rows.Close()

	var payments []*domain.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment row: %w", err)
		}
		payments = append(payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("row iteration error: %w", err)
	}
	return payments, nil
}

func scanPayment(row pgx.Row) (*domain.Payment, error) {
	var p domain.Payment
	var status string
	err := row.Scan(
		&p.ID,
		&p.OrderID,
		&p.UserID,
		&p.Amount,
		&p.PaymentMethod,
		&status,
		&p.PaymentReference,
		&p.FailureReason,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	p.Status = domain.PaymentStatus(status)
	return &p, nil
}

func (r *Repository) FetchUnpublished(ctx context.Context, limit int) ([]*outbox.Message, error) {
	rows, err := r.pool.Query(ctx,
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
	if _, err := r.pool.Exec(ctx, `UPDATE outbox_events SET published_at = NOW() WHERE id = $1`, id); err != nil {
		return fmt.Errorf("mark outbox event %d: %w", id, err)
	}
	return nil
}

func (r *Repository) Close() {
	r.pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
