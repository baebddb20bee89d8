package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// DBPool is the subset of pgxpool.Pool the store uses, so tests can mock it.
type DBPool interface {
	Ping(ctx context.Context) error
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS topup_orders (
		id TEXT PRIMARY KEY,
		player_id TEXT NOT NULL,
		amount INTEGER NOT NULL,
		status TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		screenshots TEXT[] NOT NULL DEFAULT '{}',
		error_code TEXT NOT NULL DEFAULT '',
		attempts INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL,
		completed_at TIMESTAMPTZ
	)`,
	`CREATE INDEX IF NOT EXISTS topup_orders_status_created_idx ON topup_orders (status, created_at DESC)`,
	`CREATE TABLE IF NOT EXISTS automation_logs (
		id BIGSERIAL PRIMARY KEY,
		order_id TEXT NOT NULL REFERENCES topup_orders (id) ON DELETE CASCADE,
		log_level TEXT NOT NULL,
		state TEXT NOT NULL DEFAULT '',
		message TEXT NOT NULL,
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

const orderColumns = `id, player_id, amount, status, message, screenshots, error_code, attempts, created_at, updated_at, completed_at`

const (
	sqlInsertOrder = `
		INSERT INTO topup_orders (id, player_id, amount, status, message, screenshots, error_code, attempts, created_at, updated_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	sqlGetOrder = `SELECT ` + orderColumns + ` FROM topup_orders WHERE id = $1`

	sqlListOrders = `
		SELECT ` + orderColumns + ` FROM topup_orders
		WHERE ($1 = '' OR status = $1)
		ORDER BY created_at DESC
		LIMIT NULLIF($2::int, 0)`

	sqlTransition = `
		UPDATE topup_orders
		SET status = $2, message = $3, error_code = $4,
			screenshots = COALESCE($5::text[], screenshots),
			attempts = attempts + $6,
			updated_at = $7, completed_at = $8
		WHERE id = $1 AND status = ANY($9)
		RETURNING ` + orderColumns

	sqlOrderExists = `SELECT EXISTS (SELECT 1 FROM topup_orders WHERE id = $1)`

	sqlCountByStatus = `SELECT status, COUNT(*) FROM topup_orders GROUP BY status`

	sqlInsertLog = `
		INSERT INTO automation_logs (order_id, log_level, state, message, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	sqlListLogs = `
		SELECT id, order_id, log_level, state, message, created_at
		FROM automation_logs
		WHERE order_id = $1
		ORDER BY id ASC`
)

const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

// PGStore keeps orders in PostgreSQL. Status changes are conditional
// updates, so several service instances may share one database.
type PGStore struct {
	pool DBPool
	log  *zap.Logger
	now  func() time.Time
}

// NewPGStore verifies the connection and wraps pool.
func NewPGStore(ctx context.Context, pool DBPool, log *zap.Logger) (*PGStore, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &PGStore{
		pool: pool,
		log:  log.Named("store"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// OpenPGStore connects to dsn and creates the tables when missing.
func OpenPGStore(ctx context.Context, dsn string, log *zap.Logger) (*PGStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	store, err := NewPGStore(ctx, pool, log)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

func (s *PGStore) Migrate(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	s.log.Debug("Schema ready")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*Order, error) {
	var (
		o         Order
		status    string
		code      string
		completed *time.Time
	)
	if err := row.Scan(&o.ID, &o.PlayerID, &o.Amount, &status, &o.Message, &o.Screenshots,
		&code, &o.Attempts, &o.CreatedAt, &o.UpdatedAt, &completed); err != nil {
		return nil, err
	}
	o.Status = OrderStatus(status)
	o.Error = ErrorCode(code)
	o.CompletedAt = completed
	if o.Screenshots == nil {
		o.Screenshots = []string{}
	}
	return &o, nil
}

func (s *PGStore) CreateOrder(ctx context.Context, o *Order) error {
	shots := o.Screenshots
	if shots == nil {
		shots = []string{}
	}

	_, err := s.pool.Exec(ctx, sqlInsertOrder,
		o.ID, o.PlayerID, o.Amount, string(o.Status), o.Message, shots,
		string(o.Error), o.Attempts, o.CreatedAt.UTC(), o.UpdatedAt.UTC(), o.CompletedAt)
	if err != nil {
		if pgCode(err) == pgUniqueViolation {
			return ErrDuplicateOrder
		}
		return fmt.Errorf("failed to insert order: %w", err)
	}
	return nil
}

func (s *PGStore) GetOrder(ctx context.Context, id string) (*Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx, sqlGetOrder, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrOrderNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load order: %w", err)
	}
	return o, nil
}

func (s *PGStore) ListOrders(ctx context.Context, status OrderStatus, limit int) ([]*Order, error) {
	rows, err := s.pool.Query(ctx, sqlListOrders, string(status), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	defer rows.Close()

	orders := []*Order{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan order: %w", err)
		}
		orders = append(orders, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list orders: %w", err)
	}
	return orders, nil
}

func (s *PGStore) Transition(ctx context.Context, id string, from []OrderStatus, update OrderUpdate) (*Order, error) {
	now := s.now()
	var completed *time.Time
	if update.Status.Terminal() {
		completed = &now
	}
	inc := 0
	if update.IncAttempts {
		inc = 1
	}
	allowed := make([]string, len(from))
	for i, st := range from {
		allowed[i] = string(st)
	}

	o, err := scanOrder(s.pool.QueryRow(ctx, sqlTransition,
		id, string(update.Status), update.Message, string(update.Error),
		update.Screenshots, inc, now, completed, allowed))
	if err == nil {
		return o, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to update order: %w", err)
	}

	var exists bool
	if err := s.pool.QueryRow(ctx, sqlOrderExists, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check order: %w", err)
	}
	if !exists {
		return nil, ErrOrderNotFound
	}
	return nil, ErrStatusConflict
}

func (s *PGStore) CountByStatus(ctx context.Context) (map[OrderStatus]int, error) {
	rows, err := s.pool.Query(ctx, sqlCountByStatus)
	if err != nil {
		return nil, fmt.Errorf("failed to count orders: %w", err)
	}
	defer rows.Close()

	counts := make(map[OrderStatus]int)
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[OrderStatus(status)] = int(n)
	}
	return counts, rows.Err()
}

func (s *PGStore) AppendLog(ctx context.Context, entry OrderLog) error {
	_, err := s.pool.Exec(ctx, sqlInsertLog,
		entry.OrderID, string(entry.Level), string(entry.State), entry.Message, entry.Timestamp.UTC())
	if err != nil {
		if pgCode(err) == pgForeignKeyViolation {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to append log: %w", err)
	}
	return nil
}

func (s *PGStore) ListLogs(ctx context.Context, orderID string) ([]OrderLog, error) {
	rows, err := s.pool.Query(ctx, sqlListLogs, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to list logs: %w", err)
	}
	defer rows.Close()

	logs := []OrderLog{}
	for rows.Next() {
		var (
			entry        OrderLog
			level, state string
		)
		if err := rows.Scan(&entry.ID, &entry.OrderID, &level, &state, &entry.Message, &entry.Timestamp); err != nil {
			return nil, fmt.Errorf("failed to scan log: %w", err)
		}
		entry.Level = LogLevel(level)
		entry.State = State(state)
		logs = append(logs, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(logs) == 0 {
		var exists bool
		if err := s.pool.QueryRow(ctx, sqlOrderExists, orderID).Scan(&exists); err != nil {
			return nil, fmt.Errorf("failed to check order: %w", err)
		}
		if !exists {
			return nil, ErrOrderNotFound
		}
	}
	return logs, nil
}

func (s *PGStore) Close() {
	s.pool.Close()
}

func pgCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}
