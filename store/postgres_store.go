package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"

	"github.com/dkurbatov/vpn-shop-bot/types"
)

var ErrNotFound = errors.New("not found")

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = buildPostgresDSNFromEnv()
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	s := &PostgresStore{pool: pool}
	if err := s.runMigrations(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func buildPostgresDSNFromEnv() string {
	host := strings.TrimSpace(os.Getenv("POSTGRES_HOST"))
	if host == "" {
		host = "localhost"
	}
	port := strings.TrimSpace(os.Getenv("POSTGRES_PORT"))
	if port == "" {
		port = "5432"
	}
	db := strings.TrimSpace(os.Getenv("POSTGRES_DB"))
	if db == "" {
		db = "vpn_shop"
	}
	user := strings.TrimSpace(os.Getenv("POSTGRES_USER"))
	if user == "" {
		user = "vpn_shop"
	}
	pass := os.Getenv("POSTGRES_PASSWORD")
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=disable", urlEscape(user), urlEscape(pass), host, port, db)
}

func urlEscape(s string) string {
	r := strings.NewReplacer(
		"%", "%25",
		":", "%3A",
		"/", "%2F",
		"@", "%40",
		"?", "%3F",
		"#", "%23",
		"[", "%5B",
		"]", "%5D",
	)
	return r.Replace(s)
}

func (s *PostgresStore) runMigrations(ctx context.Context) error {
	db := stdlib.OpenDB(*s.pool.Config().ConnConfig)
	defer db.Close()

	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, db, "migrations")
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithTimeout(ctx, d)
}

const userColumns = `seq, user_id, chat_id, username, first_name, last_name, referral_code, referrer_id, is_active, created_at, updated_at`

func scanUser(row pgx.Row) (*types.User, error) {
	var u types.User
	err := row.Scan(&u.Seq, &u.UserID, &u.ChatID, &u.Username, &u.FirstName, &u.LastName,
		&u.ReferralCode, &u.ReferrerID, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

func (s *PostgresStore) GetOrCreateUser(ctx context.Context, user types.User) (*types.User, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanUser(s.pool.QueryRow(ctx, `
INSERT INTO users (user_id, chat_id, username, first_name, last_name, referral_code)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (user_id) DO UPDATE SET
  chat_id = EXCLUDED.chat_id,
  username = EXCLUDED.username,
  first_name = EXCLUDED.first_name,
  last_name = EXCLUDED.last_name,
  updated_at = NOW()
RETURNING `+userColumns+`;
`, user.UserID, user.ChatID, strings.TrimSpace(user.Username),
		strings.TrimSpace(user.FirstName), strings.TrimSpace(user.LastName), user.ReferralCode))
}

func (s *PostgresStore) GetUser(ctx context.Context, userID int64) (*types.User, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanUser(s.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE user_id = $1
`, userID))
}

func (s *PostgresStore) GetUserByReferralCode(ctx context.Context, code string) (*types.User, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanUser(s.pool.QueryRow(ctx, `
SELECT `+userColumns+`
FROM users
WHERE referral_code = $1
`, strings.TrimSpace(code)))
}

func (s *PostgresStore) SetReferrer(ctx context.Context, userID, referrerID int64) (bool, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE users
SET referrer_id = $2, updated_at = NOW()
WHERE user_id = $1
  AND referrer_id IS NULL
  AND user_id <> $2
`, userID, referrerID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

const orderColumns = `id, user_id, plan_id, protocol, method, amount, external_ref, pay_url, status, created_at, completed_at`

func scanOrder(row pgx.Row) (*types.Order, error) {
	var o types.Order
	err := row.Scan(&o.ID, &o.UserID, &o.PlanID, &o.Protocol, &o.Method, &o.Amount,
		&o.ExternalRef, &o.PayURL, &o.Status, &o.CreatedAt, &o.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) CreateOrder(ctx context.Context, o *types.Order) error {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.pool.QueryRow(ctx, `
INSERT INTO orders (id, user_id, plan_id, protocol, method, amount)
VALUES ($1, $2, $3, $4, $5, $6)
RETURNING created_at, status
`, o.ID, o.UserID, o.PlanID, o.Protocol, o.Method, o.Amount).Scan(&o.CreatedAt, &o.Status)
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*types.Order, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanOrder(s.pool.QueryRow(ctx, `
SELECT `+orderColumns+`
FROM orders
WHERE id = $1
`, id))
}

func (s *PostgresStore) SetOrderExternal(ctx context.Context, id, externalRef, payURL string) error {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := s.pool.Exec(ctx, `
UPDATE orders
SET external_ref = $2, pay_url = $3
WHERE id = $1
`, id, externalRef, payURL)
	return err
}

// CompleteOrderIfPending is the single compare-and-set that resolves racing
// verify triggers and the abandonment sweep: whichever writer finds the row
// still pending wins, everyone else observes applied=false.
func (s *PostgresStore) CompleteOrderIfPending(ctx context.Context, id string, at time.Time) (bool, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE orders
SET status = 'completed', completed_at = $2
WHERE id = $1 AND status = 'pending'
`, id, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) FinishOrderIfPending(ctx context.Context, id string, status types.OrderStatus) (bool, error) {
	if !status.Terminal() || status == types.OrderCompleted {
		return false, fmt.Errorf("invalid terminal status %q", status)
	}
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE orders
SET status = $2
WHERE id = $1 AND status = 'pending'
`, id, status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) CancelPendingOrders(ctx context.Context, userID int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE orders
SET status = 'cancelled'
WHERE user_id = $1 AND status = 'pending'
`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) FailOrdersPendingSince(ctx context.Context, cutoff time.Time) (int64, error) {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
UPDATE orders
SET status = 'failed'
WHERE status = 'pending' AND created_at < $1
`, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

const subscriptionColumns = `id, user_id, order_id, plan_id, starts_at, ends_at, is_active, vpn_config, created_at`

func scanSubscription(row pgx.Row) (*types.Subscription, error) {
	var sub types.Subscription
	err := row.Scan(&sub.ID, &sub.UserID, &sub.OrderID, &sub.PlanID, &sub.StartsAt,
		&sub.EndsAt, &sub.IsActive, &sub.VPNConfig, &sub.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

// ActivateSubscription applies the supersede policy: prior active rows are
// deactivated and the new row inserted in one transaction. The unique
// order_id makes the insert idempotent under replays.
func (s *PostgresStore) ActivateSubscription(ctx context.Context, sub *types.Subscription) error {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx, `
UPDATE subscriptions
SET is_active = FALSE
WHERE user_id = $1 AND is_active AND order_id <> $2
`, sub.UserID, sub.OrderID)
	if err != nil {
		return err
	}

	_, err = tx.Exec(ctx, `
INSERT INTO subscriptions (id, user_id, order_id, plan_id, starts_at, ends_at, is_active, vpn_config)
VALUES ($1, $2, $3, $4, $5, $6, TRUE, $7)
ON CONFLICT (order_id) DO NOTHING
`, sub.ID, sub.UserID, sub.OrderID, sub.PlanID, sub.StartsAt.UTC(), sub.EndsAt.UTC(), sub.VPNConfig)
	if err != nil {
		return err
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) GetActiveSubscription(ctx context.Context, userID int64) (*types.Subscription, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanSubscription(s.pool.QueryRow(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE user_id = $1 AND is_active AND ends_at > NOW()
ORDER BY ends_at DESC
LIMIT 1
`, userID))
}

func (s *PostgresStore) GetSubscriptionByOrder(ctx context.Context, orderID string) (*types.Subscription, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	return scanSubscription(s.pool.QueryRow(ctx, `
SELECT `+subscriptionColumns+`
FROM subscriptions
WHERE order_id = $1
`, orderID))
}

func (s *PostgresStore) AddReferralCredit(ctx context.Context, c types.ReferralCredit) (inserted bool, err error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := s.pool.Exec(ctx, `
INSERT INTO referral_credits (order_id, referrer_id, referred_id, amount)
VALUES ($1, $2, $3, $4)
ON CONFLICT (order_id) DO NOTHING
`, c.OrderID, c.ReferrerID, c.ReferredID, c.Amount)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (s *PostgresStore) ReferralBalance(ctx context.Context, referrerID int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	var balance int64
	err := s.pool.QueryRow(ctx, `
SELECT COALESCE(SUM(amount), 0)
FROM referral_credits
WHERE referrer_id = $1
`, referrerID).Scan(&balance)
	return balance, err
}

func (s *PostgresStore) CountReferrals(ctx context.Context, referrerID int64) (int64, error) {
	ctx, cancel := withTimeout(ctx, 5*time.Second)
	defer cancel()
	var count int64
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*)
FROM users
WHERE referrer_id = $1
`, referrerID).Scan(&count)
	return count, err
}

func (s *PostgresStore) Stats(ctx context.Context) (*types.BotStats, error) {
	ctx, cancel := withTimeout(ctx, 10*time.Second)
	defer cancel()
	var stats types.BotStats
	err := s.pool.QueryRow(ctx, `
SELECT
  (SELECT COUNT(*) FROM users),
  (SELECT COUNT(*) FROM subscriptions WHERE is_active AND ends_at > NOW()),
  (SELECT COALESCE(SUM(amount), 0) FROM orders
   WHERE status = 'completed' AND completed_at >= date_trunc('month', NOW())),
  (SELECT COUNT(*) FROM orders WHERE status = 'completed')
`).Scan(&stats.TotalUsers, &stats.ActiveSubscriptions, &stats.MonthRevenue, &stats.CompletedOrders)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}
