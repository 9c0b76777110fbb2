package ratelimit

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists per-user daily-limit overrides in user_rate_limits.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Get returns the persisted row for userID, or a DailyLimitDefault row if
// none has been written yet — callers never see a "not found" error for an
// absent override, since absence just means "use the default."
func (s *PostgresStore) Get(ctx context.Context, userID string) (*UserRateLimit, error) {
	const query = `SELECT daily_limit_mode, daily_limit_value FROM user_rate_limits WHERE user_id = $1`

	var mode string
	var value *int64
	err := s.pool.QueryRow(ctx, query, userID).Scan(&mode, &value)
	if errors.Is(err, pgx.ErrNoRows) {
		return &UserRateLimit{UserID: userID, DailyLimit: Default()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ratelimit: getting user rate limit: %w", err)
	}

	limit, err := decodeDailyLimit(mode, value)
	if err != nil {
		return nil, err
	}
	return &UserRateLimit{UserID: userID, DailyLimit: limit, IsRoleExempt: mode == "unlimited"}, nil
}

// Upsert writes row, overwriting any existing override for its user.
func (s *PostgresStore) Upsert(ctx context.Context, row UserRateLimit) error {
	mode, value := encodeDailyLimit(row.DailyLimit)

	const query = `
		INSERT INTO user_rate_limits (user_id, daily_limit_mode, daily_limit_value, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (user_id) DO UPDATE SET
			daily_limit_mode = EXCLUDED.daily_limit_mode,
			daily_limit_value = EXCLUDED.daily_limit_value,
			updated_at = now()`

	if _, err := s.pool.Exec(ctx, query, row.UserID, mode, value); err != nil {
		return fmt.Errorf("ratelimit: upserting user rate limit: %w", err)
	}
	return nil
}

func decodeDailyLimit(mode string, value *int64) (DailyLimit, error) {
	switch mode {
	case "default", "":
		return Default(), nil
	case "unlimited":
		return Unlimited(), nil
	case "custom":
		if value == nil {
			return DailyLimit{}, errors.New("ratelimit: custom daily_limit row missing value")
		}
		return Custom(*value), nil
	default:
		return DailyLimit{}, fmt.Errorf("ratelimit: unknown daily_limit_mode %q", mode)
	}
}

func encodeDailyLimit(limit DailyLimit) (mode string, value *int64) {
	switch limit.Kind() {
	case DailyLimitUnlimited:
		return "unlimited", nil
	case DailyLimitCustom:
		v, _ := limit.CustomValue()
		return "custom", &v
	default:
		return "default", nil
	}
}
