package postgres

import (
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// SubscriptionRepo keeps the one-per-user plan binding written by billing
// webhook events.
type SubscriptionRepo struct{ Pool PgxPool }

// NewSubscriptionRepo constructs a SubscriptionRepo with the given pool.
func NewSubscriptionRepo(p PgxPool) *SubscriptionRepo { return &SubscriptionRepo{Pool: p} }

// Upsert inserts or replaces the user's subscription row.
func (r *SubscriptionRepo) Upsert(ctx domain.Context, s domain.Subscription) error {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.Upsert")
	defer span.End()

	q := `INSERT INTO subscriptions (user_id, plan_key, status, current_period_end, provider, provider_sub_id, provider_cust_id, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (user_id)
		DO UPDATE SET plan_key=EXCLUDED.plan_key, status=EXCLUDED.status,
			current_period_end=EXCLUDED.current_period_end, provider=EXCLUDED.provider,
			provider_sub_id=EXCLUDED.provider_sub_id, provider_cust_id=EXCLUDED.provider_cust_id,
			updated_at=EXCLUDED.updated_at`
	_, err := r.Pool.Exec(ctx, q, s.UserID, s.PlanKey, s.Status, s.CurrentPeriodEnd,
		s.Provider, s.ProviderSubID, s.ProviderCustID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("op=subscription.upsert: %w", err)
	}
	return nil
}

// GetByUser loads the user's subscription.
func (r *SubscriptionRepo) GetByUser(ctx domain.Context, userID string) (domain.Subscription, error) {
	tracer := otel.Tracer("repo.subscriptions")
	ctx, span := tracer.Start(ctx, "subscriptions.GetByUser")
	defer span.End()

	q := `SELECT user_id, plan_key, status, current_period_end, provider, provider_sub_id, provider_cust_id, updated_at
		FROM subscriptions WHERE user_id=$1`
	var s domain.Subscription
	if err := r.Pool.QueryRow(ctx, q, userID).Scan(&s.UserID, &s.PlanKey, &s.Status,
		&s.CurrentPeriodEnd, &s.Provider, &s.ProviderSubID, &s.ProviderCustID, &s.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Subscription{}, fmt.Errorf("op=subscription.get: %w", domain.ErrNotFound)
		}
		return domain.Subscription{}, fmt.Errorf("op=subscription.get: %w", err)
	}
	return s, nil
}
