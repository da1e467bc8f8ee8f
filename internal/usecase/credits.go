package usecase

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// CreditService wraps the ledger with the account, coupon, billing-webhook,
// and admin credit flows. Grants are idempotent on their ledger source, so
// webhook redelivery and repeated coupon submissions never double-credit.
type CreditService struct {
	Ledger domain.CreditLedger
	Subs   domain.SubscriptionRepository
	// Coupons maps redeemable codes to the credits they grant.
	Coupons map[string]int64
}

// NewCreditService constructs a CreditService with its dependencies.
func NewCreditService(ledger domain.CreditLedger, subs domain.SubscriptionRepository, coupons map[string]int64) CreditService {
	return CreditService{Ledger: ledger, Subs: subs, Coupons: coupons}
}

// AccountSummary is the account endpoint payload material.
type AccountSummary struct {
	UserID    string
	Balance   int64
	PlanKey   string
	Status    string
	PeriodEnd *time.Time
}

// Account returns the recalculated effective balance plus the user's plan.
func (s CreditService) Account(ctx domain.Context, userID string) (AccountSummary, error) {
	if strings.TrimSpace(userID) == "" {
		return AccountSummary{}, fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if _, err := s.Ledger.GetOrCreateAccount(ctx, userID); err != nil {
		return AccountSummary{}, err
	}
	balance, err := s.Ledger.Recalculate(ctx, userID, time.Now().UTC())
	if err != nil {
		return AccountSummary{}, err
	}
	out := AccountSummary{UserID: userID, Balance: balance}
	sub, err := s.Subs.GetByUser(ctx, userID)
	switch {
	case err == nil:
		out.PlanKey = sub.PlanKey
		out.Status = sub.Status
		out.PeriodEnd = sub.CurrentPeriodEnd
	case !errors.Is(err, domain.ErrNotFound):
		return AccountSummary{}, err
	}
	return out, nil
}

// Entries returns the user's most recent ledger rows.
func (s CreditService) Entries(ctx domain.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	return s.Ledger.ListEntries(ctx, userID, limit)
}

// RedeemCoupon grants the credits behind a configured coupon code. Expiry
// follows the plan ladder: business subscribers get 90 days, other
// subscribers their period end, everyone else 30 days. Redeeming the same
// code twice returns the original grant.
func (s CreditService) RedeemCoupon(ctx domain.Context, userID, code string) (domain.CreditEntry, error) {
	code = strings.TrimSpace(code)
	if code == "" {
		return domain.CreditEntry{}, fmt.Errorf("%w: code required", domain.ErrInvalidArgument)
	}
	credits, ok := s.Coupons[code]
	if !ok || credits <= 0 {
		return domain.CreditEntry{}, fmt.Errorf("%w: coupon %q", domain.ErrNotFound, code)
	}

	source := "coupon:" + code
	existing, err := s.Ledger.FindBySource(ctx, userID, source)
	if err != nil {
		return domain.CreditEntry{}, err
	}
	if existing != nil {
		return *existing, nil
	}

	now := time.Now().UTC()
	entry, err := s.Ledger.Grant(ctx, domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventCoupon,
		Delta:     credits,
		Source:    source,
		ExpiresAt: s.couponExpiry(ctx, userID, now),
		Metadata:  map[string]any{"coupon_code": code},
	})
	if err != nil {
		return domain.CreditEntry{}, err
	}
	slog.Info("coupon redeemed",
		slog.String("user_id", userID),
		slog.String("code", code),
		slog.Int64("credits", credits))
	return entry, nil
}

// BillingEvent is one provider webhook delivery after signature verification.
type BillingEvent struct {
	Type           string
	UserID         string
	PlanKey        string
	Status         string
	PeriodEnd      *time.Time
	InvoiceID      string
	Credits        int64
	Provider       string
	SubscriptionID string
	CustomerID     string
}

// Subscription event types applied by HandleBillingEvent.
const (
	BillingSubscriptionCreated   = "subscription_created"
	BillingSubscriptionUpdated   = "subscription_updated"
	BillingSubscriptionCancelled = "subscription_cancelled"
	BillingSubscriptionExpired   = "subscription_expired"
	BillingInvoicePaid           = "invoice_paid"
)

// HandleBillingEvent applies one webhook delivery. Unknown event types and
// deliveries without a user are acknowledged without effect; invoice events
// are idempotent on source billing_invoice:<id>.
func (s CreditService) HandleBillingEvent(ctx domain.Context, ev BillingEvent) error {
	if ev.UserID == "" || ev.Type == "" {
		return nil
	}
	switch ev.Type {
	case BillingSubscriptionCreated, BillingSubscriptionUpdated, BillingSubscriptionCancelled, BillingSubscriptionExpired:
		return s.applySubscription(ctx, ev)
	case BillingInvoicePaid:
		return s.applyInvoice(ctx, ev)
	default:
		slog.Info("ignoring billing event", slog.String("type", ev.Type))
		return nil
	}
}

// applySubscription merges the event over the stored subscription; blank
// event fields keep their stored values.
func (s CreditService) applySubscription(ctx domain.Context, ev BillingEvent) error {
	cur, err := s.Subs.GetByUser(ctx, ev.UserID)
	if err != nil && !errors.Is(err, domain.ErrNotFound) {
		return err
	}
	next := domain.Subscription{
		UserID:           ev.UserID,
		PlanKey:          firstNonBlank(strings.ToLower(strings.TrimSpace(ev.PlanKey)), cur.PlanKey),
		Status:           firstNonBlank(ev.Status, cur.Status),
		CurrentPeriodEnd: cur.CurrentPeriodEnd,
		Provider:         firstNonBlank(ev.Provider, cur.Provider),
		ProviderSubID:    firstNonBlank(ev.SubscriptionID, cur.ProviderSubID),
		ProviderCustID:   firstNonBlank(ev.CustomerID, cur.ProviderCustID),
	}
	if ev.PeriodEnd != nil {
		next.CurrentPeriodEnd = ev.PeriodEnd
	}
	return s.Subs.Upsert(ctx, next)
}

// applyInvoice grants monthly plan credits, or a top-up for business and
// agency subscribers when the invoice carries credits instead of a plan.
func (s CreditService) applyInvoice(ctx domain.Context, ev BillingEvent) error {
	if ev.InvoiceID == "" {
		return fmt.Errorf("%w: invoice id required", domain.ErrInvalidArgument)
	}
	source := "billing_invoice:" + ev.InvoiceID
	existing, err := s.Ledger.FindBySource(ctx, ev.UserID, source)
	if err != nil {
		return err
	}
	if existing != nil {
		slog.Info("billing invoice already applied", slog.String("source", source))
		return nil
	}

	planKey := strings.ToLower(strings.TrimSpace(ev.PlanKey))
	if planKey != "" {
		if _, ok := domain.PlanMonthlyCredits[planKey]; !ok {
			slog.Warn("invoice names an unknown plan, skipping grant",
				slog.String("user_id", ev.UserID), slog.String("plan_key", planKey))
			return nil
		}
		if err := s.applySubscription(ctx, BillingEvent{
			UserID:         ev.UserID,
			PlanKey:        planKey,
			Status:         firstNonBlank(ev.Status, "active"),
			PeriodEnd:      ev.PeriodEnd,
			Provider:       ev.Provider,
			SubscriptionID: ev.SubscriptionID,
			CustomerID:     ev.CustomerID,
		}); err != nil {
			return err
		}
		_, err := s.Ledger.GrantMonthly(ctx, ev.UserID, planKey, ev.PeriodEnd, source, map[string]any{
			"invoice_id":      ev.InvoiceID,
			"subscription_id": ev.SubscriptionID,
		})
		return err
	}

	if ev.Credits > 0 {
		sub, err := s.Subs.GetByUser(ctx, ev.UserID)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				slog.Warn("top-up invoice for user without subscription", slog.String("user_id", ev.UserID))
				return nil
			}
			return err
		}
		plan := strings.ToLower(sub.PlanKey)
		if plan != "business" && plan != "agency" {
			slog.Warn("top-up invoice outside business/agency, skipping",
				slog.String("user_id", ev.UserID), slog.String("plan_key", plan))
			return nil
		}
		_, err = s.Ledger.GrantTopup(ctx, ev.UserID, ev.Credits, source, map[string]any{
			"invoice_id": ev.InvoiceID,
		})
		return err
	}

	slog.Info("invoice carried neither plan nor credits", slog.String("source", source))
	return nil
}

// AdminAdjust appends a manual signed delta and returns the recalculated
// balance. Positive deltas open a lot whose expiry honors expiresDays when
// given, else the plan ladder.
func (s CreditService) AdminAdjust(ctx domain.Context, userID string, delta int64, reason string, expiresDays int) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if delta == 0 {
		return 0, fmt.Errorf("%w: delta must be non-zero", domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	grant := domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventAdminAdjust,
		Delta:     delta,
		Source:    "admin_adjust:" + uuid.NewString(),
		Metadata:  map[string]any{"reason": strings.TrimSpace(reason)},
	}
	if delta > 0 {
		grant.ExpiresAt = s.adminExpiry(ctx, userID, expiresDays, now)
	}
	if _, err := s.Ledger.Grant(ctx, grant); err != nil {
		return 0, err
	}
	return s.Ledger.Recalculate(ctx, userID, now)
}

// AdminSet moves the effective balance to target by appending the signed
// difference. A target matching the current balance appends nothing.
func (s CreditService) AdminSet(ctx domain.Context, userID string, target int64, reason string, expiresDays int) (int64, error) {
	if strings.TrimSpace(userID) == "" {
		return 0, fmt.Errorf("%w: user id required", domain.ErrInvalidArgument)
	}
	if target < 0 {
		return 0, fmt.Errorf("%w: target balance must be >= 0", domain.ErrInvalidArgument)
	}
	now := time.Now().UTC()
	current, err := s.Ledger.Recalculate(ctx, userID, now)
	if err != nil {
		return 0, err
	}
	delta := target - current
	if delta == 0 {
		return current, nil
	}
	grant := domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventAdminSet,
		Delta:     delta,
		Source:    "admin_set:" + uuid.NewString(),
		Metadata: map[string]any{
			"reason":         strings.TrimSpace(reason),
			"target_balance": target,
		},
	}
	if delta > 0 {
		grant.ExpiresAt = s.adminExpiry(ctx, userID, expiresDays, now)
	}
	if _, err := s.Ledger.Grant(ctx, grant); err != nil {
		return 0, err
	}
	return s.Ledger.Recalculate(ctx, userID, now)
}

// couponExpiry: business subscribers 90 days, other subscribers their period
// end, everyone else 30 days.
func (s CreditService) couponExpiry(ctx domain.Context, userID string, now time.Time) *time.Time {
	sub, err := s.Subs.GetByUser(ctx, userID)
	if err == nil {
		if strings.ToLower(sub.PlanKey) == "business" {
			t := now.AddDate(0, 0, 90)
			return &t
		}
		if sub.CurrentPeriodEnd != nil {
			return sub.CurrentPeriodEnd
		}
	}
	t := now.AddDate(0, 0, 30)
	return &t
}

// adminExpiry: explicit day count first, then business/agency 90 days, then
// the subscriber's period end, then 30 days.
func (s CreditService) adminExpiry(ctx domain.Context, userID string, expiresDays int, now time.Time) *time.Time {
	if expiresDays > 0 {
		t := now.AddDate(0, 0, expiresDays)
		return &t
	}
	sub, err := s.Subs.GetByUser(ctx, userID)
	if err == nil {
		plan := strings.ToLower(sub.PlanKey)
		if plan == "business" || plan == "agency" {
			t := now.AddDate(0, 0, 90)
			return &t
		}
		if sub.CurrentPeriodEnd != nil {
			return sub.CurrentPeriodEnd
		}
	}
	t := now.AddDate(0, 0, 30)
	return &t
}

func firstNonBlank(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
