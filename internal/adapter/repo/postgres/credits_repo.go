package postgres

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/lead-scout/internal/adapter/observability"
	"github.com/fairyhunter13/lead-scout/internal/domain"
)

// CreditRepo implements domain.CreditLedger on PostgreSQL. The ledger is
// append-only; the account row caches the non-expired sum.
type CreditRepo struct{ Pool PgxPool }

// NewCreditRepo constructs a CreditRepo with the given pool.
func NewCreditRepo(p PgxPool) *CreditRepo { return &CreditRepo{Pool: p} }

const entryColumns = `id, user_id, lot_id, event_type, delta, source, job_id, created_at, expires_at, metadata`

// GetOrCreateAccount returns the user's account, creating a zero-balance
// row on first sight.
func (r *CreditRepo) GetOrCreateAccount(ctx domain.Context, userID string) (domain.CreditAccount, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.GetOrCreateAccount")
	defer span.End()

	// The no-op conflict update makes RETURNING yield the row either way.
	q := `INSERT INTO credit_accounts (user_id, balance, updated_at) VALUES ($1, 0, $2)
		ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING user_id, balance, updated_at`
	var acct domain.CreditAccount
	if err := r.Pool.QueryRow(ctx, q, userID, time.Now().UTC()).Scan(&acct.UserID, &acct.Balance, &acct.UpdatedAt); err != nil {
		return domain.CreditAccount{}, fmt.Errorf("op=credits.get_or_create_account: %w", err)
	}
	return acct, nil
}

// Recalculate sums non-expired ledger deltas, writes the result into the
// account cache, and returns it. The ledger is the source of truth.
func (r *CreditRepo) Recalculate(ctx domain.Context, userID string, now time.Time) (int64, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Recalculate")
	defer span.End()

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return 0, fmt.Errorf("op=credits.recalculate: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	sumQ := `SELECT COALESCE(SUM(delta),0) FROM credit_ledger
		WHERE user_id=$1 AND (expires_at IS NULL OR expires_at > $2)`
	if err := tx.QueryRow(ctx, sumQ, userID, now).Scan(&balance); err != nil {
		return 0, fmt.Errorf("op=credits.recalculate: %w", err)
	}

	upsertQ := `INSERT INTO credit_accounts (user_id, balance, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET balance = EXCLUDED.balance, updated_at = EXCLUDED.updated_at`
	if _, err := tx.Exec(ctx, upsertQ, userID, balance, time.Now().UTC()); err != nil {
		return 0, fmt.Errorf("op=credits.recalculate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("op=credits.recalculate: %w", err)
	}
	return balance, nil
}

// GrantMonthly appends the plan's monthly lot expiring at the period end.
func (r *CreditRepo) GrantMonthly(ctx domain.Context, userID, planKey string, periodEnd *time.Time, source string, metadata map[string]any) (domain.CreditEntry, error) {
	credits, ok := domain.PlanMonthlyCredits[planKey]
	if !ok {
		return domain.CreditEntry{}, fmt.Errorf("%w: unknown plan %q", domain.ErrInvalidArgument, planKey)
	}
	return r.Grant(ctx, domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventGrantMonthly,
		Delta:     credits,
		Source:    source,
		ExpiresAt: periodEnd,
		Metadata:  metadata,
	})
}

// GrantTopup appends a purchased lot expiring TopupExpiryDays from now.
func (r *CreditRepo) GrantTopup(ctx domain.Context, userID string, credits int64, source string, metadata map[string]any) (domain.CreditEntry, error) {
	if credits <= 0 {
		return domain.CreditEntry{}, fmt.Errorf("%w: topup credits must be positive", domain.ErrInvalidArgument)
	}
	expires := time.Now().UTC().AddDate(0, 0, domain.TopupExpiryDays)
	return r.Grant(ctx, domain.CreditGrant{
		UserID:    userID,
		EventType: domain.EventTopup,
		Delta:     credits,
		Source:    source,
		ExpiresAt: &expires,
		Metadata:  metadata,
	})
}

// Grant appends one ledger row and bumps the account balance in a single
// transaction. Positive deltas open a fresh lot; negative admin deltas are
// plain adjustments that never touch lot accounting.
func (r *CreditRepo) Grant(ctx domain.Context, g domain.CreditGrant) (domain.CreditEntry, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Grant")
	defer span.End()
	span.SetAttributes(attribute.String("credits.event_type", g.EventType))

	if g.Delta == 0 {
		return domain.CreditEntry{}, fmt.Errorf("%w: zero delta grant", domain.ErrInvalidArgument)
	}
	if g.EventType == domain.EventSpend {
		return domain.CreditEntry{}, fmt.Errorf("%w: spend rows go through Spend", domain.ErrInvalidArgument)
	}

	var meta []byte
	if g.Metadata != nil {
		b, err := json.Marshal(g.Metadata)
		if err != nil {
			return domain.CreditEntry{}, fmt.Errorf("op=credits.grant: %w", err)
		}
		meta = b
	}

	var lotID *string
	if g.Delta > 0 {
		id := uuid.New().String()
		lotID = &id
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return domain.CreditEntry{}, fmt.Errorf("op=credits.grant: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	now := time.Now().UTC()
	entry := domain.CreditEntry{
		UserID:    g.UserID,
		LotID:     lotID,
		EventType: g.EventType,
		Delta:     g.Delta,
		Source:    g.Source,
		ExpiresAt: g.ExpiresAt,
		Metadata:  g.Metadata,
	}
	insQ := `INSERT INTO credit_ledger (user_id, lot_id, event_type, delta, source, created_at, expires_at, metadata)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8) RETURNING id, created_at`
	if err := tx.QueryRow(ctx, insQ, g.UserID, lotID, g.EventType, g.Delta, g.Source, now, g.ExpiresAt, meta).Scan(&entry.ID, &entry.CreatedAt); err != nil {
		return domain.CreditEntry{}, fmt.Errorf("op=credits.grant: %w", err)
	}

	acctQ := `INSERT INTO credit_accounts (user_id, balance, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET balance = credit_accounts.balance + $2, updated_at = $3`
	if _, err := tx.Exec(ctx, acctQ, g.UserID, g.Delta, now); err != nil {
		return domain.CreditEntry{}, fmt.Errorf("op=credits.grant: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return domain.CreditEntry{}, fmt.Errorf("op=credits.grant: %w", err)
	}
	return entry, nil
}

// Spend consumes amount credits FIFO across the user's open lots, soonest
// expiry first. The whole sequence holds one transaction; the post-loop
// outstanding check guards against spends racing the balance read.
func (r *CreditRepo) Spend(ctx domain.Context, s domain.CreditSpend) error {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.Spend")
	defer span.End()
	span.SetAttributes(attribute.Int64("credits.amount", s.Amount))

	if s.Amount <= 0 {
		return fmt.Errorf("%w: spend amount must be positive", domain.ErrInvalidArgument)
	}
	now := s.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	tx, err := r.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("op=credits.spend: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var balance int64
	sumQ := `SELECT COALESCE(SUM(delta),0) FROM credit_ledger
		WHERE user_id=$1 AND (expires_at IS NULL OR expires_at > $2)`
	if err := tx.QueryRow(ctx, sumQ, s.UserID, now).Scan(&balance); err != nil {
		return fmt.Errorf("op=credits.spend: %w", err)
	}
	if balance < s.Amount {
		return fmt.Errorf("op=credits.spend: have %d need %d: %w", balance, s.Amount, domain.ErrInsufficientCredits)
	}

	// Lock the open lots soonest-to-expire first.
	lotQ := `SELECT lot_id, expires_at FROM credit_ledger
		WHERE user_id=$1 AND delta > 0 AND lot_id IS NOT NULL
		AND (expires_at IS NULL OR expires_at > $2)
		ORDER BY expires_at ASC NULLS LAST, created_at ASC, id ASC
		FOR UPDATE`
	rows, err := tx.Query(ctx, lotQ, s.UserID, now)
	if err != nil {
		return fmt.Errorf("op=credits.spend: %w", err)
	}
	type lot struct {
		id        string
		expiresAt *time.Time
	}
	var lots []lot
	seen := make(map[string]struct{})
	for rows.Next() {
		var l lot
		if err := rows.Scan(&l.id, &l.expiresAt); err != nil {
			rows.Close()
			return fmt.Errorf("op=credits.spend: %w", err)
		}
		if _, dup := seen[l.id]; dup {
			continue
		}
		seen[l.id] = struct{}{}
		lots = append(lots, l)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("op=credits.spend: %w", err)
	}

	need := s.Amount
	remQ := `SELECT COALESCE(SUM(delta),0) FROM credit_ledger WHERE user_id=$1 AND lot_id=$2`
	spendQ := `INSERT INTO credit_ledger (user_id, lot_id, event_type, delta, source, job_id, created_at, expires_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	for _, l := range lots {
		if need == 0 {
			break
		}
		var remaining int64
		if err := tx.QueryRow(ctx, remQ, s.UserID, l.id).Scan(&remaining); err != nil {
			return fmt.Errorf("op=credits.spend: %w", err)
		}
		if remaining <= 0 {
			continue
		}
		use := remaining
		if use > need {
			use = need
		}
		if _, err := tx.Exec(ctx, spendQ, s.UserID, l.id, domain.EventSpend, -use, s.Source, s.JobID, now, l.expiresAt); err != nil {
			return fmt.Errorf("op=credits.spend: %w", err)
		}
		need -= use
	}
	if need > 0 {
		return fmt.Errorf("op=credits.spend: lots exhausted with %d outstanding: %w", need, domain.ErrInsufficientCredits)
	}

	acctQ := `INSERT INTO credit_accounts (user_id, balance, updated_at) VALUES ($1,$2,$3)
		ON CONFLICT (user_id) DO UPDATE SET balance = credit_accounts.balance - $4, updated_at = $3`
	if _, err := tx.Exec(ctx, acctQ, s.UserID, balance-s.Amount, now, s.Amount); err != nil {
		return fmt.Errorf("op=credits.spend: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("op=credits.spend: %w", err)
	}
	observability.AddCreditsSpent(s.Amount)
	return nil
}

// FindBySource returns the user's ledger row for source, or nil when absent.
// Callers use it to make webhook and coupon grants idempotent.
func (r *CreditRepo) FindBySource(ctx domain.Context, userID, source string) (*domain.CreditEntry, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.FindBySource")
	defer span.End()

	q := `SELECT ` + entryColumns + ` FROM credit_ledger WHERE user_id=$1 AND source=$2 ORDER BY id ASC LIMIT 1`
	entry, err := scanEntry(r.Pool.QueryRow(ctx, q, userID, source))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("op=credits.find_by_source: %w", err)
	}
	return &entry, nil
}

// ListEntries returns the user's most recent ledger rows.
func (r *CreditRepo) ListEntries(ctx domain.Context, userID string, limit int) ([]domain.CreditEntry, error) {
	tracer := otel.Tracer("repo.credits")
	ctx, span := tracer.Start(ctx, "credits.ListEntries")
	defer span.End()

	if limit <= 0 {
		limit = 100
	}
	q := `SELECT ` + entryColumns + ` FROM credit_ledger WHERE user_id=$1 ORDER BY id DESC LIMIT $2`
	rows, err := r.Pool.Query(ctx, q, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("op=credits.list_entries: %w", err)
	}
	defer rows.Close()

	var out []domain.CreditEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("op=credits.list_entries: %w", err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("op=credits.list_entries: %w", err)
	}
	return out, nil
}

func scanEntry(row pgx.Row) (domain.CreditEntry, error) {
	var e domain.CreditEntry
	var meta []byte
	if err := row.Scan(&e.ID, &e.UserID, &e.LotID, &e.EventType, &e.Delta, &e.Source, &e.JobID, &e.CreatedAt, &e.ExpiresAt, &meta); err != nil {
		return domain.CreditEntry{}, err
	}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &e.Metadata); err != nil {
			return domain.CreditEntry{}, fmt.Errorf("decode metadata: %w", err)
		}
	}
	return e, nil
}
