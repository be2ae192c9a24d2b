// internal/repository/postgres/plan_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"audiotricks-service/internal/domain/plan"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PlanRepository struct {
	db querier
}

func NewPlanRepository(db *pgxpool.Pool) *PlanRepository {
	return &PlanRepository{db: db}
}

func (r *PlanRepository) WithTx(tx pgx.Tx) *PlanRepository {
	return &PlanRepository{db: tx}
}

const planColumns = `id, code, version, name, description, category, status, is_default, is_public,
	price_cents, currency, billing_cycle, stripe_price_id, limits, created_at, updated_at`

func scanPlan(row pgx.Row) (*plan.Plan, error) {
	var p plan.Plan
	var limitsJSON []byte
	err := row.Scan(
		&p.ID, &p.Code, &p.Version, &p.Name, &p.Description, &p.Category, &p.Status, &p.IsDefault, &p.IsPublic,
		&p.PriceCents, &p.Currency, &p.BillingCycle, &p.StripePriceID, &limitsJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	if err := json.Unmarshal(limitsJSON, &p.Limits); err != nil {
		return nil, fmt.Errorf("failed to decode plan limits: %w", err)
	}
	return &p, nil
}

func (r *PlanRepository) Create(ctx context.Context, p *plan.Plan) error {
	limitsJSON, err := json.Marshal(p.Limits)
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}

	query := `
		INSERT INTO plans (code, version, name, description, category, status, is_default, is_public,
			price_cents, currency, billing_cycle, stripe_price_id, limits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		p.Code, p.Version, p.Name, p.Description, p.Category, p.Status, p.IsDefault, p.IsPublic,
		p.PriceCents, p.Currency, p.BillingCycle, p.StripePriceID, limitsJSON,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("plan %s v%d already exists: %w", p.Code, p.Version, xerrors.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}
	return nil
}

// Upsert writes a catalog plan keyed by (code, version). Existing rows only
// have their presentation fields refreshed; limits stay immutable.
func (r *PlanRepository) Upsert(ctx context.Context, p *plan.Plan) error {
	limitsJSON, err := json.Marshal(p.Limits)
	if err != nil {
		return fmt.Errorf("failed to marshal limits: %w", err)
	}

	query := `
		INSERT INTO plans (code, version, name, description, category, status, is_default, is_public,
			price_cents, currency, billing_cycle, stripe_price_id, limits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (code, version) DO UPDATE
		SET name = EXCLUDED.name, description = EXCLUDED.description, is_public = EXCLUDED.is_public,
		    stripe_price_id = COALESCE(EXCLUDED.stripe_price_id, plans.stripe_price_id), updated_at = NOW()
		RETURNING id, created_at, updated_at
	`
	err = r.db.QueryRow(ctx, query,
		p.Code, p.Version, p.Name, p.Description, p.Category, p.Status, p.IsDefault, p.IsPublic,
		p.PriceCents, p.Currency, p.BillingCycle, p.StripePriceID, limitsJSON,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert plan %s: %w", p.Code, err)
	}
	return nil
}

func (r *PlanRepository) FindByID(ctx context.Context, id int64) (*plan.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx, `SELECT `+planColumns+` FROM plans WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find plan: %w", err)
	}
	return p, nil
}

// FindDefault returns the active free default plan.
func (r *PlanRepository) FindDefault(ctx context.Context) (*plan.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE is_default AND status = 'active' LIMIT 1`))
	if err != nil {
		return nil, fmt.Errorf("failed to find default plan: %w", err)
	}
	return p, nil
}

// FindByStripePrice maps a Stripe price back to the active plan.
func (r *PlanRepository) FindByStripePrice(ctx context.Context, priceID string) (*plan.Plan, error) {
	p, err := scanPlan(r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE stripe_price_id = $1 AND status = 'active'
		 ORDER BY version DESC LIMIT 1`, priceID))
	if err != nil {
		return nil, fmt.Errorf("failed to find plan by price: %w", err)
	}
	return p, nil
}

// NextVersion returns the version number a new revision of code should take.
func (r *PlanRepository) NextVersion(ctx context.Context, code string) (int, error) {
	var v int
	err := r.db.QueryRow(ctx, `SELECT COALESCE(MAX(version), 0) + 1 FROM plans WHERE code = $1`, code).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("failed to compute plan version: %w", err)
	}
	return v, nil
}

// DeactivateOtherVersions retires every active revision of code except keepID.
func (r *PlanRepository) DeactivateOtherVersions(ctx context.Context, code string, keepID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE plans SET status = 'inactive', is_default = FALSE, updated_at = NOW()
		WHERE code = $1 AND id <> $2 AND status = 'active'
	`, code, keepID)
	if err != nil {
		return fmt.Errorf("failed to deactivate plan versions: %w", err)
	}
	return nil
}

func (r *PlanRepository) UpdateStatus(ctx context.Context, id int64, status plan.Status) error {
	tag, err := r.db.Exec(ctx, `UPDATE plans SET status = $2, updated_at = NOW() WHERE id = $1`, id, status)
	if err != nil {
		return fmt.Errorf("failed to update plan status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *PlanRepository) List(ctx context.Context, filters *plan.ListFilters) ([]*plan.Plan, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	if filters != nil {
		if filters.Status != nil {
			conditions = append(conditions, fmt.Sprintf("status = $%d", argPos))
			args = append(args, *filters.Status)
			argPos++
		}
		if filters.Category != nil {
			conditions = append(conditions, fmt.Sprintf("category = $%d", argPos))
			args = append(args, *filters.Category)
			argPos++
		}
		if filters.IsPublic != nil {
			conditions = append(conditions, fmt.Sprintf("is_public = $%d", argPos))
			args = append(args, *filters.IsPublic)
			argPos++
		}
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	rows, err := r.db.Query(ctx, `SELECT `+planColumns+` FROM plans `+whereClause+` ORDER BY price_cents, code, version`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list plans: %w", err)
	}
	defer rows.Close()

	plans := []*plan.Plan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan: %w", err)
		}
		plans = append(plans, p)
	}
	return plans, rows.Err()
}

// HasActiveSubscribers reports whether any active subscription references the plan.
func (r *PlanRepository) HasActiveSubscribers(ctx context.Context, id int64) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM user_subscriptions WHERE plan_id = $1 AND status = 'active')
		    OR EXISTS(SELECT 1 FROM workspace_subscriptions WHERE plan_id = $1 AND status = 'active')
	`, id).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check plan subscribers: %w", err)
	}
	return exists, nil
}
