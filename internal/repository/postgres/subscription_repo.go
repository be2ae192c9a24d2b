// internal/repository/postgres/subscription_repo.go
package postgres

import (
	"context"
	"fmt"
	"time"

	"audiotricks-service/internal/domain/plan"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type SubscriptionRepository struct {
	db querier
}

func NewSubscriptionRepository(db *pgxpool.Pool) *SubscriptionRepository {
	return &SubscriptionRepository{db: db}
}

func (r *SubscriptionRepository) WithTx(tx pgx.Tx) *SubscriptionRepository {
	return &SubscriptionRepository{db: tx}
}

// ========== User subscriptions ==========

const userSubColumns = `id, user_id, plan_id, workspace_id, status, subscription_type, assigned_by, reason,
	current_period_start, current_period_end, cancelled_at, created_at, updated_at`

func scanUserSub(row pgx.Row) (*plan.UserSubscription, error) {
	var s plan.UserSubscription
	err := row.Scan(
		&s.ID, &s.UserID, &s.PlanID, &s.WorkspaceID, &s.Status, &s.Type, &s.AssignedBy, &s.Reason,
		&s.CurrentPeriodStart, &s.CurrentPeriodEnd, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

// FindActiveByUser returns the user's active subscription, or ErrNotFound.
func (r *SubscriptionRepository) FindActiveByUser(ctx context.Context, userID int64) (*plan.UserSubscription, error) {
	s, err := scanUserSub(r.db.QueryRow(ctx,
		`SELECT `+userSubColumns+` FROM user_subscriptions WHERE user_id = $1 AND status = 'active'`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to find user subscription: %w", err)
	}
	return s, nil
}

// CreateUserSubscription inserts an active subscription. Callers cancel the
// previous one first inside the same transaction.
func (r *SubscriptionRepository) CreateUserSubscription(ctx context.Context, s *plan.UserSubscription) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO user_subscriptions (user_id, plan_id, workspace_id, status, subscription_type, assigned_by, reason, current_period_end)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id, current_period_start, created_at, updated_at
	`, s.UserID, s.PlanID, s.WorkspaceID, s.Status, s.Type, s.AssignedBy, s.Reason, s.CurrentPeriodEnd,
	).Scan(&s.ID, &s.CurrentPeriodStart, &s.CreatedAt, &s.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %d already has an active subscription: %w", s.UserID, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create user subscription: %w", err)
	}
	return nil
}

// CancelActiveUserSubscription ends whatever the user currently holds. A user
// without an active subscription is not an error.
func (r *SubscriptionRepository) CancelActiveUserSubscription(ctx context.Context, userID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE user_subscriptions SET status = 'cancelled', cancelled_at = NOW(), updated_at = NOW()
		WHERE user_id = $1 AND status = 'active'
	`, userID)
	if err != nil {
		return fmt.Errorf("failed to cancel user subscription: %w", err)
	}
	return nil
}

// ========== Workspace subscriptions ==========

const workspaceSubColumns = `id, workspace_id, plan_id, status, stripe_subscription_id, stripe_checkout_session_id,
	current_period_end, cancelled_at, created_at, updated_at`

func scanWorkspaceSub(row pgx.Row) (*plan.WorkspaceSubscription, error) {
	var s plan.WorkspaceSubscription
	err := row.Scan(
		&s.ID, &s.WorkspaceID, &s.PlanID, &s.Status, &s.StripeSubscriptionID, &s.StripeCheckoutSessionID,
		&s.CurrentPeriodEnd, &s.CancelledAt, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *SubscriptionRepository) FindActiveByWorkspace(ctx context.Context, workspaceID int64) (*plan.WorkspaceSubscription, error) {
	s, err := scanWorkspaceSub(r.db.QueryRow(ctx,
		`SELECT `+workspaceSubColumns+` FROM workspace_subscriptions WHERE workspace_id = $1 AND status = 'active'`,
		workspaceID))
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace subscription: %w", err)
	}
	return s, nil
}

func (r *SubscriptionRepository) FindByCheckoutSession(ctx context.Context, sessionID string) (*plan.WorkspaceSubscription, error) {
	s, err := scanWorkspaceSub(r.db.QueryRow(ctx,
		`SELECT `+workspaceSubColumns+` FROM workspace_subscriptions WHERE stripe_checkout_session_id = $1`, sessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by checkout session: %w", err)
	}
	return s, nil
}

func (r *SubscriptionRepository) FindByStripeSubscription(ctx context.Context, stripeSubID string) (*plan.WorkspaceSubscription, error) {
	s, err := scanWorkspaceSub(r.db.QueryRow(ctx,
		`SELECT `+workspaceSubColumns+` FROM workspace_subscriptions WHERE stripe_subscription_id = $1
		 ORDER BY created_at DESC LIMIT 1`, stripeSubID))
	if err != nil {
		return nil, fmt.Errorf("failed to find subscription by stripe id: %w", err)
	}
	return s, nil
}

// CreatePending records a checkout that has not been paid yet.
func (r *SubscriptionRepository) CreatePending(ctx context.Context, workspaceID, planID int64, checkoutSessionID string) (*plan.WorkspaceSubscription, error) {
	s, err := scanWorkspaceSub(r.db.QueryRow(ctx, `
		INSERT INTO workspace_subscriptions (workspace_id, plan_id, status, stripe_checkout_session_id)
		VALUES ($1, $2, 'pending', $3)
		RETURNING `+workspaceSubColumns, workspaceID, planID, checkoutSessionID))
	if err != nil {
		return nil, fmt.Errorf("failed to create pending subscription: %w", err)
	}
	return s, nil
}

// CreateActive inserts an active workspace subscription without a checkout,
// used by admin assignment. The caller cancels the previous one first.
func (r *SubscriptionRepository) CreateActive(ctx context.Context, workspaceID, planID int64) (*plan.WorkspaceSubscription, error) {
	s, err := scanWorkspaceSub(r.db.QueryRow(ctx, `
		INSERT INTO workspace_subscriptions (workspace_id, plan_id, status)
		VALUES ($1, $2, 'active')
		RETURNING `+workspaceSubColumns, workspaceID, planID))
	if isUniqueViolation(err) {
		return nil, fmt.Errorf("workspace %d already has an active subscription: %w", workspaceID, xerrors.ErrConflict)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace subscription: %w", err)
	}
	return s, nil
}

// Activate flips a pending subscription to active. It returns false when the
// row was already active, which makes webhook redelivery a no-op.
func (r *SubscriptionRepository) Activate(ctx context.Context, id int64, stripeSubID string, periodEnd *time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE workspace_subscriptions
		SET status = 'active', stripe_subscription_id = NULLIF($2, ''), current_period_end = $3, updated_at = NOW()
		WHERE id = $1 AND status = 'pending'
	`, id, stripeSubID, periodEnd)
	if err != nil {
		return false, fmt.Errorf("failed to activate subscription: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// CancelActiveWorkspaceSubscription ends the current subscription except keepID.
func (r *SubscriptionRepository) CancelActiveWorkspaceSubscription(ctx context.Context, workspaceID, keepID int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE workspace_subscriptions SET status = 'cancelled', cancelled_at = NOW(), updated_at = NOW()
		WHERE workspace_id = $1 AND status = 'active' AND id <> $2
	`, workspaceID, keepID)
	if err != nil {
		return fmt.Errorf("failed to cancel workspace subscription: %w", err)
	}
	return nil
}

// UpdateStatus applies a provider-driven status change.
func (r *SubscriptionRepository) UpdateStatus(ctx context.Context, id int64, status plan.SubscriptionStatus, periodEnd *time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE workspace_subscriptions
		SET status = $2,
		    current_period_end = COALESCE($3, current_period_end),
		    cancelled_at = CASE WHEN $2 = 'cancelled' THEN NOW() ELSE cancelled_at END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, status, periodEnd)
	if err != nil {
		return fmt.Errorf("failed to update subscription status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}
