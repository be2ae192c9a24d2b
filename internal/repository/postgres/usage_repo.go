// internal/repository/postgres/usage_repo.go
package postgres

import (
	"context"
	"errors"
	"fmt"

	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/usage"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UsageRepository struct {
	db querier
}

func NewUsageRepository(db *pgxpool.Pool) *UsageRepository {
	return &UsageRepository{db: db}
}

func (r *UsageRepository) WithTx(tx pgx.Tx) *UsageRepository {
	return &UsageRepository{db: tx}
}

// Get returns the current counter value; a missing row is zero usage.
func (r *UsageRepository) Get(ctx context.Context, scope usage.ScopeType, scopeID int64, period string, resource plan.ResourceType) (int64, error) {
	var used int64
	err := r.db.QueryRow(ctx, `
		SELECT used FROM usage_counters
		WHERE scope_type = $1 AND scope_id = $2 AND period = $3 AND resource = $4
	`, scope, scopeID, period, resource).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read usage: %w", err)
	}
	return used, nil
}

// TryConsume adds delta to the counter only if the result stays within limit.
// The check and the increment happen in one statement, so concurrent callers
// can never overshoot. Returns the new value or ErrQuotaExceeded.
func (r *UsageRepository) TryConsume(ctx context.Context, scope usage.ScopeType, scopeID int64, period string,
	resource plan.ResourceType, delta, limit int64) (int64, error) {
	if limit != plan.Unlimited && delta > limit {
		return 0, xerrors.ErrQuotaExceeded
	}

	var used int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO usage_counters (scope_type, scope_id, period, resource, used)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (scope_type, scope_id, period, resource) DO UPDATE
		SET used = usage_counters.used + EXCLUDED.used, updated_at = NOW()
		WHERE $6::bigint = -1 OR usage_counters.used + EXCLUDED.used <= $6::bigint
		RETURNING used
	`, scope, scopeID, period, resource, delta, limit).Scan(&used)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, xerrors.ErrQuotaExceeded
	}
	if err != nil {
		return 0, fmt.Errorf("failed to consume usage: %w", err)
	}
	return used, nil
}

// Add increments without a limit check; used for fail-open metering.
func (r *UsageRepository) Add(ctx context.Context, scope usage.ScopeType, scopeID int64, period string,
	resource plan.ResourceType, delta int64) error {
	_, err := r.TryConsume(ctx, scope, scopeID, period, resource, delta, plan.Unlimited)
	return err
}

// Release gives back delta, clamping at zero.
func (r *UsageRepository) Release(ctx context.Context, scope usage.ScopeType, scopeID int64, period string,
	resource plan.ResourceType, delta int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE usage_counters SET used = GREATEST(used - $5, 0), updated_at = NOW()
		WHERE scope_type = $1 AND scope_id = $2 AND period = $3 AND resource = $4
	`, scope, scopeID, period, resource, delta)
	if err != nil {
		return fmt.Errorf("failed to release usage: %w", err)
	}
	return nil
}

// ListForScope returns every counter of a scope in the given periods.
func (r *UsageRepository) ListForScope(ctx context.Context, scope usage.ScopeType, scopeID int64, periods []string) ([]*usage.Counter, error) {
	rows, err := r.db.Query(ctx, `
		SELECT scope_type, scope_id, period, resource, used, updated_at
		FROM usage_counters
		WHERE scope_type = $1 AND scope_id = $2 AND period = ANY($3)
		ORDER BY resource
	`, scope, scopeID, periods)
	if err != nil {
		return nil, fmt.Errorf("failed to list usage: %w", err)
	}
	defer rows.Close()

	counters := []*usage.Counter{}
	for rows.Next() {
		var c usage.Counter
		if err := rows.Scan(&c.ScopeType, &c.ScopeID, &c.Period, &c.Resource, &c.Used, &c.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan usage: %w", err)
		}
		counters = append(counters, &c)
	}
	return counters, rows.Err()
}

// ExportPeriod joins workspace counters of a month with their owners and
// active plan for the admin report.
func (r *UsageRepository) ExportPeriod(ctx context.Context, month string) ([]*usage.ExportRow, error) {
	rows, err := r.db.Query(ctx, `
		SELECT w.id, w.name, u.email, COALESCE(p.code, ''), c.resource, SUM(c.used)::bigint
		FROM usage_counters c
		JOIN workspaces w ON w.id = c.scope_id
		JOIN users u ON u.id = w.owner_id
		LEFT JOIN workspace_subscriptions s ON s.workspace_id = w.id AND s.status = 'active'
		LEFT JOIN plans p ON p.id = s.plan_id
		WHERE c.scope_type = 'workspace' AND (c.period = $1 OR c.period LIKE $1 || '-%' OR c.period = 'total')
		GROUP BY w.id, w.name, u.email, p.code, c.resource
		ORDER BY w.id, c.resource
	`, month)
	if err != nil {
		return nil, fmt.Errorf("failed to export usage: %w", err)
	}
	defer rows.Close()

	out := []*usage.ExportRow{}
	for rows.Next() {
		var row usage.ExportRow
		if err := rows.Scan(&row.WorkspaceID, &row.WorkspaceName, &row.OwnerEmail, &row.PlanCode, &row.Resource, &row.Used); err != nil {
			return nil, fmt.Errorf("failed to scan usage export: %w", err)
		}
		out = append(out, &row)
	}
	return out, rows.Err()
}
