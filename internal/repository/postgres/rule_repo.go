// internal/repository/postgres/rule_repo.go
package postgres

import (
	"context"
	"fmt"

	"audiotricks-service/internal/domain/plan"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type RuleRepository struct {
	db querier
}

func NewRuleRepository(db *pgxpool.Pool) *RuleRepository {
	return &RuleRepository{db: db}
}

func (r *RuleRepository) WithTx(tx pgx.Tx) *RuleRepository {
	return &RuleRepository{db: tx}
}

const ruleColumns = `id, name, strategy, priority, roles, workspace_types, plan_categories,
	comparison_field, is_active, description, created_at, updated_at`

func scanRule(row pgx.Row) (*plan.HierarchyRule, error) {
	var rule plan.HierarchyRule
	var categories []string
	err := row.Scan(
		&rule.ID, &rule.Name, &rule.Strategy, &rule.Priority, &rule.Roles, &rule.WorkspaceTypes, &categories,
		&rule.ComparisonField, &rule.IsActive, &rule.Description, &rule.CreatedAt, &rule.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	rule.PlanCategories = make([]plan.Category, len(categories))
	for i, c := range categories {
		rule.PlanCategories[i] = plan.Category(c)
	}
	return &rule, nil
}

func categoriesToStrings(cs []plan.Category) []string {
	out := make([]string, len(cs))
	for i, c := range cs {
		out[i] = string(c)
	}
	return out
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// ListActive returns active rules in evaluation order.
func (r *RuleRepository) ListActive(ctx context.Context) ([]*plan.HierarchyRule, error) {
	return r.list(ctx, `WHERE is_active`)
}

func (r *RuleRepository) List(ctx context.Context) ([]*plan.HierarchyRule, error) {
	return r.list(ctx, ``)
}

func (r *RuleRepository) list(ctx context.Context, where string) ([]*plan.HierarchyRule, error) {
	rows, err := r.db.Query(ctx, `SELECT `+ruleColumns+` FROM hierarchy_rules `+where+` ORDER BY priority, id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list hierarchy rules: %w", err)
	}
	defer rows.Close()

	rules := []*plan.HierarchyRule{}
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan hierarchy rule: %w", err)
		}
		rules = append(rules, rule)
	}
	return rules, rows.Err()
}

func (r *RuleRepository) FindByID(ctx context.Context, id int64) (*plan.HierarchyRule, error) {
	rule, err := scanRule(r.db.QueryRow(ctx, `SELECT `+ruleColumns+` FROM hierarchy_rules WHERE id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find hierarchy rule: %w", err)
	}
	return rule, nil
}

func (r *RuleRepository) Create(ctx context.Context, rule *plan.HierarchyRule) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO hierarchy_rules (name, strategy, priority, roles, workspace_types, plan_categories,
			comparison_field, is_active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id, created_at, updated_at
	`, rule.Name, rule.Strategy, rule.Priority, nonNil(rule.Roles), nonNil(rule.WorkspaceTypes),
		categoriesToStrings(rule.PlanCategories), rule.ComparisonField, rule.IsActive, rule.Description,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if isUniqueViolation(err) {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create hierarchy rule: %w", err)
	}
	return nil
}

func (r *RuleRepository) Update(ctx context.Context, rule *plan.HierarchyRule) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE hierarchy_rules
		SET name = $2, strategy = $3, priority = $4, roles = $5, workspace_types = $6, plan_categories = $7,
		    comparison_field = $8, is_active = $9, description = $10, updated_at = NOW()
		WHERE id = $1
	`, rule.ID, rule.Name, rule.Strategy, rule.Priority, nonNil(rule.Roles), nonNil(rule.WorkspaceTypes),
		categoriesToStrings(rule.PlanCategories), rule.ComparisonField, rule.IsActive, rule.Description)
	if err != nil {
		return fmt.Errorf("failed to update hierarchy rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// Upsert is used by the catalog seeder; rules are keyed by name.
func (r *RuleRepository) Upsert(ctx context.Context, rule *plan.HierarchyRule) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO hierarchy_rules (name, strategy, priority, roles, workspace_types, plan_categories,
			comparison_field, is_active, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (name) DO UPDATE
		SET strategy = EXCLUDED.strategy, priority = EXCLUDED.priority, roles = EXCLUDED.roles,
		    workspace_types = EXCLUDED.workspace_types, plan_categories = EXCLUDED.plan_categories,
		    comparison_field = EXCLUDED.comparison_field, description = EXCLUDED.description, updated_at = NOW()
		RETURNING id, created_at, updated_at
	`, rule.Name, rule.Strategy, rule.Priority, nonNil(rule.Roles), nonNil(rule.WorkspaceTypes),
		categoriesToStrings(rule.PlanCategories), rule.ComparisonField, rule.IsActive, rule.Description,
	).Scan(&rule.ID, &rule.CreatedAt, &rule.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert hierarchy rule %s: %w", rule.Name, err)
	}
	return nil
}
