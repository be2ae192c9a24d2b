// internal/service/plan/admin.go
package plan

import (
	"context"
	"fmt"
	"strings"

	"audiotricks-service/internal/domain/plan"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/repository/postgres"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

type PlanCatalog interface {
	List(ctx context.Context, filters *plan.ListFilters) ([]*plan.Plan, error)
	FindByID(ctx context.Context, id int64) (*plan.Plan, error)
	Create(ctx context.Context, p *plan.Plan) error
	NextVersion(ctx context.Context, code string) (int, error)
	DeactivateOtherVersions(ctx context.Context, code string, keepID int64) error
	UpdateStatus(ctx context.Context, id int64, status plan.Status) error
}

type RuleCatalog interface {
	List(ctx context.Context) ([]*plan.HierarchyRule, error)
	FindByID(ctx context.Context, id int64) (*plan.HierarchyRule, error)
	Create(ctx context.Context, rule *plan.HierarchyRule) error
	Update(ctx context.Context, rule *plan.HierarchyRule) error
}

// Invalidator drops every cached plan resolution.
type Invalidator interface {
	InvalidateAll(ctx context.Context) error
}

// AdminService manages the plan catalog and hierarchy rules. Every change
// clears the resolution cache, since any cached plan may now resolve
// differently.
type AdminService struct {
	plans  PlanCatalog
	rules  RuleCatalog
	inTx   func(ctx context.Context, fn func(plans PlanCatalog) error) error
	cache  Invalidator
	logger *zap.Logger
}

func NewAdminService(db *postgres.DB, planRepo *postgres.PlanRepository, ruleRepo *postgres.RuleRepository, cache Invalidator, logger *zap.Logger) *AdminService {
	return &AdminService{
		plans: planRepo,
		rules: ruleRepo,
		inTx: func(ctx context.Context, fn func(PlanCatalog) error) error {
			return db.WithTx(ctx, func(tx pgx.Tx) error {
				return fn(planRepo.WithTx(tx))
			})
		},
		cache:  cache,
		logger: logger,
	}
}

// catalogChanged runs after a committed change. A failed invalidation is
// logged; entries then age out with the cache TTL.
func (s *AdminService) catalogChanged(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.logger.Warn("failed to invalidate plan cache", zap.Error(err))
	}
}

// ========== Plans ==========

func (s *AdminService) ListPlans(ctx context.Context, filters *plan.ListFilters) ([]*plan.Plan, error) {
	return s.plans.List(ctx, filters)
}

func (s *AdminService) GetPlan(ctx context.Context, id int64) (*plan.Plan, error) {
	return s.plans.FindByID(ctx, id)
}

// CreatePlan inserts the first version of a new plan code.
func (s *AdminService) CreatePlan(ctx context.Context, req *plan.CreatePlanRequest) (*plan.Plan, error) {
	p := planFromRequest(req)
	p.Version = 1
	if err := s.plans.Create(ctx, p); err != nil {
		return nil, err
	}
	s.logger.Info("plan created", zap.String("code", p.Code), zap.Int64("plan_id", p.ID))
	return p, nil
}

// NewVersion replaces a plan. Existing subscriptions keep the old row; the
// old version is deactivated so no one new can pick it.
func (s *AdminService) NewVersion(ctx context.Context, id int64, req *plan.CreatePlanRequest) (*plan.Plan, error) {
	var created *plan.Plan

	err := s.inTx(ctx, func(repo PlanCatalog) error {
		prev, err := repo.FindByID(ctx, id)
		if err != nil {
			return err
		}

		version, err := repo.NextVersion(ctx, prev.Code)
		if err != nil {
			return err
		}

		p := planFromRequest(req)
		p.Code = prev.Code
		p.Version = version
		p.IsDefault = prev.IsDefault

		// Retire first so the single-default index never sees two rows.
		if err := repo.DeactivateOtherVersions(ctx, prev.Code, 0); err != nil {
			return err
		}
		if err := repo.Create(ctx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.catalogChanged(ctx)

	s.logger.Info("plan version created",
		zap.String("code", created.Code),
		zap.Int("version", created.Version),
		zap.Int64("plan_id", created.ID),
	)
	return created, nil
}

// Deactivate hides a plan from new subscriptions. The free default cannot be
// deactivated since resolution must always end in a plan.
func (s *AdminService) Deactivate(ctx context.Context, id int64) error {
	p, err := s.plans.FindByID(ctx, id)
	if err != nil {
		return err
	}
	if p.IsDefault {
		return fmt.Errorf("the default plan cannot be deactivated: %w", xerrors.ErrInvalidState)
	}
	if err := s.plans.UpdateStatus(ctx, id, plan.StatusInactive); err != nil {
		return err
	}
	s.catalogChanged(ctx)
	return nil
}

func planFromRequest(req *plan.CreatePlanRequest) *plan.Plan {
	p := &plan.Plan{
		Code:         strings.ToLower(strings.TrimSpace(req.Code)),
		Name:         req.Name,
		Description:  req.Description,
		Category:     req.Category,
		Status:       plan.StatusActive,
		IsPublic:     req.IsPublic,
		PriceCents:   req.PriceCents,
		Currency:     strings.ToUpper(req.Currency),
		BillingCycle: req.BillingCycle,
		Limits:       req.Limits,
	}
	if req.StripePriceID != "" {
		p.StripePriceID = &req.StripePriceID
	}
	return p
}

// ========== Hierarchy rules ==========

func (s *AdminService) ListRules(ctx context.Context) ([]*plan.HierarchyRule, error) {
	return s.rules.List(ctx)
}

func (s *AdminService) CreateRule(ctx context.Context, req *plan.RuleRequest) (*plan.HierarchyRule, error) {
	rule, err := ruleFromRequest(req)
	if err != nil {
		return nil, err
	}
	if err := s.rules.Create(ctx, rule); err != nil {
		return nil, err
	}
	s.catalogChanged(ctx)
	s.logger.Info("hierarchy rule created", zap.String("name", rule.Name), zap.String("strategy", string(rule.Strategy)))
	return rule, nil
}

func (s *AdminService) UpdateRule(ctx context.Context, id int64, req *plan.RuleRequest) (*plan.HierarchyRule, error) {
	if _, err := s.rules.FindByID(ctx, id); err != nil {
		return nil, err
	}
	rule, err := ruleFromRequest(req)
	if err != nil {
		return nil, err
	}
	rule.ID = id
	if err := s.rules.Update(ctx, rule); err != nil {
		return nil, err
	}
	s.catalogChanged(ctx)
	return s.rules.FindByID(ctx, id)
}

func ruleFromRequest(req *plan.RuleRequest) (*plan.HierarchyRule, error) {
	if !req.Strategy.Valid() {
		return nil, fmt.Errorf("unknown strategy %q: %w", req.Strategy, xerrors.ErrInvalidInput)
	}
	field := req.ComparisonField
	if field == "" {
		field = DefaultComparisonField
	}
	if _, ok := (plan.PlanLimits{}).Field(field); !ok {
		return nil, fmt.Errorf("unknown comparison field %q: %w", field, xerrors.ErrInvalidInput)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &plan.HierarchyRule{
		Name:            req.Name,
		Strategy:        req.Strategy,
		Priority:        req.Priority,
		Roles:           req.Roles,
		WorkspaceTypes:  req.WorkspaceTypes,
		PlanCategories:  req.PlanCategories,
		ComparisonField: field,
		IsActive:        active,
		Description:     req.Description,
	}, nil
}
