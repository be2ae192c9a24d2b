package plan

import (
	"context"
	"errors"
	"testing"

	"audiotricks-service/internal/domain/plan"
	xerrors "audiotricks-service/internal/pkg/errors"

	"go.uber.org/zap"
)

type catalogStub struct {
	plans map[int64]*plan.Plan
	rules map[int64]*plan.HierarchyRule
	next  int64
}

func newCatalogStub() *catalogStub {
	free := *freePlan
	free.IsDefault = true
	pro := *proPlan
	return &catalogStub{
		plans: map[int64]*plan.Plan{free.ID: &free, pro.ID: &pro},
		rules: map[int64]*plan.HierarchyRule{},
		next:  10,
	}
}

func (c *catalogStub) List(context.Context, *plan.ListFilters) ([]*plan.Plan, error) {
	var out []*plan.Plan
	for _, p := range c.plans {
		out = append(out, p)
	}
	return out, nil
}

func (c *catalogStub) FindByID(_ context.Context, id int64) (*plan.Plan, error) {
	p, ok := c.plans[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return p, nil
}

func (c *catalogStub) Create(_ context.Context, p *plan.Plan) error {
	c.next++
	p.ID = c.next
	c.plans[p.ID] = p
	return nil
}

func (c *catalogStub) NextVersion(_ context.Context, code string) (int, error) {
	v := 0
	for _, p := range c.plans {
		if p.Code == code && p.Version > v {
			v = p.Version
		}
	}
	return v + 1, nil
}

func (c *catalogStub) DeactivateOtherVersions(_ context.Context, code string, keepID int64) error {
	for _, p := range c.plans {
		if p.Code == code && p.ID != keepID {
			p.Status = plan.StatusInactive
		}
	}
	return nil
}

func (c *catalogStub) UpdateStatus(_ context.Context, id int64, status plan.Status) error {
	c.plans[id].Status = status
	return nil
}

type ruleStub struct{ c *catalogStub }

func (r ruleStub) List(context.Context) ([]*plan.HierarchyRule, error) { return nil, nil }

func (r ruleStub) FindByID(_ context.Context, id int64) (*plan.HierarchyRule, error) {
	rule, ok := r.c.rules[id]
	if !ok {
		return nil, xerrors.ErrNotFound
	}
	return rule, nil
}

func (r ruleStub) Create(_ context.Context, rule *plan.HierarchyRule) error {
	r.c.next++
	rule.ID = r.c.next
	r.c.rules[rule.ID] = rule
	return nil
}

func (r ruleStub) Update(_ context.Context, rule *plan.HierarchyRule) error {
	r.c.rules[rule.ID] = rule
	return nil
}

type invalidations struct{ n int }

func (i *invalidations) InvalidateAll(context.Context) error {
	i.n++
	return nil
}

func newAdminFixture() (*AdminService, *catalogStub, *invalidations) {
	c := newCatalogStub()
	inv := &invalidations{}
	svc := &AdminService{
		plans: c,
		rules: ruleStub{c},
		inTx: func(ctx context.Context, fn func(PlanCatalog) error) error {
			return fn(c)
		},
		cache:  inv,
		logger: zap.NewNop(),
	}
	return svc, c, inv
}

func TestAdmin_CatalogChangesClearPlanCache(t *testing.T) {
	ctx := context.Background()
	svc, _, inv := newAdminFixture()

	if _, err := svc.NewVersion(ctx, proPlan.ID, &plan.CreatePlanRequest{Name: "Pro", Currency: "usd"}); err != nil {
		t.Fatal(err)
	}
	if inv.n != 1 {
		t.Fatalf("new version should clear the cache, %d invalidations", inv.n)
	}

	if err := svc.Deactivate(ctx, proPlan.ID); err != nil {
		t.Fatal(err)
	}
	if inv.n != 2 {
		t.Fatalf("deactivation should clear the cache, %d invalidations", inv.n)
	}

	rule, err := svc.CreateRule(ctx, &plan.RuleRequest{Name: "owners", Strategy: plan.StrategyWorkspaceOverrides})
	if err != nil {
		t.Fatal(err)
	}
	if inv.n != 3 {
		t.Fatalf("rule creation should clear the cache, %d invalidations", inv.n)
	}

	if _, err := svc.UpdateRule(ctx, rule.ID, &plan.RuleRequest{Name: "owners", Strategy: plan.StrategyHighestPlan}); err != nil {
		t.Fatal(err)
	}
	if inv.n != 4 {
		t.Fatalf("rule update should clear the cache, %d invalidations", inv.n)
	}
}

func TestAdmin_RejectedChangesKeepCache(t *testing.T) {
	ctx := context.Background()
	svc, _, inv := newAdminFixture()

	if err := svc.Deactivate(ctx, freePlan.ID); !errors.Is(err, xerrors.ErrInvalidState) {
		t.Errorf("default plan deactivation should be refused, got %v", err)
	}
	if _, err := svc.CreateRule(ctx, &plan.RuleRequest{Name: "x", Strategy: "coin_flip"}); !errors.Is(err, xerrors.ErrInvalidInput) {
		t.Errorf("unknown strategy should be invalid input, got %v", err)
	}
	if _, err := svc.NewVersion(ctx, 99, &plan.CreatePlanRequest{Name: "gone"}); !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("missing plan should be not found, got %v", err)
	}
	if inv.n != 0 {
		t.Errorf("failed changes must not clear the cache, %d invalidations", inv.n)
	}
}
