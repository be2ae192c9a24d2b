package plan

import (
	"context"
	"errors"
	"testing"

	"audiotricks-service/internal/domain/audit"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// fakeStore keeps everything in memory. InTx runs fn on a copy and only
// commits it when fn succeeds.
type fakeStore struct {
	plans      map[int64]*plan.Plan
	rules      []*plan.HierarchyRule
	userSubs   []*plan.UserSubscription
	wsSubs     map[int64]*plan.WorkspaceSubscription
	workspaces map[int64]*workspace.Workspace
	members    map[[2]int64]*workspace.Membership
	audits     []*audit.Log
	nextSubID  int64
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		plans:      map[int64]*plan.Plan{freePlan.ID: freePlan, proPlan.ID: proPlan, teamPlan.ID: teamPlan},
		wsSubs:     map[int64]*plan.WorkspaceSubscription{},
		workspaces: map[int64]*workspace.Workspace{},
		members:    map[[2]int64]*workspace.Membership{},
	}
}

func (f *fakeStore) clone() *fakeStore {
	c := *f
	c.userSubs = make([]*plan.UserSubscription, len(f.userSubs))
	for i, s := range f.userSubs {
		cp := *s
		c.userSubs[i] = &cp
	}
	c.members = map[[2]int64]*workspace.Membership{}
	for k, m := range f.members {
		cp := *m
		c.members[k] = &cp
	}
	c.audits = append([]*audit.Log(nil), f.audits...)
	return &c
}

func (f *fakeStore) InTx(ctx context.Context, fn func(Store) error) error {
	tx := f.clone()
	if err := fn(tx); err != nil {
		return err
	}
	*f = *tx
	return nil
}

func (f *fakeStore) PlanByID(_ context.Context, id int64) (*plan.Plan, error) {
	if p, ok := f.plans[id]; ok {
		return p, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeStore) DefaultPlan(context.Context) (*plan.Plan, error) { return freePlan, nil }

func (f *fakeStore) ActiveRules(context.Context) ([]*plan.HierarchyRule, error) { return f.rules, nil }

func (f *fakeStore) ActiveUserSubscription(_ context.Context, userID int64) (*plan.UserSubscription, error) {
	for _, s := range f.userSubs {
		if s.UserID == userID && s.Status == plan.SubscriptionActive {
			return s, nil
		}
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeStore) ActiveWorkspaceSubscription(_ context.Context, id int64) (*plan.WorkspaceSubscription, error) {
	if s, ok := f.wsSubs[id]; ok {
		return s, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeStore) CancelUserSubscription(_ context.Context, userID int64) error {
	for _, s := range f.userSubs {
		if s.UserID == userID && s.Status == plan.SubscriptionActive {
			s.Status = plan.SubscriptionCancelled
		}
	}
	return nil
}

func (f *fakeStore) CreateUserSubscription(_ context.Context, sub *plan.UserSubscription) error {
	for _, s := range f.userSubs {
		if s.UserID == sub.UserID && s.Status == plan.SubscriptionActive {
			return xerrors.ErrConflict
		}
	}
	f.nextSubID++
	sub.ID = f.nextSubID
	f.userSubs = append(f.userSubs, sub)
	return nil
}

func (f *fakeStore) Workspace(_ context.Context, id int64) (*workspace.Workspace, error) {
	if w, ok := f.workspaces[id]; ok {
		return w, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeStore) Membership(_ context.Context, wsID, userID int64) (*workspace.Membership, error) {
	if m, ok := f.members[[2]int64{wsID, userID}]; ok {
		return m, nil
	}
	return nil, xerrors.ErrNotFound
}

func (f *fakeStore) Memberships(_ context.Context, userID int64) ([]*workspace.Membership, error) {
	var out []*workspace.Membership
	for _, m := range f.members {
		if m.UserID == userID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (f *fakeStore) SetOverride(_ context.Context, wsID, userID, planID, by int64, reason string) error {
	m, ok := f.members[[2]int64{wsID, userID}]
	if !ok {
		return xerrors.ErrNotFound
	}
	m.PlanOverride = true
	m.OverridePlanID = &planID
	m.EffectivePlanID = &planID
	m.OverrideBy = &by
	m.OverrideReason = &reason
	return nil
}

func (f *fakeStore) ClearOverride(_ context.Context, wsID, userID int64) error {
	m, ok := f.members[[2]int64{wsID, userID}]
	if !ok {
		return xerrors.ErrNotFound
	}
	m.PlanOverride = false
	m.OverridePlanID = nil
	m.OverrideReason = nil
	m.OverrideBy = nil
	return nil
}

func (f *fakeStore) SetEffectivePlan(_ context.Context, wsID, userID int64, planID *int64) error {
	if m, ok := f.members[[2]int64{wsID, userID}]; ok {
		m.EffectivePlanID = planID
	}
	return nil
}

func (f *fakeStore) Audit(_ context.Context, entry *audit.Log) error {
	f.audits = append(f.audits, entry)
	return nil
}

func (f *fakeStore) addMember(wsID, userID int64, role workspace.Role) {
	f.members[[2]int64{wsID, userID}] = &workspace.Membership{WorkspaceID: wsID, UserID: userID, Role: role}
}

func (f *fakeStore) activeCount(userID int64) int {
	n := 0
	for _, s := range f.userSubs {
		if s.UserID == userID && s.Status == plan.SubscriptionActive {
			n++
		}
	}
	return n
}

func newTestService(store *fakeStore) *PlanService {
	return NewPlanService(store, nil, nil, zap.NewNop())
}

func TestAssignPersonalPlan_Idempotent(t *testing.T) {
	store := newFakeStore()
	store.workspaces[1] = &workspace.Workspace{ID: 1, Type: workspace.TypePersonal, OwnerID: 7}
	store.addMember(1, 7, workspace.RoleOwner)
	svc := newTestService(store)
	ctx := context.Background()

	first, err := svc.AssignPersonalPlan(ctx, nil, 7, proPlan.ID)
	if err != nil {
		t.Fatalf("first assignment failed: %v", err)
	}
	second, err := svc.AssignPersonalPlan(ctx, nil, 7, proPlan.ID)
	if err != nil {
		t.Fatalf("second assignment failed: %v", err)
	}

	if got := store.activeCount(7); got != 1 {
		t.Errorf("expected exactly one active subscription, got %d", got)
	}
	if first.ID != second.ID {
		t.Errorf("expected the same subscription back, got %d and %d", first.ID, second.ID)
	}

	m := store.members[[2]int64{1, 7}]
	if m.EffectivePlanID == nil || *m.EffectivePlanID != proPlan.ID {
		t.Errorf("expected membership snapshot refreshed to pro")
	}
}

func TestAssignPersonalPlan_SwitchCancelsPrevious(t *testing.T) {
	store := newFakeStore()
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.AssignPersonalPlan(ctx, nil, 7, proPlan.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.AssignPersonalPlan(ctx, nil, 7, teamPlan.ID); err != nil {
		t.Fatal(err)
	}

	if got := store.activeCount(7); got != 1 {
		t.Errorf("expected one active subscription, got %d", got)
	}
	sub, _ := store.ActiveUserSubscription(ctx, 7)
	if sub.PlanID != teamPlan.ID {
		t.Errorf("expected team plan active, got %d", sub.PlanID)
	}
}

func TestAssignPersonalPlan_InactivePlanRejected(t *testing.T) {
	store := newFakeStore()
	retired := testPlan(20, "old", plan.CategoryPersonal, 10)
	retired.Status = plan.StatusInactive
	store.plans[retired.ID] = retired
	svc := newTestService(store)

	_, err := svc.AssignPersonalPlan(context.Background(), nil, 7, retired.ID)
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if len(store.userSubs) != 0 {
		t.Errorf("nothing should be written on failure")
	}
}

func TestAssignPlanByWorkspaceOwner_Permissions(t *testing.T) {
	store := newFakeStore()
	store.workspaces[3] = &workspace.Workspace{ID: 3, Type: workspace.TypeTeam, OwnerID: 1}
	store.addMember(3, 1, workspace.RoleOwner)
	store.addMember(3, 2, workspace.RoleMember)
	store.addMember(3, 5, workspace.RoleAdmin)
	svc := newTestService(store)
	ctx := context.Background()

	_, err := svc.AssignPlanByWorkspaceOwner(ctx, 2, 5, 3, teamPlan.ID, "")
	if !errors.Is(err, xerrors.ErrForbidden) {
		t.Errorf("member assigning should be forbidden, got %v", err)
	}

	_, err = svc.AssignPlanByWorkspaceOwner(ctx, 99, 2, 3, teamPlan.ID, "")
	if !errors.Is(err, xerrors.ErrForbidden) {
		t.Errorf("non-member assigning should be forbidden, got %v", err)
	}

	_, err = svc.AssignPlanByWorkspaceOwner(ctx, 1, 42, 3, teamPlan.ID, "")
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("unknown target should be not found, got %v", err)
	}

	_, err = svc.AssignPlanByWorkspaceOwner(ctx, 1, 2, 3, 404, "")
	if !errors.Is(err, xerrors.ErrNotFound) {
		t.Errorf("unknown plan should be not found, got %v", err)
	}
}

func TestAssignPlanByWorkspaceOwner_StampsOverride(t *testing.T) {
	store := newFakeStore()
	store.workspaces[3] = &workspace.Workspace{ID: 3, Type: workspace.TypeTeam, OwnerID: 1}
	store.addMember(3, 1, workspace.RoleOwner)
	store.addMember(3, 2, workspace.RoleMember)
	store.rules = []*plan.HierarchyRule{
		{ID: 1, Name: "team-owner", Strategy: plan.StrategyWorkspaceOverrides, WorkspaceTypes: []string{"team"}, IsActive: true},
	}
	svc := newTestService(store)
	ctx := context.Background()

	if _, err := svc.AssignPersonalPlan(ctx, nil, 2, proPlan.ID); err != nil {
		t.Fatal(err)
	}

	sub, err := svc.AssignPlanByWorkspaceOwner(ctx, 1, 2, 3, teamPlan.ID, "project lead")
	if err != nil {
		t.Fatalf("assignment failed: %v", err)
	}
	if sub.Type != plan.SubscriptionAssigned || sub.AssignedBy == nil || *sub.AssignedBy != 1 {
		t.Errorf("expected assigned subscription by owner, got %+v", sub)
	}
	if got := store.activeCount(2); got != 1 {
		t.Errorf("expected prior subscription cancelled, %d active", got)
	}

	m := store.members[[2]int64{3, 2}]
	if !m.PlanOverride || m.OverrideReason == nil || *m.OverrideReason != "project lead" {
		t.Errorf("expected override stamp with reason, got %+v", m)
	}

	ep, err := svc.ResolveEffectivePlan(ctx, 2, wsID(3))
	if err != nil {
		t.Fatal(err)
	}
	if ep.Source != plan.SourceOwnerOverride || ep.PlanID != teamPlan.ID {
		t.Errorf("expected owner override on team plan, got %s/%s", ep.Source, ep.PlanCode)
	}

	if err := svc.ClearOwnerOverride(ctx, 1, 2, 3); err != nil {
		t.Fatalf("clear failed: %v", err)
	}
	if store.members[[2]int64{3, 2}].PlanOverride {
		t.Errorf("override should be cleared")
	}
	if got := store.activeCount(2); got != 0 {
		t.Errorf("assigned subscription should be cancelled, %d active", got)
	}
	ep, _ = svc.ResolveEffectivePlan(ctx, 2, wsID(3))
	if ep.Source != plan.SourceFreeDefault {
		t.Errorf("expected free default after clearing, got %s", ep.Source)
	}
}

func TestWorkspaceLimits_UsesWorkspaceSubscription(t *testing.T) {
	store := newFakeStore()
	store.workspaces[3] = &workspace.Workspace{ID: 3, Type: workspace.TypeTeam, OwnerID: 1}
	store.addMember(3, 1, workspace.RoleOwner)
	store.wsSubs[3] = &plan.WorkspaceSubscription{ID: 1, WorkspaceID: 3, PlanID: teamPlan.ID, Status: plan.SubscriptionActive}
	svc := newTestService(store)

	ep, err := svc.WorkspaceLimits(context.Background(), 3)
	if err != nil {
		t.Fatal(err)
	}
	if ep.PlanID != teamPlan.ID || ep.Source != plan.SourceWorkspaceSubscription {
		t.Errorf("expected workspace team plan, got %s/%s", ep.Source, ep.PlanCode)
	}
}
