// internal/service/plan/store.go
package plan

import (
	"context"

	"audiotricks-service/internal/domain/audit"
	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/workspace"
	"audiotricks-service/internal/repository/postgres"

	"github.com/jackc/pgx/v5"
)

// Store is the persistence the resolver and assignments need. Lookups of a
// single missing row return xerrors.ErrNotFound.
type Store interface {
	PlanByID(ctx context.Context, id int64) (*plan.Plan, error)
	DefaultPlan(ctx context.Context) (*plan.Plan, error)
	ActiveRules(ctx context.Context) ([]*plan.HierarchyRule, error)

	ActiveUserSubscription(ctx context.Context, userID int64) (*plan.UserSubscription, error)
	ActiveWorkspaceSubscription(ctx context.Context, workspaceID int64) (*plan.WorkspaceSubscription, error)
	CancelUserSubscription(ctx context.Context, userID int64) error
	CreateUserSubscription(ctx context.Context, sub *plan.UserSubscription) error

	Workspace(ctx context.Context, id int64) (*workspace.Workspace, error)
	Membership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error)
	Memberships(ctx context.Context, userID int64) ([]*workspace.Membership, error)
	SetOverride(ctx context.Context, workspaceID, userID, planID, assignedBy int64, reason string) error
	ClearOverride(ctx context.Context, workspaceID, userID int64) error
	SetEffectivePlan(ctx context.Context, workspaceID, userID int64, planID *int64) error

	Audit(ctx context.Context, entry *audit.Log) error

	// InTx runs fn against a Store bound to one transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

type pgStore struct {
	db         *postgres.DB
	plans      *postgres.PlanRepository
	rules      *postgres.RuleRepository
	subs       *postgres.SubscriptionRepository
	workspaces *postgres.WorkspaceRepository
	audit      *postgres.AuditRepository
}

// NewPostgresStore builds a Store over the shared pool.
func NewPostgresStore(db *postgres.DB) Store {
	pool := db.Pool()
	return &pgStore{
		db:         db,
		plans:      postgres.NewPlanRepository(pool),
		rules:      postgres.NewRuleRepository(pool),
		subs:       postgres.NewSubscriptionRepository(pool),
		workspaces: postgres.NewWorkspaceRepository(pool),
		audit:      postgres.NewAuditRepository(pool),
	}
}

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgStore{
			db:         s.db,
			plans:      s.plans.WithTx(tx),
			rules:      s.rules.WithTx(tx),
			subs:       s.subs.WithTx(tx),
			workspaces: s.workspaces.WithTx(tx),
			audit:      s.audit.WithTx(tx),
		})
	})
}

func (s *pgStore) PlanByID(ctx context.Context, id int64) (*plan.Plan, error) {
	return s.plans.FindByID(ctx, id)
}

func (s *pgStore) DefaultPlan(ctx context.Context) (*plan.Plan, error) {
	return s.plans.FindDefault(ctx)
}

func (s *pgStore) ActiveRules(ctx context.Context) ([]*plan.HierarchyRule, error) {
	return s.rules.ListActive(ctx)
}

func (s *pgStore) ActiveUserSubscription(ctx context.Context, userID int64) (*plan.UserSubscription, error) {
	return s.subs.FindActiveByUser(ctx, userID)
}

func (s *pgStore) ActiveWorkspaceSubscription(ctx context.Context, workspaceID int64) (*plan.WorkspaceSubscription, error) {
	return s.subs.FindActiveByWorkspace(ctx, workspaceID)
}

func (s *pgStore) CancelUserSubscription(ctx context.Context, userID int64) error {
	return s.subs.CancelActiveUserSubscription(ctx, userID)
}

func (s *pgStore) CreateUserSubscription(ctx context.Context, sub *plan.UserSubscription) error {
	return s.subs.CreateUserSubscription(ctx, sub)
}

func (s *pgStore) Workspace(ctx context.Context, id int64) (*workspace.Workspace, error) {
	return s.workspaces.FindByID(ctx, id)
}

func (s *pgStore) Membership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	return s.workspaces.FindMembership(ctx, workspaceID, userID)
}

func (s *pgStore) Memberships(ctx context.Context, userID int64) ([]*workspace.Membership, error) {
	return s.workspaces.ListMemberships(ctx, userID)
}

func (s *pgStore) SetOverride(ctx context.Context, workspaceID, userID, planID, assignedBy int64, reason string) error {
	return s.workspaces.SetOverride(ctx, workspaceID, userID, planID, assignedBy, reason)
}

func (s *pgStore) ClearOverride(ctx context.Context, workspaceID, userID int64) error {
	return s.workspaces.ClearOverride(ctx, workspaceID, userID)
}

func (s *pgStore) SetEffectivePlan(ctx context.Context, workspaceID, userID int64, planID *int64) error {
	return s.workspaces.SetEffectivePlan(ctx, workspaceID, userID, planID)
}

func (s *pgStore) Audit(ctx context.Context, entry *audit.Log) error {
	return s.audit.Create(ctx, entry)
}
