// internal/service/plan/service.go
package plan

import (
	"context"
	"fmt"
	"strconv"

	"audiotricks-service/internal/domain/audit"
	"audiotricks-service/internal/domain/plan"
	wstypes "audiotricks-service/internal/domain/websocket"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"

	"go.uber.org/zap"
)

// Publisher pushes realtime events to a user's open connections.
type Publisher interface {
	PublishToUser(userID int64, event wstypes.EventType, data interface{})
}

type PlanService struct {
	store     Store
	cache     Cache
	publisher Publisher
	logger    *zap.Logger
}

// NewPlanService wires the resolver. cache and publisher may be nil.
func NewPlanService(store Store, cache Cache, publisher Publisher, logger *zap.Logger) *PlanService {
	return &PlanService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    logger,
	}
}

// ========== Resolution ==========

// ResolveEffectivePlan determines the plan that applies to userID, optionally
// inside workspaceID. It has no side effects besides filling the cache.
func (s *PlanService) ResolveEffectivePlan(ctx context.Context, userID int64, workspaceID *int64) (*plan.EffectivePlan, error) {
	if s.cache != nil {
		if ep, ok := s.cache.Get(ctx, userID, workspaceID); ok {
			return ep, nil
		}
	}

	in, err := s.gather(ctx, userID, workspaceID)
	if err != nil {
		return nil, err
	}

	rules, err := s.store.ActiveRules(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load hierarchy rules: %w", err)
	}

	free, err := s.store.DefaultPlan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load free default plan: %w", err)
	}

	ep, err := Resolve(in, rules, free)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.Set(ctx, userID, workspaceID, ep)
	}
	return ep, nil
}

func (s *PlanService) gather(ctx context.Context, userID int64, workspaceID *int64) (ResolutionInput, error) {
	in := ResolutionInput{UserID: userID, WorkspaceID: workspaceID}

	sub, err := s.store.ActiveUserSubscription(ctx, userID)
	switch {
	case err == nil:
		p, err := s.activePlan(ctx, sub.PlanID)
		if err != nil {
			return in, err
		}
		in.UserPlan = p
		in.UserSubType = sub.Type
	case !xerrors.Is(err, xerrors.ErrNotFound):
		return in, fmt.Errorf("failed to load user subscription: %w", err)
	}

	if workspaceID == nil {
		return in, nil
	}

	ws, err := s.store.Workspace(ctx, *workspaceID)
	if err != nil {
		return in, fmt.Errorf("failed to load workspace: %w", err)
	}
	in.WorkspaceType = string(ws.Type)

	member, err := s.store.Membership(ctx, *workspaceID, userID)
	switch {
	case err == nil:
		in.MemberRole = string(member.Role)
		if member.PlanOverride && member.OverridePlanID != nil {
			p, err := s.activePlan(ctx, *member.OverridePlanID)
			if err != nil {
				return in, err
			}
			in.OverridePlan = p
		}
	case !xerrors.Is(err, xerrors.ErrNotFound):
		return in, fmt.Errorf("failed to load membership: %w", err)
	}

	wsSub, err := s.store.ActiveWorkspaceSubscription(ctx, *workspaceID)
	switch {
	case err == nil:
		p, err := s.activePlan(ctx, wsSub.PlanID)
		if err != nil {
			return in, err
		}
		in.WorkspacePlan = p
	case !xerrors.Is(err, xerrors.ErrNotFound):
		return in, fmt.Errorf("failed to load workspace subscription: %w", err)
	}

	return in, nil
}

// activePlan loads a subscribed plan. Subscriptions keep pointing at the
// version they bought even after it is superseded, so status is not checked.
func (s *PlanService) activePlan(ctx context.Context, id int64) (*plan.Plan, error) {
	p, err := s.store.PlanByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load plan %d: %w", id, err)
	}
	return p, nil
}

// WorkspaceLimits resolves the limits quotas of a workspace are checked
// against: its own subscription, else its owner's effective plan there.
func (s *PlanService) WorkspaceLimits(ctx context.Context, workspaceID int64) (*plan.EffectivePlan, error) {
	ws, err := s.store.Workspace(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	return s.ResolveEffectivePlan(ctx, ws.OwnerID, &workspaceID)
}

// ========== Assignment ==========

// AssignPersonalPlan switches the user's personal subscription to planID.
// Assigning the plan the user already holds is a no-op.
func (s *PlanService) AssignPersonalPlan(ctx context.Context, actorID *int64, userID, planID int64) (*plan.UserSubscription, error) {
	var result *plan.UserSubscription

	err := s.store.InTx(ctx, func(tx Store) error {
		p, err := tx.PlanByID(ctx, planID)
		if err != nil {
			return err
		}
		if !p.IsActive() {
			return fmt.Errorf("plan %s is not active: %w", p.Code, xerrors.ErrNotFound)
		}

		current, err := tx.ActiveUserSubscription(ctx, userID)
		if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
			return err
		}
		if current != nil && current.PlanID == planID && current.Type == plan.SubscriptionPersonal {
			result = current
			return nil
		}

		if err := tx.CancelUserSubscription(ctx, userID); err != nil {
			return err
		}

		sub := &plan.UserSubscription{
			UserID:     userID,
			PlanID:     planID,
			Status:     plan.SubscriptionActive,
			Type:       plan.SubscriptionPersonal,
			AssignedBy: actorID,
		}
		if err := tx.CreateUserSubscription(ctx, sub); err != nil {
			return err
		}

		memberships, err := tx.Memberships(ctx, userID)
		if err != nil {
			return err
		}
		for _, m := range memberships {
			if m.PlanOverride {
				continue
			}
			if err := tx.SetEffectivePlan(ctx, m.WorkspaceID, userID, &planID); err != nil {
				return err
			}
		}

		result = sub
		return tx.Audit(ctx, &audit.Log{
			ActorID:    actorID,
			Action:     "plan.assign_personal",
			EntityType: "user",
			EntityID:   strconv.FormatInt(userID, 10),
			Details:    map[string]interface{}{"plan_id": planID, "plan_code": p.Code},
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, userID, "personal plan assigned")
	return result, nil
}

// AssignPlanByWorkspaceOwner lets a workspace owner or admin pin a plan on a
// member. The assignment persists until cleared or reassigned.
func (s *PlanService) AssignPlanByWorkspaceOwner(ctx context.Context, ownerID, targetID, workspaceID, planID int64, reason string) (*plan.UserSubscription, error) {
	var result *plan.UserSubscription

	err := s.store.InTx(ctx, func(tx Store) error {
		if err := requireManager(ctx, tx, workspaceID, ownerID); err != nil {
			return err
		}

		if _, err := tx.Membership(ctx, workspaceID, targetID); err != nil {
			if xerrors.Is(err, xerrors.ErrNotFound) {
				return fmt.Errorf("user %d is not a member of workspace %d: %w", targetID, workspaceID, xerrors.ErrNotFound)
			}
			return err
		}

		p, err := tx.PlanByID(ctx, planID)
		if err != nil {
			return err
		}
		if !p.IsActive() {
			return fmt.Errorf("plan %s is not active: %w", p.Code, xerrors.ErrNotFound)
		}

		if err := tx.CancelUserSubscription(ctx, targetID); err != nil {
			return err
		}

		sub := &plan.UserSubscription{
			UserID:      targetID,
			PlanID:      planID,
			WorkspaceID: &workspaceID,
			Status:      plan.SubscriptionActive,
			Type:        plan.SubscriptionAssigned,
			AssignedBy:  &ownerID,
		}
		if reason != "" {
			sub.Reason = &reason
		}
		if err := tx.CreateUserSubscription(ctx, sub); err != nil {
			return err
		}

		if err := tx.SetOverride(ctx, workspaceID, targetID, planID, ownerID, reason); err != nil {
			return err
		}

		result = sub
		return tx.Audit(ctx, &audit.Log{
			ActorID:    &ownerID,
			Action:     "plan.assign_member",
			EntityType: "workspace_member",
			EntityID:   fmt.Sprintf("%d:%d", workspaceID, targetID),
			Details:    map[string]interface{}{"plan_id": planID, "plan_code": p.Code, "reason": reason},
		})
	})
	if err != nil {
		return nil, err
	}

	s.afterChange(ctx, targetID, "plan assigned by workspace owner")
	return result, nil
}

// ClearOwnerOverride removes an owner assignment; the member falls back to
// whatever the hierarchy rules resolve without it.
func (s *PlanService) ClearOwnerOverride(ctx context.Context, ownerID, targetID, workspaceID int64) error {
	err := s.store.InTx(ctx, func(tx Store) error {
		if err := requireManager(ctx, tx, workspaceID, ownerID); err != nil {
			return err
		}

		member, err := tx.Membership(ctx, workspaceID, targetID)
		if err != nil {
			return err
		}
		if !member.PlanOverride {
			return nil
		}

		if err := tx.ClearOverride(ctx, workspaceID, targetID); err != nil {
			return err
		}

		sub, err := tx.ActiveUserSubscription(ctx, targetID)
		if err != nil && !xerrors.Is(err, xerrors.ErrNotFound) {
			return err
		}
		if sub != nil && sub.Type == plan.SubscriptionAssigned && sub.WorkspaceID != nil && *sub.WorkspaceID == workspaceID {
			if err := tx.CancelUserSubscription(ctx, targetID); err != nil {
				return err
			}
		}

		return tx.Audit(ctx, &audit.Log{
			ActorID:    &ownerID,
			Action:     "plan.clear_override",
			EntityType: "workspace_member",
			EntityID:   fmt.Sprintf("%d:%d", workspaceID, targetID),
		})
	})
	if err != nil {
		return err
	}

	s.afterChange(ctx, targetID, "workspace plan override cleared")
	return nil
}

func requireManager(ctx context.Context, tx Store, workspaceID, userID int64) error {
	m, err := tx.Membership(ctx, workspaceID, userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return fmt.Errorf("not a member of workspace %d: %w", workspaceID, xerrors.ErrForbidden)
		}
		return err
	}
	if !m.Role.CanManage() {
		return fmt.Errorf("role %s cannot assign plans: %w", m.Role, xerrors.ErrForbidden)
	}
	return nil
}

// InvalidateWorkspaceMembers drops cached plans after a workspace-level change.
func (s *PlanService) InvalidateWorkspaceMembers(ctx context.Context, members []*workspace.Membership) {
	ids := make([]int64, 0, len(members))
	for _, m := range members {
		ids = append(ids, m.UserID)
		if s.publisher != nil {
			s.publisher.PublishToUser(m.UserID, wstypes.EventTypePlanChanged, map[string]interface{}{
				"workspace_id": m.WorkspaceID,
				"reason":       "workspace subscription changed",
			})
		}
	}
	InvalidateWorkspace(ctx, s.cache, ids)
}

func (s *PlanService) afterChange(ctx context.Context, userID int64, reason string) {
	if s.cache != nil {
		if err := s.cache.InvalidateUser(ctx, userID); err != nil {
			s.logger.Warn("failed to invalidate plan cache", zap.Int64("user_id", userID), zap.Error(err))
		}
	}
	if s.publisher != nil {
		s.publisher.PublishToUser(userID, wstypes.EventTypePlanChanged, map[string]interface{}{"reason": reason})
	}
	s.logger.Info("plan changed", zap.Int64("user_id", userID), zap.String("reason", reason))
}
