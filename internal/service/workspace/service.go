// internal/service/workspace/service.go
package workspace

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audiotricks-service/internal/domain/plan"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/service/quota"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const InvitationTTL = 7 * 24 * time.Hour

// Plans is the slice of the plan resolver the workspace API exposes.
type Plans interface {
	ResolveEffectivePlan(ctx context.Context, userID int64, workspaceID *int64) (*plan.EffectivePlan, error)
	WorkspaceLimits(ctx context.Context, workspaceID int64) (*plan.EffectivePlan, error)
	AssignPlanByWorkspaceOwner(ctx context.Context, ownerID, targetID, workspaceID, planID int64, reason string) (*plan.UserSubscription, error)
	ClearOwnerOverride(ctx context.Context, ownerID, targetID, workspaceID int64) error
	InvalidateWorkspaceMembers(ctx context.Context, members []*workspace.Membership)
}

type Usage interface {
	Usage(ctx context.Context, workspaceID int64) (*quota.Summary, error)
}

type Mailer interface {
	SendInvitation(to, workspaceName, inviterName, role, token string)
}

type WorkspaceService struct {
	store  Store
	plans  Plans
	usage  Usage
	mailer Mailer
	logger *zap.Logger
	now    func() time.Time
}

func NewWorkspaceService(store Store, plans Plans, usage Usage, mailer Mailer, logger *zap.Logger) *WorkspaceService {
	return &WorkspaceService{
		store:  store,
		plans:  plans,
		usage:  usage,
		mailer: mailer,
		logger: logger,
		now:    time.Now,
	}
}

// ========== Workspaces ==========

// CreateWorkspace creates a team workspace owned by the caller.
func (s *WorkspaceService) CreateWorkspace(ctx context.Context, userID int64, req *workspace.CreateWorkspaceRequest) (*workspace.WorkspaceView, error) {
	w := &workspace.Workspace{
		Name:    strings.TrimSpace(req.Name),
		Slug:    workspace.NewSlug(req.Name),
		Type:    req.Type,
		OwnerID: userID,
	}
	if w.Name == "" {
		return nil, fmt.Errorf("name is required: %w", xerrors.ErrInvalidInput)
	}

	err := s.store.InTx(ctx, func(tx Store) error {
		if err := tx.Create(ctx, w); err != nil {
			return err
		}
		return tx.AddMember(ctx, w.ID, userID, workspace.RoleOwner)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create workspace: %w", err)
	}

	s.logger.Info("workspace created",
		zap.Int64("workspace_id", w.ID),
		zap.Int64("owner_id", userID),
		zap.String("type", string(w.Type)))

	return &workspace.WorkspaceView{Workspace: *w, MyRole: workspace.RoleOwner}, nil
}

func (s *WorkspaceService) ListWorkspaces(ctx context.Context, userID int64) ([]*workspace.WorkspaceView, error) {
	views, err := s.store.ListForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	return views, nil
}

func (s *WorkspaceService) GetWorkspace(ctx context.Context, userID, workspaceID int64) (*workspace.WorkspaceView, error) {
	m, err := s.membership(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	w, err := s.store.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	return &workspace.WorkspaceView{Workspace: *w, MyRole: m.Role}, nil
}

func (s *WorkspaceService) UpdateWorkspace(ctx context.Context, userID, workspaceID int64, req *workspace.UpdateWorkspaceRequest) (*workspace.WorkspaceView, error) {
	if _, err := s.requireManager(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("name is required: %w", xerrors.ErrInvalidInput)
	}
	if err := s.store.UpdateName(ctx, workspaceID, name); err != nil {
		return nil, fmt.Errorf("failed to update workspace: %w", err)
	}
	return s.GetWorkspace(ctx, userID, workspaceID)
}

// ========== Members ==========

func (s *WorkspaceService) ListMembers(ctx context.Context, userID, workspaceID int64) ([]*workspace.Membership, error) {
	if _, err := s.membership(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	members, err := s.store.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	return members, nil
}

// ChangeRole updates a member's role. The owner's role is fixed and only the
// owner may grant or take away admin.
func (s *WorkspaceService) ChangeRole(ctx context.Context, actorID, workspaceID, targetID int64, role workspace.Role) error {
	actor, err := s.requireManager(ctx, workspaceID, actorID)
	if err != nil {
		return err
	}
	if role == workspace.RoleOwner {
		return fmt.Errorf("ownership cannot be assigned: %w", xerrors.ErrInvalidInput)
	}

	target, err := s.membership(ctx, workspaceID, targetID)
	if err != nil {
		return err
	}
	if target.Role == workspace.RoleOwner {
		return fmt.Errorf("the owner's role cannot be changed: %w", xerrors.ErrForbidden)
	}
	if actor.Role != workspace.RoleOwner && (target.Role == workspace.RoleAdmin || role == workspace.RoleAdmin) {
		return fmt.Errorf("only the owner can change admin roles: %w", xerrors.ErrForbidden)
	}
	if target.Role == role {
		return nil
	}

	if err := s.store.UpdateRole(ctx, workspaceID, targetID, role); err != nil {
		return fmt.Errorf("failed to change role: %w", err)
	}

	s.logger.Info("member role changed",
		zap.Int64("workspace_id", workspaceID),
		zap.Int64("user_id", targetID),
		zap.String("from", string(target.Role)),
		zap.String("to", string(role)),
		zap.Int64("by", actorID))

	// Role can select a different hierarchy rule.
	s.plans.InvalidateWorkspaceMembers(ctx, []*workspace.Membership{target})
	return nil
}

// RemoveMember removes someone from the workspace. Members may remove
// themselves; removing others needs owner or admin.
func (s *WorkspaceService) RemoveMember(ctx context.Context, actorID, workspaceID, targetID int64) error {
	target, err := s.membership(ctx, workspaceID, targetID)
	if actorID != targetID {
		actor, aerr := s.requireManager(ctx, workspaceID, actorID)
		if aerr != nil {
			return aerr
		}
		if err == nil && target.Role == workspace.RoleAdmin && actor.Role != workspace.RoleOwner {
			return fmt.Errorf("only the owner can remove an admin: %w", xerrors.ErrForbidden)
		}
	}
	if err != nil {
		return err
	}
	if target.Role == workspace.RoleOwner {
		return fmt.Errorf("the owner cannot leave or be removed: %w", xerrors.ErrForbidden)
	}

	if err := s.store.RemoveMember(ctx, workspaceID, targetID); err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}

	s.logger.Info("member removed",
		zap.Int64("workspace_id", workspaceID),
		zap.Int64("user_id", targetID),
		zap.Int64("by", actorID))

	s.plans.InvalidateWorkspaceMembers(ctx, []*workspace.Membership{target})
	return nil
}

// ========== Invitations ==========

// Invite creates a pending invitation and emails its token.
func (s *WorkspaceService) Invite(ctx context.Context, actorID, workspaceID int64, req *workspace.InviteRequest) (*workspace.Invitation, error) {
	if _, err := s.requireManager(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	if req.Role == workspace.RoleOwner {
		return nil, fmt.Errorf("cannot invite an owner: %w", xerrors.ErrInvalidInput)
	}

	w, err := s.store.FindByID(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to load workspace: %w", err)
	}
	if w.Type == workspace.TypePersonal {
		return nil, fmt.Errorf("personal workspaces cannot have members: %w", xerrors.ErrInvalidInput)
	}

	if err := s.checkSeats(ctx, workspaceID); err != nil {
		return nil, err
	}

	email := strings.ToLower(strings.TrimSpace(req.Email))
	members, err := s.store.ListMembers(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	for _, m := range members {
		if strings.EqualFold(m.Email, email) {
			return nil, fmt.Errorf("%s is already a member: %w", email, xerrors.ErrConflict)
		}
	}

	inv := &workspace.Invitation{
		WorkspaceID: workspaceID,
		Email:       email,
		Role:        req.Role,
		Token:       uuid.NewString(),
		InvitedBy:   actorID,
		ExpiresAt:   s.now().Add(InvitationTTL),
	}
	if err := s.store.CreateInvitation(ctx, inv); err != nil {
		return nil, err
	}

	inviterName := "A teammate"
	if inviter, err := s.store.UserByID(ctx, actorID); err == nil && inviter.FullName != "" {
		inviterName = inviter.FullName
	}
	if s.mailer != nil {
		s.mailer.SendInvitation(inv.Email, w.Name, inviterName, string(inv.Role), inv.Token)
	}

	s.logger.Info("invitation created",
		zap.Int64("workspace_id", workspaceID),
		zap.Int64("invitation_id", inv.ID),
		zap.String("role", string(inv.Role)))

	return inv, nil
}

func (s *WorkspaceService) ListInvitations(ctx context.Context, actorID, workspaceID int64) ([]*workspace.Invitation, error) {
	if _, err := s.requireManager(ctx, workspaceID, actorID); err != nil {
		return nil, err
	}
	invs, err := s.store.ListInvitations(ctx, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	return invs, nil
}

func (s *WorkspaceService) RevokeInvitation(ctx context.Context, actorID, workspaceID, invitationID int64) error {
	if _, err := s.requireManager(ctx, workspaceID, actorID); err != nil {
		return err
	}
	invs, err := s.store.ListInvitations(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to list invitations: %w", err)
	}
	found := false
	for _, inv := range invs {
		if inv.ID == invitationID {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("invitation %d: %w", invitationID, xerrors.ErrNotFound)
	}

	ok, err := s.store.TransitionInvitation(ctx, invitationID, workspace.InvitationRevoked)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("invitation is no longer pending: %w", xerrors.ErrInvalidState)
	}
	return nil
}

// AcceptInvitation joins the caller to the workspace when the token is valid
// and was issued to the caller's email.
func (s *WorkspaceService) AcceptInvitation(ctx context.Context, userID int64, email, token string) (*workspace.WorkspaceView, error) {
	inv, err := s.store.FindInvitationByToken(ctx, token)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("invitation: %w", xerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load invitation: %w", err)
	}
	if inv.Status != workspace.InvitationPending {
		return nil, fmt.Errorf("invitation is %s: %w", inv.Status, xerrors.ErrInvalidState)
	}
	if s.now().After(inv.ExpiresAt) {
		if _, err := s.store.TransitionInvitation(ctx, inv.ID, workspace.InvitationExpired); err != nil {
			s.logger.Warn("failed to expire invitation", zap.Int64("invitation_id", inv.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("invitation has expired: %w", xerrors.ErrInvalidState)
	}
	if !strings.EqualFold(strings.TrimSpace(email), inv.Email) {
		return nil, fmt.Errorf("invitation was sent to a different email: %w", xerrors.ErrForbidden)
	}
	if err := s.checkSeats(ctx, inv.WorkspaceID); err != nil {
		return nil, err
	}

	err = s.store.InTx(ctx, func(tx Store) error {
		ok, err := tx.TransitionInvitation(ctx, inv.ID, workspace.InvitationAccepted)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("invitation is no longer pending: %w", xerrors.ErrInvalidState)
		}
		return tx.AddMember(ctx, inv.WorkspaceID, userID, inv.Role)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("invitation accepted",
		zap.Int64("workspace_id", inv.WorkspaceID),
		zap.Int64("user_id", userID))

	s.plans.InvalidateWorkspaceMembers(ctx, []*workspace.Membership{{WorkspaceID: inv.WorkspaceID, UserID: userID}})
	return s.GetWorkspace(ctx, userID, inv.WorkspaceID)
}

// ========== Plans and usage ==========

// EffectivePlan resolves the caller's plan inside the workspace.
func (s *WorkspaceService) EffectivePlan(ctx context.Context, userID, workspaceID int64) (*plan.EffectivePlan, error) {
	if _, err := s.membership(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	return s.plans.ResolveEffectivePlan(ctx, userID, &workspaceID)
}

func (s *WorkspaceService) Usage(ctx context.Context, userID, workspaceID int64) (*quota.Summary, error) {
	if _, err := s.membership(ctx, workspaceID, userID); err != nil {
		return nil, err
	}
	return s.usage.Usage(ctx, workspaceID)
}

func (s *WorkspaceService) AssignMemberPlan(ctx context.Context, actorID, workspaceID, targetID, planID int64, reason string) (*plan.UserSubscription, error) {
	return s.plans.AssignPlanByWorkspaceOwner(ctx, actorID, targetID, workspaceID, planID, reason)
}

func (s *WorkspaceService) ClearMemberPlan(ctx context.Context, actorID, workspaceID, targetID int64) error {
	return s.plans.ClearOwnerOverride(ctx, actorID, targetID, workspaceID)
}

// ========== Helpers ==========

func (s *WorkspaceService) membership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	m, err := s.store.FindMembership(ctx, workspaceID, userID)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("workspace %d: %w", workspaceID, xerrors.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to check membership: %w", err)
	}
	return m, nil
}

func (s *WorkspaceService) requireManager(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	m, err := s.membership(ctx, workspaceID, userID)
	if err != nil {
		return nil, err
	}
	if !m.Role.CanManage() {
		return nil, fmt.Errorf("role %s cannot manage this workspace: %w", m.Role, xerrors.ErrForbidden)
	}
	return m, nil
}

// checkSeats enforces max_workspace_members of the workspace plan.
func (s *WorkspaceService) checkSeats(ctx context.Context, workspaceID int64) error {
	limits, err := s.plans.WorkspaceLimits(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to resolve workspace plan: %w", err)
	}
	seats := limits.Limits.MaxWorkspaceMembers
	if seats == plan.Unlimited {
		return nil
	}
	count, err := s.store.CountMembers(ctx, workspaceID)
	if err != nil {
		return fmt.Errorf("failed to count members: %w", err)
	}
	if count >= seats {
		return fmt.Errorf("workspace has reached its %d member limit: %w", seats, xerrors.ErrQuotaExceeded)
	}
	return nil
}
