// internal/repository/postgres/workspace_repo.go
package postgres

import (
	"context"
	"fmt"

	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type WorkspaceRepository struct {
	db querier
}

func NewWorkspaceRepository(db *pgxpool.Pool) *WorkspaceRepository {
	return &WorkspaceRepository{db: db}
}

func (r *WorkspaceRepository) WithTx(tx pgx.Tx) *WorkspaceRepository {
	return &WorkspaceRepository{db: tx}
}

const workspaceColumns = `w.id, w.name, w.slug, w.type, w.owner_id, w.stripe_customer_id, w.created_at, w.updated_at`

func scanWorkspace(row pgx.Row, extra ...any) (*workspace.Workspace, error) {
	var w workspace.Workspace
	dest := append([]any{&w.ID, &w.Name, &w.Slug, &w.Type, &w.OwnerID, &w.StripeCustomerID, &w.CreatedAt, &w.UpdatedAt}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, notFound(err)
	}
	return &w, nil
}

// ========== Workspaces ==========

func (r *WorkspaceRepository) Create(ctx context.Context, w *workspace.Workspace) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO workspaces (name, slug, type, owner_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at
	`, w.Name, w.Slug, w.Type, w.OwnerID).Scan(&w.ID, &w.CreatedAt, &w.UpdatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("workspace slug %q taken: %w", w.Slug, xerrors.ErrDuplicateEntry)
	}
	if err != nil {
		return fmt.Errorf("failed to create workspace: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) FindByID(ctx context.Context, id int64) (*workspace.Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRow(ctx, `SELECT `+workspaceColumns+` FROM workspaces w WHERE w.id = $1`, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace: %w", err)
	}
	return w, nil
}

// FindPersonal returns the personal workspace created at registration.
func (r *WorkspaceRepository) FindPersonal(ctx context.Context, ownerID int64) (*workspace.Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces w WHERE w.owner_id = $1 AND w.type = 'personal'
		 ORDER BY w.id LIMIT 1`, ownerID))
	if err != nil {
		return nil, fmt.Errorf("failed to find personal workspace: %w", err)
	}
	return w, nil
}

func (r *WorkspaceRepository) FindByStripeCustomer(ctx context.Context, customerID string) (*workspace.Workspace, error) {
	w, err := scanWorkspace(r.db.QueryRow(ctx,
		`SELECT `+workspaceColumns+` FROM workspaces w WHERE w.stripe_customer_id = $1`, customerID))
	if err != nil {
		return nil, fmt.Errorf("failed to find workspace by customer: %w", err)
	}
	return w, nil
}

// ListForUser returns every workspace the user belongs to with their role.
func (r *WorkspaceRepository) ListForUser(ctx context.Context, userID int64) ([]*workspace.WorkspaceView, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+workspaceColumns+`, m.role
		FROM workspaces w
		JOIN workspace_members m ON m.workspace_id = w.id
		WHERE m.user_id = $1
		ORDER BY w.type = 'personal' DESC, w.created_at
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list workspaces: %w", err)
	}
	defer rows.Close()

	views := []*workspace.WorkspaceView{}
	for rows.Next() {
		var role workspace.Role
		w, err := scanWorkspace(rows, &role)
		if err != nil {
			return nil, fmt.Errorf("failed to scan workspace: %w", err)
		}
		views = append(views, &workspace.WorkspaceView{Workspace: *w, MyRole: role})
	}
	return views, rows.Err()
}

func (r *WorkspaceRepository) UpdateName(ctx context.Context, id int64, name string) error {
	tag, err := r.db.Exec(ctx, `UPDATE workspaces SET name = $2, updated_at = NOW() WHERE id = $1`, id, name)
	if err != nil {
		return fmt.Errorf("failed to update workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *WorkspaceRepository) SetStripeCustomer(ctx context.Context, id int64, customerID string) error {
	_, err := r.db.Exec(ctx, `UPDATE workspaces SET stripe_customer_id = $2, updated_at = NOW() WHERE id = $1`, id, customerID)
	if err != nil {
		return fmt.Errorf("failed to set stripe customer: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) Delete(ctx context.Context, id int64) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM workspaces WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete workspace: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// ========== Members ==========

const memberColumns = `m.workspace_id, m.user_id, m.role, m.effective_plan_id, m.plan_override, m.override_plan_id,
	m.override_reason, m.override_by, m.override_at, m.joined_at, u.email, u.full_name`

func scanMember(row pgx.Row) (*workspace.Membership, error) {
	var m workspace.Membership
	err := row.Scan(
		&m.WorkspaceID, &m.UserID, &m.Role, &m.EffectivePlanID, &m.PlanOverride, &m.OverridePlanID,
		&m.OverrideReason, &m.OverrideBy, &m.OverrideAt, &m.JoinedAt, &m.Email, &m.FullName,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &m, nil
}

func (r *WorkspaceRepository) AddMember(ctx context.Context, workspaceID, userID int64, role workspace.Role) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO workspace_members (workspace_id, user_id, role) VALUES ($1, $2, $3)
	`, workspaceID, userID, role)
	if isUniqueViolation(err) {
		return fmt.Errorf("user %d is already a member: %w", userID, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) FindMembership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error) {
	m, err := scanMember(r.db.QueryRow(ctx, `
		SELECT `+memberColumns+`
		FROM workspace_members m JOIN users u ON u.id = m.user_id
		WHERE m.workspace_id = $1 AND m.user_id = $2
	`, workspaceID, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

// ListMemberships returns every membership held by the user.
func (r *WorkspaceRepository) ListMemberships(ctx context.Context, userID int64) ([]*workspace.Membership, error) {
	return r.queryMembers(ctx, `WHERE m.user_id = $1 ORDER BY m.joined_at`, userID)
}

func (r *WorkspaceRepository) ListMembers(ctx context.Context, workspaceID int64) ([]*workspace.Membership, error) {
	return r.queryMembers(ctx, `WHERE m.workspace_id = $1 ORDER BY m.joined_at`, workspaceID)
}

func (r *WorkspaceRepository) queryMembers(ctx context.Context, where string, args ...any) ([]*workspace.Membership, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+memberColumns+`
		FROM workspace_members m JOIN users u ON u.id = m.user_id
		`+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	members := []*workspace.Membership{}
	for rows.Next() {
		m, err := scanMember(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (r *WorkspaceRepository) CountMembers(ctx context.Context, workspaceID int64) (int64, error) {
	var n int64
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM workspace_members WHERE workspace_id = $1`, workspaceID).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count members: %w", err)
	}
	return n, nil
}

func (r *WorkspaceRepository) UpdateRole(ctx context.Context, workspaceID, userID int64, role workspace.Role) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE workspace_members SET role = $3 WHERE workspace_id = $1 AND user_id = $2 AND role <> 'owner'
	`, workspaceID, userID, role)
	if err != nil {
		return fmt.Errorf("failed to update member role: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *WorkspaceRepository) RemoveMember(ctx context.Context, workspaceID, userID int64) error {
	tag, err := r.db.Exec(ctx, `
		DELETE FROM workspace_members WHERE workspace_id = $1 AND user_id = $2 AND role <> 'owner'
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// ========== Member plan overrides ==========

// SetOverride pins a plan on a member. Repeating the same assignment leaves the
// row unchanged apart from the reason and timestamp.
func (r *WorkspaceRepository) SetOverride(ctx context.Context, workspaceID, userID, planID, assignedBy int64, reason string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE workspace_members
		SET plan_override = TRUE, override_plan_id = $3, effective_plan_id = $3,
		    override_reason = NULLIF($4, ''), override_by = $5, override_at = NOW()
		WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID, planID, reason, assignedBy)
	if err != nil {
		return fmt.Errorf("failed to set plan override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

func (r *WorkspaceRepository) ClearOverride(ctx context.Context, workspaceID, userID int64) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE workspace_members
		SET plan_override = FALSE, override_plan_id = NULL, override_reason = NULL,
		    override_by = NULL, override_at = NULL
		WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID)
	if err != nil {
		return fmt.Errorf("failed to clear plan override: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return xerrors.ErrNotFound
	}
	return nil
}

// SetEffectivePlan caches the resolved plan id on the membership row.
func (r *WorkspaceRepository) SetEffectivePlan(ctx context.Context, workspaceID, userID int64, planID *int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE workspace_members SET effective_plan_id = $3 WHERE workspace_id = $1 AND user_id = $2
	`, workspaceID, userID, planID)
	if err != nil {
		return fmt.Errorf("failed to set effective plan: %w", err)
	}
	return nil
}

// ========== Invitations ==========

const invitationColumns = `id, workspace_id, email, role, token, status, invited_by, expires_at, accepted_at, created_at`

func scanInvitation(row pgx.Row) (*workspace.Invitation, error) {
	var inv workspace.Invitation
	err := row.Scan(&inv.ID, &inv.WorkspaceID, &inv.Email, &inv.Role, &inv.Token, &inv.Status,
		&inv.InvitedBy, &inv.ExpiresAt, &inv.AcceptedAt, &inv.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &inv, nil
}

func (r *WorkspaceRepository) CreateInvitation(ctx context.Context, inv *workspace.Invitation) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO workspace_invitations (workspace_id, email, role, token, invited_by, expires_at)
		VALUES ($1, LOWER($2), $3, $4, $5, $6)
		RETURNING id, status, created_at
	`, inv.WorkspaceID, inv.Email, inv.Role, inv.Token, inv.InvitedBy, inv.ExpiresAt,
	).Scan(&inv.ID, &inv.Status, &inv.CreatedAt)
	if isUniqueViolation(err) {
		return fmt.Errorf("invitation already pending for %s: %w", inv.Email, xerrors.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("failed to create invitation: %w", err)
	}
	return nil
}

func (r *WorkspaceRepository) FindInvitationByToken(ctx context.Context, token string) (*workspace.Invitation, error) {
	inv, err := scanInvitation(r.db.QueryRow(ctx,
		`SELECT `+invitationColumns+` FROM workspace_invitations WHERE token = $1`, token))
	if err != nil {
		return nil, fmt.Errorf("failed to find invitation: %w", err)
	}
	return inv, nil
}

func (r *WorkspaceRepository) ListInvitations(ctx context.Context, workspaceID int64) ([]*workspace.Invitation, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+invitationColumns+` FROM workspace_invitations WHERE workspace_id = $1 ORDER BY created_at DESC`, workspaceID)
	if err != nil {
		return nil, fmt.Errorf("failed to list invitations: %w", err)
	}
	defer rows.Close()

	invs := []*workspace.Invitation{}
	for rows.Next() {
		inv, err := scanInvitation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invitation: %w", err)
		}
		invs = append(invs, inv)
	}
	return invs, rows.Err()
}

// TransitionInvitation moves a pending invitation to status. Returns false if
// it was no longer pending.
func (r *WorkspaceRepository) TransitionInvitation(ctx context.Context, id int64, status workspace.InvitationStatus) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE workspace_invitations
		SET status = $2, accepted_at = CASE WHEN $2 = 'accepted' THEN NOW() ELSE accepted_at END
		WHERE id = $1 AND status = 'pending'
	`, id, status)
	if err != nil {
		return false, fmt.Errorf("failed to update invitation: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
