// internal/domain/workspace/entity.go
package workspace

import "time"

type Type string

const (
	TypePersonal   Type = "personal"
	TypeTeam       Type = "team"
	TypeEnterprise Type = "enterprise"
)

type Role string

const (
	RoleOwner  Role = "owner"
	RoleAdmin  Role = "admin"
	RoleMember Role = "member"
	RoleViewer Role = "viewer"
)

// CanManage reports whether the role may administer members and plans.
func (r Role) CanManage() bool {
	return r == RoleOwner || r == RoleAdmin
}

type Workspace struct {
	ID               int64     `json:"id"`
	Name             string    `json:"name"`
	Slug             string    `json:"slug"`
	Type             Type      `json:"type"`
	OwnerID          int64     `json:"owner_id"`
	StripeCustomerID *string   `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

type Membership struct {
	WorkspaceID     int64      `json:"workspace_id"`
	UserID          int64      `json:"user_id"`
	Role            Role       `json:"role"`
	EffectivePlanID *int64     `json:"effective_plan_id,omitempty"`
	PlanOverride    bool       `json:"plan_override"`
	OverridePlanID  *int64     `json:"override_plan_id,omitempty"`
	OverrideReason  *string    `json:"override_reason,omitempty"`
	OverrideBy      *int64     `json:"override_by,omitempty"`
	OverrideAt      *time.Time `json:"override_at,omitempty"`
	JoinedAt        time.Time  `json:"joined_at"`

	// Joined from users for listings
	Email    string `json:"email,omitempty"`
	FullName string `json:"full_name,omitempty"`
}

type InvitationStatus string

const (
	InvitationPending  InvitationStatus = "pending"
	InvitationAccepted InvitationStatus = "accepted"
	InvitationRevoked  InvitationStatus = "revoked"
	InvitationExpired  InvitationStatus = "expired"
)

type Invitation struct {
	ID          int64            `json:"id"`
	WorkspaceID int64            `json:"workspace_id"`
	Email       string           `json:"email"`
	Role        Role             `json:"role"`
	Token       string           `json:"-"`
	Status      InvitationStatus `json:"status"`
	InvitedBy   int64            `json:"invited_by"`
	ExpiresAt   time.Time        `json:"expires_at"`
	AcceptedAt  *time.Time       `json:"accepted_at,omitempty"`
	CreatedAt   time.Time        `json:"created_at"`
}
