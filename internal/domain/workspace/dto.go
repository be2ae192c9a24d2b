// internal/domain/workspace/dto.go
package workspace

type CreateWorkspaceRequest struct {
	Name string `json:"name" binding:"required,max=255"`
	Type Type   `json:"type" binding:"required,oneof=team enterprise"`
}

type UpdateWorkspaceRequest struct {
	Name string `json:"name" binding:"required,max=255"`
}

type InviteRequest struct {
	Email string `json:"email" binding:"required,email"`
	Role  Role   `json:"role" binding:"required,oneof=admin member viewer"`
}

type ChangeRoleRequest struct {
	Role Role `json:"role" binding:"required,oneof=admin member viewer"`
}

// WorkspaceView is a workspace as seen by one of its members.
type WorkspaceView struct {
	Workspace
	MyRole Role `json:"my_role"`
}
