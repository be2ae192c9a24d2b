// internal/domain/auth/dto.go
package auth

import (
	"time"

	"audiotricks-service/internal/domain/plan"
)

// RegisterRequest for user registration
type RegisterRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required,min=8"`
	FullName  string `json:"full_name" binding:"required,max=255"`
	Device    string `json:"device"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginRequest for user login
type LoginRequest struct {
	Email     string `json:"email" binding:"required,email"`
	Password  string `json:"password" binding:"required"`
	Device    string `json:"device"`
	IPAddress string `json:"-"`
	UserAgent string `json:"-"`
}

// LoginResponse successful login response
type LoginResponse struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresIn   int       `json:"expires_in"`
	ExpiresAt   time.Time `json:"expires_at"`
	User        UserInfo  `json:"user"`
}

// UserInfo minimal user information
type UserInfo struct {
	ID                  int64    `json:"id"`
	Email               string   `json:"email"`
	FullName            string   `json:"full_name"`
	Roles               []string `json:"roles"`
	PersonalWorkspaceID int64    `json:"personal_workspace_id,omitempty"`
}

type UserListFilters struct {
	Search string `form:"search"`
	Role   string `form:"role"`
	Page   int    `form:"page,default=1" binding:"min=1"`
	Limit  int    `form:"limit,default=20" binding:"min=1,max=100"`
}

// MeResponse is the caller's profile with their personal plan.
type MeResponse struct {
	User UserInfo            `json:"user"`
	Plan *plan.EffectivePlan `json:"plan,omitempty"`
}
