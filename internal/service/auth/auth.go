// internal/service/auth/auth.go
package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/plan"
	wstypes "audiotricks-service/internal/domain/websocket"
	"audiotricks-service/internal/domain/workspace"
	xerrors "audiotricks-service/internal/pkg/errors"
	"audiotricks-service/internal/pkg/session"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

const (
	MaxFailedLogins = 5
	LockDuration    = 15 * time.Minute
)

// ========== Dependencies ==========

type TokenIssuer interface {
	GenerateAccessToken(userID int64, email string, roles []string, device string) (string, string, error)
}

type Sessions interface {
	CreateSession(ctx context.Context, s *session.SessionData) error
	InvalidateSession(ctx context.Context, userID int64, jti string, expiresAt time.Time) error
}

type LoginLimiter interface {
	CheckLoginAttempt(ctx context.Context, ip, email string) (bool, int64, error)
	ResetLoginAttempts(ctx context.Context, ip, email string) error
}

type Plans interface {
	ResolveEffectivePlan(ctx context.Context, userID int64, workspaceID *int64) (*plan.EffectivePlan, error)
}

type Mailer interface {
	SendWelcome(to, fullName string)
}

type Publisher interface {
	PublishToUser(userID int64, event wstypes.EventType, data interface{})
}

// ========== Service ==========

type AuthService struct {
	store     Store
	tokens    TokenIssuer
	tokenTTL  time.Duration
	sessions  Sessions
	limiter   LoginLimiter
	plans     Plans
	mailer    Mailer
	publisher Publisher
	logger    *zap.Logger
	now       func() time.Time
}

func NewAuthService(
	store Store,
	tokens TokenIssuer,
	tokenTTL time.Duration,
	sessions Sessions,
	limiter LoginLimiter,
	plans Plans,
	mailer Mailer,
	publisher Publisher,
	logger *zap.Logger,
) *AuthService {
	return &AuthService{
		store:     store,
		tokens:    tokens,
		tokenTTL:  tokenTTL,
		sessions:  sessions,
		limiter:   limiter,
		plans:     plans,
		mailer:    mailer,
		publisher: publisher,
		logger:    logger,
		now:       time.Now,
	}
}

// ========== Registration ==========

// Register creates the account and its personal workspace in one transaction,
// then logs the user in.
func (s *AuthService) Register(ctx context.Context, req *auth.RegisterRequest) (*auth.LoginResponse, error) {
	email := normalizeEmail(req.Email)

	exists, err := s.store.ExistsByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("email already registered: %w", xerrors.ErrDuplicateEntry)
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &auth.User{
		Email:        email,
		PasswordHash: string(hashedPassword),
		FullName:     strings.TrimSpace(req.FullName),
		Role:         auth.RoleUser,
		Status:       auth.UserStatusActive,
	}
	var personal *workspace.Workspace

	err = s.store.InTx(ctx, func(tx Store) error {
		if err := tx.CreateUser(ctx, user); err != nil {
			return err
		}
		personal = &workspace.Workspace{
			Name:    user.FullName + "'s workspace",
			Slug:    workspace.NewSlug(user.FullName),
			Type:    workspace.TypePersonal,
			OwnerID: user.ID,
		}
		if err := tx.CreateWorkspace(ctx, personal); err != nil {
			return err
		}
		return tx.AddMember(ctx, personal.ID, user.ID, workspace.RoleOwner)
	})
	if err != nil {
		if xerrors.Is(err, xerrors.ErrDuplicateEntry) {
			return nil, fmt.Errorf("email already registered: %w", xerrors.ErrDuplicateEntry)
		}
		return nil, fmt.Errorf("failed to register user: %w", err)
	}

	s.logger.Info("user registered",
		zap.Int64("user_id", user.ID),
		zap.Int64("workspace_id", personal.ID))

	if s.mailer != nil {
		s.mailer.SendWelcome(user.Email, user.FullName)
	}

	return s.issue(ctx, user, personal.ID, req.Device, req.IPAddress, req.UserAgent)
}

// ========== Login ==========

// Login checks the per IP+email rate limit, the account lock and the password.
func (s *AuthService) Login(ctx context.Context, req *auth.LoginRequest) (*auth.LoginResponse, error) {
	email := normalizeEmail(req.Email)

	allowed, _, err := s.limiter.CheckLoginAttempt(ctx, req.IPAddress, email)
	if err != nil {
		// Redis outage should not lock everyone out.
		s.logger.Warn("login rate limiter unavailable", zap.Error(err))
		allowed = true
	}
	if !allowed {
		return nil, fmt.Errorf("too many login attempts, please try again in 15 minutes: %w", xerrors.ErrRateLimited)
	}

	user, err := s.store.FindByEmail(ctx, email)
	if err != nil {
		if xerrors.Is(err, xerrors.ErrNotFound) {
			return nil, fmt.Errorf("invalid credentials: %w", xerrors.ErrUnauthorized)
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if user.Status == auth.UserStatusSuspended {
		return nil, fmt.Errorf("account is suspended: %w", xerrors.ErrForbidden)
	}
	if user.LockedUntil != nil && user.LockedUntil.After(s.now()) {
		return nil, fmt.Errorf("account is locked until %s: %w", user.LockedUntil.Format(time.RFC3339), xerrors.ErrForbidden)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		if err := s.store.RecordFailedLogin(ctx, user.ID, MaxFailedLogins, LockDuration); err != nil {
			s.logger.Error("failed to record failed login", zap.Int64("user_id", user.ID), zap.Error(err))
		}
		return nil, fmt.Errorf("invalid credentials: %w", xerrors.ErrUnauthorized)
	}

	if err := s.store.RecordLogin(ctx, user.ID); err != nil {
		s.logger.Error("failed to update last login", zap.Error(err))
	}
	if err := s.limiter.ResetLoginAttempts(ctx, req.IPAddress, email); err != nil {
		s.logger.Warn("failed to reset login attempts", zap.Error(err))
	}

	var personalID int64
	if ws, err := s.store.FindPersonal(ctx, user.ID); err == nil {
		personalID = ws.ID
	}

	return s.issue(ctx, user, personalID, req.Device, req.IPAddress, req.UserAgent)
}

// issue signs an access token and opens its session.
func (s *AuthService) issue(ctx context.Context, user *auth.User, personalID int64, device, ipAddress, userAgent string) (*auth.LoginResponse, error) {
	roles := user.Roles()

	accessToken, jti, err := s.tokens.GenerateAccessToken(user.ID, user.Email, roles, device)
	if err != nil {
		return nil, fmt.Errorf("failed to generate access token: %w", err)
	}

	now := s.now()
	expiresAt := now.Add(s.tokenTTL)

	sessionData := &session.SessionData{
		JTI:            jti,
		UserID:         user.ID,
		Email:          user.Email,
		Roles:          roles,
		Device:         device,
		IPAddress:      ipAddress,
		UserAgent:      userAgent,
		LoginAt:        now,
		LastActivityAt: now,
		ExpiresAt:      expiresAt,
	}
	if err := s.sessions.CreateSession(ctx, sessionData); err != nil {
		return nil, fmt.Errorf("failed to create session: %w", err)
	}

	return &auth.LoginResponse{
		AccessToken: accessToken,
		TokenType:   "Bearer",
		ExpiresIn:   int(s.tokenTTL.Seconds()),
		ExpiresAt:   expiresAt,
		User: auth.UserInfo{
			ID:                  user.ID,
			Email:               user.Email,
			FullName:            user.FullName,
			Roles:               roles,
			PersonalWorkspaceID: personalID,
		},
	}, nil
}

// ========== Profile ==========

// Me returns the caller with their personal effective plan.
func (s *AuthService) Me(ctx context.Context, userID int64) (*auth.MeResponse, error) {
	user, err := s.store.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	info := auth.UserInfo{
		ID:       user.ID,
		Email:    user.Email,
		FullName: user.FullName,
		Roles:    user.Roles(),
	}
	if ws, err := s.store.FindPersonal(ctx, user.ID); err == nil {
		info.PersonalWorkspaceID = ws.ID
	}

	ep, err := s.plans.ResolveEffectivePlan(ctx, user.ID, nil)
	if err != nil {
		s.logger.Warn("failed to resolve personal plan", zap.Int64("user_id", userID), zap.Error(err))
	}
	return &auth.MeResponse{User: info, Plan: ep}, nil
}

// ========== Logout ==========

// Logout revokes the session and blacklists the token's jti.
func (s *AuthService) Logout(ctx context.Context, userID int64, jti string, expiresAt time.Time) error {
	if err := s.sessions.InvalidateSession(ctx, userID, jti, expiresAt); err != nil {
		return fmt.Errorf("failed to invalidate session: %w", err)
	}

	if s.publisher != nil {
		s.publisher.PublishToUser(userID, wstypes.EventTypeForceLogout, wstypes.SessionEventData{
			SessionID: jti,
			Reason:    "User logged out",
		})
	}

	s.logger.Info("user logged out", zap.Int64("user_id", userID))
	return nil
}

// ========== Bootstrap ==========

// EnsureSuperAdminExists creates or promotes the bootstrap administrator.
func (s *AuthService) EnsureSuperAdminExists(ctx context.Context, email, password, fullName string) error {
	if email == "" || password == "" {
		s.logger.Info("super admin credentials not configured, skipping bootstrap")
		return nil
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return fmt.Errorf("failed to hash password: %w", err)
	}

	id, err := s.store.EnsureSuperAdmin(ctx, normalizeEmail(email), string(hashedPassword), fullName)
	if err != nil {
		return err
	}

	s.logger.Info("super admin ensured", zap.Int64("user_id", id), zap.String("email", email))
	return nil
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
