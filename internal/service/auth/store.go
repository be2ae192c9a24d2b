// internal/service/auth/store.go
package auth

import (
	"context"
	"time"

	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/workspace"
	"audiotricks-service/internal/repository/postgres"

	"github.com/jackc/pgx/v5"
)

type Store interface {
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	FindByEmail(ctx context.Context, email string) (*auth.User, error)
	FindByID(ctx context.Context, id int64) (*auth.User, error)
	CreateUser(ctx context.Context, u *auth.User) error
	RecordLogin(ctx context.Context, id int64) error
	RecordFailedLogin(ctx context.Context, id int64, maxAttempts int, lockFor time.Duration) error
	EnsureSuperAdmin(ctx context.Context, email, passwordHash, fullName string) (int64, error)

	CreateWorkspace(ctx context.Context, w *workspace.Workspace) error
	AddMember(ctx context.Context, workspaceID, userID int64, role workspace.Role) error
	FindPersonal(ctx context.Context, ownerID int64) (*workspace.Workspace, error)

	InTx(ctx context.Context, fn func(Store) error) error
}

type pgStore struct {
	db         *postgres.DB
	users      *postgres.UserRepository
	workspaces *postgres.WorkspaceRepository
}

func NewPostgresStore(db *postgres.DB) Store {
	pool := db.Pool()
	return &pgStore{
		db:         db,
		users:      postgres.NewUserRepository(pool),
		workspaces: postgres.NewWorkspaceRepository(pool),
	}
}

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgStore{
			db:         s.db,
			users:      s.users.WithTx(tx),
			workspaces: s.workspaces.WithTx(tx),
		})
	})
}

func (s *pgStore) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return s.users.ExistsByEmail(ctx, email)
}

func (s *pgStore) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	return s.users.FindByEmail(ctx, email)
}

func (s *pgStore) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.users.FindByID(ctx, id)
}

func (s *pgStore) CreateUser(ctx context.Context, u *auth.User) error {
	return s.users.Create(ctx, u)
}

func (s *pgStore) RecordLogin(ctx context.Context, id int64) error {
	return s.users.RecordLogin(ctx, id)
}

func (s *pgStore) RecordFailedLogin(ctx context.Context, id int64, maxAttempts int, lockFor time.Duration) error {
	return s.users.RecordFailedLogin(ctx, id, maxAttempts, lockFor)
}

func (s *pgStore) EnsureSuperAdmin(ctx context.Context, email, passwordHash, fullName string) (int64, error) {
	return s.users.EnsureSuperAdmin(ctx, email, passwordHash, fullName)
}

func (s *pgStore) CreateWorkspace(ctx context.Context, w *workspace.Workspace) error {
	return s.workspaces.Create(ctx, w)
}

func (s *pgStore) AddMember(ctx context.Context, workspaceID, userID int64, role workspace.Role) error {
	return s.workspaces.AddMember(ctx, workspaceID, userID, role)
}

func (s *pgStore) FindPersonal(ctx context.Context, ownerID int64) (*workspace.Workspace, error) {
	return s.workspaces.FindPersonal(ctx, ownerID)
}
