// internal/service/workspace/store.go
package workspace

import (
	"context"

	"audiotricks-service/internal/domain/auth"
	"audiotricks-service/internal/domain/workspace"
	"audiotricks-service/internal/repository/postgres"

	"github.com/jackc/pgx/v5"
)

// Store is the persistence the workspace service needs.
type Store interface {
	Create(ctx context.Context, w *workspace.Workspace) error
	FindByID(ctx context.Context, id int64) (*workspace.Workspace, error)
	ListForUser(ctx context.Context, userID int64) ([]*workspace.WorkspaceView, error)
	UpdateName(ctx context.Context, id int64, name string) error

	AddMember(ctx context.Context, workspaceID, userID int64, role workspace.Role) error
	FindMembership(ctx context.Context, workspaceID, userID int64) (*workspace.Membership, error)
	ListMembers(ctx context.Context, workspaceID int64) ([]*workspace.Membership, error)
	CountMembers(ctx context.Context, workspaceID int64) (int64, error)
	UpdateRole(ctx context.Context, workspaceID, userID int64, role workspace.Role) error
	RemoveMember(ctx context.Context, workspaceID, userID int64) error

	CreateInvitation(ctx context.Context, inv *workspace.Invitation) error
	FindInvitationByToken(ctx context.Context, token string) (*workspace.Invitation, error)
	ListInvitations(ctx context.Context, workspaceID int64) ([]*workspace.Invitation, error)
	TransitionInvitation(ctx context.Context, id int64, status workspace.InvitationStatus) (bool, error)

	UserByID(ctx context.Context, id int64) (*auth.User, error)

	// InTx runs fn against a Store bound to one transaction.
	InTx(ctx context.Context, fn func(Store) error) error
}

type pgStore struct {
	*postgres.WorkspaceRepository
	db    *postgres.DB
	users *postgres.UserRepository
}

func NewPostgresStore(db *postgres.DB) Store {
	pool := db.Pool()
	return &pgStore{
		WorkspaceRepository: postgres.NewWorkspaceRepository(pool),
		db:                  db,
		users:               postgres.NewUserRepository(pool),
	}
}

func (s *pgStore) InTx(ctx context.Context, fn func(Store) error) error {
	return s.db.WithTx(ctx, func(tx pgx.Tx) error {
		return fn(&pgStore{
			WorkspaceRepository: s.WorkspaceRepository.WithTx(tx),
			db:                  s.db,
			users:               s.users.WithTx(tx),
		})
	})
}

func (s *pgStore) UserByID(ctx context.Context, id int64) (*auth.User, error) {
	return s.users.FindByID(ctx, id)
}
