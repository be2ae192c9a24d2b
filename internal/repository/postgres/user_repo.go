// internal/repository/postgres/user_repo.go
package postgres

import (
	"context"
	"fmt"
	"strings"
	"time"

	"audiotricks-service/internal/domain/auth"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type UserRepository struct {
	db querier
}

func NewUserRepository(db *pgxpool.Pool) *UserRepository {
	return &UserRepository{db: db}
}

func (r *UserRepository) WithTx(tx pgx.Tx) *UserRepository {
	return &UserRepository{db: tx}
}

const userColumns = `id, email, password_hash, full_name, role, status,
	failed_login_attempts, locked_until, last_login_at, created_at, updated_at`

func scanUser(row pgx.Row) (*auth.User, error) {
	var u auth.User
	err := row.Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.FullName, &u.Role, &u.Status,
		&u.FailedLoginAttempts, &u.LockedUntil, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, notFound(err)
	}
	return &u, nil
}

// ========== Users ==========

func (r *UserRepository) Create(ctx context.Context, u *auth.User) error {
	query := `
		INSERT INTO users (email, password_hash, full_name, role, status)
		VALUES (LOWER($1), $2, $3, $4, $5)
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRow(ctx, query, u.Email, u.PasswordHash, u.FullName, u.Role, u.Status).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if isUniqueViolation(err) {
		return xerrors.ErrDuplicateEntry
	}
	if err != nil {
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE email = LOWER($1)`
	u, err := scanUser(r.db.QueryRow(ctx, query, email))
	if err != nil {
		return nil, fmt.Errorf("failed to find user by email: %w", err)
	}
	return u, nil
}

func (r *UserRepository) FindByID(ctx context.Context, id int64) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users WHERE id = $1`
	u, err := scanUser(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, fmt.Errorf("failed to find user: %w", err)
	}
	return u, nil
}

func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE email = LOWER($1))`, email).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check email: %w", err)
	}
	return exists, nil
}

// RecordLogin resets the failure counter and stamps last_login_at.
func (r *UserRepository) RecordLogin(ctx context.Context, id int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET last_login_at = NOW(), failed_login_attempts = 0, locked_until = NULL, updated_at = NOW()
		WHERE id = $1
	`, id)
	if err != nil {
		return fmt.Errorf("failed to record login: %w", err)
	}
	return nil
}

// RecordFailedLogin bumps the failure counter and locks the account once it
// reaches maxAttempts.
func (r *UserRepository) RecordFailedLogin(ctx context.Context, id int64, maxAttempts int, lockFor time.Duration) error {
	_, err := r.db.Exec(ctx, `
		UPDATE users
		SET failed_login_attempts = failed_login_attempts + 1,
		    locked_until = CASE WHEN failed_login_attempts + 1 >= $2 THEN NOW() + make_interval(secs => $3) ELSE locked_until END,
		    updated_at = NOW()
		WHERE id = $1
	`, id, maxAttempts, lockFor.Seconds())
	if err != nil {
		return fmt.Errorf("failed to record failed login: %w", err)
	}
	return nil
}

func (r *UserRepository) List(ctx context.Context, filters *auth.UserListFilters) ([]*auth.User, int64, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	if filters.Search != "" {
		conditions = append(conditions, fmt.Sprintf("(email ILIKE $%d OR full_name ILIKE $%d)", argPos, argPos))
		args = append(args, "%"+filters.Search+"%")
		argPos++
	}
	if filters.Role != "" {
		conditions = append(conditions, fmt.Sprintf("role = $%d", argPos))
		args = append(args, filters.Role)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM users "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count users: %w", err)
	}

	limit, offset := paginate(filters.Page, filters.Limit)
	query := fmt.Sprintf(`SELECT %s FROM users %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d`,
		userColumns, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	users := []*auth.User{}
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, u)
	}
	return users, total, rows.Err()
}

// EnsureSuperAdmin inserts or promotes the bootstrap account.
func (r *UserRepository) EnsureSuperAdmin(ctx context.Context, email, passwordHash, fullName string) (int64, error) {
	var id int64
	err := r.db.QueryRow(ctx, `
		INSERT INTO users (email, password_hash, full_name, role, status)
		VALUES (LOWER($1), $2, $3, 'super_admin', 'active')
		ON CONFLICT (email) DO UPDATE SET role = 'super_admin', updated_at = NOW()
		RETURNING id
	`, email, passwordHash, fullName).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to ensure super admin: %w", err)
	}
	return id, nil
}

// ========== Sessions ==========

func (r *UserRepository) CreateSession(ctx context.Context, s *auth.Session) error {
	err := r.db.QueryRow(ctx, `
		INSERT INTO sessions (user_id, jti, ip_address, user_agent, device, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at
	`, s.UserID, s.JTI, s.IPAddress, s.UserAgent, s.Device, s.ExpiresAt).Scan(&s.ID, &s.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

func (r *UserRepository) FindSessionByJTI(ctx context.Context, jti string) (*auth.Session, error) {
	var s auth.Session
	err := r.db.QueryRow(ctx, `
		SELECT id, user_id, jti, ip_address, user_agent, device, expires_at, revoked_at, created_at
		FROM sessions WHERE jti = $1
	`, jti).Scan(&s.ID, &s.UserID, &s.JTI, &s.IPAddress, &s.UserAgent, &s.Device, &s.ExpiresAt, &s.RevokedAt, &s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", notFound(err))
	}
	return &s, nil
}

func (r *UserRepository) RevokeSession(ctx context.Context, jti string) error {
	_, err := r.db.Exec(ctx, `UPDATE sessions SET revoked_at = NOW() WHERE jti = $1 AND revoked_at IS NULL`, jti)
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}
