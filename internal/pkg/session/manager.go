// internal/pkg/session/manager.go
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"audiotricks-service/internal/domain/auth"
	xerrors "audiotricks-service/internal/pkg/errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Store is the durable side of sessions; Redis only caches it.
type Store interface {
	CreateSession(ctx context.Context, s *auth.Session) error
	FindSessionByJTI(ctx context.Context, jti string) (*auth.Session, error)
	RevokeSession(ctx context.Context, jti string) error
	FindByID(ctx context.Context, id int64) (*auth.User, error)
}

type Manager struct {
	client *redis.Client
	store  Store
	logger *zap.Logger
}

func NewManager(client *redis.Client, store Store, logger *zap.Logger) *Manager {
	return &Manager{
		client: client,
		store:  store,
		logger: logger,
	}
}

// CreateSession persists the session row and caches it in Redis.
func (m *Manager) CreateSession(ctx context.Context, session *SessionData) error {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return fmt.Errorf("session already expired")
	}

	row := &auth.Session{
		UserID:    session.UserID,
		JTI:       session.JTI,
		IPAddress: optional(session.IPAddress),
		UserAgent: optional(session.UserAgent),
		Device:    optional(session.Device),
		ExpiresAt: session.ExpiresAt,
	}
	if err := m.store.CreateSession(ctx, row); err != nil {
		return err
	}
	session.SessionID = row.ID

	m.cache(ctx, session)
	return nil
}

// GetSession reads Redis first and falls back to the database, re-caching
// what it finds there.
func (m *Manager) GetSession(ctx context.Context, userID int64, jti string) (*SessionData, error) {
	data, err := m.client.Get(ctx, m.sessionKey(userID, jti)).Bytes()
	if err == nil {
		var session SessionData
		if err := json.Unmarshal(data, &session); err != nil {
			return nil, fmt.Errorf("failed to unmarshal session: %w", err)
		}
		return &session, nil
	}
	if !errors.Is(err, redis.Nil) {
		m.logger.Warn("redis error, falling back to database", zap.Error(err))
	}

	row, err := m.store.FindSessionByJTI(ctx, jti)
	if err != nil {
		return nil, fmt.Errorf("session not found: %w", xerrors.ErrSessionExpired)
	}
	if row.UserID != userID {
		return nil, fmt.Errorf("session user mismatch: %w", xerrors.ErrSessionExpired)
	}
	if !row.Active(time.Now()) {
		return nil, xerrors.ErrSessionExpired
	}

	session := &SessionData{
		JTI:            jti,
		UserID:         row.UserID,
		SessionID:      row.ID,
		Device:         deref(row.Device),
		IPAddress:      deref(row.IPAddress),
		UserAgent:      deref(row.UserAgent),
		LoginAt:        row.CreatedAt,
		LastActivityAt: time.Now(),
		ExpiresAt:      row.ExpiresAt,
	}
	if user, err := m.store.FindByID(ctx, userID); err == nil {
		session.Email = user.Email
		session.Roles = user.Roles()
	}

	m.cache(ctx, session)
	return session, nil
}

// InvalidateSession drops the cached session, revokes the row and blacklists
// the jti until the token would have expired anyway.
func (m *Manager) InvalidateSession(ctx context.Context, userID int64, jti string, expiresAt time.Time) error {
	if err := m.client.Del(ctx, m.sessionKey(userID, jti)).Err(); err != nil {
		m.logger.Warn("failed to delete session from redis", zap.String("jti", jti), zap.Error(err))
	}
	if ttl := time.Until(expiresAt); ttl > 0 {
		if err := m.BlacklistToken(ctx, jti, ttl); err != nil {
			m.logger.Warn("failed to blacklist token", zap.String("jti", jti), zap.Error(err))
		}
	}
	if err := m.store.RevokeSession(ctx, jti); err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	return nil
}

// IsTokenBlacklisted checks if a token is blacklisted
func (m *Manager) IsTokenBlacklisted(ctx context.Context, jti string) (bool, error) {
	exists, err := m.client.Exists(ctx, m.blacklistKey(jti)).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check blacklist: %w", err)
	}
	return exists > 0, nil
}

// BlacklistToken adds a token to the blacklist
func (m *Manager) BlacklistToken(ctx context.Context, jti string, ttl time.Duration) error {
	return m.client.Set(ctx, m.blacklistKey(jti), "1", ttl).Err()
}

// Helper functions
func (m *Manager) cache(ctx context.Context, session *SessionData) {
	ttl := time.Until(session.ExpiresAt)
	if ttl <= 0 {
		return
	}
	data, err := json.Marshal(session)
	if err != nil {
		return
	}
	if err := m.client.Set(ctx, m.sessionKey(session.UserID, session.JTI), data, ttl).Err(); err != nil {
		m.logger.Warn("failed to cache session in redis", zap.String("jti", session.JTI), zap.Error(err))
	}
}

func (m *Manager) sessionKey(userID int64, jti string) string {
	return fmt.Sprintf("session:%d:%s", userID, jti)
}

func (m *Manager) blacklistKey(jti string) string {
	return fmt.Sprintf("blacklist:%s", jti)
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
