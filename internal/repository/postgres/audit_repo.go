// internal/repository/postgres/audit_repo.go
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"audiotricks-service/internal/domain/audit"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type AuditRepository struct {
	db querier
}

func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

func (r *AuditRepository) WithTx(tx pgx.Tx) *AuditRepository {
	return &AuditRepository{db: tx}
}

func (r *AuditRepository) Create(ctx context.Context, l *audit.Log) error {
	var detailsJSON []byte
	if l.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(l.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal audit details: %w", err)
		}
	}

	err := r.db.QueryRow(ctx, `
		INSERT INTO audit_logs (actor_id, action, entity_type, entity_id, details)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id, created_at
	`, l.ActorID, l.Action, l.EntityType, l.EntityID, detailsJSON).Scan(&l.ID, &l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to write audit log: %w", err)
	}
	return nil
}

func (r *AuditRepository) List(ctx context.Context, filters *audit.Filters) ([]*audit.Log, int64, error) {
	conditions := []string{}
	args := []interface{}{}
	argPos := 1

	if filters.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", argPos))
		args = append(args, filters.Action)
		argPos++
	}
	if filters.EntityType != "" {
		conditions = append(conditions, fmt.Sprintf("entity_type = $%d", argPos))
		args = append(args, filters.EntityType)
		argPos++
	}
	if filters.ActorID != nil {
		conditions = append(conditions, fmt.Sprintf("actor_id = $%d", argPos))
		args = append(args, *filters.ActorID)
		argPos++
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	var total int64
	if err := r.db.QueryRow(ctx, "SELECT COUNT(*) FROM audit_logs "+whereClause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	limit, offset := paginate(filters.Page, filters.Limit)
	query := fmt.Sprintf(`
		SELECT id, actor_id, action, entity_type, entity_id, details, created_at
		FROM audit_logs %s ORDER BY created_at DESC LIMIT $%d OFFSET $%d
	`, whereClause, argPos, argPos+1)
	args = append(args, limit, offset)

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}
	defer rows.Close()

	logs := []*audit.Log{}
	for rows.Next() {
		var l audit.Log
		var detailsJSON []byte
		if err := rows.Scan(&l.ID, &l.ActorID, &l.Action, &l.EntityType, &l.EntityID, &detailsJSON, &l.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("failed to scan audit log: %w", err)
		}
		if len(detailsJSON) > 0 {
			_ = json.Unmarshal(detailsJSON, &l.Details)
		}
		logs = append(logs, &l)
	}
	return logs, total, rows.Err()
}
