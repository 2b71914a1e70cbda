package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/evently/booking-engine/internal/model"
)

// AuditRepository persists the append-only audit trail. Rows are write-once;
// there is no update or delete path.
type AuditRepository struct {
	db *pgxpool.Pool
}

// NewAuditRepository constructs an AuditRepository.
func NewAuditRepository(db *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{db: db}
}

// Append inserts one audit record and fills in its generated ID.
func (r *AuditRepository) Append(ctx context.Context, a *model.AuditLog) error {
	err := r.db.QueryRow(ctx,
		`INSERT INTO audit_logs (entity_type, entity_id, action, old_value, new_value, changed_by, reason, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		a.EntityType, a.EntityID, a.Action, a.OldValue, a.NewValue, a.ChangedBy, a.Reason, a.CreatedAt,
	).Scan(&a.ID)
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

// ListForEntity returns the audit trail for one entity, oldest first.
func (r *AuditRepository) ListForEntity(ctx context.Context, entityType, entityID string) ([]model.AuditLog, error) {
	rows, err := r.db.Query(ctx,
		`SELECT id, entity_type, entity_id, action, old_value, new_value, changed_by, reason, created_at
		 FROM audit_logs
		 WHERE entity_type = $1 AND entity_id = $2
		 ORDER BY created_at ASC, id ASC`,
		entityType, entityID)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []model.AuditLog
	for rows.Next() {
		var a model.AuditLog
		if err := rows.Scan(&a.ID, &a.EntityType, &a.EntityID, &a.Action,
			&a.OldValue, &a.NewValue, &a.ChangedBy, &a.Reason, &a.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		logs = append(logs, a)
	}
	return logs, rows.Err()
}
