package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// AuditRepo implements domain.AuditRepository for PostgreSQL.
type AuditRepo struct {
	pool *pgxpool.Pool
}

// NewAuditRepo is the factory function.
func NewAuditRepo(pool *pgxpool.Pool) *AuditRepo {
	return &AuditRepo{pool: pool}
}

// Append persists one append-only audit record. The audit trail (§6) never
// updates or deletes rows.
func (r *AuditRepo) Append(ctx context.Context, e *domain.AuditEntry) error {
	const query = `
		INSERT INTO audit_log (id, project_id, deployment_id, action, success, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	detailJSON, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("postgres: marshal audit detail: %w", err)
	}

	_, err = r.pool.Exec(ctx, query, e.ID, e.ProjectID, e.DeploymentID, e.Action, e.Success, detailJSON, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("postgres: append audit entry: %w", err)
	}
	return nil
}

// ListByProject returns every audit entry for a project, newest first. It is
// not part of the core repository interface, and no HTTP route calls it.
func (r *AuditRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domain.AuditEntry, error) {
	const query = `
		SELECT id, project_id, deployment_id, action, success, detail, created_at
		FROM audit_log
		WHERE project_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list audit entries: %w", err)
	}
	defer rows.Close()

	var out []*domain.AuditEntry
	for rows.Next() {
		var e domain.AuditEntry
		var detailJSON []byte
		if err := rows.Scan(&e.ID, &e.ProjectID, &e.DeploymentID, &e.Action, &e.Success, &detailJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("postgres: scan audit entry: %w", err)
		}
		if len(detailJSON) > 0 {
			if err := json.Unmarshal(detailJSON, &e.Detail); err != nil {
				return nil, fmt.Errorf("postgres: decode audit detail: %w", err)
			}
		}
		out = append(out, &e)
	}
	return out, rows.Err()
}

var _ domain.AuditRepository = (*AuditRepo)(nil)
