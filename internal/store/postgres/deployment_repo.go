package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/deploycenter/deploy-center/internal/core/domain"
)

// DeploymentRepo implements domain.DeploymentRepository for PostgreSQL.
type DeploymentRepo struct {
	pool *pgxpool.Pool
}

// NewDeploymentRepo is the factory function.
func NewDeploymentRepo(pool *pgxpool.Pool) *DeploymentRepo {
	return &DeploymentRepo{pool: pool}
}

func (r *DeploymentRepo) Create(ctx context.Context, d *domain.Deployment) error {
	const query = `
		INSERT INTO deployments (id, project_id, status, trigger, branch, commit_hash,
		                          commit_message, author, triggered_by, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := r.pool.Exec(ctx, query,
		d.ID, d.ProjectID, d.Status, d.Trigger, d.Branch, d.CommitHash,
		d.CommitMessage, d.Author, d.TriggeredBy, d.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("postgres: create deployment: %w", err)
	}
	return nil
}

func (r *DeploymentRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Deployment, error) {
	const query = `
		SELECT id, project_id, status, trigger, branch, commit_hash, commit_message,
		       author, triggered_by, created_at, started_at, completed_at,
		       duration_sec, error_message, log_file_path
		FROM deployments
		WHERE id = $1
	`

	var d domain.Deployment
	err := r.pool.QueryRow(ctx, query, id).Scan(
		&d.ID, &d.ProjectID, &d.Status, &d.Trigger, &d.Branch, &d.CommitHash, &d.CommitMessage,
		&d.Author, &d.TriggeredBy, &d.CreatedAt, &d.StartedAt, &d.CompletedAt,
		&d.DurationSec, &d.ErrorMessage, &d.LogFilePath,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("postgres: get deployment: %w", err)
	}
	return &d, nil
}

func (r *DeploymentRepo) Update(ctx context.Context, d *domain.Deployment) error {
	const query = `
		UPDATE deployments
		SET status = $1, commit_hash = $2, commit_message = $3, author = $4,
		    started_at = $5, completed_at = $6, duration_sec = $7,
		    error_message = $8, log_file_path = $9
		WHERE id = $10
	`
	tag, err := r.pool.Exec(ctx, query,
		d.Status, d.CommitHash, d.CommitMessage, d.Author,
		d.StartedAt, d.CompletedAt, d.DurationSec,
		d.ErrorMessage, d.LogFilePath, d.ID,
	)
	if err != nil {
		return fmt.Errorf("postgres: update deployment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// ListByProject returns every deployment for a project, newest first. It is
// not part of domain.DeploymentRepository, and no HTTP route calls it.
func (r *DeploymentRepo) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*domain.Deployment, error) {
	const query = `
		SELECT id, project_id, status, trigger, branch, commit_hash, commit_message,
		       author, triggered_by, created_at, started_at, completed_at,
		       duration_sec, error_message, log_file_path
		FROM deployments
		WHERE project_id = $1
		ORDER BY created_at DESC
	`
	rows, err := r.pool.Query(ctx, query, projectID)
	if err != nil {
		return nil, fmt.Errorf("postgres: list deployments: %w", err)
	}
	defer rows.Close()

	var out []*domain.Deployment
	for rows.Next() {
		var d domain.Deployment
		if err := rows.Scan(
			&d.ID, &d.ProjectID, &d.Status, &d.Trigger, &d.Branch, &d.CommitHash, &d.CommitMessage,
			&d.Author, &d.TriggeredBy, &d.CreatedAt, &d.StartedAt, &d.CompletedAt,
			&d.DurationSec, &d.ErrorMessage, &d.LogFilePath,
		); err != nil {
			return nil, fmt.Errorf("postgres: scan deployment: %w", err)
		}
		out = append(out, &d)
	}
	return out, rows.Err()
}

var _ domain.DeploymentRepository = (*DeploymentRepo)(nil)
